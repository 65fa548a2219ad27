package router

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"shiftbot/internal/services/submit"
	"shiftbot/internal/storage"
	"shiftbot/internal/timewindow"
	kit "shiftbot/internal/transport"
	"shiftbot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	replies []string
	nextID  int
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                    { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, text)
	a.nextID++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: a.nextID}, nil
}

func (a *fakeAdapter) lastReply(t *testing.T) string {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.replies) == 0 {
		t.Fatal("no reply sent")
	}
	return a.replies[len(a.replies)-1]
}

func (a *fakeAdapter) replyCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.replies)
}

func newTestRouter(t *testing.T) (*Router, *fakeAdapter, storage.Store) {
	return newTestRouterTTL(t, 5*time.Minute)
}

func newTestRouterTTL(t *testing.T, ttl time.Duration) (*Router, *fakeAdapter, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "requests.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ad := &fakeAdapter{}
	submits := submit.New(st, timewindow.NewResolver(time.UTC), logx.Nop())
	pending := submit.NewPendingCache(ttl, logx.Nop())
	r := New(Config{LeadTime: 15 * time.Minute}, ad, submits, pending, logx.Nop())
	r.now = func() time.Time { return time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC) }
	return r, ad, st
}

func msg(text string) *kit.Message {
	return &kit.Message{ID: 1, ChatID: 100, FromID: 42, Text: text}
}

func TestScheduleHappyPath(t *testing.T) {
	t.Parallel()
	r, ad, st := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg("/schedule training Friday night drill"))
	if got := ad.lastReply(t); !strings.Contains(got, "YYYY-MM-DD HH:MM HH:MM TZ") {
		t.Fatalf("prompt = %q", got)
	}

	r.handleMessage(ctx, msg("2025-09-05 17:40 18:00 UTC"))
	got := ad.lastReply(t)
	if !strings.Contains(got, "scheduled") {
		t.Fatalf("confirmation = %q", got)
	}
	if !strings.Contains(got, "training") {
		t.Fatalf("confirmation missing kind: %q", got)
	}

	due, err := st.DueToPost(ctx, time.Date(2025, 9, 5, 17, 40, 0, 0, time.UTC), time.Minute)
	if err != nil {
		t.Fatalf("DueToPost: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("persisted rows = %d, want 1", len(due))
	}
	if due[0].ChannelID != "100" || due[0].OwnerID != "42" {
		t.Fatalf("row identities = %q/%q", due[0].ChannelID, due[0].OwnerID)
	}
	if due[0].Content != "Friday night drill" {
		t.Fatalf("content = %q", due[0].Content)
	}
}

func TestScheduleUsageOnMissingArgs(t *testing.T) {
	t.Parallel()
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg("/schedule"))
	if got := ad.lastReply(t); !strings.HasPrefix(got, "Usage:") {
		t.Fatalf("reply = %q", got)
	}
	r.handleMessage(ctx, msg("/schedule training"))
	if got := ad.lastReply(t); !strings.HasPrefix(got, "Usage:") {
		t.Fatalf("reply = %q", got)
	}
}

func TestWindowRejectionKeepsDraft(t *testing.T) {
	t.Parallel()
	r, ad, st := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg("/schedule training drill"))

	// End before start: rejected, draft retained for a second attempt.
	r.handleMessage(ctx, msg("2025-09-05 18:00 17:00 UTC"))
	if got := ad.lastReply(t); !strings.HasPrefix(got, "❌") {
		t.Fatalf("rejection reply = %q", got)
	}

	r.handleMessage(ctx, msg("2025-09-05 17:00 18:00 UTC"))
	if got := ad.lastReply(t); !strings.Contains(got, "scheduled") {
		t.Fatalf("retry reply = %q", got)
	}

	due, err := st.DueToPost(ctx, time.Date(2025, 9, 5, 17, 0, 0, 0, time.UTC), time.Minute)
	if err != nil {
		t.Fatalf("DueToPost: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("persisted rows = %d, want 1", len(due))
	}
}

func TestWindowTokenCountPromptsAgain(t *testing.T) {
	t.Parallel()
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg("/schedule training drill"))
	r.handleMessage(ctx, msg("2025-09-05 17:00"))
	if got := ad.lastReply(t); !strings.Contains(got, "four tokens") {
		t.Fatalf("reply = %q", got)
	}

	// Draft still alive.
	r.handleMessage(ctx, msg("2025-09-05 17:00 18:00 UTC"))
	if got := ad.lastReply(t); !strings.Contains(got, "scheduled") {
		t.Fatalf("reply = %q", got)
	}
}

func TestCancelDiscardsDraft(t *testing.T) {
	t.Parallel()
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg("/schedule training drill"))
	r.handleMessage(ctx, msg("/cancel"))
	if got := ad.lastReply(t); !strings.Contains(got, "discarded") {
		t.Fatalf("reply = %q", got)
	}

	// The window input now has no draft to attach to: silence.
	before := ad.replyCount()
	r.handleMessage(ctx, msg("2025-09-05 17:00 18:00 UTC"))
	if ad.replyCount() != before {
		t.Fatalf("free text without draft produced a reply: %q", ad.lastReply(t))
	}
}

func TestExpiredDraftTellsUserToRestart(t *testing.T) {
	t.Parallel()
	r, ad, _ := newTestRouterTTL(t, time.Nanosecond)
	ctx := context.Background()

	r.handleMessage(ctx, msg("/schedule training drill"))
	time.Sleep(time.Millisecond)

	r.handleMessage(ctx, msg("2025-09-05 17:00 18:00 UTC"))
	if got := ad.lastReply(t); !strings.Contains(got, "expired") {
		t.Fatalf("reply = %q", got)
	}
}

func TestFreeTextWithoutDraftIgnored(t *testing.T) {
	t.Parallel()
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	r.handleMessage(ctx, msg("hello there"))
	if ad.replyCount() != 0 {
		t.Fatalf("unsolicited reply: %q", ad.lastReply(t))
	}
}

func TestDraftsIsolatedPerConversation(t *testing.T) {
	t.Parallel()
	r, ad, _ := newTestRouter(t)
	ctx := context.Background()

	alice := &kit.Message{ID: 1, ChatID: 100, FromID: 1, Text: "/schedule training drill"}
	r.handleMessage(ctx, alice)

	// Another user in the same chat has no draft.
	bob := &kit.Message{ID: 2, ChatID: 100, FromID: 2, Text: "2025-09-05 17:00 18:00 UTC"}
	before := ad.replyCount()
	r.handleMessage(ctx, bob)
	if ad.replyCount() != before {
		t.Fatalf("draft leaked across users: %q", ad.lastReply(t))
	}
}

func TestDispatchLoopFiltersNonMessages(t *testing.T) {
	t.Parallel()
	r, ad, _ := newTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())

	updates := make(chan kit.Update, 3)
	updates <- kit.Update{Kind: "other"}
	updates <- kit.Update{Kind: kit.UpdateMessage} // nil message
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: msg("/schedule training drill")}
	close(updates)

	if err := r.DispatchLoop(ctx, updates); err != nil {
		t.Fatalf("DispatchLoop: %v", err)
	}
	cancel()

	if ad.replyCount() != 1 {
		t.Fatalf("replies = %d, want 1 (prompt only)", ad.replyCount())
	}
}
