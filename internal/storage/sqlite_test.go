package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"shiftbot/pkg/logx"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "requests.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testRequest(start, end time.Time) Request {
	return Request{
		Kind:      "training",
		ChannelID: "1001",
		OwnerID:   "42",
		Content:   "[Training]: drill",
		StartAt:   start,
		EndAt:     end,
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty driver")
	}
}

func TestDueToPostWindow(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 9, 5, 12, 0, 0, 0, time.UTC)
	lead := 15 * time.Minute

	id, err := st.Insert(ctx, testRequest(now.Add(16*time.Minute), now.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id <= 0 {
		t.Fatalf("Insert returned id %d", id)
	}

	// 16 minutes out with a 15 minute lead: not yet due.
	due, err := st.DueToPost(ctx, now, lead)
	if err != nil {
		t.Fatalf("DueToPost: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no due rows, got %d", len(due))
	}

	// One minute later the lead window opens.
	due, err = st.DueToPost(ctx, now.Add(time.Minute), lead)
	if err != nil {
		t.Fatalf("DueToPost: %v", err)
	}
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("expected row %d due, got %+v", id, due)
	}
	if due[0].Posted() {
		t.Fatal("fresh row reports Posted")
	}
	if !due[0].EndAt.After(due[0].StartAt) {
		t.Fatalf("end %v not after start %v", due[0].EndAt, due[0].StartAt)
	}
}

func TestDueToPostExcludesPostedAndExpired(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 9, 5, 12, 0, 0, 0, time.UTC)

	posted, _ := st.Insert(ctx, testRequest(now.Add(-time.Minute), now.Add(time.Hour)))
	if err := st.MarkPosted(ctx, posted, "555"); err != nil {
		t.Fatalf("MarkPosted: %v", err)
	}
	// Expired without ever posting: must not be offered for posting.
	if _, err := st.Insert(ctx, testRequest(now.Add(-2*time.Hour), now.Add(-time.Hour))); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	due, err := st.DueToPost(ctx, now, 15*time.Minute)
	if err != nil {
		t.Fatalf("DueToPost: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no due rows, got %+v", due)
	}
}

func TestDueToPostOrdering(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 9, 5, 12, 0, 0, 0, time.UTC)

	later, _ := st.Insert(ctx, testRequest(now.Add(10*time.Minute), now.Add(2*time.Hour)))
	earlier, _ := st.Insert(ctx, testRequest(now.Add(5*time.Minute), now.Add(time.Hour)))

	due, err := st.DueToPost(ctx, now, 15*time.Minute)
	if err != nil {
		t.Fatalf("DueToPost: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due rows, got %d", len(due))
	}
	if due[0].ID != earlier || due[1].ID != later {
		t.Fatalf("expected ascending start order [%d %d], got [%d %d]", earlier, later, due[0].ID, due[1].ID)
	}
}

func TestDueToRetractIncludesUnposted(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 9, 5, 12, 0, 0, 0, time.UTC)

	// Never posted but expired: still returned so it gets removed rather
	// than lingering forever.
	stale, _ := st.Insert(ctx, testRequest(now.Add(-2*time.Hour), now.Add(-time.Hour)))
	posted, _ := st.Insert(ctx, testRequest(now.Add(-time.Hour), now.Add(-time.Minute)))
	if err := st.MarkPosted(ctx, posted, "777"); err != nil {
		t.Fatalf("MarkPosted: %v", err)
	}
	// Still running: not retractable.
	if _, err := st.Insert(ctx, testRequest(now.Add(-time.Hour), now.Add(time.Hour))); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	exp, err := st.DueToRetract(ctx, now)
	if err != nil {
		t.Fatalf("DueToRetract: %v", err)
	}
	if len(exp) != 2 {
		t.Fatalf("expected 2 expired rows, got %d", len(exp))
	}
	// Ascending by end: stale ended first.
	if exp[0].ID != stale || exp[1].ID != posted {
		t.Fatalf("unexpected order: [%d %d]", exp[0].ID, exp[1].ID)
	}
	if exp[0].Posted() {
		t.Fatal("stale row reports Posted")
	}
	if exp[1].MessageID != "777" {
		t.Fatalf("MessageID = %q, want 777", exp[1].MessageID)
	}
}

func TestMarkPostedAndRemoveIdempotent(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 9, 5, 12, 0, 0, 0, time.UTC)

	id, _ := st.Insert(ctx, testRequest(now, now.Add(time.Hour)))
	if err := st.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// Row already gone: both must be no-ops.
	if err := st.Remove(ctx, id); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if err := st.MarkPosted(ctx, id, "9"); err != nil {
		t.Fatalf("MarkPosted on removed row: %v", err)
	}

	due, err := st.DueToPost(ctx, now.Add(time.Hour), 15*time.Minute)
	if err != nil {
		t.Fatalf("DueToPost: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("removed row resurfaced: %+v", due)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "requests.db")
	ctx := context.Background()
	now := time.Date(2025, 9, 5, 12, 0, 0, 0, time.UTC)

	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := st.Insert(ctx, testRequest(now.Add(5*time.Minute), now.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	due, err := st2.DueToPost(ctx, now, 15*time.Minute)
	if err != nil {
		t.Fatalf("DueToPost: %v", err)
	}
	if len(due) != 1 || due[0].ID != id || due[0].Content != "[Training]: drill" {
		t.Fatalf("row did not survive reopen: %+v", due)
	}
}
