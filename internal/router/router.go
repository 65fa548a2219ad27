// Package router is the thin command layer in front of the submission path.
// It collects a request in two steps: /schedule captures kind and content,
// the user's next message supplies the date/time/timezone window. Between the
// two steps the draft lives in the ephemeral pending cache.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shiftbot/internal/services/submit"
	"shiftbot/internal/timewindow"
	kit "shiftbot/internal/transport"
	"shiftbot/pkg/logx"
)

const (
	scheduleUsage = "Usage: /schedule <kind> <message text>"
	windowPrompt  = "Reply with the window: YYYY-MM-DD HH:MM HH:MM TZ\n" +
		"(e.g. 2025-09-05 17:40 18:00 EST — times in YOUR timezone)"
	windowUsage = "Expected exactly four tokens: YYYY-MM-DD HH:MM HH:MM TZ"
)

type Config struct {
	// LeadTime mirrors the reconciler's lead so replies can tell the user
	// when the announcement will actually appear.
	LeadTime time.Duration
}

type Router struct {
	cfg     Config
	adapter kit.Adapter
	submits *submit.Service
	pending *submit.PendingCache
	log     logx.Logger

	now func() time.Time
}

func New(cfg Config, adapter kit.Adapter, submits *submit.Service, pending *submit.PendingCache, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cfg:     cfg,
		adapter: adapter,
		submits: submits,
		pending: pending,
		log:     log,
		now:     time.Now,
	}
}

// DispatchLoop consumes incoming updates until ctx is done.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			r.handleMessage(ctx, up.Message)
		}
	}
}

// convKey identifies one user's in-flight draft within one chat.
func convKey(m *kit.Message) string {
	return strconv.FormatInt(m.ChatID, 10) + ":" + strconv.FormatInt(m.FromID, 10)
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	text := strings.TrimSpace(m.Text)
	switch {
	case strings.HasPrefix(text, "/schedule"):
		r.handleSchedule(ctx, m, strings.TrimSpace(strings.TrimPrefix(text, "/schedule")))
	case strings.HasPrefix(text, "/cancel"):
		r.pending.Drop(convKey(m))
		r.reply(ctx, m, "Draft discarded.")
	default:
		r.handleWindowInput(ctx, m, text)
	}
}

func (r *Router) handleSchedule(ctx context.Context, m *kit.Message, args string) {
	parts := strings.SplitN(args, " ", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		r.reply(ctx, m, scheduleUsage)
		return
	}

	d := r.pending.Put(convKey(m), submit.Draft{
		Kind:      strings.ToLower(strings.TrimSpace(parts[0])),
		ChannelID: strconv.FormatInt(m.ChatID, 10),
		OwnerID:   strconv.FormatInt(m.FromID, 10),
		Content:   strings.TrimSpace(parts[1]),
	})
	r.log.Debug("draft opened",
		logx.String("token", d.Token),
		logx.String("kind", d.Kind),
		logx.Int64("from", m.FromID))

	r.reply(ctx, m, windowPrompt)
}

func (r *Router) handleWindowInput(ctx context.Context, m *kit.Message, text string) {
	key := convKey(m)
	draft, res := r.pending.Take(key)
	switch res {
	case submit.TakeMiss:
		// No draft in flight: free text is none of our business.
		return
	case submit.TakeExpired:
		r.reply(ctx, m, "⏰ Draft expired, start again with /schedule.")
		return
	}

	fields := strings.Fields(text)
	if len(fields) != 4 {
		r.pending.Put(key, draft)
		r.reply(ctx, m, windowUsage)
		return
	}

	receipt, err := r.submits.Submit(ctx, submit.Submission{
		Kind:      draft.Kind,
		ChannelID: draft.ChannelID,
		OwnerID:   draft.OwnerID,
		Content:   draft.Content,
		Date:      fields[0],
		Start:     fields[1],
		End:       fields[2],
		Timezone:  fields[3],
	}, r.now())
	if err != nil {
		var rej *timewindow.Rejection
		if errors.As(err, &rej) {
			// User error: keep the draft so they can correct the window.
			r.pending.Put(key, draft)
			r.reply(ctx, m, "❌ "+rej.Msg)
			return
		}
		r.log.Error("submission failed",
			logx.String("token", draft.Token),
			logx.Err(err))
		r.reply(ctx, m, "❌ Something went wrong, please start again with /schedule.")
		return
	}

	r.log.Debug("draft completed",
		logx.String("token", draft.Token),
		logx.Int64("request", receipt.ID))

	const stamp = "2006-01-02 15:04 MST"
	r.reply(ctx, m, fmt.Sprintf(
		"✅ %s request scheduled!\nWindow: %s — %s\nWill be posted at: %s",
		draft.Kind,
		receipt.StartAt.Format(stamp),
		receipt.EndAt.Format(stamp),
		receipt.StartAt.Add(-r.cfg.LeadTime).Format(stamp),
	))
}

func (r *Router) reply(ctx context.Context, m *kit.Message, text string) {
	_, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: m.ChatID}, text, nil)
	if err != nil {
		r.log.Warn("reply failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}
