// Package submit is the request-submission path: it resolves the user's
// time window, persists the request as Scheduled and returns a receipt. It
// never touches a row again after creation.
package submit

import (
	"context"
	"errors"
	"strings"
	"time"

	"shiftbot/internal/storage"
	"shiftbot/internal/timewindow"
	"shiftbot/pkg/logx"
)

// Submission carries already-collected raw strings. Window fields are
// validated here; the rest is opaque to the core.
type Submission struct {
	Kind      string
	ChannelID string
	OwnerID   string
	Content   string

	Date     string // YYYY-MM-DD
	Start    string // HH:MM, user timezone
	End      string // HH:MM, user timezone
	Timezone string // abbreviation or UTC±HH
}

// Receipt reports the canonical window assigned to a persisted request.
type Receipt struct {
	ID      int64
	StartAt time.Time
	EndAt   time.Time
}

type Service struct {
	store    storage.Store
	resolver *timewindow.Resolver
	log      logx.Logger
}

func New(store storage.Store, resolver *timewindow.Resolver, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, resolver: resolver, log: log}
}

// Submit validates and persists a request. Rejections (timewindow.Rejection)
// surface synchronously and nothing is persisted; store failures fail the
// submission outright.
func (s *Service) Submit(ctx context.Context, sub Submission, now time.Time) (Receipt, error) {
	if strings.TrimSpace(sub.ChannelID) == "" {
		return Receipt{}, errors.New("submit: channel id is required")
	}
	if strings.TrimSpace(sub.Content) == "" {
		return Receipt{}, errors.New("submit: content is required")
	}

	win, err := s.resolver.Resolve(sub.Date, sub.Start, sub.End, sub.Timezone, now)
	if err != nil {
		return Receipt{}, err
	}

	id, err := s.store.Insert(ctx, storage.Request{
		Kind:      sub.Kind,
		ChannelID: sub.ChannelID,
		OwnerID:   sub.OwnerID,
		Content:   sub.Content,
		StartAt:   win.Start,
		EndAt:     win.End,
	})
	if err != nil {
		return Receipt{}, err
	}

	s.log.Info("request scheduled",
		logx.Int64("request", id),
		logx.String("kind", sub.Kind),
		logx.String("channel", sub.ChannelID),
		logx.Time("start", win.Start),
		logx.Time("end", win.End))

	return Receipt{ID: id, StartAt: win.Start, EndAt: win.End}, nil
}
