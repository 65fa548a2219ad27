package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the only durable backend)
//
// If Driver is empty or "none", storage is disabled and Open returns an error:
// scheduled requests must survive restarts.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Request is a persisted scheduled announcement.
//
// MessageID is empty until the post side effect succeeds; once set it is never
// cleared while the row exists. EndAt is strictly after StartAt, enforced at
// creation and never re-checked.
type Request struct {
	ID        int64
	Kind      string
	ChannelID string
	OwnerID   string
	Content   string
	StartAt   time.Time
	EndAt     time.Time
	MessageID string
}

// Posted reports whether the request's announcement has been sent.
func (r Request) Posted() bool { return r.MessageID != "" }

// Store is the persistence API used by the submission path and the
// reconciliation loop. Every operation is durable before it returns success
// and atomic at the row level; no cross-row transaction exists.
type Store interface {
	// Insert persists a new request (ID and MessageID are ignored) and
	// returns the assigned id.
	Insert(ctx context.Context, r Request) (int64, error)

	// DueToPost returns unposted rows whose posting window is open:
	// now >= start-lead and end still in the future, ascending by start.
	DueToPost(ctx context.Context, now time.Time, lead time.Duration) ([]Request, error)

	// DueToRetract returns all rows (posted or not) whose end has passed,
	// ascending by end. Rows that were never posted still show up here so
	// they get removed instead of lingering forever.
	DueToRetract(ctx context.Context, now time.Time) ([]Request, error)

	// MarkPosted records the gateway message id. No-op if the row is gone.
	MarkPosted(ctx context.Context, id int64, messageID string) error

	// Remove deletes the row. No-op if already absent.
	Remove(ctx context.Context, id int64) error

	Close() error
}
