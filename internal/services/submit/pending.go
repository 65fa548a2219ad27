package submit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"shiftbot/pkg/logx"
)

// Draft is an ephemeral pending submission: the part of a request collected
// so far, waiting for the user's window input. Drafts live only in memory;
// losing them on restart is fine, leaking them while running is not.
type Draft struct {
	Token     string // assigned on Put, for log correlation
	Kind      string
	ChannelID string
	OwnerID   string
	Content   string
	CreatedAt time.Time
}

type pendingEntry struct {
	draft     Draft
	expiresAt time.Time
}

const defaultPendingTTL = 5 * time.Minute

// PendingCache holds drafts keyed by conversation, bounded by a TTL and an
// eviction janitor.
type PendingCache struct {
	ttl time.Duration
	log logx.Logger

	mu      sync.Mutex
	entries map[string]pendingEntry

	stopCh chan struct{}
	wg     sync.WaitGroup

	now func() time.Time
}

func NewPendingCache(ttl time.Duration, log logx.Logger) *PendingCache {
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PendingCache{
		ttl:     ttl,
		log:     log,
		entries: map[string]pendingEntry{},
		now:     time.Now,
	}
}

// Put stores a draft under the conversation key, assigning it a token.
// An existing draft under the same key is replaced.
func (c *PendingCache) Put(key string, d Draft) Draft {
	d.Token = uuid.NewString()
	d.CreatedAt = c.now()

	c.mu.Lock()
	c.entries[key] = pendingEntry{draft: d, expiresAt: d.CreatedAt.Add(c.ttl)}
	c.mu.Unlock()
	return d
}

// TakeResult says what Take found under the key.
type TakeResult int

const (
	TakeMiss    TakeResult = iota // no draft under the key
	TakeExpired                   // a draft was there but past its TTL
	TakeOK
)

// Take removes and returns the draft for the key. Expired drafts are dropped
// on the spot and reported as TakeExpired so the caller can tell the user.
func (c *PendingCache) Take(key string) (Draft, TakeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Draft{}, TakeMiss
	}
	delete(c.entries, key)
	if c.now().After(e.expiresAt) {
		return Draft{}, TakeExpired
	}
	return e.draft, TakeOK
}

// Drop discards the draft for the key, if any.
func (c *PendingCache) Drop(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *PendingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start launches the eviction janitor.
func (c *PendingCache) Start(ctx context.Context) {
	c.mu.Lock()
	if c.stopCh != nil {
		c.mu.Unlock()
		return
	}
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				c.evictExpired()
			}
		}
	}()
}

func (c *PendingCache) Stop() {
	c.mu.Lock()
	if c.stopCh == nil {
		c.mu.Unlock()
		return
	}
	close(c.stopCh)
	c.stopCh = nil
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *PendingCache) evictExpired() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			c.log.Debug("pending draft expired",
				logx.String("token", e.draft.Token),
				logx.String("kind", e.draft.Kind))
		}
	}
}
