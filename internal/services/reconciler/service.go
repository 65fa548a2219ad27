package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"shiftbot/internal/storage"
	"shiftbot/internal/transport"
	"shiftbot/pkg/logx"
)

type Config struct {
	Enabled bool
	// TickPeriod is how often the store is re-evaluated. Default 20s.
	TickPeriod time.Duration
	// LeadTime is how long before a request's start it becomes eligible
	// for posting. Default 15m.
	LeadTime time.Duration
}

const (
	defaultTickPeriod = 20 * time.Second
	defaultLeadTime   = 15 * time.Minute
)

type Service struct {
	mu  sync.Mutex
	cfg Config

	store storage.Store
	gw    transport.Gateway
	log   logx.Logger

	c      *cron.Cron
	queue  chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	// now is injectable for tests.
	now func() time.Time
}

func New(cfg Config, store storage.Store, gw transport.Gateway, log logx.Logger) *Service {
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = defaultTickPeriod
	}
	if cfg.LeadTime <= 0 {
		cfg.LeadTime = defaultLeadTime
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		store: store,
		gw:    gw,
		log:   log,
		now:   time.Now,
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply updates the config. A changed tick period restarts the trigger; the
// new lead time takes effect on the next tick.
func (s *Service) Apply(cfg Config) {
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = defaultTickPeriod
	}
	if cfg.LeadTime <= 0 {
		cfg.LeadTime = defaultLeadTime
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	oldPeriod := s.cfg.TickPeriod
	s.cfg = cfg

	if s.stopCh == nil {
		return
	}
	if oldPeriod != cfg.TickPeriod {
		s.restartCronLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})

	// Capacity 1: at most one pending tick while another runs; extra trigger
	// firings are dropped so ticks can never overlap or pile up.
	s.queue = make(chan struct{}, 1)
	s.startCronLocked()

	stopCh := s.stopCh
	queue := s.queue
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.worker(ctx, stopCh, queue)
	}()

	s.log.Info("reconciler started",
		logx.Duration("tick_period", s.cfg.TickPeriod),
		logx.Duration("lead_time", s.cfg.LeadTime))
}

// Stop signals the loop to stop. An in-flight tick finishes first; partial
// mid-tick termination could leave a Posted row pending retraction until the
// next process start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("reconciler stopped")
	case <-ctx.Done():
		s.log.Warn("reconciler stop timed out; tick still in flight", logx.Err(ctx.Err()))
	}
}

func (s *Service) startCronLocked() {
	s.c = cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.TickPeriod.String())
	_, _ = s.c.AddFunc(spec, s.enqueueTick)
	s.c.Start()
}

func (s *Service) restartCronLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.startCronLocked()
	s.log.Info("reconciler tick period changed", logx.Duration("tick_period", s.cfg.TickPeriod))
}

func (s *Service) enqueueTick() {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return
	}
	select {
	case queue <- struct{}{}:
	default:
		// previous tick still running; skip
	}
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-queue:
			s.tick(ctx, s.now())
		}
	}
}

func (s *Service) leadTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.LeadTime
}
