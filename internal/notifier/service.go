package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kastnerorz/NodeRSSBot/internal/eventbus"
	"github.com/kastnerorz/NodeRSSBot/internal/ledger"
	rtsup "github.com/kastnerorz/NodeRSSBot/internal/runtime/supervisor"
	kit "github.com/kastnerorz/NodeRSSBot/internal/transport"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

// Service is the delivery dispatcher: queue + worker pool + bounded
// per-batch fan-out + shared rate limit.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log      logx.Logger
	adapter  kit.Adapter
	store    Store
	renderer Renderer
	recovery *Recovery
	ledger   ledger.Ledger
	events   eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan batch
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	statusMu  sync.RWMutex
	status    map[string]*BatchStatus
	statusMax int
	statusTTL time.Duration

	sendTimeout time.Duration
}

type Option func(*Service)

// WithLedger records every recipient outcome.
func WithLedger(l ledger.Ledger) Option {
	return func(s *Service) {
		if l != nil {
			s.ledger = l
		}
	}
}

// WithEvents publishes batch and recipient lifecycle events to bus.
func WithEvents(bus eventbus.Bus) Option {
	return func(s *Service) {
		if bus != nil {
			s.events = bus
			s.recovery.events = bus
		}
	}
}

// WithSendTimeout sets the deadline of the context passed to each transport
// call. Zero disables it. The Telegram drivers check the context between
// chunks only; a request already in flight is bounded by the client's own
// HTTP timeout.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Service) { s.sendTimeout = d }
}

func New(cfg Config, adapter kit.Adapter, store Store, renderer Renderer, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Service{
		log:         log,
		adapter:     adapter,
		store:       store,
		renderer:    renderer,
		recovery:    NewRecovery(store, cfg.DeleteOnErrSend, log.With(logx.String("comp", "recovery"))),
		ledger:      ledger.Nop{},
		events:      eventbus.Nop{},
		status:      map[string]*BatchStatus{},
		statusMax:   defaultStatusMax,
		statusTTL:   defaultStatusTTL,
		sendTimeout: defaultSendTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	s.applyLocked(cfg)
	return s
}

// Recovery exposes the failure handler (for the delete-on-error toggle).
func (s *Service) Recovery() *Recovery { return s.recovery }

// Apply hot-reloads the rate limit, fan-out width and delete-on-error flag.
// Worker count and queue size take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg.withDefaults())
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg
	// Token bucket: burst = rate per sec.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.recovery.SetDeleteOnErr(cfg.DeleteOnErrSend)
}

// Start launches the worker pool. Calling it while running is a no-op; a
// Start that races a Stop waits for the stop to finish first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	for s.stopDone != nil {
		pending := s.stopDone
		s.mu.Unlock()
		select {
		case <-pending:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	q := make(chan batch, cfg.QueueSize)
	// workers restart on failure and never cancel each other
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.queue, s.sup, s.accepting = q, sup, true
	s.mu.Unlock()

	for i := range cfg.Workers {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q, i)
			return s.workerExit(c)
		})
	}
	s.log.Info("service started", logx.Int("workers", cfg.Workers), logx.Int("rps", cfg.RatePerSec))
}

// workerExit classifies a returned worker loop: a closed queue during Stop
// is final, anything else gets the worker restarted.
func (s *Service) workerExit(ctx context.Context) error {
	s.mu.Lock()
	stopping := s.stopDone != nil
	s.mu.Unlock()
	switch {
	case stopping:
		return context.Canceled
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return errNotifierWorkerExit
	}
}

var errNotifierWorkerExit = errors.New("notifier worker exited unexpectedly")

// Stop stops intake and drains queued batches until ctx ends. Batches still
// queued after a forced stop finish their tickets with ErrNotRunning.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	done := s.stopDone
	if done == nil {
		done = make(chan struct{})
		s.stopDone, s.accepting = done, false
		go s.drain(s.queue, s.sup, done)
	}
	sup := s.sup
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		// workers are cut off; drain still aborts what is left
		sup.Cancel()
	}
}

// drain closes the queue once no Notify is mid-enqueue, waits for the
// workers, then fails whatever they did not pick up.
func (s *Service) drain(q chan batch, sup *rtsup.Supervisor, done chan struct{}) {
	defer close(done)
	began := time.Now()

	s.sendWG.Wait()
	close(q)
	_ = sup.Wait(context.Background())
	for b := range q {
		s.abort(b)
	}

	s.mu.Lock()
	s.queue, s.sup, s.stopDone = nil, nil, nil
	s.mu.Unlock()
	s.log.Info("service stopped", logx.Duration("took", time.Since(began)))
}

func (s *Service) snapshot() (Config, *rate.Limiter, kit.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter, s.adapter
}
