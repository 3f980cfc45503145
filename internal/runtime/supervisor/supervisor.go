// Package supervisor owns the goroutines of one component: a shared
// context, panic recovery, first-error capture and restart loops.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	// cancel the shared context when any goroutine fails
	failFast bool

	running atomic.Int64
	wg      sync.WaitGroup

	errMu sync.Mutex
	err   error

	waitOnce sync.Once
	idle     chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first goroutine error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.failFast = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	s := &Supervisor{log: logx.Nop(), idle: make(chan struct{})}
	s.ctx, s.cancel = context.WithCancel(parent)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel ends the shared context and returns immediately.
func (s *Supervisor) Cancel() { s.cancel() }

// Active is the number of goroutines still running.
func (s *Supervisor) Active() int64 { return s.running.Load() }

// Err is the first failure recorded, or nil.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Go runs fn in its own goroutine. A returned error other than
// context.Canceled, or a panic, is recorded as a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	s.running.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Add(-1)

		s.log.Debug("goroutine started", logx.String("name", name))
		err := s.guard(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.recordFailure(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Go0 is Go for functions that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// guard calls fn and converts a panic into an error.
func (s *Supervisor) guard(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		s.log.Error("goroutine panicked",
			logx.String("name", name),
			logx.Any("panic", r),
			logx.String("stack", string(debug.Stack())),
		)
		err = fmt.Errorf("panic: %v", r)
	}()
	return fn(s.ctx)
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	initial, ceiling time.Duration
	// a clean return ends the loop instead of restarting
	exitOnNil bool
}

// A run that lasted this long resets the backoff.
const healthyRun = 30 * time.Second

func WithRestartBackoff(initial, ceiling time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if initial > 0 {
			p.initial = initial
		}
		if ceiling > 0 {
			p.ceiling = ceiling
		}
	}
}

// WithStopOnCleanExit controls whether a nil return ends the loop.
// It does by default.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.exitOnNil = enabled }
}

// GoRestart keeps fn running until the context ends, restarting it after
// errors and panics with jittered exponential backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{initial: 250 * time.Millisecond, ceiling: 30 * time.Second, exitOnNil: true}
	for _, opt := range opts {
		opt(&p)
	}
	p.ceiling = max(p.ceiling, p.initial)

	s.Go0(name+".restart", func(ctx context.Context) {
		delay := p.initial
		for {
			began := time.Now()
			err := s.guard(name, fn)
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if p.exitOnNil {
					return
				}
				err = errors.New("exited")
			}
			if time.Since(began) >= healthyRun {
				delay = p.initial
			}

			wait := delay + rand.N(delay/5+1)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			delay = min(delay*2, p.ceiling)
		}
	})
}

// GoRestart0 is GoRestart for functions that cannot fail.
func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn == nil {
		return
	}
	s.GoRestart(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	}, opts...)
}

// Stop cancels the shared context and waits for every goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx ends. It returns
// the first recorded failure.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.idle)
		}()
	})
	select {
	case <-s.idle:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) recordFailure(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	if s.failFast {
		s.cancel()
	}
}
