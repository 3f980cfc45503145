package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// slowRequest is the duration from which a successful request logs at info.
const slowRequest = 750 * time.Millisecond

func requestLogger(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

func MWTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				requestLogger(log, req).Error("handler panic",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("panic: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			l := requestLogger(log, req)
			switch {
			case err != nil:
				l.Warn("command failed", logx.Duration("took", took), logx.Err(err))
			case took >= slowRequest:
				l.Info("command done", logx.Duration("took", took))
			default:
				l.Debug("command done", logx.Duration("took", took))
			}
			return err
		}
	}
}
