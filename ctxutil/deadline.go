package ctxutil

import (
	"context"
	"time"
)

// WithDelayedTimeout returns a context that outlives its parent by delay,
// so shutdown work keeps a usable context for a short grace period.
func WithDelayedTimeout(parent context.Context, delay time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-parent.Done()
		time.AfterFunc(delay, cancel)
	}()
	return ctx, cancel
}
