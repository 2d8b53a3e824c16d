package ctxutil_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Tim-Conrad/audio-player/ctxutil"
)

func TestWithDelayedTimeout(t *testing.T) {
	t.Parallel()

	t.Run("initially_active", func(t *testing.T) {
		t.Parallel()
		parent, parentCancel := context.WithCancel(context.Background())
		defer parentCancel()
		ctx, cancel := ctxutil.WithDelayedTimeout(parent, 50*time.Millisecond)
		defer cancel()
		assert.NoError(t, ctx.Err())
	})

	t.Run("outlives_parent_by_delay", func(t *testing.T) {
		t.Parallel()
		parent, parentCancel := context.WithCancel(context.Background())
		ctx, cancel := ctxutil.WithDelayedTimeout(parent, 50*time.Millisecond)
		defer cancel()

		parentCancel()
		assert.NoError(t, ctx.Err())

		select {
		case <-ctx.Done():
		case <-time.After(500 * time.Millisecond):
			t.Fatal("expected context to be canceled after delay")
		}
	})
}
