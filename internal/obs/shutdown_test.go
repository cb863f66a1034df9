package obs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsStepsInReverseRegistrationOrder(t *testing.T) {
	g := NewGracefulShutdown(time.Second, DefaultLogger("test"))
	var order []string
	g.Register(func(ctx context.Context) error { order = append(order, "first"); return nil })
	g.Register(func(ctx context.Context) error { order = append(order, "second"); return nil })
	g.Register(func(ctx context.Context) error { order = append(order, "third"); return nil })

	require.NoError(t, g.Shutdown(context.Background()))
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestShutdownReturnsFirstStepError(t *testing.T) {
	g := NewGracefulShutdown(time.Second, DefaultLogger("test"))
	boom := errors.New("boom")
	g.Register(func(ctx context.Context) error { return errors.New("earlier but runs second") })
	g.Register(func(ctx context.Context) error { return boom })

	err := g.Shutdown(context.Background())
	assert.Equal(t, boom, err)
}

func TestShutdownTimesOutOnSlowStep(t *testing.T) {
	g := NewGracefulShutdown(10*time.Millisecond, DefaultLogger("test"))
	g.Register(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := g.Shutdown(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
