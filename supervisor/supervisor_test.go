package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vectorstore "github.com/ewienik/scylla-usearch"
	"github.com/ewienik/scylla-usearch/actor"
)

type probeMsg struct{ stop bool }

// startProbe runs a minimal actor and reports whether it was stopped.
func startProbe() (*actor.Handle[probeMsg], *actor.Task, *atomic.Bool) {
	h, rx := actor.NewMailbox(probeMsg{stop: true}, 10)
	stopped := &atomic.Bool{}
	task := actor.Go(func() error {
		for {
			msg, ok := rx.Recv(context.Background())
			if !ok {
				stopped.Store(true)
				return nil
			}
			if msg.stop {
				rx.Close()
			}
		}
	})
	return h, task, stopped
}

func TestStopStopsAttachedActors(t *testing.T) {
	ctx := context.Background()

	sup := New(func(o *Options) { o.Logger = vectorstore.NoopLogger() })

	h1, t1, stopped1 := startProbe()
	h2, t2, stopped2 := startProbe()
	sup.Attach(ctx, h1, t1)
	sup.Attach(ctx, h2, t2)

	sup.Stop(ctx)
	require.NoError(t, sup.Join(ctx))

	assert.True(t, stopped1.Load())
	assert.True(t, stopped2.Load())
}

func TestFailureObserved(t *testing.T) {
	ctx := context.Background()

	var failures atomic.Int32
	sup := New(func(o *Options) {
		o.Logger = vectorstore.NoopLogger()
		o.OnFailure = func(err error) { failures.Add(1) }
	})

	boom := errors.New("boom")
	task := actor.Go(func() error { return boom })
	h, _ := actor.NewMailbox(probeMsg{stop: true}, 1)
	sup.Attach(ctx, h, task)

	require.Eventually(t, func() bool {
		return failures.Load() == 1
	}, time.Second, 5*time.Millisecond)

	sup.Stop(ctx)
	require.NoError(t, sup.Join(ctx))
}

func TestCleanExitNotAFailure(t *testing.T) {
	ctx := context.Background()

	var failures atomic.Int32
	sup := New(func(o *Options) {
		o.Logger = vectorstore.NoopLogger()
		o.OnFailure = func(err error) { failures.Add(1) }
	})

	h, task, _ := startProbe()
	sup.Attach(ctx, h, task)
	h.Stop(ctx)
	require.NoError(t, task.Join(ctx))

	sup.Stop(ctx)
	require.NoError(t, sup.Join(ctx))
	assert.Equal(t, int32(0), failures.Load())
}

func TestAttachAfterStopIsDropped(t *testing.T) {
	ctx := context.Background()

	sup := New(func(o *Options) { o.Logger = vectorstore.NoopLogger() })
	sup.Stop(ctx)
	require.NoError(t, sup.Join(ctx))

	// Must not panic or block.
	h, task, _ := startProbe()
	sup.Attach(ctx, h, task)
	h.Stop(ctx)
	require.NoError(t, task.Join(ctx))
}
