package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vectorstore "github.com/ewienik/scylla-usearch"
	"github.com/ewienik/scylla-usearch/actor"
	"github.com/ewienik/scylla-usearch/index"
	"github.com/ewienik/scylla-usearch/monitor"
	"github.com/ewienik/scylla-usearch/supervisor"
)

// testHarness wires an engine with countable stub factories so the
// registry loop can be exercised without a database.
type testHarness struct {
	sup *supervisor.Supervisor
	eng *Engine

	indexesBuilt    atomic.Int32
	indexesStopped  atomic.Int32
	monitorsBuilt   atomic.Int32
	monitorsStopped atomic.Int32

	mu         sync.Mutex
	indexErr   error
	monitorErr error
}

func (h *testHarness) failIndex(err error)   { h.mu.Lock(); h.indexErr = err; h.mu.Unlock() }
func (h *testHarness) failMonitor(err error) { h.mu.Lock(); h.monitorErr = err; h.mu.Unlock() }

func (h *testHarness) indexFactory(_ vectorstore.IndexId, def vectorstore.IndexDefinition) (*actor.Handle[index.Message], *actor.Task, error) {
	h.mu.Lock()
	err := h.indexErr
	h.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	if def.Dimensions <= 0 {
		return nil, nil, vectorstore.NewErrInvalidDimension(def.Dimensions, nil)
	}
	h.indexesBuilt.Add(1)

	handle, rx := actor.NewMailbox[index.Message](index.Stop{}, actor.DefaultMailboxSize)
	task := actor.Go(func() error {
		for {
			msg, ok := rx.Recv(context.Background())
			if !ok {
				h.indexesStopped.Add(1)
				return nil
			}
			if _, stop := msg.(index.Stop); stop {
				rx.Close()
			}
		}
	})
	return handle, task, nil
}

func (h *testHarness) monitorFactory(_ context.Context, _ vectorstore.IndexId, _, _ vectorstore.ColumnName, _ *actor.Handle[index.Message]) (*actor.Handle[monitor.ItemsMessage], *actor.Task, error) {
	h.mu.Lock()
	err := h.monitorErr
	h.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	h.monitorsBuilt.Add(1)

	handle, rx := actor.NewMailbox[monitor.ItemsMessage](monitor.ItemsStop{}, actor.DefaultMailboxSize)
	task := actor.Go(func() error {
		for {
			msg, ok := rx.Recv(context.Background())
			if !ok {
				h.monitorsStopped.Add(1)
				return nil
			}
			if _, stop := msg.(monitor.ItemsStop); stop {
				rx.Close()
			}
		}
	})
	return handle, task, nil
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		sup: supervisor.New(func(o *supervisor.Options) { o.Logger = vectorstore.NoopLogger() }),
	}
	eng, err := New(context.Background(), h.sup, func(o *Options) {
		o.Logger = vectorstore.NoopLogger()
		o.IndexFactory = h.indexFactory
		o.ItemsMonitorFactory = h.monitorFactory
	})
	require.NoError(t, err)
	h.eng = eng

	t.Cleanup(func() {
		ctx := context.Background()
		h.eng.Stop(ctx)
		_ = h.eng.Join(ctx)
		h.sup.Stop(ctx)
		_ = h.sup.Join(ctx)
	})
	return h
}

func testDefinition() vectorstore.IndexDefinition {
	return vectorstore.IndexDefinition{
		ColID:           "pk",
		ColEmb:          "vec",
		Dimensions:      128,
		Connectivity:    16,
		ExpansionAdd:    200,
		ExpansionSearch: 50,
	}
}

func TestAddThenLookup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.eng.AddIndex(ctx, "t1", testDefinition())

	ids := h.eng.GetIndexes(ctx)
	assert.Equal(t, []vectorstore.IndexId{"t1"}, ids)
	assert.NotNil(t, h.eng.GetIndex(ctx, "t1"))
	assert.Nil(t, h.eng.GetIndex(ctx, "t2"))
}

func TestAddIndexIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.eng.AddIndex(ctx, "t1", testDefinition())
	h.eng.AddIndex(ctx, "t1", testDefinition())

	assert.Len(t, h.eng.GetIndexes(ctx), 1)
	assert.Equal(t, int32(1), h.indexesBuilt.Load())
	assert.Equal(t, int32(1), h.monitorsBuilt.Load())
}

func TestDelIndexIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.eng.DelIndex(ctx, "absent")
	assert.Empty(t, h.eng.GetIndexes(ctx))

	h.eng.AddIndex(ctx, "t1", testDefinition())
	h.eng.DelIndex(ctx, "t1")
	h.eng.DelIndex(ctx, "t1")

	assert.Empty(t, h.eng.GetIndexes(ctx))
	assert.Nil(t, h.eng.GetIndex(ctx, "t1"))
}

func TestDelIndexStopsBothActors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.eng.AddIndex(ctx, "t1", testDefinition())
	h.eng.DelIndex(ctx, "t1")

	require.Eventually(t, func() bool {
		return h.indexesStopped.Load() == 1 && h.monitorsStopped.Load() == 1
	}, time.Second, time.Millisecond)
}

func TestInvalidDimensionsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	def := testDefinition()
	def.Dimensions = 0
	h.eng.AddIndex(ctx, "t1", def)

	assert.Empty(t, h.eng.GetIndexes(ctx))
	assert.Equal(t, int32(0), h.indexesBuilt.Load())
	assert.Equal(t, int32(0), h.monitorsBuilt.Load())
}

func TestMonitorFailureRollsBackIndex(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.failMonitor(errors.New("table inaccessible"))
	h.eng.AddIndex(ctx, "t1", testDefinition())

	// The id never becomes visible and the orphan index actor was
	// stopped and awaited before AddIndex finished.
	assert.Empty(t, h.eng.GetIndexes(ctx))
	assert.Equal(t, int32(1), h.indexesBuilt.Load())
	assert.Equal(t, int32(1), h.indexesStopped.Load())
	assert.Equal(t, int32(0), h.monitorsBuilt.Load())

	// A later retry with a healthy monitor succeeds.
	h.failMonitor(nil)
	h.eng.AddIndex(ctx, "t1", testDefinition())
	assert.Equal(t, []vectorstore.IndexId{"t1"}, h.eng.GetIndexes(ctx))
}

func TestIndexFailureLeavesNoState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.failIndex(errors.New("construction failed"))
	h.eng.AddIndex(ctx, "t1", testDefinition())

	assert.Empty(t, h.eng.GetIndexes(ctx))
	assert.Equal(t, int32(0), h.monitorsBuilt.Load())
}

func TestAddDelLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.eng.AddIndex(ctx, "t1", testDefinition())
	h.eng.DelIndex(ctx, "t1")

	assert.Empty(t, h.eng.GetIndexes(ctx))
	assert.Nil(t, h.eng.GetIndex(ctx, "t1"))
}

func TestConcurrentAddsOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.eng.AddIndex(ctx, "t1", testDefinition())
		}()
	}
	wg.Wait()

	assert.Len(t, h.eng.GetIndexes(ctx), 1)
	assert.Equal(t, int32(1), h.indexesBuilt.Load())
	assert.Equal(t, int32(1), h.monitorsBuilt.Load())
}

func TestDrainOnStop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	const n = 5
	for i := 0; i < n; i++ {
		h.eng.AddIndex(ctx, vectorstore.IndexId(string(rune('a'+i))), testDefinition())
	}
	h.eng.Stop(ctx)
	require.NoError(t, h.eng.Join(ctx))

	// Every request accepted before the stop was still processed.
	assert.Equal(t, int32(n), h.indexesBuilt.Load())

	// Shutdown stops all subordinate actors.
	require.Eventually(t, func() bool {
		return h.indexesStopped.Load() == n && h.monitorsStopped.Load() == n
	}, time.Second, time.Millisecond)
}

func TestStoppedEngineSafeDefaults(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.eng.Stop(ctx)
	require.NoError(t, h.eng.Join(ctx))

	assert.Empty(t, h.eng.GetIndexes(ctx))
	assert.Nil(t, h.eng.GetIndex(ctx, "t1"))
	// Fire-and-forget operations are silently dropped.
	h.eng.AddIndex(ctx, "t1", testDefinition())
	h.eng.DelIndex(ctx, "t1")
	assert.Equal(t, int32(0), h.indexesBuilt.Load())
}

func TestHandleUsableAfterDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.eng.AddIndex(ctx, "t1", testDefinition())
	handle := h.eng.GetIndex(ctx, "t1")
	require.NotNil(t, handle)

	h.eng.DelIndex(ctx, "t1")
	require.Eventually(t, func() bool {
		return h.indexesStopped.Load() == 1
	}, time.Second, time.Millisecond)

	// Late sends to the stopped actor are rejected, not panicking.
	err := handle.Send(ctx, index.Remove{PK: "x"})
	assert.ErrorIs(t, err, actor.ErrMailboxClosed)
}

func TestCollaboratorFailureFailsNew(t *testing.T) {
	ctx := context.Background()
	sup := supervisor.New(func(o *supervisor.Options) { o.Logger = vectorstore.NoopLogger() })
	defer func() {
		sup.Stop(ctx)
		_ = sup.Join(ctx)
	}()

	h := &testHarness{sup: sup}
	boom := errors.New("metadata table missing")
	_, err := New(ctx, sup, func(o *Options) {
		o.Logger = vectorstore.NoopLogger()
		o.IndexFactory = h.indexFactory
		o.ItemsMonitorFactory = h.monitorFactory
		o.IndexesMonitorFactory = func(context.Context, *Engine) (actor.Stopper, *actor.Task, error) {
			return nil, nil, boom
		}
	})
	assert.ErrorIs(t, err, boom)
}

func TestMissingFactoriesRejected(t *testing.T) {
	ctx := context.Background()
	sup := supervisor.New(func(o *supervisor.Options) { o.Logger = vectorstore.NoopLogger() })
	defer func() {
		sup.Stop(ctx)
		_ = sup.Join(ctx)
	}()

	_, err := New(ctx, sup, func(o *Options) { o.Logger = vectorstore.NoopLogger() })
	assert.Error(t, err)
}
