// Package engine implements the orchestration actor at the heart of
// the control plane.
//
// The engine owns the authoritative registry of live vector indexes.
// Every lifecycle operation (create, delete, lookup) is a message into
// its mailbox, consumed by one serial processing loop; that single
// consumer is the concurrency-correctness mechanism. The loop creates
// and destroys each index actor together with its paired items monitor
// as one unit, so observers never see an index without its change feed
// or the reverse.
package engine

import (
	"context"
	"errors"

	vectorstore "github.com/ewienik/scylla-usearch"
	"github.com/ewienik/scylla-usearch/actor"
	"github.com/ewienik/scylla-usearch/index"
	"github.com/ewienik/scylla-usearch/modify"
	"github.com/ewienik/scylla-usearch/monitor"
	"github.com/ewienik/scylla-usearch/supervisor"
)

// message is the closed set of messages the engine consumes.
type message interface {
	isMessage()
}

type getIndexes struct {
	reply chan []vectorstore.IndexId
}

type addIndex struct {
	id  vectorstore.IndexId
	def vectorstore.IndexDefinition
}

type delIndex struct {
	id vectorstore.IndexId
}

type getIndex struct {
	id    vectorstore.IndexId
	reply chan *actor.Handle[index.Message]
}

type stop struct{}

func (getIndexes) isMessage() {}
func (addIndex) isMessage()   {}
func (delIndex) isMessage()   {}
func (getIndex) isMessage()   {}
func (stop) isMessage()       {}

// IndexFactory constructs an index actor for one vector index. It may
// fail for invalid parameters; in that case no task was started.
type IndexFactory func(id vectorstore.IndexId, def vectorstore.IndexDefinition) (*actor.Handle[index.Message], *actor.Task, error)

// ItemsMonitorFactory constructs the change-feed monitor that feeds one
// index actor. It may fail when the table or columns are inaccessible.
type ItemsMonitorFactory func(ctx context.Context, id vectorstore.IndexId, colID, colEmb vectorstore.ColumnName, idx *actor.Handle[index.Message]) (*actor.Handle[monitor.ItemsMessage], *actor.Task, error)

// CollaboratorFactory starts one of the engine-level collaborators
// (indexes monitor, queries monitor) that are fed the engine itself.
type CollaboratorFactory func(ctx context.Context, eng *Engine) (actor.Stopper, *actor.Task, error)

// ModifyFactory starts the persistence actor for index metadata.
type ModifyFactory func() (*actor.Handle[modify.Message], *actor.Task, error)

// Options configures an Engine.
type Options struct {
	Logger      *vectorstore.Logger
	MailboxSize int

	IndexFactory        IndexFactory
	ItemsMonitorFactory ItemsMonitorFactory

	// Engine-level collaborators, started by New and attached to the
	// supervisor before the loop runs. Nil skips the collaborator,
	// which is how tests isolate the registry loop.
	IndexesMonitorFactory CollaboratorFactory
	QueriesMonitorFactory CollaboratorFactory
	ModifyFactory         ModifyFactory
}

// Engine is the public face of the engine actor. All methods are safe
// for concurrent use; each one suspends only its caller, never the
// engine loop.
type Engine struct {
	handle *actor.Handle[message]
	task   *actor.Task
}

// Compile time check that the engine feeds the monitors.
var _ monitor.Engine = (*Engine)(nil)

// New starts the engine: its collaborators first (each attached to the
// supervisor), then the registry loop.
func New(ctx context.Context, sup *supervisor.Supervisor, optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
		Logger:      vectorstore.NewLogger(nil),
		MailboxSize: actor.DefaultMailboxSize,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.IndexFactory == nil || opts.ItemsMonitorFactory == nil {
		return nil, errors.New("engine: index and items monitor factories are required")
	}
	log := opts.Logger.WithActor("engine")

	handle, rx := actor.NewMailbox[message](stop{}, opts.MailboxSize)
	e := &Engine{handle: handle}

	if opts.IndexesMonitorFactory != nil {
		monHandle, monTask, err := opts.IndexesMonitorFactory(ctx, e)
		if err != nil {
			return nil, err
		}
		sup.Attach(ctx, monHandle, monTask)
	}

	var modifyHandle *actor.Handle[modify.Message]
	if opts.ModifyFactory != nil {
		var modifyTask *actor.Task
		var err error
		modifyHandle, modifyTask, err = opts.ModifyFactory()
		if err != nil {
			return nil, err
		}
		sup.Attach(ctx, modifyHandle, modifyTask)
	}

	if opts.QueriesMonitorFactory != nil {
		monHandle, monTask, err := opts.QueriesMonitorFactory(ctx, e)
		if err != nil {
			return nil, err
		}
		sup.Attach(ctx, monHandle, monTask)
	}

	l := &loop{
		log:          log,
		sup:          sup,
		modifyHandle: modifyHandle,
		newIndex:     opts.IndexFactory,
		newMonitor:   opts.ItemsMonitorFactory,
		indexes:      make(map[vectorstore.IndexId]*actor.Handle[index.Message]),
		monitors:     make(map[vectorstore.IndexId]*actor.Handle[monitor.ItemsMessage]),
	}
	e.task = actor.Go(func() error {
		l.run(rx)
		return nil
	})
	return e, nil
}

// GetIndexes returns the ids of all currently registered indexes. A
// stopped engine yields an empty result, never an error.
func (e *Engine) GetIndexes(ctx context.Context) []vectorstore.IndexId {
	reply := make(chan []vectorstore.IndexId, 1)
	if err := e.handle.Send(ctx, getIndexes{reply: reply}); err != nil {
		return nil
	}
	select {
	case ids := <-reply:
		return ids
	case <-ctx.Done():
		return nil
	}
}

// AddIndex requests creation of an index. Fire-and-forget: creation
// failures are logged at the engine, and callers confirm success by
// polling GetIndexes or GetIndex. Duplicate submissions are ignored.
func (e *Engine) AddIndex(ctx context.Context, id vectorstore.IndexId, def vectorstore.IndexDefinition) {
	// A failed send means the engine is shutting down; upstream
	// monitors tolerate the drop.
	_ = e.handle.Send(ctx, addIndex{id: id, def: def})
}

// DelIndex requests deletion of an index, fire-and-forget. Deleting an
// unknown id is a no-op.
func (e *Engine) DelIndex(ctx context.Context, id vectorstore.IndexId) {
	_ = e.handle.Send(ctx, delIndex{id: id})
}

// GetIndex returns the handle of a registered index actor, or nil. The
// handle stays usable after a concurrent DelIndex; sends to the
// stopping actor are silently dropped.
func (e *Engine) GetIndex(ctx context.Context, id vectorstore.IndexId) *actor.Handle[index.Message] {
	reply := make(chan *actor.Handle[index.Message], 1)
	if err := e.handle.Send(ctx, getIndex{id: id, reply: reply}); err != nil {
		return nil
	}
	select {
	case h := <-reply:
		return h
	case <-ctx.Done():
		return nil
	}
}

// Stop initiates graceful shutdown. Messages accepted before the stop
// is processed are still drained and answered.
func (e *Engine) Stop(ctx context.Context) {
	e.handle.Stop(ctx)
}

// Join blocks until the engine loop has fully exited.
func (e *Engine) Join(ctx context.Context) error {
	return e.task.Join(ctx)
}

// loop holds the engine registries. Touched only by run's goroutine.
type loop struct {
	log          *vectorstore.Logger
	sup          *supervisor.Supervisor
	modifyHandle *actor.Handle[modify.Message]
	newIndex     IndexFactory
	newMonitor   ItemsMonitorFactory

	indexes  map[vectorstore.IndexId]*actor.Handle[index.Message]
	monitors map[vectorstore.IndexId]*actor.Handle[monitor.ItemsMessage]
}

func (l *loop) run(rx *actor.Receiver[message]) {
	ctx := context.Background()
	for {
		msg, ok := rx.Recv(ctx)
		if !ok {
			l.shutdown(ctx)
			return
		}
		switch m := msg.(type) {
		case getIndexes:
			ids := make([]vectorstore.IndexId, 0, len(l.indexes))
			for id := range l.indexes {
				ids = append(ids, id)
			}
			select {
			case m.reply <- ids:
			default:
				l.log.Warn("get_indexes: unable to send response")
			}
		case addIndex:
			l.addIndex(ctx, m.id, m.def)
		case delIndex:
			l.delIndex(ctx, m.id)
		case getIndex:
			select {
			case m.reply <- l.indexes[m.id]:
			default:
				l.log.Warn("get_index: unable to send response")
			}
		case stop:
			rx.Close()
		}
	}
}

func (l *loop) addIndex(ctx context.Context, id vectorstore.IndexId, def vectorstore.IndexDefinition) {
	if _, ok := l.indexes[id]; ok {
		// Idempotent create: upstream monitors may redeliver.
		return
	}

	idxHandle, idxTask, err := l.newIndex(id, def)
	if err != nil {
		l.log.Error("unable to create index",
			"index", id.String(), "dimensions", int(def.Dimensions), "error", err)
		return
	}

	monHandle, monTask, err := l.newMonitor(ctx, id, def.ColID, def.ColEmb, idxHandle)
	if err != nil {
		l.log.Error("unable to create items monitor",
			"index", id.String(), "col_id", def.ColID.String(), "col_emb", def.ColEmb.String(), "error", err)
		// Roll back the half-created pair: the orphan index actor must
		// be gone before anything becomes observable.
		idxHandle.Stop(ctx)
		if err := idxTask.Join(ctx); err != nil {
			l.log.Warn("issue while stopping index actor", "index", id.String(), "error", err)
		}
		return
	}

	l.sup.Attach(ctx, idxHandle, idxTask)
	l.sup.Attach(ctx, monHandle, monTask)
	l.indexes[id] = idxHandle
	l.monitors[id] = monHandle
}

func (l *loop) delIndex(ctx context.Context, id vectorstore.IndexId) {
	if idxHandle, ok := l.indexes[id]; ok {
		delete(l.indexes, id)
		idxHandle.Stop(ctx)
	}
	if monHandle, ok := l.monitors[id]; ok {
		delete(l.monitors, id)
		monHandle.Stop(ctx)
	}
	if l.modifyHandle != nil {
		modify.DoDel(ctx, l.modifyHandle, id)
	}
}

// shutdown stops every subordinate actor and drops the registries. The
// actors are attached to the supervisor, which joins their tasks.
func (l *loop) shutdown(ctx context.Context) {
	for id, idxHandle := range l.indexes {
		idxHandle.Stop(ctx)
		delete(l.indexes, id)
	}
	for id, monHandle := range l.monitors {
		monHandle.Stop(ctx)
		delete(l.monitors, id)
	}
	l.log.Debug("engine stopped")
}
