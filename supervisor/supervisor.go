// Package supervisor implements the authority that tracks attached
// actor tasks and observes their termination.
//
// Attachment transfers responsibility for detecting abnormal task exit,
// not ownership of the handle: whoever attached an actor may still stop
// it. Restart policy stays behind the OnFailure hook; the supervisor
// itself only observes, counts and logs.
package supervisor

import (
	"context"

	vectorstore "github.com/ewienik/scylla-usearch"
	"github.com/ewienik/scylla-usearch/actor"
)

// Message is the closed set of messages the supervisor consumes.
type Message interface {
	isMessage()
}

type attach struct {
	stopper actor.Stopper
	task    *actor.Task
}

type taskDone struct {
	id  int
	err error
}

// Stop is the distinguished terminal message of the supervisor.
type Stop struct{}

func (attach) isMessage()   {}
func (taskDone) isMessage() {}
func (Stop) isMessage()     {}

// Options configures a Supervisor.
type Options struct {
	Logger *vectorstore.Logger

	// OnFailure is invoked from the supervisor loop whenever an
	// attached task terminates with an error. Restart/escalation
	// policy belongs to this hook.
	OnFailure func(err error)
}

// Supervisor is the public face of the supervisor actor.
type Supervisor struct {
	handle *actor.Handle[Message]
	task   *actor.Task
}

type entry struct {
	stopper actor.Stopper
	task    *actor.Task
}

// New starts the supervisor actor.
func New(optFns ...func(o *Options)) *Supervisor {
	opts := Options{
		Logger: vectorstore.NewLogger(nil),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	log := opts.Logger.WithActor("supervisor")

	handle, rx := actor.NewMailbox[Message](Stop{}, actor.DefaultMailboxSize)

	task := actor.Go(func() error {
		ctx := context.Background()
		attached := make(map[int]entry)
		nextID := 0
		failures := 0
		for {
			msg, ok := rx.Recv(ctx)
			if !ok {
				// Shutdown: stop everything still attached, then wait
				// for the tasks to terminate.
				for _, e := range attached {
					e.stopper.Stop(ctx)
				}
				for _, e := range attached {
					if err := e.task.Join(ctx); err != nil {
						log.Warn("issue while stopping attached actor", "error", err)
					}
				}
				log.Debug("supervisor stopped", "failures", failures)
				return nil
			}
			switch m := msg.(type) {
			case attach:
				id := nextID
				nextID++
				attached[id] = entry{stopper: m.stopper, task: m.task}
				// The watcher reports back through the mailbox so the
				// loop stays the only writer of supervisor state.
				watched := m.task
				go func() {
					<-watched.Done()
					_ = handle.Send(context.Background(), taskDone{id: id, err: watched.Err()})
				}()
			case taskDone:
				delete(attached, m.id)
				if m.err != nil {
					failures++
					log.Error("attached task failed", "error", m.err)
					if opts.OnFailure != nil {
						opts.OnFailure(m.err)
					}
				}
			case Stop:
				rx.Close()
			}
		}
	})

	return &Supervisor{handle: handle, task: task}
}

// Attach hands the supervisor responsibility for watching task's
// outcome. It never fails: if the supervisor is already stopping the
// attachment is dropped, matching the shutdown path where every actor
// is being stopped anyway.
func (s *Supervisor) Attach(ctx context.Context, stopper actor.Stopper, task *actor.Task) {
	_ = s.handle.Send(ctx, attach{stopper: stopper, task: task})
}

// Stop initiates graceful shutdown: every attached actor is stopped and
// awaited before the supervisor's own task terminates.
func (s *Supervisor) Stop(ctx context.Context) {
	s.handle.Stop(ctx)
}

// Join blocks until the supervisor task has fully exited.
func (s *Supervisor) Join(ctx context.Context) error {
	return s.task.Join(ctx)
}
