// Package modify implements the actor that owns durable persistence of
// index metadata. The engine asks it to drop the metadata row of a
// deleted index; nothing else in the system writes that table.
package modify

import (
	"context"

	vectorstore "github.com/ewienik/scylla-usearch"
	"github.com/ewienik/scylla-usearch/actor"
)

// Execer runs one CQL statement. *db.Session satisfies it; tests use
// fakes.
type Execer interface {
	Exec(ctx context.Context, stmt string, values ...any) error
}

// Message is the closed set of messages the modify actor consumes.
type Message interface {
	isMessage()
}

// Del removes the durable metadata of one index.
type Del struct {
	ID vectorstore.IndexId
}

// Stop is the distinguished terminal message of the modify actor.
type Stop struct{}

func (Del) isMessage()  {}
func (Stop) isMessage() {}

const deleteIndexCQL = `DELETE FROM vector_indexes WHERE table_name = ?`

// New starts the modify actor over the given statement executor.
func New(exec Execer, logger *vectorstore.Logger) (*actor.Handle[Message], *actor.Task, error) {
	log := logger.WithActor("modify")
	handle, rx := actor.NewMailbox[Message](Stop{}, actor.DefaultMailboxSize)

	task := actor.Go(func() error {
		ctx := context.Background()
		for {
			msg, ok := rx.Recv(ctx)
			if !ok {
				log.Debug("modify actor stopped")
				return nil
			}
			switch m := msg.(type) {
			case Del:
				if err := exec.Exec(ctx, deleteIndexCQL, m.ID.String()); err != nil {
					log.Error("unable to delete index metadata", "index", m.ID.String(), "error", err)
				}
			case Stop:
				rx.Close()
			}
		}
	})
	return handle, task, nil
}

// DoDel asks the modify actor to drop id's durable metadata,
// fire-and-forget.
func DoDel(ctx context.Context, h *actor.Handle[Message], id vectorstore.IndexId) {
	_ = h.Send(ctx, Del{ID: id})
}
