// Package index implements the index actor: one running instance per
// vector index, owning the in-memory proximity graph and a mailbox for
// ingesting items from the change-feed monitors.
package index

import (
	"context"

	vectorstore "github.com/ewienik/scylla-usearch"
	"github.com/ewienik/scylla-usearch/actor"
)

// Message is the closed set of messages an index actor consumes.
type Message interface {
	isMessage()
}

// Upsert inserts or replaces the embedding stored for a primary key.
type Upsert struct {
	PK        vectorstore.PrimaryKey
	Embedding vectorstore.Embedding
}

// Remove drops the embedding stored for a primary key.
type Remove struct {
	PK vectorstore.PrimaryKey
}

// Ann asks for the Limit nearest neighbors of Embedding. The result is
// delivered on Reply, which must have capacity for one value.
type Ann struct {
	Embedding vectorstore.Embedding
	Limit     int
	Reply     chan<- AnnResult
}

// Stop is the distinguished terminal message of the index actor.
type Stop struct{}

func (Upsert) isMessage() {}
func (Remove) isMessage() {}
func (Ann) isMessage()    {}
func (Stop) isMessage()   {}

// AnnResult is the outcome of one Ann request, nearest first.
type AnnResult struct {
	Keys      []vectorstore.PrimaryKey
	Distances []float32
	Err       error
}

// state binds the proximity graph to the primary keys of the indexed
// table. Owned exclusively by the actor's processing loop.
type state struct {
	graph *hnsw
	byPK  map[vectorstore.PrimaryKey]uint32
	keys  []vectorstore.PrimaryKey // node -> pk
}

// New validates def, builds the graph and starts the index actor.
// Construction fails for an invalid dimensionality; no goroutine is
// started in that case.
func New(id vectorstore.IndexId, def vectorstore.IndexDefinition, logger *vectorstore.Logger) (*actor.Handle[Message], *actor.Task, error) {
	graph, err := newHNSW(def)
	if err != nil {
		return nil, nil, err
	}

	log := logger.WithActor("index").WithIndex(id)
	handle, rx := actor.NewMailbox[Message](Stop{}, actor.DefaultMailboxSize)

	s := &state{
		graph: graph,
		byPK:  make(map[vectorstore.PrimaryKey]uint32),
	}

	task := actor.Go(func() error {
		ctx := context.Background()
		for {
			msg, ok := rx.Recv(ctx)
			if !ok {
				log.Debug("index actor stopped", "count", s.graph.Len())
				return nil
			}
			switch m := msg.(type) {
			case Upsert:
				if err := s.upsert(m.PK, m.Embedding); err != nil {
					log.Error("upsert failed", "pk", string(m.PK), "error", err)
				}
			case Remove:
				s.remove(m.PK)
			case Ann:
				select {
				case m.Reply <- s.ann(m.Embedding, m.Limit):
				default:
					log.Warn("unable to send ann response")
				}
			case Stop:
				rx.Close()
			}
		}
	})
	return handle, task, nil
}

func (s *state) upsert(pk vectorstore.PrimaryKey, emb vectorstore.Embedding) error {
	// The replacement is added before the old node is tombstoned, so a
	// rejected embedding leaves the stored one intact.
	node, err := s.graph.Add(emb)
	if err != nil {
		return err
	}
	if prev, ok := s.byPK[pk]; ok {
		s.graph.Delete(prev)
	}
	s.byPK[pk] = node
	for uint32(len(s.keys)) <= node {
		s.keys = append(s.keys, "")
	}
	s.keys[node] = pk
	return nil
}

func (s *state) remove(pk vectorstore.PrimaryKey) {
	if node, ok := s.byPK[pk]; ok {
		s.graph.Delete(node)
		delete(s.byPK, pk)
	}
}

func (s *state) ann(emb vectorstore.Embedding, limit int) AnnResult {
	found, err := s.graph.Search(emb, limit)
	if err != nil {
		return AnnResult{Err: err}
	}
	result := AnnResult{
		Keys:      make([]vectorstore.PrimaryKey, 0, len(found)),
		Distances: make([]float32, 0, len(found)),
	}
	for _, f := range found {
		result.Keys = append(result.Keys, s.keys[f.node])
		result.Distances = append(result.Distances, f.distance)
	}
	return result
}

// DoUpsert sends an upsert to an index actor, dropping it silently if
// the actor is already stopping.
func DoUpsert(ctx context.Context, h *actor.Handle[Message], pk vectorstore.PrimaryKey, emb vectorstore.Embedding) {
	_ = h.Send(ctx, Upsert{PK: pk, Embedding: emb})
}

// DoRemove sends a remove to an index actor, dropping it silently if
// the actor is already stopping.
func DoRemove(ctx context.Context, h *actor.Handle[Message], pk vectorstore.PrimaryKey) {
	_ = h.Send(ctx, Remove{PK: pk})
}

// DoAnn runs a nearest-neighbor search on an index actor and awaits the
// result. A stopping actor or expired context yields an empty result.
func DoAnn(ctx context.Context, h *actor.Handle[Message], emb vectorstore.Embedding, limit int) AnnResult {
	reply := make(chan AnnResult, 1)
	if err := h.Send(ctx, Ann{Embedding: emb, Limit: limit, Reply: reply}); err != nil {
		return AnnResult{Err: err}
	}
	select {
	case r := <-reply:
		return r
	case <-ctx.Done():
		return AnnResult{Err: ctx.Err()}
	}
}
