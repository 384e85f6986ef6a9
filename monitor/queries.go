package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	vectorstore "github.com/ewienik/scylla-usearch"
	"github.com/ewienik/scylla-usearch/actor"
	"github.com/ewienik/scylla-usearch/index"
)

// QueriesMessage is the closed set of messages the queries monitor
// consumes.
type QueriesMessage interface {
	isQueriesMessage()
}

// QueriesStop is the distinguished terminal message of the queries
// monitor.
type QueriesStop struct{}

func (QueriesStop) isQueriesMessage() {}

const (
	selectQueriesCQL = `SELECT id, table_name, embedding, max_results FROM vector_queries WHERE status = 'pending' ALLOW FILTERING`
	answerQueryCQL   = `UPDATE vector_queries SET status = ?, result = ? WHERE id = ?`

	queryStatusDone   = "done"
	queryStatusFailed = "failed"

	// maxConcurrentQueries bounds the per-poll answer fan-out.
	maxConcurrentQueries = 4
)

// pendingQuery is one unanswered row of the queries table.
type pendingQuery struct {
	id         uuid.UUID
	indexID    vectorstore.IndexId
	embedding  vectorstore.Embedding
	maxResults int
}

// NewQueries starts the monitor that answers pending vector queries:
// each one is resolved to an index handle through the engine, searched,
// and the result written back to its row.
func NewQueries(ctx context.Context, q Querier, exec Execer, eng Engine, optFns ...func(o *Options)) (*actor.Handle[QueriesMessage], *actor.Task, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.setDefaults()
	log := opts.Logger.WithActor("monitor_queries")

	if _, err := scanQueries(ctx, q, log); err != nil {
		return nil, nil, err
	}

	handle, rx := actor.NewMailbox[QueriesMessage](QueriesStop{}, actor.DefaultMailboxSize)
	limiter := opts.limiter()

	task := actor.Go(func() error {
		ticker := time.NewTicker(opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !limiter.Allow() {
					continue
				}
				pending, err := scanQueries(ctx, q, log)
				if err != nil {
					log.Warn("unable to scan queries", "error", err)
					continue
				}
				// Queries target independent index actors, so they are
				// answered concurrently, bounded to keep the fan-out sane.
				g := new(errgroup.Group)
				g.SetLimit(maxConcurrentQueries)
				for _, pq := range pending {
					pq := pq
					g.Go(func() error {
						answer(ctx, exec, eng, pq, log)
						return nil
					})
				}
				_ = g.Wait()
			case msg := <-rx.C():
				if _, ok := msg.(QueriesStop); ok {
					rx.Close()
					log.Debug("queries monitor stopped")
					return nil
				}
			}
		}
	})
	return handle, task, nil
}

func scanQueries(ctx context.Context, q Querier, log *vectorstore.Logger) ([]pendingQuery, error) {
	rows, err := q.Query(ctx, selectQueriesCQL)
	if err != nil {
		return nil, err
	}

	var pending []pendingQuery
	var (
		id         string
		table      string
		emb        []float32
		maxResults int
	)
	for rows.Scan(&id, &table, &emb, &maxResults) {
		parsed, err := uuid.Parse(id)
		if err != nil {
			log.Warn("skipping query with malformed id", "id", id, "error", err)
			continue
		}
		pending = append(pending, pendingQuery{
			id:         parsed,
			indexID:    vectorstore.IndexId(table),
			embedding:  vectorstore.Embedding(emb),
			maxResults: maxResults,
		})
		emb = nil
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return pending, nil
}

func answer(ctx context.Context, exec Execer, eng Engine, pq pendingQuery, log *vectorstore.Logger) {
	idx := eng.GetIndex(ctx, pq.indexID)
	if idx == nil {
		// The index may have been deleted between enqueue and poll; the
		// query is failed rather than retried forever.
		writeAnswer(ctx, exec, pq.id, queryStatusFailed, nil, log)
		return
	}

	result := index.DoAnn(ctx, idx, pq.embedding, pq.maxResults)
	if result.Err != nil {
		log.Warn("query search failed", "id", pq.id.String(), "index", pq.indexID.String(), "error", result.Err)
		writeAnswer(ctx, exec, pq.id, queryStatusFailed, nil, log)
		return
	}

	keys := make([]string, len(result.Keys))
	for i, k := range result.Keys {
		keys[i] = string(k)
	}
	writeAnswer(ctx, exec, pq.id, queryStatusDone, keys, log)
}

func writeAnswer(ctx context.Context, exec Execer, id uuid.UUID, status string, keys []string, log *vectorstore.Logger) {
	if err := exec.Exec(ctx, answerQueryCQL, status, keys, id.String()); err != nil {
		log.Warn("unable to write query answer", "id", id.String(), "error", err)
	}
}
