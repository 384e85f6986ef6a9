package monitor

import (
	"context"
	"time"

	vectorstore "github.com/ewienik/scylla-usearch"
	"github.com/ewienik/scylla-usearch/actor"
)

// IndexesMessage is the closed set of messages the indexes monitor
// consumes.
type IndexesMessage interface {
	isIndexesMessage()
}

// IndexesStop is the distinguished terminal message of the indexes
// monitor.
type IndexesStop struct{}

func (IndexesStop) isIndexesMessage() {}

const selectIndexesCQL = `SELECT table_name, col_id, col_emb, dimensions, connectivity, expansion_add, expansion_search FROM vector_indexes`

// NewIndexes starts the monitor that watches the index-definition
// table and forwards create/delete events to the engine. The table is
// probed once up front so an inaccessible metadata table fails the
// construction instead of looping.
func NewIndexes(ctx context.Context, q Querier, eng Engine, optFns ...func(o *Options)) (*actor.Handle[IndexesMessage], *actor.Task, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.setDefaults()
	log := opts.Logger.WithActor("monitor_indexes")

	if _, err := scanIndexes(ctx, q); err != nil {
		return nil, nil, err
	}

	handle, rx := actor.NewMailbox[IndexesMessage](IndexesStop{}, actor.DefaultMailboxSize)
	limiter := opts.limiter()

	task := actor.Go(func() error {
		ticker := time.NewTicker(opts.PollInterval)
		defer ticker.Stop()

		known := make(map[vectorstore.IndexId]vectorstore.IndexDefinition)
		for {
			select {
			case <-ticker.C:
				if !limiter.Allow() {
					continue
				}
				current, err := scanIndexes(ctx, q)
				if err != nil {
					// Keep the previous view: a failed poll must not
					// cascade into mass deletion.
					log.Warn("unable to scan index definitions", "error", err)
					continue
				}
				for id, def := range current {
					if _, ok := known[id]; !ok {
						log.Info("index definition added", "index", id.String())
						eng.AddIndex(ctx, id, def)
					}
				}
				for id := range known {
					if _, ok := current[id]; !ok {
						log.Info("index definition removed", "index", id.String())
						eng.DelIndex(ctx, id)
					}
				}
				known = current
			case msg := <-rx.C():
				if _, ok := msg.(IndexesStop); ok {
					rx.Close()
					log.Debug("indexes monitor stopped")
					return nil
				}
			}
		}
	})
	return handle, task, nil
}

func scanIndexes(ctx context.Context, q Querier) (map[vectorstore.IndexId]vectorstore.IndexDefinition, error) {
	rows, err := q.Query(ctx, selectIndexesCQL)
	if err != nil {
		return nil, err
	}

	defs := make(map[vectorstore.IndexId]vectorstore.IndexDefinition)
	var (
		table, colID, colEmb                             string
		dims, connectivity, expansionAdd, expansionQuery int
	)
	for rows.Scan(&table, &colID, &colEmb, &dims, &connectivity, &expansionAdd, &expansionQuery) {
		defs[vectorstore.IndexId(table)] = vectorstore.IndexDefinition{
			ColID:           vectorstore.ColumnName(colID),
			ColEmb:          vectorstore.ColumnName(colEmb),
			Dimensions:      vectorstore.Dimensions(dims),
			Connectivity:    vectorstore.Connectivity(connectivity),
			ExpansionAdd:    vectorstore.ExpansionAdd(expansionAdd),
			ExpansionSearch: vectorstore.ExpansionSearch(expansionQuery),
		}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return defs, nil
}
