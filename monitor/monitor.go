// Package monitor implements the change-feed monitors that keep the
// control plane in sync with the database: index definitions feed the
// engine, item changes feed individual index actors, and pending
// queries are answered against them.
//
// The monitors poll; polling is paced by a rate limiter so restarts or
// piled-up ticks cannot hammer the database. Delivery is at-least-once
// by design: the engine and the index actors are idempotent receivers.
package monitor

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	vectorstore "github.com/ewienik/scylla-usearch"
	"github.com/ewienik/scylla-usearch/actor"
	"github.com/ewienik/scylla-usearch/index"
)

// DefaultPollInterval is the change-feed poll interval used when no
// explicit interval is given.
const DefaultPollInterval = time.Second

// Engine is the slice of the orchestration actor the monitors feed.
type Engine interface {
	AddIndex(ctx context.Context, id vectorstore.IndexId, def vectorstore.IndexDefinition)
	DelIndex(ctx context.Context, id vectorstore.IndexId)
	GetIndex(ctx context.Context, id vectorstore.IndexId) *actor.Handle[index.Message]
}

// Querier runs one CQL statement and iterates its rows. *db.Session
// satisfies it; tests use fakes.
type Querier interface {
	Query(ctx context.Context, stmt string, values ...any) (Rows, error)
}

// Rows iterates a query result. Scan advances to the next row,
// reporting false when exhausted; Close releases the iterator and
// returns any iteration error.
type Rows interface {
	Scan(dest ...any) bool
	Close() error
}

// Execer runs one CQL statement without results. Used by the queries
// monitor to write answers back.
type Execer interface {
	Exec(ctx context.Context, stmt string, values ...any) error
}

// Options configures a monitor actor.
type Options struct {
	Logger       *vectorstore.Logger
	PollInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = vectorstore.NewLogger(nil)
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
}

// limiter returns the poll pacer for the configured interval: one poll
// per interval, no burst catch-up after a stall.
func (o *Options) limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(o.PollInterval), 1)
}
