// Package db wires the control plane to ScyllaDB through gocql and
// owns the schema of the control-plane tables.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/ewienik/scylla-usearch/monitor"
)

// DefaultKeyspace is used when the configuration names none.
const DefaultKeyspace = "vector_store"

// Config describes how to reach the cluster.
type Config struct {
	// Hosts are the contact points of the cluster.
	Hosts []string
	// Keyspace to be used when doing I/O. Defaults to DefaultKeyspace.
	Keyspace string
	// Consistency for all statements.
	Consistency gocql.Consistency
	// ConnectionTimeout, when positive, bounds session establishment.
	ConnectionTimeout time.Duration
	// ReplicationClause defaults to simple strategy, replication factor 1.
	ReplicationClause string
}

// Session wraps one gocql session. It satisfies monitor.Querier,
// monitor.Execer and modify.Execer.
type Session struct {
	session *gocql.Session
}

// schemaCQL is the control-plane schema, applied idempotently on
// connect. Indexed tables themselves belong to the applications.
var schemaCQL = []string{
	`CREATE TABLE IF NOT EXISTS vector_indexes (
		table_name text PRIMARY KEY,
		col_id text,
		col_emb text,
		dimensions int,
		connectivity int,
		expansion_add int,
		expansion_search int
	)`,
	`CREATE TABLE IF NOT EXISTS vector_queries (
		id uuid PRIMARY KEY,
		table_name text,
		embedding list<float>,
		max_results int,
		status text,
		result list<text>
	)`,
}

// Connect creates a session and bootstraps the keyspace and the
// control-plane tables.
func Connect(config Config) (*Session, error) {
	if config.Keyspace == "" {
		config.Keyspace = DefaultKeyspace
	}
	if config.ReplicationClause == "" {
		config.ReplicationClause = "{'class':'SimpleStrategy', 'replication_factor':1}"
	}

	cluster := gocql.NewCluster(config.Hosts...)
	cluster.Consistency = config.Consistency
	if config.ConnectionTimeout > 0 {
		cluster.ConnectTimeout = config.ConnectionTimeout
	}

	s, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("db: unable to create session: %w", err)
	}

	if err := s.Query(fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s",
		config.Keyspace, config.ReplicationClause)).Exec(); err != nil {
		s.Close()
		return nil, fmt.Errorf("db: unable to create keyspace: %w", err)
	}

	cluster.Keyspace = config.Keyspace
	keyspaced, err := cluster.CreateSession()
	s.Close()
	if err != nil {
		return nil, fmt.Errorf("db: unable to create keyspace session: %w", err)
	}
	for _, stmt := range schemaCQL {
		if err := keyspaced.Query(stmt).Exec(); err != nil {
			keyspaced.Close()
			return nil, fmt.Errorf("db: unable to apply schema: %w", err)
		}
	}

	return &Session{session: keyspaced}, nil
}

// Close releases the underlying session.
func (s *Session) Close() {
	s.session.Close()
}

// Exec runs one statement without results.
func (s *Session) Exec(ctx context.Context, stmt string, values ...any) error {
	return s.session.Query(stmt, values...).WithContext(ctx).Exec()
}

// Query runs one statement and returns its row iterator.
func (s *Session) Query(ctx context.Context, stmt string, values ...any) (monitor.Rows, error) {
	return &rows{iter: s.session.Query(stmt, values...).WithContext(ctx).Iter()}, nil
}

// rows adapts a gocql iterator to monitor.Rows.
type rows struct {
	iter *gocql.Iter
}

func (r *rows) Scan(dest ...any) bool { return r.iter.Scan(dest...) }

func (r *rows) Close() error { return r.iter.Close() }

// Compile time checks for the interfaces the session feeds.
var (
	_ monitor.Querier = (*Session)(nil)
	_ monitor.Execer  = (*Session)(nil)
)
