package monitor

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	vectorstore "github.com/ewienik/scylla-usearch"
	"github.com/ewienik/scylla-usearch/actor"
	"github.com/ewienik/scylla-usearch/index"
)

// ItemsMessage is the closed set of messages an items monitor consumes.
type ItemsMessage interface {
	isItemsMessage()
}

// ItemsStop is the distinguished terminal message of an items monitor.
type ItemsStop struct{}

func (ItemsStop) isItemsMessage() {}

// NewItems starts the monitor that feeds one index actor with the
// items of its table. The table is probed once up front, so an
// inaccessible table or column pair fails the construction; the engine
// uses that to roll back a half-created index.
func NewItems(ctx context.Context, q Querier, id vectorstore.IndexId, colID, colEmb vectorstore.ColumnName, idx *actor.Handle[index.Message], optFns ...func(o *Options)) (*actor.Handle[ItemsMessage], *actor.Task, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.setDefaults()
	log := opts.Logger.WithActor("monitor_items").WithIndex(id)

	stmt := fmt.Sprintf(`SELECT %s, %s FROM %s`, colID, colEmb, id.Table())
	if _, err := scanItems(ctx, q, stmt); err != nil {
		return nil, nil, fmt.Errorf("monitor items for table %s, col_id %s, col_emb %s: %w", id.Table(), colID, colEmb, err)
	}

	handle, rx := actor.NewMailbox[ItemsMessage](ItemsStop{}, actor.DefaultMailboxSize)
	limiter := opts.limiter()

	task := actor.Go(func() error {
		ticker := time.NewTicker(opts.PollInterval)
		defer ticker.Stop()

		// Embedding fingerprints by primary key; detects upserts and
		// removals between scans.
		known := make(map[vectorstore.PrimaryKey]uint64)
		for {
			select {
			case <-ticker.C:
				if !limiter.Allow() {
					continue
				}
				items, err := scanItems(ctx, q, stmt)
				if err != nil {
					log.Warn("unable to scan items", "error", err)
					continue
				}
				current := make(map[vectorstore.PrimaryKey]uint64, len(items))
				for pk, emb := range items {
					fp := fingerprint(emb)
					current[pk] = fp
					if prev, ok := known[pk]; !ok || prev != fp {
						index.DoUpsert(ctx, idx, pk, emb)
					}
				}
				for pk := range known {
					if _, ok := current[pk]; !ok {
						index.DoRemove(ctx, idx, pk)
					}
				}
				known = current
			case msg := <-rx.C():
				if _, ok := msg.(ItemsStop); ok {
					rx.Close()
					log.Debug("items monitor stopped")
					return nil
				}
			}
		}
	})
	return handle, task, nil
}

func scanItems(ctx context.Context, q Querier, stmt string) (map[vectorstore.PrimaryKey]vectorstore.Embedding, error) {
	rows, err := q.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}

	items := make(map[vectorstore.PrimaryKey]vectorstore.Embedding)
	var (
		pk  string
		emb []float32
	)
	for rows.Scan(&pk, &emb) {
		items[vectorstore.PrimaryKey(pk)] = vectorstore.Embedding(emb)
		emb = nil
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return items, nil
}

// fingerprint hashes an embedding so scans can cheaply detect changed
// rows without retaining the vectors.
func fingerprint(emb vectorstore.Embedding) uint64 {
	h := fnv.New64a()
	var buf [4]byte
	for _, v := range emb {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
