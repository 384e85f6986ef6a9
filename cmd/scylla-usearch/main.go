// Command scylla-usearch runs the vector-index control plane against a
// ScyllaDB cluster.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	vectorstore "github.com/ewienik/scylla-usearch"
	"github.com/ewienik/scylla-usearch/actor"
	"github.com/ewienik/scylla-usearch/config"
	"github.com/ewienik/scylla-usearch/db"
	"github.com/ewienik/scylla-usearch/engine"
	"github.com/ewienik/scylla-usearch/index"
	"github.com/ewienik/scylla-usearch/modify"
	"github.com/ewienik/scylla-usearch/monitor"
	"github.com/ewienik/scylla-usearch/supervisor"
)

const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "scylla-usearch",
	Short: "Vector-index control plane for ScyllaDB",
	Long: `scylla-usearch maintains in-memory vector indexes over ScyllaDB
tables, keeps them in sync through change-feed monitors, and answers
vector queries against them.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control plane",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var logger *vectorstore.Logger
	if cfg.LogJSON {
		logger = vectorstore.NewJSONLogger(cfg.LogLevel)
	} else {
		logger = vectorstore.NewTextLogger(cfg.LogLevel)
	}

	session, err := db.Connect(db.Config{
		Hosts:    cfg.ScyllaHosts,
		Keyspace: cfg.Keyspace,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	sup := supervisor.New(func(o *supervisor.Options) {
		o.Logger = logger
	})

	pollOpts := func(o *monitor.Options) {
		o.Logger = logger
		o.PollInterval = cfg.PollInterval
	}

	eng, err := engine.New(ctx, sup, func(o *engine.Options) {
		o.Logger = logger
		o.IndexFactory = func(id vectorstore.IndexId, def vectorstore.IndexDefinition) (*actor.Handle[index.Message], *actor.Task, error) {
			return index.New(id, def, logger)
		}
		o.ItemsMonitorFactory = func(ctx context.Context, id vectorstore.IndexId, colID, colEmb vectorstore.ColumnName, idx *actor.Handle[index.Message]) (*actor.Handle[monitor.ItemsMessage], *actor.Task, error) {
			return monitor.NewItems(ctx, session, id, colID, colEmb, idx, pollOpts)
		}
		o.IndexesMonitorFactory = func(ctx context.Context, eng *engine.Engine) (actor.Stopper, *actor.Task, error) {
			h, task, err := monitor.NewIndexes(ctx, session, eng, pollOpts)
			if err != nil {
				return nil, nil, err
			}
			return h, task, nil
		}
		o.QueriesMonitorFactory = func(ctx context.Context, eng *engine.Engine) (actor.Stopper, *actor.Task, error) {
			h, task, err := monitor.NewQueries(ctx, session, session, eng, pollOpts)
			if err != nil {
				return nil, nil, err
			}
			return h, task, nil
		}
		o.ModifyFactory = func() (*actor.Handle[modify.Message], *actor.Task, error) {
			return modify.New(session, logger)
		}
	})
	if err != nil {
		return err
	}

	logger.Info("control plane started", "hosts", cfg.ScyllaHosts, "keyspace", cfg.Keyspace)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	eng.Stop(shutdownCtx)
	if err := eng.Join(shutdownCtx); err != nil {
		logger.Warn("issue while stopping engine", "error", err)
	}
	sup.Stop(shutdownCtx)
	if err := sup.Join(shutdownCtx); err != nil {
		logger.Warn("issue while stopping supervisor", "error", err)
	}
	return nil
}
