package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"docqueue/internal/config"
	"docqueue/internal/queue"
	"docqueue/internal/store"
	"docqueue/internal/store/memory"
	"docqueue/internal/store/mongo"
	"docqueue/internal/store/sqlite"
)

type app struct {
	cfg *config.Config
}

func main() {
	if err := newRootCmd(&app{}).ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("docqueue failed")
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "docqueue",
		Short:         "Message queue on top of an atomic document store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.String("store", "", "store backend: mongo, sqlite or memory")
	flags.String("db", "", "SQLite DB path")
	flags.String("mongo-uri", "", "MongoDB connection string")
	flags.String("mongo-db", "", "MongoDB database name")
	flags.String("log-level", "", "log level")
	root.PersistentPreRunE = a.preRun

	root.AddCommand(a.serveCmd(), a.enqueueCmd(), a.statsCmd(), a.purgeCmd())
	return root
}

// preRun loads the environment config and lets explicitly set flags override it.
func (a *app) preRun(cmd *cobra.Command, args []string) error {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	overrides := map[string]*string{
		"store":     &cfg.Store,
		"db":        &cfg.SQLitePath,
		"mongo-uri": &cfg.MongoURI,
		"mongo-db":  &cfg.MongoDatabase,
		"log-level": &cfg.LogLevel,
		"addr":      &cfg.Addr,
	}
	for name, dst := range overrides {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}
	if f := cmd.Flags().Lookup("workers"); f != nil && f.Changed {
		if cfg.Workers, err = cmd.Flags().GetInt("workers"); err != nil {
			return err
		}
	}
	if f := cmd.Flags().Lookup("poll"); f != nil && f.Changed {
		if cfg.Poll, err = cmd.Flags().GetDuration("poll"); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	zerolog.SetGlobalLevel(cfg.Level())
	a.cfg = cfg
	return nil
}

func (a *app) openStore(ctx context.Context) (store.Store, error) {
	switch a.cfg.Store {
	case config.StoreMongo:
		return mongo.Connect(ctx, a.cfg.MongoURI, a.cfg.MongoDatabase, a.cfg.MongoConnectTimeout)
	case config.StoreMemory:
		return memory.New(), nil
	default:
		return sqlite.Open(sqlite.FileDSN(a.cfg.SQLitePath))
	}
}

// withQueue opens the store, resolves the named queue and runs fn.
func (a *app) withQueue(ctx context.Context, name string, fn func(*queue.Queue) error) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	q, err := queue.NewManager(st, a.cfg.Queues()).Get(ctx, name)
	if err != nil {
		return err
	}
	return fn(q)
}
