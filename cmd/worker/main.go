// Command worker runs the import orchestrator's job-processing process: it
// starts an asynq.Server over the preview/import queues and registers the
// dispatcher's handlers (§4.F, SPEC_FULL §1 "Process topology"). It never
// runs the inbox watcher — internal/inbox.Watcher.Run refuses to start
// under this process's role.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/orbimport/importsvc/internal/fingerprint"
	"github.com/orbimport/importsvc/internal/folderstatus"
	"github.com/orbimport/importsvc/internal/inbox"
	"github.com/orbimport/importsvc/internal/jobs"
	"github.com/orbimport/importsvc/internal/library"
	"github.com/orbimport/importsvc/internal/mbcandidates"
	"github.com/orbimport/importsvc/internal/pubsub"
	"github.com/orbimport/importsvc/internal/tagreader"
	"github.com/orbimport/importsvc/pkg/config"
	"github.com/orbimport/importsvc/pkg/musicbrainz"
	"github.com/orbimport/importsvc/pkg/objstore"
	"github.com/orbimport/importsvc/pkg/store"
)

var (
	flagRedisAddr   string
	flagLibraryRoot string
	flagStoreRoot   string
)

var rootCmd = &cobra.Command{
	Use:   "importsvc-worker",
	Short: "Run the import orchestrator's asynq job handlers",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&flagRedisAddr, "redis-addr", config.Env("REDIS_ADDR", "localhost:6379"), "Redis address")
	rootCmd.Flags().StringVar(&flagLibraryRoot, "library-root", config.Env("LIBRARY_ROOT", "./data/library"), "Library root directory")
	rootCmd.Flags().StringVar(&flagStoreRoot, "store-root", config.Env("STORE_ROOT", "./data/objects"), "Object store root directory")
}

func main() {
	// Set before anything else so internal/inbox.Watcher.Run's guard sees
	// it even if this binary is ever linked into a shared entry point.
	os.Setenv(inbox.RoleEnv, inbox.RoleWorker)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Connect(ctx, config.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: flagRedisAddr})
	defer rdb.Close()

	obj, err := objstore.NewLocalFS(flagStoreRoot)
	if err != nil {
		return fmt.Errorf("local object store: %w", err)
	}
	lib := library.Lib(flagLibraryRoot, db, obj)

	status := folderstatus.New(pubsub.NewPublisher(rdb))
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: flagRedisAddr})
	defer asynqClient.Close()

	searcher := mbcandidates.New(musicbrainz.New())
	fp := fingerprint.New(cfg.AudioExtensions, 4096)
	dispatcher := jobs.New(asynqClient, db, rdb, lib, status, searcher, tagreader.New(fp), tagreader.Mover{}, flagLibraryRoot)

	mux := asynq.NewServeMux()
	dispatcher.RegisterHandlers(mux)

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: flagRedisAddr}, jobs.Config())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(mux) }()

	slog.Info("worker started", "redis", flagRedisAddr)
	select {
	case <-ctx.Done():
		srv.Shutdown()
		return nil
	case err := <-errCh:
		return fmt.Errorf("asynq server: %w", err)
	}
}
