// Command server runs the import orchestrator's HTTP-facing process: it
// owns the inbox watcher and exposes the dispatcher's enqueue endpoints
// and the folder-status WebSocket (§4.F/§4.H/§4.I, SPEC_FULL §1 "Process
// topology").
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/orbimport/importsvc/internal/discovery"
	"github.com/orbimport/importsvc/internal/fingerprint"
	"github.com/orbimport/importsvc/internal/folderstatus"
	"github.com/orbimport/importsvc/internal/httpapi"
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

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	redisAddr := config.Env("REDIS_ADDR", "localhost:6379")
	jwtSecret := config.Env("JWT_SECRET", "dev-secret-change-in-prod")
	libraryRoot := config.Env("LIBRARY_ROOT", "./data/library")
	port := config.Env("HTTP_PORT", "8080")

	db, err := store.Connect(ctx, config.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	slog.Info("postgres connected and migrated")

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable at startup", "err", err)
	}

	obj, err := openObjectStore(ctx)
	if err != nil {
		return err
	}
	lib := library.Lib(libraryRoot, db, obj)

	publisher := pubsub.NewPublisher(rdb)
	status := folderstatus.New(publisher)
	subscriber := pubsub.NewSubscriber(rdb)
	defer subscriber.Shutdown()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer asynqClient.Close()

	searcher := mbcandidates.New(musicbrainz.New())
	fp := fingerprint.New(cfg.AudioExtensions, 4096)
	reader := tagreader.New(fp)
	mover := tagreader.Mover{}

	dispatcher := jobs.New(asynqClient, db, rdb, lib, status, searcher, reader, mover, libraryRoot)

	watcher, err := inbox.New(cfg, fp, db, rdb, dispatcher)
	if err != nil {
		return fmt.Errorf("build inbox watcher: %w", err)
	}
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("inbox watcher stopped", "err", err)
		}
	}()

	httpPort, err := strconv.Atoi(port)
	if err != nil {
		httpPort = 8080
	}

	var disc *discovery.Server
	if d, err := discovery.Start(httpPort, config.Env("SERVER_NAME", "orbimport-server")); err != nil {
		slog.Warn("mdns discovery unavailable", "err", err)
	} else {
		disc = d
		defer disc.Shutdown()
	}

	svc := httpapi.New(dispatcher, db, subscriber)
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      svc.Router(jwtSecret),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the folder-status WS has no write deadline
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	slog.Info("listening", "port", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// openObjectStore opens the object store removed audio is archived to
// before deletion (internal/library's IntegrityException mitigation) —
// local filesystem by default, S3-compatible (minio client) when
// STORE_BACKEND=s3.
func openObjectStore(ctx context.Context) (objstore.ObjectStore, error) {
	switch config.Env("STORE_BACKEND", "local") {
	case "s3":
		obj, err := objstore.NewS3(ctx, objstore.S3Config{
			Endpoint:  config.Env("S3_ENDPOINT", "http://localhost:9000"),
			AccessKey: config.Env("S3_ACCESS_KEY", "orbimport"),
			SecretKey: config.Env("S3_SECRET_KEY", "orbimportsecret"),
			Bucket:    config.Env("STORE_BUCKET", "orbimport-archive"),
		})
		if err != nil {
			return nil, fmt.Errorf("s3 object store: %w", err)
		}
		return obj, nil
	default:
		obj, err := objstore.NewLocalFS(config.Env("STORE_ROOT", "./data/objects"))
		if err != nil {
			return nil, fmt.Errorf("local object store: %w", err)
		}
		return obj, nil
	}
}

