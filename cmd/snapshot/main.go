package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chronik/backend/internal/application/orders"
	"github.com/chronik/backend/internal/application/sourcing"
	"github.com/chronik/backend/internal/domain/shared"
	"github.com/chronik/backend/internal/infrastructure/cache"
	"github.com/chronik/backend/internal/infrastructure/config"
	"github.com/chronik/backend/internal/infrastructure/event"
	"github.com/chronik/backend/internal/infrastructure/eventstore"
	"github.com/chronik/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// snapshot is the operational CLI for the reconstruction engine: it writes
// snapshots on demand and replays streams for diagnostics, against the same
// event log the services use.
func main() {
	var (
		logLevel string
		timeout  time.Duration
	)

	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.DurationVar(&timeout, "timeout", 10*time.Minute, "Overall command timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log, err := logger.New(logger.Config{
		Level:  logLevel,
		Format: "console",
		Output: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level)),
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	store := eventstore.NewGormStore(db)
	if err := store.Migrate(); err != nil {
		log.Fatal("Failed to migrate event log schema", zap.Error(err))
	}

	var identityCache sourcing.IdentityCache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisIdentityCache(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisCache.Close()
		identityCache = redisCache
	}

	engine := sourcing.NewEngine(log)
	builder := event.NewRegistryBuilder()
	if err := orders.Register(engine, builder); err != nil {
		log.Fatal("Failed to register aggregates", zap.Error(err))
	}
	registry, err := builder.Build(log)
	if err != nil {
		log.Fatal("Failed to build event schema registry", zap.Error(err))
	}
	codec := event.NewCodec(registry, log)

	reconstructor := sourcing.NewReconstructor(engine, store, codec, identityCache, sourcing.Config{
		SnapshotThreshold: cfg.Sourcing.SnapshotThreshold,
		ReadBatchSize:     cfg.Sourcing.ReadBatchSize,
		CacheTTL:          cfg.Sourcing.CacheTTL,
	}, log)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch command {
	case "instance":
		if len(args) < 3 {
			log.Fatal("Usage: snapshot instance <category> <aggregate-id>")
		}
		category := args[1]
		id, err := uuid.Parse(args[2])
		if err != nil {
			log.Fatal("Invalid aggregate ID", zap.String("value", args[2]), zap.Error(err))
		}
		if err := reconstructor.CreateSnapshot(ctx, category, id); err != nil {
			log.Fatal("Snapshot failed", zap.Error(err))
		}
		log.Info("Snapshot written",
			zap.String("category", category),
			zap.String("aggregate_id", id.String()),
		)

	case "category":
		if len(args) < 2 {
			log.Fatal("Usage: snapshot category <category>")
		}
		category := args[1]
		if err := reconstructor.CreateSnapshots(ctx, category); err != nil {
			log.Fatal("Category snapshot failed", zap.Error(err))
		}
		log.Info("Snapshots written", zap.String("category", category))

	case "all":
		if err := reconstructor.CreateAllSnapshots(ctx); err != nil {
			log.Fatal("Snapshot sweep failed", zap.Error(err))
		}
		log.Info("Snapshots written for all registered categories")

	case "replay":
		if len(args) < 2 {
			log.Fatal("Usage: snapshot replay <stream-id>")
		}
		streamID := args[1]
		result, err := reconstructor.RebuildReplay(ctx, streamID, func(shared.EventInstance) error {
			return nil
		})
		if err != nil {
			log.Fatal("Replay failed", zap.Error(err))
		}
		log.Info("Replay finished",
			zap.String("stream", result.StreamID),
			zap.Int("processed", result.Processed),
			zap.Int("applied", result.Applied),
			zap.Int("skipped", result.Skipped),
			zap.Duration("took", result.Duration()),
		)

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: snapshot [flags] <command>

Commands:
  instance <category> <aggregate-id>  Write a snapshot for one aggregate
  category <category>                 Write snapshots for every instance of a category
  all                                 Write snapshots for every registered category
  replay <stream-id>                  Walk a stream end to end and report decode health

Flags:
  -log-level string   Log level (debug, info, warn, error) (default "info")
  -timeout duration   Overall command timeout (default 10m)`)
}
