package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LexiconIndonesia/ocr-worker-service/common/config"
	"github.com/LexiconIndonesia/ocr-worker-service/common/db"
	"github.com/LexiconIndonesia/ocr-worker-service/common/imageloader"
	"github.com/LexiconIndonesia/ocr-worker-service/common/logger"
	"github.com/LexiconIndonesia/ocr-worker-service/common/messaging"
	"github.com/LexiconIndonesia/ocr-worker-service/common/redis"
	"github.com/LexiconIndonesia/ocr-worker-service/common/storage"
	"github.com/LexiconIndonesia/ocr-worker-service/common/transport/natsbus"
	"github.com/LexiconIndonesia/ocr-worker-service/common/transport/process"
	"github.com/LexiconIndonesia/ocr-worker-service/common/work"
	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"

	"github.com/rs/zerolog/log"

	"github.com/joho/godotenv"
)

const modeServeHost = "serve-host"

func main() {
	// INITIATE CONFIGURATION
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("Error loading .env file, using environment variables")
	}

	cfg := config.DefaultConfig()
	cfg.LoadFromEnv()

	if err := logger.Setup(cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup logger")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	if len(os.Args) > 1 && os.Args[1] == modeServeHost {
		if err := serveHost(cfg, shutdown); err != nil {
			log.Fatal().Err(err).Msg("Worker host failed")
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// handles always log through the default worker.LogObserver
	var observers worker.Observers

	// INITIATE DATABASES
	var jobStore *db.JobStore
	var ledger *db.JobLedger
	var dbConn *db.DB
	if cfg.PgSql.Enabled {
		var err error
		dbConn, err = db.SetupDatabase(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to setup database")
		}
		defer dbConn.Close()

		logger.InitializeLogging(dbConn.Pool)
		log.Info().Msg("Zerolog database hooks initialized")

		ledger = db.NewJobLedger(dbConn.Pool, 0)
		defer ledger.Close()
		observers = append(observers, ledger)
		jobStore = db.NewJobStore(dbConn.Pool)
	}

	var redisClient *redis.RedisClient
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = redis.NewClient(ctx, cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to setup Redis client")
		}
		defer redisClient.Close()
	}

	// INITIATE NATS CLIENT
	var natsClient *messaging.NatsClient
	if cfg.Nats.Enabled {
		var err error
		natsClient, err = messaging.SetupNatsClient(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to setup NATS client")
		}
		defer natsClient.Close()

		if natsClient.JetStreamEnabled() {
			if err := messaging.EnsureJobEventStream(natsClient); err != nil {
				log.Fatal().Err(err).Msg("Failed to create job event stream")
			}
		}
		observers = append(observers, messaging.NewEventObserver(messaging.JetStreamPublisher(natsClient)))
	}

	// gcs
	loaderOpts := []imageloader.Option{imageloader.WithAllowedHosts(cfg.Security.ImageHosts...)}
	var archive *storage.PDFArchive
	if cfg.GCS.Enabled {
		gcsStorage, err := storage.NewGCSStorage(ctx, storage.GCSConfig{
			ProjectID:       cfg.GCS.ProjectID,
			CredentialsFile: cfg.GCS.CredentialsFile,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to setup GCS storage")
		}
		defer gcsStorage.Close()

		loaderOpts = append(loaderOpts, imageloader.WithObjectStore(gcsStorage))
		archive = storage.NewPDFArchive(gcsStorage, cfg.GCS.Bucket, cfg.GCS.PDFPrefix)
	}

	// INITIATE WORKER POOL
	pool, err := newPool(cfg, natsClient, observers, imageloader.New(loaderOpts...), redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create worker pool")
	}
	if err := pool.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker pool")
	}
	defer pool.Stop()

	// INITIATE SERVER
	server, err := NewAppHttpServer(cfg, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create the server")
	}

	if archive != nil {
		server.SetPDFArchive(archive)
	}
	if dbConn != nil {
		server.SetJobStore(jobStore)
		server.AddHealthCheck("database", dbConn)
	}
	if redisClient != nil {
		server.SetWorkManager(work.NewWorkManager(redisClient, hostname(cfg)))
		server.AddHealthCheck("redis", redisClient)
	}

	server.setupRoute()

	go func() {
		if err := server.start(); err != nil {
			log.Error().Err(err).Msg("Server error")
			shutdown <- syscall.SIGTERM
		}
	}()

	log.Info().Str("address", cfg.Listen.Addr()).Msg("Server started successfully")

	<-shutdown
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Server gracefully stopped")
}

func newPool(cfg config.Config, natsClient *messaging.NatsClient, observers worker.Observers, loader worker.ImageLoader, redisClient *redis.RedisClient) (*work.Pool, error) {
	var transport worker.Transport
	switch cfg.Worker.Transport {
	case config.TransportNats:
		transport = natsbus.New(natsClient, cfg.Nats.SpawnTimeout)
	default:
		transport = process.New(cfg.Worker.Command, cfg.Worker.Args...)
	}

	factory := work.NewHandleFactory(transport,
		work.Setup{
			Languages:  cfg.Worker.Languages,
			OEM:        cfg.Worker.OEM,
			Parameters: cfg.Worker.Params(),
		},
		worker.WithSpawnOptions(spawnOptions(cfg)),
		worker.WithObserver(observers),
		worker.WithImageLoader(loader),
		worker.WithLogger(logger.ProgressLogger()),
		worker.WithErrorHandler(func(err error) {
			log.Warn().Err(err).Msg("Worker job rejected")
		}),
	)

	poolCfg := work.DefaultPoolConfig()
	poolCfg.NumWorkers = cfg.Pool.Size
	poolCfg.TaskChannelSize = cfg.Pool.QueueSize
	poolCfg.TaskTimeout = cfg.Pool.Timeout

	var opts []work.PoolOption
	if redisClient != nil {
		opts = append(opts, work.WithRegistry(work.NewWorkManager(redisClient, hostname(cfg))))
	}
	return work.NewPool(poolCfg, withDeadline(factory, cfg.Worker.Timeout), opts...)
}

// withDeadline bounds spawning and preparing one handle
func withDeadline(factory work.Factory, timeout time.Duration) work.Factory {
	if timeout <= 0 {
		return factory
	}
	return func(ctx context.Context, opts ...worker.Option) (*worker.Handle, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return factory(ctx, opts...)
	}
}

func spawnOptions(cfg config.Config) worker.SpawnOptions {
	opts := worker.DefaultSpawnOptions()
	opts.LangPath = cfg.Worker.LangPath
	opts.CachePath = cfg.Worker.CachePath
	opts.CacheMethod = cfg.Worker.CacheMethod
	opts.Gzip = cfg.Worker.Gzip
	opts.Logging = cfg.Worker.Logging
	return opts
}

func hostname(cfg config.Config) string {
	if name, err := os.Hostname(); err == nil {
		return fmt.Sprintf("%s:%d", name, cfg.Listen.Port)
	}
	return cfg.Host.Host
}

// serveHost runs workers for remote pools: spawn requests arriving over NATS
// start a local worker process
func serveHost(cfg config.Config, shutdown <-chan os.Signal) error {
	if !cfg.Nats.Enabled {
		return fmt.Errorf("%s requires NATS_ENABLED", modeServeHost)
	}
	if cfg.Worker.Command == "" {
		return fmt.Errorf("%s requires WORKER_COMMAND", modeServeHost)
	}

	natsClient, err := messaging.SetupNatsClient(cfg)
	if err != nil {
		return err
	}
	defer natsClient.Close()

	host := natsbus.NewHost(natsClient, process.New(cfg.Worker.Command, cfg.Worker.Args...), hostname(cfg))
	if err := host.Start(); err != nil {
		return fmt.Errorf("starting worker host: %w", err)
	}
	log.Info().Str("command", cfg.Worker.Command).Msg("Worker host started")

	<-shutdown
	log.Info().Msg("Shutdown signal received")
	host.Stop()
	return nil
}
