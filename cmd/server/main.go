package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andresuchdata/demandcast/db/migrations"
	"github.com/andresuchdata/demandcast/internal/api"
	"github.com/andresuchdata/demandcast/internal/batch"
	"github.com/andresuchdata/demandcast/internal/cache"
	"github.com/andresuchdata/demandcast/internal/config"
	"github.com/andresuchdata/demandcast/internal/drive"
	"github.com/andresuchdata/demandcast/internal/forecast"
	"github.com/andresuchdata/demandcast/internal/ingest"
	"github.com/andresuchdata/demandcast/internal/jobstore"
	"github.com/andresuchdata/demandcast/internal/optimizer"
	"github.com/andresuchdata/demandcast/internal/repository"
	"github.com/andresuchdata/demandcast/internal/repository/postgres"
	"github.com/andresuchdata/demandcast/internal/scheduler"
	"github.com/andresuchdata/demandcast/internal/service"
	"github.com/andresuchdata/demandcast/internal/storage"
	"github.com/andresuchdata/demandcast/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	logger.Configure(cfg.Log.Pretty, os.Stdout)
	logger.SetLevel(cfg.Log.Level)
	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := cfg.Validate(); err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// 1. Model artifact
	var objects storage.ObjectStorage
	if cfg.Storage.Enabled {
		client, err := storage.NewMinioClient(storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to initialize object storage")
		}
		objects = client
	}

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), cfg.Forecast.ModelLoadTimeout)
	artifact, err := forecast.LoadArtifact(loadCtx, cfg.Forecast.ModelPath, objects)
	cancelLoad()
	if err != nil {
		logger.Log.Fatal().Err(err).Str("path", cfg.Forecast.ModelPath).Msg("Failed to load model artifact")
	}

	adapter, err := forecast.FromArtifact(artifact, forecast.Config{
		Horizon: cfg.Forecast.Horizon,
		Z:       cfg.Forecast.ConfidenceZ,
	})
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to build forecast adapter")
	}

	forecaster := service.NewForecastService(adapter, optimizer.NewCalculator(cfg.Forecast.TargetDaysCover), service.Defaults{
		LeadTimeDays:  cfg.Forecast.LeadTimeDays,
		ServiceLevelZ: cfg.Forecast.ServiceLevelZ,
	})

	// 2. Database (optional)
	forecastRepo := service.NewNoopForecastRepository()
	var (
		db          *postgres.DB
		historyRepo repository.HistoryRepository
	)
	if cfg.Database.Enabled {
		db, err = postgres.NewDB(&cfg.Database)
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := migrations.Up(db.DB.DB); err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		forecastRepo = postgres.NewForecastRepository(db)
		historyRepo = postgres.NewHistoryRepository(db)
	}

	// 3. Job status store
	var kv jobstore.KV
	if cfg.Cache.Enabled {
		redisKV, err := jobstore.NewRedisKV(cfg.Cache)
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer redisKV.Close()
		kv = redisKV
	} else {
		logger.Log.Warn().Msg("CACHE_ENABLED=false, job status is kept in process memory")
		kv = jobstore.NewMemoryKV()
	}
	store := jobstore.NewStore(kv, cfg.Batch.JobTTL, jobstore.RetryConfig{
		MaxAttempts:     cfg.Batch.RetryAttempts,
		InitialInterval: cfg.Batch.RetryBackoff,
		MaxInterval:     cfg.Batch.RetryMaxInterval,
	})

	if cfg.Database.Enabled {
		forecastRepo = cache.NewCachedForecastRepository(forecastRepo, cache.NewRiskSummaryCache(kv, cfg.Cache.RiskSummaryTTL))
	}
	sink := service.NewResultSink(forecastRepo, forecaster.ModelVersion())

	// 4. Batch orchestrator
	recorder := batch.NewPrometheusRecorder()
	orchestrator := batch.NewOrchestrator(batch.Config{
		Workers:     cfg.Batch.Workers,
		ItemTimeout: cfg.Batch.ItemTimeout,
		MaxItems:    cfg.Batch.MaxItems,
	}, store, forecaster, batch.WithSink(sink), batch.WithRecorder(recorder))

	// 5. Public API
	services := &api.Services{
		Forecaster: forecaster,
		Sink:       sink,
		Batch:      orchestrator,
		Ready:      forecaster.Ready,
	}
	if cfg.Database.Enabled {
		services.Risk = forecastRepo
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(services, cfg.Server.AllowedOrigins),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Log.Info().Str("port", cfg.Server.Port).Str("model_version", forecaster.ModelVersion()).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// 6. Admin listener
	var admin *http.Server
	if cfg.Admin.Enabled {
		admin = &http.Server{
			Addr:    ":" + cfg.Admin.Port,
			Handler: adminRouter(cfg, recorder, store, db),
		}
		go func() {
			logger.Log.Info().Str("port", cfg.Admin.Port).Msg("Starting admin listener")
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.Fatal().Err(err).Msg("Failed to start admin listener")
			}
		}()
	}

	// 7. Scheduler
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.Scheduler.Enabled {
		source := scheduler.NewRepositorySource(historyRepo, cfg.Scheduler.HistoryDays, cfg.Database.MaxConns/2)
		go scheduler.New(orchestrator, source, cfg.Scheduler.Interval).Run(ctx)
	}

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info().Msg("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error().Err(err).Msg("Admin listener forced to shutdown")
		}
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("Batch jobs did not drain")
	}

	logger.Log.Info().Msg("Server exiting")
}

// adminRouter serves metrics and dependency health, plus Drive ingestion when
// both credentials and a database are configured.
func adminRouter(cfg *config.Config, recorder *batch.PrometheusRecorder, store *jobstore.Store, db *postgres.DB) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.HandlerFor(recorder.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			http.Error(w, "job store: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, "database: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	if cfg.Drive.CredentialsFile != "" && db != nil {
		creds, err := os.ReadFile(cfg.Drive.CredentialsFile)
		if err != nil {
			logger.Log.Fatal().Err(err).Str("file", cfg.Drive.CredentialsFile).Msg("Failed to read Drive credentials")
		}
		driveService, err := drive.NewService(context.Background(), creds)
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to initialize Google Drive service")
		}
		ingestService := drive.NewIngestService(driveService, repository.NewIngestRepository(db.DB.DB), ingest.DefaultBatchSize)
		drive.NewHandler(driveService, ingestService).RegisterRoutes(r)
	}

	return r
}
