package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/captcha/internal/captcha/artifact"
	"github.com/jmerrifield20/captcha/internal/captcha/handler"
	"github.com/jmerrifield20/captcha/internal/captcha/render"
	"github.com/jmerrifield20/captcha/internal/captcha/repository"
	"github.com/jmerrifield20/captcha/internal/captcha/service"
	"github.com/jmerrifield20/captcha/internal/captcha/sweeper"
	"github.com/jmerrifield20/captcha/internal/config"
	"github.com/jmerrifield20/captcha/internal/health"
	"github.com/jmerrifield20/captcha/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Getenv("CAPTCHA_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "captchad: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "captchad: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("captchad exited with error", zap.Error(err))
	}
}

// store is what captchad needs from a challenge repository.
type store interface {
	service.ChallengeStore
	Ping(ctx context.Context) error
}

// artifactStore is what captchad needs from an artifact backend.
type artifactStore interface {
	service.ArtifactStore
	Ping(ctx context.Context) error
}

// schemaStore is implemented by SQL repositories that can create their table.
type schemaStore interface {
	EnsureSchema(ctx context.Context) (bool, error)
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// Validate captcha options before any connection or directory is touched.
	if err := cfg.Captcha.Validate(); err != nil {
		return err
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	// ── Challenge store ──────────────────────────────────────────────────────
	st, closeStore, err := openStore(startCtx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Storage.AutoMigrate {
		if ss, ok := st.(schemaStore); ok {
			created, err := ss.EnsureSchema(startCtx)
			if err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
			if created {
				logger.Info("migrated captcha schema", zap.String("table", cfg.Storage.Table))
			}
		}
	}

	// ── Artifact store ───────────────────────────────────────────────────────
	artifacts, err := openArtifacts(startCtx, cfg, logger)
	if err != nil {
		return err
	}

	svc, err := service.New(cfg.Captcha, service.Deps{
		Store:     st,
		Artifacts: artifacts,
		Renderer:  render.New(render.Options{Width: cfg.Image.Width, Height: cfg.Image.Height}),
		Recorder:  handler.PrometheusRecorder{},
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestID())

	corsOrigins := cfg.HTTP.CORSOrigins
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", handler.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", handler.RequestIDHeader},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request bodies are a verify payload at most.
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 64<<10)
		c.Next()
	})

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	checker := health.New(health.Config{
		CheckInterval: cfg.Health.Interval,
		CheckTimeout:  cfg.Health.Timeout,
		FailThreshold: cfg.Health.FailThreshold,
	}, logger)
	checker.Register("store", st.Ping)
	checker.Register("artifacts", artifacts.Ping)
	checker.SetMetricsRecord(handler.RecordDependencyCheck)

	router.GET("/healthz", func(c *gin.Context) {
		if !checker.Healthy() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "dependencies": checker.Report()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "dependencies": checker.Report()})
	})
	router.GET("/metrics", handler.MetricsHandler())

	if fs, ok := artifacts.(*artifact.FileStore); ok && cfg.HTTP.ServeImages {
		router.Static(cfg.HTTP.ImagePath, fs.Dir())
		logger.Info("serving captcha images", zap.String("path", cfg.HTTP.ImagePath))
	}

	v1 := router.Group("/api/v1")
	handler.NewCaptchaHandler(svc, logger).Register(v1)

	// ── Background workers ───────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go checker.Start(ctx)

	sw := sweeper.New(svc, sweeper.Config{
		Interval:  cfg.Sweep.Interval,
		Timeout:   cfg.Sweep.Timeout,
		Reconcile: cfg.Sweep.Reconcile,
	}, logger)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sw.Run(ctx)
	}()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("captchad HTTP listening", zap.Int("port", cfg.HTTP.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutting down captchad...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	<-sweepDone

	logger.Info("captchad stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (store, func(), error) {
	noop := func() {}
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("ping postgres: %w", err)
		}
		repo, err := repository.NewPostgresChallengeRepository(db, cfg.Table)
		if err != nil {
			db.Close()
			return nil, noop, err
		}
		logger.Info("connected to postgres")
		return repo, db.Close, nil

	case config.DriverMySQL:
		db, err := repository.OpenMySQL(cfg.MySQLDSN)
		if err != nil {
			return nil, noop, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		repo, err := repository.NewMySQLChallengeRepository(db, cfg.Table)
		if err != nil {
			closeDB()
			return nil, noop, err
		}
		if err := repo.Ping(ctx); err != nil {
			closeDB()
			return nil, noop, fmt.Errorf("ping mysql: %w", err)
		}
		logger.Info("connected to mysql")
		return repo, closeDB, nil

	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		repo := repository.NewRedisChallengeRepository(rdb, cfg.RedisPrefix, cfg.RedisRetain)
		if err := repo.Ping(ctx); err != nil {
			_ = rdb.Close()
			return nil, noop, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		return repo, func() { _ = rdb.Close() }, nil

	case config.DriverMemory:
		logger.Warn("using in-memory challenge store; challenges are lost on restart")
		return repository.NewMemoryChallengeRepository(), noop, nil

	default:
		return nil, noop, &service.ConfigError{Option: "storage.driver", Reason: fmt.Sprintf("unknown driver %q", cfg.Driver)}
	}
}

func openArtifacts(ctx context.Context, cfg *config.Config, logger *zap.Logger) (artifactStore, error) {
	switch cfg.Artifacts.Driver {
	case config.ArtifactsFile:
		return artifact.NewFileStore(cfg.Captcha.ArtifactBasePath)
	case config.ArtifactsS3:
		s3, err := artifact.NewMinioStore(cfg.Artifacts.S3)
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Info("writing captcha images to object storage",
			zap.String("endpoint", cfg.Artifacts.S3.Endpoint),
			zap.String("bucket", cfg.Artifacts.S3.Bucket),
		)
		return s3, nil
	default:
		return nil, &service.ConfigError{Option: "artifacts.driver", Reason: fmt.Sprintf("unknown driver %q", cfg.Artifacts.Driver)}
	}
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(handler.RequestIDKey)),
		)
	}
}
