// Package main is the entry point for the JobProof API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jobproof/jobproof/internal/api"
	"github.com/jobproof/jobproof/internal/auth"
	"github.com/jobproof/jobproof/internal/config"
	"github.com/jobproof/jobproof/internal/db"
	"github.com/jobproof/jobproof/internal/health"
	"github.com/jobproof/jobproof/internal/ledger"
	"github.com/jobproof/jobproof/internal/middleware"
	"github.com/jobproof/jobproof/internal/seal"
	"github.com/jobproof/jobproof/internal/signature"
	"github.com/jobproof/jobproof/internal/tokens"
	"github.com/jobproof/jobproof/internal/tracing"
	"github.com/jobproof/jobproof/internal/upload"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("JobProof API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, cfgErrs := config.Load(*configPath)
	logger := middleware.NewLogger(cfgEnv(cfg))
	slog.SetDefault(logger)

	if len(cfgErrs) > 0 {
		for _, err := range cfgErrs {
			logger.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	tracingProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "jobproof-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingProvider.Shutdown(ctx); err != nil {
			logger.Error("failed to shut down tracing", "error", err)
		}
	}()

	var conn *sql.DB
	if cfg.DatabaseURL != "" {
		conn, err = db.Open(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		logger.Info("connected to database")
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory repositories")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error("failed to ping redis", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
	} else {
		logger.Warn("REDIS_ADDR not set, using in-process token revocation")
	}

	var signer signature.Signer
	if cfg.SigningConfigured() {
		sigCfg := signature.Config{HMACSecret: cfg.SigningHMACSecret}
		if cfg.SigningRSAKeyPath != "" {
			pemBytes, err := os.ReadFile(cfg.SigningRSAKeyPath)
			if err != nil {
				logger.Error("failed to read signing key", "error", err, "path", cfg.SigningRSAKeyPath)
				os.Exit(1)
			}
			sigCfg.RSAPrivateKeyPEM = string(pemBytes)
		}
		signer, err = signature.NewSigner(sigCfg, logger)
		if err != nil {
			logger.Error("failed to initialize signer", "error", err)
			os.Exit(1)
		}
		logger.Info("seal signing configured", "algorithm", signer.Algorithm())
	} else {
		logger.Warn("no signing key configured, seal requests will be refused")
	}

	handler, err := buildHandler(cfg, logger, conn, redisClient, signer, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// cfgEnv returns the environment even when config loading failed, so startup
// errors are still logged in the right format.
func cfgEnv(cfg *config.Config) string {
	if cfg == nil || cfg.Env == "" {
		return config.DefaultEnv
	}
	return cfg.Env
}

// buildHandler assembles the repositories, services, routes, and middleware
// chain. A nil conn selects in-memory repositories; a nil redis client selects
// the in-process revocation store.
func buildHandler(cfg *config.Config, logger *slog.Logger, conn *sql.DB, redisClient *redis.Client, signer signature.Signer, reg prometheus.Registerer) (http.Handler, error) {
	httpMetrics := middleware.NewMetrics()
	ledgerMetrics := ledger.NewMetrics()
	sealMetrics := seal.NewMetrics()
	if reg != nil {
		if err := httpMetrics.Register(reg); err != nil {
			return nil, fmt.Errorf("register http metrics: %w", err)
		}
		if err := ledgerMetrics.Register(reg); err != nil {
			return nil, fmt.Errorf("register ledger metrics: %w", err)
		}
		if err := sealMetrics.Register(reg); err != nil {
			return nil, fmt.Errorf("register seal metrics: %w", err)
		}
	}

	var (
		eventRepo ledger.Repository
		sealRepo  seal.Repository
		jobStore  seal.JobStore
	)
	if conn != nil {
		eventRepo = ledger.NewPostgresRepository(conn, logger)
		sealRepo = seal.NewPostgresRepository(conn, logger)
		jobStore = seal.NewPostgresJobStore(conn, logger)
	} else {
		eventRepo = ledger.NewInMemoryRepository()
		sealRepo = seal.NewInMemoryRepository()
		jobStore = seal.NewInMemoryJobStore()
	}

	var revocations tokens.Store
	if redisClient != nil {
		revocations = tokens.NewRedisStore(redisClient)
	} else {
		revocations = tokens.NewInMemoryStore()
	}

	auditLedger := ledger.New(eventRepo, logger, ledger.WithMetrics(ledgerMetrics))
	verifier := ledger.NewVerifier(eventRepo, logger, ledgerMetrics)
	coordinator := seal.NewCoordinator(jobStore, sealRepo, signer, logger,
		seal.WithLedger(auditLedger),
		seal.WithTokenInvalidator(revocations),
		seal.WithMetrics(sealMetrics),
	)

	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)

	jobRoutes := api.NewJobRoutes(
		api.NewEventHandlers(auditLedger, verifier, eventRepo),
		api.NewSealHandlers(coordinator),
	)

	healthHandlers := buildHealthHandlers(conn, redisClient)

	mux := http.NewServeMux()

	authn := middleware.Auth(jwtService, revocations, httpMetrics)
	mux.Handle("/jobs/", authn(jobRoutes))

	if cfg.S3BucketName != "" {
		uploadService, err := upload.NewService(upload.ServiceConfig{
			BucketName:      cfg.S3BucketName,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Endpoint:        cfg.S3Endpoint,
			MaxSizeMB:       cfg.S3MaxUploadSizeMB,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize upload service: %w", err)
		}
		uploadHandlers := api.NewUploadHandlers(uploadService)
		mux.Handle("/uploads/sign", authn(http.HandlerFunc(uploadHandlers.SignUpload)))
	} else {
		logger.Warn("object storage not configured, upload signing disabled")
	}

	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"jobproof-api","version":"1.0.0"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	// Apply middleware: RequestID -> Logging -> HTTPMetrics
	handler := middleware.RequestID(middleware.Logging(logger)(middleware.HTTPMetrics(httpMetrics)(mux)))
	return otelhttp.NewHandler(handler, "jobproof-api"), nil
}

// buildHealthHandlers wires the readiness checkers for whichever dependencies
// are configured.
func buildHealthHandlers(conn *sql.DB, redisClient *redis.Client) *api.HealthHandlers {
	hcfg := api.HealthHandlersConfig{}
	if conn != nil {
		hcfg.DBChecker = health.NewDBChecker(conn)
	}
	if redisClient != nil {
		hcfg.RedisChecker = health.NewRedisChecker(redisClient)
	}
	return api.NewHealthHandlers(hcfg)
}
