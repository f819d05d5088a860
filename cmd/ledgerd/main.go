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
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pharmatrust/pharmaledger/internal/archive"
	"github.com/pharmatrust/pharmaledger/internal/auth"
	"github.com/pharmatrust/pharmaledger/internal/ledger"
	"github.com/pharmatrust/pharmaledger/internal/monitor"
	"github.com/pharmatrust/pharmaledger/internal/pharmacy"
	"github.com/pharmatrust/pharmaledger/internal/server/handler"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("ledgerd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("ledgerd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("ledgerd.port", 8080)
	viper.SetDefault("ledgerd.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("ledgerd.rate_limit_rps", 20)
	viper.SetDefault("ledgerd.issuer_url", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("auth.admin_secret", "")
	viper.SetDefault("auth.token_secret", "")
	viper.SetDefault("auth.token_ttl_seconds", 8*3600)
	viper.SetDefault("monitor.check_interval", "5m")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Ledger ───────────────────────────────────────────────────────────────
	chain := ledger.New()

	// ── Database (optional: empty URL runs ledger-only, in memory) ──────────
	var db *pgxpool.Pool
	var store *archive.Store
	var repo *pharmacy.Repository

	dbURL := viper.GetString("database.url")
	if dbURL != "" {
		var err error
		db, err = pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		store = archive.New(db, logger)
		repo = pharmacy.NewRepository(db)

		// Replay the archive so the chain survives restarts.
		archived, err := store.Replay(context.Background())
		if err != nil {
			return fmt.Errorf("replay archive: %w", err)
		}
		if len(archived) > 0 {
			if err := chain.Restore(archived); err != nil {
				return fmt.Errorf("restore chain from archive: %w", err)
			}
			logger.Info("chain restored from archive",
				zap.Int("transactions", chain.Len()),
				zap.String("root", chain.Root()),
			)
		} else {
			// Fresh archive: persist the genesis we just seeded.
			genesis, _ := chain.Get(0)
			if err := store.Record(context.Background(), genesis); err != nil {
				return fmt.Errorf("archive genesis: %w", err)
			}
			logger.Info("archive initialized", zap.String("root", chain.Root()))
		}
	} else {
		logger.Warn("database.url not set — running in memory, chain is lost on restart")
	}

	if res := chain.VerifyChain(); res.Valid {
		logger.Info("chain verified",
			zap.Int("transactions", chain.Len()),
			zap.String("root", chain.Root()),
		)
	} else {
		logger.Error("chain verification FAILED at startup",
			zap.Int("violations", len(res.Violations)))
	}

	// ── Auth (optional: no token secret leaves mutating routes open) ────────
	httpPort := viper.GetInt("ledgerd.port")
	issuerURL := viper.GetString("ledgerd.issuer_url")
	if issuerURL == "" {
		issuerURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}

	var tokens *auth.TokenIssuer
	tokenSecret := viper.GetString("auth.token_secret")
	if tokenSecret != "" {
		ttl := time.Duration(viper.GetInt("auth.token_ttl_seconds")) * time.Second
		tokens = auth.NewTokenIssuer([]byte(tokenSecret), issuerURL, ttl)
		logger.Info("operator tokens enabled", zap.Duration("ttl", ttl))
	} else {
		logger.Warn("auth.token_secret not set — mutating endpoints are unauthenticated")
	}

	// ── Wire up layers ────────────────────────────────────────────────────────
	var pharmacyHandler *handler.PharmacyHandler
	if repo != nil {
		svc := pharmacy.NewService(repo, chain, store, logger)
		pharmacyHandler = handler.NewPharmacyHandler(svc, tokens, logger)
	} else {
		logger.Warn("pharmacy endpoints disabled — no database configured")
	}

	ledgerHandler := handler.NewLedgerHandler(chain, logger)

	var authHandler *handler.AuthHandler
	if tokens != nil {
		authHandler = handler.NewAuthHandler(tokens, viper.GetString("auth.admin_secret"), logger)
	}

	// ── Integrity monitor ─────────────────────────────────────────────────────
	checkInterval, _ := time.ParseDuration(viper.GetString("monitor.check_interval"))
	mon := monitor.New(chain, monitor.Config{CheckInterval: checkInterval}, logger)
	mon.SetMetricsRecord(handler.RecordVerification)

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS
	corsOrigins := viper.GetStringSlice("ledgerd.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	// Per-IP rate limiting
	rps := viper.GetInt("ledgerd.rate_limit_rps")
	if rps > 0 {
		router.Use(handler.RateLimiter(rps, rps*2))
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	// Health and metrics (public, no auth)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "chainLength": chain.Len()})
	})
	router.GET("/metrics", handler.MetricsHandler())

	// API v1
	v1 := router.Group("/api/v1")
	ledgerHandler.Register(v1)
	if pharmacyHandler != nil {
		pharmacyHandler.Register(v1)
	}
	if authHandler != nil {
		authHandler.Register(v1)
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go mon.Start(quit)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("ledgerd HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down ledgerd...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("ledgerd stopped")
	return nil
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
		)
	}
}
