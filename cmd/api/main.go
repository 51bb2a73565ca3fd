package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/corvusHold/certmail/internal/config"
	credential "github.com/corvusHold/certmail/internal/credential"
	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
	dispatch "github.com/corvusHold/certmail/internal/dispatch"
	evsvc "github.com/corvusHold/certmail/internal/events/service"
	"github.com/corvusHold/certmail/internal/logger"
	"github.com/corvusHold/certmail/internal/metrics"
	"github.com/corvusHold/certmail/internal/platform/lifecycle"
	"github.com/corvusHold/certmail/internal/platform/ratelimit"
	"github.com/corvusHold/certmail/internal/platform/secure"
	"github.com/corvusHold/certmail/internal/platform/validation"
	"github.com/corvusHold/certmail/internal/sendlog"
	"github.com/corvusHold/certmail/internal/version"
)

func main() {
	_ = godotenv.Load()
	if handleCLICommand(os.Args[1:]) {
		return
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.AppEnv)
	log.Info().Str("addr", cfg.AppAddr).Str("version", version.String()).Str("config", cfg.String()).Msg("starting api server")
	reg := lifecycle.New(logger.Component(log, "lifecycle"))

	// Rate limit store: Redis when configured, otherwise process memory.
	var (
		rlStore     ratelimit.Store = ratelimit.NewMemoryStore()
		redisClient *redis.Client
	)
	if cfg.RateLimitStore == "redis" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		rlStore = ratelimit.NewRedisStore(redisClient)
		reg.Register("redis", func(context.Context) error { return redisClient.Close() })
	}

	// Send log: Postgres when DATABASE_URL is set.
	var (
		rec  sendlog.Recorder = sendlog.Nop{}
		repo *sendlog.Repository
	)
	if cfg.DatabaseURL != "" {
		pgCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid DATABASE_URL")
		}
		pgPool, err := pgxpool.NewWithConfig(context.Background(), pgCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to create pg pool")
		}
		repo = sendlog.New(pgPool)
		rec = repo
		reg.Register("postgres", func(context.Context) error { pgPool.Close(); return nil })
	}

	pub := evsvc.NewLogger(logger.Component(log, "events"))
	dir := cdomain.DefaultDirectory()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	ipx, err := secure.IPExtractor(cfg.TrustedProxies)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid TRUSTED_PROXIES")
	}
	e.IPExtractor = ipx

	// Middlewares
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Secure())
	e.Use(metrics.HTTPMiddleware())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOriginFunc: func(origin string) (bool, error) {
			return matchCORSOrigin(origin, cfg.CORSAllowedOrigins), nil
		},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	// Validator
	e.Validator = validation.New()

	// Register domain routes via factories
	credential.NewRegistrar(cfg, dir, rlStore, pub).Register(e)
	dr, err := dispatch.NewRegistrar(cfg, dir, rlStore, rec, pub, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("dispatch setup failed")
	}
	dr.Register(e)

	// Health endpoint pings the optional DB and Redis
	e.GET("/healthz", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 500*time.Millisecond)
		defer cancel()

		dbStatus := "disabled"
		if repo != nil {
			dbStatus = "ok"
			if err := repo.Ping(ctx); err != nil {
				dbStatus = "down"
			}
			metrics.SetDBUp(dbStatus == "ok")
		}

		cacheStatus := "disabled"
		if redisClient != nil {
			cacheStatus = "ok"
			if _, err := redisClient.Ping(ctx).Result(); err != nil {
				cacheStatus = "down"
			}
			metrics.SetRedisUp(cacheStatus == "ok")
		}

		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"version": version.String(),
			"time":    time.Now().UTC().Format(time.RFC3339),
			"db":      dbStatus,
			"cache":   cacheStatus,
		})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Start server
	go func() {
		if err := e.Start(cfg.AppAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown: stop accepting, let in-flight batches finish, then
	// close the SMTP pool and backing stores.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	if err := reg.Close(ctx); err != nil {
		log.Error().Err(err).Msg("resource close error")
	}
	log.Info().Msg("server stopped")
}
