package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/compendium/config"
	"github.com/mohammad-safakhou/compendium/internal/fetch"
	"github.com/mohammad-safakhou/compendium/internal/llm"
	"github.com/mohammad-safakhou/compendium/internal/pool"
	"github.com/mohammad-safakhou/compendium/internal/research"
	"github.com/mohammad-safakhou/compendium/internal/sources"
	"github.com/mohammad-safakhou/compendium/internal/store"
	"github.com/mohammad-safakhou/compendium/internal/telemetry"
	"github.com/mohammad-safakhou/compendium/internal/throttle"
)

// Run wires the engine, opens storage and serves the API until the listener
// fails.
func Run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		baseLogger.Printf("migrations: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr(),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
	}

	tel := telemetry.New(cfg.Telemetry, prometheus.DefaultRegisterer)
	gen, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}
	search, err := sources.New(cfg.Search)
	if err != nil {
		return err
	}

	pipeOpts := []research.PipelineOption{
		research.WithLimiters(
			throttle.New("search", cfg.Search.RatePerSec, cfg.Search.Burst, cfg.Search.DailyBudget),
			throttle.New("llm", cfg.LLM.RatePerSec, cfg.LLM.Burst, cfg.LLM.DailyBudget),
		),
	}
	if cfg.Fetch.Enabled {
		pipeOpts = append(pipeOpts, research.WithFetcher(fetch.New(cfg.Fetch)))
	}
	pipeline := research.NewPipeline(cfg.Research, search, gen, pipeOpts...)
	mgr := pool.NewManager(cfg.Research, pipeline, tel)

	engine := NewEngine(cfg, mgr, pipeline, gen)
	engine.Store = st
	engine.Publisher = store.NewSnapshotPublisher(rdb, 0)

	secret := cfg.Server.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: []byte(secret)}
	auth.Register(api.Group("/auth"))

	rh := &ResearchHandler{Engine: engine, Store: st}
	rh.Register(api, []byte(secret))

	sched := &Scheduler{Store: st, Engine: engine, Rdb: rdb, Stop: make(chan struct{})}
	sched.Start()

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10011"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
