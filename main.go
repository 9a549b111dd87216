package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/DeSecurity/focused-life-hq/api"
	"github.com/DeSecurity/focused-life-hq/config"
	"github.com/DeSecurity/focused-life-hq/storage"
	"github.com/DeSecurity/focused-life-hq/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	store, err := storage.New(cfg.StorageConnectionString, cfg.TasksTable, cfg.ItemsTable, cfg.SettingsTable, cfg.CommandQueue, cfg.TaskPageSize)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	rc := redis.NewClient(redisOptions(cfg.RedisConnectionString))
	cached := storage.NewCache(store, rc, cfg.CacheTTL)
	deduper := api.NewRedisDeduper(rc, cfg.DeduperTTL)

	authCfg := api.AuthConfig{Audience: cfg.Audience, KeyCacheTTL: cfg.JWKSCacheTTL}
	if cfg.IdPTestMode {
		authCfg.SharedSecret = []byte(cfg.TestJWTSecret)
	} else {
		jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		authCfg.JWKS = jwks
		authCfg.Issuer = cfg.Issuer()
	}
	auth := api.NewAuth(authCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echoprometheus.NewMiddleware("lifehq"))
	e.GET("/metrics", echoprometheus.NewHandler())

	logger := log.New()
	api.Register(e, cached, auth, deduper, logger)

	broker := api.NewUpdateBroker()
	api.RegisterStream(e, cached, auth, broker)
	go api.RunUpdateListener(ctx, logger, rc, cfg.UpdateChannel, broker)

	// The command worker runs in-process; it drains the queue the handlers
	// write to and keeps the read model, caches and SSE streams current.
	orch := worker.NewOrchestrator(
		worker.NewTaskService(store),
		worker.NewItemService(store),
		worker.NewSettingsService(store),
	)
	refresher := worker.NewRefresher(store, rc, cfg.CacheTTL)
	processor := worker.NewProcessor(store, orch, refresher, rc, cfg.UpdateChannel, cfg.WorkerPollInterval, logger)
	go processor.Run(ctx)

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil {
			log.Infof("server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

// redisOptions accepts either a redis URL or the comma separated
// host,key=value form some managed caches hand out.
func redisOptions(connStr string) *redis.Options {
	opts, err := redis.ParseURL(connStr)
	if err == nil {
		return opts
	}
	parts := strings.Split(connStr, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
