package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard-api/api"
	"taskboard-api/state"
	"taskboard-api/storage"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rc *redis.Client
	if cfg.RedisConn != "" {
		rc = redis.NewClient(redisOptions(cfg.RedisConn))
		defer rc.Close()
	}

	store, closeStore, err := openStore(ctx, cfg, rc, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()
	registry := state.NewRegistry(store, logger, cfg.Sessions)

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	var journal api.JournalSink
	var sender *api.JournalSender
	if cfg.ActionsQueue != "" {
		if cfg.ProvisionStorage {
			if err := storage.EnsureQueue(ctx, cfg.StorageConn, cfg.ActionsQueue); err != nil {
				log.Fatalf("create queue: %v", err)
			}
		}
		q, err := storage.NewQueueJournal(cfg.StorageConn, cfg.ActionsQueue)
		if err != nil {
			log.Fatalf("journal: %v", err)
		}
		sender = api.NewJournalSender(q, cfg.JournalSender, logger)
		journal = sender
	}

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	api.Register(e, registry, auth, deduper, journal, logger)

	go func() {
		logger.Infof("listening on %s, storage backend: %s", cfg.ListenAddr, cfg.Backend)
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	if err := registry.Close(shutdownCtx); err != nil {
		logger.WithError(err).Warn("pending board saves were not flushed")
	}
	if sender != nil {
		sender.Close()
	}
}

// openStore builds the configured board store, fronted by the Redis cache
// when the backend is not Redis itself.
func openStore(ctx context.Context, cfg config, rc *redis.Client, logger *log.Logger) (storage.Store, func(), error) {
	noop := func() {}
	var base storage.Store
	closeFn := noop

	switch cfg.Backend {
	case backendRedis:
		return storage.NewRedisStore(rc), noop, nil
	case backendTables:
		if cfg.ProvisionStorage {
			if err := storage.EnsureTable(ctx, cfg.StorageConn, cfg.BoardsTable); err != nil {
				return nil, noop, fmt.Errorf("create table: %w", err)
			}
		}
		ts, err := storage.NewTableStore(cfg.StorageConn, cfg.BoardsTable)
		if err != nil {
			return nil, noop, err
		}
		base = ts
	case backendSQLite:
		ss, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		base = ss
		closeFn = func() {
			if err := ss.Close(); err != nil {
				logger.WithError(err).Warn("close sqlite")
			}
		}
	default:
		return nil, noop, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}

	if rc != nil && cfg.CacheTTL > 0 {
		logger.Infof("board cache enabled, ttl: %v", cfg.CacheTTL)
		return storage.NewCache(base, rc, cfg.CacheTTL), closeFn, nil
	}
	return base, closeFn, nil
}

func newAuth(cfg config) (*api.Auth, error) {
	if cfg.SharedSecret != "" {
		return api.NewAuth(api.AuthConfig{
			Audience:     cfg.Auth0Audience,
			SharedSecret: []byte(cfg.SharedSecret),
		})
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(api.AuthConfig{
		JWKS:        jwks,
		Audience:    cfg.Auth0Audience,
		Issuer:      "https://" + cfg.Auth0Domain + "/",
		KeyCacheTTL: cfg.JWKSCacheTTL,
	})
}
