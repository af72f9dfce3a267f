package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard-api/api"
	"taskboard-api/state"
)

const (
	backendRedis  = "redis"
	backendTables = "tables"
	backendSQLite = "sqlite"
)

type config struct {
	Debug      bool
	ListenAddr string

	Backend          string
	RedisConn        string
	StorageConn      string
	BoardsTable      string
	ActionsQueue     string
	SQLitePath       string
	CacheTTL         time.Duration
	DeduperTTL       time.Duration
	ShutdownTimeout  time.Duration
	ProvisionStorage bool

	Auth0Domain   string
	Auth0Audience string
	SharedSecret  string
	JWKSCacheTTL  time.Duration
	Sessions      state.RegistryConfig
	JournalSender api.JournalSenderConfig
}

func loadConfig() (config, error) {
	var errs []error
	cfg := config{
		Debug:            envBool("DEBUG", false, &errs),
		ListenAddr:       ":" + envString("PORT", "8080"),
		Backend:          strings.ToLower(envString("STORAGE_BACKEND", backendRedis)),
		RedisConn:        os.Getenv("REDIS_CONNECTION_STRING"),
		StorageConn:      os.Getenv("STORAGE_CONNECTION_STRING"),
		BoardsTable:      envString("BOARDS_TABLE", "boards"),
		ActionsQueue:     os.Getenv("ACTIONS_QUEUE"),
		SQLitePath:       envString("SQLITE_PATH", "taskboard.sqlite"),
		CacheTTL:         envDur("CACHE_TTL", 5*time.Minute, &errs),
		DeduperTTL:       envDur("DEDUPER_TTL", 24*time.Hour, &errs),
		ShutdownTimeout:  envDur("SHUTDOWN_TIMEOUT", 10*time.Second, &errs),
		ProvisionStorage: envBool("PROVISION_STORAGE", false, &errs),
		Auth0Domain:      os.Getenv("AUTH0_DOMAIN"),
		Auth0Audience:    os.Getenv("AUTH0_AUDIENCE"),
		JWKSCacheTTL:     envDur("JWKS_CACHE_TTL", api.DefaultJWKSCacheTTL, &errs),
		Sessions: state.RegistryConfig{
			SaveTimeout: envDur("SAVE_TIMEOUT", 30*time.Second, &errs),
			IdleTimeout: envDur("SESSION_IDLE_TIMEOUT", 30*time.Minute, &errs),
		},
		JournalSender: api.JournalSenderConfig{
			Workers:        envInt("JOURNAL_WORKERS", 8, &errs),
			Buffer:         envInt("JOURNAL_BUFFER", 1024, &errs),
			Timeout:        envDur("JOURNAL_TIMEOUT", 30*time.Second, &errs),
			HandoffTimeout: envDur("JOURNAL_HANDOFF_TIMEOUT", 15*time.Millisecond, &errs),
		},
	}
	// PORT wins; FUNCTIONS_CUSTOMHANDLER_PORT is set by the Azure Functions host
	if os.Getenv("PORT") == "" {
		if val := os.Getenv("FUNCTIONS_CUSTOMHANDLER_PORT"); val != "" {
			cfg.ListenAddr = ":" + val
		}
	}

	secret, err := sharedSecret()
	if err != nil {
		errs = append(errs, err)
	}
	cfg.SharedSecret = secret

	switch cfg.Backend {
	case backendRedis:
		if cfg.RedisConn == "" {
			errs = append(errs, errors.New("REDIS_CONNECTION_STRING is required for the redis backend"))
		}
	case backendTables:
		if cfg.StorageConn == "" || cfg.BoardsTable == "" {
			errs = append(errs, errors.New("STORAGE_CONNECTION_STRING and BOARDS_TABLE are required for the tables backend"))
		}
	case backendSQLite:
		if cfg.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.Backend))
	}
	if cfg.ActionsQueue != "" && cfg.StorageConn == "" {
		errs = append(errs, errors.New("STORAGE_CONNECTION_STRING is required when ACTIONS_QUEUE is set"))
	}
	if cfg.SharedSecret == "" && (cfg.Auth0Domain == "" || cfg.Auth0Audience == "") {
		errs = append(errs, errors.New("missing Auth0 config"))
	}
	return cfg, errors.Join(errs...)
}

// sharedSecret returns the HS256 secret when local or test auth is enabled.
func sharedSecret() (string, error) {
	if mode := strings.ToLower(os.Getenv("LOCAL_AUTH_MODE")); mode != "" {
		if mode != "hs256" {
			return "", fmt.Errorf("unsupported LOCAL_AUTH_MODE %q", mode)
		}
		secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
		if secret == "" {
			return "", errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
		return secret, nil
	}
	if os.Getenv("AUTH0_TEST_MODE") == "1" {
		secret := os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			return "", errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		return secret, nil
	}
	return "", nil
}

// redisOptions accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" connection string.
func redisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return n
}

func envDur(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return d
}

func envBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return b
}
