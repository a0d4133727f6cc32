package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/linksign/internal/config"
	httpserver "github.com/dropDatabas3/linksign/internal/http"
	"github.com/dropDatabas3/linksign/internal/keys"
	"github.com/dropDatabas3/linksign/internal/keys/fsvault"
	pgconfig "github.com/dropDatabas3/linksign/internal/keys/pg"
	redisremote "github.com/dropDatabas3/linksign/internal/keys/redis"
	"github.com/dropDatabas3/linksign/internal/link"
	"github.com/dropDatabas3/linksign/internal/metrics"
	"github.com/dropDatabas3/linksign/internal/observability/logger"
	"github.com/dropDatabas3/linksign/internal/security/secretbox"
	"github.com/dropDatabas3/linksign/internal/token"
	"github.com/dropDatabas3/linksign/internal/util"
)

func main() {
	var (
		flagConfig  = flag.String("config", "", "ruta a config.yaml (vacío = env/defaults)")
		flagEnvFile = flag.String("env-file", ".env", "ruta a .env")
	)
	flag.Parse()

	if *flagEnvFile != "" {
		_ = godotenv.Load(*flagEnvFile)
	}

	var cfg *config.Config
	var err error
	if *flagConfig != "" {
		cfg, err = config.Load(*flagConfig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "linksign",
	})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	if err := metrics.Register(nil); err != nil {
		log.Fatal("metrics", logger.Err(err))
	}
	if cfg.Security.SecretBoxMasterKey != "" {
		if err := secretbox.LoadMasterKey(cfg.Security.SecretBoxMasterKey); err != nil {
			log.Fatal("secretbox", logger.Err(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal("keystore", logger.Err(err), logger.Driver(cfg.Keys.Driver))
	}
	defer cleanup()
	log.Info("keystore ready", logger.Driver(cfg.Keys.Driver))

	if cfg.Server.AdminAPIKey == "" {
		log.Warn("admin API disabled (no admin key configured)")
	} else {
		log.Info("admin API enabled", logger.String("key", util.MaskSecret(cfg.Server.AdminAPIKey)))
	}

	issuer := token.NewIssuer(cfg.Links.Issuer, store)
	issuer.TTL = config.Dur(cfg.Links.DefaultTTL)
	verifier := token.NewVerifier(store)

	links := link.NewService(issuer, verifier, cfg.Server.BaseURL)
	links.DefaultTTL = config.Dur(cfg.Links.DefaultTTL)
	links.MaxTTL = config.Dur(cfg.Links.MaxTTL)

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpserver.NewRouter(httpserver.Deps{
			Links:       links,
			Keys:        store,
			AdminAPIKey: cfg.Server.AdminAPIKey,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", logger.Err(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", logger.Err(err))
	}
}

// buildStore arma la variante de keystore según keys.driver.
func buildStore(ctx context.Context, cfg *config.Config) (keys.Store, func(), error) {
	noop := func() {}
	switch cfg.Keys.Driver {
	case "memory":
		s, err := keys.NewMemoryStore()
		return s, noop, err

	case "redis":
		remote := redisremote.New(cfg.Keys.Redis.Addr, cfg.Keys.Redis.DB, cfg.Keys.Redis.Prefix)
		if err := remote.Ping(ctx); err != nil {
			return nil, noop, fmt.Errorf("redis ping: %w", err)
		}
		s := keys.NewCachedStore(remote, keys.CachedOptions{
			TTL:          config.Dur(cfg.Keys.CacheTTL),
			RefreshAfter: config.Dur(cfg.Keys.RefreshAfter),
			LockTTL:      config.Dur(cfg.Keys.LockTTL),
			LockWait:     config.Dur(cfg.Keys.LockWait),
		})
		// Bootstrap temprano: si el backend está vacío publica la inicial.
		if _, err := s.GetActiveKey(ctx); err != nil {
			return nil, noop, err
		}
		return s, func() { _ = remote.Close() }, nil

	case "vault":
		var vault keys.SecretVault
		switch cfg.Keys.Vault.Kind {
		case "fs":
			v, err := fsvault.New(cfg.Keys.Vault.Dir)
			if err != nil {
				return nil, noop, err
			}
			vault = v
		case "memory":
			vault = keys.NewMemoryVault()
		default:
			return nil, noop, fmt.Errorf("keys.vault.kind inválido: %q", cfg.Keys.Vault.Kind)
		}

		var (
			cstore  keys.ConfigStore
			cleanup = noop
		)
		switch cfg.Keys.Vault.Config.Driver {
		case "postgres":
			pc, err := pgconfig.Open(ctx, cfg.Keys.Vault.Config.DSN)
			if err != nil {
				return nil, noop, err
			}
			cstore = pc
			cleanup = pc.Close
		case "memory":
			cstore = keys.NewMemoryConfigStore()
		default:
			return nil, noop, fmt.Errorf("keys.vault.config.driver inválido: %q", cfg.Keys.Vault.Config.Driver)
		}

		s, err := keys.NewVaultStore(ctx, vault, cstore, keys.VaultOptions{
			MaxAttempts: cfg.Keys.Vault.MaxAttempts,
			Backoff:     config.Dur(cfg.Keys.Vault.Backoff),
		})
		if err != nil {
			cleanup()
			return nil, noop, err
		}
		return s, cleanup, nil

	default:
		return nil, noop, fmt.Errorf("keys.driver inválido: %q", cfg.Keys.Driver)
	}
}
