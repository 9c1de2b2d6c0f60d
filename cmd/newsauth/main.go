package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/AtoyanMikhail/newsauth/internal/audit"
	"github.com/AtoyanMikhail/newsauth/internal/cache"
	"github.com/AtoyanMikhail/newsauth/internal/config"
	"github.com/AtoyanMikhail/newsauth/internal/credentials"
	"github.com/AtoyanMikhail/newsauth/internal/logger"
	"github.com/AtoyanMikhail/newsauth/internal/metrics"
	"github.com/AtoyanMikhail/newsauth/internal/repository"
	"github.com/AtoyanMikhail/newsauth/internal/repository/memory"
	"github.com/AtoyanMikhail/newsauth/internal/repository/models"
	"github.com/AtoyanMikhail/newsauth/internal/server"
	"github.com/AtoyanMikhail/newsauth/internal/session"
	"github.com/AtoyanMikhail/newsauth/internal/token"
	"github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const appName = "newsauth"

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatal(err.Error())
	}

	logger.Initialize(logger.ParseLevel(cfg.Log.Level))
	l := logger.Global()
	defer l.Sync()

	displayAppname(appName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Error("Server stopped with error", logger.Error(err))
		stop()
		_ = l.Sync()
		os.Exit(1)
	}
	l.Info("Server stopped")
}

type stores struct {
	users    models.UserRepository
	sessions models.RefreshSessionRepository
	audit    models.AuditRepository
	ready    server.ReadyCheck
	close    func() error
}

func run(ctx context.Context, cfg *config.Config, l logger.Logger) error {
	st, err := openStores(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer st.close()

	c, err := openCache(cfg, l)
	if err != nil {
		return err
	}
	defer c.Close()
	authCache := cache.NewAuthCache(c, l)

	creds, err := credentials.NewStore(st.users, authCache, credentials.Config{
		BcryptCost:  cfg.Security.BcryptCost,
		LivenessTTL: cfg.Security.LivenessCacheTTL.Std(),
	}, l)
	if err != nil {
		return fmt.Errorf("failed to set up credential store: %w", err)
	}
	if err := bootstrapAdmin(ctx, creds, cfg.Bootstrap, l); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	recorder := audit.NewRecorder(st.audit, cfg.Audit.BufferSize, l)
	defer recorder.Close()

	svc := session.NewService(session.Deps{
		Credentials: creds,
		Codec: token.NewCodec(token.Config{
			AccessSecret:  cfg.JWT.AccessSecret,
			RefreshSecret: cfg.JWT.RefreshSecret,
			AccessTTL:     cfg.JWT.AccessTokenTTL.Std(),
			RefreshTTL:    cfg.JWT.RefreshTokenTTL.Std(),
		}),
		Sessions: st.sessions,
		Attempts: authCache,
		Audit:    recorder,
		Metrics:  metrics.New(reg),
	}, session.Config{
		MaxLoginAttempts: cfg.Security.MaxLoginAttempts,
		AttemptWindow:    cfg.Security.AttemptWindow.Std(),
	}, l)

	go svc.RunSweeper(ctx, cfg.Sessions.SweepInterval.Std())

	srv, err := server.New(server.ConfigFrom(cfg), svc, l,
		server.WithMetrics(reg),
		server.WithReadyCheck("storage", st.ready),
		server.WithReadyCheck("cache", c.Ping),
	)
	if err != nil {
		return err
	}

	l.Info("Starting auth server",
		logger.String("env", cfg.Env),
		logger.String("storage", cfg.Storage),
		logger.Bool("redis", cfg.Redis.Enabled))

	return srv.Run(ctx)
}

// bootstrapAdmin makes sure the configured admin account exists, so user management
// is reachable on a fresh database.
func bootstrapAdmin(ctx context.Context, creds *credentials.Store, cfg config.BootstrapConfig, l logger.Logger) error {
	if cfg.AdminEmail == "" {
		l.Debug("No bootstrap admin configured")
		return nil
	}

	created, err := creds.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin: %w", err)
	}
	if created {
		l.Info("Bootstrap admin created", logger.String("email", cfg.AdminEmail))
	} else {
		l.Info("Bootstrap admin already present", logger.String("email", cfg.AdminEmail))
	}
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, l logger.Logger) (*stores, error) {
	if cfg.Storage == config.StorageMemory {
		l.Warn("Using in-memory storage, all data is lost on restart")
		return &stores{
			users:    memory.NewUserStore(),
			sessions: memory.NewSessionStore(),
			audit:    memory.NewAuditStore(),
			ready:    func(context.Context) error { return nil },
			close:    func() error { return nil },
		}, nil
	}

	db, err := repository.Connect(ctx, cfg.Database, l)
	if err != nil {
		return nil, err
	}
	if err := repository.RunMigrations(db, cfg.Database.MigrationsPath, l); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return &stores{
		users:    repository.NewUserRepository(db, l),
		sessions: repository.NewRefreshSessionRepository(db, l),
		audit:    repository.NewAuditRepository(db, l),
		ready:    db.PingContext,
		close:    db.Close,
	}, nil
}

func openCache(cfg *config.Config, l logger.Logger) (cache.Cache, error) {
	if !cfg.Redis.Enabled {
		l.Info("Redis disabled, using process-local cache")
		return cache.NewLocalCache(), nil
	}
	c, err := cache.NewRedisCache(cfg.Redis, l)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return c, nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
