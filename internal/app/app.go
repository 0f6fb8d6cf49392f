package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"campushub/portalgate/internal/audit"
	"campushub/portalgate/internal/authz"
	"campushub/portalgate/internal/config"
	"campushub/portalgate/internal/docstore"
	"campushub/portalgate/internal/guard"
	"campushub/portalgate/internal/httpserver"
	"campushub/portalgate/internal/identity"
	"campushub/portalgate/internal/observability"
	"campushub/portalgate/internal/portal"
	"campushub/portalgate/internal/profile"
	"campushub/portalgate/internal/storage"
)

const connectTimeout = 15 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	cfg    config.Config
	log    *zap.Logger
	server *httpserver.Server

	// closers run in reverse order on shutdown.
	closers []func() error
}

func New(cfg config.Config) (*App, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Env:     cfg.Log.Env,
		Level:   cfg.Log.Level,
		Service: "portalgate",
	})
	a := &App{cfg: cfg, log: logger}
	if err := a.build(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	var pingers []func(context.Context) error

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		pingers = append(pingers, db.PingContext)
	}

	var docs docstore.Store
	if cfg.DocstoreURL != "" {
		pg, err := docstore.NewPostgresStore(ctx, cfg.DocstoreURL)
		if err != nil {
			return fmt.Errorf("create postgres docstore: %w", err)
		}
		docs = pg
	} else {
		fs, err := docstore.NewFileStore(cfg.DocstoreStateFile)
		if err != nil {
			return fmt.Errorf("create docstore: %w", err)
		}
		docs = fs
	}
	a.closers = append(a.closers, docs.Close)
	if p, ok := docs.(pinger); ok {
		pingers = append(pingers, p.Ping)
	}

	backend, err := newStorageBackend(cfg, db)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, backend.Close)
	if p, ok := backend.(pinger); ok {
		pingers = append(pingers, p.Ping)
	}

	var accounts identity.AccountStore
	if db != nil {
		accounts, err = identity.NewPostgresAccountStore(db)
		if err != nil {
			return fmt.Errorf("create postgres account store: %w", err)
		}
	} else {
		accounts, err = identity.NewFileAccountStore(cfg.Auth.AccountStateFile)
		if err != nil {
			return fmt.Errorf("create account store: %w", err)
		}
	}

	tokens, err := identity.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.Auth.TokenIssuer, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("create token issuer: %w", err)
	}
	var mailer identity.Mailer
	if cfg.SMTP.Host != "" {
		mailer, err = identity.NewSMTPMailer(identity.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			return fmt.Errorf("create smtp mailer: %w", err)
		}
	} else {
		a.log.Warn("SMTP_HOST not set; password reset mail is written to the log")
		mailer = identity.NewLogMailer(a.log.Named("mail"))
	}

	svc, err := identity.NewService(accounts, identity.ServiceConfig{
		Tokens:        tokens,
		Mailer:        mailer,
		ResetURL:      cfg.SMTP.ResetURL,
		ResetTokenTTL: cfg.Auth.ResetTokenTTL,
		Logger:        a.log.Named("identity"),
	})
	if err != nil {
		return fmt.Errorf("create identity service: %w", err)
	}
	a.closers = append(a.closers, svc.Close)

	profiles := profile.NewRepository(docs)
	if cfg.Auth.BootstrapEmail != "" {
		if err := bootstrapAdmin(ctx, svc, accounts, profiles, cfg.Auth.BootstrapEmail, cfg.Auth.BootstrapPassword, a.log); err != nil {
			return err
		}
	}

	resolver, err := authz.NewResolver(authz.Strategy(cfg.Auth.AdminStrategy), cfg.Auth.SupportEmail)
	if err != nil {
		return fmt.Errorf("create role resolver: %w", err)
	}
	guardMetrics, err := guard.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register guard metrics: %w", err)
	}
	guards, err := guard.New(guard.Config{
		Resolver:    resolver,
		Profiles:    profiles,
		Timeout:     cfg.Guard.CheckTimeout,
		LoginPath:   cfg.Guard.LoginPath,
		LandingPath: cfg.Guard.LandingPath,
		Metrics:     guardMetrics,
		Logger:      a.log.Named("guard"),
	})
	if err != nil {
		return fmt.Errorf("create guards: %w", err)
	}

	registry, err := portal.NewRegistry(portal.RegistryConfig{
		Identity: svc,
		Storage:  backend,
		Profiles: profiles,
		Resolver: resolver,
		IdleTTL:  cfg.ClientIdleTTL,
		Logger:   a.log.Named("portal"),
	})
	if err != nil {
		return fmt.Errorf("create client registry: %w", err)
	}
	a.closers = append(a.closers, registry.Close)

	httpMetrics, err := httpserver.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	auditLog := audit.NewLogger(cfg.AuditLogFile, docs, a.log.Named("audit"))
	a.server = httpserver.New(cfg.HTTP, httpserver.Deps{
		Clients:   registry,
		Guards:    guards,
		Profiles:  profiles,
		Audit:     auditLog,
		AuditLogs: auditLog,
		Metrics:   httpMetrics,
		Ready: func(ctx context.Context) error {
			for _, ping := range pingers {
				if err := ping(ctx); err != nil {
					return err
				}
			}
			return nil
		},
		Logger: a.log.Named("http"),
	})
	a.log.Info("portal wired",
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Bool("postgres", db != nil),
		zap.String("admin_strategy", string(resolver.Strategy())),
	)
	return nil
}

func newStorageBackend(cfg config.Config, db *sql.DB) (storage.Backend, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return storage.NewMemoryBackend(), nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("postgres storage driver requires DATABASE_URL")
		}
		b, err := storage.NewPostgresBackend(db)
		if err != nil {
			return nil, fmt.Errorf("create postgres client storage: %w", err)
		}
		return b, nil
	case "redis":
		b, err := storage.NewRedisBackend(storage.RedisConfig{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			Prefix:   cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis client storage: %w", err)
		}
		return b, nil
	default:
		b, err := storage.NewFileBackend(cfg.Storage.StateFile)
		if err != nil {
			return nil, fmt.Errorf("create file client storage: %w", err)
		}
		return b, nil
	}
}

// bootstrapAdmin makes sure the configured account exists, is verified and
// holds the super_admin role.
func bootstrapAdmin(ctx context.Context, svc *identity.Service, accounts identity.AccountStore, profiles *profile.Repository, email, password string, log *zap.Logger) error {
	acc, err := svc.CreateAccount(ctx, email, password, "Administrator")
	switch {
	case err == nil:
		log.Info("bootstrap admin account created", zap.String("email", acc.Email))
	case errors.Is(err, identity.ErrEmailInUse):
		acc, err = accounts.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
		if err != nil {
			return fmt.Errorf("load bootstrap admin: %w", err)
		}
	default:
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	if err := svc.MarkEmailVerified(ctx, acc.UID); err != nil {
		return fmt.Errorf("verify bootstrap admin: %w", err)
	}

	p, err := profiles.Load(ctx, acc.UID)
	if err != nil {
		return fmt.Errorf("load bootstrap admin profile: %w", err)
	}
	if p == nil {
		if _, err := profiles.Create(ctx, acc.UID, acc.DisplayName, acc.Email); err != nil {
			return fmt.Errorf("create bootstrap admin profile: %w", err)
		}
	} else if p.Role == profile.RoleSuperAdmin {
		return nil
	}
	if _, err := profiles.SetRole(ctx, acc.UID, profile.RoleSuperAdmin); err != nil {
		return fmt.Errorf("promote bootstrap admin: %w", err)
	}
	return nil
}

// Handler exposes the HTTP handler for in-process use.
func (a *App) Handler() http.Handler { return a.server.Handler() }

func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http server starting", zap.String("addr", a.cfg.HTTP.Addr))
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server exited: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close releases every resource New acquired. Run calls it on exit.
func (a *App) Close() { a.close() }

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close resource failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.log.Sync()
}
