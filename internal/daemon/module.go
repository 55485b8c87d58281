package daemon

import (
	"context"
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/netid/internal/account"
	"github.com/matheus3301/netid/internal/api"
	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/backend/memory"
	"github.com/matheus3301/netid/internal/bus"
	"github.com/matheus3301/netid/internal/config"
	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/lock"
	"github.com/matheus3301/netid/internal/logging"
	"github.com/matheus3301/netid/internal/online"
	"github.com/matheus3301/netid/internal/presence"
	"github.com/matheus3301/netid/internal/profile"
	"github.com/matheus3301/netid/internal/query"
	"github.com/matheus3301/netid/internal/session"
	"github.com/matheus3301/netid/internal/store"
	"github.com/matheus3301/netid/internal/tracing"
	intsync "github.com/matheus3301/netid/internal/sync"
	"github.com/matheus3301/netid/internal/userinfo"
	"github.com/matheus3301/netid/internal/wa"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = load ~/.netid/config.toml
	Quiet       bool           // log to the file only, for daemons started detached
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			providePlatform,
			provideRegistry,
			provideCorrelator,
			provideResolver,
			provideCache,
			provideSessions,
			provideSubsystem,
			provideReconciler,
			provideSyncEngine,
			provideService,
			NewServer,
		),
		fx.Invoke(registerTracing, registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	return logging.New(logging.Options{
		Path:    profile.LogPath(p.ProfileName),
		Profile: p.ProfileName,
		Level:   cfg.LogLevel,
		Stderr:  !p.Quiet,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two
// daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.AppDBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

type platformOut struct {
	fx.Out

	Platform backend.Platform
	Adapter  *wa.Adapter // nil unless the whatsapp backend is selected
}

func providePlatform(p Params, cfg *config.Config, _ *lock.Lock, b *bus.Bus, logger *zap.Logger) (platformOut, error) {
	switch cfg.Backend {
	case config.BackendWhatsApp:
		adapter, err := wa.NewAdapter(context.Background(), profile.PlatformDBPath(p.ProfileName), b, logger)
		if err != nil {
			return platformOut{}, err
		}
		return platformOut{Platform: adapter, Adapter: adapter}, nil
	case config.BackendMemory:
		mem := memory.New(memory.Options{Latency: cfg.Memory.Latency()})
		if err := seedMemory(mem, cfg.Memory); err != nil {
			return platformOut{}, err
		}
		logger.Info("memory backend seeded", zap.Int("accounts", len(cfg.Memory.Accounts)))
		return platformOut{Platform: mem}, nil
	default:
		return platformOut{}, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func provideRegistry(platform backend.Platform, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *account.Registry {
	return account.NewRegistry(platform, cfg.MaxLocalUsers, b, logger)
}

func provideCorrelator(cfg *config.Config, logger *zap.Logger) *query.Correlator {
	return query.NewCorrelator(query.Options{Timeout: cfg.QueryTimeout(), Logger: logger})
}

func provideResolver(platform backend.Platform, c *query.Correlator, cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *userinfo.Resolver {
	return userinfo.NewResolver(platform, c, cfg.ProfileCacheTTL(), db, b, logger)
}

// provideCache also registers the cache as the platform's push notifier.
func provideCache(platform backend.Platform, accounts *account.Registry, resolver *userinfo.Resolver, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *presence.Cache {
	c := presence.NewCache(platform, accounts, resolver, cfg.AppID, b, logger)
	platform.SetNotifier(c)
	return c
}

func provideSessions(platform backend.Platform, accounts *account.Registry, b *bus.Bus, logger *zap.Logger) *session.Manager {
	return session.NewManager(platform, accounts, b, logger)
}

func provideSubsystem(accounts *account.Registry, cache *presence.Cache, resolver *userinfo.Resolver, sessions *session.Manager, logger *zap.Logger) *online.Subsystem {
	return online.New(accounts, cache, resolver, sessions, logger)
}

func provideReconciler(db *store.DB, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, logger)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, r *intsync.Reconciler, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, r, logger)
}

func provideService(p Params, cfg *config.Config, sub *online.Subsystem, b *bus.Bus, db *store.DB, logger *zap.Logger) *api.Service {
	return api.NewService(api.Deps{
		Profile: p.ProfileName,
		Backend: cfg.Backend,
		Online:  sub,
		Bus:     b,
		DB:      db,
		Logger:  logger,
	})
}

// registerTracing runs first so its stop hook runs last and flushes spans
// from every other component's shutdown.
func registerTracing(lc fx.Lifecycle, p Params, cfg *config.Config, logger *zap.Logger) {
	var tp *sdktrace.TracerProvider
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			tp, err = tracing.Setup(ctx, tracing.Options{
				Endpoint:    cfg.Tracing.Endpoint,
				Insecure:    cfg.Tracing.Insecure,
				SampleRatio: cfg.Tracing.SampleRatio,
				Profile:     p.ProfileName,
			})
			if err != nil {
				return err
			}
			if tp != nil {
				logger.Info("exporting traces", zap.String("endpoint", cfg.Tracing.Endpoint))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if tp == nil {
				return nil
			}
			if err := tp.Shutdown(ctx); err != nil {
				logger.Warn("flush traces", zap.Error(err))
			}
			return nil
		},
	})
}

type lifecycleIn struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Server     *Server
	Lock       *lock.Lock
	DB         *store.DB
	Adapter    *wa.Adapter `optional:"true"`
	Engine     *intsync.Engine
	Reconciler *intsync.Reconciler
	Subsystem  *online.Subsystem
	Bus        *bus.Bus
	Logger     *zap.Logger
}

func registerLifecycle(in lifecycleIn) {
	logger := in.Logger
	in.Lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Persist friends, profiles and identity upgrades as they arrive.
			in.Engine.Start(context.Background())

			go func() {
				if err := in.Server.Start(); err != nil {
					logger.Error("control server failed", zap.Error(err))
				}
			}()

			if in.Adapter == nil {
				return nil
			}
			handler := wa.NewEventHandler(in.Adapter, in.Bus, logger)
			in.Adapter.RegisterEventHandler(handler.Handle)
			if in.Adapter.IsLoggedIn() {
				autoLogin(in.Subsystem, in.Reconciler, logger)
			} else {
				logger.Info("no device credentials found, QR login required")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			in.Server.Stop(ctx)
			in.Engine.Stop()
			if in.Adapter != nil {
				in.Adapter.Disconnect()
			}
			if err := in.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := in.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// autoLogin signs local user 0 in with the stored device credentials and
// refreshes its friend list once the login completes.
func autoLogin(sub *online.Subsystem, r *intsync.Reconciler, logger *zap.Logger) {
	creds := backend.Credentials{Kind: backend.CredentialPersisted}
	accepted := sub.Identity.Login(0, creds, func(ok bool, id identity.Identity, errMsg string) {
		if !ok {
			logger.Warn("auto-login failed", zap.String("error", errMsg))
			return
		}
		if last, ok := r.LastRefresh(id); ok {
			logger.Info("refreshing friends", zap.String("identity", id.String()), zap.Time("last_refresh", last))
		}
		sub.Friends.RefreshFriends(0, func(ok bool, errMsg string) {
			if !ok {
				logger.Warn("friend refresh failed", zap.String("error", errMsg))
			}
		})
	})
	if !accepted {
		logger.Warn("auto-login not accepted")
	}
}
