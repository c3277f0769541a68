package app

import (
	"context"

	"github.com/jonahfitia/mobile-app-mavis-chat/internal/bus"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/config"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/lock"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/logging"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/odoo"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/outbox"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/roster"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/rpc"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/session"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/status"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
}

// Module returns the fx module composing the client's providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTransport,
			provideBackend,
			provideRoster,
			provideSender,
			provideCore,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.OutboxDBPath(p.Profile)
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
	logger.Info("outbox store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTransport(cfg *config.Config, logger *zap.Logger) *rpc.Client {
	return rpc.New(cfg.ServerURL, logger)
}

func provideBackend(t *rpc.Client, logger *zap.Logger) *odoo.Client {
	return odoo.NewClient(t, logger)
}

func provideRoster(backend *odoo.Client, b *bus.Bus, logger *zap.Logger) *roster.Synchronizer {
	return roster.New(backend, b, logger)
}

func provideSender(db *store.DB, backend *odoo.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, backend, b, logger)
}

func provideCore(p Params, cfg *config.Config, logger *zap.Logger, b *bus.Bus, m *status.Machine, backend *odoo.Client, r *roster.Synchronizer, db *store.DB) *Core {
	return &Core{
		Profile: p.Profile,
		Config:  cfg,
		Logger:  logger,
		Bus:     b,
		Machine: m,
		Backend: backend,
		Roster:  r,
		Store:   db,
	}
}

func registerLifecycle(lc fx.Lifecycle, core *Core, lk *lock.Lock, sender *outbox.Sender, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			sender.Start(context.Background())

			if _, err := core.Restore(context.Background()); err != nil {
				logger.Info("no usable stored session, auth required", zap.Error(err))
				_ = machine.Transition(status.AuthRequired)
				return nil
			}
			_ = machine.Transition(status.Connecting)
			_ = machine.Transition(status.Ready)
			return nil
		},
		OnStop: func(_ context.Context) error {
			sender.Stop()
			core.Touch()
			if err := core.Store.Close(); err != nil {
				logger.Warn("error closing outbox store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
