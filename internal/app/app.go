// Package app wires configuration, storage, the Telegram client, the
// assignment detector and the hook server into one running service.
package app

import (
	"context"
	"errors"
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"

	"assignbot/internal/assign"
	"assignbot/internal/config"
	"assignbot/internal/dispatch"
	"assignbot/internal/errlog"
	"assignbot/internal/hooks"
	"assignbot/internal/hookserver"
	"assignbot/internal/runtime/supervisor"
	"assignbot/internal/storage"
	"assignbot/internal/transport/telegram"
	logx "assignbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	tg       *telegram.Client
	poll     bool
	accounts telegram.Accounts
	registry *hooks.Registry
	server   *hookserver.Server
	pruner   *pruner

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	tg, err := telegram.New(tgCfg, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), tg)
	appLog := log.With(logx.String("comp", "app"))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		if store, err = storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
			return nil, err
		}
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a, err := build(cfg, log, tg, store)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	a.log = appLog
	return a, nil
}

// build assembles the notification path on top of the shared clients.
func build(cfg *config.Config, log logx.Logger, tg *telegram.Client, store storage.Store) (*App, error) {
	dir, err := buildDirectory(cfg, store)
	if err != nil {
		return nil, err
	}

	disp := dispatch.New(tg,
		dispatch.WithSignature(strings.TrimSpace(cfg.Notify.Signature)),
		dispatch.WithLogger(log.With(logx.String("comp", "dispatch"))),
	)
	det := assign.NewDetector(dir, disp,
		assign.WithMode(notifyMode(cfg)),
		assign.WithLogger(log.With(logx.String("comp", "assign"))),
	)

	errLog := log.With(logx.String("comp", "errlog"))
	sink := errlog.Multi{errlog.Logx{Log: errLog}}
	if store != nil {
		sink = append(sink, errlog.Store{Store: store, Log: errLog})
	}

	hookLog := log.With(logx.String("comp", "hooks"))
	registry := hooks.NewRegistry(hooks.Bind(config.Doctypes(cfg), det.Handle), sink, hooks.WithLogger(hookLog))

	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	var lister hookserver.ErrorLister
	if store != nil {
		lister = store
	}
	server := hookserver.New(srvCfg, registry, lister,
		hookserver.NewAuth(cfg.Server.JWTSecret, cfg.Server.JWTIssuer),
		log.With(logx.String("comp", "hookserver")))

	a := &App{
		log:      log,
		store:    store,
		tg:       tg,
		poll:     cfg.Telegram.Poll.Enabled,
		registry: registry,
		server:   server,
	}
	erp, err := buildAccounts(cfg)
	if err != nil {
		return nil, err
	}
	if erp != nil {
		a.accounts = erp
	}

	retention, spec, err := mapRetention(cfg)
	if err != nil {
		return nil, err
	}
	if retention > 0 && store != nil {
		if a.pruner, err = newPruner(store, retention, spec, log.With(logx.String("comp", "prune"))); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Done is closed when the app stops or a supervised goroutine fails.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Addr is the hook server's bound address.
func (a *App) Addr() string { return a.server.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.server.Start(); err != nil {
		return err
	}
	a.log.Info("hooks registered", logx.Strs("routes", a.registry.Table().Routes()))

	if a.poll {
		cmds := telegram.Commands{
			Accounts: a.accounts,
			Links:    a.linkStore(),
			Log:      a.log.With(logx.String("comp", "bot")),
		}
		a.sup.GoRestart("telegram.poll", func(c context.Context) error {
			return a.tg.Run(c, cmds)
		}, supervisor.Restart{})
	}

	if a.pruner != nil {
		a.sup.Go("storage.prune", a.pruner.run)
	}

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
			return nil
		})
		a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.Restart{})
	}

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("assignbot started")
	return nil
}

// linkStore returns nil when storage is off; links then live only on the
// ERP user record.
func (a *App) linkStore() telegram.LinkStore {
	if a.store == nil {
		return nil
	}
	return a.store
}

// reloadLoop applies logging changes live. Everything else is reported
// as needing a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			sections, attrs, restart := config.SummarizeConfigChange(last, next)
			last = next
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config changed", fields...)
			if a.logs != nil {
				a.logs.Apply(mapLoggingConfig(next))
			}
			if restart {
				a.log.Warn("config change needs a restart to take effect", logx.Strs("sections", sections))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("assignbot stopping")

	a.server.Stop(ctx)

	var err error
	if a.sup != nil {
		if serr := a.sup.Stop(ctx); serr != nil && !errors.Is(serr, context.Canceled) {
			err = serr
		}
	}
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
