// Package app wires the watcher together and runs it in one of its
// process modes: a single sweep, the long-running daemon or a dry run.
package app

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"changewatch/internal/bot"
	"changewatch/internal/config"
	"changewatch/internal/eventbus"
	"changewatch/internal/executor"
	"changewatch/internal/metrics"
	"changewatch/internal/monitor"
	"changewatch/internal/notifier"
	"changewatch/internal/observability/server"
	"changewatch/internal/querybuilder"
	"changewatch/internal/storage"
	"changewatch/internal/subscription"
	"changewatch/internal/task/engine"
	"changewatch/internal/task/scheduler"
	kit "changewatch/internal/transport"
	"changewatch/internal/transport/telegram"
	logx "changewatch/pkg/logx"
)

type Options struct {
	ConfigPath string
	// EnvFile is loaded before the config; empty means ./.env when present.
	EnvFile string
	// Interval overrides monitor.interval for the daemon.
	Interval string
	// Listen polls Telegram for bot commands (daemon only).
	Listen bool
	Getenv func(string) string
}

type App struct {
	opt  Options
	cfgm *config.ConfigManager
	cfg  *config.Config

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	// adapter is nil when no token is configured.
	adapter kit.Adapter

	exec    *executor.Client
	engine  *engine.Service
	notif   *notifier.Service
	sched   *scheduler.Service
	runner  *monitor.Runner
	metrics *metrics.Recorder
	http    *server.Service
	bot     *bot.Bot

	loc     *time.Location
	policy  subscription.Policy
	linkTTL time.Duration

	lastSweep atomic.Pointer[time.Time]
	closeOnce sync.Once
	closeErr  error
}

func New(opt Options) (*App, error) {
	if err := config.LoadEnvFile(opt.EnvFile, opt.EnvFile != ""); err != nil {
		return nil, err
	}
	cfgm := config.NewConfigManager(opt.ConfigPath)
	if opt.Getenv != nil {
		cfgm.SetEnv(opt.Getenv)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	var ad kit.Adapter
	var sender logx.Sender
	if cfg.Telegram.Token != "" {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
			Offline:     !opt.Listen,
		}, bootLog)
		if err != nil {
			return nil, err
		}
		ad, sender = tg, tg
	}

	// Telegram logging starts disabled so Apply does not warn before the
	// target chat is set.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, sender)
	if cfg.Telegram.OperatorChatID != 0 {
		logSvc.SetTelegramTarget(cfg.Telegram.OperatorChatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)
	appLog := log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{opt: opt, cfgm: cfgm, cfg: cfg, log: appLog, logs: logSvc, adapter: ad, metrics: metrics.New()}
	if err := a.build(log); err != nil {
		_ = a.Close()
		return nil, err
	}
	if ad == nil {
		appLog.Warn("telegram token not set; change notifications are disabled")
	}
	return a, nil
}

func (a *App) build(log logx.Logger) error {
	cfg := a.cfg
	var err error

	if a.loc, err = loadLocation(cfg.Monitor.Timezone); err != nil {
		return err
	}
	if a.linkTTL, err = config.ParseDurationOrDefault("monitor.link_token_ttl", cfg.Monitor.LinkTokenTTL, defaultLinkTokenTTL); err != nil {
		return err
	}
	a.policy = subscription.Policy{DefaultMaxErrors: cfg.Monitor.MaxErrors}
	a.bus = eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if a.store, err = storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
		return err
	}

	execOpts, execTimeout, err := mapExecutorOptions(cfg)
	if err != nil {
		return err
	}
	a.exec = executor.New(cfg.ReadAPI.URL, execOpts...)

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, a.adapter, log.With(logx.String("comp", "notifier")), a.bus, a.store)

	a.sched = scheduler.New(scheduler.Config{Timezone: cfg.Monitor.Timezone}, log.With(logx.String("comp", "scheduler")))

	mopt := monitor.Options{
		Store:        a.store,
		Executor:     a.exec,
		Engine:       a.engine,
		Policy:       a.policy,
		ExecTimeout:  execTimeout,
		DetailLimit:  cfg.Monitor.DetailLimit,
		SummaryLimit: cfg.Monitor.SummaryLimit,
		Location:     a.loc,
		Metrics:      a.metrics,
		Bus:          a.bus,
		Log:          log,
	}
	if a.adapter != nil {
		mopt.Deliverer = a.notif
		mopt.Alerts = a.notif
		mopt.OperatorChatID = cfg.Telegram.OperatorChatID
	}
	a.runner = monitor.New(mopt)

	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		return err
	}
	a.http = server.New(srvCfg, a.metrics.Handler(), a.health, log)

	if a.opt.Listen && cfg.Telegram.Commands && a.adapter != nil {
		a.bot = bot.New(bot.Options{
			Adapter: a.adapter,
			Store:   a.store,
			Runner:  a.runner,
			Policy:  a.policy,
			Owners:  cfg.Telegram.OwnerUserIDs,
			Log:     log,
		})
	}
	return nil
}

func (a *App) Config() *config.Config      { return a.cfg }
func (a *App) Logger() logx.Logger         { return a.log }
func (a *App) Store() storage.Store        { return a.store }
func (a *App) Runner() *monitor.Runner     { return a.runner }
func (a *App) Location() *time.Location    { return a.loc }
func (a *App) Policy() subscription.Policy { return a.policy }

// LinkTokenTTL is how long a generated Telegram link token stays valid.
func (a *App) LinkTokenTTL() time.Duration { return a.linkTTL }

// RunOnce sweeps every due subscription and returns how many changed.
func (a *App) RunOnce(ctx context.Context) (int, error) {
	a.engine.Start(ctx)
	a.notif.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		a.engine.Stop(stopCtx)
		a.notif.Stop(stopCtx)
	}()

	start := time.Now()
	n, err := a.runner.RunDue(ctx, start)
	a.log.Info("sweep finished", logx.Int("changed", n), logx.Duration("took", time.Since(start)), logx.Err(err))
	return n, err
}

// RunSubscription executes subscription id now, ignoring its schedule.
func (a *App) RunSubscription(ctx context.Context, id int64) (*monitor.Result, error) {
	if _, err := a.store.GetSubscription(ctx, id); err != nil {
		return nil, err
	}
	a.notif.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		a.notif.Stop(stopCtx)
	}()
	return a.runner.Process(ctx, id)
}

// TestQuery executes a builder query with a capped limit.
func (a *App) TestQuery(ctx context.Context, b *querybuilder.Builder) (*monitor.QueryTest, error) {
	return a.runner.TestQuery(ctx, b)
}

// DryRun executes subscription id without writing or notifying.
func (a *App) DryRun(ctx context.Context, id int64, limit int) (*monitor.DryRunReport, error) {
	return a.runner.DryRun(ctx, id, limit)
}

// Close releases the store and the log sinks. Safe to call twice.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs *multierror.Error
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		if a.logs != nil {
			if err := a.logs.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				errs = multierror.Append(errs, err)
			}
		}
		a.closeErr = errs.ErrorOrNil()
	})
	return a.closeErr
}

func (a *App) health(ctx context.Context) (map[string]any, error) {
	es := a.engine.Snapshot()
	out := map[string]any{
		"engine": map[string]any{
			"running":   a.engine.Running(),
			"workers":   es.Workers,
			"in_flight": es.InFlight,
			"queue_len": es.QueueLen,
			"dropped":   es.Dropped,
		},
		"notifier": a.notif.Enabled(),
		"bot":      a.bot != nil,
	}
	if t := a.lastSweep.Load(); t != nil {
		out["last_sweep"] = t.UTC().Format(time.RFC3339)
	}
	if !a.engine.Running() {
		return out, errors.New("task engine not running")
	}
	return out, nil
}
