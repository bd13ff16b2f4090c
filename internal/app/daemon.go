package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"changewatch/internal/config"
	rtsup "changewatch/internal/runtime/supervisor"
	"changewatch/internal/task/scheduler"
	logx "changewatch/pkg/logx"
	"changewatch/pkg/systemd"
)

// Error lets a StopReason travel as a context cancellation cause.
func (r StopReason) Error() string { return "stop: " + string(r) }

func stopReason(ctx context.Context, sup *rtsup.Supervisor) StopReason {
	if sup.Err() != nil {
		return StopFatalError
	}
	var r StopReason
	if errors.As(context.Cause(ctx), &r) {
		return r
	}
	if ctx.Err() != nil {
		return StopContext
	}
	return StopUnknown
}

func (a *App) interval() string {
	if v := strings.TrimSpace(a.opt.Interval); v != "" {
		return v
	}
	if v := strings.TrimSpace(a.cfg.Monitor.Interval); v != "" {
		return v
	}
	return defaultInterval
}

// RunDaemon sweeps due subscriptions on the configured interval until ctx
// is done or a supervised component fails. It also serves metrics, answers
// bot commands and applies config reloads when those are enabled.
func (a *App) RunDaemon(ctx context.Context) error {
	every, err := scheduler.ParseSchedule(a.interval())
	if err != nil {
		return fmt.Errorf("monitor.interval: %w", err)
	}

	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	a.engine.Start(sup.Context())
	a.notif.Start(sup.Context())
	if a.http.Enabled() {
		a.http.Start(sup.Context())
	}
	if a.bot != nil {
		if err := a.bot.Start(sup.Context()); err != nil {
			sup.Cancel()
			a.shutdown(context.Background(), sup, StopFatalError)
			return fmt.Errorf("bot: %w", err)
		}
	}
	if err := a.sched.Add("monitor.sweep", every, 0, a.sweep); err != nil {
		sup.Cancel()
		a.shutdown(context.Background(), sup, StopFatalError)
		return err
	}
	a.sched.Start(sup.Context())

	sup.Go0("monitor.initial_sweep", func(c context.Context) { _ = a.sweep(c) })
	sup.Go("config.watch", a.cfgm.Watch)
	sup.Go0("config.reload", a.reloadLoop(a.cfgm.Subscribe(8)))
	sup.Go0("eventbus.log", a.logEvents)
	sup.Go("systemd.watchdog", systemd.Watchdog)

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("daemon started",
		logx.String("interval", every.String()),
		logx.String("timezone", a.loc.String()),
		logx.Bool("bot", a.bot != nil),
		logx.Bool("http", a.http.Enabled()),
	)

	<-sup.Context().Done()
	reason := stopReason(ctx, sup)
	_, _ = systemd.Stopping()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.shutdown(stopCtx, sup, reason)
	if err := sup.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) sweep(ctx context.Context) error {
	start := time.Now()
	n, err := a.runner.RunDue(ctx, start)
	a.lastSweep.Store(&start)
	_, _ = systemd.Status(fmt.Sprintf("last sweep %s: %d changed", start.In(a.loc).Format("2006-01-02 15:04"), n))
	if err != nil {
		return err
	}
	a.log.Debug("sweep finished", logx.Int("changed", n), logx.Duration("took", time.Since(start)))
	return nil
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// reloadLoop applies hot sections of each committed config. Bursts are
// coalesced to the newest config.
func (a *App) reloadLoop(sub chan *config.Config) func(context.Context) {
	return func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			var next *config.Config
			select {
			case <-ctx.Done():
				return
			case c, ok := <-sub:
				if !ok {
					return
				}
				next = c
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	changed, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", restart))
	}

	if next.Telegram.OperatorChatID != 0 {
		a.logs.SetTelegramTarget(next.Telegram.OperatorChatID, next.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLoggingConfig(next))

	ncfg, err := mapNotifierConfig(next)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		was := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case was && !ncfg.Enabled:
			a.log.Info("notifier queue disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !was && ncfg.Enabled:
			a.log.Info("notifier queue enabled via config")
			a.notif.Start(ctx)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// shutdown stops components in dependency order, bounding each step so
// one stuck component cannot stall the rest.
func (a *App) shutdown(ctx context.Context, sup *rtsup.Supervisor, reason StopReason) {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context)) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					a.log.Error("panic in stop step", logx.String("name", name), logx.Any("panic", r))
				}
			}()
			fn(stepCtx)
		}()
		select {
		case <-done:
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, a.sched.Stop)
	if a.bot != nil {
		step("bot", 3*time.Second, a.bot.Stop)
	}
	step("taskengine", 5*time.Second, a.engine.Stop)
	step("http", time.Second, a.http.Stop)
	step("notifier", 3*time.Second, a.notif.Stop)
	step("supervisor", 2*time.Second, func(c context.Context) { _ = sup.Wait(c) })
	a.log.Info("stopped", logx.String("reason", string(reason)))
}
