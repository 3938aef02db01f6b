package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"relaybot/internal/command"
	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/forward"
	"relaybot/internal/housekeeping"
	"relaybot/internal/httpapi"
	"relaybot/internal/mailwatch"
	"relaybot/internal/metrics"
	"relaybot/internal/reminder"
	"relaybot/internal/routing"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/internal/transport/telegram"
	logx "relaybot/pkg/logx"
)

// Options override process-level inputs; the zero value is production.
type Options struct {
	// Stdin feeds the console transport. Defaults to os.Stdin.
	Stdin io.Reader
}

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	chat    *telegram.Sink
	bus     eventbus.Bus
	metrics *metrics.Metrics
	store   storage.Store
	audit   *auditQueue

	routes *routing.Store
	tr     transport.Transport
	sched  *reminder.Scheduler
	disp   *command.Dispatcher
	fwd    *forward.Forwarder
	http   *httpapi.Server
	house  *housekeeping.Service
	mail   *mailwatch.Watcher // nil unless mail.enabled

	inbound chan transport.Message
}

func New(env config.Env, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(env.ConfigPath, env)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}

	// The chat sink is attached before chat logging is switched on so
	// Apply never sees an enabled sink without a sender.
	bootCfg := logConfig(cfg)
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg)
	var chat *telegram.Sink
	if cfg.Logging.Telegram.Enabled {
		chat, err = telegram.New(telegram.Config{
			Token:    cfg.Telegram.Token,
			ChatID:   cfg.Telegram.ChatID,
			ThreadID: cfg.Telegram.ThreadID,
		})
		if err != nil {
			log.Warn("telegram log sink unavailable", logx.Err(err))
		} else {
			logSvc.SetChatSender(chat)
			logSvc.Apply(logConfig(cfg))
		}
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		chat:    chat,
		bus:     eventbus.New(),
		metrics: metrics.New(),
		inbound: make(chan transport.Message, cfg.Dispatch.QueueSize),
	}
	if err := a.build(cfg, opts); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, opts Options) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	st, err := storage.Open(sc, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = st
	a.log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	a.audit = newAuditQueue(st, 256, sc.BusyTimeout+time.Second, a.log.With(logx.String("comp", "audit")))

	a.routes = routing.NewStore(cfg.Routing.Path, cfg.Routing.Admin, a.log.With(logx.String("comp", "routing")))
	a.routes.SetAuditor(func(ctx context.Context, tag, msg string) {
		if err := a.audit.AppendAudit(ctx, storage.AuditEntry{At: time.Now(), Tag: tag, Message: msg}); err != nil {
			a.log.Warn("audit append failed", logx.Err(err))
		}
	})
	if _, err := a.routes.Load(context.Background()); err != nil {
		// A corrupt document leaves an empty default live; keep running.
		a.log.Error("routing document load failed", logx.String("path", cfg.Routing.Path), logx.Err(err))
	}

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	tr, err := newTransport(cfg, stdin, a.log, a.bus)
	if err != nil {
		return err
	}
	a.tr = tr

	loc, err := config.ParseUTCOffset("scheduler.utc_offset", cfg.Scheduler.UTCOffset)
	if err != nil {
		return err
	}
	warn, err := config.ParseDurationList("scheduler.warn_offsets", cfg.Scheduler.WarnOffsets)
	if err != nil {
		return err
	}
	a.sched = reminder.New(reminder.Options{
		Store:       st,
		Sender:      tr,
		Location:    loc,
		WarnOffsets: warn,
		Log:         a.log.With(logx.String("comp", "reminder")),
		Bus:         a.bus,
	})

	cmdTimeout, err := config.ParseDurationOrDefault("dispatch.timeout", cfg.Dispatch.Timeout, 30*time.Second)
	if err != nil {
		return err
	}
	a.disp = command.New(command.Options{
		Routing:   a.routes,
		Scheduler: a.sched,
		Reminders: st,
		Audit:     a.audit,
		Sender:    tr,
		Location:  loc,
		Now:       a.sched.Now,
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
		Timeout:   cmdTimeout,
		Log:       a.log,
		Bus:       a.bus,
	})

	a.fwd = forward.New(routing.NewRouter(a.routes), tr, a.log, a.bus)

	readTimeout, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 15*time.Second)
	if err != nil {
		return err
	}
	writeTimeout, err := config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	a.http = httpapi.New(httpapi.Options{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		Pprof:        cfg.HTTP.Pprof,
		Forwarder:    a.fwd,
		Inbound:      a.disp.Submit,
		State:        tr.State,
		Metrics:      a.metrics.Handler(),
		Log:          a.log,
	})

	hc, err := mapHousekeepingConfig(cfg, loc)
	if err != nil {
		return err
	}
	presence, _ := tr.(transport.Presence)
	a.house = housekeeping.New(hc, presence, st, a.log)

	if cfg.Mail.Enabled {
		mc, acct, err := mapMailConfig(cfg, loc)
		if err != nil {
			return err
		}
		a.mail = mailwatch.New(mc, mailwatch.Dialer(acct), func() []string {
			return a.routes.Snapshot().Senders()
		}, a.fwd, a.log)
	}
	return nil
}

// Done is closed once the run context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err is the first fatal error the supervisor observed.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// HTTPAddr is the bound webhook address, empty until the listener is up.
func (a *App) HTTPAddr() string { return a.http.Addr() }

func (a *App) Scheduler() *reminder.Scheduler { return a.sched }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))

	a.sup.Go("audit", a.audit.run)
	a.sup.Go("metrics", func(c context.Context) error {
		return a.metrics.Run(c, a.bus, a.log)
	})
	a.sup.GoRestart("transport", func(c context.Context) error {
		return a.tr.Start(c, a.inbound)
	}, supervisor.WithRestartBackoff(time.Second, time.Minute))
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.disp.DispatchLoop(c, a.inbound)
	})
	a.sup.Go("http", a.http.Run)
	a.sup.Go("housekeeping", a.house.Run)
	if a.mail != nil {
		a.sup.Go("mailwatch", a.mail.Run)
	}
	a.sup.Go("reminders.recover", a.recoverWhenReady)
	a.sup.GoRestart("routing.watch", a.routes.Watch)
	a.sup.Go("routing.reload", a.routingReloadLoop)
	a.sup.Go("eventbus.log", a.eventLogLoop)
	a.sup.Go("config.reload", a.configReloadLoop)
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return a.watchdogLoop(c, interval/2)
		})
	}

	a.log.Info("app started", logx.String("transport", a.tr.State().String()))
	return nil
}

// recoverWhenReady re-arms stored reminders once, after the transport first
// reports ready.
func (a *App) recoverWhenReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-a.tr.Ready():
	}
	n, err := a.sched.RecoverAll(ctx)
	if err != nil {
		a.log.Error("reminder recovery failed", logx.Err(err))
		return nil
	}
	a.log.Info("reminders recovered", logx.Int("armed", n))
	return nil
}

func (a *App) routingReloadLoop(ctx context.Context) error {
	ch, unsub := a.routes.Subscribe(4)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-ch:
			if !ok {
				return nil
			}
			a.bus.Publish(eventbus.Event{Type: eventbus.RoutingReloaded, Data: map[string]any{"groups": len(st.Groups)}})
		}
	}
}

func (a *App) eventLogLoop(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.String("label", e.Label), logx.Time("time", e.Time))
		}
	}
}

func (a *App) configReloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-sub:
			if !ok {
				return nil
			}
			next = c
		}
		// Coalesce bursts: keep only the latest config.
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
		a.applyConfig(last, next)
		last = next
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if next.Logging.Telegram.Enabled && a.chat == nil {
		sink, err := telegram.New(telegram.Config{
			Token:    next.Telegram.Token,
			ChatID:   next.Telegram.ChatID,
			ThreadID: next.Telegram.ThreadID,
		})
		if err != nil {
			a.log.Warn("telegram log sink unavailable", logx.Err(err))
		} else {
			a.chat = sink
			a.logs.SetChatSender(sink)
		}
	}
	lc := logConfig(next)
	if a.chat == nil {
		lc.Chat.Enabled = false
	}
	a.logs.Apply(lc)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if config.RestartRequired(sections) {
		a.log.Warn("config change needs a restart to take effect", logx.Strings("sections", sections))
	}
}

func (a *App) watchdogLoop(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				a.log.Debug("sd_notify watchdog failed", logx.Err(err))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	var errs []error
	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("reminders", 2*time.Second, a.sched.Stop)
	step("supervisor", 6*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
