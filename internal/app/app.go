// Package app wires the push pipeline together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pushstream/internal/config"
	"pushstream/internal/eventbus"
	"pushstream/internal/notifier"
	"pushstream/internal/observability/metrics"
	"pushstream/internal/observability/ops"
	"pushstream/internal/push"
	rtsup "pushstream/internal/runtime/supervisor"
	"pushstream/internal/storage"
	"pushstream/internal/stream"
	"pushstream/pkg/logx"
	"pushstream/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	dedup   *push.Deduplicator
	rc      *push.Reconciler
	notif   *notifier.Service
	relay   *relaySwitch
	stream  *stream.Supervisor
	metrics *metrics.Metrics
	ops     *ops.Server
	sd      *systemd.Notifier

	sup *rtsup.Supervisor
}

// New loads the configuration and builds every component. Nothing runs
// until Start (or CatchUp).
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	relay := &relaySwitch{}
	logs, root := logx.New(mapLogConfig(cfg), relay)
	if err := relay.apply(cfg, root); err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	log := root.Component("app")
	cfgm.SetLogger(root)

	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log,
		logs:    logs,
		bus:     eventbus.New(),
		relay:   relay,
		metrics: metrics.New(),
		sd:      systemd.New(config.BoolOr(cfg.Systemd.Notify, true), root),
	}
	if err := a.build(root); err != nil {
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(root logx.Logger) error {
	cfg := a.cfg

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	st, err := storage.Open(sc, root)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.store = st
	if st != nil {
		a.log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	} else {
		a.log.Warn("storage disabled; watermark and ledger are not persisted")
	}

	var wm push.WatermarkStore
	var ledger notifier.Ledger
	if st != nil {
		wm, ledger = st, st
	}
	a.dedup = push.NewDeduplicator(cfg.Dedup.Capacity, wm, root)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, ledger, root, a.bus, deliverers(cfg, a.relay)...)

	client, err := mapFetchClient(cfg)
	if err != nil {
		return err
	}
	a.rc = push.NewReconciler(client, a.dedup, a.notif, cfg.Pushbullet.DeviceID, root, a.metrics)

	dialer, err := mapDialer(cfg)
	if err != nil {
		return err
	}
	scfg, err := mapStreamConfig(cfg)
	if err != nil {
		return err
	}
	a.stream = stream.New(scfg, stream.WSDialer{D: dialer}, a.rc, a.dedup, a.notif, root,
		stream.WithBus(a.bus),
		stream.WithRecorder(a.metrics),
	)

	if cfg.Ops.Enabled {
		oc, err := mapOpsConfig(cfg)
		if err != nil {
			return err
		}
		if a.ops, err = ops.New(oc, a.stream, a.metrics.Handler(), a.tasks, root); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) tasks() any {
	out := map[string]rtsup.Snapshot{}
	if a.sup != nil {
		out["app"] = a.sup.Snapshot()
	}
	if ns := a.notif.Supervisor(); ns != nil {
		out["notifier"] = ns.Snapshot()
	}
	return out
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, e.g. stream.ErrAttemptsExhausted.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Logger() logx.Logger { return a.log }

// Start loads the watermark and launches the stream, the notifier and the
// background services.
func (a *App) Start(ctx context.Context) error {
	if err := a.dedup.Load(ctx); err != nil {
		return err
	}
	a.metrics.WatermarkAdvanced(a.dedup.Watermark())

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(a.validateReload)

	// Workers outlive the app context so Stop can drain the queue.
	a.notif.Start(context.WithoutCancel(ctx))

	a.sup.Go("stream", func(c context.Context) error {
		err := a.stream.Run(c)
		if errors.Is(err, stream.ErrAttemptsExhausted) {
			a.log.Error("giving up on the push stream", logx.Err(err))
		}
		return err
	})

	a.sup.Go0("metrics.follow", func(c context.Context) { a.metrics.Follow(c, a.bus) })
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("systemd.status", a.followState)
	if config.BoolOr(a.cfg.Systemd.Watchdog, true) {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return a.sd.RunWatchdog(c, func() bool { return a.Err() == nil })
		})
	}

	if a.ops != nil {
		a.sup.GoRestart("ops.serve", a.ops.Run,
			rtsup.WithPublishFirstError(true),
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sd.Ready()
	a.log.Info("started",
		logx.String("device_id", a.cfg.Pushbullet.DeviceID),
		logx.String("storage", a.cfg.Storage.Driver),
		logx.Float64("watermark", float64(a.dedup.Watermark())),
	)
	return nil
}

// CatchUp runs one reconciliation pass, drains the notifier and closes
// everything.
func (a *App) CatchUp(ctx context.Context) (push.ReconcileResult, error) {
	defer a.shutdown(context.Background())

	if err := a.dedup.Load(ctx); err != nil {
		return push.ReconcileResult{}, err
	}
	a.notif.Start(context.WithoutCancel(ctx))
	res, err := a.rc.Reconcile(ctx)
	if err != nil {
		return res, err
	}
	a.log.Info("catch-up finished",
		logx.Int("fetched", res.Fetched),
		logx.Int("delivered", res.Delivered),
		logx.Float64("watermark", float64(res.Watermark)),
	)
	return res, nil
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
			a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}

func (a *App) followState(ctx context.Context) {
	states, unsub := a.bus.Subscribe(16, eventbus.TypeStreamState)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-states:
			if !ok {
				return
			}
			if s, ok := e.Data.(string); ok {
				a.sd.Status(s)
			}
		}
	}
}

// Stop shuts everything down, each step bounded so one component cannot
// stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.shutdown(ctx)
	return nil
}

// shutdown drains the notifier, flushes the watermark and closes storage
// and logging.
func (a *App) shutdown(ctx context.Context) {
	a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "dedup", time.Second, a.dedup.Close)
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.log.Info("stopped")
	_ = a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
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
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
