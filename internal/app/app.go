// Package app wires the configuration, transports, storage and the
// escalation pipeline together, and owns process lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yushkov-tech/mmtotgbot/internal/bridge"
	"github.com/yushkov-tech/mmtotgbot/internal/config"
	"github.com/yushkov-tech/mmtotgbot/internal/eventbus"
	"github.com/yushkov-tech/mmtotgbot/internal/mattermost"
	rtsup "github.com/yushkov-tech/mmtotgbot/internal/runtime/supervisor"
	"github.com/yushkov-tech/mmtotgbot/internal/storage"
	kit "github.com/yushkov-tech/mmtotgbot/internal/transport"
	tgadapter "github.com/yushkov-tech/mmtotgbot/internal/transport/telegram/adapter"
	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus     eventbus.Bus
	store   storage.Store
	adapter *tgadapter.Adapter
	client  *mattermost.Client

	qualify    *mattermost.Qualifier
	queue      *bridge.Queue
	dedup      *bridge.DedupStore
	hours      *bridge.HoursOracle
	pending    *bridge.PendingTable
	notifier   *bridge.Notifier
	dispatcher *bridge.Dispatcher
	correlator *bridge.Correlator

	poller  *mattermost.Poller
	webhook *mattermost.WebhookServer
	sweeper *cron.Cron

	sup     *rtsup.Supervisor
	updates chan kit.Update

	cfgCh chan *config.Config
	busCh <-chan eventbus.Event
	unsub func()

	// dedupTTL is read by the sweeper and replaced on config reload.
	dedupTTL atomic.Int64
}

// New loads the config at path and constructs every component. Nothing
// runs yet; Start launches the loops.
func New(path string) (*App, error) {
	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)

	pollTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	adapter, err := tgadapter.New(tgadapter.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	logs, log := logx.New(logxConfig(cfg.Logging), adapter)
	logs.SetTelegramTarget(cfg.Telegram.SupervisorChat)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	store, err := openStorage(cfg.Storage, log)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if store == nil {
		log.Info("storage disabled; dedup and pending state will not survive a restart")
	}

	zones, err := buildZones(cfg.WorkHours)
	if err != nil {
		logs.Close()
		return nil, err
	}

	client := mattermost.NewClient(cfg.Mattermost.ServerURL, cfg.Mattermost.BearerToken,
		log.With(logx.String("comp", "mattermost")))

	qualify, err := mattermost.NewQualifier(qualifyPattern(cfg))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("qualify pattern: %w", err)
	}

	enqWait, _ := config.ParseDurationOrDefault("bridge.enqueue_timeout", cfg.Bridge.EnqueueTimeout, 2*time.Second)
	queue := bridge.NewQueue(cfg.Bridge.QueueSize, enqWait, bus, log.With(logx.String("comp", "queue")))

	dedup := bridge.NewDedupStore(store, log.With(logx.String("comp", "dedup")))
	hours := bridge.NewHoursOracle(zones)
	pending := bridge.NewPendingTable(store, log.With(logx.String("comp", "pending")))

	esc := escalationSender{ad: adapter, chatID: cfg.Telegram.EscalationChat}
	sup := supervisorSender{ad: adapter, chatID: cfg.Telegram.SupervisorChat}

	notifier := bridge.NewNotifier(notifierConfig(cfg.Bridge), esc, sup,
		client, client, pending, bus, log.With(logx.String("comp", "notifier")))
	notifier.Permalink = mattermost.PermalinkFunc(cfg.Mattermost.ServerURL, cfg.Mattermost.Team)

	dispatcher := bridge.NewDispatcher(queue, dedup, hours, client, notifier,
		bus, log.With(logx.String("comp", "dispatch")))
	dispatcher.SetSelfID(cfg.Mattermost.BotUserID)
	dispatcher.SetAckText(cfg.Bridge.AckText)

	correlator := bridge.NewCorrelator(pending, client, esc,
		bus, log.With(logx.String("comp", "correlate")))

	var poller *mattermost.Poller
	if iv, _ := config.ParseDurationOrDefault("mattermost.poll_interval", cfg.Mattermost.PollInterval, 0); iv > 0 {
		poller = mattermost.NewPoller(client, cfg.Mattermost.ChannelID, iv,
			qualify, queue, log.With(logx.String("comp", "poll")))
	}

	var webhook *mattermost.WebhookServer
	if addr := strings.TrimSpace(cfg.Mattermost.WebhookAddr); addr != "" {
		webhook = mattermost.NewWebhookServer(addr, cfg.Mattermost.WebhookToken,
			qualify, queue, log.With(logx.String("comp", "webhook")))
	}
	if poller == nil && webhook == nil {
		logs.Close()
		return nil, fmt.Errorf("no ingestion source: set mattermost.poll_interval or mattermost.webhook_addr")
	}

	a := &App{
		cfgm:       cfgm,
		logs:       logs,
		log:        log,
		bus:        bus,
		store:      store,
		adapter:    adapter,
		client:     client,
		qualify:    qualify,
		queue:      queue,
		dedup:      dedup,
		hours:      hours,
		pending:    pending,
		notifier:   notifier,
		dispatcher: dispatcher,
		correlator: correlator,
		poller:     poller,
		webhook:    webhook,
		updates:    make(chan kit.Update, 128),
	}
	ttl, _ := config.ParseDurationOrDefault("dedup.ttl", cfg.Dedup.TTL, 24*time.Hour)
	a.dedupTTL.Store(int64(ttl))
	cfgm.SetValidator(a.validateReload)
	return a, nil
}

// Start launches every loop under one supervisor, restores persisted
// state, and starts the dedup sweeper.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(false),
	)
	runCtx := a.sup.Context()

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return fmt.Errorf("start telegram adapter: %w", err)
	}

	a.restoreState(runCtx)
	a.resolveSelf()

	a.sup.Go("bridge.dispatch", a.dispatcher.Run)
	a.sup.Go0("telegram.route", a.routeUpdates)

	if a.poller != nil {
		a.sup.GoRestart("mattermost.poll", a.poller.Run,
			rtsup.WithRestartBackoff(2*time.Second, time.Minute))
	}
	if a.webhook != nil {
		a.sup.GoRestart("mattermost.webhook", a.webhook.Run,
			rtsup.WithRestartBackoff(time.Second, 30*time.Second))
	}

	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithStopOnCleanExit(true))

	a.cfgCh = a.cfgm.Subscribe(4)
	a.sup.Go0("config.apply", a.applyReloads)

	a.busCh, a.unsub = a.bus.Subscribe(64)
	a.sup.Go0("bus.mirror", a.mirrorEvents)

	a.startSweeper()

	a.log.Info("bridge started",
		logx.Bool("poller", a.poller != nil),
		logx.Bool("webhook", a.webhook != nil),
		logx.Bool("storage", a.store != nil))
	return nil
}

// restoreState reloads dedup fingerprints and pending notifications
// from storage and re-arms their deadline watchers.
func (a *App) restoreState(ctx context.Context) {
	if a.store == nil {
		return
	}
	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if seen, err := a.store.ListDedup(loadCtx); err != nil {
		a.log.Warn("dedup restore failed", logx.Err(err))
	} else if len(seen) > 0 {
		a.dedup.Restore(seen)
		a.log.Info("dedup restored", logx.Int("entries", len(seen)))
	}

	if recs, err := a.store.ListPending(loadCtx); err != nil {
		a.log.Warn("pending restore failed", logx.Err(err))
	} else if len(recs) > 0 {
		a.pending.Restore(recs, a.notifier.HandleExpiry)
		a.log.Info("pending restored", logx.Int("entries", len(recs)))
	}
}

// resolveSelf discovers the bridge's own source identity so its posts
// never feed back into the pipeline. Keeps retrying until it works;
// the configured bot_user_id (if any) covers the gap.
func (a *App) resolveSelf() {
	a.sup.GoRestart("mattermost.identify", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		me, err := a.client.GetMe(callCtx)
		if err != nil {
			return err
		}
		a.dispatcher.SetSelfID(me.ID)
		a.log.Info("source identity resolved",
			logx.String("user_id", me.ID), logx.String("username", me.Username))
		return nil
	}, rtsup.WithRestartBackoff(5*time.Second, 5*time.Minute))
}

// routeUpdates feeds escalation-chat replies into the correlator.
func (a *App) routeUpdates(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			if up.Message == nil {
				continue
			}
			a.correlator.OnReply(ctx, *up.Message)
		}
	}
}

// applyReloads pushes validated config snapshots into the live
// components. Connection-level settings (tokens, chat ids, listen
// addresses) intentionally require a restart.
func (a *App) applyReloads(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgCh:
			if !ok {
				return
			}
			a.applyConfig(cfg)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logxConfig(cfg.Logging))

	zones, err := buildZones(cfg.WorkHours)
	if err != nil {
		// Validate gates reloads, so this is unreachable in practice.
		a.log.Error("reload zones rejected", logx.Err(err))
	} else {
		a.hours.SetZones(zones)
	}

	if err := a.qualify.SetPattern(qualifyPattern(cfg)); err != nil {
		a.log.Error("reload qualify pattern rejected", logx.Err(err))
	}

	a.notifier.Apply(notifierConfig(cfg.Bridge))
	a.dispatcher.SetAckText(cfg.Bridge.AckText)
	if cfg.Mattermost.BotUserID != "" {
		a.dispatcher.SetSelfID(cfg.Mattermost.BotUserID)
	}
	if ttl, err := config.ParseDurationOrDefault("dedup.ttl", cfg.Dedup.TTL, 24*time.Hour); err == nil {
		a.dedupTTL.Store(int64(ttl))
	}

	a.log.Info("config applied")
}

func (a *App) validateReload(ctx context.Context, cfg *config.Config) error {
	if _, err := buildZones(cfg.WorkHours); err != nil {
		return err
	}
	return nil
}

// mirrorEvents logs pipeline events at debug so a single log stream
// tells the whole story of each message.
func (a *App) mirrorEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-a.busCh:
			if !ok {
				return
			}
			a.log.Debug("pipeline event",
				logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}

func (a *App) startSweeper() {
	spec := strings.TrimSpace(a.cfgm.Get().Dedup.SweepSchedule)
	if spec == "" {
		spec = "@hourly"
	}
	c := cron.New()
	sweep := func() {
		ttl := time.Duration(a.dedupTTL.Load())
		if n := a.dedup.Prune(ttl); n > 0 {
			a.log.Info("dedup pruned", logx.Int("removed", n), logx.Duration("ttl", ttl))
		}
	}
	if _, err := c.AddFunc(spec, sweep); err != nil {
		// Validate does not parse cron specs; fall back rather than fail startup.
		a.log.Warn("invalid dedup sweep schedule, using @hourly",
			logx.String("spec", spec), logx.Err(err))
		_, _ = c.AddFunc("@hourly", sweep)
	}
	c.Start()
	a.sweeper = c
}

// Stop unwinds the app in stages, each bounded so one stuck component
// cannot stall the whole shutdown.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
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
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("sweeper", 3*time.Second, func(c context.Context) error {
		if a.sweeper == nil {
			return nil
		}
		select {
		case <-a.sweeper.Stop().Done():
		case <-c.Done():
			return c.Err()
		}
		return nil
	})

	step("supervisor", 8*time.Second, func(c context.Context) error {
		return a.sup.Wait(c)
	})

	step("telegram", 5*time.Second, a.adapter.Stop)

	// After this point no watcher fires; persisted pending rows stay
	// in place for the next start.
	step("pending", 2*time.Second, func(context.Context) error {
		a.pending.Stop()
		return nil
	})

	if a.unsub != nil {
		a.unsub()
	}
	if a.cfgCh != nil {
		a.cfgm.Unsubscribe(a.cfgCh)
	}

	step("storage", 3*time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

func logxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Telegram.Enabled,
			MinLevel:   c.Telegram.MinLevel,
			RatePerSec: c.Telegram.RatePerSec,
		},
	}
}

func notifierConfig(c config.BridgeConfig) bridge.NotifierConfig {
	deadline, _ := config.ParseDurationOrDefault("bridge.response_deadline", c.ResponseDeadline, time.Hour)
	lookup, _ := config.ParseDurationOrDefault("bridge.lookup_timeout", c.LookupTimeout, 3*time.Second)
	return bridge.NotifierConfig{
		Deadline:      deadline,
		RatePerSec:    c.RatePerSec,
		RetryMax:      c.RetryMax,
		LookupTimeout: lookup,
	}
}

func buildZones(c config.WorkHoursConfig) ([]bridge.ZoneWindow, error) {
	zones := make([]bridge.ZoneWindow, 0, len(c.Zones))
	for i, z := range c.Zones {
		zw, err := bridge.ParseZoneWindow(z.Location, z.Start, z.End)
		if err != nil {
			return nil, fmt.Errorf("work_hours.zones[%d]: %w", i, err)
		}
		zones = append(zones, zw)
	}
	return zones, nil
}

func qualifyPattern(cfg *config.Config) string {
	if p := strings.TrimSpace(cfg.Mattermost.QualifyPattern); p != "" {
		return p
	}
	return config.DefaultQualifyPattern
}

func openStorage(c *config.StorageConfig, log logx.Logger) (storage.Store, error) {
	if c == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      c.Driver,
		Path:        c.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
}
