package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"shopbot/internal/config"
	"shopbot/internal/dispatch"
	"shopbot/internal/eventbus"
	"shopbot/internal/ratelimit"
	"shopbot/internal/runtime/supervisor"
	"shopbot/internal/sender"
	"shopbot/internal/storage"
	"shopbot/internal/transport/telegram"
	logx "shopbot/pkg/logx"
)

const defaultTickSchedule = "@every 1m"

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	limiter *ratelimit.Limiter
	pool    *sender.Sender
	coords  map[string]*dispatch.Coordinator

	cronMu    sync.Mutex
	cron      *cron.Cron
	tickEntry cron.EntryID
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	rc, err := mapRateConfig(cfg)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(rc, store, log.With(logx.String("comp", "ratelimit")))

	pc, err := mapSenderConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool := sender.New(pc, log.With(logx.String("comp", "sender")))

	sendTimeout, err := config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	for i, token := range cfg.Telegram.Tokens {
		tg, err := telegram.New(telegram.Config{
			Token:       token,
			SendTimeout: sendTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("telegram.tokens[%d]: %w", i, err)
		}
		pool.Register(tg)
		log.Info("credential registered", logx.String("label", tg.Label()))
	}

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()
	coords := make(map[string]*dispatch.Coordinator, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		scope := storage.Scope{Tenant: t.Name}
		co := dispatch.New(dc, scope, store, pool, limiter,
			log.With(logx.String("comp", "dispatch")))
		co.SetBus(bus)
		coords[t.Name] = co
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Dispatch.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("dispatch.timezone: invalid %q: %w", tz, err)
		}
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		limiter: limiter,
		pool:    pool,
		coords:  coords,
		cron:    cron.New(cron.WithLocation(loc)),
	}, nil
}

// Coordinator returns the dispatch coordinator for a tenant (nil when unknown).
func (a *App) Coordinator(tenant string) *dispatch.Coordinator {
	return a.coords[tenant]
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapRateConfig(cfg); err != nil {
			return err
		}
		if _, err := mapSenderConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDispatchConfig(cfg); err != nil {
			return err
		}
		if spec := strings.TrimSpace(cfg.Dispatch.Schedule); spec != "" {
			if _, err := cron.ParseStandard(spec); err != nil {
				return fmt.Errorf("dispatch.schedule: invalid %q: %w", spec, err)
			}
		}
		if tz := strings.TrimSpace(cfg.Dispatch.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("dispatch.timezone: invalid %q: %w", tz, err)
			}
		}
		return nil
	})

	cfg := a.cfgm.Get()
	if cfg.Dispatch.Enabled {
		if err := a.startDispatch(cfg.Dispatch.Schedule); err != nil {
			return err
		}
	}
	a.cron.Start()

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// Dispatch outcomes for observability/debug (components can also subscribe themselves).
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	a.log.Info("app started",
		logx.Int("tenants", len(a.coords)),
		logx.Bool("dispatch", cfg.Dispatch.Enabled))
	return nil
}

// applyConfig pushes a validated config into the running components.
// Telegram tokens and storage settings are bound at startup; changes there
// log a restart warning instead of being applied live.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	// validator already accepted these; errors here mean a race, keep previous
	if rc, err := mapRateConfig(cfg); err == nil {
		a.limiter.Apply(rc)
	}
	if pc, err := mapSenderConfig(cfg); err == nil {
		a.pool.Apply(pc)
	}
	if dc, err := mapDispatchConfig(cfg); err == nil {
		for _, co := range a.coords {
			co.Apply(dc)
		}
	}

	for _, t := range cfg.Tenants {
		if _, ok := a.coords[t.Name]; !ok {
			a.log.Warn("tenant added in config; restart required", logx.String("tenant", t.Name))
		}
	}

	a.cronMu.Lock()
	running := a.tickEntry != 0
	a.cronMu.Unlock()
	switch {
	case cfg.Dispatch.Enabled && !running:
		if err := a.startDispatch(cfg.Dispatch.Schedule); err != nil {
			a.log.Warn("dispatch enable failed", logx.Err(err))
		} else {
			a.log.Info("dispatch enabled via config")
		}
	case !cfg.Dispatch.Enabled && running:
		a.stopDispatch()
		a.log.Info("dispatch disabled via config")
	}

	a.log.Info("config reloaded")
}

func (a *App) startDispatch(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = defaultTickSchedule
	}
	a.cronMu.Lock()
	defer a.cronMu.Unlock()
	if a.tickEntry != 0 {
		return nil
	}
	id, err := a.cron.AddFunc(spec, a.tickAll)
	if err != nil {
		return fmt.Errorf("dispatch.schedule: %w", err)
	}
	a.tickEntry = id
	a.log.Info("dispatch trigger scheduled", logx.String("schedule", spec))
	return nil
}

func (a *App) stopDispatch() {
	a.cronMu.Lock()
	defer a.cronMu.Unlock()
	if a.tickEntry == 0 {
		return
	}
	a.cron.Remove(a.tickEntry)
	a.tickEntry = 0
}

// tickAll runs one dispatch pass for every tenant. Tenants are independent:
// one failing repository doesn't block the others.
func (a *App) tickAll() {
	ctx := a.sup.Context()
	now := time.Now()
	for tenant, co := range a.coords {
		if ctx.Err() != nil {
			return
		}
		fired, err := co.Tick(ctx, now)
		if err != nil {
			a.log.Error("dispatch tick failed", logx.String("tenant", tenant), logx.Err(err))
			continue
		}
		if fired > 0 {
			a.log.Info("dispatch tick", logx.String("tenant", tenant), logx.Int("fired", fired))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	a.sup.Cancel()

	cronCtx := a.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
		a.log.Warn("cron jobs still running at shutdown deadline")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := a.sup.Wait(waitCtx)
	cancel()
	if err != nil && err != context.DeadlineExceeded {
		a.log.Warn("shutdown wait", logx.Err(err))
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close", logx.Err(err))
		}
	}

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// ---- Config mapping ----

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "./shopbot.db"
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapRateConfig(cfg *config.Config) (ratelimit.Config, error) {
	base, err := config.ParseDurationField("dispatch.base_delay", cfg.Dispatch.BaseDelay)
	if err != nil {
		return ratelimit.Config{}, err
	}
	if cfg.Dispatch.RatePerMinute < 0 {
		return ratelimit.Config{}, fmt.Errorf("dispatch.rate_per_minute must be >= 0")
	}
	if cfg.Dispatch.RatePerHour < 0 {
		return ratelimit.Config{}, fmt.Errorf("dispatch.rate_per_hour must be >= 0")
	}
	return ratelimit.Config{
		PerMinute: cfg.Dispatch.RatePerMinute,
		PerHour:   cfg.Dispatch.RatePerHour,
		BaseDelay: base,
	}, nil
}

func mapSenderConfig(cfg *config.Config) (sender.Config, error) {
	spacing, err := config.ParseDurationField("dispatch.credential_spacing", cfg.Dispatch.CredentialSpacing)
	if err != nil {
		return sender.Config{}, err
	}
	return sender.Config{Spacing: spacing}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	tol, err := config.ParseDurationField("dispatch.tolerance", cfg.Dispatch.Tolerance)
	if err != nil {
		return dispatch.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("dispatch.send_timeout", cfg.Dispatch.SendTimeout)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Tolerance:   tol,
		SendTimeout: sendTimeout,
	}, nil
}
