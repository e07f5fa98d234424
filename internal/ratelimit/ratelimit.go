// Package ratelimit tracks per-platform send volume over rolling minute and
// hour windows.
//
// Counters are in-memory only and reset on restart: this is a soft ceiling to
// protect the transport, not exact accounting.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"shopbot/internal/storage"
	"shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

type Config struct {
	PerMinute int
	PerHour   int
	// BaseDelay is the base inter-send delay used by OptimalDelay.
	BaseDelay time.Duration
}

const (
	defaultPerMinute = 20
	defaultPerHour   = 250
	defaultBaseDelay = 2 * time.Second
)

// AuditSink receives one row per RegisterSend call. Usually the storage layer.
type AuditSink interface {
	AppendRateAudit(ctx context.Context, a storage.RateAudit) error
}

type counters struct {
	minuteStart time.Time
	hourStart   time.Time
	countMinute int
	countHour   int
}

type Limiter struct {
	mu    sync.Mutex
	cfg   Config
	perPl map[transport.Platform]*counters

	audit AuditSink
	log   logx.Logger
}

// New creates a limiter. audit may be nil (no audit rows are written).
func New(cfg Config, audit AuditSink, log logx.Logger) *Limiter {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = defaultPerMinute
	}
	if cfg.PerHour <= 0 {
		cfg.PerHour = defaultPerHour
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Limiter{cfg: cfg, perPl: map[transport.Platform]*counters{}, audit: audit, log: log}
}

// Apply swaps the ceilings at runtime. Running windows keep their counts.
func (l *Limiter) Apply(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg.PerMinute > 0 {
		l.cfg.PerMinute = cfg.PerMinute
	}
	if cfg.PerHour > 0 {
		l.cfg.PerHour = cfg.PerHour
	}
	if cfg.BaseDelay > 0 {
		l.cfg.BaseDelay = cfg.BaseDelay
	}
}

// CanSend reports whether a send on the platform is allowed right now.
// It rolls the minute/hour windows forward as a side effect.
func (l *Limiter) CanSend(platform transport.Platform, now time.Time) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.roll(platform, now)
	if c.countMinute >= l.cfg.PerMinute {
		return false, "minute ceiling reached"
	}
	if c.countHour >= l.cfg.PerHour {
		return false, "hour ceiling reached"
	}
	return true, ""
}

// RegisterSend counts one attempt. Failed attempts count too, so a failing
// transport is not hammered harder than a healthy one. An audit row is
// written best-effort.
func (l *Limiter) RegisterSend(ctx context.Context, platform transport.Platform, success bool, now time.Time) {
	l.mu.Lock()
	c := l.roll(platform, now)
	c.countMinute++
	c.countHour++
	row := storage.RateAudit{
		At:          now,
		Platform:    platform,
		Success:     success,
		CountMinute: c.countMinute,
		CountHour:   c.countHour,
	}
	audit := l.audit
	l.mu.Unlock()

	if audit != nil {
		if err := audit.AppendRateAudit(ctx, row); err != nil {
			l.log.Warn("rate audit append failed", logx.String("platform", string(platform)), logx.Err(err))
		}
	}
}

// OptimalDelay returns the inter-send delay for a platform, scaled up by
// recent failures: base * (1 + 0.5 * recentFailures).
func (l *Limiter) OptimalDelay(platform transport.Platform, recentFailures int) time.Duration {
	l.mu.Lock()
	base := l.cfg.BaseDelay
	l.mu.Unlock()
	if recentFailures < 0 {
		recentFailures = 0
	}
	return time.Duration(float64(base) * (1 + 0.5*float64(recentFailures)))
}

// roll resets a window whose span has elapsed. Caller holds the mutex.
func (l *Limiter) roll(platform transport.Platform, now time.Time) *counters {
	c := l.perPl[platform]
	if c == nil {
		c = &counters{minuteStart: now, hourStart: now}
		l.perPl[platform] = c
		return c
	}
	if now.Sub(c.minuteStart) >= time.Minute {
		c.minuteStart = now
		c.countMinute = 0
	}
	if now.Sub(c.hourStart) >= time.Hour {
		c.hourStart = now
		c.countHour = 0
	}
	return c
}
