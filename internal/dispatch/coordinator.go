package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"shopbot/internal/eventbus"
	"shopbot/internal/ratelimit"
	"shopbot/internal/sender"
	"shopbot/internal/storage"
	"shopbot/internal/timetable"
	"shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

type Config struct {
	// Tolerance is the ± window around a configured slot. Must exceed half
	// the polling interval or slots can be missed between ticks.
	Tolerance time.Duration
	// SendTimeout bounds each transport call so one slow destination cannot
	// starve the tick.
	SendTimeout time.Duration
}

const defaultSendTimeout = 30 * time.Second

// Coordinator runs one evaluation pass per Tick for a single tenant scope.
type Coordinator struct {
	scope   storage.Scope
	store   storage.Store
	sender  *sender.Sender
	limiter *ratelimit.Limiter
	log     logx.Logger
	bus     eventbus.Bus

	mu  sync.Mutex
	cfg Config
	// pace spreads load between distinct schedules on the same platform.
	// The interval follows the rate limiter's failure-scaled optimal delay.
	pace map[transport.Platform]*rate.Limiter

	ticking atomic.Bool
}

func New(cfg Config, scope storage.Scope, st storage.Store, snd *sender.Sender, lim *ratelimit.Limiter, log logx.Logger) *Coordinator {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = timetable.DefaultTolerance
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		scope:   scope,
		store:   st,
		sender:  snd,
		limiter: lim,
		log:     log.With(logx.String("tenant", scope.Tenant)),
		cfg:     cfg,
		pace:    map[transport.Platform]*rate.Limiter{},
	}
}

// SetBus installs an optional event bus. Dispatch outcomes are published to
// it for observers; nil disables publishing.
func (c *Coordinator) SetBus(bus eventbus.Bus) { c.bus = bus }

func (c *Coordinator) publish(typ string, data any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// Apply swaps the tick knobs at runtime.
func (c *Coordinator) Apply(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.Tolerance > 0 {
		c.cfg.Tolerance = cfg.Tolerance
	}
	if cfg.SendTimeout > 0 {
		c.cfg.SendTimeout = cfg.SendTimeout
	}
}

// Tick runs one evaluation pass at the given instant and returns how many
// schedule-platform slots fired. Per-schedule failures are logged and
// swallowed; only a failure to reach the repository propagates. Overlapping
// invocations are skipped, not queued.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) (int, error) {
	if !c.ticking.CompareAndSwap(false, true) {
		c.log.Warn("tick still running, skipping this invocation")
		return 0, nil
	}
	defer c.ticking.Store(false)

	c.mu.Lock()
	tol := c.cfg.Tolerance
	c.mu.Unlock()

	due, err := c.store.DueSchedules(ctx, c.scope, now, tol)
	if err != nil {
		return 0, fmt.Errorf("due schedules: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}
	c.log.Debug("tick", logx.Time("now", now), logx.Int("due", len(due)))

	fired := 0
	for i := range due {
		if ctx.Err() != nil {
			// Cancellation mid-tick is safe: written ledger rows and markers
			// stay valid, unprocessed schedules run next tick.
			break
		}
		n, err := c.processSchedule(ctx, due[i], now)
		if err != nil {
			c.log.Error("schedule processing failed",
				logx.Int64("schedule", due[i].Schedule.ID), logx.Err(err))
			continue
		}
		fired += n
	}
	return fired, nil
}

func (c *Coordinator) processSchedule(ctx context.Context, d storage.DueSchedule, now time.Time) (int, error) {
	fired := 0
	for _, platform := range d.DuePlatforms {
		if c.sender.Credentials(platform) == 0 {
			// No credentials means nothing can be attempted: no ledger rows,
			// no limiter registration. The schedule keeps its platform entry
			// and starts firing once a credential is registered.
			c.log.Debug("no credentials for platform, skipping",
				logx.Int64("schedule", d.Schedule.ID),
				logx.String("platform", string(platform)))
			continue
		}
		if ok, reason := c.limiter.CanSend(platform, now); !ok {
			// Pre-emptive skip: the schedule is not marked fired and stays
			// due, so the slot is delayed to a later tick, never lost.
			c.log.Info("rate limit reached, deferring schedule",
				logx.Int64("schedule", d.Schedule.ID),
				logx.String("platform", string(platform)),
				logx.String("reason", reason))
			continue
		}
		if err := c.pacer(platform).Wait(ctx); err != nil {
			return fired, err
		}

		dests, err := c.resolveDestinations(ctx, d.Schedule, platform)
		if err != nil {
			c.log.Error("destination resolution failed",
				logx.Int64("schedule", d.Schedule.ID), logx.Err(err))
			continue
		}
		if len(dests) == 0 {
			// Processed but not fired: an empty destination set is not a send.
			c.log.Debug("schedule has no destinations",
				logx.Int64("schedule", d.Schedule.ID), logx.String("platform", string(platform)))
			continue
		}

		succeeded, failed := 0, 0
		for _, dest := range dests {
			if ctx.Err() != nil {
				break
			}
			if c.sendOne(ctx, &d, dest, now) {
				succeeded++
			} else {
				failed++
			}
		}

		// Fired as soon as at least one destination got the message, even if
		// others failed: the failures are in the ledger and re-firing the
		// whole slot would duplicate the successful sends.
		if succeeded > 0 {
			if err := c.store.RecordFired(ctx, c.scope, d.Schedule.ID, platform, now, c.tolerance()); err != nil {
				c.log.Error("record fired failed",
					logx.Int64("schedule", d.Schedule.ID),
					logx.String("platform", string(platform)), logx.Err(err))
				continue
			}
			fired++
			c.log.Info("schedule fired",
				logx.Int64("schedule", d.Schedule.ID),
				logx.Int64("campaign", d.Campaign.ID),
				logx.String("platform", string(platform)),
				logx.Int("sent", succeeded), logx.Int("failed", failed))
			c.publish(eventbus.TypeScheduleFired, eventbus.ScheduleFired{
				Tenant:     c.scope.Tenant,
				ScheduleID: d.Schedule.ID,
				CampaignID: d.Campaign.ID,
				Platform:   string(platform),
				Sent:       succeeded,
				Failed:     failed,
			})
		}

		// Scale the inter-schedule pacing with the failure count just seen.
		delay := c.limiter.OptimalDelay(platform, failed)
		c.pacer(platform).SetLimit(rate.Every(delay))
	}
	return fired, nil
}

// sendOne dispatches to a single destination, appends the ledger row and
// registers the attempt with the rate limiter. It reports success.
func (c *Coordinator) sendOne(ctx context.Context, d *storage.DueSchedule, dest storage.Destination, now time.Time) bool {
	sctx, cancel := context.WithTimeout(ctx, c.sendTimeout())
	res, sendErr := c.sender.Send(sctx, dest.Platform,
		transport.Target{ChatID: dest.ChatID, ThreadID: dest.ThreadID}, d.Campaign)
	cancel()

	sid := d.Schedule.ID
	attempt := storage.SendAttempt{
		ID:            uuid.NewString(),
		ScheduleID:    &sid,
		CampaignID:    d.Campaign.ID,
		DestinationID: dest.ID,
		Platform:      dest.Platform,
		At:            now,
		Outcome:       storage.OutcomeSent,
	}
	if sendErr != nil {
		attempt.Outcome = storage.OutcomeFailed
		attempt.Reason = failureReason(res, sendErr)
		c.log.Warn("send failed",
			logx.Int64("schedule", sid),
			logx.Int64("destination", dest.ID),
			logx.String("credential", res.Credential),
			logx.String("reason", attempt.Reason))
		c.publish(eventbus.TypeSendFailed, eventbus.SendFailed{
			Tenant:        c.scope.Tenant,
			CampaignID:    d.Campaign.ID,
			DestinationID: dest.ID,
			Platform:      string(dest.Platform),
			Reason:        attempt.Reason,
		})
	}
	if err := c.store.AppendAttempt(ctx, c.scope, attempt); err != nil {
		c.log.Error("ledger append failed", logx.String("attempt", attempt.ID), logx.Err(err))
	}
	c.limiter.RegisterSend(ctx, dest.Platform, sendErr == nil, now)
	return sendErr == nil
}

// SendCampaign dispatches a campaign ad hoc, outside any schedule. Ledger
// rows are written with a null schedule id. destinationIDs nil means all
// active destinations in scope.
func (c *Coordinator) SendCampaign(ctx context.Context, campaignID int64, destinationIDs []int64) (sent, failed int, err error) {
	camp, err := c.store.GetCampaign(ctx, c.scope, campaignID)
	if err != nil {
		return 0, 0, fmt.Errorf("campaign %d: %w", campaignID, err)
	}

	var dests []storage.Destination
	if destinationIDs != nil {
		dests, err = c.store.GetDestinations(ctx, c.scope, destinationIDs)
	} else {
		dests, err = c.store.ListDestinations(ctx, c.scope, "")
	}
	if err != nil {
		return 0, 0, fmt.Errorf("destinations: %w", err)
	}

	now := time.Now()
	for _, dest := range dests {
		if !dest.Active {
			continue
		}
		if ok, reason := c.limiter.CanSend(dest.Platform, now); !ok {
			c.log.Warn("rate limit reached, ad-hoc send aborted",
				logx.String("platform", string(dest.Platform)), logx.String("reason", reason))
			failed++
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, c.sendTimeout())
		res, sendErr := c.sender.Send(sctx, dest.Platform,
			transport.Target{ChatID: dest.ChatID, ThreadID: dest.ThreadID}, camp)
		cancel()

		attempt := storage.SendAttempt{
			ID:            uuid.NewString(),
			CampaignID:    camp.ID,
			DestinationID: dest.ID,
			Platform:      dest.Platform,
			At:            now,
			Outcome:       storage.OutcomeSent,
		}
		if sendErr != nil {
			attempt.Outcome = storage.OutcomeFailed
			attempt.Reason = failureReason(res, sendErr)
			failed++
		} else {
			sent++
		}
		if err := c.store.AppendAttempt(ctx, c.scope, attempt); err != nil {
			c.log.Error("ledger append failed", logx.String("attempt", attempt.ID), logx.Err(err))
		}
		c.limiter.RegisterSend(ctx, dest.Platform, sendErr == nil, now)
	}
	c.publish(eventbus.TypeCampaignSent, eventbus.CampaignSent{
		Tenant:     c.scope.Tenant,
		CampaignID: camp.ID,
		Sent:       sent,
		Failed:     failed,
	})
	return sent, failed, nil
}

func (c *Coordinator) resolveDestinations(ctx context.Context, sc storage.Schedule, platform transport.Platform) ([]storage.Destination, error) {
	if sc.DestinationIDs != nil {
		all, err := c.store.GetDestinations(ctx, c.scope, sc.DestinationIDs)
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, d := range all {
			if d.Active && d.Platform == platform {
				out = append(out, d)
			}
		}
		return out, nil
	}
	return c.store.ListDestinations(ctx, c.scope, platform)
}

func (c *Coordinator) pacer(platform transport.Platform) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim := c.pace[platform]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(c.limiter.OptimalDelay(platform, 0)), 1)
		c.pace[platform] = lim
	}
	return lim
}

func (c *Coordinator) tolerance() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Tolerance
}

func (c *Coordinator) sendTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.SendTimeout
}

// failureReason renders a ledger reason for a failed attempt. Failures before
// any transport call (e.g. credential selection) produce a zero Result; the
// raw error keeps the row diagnosable.
func failureReason(res sender.Result, err error) string {
	if res.Reason == "" {
		if err != nil {
			return err.Error()
		}
		return ""
	}
	if res.Detail == "" || res.Reason != sender.ReasonOther {
		return string(res.Reason)
	}
	return string(res.Reason) + ": " + res.Detail
}
