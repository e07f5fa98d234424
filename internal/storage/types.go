package storage

import (
	"context"
	"errors"
	"time"

	"shopbot/internal/timetable"
	"shopbot/internal/transport"
)

var (
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty, "sqlite" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Scope is the explicit tenant handle passed into every store operation.
// There is intentionally no process-global "current tenant".
type Scope struct {
	Tenant string
}

// Marker is the per-platform idempotency boundary of one schedule.
// NextEligible only moves forward; a schedule fires at most once per slot.
type Marker struct {
	LastFired    time.Time
	NextEligible time.Time
}

// Schedule is a recurring rule mapping weekdays to send times for one campaign.
type Schedule struct {
	ID         int64
	CampaignID int64
	TimeTable  timetable.Table
	Platforms  []transport.Platform
	// DestinationIDs is the explicit target list. nil means "all active
	// destinations in the schedule's platform scope".
	DestinationIDs []int64
	Active         bool
	Markers        map[transport.Platform]Marker
}

// Campaign is reusable message content, sendable ad hoc or via schedules.
type Campaign struct {
	ID        int64
	Text      string
	MediaRef  string
	MediaKind transport.MediaKind
	Button1   transport.Button
	Button2   transport.Button
	Active    bool
}

// Destination is an external channel/group eligible to receive sends.
// Ownership lives outside this engine; the dispatcher only reads it.
type Destination struct {
	ID       int64
	Platform transport.Platform
	ChatID   int64
	ThreadID int
	Active   bool
}

type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// SendAttempt is one delivery-ledger row. Append-only, never mutated.
type SendAttempt struct {
	ID            string // uuid
	ScheduleID    *int64 // nil for ad-hoc sends
	CampaignID    int64
	DestinationID int64
	Platform      transport.Platform
	At            time.Time
	Outcome       Outcome
	Reason        string // failure classification; empty on success
}

// AttemptFilter narrows ListAttempts. Zero fields are ignored.
type AttemptFilter struct {
	CampaignID int64
	ScheduleID int64
	Outcome    Outcome
	Since      time.Time
	Limit      int
}

// RateAudit records one rate-limiter registration (success or failure).
type RateAudit struct {
	At          time.Time
	Platform    transport.Platform
	Success     bool
	CountMinute int
	CountHour   int
}

// DueSchedule is a schedule the dispatcher should serve now, joined against
// the live campaign row (content edits between scheduling and firing are
// picked up on purpose).
type DueSchedule struct {
	Schedule Schedule
	Campaign Campaign
	// DuePlatforms lists the platforms whose marker allows firing now.
	DuePlatforms []transport.Platform
}

// Store is the persistence API used by the dispatch engine and the admin glue.
type Store interface {
	// Schedules.
	CreateSchedule(ctx context.Context, scope Scope, s *Schedule) error
	UpdateSchedule(ctx context.Context, scope Scope, s Schedule) error
	// DeleteSchedule removes one schedule. Remaining ids keep their values;
	// use CompactSchedules for the legacy contiguous renumbering.
	DeleteSchedule(ctx context.Context, scope Scope, id int64) error
	GetSchedule(ctx context.Context, scope Scope, id int64) (Schedule, error)
	ListSchedules(ctx context.Context, scope Scope) ([]Schedule, error)
	// CompactSchedules renumbers schedule ids to be contiguous starting at 1.
	// Ledger rows keep the ids that were current when they were written.
	CompactSchedules(ctx context.Context, scope Scope) error

	// DueSchedules returns schedules where the schedule and campaign are
	// active, the time table matches now within tol, and at least one target
	// platform has no marker or a marker that is not in the future.
	DueSchedules(ctx context.Context, scope Scope, now time.Time, tol time.Duration) ([]DueSchedule, error)
	// RecordFired advances the schedule's per-platform marker. The marker
	// never moves backward.
	RecordFired(ctx context.Context, scope Scope, scheduleID int64, platform transport.Platform, firedAt time.Time, tol time.Duration) error

	// Campaigns.
	CreateCampaign(ctx context.Context, scope Scope, c *Campaign) error
	UpdateCampaign(ctx context.Context, scope Scope, c Campaign) error
	DeleteCampaign(ctx context.Context, scope Scope, id int64) error
	GetCampaign(ctx context.Context, scope Scope, id int64) (Campaign, error)
	ListCampaigns(ctx context.Context, scope Scope) ([]Campaign, error)

	// Destinations.
	CreateDestination(ctx context.Context, scope Scope, d *Destination) error
	UpdateDestination(ctx context.Context, scope Scope, d Destination) error
	DeleteDestination(ctx context.Context, scope Scope, id int64) error
	// ListDestinations returns active destinations, optionally filtered by
	// platform ("" means all platforms).
	ListDestinations(ctx context.Context, scope Scope, platform transport.Platform) ([]Destination, error)
	GetDestinations(ctx context.Context, scope Scope, ids []int64) ([]Destination, error)

	// Delivery ledger.
	AppendAttempt(ctx context.Context, scope Scope, a SendAttempt) error
	ListAttempts(ctx context.Context, scope Scope, f AttemptFilter) ([]SendAttempt, error)

	// Rate limiter audit.
	AppendRateAudit(ctx context.Context, a RateAudit) error

	Close() error
}
