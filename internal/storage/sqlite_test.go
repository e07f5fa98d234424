package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"shopbot/internal/timetable"
	"shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "shopbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var testScope = Scope{Tenant: "acme"}

// Monday 2024-04-01.
func mondayAt(hh, mm int) time.Time {
	return time.Date(2024, 4, 1, hh, mm, 0, 0, time.UTC)
}

func seedCampaign(t *testing.T, st Store, active bool) Campaign {
	t.Helper()
	c := Campaign{Text: "spring sale", Active: active}
	if err := st.CreateCampaign(context.Background(), testScope, &c); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c
}

func seedSchedule(t *testing.T, st Store, campaignID int64, tt timetable.Table) Schedule {
	t.Helper()
	s := Schedule{
		CampaignID: campaignID,
		TimeTable:  tt,
		Platforms:  []transport.Platform{transport.PlatformTelegram},
		Active:     true,
	}
	if err := st.CreateSchedule(context.Background(), testScope, &s); err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	return s
}

func TestDueSchedulesWindowAndMarker(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	tol := 2 * time.Minute

	c := seedCampaign(t, st, true)
	s := seedSchedule(t, st, c.ID, timetable.Table{"senin": {"10:00", "18:00"}})

	due, err := st.DueSchedules(ctx, testScope, mondayAt(10, 1), tol)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].Schedule.ID != s.ID {
		t.Fatalf("expected schedule %d due, got %+v", s.ID, due)
	}
	if len(due[0].DuePlatforms) != 1 || due[0].DuePlatforms[0] != transport.PlatformTelegram {
		t.Fatalf("unexpected due platforms %v", due[0].DuePlatforms)
	}
	if due[0].Campaign.Text != "spring sale" {
		t.Fatalf("campaign not joined: %+v", due[0].Campaign)
	}

	// Outside the window: not due.
	if due, _ := st.DueSchedules(ctx, testScope, mondayAt(10, 4), tol); len(due) != 0 {
		t.Fatalf("10:04 should be outside ±2min of 10:00, got %+v", due)
	}

	// After firing, the same slot is no longer due, but the 18:00 slot is.
	if err := st.RecordFired(ctx, testScope, s.ID, transport.PlatformTelegram, mondayAt(10, 1), tol); err != nil {
		t.Fatalf("record fired: %v", err)
	}
	if due, _ := st.DueSchedules(ctx, testScope, mondayAt(10, 2), tol); len(due) != 0 {
		t.Fatalf("fired slot must not re-fire at 10:02, got %+v", due)
	}
	due, _ = st.DueSchedules(ctx, testScope, mondayAt(18, 0), tol)
	if len(due) != 1 {
		t.Fatalf("18:00 slot should be due, got %+v", due)
	}
}

func TestDueSchedulesRespectsActiveFlags(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	tt := timetable.Table{"monday": {"10:00"}}

	inactiveCampaign := seedCampaign(t, st, false)
	seedSchedule(t, st, inactiveCampaign.ID, tt)

	activeCampaign := seedCampaign(t, st, true)
	s := seedSchedule(t, st, activeCampaign.ID, tt)
	s.Active = false
	if err := st.UpdateSchedule(ctx, testScope, s); err != nil {
		t.Fatalf("update: %v", err)
	}

	if due, _ := st.DueSchedules(ctx, testScope, mondayAt(10, 0), time.Minute); len(due) != 0 {
		t.Fatalf("inactive schedule/campaign must never be due, got %+v", due)
	}
}

func TestDueSchedulesJoinsLiveCampaign(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	c := seedCampaign(t, st, true)
	seedSchedule(t, st, c.ID, timetable.Table{"monday": {"10:00"}})

	// Edit the campaign after scheduling: the edit must be visible at fire time.
	c.Text = "updated body"
	if err := st.UpdateCampaign(ctx, testScope, c); err != nil {
		t.Fatalf("update campaign: %v", err)
	}

	due, _ := st.DueSchedules(ctx, testScope, mondayAt(10, 0), time.Minute)
	if len(due) != 1 || due[0].Campaign.Text != "updated body" {
		t.Fatalf("expected live campaign snapshot, got %+v", due)
	}
}

func TestRecordFiredMonotonic(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	tol := 2 * time.Minute

	c := seedCampaign(t, st, true)
	s := seedSchedule(t, st, c.ID, timetable.Table{"monday": {"10:00"}})

	if err := st.RecordFired(ctx, testScope, s.ID, transport.PlatformTelegram, mondayAt(10, 1), tol); err != nil {
		t.Fatalf("record fired: %v", err)
	}
	got, err := st.GetSchedule(ctx, testScope, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first := got.Markers[transport.PlatformTelegram]

	// An out-of-order write with an older instant must not move markers back.
	if err := st.RecordFired(ctx, testScope, s.ID, transport.PlatformTelegram, mondayAt(9, 0), tol); err != nil {
		t.Fatalf("record fired (older): %v", err)
	}
	got, _ = st.GetSchedule(ctx, testScope, s.ID)
	second := got.Markers[transport.PlatformTelegram]
	if second.NextEligible.Before(first.NextEligible) || second.LastFired.Before(first.LastFired) {
		t.Fatalf("marker moved backward: %+v -> %+v", first, second)
	}
}

func TestScheduleCRUDAndValidation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	c := seedCampaign(t, st, true)

	bad := Schedule{CampaignID: c.ID, TimeTable: timetable.Table{"monday": {"29:00"}}, Platforms: []transport.Platform{transport.PlatformTelegram}}
	if err := st.CreateSchedule(ctx, testScope, &bad); err == nil {
		t.Fatalf("malformed time table must be rejected")
	}

	s := seedSchedule(t, st, c.ID, timetable.Table{"monday": {"10:00"}})
	if s.ID != 1 {
		t.Fatalf("first schedule id = %d, want 1", s.ID)
	}
	if err := st.DeleteSchedule(ctx, testScope, s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetSchedule(ctx, testScope, s.ID); err != ErrNotFound {
		t.Fatalf("get after delete: %v, want ErrNotFound", err)
	}
	if err := st.DeleteSchedule(ctx, testScope, 99); err != ErrNotFound {
		t.Fatalf("delete missing: %v, want ErrNotFound", err)
	}
}

func TestDeleteKeepsIDsCompactRenumbers(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, st, true)
	tt := timetable.Table{"monday": {"10:00"}}

	s1 := seedSchedule(t, st, c.ID, tt)
	s2 := seedSchedule(t, st, c.ID, tt)
	s3 := seedSchedule(t, st, c.ID, tt)

	if err := st.RecordFired(ctx, testScope, s3.ID, transport.PlatformTelegram, mondayAt(10, 0), time.Minute); err != nil {
		t.Fatalf("record fired: %v", err)
	}
	if err := st.DeleteSchedule(ctx, testScope, s2.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Plain delete leaves a gap.
	list, _ := st.ListSchedules(ctx, testScope)
	if len(list) != 2 || list[0].ID != s1.ID || list[1].ID != s3.ID {
		t.Fatalf("delete must not renumber, got %+v", list)
	}

	// Explicit compaction closes it, and markers follow their schedule.
	if err := st.CompactSchedules(ctx, testScope); err != nil {
		t.Fatalf("compact: %v", err)
	}
	list, _ = st.ListSchedules(ctx, testScope)
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 2 {
		t.Fatalf("compact should renumber to 1..N, got %+v", list)
	}
	if _, ok := list[1].Markers[transport.PlatformTelegram]; !ok {
		t.Fatalf("marker lost during compact: %+v", list[1])
	}
}

func TestLedgerAppendAndFilter(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	sid := int64(7)

	rows := []SendAttempt{
		{ID: "a1", ScheduleID: &sid, CampaignID: 1, DestinationID: 1, Platform: transport.PlatformTelegram, At: mondayAt(10, 0), Outcome: OutcomeSent},
		{ID: "a2", ScheduleID: &sid, CampaignID: 1, DestinationID: 2, Platform: transport.PlatformTelegram, At: mondayAt(10, 0), Outcome: OutcomeFailed, Reason: "blocked"},
		{ID: "a3", CampaignID: 2, DestinationID: 1, Platform: transport.PlatformTelegram, At: mondayAt(11, 0), Outcome: OutcomeSent},
	}
	for _, a := range rows {
		if err := st.AppendAttempt(ctx, testScope, a); err != nil {
			t.Fatalf("append %s: %v", a.ID, err)
		}
	}

	all, err := st.ListAttempts(ctx, testScope, AttemptFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("want 3 rows, got %d", len(all))
	}

	failed, _ := st.ListAttempts(ctx, testScope, AttemptFilter{Outcome: OutcomeFailed})
	if len(failed) != 1 || failed[0].ID != "a2" || failed[0].Reason != "blocked" {
		t.Fatalf("failed filter: %+v", failed)
	}

	byCampaign, _ := st.ListAttempts(ctx, testScope, AttemptFilter{CampaignID: 2})
	if len(byCampaign) != 1 || byCampaign[0].ScheduleID != nil {
		t.Fatalf("ad-hoc row should have nil schedule id: %+v", byCampaign)
	}

	bySchedule, _ := st.ListAttempts(ctx, testScope, AttemptFilter{ScheduleID: sid})
	if len(bySchedule) != 2 {
		t.Fatalf("schedule filter: %+v", bySchedule)
	}

	// Other tenants see nothing.
	other, _ := st.ListAttempts(ctx, Scope{Tenant: "globex"}, AttemptFilter{})
	if len(other) != 0 {
		t.Fatalf("tenant leak: %+v", other)
	}
}

func TestDestinations(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	d1 := Destination{Platform: transport.PlatformTelegram, ChatID: -100123, Active: true}
	d2 := Destination{Platform: transport.PlatformTelegram, ChatID: -100456, ThreadID: 9, Active: true}
	d3 := Destination{Platform: transport.Platform("other"), ChatID: 1, Active: true}
	for _, d := range []*Destination{&d1, &d2, &d3} {
		if err := st.CreateDestination(ctx, testScope, d); err != nil {
			t.Fatalf("create destination: %v", err)
		}
	}
	d2.Active = false
	if err := st.UpdateDestination(ctx, testScope, d2); err != nil {
		t.Fatalf("update: %v", err)
	}

	tg, err := st.ListDestinations(ctx, testScope, transport.PlatformTelegram)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tg) != 1 || tg[0].ID != d1.ID {
		t.Fatalf("expected only active telegram destination, got %+v", tg)
	}

	byID, _ := st.GetDestinations(ctx, testScope, []int64{d1.ID, d2.ID})
	if len(byID) != 2 {
		t.Fatalf("GetDestinations: %+v", byID)
	}
}

func TestRateAudit(t *testing.T) {
	st := openTestStore(t)
	a := RateAudit{Platform: transport.PlatformTelegram, Success: true, CountMinute: 1, CountHour: 1}
	if err := st.AppendRateAudit(context.Background(), a); err != nil {
		t.Fatalf("append rate audit: %v", err)
	}
}
