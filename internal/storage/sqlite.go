package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"shopbot/internal/timetable"
	"shopbot/internal/transport"
	logx "shopbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Schedules ----

func (s *sqliteStore) CreateSchedule(ctx context.Context, scope Scope, sc *Schedule) error {
	if err := sc.TimeTable.Validate(); err != nil {
		return fmt.Errorf("time table: %w", err)
	}
	if len(sc.Platforms) == 0 {
		return errors.New("schedule needs at least one platform")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM schedules WHERE tenant = ?`, scope.Tenant,
	).Scan(&next); err != nil {
		return err
	}

	tt, plats, dests, err := marshalScheduleFields(*sc)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schedules(tenant, id, campaign_id, time_table, platforms, destination_ids, active, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		scope.Tenant, next, sc.CampaignID, tt, plats, dests, boolInt(sc.Active), time.Now().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	sc.ID = next
	return nil
}

func (s *sqliteStore) UpdateSchedule(ctx context.Context, scope Scope, sc Schedule) error {
	if err := sc.TimeTable.Validate(); err != nil {
		return fmt.Errorf("time table: %w", err)
	}
	tt, plats, dests, err := marshalScheduleFields(sc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET campaign_id=?, time_table=?, platforms=?, destination_ids=?, active=?
		 WHERE tenant=? AND id=?`,
		sc.CampaignID, tt, plats, dests, boolInt(sc.Active), scope.Tenant, sc.ID,
	)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, scope Scope, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM schedules WHERE tenant=? AND id=?`, scope.Tenant, id)
	if err != nil {
		return err
	}
	if err := oneRow(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_markers WHERE tenant=? AND schedule_id=?`, scope.Tenant, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) GetSchedule(ctx context.Context, scope Scope, id int64) (Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, campaign_id, time_table, platforms, destination_ids, active
		 FROM schedules WHERE tenant=? AND id=?`, scope.Tenant, id)
	sc, err := scanSchedule(row)
	if err != nil {
		return Schedule{}, err
	}
	if err := s.loadMarkers(ctx, scope, &sc); err != nil {
		return Schedule{}, err
	}
	return sc, nil
}

func (s *sqliteStore) ListSchedules(ctx context.Context, scope Scope) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, time_table, platforms, destination_ids, active
		 FROM schedules WHERE tenant=? ORDER BY id`, scope.Tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadMarkers(ctx, scope, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CompactSchedules renumbers ids to 1..N in ascending order. Markers follow
// their schedule; ledger rows are append-only and keep the historical ids.
func (s *sqliteStore) CompactSchedules(ctx context.Context, scope Scope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM schedules WHERE tenant=? ORDER BY id`, scope.Tenant)
	if err != nil {
		return err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// Ids only ever shrink here, and we walk ascending, so no collisions.
	for i, old := range ids {
		next := int64(i + 1)
		if next == old {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE schedules SET id=? WHERE tenant=? AND id=?`, next, scope.Tenant, old); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE schedule_markers SET schedule_id=? WHERE tenant=? AND schedule_id=?`, next, scope.Tenant, old); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ---- Due evaluation + fired markers ----

func (s *sqliteStore) DueSchedules(ctx context.Context, scope Scope, now time.Time, tol time.Duration) ([]DueSchedule, error) {
	// Join against the live campaign row: content edits made after the
	// schedule was created are intentionally picked up at send time.
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.campaign_id, s.time_table, s.platforms, s.destination_ids, s.active,
		        c.id, c.body, c.media_ref, c.media_kind,
		        c.btn1_label, c.btn1_url, c.btn2_label, c.btn2_url, c.active
		 FROM schedules s
		 JOIN campaigns c ON c.tenant = ? AND c.id = s.campaign_id
		 WHERE s.tenant = ? AND s.active = 1 AND c.active = 1
		 ORDER BY s.id`,
		scope.Tenant, scope.Tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []DueSchedule
	for rows.Next() {
		var (
			sc                   Schedule
			ca                   Campaign
			ttJSON, platsJSON    string
			destsJSON            sql.NullString
			scActive, caActive   int
			mediaRef, mediaKind  sql.NullString
			b1l, b1u, b2l, b2u   sql.NullString
		)
		if err := rows.Scan(&sc.ID, &sc.CampaignID, &ttJSON, &platsJSON, &destsJSON, &scActive,
			&ca.ID, &ca.Text, &mediaRef, &mediaKind, &b1l, &b1u, &b2l, &b2u, &caActive); err != nil {
			return nil, err
		}
		if err := unmarshalScheduleFields(&sc, ttJSON, platsJSON, destsJSON); err != nil {
			// Malformed configuration skips this schedule, never the sweep.
			s.log.Warn("skipping schedule with malformed fields",
				logx.String("tenant", scope.Tenant), logx.Int64("schedule", sc.ID), logx.Err(err))
			continue
		}
		sc.Active = scActive != 0
		ca.MediaRef = mediaRef.String
		ca.MediaKind = transport.MediaKind(mediaKind.String)
		ca.Button1 = transport.Button{Label: b1l.String, URL: b1u.String}
		ca.Button2 = transport.Button{Label: b2l.String, URL: b2u.String}
		ca.Active = caActive != 0
		candidates = append(candidates, DueSchedule{Schedule: sc, Campaign: ca})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var due []DueSchedule
	for i := range candidates {
		d := candidates[i]
		if !d.Schedule.TimeTable.Matches(now, tol) {
			continue
		}
		if err := s.loadMarkers(ctx, scope, &d.Schedule); err != nil {
			return nil, err
		}
		for _, p := range d.Schedule.Platforms {
			m, ok := d.Schedule.Markers[p]
			if !ok || !m.NextEligible.After(now) {
				d.DuePlatforms = append(d.DuePlatforms, p)
			}
		}
		if len(d.DuePlatforms) > 0 {
			due = append(due, d)
		}
	}
	return due, nil
}

func (s *sqliteStore) RecordFired(ctx context.Context, scope Scope, scheduleID int64, platform transport.Platform, firedAt time.Time, tol time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var ttJSON string
	err = tx.QueryRowContext(ctx,
		`SELECT time_table FROM schedules WHERE tenant=? AND id=?`, scope.Tenant, scheduleID,
	).Scan(&ttJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	var tt timetable.Table
	if err := json.Unmarshal([]byte(ttJSON), &tt); err != nil {
		return fmt.Errorf("time table: %w", err)
	}
	next := tt.NextAfter(firedAt, tol)

	// Markers only move forward.
	var prevFired, prevNext int64
	err = tx.QueryRowContext(ctx,
		`SELECT last_fired, next_eligible FROM schedule_markers WHERE tenant=? AND schedule_id=? AND platform=?`,
		scope.Tenant, scheduleID, platform,
	).Scan(&prevFired, &prevNext)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	firedMS := firedAt.UnixMilli()
	nextMS := next.UnixMilli()
	if prevFired > firedMS {
		firedMS = prevFired
	}
	if prevNext > nextMS {
		nextMS = prevNext
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schedule_markers(tenant, schedule_id, platform, last_fired, next_eligible)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(tenant, schedule_id, platform)
		 DO UPDATE SET last_fired=excluded.last_fired, next_eligible=excluded.next_eligible`,
		scope.Tenant, scheduleID, platform, firedMS, nextMS,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) loadMarkers(ctx context.Context, scope Scope, sc *Schedule) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, last_fired, next_eligible FROM schedule_markers WHERE tenant=? AND schedule_id=?`,
		scope.Tenant, sc.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	sc.Markers = map[transport.Platform]Marker{}
	for rows.Next() {
		var p string
		var fired, next int64
		if err := rows.Scan(&p, &fired, &next); err != nil {
			return err
		}
		sc.Markers[transport.Platform(p)] = Marker{
			LastFired:    time.UnixMilli(fired),
			NextEligible: time.UnixMilli(next),
		}
	}
	return rows.Err()
}

// ---- Campaigns ----

func (s *sqliteStore) CreateCampaign(ctx context.Context, scope Scope, c *Campaign) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM campaigns WHERE tenant = ?`, scope.Tenant,
	).Scan(&next); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO campaigns(tenant, id, body, media_ref, media_kind, btn1_label, btn1_url, btn2_label, btn2_url, active, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		scope.Tenant, next, c.Text, nullStr(c.MediaRef), nullStr(string(c.MediaKind)),
		nullStr(c.Button1.Label), nullStr(c.Button1.URL), nullStr(c.Button2.Label), nullStr(c.Button2.URL),
		boolInt(c.Active), time.Now().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.ID = next
	return nil
}

func (s *sqliteStore) UpdateCampaign(ctx context.Context, scope Scope, c Campaign) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET body=?, media_ref=?, media_kind=?, btn1_label=?, btn1_url=?, btn2_label=?, btn2_url=?, active=?
		 WHERE tenant=? AND id=?`,
		c.Text, nullStr(c.MediaRef), nullStr(string(c.MediaKind)),
		nullStr(c.Button1.Label), nullStr(c.Button1.URL), nullStr(c.Button2.Label), nullStr(c.Button2.URL),
		boolInt(c.Active), scope.Tenant, c.ID,
	)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) DeleteCampaign(ctx context.Context, scope Scope, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE tenant=? AND id=?`, scope.Tenant, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) GetCampaign(ctx context.Context, scope Scope, id int64) (Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, body, media_ref, media_kind, btn1_label, btn1_url, btn2_label, btn2_url, active
		 FROM campaigns WHERE tenant=? AND id=?`, scope.Tenant, id)
	return scanCampaign(row)
}

func (s *sqliteStore) ListCampaigns(ctx context.Context, scope Scope) ([]Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, body, media_ref, media_kind, btn1_label, btn1_url, btn2_label, btn2_url, active
		 FROM campaigns WHERE tenant=? ORDER BY id`, scope.Tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- Destinations ----

func (s *sqliteStore) CreateDestination(ctx context.Context, scope Scope, d *Destination) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) + 1 FROM destinations WHERE tenant = ?`, scope.Tenant,
	).Scan(&next); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO destinations(tenant, id, platform, chat_id, thread_id, active) VALUES(?,?,?,?,?,?)`,
		scope.Tenant, next, string(d.Platform), d.ChatID, d.ThreadID, boolInt(d.Active),
	); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	d.ID = next
	return nil
}

func (s *sqliteStore) UpdateDestination(ctx context.Context, scope Scope, d Destination) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE destinations SET platform=?, chat_id=?, thread_id=?, active=? WHERE tenant=? AND id=?`,
		string(d.Platform), d.ChatID, d.ThreadID, boolInt(d.Active), scope.Tenant, d.ID,
	)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) DeleteDestination(ctx context.Context, scope Scope, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM destinations WHERE tenant=? AND id=?`, scope.Tenant, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (s *sqliteStore) ListDestinations(ctx context.Context, scope Scope, platform transport.Platform) ([]Destination, error) {
	q := `SELECT id, platform, chat_id, thread_id, active FROM destinations WHERE tenant=? AND active=1`
	args := []any{scope.Tenant}
	if platform != "" {
		q += ` AND platform=?`
		args = append(args, string(platform))
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetDestinations(ctx context.Context, scope Scope, ids []int64) ([]Destination, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, scope.Tenant)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, platform, chat_id, thread_id, active FROM destinations WHERE tenant=? AND id IN (`+ph+`) ORDER BY id`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ---- Delivery ledger ----

func (s *sqliteStore) AppendAttempt(ctx context.Context, scope Scope, a SendAttempt) error {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	var schedID any
	if a.ScheduleID != nil {
		schedID = *a.ScheduleID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO send_attempts(id, tenant, schedule_id, campaign_id, destination_id, platform, at, outcome, reason)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		a.ID, scope.Tenant, schedID, a.CampaignID, a.DestinationID, string(a.Platform),
		a.At.Format(time.RFC3339Nano), string(a.Outcome), nullStr(a.Reason),
	)
	return err
}

func (s *sqliteStore) ListAttempts(ctx context.Context, scope Scope, f AttemptFilter) ([]SendAttempt, error) {
	q := `SELECT id, schedule_id, campaign_id, destination_id, platform, at, outcome, reason
	      FROM send_attempts WHERE tenant=?`
	args := []any{scope.Tenant}
	if f.CampaignID != 0 {
		q += ` AND campaign_id=?`
		args = append(args, f.CampaignID)
	}
	if f.ScheduleID != 0 {
		q += ` AND schedule_id=?`
		args = append(args, f.ScheduleID)
	}
	if f.Outcome != "" {
		q += ` AND outcome=?`
		args = append(args, string(f.Outcome))
	}
	if !f.Since.IsZero() {
		q += ` AND at >= ?`
		args = append(args, f.Since.Format(time.RFC3339Nano))
	}
	q += ` ORDER BY at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SendAttempt
	for rows.Next() {
		var (
			a       SendAttempt
			schedID sql.NullInt64
			at      string
			reason  sql.NullString
			plat    string
			outcome string
		)
		if err := rows.Scan(&a.ID, &schedID, &a.CampaignID, &a.DestinationID, &plat, &at, &outcome, &reason); err != nil {
			return nil, err
		}
		if schedID.Valid {
			v := schedID.Int64
			a.ScheduleID = &v
		}
		a.Platform = transport.Platform(plat)
		a.Outcome = Outcome(outcome)
		a.Reason = reason.String
		a.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---- Rate audit ----

func (s *sqliteStore) AppendRateAudit(ctx context.Context, a RateAudit) error {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rate_audit(at, platform, success, count_minute, count_hour) VALUES(?,?,?,?,?)`,
		a.At.Format(time.RFC3339Nano), string(a.Platform), boolInt(a.Success), a.CountMinute, a.CountHour,
	)
	return err
}

// ---- scan/marshal helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r rowScanner) (Schedule, error) {
	var (
		sc        Schedule
		ttJSON    string
		platsJSON string
		destsJSON sql.NullString
		active    int
	)
	err := r.Scan(&sc.ID, &sc.CampaignID, &ttJSON, &platsJSON, &destsJSON, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, ErrNotFound
	}
	if err != nil {
		return Schedule{}, err
	}
	if err := unmarshalScheduleFields(&sc, ttJSON, platsJSON, destsJSON); err != nil {
		return Schedule{}, err
	}
	sc.Active = active != 0
	return sc, nil
}

func unmarshalScheduleFields(sc *Schedule, ttJSON, platsJSON string, destsJSON sql.NullString) error {
	if err := json.Unmarshal([]byte(ttJSON), &sc.TimeTable); err != nil {
		return fmt.Errorf("time table: %w", err)
	}
	if err := json.Unmarshal([]byte(platsJSON), &sc.Platforms); err != nil {
		return fmt.Errorf("platforms: %w", err)
	}
	if destsJSON.Valid {
		if err := json.Unmarshal([]byte(destsJSON.String), &sc.DestinationIDs); err != nil {
			return fmt.Errorf("destination ids: %w", err)
		}
	}
	return nil
}

func marshalScheduleFields(sc Schedule) (tt, plats string, dests any, err error) {
	ttb, err := json.Marshal(sc.TimeTable)
	if err != nil {
		return "", "", nil, err
	}
	pb, err := json.Marshal(sc.Platforms)
	if err != nil {
		return "", "", nil, err
	}
	if sc.DestinationIDs != nil {
		db, err := json.Marshal(sc.DestinationIDs)
		if err != nil {
			return "", "", nil, err
		}
		dests = string(db)
	}
	return string(ttb), string(pb), dests, nil
}

func scanCampaign(r rowScanner) (Campaign, error) {
	var (
		c                   Campaign
		mediaRef, mediaKind sql.NullString
		b1l, b1u, b2l, b2u  sql.NullString
		active              int
	)
	err := r.Scan(&c.ID, &c.Text, &mediaRef, &mediaKind, &b1l, &b1u, &b2l, &b2u, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	if err != nil {
		return Campaign{}, err
	}
	c.MediaRef = mediaRef.String
	c.MediaKind = transport.MediaKind(mediaKind.String)
	c.Button1 = transport.Button{Label: b1l.String, URL: b1u.String}
	c.Button2 = transport.Button{Label: b2l.String, URL: b2u.String}
	c.Active = active != 0
	return c, nil
}

func scanDestination(r rowScanner) (Destination, error) {
	var (
		d      Destination
		plat   string
		active int
	)
	err := r.Scan(&d.ID, &plat, &d.ChatID, &d.ThreadID, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return Destination{}, ErrNotFound
	}
	if err != nil {
		return Destination{}, err
	}
	d.Platform = transport.Platform(plat)
	d.Active = active != 0
	return d, nil
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
