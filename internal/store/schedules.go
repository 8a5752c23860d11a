package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateSchedule inserts a recurring report schedule.
func (s *Store) CreateSchedule(ctx context.Context, sc *Schedule) error {
	if sc.ID == "" {
		sc.ID = newID()
	}
	if sc.Timezone == "" {
		sc.Timezone = "UTC"
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, client_id, campaign_id, skill_id, cron_expression, timezone, active, last_run_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.ClientID, sc.CampaignID, sc.SkillID, sc.CronExpression, sc.Timezone, boolInt(sc.Active),
		nullMillis(sc.LastRunAt), toMillis(sc.CreatedAt))
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

const scheduleColumns = `id, client_id, campaign_id, skill_id, cron_expression, timezone, active, last_run_at, created_at`

func scanSchedule(row interface{ Scan(...any) error }) (*Schedule, error) {
	var sc Schedule
	var lastRun sql.NullInt64
	var created int64
	if err := row.Scan(&sc.ID, &sc.ClientID, &sc.CampaignID, &sc.SkillID, &sc.CronExpression, &sc.Timezone,
		&sc.Active, &lastRun, &created); err != nil {
		return nil, err
	}
	sc.LastRunAt = timePtr(lastRun)
	sc.CreatedAt = fromMillis(created)
	return &sc, nil
}

// GetSchedule loads a schedule by id.
func (s *Store) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	sc, err := scanSchedule(s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "schedule")
	}
	return sc, nil
}

// ActiveSchedules lists every active schedule, oldest first. Always read
// fresh; the dispatcher keeps no copy between sweeps.
func (s *Store) ActiveSchedules(ctx context.Context) ([]Schedule, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE active = 1 ORDER BY created_at, id`)
}

// SchedulesForClient lists a client's schedules.
func (s *Store) SchedulesForClient(ctx context.Context, clientID string) ([]Schedule, error) {
	return s.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE client_id = ? ORDER BY created_at, id`, clientID)
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

// MarkScheduleRun sets last_run_at.
func (s *Store) MarkScheduleRun(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET last_run_at = ? WHERE id = ?`, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("mark schedule run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetScheduleActive toggles a schedule.
func (s *Store) SetScheduleActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET active = ? WHERE id = ?`, boolInt(active), id)
	if err != nil {
		return fmt.Errorf("set schedule active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}
