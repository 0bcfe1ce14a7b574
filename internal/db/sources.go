package db

import (
	"context"
	"fmt"
	"time"
)

// ErrorLogsSince returns unvoided error log entries in [since, until), oldest first.
func (r *Repository) ErrorLogsSince(ctx context.Context, since, until time.Time) ([]ErrorLog, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, user_id, path, message, exception, time
		FROM error_logs
		WHERE void = FALSE AND time >= $1 AND time < $2
		ORDER BY time ASC, id ASC
	`, since, until)
	if err != nil {
		return nil, fmt.Errorf("query error logs: %w", err)
	}
	defer rows.Close()

	var logs []ErrorLog
	for rows.Next() {
		var e ErrorLog
		if err := rows.Scan(&e.ID, &e.UserID, &e.Path, &e.Message, &e.Exception, &e.Time); err != nil {
			return nil, fmt.Errorf("scan error log: %w", err)
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// FormResponsesSince returns unvoided responses to one form in [since, until).
func (r *Repository) FormResponsesSince(ctx context.Context, formCode string, since, until time.Time) ([]FormResponse, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, form_code, user_id, time
		FROM form_responses
		WHERE void = FALSE AND form_code = $1 AND time >= $2 AND time < $3
		ORDER BY time ASC, id ASC
	`, formCode, since, until)
	if err != nil {
		return nil, fmt.Errorf("query form responses: %w", err)
	}
	defer rows.Close()

	var responses []FormResponse
	for rows.Next() {
		var fr FormResponse
		if err := rows.Scan(&fr.ID, &fr.FormCode, &fr.UserID, &fr.Time); err != nil {
			return nil, fmt.Errorf("scan form response: %w", err)
		}
		responses = append(responses, fr)
	}
	return responses, rows.Err()
}

// FieldSchedulesBetween returns unvoided field schedules starting in [from, to]
// with at least one notification flag still false.
func (r *Repository) FieldSchedulesBetween(ctx context.Context, from, to time.Time) ([]FieldSchedule, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT fs.id, e.name, fs.start_time, fs.end_time,
			fs.red_one_id, fs.red_two_id, fs.red_three_id,
			fs.blue_one_id, fs.blue_two_id, fs.blue_three_id,
			fs.notification1, fs.notification2, fs.notification3
		FROM scout_field_schedules fs
		JOIN events e ON e.id = fs.event_id
		WHERE fs.void = FALSE
		  AND fs.start_time BETWEEN $1 AND $2
		  AND NOT (fs.notification1 AND fs.notification2 AND fs.notification3)
		ORDER BY fs.start_time ASC, fs.id ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query field schedules: %w", err)
	}
	defer rows.Close()

	var schedules []FieldSchedule
	for rows.Next() {
		var fs FieldSchedule
		err := rows.Scan(
			&fs.ID, &fs.EventName, &fs.StartTime, &fs.EndTime,
			&fs.Scouts[0], &fs.Scouts[1], &fs.Scouts[2],
			&fs.Scouts[3], &fs.Scouts[4], &fs.Scouts[5],
			&fs.Notification1, &fs.Notification2, &fs.Notification3,
		)
		if err != nil {
			return nil, fmt.Errorf("scan field schedule: %w", err)
		}
		schedules = append(schedules, fs)
	}
	return schedules, rows.Err()
}

// SchedulesBetween returns unvoided, un-notified general schedules starting in [from, to].
func (r *Repository) SchedulesBetween(ctx context.Context, from, to time.Time) ([]Schedule, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT s.id, st.name, s.user_id, s.start_time, s.end_time, s.notified
		FROM schedules s
		JOIN schedule_types st ON st.id = s.schedule_type_id
		WHERE s.void = FALSE
		  AND s.notified = FALSE
		  AND s.start_time BETWEEN $1 AND $2
		ORDER BY s.start_time ASC, s.id ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		var s Schedule
		if err := rows.Scan(&s.ID, &s.TypeName, &s.UserID, &s.StartTime, &s.EndTime, &s.Notified); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// MatchStrategiesSince returns unvoided match strategies posted in [since, until).
func (r *Repository) MatchStrategiesSince(ctx context.Context, since, until time.Time) ([]MatchStrategy, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, match_key, user_id, time
		FROM match_strategies
		WHERE void = FALSE AND time >= $1 AND time < $2
		ORDER BY time ASC, id ASC
	`, since, until)
	if err != nil {
		return nil, fmt.Errorf("query match strategies: %w", err)
	}
	defer rows.Close()

	var strategies []MatchStrategy
	for rows.Next() {
		var ms MatchStrategy
		if err := rows.Scan(&ms.ID, &ms.MatchKey, &ms.UserID, &ms.Time); err != nil {
			return nil, fmt.Errorf("scan match strategy: %w", err)
		}
		strategies = append(strategies, ms)
	}
	return strategies, rows.Err()
}

// MeetingsBetween returns unvoided meetings whose start or end falls in
// [from, to] with the matching flag still false.
func (r *Repository) MeetingsBetween(ctx context.Context, from, to time.Time) ([]Meeting, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, title, start_time, end_time, start_notified, end_notified
		FROM meetings
		WHERE void = FALSE
		  AND (
			(start_notified = FALSE AND start_time BETWEEN $1 AND $2)
			OR (end_notified = FALSE AND end_time BETWEEN $1 AND $2)
		  )
		ORDER BY start_time ASC, id ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}
	defer rows.Close()

	var meetings []Meeting
	for rows.Next() {
		var m Meeting
		if err := rows.Scan(&m.ID, &m.Title, &m.StartTime, &m.EndTime, &m.StartNotified, &m.EndNotified); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}
