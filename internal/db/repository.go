package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrAlreadyDismissed is returned when dismissing a row that was dismissed before.
var ErrAlreadyDismissed = errors.New("channel send already dismissed")

// Writer is the mutation surface available inside a transaction.
type Writer interface {
	CreateAlert(ctx context.Context, alert *Alert) error
	CreateChannelSend(ctx context.Context, cs *ChannelSend) error
	AdvanceLastRun(ctx context.Context, key string, at time.Time) error
	MarkFieldScheduleNotified(ctx context.Context, id int64, threshold int) error
	MarkScheduleNotified(ctx context.Context, id int64) error
	MarkMeetingNotified(ctx context.Context, id int64, phase MeetingPhase) error
}

// Repository handles database operations for alerts, channel sends and alert types
type Repository struct {
	db     *DB
	logger *zap.Logger
	queries
}

// NewRepository creates a new alert repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:      db,
		logger:  logger,
		queries: queries{q: db.Pool(), logger: logger},
	}
}

// InTx runs fn inside one transaction. The transaction commits only when fn
// returns nil; any error rolls back every row fn wrote.
func (r *Repository) InTx(ctx context.Context, fn func(w Writer) error) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(queries{q: tx, logger: r.logger}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// queries implements Writer over either the pool or a transaction.
type queries struct {
	q      dbtx
	logger *zap.Logger
}

// CreateAlert inserts an alert. Subject and body are truncated, never rejected.
func (q queries) CreateAlert(ctx context.Context, alert *Alert) error {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	alert.Subject = Truncate(alert.Subject, MaxSubjectLength)
	alert.Body = Truncate(alert.Body, MaxBodyLength)

	query := `
		INSERT INTO alerts (
			id, user_id, alert_type_key, subject, body, url, void
		) VALUES (
			$1, $2, $3, $4, $5, $6, FALSE
		)
		RETURNING staged_time
	`

	err := q.q.QueryRow(ctx, query,
		alert.ID,
		alert.UserID,
		alert.AlertTypeKey,
		alert.Subject,
		alert.Body,
		alert.URL,
	).Scan(&alert.StagedTime)
	if err != nil {
		q.logger.Error("failed to create alert",
			zap.Error(err),
			zap.String("alert_id", alert.ID.String()),
			zap.Int64("user_id", alert.UserID),
		)
		return fmt.Errorf("insert alert: %w", err)
	}

	return nil
}

// CreateChannelSend inserts a pending channel send for an existing alert.
func (q queries) CreateChannelSend(ctx context.Context, cs *ChannelSend) error {
	if cs.ID == uuid.Nil {
		cs.ID = uuid.New()
	}

	query := `
		INSERT INTO channel_sends (
			id, alert_id, channel_code, tries, void
		) VALUES (
			$1, $2, $3, 0, FALSE
		)
	`

	if _, err := q.q.Exec(ctx, query, cs.ID, cs.AlertID, cs.Channel); err != nil {
		q.logger.Error("failed to create channel send",
			zap.Error(err),
			zap.String("alert_id", cs.AlertID.String()),
			zap.String("channel", cs.Channel),
		)
		return fmt.Errorf("insert channel send: %w", err)
	}

	cs.Tries = 0
	cs.SentTime = nil
	cs.DismissedTime = nil
	return nil
}

// AdvanceLastRun moves a rule's watermark forward. It never moves backwards.
func (q queries) AdvanceLastRun(ctx context.Context, key string, at time.Time) error {
	query := `
		UPDATE alert_types
		SET last_run = GREATEST(last_run, $2)
		WHERE key = $1
	`

	result, err := q.q.Exec(ctx, query, key, at)
	if err != nil {
		return fmt.Errorf("advance last_run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("alert type %s: %w", key, ErrNotFound)
	}
	return nil
}

// MarkFieldScheduleNotified flips notification flag 1, 2 or 3 to true.
func (q queries) MarkFieldScheduleNotified(ctx context.Context, id int64, threshold int) error {
	var column string
	switch threshold {
	case 1:
		column = "notification1"
	case 2:
		column = "notification2"
	case 3:
		column = "notification3"
	default:
		return fmt.Errorf("invalid field schedule threshold %d", threshold)
	}

	query := fmt.Sprintf(`UPDATE scout_field_schedules SET %s = TRUE WHERE id = $1 AND %s = FALSE`, column, column)
	result, err := q.q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark field schedule notified: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("field schedule %d threshold %d: %w", id, threshold, ErrNotFound)
	}
	return nil
}

// MarkScheduleNotified flips a general schedule's notified flag.
func (q queries) MarkScheduleNotified(ctx context.Context, id int64) error {
	result, err := q.q.Exec(ctx, `UPDATE schedules SET notified = TRUE WHERE id = $1 AND notified = FALSE`, id)
	if err != nil {
		return fmt.Errorf("mark schedule notified: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkMeetingNotified flips the start or end flag of a meeting.
func (q queries) MarkMeetingNotified(ctx context.Context, id int64, phase MeetingPhase) error {
	var query string
	switch phase {
	case MeetingStart:
		query = `UPDATE meetings SET start_notified = TRUE WHERE id = $1 AND start_notified = FALSE`
	case MeetingEnd:
		query = `UPDATE meetings SET end_notified = TRUE WHERE id = $1 AND end_notified = FALSE`
	default:
		return fmt.Errorf("invalid meeting phase %q", phase)
	}

	result, err := q.q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark meeting notified: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("meeting %d %s: %w", id, phase, ErrNotFound)
	}
	return nil
}

// GetAlertType loads an unvoided alert type by key.
func (r *Repository) GetAlertType(ctx context.Context, key string) (*AlertType, error) {
	query := `
		SELECT key, name, subject, body, last_run, void
		FROM alert_types
		WHERE key = $1 AND void = FALSE
	`

	var at AlertType
	err := r.db.Pool().QueryRow(ctx, query, key).Scan(
		&at.Key,
		&at.Name,
		&at.Subject,
		&at.Body,
		&at.LastRun,
		&at.Void,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("alert type %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query alert type: %w", err)
	}

	return &at, nil
}

// ListChannelTypes returns the unvoided communication channel types.
func (r *Repository) ListChannelTypes(ctx context.Context) ([]CommChannelType, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT code, name, void
		FROM communication_channel_types
		WHERE void = FALSE
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("query channel types: %w", err)
	}
	defer rows.Close()

	var types []CommChannelType
	for rows.Next() {
		var ct CommChannelType
		if err := rows.Scan(&ct.Code, &ct.Name, &ct.Void); err != nil {
			return nil, fmt.Errorf("scan channel type: %w", err)
		}
		types = append(types, ct)
	}

	return types, rows.Err()
}

// PendingDeliveries returns channel sends that are neither sent, dismissed,
// void nor past the retry bound, joined with their alert, oldest first.
func (r *Repository) PendingDeliveries(ctx context.Context, limit int) ([]*Delivery, error) {
	query := `
		SELECT
			cs.id, cs.alert_id, cs.channel_code, cs.sent_time, cs.dismissed_time, cs.tries, cs.void,
			a.id, a.user_id, a.alert_type_key, a.subject, a.body, a.url, a.staged_time, a.void
		FROM channel_sends cs
		JOIN alerts a ON a.id = cs.alert_id
		WHERE cs.sent_time IS NULL
		  AND cs.dismissed_time IS NULL
		  AND cs.tries <= $1
		  AND cs.void = FALSE
		  AND a.void = FALSE
		ORDER BY a.staged_time ASC, cs.id ASC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, MaxTries, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending channel sends: %w", err)
	}
	defer rows.Close()

	var deliveries []*Delivery
	for rows.Next() {
		var d Delivery
		err := rows.Scan(
			&d.Send.ID,
			&d.Send.AlertID,
			&d.Send.Channel,
			&d.Send.SentTime,
			&d.Send.DismissedTime,
			&d.Send.Tries,
			&d.Send.Void,
			&d.Alert.ID,
			&d.Alert.UserID,
			&d.Alert.AlertTypeKey,
			&d.Alert.Subject,
			&d.Alert.Body,
			&d.Alert.URL,
			&d.Alert.StagedTime,
			&d.Alert.Void,
		)
		if err != nil {
			return nil, fmt.Errorf("scan channel send: %w", err)
		}
		deliveries = append(deliveries, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return deliveries, nil
}

// MarkSent records a successful delivery. sent_time is only ever set once.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE channel_sends
		SET sent_time = $2
		WHERE id = $1 AND sent_time IS NULL AND dismissed_time IS NULL
	`

	result, err := r.db.Pool().Exec(ctx, query, id, at)
	if err != nil {
		r.logger.Error("failed to mark channel send sent",
			zap.Error(err),
			zap.String("channel_send_id", id.String()),
		)
		return fmt.Errorf("mark sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("channel send %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordFailedTry increments tries by exactly one for an undelivered row.
func (r *Repository) RecordFailedTry(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE channel_sends
		SET tries = tries + 1
		WHERE id = $1 AND sent_time IS NULL
		RETURNING tries
	`

	var tries int
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(&tries)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("channel send %s: %w", id, ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to record failed try",
			zap.Error(err),
			zap.String("channel_send_id", id.String()),
		)
		return 0, fmt.Errorf("record failed try: %w", err)
	}
	return tries, nil
}

// UserAlerts lists undismissed, unvoided channel sends for a user on one channel.
func (r *Repository) UserAlerts(ctx context.Context, userID int64, channel string) ([]UserAlert, error) {
	query := `
		SELECT a.id, cs.id, a.subject, a.body, a.url, a.staged_time
		FROM channel_sends cs
		JOIN alerts a ON a.id = cs.alert_id
		WHERE a.user_id = $1
		  AND cs.channel_code = $2
		  AND cs.dismissed_time IS NULL
		  AND cs.void = FALSE
		  AND a.void = FALSE
		ORDER BY a.staged_time DESC
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, channel)
	if err != nil {
		return nil, fmt.Errorf("query user alerts: %w", err)
	}
	defer rows.Close()

	alerts := []UserAlert{}
	for rows.Next() {
		var ua UserAlert
		if err := rows.Scan(&ua.ID, &ua.ChannelSendID, &ua.Subject, &ua.Body, &ua.URL, &ua.StagedTime); err != nil {
			return nil, fmt.Errorf("scan user alert: %w", err)
		}
		alerts = append(alerts, ua)
	}

	return alerts, rows.Err()
}

// DismissChannelSend sets dismissed_time on exactly one undismissed, unvoided
// row owned by userID. Missing or void rows yield ErrNotFound; a row that was
// already dismissed yields ErrAlreadyDismissed.
func (r *Repository) DismissChannelSend(ctx context.Context, userID int64, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE channel_sends cs
		SET dismissed_time = $3
		FROM alerts a
		WHERE cs.id = $1
		  AND a.id = cs.alert_id
		  AND a.user_id = $2
		  AND cs.dismissed_time IS NULL
		  AND cs.void = FALSE
	`

	result, err := r.db.Pool().Exec(ctx, query, id, userID, at)
	if err != nil {
		return fmt.Errorf("dismiss channel send: %w", err)
	}
	if result.RowsAffected() == 1 {
		r.logger.Info("channel send dismissed",
			zap.String("channel_send_id", id.String()),
			zap.Int64("user_id", userID),
		)
		return nil
	}

	var dismissed *time.Time
	var void bool
	err = r.db.Pool().QueryRow(ctx, `
		SELECT cs.dismissed_time, cs.void
		FROM channel_sends cs
		JOIN alerts a ON a.id = cs.alert_id
		WHERE cs.id = $1 AND a.user_id = $2
	`, id, userID).Scan(&dismissed, &void)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && void) {
		return fmt.Errorf("channel send %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query channel send: %w", err)
	}
	return fmt.Errorf("channel send %s: %w", id, ErrAlreadyDismissed)
}
