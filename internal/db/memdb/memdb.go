// Package memdb is an in-memory implementation of the alert store used by
// package tests. It mirrors the row semantics of the Postgres repository,
// including transactional rollback of fan-out writes.
package memdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/teamalerts/internal/db"
)

// ErrInjected is returned by writes that a test asked to fail.
var ErrInjected = errors.New("injected write failure")

// Store holds every table the alerting core reads or writes.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	alertTypes map[string]*db.AlertType
	alerts     []*db.Alert
	sends      []*db.ChannelSend
	users      map[int64]*db.User
	perms      map[int64]map[string]bool

	errorLogs       []db.ErrorLog
	formResponses   []db.FormResponse
	fieldSchedules  []*db.FieldSchedule
	schedules       []*db.Schedule
	matchStrategies []db.MatchStrategy
	meetings        []*db.Meeting

	sendInserts    int
	failSendAt     int
	failAlertTypes bool
	failPending    error
}

// New returns an empty store whose clock is time.Now.
func New() *Store {
	return &Store{
		now:        time.Now,
		alertTypes: make(map[string]*db.AlertType),
		users:      make(map[int64]*db.User),
		perms:      make(map[int64]map[string]bool),
	}
}

// SetClock replaces the clock used for staged_time.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailChannelSendAt makes the nth channel send insert from now on fail.
func (s *Store) FailChannelSendAt(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendInserts = 0
	s.failSendAt = n
}

// FailAlertTypeLookups makes GetAlertType return a store error.
func (s *Store) FailAlertTypeLookups() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAlertTypes = true
}

// FailPending makes PendingDeliveries return err.
func (s *Store) FailPending(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPending = err
}

// txWriter applies writes while the store lock is held and records undo steps.
type txWriter struct {
	s    *Store
	undo []func()
}

// InTx runs fn under the store lock; when fn fails every write it made is undone.
// fn must only use the Writer it is given.
func (s *Store) InTx(ctx context.Context, fn func(w db.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	w := &txWriter{s: s}
	if err := fn(w); err != nil {
		for i := len(w.undo) - 1; i >= 0; i-- {
			w.undo[i]()
		}
		return err
	}
	return nil
}

func (w *txWriter) CreateAlert(_ context.Context, alert *db.Alert) error {
	s := w.s
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	alert.Subject = db.Truncate(alert.Subject, db.MaxSubjectLength)
	alert.Body = db.Truncate(alert.Body, db.MaxBodyLength)
	alert.StagedTime = s.now()
	alert.Void = false

	row := *alert
	s.alerts = append(s.alerts, &row)
	n := len(s.alerts)
	w.undo = append(w.undo, func() { s.alerts = s.alerts[:n-1] })
	return nil
}

func (w *txWriter) CreateChannelSend(_ context.Context, cs *db.ChannelSend) error {
	s := w.s
	s.sendInserts++
	if s.failSendAt > 0 && s.sendInserts == s.failSendAt {
		return fmt.Errorf("insert channel send: %w", ErrInjected)
	}
	if s.findAlert(cs.AlertID) == nil {
		return fmt.Errorf("insert channel send: alert %s: %w", cs.AlertID, db.ErrNotFound)
	}
	if cs.ID == uuid.Nil {
		cs.ID = uuid.New()
	}
	cs.Tries = 0
	cs.SentTime = nil
	cs.DismissedTime = nil
	cs.Void = false

	row := *cs
	s.sends = append(s.sends, &row)
	n := len(s.sends)
	w.undo = append(w.undo, func() { s.sends = s.sends[:n-1] })
	return nil
}

func (w *txWriter) AdvanceLastRun(_ context.Context, key string, at time.Time) error {
	at2, ok := w.s.alertTypes[key]
	if !ok {
		return fmt.Errorf("alert type %s: %w", key, db.ErrNotFound)
	}
	prev := at2.LastRun
	if at.After(prev) {
		at2.LastRun = at
	}
	w.undo = append(w.undo, func() { at2.LastRun = prev })
	return nil
}

func (w *txWriter) MarkFieldScheduleNotified(_ context.Context, id int64, threshold int) error {
	var fs *db.FieldSchedule
	for _, row := range w.s.fieldSchedules {
		if row.ID == id {
			fs = row
		}
	}
	if fs == nil {
		return fmt.Errorf("field schedule %d: %w", id, db.ErrNotFound)
	}

	var flag *bool
	switch threshold {
	case 1:
		flag = &fs.Notification1
	case 2:
		flag = &fs.Notification2
	case 3:
		flag = &fs.Notification3
	default:
		return fmt.Errorf("invalid field schedule threshold %d", threshold)
	}
	if *flag {
		return fmt.Errorf("field schedule %d threshold %d: %w", id, threshold, db.ErrNotFound)
	}
	*flag = true
	w.undo = append(w.undo, func() { *flag = false })
	return nil
}

func (w *txWriter) MarkScheduleNotified(_ context.Context, id int64) error {
	for _, row := range w.s.schedules {
		if row.ID == id && !row.Notified {
			row.Notified = true
			w.undo = append(w.undo, func() { row.Notified = false })
			return nil
		}
	}
	return fmt.Errorf("schedule %d: %w", id, db.ErrNotFound)
}

func (w *txWriter) MarkMeetingNotified(_ context.Context, id int64, phase db.MeetingPhase) error {
	for _, row := range w.s.meetings {
		if row.ID != id {
			continue
		}
		var flag *bool
		switch phase {
		case db.MeetingStart:
			flag = &row.StartNotified
		case db.MeetingEnd:
			flag = &row.EndNotified
		default:
			return fmt.Errorf("invalid meeting phase %q", phase)
		}
		if *flag {
			break
		}
		*flag = true
		w.undo = append(w.undo, func() { *flag = false })
		return nil
	}
	return fmt.Errorf("meeting %d %s: %w", id, phase, db.ErrNotFound)
}

func (s *Store) findAlert(id uuid.UUID) *db.Alert {
	for _, a := range s.alerts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (s *Store) findSend(id uuid.UUID) *db.ChannelSend {
	for _, cs := range s.sends {
		if cs.ID == id {
			return cs
		}
	}
	return nil
}

// GetAlertType returns an unvoided alert type.
func (s *Store) GetAlertType(_ context.Context, key string) (*db.AlertType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAlertTypes {
		return nil, errors.New("query alert type: connection refused")
	}
	at, ok := s.alertTypes[key]
	if !ok || at.Void {
		return nil, fmt.Errorf("alert type %s: %w", key, db.ErrNotFound)
	}
	cp := *at
	return &cp, nil
}

// ListChannelTypes returns the channel types every deployment seeds.
func (s *Store) ListChannelTypes(_ context.Context) ([]db.CommChannelType, error) {
	return []db.CommChannelType{
		{Code: db.ChannelDiscord, Name: "Discord"},
		{Code: db.ChannelEmail, Name: "Email"},
		{Code: db.ChannelMessage, Name: "Message"},
		{Code: db.ChannelNotification, Name: "Webpush"},
		{Code: db.ChannelTxt, Name: "Phone"},
	}, nil
}

// PendingDeliveries mirrors the Postgres pending predicate.
func (s *Store) PendingDeliveries(_ context.Context, limit int) ([]*db.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPending != nil {
		return nil, s.failPending
	}

	var out []*db.Delivery
	for _, cs := range s.sends {
		a := s.findAlert(cs.AlertID)
		if a == nil || a.Void || !cs.Pending() {
			continue
		}
		out = append(out, &db.Delivery{Send: *cs, Alert: *a})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Alert.StagedTime.Before(out[j].Alert.StagedTime)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSent sets sent_time once on an undelivered, undismissed row.
func (s *Store) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.findSend(id)
	if cs == nil || cs.SentTime != nil || cs.DismissedTime != nil {
		return fmt.Errorf("channel send %s: %w", id, db.ErrNotFound)
	}
	t := at
	cs.SentTime = &t
	return nil
}

// RecordFailedTry increments tries by one.
func (s *Store) RecordFailedTry(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.findSend(id)
	if cs == nil || cs.SentTime != nil {
		return 0, fmt.Errorf("channel send %s: %w", id, db.ErrNotFound)
	}
	cs.Tries++
	return cs.Tries, nil
}

// UserAlerts lists undismissed, unvoided rows for a user on one channel, newest first.
func (s *Store) UserAlerts(_ context.Context, userID int64, channel string) ([]db.UserAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []db.UserAlert{}
	for _, cs := range s.sends {
		a := s.findAlert(cs.AlertID)
		if a == nil || a.Void || a.UserID != userID {
			continue
		}
		if cs.Channel != channel || cs.DismissedTime != nil || cs.Void {
			continue
		}
		out = append(out, db.UserAlert{
			ID:            a.ID,
			ChannelSendID: cs.ID,
			Subject:       a.Subject,
			Body:          a.Body,
			URL:           a.URL,
			StagedTime:    a.StagedTime,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StagedTime.After(out[j].StagedTime)
	})
	return out, nil
}

// DismissChannelSend sets dismissed_time on one undismissed row owned by userID.
func (s *Store) DismissChannelSend(_ context.Context, userID int64, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.findSend(id)
	if cs == nil || cs.Void {
		return fmt.Errorf("channel send %s: %w", id, db.ErrNotFound)
	}
	if a := s.findAlert(cs.AlertID); a == nil || a.UserID != userID {
		return fmt.Errorf("channel send %s: %w", id, db.ErrNotFound)
	}
	if cs.DismissedTime != nil {
		return fmt.Errorf("channel send %s: %w", id, db.ErrAlreadyDismissed)
	}
	t := at
	cs.DismissedTime = &t
	return nil
}

// UsersWithPermission returns active users holding codename, ordered by id.
func (s *Store) UsersWithPermission(_ context.Context, codename string) ([]db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.User
	for id, u := range s.users {
		if u.Active && s.perms[id][codename] {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(_ context.Context, id int64) (*db.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, db.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

// UserPermissions returns the codenames granted to a user.
func (s *Store) UserPermissions(_ context.Context, id int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for p := range s.perms[id] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// ErrorLogsSince returns error logs in [since, until).
func (s *Store) ErrorLogsSince(_ context.Context, since, until time.Time) ([]db.ErrorLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.ErrorLog
	for _, e := range s.errorLogs {
		if inRange(e.Time, since, until) {
			out = append(out, e)
		}
	}
	return out, nil
}

// FormResponsesSince returns responses to formCode in [since, until).
func (s *Store) FormResponsesSince(_ context.Context, formCode string, since, until time.Time) ([]db.FormResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.FormResponse
	for _, fr := range s.formResponses {
		if fr.FormCode == formCode && inRange(fr.Time, since, until) {
			out = append(out, fr)
		}
	}
	return out, nil
}

func inRange(t, since, until time.Time) bool {
	return !t.Before(since) && t.Before(until)
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

// FieldSchedulesBetween returns field schedules starting in [from, to] with a flag still open.
func (s *Store) FieldSchedulesBetween(_ context.Context, from, to time.Time) ([]db.FieldSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.FieldSchedule
	for _, fs := range s.fieldSchedules {
		if fs.Notification1 && fs.Notification2 && fs.Notification3 {
			continue
		}
		if within(fs.StartTime, from, to) {
			out = append(out, *fs)
		}
	}
	return out, nil
}

// SchedulesBetween returns un-notified schedules starting in [from, to].
func (s *Store) SchedulesBetween(_ context.Context, from, to time.Time) ([]db.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.Schedule
	for _, sc := range s.schedules {
		if !sc.Notified && within(sc.StartTime, from, to) {
			out = append(out, *sc)
		}
	}
	return out, nil
}

// MatchStrategiesSince returns strategies posted in [since, until).
func (s *Store) MatchStrategiesSince(_ context.Context, since, until time.Time) ([]db.MatchStrategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.MatchStrategy
	for _, ms := range s.matchStrategies {
		if inRange(ms.Time, since, until) {
			out = append(out, ms)
		}
	}
	return out, nil
}

// MeetingsBetween returns meetings with an open start or end flag inside [from, to].
func (s *Store) MeetingsBetween(_ context.Context, from, to time.Time) ([]db.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.Meeting
	for _, m := range s.meetings {
		if (!m.StartNotified && within(m.StartTime, from, to)) || (!m.EndNotified && within(m.EndTime, from, to)) {
			out = append(out, *m)
		}
	}
	return out, nil
}
