package memdb

import (
	"github.com/google/uuid"

	"github.com/lalithlochan/teamalerts/internal/db"
)

// AddUser registers a user with the given permission codenames.
func (s *Store) AddUser(u db.User, perms ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := u
	s.users[u.ID] = &cp
	if s.perms[u.ID] == nil {
		s.perms[u.ID] = make(map[string]bool)
	}
	for _, p := range perms {
		s.perms[u.ID][p] = true
	}
}

// AddAlertType registers an alert type row.
func (s *Store) AddAlertType(at db.AlertType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := at
	s.alertTypes[at.Key] = &cp
}

// AddErrorLog appends an error log entry.
func (s *Store) AddErrorLog(e db.ErrorLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorLogs = append(s.errorLogs, e)
}

// AddFormResponse appends a form response.
func (s *Store) AddFormResponse(fr db.FormResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.formResponses = append(s.formResponses, fr)
}

// AddFieldSchedule appends a field schedule.
func (s *Store) AddFieldSchedule(fs db.FieldSchedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := fs
	s.fieldSchedules = append(s.fieldSchedules, &cp)
}

// AddSchedule appends a general schedule.
func (s *Store) AddSchedule(sc db.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := sc
	s.schedules = append(s.schedules, &cp)
}

// AddMatchStrategy appends a match strategy.
func (s *Store) AddMatchStrategy(ms db.MatchStrategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchStrategies = append(s.matchStrategies, ms)
}

// AddMeeting appends a meeting.
func (s *Store) AddMeeting(m db.Meeting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := m
	s.meetings = append(s.meetings, &cp)
}

// Seed inserts an alert with one channel send in an arbitrary state and
// returns the channel send id.
func (s *Store) Seed(alert db.Alert, cs db.ChannelSend) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.StagedTime.IsZero() {
		alert.StagedTime = s.now()
	}
	if s.findAlert(alert.ID) == nil {
		a := alert
		s.alerts = append(s.alerts, &a)
	}

	if cs.ID == uuid.Nil {
		cs.ID = uuid.New()
	}
	cs.AlertID = alert.ID
	row := cs
	s.sends = append(s.sends, &row)
	return cs.ID
}

// Alerts returns a copy of every alert row in insertion order.
func (s *Store) Alerts() []db.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]db.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, *a)
	}
	return out
}

// ChannelSends returns a copy of every channel send row in insertion order.
func (s *Store) ChannelSends() []db.ChannelSend {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]db.ChannelSend, 0, len(s.sends))
	for _, cs := range s.sends {
		out = append(out, *cs)
	}
	return out
}

// ChannelSend returns one channel send row by id.
func (s *Store) ChannelSend(id uuid.UUID) (db.ChannelSend, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs := s.findSend(id)
	if cs == nil {
		return db.ChannelSend{}, false
	}
	return *cs, true
}

// AlertType returns an alert type row regardless of void.
func (s *Store) AlertType(key string) (db.AlertType, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.alertTypes[key]
	if !ok {
		return db.AlertType{}, false
	}
	return *at, true
}

// FieldSchedule returns a field schedule row by id.
func (s *Store) FieldSchedule(id int64) (db.FieldSchedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, fs := range s.fieldSchedules {
		if fs.ID == id {
			return *fs, true
		}
	}
	return db.FieldSchedule{}, false
}

// Schedule returns a general schedule row by id.
func (s *Store) Schedule(id int64) (db.Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sc := range s.schedules {
		if sc.ID == id {
			return *sc, true
		}
	}
	return db.Schedule{}, false
}

// Meeting returns a meeting row by id.
func (s *Store) Meeting(id int64) (db.Meeting, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.meetings {
		if m.ID == id {
			return *m, true
		}
	}
	return db.Meeting{}, false
}
