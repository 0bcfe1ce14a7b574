package db

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Channel codes as stored in communication_channel_types.code
const (
	ChannelEmail        = "email"
	ChannelTxt          = "txt"
	ChannelNotification = "notification"
	ChannelDiscord      = "discord"
	ChannelMessage      = "message"
)

// Limits applied when rows are written
const (
	// MaxTries is the retry bound: a channel send stays pending while tries <= MaxTries.
	MaxTries         = 3
	MaxSubjectLength = 255
	MaxBodyLength    = 4000
)

// AlertType is a staging rule's reference row. LastRun is the watermark
// the rule has already considered.
type AlertType struct {
	Key     string    `json:"key"`
	Name    string    `json:"name"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	LastRun time.Time `json:"last_run"`
	Void    bool      `json:"void"`
}

// Alert is one notification occurrence owned by a recipient.
type Alert struct {
	ID           uuid.UUID `json:"id"`
	UserID       int64     `json:"user_id"`
	AlertTypeKey *string   `json:"alert_type_key,omitempty"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	URL          *string   `json:"url,omitempty"`
	StagedTime   time.Time `json:"staged_time"`
	Void         bool      `json:"void"`
}

// ChannelSend is one delivery attempt of an Alert on a single channel.
type ChannelSend struct {
	ID            uuid.UUID  `json:"id"`
	AlertID       uuid.UUID  `json:"alert_id"`
	Channel       string     `json:"channel"`
	SentTime      *time.Time `json:"sent_time,omitempty"`
	DismissedTime *time.Time `json:"dismissed_time,omitempty"`
	Tries         int        `json:"tries"`
	Void          bool       `json:"void"`
}

// Pending reports whether the dispatcher may still pick this row up.
func (cs *ChannelSend) Pending() bool {
	return cs.SentTime == nil && cs.DismissedTime == nil && cs.Tries <= MaxTries && !cs.Void
}

// CommChannelType is reference data for a delivery medium.
type CommChannelType struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Void bool   `json:"void"`
}

// Delivery is a pending channel send joined with its parent alert.
type Delivery struct {
	Send  ChannelSend
	Alert Alert
}

// UserAlert is the projection returned to the owner of an alert.
type UserAlert struct {
	ID            uuid.UUID `json:"id"`
	ChannelSendID uuid.UUID `json:"channel_send_id"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	URL           *string   `json:"url,omitempty"`
	StagedTime    time.Time `json:"staged_time"`
}

// User is the directory projection the alerting core needs.
type User struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	PhoneGateway   string `json:"phone_gateway"`
	PushEndpoint   string `json:"push_endpoint"`
	ChatPlatformID string `json:"chat_platform_id"`
	IsSuperuser    bool   `json:"is_superuser"`
	Active         bool   `json:"active"`
}

// FullName joins first and last name, falling back to the username.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// ErrorLog is a logged application error.
type ErrorLog struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id,omitempty"`
	Path      string    `json:"path"`
	Message   string    `json:"message"`
	Exception string    `json:"exception"`
	Time      time.Time `json:"time"`
}

// FormResponse is a submitted form.
type FormResponse struct {
	ID       int64     `json:"id"`
	FormCode string    `json:"form_code"`
	UserID   *int64    `json:"user_id,omitempty"`
	Time     time.Time `json:"time"`
}

// Scout slot positions on a field schedule, in column order.
var ScoutPositions = [6]string{"Red 1", "Red 2", "Red 3", "Blue 1", "Blue 2", "Blue 3"}

// FieldSchedule is a stands-scouting shift. Scouts follow ScoutPositions order.
type FieldSchedule struct {
	ID            int64     `json:"id"`
	EventName     string    `json:"event_name"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Scouts        [6]*int64 `json:"scouts"`
	Notification1 bool      `json:"notification1"`
	Notification2 bool      `json:"notification2"`
	Notification3 bool      `json:"notification3"`
}

// Notified reports the flag for threshold 1, 2 or 3.
func (fs *FieldSchedule) Notified(threshold int) bool {
	switch threshold {
	case 1:
		return fs.Notification1
	case 2:
		return fs.Notification2
	case 3:
		return fs.Notification3
	}
	return true
}

// Schedule is a general duty slot (pit duty and similar).
type Schedule struct {
	ID        int64     `json:"id"`
	TypeName  string    `json:"type_name"`
	UserID    int64     `json:"user_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Notified  bool      `json:"notified"`
}

// MatchStrategy is a strategy posted for an upcoming match.
type MatchStrategy struct {
	ID       int64     `json:"id"`
	MatchKey string    `json:"match_key"`
	UserID   int64     `json:"user_id"`
	Time     time.Time `json:"time"`
}

// MeetingPhase selects which meeting flag a stage pass sets.
type MeetingPhase string

const (
	MeetingStart MeetingPhase = "start"
	MeetingEnd   MeetingPhase = "end"
)

// Meeting is a team meeting with independent start and end notifications.
type Meeting struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	StartNotified bool      `json:"start_notified"`
	EndNotified   bool      `json:"end_notified"`
}

// Truncate cuts s to at most max runes. It never rejects input.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
