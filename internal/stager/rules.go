package stager

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/alerts"
	"github.com/lalithlochan/teamalerts/internal/db"
)

// Alert type keys and permission codenames used by the built-in rules.
const (
	ErrorAlertKey     = "error"
	ErrorAlertRole    = "error_alert"
	FieldScheduleKey  = "field_schedule"
	ScheduleKey       = "schedule"
	MatchStrategyKey  = "match_strategy"
	MatchStrategyRole = "match_strategy_notif"
	MeetingKey        = "meeting"
	MeetingRole       = "meeting_notif"
)

const (
	DefaultScheduleLead = 15 * time.Minute
	DefaultMeetingLead  = 5 * time.Minute

	fieldT0Window = 30 * time.Second
	fieldT5Lead   = 5 * time.Minute
	fieldT15Lead  = 15 * time.Minute
)

// Options configures the built-in rules.
type Options struct {
	Store    Store
	Guard    Guard
	Logger   *zap.Logger
	Location *time.Location
	BaseURL  string
}

func (o Options) base(name string) base {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{name: name, store: o.Store, guard: o.Guard, logger: logger.With(zap.String("rule", name))}
}

func advanceTo(key string, at time.Time) func(ctx context.Context, w db.Writer) error {
	return func(ctx context.Context, w db.Writer) error {
		return w.AdvanceLastRun(ctx, key, at)
	}
}

func toRecipients(users []db.User, msg alerts.Message, exclude *int64) []recipient {
	out := make([]recipient, 0, len(users))
	for _, u := range users {
		if exclude != nil && u.ID == *exclude {
			continue
		}
		out = append(out, recipient{user: u, msg: msg})
	}
	return out
}

// ErrorLogRule folds every error logged since the watermark into one alert
// for holders of the error alert role. The watermark advances on every pass
// that commits.
type ErrorLogRule struct {
	base
	channels []string
	loc      *time.Location
}

// NewErrorLogRule creates the error log rule.
func NewErrorLogRule(opts Options, channels []string) *ErrorLogRule {
	return &ErrorLogRule{base: opts.base(ErrorAlertKey), channels: channels, loc: opts.Location}
}

// Stage implements Rule.
func (r *ErrorLogRule) Stage(ctx context.Context, now time.Time) (string, error) {
	at, err := r.alertType(ctx, ErrorAlertKey)
	if err != nil {
		return "", err
	}

	logs, err := r.store.ErrorLogsSince(ctx, at.LastRun, now)
	if err != nil {
		return "", err
	}

	var recipients []recipient
	if len(logs) > 0 {
		users, err := r.store.UsersWithPermission(ctx, ErrorAlertRole)
		if err != nil {
			return "", err
		}

		var body strings.Builder
		if at.Body != "" {
			body.WriteString(at.Body)
			body.WriteString("\n\n")
		}
		for _, e := range logs {
			fmt.Fprintf(&body, "%s %s: %s\n", formatTime(e.Time, r.loc), e.Path, e.Message)
		}

		recipients = toRecipients(users, alerts.Message{
			AlertTypeKey: strPtr(at.Key),
			Subject:      at.Subject,
			Body:         body.String(),
		}, nil)
	}

	// The watermark moves only when the digest commits. Errors from a failed
	// pass land in the next digest.
	n, err := r.stage(ctx, advanceTo(at.Key, now), occurrence{
		event:      strconv.FormatInt(at.LastRun.UnixNano(), 10),
		threshold:  "0",
		recipients: recipients,
		channels:   r.channels,
	})
	if errors.Is(err, errStagingHeld) {
		return heldSummary, nil
	}
	if err != nil {
		return "", err
	}

	if len(logs) == 0 {
		return "NO ERRORS", nil
	}
	return fmt.Sprintf("%d error(s) sent to %d user(s)", len(logs), n), nil
}

// FormRule alerts permission holders once per new response to one form.
type FormRule struct {
	base
	formCode   string
	permission string
	path       string
	baseURL    string
	channels   []string
}

// NewFormRule creates a rule for formCode. The response id is appended to path
// to build the deep link.
func NewFormRule(opts Options, formCode, permission, path string, channels []string) *FormRule {
	return &FormRule{
		base:       opts.base("form:" + formCode),
		formCode:   formCode,
		permission: permission,
		path:       path,
		baseURL:    opts.BaseURL,
		channels:   channels,
	}
}

// AlertTypeKey returns the alert type key backing this form's watermark.
func (r *FormRule) AlertTypeKey() string {
	return "form_" + r.formCode
}

// Stage implements Rule.
func (r *FormRule) Stage(ctx context.Context, now time.Time) (string, error) {
	key := r.AlertTypeKey()
	at, err := r.alertType(ctx, key)
	if err != nil {
		return "", err
	}

	responses, err := r.store.FormResponsesSince(ctx, r.formCode, at.LastRun, now)
	if err != nil {
		return "", err
	}

	var occs []occurrence
	if len(responses) > 0 {
		users, err := r.store.UsersWithPermission(ctx, r.permission)
		if err != nil {
			return "", err
		}
		for _, resp := range responses {
			msg := alerts.Message{
				AlertTypeKey: strPtr(key),
				Subject:      at.Subject,
				Body:         fmt.Sprintf("%s\nResponse #%d", at.Body, resp.ID),
				URL:          strPtr(fmt.Sprintf("%s%s%d", r.baseURL, r.path, resp.ID)),
			}
			occs = append(occs, occurrence{
				event:      strconv.FormatInt(resp.ID, 10),
				threshold:  "0",
				recipients: toRecipients(users, msg, nil),
				channels:   r.channels,
			})
		}
	}

	// Every response in [last run, now) and the watermark commit together.
	n, err := r.stage(ctx, advanceTo(key, now), occs...)
	if errors.Is(err, errStagingHeld) {
		return heldSummary, nil
	}
	if err != nil {
		return "", err
	}

	if len(responses) == 0 {
		return "NO RESPONSES", nil
	}
	return fmt.Sprintf("%d response(s), %d alert(s) staged", len(responses), n), nil
}

// fieldThreshold returns which notification (1, 2 or 3) is due for a slot
// starting at start, or 0 when none is.
func fieldThreshold(start, now time.Time) int {
	switch {
	case !start.After(now) && now.Sub(start) < fieldT0Window:
		return 3
	case start.After(now) && !start.After(now.Add(fieldT5Lead)):
		return 2
	case start.After(now.Add(fieldT5Lead)) && !start.After(now.Add(fieldT15Lead)):
		return 1
	}
	return 0
}

var fieldThresholdLabel = map[int]string{
	1: "starts in 15 minutes",
	2: "starts in 5 minutes",
	3: "starting now",
}

// FieldScheduleRule notifies each assigned scout at T-15, T-5 and T-0.
type FieldScheduleRule struct {
	base
	channels []string
	loc      *time.Location
	baseURL  string
}

// NewFieldScheduleRule creates the field schedule rule.
func NewFieldScheduleRule(opts Options, channels []string) *FieldScheduleRule {
	return &FieldScheduleRule{
		base:     opts.base(FieldScheduleKey),
		channels: channels,
		loc:      opts.Location,
		baseURL:  opts.BaseURL,
	}
}

// Stage implements Rule.
func (r *FieldScheduleRule) Stage(ctx context.Context, now time.Time) (string, error) {
	at, err := r.alertType(ctx, FieldScheduleKey)
	if err != nil {
		return "", err
	}

	schedules, err := r.store.FieldSchedulesBetween(ctx, now.Add(-fieldT0Window), now.Add(fieldT15Lead))
	if err != nil {
		return "", err
	}

	var tally flagTally
	for _, fs := range schedules {
		threshold := fieldThreshold(fs.StartTime, now)
		if threshold == 0 || fs.Notified(threshold) {
			continue
		}

		var recipients []recipient
		for i, scoutID := range fs.Scouts {
			if scoutID == nil {
				continue
			}
			u, ok := r.lookupUser(ctx, *scoutID)
			if !ok {
				continue
			}
			recipients = append(recipients, recipient{
				user: *u,
				msg: alerts.Message{
					AlertTypeKey: strPtr(at.Key),
					Subject:      fmt.Sprintf("%s %s", at.Subject, fieldThresholdLabel[threshold]),
					Body: fmt.Sprintf("You are scouting %s for %s starting at %s",
						db.ScoutPositions[i], fs.EventName, formatTime(fs.StartTime, r.loc)),
					URL: strPtr(r.baseURL + "/scouting/field/"),
				},
			})
		}

		id, th := fs.ID, threshold
		n, err := r.stage(ctx, nil, occurrence{
			event:      strconv.FormatInt(fs.ID, 10),
			threshold:  strconv.Itoa(threshold),
			recipients: recipients,
			channels:   r.channels,
			mark: func(ctx context.Context, w db.Writer) error {
				return w.MarkFieldScheduleNotified(ctx, id, th)
			},
		})
		tally.add(n, err)
	}

	return tally.summary("slot"), nil
}

// heldSummary reports a watermark rule whose batch is being staged by another pass.
const heldSummary = "DEFERRED: staging in progress"

// flagTally counts outcomes for rules that stage one flagged occurrence at a time.
type flagTally struct {
	events, alerts, failed, held int
}

func (t *flagTally) add(n int, err error) {
	switch {
	case errors.Is(err, errStagingHeld):
		t.held++
	case err != nil:
		t.failed++
	default:
		t.events++
		t.alerts += n
	}
}

func (t *flagTally) summary(noun string) string {
	s := fmt.Sprintf("%d %s(s), %d alert(s) staged", t.events, noun, t.alerts)
	if t.failed > 0 {
		s += fmt.Sprintf(", %d failed", t.failed)
	}
	if t.held > 0 {
		s += fmt.Sprintf(", %d deferred", t.held)
	}
	return s
}

// ScheduleRule notifies the assignee of a general duty slot once, inside a
// lead window before it starts.
type ScheduleRule struct {
	base
	channels []string
	lead     time.Duration
	loc      *time.Location
}

// NewScheduleRule creates the general schedule rule. A zero lead uses DefaultScheduleLead.
func NewScheduleRule(opts Options, lead time.Duration, channels []string) *ScheduleRule {
	if lead <= 0 {
		lead = DefaultScheduleLead
	}
	return &ScheduleRule{base: opts.base(ScheduleKey), channels: channels, lead: lead, loc: opts.Location}
}

// Stage implements Rule.
func (r *ScheduleRule) Stage(ctx context.Context, now time.Time) (string, error) {
	at, err := r.alertType(ctx, ScheduleKey)
	if err != nil {
		return "", err
	}

	schedules, err := r.store.SchedulesBetween(ctx, now, now.Add(r.lead))
	if err != nil {
		return "", err
	}

	var tally flagTally
	for _, sc := range schedules {
		var recipients []recipient
		if u, ok := r.lookupUser(ctx, sc.UserID); ok {
			recipients = append(recipients, recipient{
				user: *u,
				msg: alerts.Message{
					AlertTypeKey: strPtr(at.Key),
					Subject:      fmt.Sprintf("%s: %s", at.Subject, sc.TypeName),
					Body:         fmt.Sprintf("Your %s shift starts at %s", sc.TypeName, formatTime(sc.StartTime, r.loc)),
				},
			})
		}

		id := sc.ID
		n, err := r.stage(ctx, nil, occurrence{
			event:      strconv.FormatInt(sc.ID, 10),
			threshold:  "0",
			recipients: recipients,
			channels:   r.channels,
			mark: func(ctx context.Context, w db.Writer) error {
				return w.MarkScheduleNotified(ctx, id)
			},
		})
		tally.add(n, err)
	}

	return tally.summary("schedule"), nil
}

// MatchStrategyRule alerts permission holders, except the author, about each
// newly posted match strategy.
type MatchStrategyRule struct {
	base
	channels []string
	baseURL  string
}

// NewMatchStrategyRule creates the match strategy rule.
func NewMatchStrategyRule(opts Options, channels []string) *MatchStrategyRule {
	return &MatchStrategyRule{base: opts.base(MatchStrategyKey), channels: channels, baseURL: opts.BaseURL}
}

// Stage implements Rule.
func (r *MatchStrategyRule) Stage(ctx context.Context, now time.Time) (string, error) {
	at, err := r.alertType(ctx, MatchStrategyKey)
	if err != nil {
		return "", err
	}

	strategies, err := r.store.MatchStrategiesSince(ctx, at.LastRun, now)
	if err != nil {
		return "", err
	}

	var occs []occurrence
	if len(strategies) > 0 {
		users, err := r.store.UsersWithPermission(ctx, MatchStrategyRole)
		if err != nil {
			return "", err
		}
		for _, ms := range strategies {
			author := ms.UserID
			msg := alerts.Message{
				AlertTypeKey: strPtr(at.Key),
				Subject:      fmt.Sprintf("%s: %s", at.Subject, ms.MatchKey),
				Body:         fmt.Sprintf("A new strategy was posted for match %s", ms.MatchKey),
				URL:          strPtr(fmt.Sprintf("%s/scouting/strategy/?id=%d", r.baseURL, ms.ID)),
			}
			occs = append(occs, occurrence{
				event:      strconv.FormatInt(ms.ID, 10),
				threshold:  "0",
				recipients: toRecipients(users, msg, &author),
				channels:   r.channels,
			})
		}
	}

	n, err := r.stage(ctx, advanceTo(at.Key, now), occs...)
	if errors.Is(err, errStagingHeld) {
		return heldSummary, nil
	}
	if err != nil {
		return "", err
	}

	if len(strategies) == 0 {
		return "NO STRATEGIES", nil
	}
	return fmt.Sprintf("%d strategy(s), %d alert(s) staged", len(strategies), n), nil
}

// MeetingRule alerts permission holders when a meeting is about to start and
// again when it is about to end. Each phase has its own flag.
type MeetingRule struct {
	base
	channels []string
	lead     time.Duration
	loc      *time.Location
}

// NewMeetingRule creates the meeting rule. A zero lead uses DefaultMeetingLead.
func NewMeetingRule(opts Options, lead time.Duration, channels []string) *MeetingRule {
	if lead <= 0 {
		lead = DefaultMeetingLead
	}
	return &MeetingRule{base: opts.base(MeetingKey), channels: channels, lead: lead, loc: opts.Location}
}

// Stage implements Rule.
func (r *MeetingRule) Stage(ctx context.Context, now time.Time) (string, error) {
	at, err := r.alertType(ctx, MeetingKey)
	if err != nil {
		return "", err
	}

	to := now.Add(r.lead)
	meetings, err := r.store.MeetingsBetween(ctx, now, to)
	if err != nil {
		return "", err
	}
	var tally flagTally
	if len(meetings) == 0 {
		return tally.summary("meeting phase"), nil
	}

	users, err := r.store.UsersWithPermission(ctx, MeetingRole)
	if err != nil {
		return "", err
	}

	for _, m := range meetings {
		for _, phase := range []db.MeetingPhase{db.MeetingStart, db.MeetingEnd} {
			var when time.Time
			var verb string
			var done bool
			if phase == db.MeetingStart {
				when, verb, done = m.StartTime, "starts", m.StartNotified
			} else {
				when, verb, done = m.EndTime, "ends", m.EndNotified
			}
			if done || when.Before(now) || when.After(to) {
				continue
			}

			msg := alerts.Message{
				AlertTypeKey: strPtr(at.Key),
				Subject:      fmt.Sprintf("%s %s", m.Title, verb),
				Body:         fmt.Sprintf("%s %s at %s", m.Title, verb, formatTime(when, r.loc)),
			}
			id, ph := m.ID, phase
			n, err := r.stage(ctx, nil, occurrence{
				event:      strconv.FormatInt(m.ID, 10),
				threshold:  string(phase),
				recipients: toRecipients(users, msg, nil),
				channels:   r.channels,
				mark: func(ctx context.Context, w db.Writer) error {
					return w.MarkMeetingNotified(ctx, id, ph)
				},
			})
			tally.add(n, err)
		}
	}

	return tally.summary("meeting phase"), nil
}
