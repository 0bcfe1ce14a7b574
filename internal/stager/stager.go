// Package stager turns source events into pending alerts. Each rule scans one
// category of events and writes one Alert plus one ChannelSend per channel for
// every recipient not yet notified about that occurrence.
package stager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/alerts"
	"github.com/lalithlochan/teamalerts/internal/db"
	"github.com/lalithlochan/teamalerts/internal/metrics"
	"github.com/lalithlochan/teamalerts/internal/redis"
)

// ErrMissingConfig is returned when a rule's alert type row is absent or void.
var ErrMissingConfig = errors.New("missing alert configuration")

// Store is the read and transactional write surface the rules use.
type Store interface {
	InTx(ctx context.Context, fn func(w db.Writer) error) error
	GetAlertType(ctx context.Context, key string) (*db.AlertType, error)
	UsersWithPermission(ctx context.Context, codename string) ([]db.User, error)
	GetUser(ctx context.Context, id int64) (*db.User, error)
	ErrorLogsSince(ctx context.Context, since, until time.Time) ([]db.ErrorLog, error)
	FormResponsesSince(ctx context.Context, formCode string, since, until time.Time) ([]db.FormResponse, error)
	FieldSchedulesBetween(ctx context.Context, from, to time.Time) ([]db.FieldSchedule, error)
	SchedulesBetween(ctx context.Context, from, to time.Time) ([]db.Schedule, error)
	MatchStrategiesSince(ctx context.Context, since, until time.Time) ([]db.MatchStrategy, error)
	MeetingsBetween(ctx context.Context, from, to time.Time) ([]db.Meeting, error)
}

// Guard reserves staging keys across overlapping passes.
type Guard interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Rule stages one category of source events.
type Rule interface {
	Name() string
	Stage(ctx context.Context, now time.Time) (string, error)
}

// Stager runs every rule once per pass.
type Stager struct {
	rules  []Rule
	logger *zap.Logger
	now    func() time.Time
}

// New creates a stager over the given rules. Rules run in order.
func New(logger *zap.Logger, rules ...Rule) *Stager {
	return &Stager{
		rules:  rules,
		logger: logger,
		now:    time.Now,
	}
}

// Stage runs every rule once and returns a text summary with one line per
// rule. A failing rule is reported in the summary and the pass continues.
// An error is returned only when every rule failed for reasons other than
// missing configuration, which means the store could not be reached.
func (s *Stager) Stage(ctx context.Context) (string, error) {
	now := s.now()
	lines := make([]string, 0, len(s.rules))
	var storeErrs []error

	for _, rule := range s.rules {
		summary, err := s.runRule(ctx, rule, now)
		if err != nil {
			s.logger.Error("stage rule failed",
				zap.Error(err),
				zap.String("rule", rule.Name()),
			)
			metrics.RecordStageRuleError(rule.Name())
			lines = append(lines, fmt.Sprintf("%s: ERROR %v", rule.Name(), err))
			if !errors.Is(err, ErrMissingConfig) {
				storeErrs = append(storeErrs, err)
			}
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", rule.Name(), summary))
	}

	summary := strings.Join(lines, "\n")
	if len(s.rules) > 0 && len(storeErrs) == len(s.rules) {
		return summary, fmt.Errorf("every stage rule failed: %w", errors.Join(storeErrs...))
	}
	return summary, nil
}

func (s *Stager) runRule(ctx context.Context, rule Rule, now time.Time) (summary string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return rule.Stage(ctx, now)
}

// recipient is one personalised alert inside an occurrence.
type recipient struct {
	user db.User
	msg  alerts.Message
}

// occurrence is one source event crossing one threshold.
type occurrence struct {
	event      string
	threshold  string
	recipients []recipient
	channels   []string
	mark       func(ctx context.Context, w db.Writer) error
}

// base carries what every rule shares.
type base struct {
	name   string
	store  Store
	guard  Guard
	logger *zap.Logger
}

func (b *base) Name() string { return b.name }

// alertType loads the rule's alert type, mapping a missing row to ErrMissingConfig.
func (b *base) alertType(ctx context.Context, key string) (*db.AlertType, error) {
	at, err := b.store.GetAlertType(ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("alert type %q: %w", key, ErrMissingConfig)
	}
	if err != nil {
		return nil, err
	}
	return at, nil
}

// lookupUser resolves an assigned user. Missing or inactive users are skipped.
func (b *base) lookupUser(ctx context.Context, id int64) (*db.User, bool) {
	u, err := b.store.GetUser(ctx, id)
	if err != nil {
		b.logger.Warn("skipping recipient",
			zap.Error(err),
			zap.Int64("user_id", id),
		)
		return nil, false
	}
	if !u.Active {
		b.logger.Info("skipping inactive recipient",
			zap.Int64("user_id", id),
		)
		return nil, false
	}
	return u, true
}

// errStagingHeld means another pass holds a staging key for the batch. Nothing
// was written and the batch stays eligible for a later pass.
var errStagingHeld = errors.New("staging in progress elsewhere")

// stage writes every recipient's alert for every occurrence, each occurrence's
// flag, and the batch mark in one transaction. If another pass holds any of
// the batch's staging keys the whole batch is left for later. Guard errors
// fail open.
func (b *base) stage(ctx context.Context, mark func(ctx context.Context, w db.Writer) error, occs ...occurrence) (int, error) {
	reserved, err := b.reserve(ctx, occs)
	if err != nil {
		return 0, err
	}

	count := 0
	err = b.store.InTx(ctx, func(w db.Writer) error {
		count = 0
		for _, occ := range occs {
			for _, r := range occ.recipients {
				n, err := alerts.FanOut(ctx, w, []db.User{r.user}, r.msg, occ.channels, nil)
				if err != nil {
					return err
				}
				count += n
			}
			if occ.mark != nil {
				if err := occ.mark(ctx, w); err != nil {
					return err
				}
			}
		}
		if mark != nil {
			return mark(ctx, w)
		}
		return nil
	})
	if err != nil {
		b.release(ctx, reserved)
		b.logger.Error("batch not staged",
			zap.Error(err),
			zap.Int("occurrences", len(occs)),
		)
		return 0, err
	}

	metrics.RecordAlertsStaged(b.name, count)
	return count, nil
}

// reserve takes the staging key of every recipient in occs. When any key is
// already held, the keys taken so far are released and errStagingHeld is
// returned.
func (b *base) reserve(ctx context.Context, occs []occurrence) ([]string, error) {
	if b.guard == nil {
		return nil, nil
	}

	var reserved []string
	for _, occ := range occs {
		for _, r := range occ.recipients {
			key := redis.StageKey(b.name, occ.event, r.user.ID, occ.threshold)
			ok, err := b.guard.Reserve(ctx, key)
			if err != nil {
				b.logger.Warn("staging guard unavailable",
					zap.Error(err),
					zap.String("key", key),
				)
				continue
			}
			if !ok {
				b.logger.Info("occurrence held by another pass",
					zap.String("key", key),
				)
				metrics.RecordStageGuardSkip()
				b.release(ctx, reserved)
				return nil, errStagingHeld
			}
			reserved = append(reserved, key)
		}
	}
	return reserved, nil
}

func (b *base) release(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := b.guard.Release(ctx, key); err != nil {
			b.logger.Warn("failed to release staging key",
				zap.Error(err),
				zap.String("key", key),
			)
		}
	}
}

func strPtr(s string) *string { return &s }

// formatTime renders event times in alert bodies.
func formatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("Mon Jan 2 3:04 PM")
}
