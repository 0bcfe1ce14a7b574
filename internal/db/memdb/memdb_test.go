package memdb

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lalithlochan/teamalerts/internal/db"
)

func TestInTx_RollsBackOnError(t *testing.T) {
	s := New()
	s.AddAlertType(db.AlertType{Key: "error", LastRun: time.Unix(100, 0)})
	ctx := context.Background()

	err := s.InTx(ctx, func(w db.Writer) error {
		a := &db.Alert{UserID: 1, Subject: "s", Body: "b"}
		if err := w.CreateAlert(ctx, a); err != nil {
			return err
		}
		if err := w.CreateChannelSend(ctx, &db.ChannelSend{AlertID: a.ID, Channel: db.ChannelEmail}); err != nil {
			return err
		}
		if err := w.AdvanceLastRun(ctx, "error", time.Unix(200, 0)); err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error")
	}

	if got := len(s.Alerts()); got != 0 {
		t.Errorf("alerts after rollback = %d, want 0", got)
	}
	if got := len(s.ChannelSends()); got != 0 {
		t.Errorf("channel sends after rollback = %d, want 0", got)
	}
	at, _ := s.AlertType("error")
	if !at.LastRun.Equal(time.Unix(100, 0)) {
		t.Errorf("last_run after rollback = %v, want unchanged", at.LastRun)
	}
}

func TestCreateAlert_Truncates(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.InTx(ctx, func(w db.Writer) error {
		return w.CreateAlert(ctx, &db.Alert{
			UserID:  1,
			Subject: strings.Repeat("s", 300),
			Body:    strings.Repeat("é", 5000),
		})
	})
	if err != nil {
		t.Fatalf("InTx() error = %v", err)
	}

	a := s.Alerts()[0]
	if n := len([]rune(a.Subject)); n != db.MaxSubjectLength {
		t.Errorf("subject length = %d, want %d", n, db.MaxSubjectLength)
	}
	if n := len([]rune(a.Body)); n != db.MaxBodyLength {
		t.Errorf("body length = %d, want %d", n, db.MaxBodyLength)
	}
}

func TestAdvanceLastRun_NeverMovesBackwards(t *testing.T) {
	s := New()
	s.AddAlertType(db.AlertType{Key: "error", LastRun: time.Unix(500, 0)})
	ctx := context.Background()

	if err := s.InTx(ctx, func(w db.Writer) error {
		return w.AdvanceLastRun(ctx, "error", time.Unix(100, 0))
	}); err != nil {
		t.Fatalf("InTx() error = %v", err)
	}

	at, _ := s.AlertType("error")
	if !at.LastRun.Equal(time.Unix(500, 0)) {
		t.Errorf("last_run = %v, want 500", at.LastRun.Unix())
	}
}

func TestPendingDeliveries_RespectsRetryBound(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.Seed(db.Alert{UserID: 1}, db.ChannelSend{Channel: db.ChannelEmail, Tries: 3})
	s.Seed(db.Alert{UserID: 1}, db.ChannelSend{Channel: db.ChannelEmail, Tries: 4})

	pending, err := s.PendingDeliveries(ctx, 100)
	if err != nil {
		t.Fatalf("PendingDeliveries() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Send.Tries != 3 {
		t.Errorf("pending = %+v, want only the tries=3 row", pending)
	}
}

func TestDismissChannelSend_SecondCallErrors(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := s.Seed(db.Alert{UserID: 7}, db.ChannelSend{Channel: db.ChannelNotification})

	if err := s.DismissChannelSend(ctx, 7, id, time.Now()); err != nil {
		t.Fatalf("first dismiss error = %v", err)
	}
	err := s.DismissChannelSend(ctx, 7, id, time.Now())
	if !errors.Is(err, db.ErrAlreadyDismissed) {
		t.Errorf("second dismiss error = %v, want ErrAlreadyDismissed", err)
	}
}
