package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/alerts"
	"github.com/lalithlochan/teamalerts/internal/db"
	"github.com/lalithlochan/teamalerts/internal/db/memdb"
)

func TestBroadcast(t *testing.T) {
	store := memdb.New()
	store.AddUser(db.User{ID: 1, Active: true}, "meeting_notif")
	store.AddUser(db.User{ID: 2, Active: true}, "meeting_notif")
	svc := alerts.NewService(store, zap.NewNop())

	var out bytes.Buffer
	err := broadcast(context.Background(), svc, &out, "meeting_notif", broadcastOptions{
		subject:  "Shop closed",
		url:      "https://team.example/calendar/",
		channels: []string{db.ChannelEmail, db.ChannelDiscord},
		exclude:  2,
	})
	if err != nil {
		t.Fatalf("broadcast() error = %v", err)
	}
	if got := out.String(); got != "staged 1 alert(s) for meeting_notif\n" {
		t.Errorf("output = %q", got)
	}

	staged := store.Alerts()
	if len(staged) != 1 || staged[0].UserID != 1 {
		t.Fatalf("alerts = %+v", staged)
	}
	if staged[0].URL == nil || *staged[0].URL != "https://team.example/calendar/" {
		t.Errorf("url = %v", staged[0].URL)
	}
	if got := len(store.ChannelSends()); got != 2 {
		t.Errorf("channel sends = %d, want 2", got)
	}
}

func TestBroadcast_Validation(t *testing.T) {
	store := memdb.New()
	svc := alerts.NewService(store, zap.NewNop())

	tests := []struct {
		name string
		opts broadcastOptions
		want string
	}{
		{"no subject", broadcastOptions{channels: []string{db.ChannelEmail}}, "--subject"},
		{"no channels", broadcastOptions{subject: "s"}, "--channel"},
		{"unknown channel", broadcastOptions{subject: "s", channels: []string{"fax"}}, "unknown channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := broadcast(context.Background(), svc, &bytes.Buffer{}, "admin", tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestBroadcast_NoRecipients(t *testing.T) {
	svc := alerts.NewService(memdb.New(), zap.NewNop())

	err := broadcast(context.Background(), svc, &bytes.Buffer{}, "nobody", broadcastOptions{
		subject:  "s",
		channels: []string{db.ChannelEmail},
	})
	if !errors.Is(err, alerts.ErrNoRecipients) {
		t.Errorf("error = %v, want ErrNoRecipients", err)
	}
}
