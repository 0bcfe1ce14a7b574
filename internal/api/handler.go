// Package api serves the user alert endpoints and the job triggers over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/alerts"
	"github.com/lalithlochan/teamalerts/internal/db"
)

// AlertService lists and dismisses a user's alerts and broadcasts to a role.
type AlertService interface {
	GetUserAlerts(ctx context.Context, userID int64, channel string) ([]db.UserAlert, error)
	DismissAlert(ctx context.Context, userID int64, channelSendID uuid.UUID) error
	SendAlertsToRole(ctx context.Context, role string, msg alerts.Message, channels []string, excludeUserID *int64) (int, error)
}

// ChannelLister returns the configured channel types.
type ChannelLister interface {
	ListChannelTypes(ctx context.Context) ([]db.CommChannelType, error)
}

// JobRunner runs a named job.
type JobRunner interface {
	Execute(ctx context.Context, job, trigger string) (string, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// AlertListResponse wraps the caller's alerts.
type AlertListResponse struct {
	Alerts []db.UserAlert `json:"alerts"`
	Count  int            `json:"count"`
}

// BroadcastRequest is the body of POST /v1/alerts/broadcast.
type BroadcastRequest struct {
	Role          string   `json:"role"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	URL           *string  `json:"url,omitempty"`
	Channels      []string `json:"channels"`
	ExcludeUserID *int64   `json:"exclude_user_id,omitempty"`
}

// BroadcastResponse reports how many alerts were staged.
type BroadcastResponse struct {
	Role   string `json:"role"`
	Alerts int    `json:"alerts"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger   *zap.Logger
	alerts   AlertService
	channels ChannelLister
	runner   JobRunner
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, alerts AlertService, channels ChannelLister, runner JobRunner) *Handler {
	return &Handler{
		logger:   logger,
		alerts:   alerts,
		channels: channels,
		runner:   runner,
	}
}

var knownChannels = map[string]bool{
	db.ChannelEmail:        true,
	db.ChannelTxt:          true,
	db.ChannelNotification: true,
	db.ChannelDiscord:      true,
	db.ChannelMessage:      true,
}

// ListAlerts handles GET /v1/alerts?channel=<code>
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	channel := r.URL.Query().Get("channel")
	if !knownChannels[channel] {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel",
			"channel must be one of email, txt, notification, discord, message")
		return
	}

	list, err := h.alerts.GetUserAlerts(r.Context(), userID, channel)
	if err != nil {
		h.logger.Error("failed to list alerts",
			zap.Error(err),
			zap.Int64("user_id", userID),
			zap.String("channel", channel),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list alerts", "")
		return
	}
	if list == nil {
		list = []db.UserAlert{}
	}

	h.writeJSON(w, http.StatusOK, AlertListResponse{Alerts: list, Count: len(list)})
}

// DismissAlert handles POST /v1/alerts/{channelSendID}/dismiss
func (h *Handler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	idStr := chi.URLParam(r, "channelSendID")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel send ID", "ID must be a valid UUID")
		return
	}

	err = h.alerts.DismissAlert(r.Context(), userID, id)
	switch {
	case errors.Is(err, alerts.ErrAlreadyDismissed):
		h.writeError(w, http.StatusConflict, "already_dismissed", "Alert already dismissed", "")
		return
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Alert not found", "")
		return
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to dismiss alert", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"channel_send_id": idStr,
		"status":          "dismissed",
	})
}

// Broadcast handles POST /v1/alerts/broadcast
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}
	if req.Role == "" || req.Subject == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing field", "role and subject are required")
		return
	}
	if len(req.Channels) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing field", "at least one channel is required")
		return
	}
	for _, ch := range req.Channels {
		if !knownChannels[ch] {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel", "unknown channel "+ch)
			return
		}
	}

	n, err := h.alerts.SendAlertsToRole(r.Context(), req.Role, alerts.Message{
		Subject: req.Subject,
		Body:    req.Body,
		URL:     req.URL,
	}, req.Channels, req.ExcludeUserID)
	switch {
	case errors.Is(err, alerts.ErrNoRecipients):
		h.writeError(w, http.StatusUnprocessableEntity, "no_recipients", "Role has no recipients", req.Role)
		return
	case err != nil:
		h.logger.Error("broadcast failed",
			zap.Error(err),
			zap.String("role", req.Role),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to stage alerts", "")
		return
	}

	h.writeJSON(w, http.StatusOK, BroadcastResponse{Role: req.Role, Alerts: n})
}

// ListChannels handles GET /v1/channels
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	types, err := h.channels.ListChannelTypes(r.Context())
	if err != nil {
		h.logger.Error("failed to list channel types", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list channels", "")
		return
	}
	h.writeJSON(w, http.StatusOK, types)
}

// RunJob returns a handler for POST /v1/jobs/<job>. The body is the plain
// text summary; only a store outage is reported as an error.
func (h *Handler) RunJob(job string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := h.runner.Execute(r.Context(), job, "api")
		if err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "job_failed", "Job could not reach the data store", err.Error())
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(summary + "\n"))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, status, errType, title, detail)
}

func writeProblem(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
