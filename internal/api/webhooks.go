/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/jonyboev-wq/calendarv2/internal/models"
)

// deliverableEvents are the bus event types the webhook service forwards.
var deliverableEvents = map[string]struct{}{
	string(events.EventScheduleUpdated):     {},
	string(events.EventActivityUnplaceable): {},
	string(events.EventSyncCompleted):       {},
	string(events.EventArchiveSaved):        {},
}

// webhookResponse is the JSON form of a target. The signing secret appears
// only in the create response.
type webhookResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func toWebhookResponse(target models.WebhookTarget) webhookResponse {
	resp := webhookResponse{
		ID:        target.ID,
		URL:       target.URL,
		Events:    []string{},
		Active:    target.Active,
		CreatedAt: target.CreatedAt,
	}
	if target.Events != "" {
		for _, e := range strings.Split(target.Events, ",") {
			resp.Events = append(resp.Events, strings.TrimSpace(e))
		}
	}
	return resp
}

func (a *API) handleWebhooksList(w http.ResponseWriter, r *http.Request) {
	var targets []models.WebhookTarget
	if err := a.db.Order("created_at ASC").Find(&targets).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to list webhook targets")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	response := make([]webhookResponse, len(targets))
	for i, target := range targets {
		response[i] = toWebhookResponse(target)
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": response})
}

type webhookCreateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

func (a *API) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	var req webhookCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid_url")
		return
	}
	for _, e := range req.Events {
		if _, ok := deliverableEvents[e]; !ok {
			writeError(w, http.StatusBadRequest, "unknown_event")
			return
		}
	}

	target := models.NewWebhookTarget(req.URL, strings.Join(req.Events, ","))
	if err := a.db.Create(target).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to store webhook target")
		writeError(w, http.StatusInternalServerError, "store_failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"webhook": toWebhookResponse(*target),
		"secret":  target.Secret,
	})
}

func (a *API) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "webhookID")

	result := a.db.Delete(&models.WebhookTarget{}, "id = ?", id)
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("failed to delete webhook target")
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	if a.webhookSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "webhooks_not_configured")
		return
	}

	target, ok := a.findWebhookTarget(w, chi.URLParam(r, "webhookID"))
	if !ok {
		return
	}

	if err := a.webhookSvc.TestTarget(r.Context(), target); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":  "test_failed",
			"detail": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

// deliveryResponse is the JSON form of one delivery attempt.
type deliveryResponse struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func (a *API) handleWebhookDeliveries(w http.ResponseWriter, r *http.Request) {
	if a.webhookSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "webhooks_not_configured")
		return
	}

	target, ok := a.findWebhookTarget(w, chi.URLParam(r, "webhookID"))
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := a.webhookSvc.Deliveries(target.ID, limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to query webhook deliveries")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	response := make([]deliveryResponse, len(rows))
	for i, row := range rows {
		response[i] = deliveryResponse{
			ID:         row.ID,
			Event:      row.Event,
			StatusCode: row.StatusCode,
			Error:      row.Error,
			DurationMS: row.DurationMS,
			CreatedAt:  row.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": response})
}

func (a *API) findWebhookTarget(w http.ResponseWriter, id string) (*models.WebhookTarget, bool) {
	var target models.WebhookTarget
	if err := a.db.First(&target, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return nil, false
		}
		a.logger.Error().Err(err).Msg("failed to load webhook target")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return nil, false
	}
	return &target, true
}
