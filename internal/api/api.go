/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the day plan over HTTP: schedule reads, activity and
// settings mutations, ICS export and import, calendar sync, archive access,
// audit queries, and a websocket event feed.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/jonyboev-wq/calendarv2/internal/archive"
	"github.com/jonyboev-wq/calendarv2/internal/audit"
	"github.com/jonyboev-wq/calendarv2/internal/auth"
	"github.com/jonyboev-wq/calendarv2/internal/cache"
	"github.com/jonyboev-wq/calendarv2/internal/calendar"
	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/jonyboev-wq/calendarv2/internal/models"
	"github.com/jonyboev-wq/calendarv2/internal/planner"
	"github.com/jonyboev-wq/calendarv2/internal/scheduler"
	"github.com/jonyboev-wq/calendarv2/internal/webhooks"
)

// API exposes HTTP handlers.
type API struct {
	db         *gorm.DB
	jwtSecret  []byte
	scheduler  *scheduler.Service
	auditSvc   *audit.Service
	syncSvc    *calendar.SyncService
	archiveSvc *archive.Service
	webhookSvc *webhooks.Service
	cache      *cache.Cache
	bus        events.Broker
	logger     zerolog.Logger
}

// New creates the API router wrapper. With an empty jwtSecret every route is
// open; with one configured the mutating surface sits behind bearer tokens
// and API keys.
func New(db *gorm.DB, jwtSecret []byte, sched *scheduler.Service, auditSvc *audit.Service, bus events.Broker, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		jwtSecret: jwtSecret,
		scheduler: sched,
		auditSvc:  auditSvc,
		bus:       bus,
		logger:    logger,
	}
}

// SetSyncService sets the calendar sync service. Without it POST /sync
// reports sync as unavailable.
func (a *API) SetSyncService(s *calendar.SyncService) {
	a.syncSvc = s
}

// SetArchiveService sets the archive service backing the archive endpoints.
func (a *API) SetArchiveService(s *archive.Service) {
	a.archiveSvc = s
}

// SetCache sets the cache instance used for schedule and export reads.
func (a *API) SetCache(c *cache.Cache) {
	a.cache = c
}

// SetWebhookService sets the delivery service behind the webhook test and
// delivery-history endpoints.
func (a *API) SetWebhookService(s *webhooks.Service) {
	a.webhookSvc = s
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		if a.authEnabled() {
			r.Post("/auth/login", a.handleLogin)
		}

		r.Group(func(pr chi.Router) {
			if a.authEnabled() {
				pr.Use(a.authMiddleware())
			}

			pr.Get("/schedule", a.handleScheduleGet)
			pr.Get("/schedule/export", a.handleScheduleExport)
			pr.Post("/schedule/import", a.handleScheduleImport)
			pr.Get("/schedule/runs", a.handleScheduleRuns)

			pr.Route("/activities", func(r chi.Router) {
				r.Post("/", a.handleActivityCreate)
				r.Put("/{activityID}", a.handleActivityUpdate)
				r.Delete("/{activityID}", a.handleActivityDelete)
				r.Post("/{activityID}/complete", a.handleActivityComplete)
			})

			pr.Put("/settings", a.handleSettingsUpdate)
			pr.Post("/proposals", a.handleProposalCreate)

			pr.Post("/sync", a.handleSyncRun)

			pr.Get("/archive/latest", a.handleArchiveLatest)
			pr.Post("/archive", a.handleArchiveNow)

			pr.Get("/events", a.handleEvents)

			if a.authEnabled() {
				pr.Route("/apikeys", func(r chi.Router) {
					r.Get("/", a.handleAPIKeysList)
					r.Post("/", a.handleAPIKeyCreate)
					r.Delete("/{keyID}", a.handleAPIKeyRevoke)
				})
			}

			// Admin surface; open like everything else when auth is off.
			pr.Group(func(ar chi.Router) {
				if a.authEnabled() {
					ar.Use(a.requireRoles(models.RoleAdmin))
				}
				ar.Get("/audit", a.handleAuditList)
				ar.Post("/cache/flush", a.handleCacheFlush)

				ar.Route("/webhooks", func(r chi.Router) {
					r.Get("/", a.handleWebhooksList)
					r.Post("/", a.handleWebhookCreate)
					r.Delete("/{webhookID}", a.handleWebhookDelete)
					r.Post("/{webhookID}/test", a.handleWebhookTest)
					r.Get("/{webhookID}/deliveries", a.handleWebhookDeliveries)
				})
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if a.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache_not_available")
		return
	}
	if err := a.cache.FlushAll(r.Context()); err != nil {
		a.logger.Error().Err(err).Msg("cache flush failed")
		writeError(w, http.StatusInternalServerError, "flush_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (a *API) authEnabled() bool {
	return len(a.jwtSecret) > 0
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.MiddlewareWithJWT(a.db, a.jwtSecret)
}

func (a *API) requireRoles(allowed ...models.RoleName) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[string(role)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range claims.Roles {
				if _, exists := allowedSet[role]; exists {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient_role")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writePlannerError maps placement failures onto the API error contract.
func (a *API) writePlannerError(w http.ResponseWriter, err error) {
	var (
		validation *planner.ValidationError
		duplicate  *planner.DuplicateIDError
		notFound   *planner.NotFoundError
		conflict   *planner.ConflictError
		badRange   *planner.InvalidRangeError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation_failed",
			"detail": validation.Error(),
		})
	case errors.As(err, &duplicate):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "duplicate_id",
			"id":    duplicate.ID,
		})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": "not_found",
			"id":    notFound.ID,
		})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":         "conflict",
			"id":            conflict.ActivityID,
			"collides_with": conflict.CollidesWith,
		})
	case errors.As(err, &badRange):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "invalid_range",
			"detail": badRange.Error(),
		})
	case errors.Is(err, gorm.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	default:
		a.logger.Error().Err(err).Msg("schedule operation failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

// auditContext extracts user and request info for audit logging.
func (a *API) auditContext(r *http.Request) events.Payload {
	payload := events.Payload{
		"ip_address": r.RemoteAddr,
		"user_agent": r.UserAgent(),
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims != nil {
		payload["user_id"] = claims.UserID

		var user models.User
		if err := a.db.Select("email").First(&user, "id = ?", claims.UserID).Error; err == nil {
			payload["user_email"] = user.Email
		}
	}

	return payload
}

// publishAuditEvent publishes an audit event with user and request context.
func (a *API) publishAuditEvent(r *http.Request, eventType events.EventType, data events.Payload) {
	payload := a.auditContext(r)
	for k, v := range data {
		payload[k] = v
	}
	a.bus.Publish(eventType, payload)
}

func parseTimeField(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, &planner.ValidationError{Field: field, Reason: "must be RFC3339"}
	}
	return t.UTC(), nil
}
