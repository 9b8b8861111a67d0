/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/jonyboev-wq/calendarv2/internal/auth"
	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/jonyboev-wq/calendarv2/internal/models"
)

// tokenTTL bounds how long an issued login token stays valid.
const tokenTTL = 24 * time.Hour

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleLogin exchanges email and password for a bearer token.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "credentials_required")
		return
	}

	var user models.User
	if err := a.db.First(&user, "email = ?", req.Email).Error; err != nil {
		// Same answer for unknown users and bad passwords.
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := auth.Issue(a.jwtSecret, auth.Claims{
		UserID: user.ID,
		Roles:  []string{string(user.Role)},
	}, tokenTTL)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to sign token")
		writeError(w, http.StatusInternalServerError, "token_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
	})
}

// apiKeyResponse is the JSON form of a stored API key. The plaintext key
// appears only in the create response.
type apiKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

func toAPIKeyResponse(key models.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:         key.ID,
		Name:       key.Name,
		KeyPrefix:  key.KeyPrefix,
		CreatedAt:  key.CreatedAt,
		LastUsedAt: key.LastUsedAt,
		RevokedAt:  key.RevokedAt,
	}
}

func (a *API) handleAPIKeysList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keys, err := auth.ListAPIKeys(a.db, claims.UserID)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to list api keys")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	response := make([]apiKeyResponse, len(keys))
	for i, key := range keys {
		response[i] = toAPIKeyResponse(key)
	}
	writeJSON(w, http.StatusOK, map[string]any{"api_keys": response})
}

type apiKeyCreateRequest struct {
	Name string `json:"name"`
}

func (a *API) handleAPIKeyCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req apiKeyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	plaintext, key, err := auth.GenerateAPIKey(claims.UserID, req.Name)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to generate api key")
		writeError(w, http.StatusInternalServerError, "generate_failed")
		return
	}
	if err := a.db.Create(key).Error; err != nil {
		a.logger.Error().Err(err).Msg("failed to store api key")
		writeError(w, http.StatusInternalServerError, "store_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditAPIKeyCreate, events.Payload{
		"id":   key.ID,
		"name": key.Name,
	})

	resp := toAPIKeyResponse(*key)
	writeJSON(w, http.StatusCreated, map[string]any{
		"api_key": resp,
		"key":     plaintext,
	})
}

func (a *API) handleAPIKeyRevoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keyID := chi.URLParam(r, "keyID")
	if err := auth.RevokeAPIKey(a.db, keyID, claims.UserID); err != nil {
		if errors.Is(err, auth.ErrAPIKeyNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		a.logger.Error().Err(err).Msg("failed to revoke api key")
		writeError(w, http.StatusInternalServerError, "revoke_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditAPIKeyRevoke, events.Payload{
		"id": keyID,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
