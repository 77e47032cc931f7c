package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Ad-Bean/airouter-sub000/internal/domain"
)

type messageResponse struct {
	ID               string                 `json:"id"`
	SessionID        string                 `json:"session_id"`
	Role             string                 `json:"role"`
	Status           string                 `json:"status"`
	ImageURLs        []string               `json:"image_urls"`
	ImageProviderMap map[string]string      `json:"image_provider_map"`
	ProviderErrors   map[string]string      `json:"provider_errors"`
	Metadata         domain.MessageMetadata `json:"metadata"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// MessageGet returns the current snapshot of a message. Clients poll this
// endpoint while the status is generating; image_urls grows as providers
// finish.
func (a *App) MessageGet(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	messageID := chi.URLParam(r, "message_id")
	if messageID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "missing message id")
		return
	}

	msg, err := a.Messages.GetByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "message not found")
			return
		}
		a.Logger.Error().Err(err).Str("message_id", messageID).Msg("handlers: fetch message failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to fetch message")
		return
	}
	if msg.UserID != userID {
		// Hide other users' messages instead of confirming their existence.
		a.error(w, http.StatusNotFound, "not_found", "message not found")
		return
	}

	a.json(w, http.StatusOK, messageResponse{
		ID:               msg.ID,
		SessionID:        msg.SessionID,
		Role:             string(msg.Role),
		Status:           string(msg.Status),
		ImageURLs:        orEmpty(msg.ImageURLs),
		ImageProviderMap: orEmptyMap(msg.ImageProviderMap),
		ProviderErrors:   orEmptyMap(msg.ProviderErrors),
		Metadata:         msg.Metadata,
		CreatedAt:        msg.CreatedAt,
		UpdatedAt:        msg.UpdatedAt,
	})
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
