package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Ad-Bean/airouter-sub000/internal/domain"
	"github.com/Ad-Bean/airouter-sub000/internal/middleware"
)

type generationCreateRequest struct {
	SessionID    string                    `json:"session_id"`
	Prompt       string                    `json:"prompt"`
	Providers    []string                  `json:"providers"`
	Models       map[string]string         `json:"models"`
	ImageCount   map[string]int            `json:"image_count"`
	ModelOptions map[string]map[string]any `json:"model_options"`
	MessageID    string                    `json:"message_id"`
}

type generationCreateResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// GenerationsCreate accepts a prompt plus provider selection, starts the
// fan-out and returns immediately with the message id to poll.
func (a *App) GenerationsCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generationCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	messageID, err := a.Orchestrator.StartGeneration(r.Context(), domain.GenerationRequest{
		SessionID:    req.SessionID,
		UserID:       userID,
		Prompt:       req.Prompt,
		Providers:    req.Providers,
		Models:       req.Models,
		ImageCount:   req.ImageCount,
		ModelOptions: req.ModelOptions,
		MessageID:    req.MessageID,
		Locale:       middleware.LocaleFromContext(r.Context()),
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidRequest):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, domain.ErrInsufficientCredits):
			a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits for this request")
		case errors.Is(err, domain.ErrNotFound):
			a.error(w, http.StatusNotFound, "not_found", "user not found")
		default:
			a.Logger.Error().Err(err).Msg("handlers: start generation failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to start generation")
		}
		return
	}

	a.json(w, http.StatusAccepted, generationCreateResponse{
		MessageID: messageID,
		Status:    string(domain.StatusGenerating),
	})
}
