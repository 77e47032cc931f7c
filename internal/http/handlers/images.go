package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Ad-Bean/airouter-sub000/internal/domain"
)

type imageSummary struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Prompt    string    `json:"prompt"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	Favorite  bool      `json:"favorite"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ImagesList returns the caller's generated images, newest first.
func (a *App) ImagesList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	images, err := a.Images.ListByOwner(r.Context(), userID, 0)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("handlers: list images failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list images")
		return
	}
	out := make([]imageSummary, 0, len(images))
	for _, img := range images {
		out = append(out, imageSummary{
			ID:        img.ID,
			URL:       "/images/" + img.ID,
			Prompt:    img.Prompt,
			Provider:  img.Provider,
			Model:     img.Model,
			Width:     img.Width,
			Height:    img.Height,
			Favorite:  img.Favorite,
			Public:    img.Public,
			CreatedAt: img.CreatedAt,
			ExpiresAt: img.ExpiresAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"images": out})
}

// ImageServe resolves a display URL to the stored bytes. Expired images are
// gone for good, not pending: 410 tells the client to stop retrying. Records
// that only hold a remote reference redirect to the provider URL.
func (a *App) ImageServe(w http.ResponseWriter, r *http.Request) {
	imageID := chi.URLParam(r, "image_id")
	if imageID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "missing image id")
		return
	}

	img, err := a.Images.GetByID(r.Context(), imageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "image not found")
			return
		}
		a.Logger.Error().Err(err).Str("image_id", imageID).Msg("handlers: fetch image failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to fetch image")
		return
	}
	if img.Expired(time.Now()) {
		a.error(w, http.StatusGone, "expired", "image has expired")
		return
	}

	if img.StorageKey == "" {
		if img.SourceURL != "" {
			http.Redirect(w, r, img.SourceURL, http.StatusFound)
			return
		}
		a.error(w, http.StatusNotFound, "not_found", "image payload unavailable")
		return
	}

	data, err := a.Blobs.Read(r.Context(), img.StorageKey)
	if err != nil {
		a.Logger.Error().Err(err).Str("image_id", imageID).Msg("handlers: read image blob failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read image")
		return
	}

	mime := img.MIME
	if mime == "" {
		mime = "image/png"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
