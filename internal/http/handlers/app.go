package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Ad-Bean/airouter-sub000/internal/domain"
	"github.com/Ad-Bean/airouter-sub000/internal/middleware"
)

// GenerationStarter launches a fan-out generation. Implemented by
// generation.Orchestrator.
type GenerationStarter interface {
	StartGeneration(ctx context.Context, req domain.GenerationRequest) (string, error)
}

// MessageReader reads message snapshots for the polling endpoint.
type MessageReader interface {
	GetByID(ctx context.Context, id string) (*domain.Message, error)
}

// ImageReader reads generated image records.
type ImageReader interface {
	GetByID(ctx context.Context, id string) (*domain.GeneratedImage, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.GeneratedImage, error)
}

// BlobReader loads stored image bytes for serving.
type BlobReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// App is the handler container.
type App struct {
	Logger       zerolog.Logger
	Orchestrator GenerationStarter
	Messages     MessageReader
	Images       ImageReader
	Blobs        BlobReader
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, slug, message string) {
	a.json(w, code, map[string]string{"error": slug, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
