// Package images persists provider output as durable, user-owned image
// records with a stable display reference.
package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	stdimage "image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ad-Bean/airouter-sub000/internal/domain"
	provider "github.com/Ad-Bean/airouter-sub000/internal/providers/image"
)

// BlobStore is the durable byte storage the service writes to. Uploads are an
// optimization: a failed write never aborts persistence.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// TTLPolicy fixes image retention per tier. The TTL is computed from the
// owner's tier at creation time and never recalculated afterwards.
type TTLPolicy struct {
	Free time.Duration
	Paid time.Duration
}

// StoredImage is the stable reference handed back to the orchestrator.
type StoredImage struct {
	ID         string
	DisplayURL string
}

// Service implements the image persistence flow: decode, best-effort blob
// upload, tier-based expiry, durable record.
type Service struct {
	repo   domain.ImageRepository
	users  domain.UserRepository
	store  BlobStore
	ttl    TTLPolicy
	logger zerolog.Logger
	now    func() time.Time
}

// NewService wires the persistence service. store may be nil when no blob
// storage is configured.
func NewService(repo domain.ImageRepository, users domain.UserRepository, store BlobStore, ttl TTLPolicy, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		users:  users,
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Store persists one raw image for ownerID and returns its display reference.
// The display URL is always the service-owned /images/{id} indirection, never
// a raw blob location, so storage can be swapped without rewriting messages.
func (s *Service) Store(ctx context.Context, raw provider.RawImage, ownerID, providerName, model, prompt string) (*StoredImage, error) {
	data, mime, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 && raw.URL == "" {
		return nil, fmt.Errorf("image has no payload")
	}

	id := uuid.NewString()
	now := s.now()
	img := &domain.GeneratedImage{
		ID:        id,
		OwnerID:   ownerID,
		Prompt:    prompt,
		Provider:  providerName,
		Model:     model,
		MIME:      mime,
		SourceURL: raw.URL,
		Bytes:     int64(len(data)),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttlFor(ctx, ownerID)),
	}
	if len(data) > 0 {
		img.Width, img.Height = decodeDimensions(data)
		key := fmt.Sprintf("generated/images/%s%s", id, extensionForMIME(mime))
		if s.store != nil {
			savedKey, uploadErr := s.store.Write(ctx, key, data)
			if uploadErr != nil {
				// Losing the blob is recoverable via SourceURL or a
				// regeneration; losing the record is not.
				s.logger.Warn().Err(uploadErr).
					Str("image_id", id).
					Str("provider", providerName).
					Msg("images: blob upload failed, keeping record without storage key")
			} else {
				img.StorageKey = savedKey
			}
		}
	}

	if err := s.repo.Create(ctx, img); err != nil {
		return nil, fmt.Errorf("persist image: %w", err)
	}
	return &StoredImage{ID: id, DisplayURL: "/images/" + id}, nil
}

// ttlFor resolves the retention window from the owner's tier. A failed tier
// lookup falls back to the shortest retention rather than failing the image.
func (s *Service) ttlFor(ctx context.Context, ownerID string) time.Duration {
	tier, err := s.users.GetTier(ctx, ownerID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", ownerID).Msg("images: tier lookup failed, assuming free")
		tier = domain.TierFree
	}
	if tier == domain.TierPaid {
		return s.ttl.Paid
	}
	return s.ttl.Free
}

// decodePayload canonicalizes the raw image into bytes plus mime, handling
// inline binary and base64 (with or without a data: URI prefix).
func decodePayload(raw provider.RawImage) ([]byte, string, error) {
	mime := raw.MIME
	if len(raw.Data) > 0 {
		return raw.Data, defaultMIME(mime), nil
	}
	b64 := strings.TrimSpace(raw.B64)
	if b64 == "" {
		return nil, defaultMIME(mime), nil
	}
	if strings.HasPrefix(b64, "data:") {
		if idx := strings.Index(b64, ","); idx >= 0 {
			header := b64[len("data:"):idx]
			if semi := strings.Index(header, ";"); semi >= 0 {
				header = header[:semi]
			}
			if header != "" {
				mime = header
			}
			b64 = b64[idx+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64 image: %w", err)
	}
	return data, defaultMIME(mime), nil
}

func defaultMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if strings.HasPrefix(mime, "image/") {
		return mime
	}
	return "image/png"
}

func decodeDimensions(data []byte) (int, int) {
	cfg, _, err := stdimage.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
