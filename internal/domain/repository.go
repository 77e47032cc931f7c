package domain

import "context"

// MessageRepository persists chat messages.
//
// AppendImages must be atomic with respect to concurrent appends for the same
// message: two providers finishing at the same instant must both land their
// URLs. Finalize must refuse to touch a message that is no longer generating.
type MessageRepository interface {
	// Upsert creates the message if absent, otherwise resets it to the
	// generating state with fresh metadata, keyed by the caller-supplied id.
	Upsert(ctx context.Context, msg *Message) error
	GetByID(ctx context.Context, id string) (*Message, error)
	// AppendImages appends display URLs for one provider and extends the
	// URL→provider map. No-op if the message is already terminal.
	AppendImages(ctx context.Context, id, provider string, urls []string) error
	// Finalize writes the terminal status and provider error map. Returns
	// ErrMessageFinalized if the message already left the generating state.
	Finalize(ctx context.Context, id string, status MessageStatus, providerErrors map[string]string) error
}

// ImageRepository persists generated image records.
type ImageRepository interface {
	Create(ctx context.Context, img *GeneratedImage) error
	GetByID(ctx context.Context, id string) (*GeneratedImage, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]GeneratedImage, error)
}

// UserRepository exposes the account reads the generation flow depends on.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	// GetTier is a read-only, idempotent lookup used to fix image TTLs.
	GetTier(ctx context.Context, id string) (UserTier, error)
	// ConsumeCredits deducts n credits or fails with ErrInsufficientCredits.
	ConsumeCredits(ctx context.Context, id string, n int) (remaining int, err error)
}
