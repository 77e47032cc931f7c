package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ad-Bean/airouter-sub000/internal/domain"
)

// MessageRepositoryPG implements domain.MessageRepository.
//
// Incremental merges rely on jsonb concatenation inside a single UPDATE, so
// concurrent appends from two provider tasks are atomic at the database even
// before the orchestrator's per-message lock is taken into account.
type MessageRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewMessageRepository creates a message repository backed by PostgreSQL.
func NewMessageRepository(pool *pgxpool.Pool) *MessageRepositoryPG {
	return &MessageRepositoryPG{pool: pool}
}

// Upsert creates the message or, when the caller-supplied id already exists,
// resets it to the generating state with fresh metadata. Previously merged
// image URLs survive the reset so a single-provider retry extends the
// existing message.
func (r *MessageRepositoryPG) Upsert(ctx context.Context, msg *domain.Message) error {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := `
INSERT INTO messages (id, session_id, user_id, role, status, image_urls, image_provider_map, provider_errors, metadata)
VALUES ($1, $2, $3, $4, $5, '[]'::jsonb, '{}'::jsonb, '{}'::jsonb, $6)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status,
    provider_errors = '{}'::jsonb,
    metadata = EXCLUDED.metadata,
    updated_at = NOW();
`
	_, err = r.pool.Exec(ctx, query,
		msg.ID,
		msg.SessionID,
		msg.UserID,
		msg.Role,
		domain.StatusGenerating,
		metadata,
	)
	return err
}

// GetByID fetches a message by its identifier.
func (r *MessageRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	query := `
SELECT id, session_id, user_id, role, status, image_urls, image_provider_map, provider_errors, metadata, created_at, updated_at
FROM messages
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var (
		msg      domain.Message
		urlsJSON []byte
		mapJSON  []byte
		errsJSON []byte
		metaJSON []byte
	)
	if err := row.Scan(
		&msg.ID,
		&msg.SessionID,
		&msg.UserID,
		&msg.Role,
		&msg.Status,
		&urlsJSON,
		&mapJSON,
		&errsJSON,
		&metaJSON,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(urlsJSON, &msg.ImageURLs); err != nil {
		return nil, fmt.Errorf("unmarshal image urls: %w", err)
	}
	if err := json.Unmarshal(mapJSON, &msg.ImageProviderMap); err != nil {
		return nil, fmt.Errorf("unmarshal provider map: %w", err)
	}
	if err := json.Unmarshal(errsJSON, &msg.ProviderErrors); err != nil {
		return nil, fmt.Errorf("unmarshal provider errors: %w", err)
	}
	if err := json.Unmarshal(metaJSON, &msg.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &msg, nil
}

// AppendImages atomically appends display URLs and provider map entries while
// the message is still generating. Appending to a terminal message is a
// silent no-op; status finality wins.
func (r *MessageRepositoryPG) AppendImages(ctx context.Context, id, provider string, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	urlsJSON, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("marshal urls: %w", err)
	}
	entries := make(map[string]string, len(urls))
	for _, u := range urls {
		entries[u] = provider
	}
	mapJSON, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal provider map: %w", err)
	}
	query := `
UPDATE messages
SET image_urls = image_urls || $2::jsonb,
    image_provider_map = image_provider_map || $3::jsonb,
    updated_at = NOW()
WHERE id = $1 AND status = $4;
`
	tag, err := r.pool.Exec(ctx, query, id, urlsJSON, mapJSON, domain.StatusGenerating)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrFinalized(ctx, id, nil)
	}
	return nil
}

// Finalize writes the terminal status exactly once; the status guard in the
// WHERE clause makes terminal states immutable.
func (r *MessageRepositoryPG) Finalize(ctx context.Context, id string, status domain.MessageStatus, providerErrors map[string]string) error {
	if providerErrors == nil {
		providerErrors = map[string]string{}
	}
	errsJSON, err := json.Marshal(providerErrors)
	if err != nil {
		return fmt.Errorf("marshal provider errors: %w", err)
	}
	query := `
UPDATE messages
SET status = $2,
    provider_errors = $3,
    updated_at = NOW()
WHERE id = $1 AND status = $4;
`
	tag, err := r.pool.Exec(ctx, query, id, status, errsJSON, domain.StatusGenerating)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrFinalized(ctx, id, domain.ErrMessageFinalized)
	}
	return nil
}

// missingOrFinalized disambiguates a zero-row update: the message either does
// not exist or has already left the generating state.
func (r *MessageRepositoryPG) missingOrFinalized(ctx context.Context, id string, finalizedErr error) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1);`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return finalizedErr
}
