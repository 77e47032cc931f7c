package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ad-Bean/airouter-sub000/internal/domain"
)

// ImageRepositoryPG implements domain.ImageRepository using PostgreSQL.
type ImageRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewImageRepository constructs a new image repository instance.
func NewImageRepository(pool *pgxpool.Pool) *ImageRepositoryPG {
	return &ImageRepositoryPG{pool: pool}
}

// Create inserts a generated image record.
func (r *ImageRepositoryPG) Create(ctx context.Context, img *domain.GeneratedImage) error {
	query := `
INSERT INTO generated_images (id, owner_id, prompt, provider, model, mime, storage_key, source_url, width, height, bytes, favorite, public, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
`
	_, err := r.pool.Exec(ctx, query,
		img.ID,
		img.OwnerID,
		img.Prompt,
		img.Provider,
		img.Model,
		img.MIME,
		img.StorageKey,
		img.SourceURL,
		img.Width,
		img.Height,
		img.Bytes,
		img.Favorite,
		img.Public,
		img.CreatedAt,
		img.ExpiresAt,
	)
	return err
}

// GetByID fetches one image record.
func (r *ImageRepositoryPG) GetByID(ctx context.Context, id string) (*domain.GeneratedImage, error) {
	query := `
SELECT id, owner_id, prompt, provider, model, mime, storage_key, source_url, width, height, bytes, favorite, public, created_at, expires_at
FROM generated_images
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var img domain.GeneratedImage
	if err := scanImage(row, &img); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &img, nil
}

// ListByOwner returns the owner's most recent images.
func (r *ImageRepositoryPG) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.GeneratedImage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT id, owner_id, prompt, provider, model, mime, storage_key, source_url, width, height, bytes, favorite, public, created_at, expires_at
FROM generated_images
WHERE owner_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []domain.GeneratedImage
	for rows.Next() {
		var img domain.GeneratedImage
		if err := scanImage(rows, &img); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return images, nil
}

func scanImage(row pgx.Row, img *domain.GeneratedImage) error {
	return row.Scan(
		&img.ID,
		&img.OwnerID,
		&img.Prompt,
		&img.Provider,
		&img.Model,
		&img.MIME,
		&img.StorageKey,
		&img.SourceURL,
		&img.Width,
		&img.Height,
		&img.Bytes,
		&img.Favorite,
		&img.Public,
		&img.CreatedAt,
		&img.ExpiresAt,
	)
}
