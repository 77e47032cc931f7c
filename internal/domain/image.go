package domain

import "time"

// GeneratedImage is the durable record for a single produced image. It is
// created once per image, independently of message mutations.
type GeneratedImage struct {
	ID         string
	OwnerID    string
	Prompt     string
	Provider   string
	Model      string
	MIME       string
	StorageKey string
	SourceURL  string
	Width      int
	Height     int
	Bytes      int64
	Favorite   bool
	Public     bool
	CreatedAt  time.Time
	// ExpiresAt is derived from the owner's tier at creation time and is
	// never recalculated, even if the tier changes afterwards.
	ExpiresAt time.Time
}

// Expired reports whether the image's auto-delete deadline has passed.
func (g *GeneratedImage) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}
