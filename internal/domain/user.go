package domain

import "time"

// UserTier determines image retention policy and quota handling.
type UserTier string

const (
	TierFree UserTier = "free"
	TierPaid UserTier = "paid"
)

// User carries the subset of account state the generation subsystem reads.
type User struct {
	ID        string
	Email     string
	Tier      UserTier
	Credits   int
	CreatedAt time.Time
	UpdatedAt time.Time
}
