package domain

import "time"

// MessageRole identifies who authored a chat message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// MessageStatus enumerates the generation lifecycle states.
//
// A message starts in StatusGenerating and moves to exactly one of the
// terminal states. Terminal states never transition again.
type MessageStatus string

const (
	StatusGenerating MessageStatus = "generating"
	StatusCompleted  MessageStatus = "completed"
	StatusPartial    MessageStatus = "partial"
	StatusFailed     MessageStatus = "failed"
)

// Terminal reports whether the status is one of the final states.
func (s MessageStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// MessageMetadata echoes the originating request so a reconnecting client can
// rebuild its view without re-deriving anything.
type MessageMetadata struct {
	Prompt     string            `json:"prompt"`
	Providers  []string          `json:"providers"`
	Models     map[string]string `json:"models,omitempty"`
	ImageCount map[string]int    `json:"image_count,omitempty"`
	Locale     string            `json:"locale,omitempty"`
}

// Message is the durable chat message mutated by the generation orchestrator
// and read by polling clients.
//
// ImageURLs is append-only while the message is generating: entries are never
// removed or reordered once added, ordering reflects arrival.
type Message struct {
	ID               string
	SessionID        string
	UserID           string
	Role             MessageRole
	Status           MessageStatus
	ImageURLs        []string
	ImageProviderMap map[string]string
	ProviderErrors   map[string]string
	Metadata         MessageMetadata
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
