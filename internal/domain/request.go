package domain

import (
	"fmt"
	"strings"
)

// GenerationRequest is the caller-supplied input for one fan-out generation.
// MessageID is optional; when present it acts as an idempotency key and the
// orchestrator upserts rather than inserts.
type GenerationRequest struct {
	SessionID    string
	UserID       string
	Prompt       string
	Providers    []string
	Models       map[string]string
	ImageCount   map[string]int
	ModelOptions map[string]map[string]any
	MessageID    string
	Locale       string
}

// Validate normalizes and checks the request. Provider entries are trimmed
// and deduplicated preserving order.
func (r *GenerationRequest) Validate() error {
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	seen := make(map[string]struct{}, len(r.Providers))
	providers := make([]string, 0, len(r.Providers))
	for _, p := range r.Providers {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return fmt.Errorf("%w: at least one provider is required", ErrInvalidRequest)
	}
	r.Providers = providers
	for provider, count := range r.ImageCount {
		if count < 0 {
			return fmt.Errorf("%w: image count for %s must be positive", ErrInvalidRequest, provider)
		}
	}
	return nil
}

// CountFor resolves the requested image count for a provider, defaulting to 1.
func (r *GenerationRequest) CountFor(provider string) int {
	if n, ok := r.ImageCount[provider]; ok && n > 0 {
		return n
	}
	return 1
}

// TotalImages is the number of images the request asks for across providers,
// used for credit consumption.
func (r *GenerationRequest) TotalImages() int {
	total := 0
	for _, p := range r.Providers {
		total += r.CountFor(p)
	}
	return total
}

// OptionsFor returns the opaque option bag for a provider. Adapters ignore
// keys they do not recognize.
func (r *GenerationRequest) OptionsFor(provider string) map[string]any {
	if opts, ok := r.ModelOptions[provider]; ok {
		return opts
	}
	return nil
}
