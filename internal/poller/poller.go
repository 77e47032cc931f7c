// Package poller is the client-side consumer of the message read model: it
// fetches a generating message at a fixed interval, surfaces partial results
// as they arrive, and stops at the first terminal status.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Ad-Bean/airouter-sub000/internal/domain"
)

const defaultInterval = 2 * time.Second

// MessageSource reads the current message snapshot. Implemented by the HTTP
// Client below and, server-side, by domain.MessageRepository.
type MessageSource interface {
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
}

// Poller drives the fetch loop.
type Poller struct {
	source   MessageSource
	interval time.Duration
}

// New builds a poller; a non-positive interval picks the default.
func New(source MessageSource, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Poller{source: source, interval: interval}
}

// Poll fetches the message until its status is terminal and returns the final
// snapshot. observe, when non-nil, is invoked with every snapshot including
// the terminal one, so callers can render partial images mid-flight.
func (p *Poller) Poll(ctx context.Context, messageID string, observe func(*domain.Message)) (*domain.Message, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		msg, err := p.source.GetMessage(ctx, messageID)
		if err != nil {
			return nil, err
		}
		if observe != nil {
			observe(msg)
		}
		if msg.Status.Terminal() {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return msg, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Client is the HTTP implementation of MessageSource against the service's
// GET /v1/messages/{id} endpoint.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient builds an HTTP message source. token is the bearer session token
// minted by the web app.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  httpClient,
	}
}

type messageWire struct {
	ID               string                 `json:"id"`
	SessionID        string                 `json:"session_id"`
	Role             string                 `json:"role"`
	Status           string                 `json:"status"`
	ImageURLs        []string               `json:"image_urls"`
	ImageProviderMap map[string]string      `json:"image_provider_map"`
	ProviderErrors   map[string]string      `json:"provider_errors"`
	Metadata         domain.MessageMetadata `json:"metadata"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// GetMessage fetches one message snapshot.
func (c *Client) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	endpoint := fmt.Sprintf("%s/v1/messages/%s", c.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, domain.ErrUnauthorized
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch message status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var wire messageWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &domain.Message{
		ID:               wire.ID,
		SessionID:        wire.SessionID,
		Role:             domain.MessageRole(wire.Role),
		Status:           domain.MessageStatus(wire.Status),
		ImageURLs:        wire.ImageURLs,
		ImageProviderMap: wire.ImageProviderMap,
		ProviderErrors:   wire.ProviderErrors,
		Metadata:         wire.Metadata,
		CreatedAt:        wire.CreatedAt,
		UpdatedAt:        wire.UpdatedAt,
	}, nil
}

var _ MessageSource = (*Client)(nil)
