// Package genai is a lightweight facade over Google's generative language
// API, scoped to the Imagen predict surface the image adapter needs.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options controls how the client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client issues Imagen predict calls. Providers translate domain requests
// into ImageRequest values and interpret the normalized assets coming back.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// ImageRequest is the information required to generate images.
type ImageRequest struct {
	Prompt           string
	SampleCount      int
	AspectRatio      string
	NegativePrompt   string
	SafetySetting    string
	PersonGeneration string
}

// ImageAsset is a normalized image returned by the API: base64 payload plus
// mime type.
type ImageAsset struct {
	Data []byte
	MIME string
}

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	SampleCount      int    `json:"sampleCount"`
	AspectRatio      string `json:"aspectRatio,omitempty"`
	NegativePrompt   string `json:"negativePrompt,omitempty"`
	SafetySetting    string `json:"safetySetting,omitempty"`
	PersonGeneration string `json:"personGeneration,omitempty"`
}

type predictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
		RAIFilteredReason  string `json:"raiFilteredReason"`
	} `json:"predictions"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// APIError is returned for non-2xx responses so callers can classify by
// HTTP status.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("genai status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("genai status %d", e.StatusCode)
}

// NewClient constructs a client with sane defaults. A nil HTTP client gets a
// reusable one with a generous timeout; image generation is slow.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "imagen-3.0-generate-002"
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: client,
		logger:     logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// GenerateImages calls the predict endpoint and decodes every base64
// prediction. Filtered predictions (no payload) are skipped.
func (c *Client) GenerateImages(ctx context.Context, req ImageRequest) ([]ImageAsset, error) {
	sampleCount := req.SampleCount
	if sampleCount <= 0 {
		sampleCount = 1
	}
	payload := predictRequest{
		Instances: []predictInstance{{Prompt: req.Prompt}},
		Parameters: predictParameters{
			SampleCount:      sampleCount,
			AspectRatio:      strings.TrimSpace(req.AspectRatio),
			NegativePrompt:   strings.TrimSpace(req.NegativePrompt),
			SafetySetting:    strings.TrimSpace(req.SafetySetting),
			PersonGeneration: strings.TrimSpace(req.PersonGeneration),
		},
	}

	var response predictResponse
	if err := c.invoke(ctx, fmt.Sprintf("/models/%s:predict", url.PathEscape(c.model)), payload, &response); err != nil {
		return nil, err
	}

	assets := make([]ImageAsset, 0, len(response.Predictions))
	for _, prediction := range response.Predictions {
		if prediction.BytesBase64Encoded == "" {
			if prediction.RAIFilteredReason != "" {
				c.logger.Warn().
					Str("model", c.model).
					Str("reason", prediction.RAIFilteredReason).
					Msg("genai: prediction filtered")
			}
			continue
		}
		data, err := base64.StdEncoding.DecodeString(prediction.BytesBase64Encoded)
		if err != nil {
			return nil, fmt.Errorf("decode prediction: %w", err)
		}
		mime := prediction.MimeType
		if mime == "" {
			mime = "image/png"
		}
		assets = append(assets, ImageAsset{Data: data, MIME: mime})
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("requested", sampleCount).
		Int("returned", len(assets)).
		Msg("genai: generated image assets")

	return assets, nil
}

func (c *Client) invoke(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke genai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var parsed apiErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&parsed); decodeErr == nil {
			apiErr.Message = parsed.Error.Message
			apiErr.Status = parsed.Error.Status
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode genai response: %w", err)
	}
	return nil
}
