package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	openAIProviderName   = "openai"
	openAIDefaultModel   = "dall-e-3"
	openAIDefaultTimeout = 120 * time.Second
)

// OpenAIOptions configures the OpenAI images adapter.
type OpenAIOptions struct {
	APIKey       string
	BaseURL      string
	Model        string
	Organization string
	HTTPClient   *http.Client
}

// OpenAIGenerator adapts the OpenAI images API to the Generator contract.
type OpenAIGenerator struct {
	apiKey       string
	baseURL      string
	model        string
	organization string
	client       *http.Client
}

type openAIImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	Style          string `json:"style,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type openAIImageResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL           string `json:"url"`
		B64JSON       string `json:"b64_json"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAIGenerator constructs the adapter. The API key is required; base
// URL, model and HTTP client fall back to sane defaults.
func NewOpenAIGenerator(opts OpenAIOptions) (*OpenAIGenerator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = openAIDefaultModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: openAIDefaultTimeout}
	}
	return &OpenAIGenerator{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		model:        model,
		organization: strings.TrimSpace(opts.Organization),
		client:       client,
	}, nil
}

func (g *OpenAIGenerator) Name() string { return openAIProviderName }

// Generate calls /images/generations. Count is clamped to the model's
// documented maximum; dall-e-3 only accepts n=1.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = g.model
	}
	payload := openAIImageRequest{
		Model:          model,
		Prompt:         req.Prompt,
		N:              clampOpenAICount(model, req.Count),
		Size:           optString(req.Options, "size"),
		Quality:        optString(req.Options, "quality"),
		Style:          optString(req.Options, "style"),
		ResponseFormat: "b64_json",
	}
	// gpt-image models always return base64 and reject response_format.
	if strings.HasPrefix(model, "gpt-image") {
		payload.ResponseFormat = ""
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ProviderError{Provider: openAIProviderName, Code: ErrCodeInvalid, Message: "encode request", Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: openAIProviderName, Code: ErrCodeInvalid, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	if g.organization != "" {
		httpReq.Header.Set("OpenAI-Organization", g.organization)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(openAIProviderName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var out openAIImageResponse
	raw, _ := io.ReadAll(resp.Body)
	if decodeErr := json.Unmarshal(raw, &out); decodeErr != nil && resp.StatusCode < 300 {
		return nil, &ProviderError{Provider: openAIProviderName, Code: ErrCodeAPI, Message: "decode response", Err: decodeErr}
	}
	if resp.StatusCode >= 300 {
		return nil, classifyOpenAIStatus(resp.StatusCode, &out)
	}

	images := make([]RawImage, 0, len(out.Data))
	for _, item := range out.Data {
		img := RawImage{B64: item.B64JSON, URL: item.URL, MIME: "image/png"}
		if img.B64 == "" && img.URL == "" {
			continue
		}
		images = append(images, img)
	}
	return &Result{Images: images, Model: model}, nil
}

func clampOpenAICount(model string, count int) int {
	if count <= 0 {
		return 1
	}
	max := 10
	if model == "dall-e-3" {
		max = 1
	}
	if count > max {
		return max
	}
	return count
}

func classifyOpenAIStatus(status int, out *openAIImageResponse) *ProviderError {
	msg := fmt.Sprintf("status %d", status)
	errType := ""
	if out != nil && out.Error != nil {
		if out.Error.Message != "" {
			msg = out.Error.Message
		}
		errType = out.Error.Type
	}
	code := ErrCodeAPI
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = ErrCodeAuth
	case status == http.StatusTooManyRequests:
		code = ErrCodeRateLimited
	case errType == "invalid_request_error" && strings.Contains(strings.ToLower(msg), "safety"):
		code = ErrCodeSafety
	case status == http.StatusBadRequest:
		code = ErrCodeInvalid
	case status >= 500:
		code = ErrCodeUnavailable
	}
	return &ProviderError{Provider: openAIProviderName, Code: code, Message: msg}
}

// classifyTransportError maps client-side failures (timeouts, refused
// connections) onto the provider error taxonomy.
func classifyTransportError(provider string, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: provider, Code: ErrCodeTimeout, Message: "request timed out", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ProviderError{Provider: provider, Code: ErrCodeTimeout, Message: "request canceled", Err: err}
	}
	return &ProviderError{Provider: provider, Code: ErrCodeUnavailable, Message: "request failed", Err: err}
}

var _ Generator = (*OpenAIGenerator)(nil)
