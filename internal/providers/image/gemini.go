package image

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Ad-Bean/airouter-sub000/internal/providers/genai"
)

const (
	googleProviderName = "google"
	googleMaxImages    = 4
)

type googleImageClient interface {
	GenerateImages(ctx context.Context, req genai.ImageRequest) ([]genai.ImageAsset, error)
	Model() string
}

// GoogleGenerator adapts the genai Imagen client to the Generator contract.
type GoogleGenerator struct {
	client googleImageClient
}

// NewGoogleGenerator wraps a configured genai client.
func NewGoogleGenerator(client googleImageClient) *GoogleGenerator {
	return &GoogleGenerator{client: client}
}

func (g *GoogleGenerator) Name() string { return googleProviderName }

// Generate issues one predict call with sampleCount clamped to the API limit.
// Option keys: aspect_ratio, negative_prompt, safety_setting,
// person_generation. Anything else in the bag is ignored.
func (g *GoogleGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	if g == nil || g.client == nil {
		return nil, NewError(googleProviderName, ErrCodeUnavailable, "generator not configured")
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}
	if count > googleMaxImages {
		count = googleMaxImages
	}
	assets, err := g.client.GenerateImages(ctx, genai.ImageRequest{
		Prompt:           req.Prompt,
		SampleCount:      count,
		AspectRatio:      optString(req.Options, "aspect_ratio"),
		NegativePrompt:   optString(req.Options, "negative_prompt"),
		SafetySetting:    optString(req.Options, "safety_setting"),
		PersonGeneration: optString(req.Options, "person_generation"),
	})
	if err != nil {
		return nil, classifyGoogleError(err)
	}
	images := make([]RawImage, 0, len(assets))
	for _, asset := range assets {
		images = append(images, RawImage{Data: asset.Data, MIME: asset.MIME})
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = g.client.Model()
	}
	return &Result{Images: images, Model: model}, nil
}

func classifyGoogleError(err error) *ProviderError {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		code := ErrCodeAPI
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			code = ErrCodeAuth
		case apiErr.StatusCode == http.StatusTooManyRequests:
			code = ErrCodeRateLimited
		case apiErr.StatusCode == http.StatusBadRequest:
			code = ErrCodeInvalid
		case apiErr.StatusCode >= 500:
			code = ErrCodeUnavailable
		}
		if strings.Contains(strings.ToLower(apiErr.Message), "safety") {
			code = ErrCodeSafety
		}
		return &ProviderError{Provider: googleProviderName, Code: code, Message: apiErr.Message, Err: err}
	}
	return classifyTransportError(googleProviderName, err)
}

var _ Generator = (*GoogleGenerator)(nil)
