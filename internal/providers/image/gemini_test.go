package image

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Ad-Bean/airouter-sub000/internal/providers/genai"
)

type stubGenaiClient struct {
	lastReq genai.ImageRequest
	assets  []genai.ImageAsset
	err     error
	model   string
}

func (c *stubGenaiClient) GenerateImages(_ context.Context, req genai.ImageRequest) ([]genai.ImageAsset, error) {
	c.lastReq = req
	if c.err != nil {
		return nil, c.err
	}
	return c.assets, nil
}

func (c *stubGenaiClient) Model() string { return c.model }

func TestGoogleGenerateSuccess(t *testing.T) {
	client := &stubGenaiClient{
		assets: []genai.ImageAsset{
			{Data: []byte{1}, MIME: "image/png"},
			{Data: []byte{2}, MIME: "image/png"},
		},
		model: "imagen-3.0-generate-002",
	}
	gen := NewGoogleGenerator(client)

	result, err := gen.Generate(context.Background(), Request{
		Prompt: "a lighthouse",
		Count:  2,
		Options: map[string]any{
			"aspect_ratio":    "16:9",
			"negative_prompt": "fog",
			"size":            "1024x1024", // openai key, must be ignored
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(result.Images) != 2 {
		t.Fatalf("images = %d", len(result.Images))
	}
	if result.Model != "imagen-3.0-generate-002" {
		t.Fatalf("model = %q, want the client default", result.Model)
	}
	if client.lastReq.SampleCount != 2 {
		t.Fatalf("sample count = %d", client.lastReq.SampleCount)
	}
	if client.lastReq.AspectRatio != "16:9" || client.lastReq.NegativePrompt != "fog" {
		t.Fatalf("request = %+v, known options must map through", client.lastReq)
	}
}

func TestGoogleGenerateClampsSampleCount(t *testing.T) {
	client := &stubGenaiClient{assets: []genai.ImageAsset{{Data: []byte{1}}}, model: "m"}
	gen := NewGoogleGenerator(client)

	if _, err := gen.Generate(context.Background(), Request{Prompt: "p", Count: 9}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if client.lastReq.SampleCount != googleMaxImages {
		t.Fatalf("sample count = %d, want clamped to %d", client.lastReq.SampleCount, googleMaxImages)
	}

	if _, err := gen.Generate(context.Background(), Request{Prompt: "p", Count: 0}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if client.lastReq.SampleCount != 1 {
		t.Fatalf("sample count = %d, want defaulted to 1", client.lastReq.SampleCount)
	}
}

func TestGoogleErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"auth", &genai.APIError{StatusCode: http.StatusForbidden, Message: "key invalid"}, ErrCodeAuth},
		{"rate limited", &genai.APIError{StatusCode: http.StatusTooManyRequests, Message: "quota"}, ErrCodeRateLimited},
		{"invalid", &genai.APIError{StatusCode: http.StatusBadRequest, Message: "bad prompt"}, ErrCodeInvalid},
		{"safety", &genai.APIError{StatusCode: http.StatusBadRequest, Message: "blocked by safety filters"}, ErrCodeSafety},
		{"unavailable", &genai.APIError{StatusCode: http.StatusServiceUnavailable}, ErrCodeUnavailable},
		{"transport", errors.New("connection refused"), ErrCodeUnavailable},
		{"timeout", context.DeadlineExceeded, ErrCodeTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := NewGoogleGenerator(&stubGenaiClient{err: tc.err, model: "m"})
			_, err := gen.Generate(context.Background(), Request{Prompt: "p", Count: 1})
			var provErr *ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("err = %v, want *ProviderError", err)
			}
			if provErr.Code != tc.want {
				t.Fatalf("code = %s, want %s", provErr.Code, tc.want)
			}
			if provErr.Provider != "google" {
				t.Fatalf("provider = %q", provErr.Provider)
			}
		})
	}
}

func TestGoogleGenerateRequestModelWins(t *testing.T) {
	client := &stubGenaiClient{assets: []genai.ImageAsset{{Data: []byte{1}}}, model: "imagen-3.0-generate-002"}
	gen := NewGoogleGenerator(client)

	result, err := gen.Generate(context.Background(), Request{Prompt: "p", Model: "imagen-4.0", Count: 1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Model != "imagen-4.0" {
		t.Fatalf("model = %q, want the request override", result.Model)
	}
}

func TestGoogleGeneratorUnconfigured(t *testing.T) {
	gen := NewGoogleGenerator(nil)
	_, err := gen.Generate(context.Background(), Request{Prompt: "p", Count: 1})
	var provErr *ProviderError
	if !errors.As(err, &provErr) || provErr.Code != ErrCodeUnavailable {
		t.Fatalf("err = %v, want unavailable", err)
	}
}
