// Package generation owns the per-message fan-out lifecycle: one prompt is
// dispatched to N providers concurrently, finished providers merge their
// images into the message immediately, and a final reconciliation settles the
// terminal status once every provider is done.
package generation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Ad-Bean/airouter-sub000/internal/domain"
	"github.com/Ad-Bean/airouter-sub000/internal/images"
	provider "github.com/Ad-Bean/airouter-sub000/internal/providers/image"
)

const defaultGenerateTimeout = 2 * time.Minute

// ImagePersister stores one raw image and returns its display reference.
// Implemented by images.Service.
type ImagePersister interface {
	Store(ctx context.Context, raw provider.RawImage, ownerID, providerName, model, prompt string) (*images.StoredImage, error)
}

// Orchestrator coordinates concurrent provider tasks against one message.
type Orchestrator struct {
	messages  domain.MessageRepository
	users     domain.UserRepository
	images    ImagePersister
	providers map[string]provider.Generator
	timeout   time.Duration
	logger    zerolog.Logger

	// merges serializes read-modify-write merges per message id so two
	// providers finishing in the same instant cannot drop each other's
	// images.
	merges sync.Map

	inflight sync.WaitGroup
}

// New wires the orchestrator. timeout bounds each provider call; zero picks
// the default.
func New(
	messages domain.MessageRepository,
	users domain.UserRepository,
	persister ImagePersister,
	providers map[string]provider.Generator,
	timeout time.Duration,
	logger zerolog.Logger,
) *Orchestrator {
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	return &Orchestrator{
		messages:  messages,
		users:     users,
		images:    persister,
		providers: providers,
		timeout:   timeout,
		logger:    logger,
	}
}

// StartGeneration validates the request, consumes credits, puts the message
// into the generating state and launches the fan-out detached from the
// caller's request. It returns the message id immediately; progress is
// observed by polling the message.
//
// When req.MessageID is set it acts as an idempotency key: an existing
// message is reset to generating instead of a new row being created, which
// also serves as the retry path for a single failed provider.
func (o *Orchestrator) StartGeneration(ctx context.Context, req domain.GenerationRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	for _, name := range req.Providers {
		if _, ok := o.providers[name]; !ok {
			return "", fmt.Errorf("%w: unsupported provider %q", domain.ErrInvalidRequest, name)
		}
	}
	if _, err := o.users.ConsumeCredits(ctx, req.UserID, req.TotalImages()); err != nil {
		return "", err
	}

	messageID := strings.TrimSpace(req.MessageID)
	if messageID == "" {
		messageID = uuid.NewString()
	}
	msg := &domain.Message{
		ID:        messageID,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      domain.MessageRoleAssistant,
		Status:    domain.StatusGenerating,
		Metadata: domain.MessageMetadata{
			Prompt:     req.Prompt,
			Providers:  req.Providers,
			Models:     req.Models,
			ImageCount: req.ImageCount,
			Locale:     req.Locale,
		},
	}
	if err := o.messages.Upsert(ctx, msg); err != nil {
		return "", fmt.Errorf("upsert message: %w", err)
	}

	// The fan-out outlives the HTTP request; WithoutCancel keeps request
	// values (request id) while detaching from its cancellation.
	runCtx := context.WithoutCancel(ctx)
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		o.run(runCtx, messageID, req)
	}()

	return messageID, nil
}

// Wait blocks until every in-flight generation has settled. Called during
// graceful shutdown so no message is abandoned mid-fan-out.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

func (o *Orchestrator) run(ctx context.Context, messageID string, req domain.GenerationRequest) {
	outcomes := make(map[string]Outcome, len(req.Providers))
	var mu sync.Mutex

	// Join-all semantics: tasks never return an error, so no sibling is
	// cancelled when one provider fails.
	var g errgroup.Group
	for _, name := range req.Providers {
		name := name
		g.Go(func() error {
			outcome := o.runProvider(ctx, messageID, name, req)
			mu.Lock()
			outcomes[name] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.settle(ctx, messageID, outcomes)
	o.merges.Delete(messageID)
}

// runProvider executes one provider task end to end: generate, persist each
// image independently, merge into the message. All failure modes, panics
// included, collapse into the returned Outcome.
func (o *Orchestrator) runProvider(ctx context.Context, messageID, name string, req domain.GenerationRequest) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("message_id", messageID).
				Str("provider", name).
				Any("panic", r).
				Msg("generation: provider task panicked")
			outcome = Outcome{Err: fmt.Sprintf("%s: internal error", name)}
		}
	}()

	gen, ok := o.providers[name]
	if !ok {
		return Outcome{Err: fmt.Sprintf("%s: provider not configured", name)}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	opts := maps.Clone(req.OptionsFor(name))
	if req.Locale != "" {
		if opts == nil {
			opts = make(map[string]any, 1)
		}
		opts["locale"] = req.Locale
	}

	result, err := gen.Generate(callCtx, provider.Request{
		Prompt:    req.Prompt,
		Model:     req.Models[name],
		Count:     req.CountFor(name),
		Options:   opts,
		RequestID: messageID,
	})
	if err != nil {
		o.logger.Warn().Err(err).
			Str("message_id", messageID).
			Str("provider", name).
			Msg("generation: provider call failed")
		return Outcome{Err: err.Error()}
	}
	if len(result.Images) == 0 {
		// Reconcile turns an empty success into a provider failure.
		return Outcome{}
	}

	urls := make([]string, 0, len(result.Images))
	var lastStoreErr error
	for _, raw := range result.Images {
		stored, storeErr := o.images.Store(callCtx, raw, req.UserID, name, result.Model, req.Prompt)
		if storeErr != nil {
			lastStoreErr = storeErr
			o.logger.Warn().Err(storeErr).
				Str("message_id", messageID).
				Str("provider", name).
				Msg("generation: image persistence failed")
			continue
		}
		urls = append(urls, stored.DisplayURL)
	}
	if len(urls) == 0 {
		if lastStoreErr != nil {
			return Outcome{Err: fmt.Sprintf("%s: failed to store images: %v", name, lastStoreErr)}
		}
		return Outcome{}
	}

	if err := o.merge(ctx, messageID, name, urls); err != nil {
		// Unrecorded images would make a "completed" status a lie, so a
		// failed merge fails the provider.
		o.logger.Error().Err(err).
			Str("message_id", messageID).
			Str("provider", name).
			Msg("generation: incremental merge failed")
		return Outcome{Err: fmt.Sprintf("%s: failed to record images: %v", name, err)}
	}

	o.logger.Info().
		Str("message_id", messageID).
		Str("provider", name).
		Int("images", len(urls)).
		Msg("generation: provider settled")
	return Outcome{ImageURLs: urls}
}

// merge appends one provider's display URLs into the shared message under the
// per-message lock. This is the single critical section of the subsystem.
func (o *Orchestrator) merge(ctx context.Context, messageID, providerName string, urls []string) error {
	lock := o.mergeLock(messageID)
	lock.Lock()
	defer lock.Unlock()
	return o.messages.AppendImages(ctx, messageID, providerName, urls)
}

func (o *Orchestrator) mergeLock(messageID string) *sync.Mutex {
	v, _ := o.merges.LoadOrStore(messageID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// settle runs once all providers are done: reconcile outcomes, write the
// terminal status. Whatever goes wrong here, the message must not stay in
// the generating state.
func (o *Orchestrator) settle(ctx context.Context, messageID string, outcomes map[string]Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o.forceFail(ctx, messageID, fmt.Sprintf("settlement panic: %v", r))
		}
	}()

	status, providerErrors := Reconcile(outcomes)
	if err := o.messages.Finalize(ctx, messageID, status, providerErrors); err != nil {
		if errors.Is(err, domain.ErrMessageFinalized) {
			o.logger.Warn().
				Str("message_id", messageID).
				Msg("generation: message already finalized, skipping settlement")
			return
		}
		o.forceFail(ctx, messageID, fmt.Sprintf("settlement failed: %v", err))
		return
	}

	o.logger.Info().
		Str("message_id", messageID).
		Str("status", string(status)).
		Int("provider_errors", len(providerErrors)).
		Msg("generation: message settled")
}

// forceFail is the last line of defense against a message stuck generating.
func (o *Orchestrator) forceFail(ctx context.Context, messageID, reason string) {
	err := o.messages.Finalize(ctx, messageID, domain.StatusFailed, map[string]string{"settlement": reason})
	if err != nil && !errors.Is(err, domain.ErrMessageFinalized) {
		o.logger.Error().Err(err).
			Str("message_id", messageID).
			Msg("generation: failed to force-fail message, it may be stuck generating")
	}
}
