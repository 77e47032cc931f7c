package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ad-Bean/airouter-sub000/internal/domain"
	"github.com/Ad-Bean/airouter-sub000/internal/images"
	provider "github.com/Ad-Bean/airouter-sub000/internal/providers/image"
)

// memMessages mirrors the PostgreSQL repository's guard semantics: appends
// are no-ops on terminal messages, Finalize is write-once. The deliberate
// sleep between read and write in AppendImages makes lost updates visible
// when the caller forgets the per-message lock.
type memMessages struct {
	mu           sync.Mutex
	msgs         map[string]*domain.Message
	failFinalize int
}

func newMemMessages() *memMessages {
	return &memMessages{msgs: make(map[string]*domain.Message)}
}

func (m *memMessages) Upsert(_ context.Context, msg *domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.msgs[msg.ID]; ok {
		existing.Status = domain.StatusGenerating
		existing.ProviderErrors = map[string]string{}
		existing.Metadata = msg.Metadata
		existing.UpdatedAt = time.Now()
		return nil
	}
	clone := *msg
	clone.ImageURLs = append([]string(nil), msg.ImageURLs...)
	clone.ImageProviderMap = map[string]string{}
	clone.ProviderErrors = map[string]string{}
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	m.msgs[msg.ID] = &clone
	return nil
}

func (m *memMessages) GetByID(_ context.Context, id string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *msg
	clone.ImageURLs = append([]string(nil), msg.ImageURLs...)
	return &clone, nil
}

func (m *memMessages) AppendImages(_ context.Context, id, providerName string, urls []string) error {
	m.mu.Lock()
	msg, ok := m.msgs[id]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	if msg.Status != domain.StatusGenerating {
		m.mu.Unlock()
		return nil
	}
	snapshot := append([]string(nil), msg.ImageURLs...)
	m.mu.Unlock()

	time.Sleep(time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ImageURLs = append(snapshot, urls...)
	for _, u := range urls {
		msg.ImageProviderMap[u] = providerName
	}
	msg.UpdatedAt = time.Now()
	return nil
}

func (m *memMessages) Finalize(_ context.Context, id string, status domain.MessageStatus, providerErrors map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFinalize > 0 {
		m.failFinalize--
		return errors.New("connection reset")
	}
	msg, ok := m.msgs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if msg.Status != domain.StatusGenerating {
		return domain.ErrMessageFinalized
	}
	msg.Status = status
	msg.ProviderErrors = providerErrors
	msg.UpdatedAt = time.Now()
	return nil
}

type memUsers struct {
	mu      sync.Mutex
	credits int
	tier    domain.UserTier
}

func (m *memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	return &domain.User{ID: id, Tier: m.tier, Credits: m.credits}, nil
}

func (m *memUsers) GetTier(_ context.Context, _ string) (domain.UserTier, error) {
	return m.tier, nil
}

func (m *memUsers) ConsumeCredits(_ context.Context, _ string, n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credits < n {
		return m.credits, domain.ErrInsufficientCredits
	}
	m.credits -= n
	return m.credits, nil
}

type stubPersister struct {
	mu     sync.Mutex
	stored int
	err    error
}

func (p *stubPersister) Store(_ context.Context, _ provider.RawImage, _, providerName, _, _ string) (*images.StoredImage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.stored++
	id := fmt.Sprintf("%s-%d", providerName, p.stored)
	return &images.StoredImage{ID: id, DisplayURL: "/images/" + id}, nil
}

type stubGenerator struct {
	name   string
	result *provider.Result
	err    error
	delay  time.Duration
	panics bool
}

func (g *stubGenerator) Name() string { return g.name }

func (g *stubGenerator) Generate(ctx context.Context, _ provider.Request) (*provider.Result, error) {
	if g.panics {
		panic("boom")
	}
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, &provider.ProviderError{Provider: g.name, Code: provider.ErrCodeTimeout, Message: "request timed out"}
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func rawImages(n int) []provider.RawImage {
	out := make([]provider.RawImage, n)
	for i := range out {
		out[i] = provider.RawImage{Data: []byte{0x89, byte(i)}, MIME: "image/png"}
	}
	return out
}

func newTestOrchestrator(msgs *memMessages, users *memUsers, persister *stubPersister, gens ...*stubGenerator) *Orchestrator {
	providers := make(map[string]provider.Generator, len(gens))
	for _, g := range gens {
		providers[g.name] = g
	}
	return New(msgs, users, persister, providers, time.Second, zerolog.Nop())
}

func baseRequest(providers ...string) domain.GenerationRequest {
	return domain.GenerationRequest{
		SessionID: "sess-1",
		UserID:    "user-1",
		Prompt:    "a lighthouse at dusk",
		Providers: providers,
	}
}

func TestStartGenerationCompleted(t *testing.T) {
	msgs := newMemMessages()
	users := &memUsers{credits: 10}
	o := newTestOrchestrator(msgs, users, &stubPersister{},
		&stubGenerator{name: "openai", result: &provider.Result{Images: rawImages(1), Model: "dall-e-3"}},
		&stubGenerator{name: "google", result: &provider.Result{Images: rawImages(2), Model: "imagen-3.0-generate-002"}},
	)

	req := baseRequest("openai", "google")
	req.ImageCount = map[string]int{"google": 2}
	id, err := o.StartGeneration(context.Background(), req)
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	o.Wait()

	msg, err := msgs.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if msg.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", msg.Status)
	}
	if len(msg.ImageURLs) != 3 {
		t.Fatalf("image urls = %v, want 3", msg.ImageURLs)
	}
	if len(msg.ProviderErrors) != 0 {
		t.Fatalf("provider errors = %v, want none", msg.ProviderErrors)
	}
	for _, u := range msg.ImageURLs {
		if msg.ImageProviderMap[u] == "" {
			t.Fatalf("url %s missing provider attribution", u)
		}
	}
	if users.credits != 7 {
		t.Fatalf("credits = %d, want 7 (one openai plus two google)", users.credits)
	}
}

func TestStartGenerationPartial(t *testing.T) {
	msgs := newMemMessages()
	o := newTestOrchestrator(msgs, &memUsers{credits: 10}, &stubPersister{},
		&stubGenerator{name: "openai", result: &provider.Result{Images: rawImages(1), Model: "dall-e-3"}},
		&stubGenerator{name: "google", err: &provider.ProviderError{Provider: "google", Code: provider.ErrCodeTimeout, Message: "request timed out"}},
	)

	id, err := o.StartGeneration(context.Background(), baseRequest("openai", "google"))
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	o.Wait()

	msg, _ := msgs.GetByID(context.Background(), id)
	if msg.Status != domain.StatusPartial {
		t.Fatalf("status = %s, want partial", msg.Status)
	}
	if len(msg.ImageURLs) != 1 {
		t.Fatalf("image urls = %v, want the openai image", msg.ImageURLs)
	}
	if msg.ImageProviderMap[msg.ImageURLs[0]] != "openai" {
		t.Fatalf("provider map = %v, want the surviving image attributed to openai", msg.ImageProviderMap)
	}
	if got := msg.ProviderErrors["google"]; !strings.Contains(got, "timed out") {
		t.Fatalf("google error = %q", got)
	}
}

func TestStartGenerationAllFailed(t *testing.T) {
	msgs := newMemMessages()
	o := newTestOrchestrator(msgs, &memUsers{credits: 10}, &stubPersister{},
		&stubGenerator{name: "openai", err: errors.New("status 500")},
		&stubGenerator{name: "google", err: errors.New("status 503")},
	)

	id, _ := o.StartGeneration(context.Background(), baseRequest("openai", "google"))
	o.Wait()

	msg, _ := msgs.GetByID(context.Background(), id)
	if msg.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", msg.Status)
	}
	if len(msg.ImageURLs) != 0 {
		t.Fatalf("image urls = %v, want none", msg.ImageURLs)
	}
	if len(msg.ProviderErrors) != 2 {
		t.Fatalf("provider errors = %v, want both", msg.ProviderErrors)
	}
}

func TestStartGenerationEmptySuccessFails(t *testing.T) {
	msgs := newMemMessages()
	o := newTestOrchestrator(msgs, &memUsers{credits: 10}, &stubPersister{},
		&stubGenerator{name: "openai", result: &provider.Result{Model: "dall-e-3"}},
	)

	id, _ := o.StartGeneration(context.Background(), baseRequest("openai"))
	o.Wait()

	msg, _ := msgs.GetByID(context.Background(), id)
	if msg.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", msg.Status)
	}
	if msg.ProviderErrors["openai"] != "No images generated" {
		t.Fatalf("openai error = %q", msg.ProviderErrors["openai"])
	}
}

func TestStartGenerationProviderPanicContained(t *testing.T) {
	msgs := newMemMessages()
	o := newTestOrchestrator(msgs, &memUsers{credits: 10}, &stubPersister{},
		&stubGenerator{name: "openai", panics: true},
		&stubGenerator{name: "google", result: &provider.Result{Images: rawImages(1), Model: "imagen-3.0-generate-002"}},
	)

	id, _ := o.StartGeneration(context.Background(), baseRequest("openai", "google"))
	o.Wait()

	msg, _ := msgs.GetByID(context.Background(), id)
	if msg.Status != domain.StatusPartial {
		t.Fatalf("status = %s, want partial despite the panic", msg.Status)
	}
	if got := msg.ProviderErrors["openai"]; !strings.Contains(got, "internal error") {
		t.Fatalf("openai error = %q", got)
	}
}

func TestStartGenerationStoreFailureFailsProvider(t *testing.T) {
	msgs := newMemMessages()
	o := newTestOrchestrator(msgs, &memUsers{credits: 10}, &stubPersister{err: errors.New("disk full")},
		&stubGenerator{name: "openai", result: &provider.Result{Images: rawImages(2), Model: "dall-e-3"}},
	)

	id, _ := o.StartGeneration(context.Background(), baseRequest("openai"))
	o.Wait()

	msg, _ := msgs.GetByID(context.Background(), id)
	if msg.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", msg.Status)
	}
	if got := msg.ProviderErrors["openai"]; !strings.Contains(got, "failed to store images") {
		t.Fatalf("openai error = %q", got)
	}
}

func TestStartGenerationUnsupportedProvider(t *testing.T) {
	users := &memUsers{credits: 10}
	o := newTestOrchestrator(newMemMessages(), users, &stubPersister{},
		&stubGenerator{name: "openai", result: &provider.Result{Images: rawImages(1)}},
	)

	_, err := o.StartGeneration(context.Background(), baseRequest("openai", "stability"))
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if users.credits != 10 {
		t.Fatalf("credits = %d, rejection must not consume credits", users.credits)
	}
}

func TestStartGenerationInsufficientCredits(t *testing.T) {
	msgs := newMemMessages()
	o := newTestOrchestrator(msgs, &memUsers{credits: 1}, &stubPersister{},
		&stubGenerator{name: "openai", result: &provider.Result{Images: rawImages(1)}},
		&stubGenerator{name: "google", result: &provider.Result{Images: rawImages(1)}},
	)

	req := baseRequest("openai", "google")
	_, err := o.StartGeneration(context.Background(), req)
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if len(msgs.msgs) != 0 {
		t.Fatalf("no message should be created on credit failure")
	}
}

func TestConcurrentMergesNoLostUpdate(t *testing.T) {
	msgs := newMemMessages()
	gens := make([]*stubGenerator, 0, 4)
	names := []string{"openai", "google", "alpha", "beta"}
	for _, name := range names {
		gens = append(gens, &stubGenerator{
			name:   name,
			result: &provider.Result{Images: rawImages(2), Model: name + "-model"},
		})
	}
	o := newTestOrchestrator(msgs, &memUsers{credits: 100}, &stubPersister{}, gens...)

	id, err := o.StartGeneration(context.Background(), baseRequest(names...))
	if err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	o.Wait()

	msg, _ := msgs.GetByID(context.Background(), id)
	if len(msg.ImageURLs) != 8 {
		t.Fatalf("image urls = %d, want 8; a concurrent merge dropped images: %v", len(msg.ImageURLs), msg.ImageURLs)
	}
	if msg.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", msg.Status)
	}
}

func TestRetryReusesMessageID(t *testing.T) {
	msgs := newMemMessages()
	o := newTestOrchestrator(msgs, &memUsers{credits: 10}, &stubPersister{},
		&stubGenerator{name: "openai", result: &provider.Result{Images: rawImages(1), Model: "dall-e-3"}},
		&stubGenerator{name: "google", err: errors.New("status 503")},
	)

	id, _ := o.StartGeneration(context.Background(), baseRequest("openai", "google"))
	o.Wait()
	if msg, _ := msgs.GetByID(context.Background(), id); msg.Status != domain.StatusPartial {
		t.Fatalf("first round status = %s, want partial", msg.Status)
	}

	// Retry just the failed provider against the same message.
	o2 := newTestOrchestrator(msgs, &memUsers{credits: 10}, &stubPersister{},
		&stubGenerator{name: "google", result: &provider.Result{Images: rawImages(1), Model: "imagen-3.0-generate-002"}},
	)
	retry := baseRequest("google")
	retry.MessageID = id
	id2, err := o2.StartGeneration(context.Background(), retry)
	if err != nil {
		t.Fatalf("retry StartGeneration: %v", err)
	}
	if id2 != id {
		t.Fatalf("retry created a new message: %s != %s", id2, id)
	}
	o2.Wait()

	msg, _ := msgs.GetByID(context.Background(), id)
	if msg.Status != domain.StatusCompleted {
		t.Fatalf("status after retry = %s, want completed", msg.Status)
	}
	if len(msg.ImageURLs) != 2 {
		t.Fatalf("image urls = %v, want the original plus the retried one", msg.ImageURLs)
	}
}

func TestSettlementFailureForcesFailed(t *testing.T) {
	msgs := newMemMessages()
	msgs.failFinalize = 1
	o := newTestOrchestrator(msgs, &memUsers{credits: 10}, &stubPersister{},
		&stubGenerator{name: "openai", result: &provider.Result{Images: rawImages(1), Model: "dall-e-3"}},
	)

	id, _ := o.StartGeneration(context.Background(), baseRequest("openai"))
	o.Wait()

	msg, _ := msgs.GetByID(context.Background(), id)
	if !msg.Status.Terminal() {
		t.Fatalf("status = %s, message must never stay generating", msg.Status)
	}
	if msg.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want forced failure", msg.Status)
	}
	if _, ok := msg.ProviderErrors["settlement"]; !ok {
		t.Fatalf("provider errors = %v, want settlement reason", msg.ProviderErrors)
	}
}

func TestFinalizeIsWriteOnce(t *testing.T) {
	msgs := newMemMessages()
	o := newTestOrchestrator(msgs, &memUsers{credits: 10}, &stubPersister{},
		&stubGenerator{name: "openai", result: &provider.Result{Images: rawImages(1), Model: "dall-e-3"}},
	)

	id, _ := o.StartGeneration(context.Background(), baseRequest("openai"))
	o.Wait()

	err := msgs.Finalize(context.Background(), id, domain.StatusFailed, nil)
	if !errors.Is(err, domain.ErrMessageFinalized) {
		t.Fatalf("second finalize err = %v, want ErrMessageFinalized", err)
	}
	msg, _ := msgs.GetByID(context.Background(), id)
	if msg.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, terminal state must not change", msg.Status)
	}
}

func TestProvidersReceiveLocaleOption(t *testing.T) {
	var gotOpts map[string]any
	var mu sync.Mutex
	gen := &captureGenerator{name: "openai", onRequest: func(req provider.Request) {
		mu.Lock()
		gotOpts = req.Options
		mu.Unlock()
	}}
	o := newTestOrchestrator(newMemMessages(), &memUsers{credits: 10}, &stubPersister{})
	o.providers = map[string]provider.Generator{"openai": gen}

	req := baseRequest("openai")
	req.Locale = "ja"
	req.ModelOptions = map[string]map[string]any{"openai": {"size": "1024x1024"}}
	if _, err := o.StartGeneration(context.Background(), req); err != nil {
		t.Fatalf("StartGeneration: %v", err)
	}
	o.Wait()

	mu.Lock()
	defer mu.Unlock()
	if gotOpts["locale"] != "ja" {
		t.Fatalf("options = %v, want injected locale", gotOpts)
	}
	if gotOpts["size"] != "1024x1024" {
		t.Fatalf("options = %v, caller options must survive", gotOpts)
	}
	if req.ModelOptions["openai"]["locale"] != nil {
		t.Fatalf("caller option bag was mutated: %v", req.ModelOptions["openai"])
	}
}

type captureGenerator struct {
	name      string
	onRequest func(provider.Request)
}

func (g *captureGenerator) Name() string { return g.name }

func (g *captureGenerator) Generate(_ context.Context, req provider.Request) (*provider.Result, error) {
	if g.onRequest != nil {
		g.onRequest(req)
	}
	return &provider.Result{Images: rawImages(1), Model: "dall-e-3"}, nil
}
