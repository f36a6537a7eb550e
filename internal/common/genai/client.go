// Package genai wraps the Google GenAI client behind the small Completer
// interface the stage runners depend on.
package genai

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-pro"

// Request is a single completion call. JSONMode asks the backend to emit
// application/json; the extractor still runs on the result because models do
// not always honor it.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	JSONMode     bool
}

// Completer is the model invocation collaborator. Implementations may time
// out, return empty text, or return text that is not the requested JSON.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client is a Gemini-backed Completer bound to one API key.
type Client struct {
	client    *genai.Client
	modelName string
}

// NewClient creates a Client configured for the Gemini API backend.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}

	return &Client{client: client, modelName: model}, nil
}

// Complete sends the prompt to Gemini and returns the concatenated textual
// parts of the first candidates. An empty result is returned as "" with a nil
// error; classifying that is the caller's concern.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("gemini client is not initialized")
	}

	prompt := strings.TrimSpace(req.UserPrompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	cfg := &genai.GenerateContentConfig{}
	if req.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	if sys := strings.TrimSpace(req.SystemPrompt); sys != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: sys}},
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.modelName, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.modelName
}

// CompleterFactory hands out a Completer bound to a resolved API key.
type CompleterFactory interface {
	For(ctx context.Context, apiKey string) (Completer, error)
}

// maxCachedClients caps the Factory cache; distinct caller keys otherwise
// grow it for the process lifetime.
const maxCachedClients = 128

// Factory hands out Completers per API key so BYOK requests do not rebuild
// clients on every stage run. Keys are cached by digest, never stored raw;
// the least recently used client is evicted once the cache is full.
type Factory struct {
	model string

	mu      sync.Mutex
	clients map[string]*Client
	order   []string
}

func NewFactory(model string) *Factory {
	return &Factory{
		model:   model,
		clients: make(map[string]*Client),
	}
}

// For returns a Completer bound to the given API key, reusing a cached client
// when one exists.
func (f *Factory) For(ctx context.Context, apiKey string) (Completer, error) {
	digest := fmt.Sprintf("%x", sha256.Sum256([]byte(apiKey)))

	f.mu.Lock()
	if client, ok := f.clients[digest]; ok {
		f.touch(digest)
		f.mu.Unlock()
		return client, nil
	}
	f.mu.Unlock()

	client, err := NewClient(ctx, apiKey, f.model)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.clients[digest]; ok {
		f.touch(digest)
		return cached, nil
	}

	if len(f.clients) >= maxCachedClients {
		oldest := f.order[0]
		f.order = f.order[1:]
		delete(f.clients, oldest)
	}
	f.clients[digest] = client
	f.order = append(f.order, digest)
	return client, nil
}

// touch moves a cached digest to the back of the eviction order. Callers hold
// f.mu.
func (f *Factory) touch(digest string) {
	for i, d := range f.order {
		if d == digest {
			f.order = append(f.order[:i], f.order[i+1:]...)
			f.order = append(f.order, digest)
			return
		}
	}
}
