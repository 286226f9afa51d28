package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Provider holds the request and response envelope of one LLM vendor. The
// prompt and the response parsing are shared by all of them.
type Provider interface {
	Name() string
	BuildRequest(ctx context.Context, prompt, credential string) (*http.Request, error)
	ExtractText(body []byte) (string, error)
}

const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

const (
	defaultGroqEndpoint   = "https://api.groq.com/openai/v1/chat/completions"
	defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultGeminiBase     = "https://generativelanguage.googleapis.com/v1beta"

	temperature = 0.1
	maxTokens   = 64
)

var errEmptyText = errors.New("provider response has no text")

// ChatProvider speaks the OpenAI-style chat completions envelope.
type ChatProvider struct {
	name     string
	Endpoint string
	Model    string
}

// NewGroq returns the Groq provider. An empty endpoint uses the public API.
func NewGroq(endpoint string) *ChatProvider {
	if endpoint == "" {
		endpoint = defaultGroqEndpoint
	}
	return &ChatProvider{name: ProviderGroq, Endpoint: endpoint, Model: "llama-3.3-70b-versatile"}
}

// NewOpenAI returns the OpenAI provider. An empty endpoint uses the public API.
func NewOpenAI(endpoint string) *ChatProvider {
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	return &ChatProvider{name: ProviderOpenAI, Endpoint: endpoint, Model: "gpt-4o-mini"}
}

func (p *ChatProvider) Name() string { return p.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

func (p *ChatProvider) BuildRequest(ctx context.Context, prompt, credential string) (*http.Request, error) {
	body, err := json.Marshal(chatRequest{
		Model:       p.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", p.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)
	return req, nil
}

func (p *ChatProvider) ExtractText(body []byte) (string, error) {
	return textAt(body, "choices.0.message.content")
}

// GeminiProvider speaks the generateContent envelope.
type GeminiProvider struct {
	BaseURL string
	Model   string
}

// NewGemini returns the Gemini provider. An empty base URL uses the public API.
func NewGemini(baseURL string) *GeminiProvider {
	if baseURL == "" {
		baseURL = defaultGeminiBase
	}
	return &GeminiProvider{BaseURL: strings.TrimRight(baseURL, "/"), Model: "gemini-1.5-flash"}
}

func (p *GeminiProvider) Name() string { return ProviderGemini }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

func (p *GeminiProvider) BuildRequest(ctx context.Context, prompt, credential string) (*http.Request, error) {
	payload := geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}}
	payload.GenerationConfig.Temperature = temperature
	payload.GenerationConfig.MaxOutputTokens = maxTokens

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", p.BaseURL, p.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", credential)
	return req, nil
}

func (p *GeminiProvider) ExtractText(body []byte) (string, error) {
	return textAt(body, "candidates.0.content.parts.0.text")
}

func textAt(body []byte, path string) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", errors.New("provider response is not valid JSON")
	}
	v := gjson.GetBytes(body, path)
	if !v.Exists() || v.String() == "" {
		return "", errEmptyText
	}
	return v.String(), nil
}

// ProviderSet maps provider names to implementations.
type ProviderSet map[string]Provider

// DefaultProviders returns the three supported providers on their public APIs.
func DefaultProviders() ProviderSet {
	return ProviderSet{
		ProviderGroq:   NewGroq(""),
		ProviderOpenAI: NewOpenAI(""),
		ProviderGemini: NewGemini(""),
	}
}

// Lookup returns the named provider, defaulting to Groq.
func (ps ProviderSet) Lookup(name string) Provider {
	if p, ok := ps[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	if p, ok := ps[ProviderGroq]; ok {
		return p
	}
	return NewGroq("")
}

// KnownProvider reports whether name is one of the supported providers.
func KnownProvider(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderGroq, ProviderOpenAI, ProviderGemini:
		return true
	}
	return false
}
