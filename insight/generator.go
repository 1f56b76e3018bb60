package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	errs "github.com/Neil2813/Nexus/errors"
)

// Generation bounds one completion.
type Generation struct {
	MaxTokens   int
	Temperature float32
}

// Generator turns a prompt into text.
type Generator interface {
	Name() string
	Model() string
	Generate(ctx context.Context, prompt string, g Generation) (string, error)
}

// Default remote models.
const (
	DefaultGeminiModel   = "gemini-1.5-pro"
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultOpenAIModel   = openai.GPT3Dot5Turbo
)

// Gemini calls the Gemini generateContent REST endpoint.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// NewGemini creates a Gemini generator. Empty model and baseURL use the
// defaults.
func NewGemini(apiKey, model, baseURL string, client *http.Client) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Gemini{apiKey: apiKey, model: model, baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

// Name implements Generator.
func (g *Gemini) Name() string { return "gemini" }

// Model implements Generator.
func (g *Gemini) Model() string { return g.model }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		MaxOutputTokens int     `json:"maxOutputTokens"`
		Temperature     float32 `json:"temperature"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, prompt string, gen Generation) (string, error) {
	var body geminiRequest
	body.Contents = []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}
	body.GenerationConfig.MaxOutputTokens = gen.MaxTokens
	body.GenerationConfig.Temperature = gen.Temperature

	payload, err := json.Marshal(body)
	if err != nil {
		return "", errs.WrapInvalid(err, "Gemini", "Generate", "encode request")
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", errs.WrapInvalid(err, "Gemini", "Generate", "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.http.Do(req)
	if err != nil {
		return "", errs.WrapTransient(fmt.Errorf("%w: %w", errs.ErrUpstreamUnavailable, err), "Gemini", "Generate", "request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", errs.WrapTransient(err, "Gemini", "Generate", "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.WrapTransient(
			fmt.Errorf("%w: status %d", errs.ErrUpstreamUnavailable, resp.StatusCode), "Gemini", "Generate", "request")
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", errs.WrapTransient(fmt.Errorf("%w: %w", errs.ErrMalformedResponse, err), "Gemini", "Generate", "decode response")
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", errs.WrapTransient(errs.ErrMalformedResponse, "Gemini", "Generate", "no candidates")
	}
	return strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text), nil
}

// OpenAI calls the chat completions API through the go-openai client.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI generator. baseURL may point at any
// OpenAI-compatible endpoint; empty keeps the public API.
func NewOpenAI(apiKey, model, baseURL string, client *http.Client) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if client != nil {
		config.HTTPClient = client
	}
	return &OpenAI{client: openai.NewClientWithConfig(config), model: model}
}

// Name implements Generator.
func (o *OpenAI) Name() string { return "openai" }

// Model implements Generator.
func (o *OpenAI) Model() string { return o.model }

// Generate implements Generator.
func (o *OpenAI) Generate(ctx context.Context, prompt string, gen Generation) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   gen.MaxTokens,
		Temperature: gen.Temperature,
	})
	if err != nil {
		return "", errs.WrapTransient(fmt.Errorf("%w: %w", errs.ErrUpstreamUnavailable, err), "OpenAI", "Generate", "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errs.WrapTransient(errs.ErrMalformedResponse, "OpenAI", "Generate", "no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
