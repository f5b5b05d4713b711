package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// Gemini generates text through the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	opts   options
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, apiKey, model string, opts ...Option) (*Gemini, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if o.httpClient != nil {
		cc.HTTPClient = o.httpClient
	}
	if o.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: o.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, opts: o}, nil
}

// Name returns the provider identifier.
func (p *Gemini) Name() string {
	return "gemini"
}

// Generate maps system messages onto the system instruction and replays the
// rest as alternating user/model contents.
func (p *Gemini) Generate(ctx context.Context, messages []Message) (string, error) {
	system, contents := toGeminiContents(messages)

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(p.opts.temperature)),
		MaxOutputTokens: int32(p.opts.maxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// toGeminiContents merges consecutive same-role messages, since Gemini expects
// turns to alternate, and opens with a user turn when the replay starts with a
// model question.
func toGeminiContents(messages []Message) (string, []*genai.Content) {
	var system []string
	var contents []*genai.Content
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		if n := len(contents); n > 0 && contents[n-1].Role == string(role) {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.NewPartFromText(m.Content))
			continue
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	if len(contents) > 0 && contents[0].Role == string(genai.RoleModel) {
		contents = append([]*genai.Content{genai.NewContentFromText("Hello.", genai.RoleUser)}, contents...)
	}
	return strings.Join(system, "\n\n"), contents
}
