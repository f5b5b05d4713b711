package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	openAIBaseURL      = "https://api.openai.com/v1"
	DefaultOpenAIModel = "tts-1"
	DefaultOpenAIVoice = "alloy"

	// openAIReadSize is the producer read granularity, not the outbound frame size.
	openAIReadSize = 4096
)

// OpenAIProvider synthesizes through the OpenAI speech endpoint with raw PCM output.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI synthesizer. Empty baseURL and nil client use defaults.
func NewOpenAI(apiKey, baseURL string, client *http.Client) *OpenAIProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = openAIBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

type openAISpeechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// SynthesizeStream implements Synthesizer. The response body is relayed as it arrives.
func (p *OpenAIProvider) SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error) {
	body := openAISpeechRequest{
		Model:          opts.Model,
		Input:          text,
		Voice:          opts.Voice,
		ResponseFormat: "pcm",
		Speed:          opts.Speed,
	}
	if body.Model == "" {
		body.Model = DefaultOpenAIModel
	}
	if body.Voice == "" {
		body.Voice = DefaultOpenAIVoice
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai speech request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai speech error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	stream := NewSynthesisStream()
	go func() {
		defer stream.FinishSending()
		defer resp.Body.Close()

		for {
			buf := make([]byte, openAIReadSize)
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				if ctx.Err() != nil {
					stream.SetError(ctx.Err())
					return
				}
				if !stream.Send(buf[:n]) {
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					return
				}
				stream.SetError(err)
				return
			}
		}
	}()
	return stream, nil
}

// Close drops idle upstream connections.
func (p *OpenAIProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
