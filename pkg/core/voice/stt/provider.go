// Package stt provides speech-to-text for committed candidate utterances.
package stt

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Transcriber converts one utterance of 16-bit mono PCM into text.
type Transcriber interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts audio to text.
	Transcribe(ctx context.Context, pcm []byte, opts TranscribeOptions) (*Transcript, error)
}

// TranscribeOptions configures transcription.
type TranscribeOptions struct {
	Model      string // Provider-specific model
	Language   string // ISO language code
	SampleRate int    // Sample rate of pcm in Hz
}

// Transcript is the result of transcription.
type Transcript struct {
	Text     string  // Full transcribed text
	Language string  // Detected or specified language
	Duration float64 // Audio duration in seconds
}

// Config selects a transcriber.
type Config struct {
	Provider   string // openai | cartesia
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// New builds the configured transcriber.
func New(cfg Config) (Transcriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("stt: missing api key")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient), nil
	case "cartesia":
		return NewCartesia(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient), nil
	default:
		return nil, fmt.Errorf("stt: unsupported provider %q", cfg.Provider)
	}
}

func defaultSampleRate(rate int) int {
	if rate <= 0 {
		return 16000
	}
	return rate
}
