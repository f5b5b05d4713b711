// Package tts provides streamed text-to-speech for interview questions.
package tts

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Synthesizer streams raw 16-bit mono PCM for a text. Canceling ctx stops the
// stream and releases the upstream connection.
type Synthesizer interface {
	// Name returns the provider identifier.
	Name() string

	// SynthesizeStream converts text to streaming audio.
	SynthesizeStream(ctx context.Context, text string, opts SynthesizeOptions) (*SynthesisStream, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Model      string  // Provider-specific model
	Voice      string  // Voice identifier
	Speed      float64 // Speed multiplier, 0 keeps the provider default
	Language   string  // Language code
	SampleRate int     // Output sample rate; providers that fix it ignore this
}

// DefaultSampleRate is the PCM rate produced by the bundled providers.
const DefaultSampleRate = 24000

// Config selects a synthesizer.
type Config struct {
	Provider   string // openai | cartesia
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// New builds the configured synthesizer.
func New(cfg Config) (Synthesizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("tts: missing api key")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.HTTPClient), nil
	case "cartesia":
		return NewCartesia(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("tts: unsupported provider %q", cfg.Provider)
	}
}

// SynthesisStream provides streaming audio output.
type SynthesisStream struct {
	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewSynthesisStream creates a new synthesis stream.
func NewSynthesisStream() *SynthesisStream {
	return &SynthesisStream{
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

// Chunks returns the channel of audio chunks. It is closed when the producer finishes.
func (s *SynthesisStream) Chunks() <-chan []byte {
	return s.chunks
}

// Err returns the producer error, if any. It is meaningful once Chunks is drained.
func (s *SynthesisStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tells the producer to stop. It is safe to call more than once.
func (s *SynthesisStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// SetError sets the stream error.
func (s *SynthesisStream) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Send sends a chunk to the stream. Returns false if the stream was closed.
func (s *SynthesisStream) Send(chunk []byte) bool {
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// FinishSending closes the chunks channel to signal completion.
func (s *SynthesisStream) FinishSending() {
	close(s.chunks)
}
