// Package voice holds the process-wide speech capability handles.
package voice

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-interview/pkg/core/voice/stt"
	"github.com/vango-go/vai-interview/pkg/core/voice/tts"
	"github.com/vango-go/vai-interview/pkg/core/voice/vad"
)

// Initializer is implemented by handles that load models or open pools before first use.
type Initializer interface {
	Init(ctx context.Context) error
}

// Capabilities bundles the speech handles shared by every session. Handles
// are initialized at most once and torn down at most once.
type Capabilities struct {
	VAD vad.Detector
	STT stt.Transcriber
	TTS tts.Synthesizer

	initOnce  sync.Once
	initErr   error
	closeOnce sync.Once
	closeErr  error
}

// ErrNoDetector is returned by Init when no speech detector is configured.
var ErrNoDetector = errors.New("voice: speech detector is required")

// Init initializes every handle concurrently. Repeated calls return the first result.
func (c *Capabilities) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		if c.VAD == nil {
			c.initErr = ErrNoDetector
			return
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, h := range c.handles() {
			in, ok := h.(Initializer)
			if !ok {
				continue
			}
			g.Go(func() error { return in.Init(gctx) })
		}
		c.initErr = g.Wait()
	})
	return c.initErr
}

// Close releases every handle once. Repeated calls return the first result.
func (c *Capabilities) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		for _, h := range c.handles() {
			if closer, ok := h.(io.Closer); ok {
				if err := closer.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// CanTranscribe reports whether inbound audio can become answers.
func (c *Capabilities) CanTranscribe() bool {
	return c != nil && c.VAD != nil && c.STT != nil
}

// CanSpeak reports whether questions can be synthesized.
func (c *Capabilities) CanSpeak() bool {
	return c != nil && c.TTS != nil
}

func (c *Capabilities) handles() []any {
	out := make([]any, 0, 3)
	if c.VAD != nil {
		out = append(out, c.VAD)
	}
	if c.STT != nil {
		out = append(out, c.STT)
	}
	if c.TTS != nil {
		out = append(out, c.TTS)
	}
	return out
}
