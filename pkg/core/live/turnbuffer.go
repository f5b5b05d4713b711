package live

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-interview/pkg/core/voice/stt"
	"github.com/vango-go/vai-interview/pkg/core/voice/vad"
)

// UtteranceEvent is a committed, transcribed candidate utterance.
type UtteranceEvent struct {
	Text     string
	Duration time.Duration
	// Forced is set when the utterance hit the maximum length instead of trailing silence.
	Forced bool
}

// TurnBufferConfig controls utterance segmentation.
type TurnBufferConfig struct {
	SampleRate int
	// SilenceCommit is the trailing silence that closes an utterance. Zero
	// commits right after every speech fragment.
	SilenceCommit time.Duration
	// MaxUtterance forces a commit once this much audio is buffered.
	MaxUtterance time.Duration
	// PreRoll is the silence kept ahead of speech onset.
	PreRoll  time.Duration
	Language string
	STTModel string
}

const (
	defaultSampleRate   = 16000
	defaultMaxUtterance = 15 * time.Second
	defaultPreRoll      = 200 * time.Millisecond
)

// TurnBuffer accumulates PCM fragments into utterances. Ingest must be called
// from a single goroutine; SetSynthesizing may be called from any goroutine.
type TurnBuffer struct {
	detector    vad.Detector
	transcriber stt.Transcriber
	cfg         TurnBufferConfig
	format      AudioConfig
	logger      *slog.Logger

	audio   []byte
	active  bool
	silence time.Duration
	preroll *RingBuffer

	synthesizing atomic.Bool
	hookMu       sync.Mutex
	onBargeIn    func()
}

// NewTurnBuffer creates a buffer over the given detector and transcriber.
func NewTurnBuffer(detector vad.Detector, transcriber stt.Transcriber, cfg TurnBufferConfig, logger *slog.Logger) *TurnBuffer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = defaultMaxUtterance
	}
	if cfg.PreRoll < 0 {
		cfg.PreRoll = 0
	} else if cfg.PreRoll == 0 {
		cfg.PreRoll = defaultPreRoll
	}
	if logger == nil {
		logger = slog.Default()
	}
	format := PCM16Mono(cfg.SampleRate)
	return &TurnBuffer{
		detector:    detector,
		transcriber: transcriber,
		cfg:         cfg,
		format:      format,
		logger:      logger,
		preroll:     NewRingBuffer(format.BytesFor(cfg.PreRoll)),
	}
}

// OnBargeIn registers fn to run when speech is detected while synthesizing.
func (b *TurnBuffer) OnBargeIn(fn func()) {
	b.hookMu.Lock()
	b.onBargeIn = fn
	b.hookMu.Unlock()
}

// SetSynthesizing marks whether question audio is still being delivered,
// from synthesis start until its last queued frame has left the connection.
func (b *TurnBuffer) SetSynthesizing(v bool) {
	b.synthesizing.Store(v)
}

// Active reports whether an utterance is open.
func (b *TurnBuffer) Active() bool {
	return b.active
}

// Ingest feeds one fragment. It returns an event only when a committed
// utterance transcribes to non-empty text.
func (b *TurnBuffer) Ingest(ctx context.Context, fragment []byte) (UtteranceEvent, bool) {
	if len(fragment) == 0 {
		return UtteranceEvent{}, false
	}

	speech, err := b.detector.DetectSpeech(ctx, fragment)
	if err != nil {
		b.logger.Warn("speech detection failed", "op", "vad", "bytes", len(fragment), "error", err)
		speech = false
	}

	if speech {
		if b.synthesizing.Load() {
			b.bargeIn()
		}
		if !b.active {
			b.active = true
			b.audio = append(b.audio[:0], b.preroll.Read()...)
			b.preroll.Clear()
		}
		b.audio = append(b.audio, fragment...)
		b.silence = 0

		if b.cfg.SilenceCommit <= 0 {
			return b.commit(ctx, false)
		}
		if b.format.Duration(len(b.audio)) >= b.cfg.MaxUtterance {
			return b.commit(ctx, true)
		}
		return UtteranceEvent{}, false
	}

	if !b.active {
		b.preroll.Write(fragment)
		return UtteranceEvent{}, false
	}

	b.audio = append(b.audio, fragment...)
	b.silence += b.format.Duration(len(fragment))
	if b.silence >= b.cfg.SilenceCommit {
		return b.commit(ctx, false)
	}
	if b.format.Duration(len(b.audio)) >= b.cfg.MaxUtterance {
		return b.commit(ctx, true)
	}
	return UtteranceEvent{}, false
}

// Reset drops any buffered audio.
func (b *TurnBuffer) Reset() {
	b.audio = b.audio[:0]
	b.active = false
	b.silence = 0
	b.preroll.Clear()
}

func (b *TurnBuffer) bargeIn() {
	b.hookMu.Lock()
	fn := b.onBargeIn
	b.hookMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (b *TurnBuffer) commit(ctx context.Context, forced bool) (UtteranceEvent, bool) {
	audio := make([]byte, len(b.audio))
	copy(audio, b.audio)
	b.Reset()

	duration := b.format.Duration(len(audio))
	if b.transcriber == nil {
		return UtteranceEvent{}, false
	}
	tr, err := b.transcriber.Transcribe(ctx, audio, stt.TranscribeOptions{
		Model:      b.cfg.STTModel,
		Language:   b.cfg.Language,
		SampleRate: b.cfg.SampleRate,
	})
	if err != nil {
		b.logger.Warn("transcription failed", "op", "stt", "duration_ms", duration.Milliseconds(), "error", err)
		return UtteranceEvent{}, false
	}
	text := ""
	if tr != nil {
		text = strings.TrimSpace(tr.Text)
	}
	if text == "" {
		return UtteranceEvent{}, false
	}
	return UtteranceEvent{Text: text, Duration: duration, Forced: forced}, true
}
