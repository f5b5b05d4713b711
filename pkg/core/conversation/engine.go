// Package conversation drives the interview dialogue: it builds prompts from
// the session record, asks the LLM for the next question and turns the final
// transcript into a structured evaluation.
//
// Every operation is a function of (Session, input) that returns an updated
// copy. LLM failures never escape; they degrade to fixed texts.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-interview/pkg/core/llm"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

// DefaultTimeout bounds every LLM call.
const DefaultTimeout = 30 * time.Second

// Fallback reasons reported to Config.OnFallback.
const (
	FallbackNoCredential = "no_credential"
	FallbackError        = "error"
	FallbackTimeout      = "timeout"
	FallbackUnparseable  = "unparseable"
)

// Config wires an Engine.
type Config struct {
	// Provider is nil when no credential is configured; the engine then
	// answers every generation with PlaceholderQuestion.
	Provider llm.Provider
	Timeout  time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
	// OnFallback is called with the operation and reason whenever a fixed text
	// replaces model output.
	OnFallback func(op, reason string)
}

// Engine is safe for concurrent use; it holds no per-session state.
type Engine struct {
	provider   llm.Provider
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
	onFallback func(op, reason string)
}

// Reply is the outcome of Advance.
type Reply struct {
	Text string
	// Complete is set when the model ended the interview; Text is then ClosingStatement.
	Complete bool
}

// New creates an Engine.
func New(cfg Config) *Engine {
	e := &Engine{
		provider:   cfg.Provider,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		now:        cfg.Now,
		onFallback: cfg.OnFallback,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// NextQuestion generates the opening greeting and appends it to history as a new turn.
func (e *Engine) NextQuestion(ctx context.Context, s types.Session) (types.Session, string) {
	out := s.Clone()
	text := e.generate(ctx, "next_question", s.SessionID, greetingMessages(out))
	out.AppendQuestion(text, e.now().UTC())
	return out, text
}

// Advance records answer on the open turn (or an answer-only turn) and asks
// the model for the next question. A sentinel reply ends the interview with
// ClosingStatement, which is not added to history.
func (e *Engine) Advance(ctx context.Context, s types.Session, answer string) (types.Session, Reply) {
	out := s.Clone()
	out.AttachAnswer(answer, e.now().UTC())

	// s is the pre-answer history, so the replay carries the new answer only
	// once, right before the directive.
	text := e.generate(ctx, "advance", s.SessionID, advanceMessages(out, s.ConversationHistory, answer))

	if strings.Contains(strings.ToUpper(text), CompletionSentinel) {
		e.logger.Info("interview completed by model", "session_id", s.SessionID, "op", "advance", "turns", len(out.ConversationHistory))
		return out, Reply{Text: ClosingStatement, Complete: true}
	}
	out.AppendQuestion(text, e.now().UTC())
	return out, Reply{Text: text}
}

// Evaluate scores the transcript. It never fails: generation errors and
// unparseable output degrade to types.FallbackEvaluation.
func (e *Engine) Evaluate(ctx context.Context, s types.Session) types.Evaluation {
	raw := e.generate(ctx, "evaluate", s.SessionID, evaluationMessages(s))
	ev, ok := ParseEvaluation(raw)
	if !ok {
		e.logger.Warn("evaluation not parseable, using fallback", "session_id", s.SessionID, "op", "evaluate", "bytes", len(raw))
		e.fallback("evaluate", FallbackUnparseable)
	}
	return ev
}

func (e *Engine) generate(ctx context.Context, op, sessionID string, messages []llm.Message) string {
	if e.provider == nil {
		e.logger.Warn("llm credential not set, returning placeholder", "session_id", sessionID, "op", op)
		e.fallback(op, FallbackNoCredential)
		return PlaceholderQuestion
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	text, err := e.provider.Generate(ctx, messages)
	if err != nil {
		reason := FallbackError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = FallbackTimeout
		}
		e.logger.Error("llm call failed", "session_id", sessionID, "op", op, "provider", e.provider.Name(), "reason", reason, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		e.fallback(op, reason)
		return FollowUpQuestion
	}
	e.logger.Debug("llm call", "session_id", sessionID, "op", op, "provider", e.provider.Name(), "duration_ms", time.Since(start).Milliseconds())
	return strings.TrimSpace(text)
}

func (e *Engine) fallback(op, reason string) {
	if e.onFallback != nil {
		e.onFallback(op, reason)
	}
}
