// Package session runs one interview over one websocket connection: it loads
// the session, emits questions, turns candidate audio into answers, streams
// question audio with barge-in, and completes the interview on request.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-interview/pkg/core/conversation"
	"github.com/vango-go/vai-interview/pkg/core/live"
	"github.com/vango-go/vai-interview/pkg/core/types"
	"github.com/vango-go/vai-interview/pkg/core/voice"
	"github.com/vango-go/vai-interview/pkg/core/voice/tts"
	"github.com/vango-go/vai-interview/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-interview/pkg/gateway/store"
)

const (
	maxCanceledResponseIDs    = 64
	outboundPriorityQueueSize = 8
	defaultAudioChunkBytes    = 4096
	defaultCleanupTimeout     = 5 * time.Second

	SourceText  = "text"
	SourceVoice = "voice"
)

var errClosed = errors.New("session closed")

// Conn is the subset of *websocket.Conn the coordinator uses.
type Conn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// StatusPusher reports interview completion to the upstream backend.
type StatusPusher interface {
	PushStatus(ctx context.Context, id string, status types.Status) error
}

// Archiver keeps a durable copy of a final evaluation.
type Archiver interface {
	SaveEvaluation(ctx context.Context, sess types.Session, ev types.Evaluation) (string, error)
}

// Metrics receives per-session events. A nil Metrics is ignored.
type Metrics interface {
	TurnCommitted(source string)
	BargeIn()
	Evaluation(rec types.Recommendation)
	UpstreamError(op string)
	AudioDropped(reason string)
}

type Config struct {
	MaxMessageBytes        int64
	MaxAudioFPS            int
	MaxAudioBytesPerSecond int64
	InboundBurstSeconds    int
	SampleRate             int
	SilenceCommit          time.Duration
	MaxUtterance           time.Duration
	AudioChunkBytes        int
	PingInterval           time.Duration
	WriteTimeout           time.Duration
	ReadTimeout            time.Duration
	OutboundQueueSize      int
	// AutoEvaluate runs the completion path as soon as the model ends the interview.
	AutoEvaluate bool
	STTModel     string
	TTSModel     string
	TTSVoice     string
}

type Dependencies struct {
	Conn     Conn
	Logger   *slog.Logger
	Engine   *conversation.Engine
	Store    *store.Store
	Upstream StatusPusher
	Archive  Archiver
	Voice    *voice.Capabilities
	Metrics  Metrics

	SessionID string
	ConnID    string
	// Mode overrides the session's stored mode when non-empty.
	Mode   types.Mode
	Config Config
	Now    func() time.Time
}

// Coordinator owns one interview connection. All session mutations happen on
// the Run goroutine, one inbound frame at a time; only question audio is
// streamed from a separate goroutine so that barge-in can cancel it.
type Coordinator struct {
	conn     Conn
	logger   *slog.Logger
	engine   *conversation.Engine
	store    *store.Store
	upstream StatusPusher
	archive  Archiver
	voice    *voice.Capabilities
	metrics  Metrics

	sessionID    string
	modeOverride types.Mode
	cfg          Config
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	buffer        *live.TurnBuffer
	mode          types.Mode
	language      string
	evaluation    *types.Evaluation
	voiceInWarned bool

	speakMu       sync.Mutex
	speakCancel   context.CancelFunc
	speakID       string
	speakers      sync.WaitGroup
	responseCount atomic.Int64
	canceledAudio atomic.Value // canceledResponseState
}

type noopMetrics struct{}

func (noopMetrics) TurnCommitted(string)            {}
func (noopMetrics) BargeIn()                        {}
func (noopMetrics) Evaluation(types.Recommendation) {}
func (noopMetrics) UpstreamError(string)            {}
func (noopMetrics) AudioDropped(string)             {}

type outboundFrame struct {
	// responseID tags question audio so it can be dropped after barge-in.
	responseID    string
	textPayload   []byte
	binaryPayload []byte
	// endOfResponse marks the last queued frame of responseID. It carries no
	// payload; the writer reports it once every earlier frame is written or dropped.
	endOfResponse bool
}

type canceledResponseState struct {
	set   map[string]struct{}
	order []string
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*Coordinator, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("conversation engine is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if strings.TrimSpace(deps.SessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.AudioChunkBytes <= 0 {
		deps.Config.AudioChunkBytes = defaultAudioChunkBytes
	}
	if deps.Config.AudioChunkBytes%2 != 0 {
		deps.Config.AudioChunkBytes++
	}

	logger := deps.Logger.With("session_id", deps.SessionID)
	if deps.ConnID != "" {
		logger = logger.With("conn_id", deps.ConnID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		conn:             deps.Conn,
		logger:           logger,
		engine:           deps.Engine,
		store:            deps.Store,
		upstream:         deps.Upstream,
		archive:          deps.Archive,
		voice:            deps.Voice,
		metrics:          deps.Metrics,
		sessionID:        deps.SessionID,
		modeOverride:     deps.Mode,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		mode:             types.ModeText,
		language:         types.DefaultLanguage,
	}
	c.canceledAudio.Store(canceledResponseState{set: make(map[string]struct{})})
	return c, nil
}

func (c *Coordinator) newTurnBuffer() *live.TurnBuffer {
	if !c.voice.CanTranscribe() {
		return nil
	}
	b := live.NewTurnBuffer(c.voice.VAD, c.voice.STT, live.TurnBufferConfig{
		SampleRate:    c.cfg.SampleRate,
		SilenceCommit: c.cfg.SilenceCommit,
		MaxUtterance:  c.cfg.MaxUtterance,
		Language:      c.language,
		STTModel:      c.cfg.STTModel,
	}, c.logger)
	b.OnBargeIn(func() { c.interrupt("barge_in") })
	return b
}

// Run serves the connection until the client disconnects, the writer fails or
// Cancel is called. The cached session is deleted on every exit path.
func (c *Coordinator) Run() error {
	defer c.cancel()
	defer c.cleanup()

	if c.cfg.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	}
	if c.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go c.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:         c.conn,
			ctx:        c.ctx,
			cfg:        c.cfg,
			priority:   c.outboundPriority,
			normal:     c.outboundNormal,
			isCanceled: c.isResponseCanceled,
			onDrained:  c.responseDrained,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	limiter := newInboundAudioLimiter(c.now, c.cfg.MaxAudioFPS, c.cfg.MaxAudioBytesPerSecond, c.cfg.InboundBurstSeconds)

	if err := c.open(c.ctx); err != nil {
		return c.exit(err)
	}

	for {
		select {
		case <-c.ctx.Done():
			return nil
		case err := <-writerErrCh:
			return err
		case frame, ok := <-readCh:
			if !ok || frame.err != nil {
				if frame.err != nil && !websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					c.logger.Info("connection read ended", "op", "read", "error", frame.err)
				}
				return nil
			}
			var err error
			switch frame.messageType {
			case websocket.TextMessage:
				err = c.handleText(c.ctx, frame.data)
			case websocket.BinaryMessage:
				err = c.handleAudio(c.ctx, frame.data, limiter)
			}
			if err != nil {
				return c.exit(err)
			}
		}
	}
}

// Cancel stops the coordinator; Run returns shortly after.
func (c *Coordinator) Cancel() {
	if c == nil || c.cancel == nil {
		return
	}
	c.cancel()
}

// Mode reports the interaction mode the session opened with. It is only
// stable once Run has returned.
func (c *Coordinator) Mode() types.Mode {
	return c.mode
}

// SendError queues a non-fatal error notice, used by the tracker during drain.
func (c *Coordinator) SendError(message string) error {
	if c == nil {
		return nil
	}
	return c.sendJSONPriority(protocol.NewErrorFrame(message))
}

func (c *Coordinator) exit(err error) error {
	if errors.Is(err, errClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// open loads the session and emits the current question: the open one when
// reconnecting mid-interview, otherwise a freshly generated greeting.
func (c *Coordinator) open(ctx context.Context) error {
	sess := c.store.Get(ctx, c.sessionID)
	if c.modeOverride != "" {
		sess.Mode = c.modeOverride
	}
	if sess.Status == types.StatusPending {
		sess.Status = types.StatusInProgress
	}

	var question string
	if idx, ok := sess.OpenTurn(); ok {
		question = *sess.ConversationHistory[idx].Question
		c.logger.Info("resuming interview", "op", "open", "turns", len(sess.ConversationHistory))
	} else {
		sess, question = c.engine.NextQuestion(ctx, sess)
		c.logger.Info("interview started", "op", "open", "mode", sess.Mode, "degraded", sess.Degraded)
	}
	if err := c.store.Put(ctx, sess); err != nil {
		c.logger.Error("session write failed", "op", "open", "error", err)
	}

	c.mode = sess.Mode
	if strings.TrimSpace(sess.Language) != "" {
		c.language = sess.Language
	}
	c.buffer = c.newTurnBuffer()
	return c.emitQuestion(question)
}

func (c *Coordinator) handleText(ctx context.Context, data []byte) error {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		c.logger.Warn("malformed client frame", "op", "decode", "error", err)
		return c.sendJSON(protocol.NewErrorFrame(err.Error()))
	}
	switch m := msg.(type) {
	case protocol.ClientAnswer:
		return c.handleAnswer(ctx, m.Text, SourceText)
	case protocol.ClientEndInterview:
		return c.finish(ctx)
	}
	return nil
}

func (c *Coordinator) handleAudio(ctx context.Context, data []byte, limiter *inboundAudioLimiter) error {
	if c.buffer == nil {
		c.metrics.AudioDropped("no_voice_input")
		if !c.voiceInWarned {
			c.voiceInWarned = true
			return c.sendJSON(protocol.NewErrorFrame("voice input is not available; send answers as text"))
		}
		return nil
	}
	if ok, notify := limiter.Admit(len(data)); !ok {
		c.metrics.AudioDropped("rate_limited")
		if notify {
			c.logger.Warn("inbound audio rate limit exceeded", "op", "audio", "bytes", len(data))
			return c.sendJSON(protocol.NewErrorFrame("inbound audio rate limit exceeded"))
		}
		return nil
	}
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}

	ev, ok := c.buffer.Ingest(ctx, data)
	if !ok {
		return nil
	}
	c.logger.Info("utterance committed", "op", "audio", "duration_ms", ev.Duration.Milliseconds(), "forced", ev.Forced)
	return c.handleAnswer(ctx, ev.Text, SourceVoice)
}

func (c *Coordinator) handleAnswer(ctx context.Context, text, source string) error {
	if c.evaluation != nil {
		return c.sendJSON(protocol.NewErrorFrame("interview already completed"))
	}
	c.interrupt("answer")

	var reply conversation.Reply
	sess, err := c.store.Update(ctx, c.sessionID, func(s types.Session) (types.Session, error) {
		if c.modeOverride != "" {
			s.Mode = c.modeOverride
		}
		next, r := c.engine.Advance(ctx, s, text)
		reply = r
		return next, nil
	})
	if err != nil {
		c.logger.Error("session write failed", "op", "advance", "error", err)
	}
	c.mode = sess.Mode
	c.metrics.TurnCommitted(source)

	if err := c.emitQuestion(reply.Text); err != nil {
		return err
	}
	if reply.Complete {
		c.logger.Info("interviewer closed the interview", "op", "advance", "auto_evaluate", c.cfg.AutoEvaluate)
		if c.cfg.AutoEvaluate {
			return c.finish(ctx)
		}
	}
	return nil
}

// finish evaluates the interview, delivers the evaluation and reports
// completion upstream. Repeated calls re-send the first evaluation. The
// evaluation shares the normal queue so it always follows a closing question;
// interrupt has already canceled any audio queued ahead of it.
func (c *Coordinator) finish(ctx context.Context) error {
	if c.evaluation != nil {
		return c.sendJSON(protocol.NewEvaluationFrame(*c.evaluation))
	}
	c.interrupt("end_interview")

	sess := c.store.Get(ctx, c.sessionID)
	ev := c.engine.Evaluate(ctx, sess)
	c.evaluation = &ev
	c.metrics.Evaluation(ev.Recommendation)

	if err := c.sendJSON(protocol.NewEvaluationFrame(ev)); err != nil {
		return err
	}

	if c.upstream != nil {
		if err := c.upstream.PushStatus(ctx, c.sessionID, types.StatusCompleted); err != nil {
			c.logger.Error("status push failed", "op", "push_status", "error", err)
			c.metrics.UpstreamError("push_status")
		}
	}
	c.logger.Info("interview completed",
		"op", "complete",
		"recommendation", ev.Recommendation,
		"communication_score", ev.CommunicationScore,
		"technical_score", ev.TechnicalScore,
		"clarity_score", ev.ClarityScore,
		"turns", len(sess.ConversationHistory),
	)

	if c.archive != nil {
		if id, err := c.archive.SaveEvaluation(ctx, sess, ev); err != nil {
			c.logger.Error("evaluation archive failed", "op", "archive", "error", err)
		} else {
			c.logger.Info("evaluation archived", "op", "archive", "archive_id", id)
		}
	}

	sess.Status = types.StatusCompleted
	if err := c.store.Put(ctx, sess); err != nil {
		c.logger.Error("session write failed", "op", "complete", "error", err)
	}
	return nil
}

func (c *Coordinator) emitQuestion(text string) error {
	if err := c.sendJSON(protocol.NewQuestionFrame(text)); err != nil {
		return err
	}
	if c.mode == types.ModeVoice {
		c.speak(text)
	}
	return nil
}

// speak streams synthesized audio for text from its own goroutine. The stream
// stops at the next chunk boundary once interrupt cancels it.
func (c *Coordinator) speak(text string) {
	if !c.voice.CanSpeak() || strings.TrimSpace(text) == "" {
		return
	}
	c.interrupt("superseded")

	id := c.nextResponseID()
	ctx, cancel := context.WithCancel(c.ctx)
	c.speakMu.Lock()
	c.speakCancel = cancel
	c.speakID = id
	c.speakMu.Unlock()
	if c.buffer != nil {
		c.buffer.SetSynthesizing(true)
	}

	c.speakers.Add(1)
	go func() {
		defer c.speakers.Done()
		defer cancel()
		if err := c.streamSpeech(ctx, id, text); err != nil && ctx.Err() == nil {
			c.logger.Warn("speech synthesis failed", "op", "tts", "response_id", id, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
		// The response stays interruptible until its queued audio has left the writer.
		_ = c.enqueueNormal(c.ctx, outboundFrame{responseID: id, endOfResponse: true})
	}()
}

func (c *Coordinator) streamSpeech(ctx context.Context, id, text string) error {
	stream, err := c.voice.TTS.SynthesizeStream(ctx, text, tts.SynthesizeOptions{
		Model:    c.cfg.TTSModel,
		Voice:    c.cfg.TTSVoice,
		Language: c.language,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-stream.Chunks():
			if !ok {
				return stream.Err()
			}
			for _, piece := range live.Chunk(chunk, c.cfg.AudioChunkBytes) {
				if ctx.Err() != nil || c.isResponseCanceled(id) {
					return nil
				}
				if err := c.enqueueNormal(ctx, outboundFrame{responseID: id, binaryPayload: piece}); err != nil {
					return nil
				}
			}
		}
	}
}

// responseDrained runs on the writer goroutine once the last audio frame of id
// has been written or dropped.
func (c *Coordinator) responseDrained(id string) {
	c.speakMu.Lock()
	current := c.speakID == id
	if current {
		c.speakCancel = nil
		c.speakID = ""
	}
	c.speakMu.Unlock()
	if current && c.buffer != nil {
		c.buffer.SetSynthesizing(false)
	}
}

// interrupt cancels in-flight question audio. Queued frames for the response
// are dropped by the writer. It reports whether anything was playing.
func (c *Coordinator) interrupt(reason string) bool {
	c.speakMu.Lock()
	cancel, id := c.speakCancel, c.speakID
	c.speakCancel, c.speakID = nil, ""
	c.speakMu.Unlock()
	if id == "" {
		return false
	}

	c.cancelResponseAudio(id)
	cancel()
	if c.buffer != nil {
		c.buffer.SetSynthesizing(false)
	}
	if reason == "barge_in" {
		c.metrics.BargeIn()
		c.logger.Info("question audio interrupted", "op", "barge_in", "response_id", id)
	}
	return true
}

func (c *Coordinator) cleanup() {
	c.interrupt("disconnect")
	c.cancel()
	c.speakers.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), defaultCleanupTimeout)
	defer cancel()
	if err := c.store.Delete(ctx, c.sessionID); err != nil {
		c.logger.Warn("session cleanup failed", "op", "cleanup", "error", err)
	}
	if c.buffer != nil {
		c.buffer.Reset()
	}
}

func (c *Coordinator) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueueNormal(c.ctx, outboundFrame{textPayload: payload})
}

func (c *Coordinator) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueuePriority(outboundFrame{textPayload: payload})
}

// enqueueNormal waits for queue space. Audio for a canceled response is discarded.
func (c *Coordinator) enqueueNormal(ctx context.Context, frame outboundFrame) error {
	if frame.responseID != "" && c.isResponseCanceled(frame.responseID) {
		return nil
	}
	select {
	case c.outboundNormal <- frame:
		return nil
	case <-ctx.Done():
		return errClosed
	}
}

func (c *Coordinator) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case c.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-c.outboundPriority:
		default:
		}
	}
	select {
	case c.outboundPriority <- frame:
		return nil
	case <-c.ctx.Done():
		return errClosed
	}
}

func (c *Coordinator) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-c.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) nextResponseID() string {
	n := c.responseCount.Add(1)
	return fmt.Sprintf("q_%d", n)
}

func (c *Coordinator) cancelResponseAudio(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}

	state, ok := c.canceledAudio.Load().(canceledResponseState)
	if !ok {
		state = canceledResponseState{set: make(map[string]struct{})}
	}
	if _, exists := state.set[id]; exists {
		return
	}

	nextSet := make(map[string]struct{}, len(state.set)+1)
	for k := range state.set {
		nextSet[k] = struct{}{}
	}
	nextOrder := make([]string, 0, len(state.order)+1)
	nextOrder = append(nextOrder, state.order...)
	nextOrder = append(nextOrder, id)
	nextSet[id] = struct{}{}

	for len(nextOrder) > maxCanceledResponseIDs {
		delete(nextSet, nextOrder[0])
		nextOrder = nextOrder[1:]
	}
	c.canceledAudio.Store(canceledResponseState{set: nextSet, order: nextOrder})
}

func (c *Coordinator) isResponseCanceled(id string) bool {
	if id == "" {
		return false
	}
	state, ok := c.canceledAudio.Load().(canceledResponseState)
	if !ok || state.set == nil {
		return false
	}
	_, exists := state.set[id]
	return exists
}
