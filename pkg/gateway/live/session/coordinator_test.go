package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-interview/pkg/core/conversation"
	"github.com/vango-go/vai-interview/pkg/core/llm"
	"github.com/vango-go/vai-interview/pkg/core/types"
	"github.com/vango-go/vai-interview/pkg/core/voice"
	"github.com/vango-go/vai-interview/pkg/core/voice/stt"
	"github.com/vango-go/vai-interview/pkg/core/voice/tts"
	"github.com/vango-go/vai-interview/pkg/gateway/store"
)

type inboundMsg struct {
	messageType int
	data        []byte
}

type fakeConn struct {
	inbound   chan inboundMsg
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	writes  []recordedWrite
	written chan recordedWrite

	// binaryDelay slows every audio write, like a congested client link.
	binaryDelay time.Duration
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan inboundMsg, 16),
		closed:  make(chan struct{}),
		written: make(chan recordedWrite, 1024),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.inbound:
		return msg.messageType, msg.data, nil
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (c *fakeConn) SetReadLimit(int64)                {}
func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}
func (c *fakeConn) SetWriteDeadline(time.Time) error  { return nil }

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType == websocket.BinaryMessage && c.binaryDelay > 0 {
		time.Sleep(c.binaryDelay)
	}
	w := recordedWrite{messageType: messageType, data: string(data)}
	c.mu.Lock()
	c.writes = append(c.writes, w)
	c.mu.Unlock()
	select {
	case c.written <- w:
	default:
	}
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sendText(t *testing.T, v string) {
	t.Helper()
	c.inbound <- inboundMsg{messageType: websocket.TextMessage, data: []byte(v)}
}

func (c *fakeConn) sendBinary(data []byte) {
	c.inbound <- inboundMsg{messageType: websocket.BinaryMessage, data: data}
}

func (c *fakeConn) binaryWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.writes {
		if w.messageType == websocket.BinaryMessage {
			n++
		}
	}
	return n
}

type serverFrame struct {
	Type    string           `json:"type"`
	Text    string           `json:"text"`
	Message string           `json:"message"`
	Data    types.Evaluation `json:"data"`
}

// nextFrame returns the next text frame of the given type, skipping others.
func (c *fakeConn) nextFrame(t *testing.T, typ string) serverFrame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case w := <-c.written:
			if w.messageType != websocket.TextMessage {
				continue
			}
			var f serverFrame
			if err := json.Unmarshal([]byte(w.data), &f); err != nil {
				t.Fatalf("decode frame %q: %v", w.data, err)
			}
			if f.Type == typ {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q frame", typ)
		}
	}
}

type scriptedLLM struct {
	calls atomic.Int32
	fn    func(n int, messages []llm.Message) (string, error)
}

func (p *scriptedLLM) Name() string { return "scripted" }

func (p *scriptedLLM) Generate(_ context.Context, messages []llm.Message) (string, error) {
	n := int(p.calls.Add(1))
	return p.fn(n, messages)
}

type sessionFetcher struct {
	sess types.Session
}

func (f sessionFetcher) FetchSession(_ context.Context, id string) (types.Session, error) {
	out := f.sess.Clone()
	out.SessionID = id
	return out, nil
}

type countingPusher struct {
	calls atomic.Int32
	err   error
}

func (p *countingPusher) PushStatus(context.Context, string, types.Status) error {
	p.calls.Add(1)
	return p.err
}

type countingArchive struct {
	calls atomic.Int32
}

func (a *countingArchive) SaveEvaluation(context.Context, types.Session, types.Evaluation) (string, error) {
	a.calls.Add(1)
	return "01HZX", nil
}

type countingMetrics struct {
	noopMetrics
	bargeIns atomic.Int32
	turns    atomic.Int32
	dropped  atomic.Int32
}

func (m *countingMetrics) BargeIn()             { m.bargeIns.Add(1) }
func (m *countingMetrics) TurnCommitted(string) { m.turns.Add(1) }
func (m *countingMetrics) AudioDropped(string)  { m.dropped.Add(1) }

// speechDetector treats fragments starting with 0xFF as speech.
type speechDetector struct{}

func (speechDetector) DetectSpeech(_ context.Context, pcm []byte) (bool, error) {
	return len(pcm) > 0 && pcm[0] == 0xFF, nil
}

type fixedTranscriber struct{ text string }

func (fixedTranscriber) Name() string { return "fixed" }

func (f fixedTranscriber) Transcribe(context.Context, []byte, stt.TranscribeOptions) (*stt.Transcript, error) {
	return &stt.Transcript{Text: f.text}, nil
}

// endlessSynth streams small PCM chunks until the consumer stops it.
type endlessSynth struct {
	streams atomic.Int32
}

func (*endlessSynth) Name() string { return "endless" }

func (s *endlessSynth) SynthesizeStream(ctx context.Context, _ string, _ tts.SynthesizeOptions) (*tts.SynthesisStream, error) {
	s.streams.Add(1)
	stream := tts.NewSynthesisStream()
	go func() {
		defer stream.FinishSending()
		for ctx.Err() == nil {
			if !stream.Send(make([]byte, 64)) {
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()
	return stream, nil
}

// burstSynth delivers all of its audio at once and finishes, so playback
// outlasts synthesis.
type burstSynth struct {
	chunks int
	size   int
}

func (burstSynth) Name() string { return "burst" }

func (s burstSynth) SynthesizeStream(context.Context, string, tts.SynthesizeOptions) (*tts.SynthesisStream, error) {
	stream := tts.NewSynthesisStream()
	go func() {
		defer stream.FinishSending()
		for i := 0; i < s.chunks; i++ {
			if !stream.Send(make([]byte, s.size)) {
				return
			}
		}
	}()
	return stream, nil
}

type harness struct {
	conn    *fakeConn
	llm     *scriptedLLM
	cache   *store.MemoryCache
	store   *store.Store
	pusher  *countingPusher
	archive *countingArchive
	metrics *countingMetrics
	done    chan error
}

func pendingSession() types.Session {
	s := types.NewSession("")
	s.Job = &types.Job{Title: "Backend Engineer", SeniorityLevel: "SENIOR", RequiredSkills: []string{"Go"}}
	return s
}

func startCoordinator(t *testing.T, sess types.Session, fn func(int, []llm.Message) (string, error), opts ...func(*Dependencies)) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		conn:    newFakeConn(),
		llm:     &scriptedLLM{fn: fn},
		cache:   store.NewMemoryCache(),
		pusher:  &countingPusher{},
		archive: &countingArchive{},
		metrics: &countingMetrics{},
		done:    make(chan error, 1),
	}
	h.store = store.New(store.Config{Cache: h.cache, Fetcher: sessionFetcher{sess: sess}, TTL: time.Hour, Logger: logger})

	deps := Dependencies{
		Conn:      h.conn,
		Logger:    logger,
		Engine:    conversation.New(conversation.Config{Provider: h.llm, Timeout: time.Second, Logger: logger}),
		Store:     h.store,
		Upstream:  h.pusher,
		Archive:   h.archive,
		Metrics:   h.metrics,
		SessionID: "sess-1",
		ConnID:    "conn-1",
		Config: Config{
			PingInterval: time.Hour,
			WriteTimeout: time.Second,
		},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	c, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go func() { h.done <- c.Run() }()
	t.Cleanup(func() {
		_ = h.conn.Close()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Errorf("coordinator did not stop")
		}
	})
	return h
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	_ = h.conn.Close()
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		h.done <- nil
	case <-time.After(2 * time.Second):
		t.Fatalf("coordinator did not stop")
	}
}

func questions(qs ...string) func(int, []llm.Message) (string, error) {
	return func(n int, _ []llm.Message) (string, error) {
		if n <= len(qs) {
			return qs[n-1], nil
		}
		return qs[len(qs)-1], nil
	}
}

func TestCoordinator_AnswerAttachesToOpenTurnAndAsksNext(t *testing.T) {
	h := startCoordinator(t, pendingSession(), questions("Hi, introduce yourself.", "What did you ship last?"))

	if f := h.conn.nextFrame(t, "question"); f.Text != "Hi, introduce yourself." {
		t.Fatalf("first question=%q", f.Text)
	}
	h.conn.sendText(t, `{"type":"answer","text":"  I build payment systems.  "}`)
	if f := h.conn.nextFrame(t, "question"); f.Text != "What did you ship last?" {
		t.Fatalf("second question=%q", f.Text)
	}

	sess := h.store.Get(t.Context(), "sess-1")
	if sess.Status != types.StatusInProgress {
		t.Fatalf("status=%q, want IN_PROGRESS", sess.Status)
	}
	hist := sess.ConversationHistory
	if len(hist) != 2 {
		t.Fatalf("history len=%d, want 2", len(hist))
	}
	if *hist[0].Question != "Hi, introduce yourself." || hist[0].Answer == nil || *hist[0].Answer != "I build payment systems." {
		t.Fatalf("turn0=%+v", hist[0])
	}
	if !hist[1].Open() || *hist[1].Question != "What did you ship last?" {
		t.Fatalf("turn1=%+v", hist[1])
	}
	if got := h.metrics.turns.Load(); got != 1 {
		t.Fatalf("turns=%d, want 1", got)
	}
}

func TestCoordinator_ReconnectReemitsOpenQuestion(t *testing.T) {
	sess := pendingSession()
	sess.Status = types.StatusInProgress
	sess.AppendQuestion("Where were we?", time.Now())

	h := startCoordinator(t, sess, questions("unused"))
	if f := h.conn.nextFrame(t, "question"); f.Text != "Where were we?" {
		t.Fatalf("question=%q", f.Text)
	}
	if n := h.llm.calls.Load(); n != 0 {
		t.Fatalf("llm calls=%d, want 0", n)
	}
}

func TestCoordinator_EndInterviewPushesStatusOnce(t *testing.T) {
	const evalJSON = "```json\n{\"summary\":[\"solid\"],\"strengths\":[\"go\"],\"weaknesses\":[],\"recommendation\":\"strong\",\"communicationScore\":8,\"technicalScore\":7,\"clarityScore\":9}\n```"
	h := startCoordinator(t, pendingSession(), func(n int, messages []llm.Message) (string, error) {
		if strings.HasPrefix(messages[len(messages)-1].Content, "Evaluate this interview") {
			return evalJSON, nil
		}
		return "Question?", nil
	})

	h.conn.nextFrame(t, "question")
	h.conn.sendText(t, `{"type":"end_interview"}`)
	first := h.conn.nextFrame(t, "evaluation")
	if first.Data.Recommendation != types.RecommendationStrong || first.Data.TechnicalScore != 7 {
		t.Fatalf("evaluation=%+v", first.Data)
	}

	h.conn.sendText(t, `{"type":"end_interview"}`)
	second := h.conn.nextFrame(t, "evaluation")
	if second.Data.Recommendation != first.Data.Recommendation {
		t.Fatalf("repeat evaluation=%+v", second.Data)
	}

	h.conn.sendText(t, `{"type":"answer","text":"one more thing"}`)
	if f := h.conn.nextFrame(t, "error"); !strings.Contains(f.Message, "completed") {
		t.Fatalf("error=%q", f.Message)
	}

	if n := h.pusher.calls.Load(); n != 1 {
		t.Fatalf("status pushes=%d, want 1", n)
	}
	if n := h.archive.calls.Load(); n != 1 {
		t.Fatalf("archive saves=%d, want 1", n)
	}
	if got := h.store.Get(t.Context(), "sess-1").Status; got != types.StatusCompleted {
		t.Fatalf("status=%q, want COMPLETED", got)
	}
}

func TestCoordinator_StatusPushFailureStillDeliversEvaluation(t *testing.T) {
	h := startCoordinator(t, pendingSession(), questions("Question?", "not json"), func(d *Dependencies) {
		d.Upstream.(*countingPusher).err = errors.New("backend down")
	})

	h.conn.nextFrame(t, "question")
	h.conn.sendText(t, `{"type":"end_interview"}`)
	f := h.conn.nextFrame(t, "evaluation")
	if f.Data.Recommendation != types.RecommendationMaybe || f.Data.Summary != "not json" {
		t.Fatalf("evaluation=%+v", f.Data)
	}
	if n := h.pusher.calls.Load(); n != 1 {
		t.Fatalf("status pushes=%d, want 1", n)
	}
}

func TestCoordinator_MalformedFrameKeepsConnection(t *testing.T) {
	h := startCoordinator(t, pendingSession(), questions("First?", "Second?"))

	h.conn.nextFrame(t, "question")
	h.conn.sendText(t, `{not json`)
	h.conn.nextFrame(t, "error")
	h.conn.sendText(t, `{"type":"dance"}`)
	h.conn.nextFrame(t, "error")
	h.conn.sendText(t, `{"type":"answer","text":"   "}`)
	h.conn.nextFrame(t, "error")

	h.conn.sendText(t, `{"type":"answer","text":"still here"}`)
	if f := h.conn.nextFrame(t, "question"); f.Text != "Second?" {
		t.Fatalf("question=%q", f.Text)
	}
}

func TestCoordinator_CompletionSentinelSendsClosingStatement(t *testing.T) {
	h := startCoordinator(t, pendingSession(), questions("First?", "interview_complete"), func(d *Dependencies) {
		d.Config.AutoEvaluate = true
	})

	h.conn.nextFrame(t, "question")
	h.conn.sendText(t, `{"type":"answer","text":"done"}`)
	if f := h.conn.nextFrame(t, "question"); f.Text != conversation.ClosingStatement {
		t.Fatalf("question=%q", f.Text)
	}
	h.conn.nextFrame(t, "evaluation")
	if n := h.pusher.calls.Load(); n != 1 {
		t.Fatalf("status pushes=%d, want 1", n)
	}
}

func TestCoordinator_DisconnectDeletesCachedSession(t *testing.T) {
	h := startCoordinator(t, pendingSession(), questions("First?"))
	h.conn.nextFrame(t, "question")
	if h.cache.Len() != 1 {
		t.Fatalf("cache len=%d, want 1", h.cache.Len())
	}
	h.stop(t)
	if h.cache.Len() != 0 {
		t.Fatalf("cache len=%d after disconnect, want 0", h.cache.Len())
	}
}

func TestCoordinator_AudioWithoutVoiceInputWarnsOnce(t *testing.T) {
	h := startCoordinator(t, pendingSession(), questions("First?", "Second?"))
	h.conn.nextFrame(t, "question")

	h.conn.sendBinary([]byte{0xFF, 0x00})
	h.conn.sendBinary([]byte{0xFF, 0x00})
	h.conn.nextFrame(t, "error")
	h.conn.sendText(t, `{"type":"answer","text":"typed"}`)
	h.conn.nextFrame(t, "question")

	h.conn.mu.Lock()
	defer h.conn.mu.Unlock()
	errorsSeen := 0
	for _, w := range h.conn.writes {
		if strings.Contains(w.data, `"type":"error"`) {
			errorsSeen++
		}
	}
	if errorsSeen != 1 {
		t.Fatalf("error frames=%d, want 1", errorsSeen)
	}
	if n := h.metrics.dropped.Load(); n != 2 {
		t.Fatalf("dropped=%d, want 2", n)
	}
}

func TestCoordinator_VoiceAnswerCommitsTurn(t *testing.T) {
	sess := pendingSession()
	h := startCoordinator(t, sess, questions("First?", "Second?"), func(d *Dependencies) {
		d.Voice = &voice.Capabilities{VAD: speechDetector{}, STT: fixedTranscriber{text: " spoken answer "}}
	})
	h.conn.nextFrame(t, "question")

	h.conn.sendBinary([]byte{0xFF, 0x01, 0x02, 0x03})
	if f := h.conn.nextFrame(t, "question"); f.Text != "Second?" {
		t.Fatalf("question=%q", f.Text)
	}
	hist := h.store.Get(t.Context(), "sess-1").ConversationHistory
	if hist[0].Answer == nil || *hist[0].Answer != "spoken answer" {
		t.Fatalf("turn0=%+v", hist[0])
	}
}

func TestCoordinator_BargeInStopsQuestionAudio(t *testing.T) {
	sess := pendingSession()
	sess.Mode = types.ModeVoice
	synth := &endlessSynth{}
	h := startCoordinator(t, sess, questions("Tell me about yourself."), func(d *Dependencies) {
		d.Voice = &voice.Capabilities{VAD: speechDetector{}, STT: fixedTranscriber{}, TTS: synth}
		d.Config.SilenceCommit = time.Hour
		d.Config.MaxUtterance = time.Hour
	})

	h.conn.nextFrame(t, "question")
	deadline := time.Now().Add(2 * time.Second)
	for h.conn.binaryWrites() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("question audio never streamed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.conn.sendBinary([]byte{0xFF, 0x00, 0x01, 0x00})
	for h.metrics.bargeIns.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("barge-in not detected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(20 * time.Millisecond)
	before := h.conn.binaryWrites()
	time.Sleep(100 * time.Millisecond)
	if after := h.conn.binaryWrites(); after != before {
		t.Fatalf("audio kept streaming after barge-in: %d -> %d frames", before, after)
	}
	if n := synth.streams.Load(); n != 1 {
		t.Fatalf("synthesis streams=%d, want 1", n)
	}
}

func TestCoordinator_BargeInAfterSynthesisFinishedStopsQueuedAudio(t *testing.T) {
	sess := pendingSession()
	sess.Mode = types.ModeVoice
	h := startCoordinator(t, sess, questions("Tell me about yourself."), func(d *Dependencies) {
		d.Voice = &voice.Capabilities{VAD: speechDetector{}, STT: fixedTranscriber{}, TTS: burstSynth{chunks: 60, size: 4096}}
		d.Config.SilenceCommit = time.Hour
		d.Config.MaxUtterance = time.Hour
		d.Config.AudioChunkBytes = 4096
		d.Conn.(*fakeConn).binaryDelay = 10 * time.Millisecond
	})

	h.conn.nextFrame(t, "question")
	deadline := time.Now().Add(2 * time.Second)
	for h.conn.binaryWrites() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("question audio never streamed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Synthesis is long done; most of the audio is still queued.
	h.conn.sendBinary([]byte{0xFF, 0x00, 0x01, 0x00})
	for h.metrics.bargeIns.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("barge-in not detected while queued audio was playing")
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(30 * time.Millisecond)
	before := h.conn.binaryWrites()
	time.Sleep(300 * time.Millisecond)
	if after := h.conn.binaryWrites(); after != before {
		t.Fatalf("queued audio kept streaming after barge-in: %d -> %d frames", before, after)
	}
	if before >= 60 {
		t.Fatalf("all %d frames were written before barge-in", before)
	}
}

func TestCoordinator_AutoEvaluationFollowsClosingStatement(t *testing.T) {
	sess := pendingSession()
	sess.Mode = types.ModeVoice
	h := startCoordinator(t, sess, questions("First?", "INTERVIEW_COMPLETE"), func(d *Dependencies) {
		d.Voice = &voice.Capabilities{VAD: speechDetector{}, TTS: burstSynth{chunks: 60, size: 4096}}
		d.Config.AutoEvaluate = true
		d.Config.AudioChunkBytes = 4096
		d.Conn.(*fakeConn).binaryDelay = 10 * time.Millisecond
	})

	h.conn.nextFrame(t, "question")
	deadline := time.Now().Add(2 * time.Second)
	for h.conn.binaryWrites() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("question audio never streamed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The writer is busy with audio while the closing question and the
	// evaluation are queued back to back.
	h.conn.sendText(t, `{"type":"answer","text":"done"}`)
	h.conn.nextFrame(t, "evaluation")

	h.conn.mu.Lock()
	var order []string
	for _, w := range h.conn.writes {
		if w.messageType != websocket.TextMessage {
			continue
		}
		var f serverFrame
		if err := json.Unmarshal([]byte(w.data), &f); err != nil {
			h.conn.mu.Unlock()
			t.Fatalf("decode frame %q: %v", w.data, err)
		}
		if f.Type == "evaluation" || f.Text == conversation.ClosingStatement {
			order = append(order, f.Type)
		}
	}
	h.conn.mu.Unlock()

	if len(order) != 2 || order[0] != "question" || order[1] != "evaluation" {
		t.Fatalf("frame order=%v, want [question evaluation]", order)
	}
}
