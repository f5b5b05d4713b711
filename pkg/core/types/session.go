// Package types holds the interview record types shared by the engine, the
// session store and the gateway.
package types

import (
	"encoding/json"
	"strings"
	"time"
)

// DefaultLanguage is used when neither the backend nor the client names a locale.
const DefaultLanguage = "en"

// Status is the lifecycle state of an interview.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// ParseStatus maps a backend status string onto Status. Unknown values map to PENDING.
func ParseStatus(raw string) Status {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusInProgress:
		return StatusInProgress
	case StatusCompleted:
		return StatusCompleted
	default:
		return StatusPending
	}
}

// Mode selects whether questions are also delivered as synthesized audio.
type Mode string

const (
	ModeText  Mode = "TEXT"
	ModeVoice Mode = "VOICE"
)

// ParseMode accepts "voice"/"text" in any case. The second result is false
// when raw names neither.
func ParseMode(raw string) (Mode, bool) {
	switch Mode(strings.ToUpper(strings.TrimSpace(raw))) {
	case ModeVoice:
		return ModeVoice, true
	case ModeText:
		return ModeText, true
	default:
		return ModeText, false
	}
}

// Job describes the position being interviewed for.
type Job struct {
	Title          string   `json:"title"`
	SeniorityLevel string   `json:"seniorityLevel"`
	RequiredSkills []string `json:"requiredSkills"`
	SoftSkills     []string `json:"softSkills"`
}

// Template describes the interview template selected upstream.
type Template struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	FocusAreas  []string `json:"focusAreas"`
}

// Turn is one question/answer exchange. Question is nil only for an
// answer that arrived while no question was open.
type Turn struct {
	Question          *string    `json:"question"`
	QuestionTimestamp *time.Time `json:"questionTimestamp"`
	Answer            *string    `json:"answer"`
	AnswerTimestamp   *time.Time `json:"answerTimestamp"`
}

// Open reports whether the turn carries a question still waiting for an answer.
func (t Turn) Open() bool {
	return t.Question != nil && t.Answer == nil
}

// Session is the cached working state of one interview.
type Session struct {
	SessionID           string    `json:"sessionId"`
	CandidateID         string    `json:"candidateId"`
	TemplateID          string    `json:"templateId"`
	Language            string    `json:"language"`
	Status              Status    `json:"status"`
	Mode                Mode      `json:"mode"`
	Job                 *Job      `json:"job"`
	Template            *Template `json:"template"`
	ConversationHistory []Turn    `json:"conversationHistory"`
	CurrentQuestion     *string   `json:"currentQuestion"`
	// Degraded is set when the backend could not be reached while building the session.
	Degraded bool `json:"degraded"`
}

// NewSession returns an empty PENDING text session.
func NewSession(id string) Session {
	return Session{
		SessionID:           id,
		Language:            DefaultLanguage,
		Status:              StatusPending,
		Mode:                ModeText,
		ConversationHistory: []Turn{},
	}
}

// OpenTurn returns the index of the last turn when it holds an unanswered question.
func (s Session) OpenTurn() (int, bool) {
	n := len(s.ConversationHistory)
	if n == 0 {
		return -1, false
	}
	if !s.ConversationHistory[n-1].Open() {
		return -1, false
	}
	return n - 1, true
}

// AttachAnswer records an answer on the open turn, or appends an answer-only
// turn when no question is open. History is never reordered.
func (s *Session) AttachAnswer(text string, at time.Time) {
	answer := text
	ts := at
	if idx, ok := s.OpenTurn(); ok {
		s.ConversationHistory[idx].Answer = &answer
		s.ConversationHistory[idx].AnswerTimestamp = &ts
		return
	}
	s.ConversationHistory = append(s.ConversationHistory, Turn{Answer: &answer, AnswerTimestamp: &ts})
}

// AppendQuestion starts a new turn and records it as the current question.
func (s *Session) AppendQuestion(text string, at time.Time) {
	question := text
	ts := at
	s.ConversationHistory = append(s.ConversationHistory, Turn{Question: &question, QuestionTimestamp: &ts})
	current := text
	s.CurrentQuestion = &current
}

// Clone returns a deep copy so callers can mutate without aliasing cached state.
func (s Session) Clone() Session {
	out := s
	if s.Job != nil {
		job := *s.Job
		job.RequiredSkills = append([]string(nil), s.Job.RequiredSkills...)
		job.SoftSkills = append([]string(nil), s.Job.SoftSkills...)
		out.Job = &job
	}
	if s.Template != nil {
		tpl := *s.Template
		tpl.FocusAreas = append([]string(nil), s.Template.FocusAreas...)
		out.Template = &tpl
	}
	out.ConversationHistory = make([]Turn, len(s.ConversationHistory))
	copy(out.ConversationHistory, s.ConversationHistory)
	return out
}

// UnmarshalJSON keeps ConversationHistory non-nil and fills defaults for
// records written by older producers.
func (s *Session) UnmarshalJSON(data []byte) error {
	type plain Session
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.ConversationHistory == nil {
		p.ConversationHistory = []Turn{}
	}
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if p.Mode == "" {
		p.Mode = ModeText
	}
	*s = Session(p)
	return nil
}
