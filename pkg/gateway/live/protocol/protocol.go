package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/vai-interview/pkg/core/types"
)

const (
	TypeAnswer       = "answer"
	TypeEndInterview = "end_interview"

	TypeQuestion   = "question"
	TypeEvaluation = "evaluation"
	TypeError      = "error"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ClientAnswer is a typed candidate answer.
type ClientAnswer struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClientEndInterview asks the gateway to evaluate and complete the interview.
type ClientEndInterview struct {
	Type string `json:"type"`
}

// DecodeClientMessage decodes one inbound text frame into ClientAnswer or
// ClientEndInterview. Errors are always *DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeAnswer:
		var msg ClientAnswer
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid answer frame", "")
		}
		msg.Type = typ
		msg.Text = strings.TrimSpace(msg.Text)
		if msg.Text == "" {
			return nil, badRequest("answer.text is required", "text")
		}
		return msg, nil
	case TypeEndInterview:
		return ClientEndInterview{Type: typ}, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

// QuestionFrame carries a new question or the closing statement.
type QuestionFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func NewQuestionFrame(text string) QuestionFrame {
	return QuestionFrame{Type: TypeQuestion, Text: text}
}

// EvaluationFrame carries the final evaluation.
type EvaluationFrame struct {
	Type string           `json:"type"`
	Data types.Evaluation `json:"data"`
}

func NewEvaluationFrame(ev types.Evaluation) EvaluationFrame {
	return EvaluationFrame{Type: TypeEvaluation, Data: ev}
}

// ErrorFrame is a non-fatal, per-frame error notice.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: message}
}
