package types

import (
	"encoding/json"
	"strings"
)

// Recommendation is the hiring verdict produced by an evaluation.
type Recommendation string

const (
	RecommendationReject Recommendation = "REJECT"
	RecommendationWeak   Recommendation = "WEAK"
	RecommendationMaybe  Recommendation = "MAYBE"
	RecommendationStrong Recommendation = "STRONG"
	RecommendationHire   Recommendation = "HIRE"
)

// ParseRecommendation normalizes case and maps unknown verdicts to MAYBE.
func ParseRecommendation(raw string) Recommendation {
	switch r := Recommendation(strings.ToUpper(strings.TrimSpace(raw))); r {
	case RecommendationReject, RecommendationWeak, RecommendationMaybe, RecommendationStrong, RecommendationHire:
		return r
	default:
		return RecommendationMaybe
	}
}

const (
	MinScore     = 0.0
	MaxScore     = 10.0
	NeutralScore = 5.0
)

// Evaluation is the structured end-of-interview assessment.
type Evaluation struct {
	Summary            string         `json:"summary"`
	Strengths          []string       `json:"strengths"`
	Weaknesses         []string       `json:"weaknesses"`
	Recommendation     Recommendation `json:"recommendation"`
	CommunicationScore float64        `json:"communicationScore"`
	TechnicalScore     float64        `json:"technicalScore"`
	ClarityScore       float64        `json:"clarityScore"`
}

// FallbackEvaluation is returned when the model output cannot be parsed.
func FallbackEvaluation(raw string) Evaluation {
	return Evaluation{
		Summary:            raw,
		Strengths:          []string{},
		Weaknesses:         []string{},
		Recommendation:     RecommendationMaybe,
		CommunicationScore: NeutralScore,
		TechnicalScore:     NeutralScore,
		ClarityScore:       NeutralScore,
	}
}

// UnmarshalJSON accepts a summary given as a list of lines, normalizes the
// recommendation and clamps scores into [0,10].
func (e *Evaluation) UnmarshalJSON(data []byte) error {
	var wire struct {
		Summary            json.RawMessage `json:"summary"`
		Strengths          []string        `json:"strengths"`
		Weaknesses         []string        `json:"weaknesses"`
		Recommendation     string          `json:"recommendation"`
		CommunicationScore *float64        `json:"communicationScore"`
		TechnicalScore     *float64        `json:"technicalScore"`
		ClarityScore       *float64        `json:"clarityScore"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	summary, err := decodeSummary(wire.Summary)
	if err != nil {
		return err
	}

	out := Evaluation{
		Summary:            summary,
		Strengths:          wire.Strengths,
		Weaknesses:         wire.Weaknesses,
		Recommendation:     ParseRecommendation(wire.Recommendation),
		CommunicationScore: clampScore(wire.CommunicationScore),
		TechnicalScore:     clampScore(wire.TechnicalScore),
		ClarityScore:       clampScore(wire.ClarityScore),
	}
	if out.Strengths == nil {
		out.Strengths = []string{}
	}
	if out.Weaknesses == nil {
		out.Weaknesses = []string{}
	}
	*e = out
	return nil
}

func decodeSummary(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func clampScore(v *float64) float64 {
	if v == nil {
		return NeutralScore
	}
	switch {
	case *v < MinScore:
		return MinScore
	case *v > MaxScore:
		return MaxScore
	default:
		return *v
	}
}
