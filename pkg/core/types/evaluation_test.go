package types

import (
	"encoding/json"
	"testing"
)

func TestEvaluation_UnmarshalNormalizes(t *testing.T) {
	raw := `{
		"summary": ["Solid fundamentals.", "Needs depth on distributed systems."],
		"strengths": ["Go"],
		"recommendation": "strong",
		"communicationScore": 12,
		"technicalScore": -1,
		"clarityScore": 7.5
	}`
	var e Evaluation
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Summary != "Solid fundamentals.\nNeeds depth on distributed systems." {
		t.Fatalf("summary=%q", e.Summary)
	}
	if e.Recommendation != RecommendationStrong {
		t.Fatalf("recommendation=%q, want STRONG", e.Recommendation)
	}
	if e.CommunicationScore != 10 || e.TechnicalScore != 0 || e.ClarityScore != 7.5 {
		t.Fatalf("scores=%v/%v/%v", e.CommunicationScore, e.TechnicalScore, e.ClarityScore)
	}
	if e.Weaknesses == nil {
		t.Fatalf("weaknesses should be empty, not nil")
	}
}

func TestEvaluation_UnknownRecommendationIsMaybe(t *testing.T) {
	var e Evaluation
	if err := json.Unmarshal([]byte(`{"recommendation":"definitely"}`), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Recommendation != RecommendationMaybe {
		t.Fatalf("recommendation=%q, want MAYBE", e.Recommendation)
	}
	if e.TechnicalScore != NeutralScore {
		t.Fatalf("missing score=%v, want %v", e.TechnicalScore, NeutralScore)
	}
}

func TestFallbackEvaluation(t *testing.T) {
	e := FallbackEvaluation("not json")
	if e.Summary != "not json" || e.Recommendation != RecommendationMaybe {
		t.Fatalf("fallback=%+v", e)
	}
	if e.CommunicationScore != 5 || e.TechnicalScore != 5 || e.ClarityScore != 5 {
		t.Fatalf("fallback scores=%+v", e)
	}
	if len(e.Strengths) != 0 || len(e.Weaknesses) != 0 {
		t.Fatalf("fallback lists not empty: %+v", e)
	}
}
