package attempt

import (
	"math"
	"strings"

	"ebslms/internal/question"

	"github.com/google/uuid"
)

type SelectedOption struct {
	ID      uuid.UUID
	Correct bool
}

// ScoreInput carries one question's configuration plus everything the
// student answered for it.
type ScoreInput struct {
	Type            question.Type
	MaxPoints       float64
	ModelAnswer     *string
	MultiSelect     bool
	MinSelections   *int
	MaxSelections   *int
	TrueFalseAnswer *bool
	PenalizesError  bool
	PointsPerOption *int
	CorrectOptions  []uuid.UUID

	TextAnswer *string
	BoolAnswer *bool
	Selected   []SelectedOption
}

type ScoreResult struct {
	Answered    bool    `json:"respondida"`
	IsCorrect   *bool   `json:"correcta,omitempty"`
	Earned      float64 `json:"puntos_obtenidos"`
	Reason      string  `json:"motivo"`
	NeedsReview bool    `json:"requiere_revision,omitempty"`
}

func ScoreQuestion(in ScoreInput) ScoreResult {
	full := in.MaxPoints
	if full < 0 {
		full = 0
	}
	switch in.Type {
	case question.TypeTrueFalse:
		return scoreTrueFalse(in, full)
	case question.TypeMultiple:
		if in.MultiSelect {
			return scoreMultiSelect(in, full)
		}
		return scoreSingleChoice(in, full)
	case question.TypeOpen:
		return scoreOpen(in, full)
	default:
		return ScoreResult{Reason: "unsupported_type"}
	}
}

func scoreTrueFalse(in ScoreInput, full float64) ScoreResult {
	if in.BoolAnswer == nil {
		return ScoreResult{Reason: "unanswered"}
	}
	if in.TrueFalseAnswer == nil {
		return ScoreResult{Answered: true, Reason: "malformed_answer_key", NeedsReview: true}
	}
	if *in.BoolAnswer == *in.TrueFalseAnswer {
		return ScoreResult{Answered: true, IsCorrect: boolPtr(true), Earned: full, Reason: "correct"}
	}
	return ScoreResult{Answered: true, IsCorrect: boolPtr(false), Reason: "wrong"}
}

func scoreSingleChoice(in ScoreInput, full float64) ScoreResult {
	selected := distinctSelected(in.Selected)
	switch len(selected) {
	case 0:
		return ScoreResult{Reason: "unanswered"}
	case 1:
		if selected[0].Correct {
			return ScoreResult{Answered: true, IsCorrect: boolPtr(true), Earned: full, Reason: "correct"}
		}
		return ScoreResult{Answered: true, IsCorrect: boolPtr(false), Reason: "wrong"}
	default:
		return ScoreResult{Answered: true, IsCorrect: boolPtr(false), Reason: "too_many_selections"}
	}
}

func scoreMultiSelect(in ScoreInput, full float64) ScoreResult {
	selected := distinctSelected(in.Selected)
	n := len(selected)
	if n == 0 {
		return ScoreResult{Reason: "unanswered"}
	}
	if (in.MinSelections != nil && n < *in.MinSelections) || (in.MaxSelections != nil && n > *in.MaxSelections) {
		return ScoreResult{Answered: true, IsCorrect: boolPtr(false), Reason: "selection_out_of_range"}
	}

	correctSet := make(map[uuid.UUID]struct{}, len(in.CorrectOptions))
	for _, id := range in.CorrectOptions {
		correctSet[id] = struct{}{}
	}
	if len(correctSet) == 0 {
		return ScoreResult{Answered: true, Reason: "malformed_answer_key", NeedsReview: true}
	}
	right, wrong := 0, 0
	for _, s := range selected {
		if _, ok := correctSet[s.ID]; ok && s.Correct {
			right++
		} else {
			wrong++
		}
	}
	exact := wrong == 0 && right == len(correctSet)

	if in.PointsPerOption == nil {
		if exact {
			return ScoreResult{Answered: true, IsCorrect: boolPtr(true), Earned: full, Reason: "correct"}
		}
		return ScoreResult{Answered: true, IsCorrect: boolPtr(false), Reason: "wrong"}
	}

	per := float64(*in.PointsPerOption)
	earned := per * float64(right)
	if in.PenalizesError {
		earned -= per * float64(wrong)
	}
	earned = clamp(earned, 0, full)
	reason := "partial"
	switch {
	case exact:
		reason = "correct"
	case earned == 0:
		reason = "wrong"
	}
	return ScoreResult{Answered: true, IsCorrect: boolPtr(exact), Earned: earned, Reason: reason}
}

func scoreOpen(in ScoreInput, full float64) ScoreResult {
	if in.TextAnswer == nil || strings.TrimSpace(*in.TextAnswer) == "" {
		return ScoreResult{Reason: "unanswered"}
	}
	if in.ModelAnswer == nil || strings.TrimSpace(*in.ModelAnswer) == "" {
		return ScoreResult{Answered: true, Reason: "needs_review", NeedsReview: true}
	}
	if normalizeText(*in.TextAnswer) == normalizeText(*in.ModelAnswer) {
		return ScoreResult{Answered: true, IsCorrect: boolPtr(true), Earned: full, Reason: "correct"}
	}
	return ScoreResult{Answered: true, IsCorrect: boolPtr(false), Reason: "wrong"}
}

// normalizeText trims, case-folds and collapses inner whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func distinctSelected(in []SelectedOption) []SelectedOption {
	seen := make(map[uuid.UUID]struct{}, len(in))
	out := make([]SelectedOption, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s.ID]; ok {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Percentage returns earned/max as a percentage rounded to two decimals; 0 when max is 0.
func Percentage(earned, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return round2(earned / total * 100)
}

const (
	ResultPassed = "APROBADO"
	ResultFailed = "NO_APROBADO"
)

func Outcome(percentage, minScore float64) string {
	if percentage >= minScore {
		return ResultPassed
	}
	return ResultFailed
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func boolPtr(v bool) *bool {
	return &v
}
