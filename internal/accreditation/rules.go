package accreditation

import (
	"context"
	"fmt"
	"time"

	"ebslms/internal/db"

	"github.com/google/uuid"
)

const (
	DefaultMinScore    = 80.00
	DefaultMaxAttempts = 3
)

type Rule struct {
	ID                 uuid.UUID  `json:"id"`
	CourseID           uuid.UUID  `json:"curso_id"`
	QuizID             *uuid.UUID `json:"quiz_id,omitempty"`
	ExamID             *uuid.UUID `json:"examen_final_id,omitempty"`
	MinScore           float64    `json:"min_score_aprobatorio"`
	MaxAttempts        int        `json:"max_intentos_quiz"`
	BlocksCourseOnFail bool       `json:"bloquea_curso_por_reprobacion_quiz"`
	Active             bool       `json:"activa"`
	CreatedAt          time.Time  `json:"creado_en"`
}

// CourseWide reports whether the rule targets the whole course rather than one quiz or exam.
func (r Rule) CourseWide() bool {
	return r.QuizID == nil && r.ExamID == nil
}

// Policy is the effective pass threshold and attempt budget for one quiz or exam.
type Policy struct {
	RuleID             *uuid.UUID `json:"regla_id,omitempty"`
	MinScore           float64    `json:"min_score_aprobatorio"`
	MaxAttempts        int        `json:"max_intentos_quiz"`
	BlocksCourseOnFail bool       `json:"bloquea_curso_por_reprobacion_quiz"`
}

func DefaultPolicy() Policy {
	return Policy{MinScore: DefaultMinScore, MaxAttempts: DefaultMaxAttempts, BlocksCourseOnFail: true}
}

// Pick selects the governing rule among a course's active rules: a rule
// scoped to the given quiz or exam wins over the course-wide one.
func Pick(rules []Rule, quizID, examID *uuid.UUID) Policy {
	var specific, wide *Rule
	for i := range rules {
		r := &rules[i]
		if !r.Active {
			continue
		}
		switch {
		case quizID != nil && r.QuizID != nil && *r.QuizID == *quizID:
			if specific == nil {
				specific = r
			}
		case examID != nil && r.ExamID != nil && *r.ExamID == *examID:
			if specific == nil {
				specific = r
			}
		case r.CourseWide():
			if wide == nil {
				wide = r
			}
		}
	}
	chosen := specific
	if chosen == nil {
		chosen = wide
	}
	if chosen == nil {
		return DefaultPolicy()
	}
	id := chosen.ID
	return Policy{
		RuleID:             &id,
		MinScore:           chosen.MinScore,
		MaxAttempts:        chosen.MaxAttempts,
		BlocksCourseOnFail: chosen.BlocksCourseOnFail,
	}
}

// Resolve loads the active candidate rules for a course and picks the governing one.
func Resolve(ctx context.Context, q db.Querier, courseID uuid.UUID, quizID, examID *uuid.UUID) (Policy, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, curso_id, quiz_id, examen_final_id, min_score_aprobatorio,
		       max_intentos_quiz, bloquea_curso_por_reprobacion_quiz, activa, creado_en
		FROM regla_acreditacion
		WHERE curso_id = $1
		  AND activa = TRUE
		  AND (
		        (quiz_id IS NULL AND examen_final_id IS NULL)
		     OR ($2::uuid IS NOT NULL AND quiz_id = $2::uuid)
		     OR ($3::uuid IS NOT NULL AND examen_final_id = $3::uuid)
		  )
		ORDER BY creado_en DESC
	`, courseID, quizID, examID)
	if err != nil {
		return Policy{}, fmt.Errorf("query accreditation rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return Policy{}, err
		}
		rules = append(rules, *r)
	}
	if err := rows.Err(); err != nil {
		return Policy{}, fmt.Errorf("iterate accreditation rules: %w", err)
	}
	return Pick(rules, quizID, examID), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r      Rule
		quizID uuid.NullUUID
		examID uuid.NullUUID
	)
	if err := row.Scan(&r.ID, &r.CourseID, &quizID, &examID, &r.MinScore,
		&r.MaxAttempts, &r.BlocksCourseOnFail, &r.Active, &r.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan accreditation rule: %w", err)
	}
	if quizID.Valid {
		r.QuizID = &quizID.UUID
	}
	if examID.Valid {
		r.ExamID = &examID.UUID
	}
	return &r, nil
}
