package attempt

import (
	"context"
	"database/sql"
	"fmt"

	"ebslms/internal/db"
	"ebslms/internal/question"

	"github.com/google/uuid"
)

// evaluableRow is one row of the respuesta_evaluable view.
type evaluableRow struct {
	AttemptQuestionID uuid.UUID
	QuestionID        uuid.UUID
	MaxPoints         int
	Order             sql.NullInt32
	Type              question.Type
	ModelAnswer       sql.NullString
	MultiSelect       bool
	MinSelections     sql.NullInt32
	MaxSelections     sql.NullInt32
	TrueFalseAnswer   sql.NullBool
	PenalizesError    bool
	PointsPerOption   sql.NullInt32

	AnswerID      uuid.NullUUID
	TextAnswer    sql.NullString
	OptionID      uuid.NullUUID
	OptionCorrect sql.NullBool
	BoolAnswer    sql.NullBool
}

type grade struct {
	Answers      []AnswerEvaluation
	Earned       float64
	Total        float64
	CorrectCount int
}

func loadEvaluable(ctx context.Context, q db.Querier, attemptID uuid.UUID) ([]evaluableRow, map[uuid.UUID][]uuid.UUID, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT intento_pregunta_id, pregunta_id, puntos_maximos, orden, tipo,
		       abierta_modelo_respuesta, om_seleccion_multiple, om_min_selecciones, om_max_selecciones,
		       vf_respuesta_correcta, penaliza_error, puntos_por_opcion,
		       respuesta_id, respuesta_texto, opcion_id, opcion_correcta, respuesta_bool
		FROM respuesta_evaluable
		WHERE intento_id = $1
		ORDER BY orden NULLS LAST, intento_pregunta_id
	`, attemptID)
	if err != nil {
		return nil, nil, fmt.Errorf("query respuesta_evaluable: %w", err)
	}
	defer rows.Close()

	var out []evaluableRow
	for rows.Next() {
		var r evaluableRow
		if err := rows.Scan(&r.AttemptQuestionID, &r.QuestionID, &r.MaxPoints, &r.Order, &r.Type,
			&r.ModelAnswer, &r.MultiSelect, &r.MinSelections, &r.MaxSelections,
			&r.TrueFalseAnswer, &r.PenalizesError, &r.PointsPerOption,
			&r.AnswerID, &r.TextAnswer, &r.OptionID, &r.OptionCorrect, &r.BoolAnswer); err != nil {
			return nil, nil, fmt.Errorf("scan respuesta_evaluable: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate respuesta_evaluable: %w", err)
	}

	correct := map[uuid.UUID][]uuid.UUID{}
	optRows, err := q.QueryContext(ctx, `
		SELECT o.pregunta_id, o.id
		FROM opcion o
		JOIN intento_pregunta ip ON ip.pregunta_id = o.pregunta_id
		WHERE ip.intento_id = $1 AND o.es_correcta = TRUE
	`, attemptID)
	if err != nil {
		return nil, nil, fmt.Errorf("query correct options: %w", err)
	}
	defer optRows.Close()
	for optRows.Next() {
		var questionID, optionID uuid.UUID
		if err := optRows.Scan(&questionID, &optionID); err != nil {
			return nil, nil, fmt.Errorf("scan correct option: %w", err)
		}
		correct[questionID] = append(correct[questionID], optionID)
	}
	return out, correct, optRows.Err()
}

// gradeRows folds the view rows (one per answer, or one per unanswered
// question) into per-question scores and totals.
func gradeRows(rows []evaluableRow, correct map[uuid.UUID][]uuid.UUID) grade {
	type pending struct {
		questionID uuid.UUID
		in         ScoreInput
	}
	var order []uuid.UUID
	byAQ := map[uuid.UUID]*pending{}

	for _, r := range rows {
		p, ok := byAQ[r.AttemptQuestionID]
		if !ok {
			p = &pending{questionID: r.QuestionID, in: ScoreInput{
				Type:            r.Type,
				MaxPoints:       float64(r.MaxPoints),
				MultiSelect:     r.MultiSelect,
				PenalizesError:  r.PenalizesError,
				MinSelections:   nullIntPtr(r.MinSelections),
				MaxSelections:   nullIntPtr(r.MaxSelections),
				PointsPerOption: nullIntPtr(r.PointsPerOption),
				CorrectOptions:  correct[r.QuestionID],
			}}
			if r.ModelAnswer.Valid {
				s := r.ModelAnswer.String
				p.in.ModelAnswer = &s
			}
			if r.TrueFalseAnswer.Valid {
				b := r.TrueFalseAnswer.Bool
				p.in.TrueFalseAnswer = &b
			}
			byAQ[r.AttemptQuestionID] = p
			order = append(order, r.AttemptQuestionID)
		}
		if !r.AnswerID.Valid {
			continue
		}
		if r.TextAnswer.Valid && p.in.TextAnswer == nil {
			s := r.TextAnswer.String
			p.in.TextAnswer = &s
		}
		if r.BoolAnswer.Valid && p.in.BoolAnswer == nil {
			b := r.BoolAnswer.Bool
			p.in.BoolAnswer = &b
		}
		if r.OptionID.Valid {
			p.in.Selected = append(p.in.Selected, SelectedOption{ID: r.OptionID.UUID, Correct: r.OptionCorrect.Valid && r.OptionCorrect.Bool})
		}
	}

	g := grade{Answers: make([]AnswerEvaluation, 0, len(order))}
	for _, aq := range order {
		p := byAQ[aq]
		res := ScoreQuestion(p.in)
		g.Answers = append(g.Answers, AnswerEvaluation{QuestionID: p.questionID, MaxPoints: p.in.MaxPoints, ScoreResult: res})
		g.Earned += res.Earned
		g.Total += p.in.MaxPoints
		if res.IsCorrect != nil && *res.IsCorrect {
			g.CorrectCount++
		}
	}
	g.Earned = round2(g.Earned)
	return g
}

func nullIntPtr(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}
