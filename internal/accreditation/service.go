package accreditation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ebslms/internal/apperr"
	"ebslms/internal/db"
	"ebslms/internal/platform/logger"

	"github.com/google/uuid"
)

var (
	ErrRuleNotFound      = apperr.NotFound("accreditation rule not found")
	ErrDuplicateRule     = apperr.BusinessRule("DUPLICATE_RULE", "an active rule already exists for this target")
	ErrBothTargets       = apperr.Validation("INVALID_TARGET", "a rule may target a quiz or a final exam, not both")
	ErrTargetNotInCourse = apperr.Validation("INVALID_TARGET", "quiz or final exam does not belong to the course")
)

type RuleInput struct {
	CourseID           uuid.UUID  `json:"curso_id" validate:"required"`
	QuizID             *uuid.UUID `json:"quiz_id"`
	ExamID             *uuid.UUID `json:"examen_final_id"`
	MinScore           *float64   `json:"min_score_aprobatorio" validate:"omitempty,min=0,max=100"`
	MaxAttempts        *int       `json:"max_intentos_quiz" validate:"omitempty,min=1"`
	BlocksCourseOnFail *bool      `json:"bloquea_curso_por_reprobacion_quiz"`
	Active             *bool      `json:"activa"`
}

type Service struct {
	db  *sql.DB
	log *logger.Logger
}

func NewService(conn *sql.DB, log *logger.Logger) *Service {
	return &Service{db: conn, log: log.With("service", "AccreditationService")}
}

const selectRule = `
	SELECT id, curso_id, quiz_id, examen_final_id, min_score_aprobatorio,
	       max_intentos_quiz, bloquea_curso_por_reprobacion_quiz, activa, creado_en
	FROM regla_acreditacion
`

func (s *Service) List(ctx context.Context, courseID *uuid.UUID) ([]Rule, error) {
	q := selectRule
	var args []any
	if courseID != nil {
		q += ` WHERE curso_id = $1`
		args = append(args, *courseID)
	}
	q += ` ORDER BY creado_en DESC`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list accreditation rules: %w", err)
	}
	defer rows.Close()
	out := make([]Rule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Rule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, selectRule+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return r, err
}

func (s *Service) Create(ctx context.Context, in RuleInput) (*Rule, error) {
	r := Rule{
		CourseID:           in.CourseID,
		QuizID:             in.QuizID,
		ExamID:             in.ExamID,
		MinScore:           DefaultMinScore,
		MaxAttempts:        DefaultMaxAttempts,
		BlocksCourseOnFail: true,
		Active:             true,
	}
	applyInput(&r, in)

	var id uuid.UUID
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.checkTarget(ctx, tx, r, uuid.Nil); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO regla_acreditacion (
				curso_id, quiz_id, examen_final_id, min_score_aprobatorio,
				max_intentos_quiz, bloquea_curso_por_reprobacion_quiz, activa
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, r.CourseID, r.QuizID, r.ExamID, r.MinScore, r.MaxAttempts, r.BlocksCourseOnFail, r.Active).Scan(&id)
	})
	if err != nil {
		return nil, mapWriteErr(err)
	}
	s.log.Info("accreditation rule created", "rule_id", id, "course_id", r.CourseID)
	return s.Get(ctx, id)
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in RuleInput) (*Rule, error) {
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		cur, err := scanRule(tx.QueryRowContext(ctx, selectRule+` WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRuleNotFound
		}
		if err != nil {
			return err
		}
		if in.CourseID != uuid.Nil {
			cur.CourseID = in.CourseID
		}
		cur.QuizID, cur.ExamID = in.QuizID, in.ExamID
		applyInput(cur, in)
		if err := s.checkTarget(ctx, tx, *cur, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE regla_acreditacion
			SET curso_id = $2, quiz_id = $3, examen_final_id = $4, min_score_aprobatorio = $5,
			    max_intentos_quiz = $6, bloquea_curso_por_reprobacion_quiz = $7, activa = $8
			WHERE id = $1
		`, id, cur.CourseID, cur.QuizID, cur.ExamID, cur.MinScore, cur.MaxAttempts, cur.BlocksCourseOnFail, cur.Active)
		return err
	})
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM regla_acreditacion WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete accreditation rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	s.log.Info("accreditation rule deleted", "rule_id", id)
	return nil
}

func applyInput(r *Rule, in RuleInput) {
	if in.MinScore != nil {
		r.MinScore = *in.MinScore
	}
	if in.MaxAttempts != nil {
		r.MaxAttempts = *in.MaxAttempts
	}
	if in.BlocksCourseOnFail != nil {
		r.BlocksCourseOnFail = *in.BlocksCourseOnFail
	}
	if in.Active != nil {
		r.Active = *in.Active
	}
}

// checkTarget validates that the quiz or exam belongs to the course and that
// no other active rule already governs the same target.
func (s *Service) checkTarget(ctx context.Context, tx *sql.Tx, r Rule, selfID uuid.UUID) error {
	if r.QuizID != nil && r.ExamID != nil {
		return ErrBothTargets
	}
	if r.MinScore < 0 || r.MinScore > 100 {
		return apperr.Validation("", "min_score_aprobatorio must be between 0 and 100")
	}
	if r.MaxAttempts < 1 {
		return apperr.Validation("", "max_intentos_quiz must be at least 1")
	}

	var belongs bool
	var err error
	switch {
	case r.QuizID != nil:
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM quiz q
				JOIN leccion l ON l.id = q.leccion_id
				JOIN modulo_curso mc ON mc.modulo_id = l.modulo_id
				WHERE q.id = $1 AND mc.curso_id = $2
			)
		`, *r.QuizID, r.CourseID).Scan(&belongs)
	case r.ExamID != nil:
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM examen_final WHERE id = $1 AND curso_id = $2)
		`, *r.ExamID, r.CourseID).Scan(&belongs)
	default:
		err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM curso WHERE id = $1)`, r.CourseID).Scan(&belongs)
		if err == nil && !belongs {
			return apperr.NotFound("course not found")
		}
	}
	if err != nil {
		return fmt.Errorf("check rule target: %w", err)
	}
	if !belongs {
		return ErrTargetNotInCourse
	}

	if !r.Active {
		return nil
	}
	var dup bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM regla_acreditacion
			WHERE curso_id = $1
			  AND activa = TRUE
			  AND quiz_id IS NOT DISTINCT FROM $2::uuid
			  AND examen_final_id IS NOT DISTINCT FROM $3::uuid
			  AND id <> $4
		)
	`, r.CourseID, r.QuizID, r.ExamID, selfID).Scan(&dup)
	if err != nil {
		return fmt.Errorf("check duplicate rule: %w", err)
	}
	if dup {
		return ErrDuplicateRule
	}
	return nil
}

func mapWriteErr(err error) error {
	if db.IsCheckViolation(err) {
		return apperr.Wrap(apperr.KindValidation, "", "accreditation rule violates a constraint", err)
	}
	if db.IsForeignKeyViolation(err) {
		return apperr.Wrap(apperr.KindValidation, "INVALID_TARGET", "referenced course, quiz or exam does not exist", err)
	}
	return err
}
