package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"

	"ebslms/internal/apperr"
	"ebslms/internal/db"
	"ebslms/internal/platform/logger"

	"github.com/google/uuid"
)

var (
	ErrQuizNotFound     = apperr.NotFound("quiz not found")
	ErrExamNotFound     = apperr.NotFound("final exam not found")
	ErrQuestionNotFound = apperr.NotFound("question not found")
	ErrLessonNotFound   = apperr.NotFound("lesson not found")
	ErrCourseNotFound   = apperr.NotFound("course not found")
)

// ViewOptions controls what a caller may see of an assessment.
type ViewOptions struct {
	RevealAnswers    bool
	IncludeDrafts    bool
	ShuffleQuestions bool
}

type Service struct {
	db      *sql.DB
	log     *logger.Logger
	shuffle func(n int, swap func(i, j int))
}

func NewService(conn *sql.DB, log *logger.Logger) *Service {
	return &Service{db: conn, log: log.With("service", "QuestionService"), shuffle: rand.Shuffle}
}

func (s *Service) GetQuiz(ctx context.Context, id uuid.UUID, opts ViewOptions) (*Quiz, error) {
	var qz Quiz
	err := s.db.QueryRowContext(ctx, `
		SELECT id, leccion_id, titulo, publicado, aleatorio, guarda_calificacion, creado_en
		FROM quiz WHERE id = $1
	`, id).Scan(&qz.ID, &qz.LessonID, &qz.Title, &qz.Published, &qz.Random, &qz.KeepsGrade, &qz.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !qz.Published && !opts.IncludeDrafts) {
		return nil, ErrQuizNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	qs, err := ListQuestions(ctx, s.db, &qz.ID, nil)
	if err != nil {
		return nil, err
	}
	qz.Questions = s.present(qs, opts, qz.Random)
	return &qz, nil
}

func (s *Service) GetExam(ctx context.Context, id uuid.UUID, opts ViewOptions) (*Exam, error) {
	return s.loadExam(ctx, `WHERE id = $1`, id, opts)
}

// GetCourseExam returns the final exam attached to a course.
func (s *Service) GetCourseExam(ctx context.Context, courseID uuid.UUID, opts ViewOptions) (*Exam, error) {
	return s.loadExam(ctx, `WHERE curso_id = $1 ORDER BY creado_en DESC LIMIT 1`, courseID, opts)
}

func (s *Service) loadExam(ctx context.Context, where string, arg uuid.UUID, opts ViewOptions) (*Exam, error) {
	var ex Exam
	err := s.db.QueryRowContext(ctx, `
		SELECT id, curso_id, titulo, publicado, aleatorio, guarda_calificacion, creado_en
		FROM examen_final `+where, arg).Scan(&ex.ID, &ex.CourseID, &ex.Title, &ex.Published, &ex.Random, &ex.KeepsGrade, &ex.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !ex.Published && !opts.IncludeDrafts) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load final exam: %w", err)
	}
	qs, err := ListQuestions(ctx, s.db, nil, &ex.ID)
	if err != nil {
		return nil, err
	}
	ex.Questions = s.present(qs, opts, ex.Random)
	return &ex, nil
}

func (s *Service) present(qs []Question, opts ViewOptions, random bool) []Question {
	if !opts.RevealAnswers {
		hideAnswers(qs)
	}
	if random && opts.ShuffleQuestions && len(qs) > 1 {
		s.shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
	}
	return qs
}

func (s *Service) CreateQuiz(ctx context.Context, in QuizInput) (*Quiz, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO quiz (leccion_id, titulo, publicado, aleatorio, guarda_calificacion)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, in.LessonID, in.Title, boolOr(in.Published, false), boolOr(in.Random, false), boolOr(in.KeepsGrade, true)).Scan(&id)
	if db.IsForeignKeyViolation(err) {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("insert quiz: %w", err)
	}
	s.log.Info("quiz created", "quiz_id", id, "lesson_id", in.LessonID)
	return s.GetQuiz(ctx, id, ViewOptions{RevealAnswers: true, IncludeDrafts: true})
}

func (s *Service) UpdateQuiz(ctx context.Context, id uuid.UUID, in QuizInput) (*Quiz, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE quiz
		SET leccion_id = $2, titulo = $3,
		    publicado = COALESCE($4, publicado),
		    aleatorio = COALESCE($5, aleatorio),
		    guarda_calificacion = COALESCE($6, guarda_calificacion)
		WHERE id = $1
	`, id, in.LessonID, in.Title, in.Published, in.Random, in.KeepsGrade)
	if db.IsForeignKeyViolation(err) {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update quiz: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrQuizNotFound
	}
	return s.GetQuiz(ctx, id, ViewOptions{RevealAnswers: true, IncludeDrafts: true})
}

func (s *Service) CreateExam(ctx context.Context, in ExamInput) (*Exam, error) {
	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO examen_final (curso_id, titulo, publicado, aleatorio, guarda_calificacion)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, in.CourseID, in.Title, boolOr(in.Published, false), boolOr(in.Random, false), boolOr(in.KeepsGrade, true)).Scan(&id)
	if db.IsForeignKeyViolation(err) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("insert final exam: %w", err)
	}
	s.log.Info("final exam created", "exam_id", id, "course_id", in.CourseID)
	return s.GetExam(ctx, id, ViewOptions{RevealAnswers: true, IncludeDrafts: true})
}

func (s *Service) UpdateExam(ctx context.Context, id uuid.UUID, in ExamInput) (*Exam, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE examen_final
		SET curso_id = $2, titulo = $3,
		    publicado = COALESCE($4, publicado),
		    aleatorio = COALESCE($5, aleatorio),
		    guarda_calificacion = COALESCE($6, guarda_calificacion)
		WHERE id = $1
	`, id, in.CourseID, in.Title, in.Published, in.Random, in.KeepsGrade)
	if db.IsForeignKeyViolation(err) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update final exam: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrExamNotFound
	}
	return s.GetExam(ctx, id, ViewOptions{RevealAnswers: true, IncludeDrafts: true})
}

func (s *Service) CreateQuestion(ctx context.Context, in QuestionInput) (*Question, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var id uuid.UUID
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO pregunta (quiz_id, examen_final_id, enunciado, puntos, orden)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, in.QuizID, in.ExamID, in.Statement, in.Points, in.Order).Scan(&id)
		if db.IsForeignKeyViolation(err) {
			return apperr.NotFound("quiz or final exam not found")
		}
		if err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
		return writeConfigAndOptions(ctx, tx, id, in)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("question created", "question_id", id, "type", in.Config.Type)
	return s.GetQuestion(ctx, id)
}

func (s *Service) UpdateQuestion(ctx context.Context, id uuid.UUID, in QuestionInput) (*Question, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE pregunta
			SET quiz_id = $2, examen_final_id = $3, enunciado = $4, puntos = $5, orden = $6
			WHERE id = $1
		`, id, in.QuizID, in.ExamID, in.Statement, in.Points, in.Order)
		if db.IsForeignKeyViolation(err) {
			return apperr.NotFound("quiz or final exam not found")
		}
		if err != nil {
			return fmt.Errorf("update question: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrQuestionNotFound
		}
		return writeConfigAndOptions(ctx, tx, id, in)
	})
	if err != nil {
		return nil, err
	}
	return s.GetQuestion(ctx, id)
}

// writeConfigAndOptions replaces the question's config and options. Options
// already referenced by answers are detached by ON DELETE SET NULL.
func writeConfigAndOptions(ctx context.Context, tx *sql.Tx, id uuid.UUID, in QuestionInput) error {
	c := in.Config
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pregunta_config (
			pregunta_id, tipo, abierta_modelo_respuesta, om_seleccion_multiple,
			om_min_selecciones, om_max_selecciones, vf_respuesta_correcta,
			penaliza_error, puntos_por_opcion
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (pregunta_id) DO UPDATE SET
			tipo = EXCLUDED.tipo,
			abierta_modelo_respuesta = EXCLUDED.abierta_modelo_respuesta,
			om_seleccion_multiple = EXCLUDED.om_seleccion_multiple,
			om_min_selecciones = EXCLUDED.om_min_selecciones,
			om_max_selecciones = EXCLUDED.om_max_selecciones,
			vf_respuesta_correcta = EXCLUDED.vf_respuesta_correcta,
			penaliza_error = EXCLUDED.penaliza_error,
			puntos_por_opcion = EXCLUDED.puntos_por_opcion
	`, id, c.Type, c.ModelAnswer, c.MultiSelect, c.MinSelections, c.MaxSelections,
		c.TrueFalseAnswer, c.PenalizesError, c.PointsPerOption); err != nil {
		return fmt.Errorf("upsert question config: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM opcion WHERE pregunta_id = $1`, id); err != nil {
		return fmt.Errorf("clear options: %w", err)
	}
	for i, o := range in.Options {
		order := i + 1
		if o.Order != nil {
			order = *o.Order
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO opcion (pregunta_id, texto, es_correcta, orden) VALUES ($1, $2, $3, $4)
		`, id, o.Text, o.Correct, order); err != nil {
			return fmt.Errorf("insert option: %w", err)
		}
	}
	return nil
}

func (s *Service) DeleteQuestion(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pregunta WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuestionNotFound
	}
	s.log.Info("question deleted", "question_id", id)
	return nil
}

func (s *Service) GetQuestion(ctx context.Context, id uuid.UUID) (*Question, error) {
	qs, err := queryQuestions(ctx, s.db, `p.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, ErrQuestionNotFound
	}
	return &qs[0], nil
}

// ListQuestions returns the questions of a quiz or final exam in display order, answers included.
func ListQuestions(ctx context.Context, q db.Querier, quizID, examID *uuid.UUID) ([]Question, error) {
	if quizID != nil {
		return queryQuestions(ctx, q, `p.quiz_id = $1`, *quizID)
	}
	if examID != nil {
		return queryQuestions(ctx, q, `p.examen_final_id = $1`, *examID)
	}
	return nil, apperr.Validation("INVALID_TARGET", "quiz or final exam required")
}

func queryQuestions(ctx context.Context, q db.Querier, where string, arg any) ([]Question, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT p.id, p.quiz_id, p.examen_final_id, p.enunciado, p.puntos, p.orden,
		       COALESCE(c.tipo, 'ABIERTA'), c.abierta_modelo_respuesta, COALESCE(c.om_seleccion_multiple, FALSE),
		       c.om_min_selecciones, c.om_max_selecciones, c.vf_respuesta_correcta,
		       COALESCE(c.penaliza_error, FALSE), c.puntos_por_opcion
		FROM pregunta p
		LEFT JOIN pregunta_config c ON c.pregunta_id = p.id
		WHERE `+where+`
		ORDER BY p.orden NULLS LAST, p.creado_en
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var (
		out   []Question
		index = map[uuid.UUID]int{}
		ids   []uuid.UUID
	)
	for rows.Next() {
		var (
			qu                    Question
			quizID, examID        uuid.NullUUID
			order, minSel, maxSel sql.NullInt32
			perOption             sql.NullInt32
			modelAnswer           sql.NullString
			tfAnswer              sql.NullBool
		)
		if err := rows.Scan(&qu.ID, &quizID, &examID, &qu.Statement, &qu.Points, &order,
			&qu.Config.Type, &modelAnswer, &qu.Config.MultiSelect, &minSel, &maxSel, &tfAnswer,
			&qu.Config.PenalizesError, &perOption); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if quizID.Valid {
			qu.QuizID = &quizID.UUID
		}
		if examID.Valid {
			qu.ExamID = &examID.UUID
		}
		qu.Order = intPtr(order)
		qu.Config.MinSelections = intPtr(minSel)
		qu.Config.MaxSelections = intPtr(maxSel)
		qu.Config.PointsPerOption = intPtr(perOption)
		if modelAnswer.Valid {
			qu.Config.ModelAnswer = &modelAnswer.String
		}
		if tfAnswer.Valid {
			qu.Config.TrueFalseAnswer = &tfAnswer.Bool
		}
		qu.Options = []Option{}
		index[qu.ID] = len(out)
		ids = append(ids, qu.ID)
		out = append(out, qu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	if len(ids) == 0 {
		return []Question{}, nil
	}

	optRows, err := q.QueryContext(ctx, `
		SELECT id, pregunta_id, texto, es_correcta, orden
		FROM opcion
		WHERE pregunta_id = ANY($1::uuid[])
		ORDER BY orden NULLS LAST, id
	`, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("query options: %w", err)
	}
	defer optRows.Close()
	for optRows.Next() {
		var (
			o          Option
			questionID uuid.UUID
			correct    bool
			order      sql.NullInt32
		)
		if err := optRows.Scan(&o.ID, &questionID, &o.Text, &correct, &order); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		o.Correct = &correct
		o.Order = intPtr(order)
		if i, ok := index[questionID]; ok {
			out[i].Options = append(out[i].Options, o)
		}
	}
	return out, optRows.Err()
}

func intPtr(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
