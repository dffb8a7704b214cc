package attempt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ebslms/internal/accreditation"
	"ebslms/internal/apperr"
	"ebslms/internal/db"
	"ebslms/internal/enrollment"
	"ebslms/internal/notify"
	"ebslms/internal/platform/logger"
	"ebslms/internal/question"

	"github.com/google/uuid"
)

// CertificateIssuer creates the certificate row inside the grading
// transaction and schedules its generation once that transaction commits.
type CertificateIssuer interface {
	EnsureRecord(ctx context.Context, q db.Querier, enrollmentID uuid.UUID, examID, attemptID *uuid.UUID) (uuid.UUID, error)
	Enqueue(certificateID uuid.UUID)
}

type ResultNotifier interface {
	AttemptResult(in notify.AttemptResult)
}

type Service struct {
	db       *sql.DB
	log      *logger.Logger
	certs    CertificateIssuer
	notifier ResultNotifier
	now      func() time.Time
}

func NewService(conn *sql.DB, certs CertificateIssuer, notifier ResultNotifier, log *logger.Logger) *Service {
	return &Service{
		db:       conn,
		log:      log.With("service", "AttemptService"),
		certs:    certs,
		notifier: notifier,
		now:      time.Now,
	}
}

type targetInfo struct {
	Title     string
	Published bool
	CourseIDs []uuid.UUID
}

func loadTarget(ctx context.Context, q db.Querier, t Target) (*targetInfo, error) {
	var info targetInfo
	if t.IsExam() {
		var courseID uuid.UUID
		err := q.QueryRowContext(ctx, `
			SELECT titulo, publicado, curso_id FROM examen_final WHERE id = $1
		`, *t.ExamID).Scan(&info.Title, &info.Published, &courseID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTargetNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load final exam: %w", err)
		}
		info.CourseIDs = []uuid.UUID{courseID}
		return &info, nil
	}

	err := q.QueryRowContext(ctx, `SELECT titulo, publicado FROM quiz WHERE id = $1`, *t.QuizID).
		Scan(&info.Title, &info.Published)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTargetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load quiz: %w", err)
	}
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT mc.curso_id
		FROM quiz qz
		JOIN leccion l ON l.id = qz.leccion_id
		JOIN modulo_curso mc ON mc.modulo_id = l.modulo_id
		WHERE qz.id = $1
	`, *t.QuizID)
	if err != nil {
		return nil, fmt.Errorf("load quiz courses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan quiz course: %w", err)
		}
		info.CourseIDs = append(info.CourseIDs, id)
	}
	return &info, rows.Err()
}

// Start opens a new attempt. The enrollment row lock serializes concurrent
// starts for the same enrollment; the open-attempt and attempt-number unique
// indexes back it up.
func (s *Service) Start(ctx context.Context, in StartInput) (*Attempt, error) {
	if !in.Target.Valid() {
		return nil, ErrInvalidTarget
	}
	info, err := loadTarget(ctx, s.db, in.Target)
	if err != nil {
		return nil, err
	}
	if !info.Published && !in.Privileged {
		return nil, ErrTargetNotFound
	}

	var attemptID uuid.UUID
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		enr, err := lockEnrollmentFor(ctx, tx, in, info.CourseIDs)
		if err != nil {
			return err
		}
		policy, err := accreditation.Resolve(ctx, tx, enr.CourseID, in.Target.QuizID, in.Target.ExamID)
		if err != nil {
			return err
		}

		col := in.Target.column()
		var openID uuid.UUID
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM intento
			WHERE usuario_id = $1 AND inscripcion_curso_id = $2 AND `+col+` = $3 AND finalizado_en IS NULL
			FOR UPDATE
		`, in.UserID, enr.ID, in.Target.id()).Scan(&openID)
		if err == nil {
			return ErrAttemptAlreadyOpen
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check open attempt: %w", err)
		}

		var (
			count    int
			next     int
			lastID   uuid.NullUUID
			lastOpen sql.NullBool
		)
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*), COALESCE(MAX(numero_intento), 0) + 1
			FROM intento
			WHERE usuario_id = $1 AND inscripcion_curso_id = $2 AND `+col+` = $3
		`, in.UserID, enr.ID, in.Target.id()).Scan(&count, &next); err != nil {
			return fmt.Errorf("count attempts: %w", err)
		}
		if count > 0 {
			if err := tx.QueryRowContext(ctx, `
				SELECT id, permitir_nuevo_intento FROM intento
				WHERE usuario_id = $1 AND inscripcion_curso_id = $2 AND `+col+` = $3
				ORDER BY numero_intento DESC
				LIMIT 1
			`, in.UserID, enr.ID, in.Target.id()).Scan(&lastID, &lastOpen); err != nil {
				return fmt.Errorf("load latest attempt: %w", err)
			}
		}
		granted := lastOpen.Valid && lastOpen.Bool
		if count >= policy.MaxAttempts && !granted {
			return ErrAttemptsExhausted
		}

		if in.Target.IsExam() {
			var pending int
			if err := tx.QueryRowContext(ctx, `
				SELECT COUNT(DISTINCT qz.id)
				FROM quiz qz
				JOIN leccion l ON l.id = qz.leccion_id
				JOIN modulo_curso mc ON mc.modulo_id = l.modulo_id
				WHERE mc.curso_id = $1
				  AND qz.publicado = TRUE
				  AND NOT EXISTS (
				      SELECT 1 FROM intento i
				      WHERE i.quiz_id = qz.id
				        AND i.inscripcion_curso_id = $2
				        AND i.resultado = 'APROBADO'
				  )
			`, enr.CourseID, enr.ID).Scan(&pending); err != nil {
				return fmt.Errorf("check quiz prerequisites: %w", err)
			}
			if pending > 0 {
				return ErrQuizzesPending
			}
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO intento (usuario_id, quiz_id, examen_final_id, inscripcion_curso_id, numero_intento)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, in.UserID, in.Target.QuizID, in.Target.ExamID, enr.ID, next).Scan(&attemptID)
		switch {
		case db.IsUniqueViolation(err, "uq_intento_abierto_quiz"), db.IsUniqueViolation(err, "uq_intento_abierto_examen"):
			return ErrAttemptAlreadyOpen
		case db.IsUniqueViolation(err, ""):
			return ErrAttemptNumberConflict
		case err != nil:
			return fmt.Errorf("insert attempt: %w", err)
		}

		if granted && lastID.Valid {
			if _, err := tx.ExecContext(ctx, `
				UPDATE intento SET permitir_nuevo_intento = FALSE WHERE id = $1
			`, lastID.UUID); err != nil {
				return fmt.Errorf("consume retry grant: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO intento_pregunta (intento_id, pregunta_id, puntos_maximos, orden)
			SELECT $1, p.id, p.puntos, ROW_NUMBER() OVER (ORDER BY p.orden NULLS LAST, p.creado_en)
			FROM pregunta p
			WHERE p.`+col+` = $2
		`, attemptID, in.Target.id())
		if err != nil {
			return fmt.Errorf("snapshot attempt questions: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNoQuestions
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("attempt started", "attempt_id", attemptID, "user_id", in.UserID, "target", in.Target.id())
	out, err := s.load(ctx, s.db, attemptID, false)
	if err != nil {
		return nil, err
	}
	qs, err := question.ListQuestions(ctx, s.db, in.Target.QuizID, in.Target.ExamID)
	if err != nil {
		return nil, err
	}
	out.Questions = question.ForStudent(qs)
	return out, nil
}

func lockEnrollmentFor(ctx context.Context, tx *sql.Tx, in StartInput, courseIDs []uuid.UUID) (*enrollment.Enrollment, error) {
	var enr *enrollment.Enrollment
	var err error
	if in.EnrollmentID != nil {
		enr, err = enrollment.LockForUpdate(ctx, tx, *in.EnrollmentID)
	} else {
		var id uuid.UUID
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM inscripcion_curso
			WHERE usuario_id = $1 AND curso_id = ANY($2::uuid[])
			ORDER BY (estado = 'ACTIVA') DESC, creado_en DESC
			LIMIT 1
		`, in.UserID, uuidStrings(courseIDs)).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotEnrolled
		}
		if err != nil {
			return nil, fmt.Errorf("find enrollment: %w", err)
		}
		enr, err = enrollment.LockForUpdate(ctx, tx, id)
	}
	if errors.Is(err, enrollment.ErrEnrollmentNotFound) {
		return nil, ErrNotEnrolled
	}
	if err != nil {
		return nil, err
	}
	if enr.UserID != in.UserID {
		return nil, apperr.Forbidden("enrollment belongs to another user")
	}
	if !containsUUID(courseIDs, enr.CourseID) {
		return nil, ErrNotEnrolled
	}
	if enr.Status != enrollment.StatusActive {
		return nil, ErrEnrollmentNotActive
	}
	return enr, nil
}

// Submit records the answers, grades the attempt through respuesta_evaluable
// and applies accreditation side effects, all in one transaction.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Result, error) {
	var (
		out    Result
		certID *uuid.UUID
		mail   *notify.AttemptResult
	)
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		att, err := s.load(ctx, tx, in.AttemptID, true)
		if err != nil {
			return err
		}
		if in.Target.Valid() && !in.Target.matches(att) {
			return ErrAttemptNotFound
		}
		if att.UserID != in.UserID {
			return ErrNotOwner
		}
		if att.Finalized() {
			return ErrAttemptFinalized
		}

		if err := writeAnswers(ctx, tx, att.ID, in.Answers); err != nil {
			return err
		}

		rows, correct, err := loadEvaluable(ctx, tx, att.ID)
		if err != nil {
			return err
		}
		g := gradeRows(rows, correct)

		enr, err := enrollment.LockForUpdate(ctx, tx, att.EnrollmentID)
		if err != nil {
			return err
		}
		policy, err := accreditation.Resolve(ctx, tx, enr.CourseID, att.QuizID, att.ExamID)
		if err != nil {
			return err
		}
		pct := Percentage(g.Earned, g.Total)
		outcome := Outcome(pct, policy.MinScore)
		now := s.now()

		if _, err := tx.ExecContext(ctx, `
			UPDATE intento SET finalizado_en = $2, puntaje = $3, resultado = $4 WHERE id = $1
		`, att.ID, now, pct, outcome); err != nil {
			return fmt.Errorf("finalize attempt: %w", err)
		}

		out = Result{
			AttemptID:      att.ID,
			Score:          g.Earned,
			MaxScore:       g.Total,
			Percentage:     pct,
			Result:         outcome,
			Passed:         outcome == ResultPassed,
			MinScore:       policy.MinScore,
			CorrectCount:   g.CorrectCount,
			TotalQuestions: len(g.Answers),
			Answers:        g.Answers,
		}

		switch {
		case out.Passed && att.ExamID != nil:
			if err := enrollment.Accredit(ctx, tx, enr.ID, now); err != nil {
				return err
			}
			if s.certs != nil {
				id, err := s.certs.EnsureRecord(ctx, tx, enr.ID, att.ExamID, &att.ID)
				if err != nil {
					return err
				}
				certID = &id
				out.CertificateID = &id
			}
			out.Accredited = true
		case !out.Passed && policy.BlocksCourseOnFail && !enr.Status.Terminal():
			t := Target{QuizID: att.QuizID, ExamID: att.ExamID}
			// A target already passed on this enrollment never fails the course.
			var used, passed int
			if err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*), COUNT(*) FILTER (WHERE resultado = 'APROBADO')
				FROM intento
				WHERE usuario_id = $1 AND inscripcion_curso_id = $2
				  AND `+t.column()+` = $3
				  AND finalizado_en IS NOT NULL
			`, att.UserID, enr.ID, t.id()).Scan(&used, &passed); err != nil {
				return fmt.Errorf("count finalized attempts: %w", err)
			}
			if passed == 0 && used >= policy.MaxAttempts {
				if err := enrollment.MarkFailed(ctx, tx, enr.ID); err != nil {
					return err
				}
				out.CourseFailed = true
			}
		}

		mail, err = resultMail(ctx, tx, att, out)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("attempt graded",
		"attempt_id", out.AttemptID,
		"percentage", out.Percentage,
		"result", out.Result,
		"accredited", out.Accredited,
		"course_failed", out.CourseFailed,
	)
	if certID != nil {
		s.certs.Enqueue(*certID)
	}
	if mail != nil && s.notifier != nil {
		s.notifier.AttemptResult(*mail)
	}
	return &out, nil
}

// writeAnswers validates every answer against the attempt's question
// snapshot before inserting anything.
func writeAnswers(ctx context.Context, tx *sql.Tx, attemptID uuid.UUID, answers []AnswerInput) error {
	answers, err := mergeAnswers(answers)
	if err != nil {
		return err
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT ip.id, ip.pregunta_id, o.id
		FROM intento_pregunta ip
		LEFT JOIN opcion o ON o.pregunta_id = ip.pregunta_id
		WHERE ip.intento_id = $1
	`, attemptID)
	if err != nil {
		return fmt.Errorf("load attempt questions: %w", err)
	}
	slots := map[uuid.UUID]uuid.UUID{}
	options := map[uuid.UUID]uuid.UUID{}
	for rows.Next() {
		var aqID, questionID uuid.UUID
		var optionID uuid.NullUUID
		if err := rows.Scan(&aqID, &questionID, &optionID); err != nil {
			rows.Close()
			return fmt.Errorf("scan attempt question: %w", err)
		}
		slots[questionID] = aqID
		if optionID.Valid {
			options[optionID.UUID] = questionID
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate attempt questions: %w", err)
	}

	for _, a := range answers {
		if _, ok := slots[a.QuestionID]; !ok {
			return ErrQuestionNotInAttempt.WithFields(map[string]string{"pregunta_id": a.QuestionID.String()})
		}
		for _, opt := range a.optionIDs() {
			if options[opt] != a.QuestionID {
				return ErrOptionNotInQuestion.WithFields(map[string]string{"opcion_id": opt.String()})
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM respuesta
		WHERE intento_pregunta_id IN (SELECT id FROM intento_pregunta WHERE intento_id = $1)
	`, attemptID); err != nil {
		return fmt.Errorf("clear answers: %w", err)
	}
	for _, a := range answers {
		aqID := slots[a.QuestionID]
		opts := a.optionIDs()
		if len(opts) == 0 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO respuesta (intento_pregunta_id, respuesta_texto, respuesta_bool) VALUES ($1, $2, $3)
			`, aqID, a.Text, a.Bool); err != nil {
				return fmt.Errorf("insert answer: %w", err)
			}
			continue
		}
		for _, opt := range opts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO respuesta (intento_pregunta_id, opcion_id, respuesta_texto, respuesta_bool) VALUES ($1, $2, $3, $4)
			`, aqID, opt, a.Text, a.Bool); err != nil {
				return fmt.Errorf("insert answer: %w", err)
			}
		}
	}
	return nil
}

func resultMail(ctx context.Context, q db.Querier, att *Attempt, res Result) (*notify.AttemptResult, error) {
	var email, first, last, title string
	err := q.QueryRowContext(ctx, `
		SELECT u.email, u.nombre, u.apellido, COALESCE(qz.titulo, ef.titulo, '')
		FROM usuario u
		LEFT JOIN quiz qz ON qz.id = $2
		LEFT JOIN examen_final ef ON ef.id = $3
		WHERE u.id = $1
	`, att.UserID, att.QuizID, att.ExamID).Scan(&email, &first, &last, &title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load result recipient: %w", err)
	}
	return &notify.AttemptResult{
		UserID:     att.UserID,
		Email:      email,
		Name:       strings.TrimSpace(first + " " + last),
		Title:      title,
		Percentage: res.Percentage,
		MinScore:   res.MinScore,
		Passed:     res.Passed,
	}, nil
}

const selectAttempt = `
	SELECT id, usuario_id, quiz_id, examen_final_id, inscripcion_curso_id, numero_intento,
	       puntaje, resultado, iniciado_en, finalizado_en, permitir_nuevo_intento
	FROM intento
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	var (
		a        Attempt
		quizID   uuid.NullUUID
		examID   uuid.NullUUID
		score    sql.NullFloat64
		result   sql.NullString
		finished sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.UserID, &quizID, &examID, &a.EnrollmentID, &a.Number,
		&score, &result, &a.StartedAt, &finished, &a.AllowNew); err != nil {
		return nil, err
	}
	if quizID.Valid {
		a.QuizID = &quizID.UUID
	}
	if examID.Valid {
		a.ExamID = &examID.UUID
	}
	if score.Valid {
		a.Score = &score.Float64
	}
	if result.Valid {
		a.Result = &result.String
	}
	if finished.Valid {
		a.FinishedAt = &finished.Time
	}
	return &a, nil
}

func (s *Service) load(ctx context.Context, q db.Querier, id uuid.UUID, forUpdate bool) (*Attempt, error) {
	query := selectAttempt + ` WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	a, err := scanAttempt(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	return a, nil
}

// Get returns an attempt with its per-question evaluation once finalized.
func (s *Service) Get(ctx context.Context, id, viewerID uuid.UUID, privileged bool) (*Attempt, error) {
	a, err := s.load(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if a.UserID != viewerID && !privileged {
		return nil, ErrNotOwner
	}
	if a.Finalized() {
		rows, correct, err := loadEvaluable(ctx, s.db, a.ID)
		if err != nil {
			return nil, err
		}
		a.Answers = gradeRows(rows, correct).Answers
	}
	return a, nil
}

func (s *Service) ListMine(ctx context.Context, userID uuid.UUID, t Target, skip, limit int) ([]Attempt, error) {
	f := ListFilter{UserID: &userID, QuizID: t.QuizID, ExamID: t.ExamID, Skip: skip, Limit: limit}
	return s.List(ctx, f)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Attempt, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != nil {
		add("usuario_id = $%d", *f.UserID)
	}
	if f.QuizID != nil {
		add("quiz_id = $%d", *f.QuizID)
	}
	if f.ExamID != nil {
		add("examen_final_id = $%d", *f.ExamID)
	}
	if f.CourseID != nil {
		add("inscripcion_curso_id IN (SELECT id FROM inscripcion_curso WHERE curso_id = $%d)", *f.CourseID)
	}
	if f.Result != "" {
		r := strings.ToUpper(strings.TrimSpace(f.Result))
		if r != ResultPassed && r != ResultFailed {
			return nil, apperr.Validation("INVALID_RESULT", "resultado must be APROBADO or NO_APROBADO")
		}
		add("resultado = $%d", r)
	}
	q := selectAttempt
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	args = append(args, f.Limit, f.Skip)
	q += fmt.Sprintf(" ORDER BY iniciado_en DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	out := make([]Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// AllowNew grants one extra attempt beyond the rule's limit. The grant sits on
// the latest attempt, which must be finalized, and is consumed by the next Start.
func (s *Service) AllowNew(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		a, err := s.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if !a.Finalized() {
			return ErrAttemptStillOpen
		}
		// Start only reads the grant from the latest attempt.
		t := Target{QuizID: a.QuizID, ExamID: a.ExamID}
		var latest int
		if err := tx.QueryRowContext(ctx, `
			SELECT MAX(numero_intento) FROM intento
			WHERE usuario_id = $1 AND inscripcion_curso_id = $2 AND `+t.column()+` = $3
		`, a.UserID, a.EnrollmentID, t.id()).Scan(&latest); err != nil {
			return fmt.Errorf("load latest attempt number: %w", err)
		}
		if a.Number != latest {
			return ErrNotLatestAttempt
		}
		_, err = tx.ExecContext(ctx, `UPDATE intento SET permitir_nuevo_intento = TRUE WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("extra attempt granted", "attempt_id", id)
	return s.load(ctx, s.db, id, false)
}

func containsUUID(list []uuid.UUID, id uuid.UUID) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
