package attempt

import (
	"time"

	"ebslms/internal/apperr"
	"ebslms/internal/question"

	"github.com/google/uuid"
)

var (
	ErrAttemptNotFound       = apperr.NotFound("attempt not found")
	ErrTargetNotFound        = apperr.NotFound("quiz or final exam not found")
	ErrInvalidTarget         = apperr.Validation("INVALID_TARGET", "exactly one of quiz or final exam is required")
	ErrNotOwner              = apperr.Forbidden("attempt belongs to another user")
	ErrNotEnrolled           = apperr.BusinessRule("NOT_ENROLLED", "user is not enrolled in a course containing this assessment")
	ErrEnrollmentNotActive   = apperr.BusinessRule("ENROLLMENT_NOT_ACTIVE", "enrollment is not active")
	ErrAttemptAlreadyOpen    = apperr.Validation("ATTEMPT_ALREADY_OPEN", "an attempt is already in progress")
	ErrAttemptNumberConflict = apperr.BusinessRule("ATTEMPT_NUMBER_CONFLICT", "concurrent attempt creation, retry")
	ErrAttemptsExhausted     = apperr.BusinessRule("MAX_ATTEMPTS_REACHED", "maximum number of attempts reached")
	ErrQuizzesPending        = apperr.BusinessRule("QUIZZES_PENDING", "all course quizzes must be passed before the final exam")
	ErrNoQuestions           = apperr.BusinessRule("NO_QUESTIONS", "assessment has no questions")
	ErrAttemptFinalized      = apperr.BusinessRule("ATTEMPT_FINALIZED", "attempt already finalized")
	ErrAttemptStillOpen      = apperr.BusinessRule("ATTEMPT_OPEN", "attempt has not been finalized")
	ErrQuestionNotInAttempt  = apperr.Validation("QUESTION_NOT_IN_ATTEMPT", "question does not belong to this attempt")
	ErrOptionNotInQuestion   = apperr.Validation("INVALID_OPTION", "option does not belong to the question")
	ErrDuplicateAnswer       = apperr.Validation("DUPLICATE_ANSWER", "question answered more than once")
	ErrNotLatestAttempt      = apperr.BusinessRule("NOT_LATEST_ATTEMPT", "only the latest attempt can grant a new one")
)

// Target identifies the assessment an attempt is for. Exactly one field is set.
type Target struct {
	QuizID *uuid.UUID
	ExamID *uuid.UUID
}

func QuizTarget(id uuid.UUID) Target { return Target{QuizID: &id} }
func ExamTarget(id uuid.UUID) Target { return Target{ExamID: &id} }

func (t Target) Valid() bool {
	return (t.QuizID == nil) != (t.ExamID == nil)
}

func (t Target) IsExam() bool { return t.ExamID != nil }

func (t Target) column() string {
	if t.IsExam() {
		return "examen_final_id"
	}
	return "quiz_id"
}

func (t Target) id() uuid.UUID {
	if t.IsExam() {
		return *t.ExamID
	}
	return *t.QuizID
}

// matches reports whether an attempt row belongs to this target.
func (t Target) matches(a *Attempt) bool {
	if t.IsExam() {
		return a.ExamID != nil && *a.ExamID == *t.ExamID
	}
	return a.QuizID != nil && *a.QuizID == *t.QuizID
}

type Attempt struct {
	ID           uuid.UUID           `json:"id"`
	UserID       uuid.UUID           `json:"usuario_id"`
	QuizID       *uuid.UUID          `json:"quiz_id,omitempty"`
	ExamID       *uuid.UUID          `json:"examen_final_id,omitempty"`
	EnrollmentID uuid.UUID           `json:"inscripcion_curso_id"`
	Number       int                 `json:"numero_intento"`
	Score        *float64            `json:"puntaje,omitempty"`
	Result       *string             `json:"resultado,omitempty"`
	StartedAt    time.Time           `json:"iniciado_en"`
	FinishedAt   *time.Time          `json:"finalizado_en,omitempty"`
	AllowNew     bool                `json:"permitir_nuevo_intento"`
	Questions    []question.Question `json:"preguntas,omitempty"`
	Answers      []AnswerEvaluation  `json:"respuestas,omitempty"`
}

func (a *Attempt) Finalized() bool { return a.FinishedAt != nil }

type AnswerInput struct {
	QuestionID uuid.UUID   `json:"pregunta_id" validate:"required"`
	Text       *string     `json:"respuesta_texto"`
	OptionID   *uuid.UUID  `json:"opcion_id"`
	OptionIDs  []uuid.UUID `json:"opcion_ids"`
	Bool       *bool       `json:"respuesta_bool"`
}

// optionIDs merges the single and multi option fields.
func (a AnswerInput) optionIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(a.OptionIDs)+1)
	if a.OptionID != nil {
		out = append(out, *a.OptionID)
	}
	return append(out, a.OptionIDs...)
}

// mergeAnswers folds repeated entries for one question into a single answer.
// Repeats are only accepted when every entry selects options; a repeated text
// or boolean answer is ambiguous and rejected. Option ids are deduplicated.
func mergeAnswers(in []AnswerInput) ([]AnswerInput, error) {
	out := make([]AnswerInput, 0, len(in))
	index := make(map[uuid.UUID]int, len(in))
	for _, a := range in {
		opts := dedupeUUIDs(a.optionIDs())
		i, seen := index[a.QuestionID]
		if !seen {
			index[a.QuestionID] = len(out)
			out = append(out, AnswerInput{QuestionID: a.QuestionID, Text: a.Text, Bool: a.Bool, OptionIDs: opts})
			continue
		}
		prev := &out[i]
		if len(opts) == 0 || len(prev.OptionIDs) == 0 || a.Text != nil || a.Bool != nil || prev.Text != nil || prev.Bool != nil {
			return nil, ErrDuplicateAnswer.WithFields(map[string]string{"pregunta_id": a.QuestionID.String()})
		}
		prev.OptionIDs = dedupeUUIDs(append(prev.OptionIDs, opts...))
	}
	return out, nil
}

func dedupeUUIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

type StartInput struct {
	UserID       uuid.UUID
	Privileged   bool
	Target       Target
	EnrollmentID *uuid.UUID
}

type SubmitInput struct {
	UserID    uuid.UUID
	AttemptID uuid.UUID
	Target    Target
	Answers   []AnswerInput
}

type AnswerEvaluation struct {
	QuestionID uuid.UUID `json:"pregunta_id"`
	MaxPoints  float64   `json:"puntos_maximos"`
	ScoreResult
}

type Result struct {
	AttemptID      uuid.UUID          `json:"intento_id"`
	Score          float64            `json:"puntaje"`
	MaxScore       float64            `json:"puntaje_maximo"`
	Percentage     float64            `json:"porcentaje"`
	Result         string             `json:"resultado"`
	Passed         bool               `json:"aprobado"`
	MinScore       float64            `json:"min_score_aprobatorio"`
	CorrectCount   int                `json:"preguntas_correctas"`
	TotalQuestions int                `json:"total_preguntas"`
	Answers        []AnswerEvaluation `json:"respuestas"`
	Accredited     bool               `json:"curso_acreditado"`
	CourseFailed   bool               `json:"curso_reprobado"`
	CertificateID  *uuid.UUID         `json:"certificado_id,omitempty"`
}

type ListFilter struct {
	UserID   *uuid.UUID
	CourseID *uuid.UUID
	QuizID   *uuid.UUID
	ExamID   *uuid.UUID
	Result   string
	Skip     int
	Limit    int
}
