package question

import (
	"fmt"
	"strings"
	"time"

	"ebslms/internal/apperr"

	"github.com/google/uuid"
)

type Type string

const (
	TypeOpen      Type = "ABIERTA"
	TypeMultiple  Type = "OPCION_MULTIPLE"
	TypeTrueFalse Type = "VERDADERO_FALSO"
)

const minOptionCount = 2

func (t Type) Valid() bool {
	switch t {
	case TypeOpen, TypeMultiple, TypeTrueFalse:
		return true
	}
	return false
}

type Option struct {
	ID      uuid.UUID `json:"id"`
	Text    string    `json:"texto"`
	Correct *bool     `json:"es_correcta,omitempty"`
	Order   *int      `json:"orden,omitempty"`
}

type Config struct {
	Type            Type    `json:"tipo"`
	ModelAnswer     *string `json:"abierta_modelo_respuesta,omitempty"`
	MultiSelect     bool    `json:"om_seleccion_multiple"`
	MinSelections   *int    `json:"om_min_selecciones,omitempty"`
	MaxSelections   *int    `json:"om_max_selecciones,omitempty"`
	TrueFalseAnswer *bool   `json:"vf_respuesta_correcta,omitempty"`
	PenalizesError  bool    `json:"penaliza_error"`
	PointsPerOption *int    `json:"puntos_por_opcion,omitempty"`
}

type Question struct {
	ID        uuid.UUID  `json:"id"`
	QuizID    *uuid.UUID `json:"quiz_id,omitempty"`
	ExamID    *uuid.UUID `json:"examen_final_id,omitempty"`
	Statement string     `json:"enunciado"`
	Points    int        `json:"puntos"`
	Order     *int       `json:"orden,omitempty"`
	Config    Config     `json:"config"`
	Options   []Option   `json:"opciones"`
}

type Quiz struct {
	ID         uuid.UUID  `json:"id"`
	LessonID   uuid.UUID  `json:"leccion_id"`
	Title      string     `json:"titulo"`
	Published  bool       `json:"publicado"`
	Random     bool       `json:"aleatorio"`
	KeepsGrade bool       `json:"guarda_calificacion"`
	CreatedAt  time.Time  `json:"creado_en"`
	Questions  []Question `json:"preguntas"`
}

type Exam struct {
	ID         uuid.UUID  `json:"id"`
	CourseID   uuid.UUID  `json:"curso_id"`
	Title      string     `json:"titulo"`
	Published  bool       `json:"publicado"`
	Random     bool       `json:"aleatorio"`
	KeepsGrade bool       `json:"guarda_calificacion"`
	CreatedAt  time.Time  `json:"creado_en"`
	Questions  []Question `json:"preguntas"`
}

// ForStudent returns qs with the answer key removed.
func ForStudent(qs []Question) []Question {
	hideAnswers(qs)
	return qs
}

// hideAnswers strips everything a student could use to infer the answer key.
func hideAnswers(qs []Question) {
	for i := range qs {
		qs[i].Config.ModelAnswer = nil
		qs[i].Config.TrueFalseAnswer = nil
		for j := range qs[i].Options {
			qs[i].Options[j].Correct = nil
		}
	}
}

type OptionInput struct {
	Text    string `json:"texto" validate:"required"`
	Correct bool   `json:"es_correcta"`
	Order   *int   `json:"orden"`
}

type QuestionInput struct {
	QuizID    *uuid.UUID    `json:"quiz_id"`
	ExamID    *uuid.UUID    `json:"examen_final_id"`
	Statement string        `json:"enunciado" validate:"required"`
	Points    int           `json:"puntos" validate:"min=0"`
	Order     *int          `json:"orden"`
	Config    Config        `json:"config"`
	Options   []OptionInput `json:"opciones" validate:"dive"`
}

// Validate checks the per-type consistency of a question definition.
func (in *QuestionInput) Validate() error {
	in.Statement = strings.TrimSpace(in.Statement)
	if (in.QuizID == nil) == (in.ExamID == nil) {
		return apperr.Validation("INVALID_TARGET", "question must belong to exactly one quiz or final exam")
	}
	if in.Statement == "" {
		return invalid("enunciado", "is required")
	}
	if in.Points < 0 {
		return invalid("puntos", "must be at least 0")
	}
	cfg := &in.Config
	cfg.Type = Type(strings.ToUpper(strings.TrimSpace(string(cfg.Type))))
	if !cfg.Type.Valid() {
		return invalid("config.tipo", "must be one of: ABIERTA OPCION_MULTIPLE VERDADERO_FALSO")
	}

	switch cfg.Type {
	case TypeTrueFalse:
		if cfg.TrueFalseAnswer == nil {
			return invalid("config.vf_respuesta_correcta", "is required for VERDADERO_FALSO")
		}
		if len(in.Options) > 0 {
			return invalid("opciones", "not allowed for VERDADERO_FALSO")
		}
	case TypeOpen:
		if len(in.Options) > 0 {
			return invalid("opciones", "not allowed for ABIERTA")
		}
	case TypeMultiple:
		if len(in.Options) < minOptionCount {
			return invalid("opciones", fmt.Sprintf("at least %d options required", minOptionCount))
		}
		correct := 0
		for _, o := range in.Options {
			if strings.TrimSpace(o.Text) == "" {
				return invalid("opciones", "option text is required")
			}
			if o.Correct {
				correct++
			}
		}
		if !cfg.MultiSelect && correct != 1 {
			return invalid("opciones", "single-choice question needs exactly one correct option")
		}
		if cfg.MultiSelect && correct == 0 {
			return invalid("opciones", "multi-select question needs at least one correct option")
		}
		if cfg.MinSelections != nil && *cfg.MinSelections < 1 {
			return invalid("config.om_min_selecciones", "must be at least 1")
		}
		if cfg.MaxSelections != nil && *cfg.MaxSelections > len(in.Options) {
			return invalid("config.om_max_selecciones", "exceeds option count")
		}
		if cfg.MinSelections != nil && cfg.MaxSelections != nil && *cfg.MinSelections > *cfg.MaxSelections {
			return invalid("config.om_min_selecciones", "must not exceed om_max_selecciones")
		}
	}
	if cfg.Type != TypeMultiple || !cfg.MultiSelect {
		cfg.MinSelections, cfg.MaxSelections, cfg.PointsPerOption = nil, nil, nil
		cfg.MultiSelect = false
	}
	if cfg.PointsPerOption != nil && *cfg.PointsPerOption < 0 {
		return invalid("config.puntos_por_opcion", "must be at least 0")
	}
	if cfg.Type != TypeOpen {
		cfg.ModelAnswer = nil
	}
	if cfg.Type != TypeTrueFalse {
		cfg.TrueFalseAnswer = nil
	}
	return nil
}

func invalid(field, msg string) error {
	return apperr.Validation("", field+" "+msg).WithFields(map[string]string{field: msg})
}

type QuizInput struct {
	LessonID   uuid.UUID `json:"leccion_id" validate:"required"`
	Title      string    `json:"titulo" validate:"required,max=200"`
	Published  *bool     `json:"publicado"`
	Random     *bool     `json:"aleatorio"`
	KeepsGrade *bool     `json:"guarda_calificacion"`
}

type ExamInput struct {
	CourseID   uuid.UUID `json:"curso_id" validate:"required"`
	Title      string    `json:"titulo" validate:"required,max=200"`
	Published  *bool     `json:"publicado"`
	Random     *bool     `json:"aleatorio"`
	KeepsGrade *bool     `json:"guarda_calificacion"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
