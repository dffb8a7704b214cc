package progress

import (
	"math"
	"time"

	"ebslms/internal/apperr"

	"github.com/google/uuid"
)

var ErrNotEnrolled = apperr.NotFound("enrollment not found for this course")

type LessonProgress struct {
	LessonID    uuid.UUID  `json:"leccion_id"`
	Completed   bool       `json:"completado"`
	CompletedAt *time.Time `json:"completado_en,omitempty"`
}

type CourseProgress struct {
	CourseID         uuid.UUID `json:"curso_id"`
	EnrollmentID     uuid.UUID `json:"inscripcion_curso_id"`
	Status           string    `json:"estado"`
	Accredited       bool      `json:"acreditado"`
	LessonsCompleted int       `json:"lecciones_completadas"`
	LessonsTotal     int       `json:"lecciones_totales"`
	QuizzesPassed    int       `json:"quizzes_aprobados"`
	QuizzesTotal     int       `json:"quizzes_totales"`
	Percentage       float64   `json:"porcentaje"`
}

// ProgressRank compares the caller's quiz progress with the rest of the course.
type ProgressRank struct {
	Ranking       *int     `json:"ranking"`
	Percentile    *float64 `json:"percentil"`
	CourseAverage *float64 `json:"promedio_curso"`
	Students      int      `json:"total_estudiantes"`
	Max           *float64 `json:"maximo"`
	Min           *float64 `json:"minimo"`
	Percentage    float64  `json:"progreso_porcentaje"`
}

// ScoreRank compares the caller's average attempt score with the course.
type ScoreRank struct {
	Ranking       *int     `json:"ranking_puntaje"`
	Percentile    *float64 `json:"percentil_puntaje"`
	CourseAverage *float64 `json:"promedio_curso"`
	Students      int      `json:"total_estudiantes"`
	Max           *float64 `json:"maximo"`
	Min           *float64 `json:"minimo"`
	Average       *float64 `json:"puntaje_promedio"`
}

type CourseMetrics struct {
	CourseID uuid.UUID    `json:"curso_id"`
	Progress ProgressRank `json:"progreso"`
	Scores   ScoreRank    `json:"puntajes"`
}

type GeneralMetrics struct {
	Ranking          *int     `json:"ranking_completados"`
	Percentile       *float64 `json:"percentil_completados"`
	AverageCompleted *float64 `json:"promedio_completados"`
	Users            int      `json:"total_usuarios"`
	Completed        int      `json:"cursos_completados"`
	Total            int      `json:"cursos_total"`
	Percentage       float64  `json:"porcentaje_completados"`
}

// percentage rounds done/total to two decimals; an empty course is 0%.
func percentage(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(done)*10000/float64(total)) / 100
}
