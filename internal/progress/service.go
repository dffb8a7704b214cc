package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ebslms/internal/course"
	"ebslms/internal/platform/cache"
	"ebslms/internal/platform/logger"

	"github.com/google/uuid"
)

// Cache stores rendered metric payloads. *cache.Redis satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type Service struct {
	db    *sql.DB
	log   *logger.Logger
	cache Cache
	ttl   time.Duration
}

func NewService(conn *sql.DB, c Cache, ttl time.Duration, log *logger.Logger) *Service {
	return &Service{db: conn, log: log.With("service", "ProgressService"), cache: c, ttl: ttl}
}

// CompleteLesson marks the lesson done for the user. Repeating it keeps the
// first completion time.
func (s *Service) CompleteLesson(ctx context.Context, lessonID, userID uuid.UUID, privileged bool) (*LessonProgress, error) {
	if err := course.ValidateLessonAccess(ctx, s.db, lessonID, userID, privileged); err != nil {
		return nil, err
	}
	out := LessonProgress{LessonID: lessonID}
	var at sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO progreso_leccion (usuario_id, leccion_id, completado, completado_en)
		VALUES ($1, $2, TRUE, now())
		ON CONFLICT (usuario_id, leccion_id) DO UPDATE SET
			completado = TRUE,
			completado_en = COALESCE(progreso_leccion.completado_en, EXCLUDED.completado_en)
		RETURNING completado, completado_en`, userID, lessonID).Scan(&out.Completed, &at)
	if err != nil {
		return nil, fmt.Errorf("complete lesson: %w", err)
	}
	if at.Valid {
		out.CompletedAt = &at.Time
	}
	s.invalidate(ctx, generalKey(userID))
	return &out, nil
}

func (s *Service) CourseProgress(ctx context.Context, courseID, userID uuid.UUID) (*CourseProgress, error) {
	out := CourseProgress{CourseID: courseID}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, estado, acreditado FROM inscripcion_curso
		WHERE usuario_id = $1 AND curso_id = $2`, userID, courseID).Scan(&out.EnrollmentID, &out.Status, &out.Accredited)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotEnrolled
	}
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		WITH lecciones AS (
			SELECT DISTINCT l.id
			FROM leccion l
			JOIN modulo_curso mc ON mc.modulo_id = l.modulo_id
			WHERE mc.curso_id = $1 AND l.publicado
		),
		quizzes AS (
			SELECT DISTINCT q.id
			FROM quiz q
			JOIN lecciones l ON l.id = q.leccion_id
			WHERE q.publicado
		)
		SELECT
			(SELECT COUNT(*) FROM lecciones),
			(SELECT COUNT(*) FROM progreso_leccion p
			 WHERE p.usuario_id = $2 AND p.completado AND p.leccion_id IN (SELECT id FROM lecciones)),
			(SELECT COUNT(*) FROM quizzes),
			(SELECT COUNT(DISTINCT i.quiz_id) FROM intento i
			 WHERE i.inscripcion_curso_id = $3 AND i.resultado = 'APROBADO'
			   AND i.quiz_id IN (SELECT id FROM quizzes))`,
		courseID, userID, out.EnrollmentID,
	).Scan(&out.LessonsTotal, &out.LessonsCompleted, &out.QuizzesTotal, &out.QuizzesPassed)
	if err != nil {
		return nil, fmt.Errorf("count progress: %w", err)
	}
	out.Percentage = percentage(out.LessonsCompleted+out.QuizzesPassed, out.LessonsTotal+out.QuizzesTotal)
	return &out, nil
}

func courseKey(courseID, userID uuid.UUID) string {
	return "metrics:curso:" + courseID.String() + ":" + userID.String()
}

func generalKey(userID uuid.UUID) string {
	return "metrics:general:" + userID.String()
}

func (s *Service) CourseMetrics(ctx context.Context, courseID, userID uuid.UUID) (*CourseMetrics, error) {
	var out CourseMetrics
	if s.cached(ctx, courseKey(courseID, userID), &out) {
		return &out, nil
	}

	var enrolled bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM inscripcion_curso WHERE usuario_id = $1 AND curso_id = $2)`,
		userID, courseID).Scan(&enrolled); err != nil {
		return nil, fmt.Errorf("check enrollment: %w", err)
	}
	if !enrolled {
		return nil, ErrNotEnrolled
	}

	out.CourseID = courseID
	var err error
	if out.Progress, err = s.progressRank(ctx, courseID, userID); err != nil {
		return nil, err
	}
	if out.Scores, err = s.scoreRank(ctx, courseID, userID); err != nil {
		return nil, err
	}
	s.store(ctx, courseKey(courseID, userID), out)
	return &out, nil
}

func (s *Service) progressRank(ctx context.Context, courseID, userID uuid.UUID) (ProgressRank, error) {
	var (
		out                   ProgressRank
		ranking, total        sql.NullInt64
		pctl, avg, maxV, minV sql.NullFloat64
		pct                   sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		WITH quizzes AS (
			SELECT DISTINCT q.id
			FROM quiz q
			JOIN leccion l ON l.id = q.leccion_id
			JOIN modulo_curso mc ON mc.modulo_id = l.modulo_id
			WHERE mc.curso_id = $1 AND q.publicado
		),
		progreso AS (
			SELECT ic.usuario_id,
			       COALESCE(
			           (SELECT COUNT(DISTINCT i.quiz_id) FROM intento i
			            WHERE i.inscripcion_curso_id = ic.id AND i.resultado = 'APROBADO'
			              AND i.quiz_id IN (SELECT id FROM quizzes)) * 100.0
			           / NULLIF((SELECT COUNT(*) FROM quizzes), 0),
			           0)::float8 AS pct
			FROM inscripcion_curso ic
			WHERE ic.curso_id = $1
		),
		metricas AS (
			SELECT usuario_id, pct,
			       RANK() OVER (ORDER BY pct DESC) AS ranking,
			       (PERCENT_RANK() OVER (ORDER BY pct) * 100)::float8 AS percentil,
			       AVG(pct) OVER ()::float8 AS promedio,
			       COUNT(*) OVER () AS total,
			       MAX(pct) OVER () AS maximo,
			       MIN(pct) OVER () AS minimo
			FROM progreso
		)
		SELECT ranking, percentil, promedio, total, maximo, minimo, pct
		FROM metricas WHERE usuario_id = $2`, courseID, userID,
	).Scan(&ranking, &pctl, &avg, &total, &maxV, &minV, &pct)
	if errors.Is(err, sql.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("progress ranking: %w", err)
	}
	out.Ranking = intPtr(ranking)
	out.Percentile = floatPtr(pctl)
	out.CourseAverage = floatPtr(avg)
	out.Students = int(total.Int64)
	out.Max = floatPtr(maxV)
	out.Min = floatPtr(minV)
	out.Percentage = pct.Float64
	return out, nil
}

func (s *Service) scoreRank(ctx context.Context, courseID, userID uuid.UUID) (ScoreRank, error) {
	var (
		out                       ScoreRank
		ranking, total            sql.NullInt64
		pctl, avg, maxV, minV, me sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		WITH puntajes AS (
			SELECT ic.usuario_id, AVG(i.puntaje)::float8 AS promedio
			FROM inscripcion_curso ic
			JOIN intento i ON i.inscripcion_curso_id = ic.id
			WHERE ic.curso_id = $1 AND i.puntaje IS NOT NULL
			GROUP BY ic.usuario_id
		),
		metricas AS (
			SELECT usuario_id, promedio,
			       RANK() OVER (ORDER BY promedio DESC) AS ranking,
			       (PERCENT_RANK() OVER (ORDER BY promedio) * 100)::float8 AS percentil,
			       AVG(promedio) OVER ()::float8 AS promedio_curso,
			       COUNT(*) OVER () AS total,
			       MAX(promedio) OVER () AS maximo,
			       MIN(promedio) OVER () AS minimo
			FROM puntajes
		)
		SELECT ranking, percentil, promedio_curso, total, maximo, minimo, promedio
		FROM metricas WHERE usuario_id = $2`, courseID, userID,
	).Scan(&ranking, &pctl, &avg, &total, &maxV, &minV, &me)
	if errors.Is(err, sql.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("score ranking: %w", err)
	}
	out.Ranking = intPtr(ranking)
	out.Percentile = floatPtr(pctl)
	out.CourseAverage = floatPtr(avg)
	out.Students = int(total.Int64)
	out.Max = floatPtr(maxV)
	out.Min = floatPtr(minV)
	out.Average = floatPtr(me)
	return out, nil
}

func (s *Service) GeneralMetrics(ctx context.Context, userID uuid.UUID) (*GeneralMetrics, error) {
	var out GeneralMetrics
	if s.cached(ctx, generalKey(userID), &out) {
		return &out, nil
	}
	var (
		ranking, users, done, total sql.NullInt64
		pctl, avg, pct              sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		WITH completados AS (
			SELECT usuario_id,
			       COUNT(*) FILTER (WHERE estado = 'CONCLUIDA') AS hechos,
			       COUNT(*) AS total
			FROM inscripcion_curso
			GROUP BY usuario_id
		),
		metricas AS (
			SELECT usuario_id, hechos, total,
			       (hechos * 100.0 / NULLIF(total, 0))::float8 AS porcentaje,
			       RANK() OVER (ORDER BY hechos DESC) AS ranking,
			       (PERCENT_RANK() OVER (ORDER BY hechos) * 100)::float8 AS percentil,
			       AVG(hechos) OVER ()::float8 AS promedio,
			       COUNT(*) OVER () AS usuarios
			FROM completados
		)
		SELECT ranking, percentil, promedio, usuarios, hechos, total, porcentaje
		FROM metricas WHERE usuario_id = $1`, userID,
	).Scan(&ranking, &pctl, &avg, &users, &done, &total, &pct)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("general metrics: %w", err)
	}
	if err == nil {
		out.Ranking = intPtr(ranking)
		out.Percentile = floatPtr(pctl)
		out.AverageCompleted = floatPtr(avg)
		out.Users = int(users.Int64)
		out.Completed = int(done.Int64)
		out.Total = int(total.Int64)
		out.Percentage = pct.Float64
	}
	s.store(ctx, generalKey(userID), out)
	return &out, nil
}

func (s *Service) cached(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.log.Warn("metrics cache read failed", "key", key, "error", err)
		}
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (s *Service) store(ctx context.Context, key string, v any) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		s.log.Warn("metrics cache write failed", "key", key, "error", err)
	}
}

func (s *Service) invalidate(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		s.log.Warn("metrics cache delete failed", "key", key, "error", err)
	}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
