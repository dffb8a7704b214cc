package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ebslms/internal/db"

	"github.com/google/uuid"
)

// ValidateLessonAccess allows privileged users on any existing lesson and
// students on published lessons of a course they are enrolled in.
func ValidateLessonAccess(ctx context.Context, q db.Querier, lessonID, userID uuid.UUID, privileged bool) error {
	var published bool
	err := q.QueryRowContext(ctx, `SELECT publicado FROM leccion WHERE id = $1`, lessonID).Scan(&published)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrLessonNotFound
	}
	if err != nil {
		return fmt.Errorf("load lesson: %w", err)
	}
	if privileged {
		return nil
	}
	if !published {
		return ErrLessonNotFound
	}

	var enrolled bool
	if err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM leccion l
			JOIN modulo_curso mc ON mc.modulo_id = l.modulo_id
			JOIN inscripcion_curso ic ON ic.curso_id = mc.curso_id
			WHERE l.id = $1 AND ic.usuario_id = $2
		)
	`, lessonID, userID).Scan(&enrolled); err != nil {
		return fmt.Errorf("check lesson enrollment: %w", err)
	}
	if !enrolled {
		return ErrNoLessonAccess
	}
	return nil
}

// LessonInCourse reports whether the lesson's module is attached to the course.
func LessonInCourse(ctx context.Context, q db.Querier, lessonID, courseID uuid.UUID) (bool, error) {
	var ok bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM leccion l
			JOIN modulo_curso mc ON mc.modulo_id = l.modulo_id
			WHERE l.id = $1 AND mc.curso_id = $2
		)
	`, lessonID, courseID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check lesson course: %w", err)
	}
	return ok, nil
}

func (s *Service) ValidateLessonAccess(ctx context.Context, lessonID, userID uuid.UUID, privileged bool) error {
	return ValidateLessonAccess(ctx, s.db, lessonID, userID, privileged)
}
