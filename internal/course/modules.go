package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ebslms/internal/db"

	"github.com/google/uuid"
)

func scanModule(row rowScanner, withSlot bool) (*Module, error) {
	var (
		m          Module
		start, end time.Time
		slot       sql.NullInt32
	)
	dest := []any{&m.ID, &m.Title, &start, &end, &m.Published}
	if withSlot {
		dest = append(dest, &slot)
	}
	dest = append(dest, &m.CreatedAt, &m.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.StartDate, m.EndDate = start.Format(dateLayout), end.Format(dateLayout)
	if slot.Valid {
		n := int(slot.Int32)
		m.Slot = &n
	}
	return &m, nil
}

func (s *Service) queryModules(ctx context.Context, withSlot bool, q string, args ...any) ([]Module, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	defer rows.Close()
	out := make([]Module, 0)
	for rows.Next() {
		m, err := scanModule(rows, withSlot)
		if err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

const moduleColumns = `id, titulo, fecha_inicio, fecha_fin, publicado, creado_en, actualizado_en`

func (s *Service) ListModules(ctx context.Context, includeDrafts bool, skip, limit int) ([]Module, error) {
	q := `SELECT ` + moduleColumns + ` FROM modulo`
	if !includeDrafts {
		q += ` WHERE publicado = TRUE`
	}
	q += ` ORDER BY fecha_inicio, titulo LIMIT $1 OFFSET $2`
	return s.queryModules(ctx, false, q, limit, skip)
}

func (s *Service) GetModule(ctx context.Context, id uuid.UUID, includeDrafts bool) (*Module, error) {
	m, err := scanModule(s.db.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modulo WHERE id = $1`, id), false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrModuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get module: %w", err)
	}
	if !m.Published && !includeDrafts {
		return nil, ErrModuleNotFound
	}
	return m, nil
}

func (s *Service) CreateModule(ctx context.Context, in ModuleInput) (*Module, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	m, err := scanModule(s.db.QueryRowContext(ctx, `
		INSERT INTO modulo (titulo, fecha_inicio, fecha_fin, publicado)
		VALUES ($1, $2::date, $3::date, $4)
		RETURNING `+moduleColumns,
		strings.TrimSpace(in.Title), in.StartDate, in.EndDate, boolOr(in.Published, false)), false)
	if db.IsCheckViolation(err) {
		return nil, ErrInvalidDates
	}
	if err != nil {
		return nil, fmt.Errorf("create module: %w", err)
	}
	return m, nil
}

func (s *Service) UpdateModule(ctx context.Context, id uuid.UUID, in ModuleInput) (*Module, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	m, err := scanModule(s.db.QueryRowContext(ctx, `
		UPDATE modulo
		SET titulo = $2, fecha_inicio = $3::date, fecha_fin = $4::date,
		    publicado = COALESCE($5, publicado), actualizado_en = now()
		WHERE id = $1
		RETURNING `+moduleColumns,
		id, strings.TrimSpace(in.Title), in.StartDate, in.EndDate, in.Published), false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrModuleNotFound
	}
	if db.IsCheckViolation(err) {
		return nil, ErrInvalidDates
	}
	if err != nil {
		return nil, fmt.Errorf("update module: %w", err)
	}
	return m, nil
}

func (s *Service) ListModuleCourses(ctx context.Context, moduleID uuid.UUID, includeDrafts bool) ([]Course, error) {
	if _, err := s.GetModule(ctx, moduleID, includeDrafts); err != nil {
		return nil, err
	}
	q := `
		SELECT c.id, c.titulo, c.descripcion, c.publicado, c.creado_en, c.actualizado_en
		FROM curso c
		JOIN modulo_curso mc ON mc.curso_id = c.id
		WHERE mc.modulo_id = $1`
	if !includeDrafts {
		q += ` AND c.publicado = TRUE`
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY mc.slot`, moduleID)
	if err != nil {
		return nil, fmt.Errorf("list module courses: %w", err)
	}
	defer rows.Close()
	out := make([]Course, 0)
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// AttachModule links a module to a course at the given slot.
func (s *Service) AttachModule(ctx context.Context, moduleID uuid.UUID, in AttachInput) (*Module, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO modulo_curso (modulo_id, curso_id, slot) VALUES ($1, $2, $3)
	`, moduleID, in.CourseID, in.Slot)
	switch {
	case db.IsUniqueViolation(err, "uq_modulo_slot"):
		return nil, ErrSlotTaken
	case db.IsUniqueViolation(err, "uq_modulo_curso"):
		return nil, ErrAlreadyAttached
	case db.IsForeignKeyViolation(err):
		var exists bool
		_ = s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM modulo WHERE id = $1)`, moduleID).Scan(&exists)
		if !exists {
			return nil, ErrModuleNotFound
		}
		return nil, ErrCourseNotFound
	case err != nil:
		return nil, fmt.Errorf("attach module: %w", err)
	}
	m, err := s.GetModule(ctx, moduleID, true)
	if err != nil {
		return nil, err
	}
	m.Slot = &in.Slot
	return m, nil
}

const lessonColumns = `id, modulo_id, titulo, orden, publicado, creado_en, actualizado_en`

func scanLesson(row rowScanner) (*Lesson, error) {
	var (
		l     Lesson
		order sql.NullInt32
	)
	if err := row.Scan(&l.ID, &l.ModuleID, &l.Title, &order, &l.Published, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if order.Valid {
		n := int(order.Int32)
		l.Order = &n
	}
	return &l, nil
}

func (s *Service) ListModuleLessons(ctx context.Context, moduleID uuid.UUID, includeDrafts bool) ([]Lesson, error) {
	if _, err := s.GetModule(ctx, moduleID, includeDrafts); err != nil {
		return nil, err
	}
	q := `SELECT ` + lessonColumns + ` FROM leccion WHERE modulo_id = $1`
	if !includeDrafts {
		q += ` AND publicado = TRUE`
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY orden NULLS LAST, creado_en`, moduleID)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer rows.Close()
	out := make([]Lesson, 0)
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *Service) GetLesson(ctx context.Context, id, userID uuid.UUID, privileged bool) (*Lesson, error) {
	if err := ValidateLessonAccess(ctx, s.db, id, userID, privileged); err != nil {
		return nil, err
	}
	l, err := scanLesson(s.db.QueryRowContext(ctx, `SELECT `+lessonColumns+` FROM leccion WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	return l, nil
}

func (s *Service) CreateLesson(ctx context.Context, in LessonInput) (*Lesson, error) {
	l, err := scanLesson(s.db.QueryRowContext(ctx, `
		INSERT INTO leccion (modulo_id, titulo, orden, publicado)
		VALUES ($1, $2, $3, $4)
		RETURNING `+lessonColumns,
		in.ModuleID, strings.TrimSpace(in.Title), in.Order, boolOr(in.Published, false)))
	if db.IsForeignKeyViolation(err) {
		return nil, ErrModuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("create lesson: %w", err)
	}
	return l, nil
}

func (s *Service) UpdateLesson(ctx context.Context, id uuid.UUID, in LessonInput) (*Lesson, error) {
	l, err := scanLesson(s.db.QueryRowContext(ctx, `
		UPDATE leccion
		SET modulo_id = $2, titulo = $3, orden = $4,
		    publicado = COALESCE($5, publicado), actualizado_en = now()
		WHERE id = $1
		RETURNING `+lessonColumns,
		id, in.ModuleID, strings.TrimSpace(in.Title), in.Order, in.Published))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLessonNotFound
	}
	if db.IsForeignKeyViolation(err) {
		return nil, ErrModuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update lesson: %w", err)
	}
	return l, nil
}

const contentColumns = `id, leccion_id, tipo, titulo, descripcion, url, orden, creado_en`

func scanContent(row rowScanner) (*Content, error) {
	var (
		c                 Content
		title, desc, link sql.NullString
		order             sql.NullInt32
	)
	if err := row.Scan(&c.ID, &c.LessonID, &c.Type, &title, &desc, &link, &order, &c.CreatedAt); err != nil {
		return nil, err
	}
	if title.Valid {
		c.Title = &title.String
	}
	if desc.Valid {
		c.Description = &desc.String
	}
	if link.Valid {
		c.URL = &link.String
	}
	if order.Valid {
		n := int(order.Int32)
		c.Order = &n
	}
	return &c, nil
}

func (s *Service) ListContents(ctx context.Context, lessonID, userID uuid.UUID, privileged bool) ([]Content, error) {
	if err := ValidateLessonAccess(ctx, s.db, lessonID, userID, privileged); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contentColumns+` FROM leccion_contenido
		WHERE leccion_id = $1
		ORDER BY orden NULLS LAST, creado_en
	`, lessonID)
	if err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}
	defer rows.Close()
	out := make([]Content, 0)
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Service) CreateContent(ctx context.Context, in ContentInput) (*Content, error) {
	c, err := scanContent(s.db.QueryRowContext(ctx, `
		INSERT INTO leccion_contenido (leccion_id, tipo, titulo, descripcion, url, orden)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+contentColumns,
		in.LessonID, in.Type, in.Title, in.Description, in.URL, in.Order))
	if db.IsForeignKeyViolation(err) {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("create content: %w", err)
	}
	return c, nil
}

func (s *Service) UpdateContent(ctx context.Context, id uuid.UUID, in ContentInput) (*Content, error) {
	c, err := scanContent(s.db.QueryRowContext(ctx, `
		UPDATE leccion_contenido
		SET leccion_id = $2, tipo = $3, titulo = $4, descripcion = $5, url = $6, orden = $7
		WHERE id = $1
		RETURNING `+contentColumns,
		id, in.LessonID, in.Type, in.Title, in.Description, in.URL, in.Order))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContentNotFound
	}
	if db.IsForeignKeyViolation(err) {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update content: %w", err)
	}
	return c, nil
}

func (s *Service) DeleteContent(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM leccion_contenido WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrContentNotFound
	}
	return nil
}
