package forum

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ebslms/internal/apperr"
	"ebslms/internal/course"
	"ebslms/internal/platform/logger"

	"github.com/google/uuid"
)

var (
	ErrCommentNotFound   = apperr.NotFound("comment not found")
	ErrLessonNotInCourse = apperr.NotFound("lesson does not belong to this course")
	ErrNotAuthor         = apperr.Forbidden("only the author can change this comment")
)

type Comment struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"usuario_id"`
	AuthorName string    `json:"autor"`
	CourseID   uuid.UUID `json:"curso_id"`
	LessonID   uuid.UUID `json:"leccion_id"`
	Body       string    `json:"contenido"`
	CreatedAt  time.Time `json:"creado_en"`
	UpdatedAt  time.Time `json:"actualizado_en"`
}

type CommentInput struct {
	Body string `json:"contenido" validate:"required,max=5000"`
}

// Thread identifies the comments of one lesson inside one course.
type Thread struct {
	CourseID uuid.UUID
	LessonID uuid.UUID
}

type Service struct {
	db  *sql.DB
	log *logger.Logger
}

func NewService(conn *sql.DB, log *logger.Logger) *Service {
	return &Service{db: conn, log: log.With("service", "ForumService")}
}

const selectComment = `
	SELECT f.id, f.usuario_id, TRIM(u.nombre || ' ' || u.apellido), f.curso_id, f.leccion_id,
	       f.contenido, f.creado_en, f.actualizado_en
	FROM foro_comentario f
	JOIN usuario u ON u.id = f.usuario_id
`

func scanComment(row interface{ Scan(...any) error }) (*Comment, error) {
	var c Comment
	if err := row.Scan(&c.ID, &c.UserID, &c.AuthorName, &c.CourseID, &c.LessonID, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) checkThread(ctx context.Context, t Thread, userID uuid.UUID, privileged bool) error {
	ok, err := course.LessonInCourse(ctx, s.db, t.LessonID, t.CourseID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLessonNotInCourse
	}
	return course.ValidateLessonAccess(ctx, s.db, t.LessonID, userID, privileged)
}

func (s *Service) List(ctx context.Context, t Thread, userID uuid.UUID, privileged bool) ([]Comment, error) {
	if err := s.checkThread(ctx, t, userID, privileged); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, selectComment+`
		WHERE f.curso_id = $1 AND f.leccion_id = $2
		ORDER BY f.creado_en ASC, f.id`, t.CourseID, t.LessonID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	out := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Service) Create(ctx context.Context, t Thread, userID uuid.UUID, privileged bool, in CommentInput) (*Comment, error) {
	if err := s.checkThread(ctx, t, userID, privileged); err != nil {
		return nil, err
	}
	var id uuid.UUID
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO foro_comentario (usuario_id, curso_id, leccion_id, contenido)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		userID, t.CourseID, t.LessonID, strings.TrimSpace(in.Body)).Scan(&id); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return s.get(ctx, id)
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*Comment, error) {
	c, err := scanComment(s.db.QueryRowContext(ctx, selectComment+` WHERE f.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCommentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return c, nil
}

func (s *Service) Update(ctx context.Context, id, userID uuid.UUID, in CommentInput) (*Comment, error) {
	c, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrNotAuthor
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE foro_comentario SET contenido = $2, actualizado_en = now() WHERE id = $1`,
		id, strings.TrimSpace(in.Body)); err != nil {
		return nil, fmt.Errorf("update comment: %w", err)
	}
	return s.get(ctx, id)
}

// Delete lets the author or an admin remove a comment.
func (s *Service) Delete(ctx context.Context, id, userID uuid.UUID, admin bool) error {
	c, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if c.UserID != userID && !admin {
		return ErrNotAuthor
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM foro_comentario WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	s.log.Info("comment deleted", "comment_id", id, "by", userID, "admin", admin)
	return nil
}
