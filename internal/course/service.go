package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ebslms/internal/db"
	"ebslms/internal/platform/logger"
	"ebslms/internal/storage"

	"github.com/google/uuid"
)

type Service struct {
	db         *sql.DB
	log        *logger.Logger
	store      storage.ObjectStore
	presignTTL time.Duration
}

func NewService(conn *sql.DB, store storage.ObjectStore, presignTTL time.Duration, log *logger.Logger) *Service {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &Service{
		db:         conn,
		log:        log.With("service", "CourseService"),
		store:      store,
		presignTTL: presignTTL,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const selectCourse = `SELECT id, titulo, descripcion, publicado, creado_en, actualizado_en FROM curso`

func scanCourse(row rowScanner) (*Course, error) {
	var (
		c    Course
		desc sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Title, &desc, &c.Published, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if desc.Valid {
		c.Description = &desc.String
	}
	return &c, nil
}

// List returns courses; students only see published ones.
func (s *Service) List(ctx context.Context, includeDrafts bool, skip, limit int) ([]Course, error) {
	q := selectCourse
	if !includeDrafts {
		q += ` WHERE publicado = TRUE`
	}
	q += ` ORDER BY titulo LIMIT $1 OFFSET $2`
	rows, err := s.db.QueryContext(ctx, q, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
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

func (s *Service) Get(ctx context.Context, id uuid.UUID, includeDrafts bool) (*Course, error) {
	c, err := scanCourse(s.db.QueryRowContext(ctx, selectCourse+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	if !c.Published && !includeDrafts {
		return nil, ErrCourseNotFound
	}
	return c, nil
}

func (s *Service) Create(ctx context.Context, in CourseInput) (*Course, error) {
	c, err := scanCourse(s.db.QueryRowContext(ctx, `
		INSERT INTO curso (titulo, descripcion, publicado)
		VALUES ($1, $2, $3)
		RETURNING id, titulo, descripcion, publicado, creado_en, actualizado_en
	`, strings.TrimSpace(in.Title), in.Description, boolOr(in.Published, false)))
	if err != nil {
		return nil, fmt.Errorf("create course: %w", err)
	}
	s.log.Info("course created", "course_id", c.ID)
	return c, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, in CourseInput) (*Course, error) {
	c, err := scanCourse(s.db.QueryRowContext(ctx, `
		UPDATE curso
		SET titulo = $2,
		    descripcion = COALESCE($3, descripcion),
		    publicado = COALESCE($4, publicado),
		    actualizado_en = now()
		WHERE id = $1
		RETURNING id, titulo, descripcion, publicado, creado_en, actualizado_en
	`, id, strings.TrimSpace(in.Title), in.Description, in.Published))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update course: %w", err)
	}
	return c, nil
}

func (s *Service) ListCourseModules(ctx context.Context, courseID uuid.UUID, includeDrafts bool) ([]Module, error) {
	if _, err := s.Get(ctx, courseID, includeDrafts); err != nil {
		return nil, err
	}
	q := `
		SELECT m.id, m.titulo, m.fecha_inicio, m.fecha_fin, m.publicado, mc.slot, m.creado_en, m.actualizado_en
		FROM modulo m
		JOIN modulo_curso mc ON mc.modulo_id = m.id
		WHERE mc.curso_id = $1`
	if !includeDrafts {
		q += ` AND m.publicado = TRUE`
	}
	q += ` ORDER BY mc.slot, m.fecha_inicio`
	return s.queryModules(ctx, true, q, courseID)
}

const selectGuide = `SELECT id, curso_id, titulo, url, s3_key, activo, creado_en FROM guia_estudio`

func scanGuide(row rowScanner) (*StudyGuide, error) {
	var (
		g        StudyGuide
		url, key sql.NullString
	)
	if err := row.Scan(&g.ID, &g.CourseID, &g.Title, &url, &key, &g.Active, &g.CreatedAt); err != nil {
		return nil, err
	}
	if url.Valid {
		g.URL = &url.String
	}
	if key.Valid {
		g.S3Key = &key.String
	}
	return &g, nil
}

// ListGuides returns active study guides. Stored objects get a presigned
// download link; the raw key is not exposed to students.
func (s *Service) ListGuides(ctx context.Context, courseID uuid.UUID, includeDrafts bool) ([]StudyGuide, error) {
	if _, err := s.Get(ctx, courseID, includeDrafts); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, selectGuide+` WHERE curso_id = $1 AND activo = TRUE ORDER BY creado_en`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list study guides: %w", err)
	}
	defer rows.Close()
	out := make([]StudyGuide, 0)
	for rows.Next() {
		g, err := scanGuide(rows)
		if err != nil {
			return nil, fmt.Errorf("scan study guide: %w", err)
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		s.sign(ctx, &out[i])
		if !includeDrafts {
			out[i].S3Key = nil
		}
	}
	return out, nil
}

func (s *Service) sign(ctx context.Context, g *StudyGuide) {
	if g.S3Key == nil || s.store == nil {
		return
	}
	url, err := s.store.PresignGet(ctx, *g.S3Key, s.presignTTL)
	if err != nil {
		s.log.Warn("presign study guide failed", "guide_id", g.ID, "error", err)
		return
	}
	g.DownloadURL = url
}

// CreateGuide registers an external link or an object that was uploaded
// out of band.
func (s *Service) CreateGuide(ctx context.Context, courseID uuid.UUID, in GuideInput) (*StudyGuide, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.S3Key != nil && *in.S3Key != "" {
		if s.store == nil {
			return nil, ErrStorageDisabled
		}
		ok, err := s.store.Exists(ctx, *in.S3Key)
		if err != nil {
			return nil, fmt.Errorf("check study guide object: %w", err)
		}
		if !ok {
			return nil, ErrObjectMissing
		}
	}
	return s.insertGuide(ctx, s.db, uuid.New(), courseID, in)
}

// UploadGuide stores the file and registers it in one step.
func (s *Service) UploadGuide(ctx context.Context, courseID uuid.UUID, title, filename string, body io.Reader, size int64) (*StudyGuide, error) {
	if s.store == nil {
		return nil, ErrStorageDisabled
	}
	if strings.TrimSpace(filename) == "" {
		return nil, ErrUnknownGuideFile
	}
	if _, err := s.Get(ctx, courseID, true); err != nil {
		return nil, err
	}
	id := uuid.New()
	key := storage.StudyGuideKey(id, filename)
	if err := s.store.Put(ctx, key, body, size, ""); err != nil {
		return nil, fmt.Errorf("upload study guide: %w", err)
	}
	g, err := s.insertGuide(ctx, s.db, id, courseID, GuideInput{Title: title, S3Key: &key})
	if err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.log.Warn("cleanup orphan study guide failed", "key", key, "error", delErr)
		}
		return nil, err
	}
	s.sign(ctx, g)
	return g, nil
}

func (s *Service) insertGuide(ctx context.Context, q db.Querier, id, courseID uuid.UUID, in GuideInput) (*StudyGuide, error) {
	g, err := scanGuide(q.QueryRowContext(ctx, `
		INSERT INTO guia_estudio (id, curso_id, titulo, url, s3_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, curso_id, titulo, url, s3_key, activo, creado_en
	`, id, courseID, strings.TrimSpace(in.Title), in.URL, in.S3Key))
	if db.IsForeignKeyViolation(err) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("create study guide: %w", err)
	}
	return g, nil
}
