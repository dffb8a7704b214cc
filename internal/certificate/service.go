package certificate

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ebslms/internal/db"
	"ebslms/internal/platform/logger"
	"ebslms/internal/storage"

	"github.com/google/uuid"
)

// Enqueuer schedules background generation of a certificate.
type Enqueuer interface {
	Enqueue(certificateID uuid.UUID)
}

type Service struct {
	db         *sql.DB
	log        *logger.Logger
	store      storage.ObjectStore
	queue      Enqueuer
	presignTTL time.Duration
}

func NewService(conn *sql.DB, store storage.ObjectStore, queue Enqueuer, presignTTL time.Duration, log *logger.Logger) *Service {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &Service{
		db:         conn,
		log:        log.With("service", "CertificateService"),
		store:      store,
		queue:      queue,
		presignTTL: presignTTL,
	}
}

const selectCertificate = `
	SELECT c.id, c.inscripcion_curso_id, ic.usuario_id, ic.curso_id, cu.titulo,
	       c.quiz_id, c.examen_final_id, c.intento_id, c.folio, c.hash_verificacion,
	       c.s3_key, c.emitido_en, c.valido
	FROM certificado c
	JOIN inscripcion_curso ic ON ic.id = c.inscripcion_curso_id
	JOIN curso cu ON cu.id = ic.curso_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (*Certificate, error) {
	var (
		c                         Certificate
		quizID, examID, attemptID uuid.NullUUID
		folio, hash, key          sql.NullString
	)
	if err := row.Scan(&c.ID, &c.EnrollmentID, &c.UserID, &c.CourseID, &c.CourseTitle,
		&quizID, &examID, &attemptID, &folio, &hash, &key, &c.IssuedAt, &c.Valid); err != nil {
		return nil, err
	}
	if quizID.Valid {
		c.QuizID = &quizID.UUID
	}
	if examID.Valid {
		c.ExamID = &examID.UUID
	}
	if attemptID.Valid {
		c.AttemptID = &attemptID.UUID
	}
	if folio.Valid {
		c.Folio = &folio.String
	}
	if hash.Valid {
		c.Hash = &hash.String
	}
	if key.Valid {
		c.S3Key = &key.String
	}
	c.setStatus()
	return &c, nil
}

func loadCertificate(ctx context.Context, q db.Querier, id uuid.UUID, forUpdate bool) (*Certificate, error) {
	query := selectCertificate + ` WHERE c.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF c`
	}
	c, err := scanCertificate(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCertificateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return c, nil
}

// EnsureRecord returns the certificate row of an enrollment, creating it when
// missing. It runs inside the caller's transaction.
func (s *Service) EnsureRecord(ctx context.Context, q db.Querier, enrollmentID uuid.UUID, examID, attemptID *uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRowContext(ctx, `
		INSERT INTO certificado (inscripcion_curso_id, examen_final_id, intento_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (inscripcion_curso_id) DO NOTHING
		RETURNING id
	`, enrollmentID, examID, attemptID).Scan(&id)
	if err == nil {
		s.log.Info("certificate record created", "certificate_id", id, "enrollment_id", enrollmentID)
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		if db.IsForeignKeyViolation(err) {
			return uuid.Nil, ErrEnrollmentNotFound
		}
		return uuid.Nil, fmt.Errorf("insert certificate: %w", err)
	}
	if err := q.QueryRowContext(ctx, `
		SELECT id FROM certificado WHERE inscripcion_curso_id = $1
	`, enrollmentID).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("load certificate for enrollment: %w", err)
	}
	return id, nil
}

func (s *Service) Enqueue(id uuid.UUID) {
	if s.queue == nil {
		s.log.Warn("certificate queue not configured", "certificate_id", id)
		return
	}
	s.queue.Enqueue(id)
}

func (s *Service) ListMine(ctx context.Context, userID uuid.UUID) ([]Certificate, error) {
	return s.list(ctx, `WHERE ic.usuario_id = $1`, userID)
}

func (s *Service) ListByEnrollment(ctx context.Context, enrollmentID, viewerID uuid.UUID, privileged bool) ([]Certificate, error) {
	if !privileged {
		var owner uuid.UUID
		err := s.db.QueryRowContext(ctx, `SELECT usuario_id FROM inscripcion_curso WHERE id = $1`, enrollmentID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load enrollment owner: %w", err)
		}
		if owner != viewerID {
			return nil, ErrNotOwner
		}
	}
	return s.list(ctx, `WHERE c.inscripcion_curso_id = $1`, enrollmentID)
}

func (s *Service) list(ctx context.Context, where string, arg any) ([]Certificate, error) {
	rows, err := s.db.QueryContext(ctx, selectCertificate+where+` ORDER BY c.emitido_en DESC`, arg)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()
	out := make([]Certificate, 0)
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Get returns a certificate with a presigned download link once generated.
func (s *Service) Get(ctx context.Context, id, viewerID uuid.UUID, privileged bool) (*Certificate, error) {
	c, err := loadCertificate(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if c.UserID != viewerID && !privileged {
		return nil, ErrNotOwner
	}
	if c.Generated() && c.Valid && s.store != nil {
		url, err := s.store.PresignGet(ctx, *c.S3Key, s.presignTTL)
		if err != nil {
			s.log.Warn("presign certificate failed", "certificate_id", c.ID, "error", err)
		} else {
			c.DownloadURL = url
		}
	}
	return c, nil
}

func (s *Service) Status(ctx context.Context, id, viewerID uuid.UUID, privileged bool) (*StatusView, error) {
	c, err := loadCertificate(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if c.UserID != viewerID && !privileged {
		return nil, ErrNotOwner
	}
	return &StatusView{ID: c.ID, Status: c.Status, Folio: c.Folio}, nil
}

// Verify checks a public verification hash. Unknown ids and mismatching hashes
// both answer valido=false.
func (s *Service) Verify(ctx context.Context, id uuid.UUID, hash string) (*Verification, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	c, err := loadCertificate(ctx, s.db, id, false)
	if errors.Is(err, ErrCertificateNotFound) {
		return &Verification{}, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Hash == nil || hash == "" || subtle.ConstantTimeCompare([]byte(*c.Hash), []byte(hash)) != 1 || !c.Valid {
		return &Verification{}, nil
	}
	var holder string
	if err := s.db.QueryRowContext(ctx, `
		SELECT TRIM(nombre || ' ' || apellido) FROM usuario WHERE id = $1
	`, c.UserID).Scan(&holder); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load certificate holder: %w", err)
	}
	issued := c.IssuedAt
	v := &Verification{Valid: true, Holder: holder, CourseTitle: c.CourseTitle, IssuedAt: &issued}
	if c.Folio != nil {
		v.Folio = *c.Folio
	}
	return v, nil
}

// Request asks for the certificate of an accredited enrollment. An already
// generated certificate is returned as is; otherwise generation is queued.
func (s *Service) Request(ctx context.Context, enrollmentID, userID uuid.UUID, privileged bool) (*Certificate, error) {
	var id uuid.UUID
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var (
			owner      uuid.UUID
			accredited bool
		)
		err := tx.QueryRowContext(ctx, `
			SELECT usuario_id, acreditado FROM inscripcion_curso WHERE id = $1 FOR UPDATE
		`, enrollmentID).Scan(&owner, &accredited)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEnrollmentNotFound
		}
		if err != nil {
			return fmt.Errorf("load enrollment: %w", err)
		}
		if owner != userID && !privileged {
			return ErrNotOwner
		}
		if !accredited {
			return ErrNotAccredited
		}
		id, err = s.EnsureRecord(ctx, tx, enrollmentID, nil, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	c, err := loadCertificate(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	if !c.Valid {
		return nil, ErrInvalidCertificate
	}
	if !c.Generated() {
		s.Enqueue(c.ID)
	}
	return c, nil
}

// Issue is the entry point for external accreditation evaluators.
func (s *Service) Issue(ctx context.Context, enrollmentID uuid.UUID) (*Certificate, error) {
	return s.Request(ctx, enrollmentID, uuid.Nil, true)
}
