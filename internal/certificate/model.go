package certificate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"ebslms/internal/apperr"

	"github.com/google/uuid"
)

type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
)

var (
	ErrCertificateNotFound = apperr.NotFound("certificate not found")
	ErrEnrollmentNotFound  = apperr.NotFound("enrollment not found")
	ErrNotAccredited       = apperr.BusinessRule("NOT_ACCREDITED", "enrollment is not accredited")
	ErrNotOwner            = apperr.Forbidden("certificate belongs to another user")
	ErrInvalidCertificate  = apperr.BusinessRule("CERTIFICATE_REVOKED", "certificate is no longer valid")
)

type Certificate struct {
	ID           uuid.UUID  `json:"id"`
	EnrollmentID uuid.UUID  `json:"inscripcion_curso_id"`
	UserID       uuid.UUID  `json:"usuario_id"`
	CourseID     uuid.UUID  `json:"curso_id"`
	CourseTitle  string     `json:"curso_titulo"`
	QuizID       *uuid.UUID `json:"quiz_id,omitempty"`
	ExamID       *uuid.UUID `json:"examen_final_id,omitempty"`
	AttemptID    *uuid.UUID `json:"intento_id,omitempty"`
	Folio        *string    `json:"folio,omitempty"`
	Hash         *string    `json:"hash_verificacion,omitempty"`
	S3Key        *string    `json:"-"`
	IssuedAt     time.Time  `json:"emitido_en"`
	Valid        bool       `json:"valido"`
	Status       Status     `json:"estado"`
	DownloadURL  string     `json:"url_descarga,omitempty"`
}

func (c *Certificate) Generated() bool {
	return c.S3Key != nil && strings.TrimSpace(*c.S3Key) != ""
}

func (c *Certificate) setStatus() {
	if c.Generated() {
		c.Status = StatusCompleted
		return
	}
	c.Status = StatusProcessing
}

// Verification is the public answer to a hash check. Personal data is only
// returned when the hash matches a valid certificate.
type Verification struct {
	Valid       bool       `json:"valido"`
	Folio       string     `json:"folio,omitempty"`
	Holder      string     `json:"titular,omitempty"`
	CourseTitle string     `json:"curso_titulo,omitempty"`
	IssuedAt    *time.Time `json:"emitido_en,omitempty"`
}

type StatusView struct {
	ID     uuid.UUID `json:"id"`
	Status Status    `json:"estado"`
	Folio  *string   `json:"folio,omitempty"`
}

// Folio formats CERT-YYYYMMDD-XXXXXX, the suffix being six upper-case hex
// characters taken from the certificate id.
func Folio(id uuid.UUID, issuedAt time.Time) string {
	suffix := strings.ToUpper(hex.EncodeToString(id[:3]))
	return fmt.Sprintf("CERT-%s-%s", issuedAt.UTC().Format("20060102"), suffix)
}

const maxFolioTries = 8

// pickFolio starts from the id-derived folio and falls back to random
// suffixes while taken reports the candidate as already issued.
func pickFolio(id uuid.UUID, issuedAt time.Time, taken func(folio string) (bool, error)) (string, error) {
	candidate := Folio(id, issuedAt)
	for i := 0; i < maxFolioTries; i++ {
		used, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
		candidate = Folio(uuid.New(), issuedAt)
	}
	return "", fmt.Errorf("no free folio for %s after %d tries", id, maxFolioTries)
}

func VerificationHash(id, userID, courseID uuid.UUID, folio string, issuedAt time.Time) string {
	payload := fmt.Sprintf("%s:%s:%s:%s:%s", id, userID, courseID, folio, issuedAt.UTC().Format(time.RFC3339))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
