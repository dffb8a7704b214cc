// Package storage puts generated certificates and study guides in object storage
// and hands out time-limited download links for them.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObjectStore is implemented by the S3 and GCS drivers.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

const (
	certificatePrefix = "certificados"
	studyGuidePrefix  = "guias-estudio"
)

func CertificateKey(certificateID uuid.UUID) string {
	return fmt.Sprintf("%s/%s.pdf", certificatePrefix, certificateID)
}

// StudyGuideKey builds the key for an uploaded guide. Only the base name of filename is kept.
func StudyGuideKey(guideID uuid.UUID, filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "guia.pdf"
	}
	return fmt.Sprintf("%s/%s/%s", studyGuidePrefix, guideID, name)
}

func contentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(strings.TrimSpace(key))) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
