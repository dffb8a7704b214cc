package certificate

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ebslms/internal/db"
	"ebslms/internal/notify"
	"ebslms/internal/platform/logger"
	"ebslms/internal/storage"

	"github.com/google/uuid"
)

// Locker guards generation across instances. *cache.Redis implements it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

type ReadyNotifier interface {
	CertificateReady(in notify.CertificateReady)
}

var errLocked = errors.New("certificate generation already running")

// Generator renders, uploads and stamps one certificate.
type Generator struct {
	db         *sql.DB
	log        *logger.Logger
	store      storage.ObjectStore
	renderer   Renderer
	locker     Locker
	notifier   ReadyNotifier
	presignTTL time.Duration
	now        func() time.Time
}

type GeneratorOptions struct {
	Locker     Locker
	Notifier   ReadyNotifier
	PresignTTL time.Duration
}

func NewGenerator(conn *sql.DB, store storage.ObjectStore, renderer Renderer, opts GeneratorOptions, log *logger.Logger) *Generator {
	ttl := opts.PresignTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Generator{
		db:         conn,
		log:        log.With("component", "CertificateGenerator"),
		store:      store,
		renderer:   renderer,
		locker:     opts.Locker,
		notifier:   opts.Notifier,
		presignTTL: ttl,
		now:        time.Now,
	}
}

type holder struct {
	email string
	name  string
}

// Generate is a no-op for certificates that already have an object key.
func (g *Generator) Generate(ctx context.Context, id uuid.UUID) (*Certificate, error) {
	if g.locker != nil {
		unlock, ok, err := g.locker.TryLock(ctx, "cert:lock:"+id.String(), 5*time.Minute)
		if err != nil {
			g.log.Warn("certificate lock unavailable, continuing with row lock", "certificate_id", id, "error", err)
		} else if !ok {
			return nil, errLocked
		} else {
			defer unlock()
		}
	}

	var (
		out     *Certificate
		created bool
		who     holder
	)
	err := db.WithTx(ctx, g.db, func(tx *sql.Tx) error {
		c, err := loadCertificate(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if c.Generated() {
			out = c
			return nil
		}
		if !c.Valid {
			return ErrInvalidCertificate
		}

		var first, last string
		if err := tx.QueryRowContext(ctx, `
			SELECT email, nombre, apellido FROM usuario WHERE id = $1
		`, c.UserID).Scan(&who.email, &first, &last); err != nil {
			return fmt.Errorf("load certificate holder: %w", err)
		}
		who.name = strings.TrimSpace(first + " " + last)
		if who.name == "" {
			who.name = who.email
		}

		var folio string
		if c.Folio != nil && *c.Folio != "" {
			folio = *c.Folio
		} else {
			folio, err = pickFolio(c.ID, c.IssuedAt, func(candidate string) (bool, error) {
				var used bool
				err := tx.QueryRowContext(ctx, `
					SELECT EXISTS (SELECT 1 FROM certificado WHERE folio = $1 AND id <> $2)
				`, candidate, c.ID).Scan(&used)
				return used, err
			})
			if err != nil {
				return fmt.Errorf("choose folio: %w", err)
			}
		}
		hash := VerificationHash(c.ID, c.UserID, c.CourseID, folio, c.IssuedAt)

		pdf, err := g.renderer.Render(Document{
			Holder:      who.name,
			CourseTitle: c.CourseTitle,
			Folio:       folio,
			IssuedAt:    c.IssuedAt,
			Hash:        hash,
		})
		if err != nil {
			return fmt.Errorf("render certificate: %w", err)
		}
		key := storage.CertificateKey(c.ID)
		if err := g.store.Put(ctx, key, bytes.NewReader(pdf), int64(len(pdf)), "application/pdf"); err != nil {
			return fmt.Errorf("upload certificate: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE certificado
			SET folio = $2, hash_verificacion = $3, s3_key = $4, valido = TRUE
			WHERE id = $1
		`, c.ID, folio, hash, key); err != nil {
			// A concurrent generator took the folio after our check; the next
			// run sees it as taken and picks another.
			if db.IsUniqueViolation(err, "uq_certificado_folio") {
				return fmt.Errorf("folio %s already taken: %w", folio, err)
			}
			return fmt.Errorf("stamp certificate: %w", err)
		}
		c.Folio, c.Hash, c.S3Key = &folio, &hash, &key
		c.setStatus()
		out, created = c, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		g.log.Info("certificate generated", "certificate_id", out.ID, "folio", *out.Folio)
		g.announce(ctx, out, who)
	}
	return out, nil
}

func (g *Generator) announce(ctx context.Context, c *Certificate, who holder) {
	if g.notifier == nil || who.email == "" {
		return
	}
	url, err := g.store.PresignGet(ctx, *c.S3Key, g.presignTTL)
	if err != nil {
		g.log.Warn("presign certificate for email failed", "certificate_id", c.ID, "error", err)
	}
	g.notifier.CertificateReady(notify.CertificateReady{
		Email:       who.email,
		Name:        who.name,
		CourseTitle: c.CourseTitle,
		Folio:       *c.Folio,
		URL:         url,
	})
}
