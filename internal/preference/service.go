package preference

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ebslms/internal/platform/logger"

	"github.com/google/uuid"
)

// Preferences holds the user's email opt-ins. A nil flag means the user
// never chose and the default (enabled) applies.
type Preferences struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"usuario_id"`
	Reminders  *bool     `json:"email_recordatorios"`
	Motivation *bool     `json:"email_motivacion"`
	Results    *bool     `json:"email_resultados"`
	UpdatedAt  time.Time `json:"actualizado_en"`
}

type Input struct {
	Reminders  *bool `json:"email_recordatorios"`
	Motivation *bool `json:"email_motivacion"`
	Results    *bool `json:"email_resultados"`
}

type Service struct {
	db  *sql.DB
	log *logger.Logger
}

func NewService(conn *sql.DB, log *logger.Logger) *Service {
	return &Service{db: conn, log: log.With("service", "PreferenceService")}
}

const columns = `id, usuario_id, email_recordatorios, email_motivacion, email_resultados, actualizado_en`

func scan(row interface{ Scan(...any) error }) (*Preferences, error) {
	var (
		p             Preferences
		rem, mot, res sql.NullBool
	)
	if err := row.Scan(&p.ID, &p.UserID, &rem, &mot, &res, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Reminders = nullBool(rem)
	p.Motivation = nullBool(mot)
	p.Results = nullBool(res)
	return &p, nil
}

func nullBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

// Get returns the user's preferences, creating an empty row on first access.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*Preferences, error) {
	p, err := scan(s.db.QueryRowContext(ctx, `
		INSERT INTO preferencia_notificacion (usuario_id) VALUES ($1)
		ON CONFLICT (usuario_id) DO UPDATE SET usuario_id = EXCLUDED.usuario_id
		RETURNING `+columns, userID))
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return p, nil
}

// Update applies only the flags present in in.
func (s *Service) Update(ctx context.Context, userID uuid.UUID, in Input) (*Preferences, error) {
	p, err := scan(s.db.QueryRowContext(ctx, `
		INSERT INTO preferencia_notificacion (usuario_id, email_recordatorios, email_motivacion, email_resultados)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (usuario_id) DO UPDATE SET
			email_recordatorios = COALESCE($2, preferencia_notificacion.email_recordatorios),
			email_motivacion = COALESCE($3, preferencia_notificacion.email_motivacion),
			email_resultados = COALESCE($4, preferencia_notificacion.email_resultados),
			actualizado_en = now()
		RETURNING `+columns, userID, in.Reminders, in.Motivation, in.Results))
	if err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	s.log.Debug("preferences updated", "user_id", userID)
	return p, nil
}

// WantsResultEmails reads without creating a row; unset means yes.
func (s *Service) WantsResultEmails(ctx context.Context, userID uuid.UUID) (bool, error) {
	var v sql.NullBool
	err := s.db.QueryRowContext(ctx, `
		SELECT email_resultados FROM preferencia_notificacion WHERE usuario_id = $1`, userID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read result preference: %w", err)
	}
	return !v.Valid || v.Bool, nil
}
