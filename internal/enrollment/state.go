package enrollment

import (
	"fmt"

	"ebslms/internal/apperr"
)

// Status values as stored in inscripcion_curso.estado.
type Status string

const (
	StatusActive    Status = "ACTIVA"
	StatusPaused    Status = "PAUSADA"
	StatusCompleted Status = "CONCLUIDA"
	StatusFailed    Status = "REPROBADA"
)

var transitions = map[Status][]Status{
	StatusActive: {StatusPaused, StatusCompleted, StatusFailed},
	StatusPaused: {StatusActive, StatusCompleted, StatusFailed},
}

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal states accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a business-rule error when from -> to is not allowed.
func CheckTransition(from, to Status) error {
	if !to.Valid() {
		return apperr.Validation("INVALID_STATE", fmt.Sprintf("unknown enrollment state %q", to))
	}
	if !CanTransition(from, to) {
		return apperr.BusinessRule("INVALID_STATE_TRANSITION", fmt.Sprintf("cannot change enrollment from %s to %s", from, to))
	}
	return nil
}
