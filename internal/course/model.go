package course

import (
	"time"

	"ebslms/internal/apperr"

	"github.com/google/uuid"
)

var (
	ErrCourseNotFound   = apperr.NotFound("course not found")
	ErrModuleNotFound   = apperr.NotFound("module not found")
	ErrLessonNotFound   = apperr.NotFound("lesson not found")
	ErrContentNotFound  = apperr.NotFound("content not found")
	ErrNoLessonAccess   = apperr.Forbidden("not enrolled in a course containing this lesson")
	ErrInvalidDates     = apperr.Validation("INVALID_DATES", "fecha_fin must not be before fecha_inicio")
	ErrSlotTaken        = apperr.BusinessRule("SLOT_TAKEN", "module already uses this slot")
	ErrAlreadyAttached  = apperr.BusinessRule("MODULE_ALREADY_ATTACHED", "module is already attached to the course")
	ErrGuideSource      = apperr.Validation("INVALID_GUIDE", "exactly one of url or s3_key is required")
	ErrObjectMissing    = apperr.Validation("OBJECT_NOT_FOUND", "uploaded object does not exist")
	ErrStorageDisabled  = apperr.BusinessRule("STORAGE_DISABLED", "object storage is not configured")
	ErrUnknownGuideFile = apperr.Validation("INVALID_FILE", "file is required")
)

const dateLayout = "2006-01-02"

type Course struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"titulo"`
	Description *string   `json:"descripcion,omitempty"`
	Published   bool      `json:"publicado"`
	CreatedAt   time.Time `json:"creado_en"`
	UpdatedAt   time.Time `json:"actualizado_en"`
}

type CourseInput struct {
	Title       string  `json:"titulo" validate:"required,max=200"`
	Description *string `json:"descripcion"`
	Published   *bool   `json:"publicado"`
}

type Module struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"titulo"`
	StartDate string    `json:"fecha_inicio"`
	EndDate   string    `json:"fecha_fin"`
	Published bool      `json:"publicado"`
	Slot      *int      `json:"slot,omitempty"`
	CreatedAt time.Time `json:"creado_en"`
	UpdatedAt time.Time `json:"actualizado_en"`
}

type ModuleInput struct {
	Title     string `json:"titulo" validate:"required,max=200"`
	StartDate string `json:"fecha_inicio" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"fecha_fin" validate:"required,datetime=2006-01-02"`
	Published *bool  `json:"publicado"`
}

// Validate checks the date range before it reaches the check constraint.
func (in ModuleInput) Validate() error {
	start, err := time.Parse(dateLayout, in.StartDate)
	if err != nil {
		return ErrInvalidDates
	}
	end, err := time.Parse(dateLayout, in.EndDate)
	if err != nil || end.Before(start) {
		return ErrInvalidDates
	}
	return nil
}

type AttachInput struct {
	CourseID uuid.UUID `json:"curso_id" validate:"required"`
	Slot     int       `json:"slot" validate:"min=1"`
}

type Lesson struct {
	ID        uuid.UUID `json:"id"`
	ModuleID  uuid.UUID `json:"modulo_id"`
	Title     string    `json:"titulo"`
	Order     *int      `json:"orden,omitempty"`
	Published bool      `json:"publicado"`
	CreatedAt time.Time `json:"creado_en"`
	UpdatedAt time.Time `json:"actualizado_en"`
}

type LessonInput struct {
	ModuleID  uuid.UUID `json:"modulo_id" validate:"required"`
	Title     string    `json:"titulo" validate:"required,max=200"`
	Order     *int      `json:"orden"`
	Published *bool     `json:"publicado"`
}

type ContentType string

const (
	ContentText  ContentType = "TEXTO"
	ContentPDF   ContentType = "PDF"
	ContentVideo ContentType = "VIDEO"
	ContentLink  ContentType = "LINK"
)

type Content struct {
	ID          uuid.UUID   `json:"id"`
	LessonID    uuid.UUID   `json:"leccion_id"`
	Type        ContentType `json:"tipo"`
	Title       *string     `json:"titulo,omitempty"`
	Description *string     `json:"descripcion,omitempty"`
	URL         *string     `json:"url,omitempty"`
	Order       *int        `json:"orden,omitempty"`
	CreatedAt   time.Time   `json:"creado_en"`
}

type ContentInput struct {
	LessonID    uuid.UUID   `json:"leccion_id" validate:"required"`
	Type        ContentType `json:"tipo" validate:"required,oneof=TEXTO PDF VIDEO LINK"`
	Title       *string     `json:"titulo" validate:"omitempty,max=200"`
	Description *string     `json:"descripcion"`
	URL         *string     `json:"url" validate:"omitempty,url"`
	Order       *int        `json:"orden"`
}

type StudyGuide struct {
	ID          uuid.UUID `json:"id"`
	CourseID    uuid.UUID `json:"curso_id"`
	Title       string    `json:"titulo"`
	URL         *string   `json:"url,omitempty"`
	S3Key       *string   `json:"s3_key,omitempty"`
	Active      bool      `json:"activo"`
	DownloadURL string    `json:"url_descarga,omitempty"`
	CreatedAt   time.Time `json:"creado_en"`
}

type GuideInput struct {
	Title string  `json:"titulo" validate:"required,max=200"`
	URL   *string `json:"url" validate:"omitempty,url"`
	S3Key *string `json:"s3_key"`
}

func (in GuideInput) Validate() error {
	hasURL := in.URL != nil && *in.URL != ""
	hasKey := in.S3Key != nil && *in.S3Key != ""
	if hasURL == hasKey {
		return ErrGuideSource
	}
	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
