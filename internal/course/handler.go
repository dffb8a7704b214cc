package course

import (
	"context"
	"io"
	"net/http"
	"strings"

	"ebslms/internal/app/apiresp"
	"ebslms/internal/apperr"
	"ebslms/internal/auth"

	"github.com/google/uuid"
)

const maxGuideUpload = 25 << 20

type courseService interface {
	List(ctx context.Context, includeDrafts bool, skip, limit int) ([]Course, error)
	Get(ctx context.Context, id uuid.UUID, includeDrafts bool) (*Course, error)
	Create(ctx context.Context, in CourseInput) (*Course, error)
	Update(ctx context.Context, id uuid.UUID, in CourseInput) (*Course, error)
	ListCourseModules(ctx context.Context, courseID uuid.UUID, includeDrafts bool) ([]Module, error)
	ListGuides(ctx context.Context, courseID uuid.UUID, includeDrafts bool) ([]StudyGuide, error)
	CreateGuide(ctx context.Context, courseID uuid.UUID, in GuideInput) (*StudyGuide, error)
	UploadGuide(ctx context.Context, courseID uuid.UUID, title, filename string, body io.Reader, size int64) (*StudyGuide, error)

	ListModules(ctx context.Context, includeDrafts bool, skip, limit int) ([]Module, error)
	GetModule(ctx context.Context, id uuid.UUID, includeDrafts bool) (*Module, error)
	CreateModule(ctx context.Context, in ModuleInput) (*Module, error)
	UpdateModule(ctx context.Context, id uuid.UUID, in ModuleInput) (*Module, error)
	ListModuleLessons(ctx context.Context, moduleID uuid.UUID, includeDrafts bool) ([]Lesson, error)
	ListModuleCourses(ctx context.Context, moduleID uuid.UUID, includeDrafts bool) ([]Course, error)
	AttachModule(ctx context.Context, moduleID uuid.UUID, in AttachInput) (*Module, error)

	GetLesson(ctx context.Context, id, userID uuid.UUID, privileged bool) (*Lesson, error)
	CreateLesson(ctx context.Context, in LessonInput) (*Lesson, error)
	UpdateLesson(ctx context.Context, id uuid.UUID, in LessonInput) (*Lesson, error)
	ListContents(ctx context.Context, lessonID, userID uuid.UUID, privileged bool) ([]Content, error)
	CreateContent(ctx context.Context, in ContentInput) (*Content, error)
	UpdateContent(ctx context.Context, id uuid.UUID, in ContentInput) (*Content, error)
	DeleteContent(ctx context.Context, id uuid.UUID) error
}

type Handler struct {
	svc courseService
}

func NewHandler(svc courseService) *Handler {
	return &Handler{svc: svc}
}

func caller(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return nil, false
	}
	return user, true
}

func respond(w http.ResponseWriter, r *http.Request, status int, out any, err error) {
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, status, out)
}

func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	skip, limit := apiresp.Page(r, 50, 200)
	out, err := h.svc.List(r.Context(), user.IsPrivileged(), skip, limit)
	respond(w, r, http.StatusOK, out, err)
}

func (h *Handler) GetCourse(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := apiresp.UUIDParam(r, "courseID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Get(r.Context(), id, user.IsPrivileged())
	respond(w, r, http.StatusOK, out, err)
}

func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var in CourseInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Create(r.Context(), in)
	respond(w, r, http.StatusCreated, out, err)
}

func (h *Handler) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "courseID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var in CourseInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Update(r.Context(), id, in)
	respond(w, r, http.StatusOK, out, err)
}

func (h *Handler) ListCourseModules(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := apiresp.UUIDParam(r, "courseID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.ListCourseModules(r.Context(), id, user.IsPrivileged())
	respond(w, r, http.StatusOK, out, err)
}

func (h *Handler) ListGuides(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := apiresp.UUIDParam(r, "courseID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.ListGuides(r.Context(), id, user.IsPrivileged())
	respond(w, r, http.StatusOK, out, err)
}

// CreateGuide accepts either a JSON registration or a multipart upload
// with fields "titulo" and "archivo".
func (h *Handler) CreateGuide(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "courseID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.uploadGuide(w, r, id)
		return
	}
	var in GuideInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.CreateGuide(r.Context(), id, in)
	respond(w, r, http.StatusCreated, out, err)
}

func (h *Handler) uploadGuide(w http.ResponseWriter, r *http.Request, courseID uuid.UUID) {
	r.Body = http.MaxBytesReader(w, r.Body, maxGuideUpload)
	if err := r.ParseMultipartForm(maxGuideUpload); err != nil {
		apiresp.WriteErr(w, r, apperr.Validation("INVALID_BODY", "invalid multipart body"))
		return
	}
	title := strings.TrimSpace(r.FormValue("titulo"))
	if title == "" {
		apiresp.WriteErr(w, r, apperr.Validation("", "titulo is required").WithFields(map[string]string{"titulo": "is required"}))
		return
	}
	file, header, err := r.FormFile("archivo")
	if err != nil {
		apiresp.WriteErr(w, r, ErrUnknownGuideFile)
		return
	}
	defer file.Close()
	out, err := h.svc.UploadGuide(r.Context(), courseID, title, header.Filename, file, header.Size)
	respond(w, r, http.StatusCreated, out, err)
}

func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	skip, limit := apiresp.Page(r, 50, 200)
	out, err := h.svc.ListModules(r.Context(), user.IsPrivileged(), skip, limit)
	respond(w, r, http.StatusOK, out, err)
}

func (h *Handler) GetModule(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := apiresp.UUIDParam(r, "moduleID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.GetModule(r.Context(), id, user.IsPrivileged())
	respond(w, r, http.StatusOK, out, err)
}

func (h *Handler) CreateModule(w http.ResponseWriter, r *http.Request) {
	var in ModuleInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.CreateModule(r.Context(), in)
	respond(w, r, http.StatusCreated, out, err)
}

func (h *Handler) UpdateModule(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "moduleID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var in ModuleInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.UpdateModule(r.Context(), id, in)
	respond(w, r, http.StatusOK, out, err)
}

func (h *Handler) ListModuleLessons(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := apiresp.UUIDParam(r, "moduleID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.ListModuleLessons(r.Context(), id, user.IsPrivileged())
	respond(w, r, http.StatusOK, out, err)
}

func (h *Handler) ListModuleCourses(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := apiresp.UUIDParam(r, "moduleID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.ListModuleCourses(r.Context(), id, user.IsPrivileged())
	respond(w, r, http.StatusOK, out, err)
}

func (h *Handler) AttachModule(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "moduleID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var in AttachInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.AttachModule(r.Context(), id, in)
	respond(w, r, http.StatusCreated, out, err)
}

func (h *Handler) GetLesson(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := apiresp.UUIDParam(r, "lessonID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.GetLesson(r.Context(), id, user.ID, user.IsPrivileged())
	respond(w, r, http.StatusOK, out, err)
}

func (h *Handler) CreateLesson(w http.ResponseWriter, r *http.Request) {
	var in LessonInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.CreateLesson(r.Context(), in)
	respond(w, r, http.StatusCreated, out, err)
}

func (h *Handler) UpdateLesson(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "lessonID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var in LessonInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.UpdateLesson(r.Context(), id, in)
	respond(w, r, http.StatusOK, out, err)
}

func (h *Handler) ListContents(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	id, err := apiresp.UUIDParam(r, "lessonID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.ListContents(r.Context(), id, user.ID, user.IsPrivileged())
	respond(w, r, http.StatusOK, out, err)
}

func (h *Handler) CreateContent(w http.ResponseWriter, r *http.Request) {
	var in ContentInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.CreateContent(r.Context(), in)
	respond(w, r, http.StatusCreated, out, err)
}

func (h *Handler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "contentID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var in ContentInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.UpdateContent(r.Context(), id, in)
	respond(w, r, http.StatusOK, out, err)
}

func (h *Handler) DeleteContent(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "contentID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	if err := h.svc.DeleteContent(r.Context(), id); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"id": id, "eliminado": true})
}
