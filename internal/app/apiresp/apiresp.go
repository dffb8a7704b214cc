package apiresp

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"ebslms/internal/apperr"
	"ebslms/internal/platform/logger"

	"github.com/go-chi/chi/v5/middleware"
)

type ErrorPayload struct {
	Code    string            `json:"code"`
	Type    string            `json:"type,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type Meta struct {
	RequestID string `json:"request_id,omitempty"`
}

type Envelope struct {
	OK    bool          `json:"ok"`
	Data  interface{}   `json:"data,omitempty"`
	Error *ErrorPayload `json:"error,omitempty"`
	Meta  Meta          `json:"meta"`
}

var errLog atomic.Pointer[logger.Logger]

// SetLogger installs the logger used to report internal errors.
func SetLogger(l *logger.Logger) {
	errLog.Store(l)
}

func WriteOK(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, r, status, Envelope{OK: true, Data: data})
}

// WriteError writes a plain error envelope for failures that never reach a service,
// such as middleware rejections.
func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	write(w, r, status, Envelope{Error: &ErrorPayload{Code: codeFromStatus(status), Message: msg}})
}

// WriteErr translates any error into the envelope. Errors outside the
// apperr taxonomy become a 500 with a generic message.
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.From(err)
	status := ae.Status()

	msg := ae.Message
	if ae.Kind == apperr.KindInternal {
		if l := errLog.Load(); l != nil {
			l.Error("request failed",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
		}
		msg = "internal server error"
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	code := ae.Code
	if code == "" {
		code = string(ae.Kind)
	}
	write(w, r, status, Envelope{Error: &ErrorPayload{
		Code:    code,
		Type:    string(ae.Kind),
		Message: msg,
		Fields:  ae.Fields,
	}})
}

func write(w http.ResponseWriter, r *http.Request, status int, res Envelope) {
	res.OK = status >= 200 && status < 300
	res.Meta = Meta{RequestID: middleware.GetReqID(r.Context())}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

func codeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(apperr.KindBusinessRule)
	case http.StatusUnauthorized:
		return string(apperr.KindAuthentication)
	case http.StatusForbidden:
		return string(apperr.KindAuthorization)
	case http.StatusNotFound:
		return string(apperr.KindNotFound)
	case http.StatusUnprocessableEntity:
		return string(apperr.KindValidation)
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusInternalServerError:
		return string(apperr.KindInternal)
	default:
		return "ERROR"
	}
}

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// WriteFile sends data as a download named filename.
func WriteFile(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
