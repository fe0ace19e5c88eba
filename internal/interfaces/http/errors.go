package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/infrastructure/validate"
)

// RESTStandardError response error
type RESTStandardError struct {
	Type    string `json:"type,omitempty"`
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Detail  string `json:"detail,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewRESTStandardError create a standard error body
func NewRESTStandardError(code int, detail string) *RESTStandardError {
	return &RESTStandardError{
		Code:   code,
		Title:  http.StatusText(code),
		Detail: detail,
	}
}

func (re RESTStandardError) Error() string {
	return re.Detail
}

// SetTraceID copy with trace id
func (re RESTStandardError) SetTraceID(traceID string) RESTStandardError {
	re.TraceID = traceID
	return re
}

// RESTValidationError standard validation error
type RESTValidationError struct {
	RESTStandardError
	InvalidParams []*validate.FieldError `json:"invalid_params"`
}

// NewRESTValidationError create a validation error body
func NewRESTValidationError(code int, detail string, internal []*validate.FieldError) *RESTValidationError {
	return &RESTValidationError{
		RESTStandardError: RESTStandardError{
			Code:   code,
			Title:  http.StatusText(code),
			Detail: detail,
		},
		InvalidParams: internal,
	}
}

func (rve RESTValidationError) Error() string {
	return rve.Detail
}

// RESTGateError lesson is locked
type RESTGateError struct {
	RESTStandardError
	Violation *domain.GateViolation `json:"violation"`
}

// RESTSeekError seek rejected, the player must snap back
type RESTSeekError struct {
	RESTStandardError
	Violation *domain.PolicySeekViolation `json:"violation"`
}

// renderError map handler errors to responses
func renderError(c echo.Context, traceID string, err error) error {
	var (
		gateErr  *domain.GateViolation
		seekErr  *domain.PolicySeekViolation
		valErr   *validate.ValidationError
		echoErr  *echo.HTTPError
		standard = func(code int) error {
			return c.JSON(code, NewRESTStandardError(code, err.Error()).SetTraceID(traceID))
		}
	)
	switch {
	case errors.As(err, &gateErr):
		body := RESTGateError{NewRESTStandardError(http.StatusForbidden, err.Error()).SetTraceID(traceID), gateErr}
		body.Type = "lesson_locked"
		return c.JSON(http.StatusForbidden, body)
	case errors.As(err, &seekErr):
		body := RESTSeekError{NewRESTStandardError(http.StatusConflict, err.Error()).SetTraceID(traceID), seekErr}
		body.Type = "seek_ahead"
		return c.JSON(http.StatusConflict, body)
	case errors.As(err, &valErr):
		body := NewRESTValidationError(http.StatusBadRequest, domain.ErrInvalidPayload.Error(), valErr.Fields)
		body.TraceID = traceID
		return c.JSON(http.StatusBadRequest, body)
	case errors.As(err, &echoErr):
		detail := http.StatusText(echoErr.Code)
		if msg, ok := echoErr.Message.(string); ok {
			detail = msg
		}
		return c.JSON(echoErr.Code, NewRESTStandardError(echoErr.Code, detail).SetTraceID(traceID))
	case errors.Is(err, domain.ErrCourseNotFound),
		errors.Is(err, domain.ErrLessonNotFound),
		errors.Is(err, domain.ErrSessionNotFound):
		return standard(http.StatusNotFound)
	case errors.Is(err, domain.ErrSessionClosed):
		return standard(http.StatusGone)
	case errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrLessonTypeMismatch),
		errors.Is(err, domain.ErrNotScormLesson):
		return standard(http.StatusBadRequest)
	case errors.Is(err, domain.ErrLessonNotOpen),
		errors.Is(err, domain.ErrSlotBusy):
		return standard(http.StatusConflict)
	case errors.Is(err, domain.ErrNoGrader):
		return standard(http.StatusNotImplemented)
	case errors.Is(err, domain.ErrMalformedCourse):
		return standard(http.StatusUnprocessableEntity)
	}
	return standard(http.StatusInternalServerError)
}
