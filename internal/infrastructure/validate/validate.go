package validate

import (
	"strings"

	"github.com/pot-code/course-playback/internal/domain"
)

// FieldError field error to be nested by other errors
type FieldError struct {
	Domain string `json:"domain"`
	Reason string `json:"reason"`
}

// NewFieldError create new field error
func NewFieldError(domain string, reason string) *FieldError {
	return &FieldError{domain, reason}
}

// Validator .
type Validator interface {
	Struct(s interface{}) []*FieldError
	Empty(varName string, s interface{}) []*FieldError
}

// ValidationError payload rejected by a Validator, matches domain.ErrInvalidPayload
type ValidationError struct {
	Fields []*FieldError
}

// AsError nil when errs is empty
func AsError(errs []*FieldError) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Fields: errs}
}

func (ve *ValidationError) Error() string {
	reasons := make([]string, 0, len(ve.Fields))
	for _, fe := range ve.Fields {
		reasons = append(reasons, fe.Reason)
	}
	return domain.ErrInvalidPayload.Error() + ": " + strings.Join(reasons, "; ")
}

// Is report as domain.ErrInvalidPayload
func (ve *ValidationError) Is(target error) bool {
	return target == domain.ErrInvalidPayload
}
