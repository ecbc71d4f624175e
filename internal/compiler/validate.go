package compiler

import (
	"fmt"
	"regexp"

	"github.com/roach88/actorsync/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrInvalidServiceName = "E101" // service must be a dotted package.Service name
	ErrInvalidMethodName  = "E102" // reader or mutation is not an identifier
	ErrInvalidPath        = "E103" // mutation path must start with '/'
	ErrDuplicateActorType = "E104" // two descriptors share a name
	ErrDuplicateService   = "E105" // two descriptors share a service
)

var (
	serviceNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)+$`)
	methodNameRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks naming rules that CompileActorType does not enforce.
// Returns all errors found (does not fail-fast).
func Validate(at *ir.ActorType) []ValidationError {
	var errs []ValidationError
	prefix := "actor." + at.Name

	if !serviceNameRe.MatchString(at.Service) {
		errs = append(errs, ValidationError{
			Field:   prefix + ".service",
			Message: fmt.Sprintf("%q must look like package.Service", at.Service),
			Code:    ErrInvalidServiceName,
		})
	}
	if !methodNameRe.MatchString(at.Reader) {
		errs = append(errs, ValidationError{
			Field:   prefix + ".reader",
			Message: fmt.Sprintf("%q is not a method name", at.Reader),
			Code:    ErrInvalidMethodName,
		})
	}
	for i, k := range at.Kinds {
		if !methodNameRe.MatchString(k.Name) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.mutations[%d]", prefix, i),
				Message: fmt.Sprintf("%q is not a method name", k.Name),
				Code:    ErrInvalidMethodName,
			})
		}
		if len(k.Path) == 0 || k.Path[0] != '/' {
			errs = append(errs, ValidationError{
				Field:   prefix + ".paths." + k.Name,
				Message: fmt.Sprintf("path %q must start with '/'", k.Path),
				Code:    ErrInvalidPath,
			})
		}
	}
	return errs
}

// ValidateAll validates each type and checks names and services are
// unique across them.
func ValidateAll(types []*ir.ActorType) []ValidationError {
	var errs []ValidationError
	names := make(map[string]bool)
	services := make(map[string]string)

	for _, at := range types {
		errs = append(errs, Validate(at)...)

		if names[at.Name] {
			errs = append(errs, ValidationError{
				Field:   "actor." + at.Name,
				Message: "duplicate actor type",
				Code:    ErrDuplicateActorType,
			})
		}
		names[at.Name] = true

		if other, ok := services[at.Service]; ok {
			errs = append(errs, ValidationError{
				Field:   "actor." + at.Name + ".service",
				Message: fmt.Sprintf("service %q is already used by %s", at.Service, other),
				Code:    ErrDuplicateService,
			})
		}
		services[at.Service] = at.Name
	}
	return errs
}
