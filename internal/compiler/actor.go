// Package compiler turns CUE actor-type descriptors into kind tables.
//
// A descriptor names the actor's service, its streaming reader and its
// mutation kinds:
//
//	actor: TwentyFive: {
//		service:   "twentyfive.TwentyFive"
//		reader:    "ListGoals"
//		mutations: ["CreateGoalList", "AddGoal", "MoveGoal", "DeleteGoal"]
//	}
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/actorsync/internal/ir"
)

// CompileActorType parses a CUE value into an ActorType.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the actor struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`actor: TwentyFive: { ... }`)
//	at, err := CompileActorType(v.LookupPath(cue.ParsePath("actor.TwentyFive")))
func CompileActorType(v cue.Value) (*ir.ActorType, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	var name string
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		name = labels[len(labels)-1].String()
	}

	service, err := requiredString(v, "service")
	if err != nil {
		return nil, err
	}
	reader, err := requiredString(v, "reader")
	if err != nil {
		return nil, err
	}

	mutVal := v.LookupPath(cue.ParsePath("mutations"))
	if !mutVal.Exists() {
		return nil, &CompileError{
			Field:   "mutations",
			Message: "mutations is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := mutVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var kinds []string
	seen := make(map[string]bool)
	for iter.Next() {
		kind, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if seen[kind] {
			return nil, &CompileError{
				Field:   "mutations",
				Message: fmt.Sprintf("duplicate mutation kind %q", kind),
				Pos:     iter.Value().Pos(),
			}
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		return nil, &CompileError{
			Field:   "mutations",
			Message: "at least one mutation kind is required",
			Pos:     mutVal.Pos(),
		}
	}

	// Optional per-kind path overrides for services that do not use
	// /<service>.<method>.
	at := ir.NewActorType(name, service, reader, kinds...)
	pathsVal := v.LookupPath(cue.ParsePath("paths"))
	if pathsVal.Exists() {
		fields, err := pathsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for fields.Next() {
			kind := fields.Label()
			path, err := fields.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			if !setPath(at, kind, path) {
				return nil, &CompileError{
					Field:   "paths." + kind,
					Message: fmt.Sprintf("%q is not a mutation kind", kind),
					Pos:     fields.Value().Pos(),
				}
			}
		}
	}

	if err := at.Validate(); err != nil {
		return nil, &CompileError{Field: "actor", Message: err.Error(), Pos: v.Pos()}
	}
	return at, nil
}

func setPath(at *ir.ActorType, kind, path string) bool {
	for i := range at.Kinds {
		if at.Kinds[i].Name == kind {
			at.Kinds[i].Path = path
			return true
		}
	}
	return false
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if s == "" {
		return "", &CompileError{
			Field:   field,
			Message: field + " must be non-empty",
			Pos:     fv.Pos(),
		}
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
