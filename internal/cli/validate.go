package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/actorsync/internal/compiler"
	"github.com/roach88/actorsync/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	ActorTypes []*ir.ActorType            `json:"actor_types,omitempty"`
	Errors     []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file.cue|dir>",
		Short: "Compile and validate actor-type descriptors",
		Long: `Compile CUE actor-type descriptors and check them.

Every descriptor under the top-level "actor" field must name a service, a
reader and at least one mutation. Names must be valid identifiers and no
two descriptors may share a name or a service.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	types, validationErrors, err := ValidatePath(path)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Error())
		}
		return outputValidateError(formatter, ErrCodeGeneric, err.Error())
	}

	for _, at := range types {
		formatter.VerboseLog("Validated actor type %s (%s, %d mutation kinds)", at.Name, at.Service, len(at.Kinds))
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}

	result := ValidationResult{Valid: true, ActorTypes: types}
	return formatter.Success(result, fmt.Sprintf("✓ %d actor type(s) valid", len(types)))
}

// ValidatePath compiles the descriptors at path. Compile failures of
// individual descriptors are reported as validation errors; err is set only
// when the CUE source itself cannot be loaded.
func ValidatePath(path string) ([]*ir.ActorType, []compiler.ValidationError, error) {
	v, err := compiler.Load(path)
	if err != nil {
		var compileErr *compiler.CompileError
		if errors.As(err, &compileErr) {
			return nil, []compiler.ValidationError{compileValidationError(compileErr)}, nil
		}
		return nil, nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("loading %s", path), Err: err}
	}

	types, compileErrs := compiler.CompileAll(v)
	var validationErrs []compiler.ValidationError
	for _, err := range compileErrs {
		var compileErr *compiler.CompileError
		if errors.As(err, &compileErr) {
			ve := compileValidationError(compileErr)
			ve.Message = err.Error()
			validationErrs = append(validationErrs, ve)
			continue
		}
		validationErrs = append(validationErrs, compiler.ValidationError{
			Field:   "actor",
			Message: err.Error(),
			Code:    ErrCodeGeneric,
		})
	}
	validationErrs = append(validationErrs, compiler.ValidateAll(types)...)
	return types, validationErrs, nil
}

func compileValidationError(e *compiler.CompileError) compiler.ValidationError {
	return compiler.ValidationError{
		Field:   e.Field,
		Message: e.Error(),
		Code:    ErrCodeLoadFailed,
	}
}

// outputValidateError outputs a single load error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, message)
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.JSON() {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", err.Code, err.Field, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
