package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/roach88/collx/internal/compiler"
	"github.com/roach88/collx/internal/metadata"
)

// LoadResult contains the results of loading a schema from a directory.
type LoadResult struct {
	Registry  *metadata.Registry // Finalized when Errors is empty
	CUEValue  cue.Value          // The raw CUE value for additional processing
	FileCount int                // Number of CUE files found

	// Errors are the schema validation errors.
	Errors []compiler.ValidationError

	// Cycles are the cycle findings; error-level ones are also in Errors.
	Cycles []compiler.CycleWarning
}

// Valid reports whether the schema compiled and validated cleanly.
func (r *LoadResult) Valid() bool {
	return len(r.Errors) == 0
}

// LoadError represents an error that stopped schema loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadSchema loads, compiles and validates the CUE schema in dir.
//
// A *LoadError is returned when the schema cannot be compiled at all.
// Validation problems are reported in LoadResult.Errors; the registry is
// finalized only when there are none.
func LoadSchema(dir string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	value, err := compiler.LoadValue(dir)
	if err != nil {
		return nil, convertCompileError(err, ErrCodeLoadFailed)
	}

	reg, err := compiler.CompileSchema(value)
	if err != nil {
		return nil, convertCompileError(err, ErrCodeBuildFailed)
	}

	result := &LoadResult{
		Registry:  reg,
		CUEValue:  value,
		FileCount: len(cueFiles),
		Errors:    compiler.Validate(reg),
		Cycles:    compiler.AnalyzeCycles(reg),
	}
	if result.Valid() {
		if err := reg.Finalize(); err != nil {
			return nil, &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
		}
	}
	return result, nil
}

// LoadRegistry loads a schema and fails unless it is valid.
func LoadRegistry(dir string) (*metadata.Registry, error) {
	result, err := LoadSchema(dir)
	if err != nil {
		return nil, err
	}
	if !result.Valid() {
		first := result.Errors[0]
		return nil, &LoadError{
			Code:    first.Code,
			Message: fmt.Sprintf("schema has %d error(s), first: %s: %s", len(result.Errors), first.Field, first.Message),
		}
	}
	return result.Registry, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, fallback string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		code := MapFieldToErrorCode(compileErr.Field)
		if code == ErrCodeGeneric {
			code = fallback
		}
		return &LoadError{
			Code:    code,
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    fallback,
		Message: err.Error(),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // Schema compilation failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeDataFailed  = "E008" // Dataset load failed
	ErrCodeQueryFailed = "E009" // Collection evaluation failed
	ErrCodeBadFlag     = "E010" // Invalid flag value
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "type":
		return compiler.ErrInvalidFieldType
	case field == "embed":
		return compiler.ErrEmptyEmbeddable
	case field == "relation", field == "target":
		return compiler.ErrUnknownTarget
	case strings.HasPrefix(field, "junction"):
		return compiler.ErrInvalidJunction
	case field == "entity", field == "embeddable", field == "property",
		strings.HasPrefix(field, "property."):
		return ErrCodeBuildFailed
	default:
		return ErrCodeGeneric
	}
}
