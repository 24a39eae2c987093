package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/collx/internal/metadata"
)

// SchemaError reports a schema that compiled but failed validation.
type SchemaError struct {
	Errors []ValidationError
}

func (e *SchemaError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("schema has %d error(s): %s", len(e.Errors), strings.Join(msgs, "; "))
}

// LoadValue loads the CUE package in dir.
func LoadValue(dir string) (cue.Value, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return value, nil
}

// LoadRegistry compiles the schema in dir into a finalized registry.
// A schema with validation errors fails with a *SchemaError.
func LoadRegistry(dir string) (*metadata.Registry, error) {
	value, err := LoadValue(dir)
	if err != nil {
		return nil, err
	}
	reg, err := CompileSchema(value)
	if err != nil {
		return nil, err
	}
	if errs := Validate(reg); len(errs) > 0 {
		return nil, &SchemaError{Errors: errs}
	}
	if err := reg.Finalize(); err != nil {
		return nil, err
	}
	return reg, nil
}
