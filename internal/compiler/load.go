package compiler

import (
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/actorsync/internal/ir"
)

// LoadFile compiles one CUE file.
func LoadFile(path string) (cue.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("read %s: %w", path, err)
	}
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}

// LoadDir builds the CUE package in dir.
func LoadDir(dir string) (cue.Value, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, fmt.Errorf("loading CUE files: %w", inst.Err)
	}
	v := cuecontext.New().BuildInstance(inst)
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}

// Load reads path as a single file or, for a directory, a CUE package.
func Load(path string) (cue.Value, error) {
	info, err := os.Stat(path)
	if err != nil {
		return cue.Value{}, err
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFile(path)
}

// CompileAll compiles every descriptor under the top-level "actor" field.
// It does not stop at the first bad descriptor; the returned types are
// the ones that compiled, sorted by name.
func CompileAll(v cue.Value) ([]*ir.ActorType, []error) {
	actors := v.LookupPath(cue.ParsePath("actor"))
	if !actors.Exists() {
		return nil, []error{&CompileError{Field: "actor", Message: "no actor descriptors found", Pos: v.Pos()}}
	}
	iter, err := actors.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var (
		types []*ir.ActorType
		errs  []error
	)
	for iter.Next() {
		at, err := CompileActorType(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("actor.%s: %w", iter.Label(), err))
			continue
		}
		types = append(types, at)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
	return types, errs
}

// LoadActorTypes loads path and compiles and validates every descriptor.
func LoadActorTypes(path string) ([]*ir.ActorType, error) {
	v, err := Load(path)
	if err != nil {
		return nil, err
	}
	types, errs := CompileAll(v)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	if verrs := ValidateAll(types); len(verrs) > 0 {
		return nil, verrs[0]
	}
	return types, nil
}
