package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// LoadError reports a schema declaration problem with its CUE position.
type LoadError struct {
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// LoadDir loads every .cue file in dir as one instance. The expected shape:
//
//	fields: body: crdt: "text"
//	fields: "task.status": facet: "task"
//	aliases: name: "title"
//	edges: child: ordered: true
func LoadDir(dir string) (*Schema, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema dir: not a directory: %s", dir)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("schema dir: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("schema dir: no CUE files in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("schema dir: no CUE instances loaded")
	}
	if inst := instances[0]; inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}
	value := ctx.BuildInstance(instances[0])
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("building CUE value: %w", err)
	}
	return FromCUE(value)
}

// LoadSource compiles a single CUE document.
func LoadSource(src string) (*Schema, error) {
	value := cuecontext.New().CompileString(src)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return FromCUE(value)
}

// FromCUE extracts declarations from a built CUE value.
func FromCUE(v cue.Value) (*Schema, error) {
	s := New()

	err := eachField(v, "fields", func(key string, fv cue.Value) error {
		var d FieldDecl
		var err error
		if d.CRDT, err = optString(fv, "crdt"); err != nil {
			return err
		}
		if d.Facet, err = optString(fv, "facet"); err != nil {
			return err
		}
		s.Field(key, d)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachField(v, "aliases", func(key string, av cue.Value) error {
		to, err := av.String()
		if err != nil {
			return &LoadError{Message: fmt.Sprintf("alias %q must be a string", key), Pos: av.Pos()}
		}
		s.Alias(key, to)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachField(v, "edges", func(key string, ev cue.Value) error {
		ordered := false
		if ov := ev.LookupPath(cue.ParsePath("ordered")); ov.Exists() {
			b, err := ov.Bool()
			if err != nil {
				return &LoadError{Message: fmt.Sprintf("edges.%s.ordered must be a bool", key), Pos: ov.Pos()}
			}
			ordered = b
		}
		s.Edge(key, ordered)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func eachField(v cue.Value, path string, fn func(string, cue.Value) error) error {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return nil
	}
	iter, err := sv.Fields()
	if err != nil {
		return &LoadError{Message: fmt.Sprintf("%s must be a struct: %v", path, err), Pos: sv.Pos()}
	}
	for iter.Next() {
		if err := fn(iter.Selector().Unquoted(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func optString(v cue.Value, path string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", nil
	}
	s, err := sv.String()
	if err != nil {
		return "", &LoadError{Message: fmt.Sprintf("%s must be a string", path), Pos: sv.Pos()}
	}
	return s, nil
}
