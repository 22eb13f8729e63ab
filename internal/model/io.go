package model

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Default file names inside a model directory
const (
	DefaultModelFilename  = "__model__"
	DefaultParamsFilename = "__params__"
)

// Program is a loaded, validated graph
type Program struct {
	Graph *Graph
}

// FeedNames returns the input variable names
func (p *Program) FeedNames() []string { return p.Graph.FeedNames() }

// FetchNames returns the output variable names
func (p *Program) FetchNames() []string { return append([]string(nil), p.Graph.Fetches...) }

// Clone deep-copies the program
func (p *Program) Clone() *Program { return &Program{Graph: p.Graph.Clone()} }

// LoadOptions names the files inside a model directory. An empty
// ParamsFilename means every parameter lives in its own file named after it.
type LoadOptions struct {
	ModelFilename  string
	ParamsFilename string
}

// SaveOptions controls how a model directory is written
type SaveOptions struct {
	ModelFilename  string
	ParamsFilename string
	Codec          Codec
}

// Load reads a model directory, places its parameters into scope and returns
// the program.
func Load(dir string, opts LoadOptions, scope *Scope) (*Program, error) {
	modelFile := opts.ModelFilename
	if modelFile == "" {
		modelFile = DefaultModelFilename
	}
	data, err := os.ReadFile(filepath.Join(dir, modelFile))
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidGraph, modelFile, err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	if opts.ParamsFilename != "" {
		if err := loadCombined(filepath.Join(dir, opts.ParamsFilename), g.Params, scope); err != nil {
			return nil, err
		}
	} else {
		for _, name := range g.Params {
			if err := loadCombined(filepath.Join(dir, name), []string{name}, scope); err != nil {
				return nil, err
			}
		}
	}
	return &Program{Graph: &g}, nil
}

func loadCombined(path string, want []string, scope *Scope) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open params: %w", err)
	}
	defer f.Close()
	_, tensors, err := DecodeParams(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, name := range want {
		t, ok := tensors[name]
		if !ok {
			return fmt.Errorf("%w: %s not in %s", ErrParamNotFound, name, path)
		}
		scope.Set(name, t)
	}
	return nil
}

// Save writes the program and its parameters from scope into dir, creating it
// if needed.
func Save(dir string, prog *Program, scope *Scope, opts SaveOptions) error {
	if err := prog.Graph.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	modelFile := opts.ModelFilename
	if modelFile == "" {
		modelFile = DefaultModelFilename
	}
	data, err := yaml.Marshal(prog.Graph)
	if err != nil {
		return fmt.Errorf("encode graph: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, modelFile), data, 0o644); err != nil {
		return fmt.Errorf("write model file: %w", err)
	}

	tensors := make(map[string]*Tensor, len(prog.Graph.Params))
	for _, name := range prog.Graph.Params {
		t, err := scope.MustGet(name)
		if err != nil {
			return err
		}
		tensors[name] = t
	}

	if opts.ParamsFilename != "" {
		return writeParams(filepath.Join(dir, opts.ParamsFilename), prog.Graph.Params, tensors, opts.Codec)
	}
	for _, name := range prog.Graph.Params {
		if err := writeParams(filepath.Join(dir, name), []string{name}, tensors, opts.Codec); err != nil {
			return err
		}
	}
	return nil
}

func writeParams(path string, names []string, tensors map[string]*Tensor, codec Codec) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create params: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := EncodeParams(w, names, tensors, codec); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// AddParam registers a new parameter on the graph and stores its value
func (p *Program) AddParam(scope *Scope, name string, t *Tensor) {
	if !slices.Contains(p.Graph.Params, name) {
		p.Graph.Params = append(p.Graph.Params, name)
	}
	scope.Set(name, t)
}

// RemoveUnusedParams drops parameters no op reads
func (p *Program) RemoveUnusedParams(scope *Scope) {
	used := make(map[string]bool)
	for _, op := range p.Graph.Ops {
		for _, in := range op.InputNames() {
			used[in] = true
		}
	}
	kept := p.Graph.Params[:0]
	for _, name := range p.Graph.Params {
		if used[name] {
			kept = append(kept, name)
		} else {
			scope.Delete(name)
		}
	}
	p.Graph.Params = kept
}
