package lang

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"codeexec/model"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

//go:embed toolchains.yaml
var embeddedToolchains []byte

// Language identifies a registered toolchain.
type Language string

const (
	Python     Language = "python"
	C          Language = "c"
	CPP        Language = "cpp"
	Java       Language = "java"
	Kotlin     Language = "kotlin"
	JavaScript Language = "javascript"
	Rust       Language = "rust"
	SQL        Language = "sql"
	Text       Language = "text"
)

// Kind selects which pipeline variant handles a language.
type Kind string

const (
	KindProcess     Kind = "process"
	KindQuery       Kind = "query"
	KindPassthrough Kind = "passthrough"
)

// Layout describes how the source is placed in a workspace.
type Layout string

const (
	LayoutFile    Layout = "file"
	LayoutProject Layout = "project"
)

var ErrInvalidDescriptor = errors.New("invalid toolchain descriptor")

// Step is one external command with its wall-clock bound.
type Step struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// Manifest is an extra file written next to the source for project layouts.
type Manifest struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
}

// Descriptor is the static recipe for running one language.
type Descriptor struct {
	ID             Language  `yaml:"id"`
	Name           string    `yaml:"name"`
	Extension      string    `yaml:"extension"`
	Kind           Kind      `yaml:"kind"`
	Layout         Layout    `yaml:"layout"`
	Source         string    `yaml:"source"`
	Declaration    string    `yaml:"declaration"`
	DefaultName    string    `yaml:"default_name"`
	Manifest       *Manifest `yaml:"manifest"`
	Compile        []Step    `yaml:"compile"`
	Run            Step      `yaml:"run"`
	StderrIsError  *bool     `yaml:"stderr_is_error"`
	RunErrorPrefix string    `yaml:"run_error_prefix"`
	Denylist       []string  `yaml:"denylist"`
}

// TreatsStderrAsError reports whether any stderr output fails the run phase.
// Descriptors that leave the flag unset get the strict behaviour.
func (d Descriptor) TreatsStderrAsError() bool {
	return d.StderrIsError == nil || *d.StderrIsError
}

// clone returns a copy that shares no slices or pointers with d.
func (d Descriptor) clone() Descriptor {
	if d.Manifest != nil {
		m := *d.Manifest
		d.Manifest = &m
	}
	if d.StderrIsError != nil {
		v := *d.StderrIsError
		d.StderrIsError = &v
	}
	d.Compile = slices.Clone(d.Compile)
	d.Denylist = slices.Clone(d.Denylist)
	return d
}

// Vars are the placeholder values substituted into step commands.
type Vars struct {
	Dir    string
	Source string
	Name   string
}

// Argv splits the step command and expands placeholders in every token.
func (s Step) Argv(v Vars) ([]string, error) {
	tokens, err := shlex.Split(s.Command)
	if err != nil {
		return nil, fmt.Errorf("split command %q: %w", s.Command, err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidDescriptor)
	}
	r := strings.NewReplacer("{dir}", v.Dir, "{source}", v.Source, "{name}", v.Name)
	for i, tok := range tokens {
		tokens[i] = r.Replace(tok)
	}
	return tokens, nil
}

type document struct {
	Languages []Descriptor `yaml:"languages"`
}

// Registry is built once at startup and only read afterwards.
type Registry struct {
	byID     map[Language]Descriptor
	order    []Language
	fallback Language
}

// Default parses the embedded descriptor document.
func Default(fallback string) (*Registry, error) {
	return Load(embeddedToolchains, fallback)
}

// LoadFile parses a descriptor document from disk.
func LoadFile(path, fallback string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read toolchains: %w", err)
	}
	return Load(data, fallback)
}

// Load parses a YAML descriptor document and validates every entry.
func Load(data []byte, fallback string) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse toolchains: %w", err)
	}

	r := &Registry{byID: make(map[Language]Descriptor, len(doc.Languages))}
	for _, d := range doc.Languages {
		d.ID = Language(strings.ToLower(strings.TrimSpace(string(d.ID))))
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate language %q", ErrInvalidDescriptor, d.ID)
		}
		if d.Layout == "" {
			d.Layout = LayoutFile
		}
		if err := validate(d); err != nil {
			return nil, err
		}
		r.byID[d.ID] = d
		r.order = append(r.order, d.ID)
	}

	if fallback == "" {
		fallback = string(Python)
	}
	r.fallback = Language(strings.ToLower(fallback))
	if _, ok := r.byID[r.fallback]; !ok {
		return nil, fmt.Errorf("%w: default language %q is not registered", ErrInvalidDescriptor, fallback)
	}
	return r, nil
}

func validate(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDescriptor)
	}
	if d.Source == "" {
		return fmt.Errorf("%w: %s: missing source file name", ErrInvalidDescriptor, d.ID)
	}
	if strings.Contains(d.Source, "{name}") && d.DefaultName == "" {
		return fmt.Errorf("%w: %s: derived source name needs default_name", ErrInvalidDescriptor, d.ID)
	}
	if d.Layout != LayoutFile && d.Layout != LayoutProject {
		return fmt.Errorf("%w: %s: unknown layout %q", ErrInvalidDescriptor, d.ID, d.Layout)
	}
	if d.Layout == LayoutProject && d.Manifest == nil {
		return fmt.Errorf("%w: %s: project layout needs a manifest", ErrInvalidDescriptor, d.ID)
	}

	switch d.Kind {
	case KindProcess:
		if d.Run.Command == "" {
			return fmt.Errorf("%w: %s: missing run command", ErrInvalidDescriptor, d.ID)
		}
		if d.Run.Timeout <= 0 {
			return fmt.Errorf("%w: %s: run timeout must be positive", ErrInvalidDescriptor, d.ID)
		}
		for i, step := range d.Compile {
			if step.Command == "" || step.Timeout <= 0 {
				return fmt.Errorf("%w: %s: compile step %d needs a command and a positive timeout", ErrInvalidDescriptor, d.ID, i)
			}
		}
	case KindQuery:
		if d.Run.Timeout <= 0 {
			return fmt.Errorf("%w: %s: query timeout must be positive", ErrInvalidDescriptor, d.ID)
		}
	case KindPassthrough:
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidDescriptor, d.ID, d.Kind)
	}
	return nil
}

// Resolve returns the descriptor for id, falling back to the default
// language for unknown or empty identifiers.
func (r *Registry) Resolve(id string) (Descriptor, Language) {
	if d, ok := r.Lookup(id); ok {
		return d, d.ID
	}
	return r.byID[r.fallback].clone(), r.fallback
}

// Lookup returns the descriptor for id without falling back. The result is a
// private copy; changing it does not affect the registry.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	d, ok := r.byID[Language(strings.ToLower(strings.TrimSpace(id)))]
	if !ok {
		return Descriptor{}, false
	}
	return d.clone(), true
}

func (r *Registry) Fallback() Language { return r.fallback }

// List returns every registered language in document order.
func (r *Registry) List() []model.LanguageInfo {
	out := make([]model.LanguageInfo, 0, len(r.order))
	for _, id := range r.order {
		d := r.byID[id]
		out = append(out, model.LanguageInfo{ID: string(d.ID), Name: d.Name, Extension: d.Extension})
	}
	return out
}
