// Package mode holds the helper's argument profiles.
package mode

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/robbob/launcher/internal/domain"
)

//go:embed modes.yaml
var builtinModes []byte

// Profile is one named set of helper arguments.
type Profile struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Args        []string `yaml:"args"`
}

type file struct {
	Default string    `yaml:"default"`
	Modes   []Profile `yaml:"modes"`
}

// Registry holds all helper mode profiles in file order.
type Registry struct {
	order    []string
	profiles map[string]Profile
	def      string
}

// NewRegistry creates a registry from the built-in profiles.
func NewRegistry() *Registry {
	r, err := Parse(builtinModes)
	if err != nil {
		panic(fmt.Sprintf("built-in modes: %v", err))
	}
	return r
}

// Parse builds a registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: modes: %v", domain.ErrParse, err)
	}

	r := &Registry{profiles: make(map[string]Profile, len(f.Modes))}
	for _, p := range f.Modes {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: mode without a name", domain.ErrParse)
		}
		if _, dup := r.profiles[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate mode %q", domain.ErrParse, p.Name)
		}
		if len(p.Args) == 0 {
			return nil, fmt.Errorf("%w: mode %q has no args", domain.ErrParse, p.Name)
		}
		r.profiles[p.Name] = p
		r.order = append(r.order, p.Name)
	}
	if len(r.order) == 0 {
		return nil, fmt.Errorf("%w: no modes defined", domain.ErrParse)
	}

	r.def = f.Default
	if r.def == "" {
		r.def = r.order[0]
	}
	if _, ok := r.profiles[r.def]; !ok {
		return nil, fmt.Errorf("%w: default mode %q is not defined", domain.ErrParse, r.def)
	}
	return r, nil
}

// Has reports whether mode is defined.
func (r *Registry) Has(mode string) bool {
	_, ok := r.profiles[mode]
	return ok
}

// Get returns a profile by name.
func (r *Registry) Get(mode string) (Profile, bool) {
	p, ok := r.profiles[mode]
	return p, ok
}

// List returns all profiles in file order.
func (r *Registry) List() []Profile {
	result := make([]Profile, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.profiles[name])
	}
	return result
}

// Names returns all mode names in file order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Default returns the default mode name.
func (r *Registry) Default() string {
	return r.def
}

// Args expands the profile's argument templates for the given directories.
func (r *Registry) Args(mode, binDir, listsDir string) ([]string, error) {
	p, ok := r.profiles[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownMode, mode)
	}
	expand := strings.NewReplacer(
		"${BIN}", withSeparator(binDir),
		"${LISTS}", withSeparator(listsDir),
	)
	args := make([]string, len(p.Args))
	for i, a := range p.Args {
		args[i] = expand.Replace(a)
	}
	return args, nil
}

func withSeparator(dir string) string {
	if dir == "" || strings.HasSuffix(dir, string(os.PathSeparator)) {
		return dir
	}
	return filepath.Clean(dir) + string(os.PathSeparator)
}

// Ensure Registry implements domain.ModeResolver.
var _ domain.ModeResolver = (*Registry)(nil)
