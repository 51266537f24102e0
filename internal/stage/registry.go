// Package stage holds the ordered list of pipeline stages a tank session
// passes through, the breakpoint value type and the action gating policy
// derived from stage order.
package stage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStage is returned when a stage name is not part of the registry.
var ErrUnknownStage = errors.New("unknown stage")

// Position is a zero-based index into the stage sequence.
type Position int

// NotFound is the position reported for names outside the sequence. It sorts
// before every valid position.
const NotFound Position = -1

// DefaultStages is the stage order reported by the tank API.
var DefaultStages = []string{
	"lock",
	"init",
	"configure",
	"prepare",
	"start",
	"poll",
	"end",
	"postprocess",
	"unlock",
	"finish",
}

// Registry is an immutable ordered set of stage names.
type Registry struct {
	names []string
	index map[string]int
}

// NewRegistry validates names and builds a registry. The last name is the
// terminal stage.
func NewRegistry(names []string) (*Registry, error) {
	if len(names) == 0 {
		return nil, errors.New("stage list cannot be empty")
	}
	r := &Registry{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			return nil, fmt.Errorf("stage %d: name cannot be empty", i)
		}
		if prev, ok := r.index[name]; ok {
			return nil, fmt.Errorf("stage %q listed twice (positions %d and %d)", name, prev, i)
		}
		r.names[i] = name
		r.index[name] = i
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on invalid input. Intended for
// package-level defaults and tests.
func MustRegistry(names []string) *Registry {
	r, err := NewRegistry(names)
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns a registry over DefaultStages.
func Default() *Registry {
	return MustRegistry(DefaultStages)
}

// PositionOf returns the position of name, or NotFound.
func (r *Registry) PositionOf(name string) Position {
	if r == nil {
		return NotFound
	}
	if idx, ok := r.index[name]; ok {
		return Position(idx)
	}
	return NotFound
}

// Lookup returns the position of name and whether it is a known stage.
func (r *Registry) Lookup(name string) (int, bool) {
	pos := r.PositionOf(name)
	return int(pos), pos != NotFound
}

// Contains reports whether name is a registered stage.
func (r *Registry) Contains(name string) bool {
	return r.PositionOf(name) != NotFound
}

// Len returns the number of stages.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.names)
}

// Names returns a copy of the stage sequence.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.names...)
}

// At returns the stage at position i.
func (r *Registry) At(i int) (string, bool) {
	if r == nil || i < 0 || i >= len(r.names) {
		return "", false
	}
	return r.names[i], true
}

// Terminal returns the last stage of the sequence.
func (r *Registry) Terminal() string {
	if r == nil || len(r.names) == 0 {
		return ""
	}
	return r.names[len(r.names)-1]
}

// IsTerminal reports whether name is the terminal stage.
func (r *Registry) IsTerminal(name string) bool {
	return name != "" && name == r.Terminal()
}

// Before reports whether a comes strictly before b. Unknown names sort first.
func (r *Registry) Before(a, b string) bool {
	return r.PositionOf(a) < r.PositionOf(b)
}

// Validate returns an error wrapping ErrUnknownStage if name is not registered.
func (r *Registry) Validate(name string) error {
	if r.Contains(name) {
		return nil
	}
	return fmt.Errorf("%w: %q (valid stages: %s)", ErrUnknownStage, name, strings.Join(r.Names(), ", "))
}
