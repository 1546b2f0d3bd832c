// Package graph models the nested-stack composition as a directed acyclic
// graph of stack definitions wired together by parameter bindings, and
// resolves it into an ordered instantiation plan before anything touches AWS.
package graph

import (
	"fmt"
	"sort"
)

// ParameterSpec declares a single typed parameter with its constraints. A
// parameter without a default is required.
type ParameterSpec struct {
	Name                  string
	Type                  string // String, Number
	Default               string
	HasDefault            bool
	AllowedValues         []string
	AllowedPattern        string
	ConstraintDescription string
	MaxLength             int
	NoEcho                bool
}

// BindingKind says where a bound parameter value comes from.
type BindingKind int

const (
	BindingLiteral BindingKind = iota
	BindingRootParam
	BindingOutputRef
)

// Binding wires one declared parameter of a stack to its source: a literal
// value, a root parameter pass-through, or another stack's output.
type Binding struct {
	Kind   BindingKind
	Value  string // literal value, or root parameter name
	Stack  string // source stack for output references
	Output string // output name on the source stack
}

// Literal binds a parameter to a fixed value.
func Literal(value string) Binding {
	return Binding{Kind: BindingLiteral, Value: value}
}

// RootParam binds a parameter to a root-level input of the same name space.
func RootParam(name string) Binding {
	return Binding{Kind: BindingRootParam, Value: name}
}

// OutputRef binds a parameter to an output of a dependency stack.
func OutputRef(stack, output string) Binding {
	return Binding{Kind: BindingOutputRef, Stack: stack, Output: output}
}

func (b Binding) String() string {
	switch b.Kind {
	case BindingRootParam:
		return fmt.Sprintf("root:%s", b.Value)
	case BindingOutputRef:
		return fmt.Sprintf("%s::%s", b.Stack, b.Output)
	default:
		return b.Value
	}
}

// StackDef is one nested stack: its template file, the parameters the
// template declares, the outputs it exposes, and how each parameter is bound
// by the composition.
type StackDef struct {
	Name         string
	TemplateFile string
	Parameters   []ParameterSpec
	Outputs      []string
	Bindings     map[string]Binding
}

func (s *StackDef) parameter(name string) (ParameterSpec, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

func (s *StackDef) hasOutput(name string) bool {
	for _, o := range s.Outputs {
		if o == name {
			return true
		}
	}
	return false
}

// Graph is the whole composition: the root parameter set plus the stack
// definitions. Edges are implied by output-reference bindings.
type Graph struct {
	RootParameters []ParameterSpec
	stacks         map[string]*StackDef
	order          []string // insertion order, for stable reporting
}

func New() *Graph {
	return &Graph{
		stacks: map[string]*StackDef{},
	}
}

// AddRootParameter declares a root-level input.
func (g *Graph) AddRootParameter(p ParameterSpec) {
	g.RootParameters = append(g.RootParameters, p)
}

// AddStack registers a stack definition. Adding the same name twice is a
// programming error.
func (g *Graph) AddStack(def StackDef) error {
	if _, exists := g.stacks[def.Name]; exists {
		return fmt.Errorf("stack %q already registered", def.Name)
	}
	if def.Bindings == nil {
		def.Bindings = map[string]Binding{}
	}
	g.stacks[def.Name] = &def
	g.order = append(g.order, def.Name)
	return nil
}

// Stack returns a registered definition.
func (g *Graph) Stack(name string) (*StackDef, bool) {
	s, ok := g.stacks[name]
	return s, ok
}

// StackNames returns all registered stack names in insertion order.
func (g *Graph) StackNames() []string {
	names := make([]string, len(g.order))
	copy(names, g.order)
	return names
}

// Dependencies returns the distinct stacks a definition references through
// its bindings, sorted for determinism.
func (g *Graph) Dependencies(name string) []string {
	def, ok := g.stacks[name]
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	for _, b := range def.Bindings {
		if b.Kind == BindingOutputRef && !seen[b.Stack] {
			seen[b.Stack] = true
		}
	}
	deps := make([]string, 0, len(seen))
	for d := range seen {
		deps = append(deps, d)
	}
	sort.Strings(deps)
	return deps
}

func (g *Graph) rootParameter(name string) (ParameterSpec, bool) {
	for _, p := range g.RootParameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}
