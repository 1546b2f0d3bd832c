package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ValidationError is a single defect found while resolving the composition.
type ValidationError struct {
	Stack     string // empty for root-level defects
	Parameter string
	Message   string
}

func (e ValidationError) Error() string {
	switch {
	case e.Stack != "" && e.Parameter != "":
		return fmt.Sprintf("stack %q parameter %q: %s", e.Stack, e.Parameter, e.Message)
	case e.Stack != "":
		return fmt.Sprintf("stack %q: %s", e.Stack, e.Message)
	case e.Parameter != "":
		return fmt.Sprintf("parameter %q: %s", e.Parameter, e.Message)
	default:
		return e.Message
	}
}

// ValidationErrors aggregates every defect so a single resolve reports all
// problems at once instead of failing on the first.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("composition has %d validation error(s):\n  - %s", len(e), strings.Join(msgs, "\n  - "))
}

// ResolvedParameter is one bound parameter in the plan. For output
// references the value is only known at execution time, so Deferred is set
// and Value carries the symbolic form.
type ResolvedParameter struct {
	Name     string
	Value    string
	Binding  Binding
	Deferred bool
	NoEcho   bool
}

// PlannedStack is one node of the instantiation plan.
type PlannedStack struct {
	Name         string
	TemplateFile string
	Parameters   []ResolvedParameter
	DependsOn    []string
	Outputs      []string
}

// Plan is a fully resolved, topologically ordered instantiation plan.
// Stacks appear in a valid evaluation order; Waves groups stacks that have
// no dependency relationship and may be materialized concurrently.
type Plan struct {
	Stacks []PlannedStack
	Waves  [][]string

	byName map[string]*PlannedStack
}

// Stack returns the planned stack with the given name.
func (p *Plan) Stack(name string) (*PlannedStack, bool) {
	s, ok := p.byName[name]
	return s, ok
}

// Order returns stack names in evaluation order.
func (p *Plan) Order() []string {
	names := make([]string, len(p.Stacks))
	for i, s := range p.Stacks {
		names[i] = s.Name
	}
	return names
}

// Resolve validates the composition against the supplied root parameter
// values and produces the instantiation plan. Resolution is pure: no side
// effects, nothing is materialized. All defects are collected into a
// ValidationErrors; a cyclic dependency or any defect aborts with no plan.
func (g *Graph) Resolve(rootValues map[string]string) (*Plan, error) {
	var errs ValidationErrors

	effectiveRoot, rootErrs := g.resolveRootValues(rootValues)
	errs = append(errs, rootErrs...)

	// Validate bindings: every declared parameter bound, every binding
	// targeting a declared parameter, every reference resolvable.
	for _, name := range g.order {
		def := g.stacks[name]

		for _, p := range def.Parameters {
			if _, bound := def.Bindings[p.Name]; !bound && !p.HasDefault {
				errs = append(errs, ValidationError{Stack: name, Parameter: p.Name, Message: "declared parameter is not supplied by the composition"})
			}
		}

		for paramName, b := range def.Bindings {
			if _, declared := def.parameter(paramName); !declared {
				errs = append(errs, ValidationError{Stack: name, Parameter: paramName, Message: "binding targets a parameter the stack does not declare"})
				continue
			}

			switch b.Kind {
			case BindingRootParam:
				if _, ok := g.rootParameter(b.Value); !ok {
					errs = append(errs, ValidationError{Stack: name, Parameter: paramName, Message: fmt.Sprintf("references unknown root parameter %q", b.Value)})
				}
			case BindingOutputRef:
				src, ok := g.stacks[b.Stack]
				if !ok {
					errs = append(errs, ValidationError{Stack: name, Parameter: paramName, Message: fmt.Sprintf("references unknown stack %q", b.Stack)})
					continue
				}
				if !src.hasOutput(b.Output) {
					errs = append(errs, ValidationError{Stack: name, Parameter: paramName, Message: fmt.Sprintf("references output %q which stack %q does not declare", b.Output, b.Stack)})
				}
			}
		}
	}

	// Cycle detection before ordering; report every cycle's membership.
	for _, cycle := range g.cycles() {
		sort.Strings(cycle)
		errs = append(errs, ValidationError{Message: fmt.Sprintf("cyclic dependency between stacks: %s", strings.Join(cycle, " -> "))})
	}

	if len(errs) > 0 {
		return nil, errs
	}

	order, waves := g.topologicalOrder()

	plan := &Plan{
		Waves:  waves,
		byName: map[string]*PlannedStack{},
	}

	for _, name := range order {
		def := g.stacks[name]
		planned := PlannedStack{
			Name:         name,
			TemplateFile: def.TemplateFile,
			DependsOn:    g.Dependencies(name),
			Outputs:      append([]string(nil), def.Outputs...),
		}

		paramErrs := g.resolveStackParameters(def, effectiveRoot, &planned)
		errs = append(errs, paramErrs...)

		plan.Stacks = append(plan.Stacks, planned)
	}

	if len(errs) > 0 {
		return nil, errs
	}

	for i := range plan.Stacks {
		plan.byName[plan.Stacks[i].Name] = &plan.Stacks[i]
	}

	return plan, nil
}

// resolveRootValues applies defaults and checks every root constraint,
// returning the effective root parameter values.
func (g *Graph) resolveRootValues(rootValues map[string]string) (map[string]string, ValidationErrors) {
	var errs ValidationErrors
	effective := map[string]string{}

	for name := range rootValues {
		if _, ok := g.rootParameter(name); !ok {
			errs = append(errs, ValidationError{Parameter: name, Message: "value supplied for undeclared root parameter"})
		}
	}

	for _, p := range g.RootParameters {
		value, supplied := rootValues[p.Name]
		if !supplied || value == "" {
			if !p.HasDefault {
				errs = append(errs, ValidationError{Parameter: p.Name, Message: "required root parameter has no value"})
				continue
			}
			value = p.Default
		}

		if err := checkConstraints(p, value); err != "" {
			errs = append(errs, ValidationError{Parameter: p.Name, Message: err})
			continue
		}

		effective[p.Name] = value
	}

	return effective, errs
}

func (g *Graph) resolveStackParameters(def *StackDef, rootValues map[string]string, planned *PlannedStack) ValidationErrors {
	var errs ValidationErrors

	names := make([]string, 0, len(def.Bindings))
	for n := range def.Bindings {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, paramName := range names {
		b := def.Bindings[paramName]
		spec, _ := def.parameter(paramName)

		rp := ResolvedParameter{
			Name:    paramName,
			Binding: b,
			NoEcho:  spec.NoEcho,
		}

		switch b.Kind {
		case BindingLiteral:
			rp.Value = b.Value
		case BindingRootParam:
			rp.Value = rootValues[b.Value]
			if root, ok := g.rootParameter(b.Value); ok && root.NoEcho {
				rp.NoEcho = true
			}
		case BindingOutputRef:
			rp.Value = b.String()
			rp.Deferred = true
		}

		// Deferred values can only be checked once the producer publishes
		// them; literal and root-sourced values are checked now.
		if !rp.Deferred {
			if err := checkConstraints(spec, rp.Value); err != "" {
				errs = append(errs, ValidationError{Stack: def.Name, Parameter: paramName, Message: err})
			}
		}

		planned.Parameters = append(planned.Parameters, rp)
	}

	return errs
}

// checkConstraints applies the declared constraints to a concrete value and
// returns a message describing the first violated constraint, or "".
func checkConstraints(p ParameterSpec, value string) string {
	if len(p.AllowedValues) > 0 {
		ok := false
		for _, av := range p.AllowedValues {
			if av == value {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Sprintf("value %q is not one of the allowed values [%s]", value, strings.Join(p.AllowedValues, ", "))
		}
	}

	if p.MaxLength > 0 && len(value) > p.MaxLength {
		return fmt.Sprintf("value exceeds maximum length of %d characters", p.MaxLength)
	}

	if p.AllowedPattern != "" {
		re, err := regexp.Compile("^" + p.AllowedPattern + "$")
		if err != nil {
			return fmt.Sprintf("declared pattern %q does not compile: %v", p.AllowedPattern, err)
		}
		if !re.MatchString(value) {
			if p.ConstraintDescription != "" {
				return fmt.Sprintf("value %q: %s", value, p.ConstraintDescription)
			}
			return fmt.Sprintf("value %q does not match pattern %q", value, p.AllowedPattern)
		}
	}

	if p.Type == "Number" {
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Sprintf("value %q is not a number", value)
		}
	}

	return ""
}

// cycles returns the strongly connected components with more than one
// member, i.e. the dependency cycles. Tarjan's algorithm, iterative on the
// recursion only through the helper.
func (g *Graph) cycles() [][]string {
	index := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	var result [][]string
	counter := 0

	var strongConnect func(v string)
	strongConnect = func(v string) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.Dependencies(v) {
			if _, ok := g.stacks[w]; !ok {
				continue
			}
			if _, visited := index[w]; !visited {
				strongConnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && index[w] < lowlink[v] {
				lowlink[v] = index[w]
			}
		}

		if lowlink[v] == index[v] {
			var component []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			if len(component) > 1 {
				result = append(result, component)
			} else {
				// A node referencing its own output is a cycle of length 1.
				for _, w := range g.Dependencies(v) {
					if w == v {
						result = append(result, component)
						break
					}
				}
			}
		}
	}

	for _, name := range g.order {
		if _, visited := index[name]; !visited {
			strongConnect(name)
		}
	}

	return result
}

// topologicalOrder returns a valid evaluation order plus the wave grouping:
// wave N contains every stack whose dependencies are all in waves < N.
// Assumes the graph is acyclic (callers run cycle detection first).
func (g *Graph) topologicalOrder() ([]string, [][]string) {
	depth := map[string]int{}

	var depthOf func(name string) int
	depthOf = func(name string) int {
		if d, ok := depth[name]; ok {
			return d
		}
		max := 0
		for _, dep := range g.Dependencies(name) {
			if _, ok := g.stacks[dep]; !ok {
				continue
			}
			if d := depthOf(dep) + 1; d > max {
				max = d
			}
		}
		depth[name] = max
		return max
	}

	maxDepth := 0
	for _, name := range g.order {
		if d := depthOf(name); d > maxDepth {
			maxDepth = d
		}
	}

	waves := make([][]string, maxDepth+1)
	for _, name := range g.order {
		d := depth[name]
		waves[d] = append(waves[d], name)
	}
	for _, wave := range waves {
		sort.Strings(wave)
	}

	var order []string
	for _, wave := range waves {
		order = append(order, wave...)
	}

	return order, waves
}
