package graph

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// WalkFunc materializes one planned stack. inputs carries the stack's
// effective parameter values with every deferred output reference replaced
// by the value its producer published. The returned map is the stack's
// outputs, keyed by output name.
type WalkFunc func(ctx context.Context, stack PlannedStack, inputs map[string]string) (map[string]string, error)

type walkResult struct {
	outputs map[string]string
	err     error
}

// Walk executes the plan leaf-first. Independent branches fan out in
// parallel; a stack blocks until every producer it references has published
// its outputs. The first failure cancels the walk and dependents of a
// failed stack are never attempted.
func (p *Plan) Walk(ctx context.Context, fn WalkFunc) error {
	done := map[string]chan struct{}{}
	results := map[string]*walkResult{}
	var mu sync.Mutex

	for _, s := range p.Stacks {
		done[s.Name] = make(chan struct{})
		results[s.Name] = &walkResult{}
	}

	g, ctx := errgroup.WithContext(ctx)

	for i := range p.Stacks {
		stack := p.Stacks[i]
		g.Go(func() error {
			// Block until every producer has published.
			for _, dep := range stack.DependsOn {
				select {
				case <-done[dep]:
				case <-ctx.Done():
					return ctx.Err()
				}

				mu.Lock()
				depErr := results[dep].err
				mu.Unlock()
				if depErr != nil {
					// Record the inherited failure and close our channel so
					// transitive dependents observe it the same way, but
					// only the originating stack fails the group.
					mu.Lock()
					results[stack.Name].err = fmt.Errorf("dependency %q failed: %w", dep, depErr)
					mu.Unlock()
					close(done[stack.Name])
					return nil
				}
			}

			inputs := p.bindInputs(stack, results, &mu)

			outputs, err := fn(ctx, stack, inputs)
			if err == nil {
				if missing := missingOutputs(stack, outputs); len(missing) > 0 {
					err = fmt.Errorf("declared output(s) not published: %v", missing)
				}
			}

			mu.Lock()
			results[stack.Name].outputs = outputs
			results[stack.Name].err = err
			mu.Unlock()
			close(done[stack.Name])

			if err != nil {
				return fmt.Errorf("stack %q: %w", stack.Name, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// bindInputs produces the effective parameter map for a stack, substituting
// deferred output references with the values their producers published.
// Producers are guaranteed complete by the time this runs.
func (p *Plan) bindInputs(stack PlannedStack, results map[string]*walkResult, mu *sync.Mutex) map[string]string {
	inputs := make(map[string]string, len(stack.Parameters))
	mu.Lock()
	defer mu.Unlock()
	for _, param := range stack.Parameters {
		if param.Deferred {
			inputs[param.Name] = results[param.Binding.Stack].outputs[param.Binding.Output]
			continue
		}
		inputs[param.Name] = param.Value
	}
	return inputs
}

func missingOutputs(stack PlannedStack, outputs map[string]string) []string {
	var missing []string
	for _, name := range stack.Outputs {
		if _, ok := outputs[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
