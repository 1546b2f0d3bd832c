package plan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shibstack/shibstack/internal/graph"
	"github.com/shibstack/shibstack/internal/services/markdown"
	synthsvc "github.com/shibstack/shibstack/internal/services/synth"
	"github.com/shibstack/shibstack/internal/stacks"
	"github.com/shibstack/shibstack/internal/types"
)

// redacted replaces NoEcho parameter values in all plan output.
const redacted = "********"

var summaryStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("42")).
	PaddingLeft(1)

type PlannerOpts struct {
	Manifest   *types.Manifest
	OutputFile string
}

type Planner struct {
	manifest   *types.Manifest
	outputFile string
}

func NewPlanner(opts PlannerOpts) *Planner {
	return &Planner{
		manifest:   opts.Manifest,
		outputFile: opts.OutputFile,
	}
}

func (p *Planner) Run() error {
	ctx := context.Background()

	slog.Info("🚀 starting plan", "stack", p.manifest.StackName)

	cfg, err := synthsvc.ConfigFromManifest(ctx, p.manifest, false)
	if err != nil {
		return err
	}

	g, err := stacks.Compose(cfg)
	if err != nil {
		return err
	}

	plan, err := g.Resolve(p.manifest.RootParameters())
	if err != nil {
		return err
	}

	md := p.renderMarkdown(plan, cfg)

	printOpts := markdown.DefaultPrintOptions()
	printOpts.ToFile = p.outputFile
	if err := md.Print(printOpts); err != nil {
		return err
	}

	fmt.Println(summaryStyle.Render(fmt.Sprintf("Plan: %d stacks in %d waves", len(plan.Stacks), len(plan.Waves))))
	return nil
}

func (p *Planner) renderMarkdown(plan *graph.Plan, cfg stacks.Config) *markdown.Markdown {
	md := markdown.New()

	md.AddHeading(fmt.Sprintf("Deployment plan: %s", p.manifest.StackName), 1)
	md.AddParagraph(fmt.Sprintf(
		"Region `%s`, launch type `%s`, availability zones `%s`, `%s`. Stacks within a wave have no dependency relationship and deploy concurrently.",
		p.manifest.Region, p.manifest.LaunchType, cfg.AvailabilityZones[0], cfg.AvailabilityZones[1]))

	for i, wave := range plan.Waves {
		md.AddHeading(fmt.Sprintf("Wave %d: %s", i+1, strings.Join(wave, ", ")), 2)

		for _, name := range wave {
			planned, ok := plan.Stack(name)
			if !ok {
				continue
			}

			md.AddHeading(fmt.Sprintf("%s (`%s`)", planned.Name, planned.TemplateFile), 3)
			if len(planned.DependsOn) > 0 {
				md.AddParagraph(fmt.Sprintf("Depends on: %s", strings.Join(planned.DependsOn, ", ")))
			}

			rows := make([][]string, 0, len(planned.Parameters))
			for _, param := range planned.Parameters {
				value := param.Value
				if param.NoEcho {
					value = redacted
				}
				rows = append(rows, []string{param.Name, bindingSource(param), value})
			}
			md.AddTable([]string{"Parameter", "Source", "Value"}, rows)
		}
	}

	return md
}

func bindingSource(p graph.ResolvedParameter) string {
	switch p.Binding.Kind {
	case graph.BindingRootParam:
		return "root parameter"
	case graph.BindingOutputRef:
		return "stack output (deferred)"
	default:
		return "fixed"
	}
}
