package synth

import (
	"context"
	"fmt"
	"log/slog"

	synthsvc "github.com/shibstack/shibstack/internal/services/synth"
	"github.com/shibstack/shibstack/internal/stacks"
	"github.com/shibstack/shibstack/internal/types"
)

type SynthesizerOpts struct {
	Manifest  *types.Manifest
	OutputDir string
}

type Synthesizer struct {
	manifest  *types.Manifest
	outputDir string
}

func NewSynthesizer(opts SynthesizerOpts) *Synthesizer {
	return &Synthesizer{
		manifest:  opts.Manifest,
		outputDir: opts.OutputDir,
	}
}

func (s *Synthesizer) Run() error {
	ctx := context.Background()

	slog.Info("🚀 starting synth", "stack", s.manifest.StackName)

	cfg, err := synthsvc.ConfigFromManifest(ctx, s.manifest, false)
	if err != nil {
		return err
	}

	// Resolve the composition before writing anything so binding mistakes
	// surface here, not halfway through a CloudFormation deploy.
	g, err := stacks.Compose(cfg)
	if err != nil {
		return err
	}
	if _, err := g.Resolve(s.manifest.RootParameters()); err != nil {
		return fmt.Errorf("stack composition is invalid:\n%v", err)
	}

	if err := synthsvc.NewSynthService(cfg).WriteTo(s.outputDir); err != nil {
		return err
	}

	slog.Info("✅ synth complete", "dir", s.outputDir)
	return nil
}
