package validate

import (
	"context"
	"log/slog"
	"sort"

	"github.com/shibstack/shibstack/internal/services/cloudformation"
	synthsvc "github.com/shibstack/shibstack/internal/services/synth"
	"github.com/shibstack/shibstack/internal/stacks"
	"github.com/shibstack/shibstack/internal/types"
)

type ValidatorOpts struct {
	Manifest *types.Manifest
	Remote   bool
}

type Validator struct {
	manifest *types.Manifest
	remote   bool
}

func NewValidator(opts ValidatorOpts) *Validator {
	return &Validator{
		manifest: opts.Manifest,
		remote:   opts.Remote,
	}
}

func (v *Validator) Run() error {
	ctx := context.Background()

	slog.Info("🚀 starting validate", "stack", v.manifest.StackName)

	cfg, err := synthsvc.ConfigFromManifest(ctx, v.manifest, false)
	if err != nil {
		return err
	}

	g, err := stacks.Compose(cfg)
	if err != nil {
		return err
	}

	plan, err := g.Resolve(v.manifest.RootParameters())
	if err != nil {
		return err
	}

	slog.Info("✅ composition is valid", "stacks", len(plan.Stacks), "waves", len(plan.Waves))

	if !v.remote {
		return nil
	}

	return v.validateRemote(ctx, cfg)
}

// validateRemote pushes each synthesized template body through the
// CloudFormation ValidateTemplate API, which catches the service-side
// problems a local resolve cannot see.
func (v *Validator) validateRemote(ctx context.Context, cfg stacks.Config) error {
	cfnService, err := cloudformation.NewCloudFormationService(v.manifest.Region)
	if err != nil {
		return err
	}

	rendered, err := synthsvc.NewSynthService(cfg).Templates()
	if err != nil {
		return err
	}

	files := make([]string, 0, len(rendered))
	for file := range rendered {
		files = append(files, file)
	}
	sort.Strings(files)

	for _, file := range files {
		if err := cfnService.ValidateTemplate(ctx, rendered[file]); err != nil {
			slog.Error("❌ template rejected", "template", file, "error", err)
			return err
		}
		slog.Info("✅ template accepted", "template", file)
	}

	return nil
}
