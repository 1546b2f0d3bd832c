package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/shibstack/shibstack/internal/services/cloudformation"
	"github.com/shibstack/shibstack/internal/services/s3"
	synthsvc "github.com/shibstack/shibstack/internal/services/synth"
	"github.com/shibstack/shibstack/internal/stacks"
	"github.com/shibstack/shibstack/internal/types"
)

const stateFileName = "shibstack-state.json"

type DeployerOpts struct {
	Manifest *types.Manifest
}

type Deployer struct {
	manifest *types.Manifest
}

func NewDeployer(opts DeployerOpts) *Deployer {
	return &Deployer{
		manifest: opts.Manifest,
	}
}

// Run drives the full deployment lifecycle: resolve, synthesize, upload,
// deploy. Every stage transition is persisted to the state file so an
// interrupted run is visible afterwards.
func (d *Deployer) Run() error {
	ctx := context.Background()

	slog.Info("🚀 starting deploy", "stack", d.manifest.StackName, "region", d.manifest.Region)

	state, deployment, err := d.loadState()
	if err != nil {
		return err
	}

	if err := d.run(ctx, state, deployment); err != nil {
		if tErr := deployment.Transition(ctx, types.EventFail, err); tErr == nil {
			d.saveState(state, deployment)
		}
		return err
	}

	return nil
}

func (d *Deployer) run(ctx context.Context, state *types.DeploymentState, deployment *types.Deployment) error {
	cfg, err := synthsvc.ConfigFromManifest(ctx, d.manifest, true)
	if err != nil {
		return err
	}

	g, err := stacks.Compose(cfg)
	if err != nil {
		return err
	}
	if _, err := g.Resolve(d.manifest.RootParameters()); err != nil {
		return fmt.Errorf("stack composition is invalid:\n%v", err)
	}

	rendered, err := synthsvc.NewSynthService(cfg).Templates()
	if err != nil {
		return err
	}
	if err := deployment.Transition(ctx, types.EventSynthesize, nil); err != nil {
		return err
	}
	if err := d.saveState(state, deployment); err != nil {
		return err
	}

	s3Service, err := s3.NewS3Service(d.manifest.Region)
	if err != nil {
		return err
	}
	if err := s3Service.EnsureBucket(ctx, d.manifest.TemplateBucket); err != nil {
		return err
	}

	files := make([]string, 0, len(rendered))
	for file := range rendered {
		files = append(files, file)
	}
	sort.Strings(files)

	for _, file := range files {
		if err := s3Service.UploadTemplate(ctx, d.manifest.TemplateBucket, d.manifest.TemplateFolder, file, rendered[file]); err != nil {
			return err
		}
		deployment.TemplateURLs[file] = s3Service.TemplateURL(d.manifest.TemplateBucket, d.manifest.TemplateFolder, file)
	}
	if err := deployment.Transition(ctx, types.EventUpload, nil); err != nil {
		return err
	}
	if err := d.saveState(state, deployment); err != nil {
		return err
	}

	cfnService, err := cloudformation.NewCloudFormationService(d.manifest.Region)
	if err != nil {
		return err
	}

	if err := deployment.Transition(ctx, types.EventDeploy, nil); err != nil {
		return err
	}
	if err := d.saveState(state, deployment); err != nil {
		return err
	}

	rootURL := deployment.TemplateURLs[stacks.TemplateFileRoot]
	err = cfnService.Deploy(ctx, d.manifest.StackName, rootURL, d.manifest.RootParameters())
	if err != nil {
		if errors.Is(err, cloudformation.ErrNoChanges) {
			slog.Info("✅ stack already up to date", "stack", d.manifest.StackName)
		} else {
			return err
		}
	}

	outputs, err := cfnService.Outputs(ctx, d.manifest.StackName)
	if err != nil {
		return err
	}
	deployment.Outputs = outputs

	if err := deployment.Transition(ctx, types.EventComplete, nil); err != nil {
		return err
	}
	if err := d.saveState(state, deployment); err != nil {
		return err
	}

	slog.Info("✅ deploy complete", "stack", d.manifest.StackName, "serviceUrl", outputs["ServiceUrl"])
	return nil
}

// loadState reads the state file when present and returns the deployment for
// this stack name, creating both as needed. A deployment found in a terminal
// or failed state restarts its lifecycle from pending.
func (d *Deployer) loadState() (*types.DeploymentState, *types.Deployment, error) {
	state := types.NewDeploymentState()

	if _, err := os.Stat(stateFileName); err == nil {
		state, err = types.NewDeploymentStateFromFile(stateFileName)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using existing state file", "file", stateFileName)
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to check state file: %v", err)
	}

	deployment := state.FindDeployment(d.manifest.StackName)
	switch {
	case deployment == nil || deployment.CurrentState == types.StateDestroyed:
		deployment = types.NewDeployment(d.manifest.StackName, d.manifest.Region, d.manifest.LaunchType)
	case deployment.CurrentState != types.StatePending &&
		deployment.CurrentState != types.StateDeployed &&
		deployment.CurrentState != types.StateFailed:
		// A half-finished previous run; restart the lifecycle.
		deployment = types.NewDeployment(d.manifest.StackName, d.manifest.Region, d.manifest.LaunchType)
	}

	deployment.TemplateBucket = d.manifest.TemplateBucket
	deployment.TemplateFolder = d.manifest.TemplateFolder

	return state, deployment, nil
}

func (d *Deployer) saveState(state *types.DeploymentState, deployment *types.Deployment) error {
	state.UpsertDeployment(*deployment)
	return state.WriteToFile(stateFileName)
}
