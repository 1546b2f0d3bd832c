package destroy

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/shibstack/shibstack/internal/services/cloudformation"
	"github.com/shibstack/shibstack/internal/types"
)

const stateFileName = "shibstack-state.json"

type DestroyerOpts struct {
	Manifest *types.Manifest
}

type Destroyer struct {
	manifest *types.Manifest
}

func NewDestroyer(opts DestroyerOpts) *Destroyer {
	return &Destroyer{
		manifest: opts.Manifest,
	}
}

func (d *Destroyer) Run() error {
	ctx := context.Background()

	slog.Info("🚀 starting destroy", "stack", d.manifest.StackName, "region", d.manifest.Region)

	state, deployment, err := d.loadState()
	if err != nil {
		return err
	}

	if deployment != nil {
		if err := deployment.Transition(ctx, types.EventDestroy, nil); err != nil {
			// Never deployed to completion; delete the stack anyway but stop
			// tracking the lifecycle.
			slog.Warn("⚠️ deployment not in a destroyable state, proceeding untracked", "state", deployment.GetCurrentState())
			deployment = nil
		} else if err := d.saveState(state, deployment); err != nil {
			return err
		}
	}

	cfnService, err := cloudformation.NewCloudFormationService(d.manifest.Region)
	if err != nil {
		return err
	}

	if err := cfnService.Destroy(ctx, d.manifest.StackName); err != nil {
		if deployment != nil {
			if tErr := deployment.Transition(ctx, types.EventFail, err); tErr == nil {
				d.saveState(state, deployment)
			}
		}
		return err
	}

	if deployment != nil {
		if err := deployment.Transition(ctx, types.EventDestroyed, nil); err != nil {
			return err
		}
		if err := d.saveState(state, deployment); err != nil {
			return err
		}
	}

	slog.Info("✅ destroy complete", "stack", d.manifest.StackName)
	return nil
}

// loadState returns the tracked deployment for the stack, or nil when the
// stack was never deployed through this tool. Destroy still proceeds in that
// case; the state file is only bookkeeping.
func (d *Destroyer) loadState() (*types.DeploymentState, *types.Deployment, error) {
	if _, err := os.Stat(stateFileName); os.IsNotExist(err) {
		slog.Info("no state file found, destroying untracked stack")
		return nil, nil, nil
	} else if err != nil {
		return nil, nil, fmt.Errorf("failed to check state file: %v", err)
	}

	state, err := types.NewDeploymentStateFromFile(stateFileName)
	if err != nil {
		return nil, nil, err
	}

	deployment := state.FindDeployment(d.manifest.StackName)
	if deployment == nil {
		slog.Info("stack not tracked in state file, destroying anyway")
		return state, nil, nil
	}

	return state, deployment, nil
}

func (d *Destroyer) saveState(state *types.DeploymentState, deployment *types.Deployment) error {
	state.UpsertDeployment(*deployment)
	return state.WriteToFile(stateFileName)
}
