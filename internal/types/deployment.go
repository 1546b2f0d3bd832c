package types

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/looplab/fsm"
	"github.com/shibstack/shibstack/internal/build_info"
)

// FSM state constants for a deployment
const (
	StatePending     = "pending"
	StateSynthesized = "synthesized"
	StateUploaded    = "uploaded"
	StateDeploying   = "deploying"
	StateDeployed    = "deployed"
	StateDestroying  = "destroying"
	StateDestroyed   = "destroyed"
	StateFailed      = "failed"
)

// FSM event constants
const (
	EventSynthesize = "synthesize"
	EventUpload     = "upload"
	EventDeploy     = "deploy"
	EventComplete   = "complete"
	EventDestroy    = "destroy"
	EventDestroyed  = "destroyed"
	EventFail       = "fail"
)

// Deployment tracks one root-stack deployment through its lifecycle with a
// finite state machine. The FSM guards transition order; the struct is what
// gets persisted between shibstack invocations.
type Deployment struct {
	StackName    string   `json:"stack_name"`
	Region       string   `json:"region"`
	LaunchType   string   `json:"launch_type"`
	CurrentState string   `json:"current_state"`
	FSM          *fsm.FSM `json:"-"`

	TemplateBucket string            `json:"template_bucket"`
	TemplateFolder string            `json:"template_folder"`
	TemplateURLs   map[string]string `json:"template_urls,omitempty"`
	Outputs        map[string]string `json:"outputs,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (d *Deployment) initializeFSM(initialState string) {
	d.FSM = fsm.NewFSM(
		initialState,
		fsm.Events{
			{Name: EventSynthesize, Src: []string{StatePending, StateDeployed, StateFailed}, Dst: StateSynthesized},
			{Name: EventUpload, Src: []string{StateSynthesized}, Dst: StateUploaded},
			{Name: EventDeploy, Src: []string{StateUploaded}, Dst: StateDeploying},
			{Name: EventComplete, Src: []string{StateDeploying}, Dst: StateDeployed},
			{Name: EventDestroy, Src: []string{StateDeployed, StateFailed}, Dst: StateDestroying},
			{Name: EventDestroyed, Src: []string{StateDestroying}, Dst: StateDestroyed},
			{Name: EventFail, Src: []string{StatePending, StateSynthesized, StateUploaded, StateDeploying, StateDestroying}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				d.CurrentState = d.FSM.Current()
				d.UpdatedAt = time.Now()
			},
		},
	)
}

// NewDeployment creates a Deployment in the pending state.
func NewDeployment(stackName, region, launchType string) *Deployment {
	d := &Deployment{
		StackName:    stackName,
		Region:       region,
		LaunchType:   launchType,
		CurrentState: StatePending,
		TemplateURLs: map[string]string{},
		Outputs:      map[string]string{},
	}

	d.initializeFSM(StatePending)

	return d
}

// Transition fires an FSM event, recording the error on a failure event.
func (d *Deployment) Transition(ctx context.Context, event string, cause error) error {
	if cause != nil {
		d.LastError = cause.Error()
	}
	if err := d.FSM.Event(ctx, event); err != nil {
		return fmt.Errorf("invalid deployment transition %q from %q: %w", event, d.CurrentState, err)
	}
	return nil
}

func (d *Deployment) GetCurrentState() string {
	return d.CurrentState
}

// DeploymentState is the on-disk state file tracking deployments per stack
// name, written atomically between command invocations.
type DeploymentState struct {
	Deployments []Deployment       `json:"deployments"`
	BuildInfo   DeploymentToolInfo `json:"shibstack_build_info"`
	Timestamp   time.Time          `json:"timestamp"`
}

type DeploymentToolInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

func NewDeploymentState() *DeploymentState {
	return &DeploymentState{
		Deployments: []Deployment{},
		BuildInfo: DeploymentToolInfo{
			Version: build_info.Version,
			Commit:  build_info.Commit,
			Date:    build_info.Date,
		},
		Timestamp: time.Now(),
	}
}

// NewDeploymentStateFromFile loads a DeploymentState from a JSON file
func NewDeploymentStateFromFile(filePath string) (*DeploymentState, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read deployment state file: %w", err)
	}

	var state DeploymentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deployment state: %w", err)
	}

	for i := range state.Deployments {
		state.Deployments[i].initializeFSM(state.Deployments[i].CurrentState)
	}

	return &state, nil
}

// WriteToFile saves the DeploymentState to a JSON file using atomic write
func (ds *DeploymentState) WriteToFile(filePath string) error {
	ds.Timestamp = time.Now()

	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal deployment state: %w", err)
	}

	tmpFile := filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, filePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// UpsertDeployment adds a new deployment or updates an existing one by stack name
func (ds *DeploymentState) UpsertDeployment(deployment Deployment) {
	for i, existing := range ds.Deployments {
		if existing.StackName == deployment.StackName {
			ds.Deployments[i] = deployment
			return
		}
	}
	ds.Deployments = append(ds.Deployments, deployment)
}

// FindDeployment returns the deployment for a stack name, or nil.
func (ds *DeploymentState) FindDeployment(stackName string) *Deployment {
	for i := range ds.Deployments {
		if ds.Deployments[i].StackName == stackName {
			return &ds.Deployments[i]
		}
	}
	return nil
}
