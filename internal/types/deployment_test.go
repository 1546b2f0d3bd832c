package types

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployment_HappyPathTransitions(t *testing.T) {
	ctx := context.Background()
	d := NewDeployment("shibboleth-idp", "us-east-1", "Fargate")

	assert.Equal(t, StatePending, d.GetCurrentState())

	for _, step := range []struct {
		event string
		state string
	}{
		{EventSynthesize, StateSynthesized},
		{EventUpload, StateUploaded},
		{EventDeploy, StateDeploying},
		{EventComplete, StateDeployed},
		{EventDestroy, StateDestroying},
		{EventDestroyed, StateDestroyed},
	} {
		require.NoError(t, d.Transition(ctx, step.event, nil))
		assert.Equal(t, step.state, d.GetCurrentState())
	}
}

func TestDeployment_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup []string
		event string
	}{
		{name: "deploy_before_upload", event: EventDeploy},
		{name: "destroy_before_deployed", event: EventDestroy},
		{name: "complete_without_deploying", setup: []string{EventSynthesize}, event: EventComplete},
		{name: "upload_twice", setup: []string{EventSynthesize, EventUpload}, event: EventUpload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			d := NewDeployment("shibboleth-idp", "us-east-1", "Fargate")
			for _, e := range tt.setup {
				require.NoError(t, d.Transition(ctx, e, nil))
			}

			err := d.Transition(ctx, tt.event, nil)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "invalid deployment transition")
		})
	}
}

func TestDeployment_FailRecordsCauseAndAllowsRetry(t *testing.T) {
	ctx := context.Background()
	d := NewDeployment("shibboleth-idp", "us-east-1", "Fargate")

	require.NoError(t, d.Transition(ctx, EventSynthesize, nil))
	require.NoError(t, d.Transition(ctx, EventFail, errors.New("bucket unreachable")))

	assert.Equal(t, StateFailed, d.GetCurrentState())
	assert.Equal(t, "bucket unreachable", d.LastError)

	// A failed deployment can be synthesized again.
	require.NoError(t, d.Transition(ctx, EventSynthesize, nil))
	assert.Equal(t, StateSynthesized, d.GetCurrentState())
}

func TestDeployment_RedeployFromDeployed(t *testing.T) {
	ctx := context.Background()
	d := NewDeployment("shibboleth-idp", "us-east-1", "Fargate")

	for _, e := range []string{EventSynthesize, EventUpload, EventDeploy, EventComplete} {
		require.NoError(t, d.Transition(ctx, e, nil))
	}

	require.NoError(t, d.Transition(ctx, EventSynthesize, nil))
	assert.Equal(t, StateSynthesized, d.GetCurrentState())
}

func TestDeploymentState_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shibstack-state.json")

	d := NewDeployment("shibboleth-idp", "us-east-1", "EC2")
	d.TemplateBucket = "idp-templates"
	d.TemplateURLs["root.yaml"] = "https://idp-templates.s3.amazonaws.com/shibboleth-idp/root.yaml"
	require.NoError(t, d.Transition(ctx, EventSynthesize, nil))

	state := NewDeploymentState()
	state.UpsertDeployment(*d)
	require.NoError(t, state.WriteToFile(path))

	loaded, err := NewDeploymentStateFromFile(path)
	require.NoError(t, err)

	found := loaded.FindDeployment("shibboleth-idp")
	require.NotNil(t, found)
	assert.Equal(t, StateSynthesized, found.GetCurrentState())
	assert.Equal(t, "EC2", found.LaunchType)
	assert.Equal(t, "idp-templates", found.TemplateBucket)

	// The FSM is rebuilt at the persisted state, so the next legal event
	// works after a reload.
	require.NoError(t, found.Transition(ctx, EventUpload, nil))
	assert.Equal(t, StateUploaded, found.GetCurrentState())
}

func TestDeploymentState_UpsertReplacesByStackName(t *testing.T) {
	state := NewDeploymentState()

	first := NewDeployment("shibboleth-idp", "us-east-1", "Fargate")
	state.UpsertDeployment(*first)

	second := NewDeployment("shibboleth-idp", "eu-west-1", "EC2")
	state.UpsertDeployment(*second)

	other := NewDeployment("staging-idp", "us-east-1", "Fargate")
	state.UpsertDeployment(*other)

	require.Len(t, state.Deployments, 2)
	found := state.FindDeployment("shibboleth-idp")
	require.NotNil(t, found)
	assert.Equal(t, "eu-west-1", found.Region)

	assert.Nil(t, state.FindDeployment("unknown"))
}
