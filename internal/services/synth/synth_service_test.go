package synth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shibstack/shibstack/internal/stacks"
	"github.com/shibstack/shibstack/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplates_RendersWholeStackSet(t *testing.T) {
	service := NewSynthService(stacks.NewConfig("idp"))

	rendered, err := service.Templates()
	require.NoError(t, err)

	require.Len(t, rendered, 7)
	for _, file := range []string{
		stacks.TemplateFileVPC,
		stacks.TemplateFileLB,
		stacks.TemplateFileCluster,
		stacks.TemplateFileSecrets,
		stacks.TemplateFileService,
		stacks.TemplateFilePipeline,
		stacks.TemplateFileRoot,
	} {
		assert.NotEmpty(t, rendered[file], "template %s is empty", file)
	}

	assert.Contains(t, string(rendered[stacks.TemplateFileVPC]), "AWS::EC2::VPC")
	assert.Contains(t, string(rendered[stacks.TemplateFileRoot]), "AWS::CloudFormation::Stack")
	assert.Contains(t, string(rendered[stacks.TemplateFileService]), "AWS::ECS::TaskDefinition")
}

func TestWriteTo_WritesEveryTemplate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "templates")
	service := NewSynthService(stacks.NewConfig("idp"))

	require.NoError(t, service.WriteTo(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 7)

	root, err := os.ReadFile(filepath.Join(dir, stacks.TemplateFileRoot))
	require.NoError(t, err)
	assert.NotEmpty(t, root)
}

func TestConfigFromManifest_UsesPinnedZones(t *testing.T) {
	m := types.NewManifest()
	m.StackName = "idp"
	m.Network.AvailabilityZones = []string{"eu-west-1a", "eu-west-1b", "eu-west-1c"}

	cfg, err := ConfigFromManifest(context.Background(), m, true)
	require.NoError(t, err)

	assert.Equal(t, "idp", cfg.EnvironmentName)
	assert.Equal(t, [2]string{"eu-west-1a", "eu-west-1b"}, cfg.AvailabilityZones)
}
