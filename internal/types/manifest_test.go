package types

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManifest_Defaults(t *testing.T) {
	m := NewManifest()

	assert.Equal(t, "shibboleth-idp", m.StackName)
	assert.Equal(t, string(LaunchTypeFargate), m.LaunchType)
	assert.Equal(t, "shibboleth-idp", m.TemplateFolder)
	assert.Equal(t, "shibboleth-idp", m.CodeCommitRepoName)
	assert.Equal(t, 10, m.SealerKeyVersionCount)
	assert.Equal(t, "10.215.0.0/16", m.Network.VpcCIDR)
	assert.Equal(t, "10.215.40.0/24", m.Network.PrivateSubnet2CIDR)
	assert.Empty(t, m.Region)
}

func TestLoadManifest_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shibstack.yaml")
	content := `
stackName: login
region: eu-west-1
launchType: EC2
templateBucket: login-templates
parentDomain: example.edu
fullyQualifiedDomainName: sso.example.edu
network:
  vpcCIDR: 10.99.0.0/16
  availabilityZones:
    - eu-west-1a
    - eu-west-1b
ldap:
  url: ldaps://ldap.example.edu:636
  readOnlyPassword: hunter2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	m, err := LoadManifest(path)
	require.NoError(t, err)

	assert.Equal(t, "login", m.StackName)
	assert.Equal(t, "eu-west-1", m.Region)
	assert.Equal(t, "EC2", m.LaunchType)
	assert.Equal(t, "10.99.0.0/16", m.Network.VpcCIDR)
	assert.Equal(t, []string{"eu-west-1a", "eu-west-1b"}, m.Network.AvailabilityZones)
	assert.Equal(t, "hunter2", m.LDAP.ReadOnlyPassword)

	// Values the file does not mention keep their defaults.
	assert.Equal(t, "shibboleth-idp", m.CodeCommitRepoName)
	assert.Equal(t, 10, m.SealerKeyVersionCount)
	assert.Equal(t, "10.215.10.0/24", m.Network.PublicSubnet1CIDR)
}

func TestLoadManifest_MissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadManifest_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shibstack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stackName: [unclosed"), 0644))

	_, err := LoadManifest(path)
	assert.Error(t, err)
}

func TestRootParameters_FlattensManifest(t *testing.T) {
	m := NewManifest()
	m.TemplateBucket = "bucket"
	m.ParentDomain = "example.com"
	m.FullyQualifiedDomainName = "sso.example.com"
	m.CertificateARN = "arn:aws:acm:us-east-1:123456789012:certificate/abc"
	m.LDAP.ReadOnlyPassword = "s3cret"
	m.SealerKeyVersionCount = 5

	params := m.RootParameters()

	assert.Equal(t, "bucket", params["TemplateBucket"])
	assert.Equal(t, "5", params["SealerKeyVersionCount"])
	assert.Equal(t, "s3cret", params["LDAPReadOnlyPassword"])
	assert.Equal(t, "10.215.0.0/16", params["VpcCIDR"])
	assert.Len(t, params, 17)
}
