package types

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Manifest is the shibstack.yaml deployment manifest. It carries every root
// parameter of the stack set plus the bits the CLI itself needs (region,
// stack name). Flags override manifest values, environment variables bind to
// flags.
type Manifest struct {
	StackName             string `yaml:"stackName"`
	Region                string `yaml:"region"`
	LaunchType            string `yaml:"launchType"`
	TemplateBucket        string `yaml:"templateBucket"`
	TemplateFolder        string `yaml:"templateFolder"`
	CodeCommitRepoName    string `yaml:"codeCommitRepoName"`
	SealerKeyVersionCount int    `yaml:"sealerKeyVersionCount"`

	ParentDomain             string `yaml:"parentDomain"`
	FullyQualifiedDomainName string `yaml:"fullyQualifiedDomainName"`
	CertificateARN           string `yaml:"certificateARN"`

	Network NetworkConfig `yaml:"network"`
	LDAP    LDAPConfig    `yaml:"ldap"`
}

type NetworkConfig struct {
	VpcCIDR            string   `yaml:"vpcCIDR"`
	PublicSubnet1CIDR  string   `yaml:"publicSubnet1CIDR"`
	PublicSubnet2CIDR  string   `yaml:"publicSubnet2CIDR"`
	PrivateSubnet1CIDR string   `yaml:"privateSubnet1CIDR"`
	PrivateSubnet2CIDR string   `yaml:"privateSubnet2CIDR"`
	AvailabilityZones  []string `yaml:"availabilityZones,omitempty"`
}

type LDAPConfig struct {
	Url          string `yaml:"url"`
	BaseDN       string `yaml:"baseDN"`
	ReadOnlyUser string `yaml:"readOnlyUser"`
	// Never logged, never echoed into plan output.
	ReadOnlyPassword string `yaml:"readOnlyPassword"`
}

// NewManifest returns a manifest populated with the same defaults the root
// template declares, so a minimal shibstack.yaml only needs the
// deployment-specific values.
func NewManifest() *Manifest {
	return &Manifest{
		StackName:             "shibboleth-idp",
		LaunchType:            string(LaunchTypeFargate),
		TemplateFolder:        "shibboleth-idp",
		CodeCommitRepoName:    "shibboleth-idp",
		SealerKeyVersionCount: 10,
		Network: NetworkConfig{
			VpcCIDR:            "10.215.0.0/16",
			PublicSubnet1CIDR:  "10.215.10.0/24",
			PublicSubnet2CIDR:  "10.215.20.0/24",
			PrivateSubnet1CIDR: "10.215.30.0/24",
			PrivateSubnet2CIDR: "10.215.40.0/24",
		},
	}
}

// LoadManifest reads a manifest file and overlays it on the defaults.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	manifest := NewManifest()
	if err := yaml.Unmarshal(data, manifest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}

	return manifest, nil
}

// RootParameters flattens the manifest into the root template's parameter
// values. Keys match the parameter names the root template declares.
func (m *Manifest) RootParameters() map[string]string {
	return map[string]string{
		"LaunchType":               m.LaunchType,
		"TemplateBucket":           m.TemplateBucket,
		"TemplateFolder":           m.TemplateFolder,
		"CodeCommitRepoName":       m.CodeCommitRepoName,
		"SealerKeyVersionCount":    fmt.Sprintf("%d", m.SealerKeyVersionCount),
		"ParentDomain":             m.ParentDomain,
		"FullyQualifiedDomainName": m.FullyQualifiedDomainName,
		"CertificateARN":           m.CertificateARN,
		"VpcCIDR":                  m.Network.VpcCIDR,
		"PublicSubnet1CIDR":        m.Network.PublicSubnet1CIDR,
		"PublicSubnet2CIDR":        m.Network.PublicSubnet2CIDR,
		"PrivateSubnet1CIDR":       m.Network.PrivateSubnet1CIDR,
		"PrivateSubnet2CIDR":       m.Network.PrivateSubnet2CIDR,
		"LDAPUrl":                  m.LDAP.Url,
		"LDAPBaseDN":               m.LDAP.BaseDN,
		"LDAPReadOnlyUser":         m.LDAP.ReadOnlyUser,
		"LDAPReadOnlyPassword":     m.LDAP.ReadOnlyPassword,
	}
}
