package types

// LaunchType represents the ECS launch types the IdP service can run on
type LaunchType string

const (
	LaunchTypeFargate LaunchType = "Fargate"
	LaunchTypeEC2     LaunchType = "EC2"
)

func (l LaunchType) IsValid() bool {
	switch l {
	case LaunchTypeFargate, LaunchTypeEC2:
		return true
	default:
		return false
	}
}

// AllLaunchTypes returns all possible LaunchType values as strings
// This can be called statically without needing a LaunchType instance
func AllLaunchTypes() []string {
	return []string{
		string(LaunchTypeFargate),
		string(LaunchTypeEC2),
	}
}

const (
	// ContainerName is the container the task definition expects; the IdP
	// image must expose HTTPS on ContainerPort.
	ContainerName = "shibboleth-idp"
	ContainerPort = 443

	// Task sizing per launch type. The EC2 figure is deliberately below the
	// Fargate one: the difference is headroom reserved for the host OS and
	// ECS agent on a 4 GiB instance. Do not normalize.
	FargateTaskMemory = 4096
	EC2TaskMemory     = 3884
	TaskCpu           = 2048
)

// SealerKeyEnvVar is the environment variable handed to the container with
// the ARN of the sealer key secret.
const SealerKeyEnvVar = "SEALER_KEY_SECRET_ID"
