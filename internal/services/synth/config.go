package synth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shibstack/shibstack/internal/services/ec2"
	"github.com/shibstack/shibstack/internal/stacks"
	"github.com/shibstack/shibstack/internal/types"
)

// ConfigFromManifest turns a manifest into the compose-time stack config.
// Availability zones come from the manifest when pinned there, otherwise from
// the EC2 API. With strict unset a failed lookup falls back to placeholder
// zones, which is good enough for offline planning but not for deployment.
func ConfigFromManifest(ctx context.Context, m *types.Manifest, strict bool) (stacks.Config, error) {
	cfg := stacks.NewConfig(m.StackName)

	if len(m.Network.AvailabilityZones) >= 2 {
		cfg.AvailabilityZones = [2]string{
			m.Network.AvailabilityZones[0],
			m.Network.AvailabilityZones[1],
		}
		return cfg, nil
	}

	ec2Service, err := ec2.NewEC2Service(m.Region)
	if err == nil {
		var zones [2]string
		zones, err = ec2Service.AvailabilityZones(ctx)
		if err == nil {
			cfg.AvailabilityZones = zones
			return cfg, nil
		}
	}

	if strict {
		return cfg, fmt.Errorf("failed to resolve availability zones for region %s: %w", m.Region, err)
	}

	slog.Warn("⚠️ could not resolve availability zones, using placeholders", "region", m.Region, "error", err)
	return cfg, nil
}
