package status

import (
	"context"
	"log/slog"
	"os"
	"sort"

	"github.com/shibstack/shibstack/internal/services/cloudformation"
	"github.com/shibstack/shibstack/internal/services/markdown"
	"github.com/shibstack/shibstack/internal/services/secrets"
	"github.com/shibstack/shibstack/internal/types"
)

const stateFileName = "shibstack-state.json"

type StatusReporterOpts struct {
	Manifest      *types.Manifest
	VerifySecrets bool
}

type StatusReporter struct {
	manifest      *types.Manifest
	verifySecrets bool
}

func NewStatusReporter(opts StatusReporterOpts) *StatusReporter {
	return &StatusReporter{
		manifest:      opts.Manifest,
		verifySecrets: opts.VerifySecrets,
	}
}

func (s *StatusReporter) Run() error {
	ctx := context.Background()

	cfnService, err := cloudformation.NewCloudFormationService(s.manifest.Region)
	if err != nil {
		return err
	}

	stackStatus, err := cfnService.Status(ctx, s.manifest.StackName)
	if err != nil {
		return err
	}

	md := markdown.New()
	md.AddHeading("Stack status: "+s.manifest.StackName, 1)

	if stackStatus == "" {
		md.AddParagraph("The stack is **not deployed**.")
	} else {
		md.AddParagraph("CloudFormation status: `" + stackStatus + "`")

		outputs, err := cfnService.Outputs(ctx, s.manifest.StackName)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(outputs))
		for k := range outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		rows := make([][]string, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, []string{k, outputs[k]})
		}
		md.AddHeading("Outputs", 2)
		md.AddTable([]string{"Output", "Value"}, rows)
	}

	s.addLifecycle(md)

	if s.verifySecrets {
		if err := s.addSecrets(ctx, md); err != nil {
			return err
		}
	}

	return md.Print()
}

// addLifecycle reports the tracked deployment lifecycle from the state file,
// when one exists.
func (s *StatusReporter) addLifecycle(md *markdown.Markdown) {
	if _, err := os.Stat(stateFileName); err != nil {
		return
	}

	state, err := types.NewDeploymentStateFromFile(stateFileName)
	if err != nil {
		slog.Warn("⚠️ could not read state file", "error", err)
		return
	}

	deployment := state.FindDeployment(s.manifest.StackName)
	if deployment == nil {
		return
	}

	md.AddHeading("Tracked deployment", 2)
	md.AddTable([]string{"Field", "Value"}, [][]string{
		{"Lifecycle state", deployment.GetCurrentState()},
		{"Launch type", deployment.LaunchType},
		{"Template bucket", deployment.TemplateBucket},
		{"Last update", deployment.UpdatedAt.Format("2006-01-02 15:04:05")},
	})
	if deployment.LastError != "" {
		md.AddParagraph("Last error: " + deployment.LastError)
	}
}

func (s *StatusReporter) addSecrets(ctx context.Context, md *markdown.Markdown) error {
	secretsService, err := secrets.NewSecretsService(s.manifest.Region)
	if err != nil {
		return err
	}

	missing, err := secretsService.VerifyEnvironment(ctx, s.manifest.StackName)
	if err != nil {
		return err
	}

	md.AddHeading("Secrets", 2)
	if len(missing) == 0 {
		md.AddParagraph("All expected Secrets Manager entries exist.")
		return nil
	}

	md.AddParagraph("Missing Secrets Manager entries:")
	md.AddList(missing)
	return nil
}
