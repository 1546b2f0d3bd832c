package markdown

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildStatusReport(t *testing.T) {
	md := New().
		AddHeading("Stack status: shibboleth-idp", 1).
		AddParagraph("CloudFormation status: `CREATE_COMPLETE`").
		AddHeading("Outputs", 2).
		AddTable(
			[]string{"Output", "Value"},
			[][]string{
				{"LoadBalancerDNSName", "idp-alb-1234.us-east-1.elb.amazonaws.com"},
				{"ServiceUrl", "https://sso.example.com/idp/"},
			},
		)

	out := md.String()
	if !strings.Contains(out, "# Stack status: shibboleth-idp") {
		t.Errorf("missing heading in:\n%s", out)
	}
	if !strings.Contains(out, "| LoadBalancerDNSName | idp-alb-1234.us-east-1.elb.amazonaws.com |") {
		t.Errorf("missing table row in:\n%s", out)
	}
	if !strings.Contains(out, "| --- | --- |") {
		t.Errorf("missing separator row in:\n%s", out)
	}
}

func TestAddTablePadsShortRows(t *testing.T) {
	md := New().AddTable(
		[]string{"Parameter", "Source", "Value"},
		[][]string{
			{"LaunchType", "root parameter", "Fargate"},
			{"TemplateBucket", "root parameter"}, // value missing
			{"VPC"},                              // source and value missing
		},
	)

	out := md.String()
	if !strings.Contains(out, "| TemplateBucket | root parameter |  |") {
		t.Errorf("short row not padded in:\n%s", out)
	}
	if !strings.Contains(out, "| VPC |  |  |") {
		t.Errorf("short row not padded in:\n%s", out)
	}
}

func TestAddTableSkipsRepeatedValues(t *testing.T) {
	// Column 0 (the wave) repeats for stacks deployed concurrently.
	md := New().AddTable(
		[]string{"Wave", "Stack", "Template"},
		[][]string{
			{"1", "secrets", "secrets.yml"},
			{"1", "vpc", "vpc.yaml"},
			{"2", "load-balancer", "load-balancer.yaml"},
			{"3", "ecs-cluster", "ecs-cluster.yaml"},
		},
		0,
	)

	out := md.String()
	if !strings.Contains(out, "|  | vpc | vpc.yaml |") {
		t.Errorf("repeated wave value not blanked in:\n%s", out)
	}
	if !strings.Contains(out, "| 2 | load-balancer | load-balancer.yaml |") {
		t.Errorf("new wave value blanked in:\n%s", out)
	}
}

func TestAddListAndCodeBlock(t *testing.T) {
	md := New().
		AddParagraph("Missing Secrets Manager entries:").
		AddList([]string{"shibboleth-idp-sealer-key", "shibboleth-idp-signing-cert"}).
		AddCodeBlock("shibstack deploy --region us-east-1", "bash")

	out := md.String()
	if !strings.Contains(out, "- shibboleth-idp-sealer-key\n") {
		t.Errorf("missing list item in:\n%s", out)
	}
	if !strings.Contains(out, "```bash\nshibstack deploy --region us-east-1\n```") {
		t.Errorf("missing code block in:\n%s", out)
	}
}

func TestPrintToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.md")

	md := New().
		AddHeading("Deployment plan", 1).
		AddHorizontalRule().
		AddParagraph("5 stacks in 4 waves")

	if err := md.Print(PrintOptions{ToTerminal: false, ToFile: path}); err != nil {
		t.Fatalf("Print failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output file: %v", err)
	}
	if string(data) != md.String() {
		t.Errorf("file content differs from raw markdown:\n%s", string(data))
	}
	if !strings.Contains(string(data), "---\n") {
		t.Errorf("missing horizontal rule in:\n%s", string(data))
	}
}
