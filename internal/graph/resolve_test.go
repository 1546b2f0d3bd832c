package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGraph(t *testing.T) *Graph {
	t.Helper()

	g := New()
	g.AddRootParameter(ParameterSpec{Name: "Flavor", Type: "String", Default: "small", HasDefault: true, AllowedValues: []string{"small", "large"}})
	g.AddRootParameter(ParameterSpec{Name: "AdminPassword", Type: "String", NoEcho: true})

	require.NoError(t, g.AddStack(StackDef{
		Name:         "network",
		TemplateFile: "network.yaml",
		Parameters: []ParameterSpec{
			{Name: "Flavor", Type: "String"},
		},
		Outputs: []string{"VpcId"},
		Bindings: map[string]Binding{
			"Flavor": RootParam("Flavor"),
		},
	}))
	require.NoError(t, g.AddStack(StackDef{
		Name:         "app",
		TemplateFile: "app.yaml",
		Parameters: []ParameterSpec{
			{Name: "VpcId", Type: "String"},
			{Name: "AdminPassword", Type: "String", NoEcho: true},
		},
		Outputs: []string{"Endpoint"},
		Bindings: map[string]Binding{
			"VpcId":         OutputRef("network", "VpcId"),
			"AdminPassword": RootParam("AdminPassword"),
		},
	}))

	return g
}

func TestResolve_ValidComposition(t *testing.T) {
	g := testGraph(t)

	plan, err := g.Resolve(map[string]string{"AdminPassword": "hunter2"})
	require.NoError(t, err)

	assert.Equal(t, []string{"network", "app"}, plan.Order())
	assert.Equal(t, [][]string{{"network"}, {"app"}}, plan.Waves)

	app, ok := plan.Stack("app")
	require.True(t, ok)
	assert.Equal(t, []string{"network"}, app.DependsOn)

	for _, p := range app.Parameters {
		switch p.Name {
		case "VpcId":
			assert.True(t, p.Deferred)
			assert.Equal(t, "network::VpcId", p.Value)
		case "AdminPassword":
			assert.True(t, p.NoEcho)
			assert.Equal(t, "hunter2", p.Value)
		}
	}
}

func TestResolve_AppliesRootDefaults(t *testing.T) {
	g := testGraph(t)

	plan, err := g.Resolve(map[string]string{"AdminPassword": "hunter2"})
	require.NoError(t, err)

	network, ok := plan.Stack("network")
	require.True(t, ok)
	assert.Equal(t, "small", network.Parameters[0].Value)
}

func TestResolve_CollectsAllDefects(t *testing.T) {
	g := New()
	g.AddRootParameter(ParameterSpec{Name: "Flavor", Type: "String", AllowedValues: []string{"small", "large"}})

	require.NoError(t, g.AddStack(StackDef{
		Name:         "app",
		TemplateFile: "app.yaml",
		Parameters: []ParameterSpec{
			{Name: "Required", Type: "String"},
			{Name: "Phixed", Type: "String"},
		},
		Bindings: map[string]Binding{
			"Ghost":  Literal("x"),
			"Phixed": RootParam("Missing"),
		},
	}))

	_, err := g.Resolve(map[string]string{"Flavor": "medium", "Unknown": "y"})
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)

	messages := err.Error()
	assert.Contains(t, messages, "not one of the allowed values")
	assert.Contains(t, messages, "undeclared root parameter")
	assert.Contains(t, messages, "declared parameter is not supplied")
	assert.Contains(t, messages, "does not declare")
	assert.Contains(t, messages, "unknown root parameter")
	assert.GreaterOrEqual(t, len(verrs), 5)
}

func TestResolve_ConstraintChecks(t *testing.T) {
	tests := []struct {
		name        string
		spec        ParameterSpec
		value       string
		expectedErr string
	}{
		{
			name:  "cidr_pattern_accepts_valid_block",
			spec:  ParameterSpec{Name: "Cidr", Type: "String", AllowedPattern: `(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})/(\d{1,2})`},
			value: "10.215.0.0/16",
		},
		{
			name:        "cidr_pattern_rejects_garbage",
			spec:        ParameterSpec{Name: "Cidr", Type: "String", AllowedPattern: `(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})/(\d{1,2})`},
			value:       "not-a-cidr",
			expectedErr: "does not match pattern",
		},
		{
			name:        "pattern_is_anchored",
			spec:        ParameterSpec{Name: "Repo", Type: "String", AllowedPattern: `[A-Za-z0-9_.-]+`},
			value:       "bad name with spaces",
			expectedErr: "does not match pattern",
		},
		{
			name:        "max_length_enforced",
			spec:        ParameterSpec{Name: "Repo", Type: "String", MaxLength: 100},
			value:       strings.Repeat("a", 101),
			expectedErr: "exceeds maximum length",
		},
		{
			name:  "max_length_boundary_ok",
			spec:  ParameterSpec{Name: "Repo", Type: "String", MaxLength: 100},
			value: strings.Repeat("a", 100),
		},
		{
			name:        "number_type_rejects_text",
			spec:        ParameterSpec{Name: "Count", Type: "Number"},
			value:       "ten",
			expectedErr: "is not a number",
		},
		{
			name:        "constraint_description_used_when_present",
			spec:        ParameterSpec{Name: "Cidr", Type: "String", AllowedPattern: `\d+`, ConstraintDescription: "must be numeric"},
			value:       "abc",
			expectedErr: "must be numeric",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := checkConstraints(tt.spec, tt.value)
			if tt.expectedErr == "" {
				assert.Empty(t, msg)
			} else {
				assert.Contains(t, msg, tt.expectedErr)
			}
		})
	}
}

func TestResolve_DetectsCycles(t *testing.T) {
	g := New()

	require.NoError(t, g.AddStack(StackDef{
		Name: "a", TemplateFile: "a.yaml",
		Parameters: []ParameterSpec{{Name: "In", Type: "String"}},
		Outputs:    []string{"Out"},
		Bindings:   map[string]Binding{"In": OutputRef("b", "Out")},
	}))
	require.NoError(t, g.AddStack(StackDef{
		Name: "b", TemplateFile: "b.yaml",
		Parameters: []ParameterSpec{{Name: "In", Type: "String"}},
		Outputs:    []string{"Out"},
		Bindings:   map[string]Binding{"In": OutputRef("a", "Out")},
	}))

	_, err := g.Resolve(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic dependency")
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
}

func TestResolve_DetectsSelfReference(t *testing.T) {
	g := New()

	require.NoError(t, g.AddStack(StackDef{
		Name: "a", TemplateFile: "a.yaml",
		Parameters: []ParameterSpec{{Name: "In", Type: "String"}},
		Outputs:    []string{"Out"},
		Bindings:   map[string]Binding{"In": OutputRef("a", "Out")},
	}))

	_, err := g.Resolve(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic dependency")
	assert.Contains(t, err.Error(), "a")
}

func TestResolve_UnknownOutputReference(t *testing.T) {
	g := New()

	require.NoError(t, g.AddStack(StackDef{
		Name: "network", TemplateFile: "network.yaml",
		Outputs: []string{"VpcId"},
	}))
	require.NoError(t, g.AddStack(StackDef{
		Name: "app", TemplateFile: "app.yaml",
		Parameters: []ParameterSpec{{Name: "SubnetId", Type: "String"}},
		Bindings:   map[string]Binding{"SubnetId": OutputRef("network", "SubnetId")},
	}))

	_, err := g.Resolve(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `references output "SubnetId"`)
}

func TestResolve_WavesGroupIndependentStacks(t *testing.T) {
	g := New()

	require.NoError(t, g.AddStack(StackDef{Name: "base", TemplateFile: "base.yaml", Outputs: []string{"Id"}}))
	require.NoError(t, g.AddStack(StackDef{Name: "left", TemplateFile: "left.yaml",
		Parameters: []ParameterSpec{{Name: "Id", Type: "String"}},
		Outputs:    []string{"Out"},
		Bindings:   map[string]Binding{"Id": OutputRef("base", "Id")}}))
	require.NoError(t, g.AddStack(StackDef{Name: "right", TemplateFile: "right.yaml",
		Parameters: []ParameterSpec{{Name: "Id", Type: "String"}},
		Bindings:   map[string]Binding{"Id": OutputRef("base", "Id")}}))
	require.NoError(t, g.AddStack(StackDef{Name: "top", TemplateFile: "top.yaml",
		Parameters: []ParameterSpec{{Name: "Out", Type: "String"}},
		Bindings:   map[string]Binding{"Out": OutputRef("left", "Out")}}))

	plan, err := g.Resolve(nil)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"base"}, {"left", "right"}, {"top"}}, plan.Waves)
}

func TestBindingString(t *testing.T) {
	assert.Equal(t, "root:LaunchType", RootParam("LaunchType").String())
	assert.Equal(t, "vpc::VPC", OutputRef("vpc", "VPC").String())
	assert.Equal(t, "Fargate", Literal("Fargate").String())
}

func TestAddStack_RejectsDuplicates(t *testing.T) {
	g := New()
	require.NoError(t, g.AddStack(StackDef{Name: "vpc", TemplateFile: "vpc.yaml"}))
	assert.Error(t, g.AddStack(StackDef{Name: "vpc", TemplateFile: "vpc.yaml"}))
}
