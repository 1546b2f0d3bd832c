package console

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/labstack/echo/v4"
	"github.com/shibstack/shibstack/internal/services/cloudformation"
	synthsvc "github.com/shibstack/shibstack/internal/services/synth"
	"github.com/shibstack/shibstack/internal/stacks"
	"github.com/shibstack/shibstack/internal/types"
)

type ConsoleOpts struct {
	Manifest *types.Manifest
	Port     string
}

type Console struct {
	manifest   *types.Manifest
	port       string
	cfnService *cloudformation.CloudFormationService
}

func NewConsole(opts ConsoleOpts) *Console {
	return &Console{
		manifest: opts.Manifest,
		port:     opts.Port,
	}
}

func (co *Console) Run() error {
	cfnService, err := cloudformation.NewCloudFormationService(co.manifest.Region)
	if err != nil {
		return err
	}
	co.cfnService = cfnService

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Health check endpoint
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":    "healthy",
			"service":   "shibstack-console",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	e.GET("/composition", co.handleGetComposition)
	e.GET("/status", co.handleGetStatus)
	e.GET("/events", co.handleGetEvents)

	serverAddr := fmt.Sprintf("localhost:%s", co.port)
	fullURL := fmt.Sprintf("http://%s", serverAddr)
	fmt.Printf("\nshibstack console is available at %s\n", color.New(color.FgGreen).Sprint(fullURL))

	e.Logger.Fatal(e.Start(serverAddr))

	return nil
}

// handleGetComposition resolves the composition and returns the plan: waves,
// per-stack dependencies and bound parameters, with NoEcho values redacted.
func (co *Console) handleGetComposition(c echo.Context) error {
	cfg, err := synthsvc.ConfigFromManifest(c.Request().Context(), co.manifest, false)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}

	g, err := stacks.Compose(cfg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}

	plan, err := g.Resolve(co.manifest.RootParameters())
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{
			"error":   "composition is invalid",
			"details": err.Error(),
		})
	}

	type planParameter struct {
		Name     string `json:"name"`
		Value    string `json:"value"`
		Deferred bool   `json:"deferred"`
	}
	type planStack struct {
		Name         string          `json:"name"`
		TemplateFile string          `json:"templateFile"`
		DependsOn    []string        `json:"dependsOn"`
		Parameters   []planParameter `json:"parameters"`
	}

	var body struct {
		Waves  [][]string  `json:"waves"`
		Stacks []planStack `json:"stacks"`
	}
	body.Waves = plan.Waves

	for _, s := range plan.Stacks {
		ps := planStack{
			Name:         s.Name,
			TemplateFile: s.TemplateFile,
			DependsOn:    s.DependsOn,
		}
		for _, p := range s.Parameters {
			value := p.Value
			if p.NoEcho {
				value = "********"
			}
			ps.Parameters = append(ps.Parameters, planParameter{
				Name:     p.Name,
				Value:    value,
				Deferred: p.Deferred,
			})
		}
		body.Stacks = append(body.Stacks, ps)
	}

	return c.JSON(http.StatusOK, body)
}

func (co *Console) handleGetStatus(c echo.Context) error {
	ctx := c.Request().Context()

	status, err := co.cfnService.Status(ctx, co.manifest.StackName)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
	if status == "" {
		return c.JSON(http.StatusNotFound, map[string]any{
			"stackName": co.manifest.StackName,
			"deployed":  false,
		})
	}

	outputs, err := co.cfnService.Outputs(ctx, co.manifest.StackName)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"stackName": co.manifest.StackName,
		"deployed":  true,
		"status":    status,
		"outputs":   outputs,
	})
}

// handleGetEvents returns stack events, optionally bounded with a
// ?since=RFC3339 query parameter (default: the last hour).
func (co *Console) handleGetEvents(c echo.Context) error {
	since := time.Now().Add(-1 * time.Hour)
	if raw := c.QueryParam("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]any{
				"error":   "invalid since parameter",
				"message": "since must be in RFC3339 format (e.g., 2026-08-29T00:00:00Z)",
			})
		}
		since = parsed
	}

	events, err := co.cfnService.Events(c.Request().Context(), co.manifest.StackName, since)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}

	type stackEvent struct {
		Timestamp time.Time `json:"timestamp"`
		Resource  string    `json:"resource"`
		Status    string    `json:"status"`
		Reason    string    `json:"reason,omitempty"`
	}

	body := make([]stackEvent, 0, len(events))
	for _, e := range events {
		ev := stackEvent{Status: string(e.ResourceStatus)}
		if e.Timestamp != nil {
			ev.Timestamp = *e.Timestamp
		}
		if e.LogicalResourceId != nil {
			ev.Resource = *e.LogicalResourceId
		}
		if e.ResourceStatusReason != nil {
			ev.Reason = *e.ResourceStatusReason
		}
		body = append(body, ev)
	}

	return c.JSON(http.StatusOK, body)
}
