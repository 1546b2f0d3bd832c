package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/shibstack/shibstack/cmd/console"
	"github.com/shibstack/shibstack/cmd/deploy"
	"github.com/shibstack/shibstack/cmd/destroy"
	"github.com/shibstack/shibstack/cmd/plan"
	"github.com/shibstack/shibstack/cmd/status"
	"github.com/shibstack/shibstack/cmd/synth"
	"github.com/shibstack/shibstack/cmd/update"
	"github.com/shibstack/shibstack/cmd/validate"
	"github.com/shibstack/shibstack/cmd/version"
	"github.com/shibstack/shibstack/internal/build_info"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var RootCmd = &cobra.Command{
	Use:   "shibstack",
	Short: "A CLI tool for running a Shibboleth IdP on Amazon ECS",
	Long:  "A CLI tool for synthesizing, validating and deploying the nested CloudFormation stacks that run a Shibboleth Identity Provider on Amazon ECS (Fargate or EC2).",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s %s %s\n",
			color.CyanString("Executing shibstack with build"),
			color.GreenString("version=%s", build_info.Version),
			color.YellowString("commit=%s", build_info.Commit),
			color.BlueString("date=%s", build_info.Date))

		if err := checkWritePermissions(); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", color.RedString("Error: %v", err))
			os.Exit(1)
		}
	},
}

func init() {
	cobra.EnableTraverseRunHooks = true

	lumberjackLogger := &lumberjack.Logger{
		Filename: "shibstack.log",
		MaxSize:  25,
		Compress: true,
	}
	opts := PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}
	handler := NewPrettyHandler(io.MultiWriter(lumberjackLogger, os.Stdout), opts)
	logger := slog.New(handler)

	slog.SetDefault(logger)

	RootCmd.AddCommand(
		synth.NewSynthCmd(),
		validate.NewValidateCmd(),
		plan.NewPlanCmd(),
		deploy.NewDeployCmd(),
		destroy.NewDestroyCmd(),
		status.NewStatusCmd(),
		console.NewConsoleCmd(),
		version.NewVersionCmd(),
		update.NewUpdateCmd(),
	)
}

type PrettyHandlerOptions struct {
	SlogOpts slog.HandlerOptions
}

type PrettyHandler struct {
	slog.Handler
	l *log.Logger
}

func (h *PrettyHandler) Handle(ctx context.Context, r slog.Record) error {
	time := r.Time.Format("2006/01/02 15:04:05")
	level := r.Level.String()
	message := r.Message

	values := []string{}
	r.Attrs(func(a slog.Attr) bool {
		values = append(values, fmt.Sprintf("%s=%v", a.Key, a.Value.Any()))
		return true
	})

	h.l.Printf("%s %s %s %s", time, level, message, strings.Join(values, " "))

	return nil
}

func NewPrettyHandler(
	out io.Writer,
	opts PrettyHandlerOptions,
) *PrettyHandler {
	h := &PrettyHandler{
		Handler: slog.NewTextHandler(out, &opts.SlogOpts),
		l:       log.New(out, "", 0),
	}

	return h
}

func checkWritePermissions() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current working directory: %w", err)
	}

	testFile, err := os.CreateTemp(cwd, ".shibstack-write-test-*")
	if err != nil {
		return fmt.Errorf("current working directory '%s' does not have write permissions for the current user", cwd)
	}

	// Defer works on a LIFO execution order.
	defer os.Remove(testFile.Name())
	defer testFile.Close()

	return nil
}
