package update

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/fatih/color"
	"github.com/shibstack/shibstack/internal/build_info"
	"golang.org/x/sys/unix"
)

const (
	slug = "shibstack/shibstack"
)

type Updater struct {
	opts UpdaterOpts
}

type UpdaterOpts struct {
	Force     bool
	CheckOnly bool
}

func NewUpdater(opts UpdaterOpts) *Updater {
	return &Updater{
		opts: opts,
	}
}

func (u *Updater) Run() error {
	currentVersion := build_info.Version

	if (currentVersion == "" || currentVersion == build_info.DefaultDevVersion) && !u.opts.Force {
		slog.Info("🤖 Development version detected, skipping update check. Use `--force` to install latest version.")
		return nil
	}

	exePath, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("could not locate executable path: %w", err)
	}

	if err := u.verifyWritePermissions(exePath); err != nil {
		args := os.Args[1:]
		commandStr := "sudo shibstack " + strings.Join(args, " ")
		return fmt.Errorf("shibstack is installed at a location that requires sudo privileges\nPlease try - %s", color.GreenString(commandStr))
	}

	latest, found, err := selfupdate.DetectLatest(context.Background(), selfupdate.ParseSlug(slug))
	if err != nil {
		return fmt.Errorf("error occurred while detecting version: %w", err)
	}
	if !found {
		return fmt.Errorf("latest version for %s/%s could not be found from github repository", runtime.GOOS, runtime.GOARCH)
	}

	if latest.LessOrEqual(currentVersion) {
		slog.Info(fmt.Sprintf("✅ Your installed version (%s) is already the latest available", currentVersion))
		return nil
	}

	slog.Info(fmt.Sprintf("🎉 New version available: %s", latest.Version()))

	if u.opts.CheckOnly {
		slog.Info(fmt.Sprintf("💡 Update available from %s to %s. Run without --check-only to update.", currentVersion, latest.Version()))
		return nil
	}

	if !u.opts.Force && !u.askForConfirmation("🤔 Do you want to update now? (y/N): ") {
		slog.Warn("🚫 Update aborted")
		return nil
	}

	slog.Info(fmt.Sprintf("🚀 Updating from %s --> %s", currentVersion, latest.Version()))

	if err := selfupdate.UpdateTo(context.Background(), latest.AssetURL, latest.AssetName, exePath); err != nil {
		return fmt.Errorf("failed to update: %w", err)
	}

	slog.Info(fmt.Sprintf("✅ Successfully updated shibstack to %s", latest.Version()))

	return nil
}

func (u *Updater) verifyWritePermissions(path string) error {
	// linux/macOS only at the moment - will need to add Windows support later
	dir := filepath.Dir(path)
	if err := unix.Access(dir, unix.W_OK); err != nil {
		return fmt.Errorf("insufficient permissions: directory %s is not writable", dir)
	}
	return nil
}

func (u *Updater) askForConfirmation(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))

	return response == "y" || response == "yes"
}
