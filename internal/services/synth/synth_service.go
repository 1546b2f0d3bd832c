package synth

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/shibstack/shibstack/internal/stacks"
)

// SynthService renders the stack set into CloudFormation YAML.
type SynthService struct {
	cfg stacks.Config
}

func NewSynthService(cfg stacks.Config) *SynthService {
	return &SynthService{cfg: cfg}
}

// Templates renders every nested template plus the root, keyed by template
// file name.
func (s *SynthService) Templates() (map[string][]byte, error) {
	rendered := map[string][]byte{}

	for _, stack := range stacks.All(s.cfg) {
		body, err := stack.Template.YAML()
		if err != nil {
			return nil, fmt.Errorf("failed to render template %s: %w", stack.Def.TemplateFile, err)
		}
		rendered[stack.Def.TemplateFile] = body
	}

	root, err := stacks.Root(s.cfg).YAML()
	if err != nil {
		return nil, fmt.Errorf("failed to render root template: %w", err)
	}
	rendered[stacks.TemplateFileRoot] = root

	return rendered, nil
}

// WriteTo renders the templates into a local directory.
func (s *SynthService) WriteTo(dir string) error {
	rendered, err := s.Templates()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	files := make([]string, 0, len(rendered))
	for file := range rendered {
		files = append(files, file)
	}
	sort.Strings(files)

	for _, file := range files {
		path := filepath.Join(dir, file)
		if err := os.WriteFile(path, rendered[file], 0644); err != nil {
			return fmt.Errorf("failed to write template %s: %w", path, err)
		}
		slog.Info("📁 wrote template", "path", path)
	}

	return nil
}
