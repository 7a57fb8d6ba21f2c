package rubric

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/strand-ai/strand/pkg/model"
)

// FileLoader loads rubric definitions from JSON or YAML files. Locators
// are resolved relative to BaseDir; absolute locators and traversal
// outside BaseDir are rejected.
type FileLoader struct {
	BaseDir string
}

// Load implements Loader.
func (l *FileLoader) Load(_ context.Context, locator string) (*model.Rubric, error) {
	if filepath.IsAbs(locator) {
		return nil, fmt.Errorf("absolute rubric locator %q not allowed", locator)
	}
	path := filepath.Join(l.BaseDir, filepath.Clean(locator))
	rel, err := filepath.Rel(l.BaseDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("rubric locator %q escapes base directory", locator)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rubric file: %w", err)
	}

	var rubric model.Rubric
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &rubric); err != nil {
			return nil, fmt.Errorf("failed to parse rubric YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &rubric); err != nil {
			return nil, fmt.Errorf("failed to parse rubric JSON: %w", err)
		}
	}
	return &rubric, nil
}
