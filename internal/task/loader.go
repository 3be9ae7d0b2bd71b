package task

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/taskserve/internal/common"
)

// Load resolves path to an absolute file and loads it as a task module.
// YAML files (.yaml, .yml) become template modules; any other file with an
// executable bit becomes an exec module.
func Load(path string) (Module, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("task module path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve task module path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("task module %s: %w", abs, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("task module %s: not a regular file", abs)
	}

	logger := common.GetLogger().WithComponent("task-loader").WithModule(abs)

	switch strings.ToLower(filepath.Ext(abs)) {
	case ".yaml", ".yml":
		m, err := LoadTemplate(abs)
		if err != nil {
			return nil, err
		}
		logger.Debug("loaded template task module", "name", m.Name())
		return m, nil
	}

	if info.Mode().Perm()&0o111 != 0 {
		logger.Debug("loaded executable task module")
		return NewExec(abs), nil
	}
	return nil, fmt.Errorf("task module %s: %w (expected .yaml/.yml or an executable file)", abs, ErrUnsupportedModule)
}
