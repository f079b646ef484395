// Package setup handles trimwf project initialization.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/jlsteenwyk/trimwf/internal/model"
	atomicyaml "github.com/jlsteenwyk/trimwf/internal/yaml"
	"github.com/jlsteenwyk/trimwf/templates"
)

const trimwfDir = ".trimwf"

// Run initializes the .trimwf/ directory structure in the given project
// directory. projectName overrides the auto-detected name (defaults to the
// directory basename if empty).
func Run(projectDir, projectName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, trimwfDir)

	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	dirs := []string{
		"queue",
		"results",
		"work",
		"store",
		"locks",
		"logs",
		"quarantine",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	if err := copyTemplateFile("about.md", filepath.Join(base, "about.md")); err != nil {
		return err
	}

	cfg, err := generateConfig(absDir, projectName)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if err := atomicyaml.AtomicWrite(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	if err := writeSchemaFile(filepath.Join(base, "queue", "tasks.yaml"), model.TaskQueueFileType, "tasks"); err != nil {
		return err
	}
	if err := writeSchemaFile(filepath.Join(base, "results", "tasks.yaml"), model.TaskResultFileType, "results"); err != nil {
		return err
	}

	// Create daemon.lock (empty)
	if err := os.WriteFile(filepath.Join(base, "locks", "daemon.lock"), nil, 0600); err != nil {
		return fmt.Errorf("create daemon.lock: %w", err)
	}

	return nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

func generateConfig(projectDir, projectName string) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	if projectName != "" {
		cfg.Project.Name = projectName
	} else {
		cfg.Project.Name = filepath.Base(projectDir)
	}
	cfg = model.ApplyDefaults(cfg)

	return &cfg, nil
}

func writeSchemaFile(path, fileType, listField string) error {
	content := fmt.Sprintf("schema_version: 1\nfile_type: %q\n%s: []\n", fileType, listField)
	return atomicyaml.AtomicWriteRaw(path, []byte(content))
}
