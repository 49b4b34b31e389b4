package storyboard

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WriteProject stores a project as YAML. The file is replaced atomically so a
// reader picking the newest project never sees a partial write.
func WriteProject(project *Project, path string) error {
	data, err := yaml.Marshal(project)
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".project-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadProject reads, normalizes and validates a project from a YAML file
func ReadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeProject(data)
}

// DecodeProject parses a YAML document into a normalized, validated project.
func DecodeProject(data []byte) (*Project, error) {
	var project Project
	if err := yaml.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}

	project.Normalize()
	if err := project.Validate(); err != nil {
		return nil, err
	}

	return &project, nil
}
