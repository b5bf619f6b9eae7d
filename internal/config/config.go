package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is a parsed workflow file: named jobs plus workflow graphs over them.
type File struct {
	Version   int                 `yaml:"version"`
	Jobs      map[string]Job      `yaml:"jobs"`
	Workflows map[string]Workflow `yaml:"workflows"`
}

// Job is a unit of execution: an optional Docker image and an ordered list of steps.
type Job struct {
	Image            string            `yaml:"image"`
	WorkingDirectory string            `yaml:"working_directory"`
	Environment      map[string]string `yaml:"environment"`
	Retries          int               `yaml:"retries"`
	Steps            []Step            `yaml:"steps"`
}

// Workflow is an ordered list of job entries with requires edges between them.
type Workflow struct {
	Jobs []WorkflowJob `yaml:"jobs"`
}

// WorkflowJob names a job of the file and the entries it waits on.
type WorkflowJob struct {
	Name     string
	Requires []string
}

// UnmarshalYAML accepts both entry forms:
//
//   - style-check
//   - test-3.6:
//     requires:
//   - style-check
func (wj *WorkflowJob) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return value.Decode(&wj.Name)
	}
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return fmt.Errorf("line %d: workflow entry must be a job name or a single-key mapping", value.Line)
	}
	var opts struct {
		Requires []string `yaml:"requires"`
	}
	if err := value.Content[0].Decode(&wj.Name); err != nil {
		return err
	}
	if err := value.Content[1].Decode(&opts); err != nil {
		return fmt.Errorf("workflow entry %q: %w", wj.Name, err)
	}
	wj.Requires = opts.Requires
	return nil
}

// Parse decodes a workflow file. Unknown fields are rejected so a typoed key
// fails loudly instead of silently dropping a step.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse workflow file: %w", err)
	}
	return &f, nil
}

// Load reads and parses a workflow file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
