package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StepKind discriminates the step union.
type StepKind string

const (
	StepCheckout       StepKind = "checkout"
	StepRun            StepKind = "run"
	StepStoreArtifacts StepKind = "store_artifacts"
)

// Step is one instruction of a job. Exactly one kind is populated.
type Step struct {
	Kind StepKind

	// run
	Name    string
	Command string

	// store_artifacts
	Path        string
	Destination string
}

// UnmarshalYAML accepts the three step shapes of the format:
//
//   - checkout
//   - run: flake8 .
//   - run:
//     name: unit tests
//     command: pytest tests/
//   - store_artifacts:
//     path: test-reports
//     destination: test-reports
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var kind string
		if err := value.Decode(&kind); err != nil {
			return err
		}
		if kind != string(StepCheckout) {
			return fmt.Errorf("line %d: unknown step %q", value.Line, kind)
		}
		s.Kind = StepCheckout
		return nil
	}

	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return fmt.Errorf("line %d: step must be a scalar or a single-key mapping", value.Line)
	}

	var key string
	if err := value.Content[0].Decode(&key); err != nil {
		return err
	}
	body := value.Content[1]

	switch StepKind(key) {
	case StepRun:
		s.Kind = StepRun
		if body.Kind == yaml.ScalarNode {
			return body.Decode(&s.Command)
		}
		var run struct {
			Name    string `yaml:"name"`
			Command string `yaml:"command"`
		}
		if err := body.Decode(&run); err != nil {
			return fmt.Errorf("line %d: run step: %w", body.Line, err)
		}
		s.Name = run.Name
		s.Command = run.Command
		return nil

	case StepStoreArtifacts:
		s.Kind = StepStoreArtifacts
		var sa struct {
			Path        string `yaml:"path"`
			Destination string `yaml:"destination"`
		}
		if err := body.Decode(&sa); err != nil {
			return fmt.Errorf("line %d: store_artifacts step: %w", body.Line, err)
		}
		s.Path = sa.Path
		s.Destination = sa.Destination
		return nil

	default:
		return fmt.Errorf("line %d: unknown step %q", value.Line, key)
	}
}

// Label is the human name of the step used in logs.
func (s Step) Label() string {
	switch s.Kind {
	case StepRun:
		if s.Name != "" {
			return s.Name
		}
		return s.Command
	case StepStoreArtifacts:
		return "store_artifacts " + s.Path
	default:
		return string(s.Kind)
	}
}
