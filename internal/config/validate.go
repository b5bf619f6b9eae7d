package config

import (
	"fmt"
	"regexp"
)

// imageRef matches name[:tag] Docker references: a lowercase repo path with an
// optional tag. Digest references are not part of the consumed format.
var imageRef = regexp.MustCompile(`^[a-z0-9]+(?:[._\-/][a-z0-9]+)*(?::[a-zA-Z0-9_][a-zA-Z0-9._\-]*)?$`)

// Validate checks the file beyond YAML well-formedness: every workflow entry
// must name a defined job, requires edges must stay within the workflow, image
// references must be syntactically valid, and run steps must carry a command.
// Graph acyclicity is checked when the graph is built, not here.
func (f *File) Validate() error {
	if len(f.Jobs) == 0 {
		return fmt.Errorf("workflow file defines no jobs")
	}
	if len(f.Workflows) == 0 {
		return fmt.Errorf("workflow file defines no workflows")
	}

	for name, job := range f.Jobs {
		if err := job.validate(); err != nil {
			return fmt.Errorf("job %q: %w", name, err)
		}
	}

	for wfName, wf := range f.Workflows {
		if len(wf.Jobs) == 0 {
			return fmt.Errorf("workflow %q lists no jobs", wfName)
		}
		seen := make(map[string]bool, len(wf.Jobs))
		for _, entry := range wf.Jobs {
			if entry.Name == "" {
				return fmt.Errorf("workflow %q has an entry with no job name", wfName)
			}
			if _, ok := f.Jobs[entry.Name]; !ok {
				return fmt.Errorf("workflow %q references undefined job %q", wfName, entry.Name)
			}
			if seen[entry.Name] {
				return fmt.Errorf("workflow %q lists job %q twice", wfName, entry.Name)
			}
			seen[entry.Name] = true
		}
		for _, entry := range wf.Jobs {
			for _, req := range entry.Requires {
				if !seen[req] {
					return fmt.Errorf("workflow %q: job %q requires %q, which is not part of the workflow", wfName, entry.Name, req)
				}
				if req == entry.Name {
					return fmt.Errorf("workflow %q: job %q requires itself", wfName, entry.Name)
				}
			}
		}
	}
	return nil
}

func (j Job) validate() error {
	if j.Image != "" && !imageRef.MatchString(j.Image) {
		return fmt.Errorf("invalid image reference %q", j.Image)
	}
	if j.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if len(j.Steps) == 0 {
		return fmt.Errorf("job has no steps")
	}
	for i, step := range j.Steps {
		switch step.Kind {
		case StepRun:
			if step.Command == "" {
				return fmt.Errorf("step %d: run step has no command", i+1)
			}
		case StepStoreArtifacts:
			if step.Path == "" {
				return fmt.Errorf("step %d: store_artifacts step has no path", i+1)
			}
		}
	}
	return nil
}
