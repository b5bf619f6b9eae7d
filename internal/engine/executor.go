package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"flowci/internal/config"
)

// Executor runs individual steps of a job. Each step is executed as
// `sh -ec <command>` under a deadline; when the job declares a Docker image
// and docker is enabled, the shell runs inside a throwaway container with the
// job workspace mounted at the working directory.
type Executor struct {
	UseDocker bool
	RepoURL   string
	Timeout   time.Duration
}

// JobContext carries what the executor needs to know about the job a step
// belongs to.
type JobContext struct {
	Name      string
	Image     string
	Workspace string
	WorkDir   string
	Env       map[string]string
}

// workDir is where the workspace appears inside a container when the job does
// not pick one.
const defaultWorkDir = "/workspace"

// RunStep executes a checkout or run step, streaming combined output to out.
// store_artifacts steps are handled by the runner, not here.
func (e *Executor) RunStep(ctx context.Context, jc JobContext, step config.Step, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	switch step.Kind {
	case config.StepCheckout:
		return e.checkout(ctx, jc, out)
	case config.StepRun:
		return e.run(ctx, jc, step.Command, out)
	default:
		return fmt.Errorf("executor cannot run step kind %q", step.Kind)
	}
}

func (e *Executor) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return 10 * time.Minute
}

// checkout clones the configured repository into the workspace. With no
// repository configured it is a recorded no-op, local runs already have the
// tree in place. A non-empty workspace is also left alone: retries re-run
// every step of the job, and git refuses to clone into a populated directory.
func (e *Executor) checkout(ctx context.Context, jc JobContext, out io.Writer) error {
	if e.RepoURL == "" {
		fmt.Fprintln(out, "checkout: no repository configured, skipping")
		return nil
	}
	if entries, err := os.ReadDir(jc.Workspace); err == nil && len(entries) > 0 {
		fmt.Fprintln(out, "checkout: workspace already populated, skipping")
		return nil
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", e.RepoURL, ".")
	cmd.Dir = jc.Workspace
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

func (e *Executor) run(ctx context.Context, jc JobContext, command string, out io.Writer) error {
	var cmd *exec.Cmd
	if e.UseDocker && jc.Image != "" {
		workdir := jc.WorkDir
		if workdir == "" {
			workdir = defaultWorkDir
		}
		args := []string{
			"run", "--rm",
			"-v", jc.Workspace + ":" + workdir,
			"-w", workdir,
		}
		for k, v := range jc.Env {
			args = append(args, "-e", k+"="+v)
		}
		args = append(args, jc.Image, "sh", "-ec", command)
		cmd = exec.CommandContext(ctx, "docker", args...)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-ec", command)
		cmd.Dir = jc.Workspace
		cmd.Env = os.Environ()
		for k, v := range jc.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

// ExitCode extracts the process exit code from a step error, -1 when the
// process never ran or was killed.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
