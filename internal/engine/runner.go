// Package engine plans and executes workflow runs: the scheduler decides
// which jobs may run, the executor runs their steps, and the runner ties both
// to storage and the journal.
package engine

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"flowci/internal/config"
	"flowci/internal/dag"
	"flowci/internal/journal"
	"flowci/internal/storage"
)

// JobResult is the outcome of one job of a run.
type JobResult struct {
	Name      string             `json:"name"`
	Status    Status             `json:"status"`
	ExitCode  int                `json:"exitCode"`
	LogPath   string             `json:"logPath,omitempty"`
	Artifacts []storage.Artifact `json:"artifacts,omitempty"`
	Duration  time.Duration      `json:"duration"`
	Error     string             `json:"error,omitempty"`
}

// RunResult is the outcome of a whole workflow run.
type RunResult struct {
	ID       string               `json:"id"`
	Workflow string               `json:"workflow"`
	Status   Status               `json:"status"`
	Started  time.Time            `json:"started"`
	Finished time.Time            `json:"finished"`
	Jobs     map[string]JobResult `json:"jobs"`
}

// Notify is called on every job state transition of a run. May be nil.
type Notify func(job string, status Status)

// Runner executes workflows against a store and a journal.
type Runner struct {
	store    *storage.Store
	journal  *journal.Journal
	executor *Executor
	log      *zap.Logger
}

func NewRunner(settings *config.Settings, logger *zap.Logger) (*Runner, error) {
	store, err := storage.NewStore(settings.DataDir)
	if err != nil {
		return nil, err
	}
	jnl, err := journal.Open(JournalPath(settings))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Runner{
		store:   store,
		journal: jnl,
		executor: &Executor{
			UseDocker: settings.UseDocker,
			RepoURL:   settings.RepoURL,
			Timeout:   settings.StepTimeout,
		},
		log: logger,
	}, nil
}

// JournalPath is where the run journal lives under the data directory.
func JournalPath(settings *config.Settings) string {
	return filepath.Join(settings.DataDir, "journal.jsonl")
}

// Journal exposes the runner's journal for verification endpoints.
func (r *Runner) Journal() *journal.Journal { return r.journal }

// Store exposes the runner's store for log retrieval.
func (r *Runner) Store() *storage.Store { return r.store }

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// BuildGraph constructs the dependency graph of one workflow of a file.
func BuildGraph(file *config.File, workflow string) (*dag.Graph, error) {
	wf, ok := file.Workflows[workflow]
	if !ok {
		return nil, fmt.Errorf("workflow %q not defined", workflow)
	}
	g := dag.New()
	for _, entry := range wf.Jobs {
		if err := g.Add(entry.Name, entry.Requires...); err != nil {
			return nil, fmt.Errorf("workflow %q: %w", workflow, err)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("workflow %q: %w", workflow, err)
	}
	return g, nil
}

// Execute runs one workflow of a validated file under the given run ID.
// Independent jobs of each wave run concurrently; a failed job skips its
// transitive dependents while unrelated branches continue. The returned
// result covers every job; the error is non-nil only for engine failures,
// job failures are reported through the result status.
func (r *Runner) Execute(ctx context.Context, runID string, file *config.File, workflow string, notify Notify) (*RunResult, error) {
	g, err := BuildGraph(file, workflow)
	if err != nil {
		return nil, err
	}

	sched := NewScheduler(g)
	result := &RunResult{
		ID:       runID,
		Workflow: workflow,
		Status:   StatusRunning,
		Started:  time.Now(),
		Jobs:     make(map[string]JobResult, len(g.Nodes())),
	}

	log := r.log.With(zap.String("run", runID), zap.String("workflow", workflow))
	log.Info("run started", zap.Int("jobs", len(g.Nodes())))

	var mu sync.Mutex
	for {
		mu.Lock()
		batch := sched.Next()
		mu.Unlock()
		if len(batch) == 0 {
			break
		}

		var eg errgroup.Group
		for _, name := range batch {
			name := name
			mu.Lock()
			sched.Start(name)
			mu.Unlock()
			if notify != nil {
				notify(name, StatusRunning)
			}

			eg.Go(func() error {
				res := r.runJob(ctx, runID, name, file.Jobs[name])

				mu.Lock()
				sched.Finish(name, res.Status == StatusSucceeded)
				result.Jobs[name] = res
				// Record the skips this failure just caused.
				for job, st := range sched.States() {
					if st == StatusSkipped {
						if _, seen := result.Jobs[job]; !seen {
							result.Jobs[job] = JobResult{Name: job, Status: StatusSkipped}
							if notify != nil {
								notify(job, StatusSkipped)
							}
							r.appendJournal(runID, workflow, result.Jobs[job])
						}
					}
				}
				mu.Unlock()

				if notify != nil {
					notify(name, res.Status)
				}
				r.appendJournal(runID, workflow, res)
				log.Info("job finished",
					zap.String("job", name),
					zap.String("status", string(res.Status)),
					zap.Duration("duration", res.Duration))
				return nil
			})
		}
		_ = eg.Wait()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	result.Finished = time.Now()
	if sched.Failed() {
		result.Status = StatusFailed
	} else {
		result.Status = StatusSucceeded
	}
	log.Info("run finished", zap.String("status", string(result.Status)))
	return result, nil
}

// runJob executes every step of one job, retrying the whole job up to
// Retries extra attempts on failure.
func (r *Runner) runJob(ctx context.Context, runID, name string, job config.Job) JobResult {
	started := time.Now()
	res := JobResult{Name: name, Status: StatusFailed}

	logFile, err := r.store.JobLog(runID, name)
	if err != nil {
		res.Error = err.Error()
		res.ExitCode = -1
		return res
	}
	defer logFile.Close()
	res.LogPath = logFile.Name()

	workspace, err := r.store.WorkspaceDir(runID, name)
	if err != nil {
		res.Error = err.Error()
		res.ExitCode = -1
		return res
	}

	jc := JobContext{
		Name:      name,
		Image:     job.Image,
		Workspace: workspace,
		WorkDir:   job.WorkingDirectory,
		Env:       job.Environment,
	}

	var lastErr error
	for attempt := 0; attempt <= job.Retries; attempt++ {
		if attempt > 0 {
			fmt.Fprintf(logFile, "\n--- retry %d/%d ---\n", attempt, job.Retries)
			// The failed attempt may have stored artifacts already.
			if err := r.store.ClearJobArtifacts(runID, name); err != nil {
				fmt.Fprintf(logFile, "cannot clear artifacts of failed attempt: %v\n", err)
			}
		}
		res.Artifacts, lastErr = r.runSteps(ctx, runID, jc, job.Steps, logFile)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	res.Duration = time.Since(started)
	res.ExitCode = ExitCode(lastErr)
	if lastErr != nil {
		res.Error = lastErr.Error()
		return res
	}
	res.Status = StatusSucceeded
	return res
}

// runSteps executes one attempt of a job and returns the artifacts it stored.
func (r *Runner) runSteps(ctx context.Context, runID string, jc JobContext, steps []config.Step, out io.Writer) ([]storage.Artifact, error) {
	var artifacts []storage.Artifact
	for _, step := range steps {
		fmt.Fprintf(out, "==> %s\n", step.Label())

		if step.Kind == config.StepStoreArtifacts {
			entries, err := r.store.SaveArtifact(runID, jc.Name, filepath.Join(jc.Workspace, step.Path), step.Destination)
			if err != nil {
				fmt.Fprintf(out, "store_artifacts failed: %v\n", err)
				return artifacts, fmt.Errorf("store_artifacts %s: %w", step.Path, err)
			}
			fmt.Fprintf(out, "stored %d artifact file(s)\n", len(entries))
			artifacts = append(artifacts, entries...)
			continue
		}

		if err := r.executor.RunStep(ctx, jc, step, out); err != nil {
			fmt.Fprintf(out, "step failed: %v\n", err)
			return artifacts, err
		}
	}
	return artifacts, nil
}

func (r *Runner) appendJournal(runID, workflow string, res JobResult) {
	logSum := ""
	if res.LogPath != "" {
		if sum, err := storage.HashFile(res.LogPath); err == nil {
			logSum = sum
		}
	}
	rec := &journal.Record{
		RunID:     runID,
		Workflow:  workflow,
		Job:       res.Name,
		Status:    string(res.Status),
		ExitCode:  res.ExitCode,
		LogPath:   res.LogPath,
		LogSHA256: logSum,
	}
	if err := r.journal.Append(rec); err != nil {
		r.log.Warn("journal append failed", zap.String("run", runID), zap.String("job", res.Name), zap.Error(err))
	}
}
