package engine

import (
	"flowci/internal/dag"
)

// Status is a job's state within a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// Scheduler tracks job states over a dependency graph and hands out jobs
// whose prerequisites have all succeeded. A failure skips every transitive
// dependent; jobs on unrelated branches keep running. Not safe for concurrent
// use, callers serialize access.
type Scheduler struct {
	graph  *dag.Graph
	states map[string]Status
}

func NewScheduler(g *dag.Graph) *Scheduler {
	states := make(map[string]Status, len(g.Nodes()))
	for _, node := range g.Nodes() {
		states[node] = StatusPending
	}
	return &Scheduler{graph: g, states: states}
}

// Next returns the pending jobs whose prerequisites have all succeeded.
func (s *Scheduler) Next() []string {
	succeeded := make(map[string]bool)
	for node, st := range s.states {
		if st == StatusSucceeded {
			succeeded[node] = true
		}
	}

	var next []string
	for _, node := range s.graph.Ready(succeeded) {
		if s.states[node] == StatusPending {
			next = append(next, node)
		}
	}
	return next
}

// Start marks a job running.
func (s *Scheduler) Start(job string) {
	s.states[job] = StatusRunning
}

// Finish records a job's outcome. On failure every transitive dependent that
// has not already finished is marked skipped.
func (s *Scheduler) Finish(job string, ok bool) {
	if ok {
		s.states[job] = StatusSucceeded
		return
	}
	s.states[job] = StatusFailed
	for _, dep := range s.graph.Dependents(job) {
		if !s.states[dep].Terminal() {
			s.states[dep] = StatusSkipped
		}
	}
}

// Done reports whether every job has reached an end state.
func (s *Scheduler) Done() bool {
	for _, st := range s.states {
		if !st.Terminal() {
			return false
		}
	}
	return true
}

// Failed reports whether any job failed.
func (s *Scheduler) Failed() bool {
	for _, st := range s.states {
		if st == StatusFailed {
			return true
		}
	}
	return false
}

// Status returns the state of one job.
func (s *Scheduler) Status(job string) Status {
	return s.states[job]
}

// States returns a copy of all job states.
func (s *Scheduler) States() map[string]Status {
	out := make(map[string]Status, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}
