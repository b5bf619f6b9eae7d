package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowci/internal/dag"
)

func gateGraph(t *testing.T) *dag.Graph {
	t.Helper()
	g := dag.New()
	require.NoError(t, g.Add("style-check"))
	for _, job := range []string{"test-a", "test-b"} {
		require.NoError(t, g.Add(job, "style-check"))
	}
	return g
}

func TestSchedulerHappyPath(t *testing.T) {
	s := NewScheduler(gateGraph(t))

	batch := s.Next()
	assert.Equal(t, []string{"style-check"}, batch)
	s.Start("style-check")
	assert.Empty(t, s.Next(), "running gate must block the leaves")
	s.Finish("style-check", true)

	batch = s.Next()
	assert.Equal(t, []string{"test-a", "test-b"}, batch)
	for _, job := range batch {
		s.Start(job)
		s.Finish(job, true)
	}

	assert.True(t, s.Done())
	assert.False(t, s.Failed())
	assert.Empty(t, s.Next())
}

func TestSchedulerSkipsDependentsOnFailure(t *testing.T) {
	s := NewScheduler(gateGraph(t))

	s.Start("style-check")
	s.Finish("style-check", false)

	assert.True(t, s.Done())
	assert.True(t, s.Failed())
	assert.Equal(t, StatusFailed, s.Status("style-check"))
	assert.Equal(t, StatusSkipped, s.Status("test-a"))
	assert.Equal(t, StatusSkipped, s.Status("test-b"))
	assert.Empty(t, s.Next())
}

func TestSchedulerUnrelatedBranchStillRuns(t *testing.T) {
	g := dag.New()
	require.NoError(t, g.Add("lint"))
	require.NoError(t, g.Add("build"))
	require.NoError(t, g.Add("test", "build"))
	s := NewScheduler(g)

	batch := s.Next()
	assert.Equal(t, []string{"lint", "build"}, batch)

	s.Start("build")
	s.Finish("build", false)

	// lint is unaffected by the build failure.
	assert.Equal(t, []string{"lint"}, s.Next())
	s.Start("lint")
	s.Finish("lint", true)

	assert.True(t, s.Done())
	assert.Equal(t, StatusSucceeded, s.Status("lint"))
	assert.Equal(t, StatusSkipped, s.Status("test"))
}

func TestSchedulerTransitiveSkip(t *testing.T) {
	g := dag.New()
	require.NoError(t, g.Add("a"))
	require.NoError(t, g.Add("b", "a"))
	require.NoError(t, g.Add("c", "b"))
	s := NewScheduler(g)

	s.Start("a")
	s.Finish("a", false)

	assert.Equal(t, StatusSkipped, s.Status("b"))
	assert.Equal(t, StatusSkipped, s.Status("c"))
	assert.True(t, s.Done())
}
