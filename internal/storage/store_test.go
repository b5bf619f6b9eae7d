package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLogLayout(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	f, err := s.JobLog("run-1", "style-check")
	require.NoError(t, err)
	_, err = f.WriteString("hello\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	path := s.JobLogPath("run-1", "style-check")
	assert.Equal(t, f.Name(), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestSanitize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"style-check", "style-check"},
		{"test-3.6", "test-3.6"},
		{"weird job/name", "weird_job_name"},
		{"", "job"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, sanitize(tc.in), tc.in)
	}
}

func TestSaveArtifactFile(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "report.xml")
	require.NoError(t, os.WriteFile(src, []byte("<ok/>"), 0o644))

	entries, err := s.SaveArtifact("run-1", "test", src, "report.xml")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(5), entries[0].Size)
	assert.Equal(t, HashBytes([]byte("<ok/>")), entries[0].SHA256)

	copied, err := os.ReadFile(entries[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "<ok/>", string(copied))

	manifest, err := s.Manifest("run-1")
	require.NoError(t, err)
	require.Len(t, manifest, 1)
	assert.Equal(t, entries[0], manifest[0])
}

func TestSaveArtifactTree(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "b.txt"), []byte("b"), 0o644))

	entries, err := s.SaveArtifact("run-1", "test", src, "reports")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// A second save appends to the same manifest.
	single := filepath.Join(t.TempDir(), "c.txt")
	require.NoError(t, os.WriteFile(single, []byte("c"), 0o644))
	_, err = s.SaveArtifact("run-1", "test", single, "")
	require.NoError(t, err)

	manifest, err := s.Manifest("run-1")
	require.NoError(t, err)
	assert.Len(t, manifest, 3)
}

func TestSaveArtifactConcurrent(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	// Jobs of one wave store artifacts at the same time; no save may be
	// lost and no reader may see a torn manifest.
	const jobs = 8
	var wg sync.WaitGroup
	errs := make([]error, jobs)
	for i := 0; i < jobs; i++ {
		i := i
		src := filepath.Join(t.TempDir(), "report.xml")
		require.NoError(t, os.WriteFile(src, []byte(fmt.Sprintf("<job-%d/>", i)), 0o644))

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.SaveArtifact("run-1", fmt.Sprintf("test-%d", i), src, "report.xml")
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "job %d", i)
	}
	manifest, err := s.Manifest("run-1")
	require.NoError(t, err)
	assert.Len(t, manifest, jobs)
}

func TestClearJobArtifacts(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "report.xml")
	require.NoError(t, os.WriteFile(src, []byte("<ok/>"), 0o644))

	kept, err := s.SaveArtifact("run-1", "keep", src, "report.xml")
	require.NoError(t, err)
	dropped, err := s.SaveArtifact("run-1", "drop", src, "report.xml")
	require.NoError(t, err)

	require.NoError(t, s.ClearJobArtifacts("run-1", "drop"))

	manifest, err := s.Manifest("run-1")
	require.NoError(t, err)
	require.Len(t, manifest, 1)
	assert.Equal(t, kept[0], manifest[0])

	_, err = os.Stat(dropped[0].Path)
	assert.True(t, os.IsNotExist(err), "cleared artifact file must be removed")
	_, err = os.Stat(kept[0].Path)
	assert.NoError(t, err)

	// Clearing a job with no entries is a no-op.
	require.NoError(t, s.ClearJobArtifacts("run-1", "ghost"))
	require.NoError(t, s.ClearJobArtifacts("never-ran", "drop"))
}

func TestSaveArtifactMissingSource(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.SaveArtifact("run-1", "test", filepath.Join(t.TempDir(), "nope"), "")
	require.Error(t, err)
}

func TestManifestEmptyRun(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	manifest, err := s.Manifest("never-ran")
	require.NoError(t, err)
	assert.Empty(t, manifest)
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("flow"), 0o644))

	sum, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, HashBytes([]byte("flow")), sum)

	_, err = HashFile(path + ".missing")
	require.Error(t, err)
}
