package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"flowci/internal/config"
	"flowci/internal/engine"
)

const workflowYAML = `
version: 1
jobs:
  gate:
    steps:
      - run: echo gate ran
  tail:
    steps:
      - run: echo tail ran
workflows:
  main:
    jobs:
      - gate
      - tail:
          requires:
            - gate
`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	settings := &config.Settings{
		DataDir:     t.TempDir(),
		StepTimeout: time.Minute,
	}
	logger := zaptest.NewLogger(t)
	runner, err := engine.NewRunner(settings, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(New(runner, logger).Router())
	t.Cleanup(ts.Close)
	return ts
}

func submit(t *testing.T, ts *httptest.Server, body string) map[string]string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/workflows", "application/x-yaml", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out["id"])
	return out
}

// waitForRun polls a run until it leaves the running state.
func waitForRun(t *testing.T, ts *httptest.Server, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/runs/" + id)
		require.NoError(t, err)
		var entry map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entry))
		resp.Body.Close()

		if entry["status"] != string(engine.StatusRunning) {
			return entry
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s never finished", id)
	return nil
}

func TestSubmitAndRun(t *testing.T) {
	ts := newTestServer(t)

	out := submit(t, ts, workflowYAML)
	assert.Equal(t, "main", out["workflow"])

	entry := waitForRun(t, ts, out["id"])
	assert.Equal(t, string(engine.StatusSucceeded), entry["status"])

	jobs := entry["jobs"].(map[string]any)
	assert.Equal(t, string(engine.StatusSucceeded), jobs["gate"])
	assert.Equal(t, string(engine.StatusSucceeded), jobs["tail"])

	resp, err := http.Get(ts.URL + "/runs/" + out["id"] + "/jobs/gate/log")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	log, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(log), "gate ran")
}

func TestSubmitInvalidYAML(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/workflows", "application/x-yaml", strings.NewReader("jobs: ["))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitInvalidGraph(t *testing.T) {
	ts := newTestServer(t)

	cyclic := `
version: 1
jobs:
  a:
    steps:
      - run: echo a
  b:
    steps:
      - run: echo b
workflows:
  main:
    jobs:
      - a:
          requires:
            - b
      - b:
          requires:
            - a
`
	resp, err := http.Post(ts.URL+"/workflows", "application/x-yaml", strings.NewReader(cyclic))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out["error"], "cycle")
}

func TestSubmitMultipleWorkflowsNeedsParam(t *testing.T) {
	ts := newTestServer(t)

	multi := `
version: 1
jobs:
  a:
    steps:
      - run: echo a
workflows:
  one:
    jobs:
      - a
  two:
    jobs:
      - a
`
	resp, err := http.Post(ts.URL+"/workflows", "application/x-yaml", strings.NewReader(multi))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/workflows?workflow=two", "application/x-yaml", strings.NewReader(multi))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestFailedRunReportsSkips(t *testing.T) {
	ts := newTestServer(t)

	failing := `
version: 1
jobs:
  gate:
    steps:
      - run: exit 1
  tail:
    steps:
      - run: echo never
workflows:
  main:
    jobs:
      - gate
      - tail:
          requires:
            - gate
`
	out := submit(t, ts, failing)
	entry := waitForRun(t, ts, out["id"])
	assert.Equal(t, string(engine.StatusFailed), entry["status"])

	jobs := entry["jobs"].(map[string]any)
	assert.Equal(t, string(engine.StatusFailed), jobs["gate"])
	assert.Equal(t, string(engine.StatusSkipped), jobs["tail"])
}

func TestListRuns(t *testing.T) {
	ts := newTestServer(t)

	out := submit(t, ts, workflowYAML)
	waitForRun(t, ts, out["id"])

	resp, err := http.Get(ts.URL + "/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, out["id"], entries[0]["id"])
}

func TestRunNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/runs/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/runs/nope/jobs/gate/log")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJournalVerifyEndpoint(t *testing.T) {
	ts := newTestServer(t)

	out := submit(t, ts, workflowYAML)
	waitForRun(t, ts, out["id"])

	resp, err := http.Get(ts.URL + "/journal/verify")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}
