package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/blockgate/internal/config"
	"github.com/gyaneshwarpardhi/blockgate/internal/gate"
	"github.com/gyaneshwarpardhi/blockgate/internal/maintainer"
	"github.com/gyaneshwarpardhi/blockgate/internal/queue"
	"github.com/gyaneshwarpardhi/blockgate/internal/registry"
	"github.com/gyaneshwarpardhi/blockgate/internal/snapshot"
)

const catalog = `
version: v1
gate:
  queue_depth: 10
jobs:
  - name: project-a
    downstream: [project-b]
    block_when_downstream_building: true
  - name: project-b
    downstream: [project-c]
    pipeline:
      block_upstream: true
      final_upstream: project-a
  - name: project-c
`

type fixture struct {
	srv     *httptest.Server
	reg     *registry.Registry
	snap    *snapshot.File
	catPath string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	catPath := filepath.Join(dir, "jobs.yaml")
	require.NoError(t, os.WriteFile(catPath, []byte(catalog), 0o644))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	loader, err := config.NewLoader(catPath)
	require.NoError(t, err)

	reg := registry.New(logger)
	require.NoError(t, reg.Sync(loader.Catalog()))
	loader.OnChange(func(c *config.Catalog) { assert.NoError(t, reg.Sync(c)) })
	maintainer.New(reg, logger).Subscribe(reg)

	g := gate.New(reg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	q := queue.New(ctx, reg, g, loader.Catalog().Gate, logger)
	snap := snapshot.NewFile(filepath.Join(dir, "pipeline.cbor"))

	srv := httptest.NewServer(New(Deps{
		Registry: reg, Gate: g, Queue: q, Loader: loader, Snapshot: snap, Logger: logger,
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		q.Shutdown()
	})
	return &fixture{srv: srv, reg: reg, snap: snap, catPath: catPath}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestListAndGetJob(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/v1/jobs", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["jobs"], 3)

	status, body = f.do(t, http.MethodGet, "/v1/jobs/project-b", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, []interface{}{"project-a"}, body["upstream"])
	assert.Equal(t, []interface{}{"project-c"}, body["downstream"])

	status, body = f.do(t, http.MethodGet, "/v1/jobs/ghost", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body["error"], "ghost")
	assert.NotEmpty(t, body["request_id"])
}

func TestPutPipeline(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPut, "/v1/jobs/project-a/pipeline",
		`{"block_downstream": true, "final_downstream": " project-b , "}`)
	require.Equal(t, http.StatusOK, status)
	p := body["pipeline"].(map[string]interface{})
	assert.Equal(t, []interface{}{"project-b"}, p["final_downstream"])
	warnings := body["warnings"].([]interface{})
	require.Len(t, warnings, 1, "native downstream blocking is also on")
	assert.Contains(t, warnings[0], "downstream")

	recs, err := f.snap.Load()
	require.NoError(t, err)
	require.Len(t, recs, 1, "catalog configs are not persisted")
	assert.Equal(t, "project-a", recs[0].Job)

	status, body = f.do(t, http.MethodPut, "/v1/jobs/project-a/pipeline",
		`{"block_downstream": true, "final_downstream": "project-b, nope"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "invalid job: nope | project-b, nope", body["error"])

	status, _ = f.do(t, http.MethodPut, "/v1/jobs/project-a/pipeline", `{`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGetPipelineDefaultsToDisabled(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/v1/jobs/project-c/pipeline", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["block_upstream"])
	assert.Equal(t, []interface{}{}, body["final_upstream"])
}

func TestReachability(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/v1/jobs/project-a/reachability?direction=down", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "downstream", body["direction"])
	assert.Equal(t, []interface{}{"project-b", "project-c"}, body["reachable"])

	status, _ = f.do(t, http.MethodGet, "/v1/jobs/project-a/reachability?direction=sideways", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestQueueFlow(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/v1/queue", `{"job": "project-a"}`)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "project-a", body["job"])
	assert.NotEmpty(t, body["id"])

	status, _ = f.do(t, http.MethodPost, "/v1/queue", `{"job": "project-a"}`)
	assert.Equal(t, http.StatusConflict, status)
	status, _ = f.do(t, http.MethodPost, "/v1/queue", `{"job": "ghost"}`)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = f.do(t, http.MethodPost, "/v1/queue", `{"job": "project-b"}`)
	require.Equal(t, http.StatusAccepted, status)

	status, body = f.do(t, http.MethodGet, "/v1/queue/preview", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["decisions"], 2)

	status, body = f.do(t, http.MethodPost, "/v1/queue/admit", "")
	require.Equal(t, http.StatusOK, status)
	decisions := body["decisions"].([]interface{})
	require.Len(t, decisions, 2)
	first := decisions[0].(map[string]interface{})
	second := decisions[1].(map[string]interface{})
	assert.Equal(t, true, first["blocked"], "project-a natively waits for queued project-b")
	assert.Equal(t, true, first["native"])
	assert.Equal(t, false, second["blocked"], "project-a was blocked earlier in the pass")

	status, body = f.do(t, http.MethodGet, "/v1/jobs/project-a/check", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["blocked"], "the gate itself has no config on project-a")

	status, body = f.do(t, http.MethodPost, "/v1/jobs/project-b/complete", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{"project-c"}, body["triggered"])

	status, body = f.do(t, http.MethodGet, "/v1/queue", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["items"], 2)

	status, _ = f.do(t, http.MethodPost, "/v1/jobs/project-b/complete", "")
	assert.Equal(t, http.StatusConflict, status)
}

func TestCheckReportsBlockage(t *testing.T) {
	f := newFixture(t)
	a, _ := f.reg.Lookup("project-a")
	require.NoError(t, f.reg.SetState(a, registry.Building))

	status, body := f.do(t, http.MethodGet, "/v1/jobs/project-b/check", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["blocked"])
	b := body["blockage"].(map[string]interface{})
	assert.Equal(t, "upstream", b["direction"])
	assert.Equal(t, "Upstream project project-a is already building.", b["description"])
}

func TestRenameAndDeleteRewriteConfigs(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodPost, "/v1/jobs/project-a/rename", `{"name": "project-x"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "project-x", body["name"])

	status, body = f.do(t, http.MethodGet, "/v1/jobs/project-b/pipeline", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{"project-x"}, body["final_upstream"])

	status, _ = f.do(t, http.MethodPost, "/v1/jobs/project-x/rename", `{"name": "project-c"}`)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = f.do(t, http.MethodDelete, "/v1/jobs/project-x", "")
	require.Equal(t, http.StatusOK, status)
	status, body = f.do(t, http.MethodGet, "/v1/jobs/project-b/pipeline", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []interface{}{}, body["final_upstream"])

	status, _ = f.do(t, http.MethodDelete, "/v1/jobs/project-x", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestNames(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/v1/names/complete?prefix=PROJECT-", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["candidates"], 3)

	status, body = f.do(t, http.MethodPost, "/v1/names/check", `{"input": "project-a, project-c,"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["valid"])

	status, body = f.do(t, http.MethodPost, "/v1/names/check", `{"input": "project-q"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "invalid job: project-q | project-q", body["error"])
}

func TestReloadCatalog(t *testing.T) {
	f := newFixture(t)

	next := "version: v2\njobs:\n  - name: project-a\n  - name: project-d\n"
	require.NoError(t, os.WriteFile(f.catPath, []byte(next), 0o644))
	status, body := f.do(t, http.MethodPost, "/v1/catalog/reload", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "v2", body["version"])
	assert.Equal(t, []string{"project-a", "project-d"}, f.reg.Names())

	require.NoError(t, os.WriteFile(f.catPath, []byte("jobs: []\n"), 0o644))
	status, _ = f.do(t, http.MethodPost, "/v1/catalog/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestProbesAndRequestID(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = f.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
}
