package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/blockgate/internal/config"
	"github.com/gyaneshwarpardhi/blockgate/internal/gate"
	"github.com/gyaneshwarpardhi/blockgate/internal/graph"
	"github.com/gyaneshwarpardhi/blockgate/internal/names"
	"github.com/gyaneshwarpardhi/blockgate/internal/pipeline"
	"github.com/gyaneshwarpardhi/blockgate/internal/queue"
	"github.com/gyaneshwarpardhi/blockgate/internal/registry"
	"github.com/gyaneshwarpardhi/blockgate/internal/snapshot"
)

// Deps are the components the handlers read and drive.
type Deps struct {
	Registry *registry.Registry
	Gate     *gate.Gate
	Queue    *queue.Queue
	Loader   *config.Loader
	// Snapshot is optional; without it pipeline edits are not persisted.
	Snapshot *snapshot.File
	Logger   *slog.Logger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	Deps
	router chi.Router
}

// New creates an HTTP handler and registers all routes.
func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &Handler{Deps: d, router: chi.NewRouter()}

	r := h.router
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(d.Logger))

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/", h.listJobs)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", h.getJob)
			r.Delete("/", h.deleteJob)
			r.Get("/pipeline", h.getPipeline)
			r.Put("/pipeline", h.putPipeline)
			r.Get("/reachability", h.reachability)
			r.Get("/check", h.check)
			r.Post("/rename", h.renameJob)
			r.Post("/complete", h.completeJob)
		})
	})
	r.Route("/v1/queue", func(r chi.Router) {
		r.Get("/", h.listQueue)
		r.Post("/", h.enqueue)
		r.Post("/admit", h.admit)
		r.Get("/preview", h.preview)
	})
	r.Get("/v1/names/complete", h.completeNames)
	r.Post("/v1/names/check", h.checkNames)
	r.Post("/v1/catalog/reload", h.reloadCatalog)
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// jobView is the JSON form of a registered job.
type jobView struct {
	Name             string        `json:"name"`
	State            string        `json:"state"`
	Blocked          bool          `json:"blocked"`
	NativeUpstream   bool          `json:"native_upstream"`
	NativeDownstream bool          `json:"native_downstream"`
	Upstream         []string      `json:"upstream"`
	Downstream       []string      `json:"downstream"`
	Pipeline         *pipelineView `json:"pipeline,omitempty"`
}

type pipelineView struct {
	BlockUpstream   bool     `json:"block_upstream"`
	FinalUpstream   []string `json:"final_upstream"`
	BlockDownstream bool     `json:"block_downstream"`
	FinalDownstream []string `json:"final_downstream"`
}

func viewPipeline(cfg *pipeline.Config) *pipelineView {
	if cfg == nil {
		return nil
	}
	return &pipelineView{
		BlockUpstream:   cfg.BlockUpstream(),
		FinalUpstream:   cfg.FinalUpstream(),
		BlockDownstream: cfg.BlockDownstream(),
		FinalDownstream: cfg.FinalDownstream(),
	}
}

func (h *Handler) viewJob(j *registry.Job) jobView {
	up, down := j.Native()
	return jobView{
		Name:             j.Name(),
		State:            j.State().String(),
		Blocked:          j.Blocked(),
		NativeUpstream:   up,
		NativeDownstream: down,
		Upstream:         jobNames(h.Registry.DirectUpstream(j)),
		Downstream:       jobNames(h.Registry.DirectDownstream(j)),
		Pipeline:         viewPipeline(j.Pipeline()),
	}
}

// lookup resolves the {name} URL parameter, writing a 404 when unknown.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*registry.Job, bool) {
	name := chi.URLParam(r, "name")
	j, ok := h.Registry.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown job %q", name))
	}
	return j, ok
}

// GET /v1/jobs
func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.Registry.Jobs()
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, h.viewJob(j))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": out})
}

// GET /v1/jobs/{name}
func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.viewJob(j))
}

// DELETE /v1/jobs/{name}
func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.Registry.Delete(name); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	h.persist()
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": name})
}

type renameRequest struct {
	Name string `json:"name"`
}

// POST /v1/jobs/{name}/rename
func (h *Handler) renameJob(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	oldName := chi.URLParam(r, "name")
	if err := h.Registry.Rename(oldName, req.Name); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	h.persist()
	j, _ := h.Registry.Lookup(req.Name)
	writeJSON(w, http.StatusOK, h.viewJob(j))
}

// GET /v1/jobs/{name}/pipeline
func (h *Handler) getPipeline(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	cfg := j.Pipeline()
	if cfg == nil {
		cfg = pipeline.Disabled()
	}
	writeJSON(w, http.StatusOK, viewPipeline(cfg))
}

// PUT /v1/jobs/{name}/pipeline accepts the form representation, with
// comma-delimited final job lists.
func (h *Handler) putPipeline(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var def config.PipelineDef
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	for _, list := range []string{def.FinalUpstream, def.FinalDownstream} {
		if err := names.Check(list, h.exists); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	cfg := pipeline.New(def.BlockUpstream, def.FinalUpstream, def.BlockDownstream, def.FinalDownstream)
	if err := h.Registry.ReplacePipelineConfig(j, cfg); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	h.persist()

	warnings := gate.Advisories(h.Registry, j, cfg)
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pipeline": viewPipeline(cfg),
		"warnings": warnings,
	})
}

// GET /v1/jobs/{name}/reachability?direction=up|down
func (h *Handler) reachability(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	dir, err := graph.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	finals := j.Pipeline().FinalNames(dir)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":       j.Name(),
		"direction": dir.String(),
		"final":     finals,
		"reachable": jobNames(graph.Transitive(h.Registry, j, dir, finals)),
	})
}

// GET /v1/jobs/{name}/check
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	j, ok := h.lookup(w, r)
	if !ok {
		return
	}
	b := h.Gate.CheckAll(j)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":      j.Name(),
		"blocked":  b != nil,
		"blockage": b,
	})
}

// POST /v1/jobs/{name}/complete
func (h *Handler) completeJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	triggered, err := h.Queue.Complete(name)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if triggered == nil {
		triggered = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":       name,
		"triggered": triggered,
	})
}

// GET /v1/queue
func (h *Handler) listQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": h.Queue.Items()})
}

type enqueueRequest struct {
	Job string `json:"job"`
}

// POST /v1/queue
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.Job == "" {
		writeError(w, http.StatusBadRequest, "job is required")
		return
	}
	it, err := h.Queue.Enqueue(req.Job)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, it)
}

// POST /v1/queue/admit runs one admission pass immediately.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": h.Queue.Admit()})
}

// GET /v1/queue/preview
func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	decisions, err := h.Queue.Preview(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"decisions": decisions})
}

// GET /v1/names/complete?prefix=
func (h *Handler) completeNames(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"candidates": names.Complete(prefix, h.Registry.Names()),
	})
}

type checkRequest struct {
	Input string `json:"input"`
}

// POST /v1/names/check
func (h *Handler) checkNames(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if err := names.Check(req.Input, h.exists); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
}

// POST /v1/catalog/reload re-reads the catalog. Registered OnChange
// callbacks apply it to the registry.
func (h *Handler) reloadCatalog(w http.ResponseWriter, r *http.Request) {
	cat, err := h.Loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":   true,
		"version":    cat.Version,
		"jobs_count": len(cat.Jobs),
	})
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if the build queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.Queue.Utilization()
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}

func (h *Handler) exists(name string) bool {
	_, ok := h.Registry.Lookup(name)
	return ok
}

// persist saves the operator-edited pipeline configs to the snapshot file,
// if configured.
func (h *Handler) persist() {
	if h.Snapshot == nil {
		return
	}
	if err := h.Snapshot.Save(snapshot.Capture(h.Registry)); err != nil {
		h.Logger.Error("failed to save pipeline snapshot", "path", h.Snapshot.Path(), "err", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrNameTaken),
		errors.Is(err, queue.ErrAlreadyQueued),
		errors.Is(err, queue.ErrBuilding),
		errors.Is(err, queue.ErrNotBuilding):
		return http.StatusConflict
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func jobNames(jobs []graph.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Name())
	}
	return out
}
