// Package registry is the in-memory job registry: the live dependency
// graph, each job's scheduler state and pipeline config, and the
// rename/delete notifications other components subscribe to.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gyaneshwarpardhi/blockgate/internal/graph"
	"github.com/gyaneshwarpardhi/blockgate/internal/pipeline"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrNameTaken  = errors.New("job name already taken")
)

// Registry holds jobs and trigger edges. It is safe for concurrent use.
// Edges are kept by job identity, so a rename never breaks them.
type Registry struct {
	mu         sync.RWMutex
	jobs       []*Job
	byName     map[string]*Job
	downstream map[*Job][]*Job
	upstream   map[*Job][]*Job

	lmu      sync.RWMutex
	onDelete []func(graph.Job)
	onRename []func(j graph.Job, oldName, newName string)

	closed atomic.Bool
	logger *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName:     make(map[string]*Job),
		downstream: make(map[*Job][]*Job),
		upstream:   make(map[*Job][]*Job),
		logger:     logger,
	}
}

// Add registers a job.
func (r *Registry) Add(spec Spec) (*Job, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("add job: name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[spec.Name]; ok {
		return nil, fmt.Errorf("add job %q: %w", spec.Name, ErrNameTaken)
	}
	j := &Job{name: spec.Name, nativeUpstream: spec.NativeUpstream, nativeDownstream: spec.NativeDownstream}
	if spec.Pipeline != nil {
		j.pipeline.Store(spec.Pipeline)
	}
	r.jobs = append(r.jobs, j)
	r.byName[spec.Name] = j
	return j, nil
}

// Connect records that from triggers to. Duplicate edges are ignored.
func (r *Registry) Connect(from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.byName[from]
	if !ok {
		return fmt.Errorf("connect %s -> %s: %q: %w", from, to, from, ErrUnknownJob)
	}
	t, ok := r.byName[to]
	if !ok {
		return fmt.Errorf("connect %s -> %s: %q: %w", from, to, to, ErrUnknownJob)
	}
	for _, existing := range r.downstream[f] {
		if existing == t {
			return nil
		}
	}
	r.downstream[f] = append(r.downstream[f], t)
	r.upstream[t] = append(r.upstream[t], f)
	return nil
}

// Lookup returns the job registered under name.
func (r *Registry) Lookup(name string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.byName[name]
	return j, ok
}

// Jobs returns every job in registration order.
func (r *Registry) Jobs() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}

// Names returns every job name in registration order.
func (r *Registry) Names() []string {
	jobs := r.Jobs()
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Name())
	}
	return out
}

// OnDelete registers fn to run when a job is about to be deleted. The job
// is still registered while fn runs.
func (r *Registry) OnDelete(fn func(graph.Job)) {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.onDelete = append(r.onDelete, fn)
}

// OnRename registers fn to run after a job has been renamed.
func (r *Registry) OnRename(fn func(j graph.Job, oldName, newName string)) {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.onRename = append(r.onRename, fn)
}

// Rename changes a job's name and then notifies rename listeners.
func (r *Registry) Rename(oldName, newName string) error {
	if newName == "" {
		return fmt.Errorf("rename %q: new name is required", oldName)
	}
	r.mu.Lock()
	j, ok := r.byName[oldName]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("rename %q: %w", oldName, ErrUnknownJob)
	}
	if oldName == newName {
		r.mu.Unlock()
		return nil
	}
	if _, taken := r.byName[newName]; taken {
		r.mu.Unlock()
		return fmt.Errorf("rename %q to %q: %w", oldName, newName, ErrNameTaken)
	}
	delete(r.byName, oldName)
	r.byName[newName] = j
	j.setName(newName)
	r.mu.Unlock()

	r.logger.Info("job renamed", "from", oldName, "to", newName)
	r.lmu.RLock()
	listeners := make([]func(graph.Job, string, string), len(r.onRename))
	copy(listeners, r.onRename)
	r.lmu.RUnlock()
	for _, fn := range listeners {
		fn(j, oldName, newName)
	}
	return nil
}

// Delete notifies delete listeners and then removes the job and its edges.
func (r *Registry) Delete(name string) error {
	j, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("delete %q: %w", name, ErrUnknownJob)
	}

	r.lmu.RLock()
	listeners := make([]func(graph.Job), len(r.onDelete))
	copy(listeners, r.onDelete)
	r.lmu.RUnlock()
	for _, fn := range listeners {
		fn(j)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byName[j.Name()] != j {
		return fmt.Errorf("delete %q: %w", name, ErrUnknownJob)
	}
	r.removeLocked(j)
	r.logger.Info("job deleted", "job", name)
	return nil
}

func (r *Registry) removeLocked(j *Job) {
	delete(r.byName, j.Name())
	for i, existing := range r.jobs {
		if existing == j {
			r.jobs = append(r.jobs[:i], r.jobs[i+1:]...)
			break
		}
	}
	for _, up := range r.upstream[j] {
		r.downstream[up] = without(r.downstream[up], j)
	}
	for _, down := range r.downstream[j] {
		r.upstream[down] = without(r.upstream[down], j)
	}
	delete(r.upstream, j)
	delete(r.downstream, j)
}

// SetState moves a job to state. Leaving Queued clears the blocked flag.
func (r *Registry) SetState(j *Job, s State) error {
	if !r.registered(j) {
		return fmt.Errorf("set state of %q: %w", j.Name(), ErrUnknownJob)
	}
	j.mu.Lock()
	j.state = s
	if s != Queued {
		j.blocked = false
	}
	j.mu.Unlock()
	return nil
}

// SetBlocked records the outcome of an admission check on a queued job.
func (r *Registry) SetBlocked(j *Job, blocked bool) {
	j.mu.Lock()
	j.blocked = blocked && j.state == Queued
	j.mu.Unlock()
}

// Close marks the registry unavailable. Live-set queries then return an
// empty set.
func (r *Registry) Close() {
	r.closed.Store(true)
}

// DirectUpstream implements graph.Provider.
func (r *Registry) DirectUpstream(gj graph.Job) []graph.Job {
	j, ok := gj.(*Job)
	if !ok {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return toGraphJobs(r.upstream[j])
}

// DirectDownstream implements graph.Provider.
func (r *Registry) DirectDownstream(gj graph.Job) []graph.Job {
	j, ok := gj.(*Job)
	if !ok {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return toGraphJobs(r.downstream[j])
}

// LiveBuildingOrQueued implements graph.Provider.
func (r *Registry) LiveBuildingOrQueued() graph.Set {
	live := make(graph.Set)
	if r.closed.Load() {
		r.logger.Error("registry unavailable, reporting no building or queued jobs")
		return live
	}
	for _, j := range r.Jobs() {
		if j.live() {
			live[j] = struct{}{}
		}
	}
	return live
}

// AllJobs implements graph.Provider.
func (r *Registry) AllJobs() []graph.Job {
	return toGraphJobs(r.Jobs())
}

// IsBuilding implements graph.Provider.
func (r *Registry) IsBuilding(gj graph.Job) bool {
	j, ok := gj.(*Job)
	return ok && j.State() == Building
}

// PipelineConfig returns the job's config, nil if it has none.
func (r *Registry) PipelineConfig(gj graph.Job) *pipeline.Config {
	j, ok := gj.(*Job)
	if !ok {
		return nil
	}
	return j.Pipeline()
}

// ReplacePipelineConfig installs cfg as the job's config in one step and
// marks it as an operator edit. Concurrent readers see either the old or
// the new config.
func (r *Registry) ReplacePipelineConfig(gj graph.Job, cfg *pipeline.Config) error {
	j, ok := gj.(*Job)
	if !ok || !r.registered(j) {
		return fmt.Errorf("replace pipeline config of %q: %w", gj.Name(), ErrUnknownJob)
	}
	j.pipeline.Store(cfg)
	j.overridden.Store(true)
	return nil
}

// SwapPipelineConfig installs next only if old is still the job's config.
// The config keeps its origin.
func (r *Registry) SwapPipelineConfig(gj graph.Job, old, next *pipeline.Config) (bool, error) {
	j, ok := gj.(*Job)
	if !ok || !r.registered(j) {
		return false, fmt.Errorf("swap pipeline config of %q: %w", gj.Name(), ErrUnknownJob)
	}
	return j.pipeline.CompareAndSwap(old, next), nil
}

// PipelineOverridden reports whether the job's config came from an
// operator edit.
func (r *Registry) PipelineOverridden(gj graph.Job) bool {
	j, ok := gj.(*Job)
	return ok && j.PipelineOverridden()
}

// NativeBlocking reports the host's native blocking option for dir.
func (r *Registry) NativeBlocking(gj graph.Job, dir graph.Direction) bool {
	j, ok := gj.(*Job)
	if !ok {
		return false
	}
	up, down := j.Native()
	if dir == graph.Upstream {
		return up
	}
	return down
}

func (r *Registry) registered(j *Job) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[j.Name()] == j
}

func without(jobs []*Job, j *Job) []*Job {
	out := jobs[:0]
	for _, existing := range jobs {
		if existing != j {
			out = append(out, existing)
		}
	}
	return out
}

func toGraphJobs(in []*Job) []graph.Job {
	out := make([]graph.Job, 0, len(in))
	for _, j := range in {
		out = append(out, j)
	}
	return out
}
