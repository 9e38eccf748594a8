package registry

import (
	"sync"
	"sync/atomic"

	"github.com/gyaneshwarpardhi/blockgate/internal/graph"
	"github.com/gyaneshwarpardhi/blockgate/internal/pipeline"
)

// State is the scheduler state of a job.
type State int

const (
	Idle State = iota
	Queued
	Building
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Building:
		return "building"
	}
	return "idle"
}

// Spec describes a job when it is registered.
type Spec struct {
	Name string
	// NativeUpstream and NativeDownstream are the host's own "block while
	// upstream/downstream is building" options.
	NativeUpstream   bool
	NativeDownstream bool
	// Pipeline is the job's final-job blocking config; nil means none.
	Pipeline *pipeline.Config
}

// Job is a registered job. Its identity is the pointer; the name can change.
type Job struct {
	mu               sync.RWMutex
	name             string
	state            State
	blocked          bool
	nativeUpstream   bool
	nativeDownstream bool

	pipeline atomic.Pointer[pipeline.Config]
	// overridden is set when the config came from an operator edit rather
	// than the catalog.
	overridden atomic.Bool
}

var _ graph.Job = (*Job)(nil)

func (j *Job) Name() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.name
}

// State returns the job's scheduler state.
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Blocked reports whether the job is queued and was held back by the last
// admission pass.
func (j *Job) Blocked() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state == Queued && j.blocked
}

// Native returns the host's native blocking options.
func (j *Job) Native() (upstream, downstream bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.nativeUpstream, j.nativeDownstream
}

// Pipeline returns the job's current config, nil if it has none.
func (j *Job) Pipeline() *pipeline.Config {
	return j.pipeline.Load()
}

// PipelineOverridden reports whether the config was set by an operator
// edit and so takes precedence over the catalog.
func (j *Job) PipelineOverridden() bool {
	return j.overridden.Load()
}

func (j *Job) setName(name string) {
	j.mu.Lock()
	j.name = name
	j.mu.Unlock()
}

func (j *Job) setNative(upstream, downstream bool) {
	j.mu.Lock()
	j.nativeUpstream, j.nativeDownstream = upstream, downstream
	j.mu.Unlock()
}

// live reports whether the job is building or queued and unblocked.
func (j *Job) live() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state == Building || (j.state == Queued && !j.blocked)
}
