// Package graphtest provides an in-memory graph.Provider for tests.
package graphtest

import (
	"sync"

	"github.com/gyaneshwarpardhi/blockgate/internal/graph"
)

// Job is a fake job. Its name can be changed with Rename.
type Job struct {
	mu   sync.RWMutex
	name string
}

func (j *Job) Name() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.name
}

// Rename changes the job's name in place.
func (j *Job) Rename(name string) {
	j.mu.Lock()
	j.name = name
	j.mu.Unlock()
}

// Graph is a mutable fake provider. Edges are declared with Trigger.
type Graph struct {
	mu         sync.RWMutex
	jobs       []*Job
	byName     map[string]*Job
	downstream map[*Job][]*Job
	upstream   map[*Job][]*Job
	building   map[*Job]bool
	queued     map[*Job]bool

	// Live overrides LiveBuildingOrQueued when set.
	Live func() graph.Set
	// UpstreamCalls and DownstreamCalls count neighbour lookups.
	UpstreamCalls   int
	DownstreamCalls int
}

// New returns a graph containing the named jobs.
func New(names ...string) *Graph {
	g := &Graph{
		byName:     make(map[string]*Job),
		downstream: make(map[*Job][]*Job),
		upstream:   make(map[*Job][]*Job),
		building:   make(map[*Job]bool),
		queued:     make(map[*Job]bool),
	}
	for _, n := range names {
		g.Add(n)
	}
	return g
}

// Add registers a job, returning the existing one if the name is taken.
func (g *Graph) Add(name string) *Job {
	g.mu.Lock()
	defer g.mu.Unlock()
	if j, ok := g.byName[name]; ok {
		return j
	}
	j := &Job{name: name}
	g.jobs = append(g.jobs, j)
	g.byName[name] = j
	return j
}

// Job returns the job registered under name, or nil.
func (g *Graph) Job(name string) *Job {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.byName[name]
}

// Trigger adds the edge from -> to, creating either job if needed.
func (g *Graph) Trigger(from string, to ...string) *Graph {
	f := g.Add(from)
	for _, name := range to {
		t := g.Add(name)
		g.mu.Lock()
		g.downstream[f] = append(g.downstream[f], t)
		g.upstream[t] = append(g.upstream[t], f)
		g.mu.Unlock()
	}
	return g
}

// SetBuilding marks a job as building.
func (g *Graph) SetBuilding(name string, building bool) {
	j := g.Add(name)
	g.mu.Lock()
	g.building[j] = building
	g.mu.Unlock()
}

// SetQueued marks a job as queued and unblocked.
func (g *Graph) SetQueued(name string, queued bool) {
	j := g.Add(name)
	g.mu.Lock()
	g.queued[j] = queued
	g.mu.Unlock()
}

func (g *Graph) DirectUpstream(j graph.Job) []graph.Job {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.UpstreamCalls++
	return toJobs(g.upstream[j.(*Job)])
}

func (g *Graph) DirectDownstream(j graph.Job) []graph.Job {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.DownstreamCalls++
	return toJobs(g.downstream[j.(*Job)])
}

func (g *Graph) LiveBuildingOrQueued() graph.Set {
	if g.Live != nil {
		return g.Live()
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	live := make(graph.Set)
	for _, j := range g.jobs {
		if g.building[j] || g.queued[j] {
			live[j] = struct{}{}
		}
	}
	return live
}

func (g *Graph) AllJobs() []graph.Job {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return toJobs(g.jobs)
}

func (g *Graph) IsBuilding(j graph.Job) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.building[j.(*Job)]
}

// Names returns the names of jobs, in order.
func Names(jobs []graph.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Name())
	}
	return out
}

func toJobs(in []*Job) []graph.Job {
	out := make([]graph.Job, 0, len(in))
	for _, j := range in {
		out = append(out, j)
	}
	return out
}
