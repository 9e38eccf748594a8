// Package graph defines the view of the live job-dependency graph the gate
// needs, and the bounded transitive search over it.
package graph

import (
	"fmt"
	"strings"
)

// Direction selects which edges a search follows.
type Direction int

const (
	Upstream Direction = iota
	Downstream
)

func (d Direction) String() string {
	if d == Upstream {
		return "upstream"
	}
	return "downstream"
}

// ParseDirection accepts "up", "upstream", "down" and "downstream".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "upstream":
		return Upstream, nil
	case "down", "downstream":
		return Downstream, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Job is a node of the graph. Two Jobs are the same job when the interface
// values are equal; names may change over a job's lifetime.
type Job interface {
	Name() string
}

// Set is a set of jobs keyed by identity.
type Set map[Job]struct{}

// Contains reports whether j is a member of s. A nil Set is empty.
func (s Set) Contains(j Job) bool {
	_, ok := s[j]
	return ok
}

// Provider exposes the live graph and the scheduler's running state.
// Implementations must be safe for concurrent use.
type Provider interface {
	// DirectUpstream returns the jobs that trigger j.
	DirectUpstream(j Job) []Job
	// DirectDownstream returns the jobs j triggers.
	DirectDownstream(j Job) []Job
	// LiveBuildingOrQueued returns the jobs currently building or queued
	// and not blocked. It returns an empty set, never an error, when the
	// underlying registry is unavailable.
	LiveBuildingOrQueued() Set
	// AllJobs returns every registered job.
	AllJobs() []Job
	// IsBuilding reports whether j has a build in progress.
	IsBuilding(j Job) bool
}

// Neighbors returns the direct neighbours of j in dir.
func Neighbors(p Provider, j Job, dir Direction) []Job {
	if dir == Upstream {
		return p.DirectUpstream(j)
	}
	return p.DirectDownstream(j)
}
