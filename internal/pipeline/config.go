// Package pipeline holds the per-job blocking configuration: two direction
// toggles and two ordered lists of "final" job names.
//
// A Config is immutable. Every edit, including the rewrites performed when a
// referenced job is renamed or deleted, builds a new Config and the owner
// swaps it in as a whole.
package pipeline

import (
	"regexp"
	"slices"
	"strings"

	"github.com/gyaneshwarpardhi/blockgate/internal/graph"
)

// Config is the blocking configuration of a single job.
type Config struct {
	blockUpstream   bool
	blockDownstream bool
	finalUpstream   []string
	finalDownstream []string
}

// New builds a Config from the form representation: comma-delimited name
// lists, whitespace-trimmed, empty entries dropped.
func New(blockUpstream bool, finalUpstream string, blockDownstream bool, finalDownstream string) *Config {
	return &Config{
		blockUpstream:   blockUpstream,
		blockDownstream: blockDownstream,
		finalUpstream:   ParseNames(finalUpstream),
		finalDownstream: ParseNames(finalDownstream),
	}
}

// FromLists builds a Config from name slices. The slices are copied.
func FromLists(blockUpstream bool, finalUpstream []string, blockDownstream bool, finalDownstream []string) *Config {
	return &Config{
		blockUpstream:   blockUpstream,
		blockDownstream: blockDownstream,
		finalUpstream:   clone(finalUpstream),
		finalDownstream: clone(finalDownstream),
	}
}

// Disabled returns the default configuration of a job: both toggles off and
// both lists empty.
func Disabled() *Config {
	return &Config{finalUpstream: []string{}, finalDownstream: []string{}}
}

// BlockUpstream reports whether the job blocks on transitive upstream jobs.
func (c *Config) BlockUpstream() bool { return c != nil && c.blockUpstream }

// BlockDownstream reports whether the job blocks on transitive downstream jobs.
func (c *Config) BlockDownstream() bool { return c != nil && c.blockDownstream }

// Enabled returns the toggle for dir.
func (c *Config) Enabled(dir graph.Direction) bool {
	if dir == graph.Upstream {
		return c.BlockUpstream()
	}
	return c.BlockDownstream()
}

// FinalUpstream returns a copy of the final upstream names. Never nil.
func (c *Config) FinalUpstream() []string {
	if c == nil {
		return []string{}
	}
	return clone(c.finalUpstream)
}

// FinalDownstream returns a copy of the final downstream names. Never nil.
func (c *Config) FinalDownstream() []string {
	if c == nil {
		return []string{}
	}
	return clone(c.finalDownstream)
}

// FinalNames returns the final names for dir.
func (c *Config) FinalNames(dir graph.Direction) []string {
	if dir == graph.Upstream {
		return c.FinalUpstream()
	}
	return c.FinalDownstream()
}

// FinalUpstreamString returns the final upstream names joined with ",".
func (c *Config) FinalUpstreamString() string { return JoinNames(c.FinalUpstream()) }

// FinalDownstreamString returns the final downstream names joined with ",".
func (c *Config) FinalDownstreamString() string { return JoinNames(c.FinalDownstream()) }

// WithRenamed returns a copy of c with every occurrence of oldName replaced by
// newName. Entries keep their positions.
func (c *Config) WithRenamed(oldName, newName string) *Config {
	return &Config{
		blockUpstream:   c.BlockUpstream(),
		blockDownstream: c.BlockDownstream(),
		finalUpstream:   renameIn(c.FinalUpstream(), oldName, newName),
		finalDownstream: renameIn(c.FinalDownstream(), oldName, newName),
	}
}

// WithDeleted returns a copy of c with every occurrence of name removed.
func (c *Config) WithDeleted(name string) *Config {
	return &Config{
		blockUpstream:   c.BlockUpstream(),
		blockDownstream: c.BlockDownstream(),
		finalUpstream:   deleteFrom(c.FinalUpstream(), name),
		finalDownstream: deleteFrom(c.FinalDownstream(), name),
	}
}

// Equal reports whether c and o hold the same toggles and lists in the same
// order. A nil Config equals Disabled().
func (c *Config) Equal(o *Config) bool {
	return c.BlockUpstream() == o.BlockUpstream() &&
		c.BlockDownstream() == o.BlockDownstream() &&
		slices.Equal(c.FinalUpstream(), o.FinalUpstream()) &&
		slices.Equal(c.FinalDownstream(), o.FinalDownstream())
}

var separator = regexp.MustCompile(`\s*,\s*`)

// ParseNames splits a comma-delimited list of job names.
func ParseNames(s string) []string {
	out := []string{}
	for _, name := range separator.Split(strings.TrimSpace(s), -1) {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// JoinNames is the inverse of ParseNames.
func JoinNames(names []string) string {
	return strings.Join(names, ",")
}

func renameIn(names []string, oldName, newName string) []string {
	for i, n := range names {
		if n == oldName {
			names[i] = newName
		}
	}
	return names
}

func deleteFrom(names []string, name string) []string {
	return slices.DeleteFunc(names, func(n string) bool { return n == name })
}

// clone copies names; a nil list becomes an empty one.
func clone(names []string) []string {
	if names == nil {
		return []string{}
	}
	return slices.Clone(names)
}
