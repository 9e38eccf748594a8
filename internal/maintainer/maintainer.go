// Package maintainer keeps the final job names stored in pipeline configs
// in step with the job set. It rewrites every config when a job is renamed
// and strips a job's name from every other config when it is deleted.
package maintainer

import (
	"log/slog"
	"sync"

	"github.com/gyaneshwarpardhi/blockgate/internal/graph"
	"github.com/gyaneshwarpardhi/blockgate/internal/metrics"
	"github.com/gyaneshwarpardhi/blockgate/internal/pipeline"
)

// Store is the job registry as seen by the maintainer.
type Store interface {
	AllJobs() []graph.Job
	PipelineConfig(j graph.Job) *pipeline.Config
	// SwapPipelineConfig installs next only if old is still the job's
	// config, reporting whether it did.
	SwapPipelineConfig(j graph.Job, old, next *pipeline.Config) (bool, error)
}

// Notifier delivers job change events. Delete listeners must run while the
// deleted job is still registered; rename listeners after the rename.
type Notifier interface {
	OnDelete(fn func(graph.Job))
	OnRename(fn func(j graph.Job, oldName, newName string))
}

// Result summarises one rewrite pass.
type Result struct {
	Event   string
	Updated []string
	Failed  []string
}

// Maintainer rewrites pipeline configs after rename and delete events.
type Maintainer struct {
	store  Store
	logger *slog.Logger

	mu       sync.Mutex
	onChange []func(Result)
}

// New creates a Maintainer over store.
func New(store Store, logger *slog.Logger) *Maintainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{store: store, logger: logger}
}

// Subscribe registers the maintainer's handlers with n.
func (m *Maintainer) Subscribe(n Notifier) {
	n.OnRename(func(_ graph.Job, oldName, newName string) {
		m.OnRenamed(oldName, newName)
	})
	n.OnDelete(func(j graph.Job) { m.OnDeleted(j) })
}

// OnChange registers fn to run after every pass that rewrote at least one
// config.
func (m *Maintainer) OnChange(fn func(Result)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// OnRenamed replaces oldName with newName in every job's final lists.
// Positions are kept.
func (m *Maintainer) OnRenamed(oldName, newName string) Result {
	return m.rewrite("rename", nil, func(cfg *pipeline.Config) *pipeline.Config {
		return cfg.WithRenamed(oldName, newName)
	})
}

// OnDeleted removes the deleted job's name from every other job's final
// lists. The deleted job's own config is left alone.
func (m *Maintainer) OnDeleted(deleted graph.Job) Result {
	name := deleted.Name()
	return m.rewrite("delete", deleted, func(cfg *pipeline.Config) *pipeline.Config {
		return cfg.WithDeleted(name)
	})
}

// rewrite applies edit to every config except skip's. A failed replace is
// logged and the pass moves on. A config replaced by someone else between
// the read and the swap is re-read and edited again.
func (m *Maintainer) rewrite(event string, skip graph.Job, edit func(*pipeline.Config) *pipeline.Config) Result {
	res := Result{Event: event}
	for _, j := range m.store.AllJobs() {
		if skip != nil && j == skip {
			continue
		}
		changed, err := m.rewriteOne(j, edit)
		if err != nil {
			metrics.ConfigRewrites.WithLabelValues(event, "error").Inc()
			m.logger.Error("failed to update pipeline config",
				"event", event, "job", j.Name(), "err", err)
			res.Failed = append(res.Failed, j.Name())
			continue
		}
		if changed {
			metrics.ConfigRewrites.WithLabelValues(event, "ok").Inc()
			res.Updated = append(res.Updated, j.Name())
		}
	}

	if len(res.Updated) > 0 {
		m.logger.Info("pipeline configs rewritten", "event", event, "jobs", res.Updated)
		m.mu.Lock()
		callbacks := make([]func(Result), len(m.onChange))
		copy(callbacks, m.onChange)
		m.mu.Unlock()
		for _, fn := range callbacks {
			fn(res)
		}
	}
	return res
}

func (m *Maintainer) rewriteOne(j graph.Job, edit func(*pipeline.Config) *pipeline.Config) (bool, error) {
	for {
		cfg := m.store.PipelineConfig(j)
		if cfg == nil {
			return false, nil
		}
		next := edit(cfg)
		if next.Equal(cfg) {
			return false, nil
		}
		swapped, err := m.store.SwapPipelineConfig(j, cfg, next)
		if err != nil {
			return false, err
		}
		if swapped {
			return true, nil
		}
		m.logger.Debug("pipeline config changed during rewrite, retrying", "job", j.Name())
	}
}
