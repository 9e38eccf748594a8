// Package gate decides whether a queued job may start. A job that opted in
// is held back while any job in its configured upstream or downstream slice
// is building or queued and unblocked.
package gate

import (
	"log/slog"

	"github.com/gyaneshwarpardhi/blockgate/internal/graph"
	"github.com/gyaneshwarpardhi/blockgate/internal/metrics"
	"github.com/gyaneshwarpardhi/blockgate/internal/pipeline"
)

// Source is everything the gate reads from the host.
type Source interface {
	graph.Provider
	// PipelineConfig returns the job's config, or nil if it has none.
	PipelineConfig(j graph.Job) *pipeline.Config
	// NativeBlocking reports whether the host scheduler's own
	// same-direction blocking is enabled on j.
	NativeBlocking(j graph.Job, dir graph.Direction) bool
}

// Gate evaluates admission checks. It holds no per-check state and is safe
// for concurrent use.
type Gate struct {
	src    Source
	logger *slog.Logger
}

// New creates a Gate reading from src.
func New(src Source, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{src: src, logger: logger}
}

// CanRun is the scheduler hook. A nil result means the gate has no objection.
func (g *Gate) CanRun(candidate graph.Job) *Blockage {
	metrics.AdmissionChecks.Inc()
	b := g.CheckAll(candidate)
	if b != nil {
		metrics.Blockages.WithLabelValues(b.Direction.String()).Inc()
	}
	return b
}

// CheckAll checks upstream first, then downstream, and returns the first
// blockage found.
func (g *Gate) CheckAll(candidate graph.Job) *Blockage {
	if b := g.CheckDirection(candidate, graph.Upstream); b != nil {
		return b
	}
	return g.CheckDirection(candidate, graph.Downstream)
}

// CheckDirection reports whether a job reachable from candidate in dir is
// building or queued and unblocked. No traversal happens unless the
// candidate enabled blocking for dir.
func (g *Gate) CheckDirection(candidate graph.Job, dir graph.Direction) *Blockage {
	cfg := g.src.PipelineConfig(candidate)
	if cfg == nil || !cfg.Enabled(dir) {
		return nil
	}
	g.adviseIfRedundant(candidate, dir)

	live := g.src.LiveBuildingOrQueued()
	if live == nil {
		metrics.LiveSetUnavailable.Inc()
		g.logger.Error("live building set unavailable, checking without it",
			"job", candidate.Name(), "direction", dir.String())
		live = graph.Set{}
	}

	reachable := graph.Transitive(g.src, candidate, dir, cfg.FinalNames(dir))
	metrics.ReachableJobs.WithLabelValues(dir.String()).Observe(float64(len(reachable)))

	for _, j := range reachable {
		if j == candidate {
			continue
		}
		if g.src.IsBuilding(j) || live.Contains(j) {
			g.logger.Debug("blocking job",
				"job", candidate.Name(),
				"direction", dir.String(),
				"blocked_by", j.Name())
			return &Blockage{Direction: dir, Job: j}
		}
	}
	return nil
}

// adviseIfRedundant logs a notice when the host's native blocking for dir is
// also on. The two overlap, so this is usually a configuration mistake.
func (g *Gate) adviseIfRedundant(candidate graph.Job, dir graph.Direction) {
	if !g.src.NativeBlocking(candidate, dir) {
		return
	}
	g.logger.Info("job has both native and final-job blocking enabled",
		"job", candidate.Name(), "direction", dir.String())
}

// Advisories returns the warnings for saving cfg on job: one per direction
// where cfg enables blocking and the host's native blocking is already on.
func Advisories(src Source, job graph.Job, cfg *pipeline.Config) []string {
	var out []string
	for _, dir := range []graph.Direction{graph.Upstream, graph.Downstream} {
		if cfg.Enabled(dir) && src.NativeBlocking(job, dir) {
			out = append(out, "Both native '"+nativeLabel(dir)+"' and final-job "+dir.String()+
				" blocking are enabled. These options may conflict with each other.")
		}
	}
	return out
}

func nativeLabel(dir graph.Direction) string {
	return "block build when " + dir.String() + " project is building"
}
