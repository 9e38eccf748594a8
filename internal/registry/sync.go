package registry

import (
	"fmt"
	"slices"

	"github.com/gyaneshwarpardhi/blockgate/internal/config"
	"github.com/gyaneshwarpardhi/blockgate/internal/pipeline"
)

// SpecFromDef converts a catalog job definition to a registration spec.
func SpecFromDef(def config.JobDef) Spec {
	spec := Spec{
		Name:             def.Name,
		NativeUpstream:   def.BlockWhenUpstreamBuilding,
		NativeDownstream: def.BlockWhenDownstreamBuilding,
	}
	if p := def.Pipeline; p != nil {
		spec.Pipeline = pipeline.New(p.BlockUpstream, p.FinalUpstream, p.BlockDownstream, p.FinalDownstream)
	}
	return spec
}

// Sync makes the registry match cat. Jobs missing from the catalog are
// deleted through Delete, so delete listeners run. Surviving jobs keep
// their identity and scheduler state. Their native options are taken from
// the catalog, and so is their pipeline config unless an operator edit
// overrides it. Trigger edges are rebuilt and swapped in as a whole.
func (r *Registry) Sync(cat *config.Catalog) error {
	want := make(map[string]config.JobDef, len(cat.Jobs))
	for _, def := range cat.Jobs {
		want[def.Name] = def
	}

	for _, name := range r.Names() {
		if _, ok := want[name]; ok {
			continue
		}
		if err := r.Delete(name); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
	}

	for _, def := range cat.Jobs {
		spec := SpecFromDef(def)
		j, ok := r.Lookup(def.Name)
		if !ok {
			if _, err := r.Add(spec); err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			continue
		}
		j.setNative(spec.NativeUpstream, spec.NativeDownstream)
		if !j.PipelineOverridden() {
			j.pipeline.Store(spec.Pipeline)
		}
	}

	if err := r.replaceEdges(cat.Jobs); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	r.logger.Info("registry synced", "version", cat.Version, "jobs", len(cat.Jobs))
	return nil
}

// replaceEdges swaps in the trigger edges declared by defs under a single
// lock, so readers never see a partially built graph.
func (r *Registry) replaceEdges(defs []config.JobDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	downstream := make(map[*Job][]*Job, len(defs))
	upstream := make(map[*Job][]*Job, len(defs))
	for _, def := range defs {
		from, ok := r.byName[def.Name]
		if !ok {
			return fmt.Errorf("connect %s: %q: %w", def.Name, def.Name, ErrUnknownJob)
		}
		for _, d := range def.Downstream {
			to, ok := r.byName[d]
			if !ok {
				return fmt.Errorf("connect %s -> %s: %q: %w", def.Name, d, d, ErrUnknownJob)
			}
			if slices.Contains(downstream[from], to) {
				continue
			}
			downstream[from] = append(downstream[from], to)
			upstream[to] = append(upstream[to], from)
		}
	}
	r.downstream, r.upstream = downstream, upstream
	return nil
}
