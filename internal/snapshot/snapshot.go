// Package snapshot persists operator-edited pipeline configs between
// restarts. Configs that come from the catalog are not stored.
//
// The file is a single CBOR document in core deterministic encoding, so an
// unchanged set of configs always produces identical bytes. Records are
// keyed by job name and sorted by it.
package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/gyaneshwarpardhi/blockgate/internal/graph"
	"github.com/gyaneshwarpardhi/blockgate/internal/pipeline"
)

const formatVersion = 1

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
}

// Record is the stored form of one job's pipeline config.
type Record struct {
	Job             string   `cbor:"1,keyasint"`
	BlockUpstream   bool     `cbor:"2,keyasint"`
	FinalUpstream   []string `cbor:"3,keyasint"`
	BlockDownstream bool     `cbor:"4,keyasint"`
	FinalDownstream []string `cbor:"5,keyasint"`
}

// Config converts the record back to a pipeline config.
func (r Record) Config() *pipeline.Config {
	return pipeline.FromLists(r.BlockUpstream, r.FinalUpstream, r.BlockDownstream, r.FinalDownstream)
}

type document struct {
	Version int      `cbor:"1,keyasint"`
	Records []Record `cbor:"2,keyasint"`
}

// Store is the registry as seen by Capture and Apply.
type Store interface {
	AllJobs() []graph.Job
	PipelineConfig(j graph.Job) *pipeline.Config
	PipelineOverridden(j graph.Job) bool
	ReplacePipelineConfig(j graph.Job, cfg *pipeline.Config) error
}

// File is a snapshot file on disk.
type File struct {
	path string
}

// NewFile returns a File at path. Nothing is read or written yet.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Save replaces the file with records. The write goes through a temporary
// file in the same directory and a rename.
func (f *File) Save(records []Record) error {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, k int) bool { return sorted[i].Job < sorted[k].Job })

	data, err := encMode.Marshal(document{Version: formatVersion, Records: sorted})
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "snapshot-*.cbor")
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("renaming snapshot to %s: %w", f.path, err)
	}
	success = true
	return nil
}

// Load reads the file. A missing file yields no records and no error.
func (f *File) Load() ([]Record, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var doc document
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", f.path, err)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("snapshot %s: unsupported version %d", f.path, doc.Version)
	}
	return doc.Records, nil
}

// Capture returns a record for every job whose config is an operator edit.
func Capture(s Store) []Record {
	var out []Record
	for _, j := range s.AllJobs() {
		cfg := s.PipelineConfig(j)
		if cfg == nil || !s.PipelineOverridden(j) {
			continue
		}
		out = append(out, Record{
			Job:             j.Name(),
			BlockUpstream:   cfg.BlockUpstream(),
			FinalUpstream:   cfg.FinalUpstream(),
			BlockDownstream: cfg.BlockDownstream(),
			FinalDownstream: cfg.FinalDownstream(),
		})
	}
	return out
}

// Apply installs each record's config on the job of the same name as an
// operator edit. Records for unknown jobs are returned as skipped.
func Apply(s Store, records []Record) (skipped []string, err error) {
	byName := make(map[string]graph.Job)
	for _, j := range s.AllJobs() {
		byName[j.Name()] = j
	}
	for _, r := range records {
		j, ok := byName[r.Job]
		if !ok {
			skipped = append(skipped, r.Job)
			continue
		}
		if err := s.ReplacePipelineConfig(j, r.Config()); err != nil {
			return skipped, fmt.Errorf("apply snapshot for %q: %w", r.Job, err)
		}
	}
	return skipped, nil
}
