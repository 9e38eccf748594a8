package config

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/blockgate/internal/pipeline"
)

// Validate checks the catalog for:
//   - Missing version and job names
//   - Duplicate job names
//   - Trigger edges to unknown jobs or to the job itself
//   - Final job names that do not name a catalog job
func Validate(cat *Catalog) error {
	if cat.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	names := make(map[string]int, len(cat.Jobs)) // name → index
	var errs []string

	for i, j := range cat.Jobs {
		if strings.TrimSpace(j.Name) == "" {
			errs = append(errs, fmt.Sprintf("jobs[%d]: name is required", i))
			continue
		}
		if strings.Contains(j.Name, ",") {
			errs = append(errs, fmt.Sprintf("job %s: name must not contain a comma", j.Name))
		}
		if prev, ok := names[j.Name]; ok {
			errs = append(errs, fmt.Sprintf("duplicate job %q (jobs[%d] and jobs[%d])", j.Name, prev, i))
			continue
		}
		names[j.Name] = i
	}

	for _, j := range cat.Jobs {
		for _, d := range j.Downstream {
			switch {
			case d == j.Name:
				errs = append(errs, fmt.Sprintf("job %s: triggers itself", j.Name))
			case !known(names, d):
				errs = append(errs, fmt.Sprintf("job %s: downstream job %q does not exist", j.Name, d))
			}
		}
		if j.Pipeline == nil {
			continue
		}
		for _, f := range pipeline.ParseNames(j.Pipeline.FinalUpstream) {
			if !known(names, f) {
				errs = append(errs, fmt.Sprintf("job %s: final upstream job %q does not exist", j.Name, f))
			}
		}
		for _, f := range pipeline.ParseNames(j.Pipeline.FinalDownstream) {
			if !known(names, f) {
				errs = append(errs, fmt.Sprintf("job %s: final downstream job %q does not exist", j.Name, f))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func known(names map[string]int, name string) bool {
	_, ok := names[name]
	return ok
}
