// Package names completes and checks job names typed into a final job list.
package names

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/blockgate/internal/pipeline"
)

// ErrInvalidJob is returned by Check for a name that does not exist.
var ErrInvalidJob = errors.New("invalid job")

// Complete returns the candidates starting with prefix, ignoring case, in
// input order. An empty prefix matches everything.
func Complete(prefix string, candidates []string) []string {
	p := strings.ToLower(prefix)
	out := []string{}
	for _, c := range candidates {
		if strings.HasPrefix(strings.ToLower(c), p) {
			out = append(out, c)
		}
	}
	return out
}

// Check parses a comma-delimited list and reports the first name for which
// exists returns false.
func Check(input string, exists func(string) bool) error {
	for _, name := range pipeline.ParseNames(input) {
		if !exists(name) {
			return fmt.Errorf("%w: %s | %s", ErrInvalidJob, name, input)
		}
	}
	return nil
}
