package gate

import (
	"encoding/json"
	"strings"

	"github.com/gyaneshwarpardhi/blockgate/internal/graph"
)

// Blockage is the reason a job must wait: a job reachable in Direction is
// building or about to. A nil *Blockage means no blockage.
type Blockage struct {
	Direction graph.Direction
	Job       graph.Job
}

// Description is the short text shown in the scheduler's queue view.
func (b *Blockage) Description() string {
	if b == nil {
		return ""
	}
	dir := b.Direction.String()
	return strings.ToUpper(dir[:1]) + dir[1:] + " project " + b.Job.Name() + " is already building."
}

func (b *Blockage) String() string { return b.Description() }

// MarshalJSON renders the blockage for the API.
func (b *Blockage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Direction   string `json:"direction"`
		Job         string `json:"job"`
		Description string `json:"description"`
	}{b.Direction.String(), b.Job.Name(), b.Description()})
}
