package names

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobs = []string{"cool-build", "Cool-Test", "other-project"}

func TestComplete(t *testing.T) {
	tests := []struct {
		prefix string
		want   []string
	}{
		{"cool", []string{"cool-build", "Cool-Test"}},
		{"COOL-T", []string{"Cool-Test"}},
		{"hello", []string{}},
		{"", jobs},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			assert.Equal(t, tt.want, Complete(tt.prefix, jobs))
		})
	}
	assert.Empty(t, Complete("x", nil))
}

func TestCheck(t *testing.T) {
	known := map[string]bool{"search-one": true, "search-two": true, "search-three": true}
	exists := func(n string) bool { return known[n] }

	require.NoError(t, Check("  search-one  , search-two, search-three,", exists))
	require.NoError(t, Check("", exists))

	err := Check("search-one, invalid-project, also-bad", exists)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidJob)
	assert.Equal(t, "invalid job: invalid-project | search-one, invalid-project, also-bad", err.Error())
}
