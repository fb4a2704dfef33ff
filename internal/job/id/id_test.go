package id

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	id := Generate()

	require.True(t, strings.HasPrefix(id, "job-"))
	parsed, err := uuid.Parse(strings.TrimPrefix(id, "job-"))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	assert.NotEqual(t, id, Generate())
}

func TestGenerate_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate()
		assert.False(t, seen[id], "duplicate ID generated: %s", id)
		seen[id] = true
	}
}
