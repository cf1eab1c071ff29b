package uuid

import (
	"testing"

	googleuuid "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIDsAreDistinctVersion7(t *testing.T) {
	t.Parallel()

	g := New()
	seen := make(map[string]struct{})
	for range 16 {
		id, err := g.NewID()
		require.NoError(t, err)
		parsed, err := googleuuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, googleuuid.Version(7), parsed.Version())
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 16)
}

func TestMustNewIDIsCanonical(t *testing.T) {
	t.Parallel()

	id := New().MustNewID()
	assert.Len(t, id, 36)
	_, err := googleuuid.Parse(id)
	assert.NoError(t, err)
}
