package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutObjectReturnsURIAndCopies(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	data := []byte("png-bytes")
	uri, err := store.PutObject(context.Background(), "challenges/t1/e1.png", "image/png", data)
	require.NoError(t, err)
	assert.Equal(t, "memory://challenges/t1/e1.png", uri)

	// Mutating the caller's slice must not change the stored copy.
	data[0] = 'x'
	stored, ok := store.Get("challenges/t1/e1.png")
	require.True(t, ok)
	assert.Equal(t, []byte("png-bytes"), stored)

	_, ok = store.Get("missing")
	assert.False(t, ok)
}
