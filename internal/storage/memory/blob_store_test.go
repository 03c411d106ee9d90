package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"domain":"example.com"}`)
	uri, err := store.PutObject(context.Background(), "results/example.com/1.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://results/example.com/1.json", uri)

	payload[0] = 'X'
	stored, contentType, ok := store.Object("results/example.com/1.json")
	require.True(t, ok)
	require.Equal(t, `{"domain":"example.com"}`, string(stored))
	require.Equal(t, "application/json", contentType)
	require.Equal(t, []string{"results/example.com/1.json"}, store.Paths())
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	require.Error(t, err)
}
