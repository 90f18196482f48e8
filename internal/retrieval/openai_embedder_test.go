package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAIEmbedderNameAndDimension(t *testing.T) {
	e := NewOpenAIEmbedder("test-key", "", "text-embedding-3-small", 1536, nil)
	require.Equal(t, "text-embedding-3-small", e.Name())
	require.Equal(t, 1536, e.Dimension())
}

func TestOpenAIEmbedderEmbedBatchEmptyInputSkipsNetwork(t *testing.T) {
	e := NewOpenAIEmbedder("test-key", "", "text-embedding-3-small", 1536, nil)
	vecs, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vecs)
}
