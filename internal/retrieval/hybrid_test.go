package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func seedTravelDocs(t *testing.T, content, questions VectorStore, lexical LexicalSearch, embedder Embedder) {
	t.Helper()
	ctx := context.Background()
	docs := []struct {
		id, text, docType string
	}{
		{"travel-1", "Travel Gold covers trip cancellation up to S$5000 and medical evacuation.", "benefits"},
		{"travel-2", "Claims for travel insurance must be filed within 30 days of the incident.", "faq"},
	}
	for _, d := range docs {
		vecs, err := embedder.EmbedBatch(ctx, []string{d.text})
		require.NoError(t, err)
		md := map[string]string{"content": d.text, "product_name": "Travel", "doc_type": d.docType, "source_file": d.id + ".md"}
		require.NoError(t, content.Upsert(ctx, d.id, vecs[0], md))
		require.NoError(t, questions.Upsert(ctx, d.id, vecs[0], md))
		require.NoError(t, lexical.Index(ctx, d.id, d.text, md))
	}
}

func TestHybridSearchFindsSeededChunk(t *testing.T) {
	ctx := context.Background()
	embedder := DeterministicEmbedder{Dim: 32}
	content := NewMemoryVectorStore()
	questions := NewMemoryVectorStore()
	lexical := NewMemoryLexicalStore()
	seedTravelDocs(t, content, questions, lexical, embedder)

	store := NewHybridStore(embedder, content, questions, lexical)
	chunks, method, err := store.Search(ctx, "trip cancellation medical evacuation", "Travel")
	require.NoError(t, err)
	require.Equal(t, "hybrid", method)
	require.NotEmpty(t, chunks)
}

func TestHybridSearchFallsBackToLexicalOnlyWhenVectorStoresEmpty(t *testing.T) {
	ctx := context.Background()
	embedder := DeterministicEmbedder{Dim: 32}
	lexical := NewMemoryLexicalStore()
	require.NoError(t, lexical.Index(ctx, "travel-1", "Travel Gold covers trip cancellation.", map[string]string{
		"content": "Travel Gold covers trip cancellation.", "product_name": "Travel", "doc_type": "benefits",
	}))

	store := NewHybridStore(embedder, NewMemoryVectorStore(), NewMemoryVectorStore(), lexical)
	chunks, method, err := store.Search(ctx, "trip cancellation", "Travel")
	require.NoError(t, err)
	require.Equal(t, "bm25", method)
	require.Len(t, chunks, 1)
}

func TestHybridSearchReturnsEmptyWhenNothingMatches(t *testing.T) {
	store := NewHybridStore(DeterministicEmbedder{Dim: 32}, NewMemoryVectorStore(), NewMemoryVectorStore(), NewMemoryLexicalStore())
	chunks, method, err := store.Search(context.Background(), "anything", "Travel")
	require.NoError(t, err)
	require.Empty(t, method)
	require.Empty(t, chunks)
}

func TestBuildContextJoinsSourceBlocksWithSeparator(t *testing.T) {
	chunks := []Chunk{
		{Content: "first chunk", DocType: "benefits"},
		{Content: "second chunk", DocType: "faq"},
	}
	got := BuildContext(chunks)
	require.Equal(t, "Source (Type: benefits): first chunk\n---\nSource (Type: faq): second chunk", got)
}

func TestSourcesDedupesAndDropsEmpty(t *testing.T) {
	chunks := []Chunk{
		{SourceFile: "a.md"},
		{SourceFile: ""},
		{SourceFile: "a.md"},
		{SourceFile: "b.md"},
	}
	require.Equal(t, []string{"a.md", "b.md"}, Sources(chunks))
}

func TestMemoryLexicalStoreFetchBenefitsFiltersByProductAndDocType(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLexicalStore()
	fetcher := store.(BenefitsFetcher)

	require.NoError(t, store.Index(ctx, "travel-benefit", "covers cancellation", map[string]string{
		"product_name": "Travel", "doc_type": "benefits",
	}))
	require.NoError(t, store.Index(ctx, "travel-faq", "claims must be filed", map[string]string{
		"product_name": "Travel", "doc_type": "faq",
	}))
	require.NoError(t, store.Index(ctx, "maid-benefit", "covers medical", map[string]string{
		"product_name": "Maid", "doc_type": "benefits",
	}))

	chunks, err := fetcher.FetchBenefits(ctx, "Travel")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, "travel-benefit", chunks[0].ID)
}
