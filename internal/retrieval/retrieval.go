// Package retrieval implements the knowledge-base lookups the Information
// flow relies on, grounded on
// original_source/hlas/src/hlas/flows/info_flow.py (hybrid vector+keyword
// search with a BM25-only fallback) and
// original_source/hlas/src/hlas/tools/benefits_tool.py (a filter-only
// benefits fetch, no vector search involved).
package retrieval

import "context"

// Chunk is one retrieved unit of knowledge base content.
type Chunk struct {
	ID          string
	Content     string
	ProductName string
	DocType     string
	SourceFile  string
}

// Embedder converts text into embedding vectors. Mirrors the teacher's
// internal/rag/embedder.Embedder contract.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
	Ping(ctx context.Context) error
}

// VectorResult is a single nearest-neighbor hit.
type VectorResult struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// VectorStore is the minimum interface a pluggable dense vector backend
// must satisfy. Mirrors the teacher's
// internal/persistence/databases.VectorStore contract exactly.
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	Delete(ctx context.Context, id string) error
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error)
}

// LexicalResult is a single full-text search hit.
type LexicalResult struct {
	ID       string
	Score    float64
	Snippet  string
	Metadata map[string]string
}

// LexicalSearch is the minimum interface a pluggable full-text backend
// must satisfy. Mirrors the teacher's
// internal/persistence/databases.FullTextSearch contract.
type LexicalSearch interface {
	Index(ctx context.Context, id string, text string, metadata map[string]string) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int, filter map[string]string) ([]LexicalResult, error)
}

// BenefitsFetcher retrieves every "benefits" doc_type chunk for a product,
// with no vector or keyword ranking involved. Grounded on benefits_tool.py,
// which is a pure Filter.by_property fetch_objects call (limit 500).
type BenefitsFetcher interface {
	FetchBenefits(ctx context.Context, productName string) ([]Chunk, error)
}
