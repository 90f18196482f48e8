package retrieval

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// hybridVectorLimit and bm25FallbackLimit mirror info_flow.py's
// collection.query.hybrid(limit=10) / collection.query.bm25(limit=5).
const (
	hybridVectorLimit = 10
	bm25FallbackLimit = 5
	hybridAlpha       = 0.7
)

// HybridStore runs the Information flow's retrieval contract: a dense
// hybrid search (content_vector and questions_vector averaged, blended
// with a keyword score at alpha=0.7) falling back to a keyword-only search
// when the dense path returns nothing.
type HybridStore struct {
	embedder  Embedder
	content   VectorStore
	questions VectorStore
	lexical   LexicalSearch
}

// NewHybridStore wires the three retrieval backends together.
func NewHybridStore(embedder Embedder, content, questions VectorStore, lexical LexicalSearch) *HybridStore {
	return &HybridStore{embedder: embedder, content: content, questions: questions, lexical: lexical}
}

// Search returns the ranked chunks for query scoped to productName, and
// reports which search method actually produced them ("hybrid", "bm25",
// or "" when nothing was found). Chunks beyond the vector/keyword result
// set carry no content; callers should treat an empty slice as "ask for
// clarification", matching info_flow.py's final fallback branch.
func (h *HybridStore) Search(ctx context.Context, query, productName string) ([]Chunk, string, error) {
	filter := map[string]string{"product_name": productName}

	chunks, err := h.hybridSearch(ctx, query, filter)
	if err != nil {
		return nil, "", fmt.Errorf("retrieval: hybrid search: %w", err)
	}
	if len(chunks) > 0 {
		return chunks, "hybrid", nil
	}

	chunks, err = h.bm25Search(ctx, query, filter)
	if err != nil {
		return nil, "", fmt.Errorf("retrieval: bm25 fallback: %w", err)
	}
	if len(chunks) > 0 {
		return chunks, "bm25", nil
	}
	return nil, "", nil
}

func (h *HybridStore) hybridSearch(ctx context.Context, query string, filter map[string]string) ([]Chunk, error) {
	vectors, err := h.embedder.EmbedBatch(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		return nil, nil // info_flow.py treats an embedding failure as "fall straight to BM25", not an error
	}
	vec := vectors[0]

	// content, questions, and lexical are independent lookups against three
	// different backends; fan them out instead of paying their latencies
	// serially.
	var contentHits, questionHits []VectorResult
	var lexicalHits []LexicalResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := h.content.SimilaritySearch(gctx, vec, hybridVectorLimit, filter)
		contentHits = hits
		return err
	})
	g.Go(func() error {
		hits, err := h.questions.SimilaritySearch(gctx, vec, hybridVectorLimit, filter)
		questionHits = hits
		return err
	})
	if h.lexical != nil {
		g.Go(func() error {
			hits, err := h.lexical.Search(gctx, query, hybridVectorLimit, filter)
			lexicalHits = hits
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(contentHits) == 0 && len(questionHits) == 0 {
		return nil, nil // no dense hits: Search falls back to the keyword-only path
	}

	vectorScore := averageScores(contentHits, questionHits)
	lexicalScore := normalizeLexicalScores(lexicalHits)

	combined := make(map[string]float64, len(vectorScore))
	metadata := make(map[string]map[string]string, len(vectorScore))
	for id, score := range vectorScore {
		combined[id] += hybridAlpha * score
	}
	for id, score := range lexicalScore {
		combined[id] += (1 - hybridAlpha) * score
	}
	for _, hit := range contentHits {
		metadata[hit.ID] = hit.Metadata
	}
	for _, hit := range questionHits {
		if _, ok := metadata[hit.ID]; !ok {
			metadata[hit.ID] = hit.Metadata
		}
	}
	for _, hit := range lexicalHits {
		if _, ok := metadata[hit.ID]; !ok {
			metadata[hit.ID] = hit.Metadata
		}
	}

	if len(combined) == 0 {
		return nil, nil
	}
	return rankChunks(combined, metadata, hybridVectorLimit), nil
}

func (h *HybridStore) bm25Search(ctx context.Context, query string, filter map[string]string) ([]Chunk, error) {
	if h.lexical == nil {
		return nil, nil
	}
	hits, err := h.lexical.Search(ctx, query, bm25FallbackLimit, filter)
	if err != nil {
		return nil, err
	}
	out := make([]Chunk, 0, len(hits))
	for _, hit := range hits {
		out = append(out, chunkFromMetadata(hit.ID, hit.Metadata))
	}
	return out, nil
}

func averageScores(a, b []VectorResult) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, hit := range a {
		sums[hit.ID] += hit.Score
		counts[hit.ID]++
	}
	for _, hit := range b {
		sums[hit.ID] += hit.Score
		counts[hit.ID]++
	}
	out := make(map[string]float64, len(sums))
	for id, sum := range sums {
		out[id] = sum / float64(counts[id])
	}
	return out
}

// normalizeLexicalScores rescales ts_rank scores (unbounded, usually small)
// into [0, 1] by dividing by the top score, so the alpha blend with cosine
// similarity (already bounded [0, 1]) is meaningful.
func normalizeLexicalScores(hits []LexicalResult) map[string]float64 {
	if len(hits) == 0 {
		return nil
	}
	max := hits[0].Score
	for _, hit := range hits {
		if hit.Score > max {
			max = hit.Score
		}
	}
	out := make(map[string]float64, len(hits))
	for _, hit := range hits {
		if max > 0 {
			out[hit.ID] = hit.Score / max
		} else {
			out[hit.ID] = 0
		}
	}
	return out
}

func rankChunks(scores map[string]float64, metadata map[string]map[string]string, limit int) []Chunk {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return scores[ids[i]] > scores[ids[j]] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]Chunk, 0, len(ids))
	for _, id := range ids {
		out = append(out, chunkFromMetadata(id, metadata[id]))
	}
	return out
}

func chunkFromMetadata(id string, md map[string]string) Chunk {
	return Chunk{
		ID:          id,
		Content:     md["content"],
		ProductName: md["product_name"],
		DocType:     md["doc_type"],
		SourceFile:  md["source_file"],
	}
}

// BuildContext joins chunks into the "[Source (Type: X): content]"
// block info_flow.py feeds the synthesis LLM call, in retrieval order.
func BuildContext(chunks []Chunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, fmt.Sprintf("Source (Type: %s): %s", c.DocType, c.Content))
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n---\n"
		}
		out += p
	}
	return out
}

// Sources collects the distinct, non-empty source_file values from chunks,
// in retrieval order, matching info_flow.py's state.sources join.
func Sources(chunks []Chunk) []string {
	seen := make(map[string]bool, len(chunks))
	var out []string
	for _, c := range chunks {
		if c.SourceFile == "" || seen[c.SourceFile] {
			continue
		}
		seen[c.SourceFile] = true
		out = append(out, c.SourceFile)
	}
	return out
}
