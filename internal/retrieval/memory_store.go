package retrieval

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
)

// memoryVectorStore is an in-memory VectorStore for tests, grounded on the
// teacher's internal/persistence/databases/memory_vector.go (brute-force
// cosine similarity scan, no external dependency).
type memoryVectorStore struct {
	vectors map[string][]float32
	meta    map[string]map[string]string
}

// NewMemoryVectorStore returns an in-process VectorStore suitable for
// tests and local development without a Qdrant instance.
func NewMemoryVectorStore() VectorStore {
	return &memoryVectorStore{vectors: make(map[string][]float32), meta: make(map[string]map[string]string)}
}

func (m *memoryVectorStore) Upsert(_ context.Context, id string, vector []float32, metadata map[string]string) error {
	cp := make([]float32, len(vector))
	copy(cp, vector)
	m.vectors[id] = cp
	m.meta[id] = metadata
	return nil
}

func (m *memoryVectorStore) Delete(_ context.Context, id string) error {
	delete(m.vectors, id)
	delete(m.meta, id)
	return nil
}

func (m *memoryVectorStore) SimilaritySearch(_ context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	var out []VectorResult
	for id, v := range m.vectors {
		md := m.meta[id]
		if !matchesFilter(md, filter) {
			continue
		}
		out = append(out, VectorResult{ID: id, Score: cosine(vector, v), Metadata: md})
	}
	sortByScoreDesc(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func matchesFilter(md, filter map[string]string) bool {
	for k, v := range filter {
		if md[k] != v {
			return false
		}
	}
	return true
}

func sortByScoreDesc(results []VectorResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// memoryLexicalStore is an in-memory LexicalSearch for tests: whole-word
// matching scored by the fraction of query terms found in the text, not a
// tsvector rank, but enough to
// exercise the hybrid/BM25-fallback control flow deterministically.
type memoryLexicalStore struct {
	docs map[string]string
	meta map[string]map[string]string
}

// NewMemoryLexicalStore returns an in-process LexicalSearch for tests.
func NewMemoryLexicalStore() LexicalSearch {
	return &memoryLexicalStore{docs: make(map[string]string), meta: make(map[string]map[string]string)}
}

func (m *memoryLexicalStore) Index(_ context.Context, id, text string, metadata map[string]string) error {
	m.docs[id] = text
	m.meta[id] = metadata
	return nil
}

func (m *memoryLexicalStore) Remove(_ context.Context, id string) error {
	delete(m.docs, id)
	delete(m.meta, id)
	return nil
}

func (m *memoryLexicalStore) Search(_ context.Context, query string, limit int, filter map[string]string) ([]LexicalResult, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []LexicalResult
	for id, text := range m.docs {
		md := m.meta[id]
		if !matchesFilter(md, filter) {
			continue
		}
		score := termOverlap(query, text)
		if score == 0 {
			continue
		}
		out = append(out, LexicalResult{ID: id, Score: score, Snippet: snippet(text, 160), Metadata: md})
	}
	sortLexicalByScoreDesc(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortLexicalByScoreDesc(results []LexicalResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func snippet(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return text[:max]
}

// termOverlap is a crude bag-of-words hash-overlap score used only by the
// in-memory test double.
func termOverlap(query, text string) float64 {
	qTerms := tokenize(query)
	if len(qTerms) == 0 {
		return 0
	}
	textTerms := make(map[uint64]bool)
	for t := range tokenize(text) {
		textTerms[t] = true
	}
	hits := 0
	for t := range qTerms {
		if textTerms[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(qTerms))
}

func tokenize(s string) map[uint64]bool {
	out := make(map[uint64]bool)
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(toLowerASCII(s[start:end])))
		out[h.Sum64()] = true
		start = -1
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		isWord := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if isWord && start < 0 {
			start = i
		} else if !isWord {
			flush(i)
		}
	}
	flush(len(s))
	return out
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// FetchBenefits implements BenefitsFetcher for tests: every indexed
// document whose metadata matches product_name/doc_type=="benefits",
// sorted by ID for determinism.
func (m *memoryLexicalStore) FetchBenefits(_ context.Context, productName string) ([]Chunk, error) {
	var ids []string
	for id, md := range m.meta {
		if md["product_name"] == productName && md["doc_type"] == "benefits" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]Chunk, 0, len(ids))
	for _, id := range ids {
		md := m.meta[id]
		out = append(out, Chunk{ID: id, Content: m.docs[id], ProductName: md["product_name"], DocType: md["doc_type"], SourceFile: md["source_file"]})
	}
	return out, nil
}

// DeterministicEmbedder is a hash-based Embedder for tests, grounded on
// the teacher's internal/rag/embedder.deterministicEmbedder (3-gram byte
// hashing, optional L2 normalization).
type DeterministicEmbedder struct {
	Dim int
}

func (d DeterministicEmbedder) Name() string   { return "deterministic" }
func (d DeterministicEmbedder) Dimension() int { return d.Dim }
func (d DeterministicEmbedder) Ping(context.Context) error { return nil }

func (d DeterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d DeterministicEmbedder) embedOne(s string) []float32 {
	dim := d.Dim
	if dim <= 0 {
		dim = 32
	}
	v := make([]float32, dim)
	b := []byte(s)
	if len(b) < 3 {
		hashInto(b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			hashInto(b[i:i+3], v)
		}
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		inv := float32(1.0 / math.Sqrt(sum))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func hashInto(gram []byte, v []float32) {
	h := fnv.New64a()
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
