package retrieval

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField stores the caller-supplied chunk ID in the point payload,
// since Qdrant only accepts UUIDs or unsigned integers as point IDs.
const payloadIDField = "_original_id"

// qdrantStore is a single-vector-space Qdrant-backed VectorStore.
// info_flow.py queries two named vector spaces (content_vector,
// questions_vector) and averages their scores; rather than depend on the
// client's named-vector/prefetch surface (unverified against the vendored
// client version), two qdrantStore collections are built — one per vector
// space — and their scores are averaged client-side in HybridStore.
type qdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// newQdrantStore connects to dsn (host:port, gRPC) and ensures collection
// exists with the given dimension/cosine distance, following the teacher's
// internal/persistence/databases/qdrant_vector.go ensureCollection shape.
func newQdrantStore(dsn, collection string, dimension int) (*qdrantStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("retrieval: collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("retrieval: parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("retrieval: invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("retrieval: create qdrant client: %w", err)
	}
	s := &qdrantStore{client: client, collection: collection, dimension: dimension}
	if err := s.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("retrieval: ensure collection %s: %w", collection, err)
	}
	return s, nil
}

func (s *qdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if s.dimension <= 0 {
		return fmt.Errorf("retrieval: vector dimension must be > 0")
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func pointID(id string) (string, bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

func (s *qdrantStore) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	uuidStr, remapped := pointID(id)
	payload := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		payload[k] = v
	}
	if remapped {
		payload[payloadIDField] = id
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

func (s *qdrantStore) Delete(ctx context.Context, id string) error {
	uuidStr, _ := pointID(id)
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(uuidStr)),
	})
	return err
}

func (s *qdrantStore) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	var queryFilter *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for field, value := range filter {
			must = append(must, qdrant.NewMatch(field, value))
		}
		queryFilter = &qdrant.Filter{Must: must}
	}

	limit := uint64(k)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         queryFilter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	out := make([]VectorResult, 0, len(hits))
	for _, hit := range hits {
		uuidStr := hit.Id.GetUuid()
		if uuidStr == "" {
			uuidStr = hit.Id.String()
		}
		metadata := make(map[string]string)
		originalID := ""
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				if k == payloadIDField {
					originalID = v.GetStringValue()
					continue
				}
				metadata[k] = v.GetStringValue()
			}
		}
		id := originalID
		if id == "" {
			id = uuidStr
		}
		out = append(out, VectorResult{ID: id, Score: float64(hit.Score), Metadata: metadata})
	}
	return out, nil
}

func (s *qdrantStore) Close() error { return s.client.Close() }

// NewQdrantVectorSpaces builds the two named vector-space stores
// info_flow.py's hybrid search averages over: content and questions.
// Each is a distinct Qdrant collection (collection+"_content",
// collection+"_questions") rather than a single collection with two named
// vectors, since this repository's Qdrant client surface only verifies a
// single-vector-per-point query path.
func NewQdrantVectorSpaces(dsn, collection string, dimension int) (content VectorStore, questions VectorStore, err error) {
	c, err := newQdrantStore(dsn, collection+"_content", dimension)
	if err != nil {
		return nil, nil, err
	}
	q, err := newQdrantStore(dsn, collection+"_questions", dimension)
	if err != nil {
		return nil, nil, err
	}
	return c, q, nil
}
