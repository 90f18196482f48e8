package retrieval

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgLexicalStore is a Postgres full-text search backend for
// knowledge_chunks, grounded on the teacher's
// internal/persistence/databases/postgres_search.go (tsvector GIN index,
// plainto_tsquery ranking, JSONB metadata column). It also implements
// BenefitsFetcher, since benefits_tool.py's fetch is a plain metadata
// filter with no ranking at all.
type pgLexicalStore struct{ pool *pgxpool.Pool }

// NewPostgresKnowledgeStore bootstraps the knowledge_chunks table (best
// effort, idempotent) and returns a combined LexicalSearch/BenefitsFetcher
// backed by it.
func NewPostgresKnowledgeStore(ctx context.Context, pool *pgxpool.Pool) (*pgLexicalStore, error) {
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS knowledge_chunks (
  id TEXT PRIMARY KEY,
  content TEXT NOT NULL,
  metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
  ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(content, ''))) STORED
)`); err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS knowledge_chunks_ts_idx ON knowledge_chunks USING GIN (ts)`); err != nil {
		return nil, err
	}
	return &pgLexicalStore{pool: pool}, nil
}

func (p *pgLexicalStore) Index(ctx context.Context, id, text string, metadata map[string]string) error {
	md, err := json.Marshal(nonNilMap(metadata))
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO knowledge_chunks (id, content, metadata) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata
`, id, text, md)
	return err
}

func (p *pgLexicalStore) Remove(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM knowledge_chunks WHERE id = $1`, id)
	return err
}

// Search runs a plainto_tsquery ranked search, scoped by any metadata
// filter entries (matched as JSONB containment), mirroring
// info_flow.py's BM25 fallback path.
func (p *pgLexicalStore) Search(ctx context.Context, query string, limit int, filter map[string]string) ([]LexicalResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	filterJSON, err := json.Marshal(nonNilMap(filter))
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
SELECT id, ts_rank(ts, plainto_tsquery('simple', $1)) AS score,
       left(content, 160) AS snippet, metadata
FROM knowledge_chunks
WHERE ts @@ plainto_tsquery('simple', $1)
  AND metadata @> $2
ORDER BY score DESC
LIMIT $3
`, q, filterJSON, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]LexicalResult, 0, limit)
	for rows.Next() {
		var r LexicalResult
		var md map[string]string
		if err := rows.Scan(&r.ID, &r.Score, &r.Snippet, &md); err != nil {
			return nil, err
		}
		r.Metadata = md
		out = append(out, r)
	}
	return out, rows.Err()
}

// FetchBenefits returns every benefits-typed chunk for productName, ordered
// by id, with no ranking — exactly benefits_tool.py's
// fetch_objects(filters=product_name==X AND doc_type=="benefits",
// limit=500).
func (p *pgLexicalStore) FetchBenefits(ctx context.Context, productName string) ([]Chunk, error) {
	filterJSON, err := json.Marshal(map[string]string{"product_name": productName, "doc_type": "benefits"})
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, content, metadata
FROM knowledge_chunks
WHERE metadata @> $1
ORDER BY id
LIMIT 500
`, filterJSON)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var id, content string
		var md map[string]string
		if err := rows.Scan(&id, &content, &md); err != nil {
			return nil, err
		}
		out = append(out, Chunk{
			ID:          id,
			Content:     content,
			ProductName: md["product_name"],
			DocType:     md["doc_type"],
			SourceFile:  md["source_file"],
		})
	}
	return out, rows.Err()
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
