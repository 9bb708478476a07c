package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	pgvec "github.com/pgvector/pgvector-go"

	"github.com/dolakin/tax-bills-assistant/internal/core/domain"
	"github.com/dolakin/tax-bills-assistant/internal/core/ports"
)

const embedBatchSize = 64

// Store keeps corpus fragments and their embeddings in Postgres with the
// pgvector extension. Similarity is cosine distance over the embedding
// column; score is reported as 1 - distance.
type Store struct {
	db       *sql.DB
	embedder ports.Embedder
	dims     int
}

func NewStore(db *sql.DB, embedder ports.Embedder, dims int) *Store {
	if dims <= 0 {
		dims = 1536
	}
	return &Store{db: db, embedder: embedder, dims: dims}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/ingest startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS fragments (
	chunk_id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	page_start INTEGER NOT NULL,
	page_end INTEGER NOT NULL,
	heading TEXT NOT NULL DEFAULT '',
	section TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	body TEXT NOT NULL,
	embedding vector(%d),
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fragments_source ON fragments(source);
`, s.dims)
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SimilaritySearch embeds the query text and returns the k nearest fragments
// by cosine distance.
func (s *Store) SimilaritySearch(ctx context.Context, query string, k int) ([]domain.Fragment, error) {
	if k <= 0 {
		return nil, nil
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "embed query", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT chunk_id, source, page_start, page_end, heading, section, content_hash, body,
       1 - (embedding <=> $1) AS score
FROM fragments
ORDER BY embedding <=> $1
LIMIT $2
`, pgvec.NewVector(vector), k)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "similarity search", err)
	}
	defer rows.Close()

	return scanFragments(rows, true)
}

// ScanAll returns every fragment without embeddings, for keyword filtering.
func (s *Store) ScanAll(ctx context.Context) ([]domain.Fragment, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT chunk_id, source, page_start, page_end, heading, section, content_hash, body
FROM fragments
ORDER BY chunk_id
`)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "scan fragments", err)
	}
	defer rows.Close()

	return scanFragments(rows, false)
}

func scanFragments(rows *sql.Rows, withScore bool) ([]domain.Fragment, error) {
	var out []domain.Fragment
	for rows.Next() {
		var f domain.Fragment
		var err error
		if withScore {
			err = rows.Scan(&f.ChunkID, &f.Source, &f.PageStart, &f.PageEnd, &f.Heading, &f.Section, &f.ContentHash, &f.Text, &f.Score)
		} else {
			err = rows.Scan(&f.ChunkID, &f.Source, &f.PageStart, &f.PageEnd, &f.Heading, &f.Section, &f.ContentHash, &f.Text)
		}
		if err != nil {
			return nil, fmt.Errorf("scan fragment row: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "iterate fragments", err)
	}
	return out, nil
}

// Upsert collapses duplicate chunk ids, writes fragments whose content hash
// changed and skips the rest, so re-running ingestion over an unchanged corpus
// does no embedding work. It never deletes rows.
func (s *Store) Upsert(ctx context.Context, fragments []domain.Fragment) (domain.IngestStats, error) {
	stats := domain.IngestStats{TotalInput: len(fragments)}
	if len(fragments) == 0 {
		return stats, nil
	}

	existing, err := s.contentHashes(ctx)
	if err != nil {
		return stats, err
	}

	seen := make(map[string]struct{}, len(fragments))
	unique := make([]domain.Fragment, 0, len(fragments))
	for _, f := range fragments {
		if _, dup := seen[f.ChunkID]; dup {
			stats.Deduped++
			continue
		}
		seen[f.ChunkID] = struct{}{}
		unique = append(unique, f)
	}

	var changed []domain.Fragment
	for _, f := range unique {
		hash, ok := existing[f.ChunkID]
		switch {
		case !ok:
			stats.Added++
			changed = append(changed, f)
		case hash != f.ContentHash:
			stats.Updated++
			changed = append(changed, f)
		default:
			stats.Skipped++
		}
	}
	if len(changed) == 0 {
		return stats, nil
	}

	for start := 0; start < len(changed); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(changed) {
			end = len(changed)
		}
		if err := s.upsertBatch(ctx, changed[start:end]); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (s *Store) contentHashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, content_hash FROM fragments`)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "load content hashes", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("scan content hash: %w", err)
		}
		hashes[id] = hash
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "iterate content hashes", err)
	}
	return hashes, nil
}

func (s *Store) upsertBatch(ctx context.Context, fragments []domain.Fragment) error {
	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed fragments: %w", err)
	}
	if len(vectors) != len(fragments) {
		return fmt.Errorf("embed fragments: got %d vectors for %d fragments", len(vectors), len(fragments))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "begin upsert tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for i, f := range fragments {
		_, err := tx.ExecContext(ctx, `
INSERT INTO fragments (chunk_id, source, page_start, page_end, heading, section, content_hash, body, embedding, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (chunk_id) DO UPDATE SET
	source = EXCLUDED.source,
	page_start = EXCLUDED.page_start,
	page_end = EXCLUDED.page_end,
	heading = EXCLUDED.heading,
	section = EXCLUDED.section,
	content_hash = EXCLUDED.content_hash,
	body = EXCLUDED.body,
	embedding = EXCLUDED.embedding,
	updated_at = EXCLUDED.updated_at
`,
			f.ChunkID, f.Source, f.PageStart, f.PageEnd, f.Heading, f.Section, f.ContentHash, f.Text,
			pgvec.NewVector(vectors[i]), now,
		)
		if err != nil {
			return domain.WrapError(domain.ErrStoreUnavailable, "upsert fragment", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrStoreUnavailable, "commit upsert tx", err)
	}
	return nil
}

// Healthy reports whether the database answers a trivial query.
func (s *Store) Healthy(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return domain.WrapError(domain.ErrStoreUnavailable, "ping", err)
	}
	return nil
}
