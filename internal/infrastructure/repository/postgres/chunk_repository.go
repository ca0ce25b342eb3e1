package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/clinical-rag-assistant/internal/core/domain"
)

// ChunkRepository is the durable record of the ingested corpus. The serving
// process rebuilds its in-memory indexes from it.
type ChunkRepository struct {
	db *sql.DB
}

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
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

func (r *ChunkRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api and ingest startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	content TEXT NOT NULL,
	source TEXT NOT NULL,
	page INTEGER NOT NULL DEFAULT 0,
	embedding JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_seq ON chunks(seq);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// ReplaceChunks swaps the whole corpus in one transaction so readers never
// observe a partial rebuild.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, chunks []domain.IndexedChunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (id, seq, content, source, page, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`)
	if err != nil {
		return fmt.Errorf("prepare insert chunk: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, item := range chunks {
		embeddingJSON, err := json.Marshal(item.Embedding)
		if err != nil {
			return fmt.Errorf("marshal embedding: %w", err)
		}
		meta := item.Chunk.Metadata()
		if _, err := stmt.ExecContext(ctx,
			item.Chunk.ID(), item.Seq, item.Chunk.Content(), meta.Source, meta.Page, embeddingJSON, now,
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", item.Chunk.ID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace tx: %w", err)
	}
	return nil
}

func (r *ChunkRepository) ListChunks(ctx context.Context) ([]domain.IndexedChunk, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, seq, content, source, page, embedding
FROM chunks
ORDER BY seq ASC
`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.IndexedChunk, 0)
	for rows.Next() {
		var (
			id, content, source string
			seq, page           int
			embeddingRaw        []byte
		)
		if err := rows.Scan(&id, &seq, &content, &source, &page, &embeddingRaw); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunk, err := domain.NewDocumentChunk(id, content, domain.ChunkMetadata{Source: source, Page: page})
		if err != nil {
			return nil, fmt.Errorf("stored chunk %s: %w", id, err)
		}
		var embedding []float32
		if len(embeddingRaw) > 0 {
			if err := json.Unmarshal(embeddingRaw, &embedding); err != nil {
				return nil, fmt.Errorf("unmarshal embedding: %w", err)
			}
		}
		out = append(out, domain.IndexedChunk{Chunk: chunk, Seq: seq, Embedding: embedding})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}
