package store

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"ragkb/types"
)

// SearchHit is one retrieved chunk with its parent document and the cosine
// distance to the query vector.
type SearchHit struct {
	Chunk    types.Chunk
	Document types.Document
	Distance float64
}

type DBStorer interface {
	SaveDocumentWithChunks(context.Context, types.Document, []types.Chunk) error
	GetDocumentByID(context.Context, uuid.UUID) (*types.Document, error)
	ListDocuments(context.Context, string) ([]types.Document, error)
	DeleteDocument(context.Context, uuid.UUID) error
	Search(context.Context, string, []float32, int) ([]SearchHit, error)
}

type PostgresStore struct {
	pool     *pgxpool.Pool
	embedDim int
}

func NewPostgresStore(ctx context.Context, connStr string, embedDim int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:     pool,
		embedDim: embedDim,
	}, nil
}

// SaveDocumentWithChunks commits the document and all its chunks in one
// transaction, so readers never observe a partial document.
func (p *PostgresStore) SaveDocumentWithChunks(ctx context.Context, doc types.Document, chunks []types.Chunk) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (id, collection_id, filename, created_at) VALUES ($1, $2, $3, $4)`,
		doc.ID, doc.CollectionID, doc.Filename, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for _, c := range chunks {
		_, err = tx.Exec(ctx,
			`INSERT INTO chunks (id, doc_id, collection_id, chunk_index, page, content, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, c.DocID, c.CollectionID, c.Index, c.Page, c.Content, pgvector.NewVector(c.Embedding), c.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}

	return tx.Commit(ctx)
}

func (p *PostgresStore) GetDocumentByID(ctx context.Context, docID uuid.UUID) (*types.Document, error) {
	doc := &types.Document{}
	err := p.pool.QueryRow(ctx,
		`SELECT id, collection_id, filename, created_at FROM documents WHERE id = $1`,
		docID,
	).Scan(&doc.ID, &doc.CollectionID, &doc.Filename, &doc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *PostgresStore) ListDocuments(ctx context.Context, collectionID string) ([]types.Document, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, collection_id, filename, created_at FROM documents WHERE collection_id = $1 ORDER BY created_at`,
		collectionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		var doc types.Document
		if err := rows.Scan(&doc.ID, &doc.CollectionID, &doc.Filename, &doc.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes the document row; its chunks go with it through
// the ON DELETE CASCADE foreign key.
func (p *PostgresStore) DeleteDocument(ctx context.Context, docID uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, docID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Search returns up to k chunks of the collection nearest to queryVec by
// cosine distance (<=> operator), ascending. Chunks without an embedding
// are never eligible. An empty result is not an error.
func (p *PostgresStore) Search(ctx context.Context, collectionID string, queryVec []float32, k int) ([]SearchHit, error) {
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}

	vector := pgvector.NewVector(queryVec)

	query := `
		SELECT c.id, c.doc_id, c.collection_id, c.chunk_index, c.page, c.content,
		       c.embedding <=> $1 AS distance,
		       d.id, d.collection_id, d.filename, d.created_at
		FROM chunks c
		JOIN documents d ON c.doc_id = d.id
		WHERE c.collection_id = $2 AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $1
		LIMIT $3
	`
	rows, err := p.pool.Query(ctx, query, vector, collectionID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var hit SearchHit
		err := rows.Scan(
			&hit.Chunk.ID,
			&hit.Chunk.DocID,
			&hit.Chunk.CollectionID,
			&hit.Chunk.Index,
			&hit.Chunk.Page,
			&hit.Chunk.Content,
			&hit.Distance,
			&hit.Document.ID,
			&hit.Document.CollectionID,
			&hit.Document.Filename,
			&hit.Document.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		hit.Chunk.Distance = hit.Distance

		log.Printf("[SEARCH] hit doc=%s chunk=%d distance=%.4f", hit.Chunk.DocID, hit.Chunk.Index, hit.Distance)
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (p *PostgresStore) createRagTables(ctx context.Context) error {
	query := fmt.Sprintf(`
    CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		collection_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection_id);

    CREATE TABLE IF NOT EXISTS chunks (
        id UUID PRIMARY KEY,
        doc_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
        collection_id TEXT NOT NULL,
        chunk_index INT NOT NULL,
        page INT,
        content TEXT NOT NULL,
        embedding vector(%d),
        created_at TIMESTAMP WITH TIME ZONE
    );

	CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops)
	WITH (lists = 100);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection_id);
    `, p.embedDim)
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createRagTables(ctx)
}

// Close закрывает пул подключений
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
		log.Println("Postgres connection pool is closed")
	}
	return nil
}
