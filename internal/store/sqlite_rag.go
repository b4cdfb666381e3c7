package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/vulnshop/internal/domain"
)

// CreateDocument stores a document and its chunks, setting doc.ID.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *domain.Document, chunks []string) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO rag_documents (title, content_text, created_at, admin_uploader_id)
			VALUES (?, ?, ?, ?)`,
			doc.Title, doc.ContentText, doc.CreatedAt.Unix(), nullInt(doc.AdminUploaderID))
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		if doc.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("document id: %w", err)
		}
		return insertChunks(ctx, tx, doc.ID, chunks)
	})
}

func insertChunks(ctx context.Context, tx *sql.Tx, docID int64, chunks []string) error {
	for i, text := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rag_chunks (doc_id, chunk_index, text) VALUES (?, ?, ?)`,
			docID, i, text); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	return nil
}

// ListDocuments returns document metadata without content.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, admin_uploader_id
		FROM rag_documents ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer closeRows(rows, "rag_documents")

	docs := []domain.Document{}
	for rows.Next() {
		var d domain.Document
		var createdAt int64
		var uploader sql.NullInt64
		if err := rows.Scan(&d.ID, &d.Title, &createdAt, &uploader); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		d.CreatedAt = time.Unix(createdAt, 0)
		d.AdminUploaderID = ptrInt(uploader)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// GetDocument returns a document including its full text.
func (s *SQLiteStore) GetDocument(ctx context.Context, docID int64) (*domain.Document, error) {
	var d domain.Document
	var createdAt int64
	var uploader sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content_text, created_at, admin_uploader_id
		FROM rag_documents WHERE id = ?`, docID).
		Scan(&d.ID, &d.Title, &d.ContentText, &createdAt, &uploader)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan document row: %w", err)
	}
	d.CreatedAt = time.Unix(createdAt, 0)
	d.AdminUploaderID = ptrInt(uploader)
	return &d, nil
}

// ListChunks returns a document's chunks in order.
func (s *SQLiteStore) ListChunks(ctx context.Context, docID int64) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, doc_id, chunk_index, text
		FROM rag_chunks WHERE doc_id = ?
		ORDER BY chunk_index ASC`, docID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer closeRows(rows, "rag_chunks")

	chunks := []domain.Chunk{}
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.DocID, &c.ChunkIndex, &c.Text); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

// SearchChunks runs an FTS5 MATCH query and returns chunk text verbatim.
// The query is handed to FTS5 unchanged, so its syntax errors surface to the caller.
func (s *SQLiteStore) SearchChunks(ctx context.Context, query string, limit int) ([]domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rc.id, rc.doc_id, rc.chunk_index, rc.text, rd.title
		FROM rag_chunks_fts f
		JOIN rag_chunks rc ON rc.id = f.rowid
		JOIN rag_documents rd ON rd.id = rc.doc_id
		WHERE f.text MATCH ?
		ORDER BY f.rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer closeRows(rows, "rag_chunks_fts")

	chunks := []domain.Chunk{}
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.DocID, &c.ChunkIndex, &c.Text, &c.Title); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

// ReindexDocuments rebuilds every document's chunks from its stored text.
func (s *SQLiteStore) ReindexDocuments(ctx context.Context) (int, error) {
	type docText struct {
		id   int64
		text string
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, content_text FROM rag_documents ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("query documents: %w", err)
	}
	var docs []docText
	for rows.Next() {
		var d docText
		if err := rows.Scan(&d.id, &d.text); err != nil {
			closeRows(rows, "rag_documents")
			return 0, fmt.Errorf("scan document row: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		closeRows(rows, "rag_documents")
		return 0, fmt.Errorf("iterate documents: %w", err)
	}
	closeRows(rows, "rag_documents")

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, d := range docs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM rag_chunks WHERE doc_id = ?`, d.id); err != nil {
				return fmt.Errorf("delete chunks: %w", err)
			}
			if err := insertChunks(ctx, tx, d.id, domain.ChunkText(d.text, domain.ChunkSize, domain.ChunkOverlap)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}
