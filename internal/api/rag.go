package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/vulnshop/internal/domain"
	"github.com/ashureev/vulnshop/internal/identity"
)

// maxUploadSize bounds uploaded knowledge-base files.
const maxUploadSize = 2 << 20

// UploadDocument handles POST /api/rag/upload (multipart field "file", .txt only).
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(64<<10))
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		Error(w, http.StatusBadRequest, "File required")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(header.Filename, ".txt") {
		Error(w, http.StatusBadRequest, "Only .txt files allowed")
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		internalError(w, "failed to read upload", err)
		return
	}
	if len(data) > maxUploadSize {
		Error(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	uploader := identity.UserIDFromContext(r.Context())
	content := string(data)
	chunks := domain.ChunkText(content, domain.ChunkSize, domain.ChunkOverlap)
	doc := &domain.Document{Title: header.Filename, ContentText: content, AdminUploaderID: &uploader}
	if err := h.repo.CreateDocument(r.Context(), doc, chunks); err != nil {
		internalError(w, "failed to store document", err)
		return
	}

	slog.Info("document uploaded", "doc_id", doc.ID, "bytes", len(data), "chunks", len(chunks), "user_id", uploader)
	JSON(w, http.StatusCreated, map[string]any{
		"doc_id": doc.ID,
		"stats":  map[string]int{"bytes": len(data), "chunks": len(chunks)},
	})
}

// ListDocuments handles GET /api/rag/docs.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.repo.ListDocuments(r.Context())
	if err != nil {
		internalError(w, "failed to list documents", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"docs": docs})
}

// GetDocument handles GET /api/rag/docs/{id}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.repo.GetDocument(r.Context(), pathID(r, "id"))
	if err != nil {
		internalError(w, "failed to get document", err)
		return
	}
	if doc == nil {
		Error(w, http.StatusNotFound, "Doc not found")
		return
	}
	chunks, err := h.repo.ListChunks(r.Context(), doc.ID)
	if err != nil {
		internalError(w, "failed to list chunks", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"doc": doc, "chunks": chunks})
}

// Reindex handles POST /api/rag/reindex.
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	n, err := h.repo.ReindexDocuments(r.Context())
	if err != nil {
		internalError(w, "failed to reindex documents", err)
		return
	}
	slog.Info("documents reindexed", "count", n)
	JSON(w, http.StatusOK, map[string]any{"ok": true, "reindexed": n})
}
