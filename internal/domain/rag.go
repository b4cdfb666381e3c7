package domain

import "time"

// Default chunking parameters for uploaded documents.
const (
	ChunkSize    = 900
	ChunkOverlap = 200
)

// Document is an uploaded knowledge-base text.
type Document struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	ContentText     string    `json:"content_text,omitempty"`
	AdminUploaderID *int64    `json:"admin_uploader_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Chunk is an indexed slice of a document.
type Chunk struct {
	ID         int64  `json:"id"`
	DocID      int64  `json:"doc_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	Title      string `json:"title,omitempty"`
}

// ChunkText splits text into windows of size runes that overlap by overlap runes.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = ChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size - overlap {
		end := min(len(runes), start+size)
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
