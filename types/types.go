package types

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Page is one unit of extracted document text. Number is nil for formats
// without pagination (txt, md, docx).
type Page struct {
	Number *int
	Text   string
}

type Chunk struct {
	ID           uuid.UUID
	DocID        uuid.UUID
	CollectionID string
	Index        int
	Page         sql.NullInt64
	Content      string
	Embedding    []float32
	Distance     float64
	CreatedAt    time.Time
}

type Document struct {
	ID           uuid.UUID
	CollectionID string
	Filename     string
	CreatedAt    time.Time
}

// PageNumber converts the nullable DB column back to the optional form
// used in citations.
func (c Chunk) PageNumber() *int {
	if !c.Page.Valid {
		return nil
	}
	n := int(c.Page.Int64)
	return &n
}

// Ingestion pipeline failures. Handlers map these to HTTP statuses.
var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmptyDocument   = errors.New("no extractable text in document")
	ErrNoChunks        = errors.New("document produced zero chunks")
)
