package api

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"ragkb/model"
	"ragkb/store"
	"ragkb/types"
)

type DocumentHandler struct {
	store        store.DBStorer
	embedder     model.Embedder
	chunkChars   int
	chunkOverlap int
}

func NewDocumentHandler(s store.DBStorer, embedder model.Embedder, chunkChars, chunkOverlap int) *DocumentHandler {
	return &DocumentHandler{
		store:        s,
		embedder:     embedder,
		chunkChars:   chunkChars,
		chunkOverlap: chunkOverlap,
	}
}

// HandleUpload runs the whole ingestion path: parse, chunk, embed, persist.
// The document and its chunks are committed in one transaction, so any
// failure along the way persists nothing.
func (h *DocumentHandler) HandleUpload(c *fiber.Ctx) error {
	collectionID := c.FormValue("collection_id")
	if collectionID == "" {
		return NewValidationError(map[string]string{"collection_id": "failed on 'required' tag"})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return NewError(fiber.StatusBadRequest, "missing file part")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	pages, err := model.ParseFile(fileHeader.Filename, data)
	if err != nil {
		if errors.Is(err, types.ErrUnsupportedType) || errors.Is(err, types.ErrEmptyDocument) {
			return NewError(fiber.StatusBadRequest, err.Error())
		}
		return NewError(fiber.StatusBadRequest, "could not parse file: "+err.Error())
	}

	drafts := model.ChunkPages(pages, h.chunkChars, h.chunkOverlap)
	if len(drafts) == 0 {
		return NewError(fiber.StatusBadRequest, types.ErrNoChunks.Error())
	}

	texts := make([]string, len(drafts))
	for i, d := range drafts {
		texts[i] = d.Content
	}

	ctx := context.Background()
	vectors, err := h.embedder.EmbedPassages(ctx, texts)
	if err != nil {
		log.Printf("[UPLOAD] embedding failed for %s: %v", fileHeader.Filename, err)
		return NewError(fiber.StatusBadGateway, "embedding backend failed")
	}

	now := time.Now()
	doc := types.Document{
		ID:           uuid.New(),
		CollectionID: collectionID,
		Filename:     fileHeader.Filename,
		CreatedAt:    now,
	}

	chunks := make([]types.Chunk, len(drafts))
	for i, d := range drafts {
		page := sql.NullInt64{}
		if d.Page != nil {
			page = sql.NullInt64{Int64: int64(*d.Page), Valid: true}
		}
		chunks[i] = types.Chunk{
			ID:           uuid.New(),
			DocID:        doc.ID,
			CollectionID: collectionID,
			Index:        d.Index,
			Page:         page,
			Content:      d.Content,
			Embedding:    vectors[i],
			CreatedAt:    now,
		}
	}

	if err := h.store.SaveDocumentWithChunks(ctx, doc, chunks); err != nil {
		return err
	}

	log.Printf("[UPLOAD] indexed %s: %d chunks into collection %s", doc.Filename, len(chunks), collectionID)

	return c.JSON(&types.UploadResponse{
		DocumentID:    doc.ID.String(),
		Filename:      doc.Filename,
		CollectionID:  doc.CollectionID,
		ChunksIndexed: len(chunks),
	})
}

func (h *DocumentHandler) HandleListDocuments(c *fiber.Ctx) error {
	collectionID := c.Query("collection_id")
	if collectionID == "" {
		return NewValidationError(map[string]string{"collection_id": "failed on 'required' tag"})
	}

	docs, err := h.store.ListDocuments(context.Background(), collectionID)
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []types.Document{}
	}
	return c.JSON(docs)
}

func (h *DocumentHandler) HandleDeleteDocument(c *fiber.Ctx) error {
	docID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}

	if err := h.store.DeleteDocument(context.Background(), docID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound(docID, "document")
		}
		return err
	}
	return c.JSON(fiber.Map{"result": "ok"})
}
