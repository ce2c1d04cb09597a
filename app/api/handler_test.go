package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragkb/answer"
	"ragkb/app/agent"
	"ragkb/store"
	"ragkb/types"
)

type stubStore struct {
	hits        []store.SearchHit
	docs        []types.Document
	savedDoc    *types.Document
	savedChunks []types.Chunk
	deleted     []uuid.UUID
}

func (s *stubStore) SaveDocumentWithChunks(_ context.Context, doc types.Document, chunks []types.Chunk) error {
	s.savedDoc = &doc
	s.savedChunks = chunks
	return nil
}

func (s *stubStore) GetDocumentByID(_ context.Context, id uuid.UUID) (*types.Document, error) {
	for i := range s.docs {
		if s.docs[i].ID == id {
			return &s.docs[i], nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *stubStore) ListDocuments(_ context.Context, collectionID string) ([]types.Document, error) {
	var out []types.Document
	for _, d := range s.docs {
		if d.CollectionID == collectionID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *stubStore) DeleteDocument(_ context.Context, id uuid.UUID) error {
	s.deleted = append(s.deleted, id)
	for _, d := range s.docs {
		if d.ID == id {
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (s *stubStore) Search(_ context.Context, collectionID string, _ []float32, k int) ([]store.SearchHit, error) {
	if len(s.hits) > k {
		return s.hits[:k], nil
	}
	return s.hits, nil
}

type stubEmbedder struct {
	fail bool
}

func (e *stubEmbedder) EmbedPassages(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, assertableErr
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{1, 0}
	}
	return vecs, nil
}

func (e *stubEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if e.fail {
		return nil, assertableErr
	}
	return []float32{1, 0}, nil
}

func (e *stubEmbedder) Dim() int { return 2 }

var assertableErr = fiber.NewError(fiber.StatusBadGateway, "embedding down")

func disabledAgent() *agent.Agent {
	return agent.New("", "", time.Second, 1000, false)
}

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
}

func searchHit(collection, content string, index int, distance float64) store.SearchHit {
	docID := uuid.New()
	return store.SearchHit{
		Chunk: types.Chunk{
			ID:           uuid.New(),
			DocID:        docID,
			CollectionID: collection,
			Index:        index,
			Content:      content,
			Distance:     distance,
		},
		Document: types.Document{
			ID:           docID,
			CollectionID: collection,
			Filename:     "guide.pdf",
		},
		Distance: distance,
	}
}

func postChat(t *testing.T, app *fiber.App, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/v1/chat", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeChat(t *testing.T, resp *http.Response) types.ChatResponse {
	t.Helper()
	var out types.ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHandleChatRefusesWhenNothingRelevant(t *testing.T) {
	st := &stubStore{hits: []store.SearchHit{searchHit("docs", "some far away text", 0, 0.9)}}
	h := NewChatHandler(st, &stubEmbedder{}, disabledAgent(), 0.35)

	app := newTestApp()
	app.Post("/api/v1/chat", h.HandleChat)

	resp := postChat(t, app, types.ChatParams{Question: "what port?", CollectionID: "docs"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	out := decodeChat(t, resp)
	assert.Equal(t, answer.RefusalText, out.Answer)
	assert.Empty(t, out.Citations)
}

func TestHandleChatRefusesWhenCollectionEmpty(t *testing.T) {
	h := NewChatHandler(&stubStore{}, &stubEmbedder{}, disabledAgent(), 0.35)

	app := newTestApp()
	app.Post("/api/v1/chat", h.HandleChat)

	resp := postChat(t, app, types.ChatParams{Question: "anything", CollectionID: "empty"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	out := decodeChat(t, resp)
	assert.Equal(t, answer.RefusalText, out.Answer)
	assert.Empty(t, out.Citations)
}

func TestHandleChatExtractiveAnswerWithCitations(t *testing.T) {
	st := &stubStore{hits: []store.SearchHit{searchHit("docs", "Backend: API on port 8000", 3, 0.12)}}
	h := NewChatHandler(st, &stubEmbedder{}, disabledAgent(), 0.35)

	app := newTestApp()
	app.Post("/api/v1/chat", h.HandleChat)

	resp := postChat(t, app, types.ChatParams{Question: "what port does the backend use?", CollectionID: "docs"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	out := decodeChat(t, resp)
	assert.Contains(t, out.Answer, "8000")
	require.Len(t, out.Citations, 1)
	assert.Equal(t, "guide.pdf", out.Citations[0].Filename)
	assert.Equal(t, 3, out.Citations[0].ChunkIndex)
	assert.InDelta(t, 0.12, out.Citations[0].Distance, 1e-9)
	assert.Contains(t, out.Citations[0].Snippet, "port 8000")
}

func TestHandleChatFallsBackWhenGenerativeBackendDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	st := &stubStore{hits: []store.SearchHit{searchHit("docs", "Backend: API on port 8000", 0, 0.1)}}
	ag := agent.New(srv.URL, "m", time.Second, 1000, true)
	h := NewChatHandler(st, &stubEmbedder{}, ag, 0.35)

	app := newTestApp()
	app.Post("/api/v1/chat", h.HandleChat)

	resp := postChat(t, app, types.ChatParams{Question: "what port?", CollectionID: "docs"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	out := decodeChat(t, resp)
	// Backend failure degrades to the extractive answer, not an error.
	assert.Contains(t, out.Answer, "8000")
}

func TestHandleChatValidation(t *testing.T) {
	h := NewChatHandler(&stubStore{}, &stubEmbedder{}, disabledAgent(), 0.35)

	app := newTestApp()
	app.Post("/api/v1/chat", h.HandleChat)

	resp := postChat(t, app, map[string]string{"collection_id": "docs"})
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHandleChatEmbeddingFailure(t *testing.T) {
	h := NewChatHandler(&stubStore{}, &stubEmbedder{fail: true}, disabledAgent(), 0.35)

	app := newTestApp()
	app.Post("/api/v1/chat", h.HandleChat)

	resp := postChat(t, app, types.ChatParams{Question: "q", CollectionID: "docs"})
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
}

func TestClampTopK(t *testing.T) {
	assert.Equal(t, defaultTopK, clampTopK(0))
	assert.Equal(t, defaultTopK, clampTopK(-3))
	assert.Equal(t, 1, clampTopK(1))
	assert.Equal(t, maxTopK, clampTopK(50))
}

func multipartUpload(t *testing.T, collectionID, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("collection_id", collectionID))
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postUpload(t *testing.T, app *fiber.App, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestHandleUploadIndexesTxt(t *testing.T) {
	st := &stubStore{}
	h := NewDocumentHandler(st, &stubEmbedder{}, 1200, 200)

	app := newTestApp()
	app.Post("/api/v1/documents/upload", h.HandleUpload)

	body, contentType := multipartUpload(t, "docs", "notes.txt", []byte("Backend: API on port 8000"))
	resp := postUpload(t, app, body, contentType)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var out types.UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "notes.txt", out.Filename)
	assert.Equal(t, "docs", out.CollectionID)
	assert.Equal(t, 1, out.ChunksIndexed)

	require.NotNil(t, st.savedDoc)
	require.Len(t, st.savedChunks, 1)
	assert.Equal(t, st.savedDoc.ID, st.savedChunks[0].DocID)
	assert.Equal(t, "docs", st.savedChunks[0].CollectionID)
	assert.Equal(t, 0, st.savedChunks[0].Index)
	assert.NotEmpty(t, st.savedChunks[0].Embedding)
}

func TestHandleUploadRejectsUnsupportedExtension(t *testing.T) {
	st := &stubStore{}
	h := NewDocumentHandler(st, &stubEmbedder{}, 1200, 200)

	app := newTestApp()
	app.Post("/api/v1/documents/upload", h.HandleUpload)

	body, contentType := multipartUpload(t, "docs", "binary.exe", []byte("junk"))
	resp := postUpload(t, app, body, contentType)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Nil(t, st.savedDoc)
}

func TestHandleUploadRejectsBlankDocument(t *testing.T) {
	st := &stubStore{}
	h := NewDocumentHandler(st, &stubEmbedder{}, 1200, 200)

	app := newTestApp()
	app.Post("/api/v1/documents/upload", h.HandleUpload)

	body, contentType := multipartUpload(t, "docs", "blank.txt", []byte("   \n "))
	resp := postUpload(t, app, body, contentType)

	// Zero extractable text must fail ingestion and persist nothing.
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Nil(t, st.savedDoc)
	assert.Empty(t, st.savedChunks)
}

func TestHandleUploadRequiresCollection(t *testing.T) {
	h := NewDocumentHandler(&stubStore{}, &stubEmbedder{}, 1200, 200)

	app := newTestApp()
	app.Post("/api/v1/documents/upload", h.HandleUpload)

	body, contentType := multipartUpload(t, "", "notes.txt", []byte("text"))
	resp := postUpload(t, app, body, contentType)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHandleUploadEmbeddingFailurePersistsNothing(t *testing.T) {
	st := &stubStore{}
	h := NewDocumentHandler(st, &stubEmbedder{fail: true}, 1200, 200)

	app := newTestApp()
	app.Post("/api/v1/documents/upload", h.HandleUpload)

	body, contentType := multipartUpload(t, "docs", "notes.txt", []byte("some text"))
	resp := postUpload(t, app, body, contentType)

	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.Nil(t, st.savedDoc)
}

func TestHandleDeleteDocument(t *testing.T) {
	doc := types.Document{ID: uuid.New(), CollectionID: "docs", Filename: "guide.pdf"}
	st := &stubStore{docs: []types.Document{doc}}
	h := NewDocumentHandler(st, &stubEmbedder{}, 1200, 200)

	app := newTestApp()
	app.Delete("/api/v1/documents/:id", h.HandleDeleteDocument)

	req := httptest.NewRequest("DELETE", "/api/v1/documents/"+doc.ID.String(), nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []uuid.UUID{doc.ID}, st.deleted)
}

func TestHandleDeleteDocumentNotFound(t *testing.T) {
	h := NewDocumentHandler(&stubStore{}, &stubEmbedder{}, 1200, 200)

	app := newTestApp()
	app.Delete("/api/v1/documents/:id", h.HandleDeleteDocument)

	req := httptest.NewRequest("DELETE", "/api/v1/documents/"+uuid.NewString(), nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHandleDeleteDocumentInvalidID(t *testing.T) {
	h := NewDocumentHandler(&stubStore{}, &stubEmbedder{}, 1200, 200)

	app := newTestApp()
	app.Delete("/api/v1/documents/:id", h.HandleDeleteDocument)

	req := httptest.NewRequest("DELETE", "/api/v1/documents/not-a-uuid", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleListDocuments(t *testing.T) {
	st := &stubStore{docs: []types.Document{
		{ID: uuid.New(), CollectionID: "docs", Filename: "a.pdf"},
		{ID: uuid.New(), CollectionID: "other", Filename: "b.pdf"},
	}}
	h := NewDocumentHandler(st, &stubEmbedder{}, 1200, 200)

	app := newTestApp()
	app.Get("/api/v1/documents", h.HandleListDocuments)

	req := httptest.NewRequest("GET", "/api/v1/documents?collection_id=docs", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var docs []types.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "a.pdf", docs[0].Filename)
}
