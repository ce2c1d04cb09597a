package api

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"ragkb/answer"
	"ragkb/app/agent"
	"ragkb/model"
	"ragkb/store"
	"ragkb/types"
)

const (
	defaultTopK     = 5
	maxTopK         = 10
	citationSnippet = 300
)

type ChatHandler struct {
	store       store.DBStorer
	embedder    model.Embedder
	agent       *agent.Agent
	maxDistance float64
}

func NewChatHandler(s store.DBStorer, embedder model.Embedder, ag *agent.Agent, maxDistance float64) *ChatHandler {
	return &ChatHandler{
		store:       s,
		embedder:    embedder,
		agent:       ag,
		maxDistance: maxDistance,
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var params types.ChatParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	topK := clampTopK(params.TopK)
	ctx := context.Background()

	queryVec, err := h.embedder.EmbedQuery(ctx, params.Question)
	if err != nil {
		log.Printf("[CHAT] query embedding failed: %v", err)
		return NewError(fiber.StatusBadGateway, "embedding backend failed")
	}

	hits, err := h.store.Search(ctx, params.CollectionID, queryVec, topK)
	if err != nil {
		return err
	}

	// Gate before any answerer sees the text. Refusal beats fabrication.
	if !answer.PassesGate(hits, h.maxDistance) {
		return c.JSON(&types.ChatResponse{
			Answer:    answer.RefusalText,
			Citations: []types.Citation{},
			Timestamp: time.Now(),
		})
	}

	contexts := make([]string, len(hits))
	for i, hit := range hits {
		contexts[i] = hit.Chunk.Content
	}

	output := h.answerFrom(ctx, params.Question, contexts)

	return c.JSON(&types.ChatResponse{
		Answer:    output,
		Citations: formatCitations(hits),
		Timestamp: time.Now(),
	})
}

// answerFrom prefers the generative backend when enabled and silently
// degrades to extractive answering on any backend failure.
func (h *ChatHandler) answerFrom(ctx context.Context, question string, contexts []string) string {
	if h.agent.Enabled() {
		output, err := h.agent.Generate(ctx, question, contexts)
		if err == nil {
			return output
		}
		log.Printf("[CHAT] generative backend unavailable, falling back to extractive: %v", err)
	}
	return answer.Extract(question, contexts)
}

func formatCitations(hits []store.SearchHit) []types.Citation {
	citations := make([]types.Citation, len(hits))
	for i, hit := range hits {
		snippet := hit.Chunk.Content
		if len(snippet) > citationSnippet {
			snippet = snippet[:citationSnippet]
		}
		citations[i] = types.Citation{
			ChunkID:    hit.Chunk.ID.String(),
			DocumentID: hit.Document.ID.String(),
			Filename:   hit.Document.Filename,
			Page:       hit.Chunk.PageNumber(),
			ChunkIndex: hit.Chunk.Index,
			Distance:   hit.Distance,
			Snippet:    snippet,
		}
	}
	return citations
}

func clampTopK(k int) int {
	if k <= 0 {
		return defaultTopK
	}
	if k > maxTopK {
		return maxTopK
	}
	return k
}
