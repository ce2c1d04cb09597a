package server

import (
	"context"
	"log"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"ragkb/app/agent"
	"ragkb/app/api"
	"ragkb/config"
	"ragkb/model"
	"ragkb/store"
)

var fiberConfig = fiber.Config{
	ErrorHandler: api.ErrorHandler,
}

type Server struct {
	cfg    *config.Config
	logger *slog.Logger
}

func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg:    cfg,
		logger: slog.Default(),
	}
}

func (s *Server) Stop() {
	s.logger.Info("server stopped")
}

func (s *Server) Run() {
	ctx := context.Background()

	pool, err := store.NewPostgresStore(ctx, s.cfg.PostgresConnStr(), s.cfg.EmbedDim)
	if err != nil {
		log.Fatal("error to connect to Postgres database", err)
		return
	}

	if err := pool.Init(ctx); err != nil {
		log.Fatal("error to create tables", err)
		return
	}

	// One embedder instance for the process; injected everywhere it is used.
	embedder := model.NewOllamaEmbedder(s.cfg.EmbedURL, s.cfg.EmbedModel, s.cfg.EmbedDim)
	ag := agent.New(s.cfg.LLMURL, s.cfg.LLMModel, s.cfg.LLMTimeout, s.cfg.LLMTokenBudget, s.cfg.LLMEnabled)

	var (
		app             = fiber.New(fiberConfig)
		checkHandler    = api.NewCheckHandler()
		chatHandler     = api.NewChatHandler(pool, embedder, ag, s.cfg.MaxCosineDistance)
		documentHandler = api.NewDocumentHandler(pool, embedder, s.cfg.ChunkChars, s.cfg.ChunkOverlap)
		check           = app.Group("/check")
		apiv1           = app.Group("/api/v1")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)
	apiv1.Post("/chat", chatHandler.HandleChat)
	apiv1.Post("/documents/upload", documentHandler.HandleUpload)
	apiv1.Get("/documents", documentHandler.HandleListDocuments)
	apiv1.Delete("/documents/:id", documentHandler.HandleDeleteDocument)

	err = app.Listen(s.cfg.ServerAddr)
	if err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return
	}
}
