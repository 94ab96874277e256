package server

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/coupleplay/rooms/internal/handler/health"
)

func addRoutes(r chi.Router, logger *slog.Logger, deps Deps) {
	svc := deps.Rooms

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", handleSwaggerUI())
	r.Mount("/healthz", health.NewHandler(logger, deps.Checks).Routes())

	r.Route("/api/rooms", func(r chi.Router) {
		if deps.RateLimit > 0 {
			r.Use(newRateLimiter(deps.RateLimit, deps.RateBurst).Middleware)
		}

		r.Post("/", handleCreateRoom(logger, svc))
		r.Route("/{roomId}", func(r chi.Router) {
			r.Get("/", handleGetRoom(logger, svc))
			r.Post("/join", handleJoinRoom(logger, svc))
			r.Post("/reconcile", handleReconcile(logger, svc))
			r.Post("/questions", handleAddQuestion(logger, svc))
			r.Patch("/questions/{questionId}/answer", handlePatchAnswer(logger, svc))
			r.Post("/players/{playerId}/stage-one", handleStageOne(logger, svc))
			r.Get("/events", handleEvents(logger, svc, deps.Feed))
			r.Group(func(r chi.Router) {
				r.Use(roomMiddleware(logger, svc))
				r.Get("/ws", handleStream(logger, deps.Feed))
				r.Get("/invite.png", handleInvite(logger, deps.PublicURL))
			})
		})
	})

	if deps.SPADir != "" {
		if info, err := os.Stat(deps.SPADir); err == nil && info.IsDir() {
			logger.Info("serving SPA", "dir", deps.SPADir)
			r.NotFound(handleSPA(deps.SPADir))
		}
	}
}
