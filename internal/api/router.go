package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sharkyai/sharky/internal/logging"
)

func NewRouter(apiHandler *APIHandler, webhookHandler http.Handler, allowedOrigins []string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Method(http.MethodPost, "/webhooks/identity", webhookHandler)

		// Caller-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.AuthMiddleware)

			r.Post("/chat/create", apiHandler.CreateChatHandler)
			r.Get("/chat/get", apiHandler.GetChatsHandler)
			r.Post("/chat/rename", apiHandler.RenameChatHandler)
			r.Post("/chat/delete", apiHandler.DeleteChatHandler)
			r.Post("/chat/ai", apiHandler.SendMessageHandler)
		})
	})

	return r
}
