package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// Public routes
	r.Get("/", apiHandler.HealthHandler)
	r.Post("/register", apiHandler.RegisterHandler)
	r.Post("/token", apiHandler.TokenHandler)

	// Bearer-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(apiHandler.BearerAuthMiddleware)

		r.Get("/users/me", apiHandler.CurrentUserHandler)
		r.Get("/users/me/profile", apiHandler.UserProfileHandler)

		r.Post("/chats", apiHandler.CreateChatHandler)
		r.Get("/chats", apiHandler.ListChatsHandler)
		r.Delete("/chats/{chatID}", apiHandler.DeleteChatHandler)
		r.Get("/chats/{chatID}/history", apiHandler.ChatHistoryHandler)

		r.Post("/chat", apiHandler.ChatHandler)
	})

	return r
}
