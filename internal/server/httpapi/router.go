package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/mivanovs/telegate/internal/logging"
)

// NewRouter assembles the HTTP API. Everything except registration, login,
// refresh, and the health probe sits behind bearer-token authentication.
func NewRouter(h *Handler, jwtSecret []byte, logger logging.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(RequestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/health", h.Health)
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Post("/auth/refresh", h.Refresh)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(jwtSecret))

		r.Get("/me", h.Me)

		r.Get("/profiles", h.ListProfiles)
		r.Post("/profiles/start", h.StartAuth)
		r.Post("/profiles/code", h.VerifyCode)
		r.Post("/profiles/password", h.VerifyPassword)

		r.Post("/messages/unread", h.FetchUnread)
		r.Post("/messages/send", h.SendMessage)
		r.Post("/messages/dialogs", h.ListDialogs)
	})

	return r
}
