package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/health", h.Health)

	r.Route("/v1/messages", func(r chi.Router) {
		r.Post("/", h.SendMessage)
		r.Post("/bulk", h.SendBulk)
		r.Get("/{id}", h.GetMessage)
		r.Post("/{id}/retry", h.RetryMessage)
		r.Post("/{id}/read", h.MarkRead)
	})

	r.Get("/v1/bulk-messages/{id}", h.GetBulk)

	r.Get("/v1/conversations", h.ListConversation)
	r.Post("/v1/conversations/read", h.MarkConversationRead)
	r.Get("/v1/users/{userId}/messages", h.ListUserMessages)

	r.Route("/v1/preferences/{recipientId}", func(r chi.Router) {
		r.Get("/", h.GetPreference)
		r.Put("/", h.SetPreference)
	})

	r.Post("/v1/recipients/search", h.SearchRecipients)
	r.Post("/v1/recipients/validate", h.ValidateRecipients)
	r.Post("/v1/segments", h.Segments)

	r.Route("/v1/webhooks/carrier", func(r chi.Router) {
		r.Post("/status", h.CarrierStatus)
		r.Post("/inbound", h.CarrierInbound)
	})

	r.Route("/v1/sweeper", func(r chi.Router) {
		r.Get("/status", h.SweeperStatus)
		r.Post("/start", h.SweeperStart)
		r.Post("/stop", h.SweeperStop)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("messaging"))
	})

	return r
}
