package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter mounts the health probe unauthenticated and everything under
// /v1 behind the handler's authenticator.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(limitRequestBody)
	r.Get("/healthz", h.Healthz)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(h.requireAuth)
		v1.Get("/status", h.Status)
		v1.Post("/intent", h.DeclareIntent)
		v1.With(h.rateLimit).Post("/actions", h.ExecuteAction)
		v1.Get("/verify", h.Verify)
		v1.Get("/manifest/{action}", h.CheckManifest)
	})
	return r
}

const maxRequestBody = 1 << 20

func limitRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		}
		next.ServeHTTP(w, r)
	})
}
