// ABOUTME: chi router wiring for the agent facade.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP router for the agent facade, grounded on the
// teacher's buildRouter convention: a chi.Router with request logging and
// panic recovery middleware, then route groups per resource.
func NewRouter(state *AppState) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/threads", func(r chi.Router) {
		r.Post("/", CreateThread(state))
		r.Post("/{threadID}/messages", PostMessage(state))
	})

	r.Route("/runs", func(r chi.Router) {
		r.Get("/{runID}", GetRunStatus(state))
		r.Post("/{runID}/cancel", CancelRun(state))
	})

	return r
}
