// Package http exposes the signaling relay over websockets behind a chi
// router.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handler struct {
	hub       *Hub
	staticDir string
}

func NewHandler(hub *Hub, staticDir string) *Handler {
	return &Handler{
		hub:       hub,
		staticDir: staticDir,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if h.staticDir != "" {
		fs := http.FileServer(http.Dir(h.staticDir))
		r.Handle("/*", fs)
	}

	return r
}
