package handler

import (
	"net/http"

	"github.com/vendi-market/vendi/internal/http/render"
)

type PageHandler struct {
	renderer render.Renderer
}

func NewPageHandler(renderer render.Renderer) *PageHandler {
	return &PageHandler{renderer: renderer}
}

func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusOK, render.PageHome, "Vendi - Buy and Sell", nil)
}

func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, r, http.StatusNotFound, render.PageNotFound, "404 - Page Not Found", nil)
}

// Static returns a handler that renders page with title.
func (h *PageHandler) Static(page, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.renderer.Render(w, r, http.StatusOK, page, title, nil)
	}
}
