package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dance-ticketing/internal/logger"
)

//go:embed templates/*.html static/*
var assets embed.FS

const pageTitle = "ダンススクール チケット管理"

type pageData struct {
	Title string
}

// Handler serves the browser shell and its static client.
type Handler struct {
	page   *template.Template
	static http.Handler
	logger *logger.Logger
}

func NewHandler(log *logger.Logger) (*Handler, error) {
	page, err := template.ParseFS(assets, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse index template: %w", err)
	}
	staticFS, err := fs.Sub(assets, "static")
	if err != nil {
		return nil, fmt.Errorf("static assets: %w", err)
	}
	return &Handler{
		page:   page,
		static: http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))),
		logger: log,
	}, nil
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Index)
	r.Handle("/static/*", h.static)
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.page.Execute(w, pageData{Title: pageTitle}); err != nil {
		h.logger.Error("WEB", fmt.Sprintf("Failed to render index: %v", err))
	}
}
