package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/almeidatech/quizbank/internal/i18n"
	"github.com/almeidatech/quizbank/internal/importer"
	"github.com/almeidatech/quizbank/internal/jobs"
	"github.com/almeidatech/quizbank/internal/llm"
	"github.com/almeidatech/quizbank/internal/model"
	"github.com/almeidatech/quizbank/internal/ratelimit"
	"github.com/almeidatech/quizbank/internal/store"
)

// Config holds handler-level settings.
type Config struct {
	SecureCookies  bool
	MaxUploadBytes int64
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	importer *importer.Orchestrator
	queue    *jobs.Queue
	limiter  ratelimit.Limiter
	llm      *llm.Client
	config   Config
}

// New creates a new Handler.
func New(s *store.Store, imp *importer.Orchestrator, q *jobs.Queue, lim ratelimit.Limiter, l *llm.Client, cfg Config) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &Handler{store: s, importer: imp, queue: q, limiter: lim, llm: l, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/login", h.handleLogin)
	r.Post("/api/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/api/questions", h.handleListQuestions)
		r.Get("/api/questions/{questionID}", h.handleGetQuestion)
		r.Get("/api/topics", h.handleListTopics)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(requireRole(model.UserRoleAdmin))
		r.Post("/api/admin/imports", h.handleUploadImport)
		r.Get("/api/admin/imports", h.handleListImports)
		r.Get("/api/admin/imports/{importID}", h.handleGetImport)
		r.Get("/api/admin/imports/{importID}/progress", h.handleImportProgress)
		r.Post("/api/admin/imports/{importID}/rollback", h.handleRollbackImport)
		r.Get("/api/admin/users", h.handleListUsers)
		r.Post("/api/admin/users", h.handleCreateUser)
		r.Post("/api/admin/users/{userID}/toggle", h.handleToggleUserActive)
		r.Post("/api/admin/questions/generate", h.handleGenerateQuestions)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// respondError writes a JSON error body with a localized message.
func respondError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	respondJSON(w, status, map[string]string{"error": appI18n.T(r.Context(), msgID)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return false
	}
	return true
}
