package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-chi/chi/v5"

	"github.com/almeidatech/quizbank/internal/model"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		slog.Error("failed to list users", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
		Role        string `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password required", http.StatusBadRequest)
		return
	}
	role := model.UserRole(req.Role)
	if role == "" {
		role = model.UserRoleStudent
	}
	if role != model.UserRoleStudent && role != model.UserRoleAdmin {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	id, err := h.store.CreateUser(model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			respondError(w, r, http.StatusConflict, "UserExists")
			return
		}
		slog.Error("failed to create user", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"id":       id,
		"username": req.Username,
		"role":     role,
	})
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	if err := h.store.ToggleUserActive(id); err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"id": id})
}

func (h *Handler) handleGenerateQuestions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic      string `json:"topic"`
		Difficulty string `json:"difficulty"`
		Count      int    `json:"count"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Topic == "" {
		http.Error(w, "topic required", http.StatusBadRequest)
		return
	}
	if !model.ValidDifficulty(model.Difficulty(req.Difficulty)) {
		http.Error(w, "invalid difficulty", http.StatusBadRequest)
		return
	}
	if req.Count <= 0 {
		req.Count = 5
	}
	if req.Count > 20 {
		req.Count = 20
	}

	generated, err := h.llm.GenerateQuestions(r.Context(), req.Topic, req.Difficulty, req.Count)
	if err != nil {
		slog.Error("question generation failed", "topic", req.Topic, "error", err)
		http.Error(w, "generation failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	topicID, err := h.store.GetOrCreateTopic(req.Topic)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	user := model.UserFromContext(r.Context())
	var saved []model.Question
	for _, g := range generated {
		q := model.Question{
			Text:          g.Question,
			OptionA:       g.Options[0],
			OptionB:       g.Options[1],
			OptionC:       g.Options[2],
			OptionD:       g.Options[3],
			CorrectAnswer: strings.ToLower(strings.TrimSpace(g.CorrectAnswer)),
			Difficulty:    model.Difficulty(req.Difficulty),
			TopicID:       topicID,
			SourceType:    model.SourceAIGenerated,
			CreatedBy:     user.ID,
		}
		if len(g.Options) == 5 {
			q.OptionE = g.Options[4]
		}
		id, err := h.store.InsertQuestion(q)
		if err != nil {
			slog.Error("failed to insert generated question", "error", err)
			continue
		}
		q.ID = id
		saved = append(saved, q)
	}

	slog.Info("generated questions", "topic", req.Topic, "difficulty", req.Difficulty, "requested", req.Count, "saved", len(saved))
	respondJSON(w, http.StatusCreated, map[string]any{
		"topic_id":  topicID,
		"count":     len(saved),
		"questions": saved,
	})
}
