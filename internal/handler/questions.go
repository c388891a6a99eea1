package handler

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	difficulty := r.URL.Query().Get("difficulty")

	var topicID int64
	if ts := r.URL.Query().Get("topic_id"); ts != "" {
		id, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			http.Error(w, "invalid topic_id", http.StatusBadRequest)
			return
		}
		topicID = id
	}

	questions, err := h.store.ListQuestionsFiltered(difficulty, topicID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":     len(questions),
		"questions": questions,
	})
}

func (h *Handler) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "questionID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid question ID", http.StatusBadRequest)
		return
	}

	q, err := h.store.GetQuestion(id)
	if err == sql.ErrNoRows {
		respondError(w, r, http.StatusNotFound, "QuestionNotFound")
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

func (h *Handler) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.store.ListTopics()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, topics)
}
