package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"exam-session-service/internal/app"
	"exam-session-service/internal/domain"
)

// APIHandler exposes the session lifecycle over plain JSON endpoints.
// Identity arrives pre-resolved in the X-User-ID header; authentication
// itself lives in an upstream service.
type APIHandler struct {
	service *app.SessionService
}

func NewAPIHandler(service *app.SessionService) *APIHandler {
	return &APIHandler{service: service}
}

func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions/start", h.handleStart)
	mux.HandleFunc("POST /v1/sessions/{id}/submit", h.handleSubmit)
	mux.HandleFunc("POST /v1/sessions/{id}/end", h.handleEnd)
	mux.HandleFunc("GET /v1/sessions/{id}/status", h.handleStatus)
	mux.HandleFunc("GET /v1/records", h.handleHistory)
	mux.HandleFunc("GET /v1/records/{id}", h.handleRecord)
	mux.HandleFunc("POST /v1/records/{id}/feedback", h.handleFeedback)
	mux.HandleFunc("GET /v1/tests/{id}/leaderboard", h.handleLeaderboard)
}

type startRequest struct {
	TestID string `json:"testId"`
}

type submitRequest struct {
	Answers     []domain.Answer `json:"answers"`
	TimeExpired bool            `json:"timeExpired"`
}

type feedbackRequest struct {
	Rating   int    `json:"rating"`
	Comments string `json:"comments"`
}

func (h *APIHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TestID == "" {
		http.Error(w, "missing or invalid testId", http.StatusBadRequest)
		return
	}
	result, err := h.service.Start(r.Context(), req.TestID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *APIHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerID(w, r); !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid submit payload", http.StatusBadRequest)
		return
	}
	result, err := h.service.Submit(r.Context(), r.PathValue("id"), req.Answers, req.TimeExpired)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *APIHandler) handleEnd(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	if err := h.service.End(r.Context(), r.PathValue("id"), userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *APIHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *APIHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	records, err := h.service.History(r.Context(), userID, queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *APIHandler) handleRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Record(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *APIHandler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid feedback payload", http.StatusBadRequest)
		return
	}
	if err := h.service.AttachFeedback(r.Context(), r.PathValue("id"), userID, req.Rating, req.Comments); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *APIHandler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Leaderboard(r.Context(), r.PathValue("id"), queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		http.Error(w, "missing X-User-ID header", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return limit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTestNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTestInactive):
		return http.StatusGone
	case errors.Is(err, domain.ErrSessionCompleted),
		errors.Is(err, domain.ErrActiveSessionExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotSessionOwner),
		errors.Is(err, domain.ErrNotRecordOwner):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidAnswer),
		errors.Is(err, domain.ErrInvalidRating):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
