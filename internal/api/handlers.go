package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"omfinance.app/advisor/internal/auth"
	"omfinance.app/advisor/internal/core"
	"omfinance.app/advisor/internal/store"
)

type APIHandler struct {
	advisor *core.AdvisorService
	store   *store.SQLiteStore
}

func NewAPIHandler(advisor *core.AdvisorService, dbStore *store.SQLiteStore) *APIHandler {
	return &APIHandler{advisor: advisor, store: dbStore}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Success: false, Message: message})
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		externalUserID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		user, err := h.store.GetUserByExternalID(externalUserID)
		if err != nil {
			log.Printf("Error in JWTAuthMiddleware for user %s: %v", externalUserID, err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}

		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type contextKey string

const userIDKey contextKey = "userID"

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.Password == "" {
		http.Error(w, "User ID and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUserByExternalID(req.UserID)
	if err != nil {
		log.Printf("Error getting user %s: %v", req.UserID, err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(req.UserID)
	if err != nil {
		log.Printf("Error generating JWT for user %s: %v", req.UserID, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// AdvisorChatHandler streams an advisor reply. The response commits to
// a thread id via header before the first body byte; the body is plain
// text chunks as the provider produces them.
func (h *APIHandler) AdvisorChatHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(int64)

	var req core.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	session, err := h.advisor.StartChat(r.Context(), userID, req)
	if err != nil {
		h.writeAdvisorError(w, userID, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Thread-Id", session.ThreadID)
	w.Header().Set("Access-Control-Expose-Headers", "X-Thread-Id")
	w.WriteHeader(http.StatusOK)

	session.Stream(w)
}

func (h *APIHandler) writeAdvisorError(w http.ResponseWriter, userID int64, err error) {
	switch {
	case errors.Is(err, core.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "Message cannot be empty")
	case errors.Is(err, core.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "Too many requests, please slow down")
	case errors.Is(err, core.ErrRateLimiterUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable, please retry")
	case errors.Is(err, core.ErrThreadNotFound):
		writeError(w, http.StatusNotFound, "Thread not found")
	case errors.Is(err, core.ErrProviderTimeout):
		writeError(w, http.StatusGatewayTimeout, "The advisor took too long to respond, please try again")
	case errors.Is(err, core.ErrProviderNotConfigured):
		writeError(w, http.StatusInternalServerError, "AI service not configured")
	default:
		log.Printf("Advisor chat failed for user %d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to process advisor request")
	}
}

func (h *APIHandler) ListThreadsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(int64)

	threads, err := h.store.ListThreads(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing threads for user %d: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to list threads")
		return
	}
	if threads == nil {
		threads = []store.Thread{}
	}
	json.NewEncoder(w).Encode(threads)
}

func (h *APIHandler) GetThreadHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(int64)
	threadID := chi.URLParam(r, "threadID")

	thread, err := h.store.Thread(r.Context(), userID, threadID)
	if err != nil {
		log.Printf("Error getting thread %s for user %d: %v", threadID, userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to get thread")
		return
	}
	if thread == nil {
		writeError(w, http.StatusNotFound, "Thread not found")
		return
	}
	json.NewEncoder(w).Encode(thread)
}
