package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lumina.app/backend/internal/auth"
	"lumina.app/backend/internal/core"
	"lumina.app/backend/internal/store"
)

type contextKey string

const userContextKey contextKey = "user"

type APIHandler struct {
	users       store.UserStore
	tokens      *auth.TokenService
	chatService *core.ChatService
}

func NewAPIHandler(users store.UserStore, tokens *auth.TokenService, cs *core.ChatService) *APIHandler {
	return &APIHandler{users: users, tokens: tokens, chatService: cs}
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "online",
		"message": "Lumina Backend Active",
	})
}

func (h *APIHandler) BearerAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		email, err := h.tokens.Verify(tokenString)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) {
				http.Error(w, "Token expired", http.StatusUnauthorized)
			} else {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
			}
			return
		}

		user, err := h.users.FindByEmail(email)
		if err != nil {
			log.Printf("Error resolving user %s in BearerAuthMiddleware: %v", email, err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "User not found", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentUser(r *http.Request) *store.User {
	return r.Context().Value(userContextKey).(*store.User)
}

// sessionUserID is the key-value-store namespace for a user: the decimal
// form of the relational row id.
func sessionUserID(user *store.User) string {
	return strconv.FormatInt(user.ID, 10)
}

type RegisterRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Error hashing password for user %s: %v", req.Email, err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user, err := h.users.CreateUser(req.Email, req.FullName, hashedPassword)
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			http.Error(w, "A user with this email already exists.", http.StatusBadRequest)
			return
		}
		log.Printf("Error creating user %s: %v", req.Email, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// TokenHandler accepts a form-encoded username/password pair, where
// username carries the email, and returns a bearer token.
func (h *APIHandler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form body: "+err.Error(), http.StatusBadRequest)
		return
	}
	email := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.users.FindByEmail(email)
	if err != nil {
		log.Printf("Error getting user %s: %v", email, err)
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if user == nil {
		http.Error(w, "User with this email does not exist.", http.StatusUnauthorized)
		return
	}
	if !auth.CheckPasswordHash(password, user.HashedPassword) {
		http.Error(w, "Incorrect password provided.", http.StatusUnauthorized)
		return
	}

	token, err := h.tokens.Issue(user.Email)
	if err != nil {
		log.Printf("Error issuing token for user %s: %v", email, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(TokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (h *APIHandler) CurrentUserHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(currentUser(r))
}

type ProfileResponse struct {
	ProfileText string   `json:"profile_text"`
	Facts       []string `json:"facts"`
}

func (h *APIHandler) UserProfileHandler(w http.ResponseWriter, r *http.Request) {
	profile, facts := h.chatService.Profile(r.Context(), sessionUserID(currentUser(r)))
	json.NewEncoder(w).Encode(ProfileResponse{ProfileText: profile, Facts: facts})
}

type CreateChatRequest struct {
	Title string `json:"title"`
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.Title == "" {
		req.Title = "New Chat"
	}

	user := currentUser(r)
	chat, err := h.chatService.CreateChat(r.Context(), sessionUserID(user), req.Title)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			http.Error(w, "Chat service unavailable", http.StatusServiceUnavailable)
			return
		}
		log.Printf("Error creating chat for user %d: %v", user.ID, err)
		http.Error(w, "Failed to create chat", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(chat)
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	chats := h.chatService.ListChats(r.Context(), sessionUserID(currentUser(r)))
	if chats == nil {
		chats = []store.ChatMetadata{}
	}
	json.NewEncoder(w).Encode(chats)
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	h.chatService.DeleteChat(r.Context(), sessionUserID(currentUser(r)), chatID)
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

func (h *APIHandler) ChatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	history := h.chatService.History(r.Context(), chi.URLParam(r, "chatID"))
	if history == nil {
		history = []store.Message{}
	}
	json.NewEncoder(w).Encode(history)
}

type ChatRequest struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ChatID == "" || req.Message == "" {
		http.Error(w, "chat_id and message are required", http.StatusBadRequest)
		return
	}

	reply := h.chatService.PostMessage(r.Context(), sessionUserID(currentUser(r)), req.ChatID, req.Message)
	json.NewEncoder(w).Encode(reply)
}
