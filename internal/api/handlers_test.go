package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumina.app/backend/internal/auth"
	"lumina.app/backend/internal/core"
	"lumina.app/backend/internal/store"
)

type stubCompleter struct {
	result core.TurnResult
}

func (s *stubCompleter) Complete(ctx context.Context, history []store.Message, userMessage, profile string) core.TurnResult {
	return s.result
}

type testEnv struct {
	router    http.Handler
	redis     *miniredis.Miniredis
	completer *stubCompleter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { users.Close() })

	mr := miniredis.RunT(t)
	sessions := store.NewRedisStore(mr.Addr())
	t.Cleanup(func() { sessions.Close() })

	completer := &stubCompleter{result: core.TurnResult{Response: "Hello! How can I help?"}}
	chatService := core.NewChatService(sessions, completer)
	tokens := auth.NewTokenService("test-secret", 30*time.Minute)

	handler := NewAPIHandler(users, tokens, chatService)
	return &testEnv{
		router:    NewRouter(handler),
		redis:     mr,
		completer: completer,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body string, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, body string) *httptest.ResponseRecorder {
	return e.do(t, method, path, token, body, "application/json")
}

// register creates a user and returns a bearer token for it.
func (e *testEnv) register(t *testing.T, email, password string) string {
	t.Helper()
	rr := e.doJSON(t, "POST", "/register", "", `{"email":"`+email+`","full_name":"A Student","password":"`+password+`"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	form := url.Values{"username": {email}, "password": {password}}
	rr = e.do(t, "POST", "/token", "", form.Encode(), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	require.Equal(t, "bearer", resp.TokenType)
	return resp.AccessToken
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)

	body := `{"email":"student@example.com","full_name":"A Student","password":"password123"}`
	rr := env.doJSON(t, "POST", "/register", "", body)
	require.Equal(t, http.StatusCreated, rr.Code)
	// The stored hash must never leak into the response.
	assert.NotContains(t, rr.Body.String(), "hashed_password")
	assert.NotContains(t, rr.Body.String(), "password123")

	rr = env.doJSON(t, "POST", "/register", "", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTokenRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "student@example.com", "password123")

	form := url.Values{"username": {"student@example.com"}, "password": {"wrong"}}
	rr := env.do(t, "POST", "/token", "", form.Encode(), "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	form = url.Values{"username": {"nobody@example.com"}, "password": {"password123"}}
	rr = env.do(t, "POST", "/token", "", form.Encode(), "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCurrentUserRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "student@example.com", "password123")

	rr := env.doJSON(t, "GET", "/users/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.doJSON(t, "GET", "/users/me", "garbage-token", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.doJSON(t, "GET", "/users/me", token, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var user store.User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &user))
	assert.Equal(t, "student@example.com", user.Email)
	assert.Equal(t, "A Student", user.FullName)
}

func TestChatLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "student@example.com", "password123")

	// Create a chat.
	rr := env.doJSON(t, "POST", "/chats", token, `{"title":"Algebra"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var chat store.ChatMetadata
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &chat))
	require.NotEmpty(t, chat.ID)
	assert.Equal(t, "Algebra", chat.Title)

	// It shows up in the listing.
	rr = env.doJSON(t, "GET", "/chats", token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var chats []store.ChatMetadata
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, chat.ID, chats[0].ID)

	// First turn: model supplies facts but no title, so the fallback
	// title (the short message verbatim) is returned and saved.
	facts := "User studies CS"
	env.completer.result = core.TurnResult{Response: "Welcome!", NewUserFacts: &facts}
	rr = env.doJSON(t, "POST", "/chat", token, `{"chat_id":"`+chat.ID+`","message":"help with algebra"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var reply core.TurnReply
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reply))
	assert.Equal(t, "Welcome!", reply.Response)
	assert.Equal(t, chat.ID, reply.ChatID)
	require.NotNil(t, reply.Title)
	assert.Equal(t, "help with algebra", *reply.Title)

	// The turn was persisted user-first.
	rr = env.doJSON(t, "GET", "/chats/"+chat.ID+"/history", token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var history []store.Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Equal(t, store.RoleUser, history[0].Role)
	assert.Equal(t, []string{"help with algebra"}, history[0].Parts)
	assert.Equal(t, store.RoleModel, history[1].Role)

	// The learned fact is visible on the profile endpoint.
	rr = env.doJSON(t, "GET", "/users/me/profile", token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var profile ProfileResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &profile))
	assert.Equal(t, "User studies CS", profile.ProfileText)
	assert.Equal(t, []string{"User studies CS"}, profile.Facts)

	// Second turn gets no title.
	rr = env.doJSON(t, "POST", "/chat", token, `{"chat_id":"`+chat.ID+`","message":"thanks"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reply))
	assert.Nil(t, reply.Title)

	// Delete removes metadata and history.
	rr = env.doJSON(t, "DELETE", "/chats/"+chat.ID, token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"deleted"}`, rr.Body.String())

	rr = env.doJSON(t, "GET", "/chats", token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = env.doJSON(t, "GET", "/chats/"+chat.ID+"/history", token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestCreateChatStorageDown(t *testing.T) {
	env := newTestEnv(t)
	token := env.register(t, "student@example.com", "password123")
	env.redis.Close()

	rr := env.doJSON(t, "POST", "/chats", token, `{"title":"Algebra"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	// Reads and the chat turn itself degrade instead of failing.
	rr = env.doJSON(t, "GET", "/chats", token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = env.doJSON(t, "POST", "/chat", token, `{"chat_id":"ghost","message":"hello"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var reply core.TurnReply
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reply))
	assert.Equal(t, "Hello! How can I help?", reply.Response)
}
