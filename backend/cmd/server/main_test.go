package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"personalmem/backend/internal/memory"
	"personalmem/backend/internal/services"
	"personalmem/backend/pkg/config"
)

func testServer() (*gin.Engine, *services.MemChatStore) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		MemoryBackend: "memory",
		CASMaxRetries: 5,
		ApplyTimeout:  2 * time.Second,
		ConflictPairs: []config.ConflictPair{{A: "likes", B: "dislikes"}},
	}

	log := zap.NewNop()
	chats := services.NewMemChatStore()
	engine := memory.NewEngine([]memory.ConflictPair{{A: "likes", B: "dislikes"}})
	coordinator := memory.NewCoordinator(memory.NewMemStore(), engine, cfg.CASMaxRetries)
	svc := services.NewMemoryService(coordinator, nil, chats)

	return newRouter(cfg, log, coordinator, svc, chats), chats
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := testServer()

	w := doJSON(router, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestMemoriesRoundTrip(t *testing.T) {
	router, _ := testServer()

	w := doJSON(router, "PUT", "/api/users/user-1/memories", gin.H{
		"fields": gin.H{
			"name":   "John",
			"skills": []string{"Go", "Rust"},
		},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var putResp struct {
		Version int64           `json:"version"`
		Changes []memory.Change `json:"changes"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &putResp))
	assert.Equal(t, int64(1), putResp.Version)
	assert.Len(t, putResp.Changes, 2)

	w = doJSON(router, "GET", "/api/users/user-1/memories", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var getResp struct {
		UserID  string         `json:"user_id"`
		Fields  map[string]any `json:"fields"`
		Version int64          `json:"version"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &getResp))
	assert.Equal(t, "user-1", getResp.UserID)
	assert.Equal(t, int64(1), getResp.Version)
	assert.Equal(t, "John", getResp.Fields["name"])
	assert.Equal(t, []any{"Go", "Rust"}, getResp.Fields["skills"])
}

func TestMemoriesPrefixedUpdates(t *testing.T) {
	router, _ := testServer()

	w := doJSON(router, "PUT", "/api/users/user-1/memories", gin.H{
		"fields": gin.H{"skills": []string{"Python", "Java", "React"}},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "POST", "/api/users/user-1/memories", gin.H{
		"remove_skills":  []string{"Java"},
		"replace_skills": []string{"TypeScript", "Go"},
		"name":           "John",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Fields  map[string]any  `json:"fields"`
		Version int64           `json:"version"`
		Changes []memory.Change `json:"changes"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Version)
	assert.Equal(t, []any{"TypeScript", "Go"}, resp.Fields["skills"])
	assert.Equal(t, "John", resp.Fields["name"])
}

func TestMemoriesTypeConflict(t *testing.T) {
	router, _ := testServer()

	w := doJSON(router, "PUT", "/api/users/user-1/memories", gin.H{
		"fields": gin.H{"role": "developer"},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "POST", "/api/users/user-1/memories", gin.H{
		"role": []string{"developer", "manager"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// The record is untouched after the rejected batch
	w = doJSON(router, "GET", "/api/users/user-1/memories", nil)
	var resp struct {
		Version int64 `json:"version"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Version)
}

func TestMemoriesBadPayloads(t *testing.T) {
	router, _ := testServer()

	req, _ := http.NewRequest("POST", "/api/users/user-1/memories", bytes.NewBufferString(`[1, 2]`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, "PUT", "/api/users/user-1/memories", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMemoriesDelete(t *testing.T) {
	router, _ := testServer()

	w := doJSON(router, "PUT", "/api/users/user-1/memories", gin.H{
		"fields": gin.H{"name": "John"},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "DELETE", "/api/users/user-1/memories", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "GET", "/api/users/user-1/memories", nil)
	var resp struct {
		Version int64          `json:"version"`
		Fields  map[string]any `json:"fields"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(0), resp.Version)
	assert.Empty(t, resp.Fields)
}

func TestChatFlow(t *testing.T) {
	router, _ := testServer()

	w := doJSON(router, "POST", "/api/chats", gin.H{"user_id": "user-1", "title": "First chat"})
	assert.Equal(t, http.StatusCreated, w.Code)

	var chat struct {
		ChatID string `json:"chat_id"`
		Title  string `json:"title"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &chat))
	assert.NotEmpty(t, chat.ChatID)
	assert.Equal(t, "First chat", chat.Title)

	w = doJSON(router, "POST", "/api/chats/messages", gin.H{
		"user_id": "user-1",
		"chat_id": chat.ChatID,
		"message": "Hello there",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "POST", "/api/chats/responses", gin.H{
		"chat_id":  chat.ChatID,
		"response": "Hi! How can I help?",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "GET", "/api/chats/"+chat.ChatID+"/messages", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
	assert.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)

	w = doJSON(router, "GET", "/api/users/user-1/chats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), chat.ChatID)

	w = doJSON(router, "GET", "/api/users/user-1/context/"+chat.ChatID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "recent_messages")

	w = doJSON(router, "DELETE", "/api/chats/"+chat.ChatID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatValidation(t *testing.T) {
	router, _ := testServer()

	w := doJSON(router, "POST", "/api/chats", gin.H{"title": "missing user"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, "POST", "/api/chats/messages", gin.H{
		"user_id": "user-1",
		"chat_id": "no-such-chat",
		"message": "hello",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	router, _ := testServer()

	req, _ := http.NewRequest("OPTIONS", "/api/chats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
