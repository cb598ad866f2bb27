package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"personalmem/backend/internal/graph"
)

// MemChatStore is an in-process ChatStore used when the server runs with
// MEMORY_BACKEND=memory and by tests. History does not survive a restart.
type MemChatStore struct {
	mu       sync.RWMutex
	chats    map[string]*graph.Chat
	messages map[string][]graph.ChatMessage
}

// NewMemChatStore creates an empty in-process chat store
func NewMemChatStore() *MemChatStore {
	return &MemChatStore{
		chats:    make(map[string]*graph.Chat),
		messages: make(map[string][]graph.ChatMessage),
	}
}

// CreateChat creates a new chat session for a user
func (s *MemChatStore) CreateChat(ctx context.Context, userID, title string) (*graph.Chat, error) {
	now := time.Now().UTC()
	if title == "" {
		title = "Chat " + now.Format("2006-01-02 15:04")
	}
	chat := &graph.Chat{
		ChatID:    uuid.New().String(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.chats[chat.ChatID] = chat
	s.mu.Unlock()

	out := *chat
	return &out, nil
}

// ListChats returns all chats for a user, newest first
func (s *MemChatStore) ListChats(ctx context.Context, userID string) ([]graph.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chats []graph.Chat
	for _, chat := range s.chats {
		if chat.UserID != userID {
			continue
		}
		out := *chat
		out.MessageCount = int64(len(s.messages[chat.ChatID]))
		chats = append(chats, out)
	}
	// Newest first, matching the graph-backed store
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].CreatedAt.After(chats[j].CreatedAt)
	})
	return chats, nil
}

// AppendMessage adds a message to a chat
func (s *MemChatStore) AppendMessage(ctx context.Context, chatID, role, content string) (*graph.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return nil, graph.ErrChatNotFound{ChatID: chatID}
	}

	msg := graph.ChatMessage{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	s.messages[chatID] = append(s.messages[chatID], msg)
	chat.UpdatedAt = msg.Timestamp
	return &msg, nil
}

// GetMessages returns the most recent messages in chronological order
func (s *MemChatStore) GetMessages(ctx context.Context, chatID string, limit int) ([]graph.ChatMessage, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[chatID]
	start := 0
	if len(all) > limit {
		start = len(all) - limit
	}
	out := make([]graph.ChatMessage, len(all)-start)
	copy(out, all[start:])
	return out, nil
}

// DeleteChat removes a chat and its messages
func (s *MemChatStore) DeleteChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
	delete(s.messages, chatID)
	return nil
}
