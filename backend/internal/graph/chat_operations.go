package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// ============================================================================
// Chat Operations
// ============================================================================

// CreateChat creates a new chat session for a user
func (r *Repository) CreateChat(ctx context.Context, userID, title string) (*Chat, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	now := time.Now().UTC()
	if title == "" {
		title = "Chat " + now.Format("2006-01-02 15:04")
	}
	chatID := uuid.New().String()

	query := `
		CREATE (c:Chat {
			chat_id: $chatID,
			user_id: $userID,
			title: $title,
			created_at: $now,
			updated_at: $now
		})
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"chatID": chatID,
		"userID": userID,
		"title":  title,
		"now":    now.Format(time.RFC3339Nano),
	})
	if err == nil {
		_, err = result.Consume(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	r.logger.Info("Chat created",
		zap.String("chat_id", chatID),
		zap.String("user_id", userID),
	)

	return &Chat{
		ChatID:    chatID,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ListChats returns all chats for a user, newest first
func (r *Repository) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (c:Chat {user_id: $userID})
		OPTIONAL MATCH (c)-[:CONTAINS]->(m:ChatMessage)
		RETURN c.chat_id as chat_id, c.title as title,
		       c.created_at as created_at, c.updated_at as updated_at,
		       count(m) as message_count
		ORDER BY c.created_at DESC
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userID": userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	var chats []Chat
	for result.Next(ctx) {
		record := result.Record()
		chats = append(chats, Chat{
			ChatID:       getStringFromRecord(record, "chat_id"),
			UserID:       userID,
			Title:        getStringFromRecord(record, "title"),
			CreatedAt:    getTimeFromRecord(record, "created_at"),
			UpdatedAt:    getTimeFromRecord(record, "updated_at"),
			MessageCount: getInt64FromRecord(record, "message_count"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	return chats, nil
}

// AppendMessage adds a message to a chat and bumps the chat's updated_at
func (r *Repository) AppendMessage(ctx context.Context, chatID, role, content string) (*ChatMessage, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	msgID := uuid.New().String()
	now := time.Now().UTC()

	query := `
		MATCH (c:Chat {chat_id: $chatID})
		CREATE (m:ChatMessage {
			id: $msgID,
			role: $role,
			content: $content,
			timestamp: $now
		})
		CREATE (c)-[:CONTAINS]->(m)
		SET c.updated_at = $now
		RETURN m.id as id
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"chatID":  chatID,
		"msgID":   msgID,
		"role":    role,
		"content": content,
		"now":     now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to append message: %w", err)
		}
		return nil, ErrChatNotFound{ChatID: chatID}
	}

	return &ChatMessage{
		ID:        msgID,
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		Timestamp: now,
	}, nil
}

// GetMessages returns the most recent messages of a chat in chronological
// order
func (r *Repository) GetMessages(ctx context.Context, chatID string, limit int) ([]ChatMessage, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	if limit < 1 {
		limit = 50
	}

	query := `
		MATCH (c:Chat {chat_id: $chatID})-[:CONTAINS]->(m:ChatMessage)
		RETURN m.id as id, m.role as role, m.content as content,
		       m.timestamp as timestamp
		ORDER BY m.timestamp DESC
		LIMIT $limit
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"chatID": chatID,
		"limit":  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	var messages []ChatMessage
	for result.Next(ctx) {
		record := result.Record()
		messages = append(messages, ChatMessage{
			ID:        getStringFromRecord(record, "id"),
			ChatID:    chatID,
			Role:      getStringFromRecord(record, "role"),
			Content:   getStringFromRecord(record, "content"),
			Timestamp: getTimeFromRecord(record, "timestamp"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	// Query returns newest first; flip to chronological for callers
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// DeleteChat removes a chat and all of its messages
func (r *Repository) DeleteChat(ctx context.Context, chatID string) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (c:Chat {chat_id: $chatID})
		OPTIONAL MATCH (c)-[:CONTAINS]->(m:ChatMessage)
		DETACH DELETE c, m
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"chatID": chatID,
	})
	if err == nil {
		_, err = result.Consume(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}

	r.logger.Info("Chat deleted", zap.String("chat_id", chatID))
	return nil
}
