package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"personalmem/backend/internal/graph"
	"personalmem/backend/internal/memory"
	"personalmem/backend/pkg/logger"
)

// UpdateExtractor is the extraction collaborator boundary: it may
// legitimately return no updates when a message carries no durable
// personal information.
type UpdateExtractor interface {
	Extract(ctx context.Context, message string, currentFields map[string]any) ([]memory.ProposedUpdate, []memory.Warning, error)
}

// ChatStore is the chat history boundary implemented by graph.Repository
type ChatStore interface {
	CreateChat(ctx context.Context, userID, title string) (*graph.Chat, error)
	ListChats(ctx context.Context, userID string) ([]graph.Chat, error)
	AppendMessage(ctx context.Context, chatID, role, content string) (*graph.ChatMessage, error)
	GetMessages(ctx context.Context, chatID string, limit int) ([]graph.ChatMessage, error)
	DeleteChat(ctx context.Context, chatID string) error
}

// MemoryService wires chat history, extraction, and the merge coordinator
// into the message-processing flow
type MemoryService struct {
	coordinator *memory.Coordinator
	extractor   UpdateExtractor
	chats       ChatStore
	logger      *zap.Logger
}

// NewMemoryService creates the service. extractor may be nil, in which case
// messages are logged to chat history but no memory is extracted.
func NewMemoryService(coordinator *memory.Coordinator, extractor UpdateExtractor, chats ChatStore) *MemoryService {
	return &MemoryService{
		coordinator: coordinator,
		extractor:   extractor,
		chats:       chats,
		logger:      logger.Get(),
	}
}

// ProcessResult is the outcome of processing one user message
type ProcessResult struct {
	ChatID        string           `json:"chat_id"`
	MemoryContext string           `json:"memory_context"`
	Changes       []memory.Change  `json:"extracted_memories"`
	Warnings      []memory.Warning `json:"warnings,omitempty"`
}

// ProcessUserMessage logs the message to its chat, extracts personal
// information, and merges it into the user's record. Extraction and merge
// failures are logged but never lose the chat message; the strict error
// surface for memory mutation is the coordinator's own API.
func (s *MemoryService) ProcessUserMessage(ctx context.Context, userID, chatID, message string) (*ProcessResult, error) {
	if _, err := s.chats.AppendMessage(ctx, chatID, "user", message); err != nil {
		return nil, fmt.Errorf("failed to log user message: %w", err)
	}

	record, err := s.coordinator.GetRecord(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{ChatID: chatID, Changes: []memory.Change{}}

	if s.extractor != nil {
		updates, warnings, err := s.extractor.Extract(ctx, message, record.PlainFields())
		result.Warnings = warnings
		if err != nil {
			s.logger.Warn("Memory extraction failed, continuing without updates",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		} else if len(updates) > 0 {
			newRecord, changes, mergeWarnings, err := s.coordinator.ApplyUpdates(ctx, userID, updates)
			result.Warnings = append(result.Warnings, mergeWarnings...)
			if err != nil {
				s.logger.Error("Memory merge failed",
					zap.String("user_id", userID),
					zap.Error(err),
				)
			} else {
				record = newRecord
				result.Changes = changes
			}
		}
	}

	result.MemoryContext = FormatMemoryContext(record)
	return result, nil
}

// AddAssistantResponse appends an assistant message to a chat
func (s *MemoryService) AddAssistantResponse(ctx context.Context, chatID, response string) error {
	if _, err := s.chats.AppendMessage(ctx, chatID, "assistant", response); err != nil {
		return fmt.Errorf("failed to log assistant response: %w", err)
	}
	return nil
}

// UserContext bundles what a response generator needs about a user
type UserContext struct {
	UserID         string             `json:"user_id"`
	ChatID         string             `json:"chat_id"`
	MemoryContext  string             `json:"memory_context"`
	RecentMessages []graph.ChatMessage `json:"recent_messages"`
}

// Context returns the user's memory context plus recent chat history
func (s *MemoryService) Context(ctx context.Context, userID, chatID string, historyLimit int) (*UserContext, error) {
	record, err := s.coordinator.GetRecord(ctx, userID)
	if err != nil {
		return nil, err
	}

	messages, err := s.chats.GetMessages(ctx, chatID, historyLimit)
	if err != nil {
		return nil, err
	}

	return &UserContext{
		UserID:         userID,
		ChatID:         chatID,
		MemoryContext:  FormatMemoryContext(record),
		RecentMessages: messages,
	}, nil
}

// FormatMemoryContext renders a record for prompt injection. Empty records
// render as an empty string so callers can skip the section entirely.
func FormatMemoryContext(record *memory.FactRecord) string {
	if record == nil || len(record.Fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(record.Fields))
	for key := range record.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := []string{"User Personal Information:"}
	for _, key := range keys {
		value := record.Fields[key]
		var rendered string
		if value.Kind == memory.KindList {
			items := make([]string, 0, len(value.List))
			for _, item := range value.List {
				items = append(items, fmt.Sprint(item))
			}
			rendered = strings.Join(items, ", ")
		} else {
			rendered = fmt.Sprint(value.Scalar)
		}
		parts = append(parts, fmt.Sprintf("- %s: %s", key, rendered))
	}

	return strings.Join(parts, "\n")
}
