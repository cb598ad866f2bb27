package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"personalmem/backend/internal/graph"
	"personalmem/backend/internal/memory"
	"personalmem/backend/internal/services"
	"personalmem/backend/pkg/config"
	memoryerrors "personalmem/backend/pkg/errors"
)

// newRouter wires all HTTP routes. Handlers stay thin: bind, delegate,
// map errors to status codes.
func newRouter(cfg *config.Config, log *zap.Logger, coordinator *memory.Coordinator, svc *services.MemoryService, chats services.ChatStore) *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		// Create a chat session
		api.POST("/chats", func(c *gin.Context) {
			var req struct {
				UserID string `json:"user_id" binding:"required"`
				Title  string `json:"title"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			chat, err := chats.CreateChat(c.Request.Context(), req.UserID, req.Title)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusCreated, chat)
		})

		// List a user's chats
		api.GET("/users/:id/chats", func(c *gin.Context) {
			list, err := chats.ListChats(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondError(c, log, err)
				return
			}
			if list == nil {
				list = []graph.Chat{}
			}
			c.JSON(http.StatusOK, list)
		})

		// Fetch chat messages (recent N, chronological)
		api.GET("/chats/:id/messages", func(c *gin.Context) {
			limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
			messages, err := chats.GetMessages(c.Request.Context(), c.Param("id"), limit)
			if err != nil {
				respondError(c, log, err)
				return
			}
			if messages == nil {
				messages = []graph.ChatMessage{}
			}
			c.JSON(http.StatusOK, messages)
		})

		// Process a user message: log it, extract memory, merge
		api.POST("/chats/messages", func(c *gin.Context) {
			var req struct {
				UserID  string `json:"user_id" binding:"required"`
				ChatID  string `json:"chat_id" binding:"required"`
				Message string `json:"message" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			ctx, cancel := applyContext(c, cfg)
			defer cancel()

			result, err := svc.ProcessUserMessage(ctx, req.UserID, req.ChatID, req.Message)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, result)
		})

		// Log an assistant response into a chat
		api.POST("/chats/responses", func(c *gin.Context) {
			var req struct {
				ChatID   string `json:"chat_id" binding:"required"`
				Response string `json:"response" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			if err := svc.AddAssistantResponse(c.Request.Context(), req.ChatID, req.Response); err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "logged"})
		})

		// Delete a chat and its history
		api.DELETE("/chats/:id", func(c *gin.Context) {
			if err := chats.DeleteChat(c.Request.Context(), c.Param("id")); err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "deleted"})
		})

		// Read a user's memory record
		api.GET("/users/:id/memories", func(c *gin.Context) {
			record, err := coordinator.GetRecord(c.Request.Context(), c.Param("id"))
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, recordResponse(record))
		})

		// Apply prefixed updates directly (extraction-shaped payload).
		// The raw body is parsed order-preserving so intra-batch ordering
		// follows the document.
		api.POST("/users/:id/memories", func(c *gin.Context) {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
				return
			}

			updates, warnings, err := memory.ParseUpdatesJSON(body)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			ctx, cancel := applyContext(c, cfg)
			defer cancel()

			record, changes, mergeWarnings, err := coordinator.ApplyUpdates(ctx, c.Param("id"), updates)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, applyResponse(record, changes, append(warnings, mergeWarnings...)))
		})

		// Administrative batch set: plain SET for every key, no prefixes
		api.PUT("/users/:id/memories", func(c *gin.Context) {
			var req struct {
				Fields map[string]any `json:"fields" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			ctx, cancel := applyContext(c, cfg)
			defer cancel()

			record, changes, warnings, err := coordinator.BatchSet(ctx, c.Param("id"), req.Fields)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, applyResponse(record, changes, warnings))
		})

		// Delete a user's entire memory record
		api.DELETE("/users/:id/memories", func(c *gin.Context) {
			if err := coordinator.DeleteRecord(c.Request.Context(), c.Param("id")); err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "deleted"})
		})

		// Memory context plus recent chat history for response generation
		api.GET("/users/:id/context/:chatId", func(c *gin.Context) {
			limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
			uc, err := svc.Context(c.Request.Context(), c.Param("id"), c.Param("chatId"), limit)
			if err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, uc)
		})
	}

	return router
}

// applyContext bounds a memory mutation with the configured apply timeout
func applyContext(c *gin.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	if cfg.ApplyTimeout <= 0 {
		return c.Request.Context(), func() {}
	}
	return context.WithTimeout(c.Request.Context(), cfg.ApplyTimeout)
}

func recordResponse(record *memory.FactRecord) gin.H {
	return gin.H{
		"user_id":    record.UserID,
		"fields":     record.PlainFields(),
		"version":    record.Version,
		"created_at": record.CreatedAt,
		"updated_at": record.UpdatedAt,
	}
}

func applyResponse(record *memory.FactRecord, changes []memory.Change, warnings []memory.Warning) gin.H {
	if changes == nil {
		changes = []memory.Change{}
	}
	resp := gin.H{
		"user_id": record.UserID,
		"fields":  record.PlainFields(),
		"version": record.Version,
		"changes": changes,
	}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	return resp
}

// respondError maps domain errors to HTTP status codes
func respondError(c *gin.Context, log *zap.Logger, err error) {
	var chatNotFound graph.ErrChatNotFound
	if errors.As(err, &chatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": chatNotFound.Error()})
		return
	}

	var typeConflict *memoryerrors.ErrFieldTypeConflict
	if errors.As(err, &typeConflict) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": typeConflict.Error()})
		return
	}

	var updateConflict *memoryerrors.ErrConcurrentUpdateConflict
	if errors.As(err, &updateConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": updateConflict.Error()})
		return
	}

	var timeout *memoryerrors.ErrApplyTimeout
	if errors.As(err, &timeout) {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": timeout.Error()})
		return
	}

	var storage *memoryerrors.ErrStorageUnavailable
	if errors.As(err, &storage) {
		log.Error("Storage unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}

	log.Error("Request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
