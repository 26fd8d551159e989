// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
)

// MemoryService is the slice of the memory layer the admin endpoints need.
type MemoryService interface {
	Profile(userID string) map[string]string
	UpdateProfile(userID string, updates map[string]string)
	Summary(ctx context.Context, userID string) (string, error)
	Clear(userID string)
}

// FactAdmin is the slice of the vector store the admin endpoints need.
type FactAdmin interface {
	// GetVoiceProfile returns the persisted profile, or "" when absent.
	GetVoiceProfile(ctx context.Context, userID string) (string, error)

	// ClearUser removes all records for the user, returning the count.
	ClearUser(ctx context.Context, userID string) (int, error)
}

// MemoryHandler serves the memory admin endpoints.
type MemoryHandler struct {
	memory MemoryService
	store  FactAdmin
}

func NewMemoryHandler(memory MemoryService, store FactAdmin) *MemoryHandler {
	return &MemoryHandler{memory: memory, store: store}
}

// HandleGetProfile serves GET /v1/memory/profile/:user_id. The in-process
// profile is merged with the persisted voice profile.
func (h *MemoryHandler) HandleGetProfile(c *gin.Context) {
	userID := c.Param("user_id")
	profile := h.memory.Profile(userID)
	if profile == nil {
		profile = map[string]string{}
	}

	if h.store != nil {
		voiceProfile, err := h.store.GetVoiceProfile(c.Request.Context(), userID)
		if err != nil {
			slog.Warn("Failed to read persisted voice profile", "userID", userID, "error", err)
		} else if voiceProfile != "" {
			profile["voice_profile"] = voiceProfile
		}
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "profile": profile})
}

// HandleUpdateProfile serves POST /v1/memory/profile/:user_id. The body is a
// flat key/value object; empty values delete the key.
func (h *MemoryHandler) HandleUpdateProfile(c *gin.Context) {
	userID := c.Param("user_id")

	var updates map[string]string
	if err := c.BindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no profile updates provided"})
		return
	}

	h.memory.UpdateProfile(userID, updates)
	slog.Info("User profile updated", "userID", userID, "keys", len(updates))
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "profile": h.memory.Profile(userID)})
}

// HandleGetSummary serves GET /v1/memory/summary/:user_id.
func (h *MemoryHandler) HandleGetSummary(c *gin.Context) {
	ctx, span := chatTracer.Start(c.Request.Context(), "HandleGetSummary")
	defer span.End()

	userID := c.Param("user_id")
	summary, err := h.memory.Summary(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "summary": summary})
}

// HandleClear serves DELETE /v1/memory/:user_id. Both the in-process
// conversation state and the persisted facts are removed.
func (h *MemoryHandler) HandleClear(c *gin.Context) {
	ctx, span := chatTracer.Start(c.Request.Context(), "HandleClear")
	defer span.End()

	userID := c.Param("user_id")
	h.memory.Clear(userID)

	var deleted int
	var err error
	if h.store != nil {
		deleted, err = h.store.ClearUser(ctx, userID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Failed to clear persisted memory", "userID", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear persisted memory"})
		return
	}

	slog.Info("User memory cleared", "userID", userID, "deletedFacts", deleted)
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "deleted_facts": deleted})
}
