// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexyujiuqiao/IM/handlers"
	"github.com/alexyujiuqiao/IM/middleware"
)

// Deps carries the constructed handlers wired into the router.
type Deps struct {
	Chat   *handlers.ChatHandler
	Memory *handlers.MemoryHandler
	Auth   middleware.AuthProvider
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.Auth))
	{
		chat := v1.Group("/chat")
		{
			chat.POST("/text", deps.Chat.HandleText)
			chat.POST("/audio", deps.Chat.HandleAudio)
			chat.POST("/mobile", deps.Chat.HandleMobile)
		}
		// Memory administration routes
		memory := v1.Group("/memory")
		{
			memory.GET("/profile/:user_id", deps.Memory.HandleGetProfile)
			memory.POST("/profile/:user_id", deps.Memory.HandleUpdateProfile)
			memory.GET("/summary/:user_id", deps.Memory.HandleGetSummary)
			memory.DELETE("/:user_id", deps.Memory.HandleClear)
		}
	}
}
