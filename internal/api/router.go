// internal/api/router.go
package api

import (
	"fmt"
	"net/http"

	"github.com/Corvane/StoryWeaver/internal/config"
	"github.com/Corvane/StoryWeaver/internal/di"
	"github.com/Corvane/StoryWeaver/internal/services"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	// 获取依赖注入容器
	container := di.GetContainer()

	// ✅ 只从容器获取服务，不再创建新实例
	saveService, ok := container.Get("save").(*services.SaveService)
	if !ok {
		return nil, fmt.Errorf("保存服务未正确初始化")
	}

	graphService, ok := container.Get("graph").(*services.GraphService)
	if !ok {
		return nil, fmt.Errorf("故事图服务未正确初始化")
	}

	playbackService, ok := container.Get("playback").(*services.PlaybackService)
	if !ok {
		return nil, fmt.Errorf("播放服务未正确初始化")
	}

	handler := NewHandler(saveService, graphService, playbackService)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// 启用CORS
	r.Use(corsMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(AuthMiddleware())

	// HTTPS重定向（生产环境）
	if !cfg.DebugMode {
		r.Use(func(c *gin.Context) {
			if c.Request.Header.Get("X-Forwarded-Proto") != "https" {
				c.Redirect(http.StatusPermanentRedirect,
					"https://"+c.Request.Host+c.Request.URL.Path)
				return
			}
			c.Next()
		})
	}

	// WebSocket 支持
	r.GET("/ws/playback/:session_id", handler.PlaybackWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.GET("/ws/status", handler.GetWebSocketStatus)

		// ===============================
		// 认证（开发模式下签发令牌）
		// ===============================
		if cfg.DebugMode {
			api.POST("/auth/token", handler.IssueToken)
		}

		// ===============================
		// 作者侧：章节、故事图与场景
		// ===============================
		novelsGroup := api.Group("/novels/:novel_id/episodes/:episode_id")
		{
			novelsGroup.GET("", handler.GetEpisode)
			novelsGroup.PUT("", RequireAuthenticated(), handler.UpsertEpisode)

			storyMapGroup := novelsGroup.Group("/story-map")
			{
				storyMapGroup.GET("", DefaultRateLimit(), handler.GetStoryMap)
				storyMapGroup.POST("", RequireAuthenticated(), SaveRateLimit(), handler.SaveStoryMap)
				storyMapGroup.DELETE("", RequireAuthenticated(), handler.DeleteStoryMap)
				storyMapGroup.GET("/validate", handler.ValidateStoryMap)
				storyMapGroup.GET("/nodes/:node_id/connections", handler.GetNodeConnections)
			}

			scenesGroup := novelsGroup.Group("/scenes")
			{
				scenesGroup.GET("/:scene_id", DefaultRateLimit(), handler.GetScene)
				scenesGroup.PUT("/:scene_id", RequireAuthenticated(), handler.PutScene)
			}
		}

		// ===============================
		// 读者侧：播放会话
		// ===============================
		playbackGroup := api.Group("/playback/sessions")
		playbackGroup.Use(PlaybackRateLimit())
		{
			playbackGroup.POST("", handler.CreateSession)
			playbackGroup.GET("/:session_id", handler.GetSessionState)
			playbackGroup.POST("/:session_id/advance", handler.AdvanceSession)
			playbackGroup.POST("/:session_id/rewind", handler.RewindSession)
			playbackGroup.POST("/:session_id/choice", handler.SelectChoice)
			playbackGroup.POST("/:session_id/jump", handler.JumpSession)
			playbackGroup.DELETE("/:session_id", handler.CloseSession)
		}
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
