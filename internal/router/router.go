package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ape-Alive/StoryX-sub001/internal/handler"
	"github.com/Ape-Alive/StoryX-sub001/internal/middleware"
)

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler) {
	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ==================== 生成编排 API（需要身份令牌）====================
	api := r.Group("/api")
	api.Use(middleware.RequireAuth(h.Config.AppSecret))
	{
		// 剧本结构化
		api.POST("/novels/:id/structure", h.StructureNovel)
		api.GET("/novels/:id/acts", h.ListActs)
		api.GET("/script-tasks/:id", h.GetScriptTask)
		api.POST("/script-tasks/:id/regenerate", h.RegenerateScriptTask)

		// 媒体生成
		api.POST("/characters/draw", h.DrawCharacters)
		api.POST("/characters/merge", h.MergeCharacters)
		api.POST("/scenes/images", h.GenerateSceneImages)
		api.POST("/shots/videos", h.GenerateShotVideos)
		api.POST("/dialogues/audios", h.GenerateDialogueAudios)

		// 任务查询
		api.GET("/tasks", h.ListTasks)
		api.GET("/tasks/:id", h.GetTask)

		// 项目生成配置
		api.PUT("/projects/:id/status", h.UpdateProjectStatus)
		api.PUT("/projects/:id/config", h.UpsertProjectConfig)

		// 提示词模板
		api.POST("/prompts", h.CreatePrompt)
	}
}
