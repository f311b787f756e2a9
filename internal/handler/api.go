package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ape-Alive/StoryX-sub001/internal/middleware"
	"github.com/Ape-Alive/StoryX-sub001/internal/model"
	"github.com/Ape-Alive/StoryX-sub001/internal/service"
)

// StructureNovel 对小说发起剧本结构化，立即返回任务 ID 列表
func (h *Handler) StructureNovel(c *gin.Context) {
	userID := middleware.GetUserID(c)
	novelID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "小说 ID 无效"})
		return
	}
	var opts service.StructureOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	taskIDs, err := h.Scripts.CreateTasks(c.Request.Context(), userID, novelID, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_ids": taskIDs})
}

// GetScriptTask 查询结构化任务
func (h *Handler) GetScriptTask(c *gin.Context) {
	userID := middleware.GetUserID(c)
	task, err := h.Repos.Script.GetTask(userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// RegenerateScriptTask 对已终结的结构化任务重新生成
func (h *Handler) RegenerateScriptTask(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if err := h.Scripts.RegenerateScript(c.Request.Context(), userID, c.Param("id"), overwriteParam(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": c.Param("id")})
}

// overwriteParam 重新生成默认覆盖旧产出，只有显式 overwrite=false 才并存
func overwriteParam(c *gin.Context) bool {
	return c.Query("overwrite") != "false"
}

// ListActs 按叙事顺序列出小说的幕
func (h *Handler) ListActs(c *gin.Context) {
	userID := middleware.GetUserID(c)
	novelID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "小说 ID 无效"})
		return
	}
	acts, err := h.Scripts.ListActs(userID, novelID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acts": acts})
}

// generateRequest 媒体生成请求体
type generateRequest struct {
	IDs     []int64                 `json:"ids" binding:"required,min=1"`
	Options service.GenerateOptions `json:"options"`
}

// DrawCharacters 批量生成角色形象图
func (h *Handler) DrawCharacters(c *gin.Context) {
	h.generate(c, h.Media.DrawCharacters)
}

// GenerateSceneImages 批量生成场景图
func (h *Handler) GenerateSceneImages(c *gin.Context) {
	h.generate(c, h.Media.GenerateSceneImages)
}

// GenerateShotVideos 批量生成镜头视频
func (h *Handler) GenerateShotVideos(c *gin.Context) {
	h.generate(c, h.Media.GenerateShotVideos)
}

// GenerateDialogueAudios 批量生成台词音频
func (h *Handler) GenerateDialogueAudios(c *gin.Context) {
	h.generate(c, h.Media.GenerateDialogueAudios)
}

func (h *Handler) generate(c *gin.Context, invoke func(ctx context.Context, userID int64, ids []int64, opts service.GenerateOptions) (*service.GenerateResponse, error)) {
	userID := middleware.GetUserID(c)
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := invoke(c.Request.Context(), userID, req.IDs, req.Options)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// GetTask 查询生成任务
func (h *Handler) GetTask(c *gin.Context) {
	userID := middleware.GetUserID(c)
	task, err := h.Repos.Task.Get(userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// ListTasks 查询某实体名下指定种类的生成任务（轮询批次进度用）
func (h *Handler) ListTasks(c *gin.Context) {
	userID := middleware.GetUserID(c)
	ownerID, err := strconv.ParseInt(c.Query("owner_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id 无效"})
		return
	}
	kind := model.TaskKind(c.Query("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind 无效"})
		return
	}
	tasks, err := h.Repos.Task.ListByOwner(userID, ownerID, kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// statusRequest 项目状态更新请求体
type statusRequest struct {
	Status model.ProjectStatus `json:"status" binding:"required"`
}

// UpdateProjectStatus 推进项目生命周期状态
func (h *Handler) UpdateProjectStatus(c *gin.Context) {
	userID := middleware.GetUserID(c)
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "项目 ID 无效"})
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status 无效"})
		return
	}
	// 先校验归属再更新
	if _, err := h.Repos.Project.Get(userID, projectID); err != nil {
		respondError(c, err)
		return
	}
	if err := h.Repos.Project.UpdateStatus(projectID, req.Status); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

// configRequest 项目生成配置请求体
type configRequest struct {
	Capability string `json:"capability" binding:"required,oneof=llm image video tts"`
	Model      string `json:"model" binding:"required"`
	BaseURL    string `json:"base_url" binding:"required"`
	APIKey     string `json:"api_key"`
}

// UpsertProjectConfig 写入或更新项目某能力的生成配置
func (h *Handler) UpsertProjectConfig(c *gin.Context) {
	userID := middleware.GetUserID(c)
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "项目 ID 无效"})
		return
	}
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.Repos.Project.Get(userID, projectID); err != nil {
		respondError(c, err)
		return
	}
	cfg := &model.GenerationConfig{
		ProjectID:  projectID,
		Capability: req.Capability,
		Model:      req.Model,
		BaseURL:    req.BaseURL,
		APIKey:     req.APIKey,
		UpdatedAt:  time.Now(),
	}
	if err := h.Repos.Project.UpsertGenerationConfig(cfg); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"capability": req.Capability})
}

// promptRequest 提示词模板创建请求体
type promptRequest struct {
	Name    string `json:"name" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// CreatePrompt 创建提示词模板，ID 供生成选项 feature_prompt_id 引用
func (h *Handler) CreatePrompt(c *gin.Context) {
	userID := middleware.GetUserID(c)
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prompt, err := h.Repos.Prompt.Create(userID, req.Name, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, prompt)
}

// mergeRequest 角色合并请求体
type mergeRequest struct {
	ProjectID int64 `json:"project_id"`
	NovelID   int64 `json:"novel_id"`
}

// MergeCharacters 对一个合并域内的同名角色去重
func (h *Handler) MergeCharacters(c *gin.Context) {
	userID := middleware.GetUserID(c)
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	merged, err := h.Characters.Merge(model.MergeScope{
		UserID:    userID,
		ProjectID: req.ProjectID,
		NovelID:   req.NovelID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"merged": merged})
}
