package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ape-Alive/StoryX-sub001/internal/apperr"
	"github.com/Ape-Alive/StoryX-sub001/internal/config"
	"github.com/Ape-Alive/StoryX-sub001/internal/repository"
	"github.com/Ape-Alive/StoryX-sub001/internal/service"
)

// Handler HTTP 处理器，只暴露生成编排面；实体的增删改查在外部系统
type Handler struct {
	Repos      *repository.Repositories
	Config     *config.Config
	Scripts    *service.ScriptService
	Media      *service.MediaService
	Characters *service.CharacterService
}

// NewHandler 创建处理器，服务由调用方组装后注入
func NewHandler(
	repos *repository.Repositories,
	cfg *config.Config,
	scripts *service.ScriptService,
	media *service.MediaService,
	characters *service.CharacterService,
) *Handler {
	return &Handler{
		Repos:      repos,
		Config:     cfg,
		Scripts:    scripts,
		Media:      media,
		Characters: characters,
	}
}

// respondError 按错误类型映射 HTTP 状态码
func respondError(c *gin.Context, err error) {
	var appErr *apperr.AppError
	if !errors.As(err, &appErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch appErr.Type {
	case apperr.ErrorTypeValidation:
		status = http.StatusBadRequest
	case apperr.ErrorTypeNotFound:
		status = http.StatusNotFound
	case apperr.ErrorTypeInvalidTransition, apperr.ErrorTypeConflict:
		status = http.StatusConflict
	case apperr.ErrorTypeParse:
		status = http.StatusUnprocessableEntity
	case apperr.ErrorTypeProvider:
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": appErr.Message, "type": appErr.Type})
}
