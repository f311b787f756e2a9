package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Ape-Alive/StoryX-sub001/internal/apperr"
	"github.com/Ape-Alive/StoryX-sub001/internal/model"
)

type PromptRepository struct {
	db *gorm.DB
}

func NewPromptRepository(db *gorm.DB) *PromptRepository {
	return &PromptRepository{db: db}
}

// Get 查询提示词模板，校验归属
func (r *PromptRepository) Get(userID int64, promptID string) (*model.FeaturePrompt, error) {
	var prompt model.FeaturePrompt
	err := r.db.Where("id = ? AND user_id = ?", promptID, userID).First(&prompt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NewNotFound(fmt.Sprintf("提示词模板 %s 不存在", promptID))
	}
	if err != nil {
		return nil, err
	}
	return &prompt, nil
}

// Create 创建提示词模板
func (r *PromptRepository) Create(userID int64, name, content string) (*model.FeaturePrompt, error) {
	prompt := &model.FeaturePrompt{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := r.db.Create(prompt).Error; err != nil {
		return nil, err
	}
	return prompt, nil
}
