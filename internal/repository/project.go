package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Ape-Alive/StoryX-sub001/internal/apperr"
	"github.com/Ape-Alive/StoryX-sub001/internal/model"
)

type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Get 查询项目，校验归属
func (r *ProjectRepository) Get(userID, projectID int64) (*model.Project, error) {
	var project model.Project
	err := r.db.Where("id = ? AND user_id = ?", projectID, userID).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NewNotFound(fmt.Sprintf("项目 %d 不存在", projectID))
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// UpdateStatus 更新项目生命周期状态
func (r *ProjectRepository) UpdateStatus(projectID int64, status model.ProjectStatus) error {
	return r.db.Model(&model.Project{}).
		Where("id = ?", projectID).
		Update("status", status).Error
}

// GetGenerationConfig 查询项目某能力的生成配置，未配置返回 nil
func (r *ProjectRepository) GetGenerationConfig(projectID int64, capability string) (*model.GenerationConfig, error) {
	var cfg model.GenerationConfig
	err := r.db.Where("project_id = ? AND capability = ?", projectID, capability).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpsertGenerationConfig 写入或更新项目生成配置
func (r *ProjectRepository) UpsertGenerationConfig(cfg *model.GenerationConfig) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "capability"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"model", "base_url", "api_key", "updated_at",
		}),
	}).Create(cfg).Error
}

// Delete 删除项目并级联清理全部下级实体
func (r *ProjectRepository) Delete(userID, projectID int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND user_id = ?", projectID, userID).Delete(&model.Project{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperr.NewNotFound(fmt.Sprintf("项目 %d 不存在", projectID))
		}

		if err := tx.Where("project_id = ?", projectID).Delete(&model.GenerationConfig{}).Error; err != nil {
			return err
		}
		var novelIDs []int64
		if err := tx.Model(&model.Novel{}).Where("project_id = ?", projectID).Pluck("id", &novelIDs).Error; err != nil {
			return err
		}
		if len(novelIDs) > 0 {
			if err := tx.Where("novel_id IN ?", novelIDs).Delete(&model.Chapter{}).Error; err != nil {
				return err
			}
			if err := tx.Where("novel_id IN ?", novelIDs).Delete(&model.ScriptTask{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&model.Novel{}).Error; err != nil {
			return err
		}
		var actIDs []int64
		if err := tx.Model(&model.Act{}).Where("project_id = ?", projectID).Pluck("id", &actIDs).Error; err != nil {
			return err
		}
		if len(actIDs) > 0 {
			var shotIDs []int64
			if err := tx.Model(&model.Shot{}).Where("act_id IN ?", actIDs).Pluck("id", &shotIDs).Error; err != nil {
				return err
			}
			if len(shotIDs) > 0 {
				if err := tx.Where("shot_id IN ?", shotIDs).Delete(&model.Dialogue{}).Error; err != nil {
					return err
				}
			}
			if err := tx.Where("act_id IN ?", actIDs).Delete(&model.Shot{}).Error; err != nil {
				return err
			}
			if err := tx.Where("act_id IN ?", actIDs).Delete(&model.Scene{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&model.Act{}).Error; err != nil {
			return err
		}
		// 项目级角色一并删除，全局角色（project_id=0）保留
		return tx.Where("project_id = ?", projectID).Delete(&model.Character{}).Error
	})
}
