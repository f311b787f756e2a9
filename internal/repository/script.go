package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/Ape-Alive/StoryX-sub001/internal/apperr"
	"github.com/Ape-Alive/StoryX-sub001/internal/model"
)

// ScriptRepository 剧本结构化任务与内容树（幕/场景/镜头/台词）存储
type ScriptRepository struct {
	db *gorm.DB
}

func NewScriptRepository(db *gorm.DB) *ScriptRepository {
	return &ScriptRepository{db: db}
}

// CreateTask 创建结构化任务
func (r *ScriptRepository) CreateTask(novelID, projectID, userID int64, chapterIDs []int64, taskType model.ScriptTaskType) (*model.ScriptTask, error) {
	task := &model.ScriptTask{
		ID:         uuid.NewString(),
		NovelID:    novelID,
		ProjectID:  projectID,
		UserID:     userID,
		ChapterIDs: pq.Int64Array(chapterIDs),
		Type:       taskType,
		Status:     model.TaskStatusPending,
		CreatedAt:  time.Now(),
	}
	if err := r.db.Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask 查询结构化任务，校验归属
func (r *ScriptRepository) GetTask(userID int64, taskID string) (*model.ScriptTask, error) {
	var task model.ScriptTask
	err := r.db.Where("id = ? AND user_id = ?", taskID, userID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NewNotFound(fmt.Sprintf("结构化任务 %s 不存在", taskID))
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasksByNovel 查询小说名下全部结构化任务
func (r *ScriptRepository) ListTasksByNovel(novelID int64) ([]model.ScriptTask, error) {
	var tasks []model.ScriptTask
	err := r.db.Where("novel_id = ?", novelID).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

// MarkTaskProcessing 将 pending 任务置为 processing
func (r *ScriptRepository) MarkTaskProcessing(taskID string) error {
	now := time.Now()
	result := r.db.Model(&model.ScriptTask{}).
		Where("id = ? AND status = ?", taskID, model.TaskStatusPending).
		Updates(map[string]interface{}{
			"status":     model.TaskStatusProcessing,
			"started_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NewInvalidTransition(fmt.Sprintf("结构化任务 %s 不在 pending 状态", taskID))
	}
	return nil
}

// UpdateTaskProgress 更新进度，进度单调不减
func (r *ScriptRepository) UpdateTaskProgress(taskID string, progress int) error {
	result := r.db.Model(&model.ScriptTask{}).
		Where("id = ? AND status = ? AND progress <= ?", taskID, model.TaskStatusProcessing, progress).
		Update("progress", progress)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NewInvalidTransition(fmt.Sprintf("结构化任务 %s 已终结或进度回退", taskID))
	}
	return nil
}

// CompleteTask 任务成功终结，保存原始结构化结果
func (r *ScriptRepository) CompleteTask(taskID, rawResult string) error {
	now := time.Now()
	result := r.db.Model(&model.ScriptTask{}).
		Where("id = ? AND status IN ?", taskID, []model.TaskStatus{model.TaskStatusPending, model.TaskStatusProcessing}).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusCompleted,
			"progress":     100,
			"result":       rawResult,
			"completed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NewInvalidTransition(fmt.Sprintf("结构化任务 %s 已终结", taskID))
	}
	return nil
}

// FailTask 任务失败终结
func (r *ScriptRepository) FailTask(taskID, errMsg string) error {
	now := time.Now()
	result := r.db.Model(&model.ScriptTask{}).
		Where("id = ? AND status IN ?", taskID, []model.TaskStatus{model.TaskStatusPending, model.TaskStatusProcessing}).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusFailed,
			"error":        errMsg,
			"completed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NewInvalidTransition(fmt.Sprintf("结构化任务 %s 已终结", taskID))
	}
	return nil
}

// FailExpiredTasks 将超过租约时长仍处于 processing 的结构化任务标记失败，返回受影响行数
func (r *ScriptRepository) FailExpiredTasks(lease time.Duration) (int64, error) {
	cutoff := time.Now().Add(-lease)
	result := r.db.Model(&model.ScriptTask{}).
		Where("status = ? AND started_at < ?", model.TaskStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusFailed,
			"error":        fmt.Sprintf("任务租约已过期（超过 %s 无进展），疑似进程中断", lease),
			"completed_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}

// ResetTask 重新生成前把任务拉回 pending（仅限已终结任务）
func (r *ScriptRepository) ResetTask(taskID string) error {
	result := r.db.Model(&model.ScriptTask{}).
		Where("id = ? AND status IN ?", taskID, []model.TaskStatus{model.TaskStatusCompleted, model.TaskStatusFailed}).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusPending,
			"progress":     0,
			"error":        "",
			"started_at":   nil,
			"completed_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NewInvalidTransition(fmt.Sprintf("结构化任务 %s 未终结，不能重新生成", taskID))
	}
	return nil
}

// ReconcileActs 把一次结构化的完整输出落库
// 幕按 (script_task_id, name) upsert：同名幕先清掉旧的下级结构再重建，
// 同一任务重跑替换而不是重复追加
func (r *ScriptRepository) ReconcileActs(taskID string, trees []model.ActTree) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		for i := range trees {
			tree := &trees[i]
			tree.Act.ScriptTaskID = taskID

			// 同任务同名幕视为重跑，删旧建新
			var existing model.Act
			err := tx.Where("script_task_id = ? AND name = ?", taskID, tree.Act.Name).First(&existing).Error
			if err == nil {
				if delErr := deleteActChildren(tx, existing.ID); delErr != nil {
					return delErr
				}
				if delErr := tx.Delete(&model.Act{}, existing.ID).Error; delErr != nil {
					return delErr
				}
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			tree.Act.CreatedAt = time.Now()
			if err := tx.Create(&tree.Act).Error; err != nil {
				return err
			}

			for j := range tree.Scenes {
				sceneTree := &tree.Scenes[j]
				sceneTree.Scene.ActID = tree.Act.ID
				sceneTree.Scene.Order = j + 1
				sceneTree.Scene.CreatedAt = time.Now()
				if err := tx.Create(&sceneTree.Scene).Error; err != nil {
					return err
				}

				for k := range sceneTree.Shots {
					shotTree := &sceneTree.Shots[k]
					shotTree.Shot.SceneID = sceneTree.Scene.ID
					shotTree.Shot.ActID = tree.Act.ID
					shotTree.Shot.Index = k + 1
					shotTree.Shot.CreatedAt = time.Now()
					if err := tx.Create(&shotTree.Shot).Error; err != nil {
						return err
					}

					for m := range shotTree.Dialogues {
						shotTree.Dialogues[m].ShotID = shotTree.Shot.ID
						shotTree.Dialogues[m].Index = m + 1
						shotTree.Dialogues[m].CreatedAt = time.Now()
					}
					if len(shotTree.Dialogues) > 0 {
						if err := tx.Create(&shotTree.Dialogues).Error; err != nil {
							return err
						}
					}
				}
			}
		}
		return nil
	})
}

// DeleteTaskOutput 删除任务名下全部幕及下级结构（regenerate overwrite=true）
func (r *ScriptRepository) DeleteTaskOutput(taskID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var actIDs []int64
		if err := tx.Model(&model.Act{}).Where("script_task_id = ?", taskID).Pluck("id", &actIDs).Error; err != nil {
			return err
		}
		for _, actID := range actIDs {
			if err := deleteActChildren(tx, actID); err != nil {
				return err
			}
		}
		return tx.Where("script_task_id = ?", taskID).Delete(&model.Act{}).Error
	})
}

// ListActsByNovel 按展示顺序（StartChapterOrder）返回小说的幕，只返回属于该用户的行
func (r *ScriptRepository) ListActsByNovel(userID, novelID int64) ([]model.Act, error) {
	var acts []model.Act
	err := r.db.Where("novel_id = ? AND user_id = ?", novelID, userID).
		Order("start_chapter_order ASC, act_order ASC").
		Find(&acts).Error
	return acts, err
}

func deleteActChildren(tx *gorm.DB, actID int64) error {
	var shotIDs []int64
	if err := tx.Model(&model.Shot{}).Where("act_id = ?", actID).Pluck("id", &shotIDs).Error; err != nil {
		return err
	}
	if len(shotIDs) > 0 {
		if err := tx.Where("shot_id IN ?", shotIDs).Delete(&model.Dialogue{}).Error; err != nil {
			return err
		}
	}
	if err := tx.Where("act_id = ?", actID).Delete(&model.Shot{}).Error; err != nil {
		return err
	}
	return tx.Where("act_id = ?", actID).Delete(&model.Scene{}).Error
}
