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

// TaskRepository 生成任务记录存储
// 所有变更都是单行更新，状态谓词写进 SQL：终态任务的任何更新都会落空，
// 由 RowsAffected 判定后转成 InvalidTransition
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create 创建任务记录，初始状态 pending、进度 0
func (r *TaskRepository) Create(userID, ownerID int64, kind model.TaskKind) (*model.GenerationTask, error) {
	task := &model.GenerationTask{
		ID:        uuid.NewString(),
		UserID:    userID,
		OwnerID:   ownerID,
		Kind:      kind,
		Status:    model.TaskStatusPending,
		Progress:  0,
		CreatedAt: time.Now(),
	}
	if err := r.db.Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

// CreateForShotGroup 为合并镜头组创建任务记录，OwnerID 取组内首个镜头
func (r *TaskRepository) CreateForShotGroup(userID int64, shotIDs []int64) (*model.GenerationTask, error) {
	if len(shotIDs) == 0 {
		return nil, apperr.NewValidation("镜头组为空", nil)
	}
	task := &model.GenerationTask{
		ID:        uuid.NewString(),
		UserID:    userID,
		OwnerID:   shotIDs[0],
		Kind:      model.TaskKindShotVideo,
		ShotIDs:   pq.Int64Array(shotIDs),
		Status:    model.TaskStatusPending,
		CreatedAt: time.Now(),
	}
	if err := r.db.Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

// MarkProcessing 将 pending 任务置为 processing
func (r *TaskRepository) MarkProcessing(taskID string) error {
	now := time.Now()
	result := r.db.Model(&model.GenerationTask{}).
		Where("id = ? AND status = ?", taskID, model.TaskStatusPending).
		Updates(map[string]interface{}{
			"status":     model.TaskStatusProcessing,
			"started_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NewInvalidTransition(fmt.Sprintf("任务 %s 不在 pending 状态", taskID))
	}
	return nil
}

// UpdateProgress 更新进度，要求任务处于 processing 且进度单调不减
func (r *TaskRepository) UpdateProgress(taskID string, progress int) error {
	if progress < 0 || progress > 100 {
		return apperr.NewValidation(fmt.Sprintf("非法进度值 %d", progress), nil)
	}
	result := r.db.Model(&model.GenerationTask{}).
		Where("id = ? AND status = ? AND progress <= ?", taskID, model.TaskStatusProcessing, progress).
		Update("progress", progress)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NewInvalidTransition(fmt.Sprintf("任务 %s 已终结或进度回退", taskID))
	}
	return nil
}

// Complete 任务成功终结，写入结果并把进度推到 100
func (r *TaskRepository) Complete(taskID, resultURL, metadata string) error {
	now := time.Now()
	result := r.db.Model(&model.GenerationTask{}).
		Where("id = ? AND status IN ?", taskID, []model.TaskStatus{model.TaskStatusPending, model.TaskStatusProcessing}).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusCompleted,
			"progress":     100,
			"result_url":   resultURL,
			"metadata":     metadata,
			"completed_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NewInvalidTransition(fmt.Sprintf("任务 %s 已终结", taskID))
	}
	return nil
}

// Fail 任务失败终结，记录错误信息
func (r *TaskRepository) Fail(taskID, errMsg string) error {
	now := time.Now()
	result := r.db.Model(&model.GenerationTask{}).
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
		return apperr.NewInvalidTransition(fmt.Sprintf("任务 %s 已终结", taskID))
	}
	return nil
}

// Get 查询任务记录，校验归属
func (r *TaskRepository) Get(userID int64, taskID string) (*model.GenerationTask, error) {
	var task model.GenerationTask
	err := r.db.Where("id = ? AND user_id = ?", taskID, userID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NewNotFound(fmt.Sprintf("任务 %s 不存在", taskID))
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListByOwner 查询某实体名下指定种类的任务
func (r *TaskRepository) ListByOwner(userID, ownerID int64, kind model.TaskKind) ([]model.GenerationTask, error) {
	var tasks []model.GenerationTask
	err := r.db.Where("user_id = ? AND owner_id = ? AND kind = ?", userID, ownerID, kind).
		Order("created_at DESC").
		Find(&tasks).Error
	return tasks, err
}

// FailExpired 将超过租约时长仍处于 processing 的任务标记失败，返回受影响行数
func (r *TaskRepository) FailExpired(kind model.TaskKind, lease time.Duration) (int64, error) {
	cutoff := time.Now().Add(-lease)
	result := r.db.Model(&model.GenerationTask{}).
		Where("kind = ? AND status = ? AND started_at < ?", kind, model.TaskStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusFailed,
			"error":        fmt.Sprintf("任务租约已过期（超过 %s 无进展），疑似进程中断", lease),
			"completed_at": time.Now(),
		})
	return result.RowsAffected, result.Error
}
