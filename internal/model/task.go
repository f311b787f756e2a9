package model

import (
	"time"

	"github.com/lib/pq"
)

// TaskStatus 任务状态，terminal 状态（completed/failed）不可再转换
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Terminal 判断状态是否为终态
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskKind 生成任务的种类判别
type TaskKind string

const (
	TaskKindCharacterDraw TaskKind = "character_draw"
	TaskKindSceneImage    TaskKind = "scene_image"
	TaskKindShotVideo     TaskKind = "shot_video"
	TaskKindDialogueAudio TaskKind = "dialogue_audio"
)

// Valid 判断是否为已知的任务种类
func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindCharacterDraw, TaskKindSceneImage, TaskKindShotVideo, TaskKindDialogueAudio:
		return true
	}
	return false
}

// GenerationTask 统一的生成任务记录
// Progress 在 processing 期间单调不减；进入终态后任何更新都会被拒绝
type GenerationTask struct {
	ID      string   `json:"id" db:"id" gorm:"primaryKey"` // UUID
	UserID  int64    `json:"user_id" db:"user_id" gorm:"index"`
	OwnerID int64    `json:"owner_id" db:"owner_id" gorm:"index"` // 所属实体（角色/场景/镜头/台词）ID
	Kind    TaskKind `json:"kind" db:"kind" gorm:"index"`
	// 合并镜头任务覆盖的全部镜头 ID（OwnerID 为组内首个镜头）
	ShotIDs     pq.Int64Array `json:"shot_ids,omitempty" db:"shot_ids" gorm:"type:bigint[]"`
	Status      TaskStatus    `json:"status" db:"status" gorm:"index;default:pending"`
	Progress    int           `json:"progress" db:"progress"`
	ResultURL   string        `json:"result_url,omitempty" db:"result_url"`
	Metadata    string        `json:"metadata,omitempty" db:"metadata"` // 供应商返回的元数据 JSON
	Error       string        `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}
