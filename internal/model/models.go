package model

import (
	"time"
)

// ProjectStatus 项目生命周期状态
type ProjectStatus string

const (
	ProjectStatusPending    ProjectStatus = "pending"
	ProjectStatusProcessing ProjectStatus = "processing"
	ProjectStatusReviewing  ProjectStatus = "reviewing"
	ProjectStatusGenerating ProjectStatus = "generating"
	ProjectStatusRendering  ProjectStatus = "rendering"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusFailed     ProjectStatus = "failed"
)

// Valid 判断是否为已知的项目状态
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusPending, ProjectStatusProcessing, ProjectStatusReviewing,
		ProjectStatusGenerating, ProjectStatusRendering, ProjectStatusCompleted, ProjectStatusFailed:
		return true
	}
	return false
}

// StorageMode 生成媒体的持久化方式
type StorageMode string

const (
	// StorageModeDownloadUpload 先下载到本地磁盘再上传
	StorageModeDownloadUpload StorageMode = "download_upload"
	// StorageModeBufferUpload 内存缓冲直接上传
	StorageModeBufferUpload StorageMode = "buffer_upload"
)

// Project 项目模型，顶层容器，删除时级联到全部下级实体
type Project struct {
	ID          int64         `json:"id" db:"id" gorm:"primaryKey"`
	UserID      int64         `json:"user_id" db:"user_id" gorm:"index"`
	Name        string        `json:"name" db:"name"`
	Status      ProjectStatus `json:"status" db:"status" gorm:"default:pending"`
	StorageMode StorageMode   `json:"storage_mode" db:"storage_mode" gorm:"default:download_upload"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// GenerationConfig 项目按能力维度的生成服务配置（模型选择 + 凭证）
type GenerationConfig struct {
	ID         int64     `json:"id" db:"id" gorm:"primaryKey"`
	ProjectID  int64     `json:"project_id" db:"project_id" gorm:"uniqueIndex:idx_project_capability"`
	Capability string    `json:"capability" db:"capability" gorm:"uniqueIndex:idx_project_capability"` // llm / image / video / tts
	Model      string    `json:"model" db:"model"`
	BaseURL    string    `json:"base_url" db:"base_url"`
	APIKey     string    `json:"-" db:"api_key"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Novel 上传或粘贴的小说文本源，重新上传产生新 Novel
type Novel struct {
	ID            int64     `json:"id" db:"id" gorm:"primaryKey"`
	ProjectID     int64     `json:"project_id" db:"project_id" gorm:"index"`
	UserID        int64     `json:"user_id" db:"user_id" gorm:"index"`
	Title         string    `json:"title" db:"title"`
	Author        string    `json:"author" db:"author"`
	Summary       string    `json:"summary" db:"summary"`
	FilePath      string    `json:"file_path" db:"file_path"`
	TotalChapters int       `json:"total_chapters" db:"total_chapters"`
	TotalWords    int       `json:"total_words" db:"total_words"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Chapter 章节，解析后不可变，Order 在小说内 1 起始连续唯一，永不重排
type Chapter struct {
	ID        int64  `json:"id" db:"id" gorm:"primaryKey"`
	NovelID   int64  `json:"novel_id" db:"novel_id" gorm:"uniqueIndex:idx_novel_order"`
	Order     int    `json:"order" db:"chapter_order" gorm:"column:chapter_order;uniqueIndex:idx_novel_order"`
	Title     string `json:"title" db:"title"`
	WordCount int    `json:"word_count" db:"word_count"`
	Content   string `json:"content" db:"content"`
}

// FeaturePrompt 可复用的提示词模板，按 ID 选取后前置到供应商请求
type FeaturePrompt struct {
	ID        string    `json:"id" db:"id" gorm:"primaryKey"` // UUID
	UserID    int64     `json:"user_id" db:"user_id" gorm:"index"`
	Name      string    `json:"name" db:"name"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
