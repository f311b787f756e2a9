package model

import (
	"time"

	"github.com/lib/pq"
)

// Character 角色，项目级或全局（ProjectID 为 0 表示该用户全部项目共享），
// 可进一步限定到某本小说。Name 在 (user, project-or-global, novel) 合并域内唯一，
// 重复由合并操作处理，插入时不做唯一性拒绝
type Character struct {
	ID     int64 `json:"id" db:"id" gorm:"primaryKey"`
	UserID int64 `json:"user_id" db:"user_id" gorm:"uniqueIndex:idx_merge_scope"`
	// 0 表示全局角色
	ProjectID int64 `json:"project_id" db:"project_id" gorm:"uniqueIndex:idx_merge_scope"`
	// 0 表示不限定小说
	NovelID     int64          `json:"novel_id" db:"novel_id" gorm:"uniqueIndex:idx_merge_scope"`
	Name        string         `json:"name" db:"name" gorm:"uniqueIndex:idx_merge_scope"`
	Age         string         `json:"age" db:"age"`
	Gender      string         `json:"gender" db:"gender"`
	Personality pq.StringArray `json:"personality" db:"personality" gorm:"type:text[]"`
	Appearance  string         `json:"appearance" db:"appearance"`
	Style       string         `json:"style" db:"style"`
	Voice       string         `json:"voice" db:"voice"`
	Clothing    string         `json:"clothing" db:"clothing"`
	ImageURL    string         `json:"image_url,omitempty" db:"image_url"`
	// KeepBoth 模式下保留的历史版本形象图
	ImageHistory pq.StringArray `json:"image_history,omitempty" db:"image_history" gorm:"type:text[]"`
	VideoURL     string         `json:"video_url,omitempty" db:"video_url"`
	Cached       bool           `json:"cached" db:"cached"`
	UsageCount   int            `json:"usage_count" db:"usage_count"`
	ShotIDs      pq.Int64Array  `json:"shot_ids" db:"shot_ids" gorm:"type:bigint[]"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// MergeScope 角色名去重发生的键空间
type MergeScope struct {
	UserID    int64
	ProjectID int64 // 0 = 全局
	NovelID   int64 // 0 = 不限定小说
}

// Scope 返回角色所属的合并域
func (c *Character) Scope() MergeScope {
	return MergeScope{UserID: c.UserID, ProjectID: c.ProjectID, NovelID: c.NovelID}
}
