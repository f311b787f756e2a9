package model

import (
	"time"

	"github.com/lib/pq"
)

// ScriptTaskType 剧本结构化任务的分块方式
type ScriptTaskType string

const (
	ScriptTaskByChapters ScriptTaskType = "by_chapters"
	ScriptTaskByWords    ScriptTaskType = "by_words"
)

// ScriptTask 剧本结构化任务，一个任务处理一段不相交的章节区间
type ScriptTask struct {
	ID          string         `json:"id" db:"id" gorm:"primaryKey"` // UUID
	NovelID     int64          `json:"novel_id" db:"novel_id" gorm:"index"`
	ProjectID   int64          `json:"project_id" db:"project_id" gorm:"index"`
	UserID      int64          `json:"user_id" db:"user_id" gorm:"index"`
	ChapterIDs  pq.Int64Array  `json:"chapter_ids" db:"chapter_ids" gorm:"type:bigint[]"`
	Type        ScriptTaskType `json:"type" db:"type"`
	Status      TaskStatus     `json:"status" db:"status" gorm:"index;default:pending"`
	Progress    int            `json:"progress" db:"progress"`
	Result      string         `json:"result,omitempty" db:"result"` // LLM 返回的原始结构化 JSON
	Error       string         `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// Act 幕，结构化产出的叙事单元
// 展示顺序始终按 StartChapterOrder 排序：并发任务的幕完成顺序不可预期，
// 创建顺序不能作为排序依据
type Act struct {
	ID                int64         `json:"id" db:"id" gorm:"primaryKey"`
	ScriptTaskID      string        `json:"script_task_id" db:"script_task_id" gorm:"uniqueIndex:idx_task_act_name"`
	NovelID           int64         `json:"novel_id" db:"novel_id" gorm:"index"`
	ProjectID         int64         `json:"project_id" db:"project_id"`
	UserID            int64         `json:"user_id" db:"user_id"`
	Name              string        `json:"name" db:"name" gorm:"uniqueIndex:idx_task_act_name"`
	Content           string        `json:"content" db:"content"`
	Highlight         string        `json:"highlight" db:"highlight"`
	EmotionCurve      string        `json:"emotion_curve" db:"emotion_curve"`
	Rhythm            string        `json:"rhythm" db:"rhythm"`
	Order             int           `json:"order" db:"act_order" gorm:"column:act_order"`
	StartChapterOrder int           `json:"start_chapter_order" db:"start_chapter_order" gorm:"index"`
	ChapterIDs        pq.Int64Array `json:"chapter_ids" db:"chapter_ids" gorm:"type:bigint[]"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
}

// Scene 场景，属于一个幕
type Scene struct {
	ID          int64  `json:"id" db:"id" gorm:"primaryKey"`
	ActID       int64  `json:"act_id" db:"act_id" gorm:"index"`
	NovelID     int64  `json:"novel_id" db:"novel_id"`
	ProjectID   int64  `json:"project_id" db:"project_id"`
	UserID      int64  `json:"user_id" db:"user_id" gorm:"index"`
	Address     string `json:"address" db:"address"` // 地点描述
	Description string `json:"description" db:"description"`
	ImageURL    string `json:"image_url,omitempty" db:"image_url"`
	// KeepBoth 模式下保留的历史版本图片
	ImageHistory pq.StringArray `json:"image_history,omitempty" db:"image_history" gorm:"type:text[]"`
	Order        int            `json:"order" db:"scene_order" gorm:"column:scene_order"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// Shot 镜头，原子媒体单元；冗余上级 ID 方便查询
type Shot struct {
	ID         int64   `json:"id" db:"id" gorm:"primaryKey"`
	SceneID    int64   `json:"scene_id" db:"scene_id" gorm:"index"`
	ActID      int64   `json:"act_id" db:"act_id"`
	NovelID    int64   `json:"novel_id" db:"novel_id"`
	ProjectID  int64   `json:"project_id" db:"project_id"`
	UserID     int64   `json:"user_id" db:"user_id" gorm:"index"`
	Index      int     `json:"index" db:"shot_index" gorm:"column:shot_index"`
	Duration   float64 `json:"duration" db:"duration"` // 秒
	Camera     string  `json:"camera" db:"camera"`
	Framing    string  `json:"framing" db:"framing"`
	Lighting   string  `json:"lighting" db:"lighting"`
	Atmosphere string  `json:"atmosphere" db:"atmosphere"`
	Action     string  `json:"action" db:"action"`
	VideoURL   string  `json:"video_url,omitempty" db:"video_url"`
	VideoPath  string  `json:"video_path,omitempty" db:"video_path"`
	// KeepBoth 模式下保留的历史版本视频
	VideoHistory pq.StringArray `json:"video_history,omitempty" db:"video_history" gorm:"type:text[]"`
	Status       TaskStatus     `json:"status" db:"status" gorm:"default:pending"`
	Transition   bool           `json:"transition" db:"transition"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// Dialogue 台词，属于一个镜头
type Dialogue struct {
	ID           int64          `json:"id" db:"id" gorm:"primaryKey"`
	ShotID       int64          `json:"shot_id" db:"shot_id" gorm:"uniqueIndex:idx_shot_dialogue"`
	Index        int            `json:"index" db:"dialogue_index" gorm:"column:dialogue_index;uniqueIndex:idx_shot_dialogue"`
	UserID       int64          `json:"user_id" db:"user_id" gorm:"index"`
	Speaker      string         `json:"speaker" db:"speaker"`
	Line         string         `json:"line" db:"line"`
	Mood         string         `json:"mood" db:"mood"`
	AudioURL     string         `json:"audio_url,omitempty" db:"audio_url"`
	AudioHistory pq.StringArray `json:"audio_history,omitempty" db:"audio_history" gorm:"type:text[]"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// ScriptOutput LLM 结构化输出的解析结果
type ScriptOutput struct {
	CharacterSettings []CharacterSetting `json:"character_settings"`
	PlotOutline       []ActOutput        `json:"plot_outline"`
}

// CharacterSetting 结构化输出中的角色设定
type CharacterSetting struct {
	Name        string `json:"name"`
	Age         string `json:"age"`
	Gender      string `json:"gender"`
	Personality any    `json:"personality"` // 可能是 JSON 数组、逗号串或普通字符串
	Appearance  string `json:"appearance"`
	Style       string `json:"style"`
	Voice       string `json:"voice"`
	Clothing    string `json:"clothing"`
}

// ActOutput 结构化输出中的幕
type ActOutput struct {
	Name         string        `json:"name"`
	Content      string        `json:"content"`
	Highlight    string        `json:"highlight"`
	EmotionCurve string        `json:"emotion_curve"`
	Rhythm       string        `json:"rhythm"`
	Scenes       []SceneOutput `json:"scenes"`
}

// SceneOutput 结构化输出中的场景
type SceneOutput struct {
	Address     string       `json:"address"`
	Description string       `json:"description"`
	Shots       []ShotOutput `json:"shots"`
}

// ShotOutput 结构化输出中的镜头
type ShotOutput struct {
	Duration   float64          `json:"duration"`
	Camera     string           `json:"camera"`
	Framing    string           `json:"framing"`
	Lighting   string           `json:"lighting"`
	Atmosphere string           `json:"atmosphere"`
	Action     string           `json:"action"`
	Transition bool             `json:"transition"`
	Dialogues  []DialogueOutput `json:"dialogues"`
}

// DialogueOutput 结构化输出中的台词
type DialogueOutput struct {
	Speaker string `json:"speaker"`
	Line    string `json:"line"`
	Mood    string `json:"mood"`
}

// ActTree 幕及其完整下级结构，是结构化结果落库（reconcile）的输入单元
type ActTree struct {
	Act    Act
	Scenes []SceneTree
}

// SceneTree 场景及其镜头
type SceneTree struct {
	Scene Scene
	Shots []ShotTree
}

// ShotTree 镜头及其台词
type ShotTree struct {
	Shot      Shot
	Dialogues []Dialogue
}
