package service

import (
	"context"

	"github.com/Ape-Alive/StoryX-sub001/internal/model"
)

// 服务层按消费面声明的最小存储接口，由 repository 下的具体仓库实现。
// 持久化句柄一律显式注入，服务不读取任何进程级全局状态。

// TaskStore 生成任务记录
type TaskStore interface {
	Create(userID, ownerID int64, kind model.TaskKind) (*model.GenerationTask, error)
	CreateForShotGroup(userID int64, shotIDs []int64) (*model.GenerationTask, error)
	MarkProcessing(taskID string) error
	UpdateProgress(taskID string, progress int) error
	Complete(taskID, resultURL, metadata string) error
	Fail(taskID, errMsg string) error
	Get(userID int64, taskID string) (*model.GenerationTask, error)
}

// NovelStore 小说与章节
type NovelStore interface {
	Get(userID, novelID int64) (*model.Novel, error)
	ListChapters(novelID int64) ([]model.Chapter, error)
	GetChapters(chapterIDs []int64) ([]model.Chapter, error)
}

// ScriptStore 结构化任务与内容树
type ScriptStore interface {
	CreateTask(novelID, projectID, userID int64, chapterIDs []int64, taskType model.ScriptTaskType) (*model.ScriptTask, error)
	GetTask(userID int64, taskID string) (*model.ScriptTask, error)
	ListTasksByNovel(novelID int64) ([]model.ScriptTask, error)
	MarkTaskProcessing(taskID string) error
	UpdateTaskProgress(taskID string, progress int) error
	CompleteTask(taskID, rawResult string) error
	FailTask(taskID, errMsg string) error
	ResetTask(taskID string) error
	ReconcileActs(taskID string, trees []model.ActTree) error
	DeleteTaskOutput(taskID string) error
	ListActsByNovel(userID, novelID int64) ([]model.Act, error)
}

// MediaStore 媒体目标实体的读取与媒体字段回写
type MediaStore interface {
	GetScenes(userID int64, sceneIDs []int64) ([]model.Scene, error)
	GetShots(userID int64, shotIDs []int64) ([]model.Shot, error)
	GetDialogues(userID int64, dialogueIDs []int64) ([]model.Dialogue, error)
	ListShotDialogues(shotID int64) ([]model.Dialogue, error)
	UpdateSceneImage(sceneID int64, url string, keepBoth bool) error
	UpdateShotVideo(shotID int64, url, path string, keepBoth bool) error
	UpdateShotStatus(shotID int64, status model.TaskStatus) error
	UpdateDialogueAudio(dialogueID int64, url string, keepBoth bool) error
}

// CharacterStore 角色
type CharacterStore interface {
	Get(userID, characterID int64) (*model.Character, error)
	GetMany(userID int64, characterIDs []int64) ([]model.Character, error)
	FindInScope(scope model.MergeScope, name string) (*model.Character, error)
	ListInScope(scope model.MergeScope) ([]model.Character, error)
	Upsert(character *model.Character) error
	IncrementUsage(characterID int64) error
	AppendShotIDs(characterID int64, shotIDs []int64) error
	UpdateImage(characterID int64, url string, keepBoth bool) error
	Delete(characterID int64) error
}

// PromptStore 提示词模板
type PromptStore interface {
	Get(userID int64, promptID string) (*model.FeaturePrompt, error)
}

// ConfigStore 项目与生成配置
type ConfigStore interface {
	Get(userID, projectID int64) (*model.Project, error)
	GetGenerationConfig(projectID int64, capability string) (*model.GenerationConfig, error)
}

// MediaPersister 生成媒体的持久化（按存储模式）
type MediaPersister interface {
	Persist(ctx context.Context, mode model.StorageMode, sourceURL, name string) (string, error)
}
