package repository

import (
	"gorm.io/gorm"

	"github.com/Ape-Alive/StoryX-sub001/internal/model"
)

// 媒体目标实体（场景/镜头/台词）的查询与媒体字段回写
// 回写只动目标行自己的媒体列，KeepBoth 时把旧 URL 追加进历史数组

// GetScenes 按 ID 集合查询场景，只返回属于该用户的行
func (r *ScriptRepository) GetScenes(userID int64, sceneIDs []int64) ([]model.Scene, error) {
	var scenes []model.Scene
	err := r.db.Where("id IN ? AND user_id = ?", sceneIDs, userID).
		Find(&scenes).Error
	return scenes, err
}

// GetShots 按 ID 集合查询镜头。数据库返回顺序不可依赖（并发任务产出的
// 幕/场景 ID 与叙事顺序无关），叙事顺序由服务层按提交顺序恢复
func (r *ScriptRepository) GetShots(userID int64, shotIDs []int64) ([]model.Shot, error) {
	var shots []model.Shot
	err := r.db.Where("id IN ? AND user_id = ?", shotIDs, userID).
		Find(&shots).Error
	return shots, err
}

// GetDialogues 按 ID 集合查询台词
func (r *ScriptRepository) GetDialogues(userID int64, dialogueIDs []int64) ([]model.Dialogue, error) {
	var dialogues []model.Dialogue
	err := r.db.Where("id IN ? AND user_id = ?", dialogueIDs, userID).
		Find(&dialogues).Error
	return dialogues, err
}

// ListShotDialogues 查询镜头的全部台词，按序
func (r *ScriptRepository) ListShotDialogues(shotID int64) ([]model.Dialogue, error) {
	var dialogues []model.Dialogue
	err := r.db.Where("shot_id = ?", shotID).
		Order("dialogue_index ASC").
		Find(&dialogues).Error
	return dialogues, err
}

// UpdateSceneImage 回写场景图片，keepBoth 时旧图片进入历史
func (r *ScriptRepository) UpdateSceneImage(sceneID int64, url string, keepBoth bool) error {
	updates := map[string]interface{}{"image_url": url}
	if keepBoth {
		updates["image_history"] = gorm.Expr(
			"CASE WHEN image_url <> '' THEN array_append(coalesce(image_history, '{}'), image_url) ELSE image_history END")
	}
	return r.db.Model(&model.Scene{}).Where("id = ?", sceneID).Updates(updates).Error
}

// UpdateShotVideo 回写镜头视频，keepBoth 时旧视频进入历史
func (r *ScriptRepository) UpdateShotVideo(shotID int64, url, path string, keepBoth bool) error {
	updates := map[string]interface{}{
		"video_url":  url,
		"video_path": path,
		"status":     model.TaskStatusCompleted,
	}
	if keepBoth {
		updates["video_history"] = gorm.Expr(
			"CASE WHEN video_url <> '' THEN array_append(coalesce(video_history, '{}'), video_url) ELSE video_history END")
	}
	return r.db.Model(&model.Shot{}).Where("id = ?", shotID).Updates(updates).Error
}

// UpdateShotStatus 更新镜头生成状态
func (r *ScriptRepository) UpdateShotStatus(shotID int64, status model.TaskStatus) error {
	return r.db.Model(&model.Shot{}).Where("id = ?", shotID).Update("status", status).Error
}

// UpdateDialogueAudio 回写台词音频，keepBoth 时旧音频进入历史
func (r *ScriptRepository) UpdateDialogueAudio(dialogueID int64, url string, keepBoth bool) error {
	updates := map[string]interface{}{"audio_url": url}
	if keepBoth {
		updates["audio_history"] = gorm.Expr(
			"CASE WHEN audio_url <> '' THEN array_append(coalesce(audio_history, '{}'), audio_url) ELSE audio_history END")
	}
	return r.db.Model(&model.Dialogue{}).Where("id = ?", dialogueID).Updates(updates).Error
}
