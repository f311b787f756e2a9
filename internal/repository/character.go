package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Ape-Alive/StoryX-sub001/internal/apperr"
	"github.com/Ape-Alive/StoryX-sub001/internal/model"
)

// CharacterRepository 角色存储
// 合并域 (user, project-or-0, novel-or-0, name) 上有唯一索引，
// 并发创建竞争由 upsert 在存储层兜底，服务层另有按域互斥锁
type CharacterRepository struct {
	db *gorm.DB
}

func NewCharacterRepository(db *gorm.DB) *CharacterRepository {
	return &CharacterRepository{db: db}
}

// Get 查询角色，校验归属
func (r *CharacterRepository) Get(userID, characterID int64) (*model.Character, error) {
	var character model.Character
	err := r.db.Where("id = ? AND user_id = ?", characterID, userID).First(&character).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NewNotFound(fmt.Sprintf("角色 %d 不存在", characterID))
	}
	if err != nil {
		return nil, err
	}
	return &character, nil
}

// GetMany 按 ID 集合查询角色，只返回属于该用户的行
func (r *CharacterRepository) GetMany(userID int64, characterIDs []int64) ([]model.Character, error) {
	var characters []model.Character
	err := r.db.Where("id IN ? AND user_id = ?", characterIDs, userID).
		Find(&characters).Error
	return characters, err
}

// FindInScope 按合并域和名字查找角色，未命中返回 nil
func (r *CharacterRepository) FindInScope(scope model.MergeScope, name string) (*model.Character, error) {
	var character model.Character
	err := r.db.Where("user_id = ? AND project_id = ? AND novel_id = ? AND name = ?",
		scope.UserID, scope.ProjectID, scope.NovelID, name).
		First(&character).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &character, nil
}

// ListInScope 返回合并域内全部角色
func (r *CharacterRepository) ListInScope(scope model.MergeScope) ([]model.Character, error) {
	var characters []model.Character
	err := r.db.Where("user_id = ? AND project_id = ? AND novel_id = ?",
		scope.UserID, scope.ProjectID, scope.NovelID).
		Order("name ASC, created_at ASC").
		Find(&characters).Error
	return characters, err
}

// Upsert 按合并域唯一键写入角色：已存在则更新描述字段并累加使用次数
func (r *CharacterRepository) Upsert(character *model.Character) error {
	now := time.Now()
	character.CreatedAt = now
	character.UpdatedAt = now
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"}, {Name: "project_id"}, {Name: "novel_id"}, {Name: "name"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"usage_count": gorm.Expr("characters.usage_count + 1"),
			"cached":      true,
			"updated_at":  now,
		}),
	}).Create(character).Error
}

// IncrementUsage 复用缓存角色时累加使用次数
func (r *CharacterRepository) IncrementUsage(characterID int64) error {
	return r.db.Model(&model.Character{}).
		Where("id = ?", characterID).
		Updates(map[string]interface{}{
			"usage_count": gorm.Expr("usage_count + 1"),
			"cached":      true,
		}).Error
}

// AppendShotIDs 把镜头关联合并进角色的 shot_ids（集合并集）
func (r *CharacterRepository) AppendShotIDs(characterID int64, shotIDs []int64) error {
	if len(shotIDs) == 0 {
		return nil
	}
	return r.db.Exec(`
		UPDATE characters
		SET shot_ids = (
			SELECT array_agg(DISTINCT s) FROM unnest(coalesce(shot_ids, '{}') || $1::bigint[]) AS s
		)
		WHERE id = $2
	`, pq.Int64Array(shotIDs), characterID).Error
}

// UpdateImage 回写角色形象图，keepBoth 时旧图进入历史
func (r *CharacterRepository) UpdateImage(characterID int64, url string, keepBoth bool) error {
	updates := map[string]interface{}{"image_url": url, "updated_at": time.Now()}
	if keepBoth {
		updates["image_history"] = gorm.Expr(
			"CASE WHEN image_url <> '' THEN array_append(coalesce(image_history, '{}'), image_url) ELSE image_history END")
	}
	return r.db.Model(&model.Character{}).Where("id = ?", characterID).Updates(updates).Error
}

// Delete 删除角色（显式合并去重后清理冗余行）
func (r *CharacterRepository) Delete(characterID int64) error {
	return r.db.Delete(&model.Character{}, characterID).Error
}
