package service

import (
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/lib/pq"

	"github.com/Ape-Alive/StoryX-sub001/internal/model"
	"github.com/Ape-Alive/StoryX-sub001/internal/utils"
)

// CharacterService 角色合并域内的去重与复用
// 合并域 (user, project-or-global, novel) 内按名字去重：并发的结构化任务
// 可能同时引用同一个角色名，按域互斥 + 存储层唯一索引双保险
type CharacterService struct {
	characters CharacterStore

	mu         sync.Mutex
	scopeLocks map[model.MergeScope]*sync.Mutex
}

// NewCharacterService 创建角色服务
func NewCharacterService(characters CharacterStore) *CharacterService {
	return &CharacterService{
		characters: characters,
		scopeLocks: make(map[model.MergeScope]*sync.Mutex),
	}
}

func (s *CharacterService) scopeLock(scope model.MergeScope) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.scopeLocks[scope]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.scopeLocks[scope] = lock
	return lock
}

// MergeFromSetting 结构化输出里的角色设定并入合并域
// 同名角色已存在则复用其 ID 并累加使用次数，否则新建；返回角色 ID
func (s *CharacterService) MergeFromSetting(scope model.MergeScope, setting model.CharacterSetting) (int64, error) {
	name := strings.TrimSpace(setting.Name)
	if name == "" {
		return 0, nil
	}

	lock := s.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.characters.FindInScope(scope, name)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		if err := s.characters.IncrementUsage(existing.ID); err != nil {
			return 0, err
		}
		return existing.ID, nil
	}

	character := &model.Character{
		UserID:      scope.UserID,
		ProjectID:   scope.ProjectID,
		NovelID:     scope.NovelID,
		Name:        name,
		Age:         setting.Age,
		Gender:      setting.Gender,
		Personality: pq.StringArray(utils.NormalizePersonality(setting.Personality)),
		Appearance:  setting.Appearance,
		Style:       setting.Style,
		Voice:       setting.Voice,
		Clothing:    setting.Clothing,
	}
	// 并发竞争同名时 upsert 落到已有行上
	if err := s.characters.Upsert(character); err != nil {
		return 0, err
	}
	if character.ID == 0 {
		// upsert 撞了唯一键，回查拿到幸存行
		winner, err := s.characters.FindInScope(scope, name)
		if err != nil {
			return 0, err
		}
		if winner != nil {
			return winner.ID, nil
		}
	}
	return character.ID, nil
}

// Merge 显式合并去重：同域内名字等价（忽略大小写与首尾空白）的角色
// 归并到最早创建的一个，镜头关联取并集，其余删除。幂等：第二次执行为空操作
func (s *CharacterService) Merge(scope model.MergeScope) (int, error) {
	lock := s.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	characters, err := s.characters.ListInScope(scope)
	if err != nil {
		return 0, err
	}

	byName := make(map[string][]model.Character)
	for _, c := range characters {
		key := strings.ToLower(strings.TrimSpace(c.Name))
		byName[key] = append(byName[key], c)
	}

	merged := 0
	for _, group := range byName {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
		survivor := group[0]

		var shotIDs []int64
		for _, dup := range group[1:] {
			shotIDs = append(shotIDs, dup.ShotIDs...)
		}
		if err := s.characters.AppendShotIDs(survivor.ID, shotIDs); err != nil {
			return merged, err
		}
		for _, dup := range group[1:] {
			if err := s.characters.Delete(dup.ID); err != nil {
				return merged, err
			}
			merged++
		}
		log.Printf("[CharacterService] 合并角色 %q: %d 个重复项并入 #%d", survivor.Name, len(group)-1, survivor.ID)
	}
	return merged, nil
}
