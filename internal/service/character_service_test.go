package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Ape-Alive/StoryX-sub001/internal/model"
)

func TestMergeFromSettingReusesExistingCharacter(t *testing.T) {
	store := newFakeCharacterStore()
	svc := NewCharacterService(store)
	scope := model.MergeScope{UserID: 7, ProjectID: 1, NovelID: 2}

	first, err := svc.MergeFromSetting(scope, model.CharacterSetting{Name: "李明", Personality: []any{"冷静"}})
	if err != nil {
		t.Fatalf("first merge failed: %v", err)
	}
	second, err := svc.MergeFromSetting(scope, model.CharacterSetting{Name: "李明", Personality: "果断"})
	if err != nil {
		t.Fatalf("second merge failed: %v", err)
	}
	if first != second {
		t.Fatalf("same name in same scope should resolve to one character: %d vs %d", first, second)
	}

	c, err := store.Get(7, first)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.UsageCount != 2 {
		t.Errorf("expected usage count 2, got %d", c.UsageCount)
	}
}

func TestMergeFromSettingScopesAreIsolated(t *testing.T) {
	store := newFakeCharacterStore()
	svc := NewCharacterService(store)

	a, _ := svc.MergeFromSetting(model.MergeScope{UserID: 7, ProjectID: 1}, model.CharacterSetting{Name: "李明"})
	b, _ := svc.MergeFromSetting(model.MergeScope{UserID: 7, ProjectID: 2}, model.CharacterSetting{Name: "李明"})
	global, _ := svc.MergeFromSetting(model.MergeScope{UserID: 7}, model.CharacterSetting{Name: "李明"})

	if a == b || a == global || b == global {
		t.Fatalf("characters in different scopes must be distinct: %d, %d, %d", a, b, global)
	}
}

func TestMergeFromSettingBlankNameIsNoop(t *testing.T) {
	store := newFakeCharacterStore()
	svc := NewCharacterService(store)
	id, err := svc.MergeFromSetting(model.MergeScope{UserID: 7}, model.CharacterSetting{Name: "   "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 0 {
		t.Fatalf("blank name should not create a character, got id %d", id)
	}
}

func TestMergeFromSettingConcurrentSameName(t *testing.T) {
	store := newFakeCharacterStore()
	svc := NewCharacterService(store)
	scope := model.MergeScope{UserID: 7, ProjectID: 1}

	const workers = 16
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := svc.MergeFromSetting(scope, model.CharacterSetting{Name: "赵云"})
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent merges produced divergent ids: %d vs %d", ids[0], ids[i])
		}
	}
	all, _ := store.ListInScope(scope)
	if len(all) != 1 {
		t.Fatalf("expected exactly one character after concurrent merges, got %d", len(all))
	}
}

func TestMergeDeduplicatesInScope(t *testing.T) {
	store := newFakeCharacterStore()
	scope := model.MergeScope{UserID: 7, ProjectID: 1}

	// 直接造出重复（绕过服务的互斥），最早创建的应当存活
	base := time.Now()
	for i, name := range []string{"李明", "李明 ", "li ming"} {
		store.nextID++
		store.characters[store.nextID] = &model.Character{
			ID:        store.nextID,
			UserID:    7,
			ProjectID: 1,
			Name:      name,
			ShotIDs:   []int64{int64(10 + i)},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
	}

	svc := NewCharacterService(store)
	merged, err := svc.Merge(scope)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if merged != 1 {
		t.Fatalf("expected 1 duplicate merged (names differ only by whitespace), got %d", merged)
	}

	survivor, err := store.Get(7, 1)
	if err != nil {
		t.Fatalf("earliest-created character should survive: %v", err)
	}
	shotSet := make(map[int64]bool)
	for _, id := range survivor.ShotIDs {
		shotSet[id] = true
	}
	if !shotSet[10] || !shotSet[11] {
		t.Errorf("survivor should carry the union of shot ids, got %v", survivor.ShotIDs)
	}

	// 幂等：再跑一遍没有可合并项
	again, err := svc.Merge(scope)
	if err != nil {
		t.Fatalf("second Merge failed: %v", err)
	}
	if again != 0 {
		t.Fatalf("second merge should be a no-op, merged %d", again)
	}
}

func TestMergeCaseInsensitive(t *testing.T) {
	store := newFakeCharacterStore()
	scope := model.MergeScope{UserID: 7}

	for i, name := range []string{"Ming", "ming", "MING"} {
		store.nextID++
		store.characters[store.nextID] = &model.Character{
			ID:        store.nextID,
			UserID:    7,
			Name:      name,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
	}

	svc := NewCharacterService(store)
	merged, err := svc.Merge(scope)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if merged != 2 {
		t.Fatalf("expected 2 duplicates merged, got %d", merged)
	}
	all, _ := store.ListInScope(scope)
	if len(all) != 1 {
		t.Fatalf("expected single survivor, got %d", len(all))
	}
	if all[0].Name != "Ming" {
		t.Errorf("earliest-created spelling should survive, got %q", all[0].Name)
	}
}

func TestMergeLeavesDistinctNamesAlone(t *testing.T) {
	store := newFakeCharacterStore()
	scope := model.MergeScope{UserID: 7}
	for i := 0; i < 3; i++ {
		store.nextID++
		store.characters[store.nextID] = &model.Character{
			ID:        store.nextID,
			UserID:    7,
			Name:      fmt.Sprintf("角色%d", i),
			CreatedAt: time.Now(),
		}
	}
	svc := NewCharacterService(store)
	merged, err := svc.Merge(scope)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if merged != 0 {
		t.Fatalf("distinct names must not merge, got %d", merged)
	}
}
