package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Ape-Alive/StoryX-sub001/internal/model"
	"github.com/Ape-Alive/StoryX-sub001/internal/provider"
)

func newMediaServiceForTest(media *fakeMediaStore, characters *fakeCharacterStore, tasks *fakeTaskStore, adapter *fakeAdapter) *MediaService {
	return NewMediaService(
		media, characters, tasks,
		&fakePromptStore{prompts: map[string]*model.FeaturePrompt{}},
		newFakeConfigStore(),
		adapter,
		fakePersister{},
		NewDispatcher(0),
		testDefaults(),
	)
}

func okAdapter(url string) *fakeAdapter {
	return &fakeAdapter{invoke: func(capability provider.Capability, req provider.Request) (*provider.Result, error) {
		return &provider.Result{URL: url}, nil
	}}
}

func TestGenerateSceneImagesSkipsExistingMedia(t *testing.T) {
	media := newFakeMediaStore()
	media.scenes[1] = &model.Scene{ID: 1, UserID: 7, Address: "码头"}
	media.scenes[2] = &model.Scene{ID: 2, UserID: 7, Address: "仓库", ImageURL: "http://cdn/old.png"}
	media.scenes[3] = &model.Scene{ID: 3, UserID: 7, Address: "巷口"}

	tasks := newFakeTaskStore()
	adapter := okAdapter("http://cdn/new.png")
	svc := newMediaServiceForTest(media, newFakeCharacterStore(), tasks, adapter)

	resp, err := svc.GenerateSceneImages(context.Background(), 7, []int64{1, 2, 3}, GenerateOptions{})
	if err != nil {
		t.Fatalf("GenerateSceneImages failed: %v", err)
	}
	if resp.Skipped != 1 {
		t.Fatalf("expected 1 skipped (scene 2 already has an image), got %d", resp.Skipped)
	}
	if len(resp.TaskIDs) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(resp.TaskIDs))
	}
	if !svc.dispatcher.Drain(2 * time.Second) {
		t.Fatal("dispatcher drain timed out")
	}

	if media.scenes[2].ImageURL != "http://cdn/old.png" {
		t.Error("skipped scene must keep its existing image")
	}
	for _, id := range []int64{1, 3} {
		if media.scenes[id].ImageURL != "http://cdn/new.png" {
			t.Errorf("scene %d should carry the new image, got %q", id, media.scenes[id].ImageURL)
		}
	}
	for _, taskID := range resp.TaskIDs {
		task, _ := tasks.Get(7, taskID)
		if task.Status != model.TaskStatusCompleted {
			t.Errorf("task %s: expected completed, got %s", taskID, task.Status)
		}
	}
}

func TestGenerateSceneImagesOverwriteReplaces(t *testing.T) {
	media := newFakeMediaStore()
	media.scenes[1] = &model.Scene{ID: 1, UserID: 7, ImageURL: "http://cdn/old.png"}

	svc := newMediaServiceForTest(media, newFakeCharacterStore(), newFakeTaskStore(), okAdapter("http://cdn/new.png"))
	resp, err := svc.GenerateSceneImages(context.Background(), 7, []int64{1}, GenerateOptions{AllowOverwrite: true})
	if err != nil {
		t.Fatalf("GenerateSceneImages failed: %v", err)
	}
	if resp.Skipped != 0 || len(resp.TaskIDs) != 1 {
		t.Fatalf("overwrite should not skip: skipped=%d tasks=%d", resp.Skipped, len(resp.TaskIDs))
	}
	if !svc.dispatcher.Drain(2 * time.Second) {
		t.Fatal("dispatcher drain timed out")
	}
	if media.scenes[1].ImageURL != "http://cdn/new.png" {
		t.Errorf("expected replaced image, got %q", media.scenes[1].ImageURL)
	}
	if len(media.scenes[1].ImageHistory) != 0 {
		t.Error("plain overwrite must not grow history")
	}
}

func TestGenerateSceneImagesKeepBothVersions(t *testing.T) {
	media := newFakeMediaStore()
	media.scenes[1] = &model.Scene{ID: 1, UserID: 7, ImageURL: "http://cdn/v1.png"}

	svc := newMediaServiceForTest(media, newFakeCharacterStore(), newFakeTaskStore(), okAdapter("http://cdn/v2.png"))
	resp, err := svc.GenerateSceneImages(context.Background(), 7, []int64{1}, GenerateOptions{KeepBoth: true})
	if err != nil {
		t.Fatalf("GenerateSceneImages failed: %v", err)
	}
	if resp.Skipped != 0 {
		t.Fatal("keepBoth must not skip entities that already have media")
	}
	if !svc.dispatcher.Drain(2 * time.Second) {
		t.Fatal("dispatcher drain timed out")
	}
	scene := media.scenes[1]
	if scene.ImageURL != "http://cdn/v2.png" {
		t.Errorf("current image should be the new version, got %q", scene.ImageURL)
	}
	if len(scene.ImageHistory) != 1 || scene.ImageHistory[0] != "http://cdn/v1.png" {
		t.Errorf("previous version should move to history, got %v", scene.ImageHistory)
	}
}

func TestGenerateSceneImagesRejectsInvalidIDs(t *testing.T) {
	media := newFakeMediaStore()
	media.scenes[1] = &model.Scene{ID: 1, UserID: 7}
	// 场景 2 属于别的用户
	media.scenes[2] = &model.Scene{ID: 2, UserID: 99}

	tasks := newFakeTaskStore()
	svc := newMediaServiceForTest(media, newFakeCharacterStore(), tasks, okAdapter("http://cdn/x.png"))

	_, err := svc.GenerateSceneImages(context.Background(), 7, []int64{1, 2}, GenerateOptions{})
	if err == nil {
		t.Fatal("expected whole-batch rejection for foreign scene id")
	}
	// 整批拒绝：不得部分创建任务
	tasks.mu.Lock()
	n := len(tasks.tasks)
	tasks.mu.Unlock()
	if n != 0 {
		t.Fatalf("no tasks may be created on validation failure, got %d", n)
	}
}

func TestGenerateShotVideosTimeoutFailsTaskAndKeepsMedia(t *testing.T) {
	media := newFakeMediaStore()
	media.shots[1] = &model.Shot{ID: 1, UserID: 7, Duration: 4, Action: "走向船舱", VideoURL: "http://cdn/keep.mp4"}

	tasks := newFakeTaskStore()
	adapter := &fakeAdapter{invoke: func(capability provider.Capability, req provider.Request) (*provider.Result, error) {
		return nil, &provider.Error{Capability: provider.CapabilityVideo, Kind: provider.ErrTimeout, Message: "请求超时"}
	}}
	svc := newMediaServiceForTest(media, newFakeCharacterStore(), tasks, adapter)

	resp, err := svc.GenerateShotVideos(context.Background(), 7, []int64{1}, GenerateOptions{AllowOverwrite: true})
	if err != nil {
		t.Fatalf("GenerateShotVideos failed: %v", err)
	}
	if !svc.dispatcher.Drain(2 * time.Second) {
		t.Fatal("dispatcher drain timed out")
	}

	task, _ := tasks.Get(7, resp.TaskIDs[0])
	if task.Status != model.TaskStatusFailed {
		t.Fatalf("expected failed task, got %s", task.Status)
	}
	if !strings.Contains(task.Error, "Timeout") {
		t.Errorf("task error should name the provider error kind, got: %s", task.Error)
	}
	if media.shots[1].VideoURL != "http://cdn/keep.mp4" {
		t.Error("failed generation must leave the existing video untouched")
	}
	if media.shots[1].Status != model.TaskStatusFailed {
		t.Errorf("shot status should reflect the failure, got %s", media.shots[1].Status)
	}
}

func TestGenerateShotVideosMergedGroups(t *testing.T) {
	media := newFakeMediaStore()
	durations := []float64{2, 2, 2, 5}
	for i, d := range durations {
		id := int64(i + 1)
		media.shots[id] = &model.Shot{ID: id, UserID: 7, Index: i + 1, Duration: d, Action: "动作"}
	}

	tasks := newFakeTaskStore()
	svc := newMediaServiceForTest(media, newFakeCharacterStore(), tasks, okAdapter("http://cdn/clip.mp4"))

	resp, err := svc.GenerateShotVideos(context.Background(), 7, []int64{1, 2, 3, 4}, GenerateOptions{
		MergeShots:   true,
		MaxDuration:  6,
		ToleranceSec: 1,
	})
	if err != nil {
		t.Fatalf("GenerateShotVideos failed: %v", err)
	}
	// 6±1 分组：[2,2,2] 和 [5]
	if len(resp.TaskIDs) != 2 {
		t.Fatalf("expected 2 group tasks, got %d", len(resp.TaskIDs))
	}
	if !svc.dispatcher.Drain(2 * time.Second) {
		t.Fatal("dispatcher drain timed out")
	}

	first, _ := tasks.Get(7, resp.TaskIDs[0])
	if len(first.ShotIDs) != 3 {
		t.Errorf("first group task should cover 3 shots, got %v", first.ShotIDs)
	}
	// 组内所有镜头共享同一个片段
	for id := int64(1); id <= 4; id++ {
		if media.shots[id].VideoURL != "http://cdn/clip.mp4" {
			t.Errorf("shot %d missing merged clip url", id)
		}
		if media.shots[id].Status != model.TaskStatusCompleted {
			t.Errorf("shot %d: expected completed status, got %s", id, media.shots[id].Status)
		}
	}
}

func TestGenerateShotVideosMergedKeepsSubmittedOrder(t *testing.T) {
	// 幕来自并发结构化任务，后生成的幕可能拿到更小的实体 ID：
	// 叙事顺序为 10,11,12,3，按 ID 排序会把镜头 3 排到最前
	media := newFakeMediaStore()
	media.shots[10] = &model.Shot{ID: 10, UserID: 7, Index: 1, Duration: 2, Action: "动作"}
	media.shots[11] = &model.Shot{ID: 11, UserID: 7, Index: 2, Duration: 2, Action: "动作"}
	media.shots[12] = &model.Shot{ID: 12, UserID: 7, Index: 3, Duration: 2, Action: "动作"}
	media.shots[3] = &model.Shot{ID: 3, UserID: 7, Index: 1, Duration: 5, Action: "动作"}

	tasks := newFakeTaskStore()
	svc := newMediaServiceForTest(media, newFakeCharacterStore(), tasks, okAdapter("http://cdn/clip.mp4"))

	resp, err := svc.GenerateShotVideos(context.Background(), 7, []int64{10, 11, 12, 3}, GenerateOptions{
		MergeShots:   true,
		MaxDuration:  6,
		ToleranceSec: 1,
	})
	if err != nil {
		t.Fatalf("GenerateShotVideos failed: %v", err)
	}
	// 提交顺序分组：[2,2,2]=6 和 [5]；按 ID 排序会得到 [5,2]=7 和 [2,2]=4
	if len(resp.TaskIDs) != 2 {
		t.Fatalf("expected 2 group tasks, got %d", len(resp.TaskIDs))
	}
	if !svc.dispatcher.Drain(2 * time.Second) {
		t.Fatal("dispatcher drain timed out")
	}

	first, _ := tasks.Get(7, resp.TaskIDs[0])
	if len(first.ShotIDs) != 3 ||
		first.ShotIDs[0] != 10 || first.ShotIDs[1] != 11 || first.ShotIDs[2] != 12 {
		t.Errorf("first group must follow the submitted shot order, got %v", first.ShotIDs)
	}
	second, _ := tasks.Get(7, resp.TaskIDs[1])
	if len(second.ShotIDs) != 1 || second.ShotIDs[0] != 3 {
		t.Errorf("second group should hold the oversized tail shot, got %v", second.ShotIDs)
	}
}

func TestDrawCharactersWritesImages(t *testing.T) {
	characters := newFakeCharacterStore()
	characters.nextID = 2
	characters.characters[1] = &model.Character{ID: 1, UserID: 7, Name: "李明", Appearance: "黑发"}
	characters.characters[2] = &model.Character{ID: 2, UserID: 7, Name: "赵云", ImageURL: "http://cdn/existing.png"}

	tasks := newFakeTaskStore()
	svc := newMediaServiceForTest(newFakeMediaStore(), characters, tasks, okAdapter("http://cdn/portrait.png"))

	resp, err := svc.DrawCharacters(context.Background(), 7, []int64{1, 2}, GenerateOptions{})
	if err != nil {
		t.Fatalf("DrawCharacters failed: %v", err)
	}
	if resp.Skipped != 1 {
		t.Fatalf("expected existing portrait skipped, got %d", resp.Skipped)
	}
	if !svc.dispatcher.Drain(2 * time.Second) {
		t.Fatal("dispatcher drain timed out")
	}
	if characters.characters[1].ImageURL != "http://cdn/portrait.png" {
		t.Errorf("character 1 should carry the portrait, got %q", characters.characters[1].ImageURL)
	}
}

func TestGenerateDialogueAudios(t *testing.T) {
	media := newFakeMediaStore()
	media.dialogues[1] = &model.Dialogue{ID: 1, UserID: 7, ShotID: 5, Speaker: "李明", Line: "走吧"}

	tasks := newFakeTaskStore()
	svc := newMediaServiceForTest(media, newFakeCharacterStore(), tasks, okAdapter("http://cdn/line.mp3"))

	resp, err := svc.GenerateDialogueAudios(context.Background(), 7, []int64{1}, GenerateOptions{})
	if err != nil {
		t.Fatalf("GenerateDialogueAudios failed: %v", err)
	}
	if !svc.dispatcher.Drain(2 * time.Second) {
		t.Fatal("dispatcher drain timed out")
	}
	if media.dialogues[1].AudioURL != "http://cdn/line.mp3" {
		t.Errorf("dialogue should carry the audio url, got %q", media.dialogues[1].AudioURL)
	}
	task, _ := tasks.Get(7, resp.TaskIDs[0])
	if task.Status != model.TaskStatusCompleted || task.ResultURL != "http://cdn/line.mp3" {
		t.Errorf("task should complete with the audio url, got %s %q", task.Status, task.ResultURL)
	}
}

func TestGenerateDialogueAudiosUsesSpeakerVoice(t *testing.T) {
	media := newFakeMediaStore()
	media.shots[5] = &model.Shot{ID: 5, UserID: 7, ProjectID: 2, NovelID: 3, Duration: 4}
	media.dialogues[1] = &model.Dialogue{ID: 1, UserID: 7, ShotID: 5, Speaker: "李明", Line: "走吧"}

	characters := newFakeCharacterStore()
	characters.nextID = 1
	characters.characters[1] = &model.Character{
		ID: 1, UserID: 7, ProjectID: 2, NovelID: 3, Name: "李明", Voice: "qingnian-male",
	}

	adapter := okAdapter("http://cdn/line.mp3")
	svc := newMediaServiceForTest(media, characters, newFakeTaskStore(), adapter)

	if _, err := svc.GenerateDialogueAudios(context.Background(), 7, []int64{1}, GenerateOptions{}); err != nil {
		t.Fatalf("GenerateDialogueAudios failed: %v", err)
	}
	if !svc.dispatcher.Drain(2 * time.Second) {
		t.Fatal("dispatcher drain timed out")
	}

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.history) != 1 || adapter.history[0].Voice != "qingnian-male" {
		t.Fatalf("speaker's character voice should be the derived default, got %+v", adapter.history)
	}
}

func TestGenerateDialogueAudiosVoiceOverride(t *testing.T) {
	media := newFakeMediaStore()
	media.shots[5] = &model.Shot{ID: 5, UserID: 7, ProjectID: 2, NovelID: 3, Duration: 4}
	media.dialogues[1] = &model.Dialogue{ID: 1, UserID: 7, ShotID: 5, Speaker: "李明", Line: "走吧"}

	characters := newFakeCharacterStore()
	characters.nextID = 1
	characters.characters[1] = &model.Character{
		ID: 1, UserID: 7, ProjectID: 2, NovelID: 3, Name: "李明", Voice: "qingnian-male",
	}

	adapter := okAdapter("http://cdn/line.mp3")
	svc := newMediaServiceForTest(media, characters, newFakeTaskStore(), adapter)

	opts := GenerateOptions{APIConfig: map[string]interface{}{"voice": "narrator-01"}}
	if _, err := svc.GenerateDialogueAudios(context.Background(), 7, []int64{1}, opts); err != nil {
		t.Fatalf("GenerateDialogueAudios failed: %v", err)
	}
	if !svc.dispatcher.Drain(2 * time.Second) {
		t.Fatal("dispatcher drain timed out")
	}

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.history) != 1 || adapter.history[0].Voice != "narrator-01" {
		t.Fatalf("api_config voice must override the character voice, got %+v", adapter.history)
	}
}

func TestFeaturePromptPrefixesRequests(t *testing.T) {
	media := newFakeMediaStore()
	media.scenes[1] = &model.Scene{ID: 1, UserID: 7, Address: "码头"}

	adapter := okAdapter("http://cdn/x.png")
	svc := newMediaServiceForTest(media, newFakeCharacterStore(), newFakeTaskStore(), adapter)
	promptID := "5ba4f0a0-89d7-4de5-b9f3-1c9f0c9c0a11"
	svc.prompts = &fakePromptStore{prompts: map[string]*model.FeaturePrompt{
		promptID: {ID: promptID, UserID: 7, Content: "水墨画风格"},
	}}

	_, err := svc.GenerateSceneImages(context.Background(), 7, []int64{1}, GenerateOptions{FeaturePromptID: promptID})
	if err != nil {
		t.Fatalf("GenerateSceneImages failed: %v", err)
	}
	if !svc.dispatcher.Drain(2 * time.Second) {
		t.Fatal("dispatcher drain timed out")
	}

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.history) != 1 || adapter.history[0].SystemPrompt != "水墨画风格" {
		t.Fatalf("feature prompt should prefix the provider request, got %+v", adapter.history)
	}
}

func TestGenerateRejectsInvalidOptions(t *testing.T) {
	svc := newMediaServiceForTest(newFakeMediaStore(), newFakeCharacterStore(), newFakeTaskStore(), okAdapter(""))
	_, err := svc.GenerateShotVideos(context.Background(), 7, []int64{1}, GenerateOptions{Concurrency: 100})
	if err == nil {
		t.Fatal("expected validation error for concurrency above ceiling")
	}
}
