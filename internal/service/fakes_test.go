package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ape-Alive/StoryX-sub001/internal/apperr"
	"github.com/Ape-Alive/StoryX-sub001/internal/model"
	"github.com/Ape-Alive/StoryX-sub001/internal/provider"
)

// 服务层测试用的内存存储实现

type fakeNovelStore struct {
	mu       sync.Mutex
	novels   map[int64]*model.Novel
	chapters map[int64][]model.Chapter // novelID → chapters
}

func newFakeNovelStore() *fakeNovelStore {
	return &fakeNovelStore{
		novels:   make(map[int64]*model.Novel),
		chapters: make(map[int64][]model.Chapter),
	}
}

func (f *fakeNovelStore) Get(userID, novelID int64) (*model.Novel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	novel, ok := f.novels[novelID]
	if !ok || novel.UserID != userID {
		return nil, apperr.NewNotFound(fmt.Sprintf("小说 %d 不存在", novelID))
	}
	cp := *novel
	return &cp, nil
}

func (f *fakeNovelStore) ListChapters(novelID int64) ([]model.Chapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Chapter(nil), f.chapters[novelID]...), nil
}

func (f *fakeNovelStore) GetChapters(chapterIDs []int64) ([]model.Chapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[int64]bool, len(chapterIDs))
	for _, id := range chapterIDs {
		want[id] = true
	}
	var out []model.Chapter
	for _, chapters := range f.chapters {
		for _, c := range chapters {
			if want[c.ID] {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

type fakeScriptStore struct {
	mu         sync.Mutex
	tasks      map[string]*model.ScriptTask
	reconciled map[string][]model.ActTree
	deleted    map[string]bool
	acts       []model.Act
}

func newFakeScriptStore() *fakeScriptStore {
	return &fakeScriptStore{
		tasks:      make(map[string]*model.ScriptTask),
		reconciled: make(map[string][]model.ActTree),
		deleted:    make(map[string]bool),
	}
}

func (f *fakeScriptStore) CreateTask(novelID, projectID, userID int64, chapterIDs []int64, taskType model.ScriptTaskType) (*model.ScriptTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := &model.ScriptTask{
		ID:         uuid.NewString(),
		NovelID:    novelID,
		ProjectID:  projectID,
		UserID:     userID,
		ChapterIDs: append([]int64(nil), chapterIDs...),
		Type:       taskType,
		Status:     model.TaskStatusPending,
		CreatedAt:  time.Now(),
	}
	f.tasks[task.ID] = task
	cp := *task
	return &cp, nil
}

func (f *fakeScriptStore) GetTask(userID int64, taskID string) (*model.ScriptTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || task.UserID != userID {
		return nil, apperr.NewNotFound(fmt.Sprintf("结构化任务 %s 不存在", taskID))
	}
	cp := *task
	return &cp, nil
}

func (f *fakeScriptStore) ListTasksByNovel(novelID int64) ([]model.ScriptTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ScriptTask
	for _, task := range f.tasks {
		if task.NovelID == novelID {
			out = append(out, *task)
		}
	}
	return out, nil
}

func (f *fakeScriptStore) MarkTaskProcessing(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || task.Status != model.TaskStatusPending {
		return apperr.NewInvalidTransition(fmt.Sprintf("结构化任务 %s 不在 pending", taskID))
	}
	task.Status = model.TaskStatusProcessing
	now := time.Now()
	task.StartedAt = &now
	return nil
}

func (f *fakeScriptStore) UpdateTaskProgress(taskID string, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task, ok := f.tasks[taskID]; ok && task.Status == model.TaskStatusProcessing && progress >= task.Progress {
		task.Progress = progress
	}
	return nil
}

func (f *fakeScriptStore) CompleteTask(taskID, rawResult string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || task.Status.Terminal() {
		return apperr.NewInvalidTransition(fmt.Sprintf("结构化任务 %s 已终结", taskID))
	}
	task.Status = model.TaskStatusCompleted
	task.Progress = 100
	task.Result = rawResult
	return nil
}

func (f *fakeScriptStore) FailTask(taskID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || task.Status.Terminal() {
		return apperr.NewInvalidTransition(fmt.Sprintf("结构化任务 %s 已终结", taskID))
	}
	task.Status = model.TaskStatusFailed
	task.Error = errMsg
	return nil
}

func (f *fakeScriptStore) ResetTask(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || !task.Status.Terminal() {
		return apperr.NewInvalidTransition(fmt.Sprintf("结构化任务 %s 未终结", taskID))
	}
	task.Status = model.TaskStatusPending
	task.Progress = 0
	task.Error = ""
	return nil
}

func (f *fakeScriptStore) ReconcileActs(taskID string, trees []model.ActTree) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled[taskID] = trees
	return nil
}

func (f *fakeScriptStore) DeleteTaskOutput(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[taskID] = true
	delete(f.reconciled, taskID)
	return nil
}

func (f *fakeScriptStore) ListActsByNovel(userID, novelID int64) ([]model.Act, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Act
	for _, act := range f.acts {
		if act.NovelID == novelID && act.UserID == userID {
			out = append(out, act)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartChapterOrder != out[j].StartChapterOrder {
			return out[i].StartChapterOrder < out[j].StartChapterOrder
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

type fakeCharacterStore struct {
	mu         sync.Mutex
	nextID     int64
	characters map[int64]*model.Character
}

func newFakeCharacterStore() *fakeCharacterStore {
	return &fakeCharacterStore{characters: make(map[int64]*model.Character)}
}

func (f *fakeCharacterStore) Get(userID, characterID int64) (*model.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.characters[characterID]
	if !ok || c.UserID != userID {
		return nil, apperr.NewNotFound(fmt.Sprintf("角色 %d 不存在", characterID))
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCharacterStore) GetMany(userID int64, characterIDs []int64) ([]model.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Character
	for _, id := range characterIDs {
		if c, ok := f.characters[id]; ok && c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCharacterStore) FindInScope(scope model.MergeScope, name string) (*model.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.characters {
		if c.Scope() == scope && c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeCharacterStore) ListInScope(scope model.MergeScope) ([]model.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Character
	for _, c := range f.characters {
		if c.Scope() == scope {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCharacterStore) Upsert(character *model.Character) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.characters {
		if c.Scope() == character.Scope() && c.Name == character.Name {
			c.UsageCount++
			// 模拟唯一键冲突：不回填新 ID
			character.ID = 0
			return nil
		}
	}
	f.nextID++
	character.ID = f.nextID
	character.UsageCount = 1
	character.CreatedAt = time.Now()
	cp := *character
	f.characters[character.ID] = &cp
	return nil
}

func (f *fakeCharacterStore) IncrementUsage(characterID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.characters[characterID]; ok {
		c.UsageCount++
	}
	return nil
}

func (f *fakeCharacterStore) AppendShotIDs(characterID int64, shotIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.characters[characterID]
	if !ok {
		return apperr.NewNotFound(fmt.Sprintf("角色 %d 不存在", characterID))
	}
	seen := make(map[int64]bool)
	for _, id := range c.ShotIDs {
		seen[id] = true
	}
	for _, id := range shotIDs {
		if !seen[id] {
			c.ShotIDs = append(c.ShotIDs, id)
			seen[id] = true
		}
	}
	return nil
}

func (f *fakeCharacterStore) UpdateImage(characterID int64, url string, keepBoth bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.characters[characterID]
	if !ok {
		return apperr.NewNotFound(fmt.Sprintf("角色 %d 不存在", characterID))
	}
	if keepBoth && c.ImageURL != "" {
		c.ImageHistory = append(c.ImageHistory, c.ImageURL)
	}
	c.ImageURL = url
	return nil
}

func (f *fakeCharacterStore) Delete(characterID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.characters, characterID)
	return nil
}

type fakeConfigStore struct {
	mu       sync.Mutex
	projects map[int64]*model.Project
	configs  map[string]*model.GenerationConfig // "projectID/capability"
}

func newFakeConfigStore() *fakeConfigStore {
	return &fakeConfigStore{
		projects: make(map[int64]*model.Project),
		configs:  make(map[string]*model.GenerationConfig),
	}
}

func (f *fakeConfigStore) Get(userID, projectID int64) (*model.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[projectID]
	if !ok || p.UserID != userID {
		return nil, apperr.NewNotFound(fmt.Sprintf("项目 %d 不存在", projectID))
	}
	cp := *p
	return &cp, nil
}

func (f *fakeConfigStore) GetGenerationConfig(projectID int64, capability string) (*model.GenerationConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cfg, ok := f.configs[fmt.Sprintf("%d/%s", projectID, capability)]; ok {
		cp := *cfg
		return &cp, nil
	}
	return nil, nil
}

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*model.GenerationTask
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[string]*model.GenerationTask)}
}

func (f *fakeTaskStore) Create(userID, ownerID int64, kind model.TaskKind) (*model.GenerationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := &model.GenerationTask{
		ID:        uuid.NewString(),
		UserID:    userID,
		OwnerID:   ownerID,
		Kind:      kind,
		Status:    model.TaskStatusPending,
		CreatedAt: time.Now(),
	}
	f.tasks[task.ID] = task
	cp := *task
	return &cp, nil
}

func (f *fakeTaskStore) CreateForShotGroup(userID int64, shotIDs []int64) (*model.GenerationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := &model.GenerationTask{
		ID:        uuid.NewString(),
		UserID:    userID,
		OwnerID:   shotIDs[0],
		ShotIDs:   append([]int64(nil), shotIDs...),
		Kind:      model.TaskKindShotVideo,
		Status:    model.TaskStatusPending,
		CreatedAt: time.Now(),
	}
	f.tasks[task.ID] = task
	cp := *task
	return &cp, nil
}

func (f *fakeTaskStore) MarkProcessing(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || task.Status != model.TaskStatusPending {
		return apperr.NewInvalidTransition(fmt.Sprintf("任务 %s 不在 pending", taskID))
	}
	task.Status = model.TaskStatusProcessing
	return nil
}

func (f *fakeTaskStore) UpdateProgress(taskID string, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task, ok := f.tasks[taskID]; ok && task.Status == model.TaskStatusProcessing && progress >= task.Progress {
		task.Progress = progress
	}
	return nil
}

func (f *fakeTaskStore) Complete(taskID, resultURL, metadata string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || task.Status.Terminal() {
		return apperr.NewInvalidTransition(fmt.Sprintf("任务 %s 已终结", taskID))
	}
	task.Status = model.TaskStatusCompleted
	task.Progress = 100
	task.ResultURL = resultURL
	task.Metadata = metadata
	return nil
}

func (f *fakeTaskStore) Fail(taskID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || task.Status.Terminal() {
		return apperr.NewInvalidTransition(fmt.Sprintf("任务 %s 已终结", taskID))
	}
	task.Status = model.TaskStatusFailed
	task.Error = errMsg
	return nil
}

func (f *fakeTaskStore) Get(userID int64, taskID string) (*model.GenerationTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || task.UserID != userID {
		return nil, apperr.NewNotFound(fmt.Sprintf("任务 %s 不存在", taskID))
	}
	cp := *task
	return &cp, nil
}

type fakeMediaStore struct {
	mu        sync.Mutex
	scenes    map[int64]*model.Scene
	shots     map[int64]*model.Shot
	dialogues map[int64]*model.Dialogue
}

func newFakeMediaStore() *fakeMediaStore {
	return &fakeMediaStore{
		scenes:    make(map[int64]*model.Scene),
		shots:     make(map[int64]*model.Shot),
		dialogues: make(map[int64]*model.Dialogue),
	}
}

func (f *fakeMediaStore) GetScenes(userID int64, sceneIDs []int64) ([]model.Scene, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Scene
	for _, id := range sceneIDs {
		if s, ok := f.scenes[id]; ok && s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeMediaStore) GetShots(userID int64, shotIDs []int64) ([]model.Shot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Shot
	for _, id := range shotIDs {
		if s, ok := f.shots[id]; ok && s.UserID == userID {
			out = append(out, *s)
		}
	}
	// 模仿数据库 IN 查询：返回顺序与请求顺序无关
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeMediaStore) GetDialogues(userID int64, dialogueIDs []int64) ([]model.Dialogue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Dialogue
	for _, id := range dialogueIDs {
		if d, ok := f.dialogues[id]; ok && d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeMediaStore) ListShotDialogues(shotID int64) ([]model.Dialogue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Dialogue
	for _, d := range f.dialogues {
		if d.ShotID == shotID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeMediaStore) UpdateSceneImage(sceneID int64, url string, keepBoth bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scenes[sceneID]
	if !ok {
		return apperr.NewNotFound(fmt.Sprintf("场景 %d 不存在", sceneID))
	}
	if keepBoth && s.ImageURL != "" {
		s.ImageHistory = append(s.ImageHistory, s.ImageURL)
	}
	s.ImageURL = url
	return nil
}

func (f *fakeMediaStore) UpdateShotVideo(shotID int64, url, path string, keepBoth bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shots[shotID]
	if !ok {
		return apperr.NewNotFound(fmt.Sprintf("镜头 %d 不存在", shotID))
	}
	if keepBoth && s.VideoURL != "" {
		s.VideoHistory = append(s.VideoHistory, s.VideoURL)
	}
	s.VideoURL = url
	s.VideoPath = path
	s.Status = model.TaskStatusCompleted
	return nil
}

func (f *fakeMediaStore) UpdateShotStatus(shotID int64, status model.TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.shots[shotID]; ok {
		s.Status = status
	}
	return nil
}

func (f *fakeMediaStore) UpdateDialogueAudio(dialogueID int64, url string, keepBoth bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.dialogues[dialogueID]
	if !ok {
		return apperr.NewNotFound(fmt.Sprintf("台词 %d 不存在", dialogueID))
	}
	if keepBoth && d.AudioURL != "" {
		d.AudioHistory = append(d.AudioHistory, d.AudioURL)
	}
	d.AudioURL = url
	return nil
}

type fakePromptStore struct {
	prompts map[string]*model.FeaturePrompt
}

func (f *fakePromptStore) Get(userID int64, promptID string) (*model.FeaturePrompt, error) {
	if p, ok := f.prompts[promptID]; ok && p.UserID == userID {
		cp := *p
		return &cp, nil
	}
	return nil, apperr.NewNotFound(fmt.Sprintf("提示词模板 %s 不存在", promptID))
}

// fakeAdapter 按注入函数响应供应商调用
type fakeAdapter struct {
	mu      sync.Mutex
	calls   int
	invoke  func(capability provider.Capability, req provider.Request) (*provider.Result, error)
	history []provider.Request
}

func (f *fakeAdapter) Invoke(ctx context.Context, capability provider.Capability, cfg provider.ModelConfig, req provider.Request) (*provider.Result, error) {
	f.mu.Lock()
	f.calls++
	f.history = append(f.history, req)
	f.mu.Unlock()
	return f.invoke(capability, req)
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakePersister 原样返回来源 URL
type fakePersister struct{}

func (fakePersister) Persist(ctx context.Context, mode model.StorageMode, sourceURL, name string) (string, error) {
	return sourceURL, nil
}

func testDefaults() ProviderDefaults {
	return ProviderDefaults{Configs: map[provider.Capability]provider.ModelConfig{
		provider.CapabilityLLM:   {BaseURL: "http://llm.test", APIKey: "k", Model: "m"},
		provider.CapabilityImage: {BaseURL: "http://img.test", APIKey: "k", Model: "m"},
		provider.CapabilityVideo: {BaseURL: "http://vid.test", APIKey: "k", Model: "m"},
		provider.CapabilityTTS:   {BaseURL: "http://tts.test", APIKey: "k", Model: "m"},
	}}
}
