package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/Ape-Alive/StoryX-sub001/internal/apperr"
	"github.com/Ape-Alive/StoryX-sub001/internal/model"
	"github.com/Ape-Alive/StoryX-sub001/internal/provider"
)

// MediaService 媒体生成编排：角色形象、场景图、镜头视频、台词音频
// 公共流程：整批校验归属 → 覆盖策略 → 构造供应商请求 → 建任务记录 →
// 派发执行 → 单元各自回写实体与任务记录
type MediaService struct {
	media      MediaStore
	characters CharacterStore
	tasks      TaskStore
	prompts    PromptStore
	projects   ConfigStore
	adapter    provider.Adapter
	storage    MediaPersister
	dispatcher *Dispatcher
	defaults   ProviderDefaults
	validate   *validator.Validate

	promptCache *cache.Cache
	promptSF    singleflight.Group
}

// NewMediaService 创建媒体生成服务
func NewMediaService(
	media MediaStore,
	characters CharacterStore,
	tasks TaskStore,
	prompts PromptStore,
	projects ConfigStore,
	adapter provider.Adapter,
	storage MediaPersister,
	dispatcher *Dispatcher,
	defaults ProviderDefaults,
) *MediaService {
	return &MediaService{
		media:       media,
		characters:  characters,
		tasks:       tasks,
		prompts:     prompts,
		projects:    projects,
		adapter:     adapter,
		storage:     storage,
		dispatcher:  dispatcher,
		defaults:    defaults,
		validate:    validator.New(),
		promptCache: cache.New(5*time.Minute, 10*time.Minute),
	}
}

// featurePrompt 按 ID 取提示词模板，缓存 + singleflight 去重
func (s *MediaService) featurePrompt(userID int64, promptID string) (string, error) {
	if promptID == "" {
		return "", nil
	}
	key := fmt.Sprintf("prompt:%d:%s", userID, promptID)
	if cached, ok := s.promptCache.Get(key); ok {
		return cached.(string), nil
	}
	content, err, _ := s.promptSF.Do(key, func() (interface{}, error) {
		prompt, err := s.prompts.Get(userID, promptID)
		if err != nil {
			return nil, err
		}
		s.promptCache.Set(key, prompt.Content, cache.DefaultExpiration)
		return prompt.Content, nil
	})
	if err != nil {
		return "", err
	}
	return content.(string), nil
}

// DrawCharacters 批量生成角色形象图，返回创建的任务 ID 与跳过计数
func (s *MediaService) DrawCharacters(ctx context.Context, userID int64, characterIDs []int64, opts GenerateOptions) (*GenerateResponse, error) {
	if err := validateOptions(s.validate, opts); err != nil {
		return nil, err
	}
	characters, err := s.characters.GetMany(userID, characterIDs)
	if err != nil {
		return nil, err
	}
	if len(characters) != len(characterIDs) {
		return nil, apperr.NewValidation(
			fmt.Sprintf("存在无效角色 ID: 请求 %d 个，有效 %d 个", len(characterIDs), len(characters)), nil)
	}
	promptPrefix, err := s.featurePrompt(userID, opts.FeaturePromptID)
	if err != nil {
		return nil, err
	}

	resp := &GenerateResponse{TaskIDs: []string{}}
	units := make([]UnitOfWork, 0, len(characters))

	for _, character := range characters {
		if character.ImageURL != "" && !opts.AllowOverwrite && !opts.KeepBoth {
			resp.Skipped++
			continue
		}
		task, err := s.tasks.Create(userID, character.ID, model.TaskKindCharacterDraw)
		if err != nil {
			return nil, err
		}
		resp.TaskIDs = append(resp.TaskIDs, task.ID)

		c := character
		taskID := task.ID
		units = append(units, UnitOfWork{
			TaskID: taskID,
			Run: func(runCtx context.Context) error {
				req := provider.Request{
					SystemPrompt: promptPrefix,
					Prompt:       characterDrawPrompt(c),
					Extra:        opts.APIConfig,
				}
				return s.runUnit(runCtx, taskID, provider.CapabilityImage, userID, c.ProjectID, opts, req,
					fmt.Sprintf("character_%d_%s.png", c.ID, uuid.NewString()[:8]),
					func(url string) error {
						return s.characters.UpdateImage(c.ID, url, opts.KeepBoth)
					})
			},
		})
	}

	s.dispatcher.Dispatch(context.WithoutCancel(ctx), units, opts.Concurrency)
	return resp, nil
}

// GenerateSceneImages 批量生成场景图
func (s *MediaService) GenerateSceneImages(ctx context.Context, userID int64, sceneIDs []int64, opts GenerateOptions) (*GenerateResponse, error) {
	if err := validateOptions(s.validate, opts); err != nil {
		return nil, err
	}
	scenes, err := s.media.GetScenes(userID, sceneIDs)
	if err != nil {
		return nil, err
	}
	if len(scenes) != len(sceneIDs) {
		return nil, apperr.NewValidation(
			fmt.Sprintf("存在无效场景 ID: 请求 %d 个，有效 %d 个", len(sceneIDs), len(scenes)), nil)
	}
	promptPrefix, err := s.featurePrompt(userID, opts.FeaturePromptID)
	if err != nil {
		return nil, err
	}

	resp := &GenerateResponse{TaskIDs: []string{}}
	units := make([]UnitOfWork, 0, len(scenes))

	for _, scene := range scenes {
		if scene.ImageURL != "" && !opts.AllowOverwrite && !opts.KeepBoth {
			resp.Skipped++
			continue
		}
		task, err := s.tasks.Create(userID, scene.ID, model.TaskKindSceneImage)
		if err != nil {
			return nil, err
		}
		resp.TaskIDs = append(resp.TaskIDs, task.ID)

		sc := scene
		taskID := task.ID
		units = append(units, UnitOfWork{
			TaskID: taskID,
			Run: func(runCtx context.Context) error {
				req := provider.Request{
					SystemPrompt: promptPrefix,
					Prompt:       fmt.Sprintf("场景：%s。%s", sc.Address, sc.Description),
					Extra:        opts.APIConfig,
				}
				return s.runUnit(runCtx, taskID, provider.CapabilityImage, userID, sc.ProjectID, opts, req,
					fmt.Sprintf("scene_%d_%s.png", sc.ID, uuid.NewString()[:8]),
					func(url string) error {
						return s.media.UpdateSceneImage(sc.ID, url, opts.KeepBoth)
					})
			},
		})
	}

	s.dispatcher.Dispatch(context.WithoutCancel(ctx), units, opts.Concurrency)
	return resp, nil
}

// GenerateShotVideos 批量生成镜头视频
// mergeShots=true 时先按目标时长分组，每组一个任务，生成合并片段
func (s *MediaService) GenerateShotVideos(ctx context.Context, userID int64, shotIDs []int64, opts GenerateOptions) (*GenerateResponse, error) {
	if err := validateOptions(s.validate, opts); err != nil {
		return nil, err
	}
	shots, err := s.media.GetShots(userID, shotIDs)
	if err != nil {
		return nil, err
	}
	if len(shots) != len(shotIDs) {
		return nil, apperr.NewValidation(
			fmt.Sprintf("存在无效镜头 ID: 请求 %d 个，有效 %d 个", len(shotIDs), len(shots)), nil)
	}
	// 恢复调用方提交的镜头顺序：实体 ID 顺序与叙事顺序无关
	// （并发结构化任务完成次序不定），分组绝不重排镜头
	shots = reorderShots(shots, shotIDs)
	promptPrefix, err := s.featurePrompt(userID, opts.FeaturePromptID)
	if err != nil {
		return nil, err
	}

	if opts.MergeShots {
		return s.generateMergedShotVideos(ctx, userID, shots, promptPrefix, opts)
	}

	resp := &GenerateResponse{TaskIDs: []string{}}
	units := make([]UnitOfWork, 0, len(shots))

	for _, shot := range shots {
		if shot.VideoURL != "" && !opts.AllowOverwrite && !opts.KeepBoth {
			resp.Skipped++
			continue
		}
		task, err := s.tasks.Create(userID, shot.ID, model.TaskKindShotVideo)
		if err != nil {
			return nil, err
		}
		resp.TaskIDs = append(resp.TaskIDs, task.ID)

		sh := shot
		taskID := task.ID
		units = append(units, UnitOfWork{
			TaskID: taskID,
			Run: func(runCtx context.Context) error {
				prompt, err := s.shotPrompt(sh)
				if err != nil {
					return s.failUnit(taskID, err)
				}
				_ = s.media.UpdateShotStatus(sh.ID, model.TaskStatusProcessing)
				req := provider.Request{
					SystemPrompt: promptPrefix,
					Prompt:       prompt,
					DurationSec:  sh.Duration,
					Extra:        opts.APIConfig,
				}
				err = s.runUnit(runCtx, taskID, provider.CapabilityVideo, userID, sh.ProjectID, opts, req,
					fmt.Sprintf("shot_%d_%s.mp4", sh.ID, uuid.NewString()[:8]),
					func(url string) error {
						return s.media.UpdateShotVideo(sh.ID, url, url, opts.KeepBoth)
					})
				if err != nil {
					// 失败时镜头既有媒体保持不动，只标记状态
					_ = s.media.UpdateShotStatus(sh.ID, model.TaskStatusFailed)
				}
				return err
			},
		})
	}

	s.dispatcher.Dispatch(context.WithoutCancel(ctx), units, opts.Concurrency)
	return resp, nil
}

// generateMergedShotVideos 合并镜头模式：每个分组一个任务
func (s *MediaService) generateMergedShotVideos(ctx context.Context, userID int64, shots []model.Shot, promptPrefix string, opts GenerateOptions) (*GenerateResponse, error) {
	groups := PlanShotGroups(shots, opts.MaxDuration, opts.ToleranceSec)

	resp := &GenerateResponse{TaskIDs: []string{}}
	units := make([]UnitOfWork, 0, len(groups))

	for _, group := range groups {
		if group.OutOfTolerance {
			log.Printf("[MediaService] 镜头组时长 %.1fs 超出容差窗口（目标 %.1f±%.1f），仍然产出",
				group.Duration, opts.MaxDuration, opts.ToleranceSec)
		}

		// 组内全部镜头都已有视频且未放开覆盖时跳过整组
		allHaveVideo := true
		groupShotIDs := make([]int64, len(group.Shots))
		for i, shot := range group.Shots {
			groupShotIDs[i] = shot.ID
			if shot.VideoURL == "" {
				allHaveVideo = false
			}
		}
		if allHaveVideo && !opts.AllowOverwrite && !opts.KeepBoth {
			resp.Skipped++
			continue
		}

		task, err := s.tasks.CreateForShotGroup(userID, groupShotIDs)
		if err != nil {
			return nil, err
		}
		resp.TaskIDs = append(resp.TaskIDs, task.ID)

		g := group
		taskID := task.ID
		units = append(units, UnitOfWork{
			TaskID: taskID,
			Run: func(runCtx context.Context) error {
				prompt, err := s.groupPrompt(g)
				if err != nil {
					return s.failUnit(taskID, err)
				}
				for _, shot := range g.Shots {
					_ = s.media.UpdateShotStatus(shot.ID, model.TaskStatusProcessing)
				}
				req := provider.Request{
					SystemPrompt: promptPrefix,
					Prompt:       prompt,
					DurationSec:  g.Duration,
					Extra:        opts.APIConfig,
				}
				err = s.runUnit(runCtx, taskID, provider.CapabilityVideo, userID, g.Shots[0].ProjectID, opts, req,
					fmt.Sprintf("clip_%d_%s.mp4", g.Shots[0].ID, uuid.NewString()[:8]),
					func(url string) error {
						for _, shot := range g.Shots {
							if err := s.media.UpdateShotVideo(shot.ID, url, url, opts.KeepBoth); err != nil {
								return err
							}
						}
						return nil
					})
				if err != nil {
					for _, shot := range g.Shots {
						_ = s.media.UpdateShotStatus(shot.ID, model.TaskStatusFailed)
					}
				}
				return err
			},
		})
	}

	s.dispatcher.Dispatch(context.WithoutCancel(ctx), units, opts.Concurrency)
	return resp, nil
}

// GenerateDialogueAudios 批量生成台词音频
func (s *MediaService) GenerateDialogueAudios(ctx context.Context, userID int64, dialogueIDs []int64, opts GenerateOptions) (*GenerateResponse, error) {
	if err := validateOptions(s.validate, opts); err != nil {
		return nil, err
	}
	dialogues, err := s.media.GetDialogues(userID, dialogueIDs)
	if err != nil {
		return nil, err
	}
	if len(dialogues) != len(dialogueIDs) {
		return nil, apperr.NewValidation(
			fmt.Sprintf("存在无效台词 ID: 请求 %d 个，有效 %d 个", len(dialogueIDs), len(dialogues)), nil)
	}
	promptPrefix, err := s.featurePrompt(userID, opts.FeaturePromptID)
	if err != nil {
		return nil, err
	}

	// 台词经由所属镜头取得项目/小说归属：供应商配置与说话人音色都从这里派生
	shotByID, err := s.dialogueShots(userID, dialogues)
	if err != nil {
		return nil, err
	}

	resp := &GenerateResponse{TaskIDs: []string{}}
	units := make([]UnitOfWork, 0, len(dialogues))

	for _, dialogue := range dialogues {
		if dialogue.AudioURL != "" && !opts.AllowOverwrite && !opts.KeepBoth {
			resp.Skipped++
			continue
		}
		task, err := s.tasks.Create(userID, dialogue.ID, model.TaskKindDialogueAudio)
		if err != nil {
			return nil, err
		}
		resp.TaskIDs = append(resp.TaskIDs, task.ID)

		d := dialogue
		// 镜头缺失时为零值：回退到应用默认配置与全局角色域
		shot := shotByID[dialogue.ShotID]
		scope := model.MergeScope{UserID: userID, ProjectID: shot.ProjectID, NovelID: shot.NovelID}
		taskID := task.ID
		units = append(units, UnitOfWork{
			TaskID: taskID,
			Run: func(runCtx context.Context) error {
				req := provider.Request{
					SystemPrompt: promptPrefix,
					Prompt:       d.Line,
					Voice:        s.dialogueVoice(d, scope, opts),
					Extra:        opts.APIConfig,
				}
				return s.runUnit(runCtx, taskID, provider.CapabilityTTS, userID, shot.ProjectID, opts, req,
					fmt.Sprintf("dialogue_%d_%s.mp3", d.ID, uuid.NewString()[:8]),
					func(url string) error {
						return s.media.UpdateDialogueAudio(d.ID, url, opts.KeepBoth)
					})
			},
		})
	}

	s.dispatcher.Dispatch(context.WithoutCancel(ctx), units, opts.Concurrency)
	return resp, nil
}

// runUnit 单元公共执行路径：任务状态流转、供应商调用、媒体持久化、实体回写
// 任何失败都只落到本单元的任务记录上
func (s *MediaService) runUnit(
	ctx context.Context,
	taskID string,
	capability provider.Capability,
	userID, projectID int64,
	opts GenerateOptions,
	req provider.Request,
	persistName string,
	writeBack func(url string) error,
) error {
	if err := s.tasks.MarkProcessing(taskID); err != nil {
		return err
	}

	modelCfg, err := resolveModelConfig(s.projects, s.defaults, projectID, capability)
	if err != nil {
		return s.failUnit(taskID, err)
	}
	_ = s.tasks.UpdateProgress(taskID, 20)

	result, err := s.adapter.Invoke(ctx, capability, modelCfg, req)
	if err != nil {
		return s.failUnit(taskID, err)
	}
	_ = s.tasks.UpdateProgress(taskID, 70)

	url := result.URL
	if s.storage != nil && url != "" {
		mode := s.storageMode(userID, projectID, opts)
		persisted, err := s.storage.Persist(ctx, mode, url, persistName)
		if err != nil {
			return s.failUnit(taskID, fmt.Errorf("媒体持久化失败: %w", err))
		}
		url = persisted
	}
	_ = s.tasks.UpdateProgress(taskID, 90)

	// 新媒体确认写入后才替换实体引用，失败时旧媒体不动
	if err := writeBack(url); err != nil {
		return s.failUnit(taskID, fmt.Errorf("实体回写失败: %w", err))
	}

	metadata, _ := json.Marshal(result.Metadata)
	return s.tasks.Complete(taskID, url, string(metadata))
}

// failUnit 把错误落进任务记录并原样返回
func (s *MediaService) failUnit(taskID string, err error) error {
	if failErr := s.tasks.Fail(taskID, err.Error()); failErr != nil {
		log.Printf("[MediaService] 任务 %s 写入失败状态出错: %v", taskID, failErr)
	}
	return err
}

// storageMode 调用选项优先，其次项目配置，最后默认 download_upload
func (s *MediaService) storageMode(userID, projectID int64, opts GenerateOptions) model.StorageMode {
	if opts.StorageMode != "" {
		return opts.StorageMode
	}
	if projectID > 0 && s.projects != nil {
		if project, err := s.projects.Get(userID, projectID); err == nil && project.StorageMode != "" {
			return project.StorageMode
		}
	}
	return model.StorageModeDownloadUpload
}

// reorderShots 把查询结果重排成请求 ID 的顺序
func reorderShots(shots []model.Shot, shotIDs []int64) []model.Shot {
	byID := make(map[int64]model.Shot, len(shots))
	for _, shot := range shots {
		byID[shot.ID] = shot
	}
	ordered := make([]model.Shot, 0, len(shotIDs))
	for _, id := range shotIDs {
		if shot, ok := byID[id]; ok {
			ordered = append(ordered, shot)
		}
	}
	return ordered
}

// shotPrompt 由镜头描述字段与台词组装视频生成提示词
func (s *MediaService) shotPrompt(shot model.Shot) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "镜头 %d（%.1f 秒）：%s\n", shot.Index, shot.Duration, shot.Action)
	if shot.Camera != "" {
		fmt.Fprintf(&sb, "运镜：%s；", shot.Camera)
	}
	if shot.Framing != "" {
		fmt.Fprintf(&sb, "构图：%s；", shot.Framing)
	}
	if shot.Lighting != "" {
		fmt.Fprintf(&sb, "光线：%s；", shot.Lighting)
	}
	if shot.Atmosphere != "" {
		fmt.Fprintf(&sb, "氛围：%s", shot.Atmosphere)
	}

	dialogues, err := s.media.ListShotDialogues(shot.ID)
	if err != nil {
		return "", err
	}
	if len(dialogues) > 0 {
		sb.WriteString("\n台词：\n")
		for _, d := range dialogues {
			fmt.Fprintf(&sb, "%s（%s）：%s\n", d.Speaker, d.Mood, d.Line)
		}
	}
	return sb.String(), nil
}

// groupPrompt 合并组的提示词：按序拼接组内全部镜头的动作与台词
func (s *MediaService) groupPrompt(group ShotGroup) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "以下 %d 个镜头合并为一个连续片段（总时长 %.1f 秒）：\n\n", len(group.Shots), group.Duration)
	for _, shot := range group.Shots {
		part, err := s.shotPrompt(shot)
		if err != nil {
			return "", err
		}
		sb.WriteString(part)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// dialogueShots 批量查询台词所属的镜头
func (s *MediaService) dialogueShots(userID int64, dialogues []model.Dialogue) (map[int64]model.Shot, error) {
	seen := make(map[int64]bool, len(dialogues))
	shotIDs := make([]int64, 0, len(dialogues))
	for _, d := range dialogues {
		if d.ShotID > 0 && !seen[d.ShotID] {
			seen[d.ShotID] = true
			shotIDs = append(shotIDs, d.ShotID)
		}
	}
	byID := make(map[int64]model.Shot, len(shotIDs))
	if len(shotIDs) == 0 {
		return byID, nil
	}
	shots, err := s.media.GetShots(userID, shotIDs)
	if err != nil {
		return nil, err
	}
	for _, shot := range shots {
		byID[shot.ID] = shot
	}
	return byID, nil
}

// dialogueVoice 音色取值：apiConfig.voice 显式覆盖 > 说话人对应角色的音色设定
func (s *MediaService) dialogueVoice(dialogue model.Dialogue, scope model.MergeScope, opts GenerateOptions) string {
	if v, ok := opts.APIConfig["voice"].(string); ok && v != "" {
		return v
	}
	if dialogue.Speaker == "" {
		return ""
	}
	character, err := s.characters.FindInScope(scope, dialogue.Speaker)
	if err != nil || character == nil {
		return ""
	}
	return character.Voice
}

// characterDrawPrompt 由角色描述字段组装形象图提示词
func characterDrawPrompt(character model.Character) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "角色立绘：%s", character.Name)
	if character.Age != "" || character.Gender != "" {
		fmt.Fprintf(&sb, "，%s %s", character.Age, character.Gender)
	}
	if len(character.Personality) > 0 {
		fmt.Fprintf(&sb, "。性格：%s", strings.Join(character.Personality, "、"))
	}
	if character.Appearance != "" {
		fmt.Fprintf(&sb, "。外貌：%s", character.Appearance)
	}
	if character.Clothing != "" {
		fmt.Fprintf(&sb, "。服装：%s", character.Clothing)
	}
	if character.Style != "" {
		fmt.Fprintf(&sb, "。画风：%s", character.Style)
	}
	return sb.String()
}
