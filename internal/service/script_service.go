package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"

	"github.com/Ape-Alive/StoryX-sub001/internal/apperr"
	"github.com/Ape-Alive/StoryX-sub001/internal/model"
	"github.com/Ape-Alive/StoryX-sub001/internal/provider"
	"github.com/Ape-Alive/StoryX-sub001/internal/utils"
)

// structuringSystemPrompt 剧本结构化的系统提示词
const structuringSystemPrompt = `你是一名动画剧本结构师。把给定的小说章节改编成结构化剧本，严格输出 JSON，不要输出任何其他文字。
JSON 结构：
{
  "character_settings": [{"name","age","gender","personality","appearance","style","voice","clothing"}],
  "plot_outline": [{
    "name","content","highlight","emotion_curve","rhythm",
    "scenes": [{
      "address","description",
      "shots": [{
        "duration","camera","framing","lighting","atmosphere","action","transition",
        "dialogues": [{"speaker","line","mood"}]
      }]
    }]
  }]
}
duration 是镜头时长（秒，数字）。personality 使用字符串数组。`

// ScriptService 剧本结构化编排
type ScriptService struct {
	novels     NovelStore
	scripts    ScriptStore
	characters *CharacterService
	projects   ConfigStore
	adapter    provider.Adapter
	dispatcher *Dispatcher
	defaults   ProviderDefaults
	validate   *validator.Validate
}

// NewScriptService 创建剧本结构化服务
func NewScriptService(
	novels NovelStore,
	scripts ScriptStore,
	characters *CharacterService,
	projects ConfigStore,
	adapter provider.Adapter,
	dispatcher *Dispatcher,
	defaults ProviderDefaults,
) *ScriptService {
	return &ScriptService{
		novels:     novels,
		scripts:    scripts,
		characters: characters,
		projects:   projects,
		adapter:    adapter,
		dispatcher: dispatcher,
		defaults:   defaults,
		validate:   validator.New(),
	}
}

// SplitByChapters 每 perTask 个连续章节一个分块
func SplitByChapters(chapters []model.Chapter, perTask int) [][]model.Chapter {
	if perTask <= 0 {
		perTask = 1
	}
	chunks := make([][]model.Chapter, 0, (len(chapters)+perTask-1)/perTask)
	for start := 0; start < len(chapters); start += perTask {
		end := start + perTask
		if end > len(chapters) {
			end = len(chapters)
		}
		chunks = append(chunks, chapters[start:end])
	}
	return chunks
}

// SplitByWords 连续累加章节直到字数达到 wordsPerTask 开新分块，末块可不足
func SplitByWords(chapters []model.Chapter, wordsPerTask int) [][]model.Chapter {
	if wordsPerTask <= 0 {
		if len(chapters) == 0 {
			return [][]model.Chapter{}
		}
		return [][]model.Chapter{chapters}
	}
	chunks := make([][]model.Chapter, 0)
	var cur []model.Chapter
	words := 0
	for _, chapter := range chapters {
		cur = append(cur, chapter)
		words += chapter.WordCount
		if words >= wordsPerTask {
			chunks = append(chunks, cur)
			cur = nil
			words = 0
		}
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}

// CreateTasks 把小说章节切块并为每块创建结构化任务，异步派发执行，
// 立即返回创建的任务 ID（调用方轮询任务状态）
func (s *ScriptService) CreateTasks(ctx context.Context, userID, novelID int64, opts StructureOptions) ([]string, error) {
	if err := validateOptions(s.validate, opts); err != nil {
		return nil, err
	}

	novel, err := s.novels.Get(userID, novelID)
	if err != nil {
		return nil, err
	}
	chapters, err := s.novels.ListChapters(novelID)
	if err != nil {
		return nil, err
	}
	if len(chapters) == 0 {
		return nil, apperr.NewValidation("小说没有章节", nil)
	}

	var chunks [][]model.Chapter
	if opts.TaskType == model.ScriptTaskByChapters {
		chunks = SplitByChapters(chapters, opts.ChaptersPerTask)
	} else {
		chunks = SplitByWords(chapters, opts.WordsPerTask)
	}

	// skipOverlapping：已有非失败任务覆盖的章节区间优先，重叠分块不再创建
	var covered map[int64]bool
	if opts.SkipOverlapping {
		covered, err = s.coveredChapters(novelID)
		if err != nil {
			return nil, err
		}
	}

	taskIDs := make([]string, 0, len(chunks))
	units := make([]UnitOfWork, 0, len(chunks))
	skipped := 0

	for _, chunk := range chunks {
		chapterIDs := make([]int64, len(chunk))
		overlaps := false
		for i, chapter := range chunk {
			chapterIDs[i] = chapter.ID
			if covered != nil && covered[chapter.ID] {
				overlaps = true
			}
		}
		if overlaps {
			skipped++
			continue
		}

		task, err := s.scripts.CreateTask(novelID, novel.ProjectID, userID, chapterIDs, opts.TaskType)
		if err != nil {
			return taskIDs, err
		}
		taskIDs = append(taskIDs, task.ID)

		taskID := task.ID
		units = append(units, UnitOfWork{
			TaskID: taskID,
			Run: func(runCtx context.Context) error {
				return s.executeTask(runCtx, userID, taskID)
			},
		})
	}

	if skipped > 0 {
		log.Printf("[ScriptService] 小说 %d: %d 个分块与既有任务重叠，已跳过", novelID, skipped)
	}

	// 派发与请求生命周期解耦
	s.dispatcher.Dispatch(context.WithoutCancel(ctx), units, opts.Concurrency)
	return taskIDs, nil
}

// RegenerateScript 重新执行既有结构化任务
// overwrite=true（默认）先删除该任务名下旧的幕/场景/镜头再重建，
// false 时新实体与旧实体并存，去重交给调用方
func (s *ScriptService) RegenerateScript(ctx context.Context, userID int64, taskID string, overwrite bool) error {
	task, err := s.scripts.GetTask(userID, taskID)
	if err != nil {
		return err
	}
	if err := s.scripts.ResetTask(task.ID); err != nil {
		return err
	}
	if overwrite {
		if err := s.scripts.DeleteTaskOutput(task.ID); err != nil {
			return err
		}
	}

	s.dispatcher.Dispatch(context.WithoutCancel(ctx), []UnitOfWork{{
		TaskID: task.ID,
		Run: func(runCtx context.Context) error {
			return s.executeTask(runCtx, userID, task.ID)
		},
	}}, 1)
	return nil
}

// ListActs 按展示顺序返回小说的幕，先校验小说归属
func (s *ScriptService) ListActs(userID, novelID int64) ([]model.Act, error) {
	if _, err := s.novels.Get(userID, novelID); err != nil {
		return nil, err
	}
	return s.scripts.ListActsByNovel(userID, novelID)
}

// coveredChapters 汇总小说全部非失败任务已覆盖的章节 ID
func (s *ScriptService) coveredChapters(novelID int64) (map[int64]bool, error) {
	tasks, err := s.scripts.ListTasksByNovel(novelID)
	if err != nil {
		return nil, err
	}
	covered := make(map[int64]bool)
	for _, task := range tasks {
		if task.Status == model.TaskStatusFailed {
			continue
		}
		for _, id := range task.ChapterIDs {
			covered[id] = true
		}
	}
	return covered, nil
}

// executeTask 执行单个结构化任务：LLM 调用、JSON 解析、内容树落库
// 错误只写进任务记录，不向批次外传播
func (s *ScriptService) executeTask(ctx context.Context, userID int64, taskID string) error {
	task, err := s.scripts.GetTask(userID, taskID)
	if err != nil {
		return err
	}
	if err := s.scripts.MarkTaskProcessing(task.ID); err != nil {
		return err
	}

	fail := func(msg string) error {
		if failErr := s.scripts.FailTask(task.ID, msg); failErr != nil {
			log.Printf("[ScriptService] 任务 %s 写入失败状态出错: %v", task.ID, failErr)
		}
		return fmt.Errorf("结构化任务 %s: %s", task.ID, msg)
	}

	chapters, err := s.novels.GetChapters(task.ChapterIDs)
	if err != nil {
		return fail(fmt.Sprintf("读取章节失败: %v", err))
	}
	if len(chapters) == 0 {
		return fail("任务没有关联任何章节")
	}
	_ = s.scripts.UpdateTaskProgress(task.ID, 10)

	var sb strings.Builder
	for _, chapter := range chapters {
		fmt.Fprintf(&sb, "第%d章 %s\n%s\n\n", chapter.Order, chapter.Title, chapter.Content)
	}

	modelCfg, err := resolveModelConfig(s.projects, s.defaults, task.ProjectID, provider.CapabilityLLM)
	if err != nil {
		return fail(fmt.Sprintf("读取生成配置失败: %v", err))
	}

	result, err := s.adapter.Invoke(ctx, provider.CapabilityLLM, modelCfg, provider.Request{
		SystemPrompt: structuringSystemPrompt,
		Prompt:       sb.String(),
	})
	if err != nil {
		return fail(fmt.Sprintf("LLM 调用失败: %v", err))
	}
	_ = s.scripts.UpdateTaskProgress(task.ID, 60)

	output, parseErr := parseScriptOutput(result.Text)
	if parseErr != nil {
		// 解析失败时把原始响应带进错误信息，任务绝不静默丢弃
		return fail(fmt.Sprintf("%v；原始响应: %s", parseErr, truncate(result.Text, 1000)))
	}

	// 角色先于内容树合并，保证台词引用到的角色已存在
	scope := model.MergeScope{UserID: userID, ProjectID: task.ProjectID, NovelID: task.NovelID}
	for _, setting := range output.CharacterSettings {
		if _, err := s.characters.MergeFromSetting(scope, setting); err != nil {
			return fail(fmt.Sprintf("合并角色 %q 失败: %v", setting.Name, err))
		}
	}
	_ = s.scripts.UpdateTaskProgress(task.ID, 80)

	trees := buildActTrees(task, chapters, output)
	if err := s.scripts.ReconcileActs(task.ID, trees); err != nil {
		return fail(fmt.Sprintf("内容树落库失败: %v", err))
	}

	if err := s.scripts.CompleteTask(task.ID, result.Text); err != nil {
		return err
	}
	log.Printf("[ScriptService] 任务 %s 完成: %d 幕, %d 个角色设定", task.ID, len(trees), len(output.CharacterSettings))
	return nil
}

// parseScriptOutput 解析 LLM 的结构化输出，缺少必要字段按解析错误处理
func parseScriptOutput(raw string) (*model.ScriptOutput, error) {
	text := utils.ExtractJSON(raw)
	var output model.ScriptOutput
	if err := json.Unmarshal([]byte(text), &output); err != nil {
		return nil, apperr.NewParse("结构化输出不是合法 JSON", err)
	}
	if len(output.PlotOutline) == 0 {
		return nil, apperr.NewParse("结构化输出缺少 plot_outline", nil)
	}
	return &output, nil
}

// buildActTrees 把解析结果组装成待落库的内容树
// startChapterOrder 取任务关联章节的最小 Order，跨任务展示排序依赖它
func buildActTrees(task *model.ScriptTask, chapters []model.Chapter, output *model.ScriptOutput) []model.ActTree {
	startOrder := 0
	chapterIDs := make([]int64, len(chapters))
	for i, chapter := range chapters {
		chapterIDs[i] = chapter.ID
		if startOrder == 0 || chapter.Order < startOrder {
			startOrder = chapter.Order
		}
	}

	trees := make([]model.ActTree, 0, len(output.PlotOutline))
	for i, actOut := range output.PlotOutline {
		tree := model.ActTree{
			Act: model.Act{
				ScriptTaskID:      task.ID,
				NovelID:           task.NovelID,
				ProjectID:         task.ProjectID,
				UserID:            task.UserID,
				Name:              actOut.Name,
				Content:           actOut.Content,
				Highlight:         actOut.Highlight,
				EmotionCurve:      actOut.EmotionCurve,
				Rhythm:            actOut.Rhythm,
				Order:             i + 1,
				StartChapterOrder: startOrder,
				ChapterIDs:        pq.Int64Array(chapterIDs),
			},
		}
		for _, sceneOut := range actOut.Scenes {
			sceneTree := model.SceneTree{
				Scene: model.Scene{
					NovelID:     task.NovelID,
					ProjectID:   task.ProjectID,
					UserID:      task.UserID,
					Address:     sceneOut.Address,
					Description: sceneOut.Description,
				},
			}
			for _, shotOut := range sceneOut.Shots {
				shotTree := model.ShotTree{
					Shot: model.Shot{
						NovelID:    task.NovelID,
						ProjectID:  task.ProjectID,
						UserID:     task.UserID,
						Duration:   shotOut.Duration,
						Camera:     shotOut.Camera,
						Framing:    shotOut.Framing,
						Lighting:   shotOut.Lighting,
						Atmosphere: shotOut.Atmosphere,
						Action:     shotOut.Action,
						Transition: shotOut.Transition,
						Status:     model.TaskStatusPending,
					},
				}
				for _, dlgOut := range shotOut.Dialogues {
					shotTree.Dialogues = append(shotTree.Dialogues, model.Dialogue{
						UserID:  task.UserID,
						Speaker: dlgOut.Speaker,
						Line:    dlgOut.Line,
						Mood:    dlgOut.Mood,
					})
				}
				sceneTree.Shots = append(sceneTree.Shots, shotTree)
			}
			tree.Scenes = append(tree.Scenes, sceneTree)
		}
		trees = append(trees, tree)
	}
	return trees
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
