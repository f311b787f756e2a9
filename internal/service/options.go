package service

import (
	"github.com/go-playground/validator/v10"

	"github.com/Ape-Alive/StoryX-sub001/internal/apperr"
	"github.com/Ape-Alive/StoryX-sub001/internal/config"
	"github.com/Ape-Alive/StoryX-sub001/internal/model"
	"github.com/Ape-Alive/StoryX-sub001/internal/provider"
)

// GenerateOptions 媒体生成编排的调用选项
type GenerateOptions struct {
	// 并发上限，0 取默认值 3
	Concurrency int `json:"concurrency" validate:"gte=0,lte=64"`
	// 供应商请求字段覆盖项，合并在派生默认值之上
	APIConfig map[string]interface{} `json:"api_config"`
	// 媒体持久化方式，空沿用项目配置
	StorageMode model.StorageMode `json:"storage_mode" validate:"omitempty,oneof=download_upload buffer_upload"`
	// 允许替换既有媒体（仅在新媒体确认写入后替换）
	AllowOverwrite bool `json:"allow_overwrite"`
	// 版本化保留而非替换
	KeepBoth bool `json:"keep_both"`
	// 前置提示词模板 ID
	FeaturePromptID string `json:"feature_prompt_id" validate:"omitempty,uuid"`
	// 镜头视频专用：启用合并分组
	MergeShots bool `json:"merge_shots"`
	// MergeShots 时必填，目标组时长（秒）
	MaxDuration float64 `json:"max_duration" validate:"required_if=MergeShots true,gte=0"`
	// 分组容差（秒），0 取默认值 5
	ToleranceSec float64 `json:"tolerance_sec" validate:"gte=0"`
}

// StructureOptions 剧本结构化的分块策略
type StructureOptions struct {
	TaskType        model.ScriptTaskType `json:"task_type" validate:"required,oneof=by_chapters by_words"`
	ChaptersPerTask int                  `json:"chapters_per_task" validate:"required_if=TaskType by_chapters,gte=0"`
	WordsPerTask    int                  `json:"words_per_task" validate:"required_if=TaskType by_words,gte=0"`
	SkipOverlapping bool                 `json:"skip_overlapping"`
	Concurrency     int                  `json:"concurrency" validate:"gte=0,lte=64"`
}

// GenerateResponse 编排调用的同步返回：任务 ID 列表 + 跳过计数
type GenerateResponse struct {
	TaskIDs []string `json:"task_ids"`
	Skipped int      `json:"skipped"`
}

// validateOptions 校验选项结构，失败归一化为 ValidationError
func validateOptions(v *validator.Validate, opts interface{}) error {
	if err := v.Struct(opts); err != nil {
		return apperr.NewValidation("选项校验失败", err)
	}
	return nil
}

// ProviderDefaults 项目未配置能力时的供应商回退配置
type ProviderDefaults struct {
	Configs map[provider.Capability]provider.ModelConfig
}

// DefaultsFromConfig 从应用配置构造回退表
func DefaultsFromConfig(cfg *config.Config) ProviderDefaults {
	return ProviderDefaults{
		Configs: map[provider.Capability]provider.ModelConfig{
			provider.CapabilityLLM:   {Model: cfg.LLMModel, BaseURL: cfg.LLMBaseURL, APIKey: cfg.LLMAPIKey},
			provider.CapabilityImage: {Model: cfg.ImageModel, BaseURL: cfg.ImageBaseURL, APIKey: cfg.ImageAPIKey},
			provider.CapabilityVideo: {Model: cfg.VideoModel, BaseURL: cfg.VideoBaseURL, APIKey: cfg.VideoAPIKey},
			provider.CapabilityTTS:   {Model: cfg.TTSModel, BaseURL: cfg.TTSBaseURL, APIKey: cfg.TTSAPIKey},
		},
	}
}

// resolveModelConfig 项目级配置优先，缺失回退到应用默认
func resolveModelConfig(projects ConfigStore, defaults ProviderDefaults, projectID int64, capability provider.Capability) (provider.ModelConfig, error) {
	if projectID > 0 && projects != nil {
		pc, err := projects.GetGenerationConfig(projectID, string(capability))
		if err != nil {
			return provider.ModelConfig{}, err
		}
		if pc != nil {
			return provider.ModelConfig{Model: pc.Model, BaseURL: pc.BaseURL, APIKey: pc.APIKey}, nil
		}
	}
	return defaults.Configs[capability], nil
}
