package provider

import (
	"context"
	"fmt"
)

// Capability 供应商能力类型
type Capability string

const (
	CapabilityLLM   Capability = "llm"
	CapabilityImage Capability = "image"
	CapabilityVideo Capability = "video"
	CapabilityTTS   Capability = "tts"
)

// ModelConfig 一次调用使用的模型与凭证
type ModelConfig struct {
	Model   string
	BaseURL string
	APIKey  string
}

// Request 归一化的供应商请求
type Request struct {
	SystemPrompt string
	Prompt       string
	Voice        string  // 仅 tts
	DurationSec  float64 // 仅 video
	// 调用方 apiConfig 覆盖项，合并进请求体，同名键以此为准
	Extra map[string]interface{}
}

// Result 归一化的供应商响应
type Result struct {
	URL      string
	Text     string
	Metadata map[string]interface{}
}

// ErrorKind 供应商错误分类
type ErrorKind string

const (
	ErrRateLimited    ErrorKind = "RateLimited"         // 可重试
	ErrInvalidRequest ErrorKind = "InvalidRequest"      // 调用方错误，不可重试
	ErrUnavailable    ErrorKind = "ProviderUnavailable" // 可重试
	ErrTimeout        ErrorKind = "Timeout"             // 可重试
)

// Error 归一化的供应商错误
type Error struct {
	Capability Capability
	Kind       ErrorKind
	StatusCode int
	Message    string
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s (HTTP %d): %s", e.Capability, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Capability, e.Kind, e.Message)
}

// Retryable 该错误是否适合由调用方重试
func (e *Error) Retryable() bool {
	return e.Kind != ErrInvalidRequest
}

// Adapter 对异构外部 AI API 的统一接口
// 适配器本身不做重试，重试策略由编排方决定
type Adapter interface {
	Invoke(ctx context.Context, capability Capability, cfg ModelConfig, req Request) (*Result, error)
}
