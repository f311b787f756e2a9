package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// 各能力的调用超时上限，超时以 failed 任务暴露而不是悬挂
var capabilityTimeouts = map[Capability]time.Duration{
	CapabilityLLM:   180 * time.Second,
	CapabilityImage: 120 * time.Second,
	CapabilityVideo: 300 * time.Second,
	CapabilityTTS:   120 * time.Second,
}

// RESTAdapter 基于 OpenAI 兼容 REST 协议的默认适配器实现
type RESTAdapter struct {
	clients map[Capability]*http.Client
}

// NewRESTAdapter 创建 REST 适配器，每个能力一个带超时的客户端
func NewRESTAdapter() *RESTAdapter {
	clients := make(map[Capability]*http.Client, len(capabilityTimeouts))
	for capability, timeout := range capabilityTimeouts {
		clients[capability] = &http.Client{Timeout: timeout}
	}
	return &RESTAdapter{clients: clients}
}

// Invoke 调用外部供应商并归一化响应
func (a *RESTAdapter) Invoke(ctx context.Context, capability Capability, cfg ModelConfig, req Request) (*Result, error) {
	if cfg.BaseURL == "" {
		return nil, &Error{Capability: capability, Kind: ErrInvalidRequest, Message: "base url 未配置"}
	}
	if cfg.APIKey == "" {
		return nil, &Error{Capability: capability, Kind: ErrInvalidRequest, Message: "api key 未配置"}
	}

	endpoint, body := a.buildRequest(capability, cfg, req)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Capability: capability, Kind: ErrInvalidRequest, Message: fmt.Sprintf("请求序列化失败: %v", err)}
	}

	apiURL := strings.TrimRight(cfg.BaseURL, "/") + endpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Capability: capability, Kind: ErrInvalidRequest, Message: fmt.Sprintf("创建请求失败: %v", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.clients[capability].Do(httpReq)
	if err != nil {
		return nil, mapTransportError(capability, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Capability: capability, Kind: ErrUnavailable, Message: fmt.Sprintf("读取响应失败: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, mapStatusError(capability, resp.StatusCode, respBody)
	}

	return a.parseResponse(capability, respBody)
}

// buildRequest 按能力构造请求路径与请求体，Extra 覆盖项最后合并
func (a *RESTAdapter) buildRequest(capability Capability, cfg ModelConfig, req Request) (string, map[string]interface{}) {
	var endpoint string
	body := map[string]interface{}{"model": cfg.Model}

	switch capability {
	case CapabilityLLM:
		endpoint = "/v1/chat/completions"
		messages := make([]map[string]string, 0, 2)
		if req.SystemPrompt != "" {
			messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
		}
		messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})
		body["messages"] = messages
	case CapabilityImage:
		endpoint = "/v1/images/generations"
		body["prompt"] = joinPrompts(req.SystemPrompt, req.Prompt)
	case CapabilityVideo:
		endpoint = "/v1/videos/generations"
		body["prompt"] = joinPrompts(req.SystemPrompt, req.Prompt)
		if req.DurationSec > 0 {
			body["duration"] = req.DurationSec
		}
	case CapabilityTTS:
		endpoint = "/v1/audio/speech"
		body["input"] = req.Prompt
		if req.Voice != "" {
			body["voice"] = req.Voice
		}
	}

	for k, v := range req.Extra {
		body[k] = v
	}
	return endpoint, body
}

// parseResponse 把各能力的响应归一化成 {URL|Text, Metadata}
func (a *RESTAdapter) parseResponse(capability Capability, body []byte) (*Result, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &Error{Capability: capability, Kind: ErrUnavailable, Message: fmt.Sprintf("响应不是合法 JSON: %v", err)}
	}

	result := &Result{Metadata: raw}

	switch capability {
	case CapabilityLLM:
		if choices, ok := raw["choices"].([]interface{}); ok && len(choices) > 0 {
			if choice, ok := choices[0].(map[string]interface{}); ok {
				if message, ok := choice["message"].(map[string]interface{}); ok {
					result.Text, _ = message["content"].(string)
				}
			}
		}
		if result.Text == "" {
			return nil, &Error{Capability: capability, Kind: ErrUnavailable, Message: "响应缺少生成文本"}
		}
	default:
		result.URL = extractURL(raw)
		if result.URL == "" {
			return nil, &Error{Capability: capability, Kind: ErrUnavailable, Message: "响应缺少媒体 URL"}
		}
	}
	return result, nil
}

// extractURL 兼容 {data:[{url}]} 与顶层 {url} 两种响应形态
func extractURL(raw map[string]interface{}) string {
	if url, ok := raw["url"].(string); ok && url != "" {
		return url
	}
	if data, ok := raw["data"].([]interface{}); ok && len(data) > 0 {
		if item, ok := data[0].(map[string]interface{}); ok {
			if url, ok := item["url"].(string); ok {
				return url
			}
		}
	}
	return ""
}

func joinPrompts(system, prompt string) string {
	if system == "" {
		return prompt
	}
	return system + "\n\n" + prompt
}

func mapTransportError(capability Capability, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Capability: capability, Kind: ErrTimeout, Message: err.Error()}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Capability: capability, Kind: ErrTimeout, Message: err.Error()}
	}
	return &Error{Capability: capability, Kind: ErrUnavailable, Message: err.Error()}
}

func mapStatusError(capability Capability, status int, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 500 {
		msg = msg[:500]
	}
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Capability: capability, Kind: ErrRateLimited, StatusCode: status, Message: msg}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &Error{Capability: capability, Kind: ErrTimeout, StatusCode: status, Message: msg}
	case status >= 400 && status < 500:
		return &Error{Capability: capability, Kind: ErrInvalidRequest, StatusCode: status, Message: msg}
	default:
		return &Error{Capability: capability, Kind: ErrUnavailable, StatusCode: status, Message: msg}
	}
}
