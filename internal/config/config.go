package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config 应用配置
type Config struct {
	Env         string
	DatabaseURL string
	Port        string
	AppSecret   string

	// 默认供应商配置（项目未配置对应能力时的回退）
	LLMBaseURL   string
	LLMAPIKey    string
	LLMModel     string
	ImageBaseURL string
	ImageAPIKey  string
	ImageModel   string
	VideoBaseURL string
	VideoAPIKey  string
	VideoModel   string
	TTSBaseURL   string
	TTSAPIKey    string
	TTSModel     string

	// 媒体文件落盘目录（download_upload 模式）
	MediaDir string

	// 对外部供应商的限流间隔，0 表示不限流
	ProviderRateInterval time.Duration

	// processing 状态任务的租约时长，超时视为僵死并标记失败
	TaskLease      time.Duration
	VideoTaskLease time.Duration

	// 优雅关闭时等待后台任务排空的上限
	DrainTimeout time.Duration
}

// Load 加载配置
func Load() *Config {
	dbUser := getEnv("DB_USER", "postgres")
	dbPass := getEnv("DB_PASSWORD", "postgres")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_NAME", "storyx")
	dbSSL := getEnv("DB_SSLMODE", "disable")

	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbUser, dbPass, dbHost, dbPort, dbName, dbSSL)

	return &Config{
		Env:         getEnv("APP_ENV", "development"),
		DatabaseURL: dbURL,
		Port:        getEnv("PORT", "5008"),
		AppSecret:   getEnv("APP_SECRET", "storyx-dev-secret"),

		LLMBaseURL:   getEnv("LLM_BASE_URL", "https://api.openai.com"),
		LLMAPIKey:    getEnv("LLM_API_KEY", ""),
		LLMModel:     getEnv("LLM_MODEL", "gpt-4o-mini"),
		ImageBaseURL: getEnv("IMAGE_BASE_URL", "https://api.openai.com"),
		ImageAPIKey:  getEnv("IMAGE_API_KEY", ""),
		ImageModel:   getEnv("IMAGE_MODEL", "gpt-4o-image"),
		VideoBaseURL: getEnv("VIDEO_BASE_URL", ""),
		VideoAPIKey:  getEnv("VIDEO_API_KEY", ""),
		VideoModel:   getEnv("VIDEO_MODEL", ""),
		TTSBaseURL:   getEnv("TTS_BASE_URL", ""),
		TTSAPIKey:    getEnv("TTS_API_KEY", ""),
		TTSModel:     getEnv("TTS_MODEL", "qwen3-tts-flash"),

		MediaDir: getEnv("MEDIA_DIR", "./data/media"),

		ProviderRateInterval: time.Duration(getEnvInt("PROVIDER_RATE_INTERVAL_MS", 0)) * time.Millisecond,

		TaskLease:      time.Duration(getEnvInt("TASK_LEASE_MINUTES", 30)) * time.Minute,
		VideoTaskLease: time.Duration(getEnvInt("VIDEO_TASK_LEASE_MINUTES", 60)) * time.Minute,
		DrainTimeout:   time.Duration(getEnvInt("DRAIN_TIMEOUT_SECONDS", 30)) * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
