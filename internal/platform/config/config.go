package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// リモート解析サービス設定
	Analysis AnalysisConfig

	// 追跡ループ設定
	Tracker TrackerConfig

	// HTTPサーバー設定
	Server ServerConfig

	// OpenAI設定（AI要約用）
	OpenAI OpenAIConfig

	// ログ設定
	Log LogConfig

	// EventBufferSize はイベント履歴の保持件数
	EventBufferSize int
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// AnalysisConfig はリモート解析サービスの接続設定
type AnalysisConfig struct {
	BaseURL        string
	Timeout        time.Duration
	SubmissionMode string // "pipeline" or "chained"
}

// TrackerConfig はポーリングの設定
// MaxAttempts が0以下の場合は Timeout / PollInterval から算出します
type TrackerConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	MaxAttempts  int
	// LeaseTTL は他プロセスとの重複追跡を防ぐリースの有効期間
	LeaseTTL time.Duration
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Port               int
	CORSAllowedOrigins []string
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey          string
	LLMModel        string
	MaxPromptTokens int
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "feedback"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "feedback_flow"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
		},
		Analysis: AnalysisConfig{
			BaseURL:        getEnv("ANALYSIS_API_BASE_URL", "http://0.0.0.0:8000/api/v1"),
			Timeout:        getEnvAsDuration("ANALYSIS_API_TIMEOUT", 30*time.Second),
			SubmissionMode: getEnv("SUBMISSION_MODE", "pipeline"),
		},
		Tracker: TrackerConfig{
			PollInterval: getEnvAsDuration("TRACKER_POLL_INTERVAL", 5*time.Second),
			Timeout:      getEnvAsDuration("TRACKER_TIMEOUT", 10*time.Minute),
			MaxAttempts:  getEnvAsInt("TRACKER_MAX_ATTEMPTS", 0),
			LeaseTTL:     getEnvAsDuration("TRACKER_LEASE_TTL", time.Minute),
		},
		Server: ServerConfig{
			Port:               getEnvAsInt("HTTP_PORT", 8080),
			CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		OpenAI: OpenAIConfig{
			APIKey:          getEnv("OPENAI_API_KEY", ""),
			LLMModel:        getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"), // デフォルトはgpt-4o-mini
			MaxPromptTokens: getEnvAsInt("SUMMARY_MAX_PROMPT_TOKENS", 3000),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		EventBufferSize: getEnvAsInt("EVENT_BUFFER_SIZE", 500),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は設定値の整合性を検証します
func (c *Config) Validate() error {
	if c.Tracker.PollInterval <= 0 {
		return fmt.Errorf("TRACKER_POLL_INTERVAL must be positive: %s", c.Tracker.PollInterval)
	}
	if c.Tracker.Timeout <= 0 {
		return fmt.Errorf("TRACKER_TIMEOUT must be positive: %s", c.Tracker.Timeout)
	}
	if c.Tracker.LeaseTTL <= 0 {
		return fmt.Errorf("TRACKER_LEASE_TTL must be positive: %s", c.Tracker.LeaseTTL)
	}
	// 変更通知の購読が1接続を占有するため2以上が必要
	if c.Database.MaxConns < 2 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 2: %d", c.Database.MaxConns)
	}
	switch c.Analysis.SubmissionMode {
	case "pipeline", "chained":
	default:
		return fmt.Errorf("SUBMISSION_MODE must be pipeline or chained: %q", c.Analysis.SubmissionMode)
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を時間として取得します
// "5s" 形式のほか、単位なしの数値は秒として扱います
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数をスライスとして取得します
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
