package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// デフォルト値
const (
	DefaultMaxTokensPerChunk    = 800
	DefaultMaxTokensPerGroup    = 2500
	DefaultMaxContextTokens     = 200
	DefaultContextItemLimit     = 15
	DefaultBoilerplateThreshold = 0.6
	DefaultBatchBudget          = 5100
	DefaultDossierBudget        = 16000
	DefaultAITimeout            = 45 * time.Second
	DefaultAIMaxRetries         = 3
	DefaultCacheDir             = "./cache/repos"
	DefaultReportsDir           = "./reports"
	DefaultHTTPAddr             = ":8080"
	DefaultDossierStrategy      = "global_top_impact"
	DefaultScoringProvider      = "openai"
	DefaultScoringModel         = "gpt-4o-mini"
	DefaultReviewProvider       = "openai"
	DefaultReviewModel          = "gpt-4o"
)

// ErrInvalidConfig は設定値が不正な場合のエラー
var ErrInvalidConfig = errors.New("invalid configuration")

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Chunker設定
	Chunker ChunkerConfig

	// Scoring設定
	Scoring ScoringConfig

	// AIプロバイダ設定
	AI AIConfig

	// ディレクトリ設定
	CacheDir   string
	ReportsDir string

	// HTTPサーバ設定
	HTTPAddr string

	// ログ設定
	LogLevel  string
	LogFormat string
}

// ChunkerConfig はチャンカーのトークン予算設定
type ChunkerConfig struct {
	MaxTokensPerChunk    int
	MaxTokensPerGroup    int
	MaxContextTokens     int
	ContextItemLimit     int
	BoilerplateThreshold float64
	ForceSimpleStrategy  bool
}

// ScoringConfig はスコアリングエンジンの予算設定
type ScoringConfig struct {
	BatchBudget   int
	DossierBudget int
	// DossierStrategy は最終レビューの証拠選択方式
	// "global_top_impact" または "top_impact_per_file"
	DossierStrategy string
	// PricingConfigPath はモデル価格設定YAMLのパス（空の場合はコスト計算を無効化）
	PricingConfigPath string
}

// AIConfig はAIプロバイダとモデルの設定
type AIConfig struct {
	Timeout    time.Duration
	MaxRetries int

	// ScoringProvider / ScoringModel はチャンクグループ採点用
	ScoringProvider string
	ScoringModel    string

	// ReviewProvider / ReviewModel は最終レビュー（キャリブレーション）用
	ReviewProvider string
	ReviewModel    string

	OpenAIAPIKey    string
	AnthropicAPIKey string
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
		Chunker: ChunkerConfig{
			MaxTokensPerChunk:    getEnvInt("SCORECARD_MAX_TOKENS_PER_CHUNK", DefaultMaxTokensPerChunk),
			MaxTokensPerGroup:    getEnvInt("SCORECARD_MAX_TOKENS_PER_GROUP", DefaultMaxTokensPerGroup),
			MaxContextTokens:     getEnvInt("SCORECARD_MAX_CONTEXT_TOKENS", DefaultMaxContextTokens),
			ContextItemLimit:     getEnvInt("SCORECARD_CONTEXT_ITEM_LIMIT", DefaultContextItemLimit),
			BoilerplateThreshold: getEnvFloat("SCORECARD_BOILERPLATE_THRESHOLD", DefaultBoilerplateThreshold),
			ForceSimpleStrategy:  getEnvBool("SCORECARD_FORCE_SIMPLE_STRATEGY", false),
		},
		Scoring: ScoringConfig{
			BatchBudget:       getEnvInt("SCORECARD_BATCH_BUDGET", DefaultBatchBudget),
			DossierBudget:     getEnvInt("SCORECARD_DOSSIER_BUDGET", DefaultDossierBudget),
			DossierStrategy:   getEnv("SCORECARD_DOSSIER_STRATEGY", DefaultDossierStrategy),
			PricingConfigPath: getEnv("SCORECARD_PRICING_CONFIG", ""),
		},
		AI: AIConfig{
			Timeout:         time.Duration(getEnvInt("SCORECARD_AI_TIMEOUT_MS", int(DefaultAITimeout/time.Millisecond))) * time.Millisecond,
			MaxRetries:      getEnvInt("SCORECARD_AI_MAX_RETRIES", DefaultAIMaxRetries),
			ScoringProvider: getEnv("SCORECARD_SCORING_PROVIDER", DefaultScoringProvider),
			ScoringModel:    getEnv("SCORECARD_SCORING_MODEL", DefaultScoringModel),
			ReviewProvider:  getEnv("SCORECARD_REVIEW_PROVIDER", DefaultReviewProvider),
			ReviewModel:     getEnv("SCORECARD_REVIEW_MODEL", DefaultReviewModel),
			OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
			AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		},
		CacheDir:   getEnv("SCORECARD_CACHE_DIR", DefaultCacheDir),
		ReportsDir: getEnv("SCORECARD_REPORTS_DIR", DefaultReportsDir),
		HTTPAddr:   getEnv("SCORECARD_HTTP_ADDR", DefaultHTTPAddr),
		LogLevel:   getEnv("SCORECARD_LOG_LEVEL", "info"),
		LogFormat:  getEnv("SCORECARD_LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Chunker.MaxTokensPerChunk <= 0 {
		return fmt.Errorf("%w: SCORECARD_MAX_TOKENS_PER_CHUNK must be positive", ErrInvalidConfig)
	}
	if c.Chunker.MaxTokensPerGroup <= c.Chunker.MaxContextTokens {
		return fmt.Errorf("%w: SCORECARD_MAX_TOKENS_PER_GROUP must exceed SCORECARD_MAX_CONTEXT_TOKENS", ErrInvalidConfig)
	}
	if c.Scoring.BatchBudget <= 0 {
		return fmt.Errorf("%w: SCORECARD_BATCH_BUDGET must be positive", ErrInvalidConfig)
	}
	if c.Scoring.DossierBudget <= 0 {
		return fmt.Errorf("%w: SCORECARD_DOSSIER_BUDGET must be positive", ErrInvalidConfig)
	}
	switch c.Scoring.DossierStrategy {
	case "global_top_impact", "top_impact_per_file":
	default:
		return fmt.Errorf("%w: unsupported dossier strategy %q", ErrInvalidConfig, c.Scoring.DossierStrategy)
	}
	switch c.AI.ScoringProvider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("%w: unsupported scoring provider %q", ErrInvalidConfig, c.AI.ScoringProvider)
	}
	switch c.AI.ReviewProvider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("%w: unsupported review provider %q", ErrInvalidConfig, c.AI.ReviewProvider)
	}
	return nil
}

// getEnv は環境変数を取得し、未設定の場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt は環境変数を整数として取得します
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvFloat は環境変数を浮動小数点数として取得します
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool は環境変数を真偽値として取得します
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
