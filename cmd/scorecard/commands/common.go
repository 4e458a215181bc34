package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/repo-scorecard/internal/core/ai"
	"github.com/jinford/repo-scorecard/internal/core/chunking"
	"github.com/jinford/repo-scorecard/internal/core/run"
	"github.com/jinford/repo-scorecard/internal/core/scoring"
	"github.com/jinford/repo-scorecard/internal/infra/anthropic"
	"github.com/jinford/repo-scorecard/internal/infra/git"
	"github.com/jinford/repo-scorecard/internal/infra/openai"
	"github.com/jinford/repo-scorecard/internal/infra/tokenizer"
	"github.com/jinford/repo-scorecard/internal/platform/logger"
	"github.com/jinford/repo-scorecard/pkg/config"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config  *config.Config
	Logger  *slog.Logger
	Runner  *run.Runner
	Tracker *scoring.CostTracker
}

// NewAppContext は設定を読み込み、採点パイプラインを組み立てて AppContext を作成する
func NewAppContext(envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
	})

	if err := tokenizer.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}

	var tracker *scoring.CostTracker
	if cfg.Scoring.PricingConfigPath != "" {
		tracker, err = scoring.NewCostTracker(cfg.Scoring.PricingConfigPath)
		if err != nil {
			tokenizer.Close()
			return nil, fmt.Errorf("failed to load pricing config: %w", err)
		}
	}

	scoringClient, err := newAIClient(cfg, cfg.AI.ScoringProvider, cfg.AI.ScoringModel)
	if err != nil {
		tokenizer.Close()
		return nil, err
	}
	reviewClient, err := newAIClient(cfg, cfg.AI.ReviewProvider, cfg.AI.ReviewModel)
	if err != nil {
		tokenizer.Close()
		return nil, err
	}

	chunker := chunking.NewChunker(
		chunking.NewRegistry(cfg.Chunker.BoilerplateThreshold, cfg.Chunker.ForceSimpleStrategy),
		chunking.Options{
			MaxTokensPerChunk: cfg.Chunker.MaxTokensPerChunk,
			MaxTokensPerGroup: cfg.Chunker.MaxTokensPerGroup,
			MaxContextTokens:  cfg.Chunker.MaxContextTokens,
			ContextItemLimit:  cfg.Chunker.ContextItemLimit,
		},
		tokenizer.CountFunc(),
	)

	runner := run.NewRunner(
		run.NewStore(),
		git.NewAcquirer(git.NewClient(), cfg.CacheDir),
		chunker,
		scoring.NewSelector(scoringClient, cfg.AI.MaxRetries),
		scoring.NewEngine(scoringClient, cfg.AI.MaxRetries, cfg.Scoring.BatchBudget, tracker),
		scoring.NewReviewer(reviewClient, cfg.AI.MaxRetries, cfg.Scoring.DossierBudget, cfg.Scoring.DossierStrategy, tracker),
		cfg.ReportsDir,
	)

	return &AppContext{
		Config:  cfg,
		Logger:  appLogger,
		Runner:  runner,
		Tracker: tracker,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Tracker != nil {
		slog.Info("accumulated AI cost", slog.Float64("total_usd", ac.Tracker.TotalCost()))
	}
	tokenizer.Close()
}

// newAIClient はプロバイダ名に応じた ai.Client を作成する
func newAIClient(cfg *config.Config, provider, model string) (ai.Client, error) {
	switch provider {
	case "openai":
		client, err := openai.NewClient(cfg.AI.OpenAIAPIKey, model)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		client.SetTimeout(cfg.AI.Timeout)
		return client, nil
	case "anthropic":
		client, err := anthropic.NewClient(cfg.AI.AnthropicAPIKey, model)
		if err != nil {
			return nil, fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		client.SetTimeout(cfg.AI.Timeout)
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", provider)
	}
}

// pollInterval はラン完了待ちのステータス確認間隔
const pollInterval = 500 * time.Millisecond
