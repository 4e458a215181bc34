package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults はデフォルト値での読み込みを確認します
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxTokensPerChunk, cfg.Chunker.MaxTokensPerChunk)
	assert.Equal(t, DefaultMaxTokensPerGroup, cfg.Chunker.MaxTokensPerGroup)
	assert.Equal(t, DefaultBatchBudget, cfg.Scoring.BatchBudget)
	assert.Equal(t, DefaultDossierBudget, cfg.Scoring.DossierBudget)
	assert.Equal(t, DefaultAITimeout, cfg.AI.Timeout)
	assert.Equal(t, "openai", cfg.AI.ScoringProvider)
	assert.False(t, cfg.Chunker.ForceSimpleStrategy)
}

// TestLoadFromEnv は環境変数からの上書きを確認します
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SCORECARD_MAX_TOKENS_PER_CHUNK", "400")
	t.Setenv("SCORECARD_BATCH_BUDGET", "3000")
	t.Setenv("SCORECARD_FORCE_SIMPLE_STRATEGY", "true")
	t.Setenv("SCORECARD_AI_TIMEOUT_MS", "10000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 400, cfg.Chunker.MaxTokensPerChunk)
	assert.Equal(t, 3000, cfg.Scoring.BatchBudget)
	assert.True(t, cfg.Chunker.ForceSimpleStrategy)
	assert.Equal(t, int64(10000), cfg.AI.Timeout.Milliseconds())
}

// TestLoadValidation は不正な設定値の検出を確認します
func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{
			name:  "チャンク上限が負数",
			key:   "SCORECARD_MAX_TOKENS_PER_CHUNK",
			value: "-1",
		},
		{
			name:  "未対応のプロバイダ",
			key:   "SCORECARD_SCORING_PROVIDER",
			value: "mistral",
		},
		{
			name:  "グループ上限がコンテキスト上限以下",
			key:   "SCORECARD_MAX_TOKENS_PER_GROUP",
			value: "100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load("")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
