package scoring

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jinford/repo-scorecard/internal/core/ai"
)

// ModelPricing はモデルごとの価格情報
type ModelPricing struct {
	InputPricePer1kTokens  float64 `yaml:"input_price_per_1k_tokens"`
	OutputPricePer1kTokens float64 `yaml:"output_price_per_1k_tokens"`
	Provider               string  `yaml:"provider"`
	Description            string  `yaml:"description"`
}

// PricingConfig は価格設定ファイルの構造
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models"`
}

// CostTracker は採点パイプラインのAPIコストを集計する
type CostTracker struct {
	mu             sync.RWMutex
	pricing        *PricingConfig
	totalCost      float64
	costByModel    map[string]float64
	usageByModel   map[string]ai.Usage
	requestsByType map[string]int
}

// NewCostTracker は価格設定YAMLを読み込んで CostTracker を作成する
func NewCostTracker(configPath string) (*CostTracker, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing config: %w", err)
	}

	var pricing PricingConfig
	if err := yaml.Unmarshal(data, &pricing); err != nil {
		return nil, fmt.Errorf("failed to parse pricing config: %w", err)
	}

	return NewCostTrackerWithConfig(&pricing), nil
}

// NewCostTrackerWithConfig は設定を直接指定して CostTracker を作成する
func NewCostTrackerWithConfig(pricing *PricingConfig) *CostTracker {
	return &CostTracker{
		pricing:        pricing,
		costByModel:    make(map[string]float64),
		usageByModel:   make(map[string]ai.Usage),
		requestsByType: make(map[string]int),
	}
}

// Record は1回分の使用量を記録する
// 価格未登録のモデルはコスト0のまま使用量だけ積む
func (t *CostTracker) Record(model string, usage ai.Usage, requestType string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pricing, ok := t.pricing.Models[model]
	if !ok {
		slog.Debug("pricing not found for model", slog.String("model", model))
	}

	cost := float64(usage.PromptTokens)/1000.0*pricing.InputPricePer1kTokens +
		float64(usage.CompletionTokens)/1000.0*pricing.OutputPricePer1kTokens

	t.totalCost += cost
	t.costByModel[model] += cost
	t.usageByModel[model] = t.usageByModel[model].Add(usage)
	t.requestsByType[requestType]++
}

// TotalCost は累計コスト（USD）を返す
func (t *CostTracker) TotalCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCost
}

// CostByModel はモデル別コストのコピーを返す
func (t *CostTracker) CostByModel() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]float64, len(t.costByModel))
	for k, v := range t.costByModel {
		result[k] = v
	}
	return result
}

// UsageByModel はモデル別使用量のコピーを返す
func (t *CostTracker) UsageByModel() map[string]ai.Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ai.Usage, len(t.usageByModel))
	for k, v := range t.usageByModel {
		result[k] = v
	}
	return result
}

// RequestsByType はリクエスト種別ごとの回数のコピーを返す
func (t *CostTracker) RequestsByType() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]int, len(t.requestsByType))
	for k, v := range t.requestsByType {
		result[k] = v
	}
	return result
}
