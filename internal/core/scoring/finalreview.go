package scoring

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jinford/repo-scorecard/internal/core/ai"
	"github.com/jinford/repo-scorecard/internal/core/chunking"
)

// 補正係数の許容範囲
const (
	multiplierMin     = 0.8
	multiplierMax     = 1.25
	multiplierDefault = 1.0
)

// Reviewer は暫定スコアカードに対する最終キャリブレーションを行う
type Reviewer struct {
	client     ai.Client
	maxRetries int
	budget     int
	strategy   string
	tracker    *CostTracker
}

// NewReviewer は新しい Reviewer を作成する
func NewReviewer(client ai.Client, maxRetries, dossierBudget int, strategy string, tracker *CostTracker) *Reviewer {
	return &Reviewer{
		client:     client,
		maxRetries: maxRetries,
		budget:     dossierBudget,
		strategy:   strategy,
		tracker:    tracker,
	}
}

// EstimatedCost は累計の推定コスト（USD）を返す（トラッカー未設定なら0）
func (r *Reviewer) EstimatedCost() float64 {
	if r.tracker == nil {
		return 0
	}
	return r.tracker.TotalCost()
}

// Review はドシエを構築して最終レビューを実行し、結果をスコアカードへ反映する
// ドシエが空の場合のみエラーを返す
// レビュー呼び出し自体の失敗は補正係数 1.0 に既定化して続行する
func (r *Reviewer) Review(ctx context.Context, card *ProjectScorecard, groups map[string]*chunking.FileChunkGroup) (*FinalReview, error) {
	dossier, err := BuildDossier(card, groups, r.budget, r.strategy)
	if err != nil {
		return nil, err
	}

	review := &FinalReview{
		Multiplier:      multiplierDefault,
		DossierStrategy: dossier.Strategy,
		DossierTokens:   dossier.TotalTokens,
	}

	res := ai.SafeJSONChat(ctx, r.client, []ai.Message{
		{Role: ai.RoleUser, Content: BuildFinalReviewPrompt(card, dossier)},
	}, r.maxRetries)

	if res == nil {
		slog.Warn("final review call failed, defaulting multiplier",
			slog.String("repo", card.RepoName))
		ApplyFinalReview(card, review)
		return review, nil
	}

	card.Usage = card.Usage.Add(res.Usage)
	if r.tracker != nil {
		r.tracker.Record(r.client.ModelName(), res.Usage, "final_review")
	}

	var parsed FinalReview
	if err := json.Unmarshal(res.Raw, &parsed); err != nil {
		slog.Warn("final review decode failed, defaulting multiplier",
			slog.String("error", err.Error()))
		ApplyFinalReview(card, review)
		return review, nil
	}

	review.Multiplier = clampMultiplier(parsed.Multiplier)
	review.RefinedTechStack = parsed.RefinedTechStack
	review.HolisticSummary = parsed.HolisticSummary
	review.Reasoning = parsed.Reasoning

	ApplyFinalReview(card, review)
	return review, nil
}

// clampMultiplier は補正係数を許容範囲に収める
// 未設定（0）は既定値に倒す
func clampMultiplier(m float64) float64 {
	if m == 0 {
		return multiplierDefault
	}
	if m < multiplierMin {
		return multiplierMin
	}
	if m > multiplierMax {
		return multiplierMax
	}
	return m
}
