package scoring

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/jinford/repo-scorecard/internal/core/ai"
	"github.com/jinford/repo-scorecard/internal/core/chunking"
)

// Engine はチャンクグループ単位の採点とバッチ採点をまとめる
type Engine struct {
	client      ai.Client
	maxRetries  int
	batchBudget int
	tracker     *CostTracker
}

// NewEngine は新しい Engine を作成する
// tracker は nil でもよい（コスト計算を行わない）
func NewEngine(client ai.Client, maxRetries, batchBudget int, tracker *CostTracker) *Engine {
	return &Engine{
		client:      client,
		maxRetries:  maxRetries,
		batchBudget: batchBudget,
		tracker:     tracker,
	}
}

// ScoreAll は選定済みファイル群を採点する
// バッチ可能なファイルは一括採点に回し、それ以外はグループ単位で採点する
// ファイル順は呼び出し側の並びを保たない（最終的なソートは集計側で行う）
func (e *Engine) ScoreAll(ctx context.Context, pc ProjectContext, files []*chunking.FileChunkGroup) []*ScoredFile {
	var batchable, individual []*chunking.FileChunkGroup
	for _, file := range files {
		if e.batchable(file) {
			batchable = append(batchable, file)
		} else {
			individual = append(individual, file)
		}
	}

	scored := e.scoreBatches(ctx, pc, batchable)

	interFileContext := buildInterFileContext(scored)
	for _, file := range individual {
		scored = append(scored, e.ScoreFileGroups(ctx, pc, interFileContext, file))
	}

	return scored
}

// ScoreFileGroups は1ファイルのグループ列を順に採点する
// 各グループの group_summary を次グループのファイル内コンテキストとして引き継ぐ
func (e *Engine) ScoreFileGroups(ctx context.Context, pc ProjectContext, interFileContext string, file *chunking.FileChunkGroup) *ScoredFile {
	result := newScoredFile(file)

	if file.SendStrategy == chunking.SendUnprocessed {
		result.HadError = true
		return result
	}

	intraFileContext := firstGroupSentinel

	for _, group := range file.GroupedChunks {
		prompt := BuildGroupScorePrompt(pc, interFileContext, intraFileContext, file.FilePath, group.CombinedText)

		res := ai.SafeJSONChat(ctx, e.client, []ai.Message{
			{Role: ai.RoleUser, Content: prompt},
		}, e.maxRetries)

		scoredGroup := ScoredChunkGroup{
			GroupID:     group.ID,
			TotalTokens: group.TotalTokens,
		}

		if res == nil {
			// 失敗グループはゼロスコアで記録し、コンテキストは据え置く
			slog.Warn("group scoring failed",
				slog.String("file", file.FilePath),
				slog.Int("group", group.ID))
			scoredGroup.Score = AIScore{GroupSummary: failedGroupSummary}
			result.ScoredChunkGroups = append(result.ScoredChunkGroups, scoredGroup)
			continue
		}

		var score AIScore
		if err := json.Unmarshal(res.Raw, &score); err != nil {
			slog.Warn("group score decode failed",
				slog.String("file", file.FilePath),
				slog.Int("group", group.ID),
				slog.String("error", err.Error()))
			scoredGroup.Score = AIScore{GroupSummary: failedGroupSummary}
			scoredGroup.Usage = res.Usage
			result.Usage = result.Usage.Add(res.Usage)
			result.ScoredChunkGroups = append(result.ScoredChunkGroups, scoredGroup)
			continue
		}

		scoredGroup.Score = score
		scoredGroup.Usage = res.Usage
		result.Usage = result.Usage.Add(res.Usage)
		result.ScoredChunkGroups = append(result.ScoredChunkGroups, scoredGroup)
		e.record(res.Usage, "group_scoring")

		if score.GroupSummary != "" {
			intraFileContext = score.GroupSummary
		}
	}

	finalizeAverages(result)
	return result
}

// ModelName は採点に使うモデル名を返す
func (e *Engine) ModelName() string {
	return e.client.ModelName()
}

// batchable はファイルが一括採点の対象になるか判定する
func (e *Engine) batchable(file *chunking.FileChunkGroup) bool {
	switch file.SendStrategy {
	case chunking.SendFullFile, chunking.SendSingleGroup:
		return file.FinalTokenCount < e.batchBudget
	}
	return false
}

// EstimatedCost は累計の推定コスト（USD）を返す（トラッカー未設定なら0）
func (e *Engine) EstimatedCost() float64 {
	if e.tracker == nil {
		return 0
	}
	return e.tracker.TotalCost()
}

func (e *Engine) record(usage ai.Usage, requestType string) {
	if e.tracker == nil {
		return
	}
	e.tracker.Record(e.client.ModelName(), usage, requestType)
}

// newScoredFile はチャンク化結果から採点前の ScoredFile を初期化する
func newScoredFile(file *chunking.FileChunkGroup) *ScoredFile {
	return &ScoredFile{
		FilePath:            file.FilePath,
		TotalOriginalTokens: file.TotalFileTokens,
		FinalTokenCount:     file.FinalTokenCount,
		ChunkingDetails: ChunkingSummary{
			SendStrategy:   file.SendStrategy,
			GroupCount:     len(file.GroupedChunks),
			OversizedCount: len(file.OversizedChunks),
			SkippedCount:   len(file.SkippedContent),
			TokenBreakdown: file.TokenBreakdown,
		},
	}
}

// finalizeAverages は成功グループ（complexity > 0）のトークン加重平均から
// ファイルの平均値とインパクトを確定する
func finalizeAverages(result *ScoredFile) {
	var weightSum, complexitySum, qualitySum float64
	successes := 0

	for _, group := range result.ScoredChunkGroups {
		if group.Score.Complexity <= 0 {
			continue
		}
		successes++
		w := float64(group.TotalTokens)
		if w <= 0 {
			w = 1
		}
		weightSum += w
		complexitySum += w * group.Score.Complexity
		qualitySum += w * group.Score.QualityAverage()
	}

	if successes == 0 {
		result.HadError = true
		return
	}

	result.AverageComplexity = complexitySum / weightSum
	result.AverageQuality = qualitySum / weightSum
	result.ImpactScore = result.AverageQuality * result.AverageComplexity
}

// buildInterFileContext はバッチ採点済みファイルの要約からファイル間コンテキストを作る
// 大きいファイルの採点時に、既に見たファイルの概要を静的な文脈として与える
func buildInterFileContext(scored []*ScoredFile) string {
	var lines []string
	for _, file := range scored {
		if file.HadError || len(file.ScoredChunkGroups) == 0 {
			continue
		}
		summary := file.ScoredChunkGroups[0].Score.GroupSummary
		if summary == "" || summary == failedGroupSummary {
			continue
		}
		lines = append(lines, file.FilePath+": "+summary)
		if len(lines) >= 20 {
			break
		}
	}
	return strings.Join(lines, "\n")
}
