package scoring

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/jinford/repo-scorecard/internal/core/ai"
	"github.com/jinford/repo-scorecard/internal/core/chunking"
)

// batchEntry はバッチに詰める1ファイル分の送信内容
type batchEntry struct {
	file *chunking.FileChunkGroup
}

// combinedText は送信テキストを返す
// バッチ対象は full_file / single_group のみなのでグループは常に1つ
func (e *batchEntry) combinedText() string {
	if len(e.file.GroupedChunks) == 0 {
		return ""
	}
	return e.file.GroupedChunks[0].CombinedText
}

// batchReview はバッチレスポンス内の1ファイル分のレビュー
type batchReview struct {
	FilePath string `json:"file_path"`
	AIScore
}

// packBatches はバッチ可能ファイルを予算内のバッチ列に詰める
// final_token_count 降順に並べ、残りリストを走査して入るものから貪欲に採用する
func packBatches(files []*chunking.FileChunkGroup, budget int) [][]*batchEntry {
	remaining := make([]*batchEntry, 0, len(files))
	for _, file := range files {
		remaining = append(remaining, &batchEntry{file: file})
	}
	sort.SliceStable(remaining, func(i, j int) bool {
		return remaining[i].file.FinalTokenCount > remaining[j].file.FinalTokenCount
	})

	var batches [][]*batchEntry
	for len(remaining) > 0 {
		var batch []*batchEntry
		var rest []*batchEntry
		sum := 0

		for _, entry := range remaining {
			if sum+entry.file.FinalTokenCount <= budget {
				batch = append(batch, entry)
				sum += entry.file.FinalTokenCount
			} else {
				rest = append(rest, entry)
			}
		}

		batches = append(batches, batch)
		remaining = rest
	}

	return batches
}

// scoreBatches はバッチ可能ファイル群を一括採点する
// 初回で漏れたファイルは一度だけ再バッチして再試行し、それでも失敗したものは
// ゼロスコアの ScoredFile として確定する
func (e *Engine) scoreBatches(ctx context.Context, pc ProjectContext, files []*chunking.FileChunkGroup) []*ScoredFile {
	if len(files) == 0 {
		return nil
	}

	var scored []*ScoredFile
	var failed []*chunking.FileChunkGroup

	for _, batch := range packBatches(files, e.batchBudget) {
		ok, missed := e.scoreBatch(ctx, pc, batch, 0)
		scored = append(scored, ok...)
		failed = append(failed, missed...)
	}

	if len(failed) == 0 {
		return scored
	}

	slog.Info("retrying failed batch files", slog.Int("count", len(failed)))

	var stillFailed []*chunking.FileChunkGroup
	for _, batch := range packBatches(failed, e.batchBudget) {
		ok, missed := e.scoreBatch(ctx, pc, batch, 1)
		scored = append(scored, ok...)
		stillFailed = append(stillFailed, missed...)
	}

	for _, file := range stillFailed {
		empty := newScoredFile(file)
		empty.HadError = true
		empty.Retries = 1
		scored = append(scored, empty)
	}

	return scored
}

// scoreBatch は1バッチを1回のAI呼び出しで採点する
// retries は成功したファイルに記録される回復回数（初回 0 / 再試行 1）
func (e *Engine) scoreBatch(ctx context.Context, pc ProjectContext, batch []*batchEntry, retries int) (scored []*ScoredFile, failed []*chunking.FileChunkGroup) {
	res := ai.SafeJSONChat(ctx, e.client, []ai.Message{
		{Role: ai.RoleUser, Content: BuildBatchScorePrompt(pc, batch)},
	}, e.maxRetries)
	if res == nil {
		for _, entry := range batch {
			failed = append(failed, entry.file)
		}
		return nil, failed
	}

	var parsed struct {
		Reviews []batchReview `json:"reviews"`
	}
	if err := json.Unmarshal(res.Raw, &parsed); err != nil {
		slog.Warn("batch review decode failed", slog.String("error", err.Error()))
		for _, entry := range batch {
			failed = append(failed, entry.file)
		}
		return nil, failed
	}

	// レビューをサフィックス一致でバッチ内ファイルに突き合わせる
	matched := make(map[*batchEntry]AIScore)
	for _, review := range parsed.Reviews {
		entry := matchReview(batch, review.FilePath)
		if entry == nil {
			slog.Warn("batch review matches no file", slog.String("file_path", review.FilePath))
			continue
		}
		if _, dup := matched[entry]; dup {
			continue
		}
		matched[entry] = review.AIScore
	}

	usages := splitUsage(res.Usage, batch, matched)

	for _, entry := range batch {
		score, ok := matched[entry]
		if !ok {
			failed = append(failed, entry.file)
			continue
		}

		file := newScoredFile(entry.file)
		file.Retries = retries
		file.Usage = usages[entry]
		file.ScoredChunkGroups = []ScoredChunkGroup{{
			GroupID:     1,
			Score:       score,
			TotalTokens: entry.file.FinalTokenCount,
			Usage:       usages[entry],
		}}
		finalizeAverages(file)
		scored = append(scored, file)
		e.record(usages[entry], "batch_scoring")
	}

	return scored, failed
}

// matchReview はレビューの file_path をバッチ内ファイルへ解決する
// モデルが短縮名を返すことがあるため、完全一致に加えてサフィックス一致を許す
func matchReview(batch []*batchEntry, reviewPath string) *batchEntry {
	reviewPath = strings.TrimSpace(reviewPath)
	if reviewPath == "" {
		return nil
	}

	for _, entry := range batch {
		if entry.file.FilePath == reviewPath {
			return entry
		}
	}
	for _, entry := range batch {
		if strings.HasSuffix(entry.file.FilePath, reviewPath) {
			return entry
		}
	}
	return nil
}

// splitUsage はバッチ1回分の使用量をマッチしたファイルに按分する
// プロンプトトークンは final_token_count 比、補完トークンは均等割り、
// 端数は先頭のマッチファイルに寄せて合計を保存する
func splitUsage(total ai.Usage, batch []*batchEntry, matched map[*batchEntry]AIScore) map[*batchEntry]ai.Usage {
	usages := make(map[*batchEntry]ai.Usage)

	var ordered []*batchEntry
	batchTokens := 0
	for _, entry := range batch {
		if _, ok := matched[entry]; ok {
			ordered = append(ordered, entry)
			batchTokens += entry.file.FinalTokenCount
		}
	}
	if len(ordered) == 0 {
		return usages
	}

	promptSum, completionSum := 0, 0
	for _, entry := range ordered {
		var promptShare int
		if batchTokens > 0 {
			promptShare = total.PromptTokens * entry.file.FinalTokenCount / batchTokens
		}
		completionShare := total.CompletionTokens / len(ordered)

		usages[entry] = ai.Usage{
			PromptTokens:     promptShare,
			CompletionTokens: completionShare,
			TotalTokens:      promptShare + completionShare,
		}
		promptSum += promptShare
		completionSum += completionShare
	}

	// 端数の補正
	first := usages[ordered[0]]
	first.PromptTokens += total.PromptTokens - promptSum
	first.CompletionTokens += total.CompletionTokens - completionSum
	first.TotalTokens = first.PromptTokens + first.CompletionTokens
	usages[ordered[0]] = first

	return usages
}
