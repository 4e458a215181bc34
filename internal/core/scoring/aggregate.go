package scoring

import "sort"

// 暫定スコアの軸重み
const (
	weightComplexity      = 0.40
	weightQuality         = 0.25
	weightMaintainability = 0.15
	weightBestPractices   = 0.20
)

// BuildScorecard は採点済みファイル群からプロジェクトスコアカードを構築する
func BuildScorecard(runID, repoName, model string, selection *SelectionResult, files []*ScoredFile) *ProjectScorecard {
	card := &ProjectScorecard{
		RunID:          runID,
		RepoName:       repoName,
		Model:          model,
		MainDomain:     selection.ProjectContext.PrimaryDomain,
		TechStack:      selection.ProjectContext.PrimaryStack,
		ProjectEssence: selection.ProjectContext.ProjectEssence,
		ProjectContext: selection.ProjectContext,
		ScoredFiles:    files,
		Warnings:       selection.Warnings,
		Usage:          selection.Usage,
	}

	for _, file := range files {
		card.Usage = card.Usage.Add(file.Usage)
		card.TotalRetries += file.Retries
		if file.HadError {
			card.TotalFailedFiles++
		}
	}

	Recompute(card)
	return card
}

// Recompute はプロファイル・暫定スコア・並び順を再計算する
// score_file によるファイル追加後にも呼ばれる
func Recompute(card *ProjectScorecard) {
	card.Profile = computeProfile(card.ScoredFiles)
	card.PreliminaryProjectScore = preliminaryScore(card.Profile)
	SortByImpact(card.ScoredFiles)

	if card.FinalReview != nil {
		final := card.PreliminaryProjectScore * card.FinalReview.Multiplier
		card.FinalProjectScore = &final
	}
}

// SortByImpact はインパクト降順（同値はパス昇順）に並べ替える
func SortByImpact(files []*ScoredFile) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].ImpactScore != files[j].ImpactScore {
			return files[i].ImpactScore > files[j].ImpactScore
		}
		return files[i].FilePath < files[j].FilePath
	})
}

// ApplyFinalReview はキャリブレーション結果をスコアカードへ反映する
func ApplyFinalReview(card *ProjectScorecard, review *FinalReview) {
	card.FinalReview = review
	final := card.PreliminaryProjectScore * review.Multiplier
	card.FinalProjectScore = &final

	if len(review.RefinedTechStack) > 0 {
		card.TechStack = review.RefinedTechStack
	}
}

// computeProfile はファイルごとの4軸平均を total_original_tokens で加重平均する
// 成功グループを持たないファイルは重みに含めない
func computeProfile(files []*ScoredFile) ScoreProfile {
	var weightSum float64
	var sums ScoreProfile

	for _, file := range files {
		axes, ok := fileAxes(file)
		if !ok {
			continue
		}
		w := float64(file.TotalOriginalTokens)
		if w <= 0 {
			w = 1
		}
		weightSum += w
		sums.Complexity += w * axes.Complexity
		sums.Quality += w * axes.Quality
		sums.Maintainability += w * axes.Maintainability
		sums.BestPractices += w * axes.BestPractices
	}

	if weightSum == 0 {
		return ScoreProfile{}
	}
	return ScoreProfile{
		Complexity:      sums.Complexity / weightSum,
		Quality:         sums.Quality / weightSum,
		Maintainability: sums.Maintainability / weightSum,
		BestPractices:   sums.BestPractices / weightSum,
	}
}

// fileAxes は1ファイルの4軸をグループトークン加重で平均する
func fileAxes(file *ScoredFile) (ScoreProfile, bool) {
	var weightSum float64
	var sums ScoreProfile

	for _, group := range file.ScoredChunkGroups {
		if group.Score.Complexity <= 0 {
			continue
		}
		w := float64(group.TotalTokens)
		if w <= 0 {
			w = 1
		}
		weightSum += w
		sums.Complexity += w * group.Score.Complexity
		sums.Quality += w * group.Score.CodeQuality
		sums.Maintainability += w * group.Score.Maintainability
		sums.BestPractices += w * group.Score.BestPractices
	}

	if weightSum == 0 {
		return ScoreProfile{}, false
	}
	return ScoreProfile{
		Complexity:      sums.Complexity / weightSum,
		Quality:         sums.Quality / weightSum,
		Maintainability: sums.Maintainability / weightSum,
		BestPractices:   sums.BestPractices / weightSum,
	}, true
}

// preliminaryScore は4軸プロファイルの重み付き線形結合
func preliminaryScore(profile ScoreProfile) float64 {
	return weightComplexity*profile.Complexity +
		weightQuality*profile.Quality +
		weightMaintainability*profile.Maintainability +
		weightBestPractices*profile.BestPractices
}
