package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/repo-scorecard/internal/core/ai"
)

func scoredFileFixture(path string, originalTokens int, groups ...ScoredChunkGroup) *ScoredFile {
	file := &ScoredFile{
		FilePath:            path,
		TotalOriginalTokens: originalTokens,
		ScoredChunkGroups:   groups,
	}
	finalizeAverages(file)
	return file
}

// TestFinalizeAveragesImpact はインパクト計算の定義を確認します
func TestFinalizeAveragesImpact(t *testing.T) {
	file := scoredFileFixture("a.ts", 1000,
		ScoredChunkGroup{GroupID: 1, TotalTokens: 300, Score: AIScore{
			Complexity: 6, CodeQuality: 8, Maintainability: 7, BestPractices: 6,
		}},
		ScoredChunkGroup{GroupID: 2, TotalTokens: 100, Score: AIScore{
			Complexity: 4, CodeQuality: 5, Maintainability: 5, BestPractices: 5,
		}},
	)

	// トークン加重: complexity = (300*6 + 100*4) / 400 = 5.5
	assert.InDelta(t, 5.5, file.AverageComplexity, 1e-9)
	// quality = (300*7 + 100*5) / 400 = 6.5
	assert.InDelta(t, 6.5, file.AverageQuality, 1e-9)
	assert.InDelta(t, file.AverageQuality*file.AverageComplexity, file.ImpactScore, 1e-9)
}

// TestFinalizeAveragesSkipsFailedGroups は失敗グループ（complexity=0）の除外を確認します
func TestFinalizeAveragesSkipsFailedGroups(t *testing.T) {
	file := scoredFileFixture("a.ts", 1000,
		ScoredChunkGroup{GroupID: 1, TotalTokens: 100, Score: AIScore{
			Complexity: 5, CodeQuality: 5, Maintainability: 5, BestPractices: 5,
		}},
		ScoredChunkGroup{GroupID: 2, TotalTokens: 900, Score: AIScore{GroupSummary: failedGroupSummary}},
	)

	assert.False(t, file.HadError)
	assert.InDelta(t, 5.0, file.AverageComplexity, 1e-9)

	allFailed := scoredFileFixture("b.ts", 1000,
		ScoredChunkGroup{GroupID: 1, TotalTokens: 100, Score: AIScore{}},
	)
	assert.True(t, allFailed.HadError)
}

// TestBuildScorecard はプロファイルと暫定スコアの計算を確認します
func TestBuildScorecard(t *testing.T) {
	selection := &SelectionResult{
		ProjectContext: ProjectContext{
			ProjectEssence: "demo",
			PrimaryDomain:  "web backend",
			PrimaryStack:   []string{"typescript", "postgres"},
		},
		Warnings: []string{"selected path \"x\" matches no file in the repository"},
		Usage:    ai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}

	// 同一軸値のファイル2つなら加重平均もその値になる
	uniform := AIScore{Complexity: 6, CodeQuality: 8, Maintainability: 7, BestPractices: 5}
	files := []*ScoredFile{
		scoredFileFixture("a.ts", 3000, ScoredChunkGroup{GroupID: 1, TotalTokens: 100, Score: uniform}),
		scoredFileFixture("b.ts", 1000, ScoredChunkGroup{GroupID: 1, TotalTokens: 100, Score: uniform}),
	}
	files[0].Usage = ai.Usage{PromptTokens: 100, CompletionTokens: 10, TotalTokens: 110}
	files[1].Retries = 1

	card := BuildScorecard("run-1", "demo-repo", "test-model", selection, files)

	assert.Equal(t, "web backend", card.MainDomain)
	assert.InDelta(t, 6.0, card.Profile.Complexity, 1e-9)
	assert.InDelta(t, 8.0, card.Profile.Quality, 1e-9)
	assert.InDelta(t, 7.0, card.Profile.Maintainability, 1e-9)
	assert.InDelta(t, 5.0, card.Profile.BestPractices, 1e-9)

	// 0.40*6 + 0.25*8 + 0.15*7 + 0.20*5 = 6.45
	assert.InDelta(t, 6.45, card.PreliminaryProjectScore, 1e-9)
	assert.Nil(t, card.FinalProjectScore)

	assert.Equal(t, 1, card.TotalRetries)
	assert.Equal(t, 0, card.TotalFailedFiles)
	assert.Equal(t, 125, card.Usage.TotalTokens)
	assert.Len(t, card.Warnings, 1)
}

// TestBuildScorecardExcludesFailedFiles は失敗ファイルがプロファイルに影響しないことを確認します
func TestBuildScorecardExcludesFailedFiles(t *testing.T) {
	selection := &SelectionResult{}
	good := scoredFileFixture("a.ts", 100, ScoredChunkGroup{GroupID: 1, TotalTokens: 100, Score: AIScore{
		Complexity: 5, CodeQuality: 5, Maintainability: 5, BestPractices: 5,
	}})
	bad := scoredFileFixture("b.ts", 100000)

	card := BuildScorecard("run-1", "demo", "m", selection, []*ScoredFile{good, bad})

	assert.Equal(t, 1, card.TotalFailedFiles)
	assert.InDelta(t, 5.0, card.Profile.Complexity, 1e-9)
}

// TestSortByImpact はインパクト降順ソートを確認します
func TestSortByImpact(t *testing.T) {
	files := []*ScoredFile{
		{FilePath: "low.ts", ImpactScore: 10},
		{FilePath: "high.ts", ImpactScore: 50},
		{FilePath: "b.ts", ImpactScore: 30},
		{FilePath: "a.ts", ImpactScore: 30},
	}

	SortByImpact(files)

	got := make([]string, len(files))
	for i, file := range files {
		got[i] = file.FilePath
	}
	assert.Equal(t, []string{"high.ts", "a.ts", "b.ts", "low.ts"}, got)
}

// TestApplyFinalReview は補正係数の反映を確認します
func TestApplyFinalReview(t *testing.T) {
	card := &ProjectScorecard{PreliminaryProjectScore: 6.0, TechStack: []string{"old"}}

	ApplyFinalReview(card, &FinalReview{Multiplier: 1.1, RefinedTechStack: []string{"typescript", "express"}})

	require.NotNil(t, card.FinalProjectScore)
	assert.InDelta(t, 6.6, *card.FinalProjectScore, 1e-9)
	assert.Equal(t, []string{"typescript", "express"}, card.TechStack)
}
