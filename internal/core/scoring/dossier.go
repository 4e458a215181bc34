package scoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jinford/repo-scorecard/internal/core/chunking"
)

// ドシエの証拠選択方式
const (
	DossierGlobalTopImpact  = "global_top_impact"
	DossierTopImpactPerFile = "top_impact_per_file"
)

// Dossier は最終レビューに渡すコード証拠の束
type Dossier struct {
	Strategy    string
	Text        string
	TotalTokens int
	FileCount   int
}

// BuildDossier は暫定スコアカードからドシエを構築する
// groups はファイルパスからチャンク化結果への索引
// 1ファイルも採用できない場合は ErrEmptyDossier を返す
func BuildDossier(card *ProjectScorecard, groups map[string]*chunking.FileChunkGroup, budget int, strategy string) (*Dossier, error) {
	var dossier *Dossier
	switch strategy {
	case DossierTopImpactPerFile:
		dossier = buildPerFileDossier(card, groups, budget)
	default:
		strategy = DossierGlobalTopImpact
		dossier = buildGlobalDossier(card, groups, budget)
	}

	dossier.Strategy = strategy
	if dossier.FileCount == 0 {
		return nil, ErrEmptyDossier
	}
	return dossier, nil
}

// buildGlobalDossier はインパクト降順にファイル丸ごと採用する既定方式
func buildGlobalDossier(card *ProjectScorecard, groups map[string]*chunking.FileChunkGroup, budget int) *Dossier {
	var sb strings.Builder
	dossier := &Dossier{}

	// scored_files は常にインパクト降順
	for _, file := range card.ScoredFiles {
		if file.HadError {
			continue
		}
		chunked, ok := groups[file.FilePath]
		if !ok || len(chunked.GroupedChunks) == 0 {
			continue
		}

		fileTokens := 0
		for _, group := range chunked.GroupedChunks {
			fileTokens += group.TotalTokens
		}
		if dossier.TotalTokens+fileTokens > budget {
			continue
		}

		sb.WriteString(fmt.Sprintf("## %s (impact %.2f)\n", file.FilePath, file.ImpactScore))
		for _, group := range chunked.GroupedChunks {
			writeDossierGroup(&sb, file, group)
		}
		sb.WriteString("\n")

		dossier.TotalTokens += fileTokens
		dossier.FileCount++
	}

	dossier.Text = sb.String()
	return dossier
}

// buildPerFileDossier はファイルごとに最高インパクトのグループ1つを拾う方式
func buildPerFileDossier(card *ProjectScorecard, groups map[string]*chunking.FileChunkGroup, budget int) *Dossier {
	type pick struct {
		file   *ScoredFile
		group  *chunking.ChunkGroup
		score  AIScore
		impact float64
	}

	var picks []pick
	for _, file := range card.ScoredFiles {
		if file.HadError {
			continue
		}
		chunked, ok := groups[file.FilePath]
		if !ok {
			continue
		}

		var best *pick
		for _, scored := range file.ScoredChunkGroups {
			if scored.Score.Complexity <= 0 {
				continue
			}
			group := findGroup(chunked, scored.GroupID)
			if group == nil {
				continue
			}
			impact := scored.Score.Impact()
			if best == nil || impact > best.impact {
				best = &pick{file: file, group: group, score: scored.Score, impact: impact}
			}
		}
		if best != nil {
			picks = append(picks, *best)
		}
	}

	sort.SliceStable(picks, func(i, j int) bool {
		if picks[i].impact != picks[j].impact {
			return picks[i].impact > picks[j].impact
		}
		return picks[i].file.FilePath < picks[j].file.FilePath
	})

	var sb strings.Builder
	dossier := &Dossier{}
	seen := make(map[string]bool)

	for _, p := range picks {
		if dossier.TotalTokens+p.group.TotalTokens > budget {
			continue
		}

		sb.WriteString(fmt.Sprintf("## %s (impact %.2f)\n", p.file.FilePath, p.impact))
		writeDossierGroup(&sb, p.file, p.group)
		sb.WriteString("\n")

		dossier.TotalTokens += p.group.TotalTokens
		if !seen[p.file.FilePath] {
			seen[p.file.FilePath] = true
			dossier.FileCount++
		}
	}

	dossier.Text = sb.String()
	return dossier
}

// writeDossierGroup はグループ本文を初回採点の注記付きで書き出す
func writeDossierGroup(sb *strings.Builder, file *ScoredFile, group *chunking.ChunkGroup) {
	complexity, quality := 0.0, 0.0
	for _, scored := range file.ScoredChunkGroups {
		if scored.GroupID == group.ID {
			complexity = scored.Score.Complexity
			quality = scored.Score.QualityAverage()
			break
		}
	}

	sb.WriteString(fmt.Sprintf("### group %d (complexity %.1f, quality %.1f)\n", group.ID, complexity, quality))
	sb.WriteString("```\n")
	sb.WriteString(group.CombinedText)
	sb.WriteString("\n```\n")
}

func findGroup(file *chunking.FileChunkGroup, id int) *chunking.ChunkGroup {
	for _, group := range file.GroupedChunks {
		if group.ID == id {
			return group
		}
	}
	return nil
}
