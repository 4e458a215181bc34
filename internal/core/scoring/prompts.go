package scoring

import (
	"fmt"
	"strings"
)

const (
	// firstGroupSentinel はファイル先頭グループのファイル内コンテキスト初期値
	firstGroupSentinel = "(first group of this file)"

	// failedGroupSummary は採点失敗グループの要約
	failedGroupSummary = "(scoring failed for this group)"

	// batchFileBoundary はバッチプロンプト内のファイル区切り
	batchFileBoundary = "\n\n========== FILE BOUNDARY ==========\n\n"

	// scoreFieldSpec は採点JSONの数値フィールド定義
	scoreFieldSpec = `- "complexity": コードの本質的な複雑さ (0-10)
- "code_quality": 可読性・命名・構造の質 (0-10)
- "maintainability": 変更容易性・テスト容易性 (0-10)
- "best_practices": 言語・エコシステムの作法への準拠 (0-10)`
)

// BuildContextPrompt はステージ1（プロジェクト文脈推定）のプロンプトを構築する
func BuildContextPrompt(readmeExcerpt string, fileTree []string) string {
	var sb strings.Builder

	sb.WriteString("あなたはソフトウェアリポジトリの分析を行う技術アシスタントです。\n")
	sb.WriteString("READMEの抜粋とファイルツリーから、このプロジェクトの本質を推定してください。\n\n")

	sb.WriteString("## README抜粋\n")
	if readmeExcerpt != "" {
		sb.WriteString(readmeExcerpt)
		sb.WriteString("\n\n")
	} else {
		sb.WriteString("(READMEはありません)\n\n")
	}

	sb.WriteString("## ファイルツリー\n")
	for _, path := range fileTree {
		sb.WriteString(path)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## 出力形式\n")
	sb.WriteString("次のキーを持つJSONオブジェクトのみを返してください:\n")
	sb.WriteString(`- "project_essence": プロジェクトの本質の1-2文の説明` + "\n")
	sb.WriteString(`- "primary_domain": 主要ドメイン (例: "web backend", "smart contracts")` + "\n")
	sb.WriteString(`- "primary_stack": 主要技術スタックの配列` + "\n")
	sb.WriteString(`- "core_concepts": 中核概念の配列` + "\n")

	return sb.String()
}

// BuildSelectionPrompt はステージ2（ファイル選定）のプロンプトを構築する
func BuildSelectionPrompt(pc ProjectContext, fileTree []string) string {
	var sb strings.Builder

	sb.WriteString("あなたはコードレビュー対象のファイルを選定する技術アシスタントです。\n\n")

	sb.WriteString("## プロジェクト文脈\n")
	sb.WriteString(fmt.Sprintf("本質: %s\n", pc.ProjectEssence))
	sb.WriteString(fmt.Sprintf("ドメイン: %s\n", pc.PrimaryDomain))
	sb.WriteString(fmt.Sprintf("スタック: %s\n\n", strings.Join(pc.PrimaryStack, ", ")))

	sb.WriteString("## ファイルツリー\n")
	for _, path := range fileTree {
		sb.WriteString(path)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## 選定ガイドライン\n")
	sb.WriteString("- プロジェクトの品質評価に最も意味のあるソースファイルを選んでください\n")
	sb.WriteString("- ディレクトリパスを指定すると配下のファイルすべてが対象になります\n")
	sb.WriteString("- ベンダコードや自動生成コードと疑われるパスは `<path> # <理由>` の形式で記載してください\n\n")

	sb.WriteString("## 出力形式\n")
	sb.WriteString("次のキーを持つJSONオブジェクトのみを返してください:\n")
	sb.WriteString(`- "selected_paths": 選定パス（または ` + "`<path> # <理由>`" + ` 形式のフラグ行）の配列` + "\n")

	return sb.String()
}

// BuildGroupScorePrompt は単一グループ採点のプロンプトを構築する
func BuildGroupScorePrompt(pc ProjectContext, interFileContext, intraFileContext, filePath, combinedText string) string {
	var sb strings.Builder

	sb.WriteString("あなたは経験豊富なコードレビュアです。以下のコード断片を4軸で採点してください。\n\n")

	sb.WriteString("## プロジェクト文脈\n")
	sb.WriteString(fmt.Sprintf("ドメイン: %s\n", pc.PrimaryDomain))
	sb.WriteString(fmt.Sprintf("スタック: %s\n\n", strings.Join(pc.PrimaryStack, ", ")))

	if interFileContext != "" {
		sb.WriteString("## ファイル間コンテキスト\n")
		sb.WriteString(interFileContext)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## ファイル内コンテキスト\n")
	sb.WriteString(intraFileContext)
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("## 対象コード: %s\n", filePath))
	sb.WriteString("```\n")
	sb.WriteString(combinedText)
	sb.WriteString("\n```\n\n")

	sb.WriteString("## 出力形式\n")
	sb.WriteString("次のキーを持つJSONオブジェクトのみを返してください:\n")
	sb.WriteString(scoreFieldSpec + "\n")
	sb.WriteString(`- "group_summary": このコードが何をしているかの短い要約（次の断片の採点に引き継がれます）` + "\n")
	sb.WriteString(`- "reasoning": 採点根拠の短い説明` + "\n")

	return sb.String()
}

// BuildBatchScorePrompt は複数ファイル一括採点のプロンプトを構築する
// ファイルは固定の境界文字列で区切り、file_path 付きの reviews 配列を要求する
func BuildBatchScorePrompt(pc ProjectContext, files []*batchEntry) string {
	var sb strings.Builder

	sb.WriteString("あなたは経験豊富なコードレビュアです。以下の複数ファイルをそれぞれ4軸で採点してください。\n\n")

	sb.WriteString("## プロジェクト文脈\n")
	sb.WriteString(fmt.Sprintf("本質: %s\n", pc.ProjectEssence))
	sb.WriteString(fmt.Sprintf("ドメイン: %s\n", pc.PrimaryDomain))
	sb.WriteString(fmt.Sprintf("スタック: %s\n\n", strings.Join(pc.PrimaryStack, ", ")))

	sb.WriteString("## 対象ファイル\n")
	for i, entry := range files {
		if i > 0 {
			sb.WriteString(batchFileBoundary)
		}
		sb.WriteString(fmt.Sprintf("### ファイル: %s\n", entry.file.FilePath))
		sb.WriteString("```\n")
		sb.WriteString(entry.combinedText())
		sb.WriteString("\n```\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## 出力形式\n")
	sb.WriteString("次の構造のJSONオブジェクトのみを返してください:\n")
	sb.WriteString("`{\"reviews\": [{\"file_path\": ..., 採点フィールド...}, ...]}`\n")
	sb.WriteString("各レビューの採点フィールド:\n")
	sb.WriteString(scoreFieldSpec + "\n")
	sb.WriteString(`- "group_summary": ファイル内容の短い要約` + "\n")
	sb.WriteString("ファイルごとにちょうど1件のレビューを返してください。\n")

	return sb.String()
}

// BuildFinalReviewPrompt は最終レビュー（キャリブレーション）のプロンプトを構築する
func BuildFinalReviewPrompt(card *ProjectScorecard, dossier *Dossier) string {
	var sb strings.Builder

	sb.WriteString("あなたはソフトウェアプロジェクトの品質を総合評価するシニアレビュアです。\n")
	sb.WriteString("暫定スコアと代表的なコード断片を踏まえ、最終的な補正係数を決定してください。\n\n")

	sb.WriteString("## 暫定スコアカード\n")
	sb.WriteString(fmt.Sprintf("リポジトリ: %s\n", card.RepoName))
	sb.WriteString(fmt.Sprintf("ドメイン: %s\n", card.MainDomain))
	sb.WriteString(fmt.Sprintf("暫定スコア: %.2f\n", card.PreliminaryProjectScore))
	sb.WriteString(fmt.Sprintf("プロファイル: complexity=%.2f quality=%.2f maintainability=%.2f best_practices=%.2f\n",
		card.Profile.Complexity, card.Profile.Quality, card.Profile.Maintainability, card.Profile.BestPractices))
	sb.WriteString(fmt.Sprintf("採点ファイル数: %d (失敗 %d)\n\n", len(card.ScoredFiles), card.TotalFailedFiles))

	sb.WriteString("## コードドシエ\n")
	sb.WriteString(fmt.Sprintf("選定方式: %s / %dトークン\n\n", dossier.Strategy, dossier.TotalTokens))
	sb.WriteString(dossier.Text)
	sb.WriteString("\n\n")

	sb.WriteString("## 出力形式\n")
	sb.WriteString("次のキーを持つJSONオブジェクトのみを返してください:\n")
	sb.WriteString(`- "final_score_multiplier": 暫定スコアへの補正係数 (0.8-1.25)` + "\n")
	sb.WriteString(`- "refined_tech_stack": コードから確認できた技術スタックの配列` + "\n")
	sb.WriteString(`- "holistic_summary": プロジェクト全体の総評` + "\n")
	sb.WriteString(`- "reasoning": 補正係数の根拠` + "\n")

	return sb.String()
}
