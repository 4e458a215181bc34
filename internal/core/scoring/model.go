package scoring

import (
	"errors"

	"github.com/jinford/repo-scorecard/internal/core/ai"
	"github.com/jinford/repo-scorecard/internal/core/chunking"
)

var (
	// ErrEmptyDossier は最終レビューに1ファイルも採用できなかったことを表す
	ErrEmptyDossier = errors.New("no files admitted to the final review dossier")

	// ErrNoFilesSelected はファイル選定が空だったことを表す
	ErrNoFilesSelected = errors.New("no files were selected")
)

// AIScore は1グループのAI採点結果
// 数値軸はすべて [0,10]
type AIScore struct {
	Complexity      float64 `json:"complexity"`
	CodeQuality     float64 `json:"code_quality"`
	Maintainability float64 `json:"maintainability"`
	BestPractices   float64 `json:"best_practices"`

	// GroupSummary はファイル内コンテキストとして次グループの採点に引き継がれる
	GroupSummary string `json:"group_summary,omitempty"`
	Reasoning    string `json:"reasoning,omitempty"`
}

// QualityAverage は quality / maintainability / best_practices の算術平均
func (s AIScore) QualityAverage() float64 {
	return (s.CodeQuality + s.Maintainability + s.BestPractices) / 3
}

// Impact はグループ単位のインパクト
func (s AIScore) Impact() float64 {
	return s.QualityAverage() * s.Complexity
}

// ScoredChunkGroup は採点済みのチャンクグループ
type ScoredChunkGroup struct {
	GroupID     int      `json:"group_id"`
	Score       AIScore  `json:"score"`
	TotalTokens int      `json:"total_tokens"`
	Usage       ai.Usage `json:"usage"`
}

// ChunkingSummary はスコアカードに残すチャンク化の要約
type ChunkingSummary struct {
	SendStrategy   chunking.SendStrategy   `json:"send_strategy"`
	GroupCount     int                     `json:"group_count"`
	OversizedCount int                     `json:"oversized_count"`
	SkippedCount   int                     `json:"skipped_count"`
	TokenBreakdown chunking.TokenBreakdown `json:"token_breakdown"`
}

// ScoredFile は1ファイルの採点結果
// 採点（リトライ含む）完了後は不変として扱う
type ScoredFile struct {
	FilePath            string             `json:"file_path"`
	TotalOriginalTokens int                `json:"total_original_tokens"`
	FinalTokenCount     int                `json:"final_token_count"`
	ImpactScore         float64            `json:"impact_score"`
	AverageComplexity   float64            `json:"average_complexity"`
	AverageQuality      float64            `json:"average_quality"`
	Usage               ai.Usage           `json:"usage"`
	Retries             int                `json:"retries"`
	HadError            bool               `json:"had_error"`
	ScoredChunkGroups   []ScoredChunkGroup `json:"scored_chunk_groups"`
	ChunkingDetails     ChunkingSummary    `json:"chunking_details"`
}

// ScoreProfile はプロジェクト全体の4軸プロファイル
type ScoreProfile struct {
	Complexity      float64 `json:"complexity"`
	Quality         float64 `json:"quality"`
	Maintainability float64 `json:"maintainability"`
	BestPractices   float64 `json:"best_practices"`
}

// ProjectContext はステージ1で推定するリポジトリの文脈
type ProjectContext struct {
	ProjectEssence string   `json:"project_essence"`
	PrimaryDomain  string   `json:"primary_domain"`
	PrimaryStack   []string `json:"primary_stack"`
	CoreConcepts   []string `json:"core_concepts"`
}

// FlaggedPath はベンダコード疑いとして選定から除外されたパス
type FlaggedPath struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// SelectionResult は2段階ファイル選定の結果
type SelectionResult struct {
	RepoName       string         `json:"repo_name"`
	ProjectContext ProjectContext `json:"project_context"`
	SelectedFiles  []string       `json:"selected_files"`
	FlaggedPaths   []FlaggedPath  `json:"flagged_paths"`
	Warnings       []string       `json:"warnings"`
	Usage          ai.Usage       `json:"usage"`
}

// FinalReview は最終レビュー（キャリブレーション）の出力
type FinalReview struct {
	Multiplier       float64  `json:"final_score_multiplier"`
	RefinedTechStack []string `json:"refined_tech_stack,omitempty"`
	HolisticSummary  string   `json:"holistic_summary,omitempty"`
	Reasoning        string   `json:"reasoning,omitempty"`
	DossierStrategy  string   `json:"dossier_strategy,omitempty"`
	DossierTokens    int      `json:"dossier_tokens,omitempty"`
}

// ProjectScorecard はリポジトリ全体のスコアカード
// scored_files はインパクト降順を保つ
type ProjectScorecard struct {
	RunID                   string         `json:"run_id"`
	RepoName                string         `json:"repo_name"`
	Model                   string         `json:"model"`
	PreliminaryProjectScore float64        `json:"preliminary_project_score"`
	FinalProjectScore       *float64       `json:"final_project_score,omitempty"`
	MainDomain              string         `json:"main_domain"`
	TechStack               []string       `json:"tech_stack"`
	ProjectEssence          string         `json:"project_essence"`
	ProjectContext          ProjectContext `json:"project_context"`
	Profile                 ScoreProfile   `json:"profile"`
	Usage                   ai.Usage       `json:"usage"`
	TotalRetries            int            `json:"total_retries"`
	TotalFailedFiles        int            `json:"total_failed_files"`
	FinalReview             *FinalReview   `json:"final_review,omitempty"`
	ScoredFiles             []*ScoredFile  `json:"scored_files"`
	Warnings                []string       `json:"warnings,omitempty"`
	EstimatedCostUSD        float64        `json:"estimated_cost_usd,omitempty"`
}
