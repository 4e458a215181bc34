package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/repo-scorecard/internal/core/chunking"
	"github.com/jinford/repo-scorecard/internal/core/scoring"
	"github.com/jinford/repo-scorecard/internal/infra/git"
)

// readmeExcerptLimit はステージ1に渡すREADME抜粋の最大文字数
const readmeExcerptLimit = 4000

// Runner は1ランの線形パイプラインを駆動するオーケストレータ
type Runner struct {
	store      *Store
	acquirer   *git.Acquirer
	chunker    *chunking.Chunker
	selector   *scoring.Selector
	engine     *scoring.Engine
	reviewer   *scoring.Reviewer
	reportsDir string
}

// NewRunner は新しい Runner を作成する
func NewRunner(store *Store, acquirer *git.Acquirer, chunker *chunking.Chunker, selector *scoring.Selector, engine *scoring.Engine, reviewer *scoring.Reviewer, reportsDir string) *Runner {
	return &Runner{
		store:      store,
		acquirer:   acquirer,
		chunker:    chunker,
		selector:   selector,
		engine:     engine,
		reviewer:   reviewer,
		reportsDir: reportsDir,
	}
}

// StartOptions は Start の入力
type StartOptions struct {
	RunID          string
	RepoURL        string
	ReadmeOverride string
}

// StartResult は Start の同期的な戻り値
type StartResult struct {
	RunID    string
	AllFiles []string
}

// Start はリポジトリを取得してランを開始する
// キャッシュ済みの最終スコアカードがあればそれを読み込んで即座に complete へ遷移する
// それ以外はバックグラウンドでパイプラインを実行する
func (r *Runner) Start(ctx context.Context, opts StartOptions) (*StartResult, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	meta, err := r.acquirer.Acquire(ctx, opts.RepoURL)
	if err != nil {
		return nil, err
	}

	st := r.store.Create(runID, opts.RepoURL, meta)
	r.store.update(st, "", fmt.Sprintf("run created for %s", meta.Name), func(st *state) {
		st.readmeOverride = opts.ReadmeOverride
	})

	result := &StartResult{RunID: runID}
	for _, entry := range meta.Files {
		result.AllFiles = append(result.AllFiles, entry.Relative)
	}

	// 既存のキャリブレーション済みスコアカードがあれば再利用する
	if card, path, ok := r.loadCachedScorecard(meta.Name, runID); ok {
		r.store.update(st, StatusComplete, "reusing cached calibrated scorecard", func(st *state) {
			st.scorecard = card
			st.scorecardPath = path
		})
		return result, nil
	}

	// クライアント切断でランは中断しない
	go r.execute(context.WithoutCancel(ctx), st)

	return result, nil
}

// Status はランの現在状態を返す
func (r *Runner) Status(runID string) (*Snapshot, error) {
	return r.store.Snapshot(runID)
}

// execute は選定→チャンク化・採点→最終レビューの線形パイプラインを実行する
func (r *Runner) execute(ctx context.Context, st *state) {
	costStart := r.estimatedCost()

	selection, err := r.selectFiles(ctx, st)
	if err != nil {
		r.fail(st, err)
		return
	}

	card, err := r.chunkAndScore(ctx, st, selection, costStart)
	if err != nil {
		r.fail(st, err)
		return
	}

	if err := r.finalReview(ctx, st, card, costStart); err != nil {
		r.fail(st, err)
		return
	}

	r.store.update(st, StatusComplete, "run complete", nil)
}

// estimatedCost は採点・レビュー共通のコストトラッカーの累計を返す
func (r *Runner) estimatedCost() float64 {
	return math.Max(r.engine.EstimatedCost(), r.reviewer.EstimatedCost())
}

func (r *Runner) selectFiles(ctx context.Context, st *state) (*scoring.SelectionResult, error) {
	r.store.update(st, StatusSelectingFiles, "selecting files for review", nil)

	fileTree := make([]string, 0, len(st.meta.Files))
	for _, entry := range st.meta.Files {
		fileTree = append(fileTree, entry.Relative)
	}
	if len(fileTree) == 0 {
		return nil, scoring.ErrNoFilesSelected
	}

	selection, err := r.selector.Select(ctx, st.repoName, r.readmeExcerpt(st), fileTree)
	if err != nil {
		return nil, err
	}

	if err := writeJSONAtomic(filepath.Join(r.runDir(st), "file-selection.json"), selection); err != nil {
		return nil, err
	}

	r.store.update(st, "", fmt.Sprintf("selected %d files (%d flagged)", len(selection.SelectedFiles), len(selection.FlaggedPaths)), func(st *state) {
		st.selection = selection
	})

	return selection, nil
}

func (r *Runner) chunkAndScore(ctx context.Context, st *state, selection *scoring.SelectionResult, costStart float64) (*scoring.ProjectScorecard, error) {
	r.store.update(st, StatusChunkingAndScoring, "chunking and scoring selected files", nil)

	var files []*chunking.FileChunkGroup
	groups := make(map[string]*chunking.FileChunkGroup)

	for _, rel := range selection.SelectedFiles {
		code, err := os.ReadFile(filepath.Join(st.meta.LocalPath, rel))
		if err != nil {
			r.store.update(st, "", fmt.Sprintf("skipping %s: %v", rel, err), nil)
			continue
		}

		chunked, err := r.chunker.ChunkFile(string(code), rel)
		if err != nil {
			// 構文解析の失敗はファイル単位で降格する
			slog.Warn("chunking failed", slog.String("file", rel), slog.String("error", err.Error()))
			r.store.update(st, "", fmt.Sprintf("skipping %s: parse failure", rel), nil)
			continue
		}

		files = append(files, chunked)
		groups[rel] = chunked
	}

	if err := writeJSONAtomic(filepath.Join(r.runDir(st), "chunking-analysis.json"), files); err != nil {
		return nil, err
	}

	scored := r.engine.ScoreAll(ctx, selection.ProjectContext, files)
	card := scoring.BuildScorecard(st.runID, st.repoName, r.engine.ModelName(), selection, scored)
	card.EstimatedCostUSD = r.estimatedCost() - costStart

	cardPath := filepath.Join(r.runDir(st), "project-scorecard.json")
	if err := writeJSONAtomic(cardPath, card); err != nil {
		return nil, err
	}

	r.store.update(st, "", fmt.Sprintf("scored %d files (%d failed, %d retried)", len(scored), card.TotalFailedFiles, card.TotalRetries), func(st *state) {
		st.groups = groups
		st.scorecard = card
		st.scorecardPath = cardPath
	})

	return card, nil
}

func (r *Runner) finalReview(ctx context.Context, st *state, card *scoring.ProjectScorecard, costStart float64) error {
	r.store.update(st, StatusFinalReview, "running final review", nil)

	review, err := r.reviewer.Review(ctx, card, st.groups)
	if err != nil {
		return err
	}
	card.EstimatedCostUSD = r.estimatedCost() - costStart

	path := filepath.Join(r.runDir(st), "final-reviews2",
		fmt.Sprintf("calibrated-scorecard-%s.json", time.Now().Format("20060102-150405")))
	if err := writeJSONAtomic(path, card); err != nil {
		return err
	}

	r.store.update(st, "", fmt.Sprintf("final review applied (multiplier %.2f)", review.Multiplier), func(st *state) {
		st.scorecardPath = path
	})

	return nil
}

// fail はランを error 終端へ遷移させる
func (r *Runner) fail(st *state, err error) {
	slog.Error("run failed", slog.String("run_id", st.runID), slog.String("error", err.Error()))
	r.store.update(st, StatusError, err.Error(), func(st *state) {
		st.errMsg = err.Error()
	})
}

// ScoreFile は完了後も含めて単一ファイルを追加採点する
// 既に採点済みのファイルはAI呼び出しなしで既存の結果を返す（冪等）
func (r *Runner) ScoreFile(ctx context.Context, runID, relPath string) (*scoring.ScoredFile, error) {
	st, ok := r.store.get(runID)
	if !ok {
		return nil, ErrRunNotFound
	}

	st.mu.Lock()
	card := st.scorecard
	selection := st.selection
	var existing *scoring.ScoredFile
	if card != nil {
		for _, file := range card.ScoredFiles {
			if file.FilePath == relPath {
				existing = file
				break
			}
		}
	}
	st.mu.Unlock()

	if card == nil {
		return nil, fmt.Errorf("run %s has no scorecard yet", runID)
	}
	if existing != nil {
		return existing, nil
	}

	if !r.fileExists(st, relPath) {
		return nil, ErrFileNotFound
	}

	code, err := os.ReadFile(filepath.Join(st.meta.LocalPath, relPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", relPath, err)
	}

	chunked, err := r.chunker.ChunkFile(string(code), relPath)
	if err != nil {
		return nil, err
	}

	// キャッシュ再利用で完了したランは選定結果を持たないため、
	// スコアカードに保存した文脈（旧アーティファクトでは要約項目）から復元する
	pc := card.ProjectContext
	if selection != nil {
		pc = selection.ProjectContext
	} else if pc.ProjectEssence == "" && pc.PrimaryDomain == "" {
		pc = scoring.ProjectContext{
			ProjectEssence: card.ProjectEssence,
			PrimaryDomain:  card.MainDomain,
			PrimaryStack:   card.TechStack,
		}
	}

	scored := r.engine.ScoreFileGroups(ctx, pc, "", chunked)

	// 追記は再確認と同一クリティカルセクションで行う（同一パスの並行採点は先勝ち）
	var duplicate *scoring.ScoredFile
	var path string
	r.store.update(st, "", "", func(st *state) {
		for _, file := range st.scorecard.ScoredFiles {
			if file.FilePath == relPath {
				duplicate = file
				return
			}
		}
		st.groups[relPath] = chunked
		st.scorecard.ScoredFiles = append(st.scorecard.ScoredFiles, scored)
		st.scorecard.Usage = st.scorecard.Usage.Add(scored.Usage)
		if scored.HadError {
			st.scorecard.TotalFailedFiles++
		}
		scoring.Recompute(st.scorecard)
		path = st.scorecardPath
	})
	if duplicate != nil {
		return duplicate, nil
	}
	r.store.update(st, "", fmt.Sprintf("scored additional file %s", relPath), nil)

	if path != "" {
		if err := writeJSONAtomic(path, card); err != nil {
			return nil, err
		}
	}

	return scored, nil
}

// FileContent はリポジトリローカルパス配下のファイル内容を返す
// リポジトリルートを抜けるパスは拒否する
func (r *Runner) FileContent(runID, relPath string) ([]byte, error) {
	st, ok := r.store.get(runID)
	if !ok {
		return nil, ErrRunNotFound
	}

	root := st.meta.LocalPath
	abs := filepath.Join(root, filepath.FromSlash(relPath))

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, ErrForbidden
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return data, nil
}

// readmeExcerpt はREADME冒頭の抜粋を返す
// 明示的に渡されたREADMEテキストがあればそちらを優先する
func (r *Runner) readmeExcerpt(st *state) string {
	if st.readmeOverride != "" {
		return truncateRunes(st.readmeOverride, readmeExcerptLimit)
	}
	for _, entry := range st.meta.Files {
		name := strings.ToLower(entry.Relative)
		if name == "readme.md" || name == "readme" || name == "readme.txt" {
			data, err := os.ReadFile(entry.Absolute)
			if err != nil {
				return ""
			}
			return truncateRunes(string(data), readmeExcerptLimit)
		}
	}
	return ""
}

func (r *Runner) fileExists(st *state, relPath string) bool {
	for _, entry := range st.meta.Files {
		if entry.Relative == relPath {
			return true
		}
	}
	return false
}

func (r *Runner) runDir(st *state) string {
	return filepath.Join(r.reportsDir, st.repoName, "run-"+st.runID)
}

// loadCachedScorecard は過去ランのキャリブレーション済みスコアカードを探す
// 複数ある場合は更新時刻が最新のものを選ぶ
func (r *Runner) loadCachedScorecard(repoName, runID string) (*scoring.ProjectScorecard, string, bool) {
	dir := filepath.Join(r.reportsDir, repoName, "run-"+runID, "final-reviews2")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", false
	}

	var newest string
	var newestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = filepath.Join(dir, entry.Name())
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return nil, "", false
	}

	data, err := os.ReadFile(newest)
	if err != nil {
		return nil, "", false
	}
	var card scoring.ProjectScorecard
	if err := json.Unmarshal(data, &card); err != nil {
		slog.Warn("cached scorecard is unreadable", slog.String("path", newest), slog.String("error", err.Error()))
		return nil, "", false
	}

	return &card, newest, true
}

// writeJSONAtomic はJSONを一時ファイルへ書いてから rename で置き換える
func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace report: %w", err)
	}
	return nil
}

// truncateRunes は文字数で切り詰める
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
