package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/repo-scorecard/internal/core/ai"
	"github.com/jinford/repo-scorecard/internal/core/chunking"
	"github.com/jinford/repo-scorecard/internal/core/scoring"
	"github.com/jinford/repo-scorecard/internal/infra/git"
)

// mockClient は呼び出しごとに用意したレスポンスを順に返すテスト用クライアント
type mockClient struct {
	mu        sync.Mutex
	responses []string
	calls     []ai.Request
}

func (m *mockClient) Chat(_ context.Context, req ai.Request) (*ai.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.calls)
	m.calls = append(m.calls, req)
	if idx >= len(m.responses) {
		return nil, fmt.Errorf("%w: unexpected call %d", ai.ErrProvider, idx)
	}
	return &ai.Response{
		Content: m.responses[idx],
		Usage:   ai.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func (m *mockClient) ModelName() string { return "mock-model" }

func wordCount(s string) int { return len(strings.Fields(s)) }

// newTestRunner はローカルキャッシュだけで動く Runner を組み立てる
func newTestRunner(t *testing.T, client ai.Client, cacheRoot, reportsDir string) *Runner {
	t.Helper()

	chunker := chunking.NewChunker(
		chunking.NewRegistry(0.6, true),
		chunking.Options{
			MaxTokensPerChunk: 800,
			MaxTokensPerGroup: 2500,
			MaxContextTokens:  200,
			ContextItemLimit:  15,
		},
		wordCount,
	)

	return NewRunner(
		NewStore(),
		git.NewAcquirer(git.NewClient(), cacheRoot),
		chunker,
		scoring.NewSelector(client, 3),
		scoring.NewEngine(client, 3, 5100, nil),
		scoring.NewReviewer(client, 3, 16000, scoring.DossierGlobalTopImpact, nil),
		reportsDir,
	)
}

// seedRepo はクローン済みリポジトリに見えるローカルディレクトリを作る
func seedRepo(t *testing.T, cacheRoot, name string, files map[string]string) {
	t.Helper()
	root := filepath.Join(cacheRoot, name)
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	require.NoError(t, os.MkdirAll(root, 0o755))
}

func waitForTerminal(t *testing.T, runner *Runner, runID string) *Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, err := runner.Status(runID)
		require.NoError(t, err)
		if snap.Status.Terminal() {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s did not terminate, status=%s", runID, snap.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func contextResponse() string {
	return `{"project_essence": "notes repo", "primary_domain": "documentation", "primary_stack": ["text"], "core_concepts": ["notes"]}`
}

// TestRunPipelineComplete はパイプライン完走とスコアカード生成を確認します
func TestRunPipelineComplete(t *testing.T) {
	cacheRoot := t.TempDir()
	reportsDir := t.TempDir()
	seedRepo(t, cacheRoot, "demo", map[string]string{
		"README.md": "# demo\nsample project",
		"notes.txt": strings.Repeat("some words in the file ", 24),
	})

	client := &mockClient{responses: []string{
		contextResponse(),
		`{"selected_paths": ["notes.txt"]}`,
		`{"reviews": [{"file_path": "notes.txt", "complexity": 5, "code_quality": 6, "maintainability": 6, "best_practices": 6, "group_summary": "notes"}]}`,
		`{"final_score_multiplier": 1.1, "refined_tech_stack": ["text"], "holistic_summary": "fine", "reasoning": "ok"}`,
	}}
	runner := newTestRunner(t, client, cacheRoot, reportsDir)

	result, err := runner.Start(context.Background(), StartOptions{RepoURL: "https://example.com/org/demo.git"})
	require.NoError(t, err)
	assert.Contains(t, result.AllFiles, "notes.txt")

	snap := waitForTerminal(t, runner, result.RunID)
	require.Equal(t, StatusComplete, snap.Status)

	// complete ならレポートがあり、エラーはない
	require.NotNil(t, snap.Report)
	assert.Empty(t, snap.Error)
	require.Len(t, snap.Report.ScoredFiles, 1)
	assert.Equal(t, "notes.txt", snap.Report.ScoredFiles[0].FilePath)
	assert.InDelta(t,
		snap.Report.ScoredFiles[0].AverageQuality*snap.Report.ScoredFiles[0].AverageComplexity,
		snap.Report.ScoredFiles[0].ImpactScore, 1e-9)
	require.NotNil(t, snap.Report.FinalProjectScore)
	assert.InDelta(t, snap.Report.PreliminaryProjectScore*1.1, *snap.Report.FinalProjectScore, 1e-9)

	// レポートのアーティファクトが出力されている
	runDir := filepath.Join(reportsDir, "demo", "run-"+result.RunID)
	for _, name := range []string{"file-selection.json", "chunking-analysis.json", "project-scorecard.json"} {
		_, err := os.Stat(filepath.Join(runDir, name))
		assert.NoError(t, err, name)
	}
	entries, err := os.ReadDir(filepath.Join(runDir, "final-reviews2"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	// ログIDは厳密に増加し、タイムスタンプは後退しない
	require.NotEmpty(t, snap.LogHistory)
	for i := 1; i < len(snap.LogHistory); i++ {
		assert.Equal(t, snap.LogHistory[i-1].ID+1, snap.LogHistory[i].ID)
		assert.False(t, snap.LogHistory[i].Timestamp.Before(snap.LogHistory[i-1].Timestamp))
	}
}

// TestRunPipelineEmptyRepo は空リポジトリのエラー終端を確認します
func TestRunPipelineEmptyRepo(t *testing.T) {
	cacheRoot := t.TempDir()
	seedRepo(t, cacheRoot, "empty-repo", nil)

	runner := newTestRunner(t, &mockClient{}, cacheRoot, t.TempDir())

	result, err := runner.Start(context.Background(), StartOptions{RepoURL: "https://example.com/org/empty-repo.git"})
	require.NoError(t, err)
	assert.Empty(t, result.AllFiles)

	snap := waitForTerminal(t, runner, result.RunID)
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "no files were selected", snap.Error)
	assert.Nil(t, snap.Report)
}

// TestStartCacheHit はキャッシュ済みスコアカードの再利用を確認します
func TestStartCacheHit(t *testing.T) {
	cacheRoot := t.TempDir()
	reportsDir := t.TempDir()
	seedRepo(t, cacheRoot, "cached", map[string]string{"a.txt": "hello"})

	runID := "fixed-run"
	reviewsDir := filepath.Join(reportsDir, "cached", "run-"+runID, "final-reviews2")
	require.NoError(t, os.MkdirAll(reviewsDir, 0o755))

	older := filepath.Join(reviewsDir, "calibrated-scorecard-old.json")
	newer := filepath.Join(reviewsDir, "calibrated-scorecard-new.json")
	require.NoError(t, os.WriteFile(older, []byte(`{"run_id": "fixed-run", "repo_name": "old", "scored_files": []}`), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte(`{"run_id": "fixed-run", "repo_name": "new", "scored_files": []}`), 0o644))
	base := time.Now()
	require.NoError(t, os.Chtimes(older, base.Add(-time.Hour), base.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(newer, base, base))

	client := &mockClient{}
	runner := newTestRunner(t, client, cacheRoot, reportsDir)

	result, err := runner.Start(context.Background(), StartOptions{
		RunID:   runID,
		RepoURL: "https://example.com/org/cached.git",
	})
	require.NoError(t, err)

	snap, err := runner.Status(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, snap.Status)
	require.NotNil(t, snap.Report)
	// 更新時刻が新しい方が選ばれる
	assert.Equal(t, "new", snap.Report.RepoName)
	// AI呼び出しは発生しない
	assert.Empty(t, client.calls)
}

// TestScoreFileAfterCacheHit はキャッシュ再利用後のランでも追加採点できることを確認します
func TestScoreFileAfterCacheHit(t *testing.T) {
	cacheRoot := t.TempDir()
	reportsDir := t.TempDir()
	seedRepo(t, cacheRoot, "cached2", map[string]string{"a.txt": "a handful of words to score"})

	runID := "fixed-run2"
	reviewsDir := filepath.Join(reportsDir, "cached2", "run-"+runID, "final-reviews2")
	require.NoError(t, os.MkdirAll(reviewsDir, 0o755))
	artifact := `{
		"run_id": "fixed-run2",
		"repo_name": "cached2",
		"project_context": {
			"project_essence": "cached essence",
			"primary_domain": "documentation",
			"primary_stack": ["text"],
			"core_concepts": ["notes"]
		},
		"scored_files": []
	}`
	require.NoError(t, os.WriteFile(
		filepath.Join(reviewsDir, "calibrated-scorecard-old.json"), []byte(artifact), 0o644))

	client := &mockClient{responses: []string{
		`{"complexity": 6, "code_quality": 7, "maintainability": 7, "best_practices": 6, "group_summary": "a"}`,
	}}
	runner := newTestRunner(t, client, cacheRoot, reportsDir)

	result, err := runner.Start(context.Background(), StartOptions{
		RunID:   runID,
		RepoURL: "https://example.com/org/cached2.git",
	})
	require.NoError(t, err)

	snap, err := runner.Status(result.RunID)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, snap.Status)
	assert.Empty(t, client.calls)

	scored, err := runner.ScoreFile(context.Background(), result.RunID, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", scored.FilePath)
	assert.False(t, scored.HadError)

	// 採点プロンプトはアーティファクトに保存された文脈を使う
	require.Len(t, client.calls, 1)
	assert.Contains(t, client.calls[0].Messages[0].Content, "cached essence")

	snap, err = runner.Status(result.RunID)
	require.NoError(t, err)
	require.Len(t, snap.Report.ScoredFiles, 1)
	assert.Equal(t, "a.txt", snap.Report.ScoredFiles[0].FilePath)
}

// TestScoreFileConcurrentSamePath は同一パスの並行追加採点が1件しか追記されないことを確認します
func TestScoreFileConcurrentSamePath(t *testing.T) {
	cacheRoot := t.TempDir()
	reportsDir := t.TempDir()
	seedRepo(t, cacheRoot, "demo4", map[string]string{
		"notes.txt": "first file words here",
		"extra.txt": "second file with more words inside",
	})

	client := &mockClient{responses: []string{
		contextResponse(),
		`{"selected_paths": ["notes.txt"]}`,
		`{"reviews": [{"file_path": "notes.txt", "complexity": 5, "code_quality": 6, "maintainability": 6, "best_practices": 6, "group_summary": "notes"}]}`,
		`{"final_score_multiplier": 1.0}`,
		`{"complexity": 8, "code_quality": 7, "maintainability": 7, "best_practices": 7, "group_summary": "extra"}`,
		`{"complexity": 8, "code_quality": 7, "maintainability": 7, "best_practices": 7, "group_summary": "extra"}`,
	}}
	runner := newTestRunner(t, client, cacheRoot, reportsDir)

	result, err := runner.Start(context.Background(), StartOptions{RepoURL: "https://example.com/org/demo4.git"})
	require.NoError(t, err)
	waitForTerminal(t, runner, result.RunID)

	results := make([]*scoring.ScoredFile, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = runner.ScoreFile(context.Background(), result.RunID, "extra.txt")
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, "extra.txt", results[i].FilePath)
	}

	// スコアカード上は1件だけ追記される
	snap, err := runner.Status(result.RunID)
	require.NoError(t, err)
	count := 0
	for _, file := range snap.Report.ScoredFiles {
		if file.FilePath == "extra.txt" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// TestScoreFileIdempotent は追加採点の冪等性を確認します
func TestScoreFileIdempotent(t *testing.T) {
	cacheRoot := t.TempDir()
	reportsDir := t.TempDir()
	seedRepo(t, cacheRoot, "demo2", map[string]string{
		"notes.txt": "first file words here",
		"extra.txt": "second file with more words inside",
	})

	client := &mockClient{responses: []string{
		contextResponse(),
		`{"selected_paths": ["notes.txt"]}`,
		`{"reviews": [{"file_path": "notes.txt", "complexity": 5, "code_quality": 6, "maintainability": 6, "best_practices": 6, "group_summary": "notes"}]}`,
		`{"final_score_multiplier": 1.0}`,
		`{"complexity": 8, "code_quality": 7, "maintainability": 7, "best_practices": 7, "group_summary": "extra"}`,
	}}
	runner := newTestRunner(t, client, cacheRoot, reportsDir)

	result, err := runner.Start(context.Background(), StartOptions{RepoURL: "https://example.com/org/demo2.git"})
	require.NoError(t, err)
	waitForTerminal(t, runner, result.RunID)

	scored, err := runner.ScoreFile(context.Background(), result.RunID, "extra.txt")
	require.NoError(t, err)
	assert.Equal(t, "extra.txt", scored.FilePath)
	callsAfterFirst := len(client.calls)

	snap, err := runner.Status(result.RunID)
	require.NoError(t, err)
	require.Len(t, snap.Report.ScoredFiles, 2)

	// インパクト降順を保つ（extra.txt の方が高インパクト）
	assert.Equal(t, "extra.txt", snap.Report.ScoredFiles[0].FilePath)
	assert.GreaterOrEqual(t,
		snap.Report.ScoredFiles[0].ImpactScore,
		snap.Report.ScoredFiles[1].ImpactScore)

	// 2回目はAI呼び出しなしで既存の結果を返す
	again, err := runner.ScoreFile(context.Background(), result.RunID, "extra.txt")
	require.NoError(t, err)
	assert.Same(t, scored, again)
	assert.Equal(t, callsAfterFirst, len(client.calls))

	// 存在しないファイルは404相当
	_, err = runner.ScoreFile(context.Background(), result.RunID, "nope.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

// TestFileContent はパス検証付きのファイル取得を確認します
func TestFileContent(t *testing.T) {
	cacheRoot := t.TempDir()
	seedRepo(t, cacheRoot, "demo3", map[string]string{"dir/a.txt": "content here"})

	runner := newTestRunner(t, &mockClient{}, cacheRoot, t.TempDir())
	result, err := runner.Start(context.Background(), StartOptions{RepoURL: "https://example.com/org/demo3.git"})
	require.NoError(t, err)
	waitForTerminal(t, runner, result.RunID)

	data, err := runner.FileContent(result.RunID, "dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "content here", string(data))

	_, err = runner.FileContent(result.RunID, "../escape.txt")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = runner.FileContent(result.RunID, "dir/missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = runner.FileContent("unknown-run", "dir/a.txt")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

// TestWriteJSONAtomic はアトミック書き込みを確認します
func TestWriteJSONAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	require.NoError(t, writeJSONAtomic(path, map[string]int{"value": 1}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"value": 1`)

	// 一時ファイルが残らない
	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "out.json", entries[0].Name())
}
