package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jinford/repo-scorecard/internal/core/ai"
)

// Selector は2段階のAI呼び出しでレビュー対象ファイルを選定する
// ステージ1でプロジェクト文脈を推定し、ステージ2でその文脈を前提にファイルを選ぶ
type Selector struct {
	client     ai.Client
	maxRetries int
}

// NewSelector は新しい Selector を作成する
func NewSelector(client ai.Client, maxRetries int) *Selector {
	return &Selector{client: client, maxRetries: maxRetries}
}

// Select はREADME抜粋とファイルツリーから採点対象ファイルを決定する
// 選定結果が空の場合は ErrNoFilesSelected を返す
func (s *Selector) Select(ctx context.Context, repoName, readmeExcerpt string, fileTree []string) (*SelectionResult, error) {
	result := &SelectionResult{RepoName: repoName}

	// ステージ1: プロジェクト文脈の推定
	contextRes := ai.SafeJSONChat(ctx, s.client, []ai.Message{
		{Role: ai.RoleUser, Content: BuildContextPrompt(readmeExcerpt, fileTree)},
	}, s.maxRetries)
	if contextRes == nil {
		return nil, fmt.Errorf("failed to infer project context for %s", repoName)
	}
	result.Usage = result.Usage.Add(contextRes.Usage)

	if err := json.Unmarshal(contextRes.Raw, &result.ProjectContext); err != nil {
		return nil, fmt.Errorf("failed to decode project context: %w", err)
	}

	slog.Info("project context inferred",
		slog.String("repo", repoName),
		slog.String("domain", result.ProjectContext.PrimaryDomain))

	// ステージ2: ファイル選定
	selectionRes := ai.SafeJSONChat(ctx, s.client, []ai.Message{
		{Role: ai.RoleUser, Content: BuildSelectionPrompt(result.ProjectContext, fileTree)},
	}, s.maxRetries)
	if selectionRes == nil {
		return nil, fmt.Errorf("failed to select files for %s", repoName)
	}
	result.Usage = result.Usage.Add(selectionRes.Usage)

	var selection struct {
		SelectedPaths []string `json:"selected_paths"`
	}
	if err := json.Unmarshal(selectionRes.Raw, &selection); err != nil {
		return nil, fmt.Errorf("failed to decode file selection: %w", err)
	}

	s.resolve(result, selection.SelectedPaths, fileTree)

	if len(result.SelectedFiles) == 0 {
		return nil, ErrNoFilesSelected
	}

	return result, nil
}

// resolve は選定行をリポジトリツリーに対して解決する
// `<path> # <reason>` 形式の行はフラグ扱いで選定には含めない
func (s *Selector) resolve(result *SelectionResult, paths, fileTree []string) {
	seen := make(map[string]bool)

	for _, line := range paths {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if path, reason, flagged := splitFlaggedLine(line); flagged {
			result.FlaggedPaths = append(result.FlaggedPaths, FlaggedPath{Path: path, Reason: reason})
			continue
		}

		matched := expandPath(line, fileTree)
		if len(matched) == 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("selected path %q matches no file in the repository", line))
			continue
		}

		for _, path := range matched {
			if !seen[path] {
				seen[path] = true
				result.SelectedFiles = append(result.SelectedFiles, path)
			}
		}
	}

	sort.Strings(result.SelectedFiles)
}

// splitFlaggedLine は `<path> # <reason>` 形式の行を分解する
func splitFlaggedLine(line string) (path, reason string, ok bool) {
	idx := strings.Index(line, " # ")
	if idx < 0 {
		return "", "", false
	}
	path = strings.TrimSpace(line[:idx])
	reason = strings.TrimSpace(line[idx+3:])
	if path == "" || reason == "" {
		return "", "", false
	}
	return path, reason, true
}

// expandPath は選定パスをツリー上のファイル群に展開する
// 完全一致、またはパス区切り付きの前方一致（ディレクトリ展開）で解決する
func expandPath(selected string, fileTree []string) []string {
	selected = strings.TrimSuffix(selected, "/")

	var matched []string
	prefix := selected + "/"
	for _, path := range fileTree {
		if path == selected || strings.HasPrefix(path, prefix) {
			matched = append(matched, path)
		}
	}
	return matched
}
