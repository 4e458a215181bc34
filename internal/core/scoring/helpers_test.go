package scoring

import (
	"context"
	"fmt"

	"github.com/jinford/repo-scorecard/internal/core/ai"
	"github.com/jinford/repo-scorecard/internal/core/chunking"
)

// mockClient は呼び出しごとに用意したレスポンスを順に返すテスト用クライアント
type mockClient struct {
	responses []string
	errs      []error
	usages    []ai.Usage
	calls     []ai.Request
	model     string
}

func (m *mockClient) Chat(_ context.Context, req ai.Request) (*ai.Response, error) {
	idx := len(m.calls)
	m.calls = append(m.calls, req)

	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx >= len(m.responses) {
		return nil, fmt.Errorf("%w: unexpected call %d", ai.ErrProvider, idx)
	}

	usage := ai.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}
	if idx < len(m.usages) {
		usage = m.usages[idx]
	}
	return &ai.Response{Content: m.responses[idx], Usage: usage}, nil
}

func (m *mockClient) ModelName() string {
	if m.model == "" {
		return "mock-model"
	}
	return m.model
}

var _ ai.Client = (*mockClient)(nil)

// singleGroupFile は1グループだけ持つチャンク化結果のフィクスチャを作る
func singleGroupFile(path string, strategy chunking.SendStrategy, finalTokens int) *chunking.FileChunkGroup {
	return &chunking.FileChunkGroup{
		FilePath:        path,
		TotalFileTokens: finalTokens,
		SendStrategy:    strategy,
		FinalTokenCount: finalTokens,
		GroupedChunks: []*chunking.ChunkGroup{{
			ID:           1,
			CombinedText: "// File: " + path + "\ncode body of " + path,
			TotalTokens:  finalTokens,
		}},
	}
}

// multiGroupFile は複数グループを持つチャンク化結果のフィクスチャを作る
func multiGroupFile(path string, groupTokens ...int) *chunking.FileChunkGroup {
	file := &chunking.FileChunkGroup{
		FilePath:     path,
		SendStrategy: chunking.SendMultipleGroups,
	}
	for i, tokens := range groupTokens {
		file.GroupedChunks = append(file.GroupedChunks, &chunking.ChunkGroup{
			ID:           i + 1,
			CombinedText: fmt.Sprintf("// File: %s\ngroup %d body", path, i+1),
			TotalTokens:  tokens,
		})
		file.TotalFileTokens += tokens
		file.FinalTokenCount += tokens
	}
	return file
}

// scoreJSON は採点レスポンスのJSONを組み立てる
func scoreJSON(complexity, quality, maintainability, bestPractices float64, summary string) string {
	return fmt.Sprintf(
		`{"complexity": %g, "code_quality": %g, "maintainability": %g, "best_practices": %g, "group_summary": %q}`,
		complexity, quality, maintainability, bestPractices, summary)
}
