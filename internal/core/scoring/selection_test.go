package scoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSelectorSelect は2段階選定の基本フローを確認します
func TestSelectorSelect(t *testing.T) {
	client := &mockClient{
		responses: []string{
			`{"project_essence": "a web api", "primary_domain": "web backend", "primary_stack": ["typescript"], "core_concepts": ["rest"]}`,
			`{"selected_paths": ["src/index.ts", "src/lib", "vendor/dep.ts # vendored copy of dep", "missing/file.ts"]}`,
		},
	}
	selector := NewSelector(client, 3)

	fileTree := []string{
		"src/index.ts",
		"src/lib/a.ts",
		"src/lib/b.ts",
		"src/libextra/c.ts",
		"vendor/dep.ts",
	}

	result, err := selector.Select(context.Background(), "demo-repo", "readme text", fileTree)
	require.NoError(t, err)

	assert.Equal(t, "web backend", result.ProjectContext.PrimaryDomain)

	// ディレクトリはパス区切り付き前方一致で展開され、前方一致だけの別パスは含まれない
	assert.Equal(t, []string{"src/index.ts", "src/lib/a.ts", "src/lib/b.ts"}, result.SelectedFiles)

	require.Len(t, result.FlaggedPaths, 1)
	assert.Equal(t, "vendor/dep.ts", result.FlaggedPaths[0].Path)
	assert.Equal(t, "vendored copy of dep", result.FlaggedPaths[0].Reason)

	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "missing/file.ts")

	// 使用量は両ステージの合算
	assert.Equal(t, 300, result.Usage.TotalTokens)
}

// TestSelectorSelectEmpty は選定結果が空のときのエラーを確認します
func TestSelectorSelectEmpty(t *testing.T) {
	client := &mockClient{
		responses: []string{
			`{"project_essence": "x", "primary_domain": "y", "primary_stack": [], "core_concepts": []}`,
			`{"selected_paths": ["nothing/here.ts"]}`,
		},
	}
	selector := NewSelector(client, 3)

	_, err := selector.Select(context.Background(), "demo", "", []string{"src/a.ts"})
	assert.ErrorIs(t, err, ErrNoFilesSelected)
}

// TestSplitFlaggedLine はフラグ行の分解を確認します
func TestSplitFlaggedLine(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantPath   string
		wantReason string
		wantOK     bool
	}{
		{
			name:       "フラグ行",
			line:       "vendor/lib # generated bundle",
			wantPath:   "vendor/lib",
			wantReason: "generated bundle",
			wantOK:     true,
		},
		{
			name:   "通常のパス",
			line:   "src/index.ts",
			wantOK: false,
		},
		{
			name:   "理由なし",
			line:   "vendor/lib # ",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, reason, ok := splitFlaggedLine(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantPath, path)
				assert.Equal(t, tt.wantReason, reason)
			}
		})
	}
}

// TestExpandPath はパス解決の完全一致と前方一致を確認します
func TestExpandPath(t *testing.T) {
	tree := []string{"src/a.ts", "src/ab.ts", "src/a/b.ts", "docs/readme.md"}

	assert.Equal(t, []string{"src/a/b.ts"}, expandPath("src/a", tree))
	assert.Equal(t, []string{"src/a/b.ts"}, expandPath("src/a/", tree))
	assert.Equal(t, []string{"docs/readme.md"}, expandPath("docs/readme.md", tree))
	assert.Empty(t, expandPath("lib", tree))
}
