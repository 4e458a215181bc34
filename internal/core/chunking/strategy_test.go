package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCommentRatio はコメント行比率の概算を確認します
func TestCommentRatio(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{
			name: "コメントなし",
			text: "const a = 1\nconst b = 2",
			want: 0,
		},
		{
			name: "行コメント半分",
			text: "// comment\nconst a = 1",
			want: 0.5,
		},
		{
			name: "ブロックコメント複数行",
			text: "/*\n * docs\n */\nconst a = 1",
			want: 0.75,
		},
		{
			name: "一行ブロックコメント",
			text: "/* inline */\nconst a = 1\nconst b = 2",
			want: 1.0 / 3.0,
		},
		{
			name: "空行は無視",
			text: "// comment\n\n\nconst a = 1",
			want: 0.5,
		},
		{
			name: "空テキスト",
			text: "",
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, commentRatio(tt.text), 1e-9)
		})
	}
}

// TestHeaderSized はヘッダ項目サイズ判定を確認します
func TestHeaderSized(t *testing.T) {
	assert.True(t, headerSized("import { foo } from './bar'"))
	assert.False(t, headerSized(strings.Repeat("x", 200)))
}

// TestIsEmptyBody は空ボディ判定を確認します
func TestIsEmptyBody(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{
			name: "空インターフェース",
			text: "interface Marker {}",
			want: true,
		},
		{
			name: "空白とタブのみ",
			text: "interface Marker {\n\t\n}",
			want: true,
		},
		{
			name: "メンバーあり",
			text: "interface Props { id: string }",
			want: false,
		},
		{
			name: "波括弧なし",
			text: "type A = string",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isEmptyBody(tt.text))
		})
	}
}

// TestFallbackSplitSingleSmall は上限内のノードが単一パートにまとまることを確認します
func TestFallbackSplitSingleSmall(t *testing.T) {
	node := Node{Type: "document", Text: "one two\nthree four", StartLine: 1, EndLine: 2}

	parts := fallbackSplitLines(node, 100, wordCount)
	assert.Len(t, parts, 1)
	assert.Equal(t, "document_part_1", parts[0].Type)
	assert.Equal(t, node.Text, parts[0].OriginalText)
	assert.Equal(t, 1, parts[0].StartLine)
	assert.Equal(t, 2, parts[0].EndLine)
}

// TestFallbackSplitHugeLine は単一行が上限を超えてもパートとして扱われることを確認します
func TestFallbackSplitHugeLine(t *testing.T) {
	huge := strings.TrimSpace(strings.Repeat("w ", 50))
	node := Node{Type: "text", Text: "small line\n" + huge, StartLine: 1, EndLine: 2}

	parts := fallbackSplitLines(node, 10, wordCount)
	assert.Len(t, parts, 2)
	assert.Equal(t, "small line", parts[0].OriginalText)
	assert.Equal(t, huge, parts[1].OriginalText)
	for _, part := range parts {
		assert.False(t, part.Oversized)
	}
}
