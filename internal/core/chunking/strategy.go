package chunking

import (
	"fmt"
	"strings"

	sitter "github.com/alexaandru/go-tree-sitter-bare"
)

// Node は戦略が列挙する独立単位（クラス・関数・コントラクト等）
// 構造化戦略では tree-sitter ノードへの参照を保持する
type Node struct {
	Type      string
	Text      string
	StartLine int // 1始まり
	EndLine   int // 1始まり・終端を含む
	StartByte int
	EndByte   int

	ts    sitter.Node
	src   string
	hasTS bool
}

// Tree は構文木
// 宣言型・簡易テキスト戦略では空の木（ts == nil）を返す
type Tree struct {
	ts   *sitter.Tree
	code string
}

// Close は構文木のリソースを解放する
func (t *Tree) Close() {
	if t != nil && t.ts != nil {
		t.ts.Close()
	}
}

// LanguageStrategy はファイル種別ごとのチャンク化能力の集合
type LanguageStrategy interface {
	// Name は戦略名を返す
	Name() string

	// Parse はコードを解析して構文木を返す
	Parse(code string) (*Tree, error)

	// TopLevelNodes はファイルの独立単位を出現順で返す
	TopLevelNodes(tree *Tree, code string) []Node

	// SubNodes はノード本体の中の独立サブ単位を出現順で返す
	SubNodes(node Node) []Node

	// HeaderText はファイルの文脈となるヘッダ行（import・pragma・小さな型定義など）を返す
	HeaderText(tree *Tree, code string) []string

	// ShouldSkip は低シグナルなチャンクのスキップ理由を返す（空文字列は送信対象）
	ShouldSkip(chunk *Chunk) string

	// FallbackSplit はASTで分割できない巨大ノードを行単位で分割する
	FallbackSplit(node Node, code string, maxTokens int, count func(string) int) []*Chunk
}

// fallbackSplitLines は行を累積しながらトークン上限ごとに区切る共通実装
// 生成されるパートは `<元ノード種別>_part_<n>` という種別を持ち、超過扱いにはしない
func fallbackSplitLines(node Node, maxTokens int, count func(string) int) []*Chunk {
	lines := strings.Split(node.Text, "\n")

	var chunks []*Chunk
	var buf []string
	bufTokens := 0
	startLine := node.StartLine
	part := 1

	flush := func(endLine int) {
		if len(buf) == 0 {
			return
		}
		text := strings.Join(buf, "\n")
		chunks = append(chunks, &Chunk{
			OriginalText: text,
			CodeTokens:   count(text),
			StartLine:    startLine,
			EndLine:      endLine,
			Type:         fmt.Sprintf("%s_part_%d", node.Type, part),
			Oversized:    false,
		})
		part++
		buf = nil
		bufTokens = 0
	}

	for i, line := range lines {
		lineTokens := count(line)
		if len(buf) > 0 && bufTokens+lineTokens > maxTokens {
			flush(node.StartLine + i - 1)
			startLine = node.StartLine + i
		}
		buf = append(buf, line)
		bufTokens += lineTokens
	}
	flush(node.EndLine)

	return chunks
}

// commentRatio はコメント行の比率を概算する
// 言語戦略の低シグナル判定（boilerplate threshold）に使う
func commentRatio(text string) float64 {
	lines := strings.Split(text, "\n")

	var total, comment int
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		total++

		switch {
		case inBlock:
			comment++
			if strings.Contains(trimmed, "*/") {
				inBlock = false
			}
		case strings.HasPrefix(trimmed, "//"):
			comment++
		case strings.HasPrefix(trimmed, "/*"):
			comment++
			if !strings.Contains(trimmed, "*/") {
				inBlock = true
			}
		}
	}

	if total == 0 {
		return 0
	}
	return float64(comment) / float64(total)
}
