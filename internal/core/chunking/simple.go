package chunking

import "strings"

// declarativeStrategy は単一アトムとして扱う宣言的ファイル（JSON・YAML等）用の戦略
// 構文木は空で、ファイル全体を1つの擬似ノードとして返す
type declarativeStrategy struct{}

// NewDeclarativeStrategy は宣言的ファイル用の戦略を作成する
func NewDeclarativeStrategy() LanguageStrategy {
	return &declarativeStrategy{}
}

func (s *declarativeStrategy) Name() string { return "declarative" }

func (s *declarativeStrategy) Parse(_ string) (*Tree, error) {
	return &Tree{}, nil
}

func (s *declarativeStrategy) TopLevelNodes(_ *Tree, code string) []Node {
	return []Node{wholeFileNode(code, "document")}
}

func (s *declarativeStrategy) SubNodes(_ Node) []Node { return nil }

func (s *declarativeStrategy) HeaderText(_ *Tree, _ string) []string { return nil }

func (s *declarativeStrategy) ShouldSkip(_ *Chunk) string { return "" }

func (s *declarativeStrategy) FallbackSplit(node Node, _ string, maxTokens int, count func(string) int) []*Chunk {
	return fallbackSplitLines(node, maxTokens, count)
}

// simpleTextStrategy は未対応ファイル用のフォールバック戦略
type simpleTextStrategy struct{}

// NewSimpleTextStrategy は簡易テキスト戦略を作成する
func NewSimpleTextStrategy() LanguageStrategy {
	return &simpleTextStrategy{}
}

func (s *simpleTextStrategy) Name() string { return "simple_text" }

func (s *simpleTextStrategy) Parse(_ string) (*Tree, error) {
	return &Tree{}, nil
}

func (s *simpleTextStrategy) TopLevelNodes(_ *Tree, code string) []Node {
	return []Node{wholeFileNode(code, "text")}
}

func (s *simpleTextStrategy) SubNodes(_ Node) []Node { return nil }

func (s *simpleTextStrategy) HeaderText(_ *Tree, _ string) []string { return nil }

func (s *simpleTextStrategy) ShouldSkip(_ *Chunk) string { return "" }

func (s *simpleTextStrategy) FallbackSplit(node Node, _ string, maxTokens int, count func(string) int) []*Chunk {
	return fallbackSplitLines(node, maxTokens, count)
}

// wholeFileNode はファイル全体を覆う擬似ノードを作る
func wholeFileNode(code, typ string) Node {
	endLine := strings.Count(code, "\n") + 1
	if strings.HasSuffix(code, "\n") && endLine > 1 {
		endLine--
	}
	return Node{
		Type:      typ,
		Text:      code,
		StartLine: 1,
		EndLine:   endLine,
		StartByte: 0,
		EndByte:   len(code),
	}
}
