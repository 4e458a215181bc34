package chunking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/alexaandru/go-sitter-forest/javascript"
	"github.com/alexaandru/go-sitter-forest/solidity"
	"github.com/alexaandru/go-sitter-forest/tsx"
	"github.com/alexaandru/go-sitter-forest/typescript"
	sitter "github.com/alexaandru/go-tree-sitter-bare"
)

// ErrParse は構文木の構築失敗を表す
// 呼び出し側はこのファイルをログ付きでスキップする（致命的エラーにはしない）
var ErrParse = errors.New("failed to parse source")

// headerItemMaxTokens はヘッダに採用する1項目あたりのトークン上限（概算）
const headerItemMaxTokens = 40

// languageFuncs は言語名から tree-sitter 文法への対応
var languageFuncs = map[string]func() unsafe.Pointer{
	"typescript": typescript.GetLanguage,
	"tsx":        tsx.GetLanguage,
	"javascript": javascript.GetLanguage,
	"solidity":   solidity.GetLanguage,
}

var languageCache sync.Map

// getLanguage は言語名に対応する tree-sitter Language を返す（未対応は nil）
func getLanguage(name string) *sitter.Language {
	if cached, ok := languageCache.Load(name); ok {
		if lang, castOK := cached.(*sitter.Language); castOK {
			return lang
		}
	}

	fn, ok := languageFuncs[name]
	if !ok {
		return nil
	}

	lang := sitter.NewLanguage(fn())
	languageCache.Store(name, lang)

	return lang
}

// parseWithLanguage は指定言語でコードを解析する
func parseWithLanguage(langName, code string) (*Tree, error) {
	lang := getLanguage(langName)
	if lang == nil {
		return nil, fmt.Errorf("%w: language %q not available", ErrParse, langName)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseString(context.Background(), nil, []byte(code))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	root := tree.RootNode()
	if root.IsNull() {
		tree.Close()
		return nil, fmt.Errorf("%w: no root node", ErrParse)
	}

	return &Tree{ts: tree, code: code}, nil
}

// newTSNode は tree-sitter ノードから Node を構築する
// code はファイル全体のソース（バイトオフセットの基準）
func newTSNode(tsNode sitter.Node, code string) Node {
	start := int(tsNode.StartByte())
	end := int(tsNode.EndByte())
	if end > len(code) {
		end = len(code)
	}

	startLine := int(tsNode.StartPoint().Row) + 1
	endPoint := tsNode.EndPoint()
	endLine := int(endPoint.Row) + 1
	// 終端が次行の先頭（列0）の場合は前の行までを範囲とする
	if endPoint.Column == 0 && endLine > startLine {
		endLine--
	}

	return Node{
		Type:      tsNode.Type(),
		Text:      code[start:end],
		StartLine: startLine,
		EndLine:   endLine,
		StartByte: start,
		EndByte:   end,
		ts:        tsNode,
		src:       code,
		hasTS:     true,
	}
}

// nodeText はノードのソーステキストを取り出す
func nodeText(tsNode sitter.Node, code string) string {
	start := int(tsNode.StartByte())
	end := int(tsNode.EndByte())
	if end > len(code) {
		end = len(code)
	}
	if start > end {
		return ""
	}
	return code[start:end]
}

// --- TypeScript / JavaScript 系戦略 ---

// typescriptStrategy は TypeScript / TSX / JavaScript 系の構造化戦略
// export ラッパは透過的に剥がし、関数値でないトップレベル変数宣言は対象外とする
type typescriptStrategy struct {
	name                 string
	grammar              string
	boilerplateThreshold float64
}

// NewTypeScriptStrategy は TypeScript 用の戦略を作成する
func NewTypeScriptStrategy(boilerplateThreshold float64) LanguageStrategy {
	return &typescriptStrategy{name: "typescript", grammar: "typescript", boilerplateThreshold: boilerplateThreshold}
}

// NewTSXStrategy は TSX 用の戦略を作成する
func NewTSXStrategy(boilerplateThreshold float64) LanguageStrategy {
	return &typescriptStrategy{name: "tsx", grammar: "tsx", boilerplateThreshold: boilerplateThreshold}
}

// NewJavaScriptStrategy は JavaScript / JSX 用の戦略を作成する
func NewJavaScriptStrategy(boilerplateThreshold float64) LanguageStrategy {
	return &typescriptStrategy{name: "javascript", grammar: "javascript", boilerplateThreshold: boilerplateThreshold}
}

func (s *typescriptStrategy) Name() string { return s.name }

func (s *typescriptStrategy) Parse(code string) (*Tree, error) {
	return parseWithLanguage(s.grammar, code)
}

// tsTopLevelExcluded はトップレベル単位として扱わないノード種別
var tsTopLevelExcluded = map[string]bool{
	"import_statement": true,
	"comment":          true,
	"hash_bang_line":   true,
}

func (s *typescriptStrategy) TopLevelNodes(tree *Tree, code string) []Node {
	if tree == nil || tree.ts == nil {
		return nil
	}

	root := tree.ts.RootNode()

	var nodes []Node
	for i := range root.NamedChildCount() {
		child := root.NamedChild(i)
		if child.IsNull() {
			continue
		}

		// export ラッパは透過的に剥がす
		target := child
		if child.Type() == "export_statement" {
			if inner := firstNamedDeclaration(child); !inner.IsNull() {
				target = inner
			}
		}

		typ := target.Type()
		if tsTopLevelExcluded[typ] {
			continue
		}

		// 関数値でないトップレベル変数宣言は対象外
		if typ == "lexical_declaration" || typ == "variable_declaration" {
			if !isFunctionValued(target) {
				continue
			}
		}

		// チャンク範囲は export ラッパを含む全体、種別は中身の宣言を使う
		node := newTSNode(child, code)
		node.Type = typ
		node.ts = target
		nodes = append(nodes, node)
	}

	return nodes
}

// firstNamedDeclaration は export_statement 内の宣言ノードを返す
func firstNamedDeclaration(tsNode sitter.Node) sitter.Node {
	for i := range tsNode.NamedChildCount() {
		child := tsNode.NamedChild(i)
		if child.IsNull() {
			continue
		}
		switch child.Type() {
		case "comment", "export_clause", "string":
			continue
		}
		return child
	}
	return sitter.Node{}
}

// isFunctionValued は変数宣言が関数値（arrow function等）を持つか判定する
func isFunctionValued(tsNode sitter.Node) bool {
	for i := range tsNode.NamedChildCount() {
		child := tsNode.NamedChild(i)
		if child.IsNull() || child.Type() != "variable_declarator" {
			continue
		}
		for j := range child.NamedChildCount() {
			value := child.NamedChild(j)
			if value.IsNull() {
				continue
			}
			switch value.Type() {
			case "arrow_function", "function_expression", "function", "generator_function":
				return true
			}
		}
	}
	return false
}

// tsSubChunkBodies はサブチャンク列挙の対象となる本体ノード種別
var tsSubChunkBodies = map[string]string{
	"class_declaration":              "class_body",
	"abstract_class_declaration":     "class_body",
	"function_declaration":           "statement_block",
	"generator_function_declaration": "statement_block",
}

func (s *typescriptStrategy) SubNodes(node Node) []Node {
	if !node.hasTS {
		return nil
	}

	bodyType, ok := tsSubChunkBodies[node.ts.Type()]
	if !ok {
		return nil
	}

	body := namedChildOfType(node.ts, bodyType)
	if body.IsNull() {
		return nil
	}

	var subs []Node
	for i := range body.NamedChildCount() {
		child := body.NamedChild(i)
		if child.IsNull() || child.Type() == "comment" {
			continue
		}
		subs = append(subs, newTSNode(child, node.src))
	}

	return subs
}

func (s *typescriptStrategy) HeaderText(tree *Tree, code string) []string {
	if tree == nil || tree.ts == nil {
		return nil
	}

	root := tree.ts.RootNode()

	var items []string
	for i := range root.NamedChildCount() {
		child := root.NamedChild(i)
		if child.IsNull() {
			continue
		}

		target := child
		if child.Type() == "export_statement" {
			if inner := firstNamedDeclaration(child); !inner.IsNull() {
				target = inner
			}
		}

		text := nodeText(child, code)
		switch target.Type() {
		case "import_statement":
			items = append(items, text)
		case "type_alias_declaration", "interface_declaration", "enum_declaration":
			if headerSized(text) {
				items = append(items, text)
			}
		case "lexical_declaration", "variable_declaration":
			if !isFunctionValued(target) && headerSized(text) {
				items = append(items, text)
			}
		}
	}

	return items
}

func (s *typescriptStrategy) ShouldSkip(chunk *Chunk) string {
	switch chunk.Type {
	case "type_alias_declaration":
		return "simple type definition"
	case "interface_declaration":
		if isEmptyBody(chunk.OriginalText) {
			return "empty interface"
		}
	}

	if commentRatio(chunk.OriginalText) > s.boilerplateThreshold {
		return "low code-to-comment ratio"
	}

	return ""
}

func (s *typescriptStrategy) FallbackSplit(node Node, _ string, maxTokens int, count func(string) int) []*Chunk {
	return fallbackSplitLines(node, maxTokens, count)
}

// --- Solidity 戦略 ---

// solidityStrategy は Solidity の構造化戦略
type solidityStrategy struct {
	boilerplateThreshold float64
}

// NewSolidityStrategy は Solidity 用の戦略を作成する
func NewSolidityStrategy(boilerplateThreshold float64) LanguageStrategy {
	return &solidityStrategy{boilerplateThreshold: boilerplateThreshold}
}

func (s *solidityStrategy) Name() string { return "solidity" }

func (s *solidityStrategy) Parse(code string) (*Tree, error) {
	return parseWithLanguage("solidity", code)
}

// solHeaderTypes はヘッダへ送るノード種別（pragma・import）
var solHeaderTypes = map[string]bool{
	"pragma_directive": true,
	"import_directive": true,
}

func (s *solidityStrategy) TopLevelNodes(tree *Tree, code string) []Node {
	if tree == nil || tree.ts == nil {
		return nil
	}

	root := tree.ts.RootNode()

	var nodes []Node
	for i := range root.NamedChildCount() {
		child := root.NamedChild(i)
		if child.IsNull() {
			continue
		}
		typ := child.Type()
		if solHeaderTypes[typ] || typ == "comment" {
			continue
		}
		nodes = append(nodes, newTSNode(child, code))
	}

	return nodes
}

func (s *solidityStrategy) SubNodes(node Node) []Node {
	if !node.hasTS {
		return nil
	}

	switch node.ts.Type() {
	case "contract_declaration", "interface_declaration", "library_declaration":
	default:
		return nil
	}

	body := namedChildOfType(node.ts, "contract_body")
	if body.IsNull() {
		return nil
	}

	var subs []Node
	for i := range body.NamedChildCount() {
		child := body.NamedChild(i)
		if child.IsNull() || child.Type() == "comment" {
			continue
		}
		subs = append(subs, newTSNode(child, node.src))
	}

	return subs
}

func (s *solidityStrategy) HeaderText(tree *Tree, code string) []string {
	if tree == nil || tree.ts == nil {
		return nil
	}

	root := tree.ts.RootNode()

	var items []string
	for i := range root.NamedChildCount() {
		child := root.NamedChild(i)
		if child.IsNull() {
			continue
		}
		if solHeaderTypes[child.Type()] {
			items = append(items, nodeText(child, code))
		}
	}

	return items
}

func (s *solidityStrategy) ShouldSkip(chunk *Chunk) string {
	switch chunk.Type {
	case "event_definition":
		return "trivial event"
	case "interface_declaration":
		if isEmptyBody(chunk.OriginalText) {
			return "empty interface"
		}
	}

	if commentRatio(chunk.OriginalText) > s.boilerplateThreshold {
		return "low code-to-comment ratio"
	}

	return ""
}

func (s *solidityStrategy) FallbackSplit(node Node, _ string, maxTokens int, count func(string) int) []*Chunk {
	return fallbackSplitLines(node, maxTokens, count)
}

// --- 共通ヘルパ ---

// namedChildOfType は指定種別の最初の名前付き子ノードを返す
func namedChildOfType(tsNode sitter.Node, typ string) sitter.Node {
	for i := range tsNode.NamedChildCount() {
		child := tsNode.NamedChild(i)
		if !child.IsNull() && child.Type() == typ {
			return child
		}
	}
	return sitter.Node{}
}

// headerSized はヘッダ項目として十分小さいか判定する
// トークナイザに依存せず概算（3文字≒1トークン）で判定する
func headerSized(text string) bool {
	return len([]rune(text))/3 <= headerItemMaxTokens
}

// isEmptyBody は本体 {} が空かどうかを判定する
func isEmptyBody(text string) bool {
	open := strings.Index(text, "{")
	closeIdx := strings.LastIndex(text, "}")
	if open == -1 || closeIdx == -1 || closeIdx < open {
		return false
	}
	return strings.TrimSpace(text[open+1:closeIdx]) == ""
}
