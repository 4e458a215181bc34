package chunking

import (
	"fmt"
	"sort"
	"strings"
)

// 組み立てに使う固定マーカー
// TokenBreakdown のセパレータトークンを差分から正確に導出するため、すべて定数で持つ
const (
	headerDivider    = "// ---"
	shellPlaceholder = "// ... chunk omitted ..."
	endOfSubChunks   = "// --- end of sub-chunks ---"
)

// Options はチャンカーのトークン予算
type Options struct {
	MaxTokensPerChunk int
	MaxTokensPerGroup int
	MaxContextTokens  int
	ContextItemLimit  int
}

// Chunker はソースファイルを言語境界に沿って分割し、送信単位へまとめる
type Chunker struct {
	registry *Registry
	opts     Options
	count    func(string) int
}

// NewChunker は新しい Chunker を作成する
func NewChunker(registry *Registry, opts Options, count func(string) int) *Chunker {
	return &Chunker{
		registry: registry,
		opts:     opts,
		count:    count,
	}
}

// ChunkFile はファイルを分割して FileChunkGroup を生成する
// 構文解析に失敗した場合は ErrParse を返す（呼び出し側でスキップ扱い）
func (c *Chunker) ChunkFile(code, path string) (*FileChunkGroup, error) {
	strategy := c.registry.Lookup(path, []byte(code))

	tree, err := strategy.Parse(code)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk %s: %w", path, err)
	}
	defer tree.Close()

	header := c.buildHeader(path, strategy.HeaderText(tree, code))
	headerTokens := c.count(header)
	totalFileTokens := c.count(code)

	chunks := c.buildChunks(strategy, tree, code)

	// スキップ判定（超過チャンクと合成シェルは対象外）
	var skipped []SkippedContent
	for _, chunk := range chunks {
		if chunk.Oversized || chunk.Type == "shell" {
			continue
		}
		if reason := strategy.ShouldSkip(chunk); reason != "" {
			chunk.SkipReason = reason
			skipped = append(skipped, SkippedContent{
				Type:      chunk.Type,
				StartLine: chunk.StartLine,
				EndLine:   chunk.EndLine,
				Reason:    reason,
				Tokens:    chunk.CodeTokens,
			})
		}
	}

	var oversized []*Chunk
	for _, chunk := range chunks {
		if chunk.Oversized {
			oversized = append(oversized, chunk)
		}
	}

	result := &FileChunkGroup{
		FilePath:        path,
		TotalFileTokens: totalFileTokens,
		Chunks:          chunks,
		OversizedChunks: oversized,
		SkippedContent:  skipped,
		ContextHeader:   header,
	}

	// ファイル全体がグループ予算に収まるなら分割せず丸ごと送る
	if totalFileTokens+headerTokens <= c.opts.MaxTokensPerGroup && len(oversized) == 0 {
		c.finishFullFile(result, code, header)
		return result, nil
	}

	groups := c.buildGroups(chunks, header, headerTokens)
	result.GroupedChunks = groups

	switch len(groups) {
	case 0:
		result.SendStrategy = SendUnprocessed
	case 1:
		result.SendStrategy = SendSingleGroup
	default:
		result.SendStrategy = SendMultipleGroups
	}

	c.finishBreakdown(result, headerTokens)
	return result, nil
}

// buildHeader はコンテキストヘッダを組み立てる
// 項目数を上限で絞ったうえで、トークン上限に収まるまで末尾の行を落とす
func (c *Chunker) buildHeader(path string, items []string) string {
	if len(items) > c.opts.ContextItemLimit {
		items = items[:c.opts.ContextItemLimit]
	}

	lines := []string{fmt.Sprintf("// File: %s", path), headerDivider}
	for _, item := range items {
		lines = append(lines, strings.Split(item, "\n")...)
	}

	header := strings.Join(lines, "\n") + "\n"
	for c.count(header) > c.opts.MaxContextTokens && len(lines) > 1 {
		lines = lines[:len(lines)-1]
		header = strings.Join(lines, "\n") + "\n"
	}

	return header
}

// buildChunks はトップレベルノードからチャンク列を構築する
func (c *Chunker) buildChunks(strategy LanguageStrategy, tree *Tree, code string) []*Chunk {
	var chunks []*Chunk

	for _, node := range strategy.TopLevelNodes(tree, code) {
		nodeTokens := c.count(node.Text)
		if nodeTokens <= c.opts.MaxTokensPerChunk {
			chunks = append(chunks, &Chunk{
				OriginalText: node.Text,
				CodeTokens:   nodeTokens,
				StartLine:    node.StartLine,
				EndLine:      node.EndLine,
				Type:         node.Type,
			})
			continue
		}

		subs := strategy.SubNodes(node)
		if len(subs) == 0 {
			// ASTで分割できないノードは行単位のフォールバックで割る
			chunks = append(chunks, strategy.FallbackSplit(node, code, c.opts.MaxTokensPerChunk, c.count)...)
			continue
		}

		shell := c.buildShellContext(node, subs, code)
		for _, sub := range subs {
			subTokens := c.count(sub.Text)
			chunks = append(chunks, &Chunk{
				OriginalText: sub.Text,
				CodeTokens:   subTokens,
				StartLine:    sub.StartLine,
				EndLine:      sub.EndLine,
				Type:         sub.Type,
				ShellContext: shell,
				Oversized:    subTokens > c.opts.MaxTokensPerChunk,
			})
		}
	}

	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].StartLine < chunks[j].StartLine })

	return chunks
}

// buildShellContext は親ノードの外殻（開きと閉じ）をプレースホルダ付きで切り出す
// 同じ親のサブチャンクはこの ShellContext を共有する
func (c *Chunker) buildShellContext(node Node, subs []Node, code string) *ShellContext {
	opening := code[node.StartByte:subs[0].StartByte]
	closing := code[subs[len(subs)-1].EndByte:node.EndByte]

	text := strings.TrimSpace(opening) + "\n" + shellPlaceholder + "\n" + strings.TrimSpace(closing)

	return &ShellContext{
		Text:   text,
		Tokens: c.count(text),
	}
}

// finishFullFile は full_file 戦略の単一グループを構築する
func (c *Chunker) finishFullFile(result *FileChunkGroup, code, header string) {
	endLine := strings.Count(code, "\n") + 1
	if strings.HasSuffix(code, "\n") && endLine > 1 {
		endLine--
	}

	combined := header + code
	group := &ChunkGroup{
		ID: 1,
		Chunks: []*Chunk{{
			OriginalText: code,
			CodeTokens:   result.TotalFileTokens,
			StartLine:    1,
			EndLine:      endLine,
			Type:         "full_file",
		}},
		CombinedText: combined,
		TotalTokens:  c.count(combined),
		StartLine:    1,
		EndLine:      endLine,
	}

	result.SendStrategy = SendFullFile
	result.GroupedChunks = []*ChunkGroup{group}
	c.finishBreakdown(result, c.count(header))
}

// separatorFor はチャンク前に挿入するセパレータ行を返す
func separatorFor(chunk *Chunk) string {
	return fmt.Sprintf("\n// --- lines %d-%d (%s) ---\n", chunk.StartLine, chunk.EndLine, chunk.Type)
}

// buildGroups は送信対象チャンクを貪欲法でグループ予算に詰める
// 走査カウンタにはコード本体に加えてセパレータとシェル再掲分を含める
func (c *Chunker) buildGroups(chunks []*Chunk, header string, headerTokens int) []*ChunkGroup {
	budget := c.opts.MaxTokensPerGroup - headerTokens

	var groups []*ChunkGroup
	var current []*Chunk
	currentTokens := 0
	var currentShell *ShellContext

	flush := func() {
		if len(current) == 0 {
			return
		}
		groups = append(groups, c.assembleGroup(len(groups)+1, current, header))
		current = nil
		currentTokens = 0
		currentShell = nil
	}

	for _, chunk := range chunks {
		if !chunk.Active() {
			continue
		}

		// シェルに入るチャンクは閉じマーカー分も前払いで数える
		// （シェルはグループ末尾か次のシェル遷移で必ず一度閉じられる）
		cost := chunk.CodeTokens + c.count(separatorFor(chunk))
		if chunk.ShellContext != nil && chunk.ShellContext != currentShell {
			cost += chunk.ShellContext.Tokens + c.count(endOfSubChunks+"\n")
		}

		if len(current) > 0 && currentTokens+cost > budget {
			flush()
			// 新しいグループではシェルコンテキストを再掲する
			cost = chunk.CodeTokens + c.count(separatorFor(chunk))
			if chunk.ShellContext != nil {
				cost += chunk.ShellContext.Tokens + c.count(endOfSubChunks+"\n")
			}
		}

		current = append(current, chunk)
		currentTokens += cost
		currentShell = chunk.ShellContext
	}
	flush()

	return groups
}

// assembleGroup はグループの結合テキストを確定する
// シェルコンテキストの出入りでマーカーを挿入し、最終テキストを一度だけトークン化する
func (c *Chunker) assembleGroup(id int, chunks []*Chunk, header string) *ChunkGroup {
	var b strings.Builder
	b.WriteString(header)

	var currentShell *ShellContext
	startLine := chunks[0].StartLine
	endLine := chunks[0].EndLine

	for _, chunk := range chunks {
		if chunk.StartLine < startLine {
			startLine = chunk.StartLine
		}
		if chunk.EndLine > endLine {
			endLine = chunk.EndLine
		}

		if chunk.ShellContext != currentShell {
			if currentShell != nil {
				b.WriteString(endOfSubChunks + "\n")
			}
			if chunk.ShellContext != nil {
				b.WriteString(chunk.ShellContext.Text + "\n")
			}
			currentShell = chunk.ShellContext
		}

		b.WriteString(separatorFor(chunk))
		b.WriteString(chunk.OriginalText + "\n")
	}
	if currentShell != nil {
		b.WriteString(endOfSubChunks + "\n")
	}

	combined := b.String()

	return &ChunkGroup{
		ID:           id,
		Chunks:       chunks,
		CombinedText: combined,
		TotalTokens:  c.count(combined),
		StartLine:    startLine,
		EndLine:      endLine,
	}
}

// finishBreakdown はトークン会計を確定する
// セパレータ分は差分から導出し、合計が必ず一致するようにする
func (c *Chunker) finishBreakdown(result *FileChunkGroup, headerTokens int) {
	finalSent := 0
	codeInGroups := 0
	shellInGroups := 0

	for _, group := range result.GroupedChunks {
		finalSent += group.TotalTokens

		seen := make(map[*ShellContext]bool)
		for _, chunk := range group.Chunks {
			codeInGroups += chunk.CodeTokens
			if chunk.ShellContext != nil && !seen[chunk.ShellContext] {
				seen[chunk.ShellContext] = true
				shellInGroups += chunk.ShellContext.Tokens
			}
		}
	}

	headerInGroups := len(result.GroupedChunks) * headerTokens

	result.FinalTokenCount = finalSent
	result.TokenBreakdown = TokenBreakdown{
		OriginalFile:         result.TotalFileTokens,
		CodeInGroups:         codeInGroups,
		FileHeaderInGroups:   headerInGroups,
		ShellContextInGroups: shellInGroups,
		SeparatorInGroups:    finalSent - codeInGroups - headerInGroups - shellInGroups,
		FinalSent:            finalSent,
		TotalSavings:         result.TotalFileTokens - finalSent,
	}
	if result.TotalFileTokens > 0 {
		result.TokenBreakdown.SavingsPercentage =
			float64(result.TokenBreakdown.TotalSavings) / float64(result.TotalFileTokens)
	}
}
