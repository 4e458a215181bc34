package chunking

// SendStrategy はファイルごとの送信戦略
type SendStrategy string

const (
	// SendFullFile はファイル全体を単一グループで送る
	SendFullFile SendStrategy = "full_file"
	// SendSingleGroup はチャンクをまとめた単一グループで送る
	SendSingleGroup SendStrategy = "single_group"
	// SendMultipleGroups は複数グループに分けて送る
	SendMultipleGroups SendStrategy = "multiple_groups"
	// SendUnprocessed は送信可能なグループを作れなかったことを表す
	SendUnprocessed SendStrategy = "unprocessed"
)

// ShellContext はサブチャンクを囲む親ノードの外殻テキスト
// 開きテキストと閉じテキストの間にプレースホルダを挟んだ抜粋
type ShellContext struct {
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

// Chunk はAST由来またはフォールバック分割による連続したコード断片
// 行番号は1始まりで両端を含む
type Chunk struct {
	OriginalText string        `json:"original_text"`
	CodeTokens   int           `json:"code_tokens"`
	StartLine    int           `json:"start_line"`
	EndLine      int           `json:"end_line"`
	Type         string        `json:"type"`
	ShellContext *ShellContext `json:"shell_context,omitempty"`
	Oversized    bool          `json:"oversized"`
	SkipReason   string        `json:"skip_reason,omitempty"`
}

// Skipped はスキップ対象のチャンクかどうかを返す
func (c *Chunk) Skipped() bool {
	return c.SkipReason != ""
}

// Active は送信対象（スキップでも超過でもない）かどうかを返す
func (c *Chunk) Active() bool {
	return !c.Skipped() && !c.Oversized
}

// SkippedContent はスキップされたチャンクの記録
type SkippedContent struct {
	Type      string `json:"type"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Reason    string `json:"reason"`
	Tokens    int    `json:"tokens"`
}

// ChunkGroup はトークン予算内にまとめられたチャンクの集まり
// グループ番号はファイル内で1始まり
type ChunkGroup struct {
	ID           int      `json:"id"`
	Chunks       []*Chunk `json:"chunks"`
	CombinedText string   `json:"combined_text"`
	TotalTokens  int      `json:"total_tokens"`
	StartLine    int      `json:"start_line"`
	EndLine      int      `json:"end_line"`
}

// TokenBreakdown はファイル単位のトークン会計
// FinalSent == CodeInGroups + FileHeaderInGroups + ShellContextInGroups + SeparatorInGroups
// が常に成立する（セパレータは差分から導出する）
type TokenBreakdown struct {
	OriginalFile         int     `json:"original_file"`
	CodeInGroups         int     `json:"code_in_groups"`
	FileHeaderInGroups   int     `json:"file_header_in_groups"`
	ShellContextInGroups int     `json:"shell_context_in_groups"`
	SeparatorInGroups    int     `json:"separator_in_groups"`
	FinalSent            int     `json:"final_sent"`
	TotalSavings         int     `json:"total_savings"`
	SavingsPercentage    float64 `json:"savings_percentage"`
}

// FileChunkGroup はチャンカーの最終出力
// 発行後は不変として扱う
type FileChunkGroup struct {
	FilePath        string           `json:"file_path"`
	TotalFileTokens int              `json:"total_file_tokens"`
	Chunks          []*Chunk         `json:"chunks"`
	GroupedChunks   []*ChunkGroup    `json:"grouped_chunks"`
	OversizedChunks []*Chunk         `json:"oversized_chunks"`
	SendStrategy    SendStrategy     `json:"send_strategy"`
	FinalTokenCount int              `json:"final_token_count"`
	SkippedContent  []SkippedContent `json:"skipped_content"`
	ContextHeader   string           `json:"context_header"`
	TokenBreakdown  TokenBreakdown   `json:"token_breakdown"`
}
