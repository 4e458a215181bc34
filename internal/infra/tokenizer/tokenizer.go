package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName は使用するエンコーディング名
// トークン数はシステム全体のコスト指標としてのみ使われるため、
// 特定ベンダーのカウントとの完全一致は求めない
const encodingName = "cl100k_base"

var (
	mu       sync.RWMutex
	encoding *tiktoken.Tiktoken
)

// Init はプロセス単位のエンコーダを初期化する
// 既に初期化済みの場合は何もしない
func Init() error {
	mu.Lock()
	defer mu.Unlock()

	if encoding != nil {
		return nil
	}

	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	encoding = enc

	return nil
}

// Close はエンコーダを破棄する
func Close() {
	mu.Lock()
	defer mu.Unlock()
	encoding = nil
}

// Count はテキストのトークン数をカウントする
// 未初期化の場合は0を返す
func Count(text string) int {
	mu.RLock()
	defer mu.RUnlock()

	if encoding == nil || text == "" {
		return 0
	}
	return len(encoding.Encode(text, nil, nil))
}

// CountFunc は Count への参照を返す
// 戦略やテストからトークンカウンタを注入するために使う
func CountFunc() func(string) int {
	return Count
}
