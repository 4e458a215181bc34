package ai

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
)

const (
	// DefaultJSONMaxRetries はJSON取得の最大試行回数
	DefaultJSONMaxRetries = 3

	// jsonRetryBackoffStep は試行ごとに加算される待機時間
	jsonRetryBackoffStep = 300 * time.Millisecond
)

// JSONResult はJSONモード呼び出しの結果
type JSONResult struct {
	// Raw はパース済みであることが保証されたJSONバイト列
	Raw json.RawMessage
	// Usage は全試行を合算したトークン使用量
	Usage Usage
}

// SafeJSONChat はJSONモードで補完を要求し、パース可能なJSONが得られるまでリトライする
// maxRetries 回すべて失敗した場合は nil を返す（エラーにはしない）
// 呼び出し側は nil をスコアリング失敗として扱う
func SafeJSONChat(ctx context.Context, client Client, messages []Message, maxRetries int) *JSONResult {
	if maxRetries <= 0 {
		maxRetries = DefaultJSONMaxRetries
	}

	var usage Usage

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			// 線形バックオフ
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Duration(attempt) * jsonRetryBackoffStep):
			}
		}

		resp, err := client.Chat(ctx, Request{
			Messages: messages,
			Params:   Params{JSONOutput: true},
		})
		if err != nil {
			slog.Warn("ai call failed",
				slog.Int("attempt", attempt),
				slog.String("model", client.ModelName()),
				slog.String("error", err.Error()))
			continue
		}

		usage = usage.Add(resp.Usage)

		raw, ok := extractJSON(resp.Content)
		if !ok {
			slog.Warn("ai response is not valid JSON",
				slog.Int("attempt", attempt),
				slog.String("model", client.ModelName()))
			continue
		}

		return &JSONResult{Raw: raw, Usage: usage}
	}

	return nil
}

// extractJSON はレスポンス本文からJSONオブジェクトを取り出す
// コードフェンスで囲まれて返ってくるモデルがあるため、その場合は中身を試す
func extractJSON(content string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(content)

	if raw, ok := tryParse(trimmed); ok {
		return raw, true
	}

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		return tryParse(strings.TrimSpace(trimmed))
	}

	return nil, false
}

// tryParse はJSONオブジェクトのみを受け付ける
// 裸の文字列や数値もJSONとしては妥当だが、呼び出し側の構造体デコードは必ず失敗するため
// ここで弾いてリトライに回す
func tryParse(s string) (json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return json.RawMessage(s), true
}
