package ai

import (
	"context"
	"errors"
)

var (
	// ErrTransport はネットワーク・トランスポート層の失敗を表す
	ErrTransport = errors.New("ai transport error")

	// ErrProvider はプロバイダからの不正なレスポンスを表す
	ErrProvider = errors.New("ai provider error")
)

// Role はチャットメッセージの役割
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message はチャットメッセージ
type Message struct {
	Role    Role
	Content string
}

// Params は生成パラメータ
type Params struct {
	// JSONOutput はJSONモード（JSONオブジェクトのみを返すよう要求）を有効にする
	JSONOutput bool

	// Temperature は生成の多様性を制御する (nil の場合はプロバイダのデフォルト)
	Temperature *float64

	// TopP は nucleus sampling のパラメータ (nil の場合はプロバイダのデフォルト)
	TopP *float64

	// MaxTokens は生成する最大トークン数 (0 の場合はプロバイダのデフォルト)
	MaxTokens int
}

// Request はチャット補完リクエスト
type Request struct {
	Messages []Message
	Params   Params
}

// Usage はトークン使用量を表す
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add は使用量を加算した新しい Usage を返す
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// Response はチャット補完レスポンス
type Response struct {
	Content string
	Usage   Usage
}

// Client はチャット補完を提供するプロバイダ非依存のインターフェース
type Client interface {
	// Chat はメッセージ列から補完を生成する
	Chat(ctx context.Context, req Request) (*Response, error)

	// ModelName は使用中のモデル名を返す
	ModelName() string
}
