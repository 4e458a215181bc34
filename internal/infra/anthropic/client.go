package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jinford/repo-scorecard/internal/core/ai"
)

const (
	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 45 * time.Second

	// DefaultMaxTokens はレスポンスの最大トークン数（Messages APIでは必須パラメータ）
	DefaultMaxTokens = 4096

	apiURL     = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"

	// jsonInstruction はJSONモード相当の挙動を指示するシステムプロンプト
	// Messages API にはレスポンス形式パラメータがないため指示で代替する
	jsonInstruction = "Respond with a single valid JSON object and nothing else. No prose, no code fences."
)

// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
var ErrAPIKeyNotSet = errors.New("Anthropic API key not set: please set ANTHROPIC_API_KEY environment variable")

// Client は Anthropic Messages API を使用した ai.Client 実装
type Client struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewClient はAPIキーとモデルを指定して Client を作成する
func NewClient(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		apiKey:     apiKey,
		model:      model,
		baseURL:    apiURL,
	}, nil
}

// SetTimeout はAPIコールのタイムアウトを設定する
func (c *Client) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.httpClient.Timeout = timeout
	}
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

type messageParam struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	System      string         `json:"system,omitempty"`
	Messages    []messageParam `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Chat は Anthropic Messages API でチャット補完を生成する
func (c *Client) Chat(ctx context.Context, req ai.Request) (*ai.Response, error) {
	body := messagesRequest{
		Model:       c.model,
		MaxTokens:   DefaultMaxTokens,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
	}
	if req.Params.MaxTokens > 0 {
		body.MaxTokens = req.Params.MaxTokens
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == ai.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		body.Messages = append(body.Messages, messageParam{Role: "user", Content: m.Content})
	}
	if req.Params.JSONOutput {
		system = append(system, jsonInstruction)
	}
	body.System = strings.Join(system, "\n\n")

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ai.ErrTransport, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %w", ai.ErrTransport, err)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %w", ai.ErrProvider, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		msg := httpResp.Status
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%w: status %d: %s", ai.ErrProvider, httpResp.StatusCode, msg)
	}

	var content strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return nil, fmt.Errorf("%w: empty completion", ai.ErrProvider)
	}

	return &ai.Response{
		Content: content.String(),
		Usage: ai.Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil
}

// インターフェース実装の確認
var _ ai.Client = (*Client)(nil)
