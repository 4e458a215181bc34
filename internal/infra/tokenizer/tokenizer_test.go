package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCountBeforeInit は未初期化時に0を返すことを確認します
func TestCountBeforeInit(t *testing.T) {
	Close()
	assert.Equal(t, 0, Count("hello world"))
}

// TestCount は初期化後のトークンカウントを確認します
func TestCount(t *testing.T) {
	require.NoError(t, Init())
	t.Cleanup(Close)

	tests := []struct {
		name     string
		text     string
		minToken int
		maxToken int
	}{
		{
			name:     "空文字列",
			text:     "",
			minToken: 0,
			maxToken: 0,
		},
		{
			name:     "英語のシンプルなテキスト",
			text:     "Hello, world!",
			minToken: 1,
			maxToken: 10,
		},
		{
			name:     "ソースコード片",
			text:     "function add(a, b) { return a + b; }",
			minToken: 5,
			maxToken: 30,
		},
		{
			name:     "長い英語テキスト",
			text:     strings.Repeat("This is a test sentence. ", 10),
			minToken: 40,
			maxToken: 70,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Count(tt.text)
			assert.GreaterOrEqual(t, got, tt.minToken)
			assert.LessOrEqual(t, got, tt.maxToken)
		})
	}
}

// TestCountDeterministic は同一入力で同じカウントを返すことを確認します
func TestCountDeterministic(t *testing.T) {
	require.NoError(t, Init())
	t.Cleanup(Close)

	text := "const x = compute(input) // some deterministic text"
	first := Count(text)
	for range 5 {
		assert.Equal(t, first, Count(text))
	}
}

// TestInitIdempotent は多重初期化が安全であることを確認します
func TestInitIdempotent(t *testing.T) {
	require.NoError(t, Init())
	require.NoError(t, Init())
	t.Cleanup(Close)

	assert.Positive(t, Count("idempotent"))
}
