package chunking

import (
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"
)

// Registry は拡張子から言語戦略を引く
// ForceSimple が有効な場合はすべての検索が簡易テキスト戦略に畳み込まれる
type Registry struct {
	byExt       map[string]LanguageStrategy
	declarative LanguageStrategy
	simple      LanguageStrategy
	forceSimple bool
}

// declarativeExts は単一アトムとして扱う拡張子
var declarativeExts = map[string]bool{
	".json": true,
	".yaml": true,
	".yml":  true,
	".toml": true,
	".ini":  true,
	".xml":  true,
	".csv":  true,
	".lock": true,
}

// NewRegistry はデフォルトの戦略登録を持つ Registry を作成する
func NewRegistry(boilerplateThreshold float64, forceSimple bool) *Registry {
	ts := NewTypeScriptStrategy(boilerplateThreshold)
	tsx := NewTSXStrategy(boilerplateThreshold)
	js := NewJavaScriptStrategy(boilerplateThreshold)
	sol := NewSolidityStrategy(boilerplateThreshold)

	r := &Registry{
		byExt:       make(map[string]LanguageStrategy),
		declarative: NewDeclarativeStrategy(),
		simple:      NewSimpleTextStrategy(),
		forceSimple: forceSimple,
	}

	r.byExt[".ts"] = ts
	r.byExt[".mts"] = ts
	r.byExt[".cts"] = ts
	r.byExt[".tsx"] = tsx
	r.byExt[".js"] = js
	r.byExt[".jsx"] = js
	r.byExt[".mjs"] = js
	r.byExt[".cjs"] = js
	r.byExt[".sol"] = sol

	for ext := range declarativeExts {
		r.byExt[ext] = r.declarative
	}

	return r
}

// Lookup はファイルパスと内容から戦略を選択する
// 拡張子で引けない場合は enry の言語判定を補助に使う
func (r *Registry) Lookup(path string, content []byte) LanguageStrategy {
	if r.forceSimple {
		return r.simple
	}

	ext := strings.ToLower(filepath.Ext(path))
	if strategy, ok := r.byExt[ext]; ok {
		return strategy
	}

	switch enry.GetLanguage(filepath.Base(path), content) {
	case "TypeScript":
		return r.byExt[".ts"]
	case "TSX":
		return r.byExt[".tsx"]
	case "JavaScript":
		return r.byExt[".js"]
	case "Solidity":
		return r.byExt[".sol"]
	case "JSON", "YAML", "TOML", "XML", "INI":
		return r.declarative
	}

	return r.simple
}
