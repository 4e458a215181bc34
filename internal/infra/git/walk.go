package git

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileEntry はリポジトリ内のファイルを表す
type FileEntry struct {
	// Relative はリポジトリルートからの相対パス（スラッシュ区切り）
	Relative string
	// Absolute はローカルファイルシステム上の絶対パス
	Absolute string
}

// WalkOptions はファイル走査のオプション
type WalkOptions struct {
	// IncludeHidden は "." で始まるファイル・ディレクトリを含めるかどうか
	IncludeHidden bool
}

// prunedDirs は常に走査から除外するディレクトリ名
// バージョン管理・依存ツリー・ビルド成果物
var prunedDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"out":          true,
	"__pycache__":  true,
}

// Walk はルート配下のファイル一覧を返す
// 除外ディレクトリを枝刈りし、.gitignore のパターンも尊重する
func Walk(root string, opts WalkOptions) ([]FileEntry, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve walk root: %w", err)
	}

	matcher := loadIgnoreMatcher(absRoot)

	var entries []FileEntry
	err = filepath.WalkDir(absRoot, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == absRoot {
			return nil
		}

		name := d.Name()
		hidden := strings.HasPrefix(name, ".")

		if d.IsDir() {
			if prunedDirs[name] {
				return filepath.SkipDir
			}
			if hidden && !opts.IncludeHidden {
				return filepath.SkipDir
			}
			return nil
		}

		if hidden && !opts.IncludeHidden {
			return nil
		}

		rel, err := filepath.Rel(absRoot, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if matcher != nil && matcher.MatchesPath(rel) {
			return nil
		}

		entries = append(entries, FileEntry{Relative: rel, Absolute: p})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk repository files: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Relative < entries[j].Relative })

	return entries, nil
}

// loadIgnoreMatcher はリポジトリルートの .gitignore を読み込む
// 存在しない・読めない場合は nil を返し、走査は続行する
func loadIgnoreMatcher(root string) *gitignore.GitIgnore {
	ignorePath := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(ignorePath); err != nil {
		return nil
	}

	matcher, err := gitignore.CompileIgnoreFile(ignorePath)
	if err != nil {
		return nil
	}
	return matcher
}
