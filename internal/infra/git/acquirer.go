package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ErrRepoAcquire はリポジトリ取得の失敗を表す
var ErrRepoAcquire = errors.New("failed to acquire repository")

// RepoMeta は取得済みリポジトリのメタデータ
type RepoMeta struct {
	// URL は取得元の Git URL
	URL string
	// Name はリポジトリ名（キャッシュディレクトリ名）
	Name string
	// LocalPath はローカルキャッシュ上のパス
	LocalPath string
	// Files は除外ディレクトリを枝刈りしたファイル一覧
	Files []FileEntry
}

// Acquirer はリモートリポジトリをローカルキャッシュへ取得する
// メタデータは URL をキーとしてプロセス全体で共有される（先勝ち）
type Acquirer struct {
	client    *Client
	cacheRoot string

	mu    sync.Mutex
	metas map[string]*RepoMeta
}

// NewAcquirer は新しい Acquirer を作成する
func NewAcquirer(client *Client, cacheRoot string) *Acquirer {
	return &Acquirer{
		client:    client,
		cacheRoot: cacheRoot,
		metas:     make(map[string]*RepoMeta),
	}
}

// Acquire はリポジトリをキャッシュへ取得し、メタデータを返す
// 同一 URL の結果はメモ化され、以降の呼び出しは最初の結果を再利用する
func (a *Acquirer) Acquire(ctx context.Context, url string) (*RepoMeta, error) {
	a.mu.Lock()
	if meta, ok := a.metas[url]; ok {
		a.mu.Unlock()
		return meta, nil
	}
	a.mu.Unlock()

	meta, err := a.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	// 先勝ち: 並行取得で先に登録されたメタデータを優先する
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.metas[url]; ok {
		return existing, nil
	}
	a.metas[url] = meta

	return meta, nil
}

func (a *Acquirer) fetch(ctx context.Context, url string) (*RepoMeta, error) {
	name, err := a.client.RepoName(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepoAcquire, err)
	}

	localPath := filepath.Join(a.cacheRoot, name)
	if _, err := os.Stat(localPath); os.IsNotExist(err) {
		slog.Info("cloning repository", slog.String("url", url), slog.String("path", localPath))
		if err := os.MkdirAll(a.cacheRoot, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRepoAcquire, err)
		}
		if err := a.client.Clone(ctx, url, localPath); err != nil {
			// 失敗した中途半端なクローンは残さない
			_ = os.RemoveAll(localPath)
			return nil, fmt.Errorf("%w: %w", ErrRepoAcquire, err)
		}
	} else {
		slog.Info("reusing cached repository", slog.String("url", url), slog.String("path", localPath))
	}

	files, err := Walk(localPath, WalkOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepoAcquire, err)
	}

	return &RepoMeta{
		URL:       url,
		Name:      name,
		LocalPath: localPath,
		Files:     files,
	}, nil
}
