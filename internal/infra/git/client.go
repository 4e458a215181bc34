package git

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/go-git/go-git/v5"
	giturls "github.com/whilp/git-urls"
)

// Client は Git リポジトリ操作を提供する
type Client struct{}

// NewClient は新しい Client を作成する
func NewClient() *Client {
	return &Client{}
}

// RepoName は Git URL からリポジトリ名（ベース名）を抽出する
// 例: https://github.com/user/repo.git -> repo
func (c *Client) RepoName(gitURL string) (string, error) {
	u, err := giturls.Parse(gitURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse git URL: %w", err)
	}

	name := path.Base(strings.TrimSuffix(u.Path, ".git"))
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("failed to derive repository name from URL: %s", gitURL)
	}

	return name, nil
}

// Clone は Git リポジトリを destDir へクローンする
// 解析用途のため履歴は depth=1 で取得する
func (c *Client) Clone(ctx context.Context, url, destDir string) error {
	_, err := git.PlainCloneContext(ctx, destDir, false, &git.CloneOptions{
		URL:   url,
		Depth: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}

	return nil
}
