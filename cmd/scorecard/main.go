package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/repo-scorecard/cmd/scorecard/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定（NewAppContext が設定値で上書きする）
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "scorecard",
		Usage: "AIによるリポジトリ品質スコアカード生成システム",
		Commands: []*cli.Command{
			{
				Name:  "analyze",
				Usage: "リポジトリを一括解析してスコアカードを生成",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "url",
						Usage:    "GitリポジトリURL",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "run-id",
						Usage: "ランID（省略時は自動生成）",
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "スコアカードJSONの出力ファイルパス（省略時は標準出力）",
					},
					&cli.StringFlag{
						Name:  "readme",
						Usage: "README代替テキストのファイルパス（リポジトリにREADMEがない場合）",
					},
				},
				Action: commands.AnalyzeAction,
			},
			{
				Name:  "server",
				Usage: "サーバ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバを起動",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:  "addr",
								Usage: "待ち受けアドレス（省略時は環境変数またはデフォルトの :8080）",
							},
						},
						Action: commands.ServerStartAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
