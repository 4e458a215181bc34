package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/repo-scorecard/internal/core/run"
)

// ErrRunFailed はランがエラー状態で終了したことを表す
var ErrRunFailed = errors.New("analysis run failed")

// AnalyzeAction はリポジトリを一括解析するコマンドのアクション
// ランを開始し、完了までポーリングして最終スコアカードを出力する
func AnalyzeAction(ctx context.Context, cmd *cli.Command) error {
	repoURL := cmd.String("url")
	runID := cmd.String("run-id")
	outPath := cmd.String("out")
	readmePath := cmd.String("readme")
	envFile := cmd.String("env")

	var readmeOverride string
	if readmePath != "" {
		data, err := os.ReadFile(readmePath)
		if err != nil {
			return fmt.Errorf("failed to read README override: %w", err)
		}
		readmeOverride = string(data)
	}

	appCtx, err := NewAppContext(envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	slog.Info("starting analysis", slog.String("url", repoURL))

	result, err := appCtx.Runner.Start(ctx, run.StartOptions{
		RunID:          runID,
		RepoURL:        repoURL,
		ReadmeOverride: readmeOverride,
	})
	if err != nil {
		return fmt.Errorf("failed to start analysis: %w", err)
	}

	slog.Info("run started",
		slog.String("run_id", result.RunID),
		slog.Int("file_count", len(result.AllFiles)),
	)

	snap, err := waitForRun(ctx, appCtx, result.RunID)
	if err != nil {
		return err
	}

	if snap.Status == run.StatusError {
		slog.Error("analysis failed", slog.String("run_id", snap.RunID), slog.String("error", snap.Error))
		return fmt.Errorf("%w: %s", ErrRunFailed, snap.Error)
	}

	card := snap.Report
	slog.Info("analysis complete",
		slog.String("run_id", snap.RunID),
		slog.String("repo", card.RepoName),
		slog.Float64("preliminary_score", card.PreliminaryProjectScore),
	)
	if card.FinalProjectScore != nil {
		slog.Info("calibrated score", slog.Float64("final_score", *card.FinalProjectScore))
	}

	data, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scorecard: %w", err)
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write scorecard: %w", err)
		}
		slog.Info("scorecard written", slog.String("path", outPath))
		return nil
	}

	fmt.Println(string(data))
	return nil
}

// waitForRun はランが終端状態になるまでステータスをポーリングする
func waitForRun(ctx context.Context, appCtx *AppContext, runID string) (*run.Snapshot, error) {
	lastLogID := 0
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		snap, err := appCtx.Runner.Status(runID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch run status: %w", err)
		}

		for _, entry := range snap.LogHistory {
			if entry.ID > lastLogID {
				slog.Info(entry.Message, slog.String("status", string(snap.Status)))
				lastLogID = entry.ID
			}
		}

		if snap.Status.Terminal() {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
