package run

import (
	"errors"
	"time"

	"github.com/jinford/repo-scorecard/internal/core/scoring"
)

var (
	// ErrRunNotFound は未知のランIDを表す
	ErrRunNotFound = errors.New("run not found")

	// ErrFileNotFound はリポジトリ内に存在しないファイルを表す
	ErrFileNotFound = errors.New("file not found in repository")

	// ErrForbidden はリポジトリルート外へのパスを表す
	ErrForbidden = errors.New("path escapes repository root")
)

// Status はランの状態
type Status string

const (
	StatusPreparing          Status = "preparing"
	StatusSelectingFiles     Status = "selecting_files"
	StatusChunkingAndScoring Status = "chunking_and_scoring"
	StatusFinalReview        Status = "final_review"
	StatusComplete           Status = "complete"
	StatusError              Status = "error"
)

// Terminal は終端状態かどうかを返す
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// LogEntry はラン内の1件のログ
// ID はラン内で厳密に増加する
type LogEntry struct {
	ID        int       `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot はランの現在状態の射影
// Report は complete のときのみ、Error は error のときのみ設定される
type Snapshot struct {
	RunID      string                    `json:"runId"`
	RepoURL    string                    `json:"repoUrl"`
	RepoName   string                    `json:"repoName"`
	Status     Status                    `json:"status"`
	LogHistory []LogEntry                `json:"logHistory"`
	Report     *scoring.ProjectScorecard `json:"report"`
	Error      string                    `json:"error,omitempty"`
}
