package run

import (
	"sync"
	"time"

	"github.com/jinford/repo-scorecard/internal/core/chunking"
	"github.com/jinford/repo-scorecard/internal/core/scoring"
	"github.com/jinford/repo-scorecard/internal/infra/git"
)

// state は1ランの全状態
// 変更は必ず Store.update 経由で行い、ログIDの単調増加を保つ
type state struct {
	mu sync.Mutex

	runID      string
	repoURL    string
	repoName   string
	status     Status
	logHistory []LogEntry
	logSeq     int
	errMsg     string

	meta           *git.RepoMeta
	readmeOverride string
	selection      *scoring.SelectionResult
	groups         map[string]*chunking.FileChunkGroup
	scorecard      *scoring.ProjectScorecard
	scorecardPath  string
}

// Store はプロセス全体のラン状態ストア
// 状態はプロセスローカルで永続化されない（再起動でランは失われる）
type Store struct {
	mu   sync.RWMutex
	runs map[string]*state
}

// NewStore は新しい Store を作成する
func NewStore() *Store {
	return &Store{runs: make(map[string]*state)}
}

// Create は新しいランを preparing 状態で登録する
func (s *Store) Create(runID, repoURL string, meta *git.RepoMeta) *state {
	st := &state{
		runID:    runID,
		repoURL:  repoURL,
		repoName: meta.Name,
		status:   StatusPreparing,
		meta:     meta,
		groups:   make(map[string]*chunking.FileChunkGroup),
	}

	s.mu.Lock()
	s.runs[runID] = st
	s.mu.Unlock()

	return st
}

// get はランを検索する
func (s *Store) get(runID string) (*state, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.runs[runID]
	return st, ok
}

// update は状態遷移とログ追記を一体で行う唯一の変更プリミティブ
// mutate は nil でもよい（ログのみ追記）
func (s *Store) update(st *state, status Status, message string, mutate func(*state)) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if status != "" {
		st.status = status
	}
	if message != "" {
		st.logSeq++
		st.logHistory = append(st.logHistory, LogEntry{
			ID:        st.logSeq,
			Message:   message,
			Timestamp: time.Now(),
		})
	}
	if mutate != nil {
		mutate(st)
	}
}

// Snapshot はランの現在状態の射影を返す
func (s *Store) Snapshot(runID string) (*Snapshot, error) {
	st, ok := s.get(runID)
	if !ok {
		return nil, ErrRunNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	snap := &Snapshot{
		RunID:      st.runID,
		RepoURL:    st.repoURL,
		RepoName:   st.repoName,
		Status:     st.status,
		LogHistory: append([]LogEntry(nil), st.logHistory...),
	}
	switch st.status {
	case StatusComplete:
		snap.Report = st.scorecard
	case StatusError:
		snap.Error = st.errMsg
	}
	return snap, nil
}
