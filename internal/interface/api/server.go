package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/jinford/repo-scorecard/internal/core/run"
	"github.com/jinford/repo-scorecard/internal/infra/git"
)

// Server は採点パイプラインのHTTPファサード
type Server struct {
	runner *run.Runner
	http   *http.Server
}

// NewServer は新しい Server を作成する
func NewServer(runner *run.Runner, addr string) *Server {
	s := &Server{runner: runner}
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router(),
	}
	return s
}

// Start はHTTPサーバを起動する（ブロックする）
func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown は処理中のリクエストを待ってサーバを停止する
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Format(time.RFC3339)})
	})

	router.POST("/analysis", s.startAnalysis)
	router.GET("/analysis/:runId/status", s.getStatus)
	router.POST("/analysis/:runId/score-file", s.scoreFile)
	router.GET("/analysis/:runId/file-content", s.getFileContent)

	return router
}

type startAnalysisRequest struct {
	RepoURL        string `json:"repoUrl"`
	RunID          string `json:"runId"`
	ReadmeOverride string `json:"readmeOverride"`
}

// startAnalysis はランを開始し、ランIDと全ファイル一覧を返す
func (s *Server) startAnalysis(c *gin.Context) {
	var req startAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.RepoURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "repoUrl is required"})
		return
	}

	result, err := s.runner.Start(c.Request.Context(), run.StartOptions{
		RunID:          req.RunID,
		RepoURL:        req.RepoURL,
		ReadmeOverride: req.ReadmeOverride,
	})
	if err != nil {
		if errors.Is(err, git.ErrRepoAcquire) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start analysis"})
		return
	}

	allFiles := result.AllFiles
	if allFiles == nil {
		allFiles = []string{}
	}
	c.JSON(http.StatusAccepted, gin.H{
		"runId":    result.RunID,
		"allFiles": allFiles,
	})
}

// getStatus はランの現在状態を返す
func (s *Server) getStatus(c *gin.Context) {
	snap, err := s.runner.Status(c.Param("runId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	resp := gin.H{
		"runId":      snap.RunID,
		"status":     snap.Status,
		"logHistory": snap.LogHistory,
		"report":     snap.Report,
	}
	if snap.Error != "" {
		resp["error"] = snap.Error
	} else {
		resp["error"] = nil
	}
	c.JSON(http.StatusOK, resp)
}

type scoreFileRequest struct {
	FilePath string `json:"filePath"`
}

// scoreFile は単一ファイルを追加採点する
func (s *Server) scoreFile(c *gin.Context) {
	var req scoreFileRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FilePath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filePath is required"})
		return
	}

	scored, err := s.runner.ScoreFile(c.Request.Context(), c.Param("runId"), req.FilePath)
	if err != nil {
		switch {
		case errors.Is(err, run.ErrRunNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		case errors.Is(err, run.ErrFileNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, scored)
}

// getFileContent はリポジトリ内のファイルをそのまま返す
func (s *Server) getFileContent(c *gin.Context) {
	filePath := c.Query("filePath")
	if filePath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filePath query parameter is required"})
		return
	}

	data, err := s.runner.FileContent(c.Param("runId"), filePath)
	if err != nil {
		switch {
		case errors.Is(err, run.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "path escapes repository root"})
		case errors.Is(err, run.ErrRunNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		case errors.Is(err, run.ErrFileNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}
