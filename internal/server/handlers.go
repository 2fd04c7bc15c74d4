package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mmrag/internal/domain"
)

type queryRequest struct {
	Query string `json:"query"`
}

type chatRequest struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp"`
}

func abortWithError(c *gin.Context, status int, err error) {
	c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"detail": err.Error()})
}

func (s *Server) health(c *gin.Context) {
	if _, err := s.deps.Memory.History(c.Request.Context(), 1); err != nil {
		abortWithError(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	ans, err := s.deps.Answers.Answer(c.Request.Context(), req.Query)
	s.metrics.ObserveQuery(err)
	if errors.Is(err, domain.ErrEmptyQuery) {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, ans)
}

func (s *Server) scrape(c *gin.Context) {
	if s.deps.Ingest == nil || s.deps.Fetcher == nil {
		abortWithError(c, http.StatusNotImplemented, errors.New("scraping is not configured"))
		return
	}
	if !s.scraping.TryLock() {
		abortWithError(c, http.StatusConflict, errors.New("a scrape is already running"))
		return
	}
	defer s.scraping.Unlock()

	report, err := s.deps.Ingest.Run(c.Request.Context(), s.deps.Fetcher, nil)
	if report != nil {
		s.metrics.ObserveIngest(report)
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"detail": "Articles scraped and indexed.",
		"report": report,
	})
}

func (s *Server) clear(c *gin.Context) {
	if _, err := s.deps.Memory.Clear(c.Request.Context()); err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detail": "Chat history cleared."})
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	req.Role = strings.TrimSpace(req.Role)
	if req.Role == "" || strings.TrimSpace(req.Content) == "" {
		abortWithError(c, http.StatusBadRequest, errors.New("role and content are required"))
		return
	}

	rec, err := s.deps.Memory.Append(c.Request.Context(), req.Role, req.Content, req.Timestamp)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        rec.ID,
		"role":      rec.Chat.Role,
		"content":   rec.Chat.Content,
		"timestamp": rec.Chat.Timestamp,
	})
}
