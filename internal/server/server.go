// Package server exposes the orchestrator over HTTP.
//
//	GET  /healthz
//	GET  /metrics
//	GET  /tasks
//	POST /tasks                        task definition
//	GET  /tasks/:id
//	POST /evaluations                  {task_id, agent_ids}
//	GET  /evaluations
//	GET  /evaluations/:id
//	POST /evaluations/:id/results      {agent_id, artifacts}
//	POST /evaluations/:id/cancel
//	POST /evaluations/:id/reset
//	GET  /evaluations/:id/report?format=markdown|json|table|html
package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalnine/arbiter/internal/artifact"
	"github.com/signalnine/arbiter/internal/config"
	"github.com/signalnine/arbiter/internal/errdefs"
	"github.com/signalnine/arbiter/internal/orchestrator"
	"github.com/signalnine/arbiter/internal/report"
)

type Server struct {
	orch   *orchestrator.Orchestrator
	router *gin.Engine
}

func New(o *orchestrator.Orchestrator) *Server {
	s := &Server{orch: o, router: gin.New()}
	s.router.Use(gin.Recovery(), requestLogger())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/tasks", s.listTasks)
	r.POST("/tasks", s.createTask)
	r.GET("/tasks/:id", s.getTask)

	ev := r.Group("/evaluations")
	ev.POST("", s.startEvaluation)
	ev.GET("", s.listEvaluations)
	ev.GET("/:id", s.getEvaluation)
	ev.POST("/:id/results", s.submitResult)
	ev.POST("/:id/cancel", s.cancelEvaluation)
	ev.POST("/:id/reset", s.resetEvaluation)
	ev.GET("/:id/report", s.getReport)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	clog.FromContext(ctx).With("addr", addr).Info("listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		clog.FromContext(c.Request.Context()).
			With("method", c.Request.Method).
			With("path", c.FullPath()).
			With("status", c.Writer.Status()).
			With("duration", time.Since(start).String()).
			Debug("request")
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func statusOf(err error) int {
	switch {
	case errdefs.IsValidation(err):
		return http.StatusBadRequest
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, report.ErrNotCompleted):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	resp := errorResponse{Error: err.Error()}
	var ve *errdefs.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		clog.FromContext(c.Request.Context()).With("error", err.Error()).Error("request failed")
	}
	c.AbortWithStatusJSON(code, resp)
}

func (s *Server) listTasks(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Catalog().List())
}

func (s *Server) getTask(c *gin.Context) {
	t, err := s.orch.Catalog().Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) createTask(c *gin.Context) {
	var def config.Task
	if err := c.ShouldBindJSON(&def); err != nil {
		writeError(c, errdefs.Validationf("body", "%v", err))
		return
	}
	t, err := s.orch.CreateTask(c.Request.Context(), def)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

type startRequest struct {
	TaskID   string   `json:"task_id" binding:"required"`
	AgentIDs []string `json:"agent_ids"`
}

func (s *Server) startEvaluation(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errdefs.Validationf("body", "%v", err))
		return
	}
	snap, err := s.orch.Start(c.Request.Context(), req.TaskID, req.AgentIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (s *Server) listEvaluations(c *gin.Context) {
	snaps, err := s.orch.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snaps)
}

func (s *Server) getEvaluation(c *gin.Context) {
	snap, err := s.orch.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type submitRequest struct {
	AgentID   string              `json:"agent_id" binding:"required"`
	Artifacts []artifact.Artifact `json:"artifacts" binding:"required,min=1"`
}

func (s *Server) submitResult(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errdefs.Validationf("body", "%v", err))
		return
	}
	snap, err := s.orch.Submit(c.Request.Context(), c.Param("id"), req.AgentID, req.Artifacts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, snap)
}

func (s *Server) cancelEvaluation(c *gin.Context) {
	snap, err := s.orch.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) resetEvaluation(c *gin.Context) {
	snap, err := s.orch.Reset(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

var contentTypes = map[string]string{
	report.FormatMarkdown: "text/markdown; charset=utf-8",
	report.FormatJSON:     "application/json; charset=utf-8",
	report.FormatTable:    "text/plain; charset=utf-8",
	report.FormatHTML:     "text/html; charset=utf-8",
}

func (s *Server) getReport(c *gin.Context) {
	format := c.DefaultQuery("format", report.FormatMarkdown)
	ct, ok := contentTypes[format]
	if !ok {
		writeError(c, errdefs.Validationf("format", "unknown report format %q", format))
		return
	}
	rep, err := s.orch.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := report.Render(rep, format, &buf); err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, ct, buf.Bytes())
}
