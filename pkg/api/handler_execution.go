package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/strand-ai/strand/pkg/services"
	"github.com/strand-ai/strand/pkg/tenant"
	"github.com/strand-ai/strand/pkg/validate"
)

type startExecutionRequest struct {
	WorkflowID string         `json:"workflowId"`
	Input      map[string]any `json:"input"`
}

type resumeExecutionRequest struct {
	Approved      bool           `json:"approved"`
	Modifications map[string]any `json:"modifications"`
}

// executionStatusView is the JSON projection of one execution snapshot.
type executionStatusView struct {
	ExecutionID    string `json:"executionId"`
	WorkflowID     string `json:"workflowId"`
	Status         string `json:"status"`
	ExitStatus     string `json:"exitStatus,omitempty"`
	CurrentNode    string `json:"currentNodeId,omitempty"`
	Error          string `json:"error,omitempty"`
	HasPendingPlan bool   `json:"hasPendingPlan"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

func statusView(view *services.ExecutionView) executionStatusView {
	rec := view.Record
	out := executionStatusView{
		ExecutionID:    rec.ID,
		WorkflowID:     rec.WorkflowID,
		Status:         string(rec.Status),
		ExitStatus:     rec.ExitStatus,
		Error:          rec.Error,
		HasPendingPlan: view.HasPendingPlan,
		CreatedAt:      rec.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		UpdatedAt:      rec.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	if rec.State != nil {
		out.CurrentNode = rec.State.CurrentNode
	}
	return out
}

// StartExecution handles POST /api/v1/executions. The execution is
// accepted and queued; 202 is returned before any node runs.
func (s *Server) StartExecution(c *gin.Context) {
	var req startExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Identifier(req.WorkflowID); err != nil {
		abortError(c, http.StatusBadRequest, "workflowId: "+err.Error())
		return
	}

	tenantID := tenant.MustFromContext(c.Request.Context())
	rec, err := s.executions.Start(c.Request.Context(), tenantID, services.StartInput{
		WorkflowID: req.WorkflowID,
		Input:      req.Input,
	})
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"executionId": rec.ID,
		"workflowId":  rec.WorkflowID,
		"status":      string(rec.Status),
	})
}

// GetExecution handles GET /api/v1/executions/:id.
func (s *Server) GetExecution(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	tenantID := tenant.MustFromContext(c.Request.Context())
	view, err := s.executions.Get(c.Request.Context(), tenantID, id)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusView(view))
}

// ListPausedExecutions handles GET /api/v1/executions/paused.
func (s *Server) ListPausedExecutions(c *gin.Context) {
	tenantID := tenant.MustFromContext(c.Request.Context())
	paused, err := s.executions.ListPaused(c.Request.Context(), tenantID)
	if err != nil {
		serviceError(c, err)
		return
	}
	views := make([]executionStatusView, 0, len(paused))
	for _, view := range paused {
		views = append(views, statusView(view))
	}
	c.JSON(http.StatusOK, gin.H{"executions": views})
}

// GetPendingPlan handles GET /api/v1/executions/:id/plan.
func (s *Server) GetPendingPlan(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	tenantID := tenant.MustFromContext(c.Request.Context())
	plan, err := s.executions.PlanStatus(c.Request.Context(), tenantID, id)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// GetExecutionResult handles GET /api/v1/executions/:id/result.
func (s *Server) GetExecutionResult(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	tenantID := tenant.MustFromContext(c.Request.Context())
	result, err := s.executions.Result(c.Request.Context(), tenantID, id)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ResumeExecution handles POST /api/v1/executions/:id/resume.
func (s *Server) ResumeExecution(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req resumeExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	tenantID := tenant.MustFromContext(c.Request.Context())
	if _, err := s.executions.Resume(c.Request.Context(), tenantID, id, services.ResumeInput{
		Approved:      req.Approved,
		Modifications: req.Modifications,
	}); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

// CancelExecution handles DELETE /api/v1/executions/:id.
func (s *Server) CancelExecution(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	tenantID := tenant.MustFromContext(c.Request.Context())
	if err := s.executions.Cancel(c.Request.Context(), tenantID, id); err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"executionId": id, "status": "cancelling"})
}
