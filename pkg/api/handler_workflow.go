package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/strand-ai/strand/pkg/model"
	"github.com/strand-ai/strand/pkg/tenant"
	"github.com/strand-ai/strand/pkg/validate"
)

// SubmitWorkflow handles POST /api/v1/workflows. Returns 201 when the
// workflow was created, 200 when an existing definition was replaced.
func (s *Server) SubmitWorkflow(c *gin.Context) {
	var wf model.Workflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		abortError(c, http.StatusBadRequest, "invalid workflow definition: "+err.Error())
		return
	}
	if err := validate.Workflow(&wf); err != nil {
		abortError(c, http.StatusBadRequest, err.Error())
		return
	}

	tenantID := tenant.MustFromContext(c.Request.Context())
	created, err := s.workflows.Submit(c.Request.Context(), tenantID, &wf)
	if err != nil {
		serviceError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"id": wf.ID, "created": created})
}

// ListWorkflows handles GET /api/v1/workflows.
func (s *Server) ListWorkflows(c *gin.Context) {
	tenantID := tenant.MustFromContext(c.Request.Context())
	summaries, err := s.workflows.List(c.Request.Context(), tenantID)
	if err != nil {
		serviceError(c, err)
		return
	}
	if summaries == nil {
		summaries = []model.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"workflows": summaries})
}

// GetWorkflow handles GET /api/v1/workflows/:id.
func (s *Server) GetWorkflow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	tenantID := tenant.MustFromContext(c.Request.Context())
	wf, err := s.workflows.Get(c.Request.Context(), tenantID, id)
	if err != nil {
		serviceError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// DeleteWorkflow handles DELETE /api/v1/workflows/:id.
func (s *Server) DeleteWorkflow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	tenantID := tenant.MustFromContext(c.Request.Context())
	if err := s.workflows.Delete(c.Request.Context(), tenantID, id); err != nil {
		serviceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
