package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/strand-ai/strand/pkg/queue"
	"github.com/strand-ai/strand/pkg/services"
)

// errorBody is the uniform error envelope of every non-2xx response.
type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func abortError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: message, Status: status})
}

// serviceError maps service-layer errors to HTTP error responses.
func serviceError(c *gin.Context, err error) {
	var validErr *services.ValidationError
	switch {
	case errors.As(err, &validErr):
		abortError(c, http.StatusBadRequest, validErr.Error())
	case errors.Is(err, services.ErrNotFound):
		abortError(c, http.StatusNotFound, "resource not found")
	case errors.Is(err, services.ErrNotPaused):
		abortError(c, http.StatusConflict, "execution is not awaiting review")
	case errors.Is(err, services.ErrNotTerminal):
		abortError(c, http.StatusConflict, "execution has not finished")
	case errors.Is(err, services.ErrAlreadyTerminal):
		abortError(c, http.StatusConflict, "execution already finished")
	case errors.Is(err, queue.ErrQueueFull):
		abortError(c, http.StatusTooManyRequests, "execution queue is full")
	default:
		slog.Error("Unexpected service error", "error", err)
		abortError(c, http.StatusInternalServerError, "internal server error")
	}
}
