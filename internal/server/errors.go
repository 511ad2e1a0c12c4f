package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opensciencecatalog/osc-backend/internal/backends"
	"github.com/opensciencecatalog/osc-backend/internal/catalog"
	"github.com/opensciencecatalog/osc-backend/internal/items"
	"github.com/opensciencecatalog/osc-backend/internal/processing"
	"github.com/opensciencecatalog/osc-backend/internal/pullrequest"
	"go.uber.org/zap"
)

// statusOf maps a service error to an HTTP status.
func statusOf(err error) int {
	var se *catalog.StatusError
	switch {
	case errors.Is(err, backends.ErrUnknownBackend),
		errors.Is(err, items.ErrInvalidItem):
		return http.StatusBadRequest
	case errors.Is(err, processing.ErrMissingUser):
		return http.StatusUnauthorized
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, pullrequest.ErrNotFound),
		errors.Is(err, items.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pullrequest.ErrBranchExhausted):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrNoManifest),
		errors.Is(err, processing.ErrUpstream),
		errors.As(err, &se):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail writes err as a {"detail": ...} response.
func (h *handlers) fail(c *gin.Context, err error) {
	c.Error(err)
	status := statusOf(err)
	detail := err.Error()
	switch {
	case errors.Is(err, backends.ErrUnknownBackend):
		detail = fmt.Sprintf("Invalid remote backend %s", c.Param("remote_backend"))
	case status == http.StatusInternalServerError:
		h.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		detail = "Internal Server Error"
	}
	writeDetail(c, status, detail)
}

func writeDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
