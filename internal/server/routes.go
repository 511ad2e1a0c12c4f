package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opensciencecatalog/osc-backend/internal/items"
	"github.com/opensciencecatalog/osc-backend/internal/processing"
	"go.uber.org/zap"
)

// proxyMethods are the methods forwarded to processing backends.
var proxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodHead,
}

type handlers struct {
	items       *items.Service
	processing  *processing.Proxy
	defaultUser string
	logger      *zap.Logger
}

// registerRoutes sets up all API routes on the gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Items.
	router.POST("/items", h.createItem)
	router.GET("/items", h.listItems)
	router.GET("/items/:item_id", h.getItem)
	router.PUT("/items/:item_id", h.updateItem)
	router.DELETE("/items/:item_id", h.deleteItem)
	router.GET("/pull-requests", h.pullRequests)

	// Processing.
	router.GET("/applications/:application", h.application)
	router.GET("/processing/backends", h.backends)
	router.GET("/executions", h.executions)
	for _, m := range proxyMethods {
		router.Handle(m, "/processing/:remote_backend/*path", h.proxy)
	}
}

// user returns the caller's identity.
func (h *handlers) user(c *gin.Context) string {
	if u := c.GetHeader(processing.UserHeader); u != "" {
		return u
	}
	return h.defaultUser
}

// proxy serves /processing/{backend}/processes[/...] and
// /processing/{backend}/jobs[/...]. POST .../processes/{process}/execution
// deploys the process first.
func (h *handlers) proxy(c *gin.Context) {
	backend := c.Param("remote_backend")
	target := strings.TrimPrefix(c.Param("path"), "/")
	segments := strings.Split(target, "/")

	switch segments[0] {
	case "processes", "jobs":
	default:
		writeDetail(c, http.StatusNotFound, "Not Found")
		return
	}

	var err error
	if c.Request.Method == http.MethodPost && len(segments) == 3 &&
		segments[0] == "processes" && segments[1] != "" && segments[2] == "execution" {
		err = h.processing.Execute(c.Writer, c.Request, backend, segments[1])
	} else {
		err = h.processing.Forward(c.Writer, c.Request, backend, target)
	}
	if err != nil {
		h.fail(c, err)
	}
}

func (h *handlers) application(c *gin.Context) {
	doc, err := h.processing.Application(c.Request.Context(), c.Param("application"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *handlers) backends(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"backends": h.processing.Backends()})
}

type executionResponse struct {
	ID              uint   `json:"id"`
	RemoteBackend   string `json:"remote_backend"`
	Process         string `json:"process"`
	RemoteProcessID string `json:"remote_process_id"`
	Status          int    `json:"status"`
	CreatedAt       string `json:"created_at"`
}

func (h *handlers) executions(c *gin.Context) {
	execs, err := h.processing.Executions(h.user(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]executionResponse, 0, len(execs))
	for _, e := range execs {
		out = append(out, executionResponse{
			ID:              e.ID,
			RemoteBackend:   e.RemoteBackend,
			Process:         e.Process,
			RemoteProcessID: e.RemoteProcessID,
			Status:          e.Status,
			CreatedAt:       e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"executions": out})
}
