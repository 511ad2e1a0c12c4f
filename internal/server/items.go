package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opensciencecatalog/osc-backend/internal/items"
	"github.com/opensciencecatalog/osc-backend/internal/pullrequest"
)

type createdResponse struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Branch string `json:"branch"`
}

func (h *handlers) createItem(c *gin.Context) {
	content, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeDetail(c, http.StatusBadRequest, "could not read request body")
		return
	}
	filename, err := items.FilenameFor(c.Query("filename"), content)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.submit(c, http.StatusCreated, pullrequest.ChangeAdd, filename, content)
}

func (h *handlers) updateItem(c *gin.Context) {
	content, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeDetail(c, http.StatusBadRequest, "could not read request body")
		return
	}
	h.submit(c, http.StatusOK, pullrequest.ChangeUpdate, c.Param("item_id"), content)
}

func (h *handlers) deleteItem(c *gin.Context) {
	h.submit(c, http.StatusOK, pullrequest.ChangeDelete, c.Param("item_id"), nil)
}

func (h *handlers) submit(c *gin.Context, status int, change pullrequest.ChangeType, filename string, content []byte) {
	dataOwner := false
	if v := c.Query("data_owner"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeDetail(c, http.StatusUnprocessableEntity, "data_owner must be a boolean")
			return
		}
		dataOwner = b
	}

	created, err := h.items.Submit(c.Request.Context(), items.Submission{
		User:       h.user(c),
		Filename:   filename,
		ItemType:   c.DefaultQuery("item_type", items.DefaultItemType),
		DataOwner:  dataOwner,
		ChangeType: change,
		Content:    content,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(status, createdResponse{Number: created.Number, URL: created.URL, Branch: created.Branch})
}

func (h *handlers) listItems(c *gin.Context) {
	filter, err := items.ParseFilter(c.Query("filter"))
	if err != nil {
		writeDetail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	names, err := h.items.List(c.Request.Context(), h.user(c), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": names})
}

func (h *handlers) getItem(c *gin.Context) {
	filter, err := items.ParseFilter(c.Query("filter"))
	if err != nil {
		writeDetail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	data, err := h.items.Get(c.Request.Context(), h.user(c), c.Param("item_id"), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (h *handlers) pullRequests(c *gin.Context) {
	bodies, err := h.items.PullRequests(c.Request.Context(), h.user(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pull_requests": bodies})
}
