package api

import (
	"net/http"
	"strconv"

	"github.com/formy-ai/formy/pkg/auth"
	"github.com/formy-ai/formy/pkg/tasks"
	"github.com/gin-gonic/gin"
)

// TaskHandler serves the /tasks endpoints.
type TaskHandler struct {
	svc *tasks.Service
}

// NewTaskHandler creates the handler.
func NewTaskHandler(svc *tasks.Service) *TaskHandler {
	return &TaskHandler{svc: svc}
}

// Create submits a new edit task.
func (h *TaskHandler) Create(c *gin.Context) {
	var req tasks.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
		return
	}
	info, err := h.svc.Create(c.Request.Context(), auth.UserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// Get returns one task, enforcing ownership.
func (h *TaskHandler) Get(c *gin.Context) {
	info, err := h.svc.Get(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func listOptions(c *gin.Context) tasks.ListOptions {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return tasks.ListOptions{
		Status:   c.Query("status"),
		Mode:     c.Query("mode"),
		Page:     page,
		PageSize: pageSize,
	}
}

// List pages the caller's tasks.
func (h *TaskHandler) List(c *gin.Context) {
	resp, err := h.svc.List(c.Request.Context(), auth.UserID(c), listOptions(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// History pages the caller's finished tasks.
func (h *TaskHandler) History(c *gin.Context) {
	resp, err := h.svc.History(c.Request.Context(), auth.UserID(c), listOptions(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Cancel sets a task to cancelled and refunds it.
func (h *TaskHandler) Cancel(c *gin.Context) {
	info, err := h.svc.Cancel(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": info.TaskID, "status": info.Status})
}

// Stats reports the dispatch backlog.
func (h *TaskHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
