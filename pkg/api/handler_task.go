package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ojobatch/ojo/pkg/models"
)

// CreateTasksRequest is the body of POST /api/tasks.
type CreateTasksRequest struct {
	ProblemIDs []string          `json:"problem_ids" binding:"required,min=1"`
	Config     models.TaskConfig `json:"config"`

	// Wait blocks the response until every created task finishes.
	Wait bool `json:"wait"`
}

// CreateManualTaskRequest is the body of POST /api/tasks/manual.
type CreateManualTaskRequest struct {
	Title     string            `json:"title"`
	Statement string            `json:"statement" binding:"required"`
	Config    models.TaskConfig `json:"config"`
}

// RetryTaskRequest is the body of POST /api/tasks/:id/retry.
type RetryTaskRequest struct {
	Module string `json:"module"`
}

func taskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleCreateTasks(c *gin.Context) {
	var req CreateTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, _ := caller(c)

	if req.Config.Modules().None() {
		req.Config.EnableFetch = true
		req.Config.EnableGeneration = true
		req.Config.EnableUpload = true
		req.Config.EnableSolve = true
	}

	results := s.tasks.CreateTasks(c.Request.Context(), userID, req.ProblemIDs, req.Config)

	if req.Wait {
		var ids []int64
		for _, res := range results {
			if res.Error == "" {
				ids = append(ids, res.TaskID)
			}
		}
		if err := s.tasks.ExecuteTasks(c.Request.Context(), ids); err != nil {
			writeServiceError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleCreateManualTask(c *gin.Context) {
	var req CreateManualTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, _ := caller(c)

	task, err := s.tasks.CreateManualTask(c.Request.Context(), userID, req.Title, req.Statement, req.Config)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleListTasks(c *gin.Context) {
	userID, isAdmin := caller(c)

	var filter models.TaskFilter
	filter.Search = c.Query("search")
	filter.SourceJudge = c.Query("source_judge")
	filter.DestJudge = c.Query("destination_judge")
	if name := c.Query("status"); name != "" {
		status, ok := models.ParseTaskStatus(name)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid status %q", name)})
			return
		}
		filter.Status = &status
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	// Admins may list across all users.
	listUser := userID
	if isAdmin && c.Query("all") == "true" {
		listUser = 0
	}

	tasks, err := s.tasks.GetUserTasks(c.Request.Context(), listUser, filter)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleGetTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	userID, isAdmin := caller(c)

	task, err := s.tasks.GetTask(c.Request.Context(), id, userID, isAdmin)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleGetTaskLogs(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	userID, isAdmin := caller(c)

	logs, err := s.tasks.GetTaskLogs(c.Request.Context(), id, userID, isAdmin)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "logs": logs})
}

func (s *Server) handleDownloadWorkspace(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	userID, isAdmin := caller(c)

	task, err := s.tasks.GetTask(c.Request.Context(), id, userID, isAdmin)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", task.ProblemID+".zip"))
	if err := s.tasks.WriteWorkspaceZip(c.Request.Context(), c.Writer, id, userID, isAdmin); err != nil {
		// Headers may already be out; report what we can.
		writeServiceError(c, err)
	}
}

func (s *Server) handleRetryTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	userID, isAdmin := caller(c)

	var req RetryTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Module == "" {
		req.Module = "all"
	}

	if err := s.tasks.RetryTask(c.Request.Context(), id, userID, req.Module, isAdmin); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pending", "module": req.Module})
}

func (s *Server) handleCancelTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	userID, isAdmin := caller(c)

	if err := s.tasks.CancelTask(c.Request.Context(), id, userID, isAdmin); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	userID, isAdmin := caller(c)

	if err := s.tasks.DeleteTask(c.Request.Context(), id, userID, isAdmin); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
