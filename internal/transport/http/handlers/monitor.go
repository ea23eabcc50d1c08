package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/iqb-berlin/testcenter/internal/infra/broadcast"
	"github.com/iqb-berlin/testcenter/internal/transport/http/middleware"
	"github.com/iqb-berlin/testcenter/internal/usecase"
)

// MonitorHandler serves the workspace-scoped monitoring and result
// endpoints for admin sessions.
type MonitorHandler struct {
	monitor *usecase.MonitorService
	admins  *usecase.AdminService
	tests   *usecase.TestService
	policy  *usecase.AccessPolicy
	hub     *broadcast.Hub
}

// NewMonitorHandler constructs a MonitorHandler.
func NewMonitorHandler(
	monitor *usecase.MonitorService,
	admins *usecase.AdminService,
	tests *usecase.TestService,
	policy *usecase.AccessPolicy,
	hub *broadcast.Hub,
) *MonitorHandler {
	return &MonitorHandler{
		monitor: monitor,
		admins:  admins,
		tests:   tests,
		policy:  policy,
		hub:     hub,
	}
}

// RegisterRoutes attaches the workspace endpoints to the group. The group
// must carry the RequireAdmin middleware.
func (h *MonitorHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/workspace/:ws_id/sessions", h.GetTestSessions)
	group.GET("/workspace/:ws_id/events", h.StreamEvents)
	group.GET("/workspace/:ws_id/results", h.GetResults)
	group.POST("/workspace/:ws_id/unlock", h.UnlockGroup)
	group.DELETE("/workspace/:ws_id/results/:group_name", h.DeleteResultData)
}

// GetTestSessions returns the current monitorable session snapshot of the
// workspace, optionally filtered by the groups query parameter.
func (h *MonitorHandler) GetTestSessions(c *gin.Context) {
	workspaceID, ok := h.authorizeWorkspace(c, usecase.OperationRead)
	if !ok {
		return
	}

	sessions, err := h.monitor.TestSessions(c.Request.Context(), workspaceID, groupsParam(c))
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// StreamEvents attaches the caller to the broadcast hub and relays session
// events as server-sent events until the client disconnects.
func (h *MonitorHandler) StreamEvents(c *gin.Context) {
	workspaceID, ok := h.authorizeWorkspace(c, usecase.OperationRead)
	if !ok {
		return
	}

	events, cancel := h.hub.Subscribe(workspaceID, groupsParam(c))
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(_ io.Writer) bool {
		select {
		case event, open := <-events:
			if !open {
				return false
			}
			name := "session-changed"
			var payload any = event.Message
			if event.Deleted {
				name = "sessions-deleted"
				payload = gin.H{"groupName": event.GroupName}
			}
			c.SSEvent(name, payload)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// GetResults returns the per-group aggregated results of the workspace.
func (h *MonitorHandler) GetResults(c *gin.Context) {
	workspaceID, ok := h.authorizeWorkspace(c, usecase.OperationRead)
	if !ok {
		return
	}

	results, err := h.monitor.AssembledResults(c.Request.Context(), workspaceID)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}

	rows := make([]GroupResultsResponse, 0, len(results))
	for _, result := range results {
		rows = append(rows, GroupResultsResponse{
			GroupName:       result.GroupName,
			BookletsStarted: result.BookletsStarted,
			UnitsMin:        result.UnitsMin,
			UnitsMax:        result.UnitsMax,
			UnitsTotal:      result.UnitsTotal,
			UnitsMean:       result.UnitsMean,
			LastChange:      result.LastChange,
		})
	}
	c.JSON(http.StatusOK, rows)
}

// UnlockGroup clears the locked flag on every test of a group.
func (h *MonitorHandler) UnlockGroup(c *gin.Context) {
	workspaceID, ok := h.authorizeWorkspace(c, usecase.OperationWrite)
	if !ok {
		return
	}

	var req UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "groupName is required"})
		return
	}

	count, err := h.tests.UnlockTestsByGroup(c.Request.Context(), workspaceID, req.GroupName)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

// DeleteResultData purges a group's sessions and result data.
func (h *MonitorHandler) DeleteResultData(c *gin.Context) {
	workspaceID, ok := h.authorizeWorkspace(c, usecase.OperationWrite)
	if !ok {
		return
	}

	count, err := h.admins.DeleteResultData(c.Request.Context(), workspaceID, c.Param("group_name"))
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, CountResponse{Count: count})
}

func (h *MonitorHandler) authorizeWorkspace(c *gin.Context, operation usecase.Operation) (int, bool) {
	workspaceID, err := strconv.Atoi(c.Param("ws_id"))
	if err != nil || workspaceID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid workspace id"})
		return 0, false
	}

	session := middleware.SessionFromContext(c)
	if err := h.policy.Authorize(session, workspaceID, operation); err != nil {
		RespondWithMappedError(c, err)
		return 0, false
	}
	return workspaceID, true
}

func groupsParam(c *gin.Context) []string {
	raw := strings.TrimSpace(c.Query("groups"))
	if raw == "" {
		return nil
	}
	var groups []string
	for _, group := range strings.Split(raw, ",") {
		if group = strings.TrimSpace(group); group != "" {
			groups = append(groups, group)
		}
	}
	return groups
}
