package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/transport/http/middleware"
	"github.com/iqb-berlin/testcenter/internal/usecase"
)

// TestHandler serves the booklet lifecycle endpoints for person sessions.
type TestHandler struct {
	tests  *usecase.TestService
	policy *usecase.AccessPolicy
}

// NewTestHandler constructs a TestHandler.
func NewTestHandler(tests *usecase.TestService, policy *usecase.AccessPolicy) *TestHandler {
	return &TestHandler{tests: tests, policy: policy}
}

// RegisterRoutes attaches the test endpoints to the group. The group must
// carry the RequirePerson middleware.
func (h *TestHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.PUT("/test", h.StartTest)
	group.GET("/booklet/:booklet_name/state", h.GetBookletStatus)
	group.POST("/test/:test_id/lock", h.LockTest)
	group.PATCH("/test/:test_id/state", h.PatchTestState)
	group.PUT("/test/:test_id/log", h.PutTestLog)
	group.PUT("/test/:test_id/review", h.PutTestReview)
	group.PUT("/test/:test_id/unit/:unit_name/response", h.PutUnitResponse)
	group.PUT("/test/:test_id/unit/:unit_name/restorepoint", h.PutUnitRestorePoint)
	group.PATCH("/test/:test_id/unit/:unit_name/state", h.PatchUnitState)
	group.PUT("/test/:test_id/unit/:unit_name/log", h.PutUnitLog)
	group.PUT("/test/:test_id/unit/:unit_name/review", h.PutUnitReview)
	group.POST("/test/:test_id/command", h.PostCommand)
}

// StartTest creates the test on first start and returns the existing one on
// repeat starts.
func (h *TestHandler) StartTest(c *gin.Context) {
	resolved := middleware.PersonFromContext(c)

	var req StartTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bookletName is required"})
		return
	}

	if _, ok := resolved.Login.BookletNames(resolved.Person.Code); !ok {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied"})
		return
	}

	test, err := h.tests.GetOrCreateTest(c.Request.Context(), resolved.Person.ID, req.BookletName, req.Label)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, TestResponse{TestID: test.ID, Locked: test.Locked})
}

// GetBookletStatus returns the pre-start view of one booklet.
func (h *TestHandler) GetBookletStatus(c *gin.Context) {
	resolved := middleware.PersonFromContext(c)
	bookletName := c.Param("booklet_name")

	status, err := h.tests.BookletStatus(c.Request.Context(), resolved.Person.ID, bookletName)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, BookletStatusResponse{
		Running:     status.Running,
		CanStart:    status.CanStart,
		StatusLabel: status.StatusLabel,
		Label:       status.Label,
		Locked:      status.Locked,
	})
}

// LockTest finalizes a test; no further writes are accepted.
func (h *TestHandler) LockTest(c *gin.Context) {
	test, ok := h.ownTest(c)
	if !ok {
		return
	}

	if err := h.tests.LockTest(c.Request.Context(), test.ID); err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "test locked"})
}

// PatchTestState merges one key into the test state blob.
func (h *TestHandler) PatchTestState(c *gin.Context) {
	test, ok := h.ownTest(c)
	if !ok {
		return
	}

	var req StateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "key is required"})
		return
	}

	if err := h.tests.UpdateTestState(c.Request.Context(), test.ID, req.Key, req.Value); err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PutTestLog appends one test log line.
func (h *TestHandler) PutTestLog(c *gin.Context) {
	test, ok := h.ownTest(c)
	if !ok {
		return
	}

	var req LogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "entry is required"})
		return
	}

	if err := h.tests.AddTestLog(c.Request.Context(), test.ID, req.Entry, req.Timestamp); err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PutTestReview appends one booklet-level review. Reviews pass even on
// locked tests.
func (h *TestHandler) PutTestReview(c *gin.Context) {
	test, ok := h.ownTest(c)
	if !ok {
		return
	}

	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "entry is required"})
		return
	}

	if err := h.tests.AddTestReview(c.Request.Context(), test.ID, req.Priority, req.Categories, req.Entry); err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PutUnitResponse overwrites the unit's response blob.
func (h *TestHandler) PutUnitResponse(c *gin.Context) {
	test, ok := h.ownTest(c)
	if !ok {
		return
	}

	var req ResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "response is required"})
		return
	}

	err := h.tests.AddResponse(c.Request.Context(), test.ID, c.Param("unit_name"), req.Response, req.ResponseType, req.Timestamp)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PutUnitRestorePoint overwrites the unit's restore point.
func (h *TestHandler) PutUnitRestorePoint(c *gin.Context) {
	test, ok := h.ownTest(c)
	if !ok {
		return
	}

	var req RestorePointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "restorePoint is required"})
		return
	}

	err := h.tests.UpdateRestorePoint(c.Request.Context(), test.ID, c.Param("unit_name"), req.RestorePoint, req.Timestamp)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PatchUnitState merges one key into the unit state blob.
func (h *TestHandler) PatchUnitState(c *gin.Context) {
	test, ok := h.ownTest(c)
	if !ok {
		return
	}

	var req StateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "key is required"})
		return
	}

	err := h.tests.UpdateUnitState(c.Request.Context(), test.ID, c.Param("unit_name"), req.Key, req.Value)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PutUnitLog appends one unit log line.
func (h *TestHandler) PutUnitLog(c *gin.Context) {
	test, ok := h.ownTest(c)
	if !ok {
		return
	}

	var req LogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "entry is required"})
		return
	}

	err := h.tests.AddUnitLog(c.Request.Context(), test.ID, c.Param("unit_name"), req.Entry, req.Timestamp)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PutUnitReview appends one unit-level review.
func (h *TestHandler) PutUnitReview(c *gin.Context) {
	test, ok := h.ownTest(c)
	if !ok {
		return
	}

	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "entry is required"})
		return
	}

	err := h.tests.AddUnitReview(c.Request.Context(), test.ID, c.Param("unit_name"), req.Priority, req.Categories, req.Entry)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PostCommand lets a monitor session send a command to a running test of its
// own group. Ownership is checked against the commanded test's person, not
// the commander.
func (h *TestHandler) PostCommand(c *gin.Context) {
	resolved := middleware.PersonFromContext(c)

	testID, ok := parseTestID(c)
	if !ok {
		return
	}

	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "keyword is required"})
		return
	}

	command := domain.Command{
		Keyword:   req.Keyword,
		Arguments: req.Arguments,
	}
	if req.Timestamp > 0 {
		command.Timestamp = time.UnixMilli(req.Timestamp).UTC()
	}

	id, err := h.tests.StoreCommand(c.Request.Context(), resolved, testID, command)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusCreated, CommandResponse{ID: id})
}

// ownTest loads the addressed test and verifies it belongs to the calling person.
func (h *TestHandler) ownTest(c *gin.Context) (*domain.Test, bool) {
	resolved := middleware.PersonFromContext(c)

	testID, ok := parseTestID(c)
	if !ok {
		return nil, false
	}

	test, err := h.tests.GetTest(c.Request.Context(), testID)
	if err != nil {
		RespondWithMappedError(c, err)
		return nil, false
	}

	if err := h.policy.AuthorizePersonTest(&resolved.Person, test); err != nil {
		RespondWithMappedError(c, err)
		return nil, false
	}
	return test, true
}

func parseTestID(c *gin.Context) (int64, bool) {
	testID, err := strconv.ParseInt(c.Param("test_id"), 10, 64)
	if err != nil || testID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid test id"})
		return 0, false
	}
	return testID, true
}
