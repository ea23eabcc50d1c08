package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/iqb-berlin/testcenter/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// defaultErrorCases covers the usecase sentinels every handler shares. The
// no-login-found message stays generic so callers cannot distinguish wrong
// name, wrong password or expired group.
var defaultErrorCases = []ErrorCase{
	{Err: usecase.ErrUnauthorized, Status: http.StatusUnauthorized, Message: "invalid auth token"},
	{Err: usecase.ErrNoLoginFound, Status: http.StatusBadRequest, Message: "no login found"},
	{Err: usecase.ErrNoAccess, Status: http.StatusForbidden, Message: "access denied"},
	{Err: usecase.ErrLocked, Status: http.StatusForbidden, Message: "test is locked"},
	{Err: usecase.ErrNotFound, Status: http.StatusNotFound, Message: "not found"},
	{Err: usecase.ErrConflict, Status: http.StatusConflict, Message: "conflict"},
	{Err: usecase.ErrInvalid, Status: http.StatusBadRequest, Message: "invalid request"},
}

// RespondWithMappedError resolves the provided error against the shared
// cases plus any handler-specific overrides (checked first).
func RespondWithMappedError(c *gin.Context, err error, cases ...ErrorCase) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range append(cases, defaultErrorCases...) {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, ErrorResponse{Error: cs.Message})
			return
		}
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
