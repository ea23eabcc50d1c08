package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/iqb-berlin/testcenter/internal/transport/http/middleware"
	"github.com/iqb-berlin/testcenter/internal/usecase"
)

// SessionHandler serves the session endpoints for all three principal kinds.
type SessionHandler struct {
	admins   *usecase.AdminService
	sessions *usecase.SessionService
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(admins *usecase.AdminService, sessions *usecase.SessionService) *SessionHandler {
	return &SessionHandler{admins: admins, sessions: sessions}
}

// RegisterRoutes attaches the session endpoints to the group.
func (h *SessionHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.PUT("/session/admin", h.PutSessionAdmin)
	group.PUT("/session/login", h.PutSessionLogin)
	group.PUT("/session/person", h.PutSessionPerson)
	group.GET("/session", h.GetSession)
	group.DELETE("/session", h.DeleteSession)
	group.PUT("/user/password", h.SetPassword)
}

// PutSessionAdmin authenticates a workspace administrator.
func (h *SessionHandler) PutSessionAdmin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name is required"})
		return
	}

	session, err := h.admins.Login(c.Request.Context(), req.Name, req.Password)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSessionResponse(session))
}

// PutSessionLogin authenticates a test-taker against the group definitions.
func (h *SessionHandler) PutSessionLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name is required"})
		return
	}

	session, err := h.sessions.LoginWithCredentials(c.Request.Context(), req.Name, req.Password)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSessionResponse(session))
}

// PutSessionPerson turns a codeRequired login session into a person session.
func (h *SessionHandler) PutSessionPerson(c *gin.Context) {
	token := middleware.ExtractToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing auth token"})
		return
	}

	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "code is required"})
		return
	}

	session, err := h.sessions.SubmitCode(c.Request.Context(), token, req.Code)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSessionResponse(session))
}

// GetSession resolves whatever token the caller presents.
func (h *SessionHandler) GetSession(c *gin.Context) {
	token := middleware.ExtractToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing auth token"})
		return
	}

	session, err := h.sessions.SessionByToken(c.Request.Context(), token)
	if err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewSessionResponse(session))
}

// DeleteSession revokes the presented token.
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	token := middleware.ExtractToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing auth token"})
		return
	}

	if err := h.sessions.Logout(c.Request.Context(), token); err != nil {
		RespondWithMappedError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "session closed"})
}

// SetPassword changes the authenticated admin's password.
func (h *SessionHandler) SetPassword(c *gin.Context) {
	token := middleware.ExtractToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing auth token"})
		return
	}

	var req SetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "old and new password are required"})
		return
	}

	err := h.admins.SetPasswordByToken(c.Request.Context(), token, req.OldPassword, req.NewPassword)
	if err != nil {
		// Wrong old password maps to 403 here, not the generic 400 of login.
		RespondWithMappedError(c, err, ErrorCase{
			Err: usecase.ErrNoLoginFound, Status: http.StatusForbidden, Message: "wrong password",
		})
		return
	}
	c.JSON(http.StatusOK, MessageResponse{Message: "password updated"})
}
