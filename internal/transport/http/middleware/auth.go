package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/usecase"
)

// Context keys under which resolved principals are stored.
const (
	SessionKey = "session"
	PersonKey  = "person"
	TokenKey   = "auth_token"
)

// ErrorResponse matches the handlers.ErrorResponse structure.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AdminSessionResolver resolves an admin token to a session.
type AdminSessionResolver interface {
	SessionByToken(ctx context.Context, token string) (*domain.Session, error)
}

// PersonResolver resolves a person token to the person and its login.
type PersonResolver interface {
	PersonByToken(ctx context.Context, token string) (*domain.LoginWithPerson, error)
}

// ExtractToken pulls the session token from the AuthToken header or a
// Bearer Authorization header.
func ExtractToken(c *gin.Context) string {
	if token := strings.TrimSpace(c.GetHeader("AuthToken")); token != "" {
		return token
	}

	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// RequireAdmin validates the token as an admin session and stores it in the context.
func RequireAdmin(resolver AdminSessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				ErrorResponse{Error: "missing auth token"})
			return
		}

		session, err := resolver.SessionByToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, usecase.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					ErrorResponse{Error: "invalid auth token"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				ErrorResponse{Error: "authentication failed"})
			return
		}

		c.Set(SessionKey, session)
		c.Set(TokenKey, token)
		c.Next()
	}
}

// RequirePerson validates the token as a person session and stores the
// resolved person with its login in the context.
func RequirePerson(resolver PersonResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				ErrorResponse{Error: "missing auth token"})
			return
		}

		resolved, err := resolver.PersonByToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, usecase.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					ErrorResponse{Error: "invalid auth token"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				ErrorResponse{Error: "authentication failed"})
			return
		}

		c.Set(PersonKey, resolved)
		c.Set(TokenKey, token)
		c.Next()
	}
}

// SessionFromContext returns the admin session stored by RequireAdmin.
func SessionFromContext(c *gin.Context) *domain.Session {
	value, ok := c.Get(SessionKey)
	if !ok {
		return nil
	}
	session, _ := value.(*domain.Session)
	return session
}

// PersonFromContext returns the resolved person stored by RequirePerson.
func PersonFromContext(c *gin.Context) *domain.LoginWithPerson {
	value, ok := c.Get(PersonKey)
	if !ok {
		return nil
	}
	resolved, _ := value.(*domain.LoginWithPerson)
	return resolved
}
