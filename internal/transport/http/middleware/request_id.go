package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/iqb-berlin/testcenter/internal/infra/logger"
)

// HeaderRequestID names the header carrying the correlation id. A client may
// supply its own; requests without one get a fresh uuid.
const HeaderRequestID = "X-Request-ID"

// RequestID tags every request with a correlation id, echoes it in the
// response header and attaches it to the request context so log lines of the
// same request can be grouped.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := correlationID(c)
		c.Writer.Header().Set(HeaderRequestID, id)

		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey{}, id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func correlationID(c *gin.Context) string {
	if id := c.GetHeader(HeaderRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}
