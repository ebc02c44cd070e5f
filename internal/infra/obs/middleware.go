package obs

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"campusmarket/internal/app/outbox"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "user_id"

const (
	requestIDHeader   = "X-Request-ID"
	traceparentHeader = "traceparent"
)

type Middleware struct {
	Logger *slog.Logger
}

// Correlation tags the request with an X-Request-ID, minting one when the
// caller sent none. The id and any incoming traceparent ride along into the
// headers of events the request records.
func (m Middleware) Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		ctx := outbox.WithRequestID(WithRequestID(c.Request.Context(), id), id)
		if tp := c.GetHeader(traceparentHeader); tp != "" {
			ctx = outbox.WithTraceparent(ctx, tp)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// AccessLog writes one line per request. Server errors log at error level.
func (m Middleware) AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m.Logger == nil {
			return
		}
		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
		}
		if user := c.GetString(UserIDKey); user != "" {
			attrs = append(attrs, "user_id", user)
		}
		m.Logger.Log(c.Request.Context(), level, "http", attrs...)
	}
}

type requestIDKey struct{}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
