package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "playground/internal/errors"
	"playground/internal/logging"
	"playground/internal/observability"
)

// HeaderRequestID carries the request id in and out.
const HeaderRequestID = "X-Request-ID"

// RequestIDMiddleware assigns each request an id and stores it on the
// request context for downstream loggers.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(observability.ContextWithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

// LoggingMiddleware logs one line per request.
func LoggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		requestID := observability.RequestIDFromContext(c.Request.Context())
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("[req:%s] %s %s -> %d in %s: %s", requestID, c.Request.Method, route, status, time.Since(start), c.Errors.String())
		case len(c.Errors) > 0:
			logger.Info("[req:%s] %s %s -> %d in %s: %s", requestID, c.Request.Method, route, status, time.Since(start), c.Errors.Last().Error())
		default:
			logger.Debug("[req:%s] %s %s -> %d in %s", requestID, c.Request.Method, route, status, time.Since(start))
		}
	}
}

// RecoveryMiddleware turns handler panics into internal errors.
func RecoveryMiddleware(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("Handler panic on %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		writeError(c, apperrors.New(apperrors.KindInternal, "internal error"))
	})
}

// CORSMiddleware allows the configured origins; none or "*" allows all.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", HeaderAdminSecret, HeaderRequestID}
	config.ExposeHeaders = []string{HeaderRequestID}
	config.MaxAge = 12 * time.Hour

	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			origins = nil
			break
		}
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}
