package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kodix/kodix-server/pkg/errors"
	"github.com/kodix/kodix-server/pkg/logger"
	"github.com/kodix/kodix-server/pkg/response"
)

// Recovery converts panics into a 500 response and logs the error. Internals
// never reach the client.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithModule("http").Error("panic",
					zap.String("path", c.Request.URL.Path),
					zap.Any("error", r),
				)
				response.Error(c, errors.ErrInternalServer)
				c.Abort()
			}
		}()
		c.Next()
	}
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, errors.New("NOT_FOUND", "route "+c.Request.URL.Path+" not found", http.StatusNotFound))
}
