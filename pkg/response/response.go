package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/kodix/kodix-server/pkg/errors"
)

// Response defines the base API payload.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo holds error details to send to clients.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success writes a JSON success response.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
	})
}

// Error writes a JSON error response derived from an AppError.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c.JSON(status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
		},
	})
}

// Redirect answers a gate decision. Browser navigation requests receive a real
// HTTP redirect; API clients asking for JSON receive the location in the body
// so they can route client-side.
func Redirect(c *gin.Context, location string) {
	if location == "" {
		location = "/"
	}

	if WantsJSON(c) {
		c.JSON(http.StatusOK, Response{
			Success: true,
			Data:    gin.H{"redirect_to": location},
		})
		return
	}

	c.Redirect(http.StatusSeeOther, location)
}

// WantsJSON reports whether the client negotiated a JSON response.
func WantsJSON(c *gin.Context) bool {
	accept := c.GetHeader("Accept")
	if accept == "" {
		return true
	}
	offered := c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON)
	return offered != gin.MIMEHTML
}
