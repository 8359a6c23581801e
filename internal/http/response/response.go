package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/certsig-backend/internal/platform/apierr"
	"github.com/yungbote/certsig-backend/internal/platform/ctxutil"
)

type APIError struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	respond(c, status, code, msg)
}

// RespondAPIError writes e using its client-safe message.
func RespondAPIError(c *gin.Context, e *apierr.Error) {
	if e == nil {
		respond(c, http.StatusInternalServerError, "internal_error", "unknown error")
		return
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	respond(c, e.Status, e.Code, msg)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func respond(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{
			Message:   msg,
			Code:      code,
			RequestID: ctxutil.RequestID(c.Request.Context()),
		},
	})
}
