package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type APIError struct {
	Message       string `json:"message"`
	Code          string `json:"code,omitempty"`
	Constraint    string `json:"constraint,omitempty"`
	CurrentStatus string `json:"current_status,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	RespondAPIError(c, status, APIError{Message: message(err), Code: code})
}

func RespondAPIError(c *gin.Context, status int, apiErr APIError) {
	if apiErr.Message == "" {
		apiErr.Message = "unknown error"
	}
	c.JSON(status, ErrorEnvelope{Error: apiErr})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}

func message(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
