package api

import (
	"net/http" // HTTP status codes

	"github.com/gin-gonic/gin" // Gin web framework
)

// Form describes the fields a POST to Action expects
type Form struct {
	Action  string   `json:"action"`
	Method  string   `json:"method"`
	Fields  []string `json:"fields"`
	Symbols []string `json:"symbols,omitempty"` // Choices for the symbol field
}

// FormHandler serves the descriptor of a form
func FormHandler(action string, fields ...string) gin.HandlerFunc {
	form := Form{Action: action, Method: http.MethodPost, Fields: fields}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, form)
	}
}
