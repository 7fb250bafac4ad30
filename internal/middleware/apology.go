package middleware

import "github.com/gin-gonic/gin" // Gin web framework

// Apology is the body of every user-facing failure
type Apology struct {
	Error string `json:"error"` // Message shown to the user
	Code  int    `json:"code"`  // HTTP status, repeated in the body
}

// Apologize aborts the request with msg and the given status
func Apologize(c *gin.Context, msg string, code int) {
	c.AbortWithStatusJSON(code, Apology{Error: msg, Code: code})
}
