package api

import (
	"errors"   // Sentinel error matching
	"net/http" // HTTP status codes

	"finance_system/internal/middleware" // Apology body
	"finance_system/internal/quote"      // Quote provider errors

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// apology aborts the request with msg and the given status
func apology(c *gin.Context, msg string, code int) {
	middleware.Apologize(c, msg, code)
}

// internalError logs err and answers with a generic 500
func internalError(c *gin.Context, err error, msg string) {
	logrus.WithError(err).WithField("path", c.FullPath()).Error(msg)
	apology(c, "Internal Server Error", http.StatusInternalServerError)
}

// quoteFailure turns a quote lookup error into an apology
func quoteFailure(c *gin.Context, symbol string, err error) {
	if errors.Is(err, quote.ErrNotFound) {
		apology(c, "Please use a valid stock symbol", http.StatusBadRequest)
		return
	}
	logrus.WithError(err).WithField("symbol", symbol).Warn("quote lookup failed")
	apology(c, "Quote service unavailable", http.StatusServiceUnavailable)
}
