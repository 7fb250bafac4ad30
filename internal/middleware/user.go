package middleware

import (
	"errors"   // Sentinel error matching
	"net/http" // HTTP status codes

	"finance_system/internal/ledger" // Portfolio store

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// RequireUser loads the session user from the database on each request.
// A session that outlived its account is treated as logged out.
func RequireUser(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userID") // Set by SessionAuthMiddleware
		if userID == 0 {
			redirectToLogin(c)
			return
		}
		user, err := l.User(c.Request.Context(), userID)
		if errors.Is(err, ledger.ErrUserNotFound) {
			redirectToLogin(c)
			return
		}
		if err != nil {
			logrus.WithError(err).WithField("user_id", userID).Error("load session user")
			Apologize(c, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		c.Set("user", user)
		c.Next()
	}
}
