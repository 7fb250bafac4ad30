package middleware

import (
	"errors"   // Sentinel error matching
	"net/http" // HTTP status codes
	"time"     // Cookie lifetime

	"finance_system/internal/utils" // Session store

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logging library
)

// SessionCookie is the name of the cookie carrying the session token
const SessionCookie = "session"

// SessionAuthMiddleware resolves the session cookie to a user id and sends
// anonymous visitors to the login page
func SessionAuthMiddleware(sessions *utils.Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(SessionCookie) // Read the session cookie
		if err != nil || token == "" {
			redirectToLogin(c)
			return
		}
		userID, err := sessions.Resolve(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, utils.ErrNoSession) {
				logrus.WithError(err).Error("resolve session")
			}
			redirectToLogin(c)
			return
		}
		c.Set("userID", userID) // Store userID in context
		c.Next()
	}
}

// SetSessionCookie hands the session token to the browser
func SetSessionCookie(c *gin.Context, token string, ttl time.Duration, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, token, int(ttl.Seconds()), "/", "", secure, true)
}

// ClearSessionCookie expires the session cookie
func ClearSessionCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", secure, true)
}

// redirectToLogin stops the chain and sends the browser to the login page
func redirectToLogin(c *gin.Context) {
	c.Redirect(http.StatusSeeOther, "/login")
	c.Abort()
}
