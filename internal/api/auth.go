package api

import (
	"errors"   // Sentinel error matching
	"net/http" // HTTP status codes
	"strings"  // String manipulation

	"finance_system/internal/ledger"     // Portfolio store
	"finance_system/internal/middleware" // Session cookie helpers
	"finance_system/internal/utils"      // Session store

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Money arithmetic
	"github.com/sirupsen/logrus"    // Logging library
	"golang.org/x/crypto/bcrypt"    // Password hashing
)

// RegisterRequest is the registration form
type RegisterRequest struct {
	Username     string `form:"username"`
	Password     string `form:"password"`
	Confirmation string `form:"confirmation"`
}

// LoginRequest is the login form
type LoginRequest struct {
	Username string `form:"username"`
	Password string `form:"password"`
}

// RegisterHandler creates an account with the starting cash and logs it in
func RegisterHandler(l *ledger.Ledger, sessions *utils.Sessions, initialCash decimal.Decimal, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBind(&req); err != nil {
			apology(c, "Invalid request", http.StatusBadRequest)
			return
		}
		ctx := c.Request.Context()
		username := strings.TrimSpace(req.Username)
		if username == "" {
			apology(c, "Username is required", http.StatusBadRequest)
			return
		}
		if _, err := l.UserByUsername(ctx, username); err == nil {
			apology(c, "This user name is taken", http.StatusBadRequest)
			return
		} else if !errors.Is(err, ledger.ErrUserNotFound) {
			internalError(c, err, "lookup username")
			return
		}
		if req.Password == "" {
			apology(c, "Password is required", http.StatusBadRequest)
			return
		}
		if req.Password != req.Confirmation {
			apology(c, "Passwords don't match", http.StatusBadRequest)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			internalError(c, err, "hash password")
			return
		}
		user, err := l.CreateUser(ctx, username, string(hash), initialCash)
		if errors.Is(err, ledger.ErrUsernameTaken) {
			// Lost a race with a concurrent registration
			apology(c, "This user name is taken", http.StatusBadRequest)
			return
		} else if err != nil {
			internalError(c, err, "create user")
			return
		}

		token, err := sessions.Issue(ctx, user.ID)
		if err != nil {
			internalError(c, err, "issue session")
			return
		}
		middleware.SetSessionCookie(c, token, sessions.TTL(), secure)
		logrus.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("user registered")
		c.Redirect(http.StatusSeeOther, "/")
	}
}

// LoginHandler forgets any current session, checks the credentials and
// starts a new session
func LoginHandler(l *ledger.Ledger, sessions *utils.Sessions, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		endSession(c, sessions, secure)

		var req LoginRequest
		if err := c.ShouldBind(&req); err != nil {
			apology(c, "Invalid request", http.StatusBadRequest)
			return
		}
		if req.Username == "" {
			apology(c, "must provide username", http.StatusForbidden)
			return
		}
		if req.Password == "" {
			apology(c, "must provide password", http.StatusForbidden)
			return
		}

		ctx := c.Request.Context()
		user, err := l.UserByUsername(ctx, strings.TrimSpace(req.Username))
		if err != nil && !errors.Is(err, ledger.ErrUserNotFound) {
			internalError(c, err, "lookup user")
			return
		}
		// Same answer for an unknown user and a wrong password
		if user == nil || bcrypt.CompareHashAndPassword([]byte(user.Hash), []byte(req.Password)) != nil {
			apology(c, "invalid username and/or password", http.StatusForbidden)
			return
		}

		token, err := sessions.Issue(ctx, user.ID)
		if err != nil {
			internalError(c, err, "issue session")
			return
		}
		middleware.SetSessionCookie(c, token, sessions.TTL(), secure)
		logrus.WithField("user_id", user.ID).Info("user logged in")
		c.Redirect(http.StatusSeeOther, "/")
	}
}

// LogoutHandler revokes the session, if any, and clears the cookie
func LogoutHandler(sessions *utils.Sessions, secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		endSession(c, sessions, secure)
		c.Redirect(http.StatusSeeOther, "/")
	}
}

// endSession revokes the request's session token, if any, and clears the cookie
func endSession(c *gin.Context, sessions *utils.Sessions, secure bool) {
	if token, err := c.Cookie(middleware.SessionCookie); err == nil && token != "" {
		if err := sessions.Revoke(c.Request.Context(), token); err != nil {
			logrus.WithError(err).Warn("revoke session")
		}
	}
	middleware.ClearSessionCookie(c, secure)
}
