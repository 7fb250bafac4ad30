package api

import (
	"net/http" // HTTP status codes

	"finance_system/internal/ledger"     // Portfolio store
	"finance_system/internal/middleware" // Session and cache-control middleware
	"finance_system/internal/quote"      // Quote provider
	"finance_system/internal/utils"      // Sessions and history cache

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Money settings
	"github.com/sirupsen/logrus"    // Logging library
)

// Deps are the collaborators the handlers are built from
type Deps struct {
	Ledger        *ledger.Ledger
	Quotes        quote.Provider
	Sessions      *utils.Sessions
	Cache         *utils.Cache
	InitialCash   decimal.Decimal // Cash granted on registration
	MaxCashTopUp  decimal.Decimal // Largest single add-cash amount
	SecureCookies bool            // Mark the session cookie Secure
}

// NewRouter wires every route of the application
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger(), gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logrus.WithField("panic", recovered).WithField("path", c.Request.URL.Path).Error("recovered from panic")
		apology(c, "Internal Server Error", http.StatusInternalServerError)
	}), middleware.NoCache())

	r.NoRoute(func(c *gin.Context) { apology(c, "Not Found", http.StatusNotFound) })
	r.NoMethod(func(c *gin.Context) { apology(c, "Method Not Allowed", http.StatusMethodNotAllowed) })

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Auth routes
	r.GET("/register", FormHandler("register", "username", "password", "confirmation"))
	r.POST("/register", RegisterHandler(d.Ledger, d.Sessions, d.InitialCash, d.SecureCookies))
	r.GET("/login", FormHandler("login", "username", "password"))
	r.POST("/login", LoginHandler(d.Ledger, d.Sessions, d.SecureCookies))
	r.GET("/logout", LogoutHandler(d.Sessions, d.SecureCookies))
	r.POST("/logout", LogoutHandler(d.Sessions, d.SecureCookies))

	// Portfolio routes (protected by the session)
	auth := r.Group("/")
	auth.Use(middleware.SessionAuthMiddleware(d.Sessions), middleware.RequireUser(d.Ledger))
	auth.GET("/", IndexHandler(d.Ledger, d.Quotes))
	auth.GET("/quote", FormHandler("quote", "symbol"))
	auth.POST("/quote", QuoteHandler(d.Quotes))
	auth.GET("/buy", FormHandler("buy", "symbol", "shares"))
	auth.POST("/buy", BuyHandler(d.Ledger, d.Quotes, d.Cache))
	auth.GET("/sell", SellFormHandler(d.Ledger))
	auth.POST("/sell", SellHandler(d.Ledger, d.Quotes, d.Cache))
	auth.GET("/history", HistoryHandler(d.Ledger, d.Cache))
	auth.GET("/cash", FormHandler("cash", "cash"))
	auth.POST("/cash", CashHandler(d.Ledger, d.MaxCashTopUp))

	return r
}
