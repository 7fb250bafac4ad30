package api

import (
	"errors"   // Sentinel error matching
	"net/http" // HTTP status codes
	"strconv"  // Share count parsing
	"strings"  // String manipulation

	"finance_system/internal/domain" // Importing domain models
	"finance_system/internal/ledger" // Portfolio store
	"finance_system/internal/quote"  // Quote provider
	"finance_system/internal/utils"  // History cache

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Money arithmetic
	"github.com/sirupsen/logrus"    // Logging library
)

// TradeRequest is the buy and sell form. Shares stays a string so a
// non-numeric value can be told apart from a non-positive one.
type TradeRequest struct {
	Symbol string `form:"symbol"`
	Shares string `form:"shares"`
}

// QuoteRequest is the quote form
type QuoteRequest struct {
	Symbol string `form:"symbol"`
}

// QuoteView is the answer to a quote lookup
type QuoteView struct {
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	PriceUSD string          `json:"price_usd"`
}

// QuoteHandler looks up a symbol
func QuoteHandler(quotes quote.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req QuoteRequest
		if err := c.ShouldBind(&req); err != nil {
			apology(c, "Invalid request", http.StatusBadRequest)
			return
		}
		symbol := strings.TrimSpace(req.Symbol)
		if symbol == "" {
			apology(c, "Please use a valid stock symbol", http.StatusBadRequest)
			return
		}
		q, err := quotes.Lookup(c.Request.Context(), symbol)
		if err != nil {
			quoteFailure(c, symbol, err)
			return
		}
		c.JSON(http.StatusOK, QuoteView{Symbol: q.Symbol, Name: q.Name, Price: q.Price, PriceUSD: domain.USD(q.Price)})
	}
}

// BuyHandler buys shares at the current price
func BuyHandler(l *ledger.Ledger, quotes quote.Provider, cache *utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userID")
		var req TradeRequest
		if err := c.ShouldBind(&req); err != nil {
			apology(c, "Invalid request", http.StatusBadRequest)
			return
		}
		shares, err := strconv.ParseInt(strings.TrimSpace(req.Shares), 10, 64)
		if err != nil {
			apology(c, "Please use a number", http.StatusBadRequest)
			return
		}
		if shares < 1 {
			apology(c, "Please use a positive number", http.StatusBadRequest)
			return
		}
		symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
		if symbol == "" {
			apology(c, "Please use a valid stock symbol", http.StatusBadRequest)
			return
		}

		ctx := c.Request.Context()
		q, err := quotes.Lookup(ctx, symbol)
		if err != nil {
			quoteFailure(c, symbol, err)
			return
		}
		purchase, err := l.Buy(ctx, userID, q, shares)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			apology(c, "You don't have enough money", http.StatusBadRequest)
			return
		} else if err != nil {
			internalError(c, err, "buy")
			return
		}
		forgetHistory(c, cache, userID)

		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"symbol":  purchase.Symbol,
			"shares":  purchase.SharesNumber,
			"total":   purchase.Price.String(),
		}).Info("shares bought")
		c.Redirect(http.StatusSeeOther, "/")
	}
}

// SellFormHandler lists the symbols the user can sell
func SellFormHandler(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		holdings, err := l.Holdings(c.Request.Context(), c.GetUint("userID"))
		if err != nil {
			internalError(c, err, "list holdings")
			return
		}
		symbols := make([]string, 0, len(holdings))
		for _, h := range holdings {
			symbols = append(symbols, h.Symbol)
		}
		c.JSON(http.StatusOK, Form{Action: "sell", Method: http.MethodPost, Fields: []string{"symbol", "shares"}, Symbols: symbols})
	}
}

// SellHandler sells owned shares at the current price
func SellHandler(l *ledger.Ledger, quotes quote.Provider, cache *utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userID")
		var req TradeRequest
		if err := c.ShouldBind(&req); err != nil {
			apology(c, "Invalid request", http.StatusBadRequest)
			return
		}
		symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
		if symbol == "" {
			apology(c, "Please select a symbol", http.StatusBadRequest)
			return
		}
		shares, err := strconv.ParseInt(strings.TrimSpace(req.Shares), 10, 64)
		if err != nil || shares < 1 {
			apology(c, "Please choose the number of shares you want to sell", http.StatusBadRequest)
			return
		}

		ctx := c.Request.Context()
		owned, err := l.SharesOf(ctx, userID, symbol)
		if err != nil {
			internalError(c, err, "count shares")
			return
		}
		if owned < shares {
			apology(c, "Sorry you can't sell what you don't own", http.StatusBadRequest)
			return
		}
		q, err := quotes.Lookup(ctx, symbol)
		if err != nil {
			quoteFailure(c, symbol, err)
			return
		}
		sale, err := l.Sell(ctx, userID, q, shares)
		if errors.Is(err, ledger.ErrInsufficientShares) {
			// A concurrent sell got there first
			apology(c, "Sorry you can't sell what you don't own", http.StatusBadRequest)
			return
		} else if err != nil {
			internalError(c, err, "sell")
			return
		}
		forgetHistory(c, cache, userID)

		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"symbol":  sale.Symbol,
			"shares":  sale.SharesNumber,
			"total":   sale.Price.String(),
		}).Info("shares sold")
		c.Redirect(http.StatusSeeOther, "/")
	}
}

// forgetHistory moves the user's history cache to a new generation
func forgetHistory(c *gin.Context, cache *utils.Cache, userID uint) {
	if err := cache.Bump(c.Request.Context(), utils.HistoryGenerationKey(userID)); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("invalidate history cache")
	}
}
