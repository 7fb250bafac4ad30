package api

import (
	"net/http" // HTTP status codes
	"strings"  // String manipulation

	"finance_system/internal/domain" // Importing domain models
	"finance_system/internal/ledger" // Portfolio store
	"finance_system/internal/quote"  // Quote provider
	"finance_system/internal/utils"  // History cache

	"github.com/gin-gonic/gin"      // Gin web framework
	"github.com/shopspring/decimal" // Money arithmetic
	"github.com/sirupsen/logrus"    // Logging library
	"golang.org/x/sync/errgroup"    // Bounded concurrent lookups
)

// quoteConcurrency bounds the parallel quote lookups of one portfolio view
const quoteConcurrency = 4

// HoldingView is one row of the portfolio
type HoldingView struct {
	Symbol         string           `json:"symbol"`
	Name           string           `json:"name"`
	Shares         int64            `json:"shares"`
	PriceAvailable bool             `json:"price_available"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	PriceUSD       string           `json:"price_usd,omitempty"`
	Value          *decimal.Decimal `json:"value,omitempty"`
	ValueUSD       string           `json:"value_usd,omitempty"`
}

// PortfolioView is the home page
type PortfolioView struct {
	Username string          `json:"username"`
	Cash     decimal.Decimal `json:"cash"`
	CashUSD  string          `json:"cash_usd"`
	Holdings []HoldingView   `json:"holdings"`
	Total    decimal.Decimal `json:"total"`
	TotalUSD string          `json:"total_usd"`
	Partial  bool            `json:"partial"` // Some prices could not be fetched
}

// HistoryRow is one trade in the history view
type HistoryRow struct {
	domain.HistoryEntry
	TotalUSD string `json:"total_usd"`
}

// HistoryView is the history page
type HistoryView struct {
	History []HistoryRow `json:"history"`
}

// CashRequest is the add-cash form
type CashRequest struct {
	Cash string `form:"cash"`
}

// IndexHandler values the user's holdings at current prices. A holding whose
// price cannot be fetched is listed without a value and left out of the total.
func IndexHandler(l *ledger.Ledger, quotes quote.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*domain.User) // Set by RequireUser
		ctx := c.Request.Context()
		holdings, err := l.Holdings(ctx, user.ID)
		if err != nil {
			internalError(c, err, "list holdings")
			return
		}

		rows := make([]HoldingView, len(holdings))
		var g errgroup.Group
		g.SetLimit(quoteConcurrency)
		for i, h := range holdings {
			i, h := i, h // per-iteration copies (pre-Go 1.22 loop semantics)
			rows[i] = HoldingView{Symbol: h.Symbol, Name: h.StockName, Shares: h.SharesNumber}
			g.Go(func() error {
				q, err := quotes.Lookup(ctx, h.Symbol)
				if err != nil {
					logrus.WithError(err).WithFields(logrus.Fields{"user_id": user.ID, "symbol": h.Symbol}).Warn("price holding")
					return nil
				}
				value := q.Price.Mul(decimal.NewFromInt(h.SharesNumber))
				rows[i].PriceAvailable = true
				rows[i].Price = &q.Price
				rows[i].PriceUSD = domain.USD(q.Price)
				rows[i].Value = &value
				rows[i].ValueUSD = domain.USD(value)
				return nil
			})
		}
		_ = g.Wait()

		view := PortfolioView{
			Username: user.Username,
			Cash:     user.Cash,
			CashUSD:  domain.USD(user.Cash),
			Holdings: rows,
			Total:    user.Cash,
		}
		for _, r := range rows {
			if !r.PriceAvailable {
				view.Partial = true
				continue
			}
			view.Total = view.Total.Add(*r.Value)
		}
		view.TotalUSD = domain.USD(view.Total)
		c.JSON(http.StatusOK, view)
	}
}

// HistoryHandler lists the user's trades, newest first, through the cache.
// The cache key carries the generation read before the database query, so a
// listing that raced a trade is stored under a generation nobody asks for.
func HistoryHandler(l *ledger.Ledger, cache *utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userID")
		ctx := c.Request.Context()

		var entries []domain.HistoryEntry
		hit := false
		gen, err := cache.Generation(ctx, utils.HistoryGenerationKey(userID))
		cacheable := err == nil // Without a generation the cache is skipped
		if err != nil {
			logrus.WithError(err).WithField("user_id", userID).Warn("read history generation")
		} else if hit, err = cache.Get(ctx, utils.HistoryKey(userID, gen), &entries); err != nil {
			logrus.WithError(err).WithField("user_id", userID).Warn("read history cache")
		}
		if !hit {
			entries, err = l.History(ctx, userID)
			if err != nil {
				internalError(c, err, "list history")
				return
			}
			if cacheable {
				if err := cache.Set(ctx, utils.HistoryKey(userID, gen), entries); err != nil {
					logrus.WithError(err).WithField("user_id", userID).Warn("write history cache")
				}
			}
		}

		view := HistoryView{History: make([]HistoryRow, 0, len(entries))}
		for _, e := range entries {
			view.History = append(view.History, HistoryRow{HistoryEntry: e, TotalUSD: domain.USD(e.Total)})
		}
		c.JSON(http.StatusOK, view)
	}
}

// CashHandler tops up the user's cash by a bounded positive amount of whole cents
func CashHandler(l *ledger.Ledger, maxTopUp decimal.Decimal) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userID")
		var req CashRequest
		if err := c.ShouldBind(&req); err != nil {
			apology(c, "Invalid request", http.StatusBadRequest)
			return
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(req.Cash))
		if err != nil || !amount.IsPositive() || !ledger.IsWholeCents(amount) || amount.GreaterThan(maxTopUp) {
			apology(c, "Please enter a valid amount of cash", http.StatusBadRequest)
			return
		}
		if err := l.AddCash(c.Request.Context(), userID, amount); err != nil {
			internalError(c, err, "add cash")
			return
		}
		logrus.WithFields(logrus.Fields{"user_id": userID, "amount": amount.String()}).Info("cash added")
		c.Redirect(http.StatusSeeOther, "/")
	}
}
