package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"finance_system/internal/db/dbtest"
	"finance_system/internal/domain"
	"finance_system/internal/ledger"
	"finance_system/internal/middleware"
	"finance_system/internal/quote"
	"finance_system/internal/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeQuotes is an in-memory quote.Provider
type fakeQuotes struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	down   map[string]bool
}

func (f *fakeQuotes) Lookup(_ context.Context, symbol string) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if f.down[symbol] {
		return domain.Quote{}, quote.ErrUnavailable
	}
	price, ok := f.prices[symbol]
	if !ok {
		return domain.Quote{}, quote.ErrNotFound
	}
	return domain.Quote{Symbol: symbol, Name: symbol + " Corp", Price: price}, nil
}

func (f *fakeQuotes) set(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = decimal.RequireFromString(price)
}

func (f *fakeQuotes) outage(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down[symbol] = true
}

type testApp struct {
	t      *testing.T
	router *gin.Engine
	db     *gorm.DB
	ledger *ledger.Ledger
	quotes *fakeQuotes
	redis  *miniredis.Miniredis
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	gdb := dbtest.New(t)
	l := ledger.New(gdb)
	quotes := &fakeQuotes{prices: map[string]decimal.Decimal{}, down: map[string]bool{}}
	quotes.set("AAPL", "100")
	quotes.set("MSFT", "50")

	router := NewRouter(Deps{
		Ledger:       l,
		Quotes:       quotes,
		Sessions:     utils.NewSessions(rdb, "test-secret", time.Hour),
		Cache:        utils.NewCache(rdb, time.Minute),
		InitialCash:  decimal.NewFromInt(10000),
		MaxCashTopUp: decimal.NewFromInt(1000000),
	})
	return &testApp{t: t, router: router, db: gdb, ledger: l, quotes: quotes, redis: mr}
}

// do sends a form request, authenticated when session is not empty
func (a *testApp) do(method, path, session string, form url.Values) *httptest.ResponseRecorder {
	a.t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if session != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: session})
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// sessionOf returns the session token the response hands out, if any
func sessionOf(rec *httptest.ResponseRecorder) string {
	token := ""
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			token = c.Value
		}
	}
	return token
}

func (a *testApp) register(username string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/register", "", url.Values{
		"username": {username}, "password": {"secret"}, "confirmation": {"secret"},
	})
	require.Equal(a.t, http.StatusSeeOther, rec.Code, rec.Body.String())
	token := sessionOf(rec)
	require.NotEmpty(a.t, token)
	return token
}

func (a *testApp) portfolio(session string) PortfolioView {
	a.t.Helper()
	rec := a.do(http.MethodGet, "/", session, nil)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	var view PortfolioView
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view
}

func (a *testApp) history(session string) []HistoryRow {
	a.t.Helper()
	rec := a.do(http.MethodGet, "/history", session, nil)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	var view HistoryView
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view.History
}

func trade(symbol, shares string) url.Values {
	return url.Values{"symbol": {symbol}, "shares": {shares}}
}

func assertApology(t *testing.T, rec *httptest.ResponseRecorder, code int, msg string) {
	t.Helper()
	assert.Equal(t, code, rec.Code)
	var body middleware.Apology
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	assert.Equal(t, middleware.Apology{Error: msg, Code: code}, body)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestBuySellScenario(t *testing.T) {
	app := newTestApp(t)
	session := app.register("alice")

	view := app.portfolio(session)
	assert.Equal(t, "alice", view.Username)
	assertDecimal(t, "10000", view.Cash)
	assert.Equal(t, "$10,000.00", view.CashUSD)
	assert.Empty(t, view.Holdings)

	rec := app.do(http.MethodPost, "/buy", session, trade("aapl", "10"))
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, "/", rec.Header().Get("Location"))

	view = app.portfolio(session)
	assertDecimal(t, "9000", view.Cash)
	require.Len(t, view.Holdings, 1)
	h := view.Holdings[0]
	assert.Equal(t, "AAPL", h.Symbol)
	assert.Equal(t, "AAPL Corp", h.Name)
	assert.EqualValues(t, 10, h.Shares)
	assert.True(t, h.PriceAvailable)
	assertDecimal(t, "1000", *h.Value)
	assertDecimal(t, "10000", view.Total)
	assert.False(t, view.Partial)

	app.quotes.set("AAPL", "120")
	rec = app.do(http.MethodPost, "/sell", session, trade("AAPL", "10"))
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	view = app.portfolio(session)
	assertDecimal(t, "10200", view.Cash)
	assert.Empty(t, view.Holdings)
	assertDecimal(t, "10200", view.Total)

	history := app.history(session)
	require.Len(t, history, 2)
	assert.Equal(t, domain.TradeSell, history[0].Kind)
	assertDecimal(t, "1200", history[0].Total)
	assert.Equal(t, "$1,200.00", history[0].TotalUSD)
	assert.Equal(t, domain.TradeBuy, history[1].Kind)
	assertDecimal(t, "1000", history[1].Total)
}

func TestBuyValidation(t *testing.T) {
	app := newTestApp(t)
	session := app.register("bob")
	app.quotes.outage("DOWN")

	tests := []struct {
		name   string
		form   url.Values
		code   int
		errMsg string
	}{
		{"not a number", trade("AAPL", "abc"), http.StatusBadRequest, "Please use a number"},
		{"fraction", trade("AAPL", "1.5"), http.StatusBadRequest, "Please use a number"},
		{"missing shares", trade("AAPL", ""), http.StatusBadRequest, "Please use a number"},
		{"zero", trade("AAPL", "0"), http.StatusBadRequest, "Please use a positive number"},
		{"negative", trade("AAPL", "-3"), http.StatusBadRequest, "Please use a positive number"},
		{"no symbol", trade("", "1"), http.StatusBadRequest, "Please use a valid stock symbol"},
		{"unknown symbol", trade("NOPE", "1"), http.StatusBadRequest, "Please use a valid stock symbol"},
		{"provider down", trade("DOWN", "1"), http.StatusServiceUnavailable, "Quote service unavailable"},
		{"too expensive", trade("AAPL", "101"), http.StatusBadRequest, "You don't have enough money"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(http.MethodPost, "/buy", session, tt.form)
			assertApology(t, rec, tt.code, tt.errMsg)
		})
	}

	view := app.portfolio(session)
	assertDecimal(t, "10000", view.Cash)
	assert.Empty(t, view.Holdings)
	assert.Empty(t, app.history(session))
}

func TestBuyExactlyAllCashThenNothingMore(t *testing.T) {
	app := newTestApp(t)
	session := app.register("carol")

	rec := app.do(http.MethodPost, "/buy", session, trade("AAPL", "100"))
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assertDecimal(t, "0", app.portfolio(session).Cash)

	rec = app.do(http.MethodPost, "/buy", session, trade("MSFT", "1"))
	assertApology(t, rec, http.StatusBadRequest, "You don't have enough money")
}

func TestSellValidation(t *testing.T) {
	app := newTestApp(t)
	session := app.register("dave")
	require.Equal(t, http.StatusSeeOther, app.do(http.MethodPost, "/buy", session, trade("AAPL", "5")).Code)

	tests := []struct {
		name   string
		form   url.Values
		errMsg string
	}{
		{"no symbol", trade("", "1"), "Please select a symbol"},
		{"not a number", trade("AAPL", "x"), "Please choose the number of shares you want to sell"},
		{"zero", trade("AAPL", "0"), "Please choose the number of shares you want to sell"},
		{"more than held", trade("AAPL", "6"), "Sorry you can't sell what you don't own"},
		{"not held", trade("MSFT", "1"), "Sorry you can't sell what you don't own"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(http.MethodPost, "/sell", session, tt.form)
			assertApology(t, rec, http.StatusBadRequest, tt.errMsg)
		})
	}

	app.quotes.outage("AAPL")
	rec := app.do(http.MethodPost, "/sell", session, trade("AAPL", "1"))
	assertApology(t, rec, http.StatusServiceUnavailable, "Quote service unavailable")

	view := app.portfolio(session)
	require.Len(t, view.Holdings, 1)
	assert.EqualValues(t, 5, view.Holdings[0].Shares)
}

func TestSellFormListsHoldings(t *testing.T) {
	app := newTestApp(t)
	session := app.register("erin")
	app.do(http.MethodPost, "/buy", session, trade("MSFT", "1"))
	app.do(http.MethodPost, "/buy", session, trade("AAPL", "1"))

	rec := app.do(http.MethodGet, "/sell", session, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var form Form
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &form))
	assert.Equal(t, []string{"AAPL", "MSFT"}, form.Symbols)
	assert.Equal(t, []string{"symbol", "shares"}, form.Fields)
}

func TestQuote(t *testing.T) {
	app := newTestApp(t)
	session := app.register("frank")

	rec := app.do(http.MethodPost, "/quote", session, url.Values{"symbol": {"msft"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var q QuoteView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, "MSFT", q.Symbol)
	assert.Equal(t, "MSFT Corp", q.Name)
	assertDecimal(t, "50", q.Price)
	assert.Equal(t, "$50.00", q.PriceUSD)

	rec = app.do(http.MethodPost, "/quote", session, url.Values{"symbol": {"NOPE"}})
	assertApology(t, rec, http.StatusBadRequest, "Please use a valid stock symbol")
	rec = app.do(http.MethodPost, "/quote", session, url.Values{"symbol": {""}})
	assertApology(t, rec, http.StatusBadRequest, "Please use a valid stock symbol")
}

func TestIndexDegradesWhenAQuoteFails(t *testing.T) {
	app := newTestApp(t)
	session := app.register("gina")
	app.do(http.MethodPost, "/buy", session, trade("AAPL", "2"))
	app.do(http.MethodPost, "/buy", session, trade("MSFT", "4"))
	app.quotes.outage("MSFT")

	view := app.portfolio(session)
	assertDecimal(t, "9600", view.Cash)
	require.Len(t, view.Holdings, 2)
	assert.True(t, view.Holdings[0].PriceAvailable)
	assert.False(t, view.Holdings[1].PriceAvailable)
	assert.Nil(t, view.Holdings[1].Value)
	assert.EqualValues(t, 4, view.Holdings[1].Shares)
	assert.True(t, view.Partial)
	assertDecimal(t, "9800", view.Total)
}

func TestHistoryIsPerUser(t *testing.T) {
	app := newTestApp(t)
	alice := app.register("alice")
	bob := app.register("bob")

	app.do(http.MethodPost, "/buy", alice, trade("AAPL", "1"))
	assert.Len(t, app.history(alice), 1)
	assert.Empty(t, app.history(bob))
}

func TestHistoryCacheIsInvalidatedByTrades(t *testing.T) {
	app := newTestApp(t)
	session := app.register("hank")
	user, err := app.ledger.UserByUsername(context.Background(), "hank")
	require.NoError(t, err)

	assert.Empty(t, app.history(session))
	assert.True(t, app.redis.Exists(utils.HistoryKey(user.ID, 0)))

	app.do(http.MethodPost, "/buy", session, trade("AAPL", "1"))
	gen, err := app.redis.Get(utils.HistoryGenerationKey(user.ID))
	require.NoError(t, err)
	assert.Equal(t, "1", gen)
	assert.Len(t, app.history(session), 1)
	assert.True(t, app.redis.Exists(utils.HistoryKey(user.ID, 1)))

	app.do(http.MethodPost, "/sell", session, trade("AAPL", "1"))
	assert.Len(t, app.history(session), 2)
}

func TestHistoryReadRacingATradeIsNotCached(t *testing.T) {
	app := newTestApp(t)
	session := app.register("owen")

	// Commit a purchase after the history read has loaded the user's rows
	// but before it writes them to the cache
	var fired atomic.Bool
	err := app.db.Callback().Query().After("gorm:query").Register("test:trade_during_history", func(tx *gorm.DB) {
		if tx.Statement.Table == "sold" && fired.CompareAndSwap(false, true) {
			rec := app.do(http.MethodPost, "/buy", session, trade("AAPL", "1"))
			assert.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
		}
	})
	require.NoError(t, err)

	assert.Empty(t, app.history(session))
	require.True(t, fired.Load())

	history := app.history(session)
	require.Len(t, history, 1)
	assert.Equal(t, domain.TradeBuy, history[0].Kind)
}

func TestHistoryFallsBackWhenRedisIsDown(t *testing.T) {
	l := ledger.New(dbtest.New(t))
	user, err := l.CreateUser(context.Background(), "ivan", "x", decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = l.Buy(context.Background(), user.ID, domain.Quote{Symbol: "AAPL", Name: "Apple", Price: decimal.NewFromInt(1)}, 1)
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })
	r := gin.New()
	r.GET("/history", func(c *gin.Context) { c.Set("userID", user.ID) }, HistoryHandler(l, utils.NewCache(rdb, time.Minute)))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history", nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view HistoryView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.History, 1)
	assert.Equal(t, "Apple", view.History[0].Name)
}

func TestAddCash(t *testing.T) {
	app := newTestApp(t)
	session := app.register("judy")

	rec := app.do(http.MethodPost, "/cash", session, url.Values{"cash": {"250.50"}})
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assertDecimal(t, "10250.5", app.portfolio(session).Cash)

	for _, amount := range []string{"", "abc", "0", "-5", "1000000.01", "0.00001", "0.00005", "10.005"} {
		rec := app.do(http.MethodPost, "/cash", session, url.Values{"cash": {amount}})
		assertApology(t, rec, http.StatusBadRequest, "Please enter a valid amount of cash")
	}
	assertDecimal(t, "10250.5", app.portfolio(session).Cash)

	rec = app.do(http.MethodPost, "/cash", session, url.Values{"cash": {"0.10"}})
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assertDecimal(t, "10250.6", app.portfolio(session).Cash)
}

func TestRegisterValidation(t *testing.T) {
	app := newTestApp(t)
	app.register("taken")

	tests := []struct {
		name     string
		username string
		password string
		confirm  string
		errMsg   string
	}{
		{"no username", "", "pw", "pw", "Username is required"},
		{"blank username", "   ", "pw", "pw", "Username is required"},
		{"taken", "taken", "pw", "pw", "This user name is taken"},
		{"taken wins over missing password", "taken", "", "", "This user name is taken"},
		{"no password", "new", "", "", "Password is required"},
		{"mismatch", "new", "pw", "wp", "Passwords don't match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(http.MethodPost, "/register", "", url.Values{
				"username": {tt.username}, "password": {tt.password}, "confirmation": {tt.confirm},
			})
			assertApology(t, rec, http.StatusBadRequest, tt.errMsg)
			assert.Empty(t, sessionOf(rec))
		})
	}

	_, err := app.ledger.UserByUsername(context.Background(), "new")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestRegisterStoresHash(t *testing.T) {
	app := newTestApp(t)
	app.register("kate")

	user, err := app.ledger.UserByUsername(context.Background(), "kate")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", user.Hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.Hash), []byte("secret")))
	assertDecimal(t, "10000", user.Cash)
}

func TestLoginAndLogout(t *testing.T) {
	app := newTestApp(t)
	first := app.register("leo")

	rec := app.do(http.MethodPost, "/login", "", url.Values{"username": {"leo"}, "password": {"secret"}})
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	second := sessionOf(rec)
	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
	assert.Equal(t, http.StatusOK, app.do(http.MethodGet, "/", second, nil).Code)

	rec = app.do(http.MethodPost, "/logout", second, nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Empty(t, sessionOf(rec))

	rec = app.do(http.MethodGet, "/", second, nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	// Logging out without a session still succeeds
	assert.Equal(t, http.StatusSeeOther, app.do(http.MethodGet, "/logout", "", nil).Code)
}

func TestLoginClearsPreviousSession(t *testing.T) {
	app := newTestApp(t)
	session := app.register("mia")

	rec := app.do(http.MethodPost, "/login", session, url.Values{"username": {"mia"}, "password": {"wrong"}})
	assertApology(t, rec, http.StatusForbidden, "invalid username and/or password")

	rec = app.do(http.MethodGet, "/", session, nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestLoginFailures(t *testing.T) {
	app := newTestApp(t)
	app.register("nina")

	tests := []struct {
		name     string
		username string
		password string
		errMsg   string
	}{
		{"no username", "", "secret", "must provide username"},
		{"no password", "nina", "", "must provide password"},
		{"wrong password", "nina", "nope", "invalid username and/or password"},
		{"unknown user", "ghost", "secret", "invalid username and/or password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(http.MethodPost, "/login", "", url.Values{"username": {tt.username}, "password": {tt.password}})
			assertApology(t, rec, http.StatusForbidden, tt.errMsg)
			assert.Empty(t, sessionOf(rec))
		})
	}
}

func TestProtectedRoutesRedirectToLogin(t *testing.T) {
	app := newTestApp(t)

	for _, path := range []string{"/", "/buy", "/sell", "/quote", "/history", "/cash"} {
		rec := app.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusSeeOther, rec.Code, path)
		assert.Equal(t, "/login", rec.Header().Get("Location"), path)
	}
	rec := app.do(http.MethodPost, "/buy", "", trade("AAPL", "1"))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestPublicForms(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodGet, "/register", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var form Form
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &form))
	assert.Equal(t, Form{Action: "register", Method: http.MethodPost, Fields: []string{"username", "password", "confirmation"}}, form)

	assert.Equal(t, http.StatusOK, app.do(http.MethodGet, "/login", "", nil).Code)
}

func TestErrorPages(t *testing.T) {
	app := newTestApp(t)
	app.router.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := app.do(http.MethodGet, "/missing", "", nil)
	assertApology(t, rec, http.StatusNotFound, "Not Found")
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))

	rec = app.do(http.MethodDelete, "/login", "", nil)
	assertApology(t, rec, http.StatusMethodNotAllowed, "Method Not Allowed")

	rec = app.do(http.MethodGet, "/boom", "", nil)
	assertApology(t, rec, http.StatusInternalServerError, "Internal Server Error")

	rec = app.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
}
