package quote

import (
	"context"
	"errors"

	"finance_system/internal/domain"
)

// Errors returned by Provider implementations
var (
	// ErrNotFound means the provider does not know the symbol
	ErrNotFound = errors.New("symbol not found")
	// ErrUnavailable means the provider could not answer (network, rate limit, bad payload)
	ErrUnavailable = errors.New("quote service unavailable")
)

// Provider looks up the current quote of a ticker symbol
type Provider interface {
	Lookup(ctx context.Context, symbol string) (domain.Quote, error)
}

// globalQuoteResponse is the GLOBAL_QUOTE payload
type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol string `json:"01. symbol"`
		Price  string `json:"05. price"`
	} `json:"Global Quote"`
	Note        string `json:"Note"`
	Information string `json:"Information"`
	Error       string `json:"Error Message"`
}

// symbolSearchResponse is the SYMBOL_SEARCH payload
type symbolSearchResponse struct {
	BestMatches []struct {
		Symbol string `json:"1. symbol"`
		Name   string `json:"2. name"`
	} `json:"bestMatches"`
}
