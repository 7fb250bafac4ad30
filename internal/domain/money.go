package domain

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// USD formats an amount as US dollars, e.g. "$1,234.56".
func USD(d decimal.Decimal) string {
	cur := money.GetCurrency(money.USD)
	cents := d.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(cents, money.USD).Display()
}
