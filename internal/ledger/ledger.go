// Package ledger records cash balances, holdings and the trade log of every
// user. Each mutation runs in a single database transaction and guards its
// invariant with a conditional update, so concurrent requests for the same
// user can neither overspend cash nor oversell a holding.
package ledger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"finance_system/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Errors returned by the ledger, matched with errors.Is
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInvalidAmount      = errors.New("invalid amount")
)

// Ledger is the portfolio store backed by gorm
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

// New returns a Ledger using db
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// CreateUser inserts a user with the given password hash and starting cash
func (l *Ledger) CreateUser(ctx context.Context, username, hash string, cash decimal.Decimal) (*domain.User, error) {
	if _, err := l.UserByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	user := domain.User{Username: username, Hash: hash, Cash: cash}
	if err := l.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user %q: %w", username, err)
	}
	return &user, nil
}

// UserByUsername looks a user up by name
func (l *Ledger) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	err := l.db.WithContext(ctx).Where("username = ?", username).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get user %q: %w", username, err)
	}
	return &user, nil
}

// User looks a user up by id
func (l *Ledger) User(ctx context.Context, id uint) (*domain.User, error) {
	var user domain.User
	err := l.db.WithContext(ctx).Take(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &user, nil
}

// Holdings returns the user's current holdings ordered by symbol
func (l *Ledger) Holdings(ctx context.Context, userID uint) ([]domain.Holding, error) {
	var holdings []domain.Holding
	if err := l.db.WithContext(ctx).Where("buyer_id = ?", userID).Order("symbol").Find(&holdings).Error; err != nil {
		return nil, fmt.Errorf("list holdings of user %d: %w", userID, err)
	}
	return holdings, nil
}

// SharesOf returns how many shares of symbol the user holds, zero if none
func (l *Ledger) SharesOf(ctx context.Context, userID uint, symbol string) (int64, error) {
	var holding domain.Holding
	err := l.db.WithContext(ctx).Where("buyer_id = ? AND symbol = ?", userID, normalize(symbol)).Take(&holding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("get holding %s of user %d: %w", symbol, userID, err)
	}
	return holding.SharesNumber, nil
}

// Buy debits price × shares from the user's cash, logs the purchase and adds
// the shares to the holding, all or nothing.
func (l *Ledger) Buy(ctx context.Context, userID uint, q domain.Quote, shares int64) (*domain.Purchase, error) {
	if shares < 1 || !q.Price.IsPositive() {
		return nil, ErrInvalidAmount
	}
	symbol := normalize(q.Symbol)
	purchase := domain.Purchase{
		BuyerID:      userID,
		StockName:    q.Name,
		Price:        q.Price.Mul(decimal.NewFromInt(shares)),
		SharesNumber: shares,
		Symbol:       symbol,
		Time:         l.now().UTC(),
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.User{}).
			Where("id = ? AND cash >= ?", userID, purchase.Price).
			Update("cash", gorm.Expr("cash - ?", purchase.Price))
		if res.Error != nil {
			return fmt.Errorf("debit cash: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientFunds
		}
		if err := tx.Create(&purchase).Error; err != nil {
			return fmt.Errorf("log purchase: %w", err)
		}
		// One statement so two first buys of a symbol cannot both insert
		holding := domain.Holding{BuyerID: userID, StockName: q.Name, SharesNumber: shares, Symbol: symbol}
		upsert := clause.OnConflict{
			Columns:   []clause.Column{{Name: "buyer_id"}, {Name: "symbol"}},
			DoUpdates: clause.Assignments(map[string]any{"shares_number": gorm.Expr("owned.shares_number + ?", shares), "stock_name": q.Name}),
		}
		err := tx.Clauses(upsert).Create(&holding).Error
		if err != nil {
			return fmt.Errorf("upsert holding: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

// Sell removes shares from the holding, deleting it when empty, logs the sale
// and credits price × shares to the user's cash, all or nothing.
func (l *Ledger) Sell(ctx context.Context, userID uint, q domain.Quote, shares int64) (*domain.Sale, error) {
	if shares < 1 || q.Price.IsNegative() {
		return nil, ErrInvalidAmount
	}
	symbol := normalize(q.Symbol)
	sale := domain.Sale{
		SellerID:     userID,
		Symbol:       symbol,
		StockName:    q.Name,
		SharesNumber: shares,
		Price:        q.Price.Mul(decimal.NewFromInt(shares)),
		Time:         l.now().UTC(),
	}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Holding{}).
			Where("buyer_id = ? AND symbol = ? AND shares_number >= ?", userID, symbol, shares).
			Update("shares_number", gorm.Expr("shares_number - ?", shares))
		if res.Error != nil {
			return fmt.Errorf("decrement holding: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientShares
		}
		if err := tx.Where("buyer_id = ? AND symbol = ? AND shares_number <= 0", userID, symbol).
			Delete(&domain.Holding{}).Error; err != nil {
			return fmt.Errorf("drop empty holding: %w", err)
		}
		if err := tx.Create(&sale).Error; err != nil {
			return fmt.Errorf("log sale: %w", err)
		}
		return credit(tx, userID, sale.Price)
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// AddCash credits a positive amount of whole cents to the user's balance
func (l *Ledger) AddCash(ctx context.Context, userID uint, amount decimal.Decimal) error {
	if !amount.IsPositive() || !IsWholeCents(amount) {
		return ErrInvalidAmount
	}
	return credit(l.db.WithContext(ctx), userID, amount)
}

// IsWholeCents reports whether amount has no fraction of a cent
func IsWholeCents(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(2))
}

// credit adds amount to the user's cash on tx
func credit(tx *gorm.DB, userID uint, amount decimal.Decimal) error {
	res := tx.Model(&domain.User{}).Where("id = ?", userID).Update("cash", gorm.Expr("cash + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("credit cash: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// History merges the user's purchases and sales, newest first. Entries with
// the same timestamp list sales before purchases, then higher ids first.
func (l *Ledger) History(ctx context.Context, userID uint) ([]domain.HistoryEntry, error) {
	var purchases []domain.Purchase
	if err := l.db.WithContext(ctx).Where("buyer_id = ?", userID).Find(&purchases).Error; err != nil {
		return nil, fmt.Errorf("list purchases of user %d: %w", userID, err)
	}
	var sales []domain.Sale
	if err := l.db.WithContext(ctx).Where("seller_id = ?", userID).Find(&sales).Error; err != nil {
		return nil, fmt.Errorf("list sales of user %d: %w", userID, err)
	}

	entries := make([]domain.HistoryEntry, 0, len(purchases)+len(sales))
	for _, p := range purchases {
		entries = append(entries, domain.HistoryEntry{
			ID: p.ID, Kind: domain.TradeBuy, Symbol: p.Symbol, Name: p.StockName,
			Shares: p.SharesNumber, Total: p.Price, Time: p.Time,
		})
	}
	for _, s := range sales {
		entries = append(entries, domain.HistoryEntry{
			ID: s.ID, Kind: domain.TradeSell, Symbol: s.Symbol, Name: s.StockName,
			Shares: s.SharesNumber, Total: s.Price, Time: s.Time,
		})
	}
	slices.SortFunc(entries, func(a, b domain.HistoryEntry) int {
		if c := b.Time.Compare(a.Time); c != 0 {
			return c
		}
		if a.Kind != b.Kind {
			return cmp.Compare(b.Kind, a.Kind) // "sell" sorts before "buy"
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return entries, nil
}

// normalize upper-cases a ticker symbol
func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
