package domain

import "github.com/shopspring/decimal" // Exact decimal arithmetic for money

// User Model
type User struct {
	ID       uint            `gorm:"primaryKey" json:"id"`                                  // Primary key
	Username string          `gorm:"size:64;unique;not null" json:"username"`               // Unique username
	Hash     string          `gorm:"column:hash;not null" json:"-"`                         // Hashed password
	Cash     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:10000" json:"cash"` // Cash balance, 10000 unless set
}

// TableName keeps the historical table name
func (User) TableName() string { return "users" }
