package domain

// Holding is the number of shares of one symbol a user currently owns.
// A row exists only while SharesNumber is positive.
type Holding struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	BuyerID      uint   `gorm:"not null;uniqueIndex:idx_owned_buyer_symbol" json:"-"`
	StockName    string `gorm:"size:255;not null" json:"name"`
	SharesNumber int64  `gorm:"not null" json:"shares"`
	Symbol       string `gorm:"size:16;not null;uniqueIndex:idx_owned_buyer_symbol" json:"symbol"`
}

// TableName keeps the historical table name
func (Holding) TableName() string { return "owned" }
