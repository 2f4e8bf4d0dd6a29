package domain

import (
	"time"
)

// PairInfo represents persisted reference metadata for a watchlist pair
type PairInfo struct {
	Symbol        string    `gorm:"primaryKey" json:"symbol"` // canonical "BASE/QUOTE"
	Base          string    `json:"base"`
	Quote         string    `json:"quote"`
	WSName        string    `json:"ws_name"` // symbol as the streaming feed spells it
	PriceDecimals int       `json:"price_decimals"`
	LotDecimals   int       `json:"lot_decimals"`
	OrderMin      string    `json:"order_min"`
	IconPath      string    `json:"icon_path"`
	IsFavorite    bool      `json:"is_favorite" gorm:"index"` // User favorite status
	LastSyncedAt  time.Time `json:"last_synced_at"`           // Last metadata/icon sync time
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CacheRecord backs the disk extension of the request cache (Key-Value
// with expiry; same TTL contract as the in-memory layer)
type CacheRecord struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Payload   []byte    `json:"payload"`
	Expiry    time.Time `json:"expiry" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}
