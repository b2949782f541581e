package models

import "time"

// CartItem is one selected product line. Prices are stored in minor
// currency units.
type CartItem struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProductID int64     `gorm:"uniqueIndex;not null" json:"product_id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	UnitPrice int64     `gorm:"not null" json:"unit_price"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CartSnapshot is the full cart state as read at checkout time.
type CartSnapshot struct {
	Items []CartItem `json:"items"`
	Total int64      `json:"total"`
}
