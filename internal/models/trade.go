package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the lifecycle state of a trade
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusCancelled TradeStatus = "cancelled"
)

// Valid reports whether s is a known status
func (s TradeStatus) Valid() bool {
	switch s {
	case TradeStatusPending, TradeStatusCompleted, TradeStatusCancelled:
		return true
	}
	return false
}

// Trade is an agreement to exchange a fixed energy amount for a fixed total price
type Trade struct {
	ID           string          `json:"trade_id" db:"trade_id" gorm:"column:trade_id;primaryKey;size:64"`
	SellerID     string          `json:"seller_id" db:"seller_id" gorm:"size:64;not null;index"`
	BuyerID      string          `json:"buyer_id" db:"buyer_id" gorm:"size:64;not null;index"`
	EnergyAmount decimal.Decimal `json:"energy_amount" db:"energy_amount" gorm:"type:decimal(38,8);not null"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" db:"price_per_unit" gorm:"type:decimal(38,8);not null"`
	TotalPrice   decimal.Decimal `json:"total_price" db:"total_price" gorm:"type:decimal(38,8);not null"`
	Status       TradeStatus     `json:"status" db:"status" gorm:"size:16;not null;index"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at" gorm:"autoCreateTime:false"`
	CompletedAt  *time.Time      `json:"completed_at" db:"completed_at"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

func (Trade) TableName() string {
	return "trades"
}

// NewTrade builds a pending trade; the total price is fixed here and never recomputed
func NewTrade(id, sellerID, buyerID string, amount, pricePerUnit decimal.Decimal, now time.Time) *Trade {
	if id == "" {
		id = GenerateTradeID(now)
	}
	return &Trade{
		ID:           id,
		SellerID:     sellerID,
		BuyerID:      buyerID,
		EnergyAmount: amount,
		PricePerUnit: pricePerUnit,
		TotalPrice:   amount.Mul(pricePerUnit),
		Status:       TradeStatusPending,
		CreatedAt:    now.UTC(),
	}
}

func (t *Trade) IsPending() bool {
	return t.Status == TradeStatusPending
}

// Involves reports whether the factory is a party to the trade
func (t *Trade) Involves(factoryID string) bool {
	return t.SellerID == factoryID || t.BuyerID == factoryID
}

func (t *Trade) MarkCompleted(now time.Time) {
	ts := now.UTC()
	t.Status = TradeStatusCompleted
	t.CompletedAt = &ts
}

func (t *Trade) MarkCancelled(now time.Time) {
	ts := now.UTC()
	t.Status = TradeStatusCancelled
	t.CancelledAt = &ts
}

// Clone returns an independent copy of the trade
func (t *Trade) Clone() *Trade {
	c := *t
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	if t.CancelledAt != nil {
		ts := *t.CancelledAt
		c.CancelledAt = &ts
	}
	return &c
}

// Validate validates the trade record
func (t *Trade) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("trade ID is required")
	}
	if strings.TrimSpace(t.SellerID) == "" {
		return fmt.Errorf("seller ID is required")
	}
	if strings.TrimSpace(t.BuyerID) == "" {
		return fmt.Errorf("buyer ID is required")
	}
	if !t.EnergyAmount.IsPositive() {
		return fmt.Errorf("energy amount must be positive")
	}
	if !t.PricePerUnit.IsPositive() {
		return fmt.Errorf("price per unit must be positive")
	}
	if !t.TotalPrice.Equal(t.EnergyAmount.Mul(t.PricePerUnit)) {
		return fmt.Errorf("total price does not match amount and price per unit")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid trade status: %s", t.Status)
	}
	return nil
}
