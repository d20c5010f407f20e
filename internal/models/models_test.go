package models

import (
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewTrade_FreezesTotalPrice(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	trade := NewTrade("", "A", "B", dec("20"), dec("2"), now)

	assert.True(t, trade.TotalPrice.Equal(dec("40")))
	assert.Equal(t, TradeStatusPending, trade.Status)
	assert.Nil(t, trade.CompletedAt)
	assert.Regexp(t, regexp.MustCompile(`^Trade_\d+_[0-9a-f]{9}$`), trade.ID)
	assert.NoError(t, trade.Validate())
}

func TestTrade_Transitions(t *testing.T) {
	now := time.Now()
	trade := NewTrade("T-1", "A", "B", dec("1"), dec("1"), now)

	clone := trade.Clone()
	trade.MarkCompleted(now)

	assert.Equal(t, TradeStatusCompleted, trade.Status)
	require.NotNil(t, trade.CompletedAt)
	assert.False(t, trade.IsPending())
	assert.True(t, clone.IsPending())
	assert.Nil(t, clone.CompletedAt)

	clone.MarkCancelled(now)
	assert.Equal(t, TradeStatusCancelled, clone.Status)
	assert.NotNil(t, clone.CancelledAt)
}

func TestTrade_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(tr *Trade)
		errorMsg string
	}{
		{"valid", func(tr *Trade) {}, ""},
		{"missing seller", func(tr *Trade) { tr.SellerID = " " }, "seller ID is required"},
		{"zero amount", func(tr *Trade) { tr.EnergyAmount = decimal.Zero }, "energy amount must be positive"},
		{"negative price", func(tr *Trade) { tr.PricePerUnit = dec("-1") }, "price per unit must be positive"},
		{"drifted total", func(tr *Trade) { tr.TotalPrice = dec("1") }, "total price does not match"},
		{"bad status", func(tr *Trade) { tr.Status = "settled" }, "invalid trade status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTrade("T", "A", "B", dec("3"), dec("1.5"), time.Now())
			tt.mutate(tr)
			err := tr.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestFactoryBalance_EnergyStatus(t *testing.T) {
	tests := []struct {
		available string
		daily     string
		status    string
		diff      string
	}{
		{"1200", "800", EnergyStatusSurplus, "400"},
		{"250", "900", EnergyStatusDeficit, "-650"},
		{"500", "500", EnergyStatusBalanced, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			avail := dec(tt.available)
			b := NewFactoryBalance("F", dec("1"), dec("1"), &avail, dec(tt.daily), time.Now())
			st := b.EnergyStatus()
			assert.Equal(t, tt.status, st.Status)
			assert.True(t, st.Difference.Equal(dec(tt.diff)))
		})
	}
}

func TestNewFactoryBalance_AvailableDefaultsToEnergy(t *testing.T) {
	b := NewFactoryBalance("F", dec("75"), dec("10"), nil, decimal.Zero, time.Now())
	assert.True(t, b.AvailableEnergy.Equal(dec("75")))
	assert.NoError(t, b.Validate())

	b.CurrencyBalance = dec("-0.01")
	assert.EqualError(t, b.Validate(), "currency balance cannot be negative")
}

func TestGenerateFactoryID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := GenerateFactoryID(now)
	assert.Regexp(t, `^Factory_1700000000123_[0-9a-f]{9}$`, id)
	assert.NotEqual(t, id, GenerateFactoryID(now))
}
