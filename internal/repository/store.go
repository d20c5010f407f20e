package repository

import (
	"context"

	"energy-trading-api/internal/models"
)

// TradeFilter narrows trade listings
type TradeFilter struct {
	FactoryID string // matches seller or buyer
	Status    models.TradeStatus
	Limit     int
	Offset    int
}

const (
	DefaultTradeLimit = 50
	MaxTradeLimit     = 500
)

// Normalize clamps the paging values
func (f TradeFilter) Normalize() TradeFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultTradeLimit
	}
	if f.Limit > MaxTradeLimit {
		f.Limit = MaxTradeLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Store is the storage port shared by every backend. Exactly one adapter is
// selected at startup. Implementations map missing rows to NotFound, unique
// key violations to Conflict and driver or commit failures to Unavailable.
type Store interface {
	GetBalances(ctx context.Context, factoryID string) (*models.FactoryBalance, error)
	ListBalances(ctx context.Context) ([]*models.FactoryBalance, error)

	GetFactory(ctx context.Context, factoryID string) (*models.Factory, error)
	GetFactoryByEmail(ctx context.Context, email string) (*models.Factory, error)
	ListFactories(ctx context.Context) ([]*models.Factory, error)

	GetTrade(ctx context.Context, tradeID string) (*models.Trade, error)
	ListTrades(ctx context.Context, filter TradeFilter) ([]*models.Trade, error)

	// WithinTransaction runs fn in one storage transaction. A nil return commits,
	// any error aborts and is returned unchanged.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx exposes the mutations allowed inside a storage transaction. Lock* calls
// take a row lock held until the transaction ends.
type Tx interface {
	CreateFactory(ctx context.Context, factory *models.Factory, balance *models.FactoryBalance) error
	LockBalance(ctx context.Context, factoryID string) (*models.FactoryBalance, error)
	SaveBalance(ctx context.Context, balance *models.FactoryBalance) error

	InsertTrade(ctx context.Context, trade *models.Trade) error
	LockTrade(ctx context.Context, tradeID string) (*models.Trade, error)
	SaveTrade(ctx context.Context, trade *models.Trade) error
}
