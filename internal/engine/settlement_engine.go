package engine

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"energy-trading-api/internal/models"
	"energy-trading-api/internal/repository"
	apperrors "energy-trading-api/pkg/errors"
)

// maxTradeScale bounds the fractional digits of amount and price so that
// their product fits the 8-digit scale of the balance columns
const maxTradeScale = 4

// SettlementEngine drives the trade lifecycle: pending -> completed | cancelled.
type SettlementEngine interface {
	CreateTrade(ctx context.Context, req *CreateTradeRequest) (*models.Trade, error)
	ExecuteTrade(ctx context.Context, tradeID string) (*SettlementResult, error)
	CancelTrade(ctx context.Context, tradeID string) (*models.Trade, error)
	GetTrade(ctx context.Context, tradeID string) (*models.Trade, error)
	ListTrades(ctx context.Context, filter repository.TradeFilter) ([]*models.Trade, error)
}

type settlementEngine struct {
	store     repository.Store
	opTimeout time.Duration
	now       func() time.Time
}

func NewSettlementEngine(store repository.Store, opTimeout time.Duration) SettlementEngine {
	return &settlementEngine{
		store:     store,
		opTimeout: opTimeout,
		now:       time.Now,
	}
}

type CreateTradeRequest struct {
	TradeID      string          `json:"trade_id,omitempty"`
	SellerID     string          `json:"seller_id"`
	BuyerID      string          `json:"buyer_id"`
	EnergyAmount decimal.Decimal `json:"energy_amount"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}

func (r *CreateTradeRequest) Validate() error {
	if strings.TrimSpace(r.SellerID) == "" {
		return apperrors.NewInvalidArgumentError("seller ID is required")
	}
	if strings.TrimSpace(r.BuyerID) == "" {
		return apperrors.NewInvalidArgumentError("buyer ID is required")
	}
	if !r.EnergyAmount.IsPositive() {
		return apperrors.NewInvalidArgumentError("energy amount must be positive, got %s", r.EnergyAmount.String())
	}
	if !r.PricePerUnit.IsPositive() {
		return apperrors.NewInvalidArgumentError("price per unit must be positive, got %s", r.PricePerUnit.String())
	}
	if exceedsScale(r.EnergyAmount, maxTradeScale) {
		return apperrors.NewInvalidArgumentError("energy amount %s has more than %d decimal places", r.EnergyAmount.String(), maxTradeScale)
	}
	if exceedsScale(r.PricePerUnit, maxTradeScale) {
		return apperrors.NewInvalidArgumentError("price per unit %s has more than %d decimal places", r.PricePerUnit.String(), maxTradeScale)
	}
	return nil
}

// SettlementResult carries the completed trade and both parties' post-settlement balances
type SettlementResult struct {
	Trade         *models.Trade          `json:"trade"`
	SellerBalance *models.FactoryBalance `json:"seller_balance"`
	BuyerBalance  *models.FactoryBalance `json:"buyer_balance"`
}

func (e *settlementEngine) CreateTrade(ctx context.Context, req *CreateTradeRequest) (*models.Trade, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := withOpTimeout(ctx, e.opTimeout)
	defer cancel()

	trade := models.NewTrade(strings.TrimSpace(req.TradeID), req.SellerID, req.BuyerID,
		req.EnergyAmount, req.PricePerUnit, e.now())

	err := e.store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertTrade(ctx, trade)
	})
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// ExecuteTrade settles a pending trade. The trade row is locked first, then
// both balance rows in id order; any failure aborts the whole transaction.
func (e *settlementEngine) ExecuteTrade(ctx context.Context, tradeID string) (*SettlementResult, error) {
	if strings.TrimSpace(tradeID) == "" {
		return nil, apperrors.NewInvalidArgumentError("trade ID is required")
	}

	ctx, cancel := withOpTimeout(ctx, e.opTimeout)
	defer cancel()

	var result *SettlementResult
	err := e.store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		trade, err := lockPendingTrade(ctx, tx, tradeID)
		if err != nil {
			return err
		}

		now := e.now()
		p := NewPosting(tx, now)
		if err := p.Lock(ctx, trade.SellerID, trade.BuyerID); err != nil {
			return err
		}
		if err := p.Transfer(ctx, trade.SellerID, trade.BuyerID, BalanceEnergy, trade.EnergyAmount); err != nil {
			return err
		}
		if err := p.Transfer(ctx, trade.BuyerID, trade.SellerID, BalanceCurrency, trade.TotalPrice); err != nil {
			return err
		}
		if err := p.Flush(ctx); err != nil {
			return err
		}

		trade.MarkCompleted(now)
		if err := tx.SaveTrade(ctx, trade); err != nil {
			return err
		}

		seller, err := p.Balance(ctx, trade.SellerID)
		if err != nil {
			return err
		}
		buyer, err := p.Balance(ctx, trade.BuyerID)
		if err != nil {
			return err
		}
		result = &SettlementResult{Trade: trade, SellerBalance: seller, BuyerBalance: buyer}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *settlementEngine) CancelTrade(ctx context.Context, tradeID string) (*models.Trade, error) {
	if strings.TrimSpace(tradeID) == "" {
		return nil, apperrors.NewInvalidArgumentError("trade ID is required")
	}

	ctx, cancel := withOpTimeout(ctx, e.opTimeout)
	defer cancel()

	var cancelled *models.Trade
	err := e.store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		trade, err := lockPendingTrade(ctx, tx, tradeID)
		if err != nil {
			return err
		}
		trade.MarkCancelled(e.now())
		if err := tx.SaveTrade(ctx, trade); err != nil {
			return err
		}
		cancelled = trade
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

func (e *settlementEngine) GetTrade(ctx context.Context, tradeID string) (*models.Trade, error) {
	ctx, cancel := withOpTimeout(ctx, e.opTimeout)
	defer cancel()
	return e.store.GetTrade(ctx, tradeID)
}

func (e *settlementEngine) ListTrades(ctx context.Context, filter repository.TradeFilter) ([]*models.Trade, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperrors.NewInvalidArgumentError("unknown trade status %q", string(filter.Status))
	}
	ctx, cancel := withOpTimeout(ctx, e.opTimeout)
	defer cancel()
	return e.store.ListTrades(ctx, filter)
}

// lockPendingTrade reports a trade that is no longer pending the same way as a missing one
func lockPendingTrade(ctx context.Context, tx repository.Tx, tradeID string) (*models.Trade, error) {
	trade, err := tx.LockTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !trade.IsPending() {
		return nil, apperrors.NewNotFoundError("pending trade", tradeID)
	}
	return trade, nil
}
