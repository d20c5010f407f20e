package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"energy-trading-api/internal/models"
	"energy-trading-api/internal/repository"
)

// BalanceLedger owns the authoritative balance state of every factory.
// Each mutating call runs in its own storage transaction.
type BalanceLedger interface {
	GetBalances(ctx context.Context, factoryID string) (*models.FactoryBalance, error)
	DebitEnergy(ctx context.Context, factoryID string, amount decimal.Decimal) (*models.FactoryBalance, error)
	CreditEnergy(ctx context.Context, factoryID string, amount decimal.Decimal) (*models.FactoryBalance, error)
	DebitCurrency(ctx context.Context, factoryID string, amount decimal.Decimal) (*models.FactoryBalance, error)
	CreditCurrency(ctx context.Context, factoryID string, amount decimal.Decimal) (*models.FactoryBalance, error)
	Mint(ctx context.Context, factoryID string, amount decimal.Decimal) (*models.FactoryBalance, error)
	Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error)
	UpdateAvailableEnergy(ctx context.Context, factoryID string, value decimal.Decimal) (*models.FactoryBalance, error)
	UpdateDailyConsumption(ctx context.Context, factoryID string, value decimal.Decimal) (*models.FactoryBalance, error)
}

type balanceLedger struct {
	store     repository.Store
	opTimeout time.Duration
	now       func() time.Time
}

func NewBalanceLedger(store repository.Store, opTimeout time.Duration) BalanceLedger {
	return &balanceLedger{
		store:     store,
		opTimeout: opTimeout,
		now:       time.Now,
	}
}

type TransferRequest struct {
	FromID string          `json:"from_id"`
	ToID   string          `json:"to_id"`
	Kind   BalanceKind     `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

type TransferResult struct {
	From *models.FactoryBalance `json:"from"`
	To   *models.FactoryBalance `json:"to"`
}

func (l *balanceLedger) GetBalances(ctx context.Context, factoryID string) (*models.FactoryBalance, error) {
	ctx, cancel := withOpTimeout(ctx, l.opTimeout)
	defer cancel()
	return l.store.GetBalances(ctx, factoryID)
}

func (l *balanceLedger) DebitEnergy(ctx context.Context, factoryID string, amount decimal.Decimal) (*models.FactoryBalance, error) {
	return l.post(ctx, factoryID, func(ctx context.Context, p *Posting) error {
		return p.Debit(ctx, factoryID, BalanceEnergy, amount)
	})
}

func (l *balanceLedger) CreditEnergy(ctx context.Context, factoryID string, amount decimal.Decimal) (*models.FactoryBalance, error) {
	return l.post(ctx, factoryID, func(ctx context.Context, p *Posting) error {
		return p.Credit(ctx, factoryID, BalanceEnergy, amount)
	})
}

func (l *balanceLedger) DebitCurrency(ctx context.Context, factoryID string, amount decimal.Decimal) (*models.FactoryBalance, error) {
	return l.post(ctx, factoryID, func(ctx context.Context, p *Posting) error {
		return p.Debit(ctx, factoryID, BalanceCurrency, amount)
	})
}

func (l *balanceLedger) CreditCurrency(ctx context.Context, factoryID string, amount decimal.Decimal) (*models.FactoryBalance, error) {
	return l.post(ctx, factoryID, func(ctx context.Context, p *Posting) error {
		return p.Credit(ctx, factoryID, BalanceCurrency, amount)
	})
}

// Mint issues new energy to a factory
func (l *balanceLedger) Mint(ctx context.Context, factoryID string, amount decimal.Decimal) (*models.FactoryBalance, error) {
	return l.CreditEnergy(ctx, factoryID, amount)
}

func (l *balanceLedger) Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	if err := validateAmount(req.Kind, req.Amount); err != nil {
		return nil, err
	}

	ctx, cancel := withOpTimeout(ctx, l.opTimeout)
	defer cancel()

	var result *TransferResult
	err := l.store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		p := NewPosting(tx, l.now())
		if err := p.Transfer(ctx, req.FromID, req.ToID, req.Kind, req.Amount); err != nil {
			return err
		}
		if err := p.Flush(ctx); err != nil {
			return err
		}

		from, err := p.Balance(ctx, req.FromID)
		if err != nil {
			return err
		}
		to, err := p.Balance(ctx, req.ToID)
		if err != nil {
			return err
		}
		result = &TransferResult{From: from, To: to}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (l *balanceLedger) UpdateAvailableEnergy(ctx context.Context, factoryID string, value decimal.Decimal) (*models.FactoryBalance, error) {
	return l.post(ctx, factoryID, func(ctx context.Context, p *Posting) error {
		return p.SetAvailableEnergy(ctx, factoryID, value)
	})
}

func (l *balanceLedger) UpdateDailyConsumption(ctx context.Context, factoryID string, value decimal.Decimal) (*models.FactoryBalance, error) {
	return l.post(ctx, factoryID, func(ctx context.Context, p *Posting) error {
		return p.SetDailyConsumption(ctx, factoryID, value)
	})
}

// post runs a single-factory mutation and returns the committed balance
func (l *balanceLedger) post(ctx context.Context, factoryID string, fn func(ctx context.Context, p *Posting) error) (*models.FactoryBalance, error) {
	ctx, cancel := withOpTimeout(ctx, l.opTimeout)
	defer cancel()

	var updated *models.FactoryBalance
	err := l.store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		p := NewPosting(tx, l.now())
		if err := fn(ctx, p); err != nil {
			return err
		}
		if err := p.Flush(ctx); err != nil {
			return err
		}
		b, err := p.Balance(ctx, factoryID)
		if err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func withOpTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
