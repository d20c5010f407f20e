package engine

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"energy-trading-api/internal/models"
	"energy-trading-api/internal/repository"
	apperrors "energy-trading-api/pkg/errors"
)

// BalanceKind selects which balance a ledger operation moves
type BalanceKind string

const (
	BalanceEnergy   BalanceKind = "energy"
	BalanceCurrency BalanceKind = "currency"
)

func (k BalanceKind) Valid() bool {
	return k == BalanceEnergy || k == BalanceCurrency
}

// maxAmountScale is the number of fractional digits the stores keep
const maxAmountScale = 8

// Posting is the unit of work for balance mutations inside one storage
// transaction. Each touched row is locked once and kept in memory, so repeated
// access to the same factory (self-transfers, self-trades) sees its own writes.
// Dirty rows are written back by Flush before the transaction commits.
type Posting struct {
	tx     repository.Tx
	now    time.Time
	loaded map[string]*models.FactoryBalance
	dirty  map[string]bool
}

func NewPosting(tx repository.Tx, now time.Time) *Posting {
	return &Posting{
		tx:     tx,
		now:    now,
		loaded: make(map[string]*models.FactoryBalance),
		dirty:  make(map[string]bool),
	}
}

// Lock acquires row locks in sorted id order to avoid lock-order deadlocks
func (p *Posting) Lock(ctx context.Context, factoryIDs ...string) error {
	ids := append([]string(nil), factoryIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := p.balance(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Balance returns a copy of the current in-transaction view of a factory
func (p *Posting) Balance(ctx context.Context, factoryID string) (*models.FactoryBalance, error) {
	b, err := p.balance(ctx, factoryID)
	if err != nil {
		return nil, err
	}
	return b.Clone(), nil
}

func (p *Posting) Debit(ctx context.Context, factoryID string, kind BalanceKind, amount decimal.Decimal) error {
	if err := validateAmount(kind, amount); err != nil {
		return err
	}
	b, err := p.balance(ctx, factoryID)
	if err != nil {
		return err
	}

	switch kind {
	case BalanceEnergy:
		if b.EnergyBalance.LessThan(amount) {
			return apperrors.NewInsufficientFundsError("factory %s has insufficient energy balance: has %s, needs %s",
				factoryID, b.EnergyBalance.String(), amount.String())
		}
		b.EnergyBalance = b.EnergyBalance.Sub(amount)
		b.AvailableEnergy = decimal.Max(decimal.Zero, b.AvailableEnergy.Sub(amount))
	case BalanceCurrency:
		if b.CurrencyBalance.LessThan(amount) {
			return apperrors.NewInsufficientFundsError("factory %s has insufficient currency balance: has %s, needs %s",
				factoryID, b.CurrencyBalance.String(), amount.String())
		}
		b.CurrencyBalance = b.CurrencyBalance.Sub(amount)
	}

	p.markDirty(b)
	return nil
}

func (p *Posting) Credit(ctx context.Context, factoryID string, kind BalanceKind, amount decimal.Decimal) error {
	if err := validateAmount(kind, amount); err != nil {
		return err
	}
	b, err := p.balance(ctx, factoryID)
	if err != nil {
		return err
	}

	switch kind {
	case BalanceEnergy:
		b.EnergyBalance = b.EnergyBalance.Add(amount)
		b.AvailableEnergy = b.AvailableEnergy.Add(amount)
	case BalanceCurrency:
		b.CurrencyBalance = b.CurrencyBalance.Add(amount)
	}

	p.markDirty(b)
	return nil
}

// Transfer debits fromID and then credits toID; the credit is skipped when the debit fails
func (p *Posting) Transfer(ctx context.Context, fromID, toID string, kind BalanceKind, amount decimal.Decimal) error {
	if err := validateAmount(kind, amount); err != nil {
		return err
	}
	if err := p.Lock(ctx, fromID, toID); err != nil {
		return err
	}
	if err := p.Debit(ctx, fromID, kind, amount); err != nil {
		return err
	}
	return p.Credit(ctx, toID, kind, amount)
}

// SetAvailableEnergy overrides available energy without touching the energy balance
func (p *Posting) SetAvailableEnergy(ctx context.Context, factoryID string, value decimal.Decimal) error {
	if err := ValidateLevel("available energy", value); err != nil {
		return err
	}
	b, err := p.balance(ctx, factoryID)
	if err != nil {
		return err
	}
	b.AvailableEnergy = value
	p.markDirty(b)
	return nil
}

func (p *Posting) SetDailyConsumption(ctx context.Context, factoryID string, value decimal.Decimal) error {
	if err := ValidateLevel("daily consumption", value); err != nil {
		return err
	}
	b, err := p.balance(ctx, factoryID)
	if err != nil {
		return err
	}
	b.DailyConsumption = value
	p.markDirty(b)
	return nil
}

// Flush writes every mutated row back to the transaction
func (p *Posting) Flush(ctx context.Context) error {
	ids := make([]string, 0, len(p.dirty))
	for id := range p.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		b := p.loaded[id]
		if err := b.Validate(); err != nil {
			return apperrors.NewInternalError("refusing to persist invalid balance", err)
		}
		if err := p.tx.SaveBalance(ctx, b); err != nil {
			return err
		}
		delete(p.dirty, id)
	}
	return nil
}

func (p *Posting) balance(ctx context.Context, factoryID string) (*models.FactoryBalance, error) {
	if factoryID == "" {
		return nil, apperrors.NewInvalidArgumentError("factory ID is required")
	}
	if b, ok := p.loaded[factoryID]; ok {
		return b, nil
	}
	b, err := p.tx.LockBalance(ctx, factoryID)
	if err != nil {
		return nil, err
	}
	p.loaded[factoryID] = b
	return b, nil
}

func (p *Posting) markDirty(b *models.FactoryBalance) {
	b.Touch(p.now)
	p.dirty[b.FactoryID] = true
}

func validateAmount(kind BalanceKind, amount decimal.Decimal) error {
	if !kind.Valid() {
		return apperrors.NewInvalidArgumentError("unknown balance kind %q", string(kind))
	}
	if !amount.IsPositive() {
		return apperrors.NewInvalidArgumentError("amount must be positive, got %s", amount.String())
	}
	if exceedsScale(amount, maxAmountScale) {
		return apperrors.NewInvalidArgumentError("amount %s has more than %d decimal places", amount.String(), maxAmountScale)
	}
	return nil
}

// ValidateLevel checks a non-negative balance field against the store scale
func ValidateLevel(field string, value decimal.Decimal) error {
	if value.IsNegative() {
		return apperrors.NewInvalidArgumentError("%s cannot be negative", field)
	}
	if exceedsScale(value, maxAmountScale) {
		return apperrors.NewInvalidArgumentError("%s %s has more than %d decimal places", field, value.String(), maxAmountScale)
	}
	return nil
}

// exceedsScale reports whether d has non-zero digits past the given number of
// decimal places. Trailing zeros do not count.
func exceedsScale(d decimal.Decimal, places int32) bool {
	return !d.Equal(d.Truncate(places))
}
