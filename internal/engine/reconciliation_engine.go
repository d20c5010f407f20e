package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"energy-trading-api/internal/models"
	"energy-trading-api/internal/repository"
)

type ReconciliationEngine interface {
	ReconcileAll(ctx context.Context) (*ReconciliationReport, error)
}

type reconciliationEngine struct {
	store     repository.Store
	opTimeout time.Duration
	now       func() time.Time
}

func NewReconciliationEngine(store repository.Store, opTimeout time.Duration) ReconciliationEngine {
	return &reconciliationEngine{
		store:     store,
		opTimeout: opTimeout,
		now:       time.Now,
	}
}

const (
	ReconciliationStatusSuccess          = "success"
	ReconciliationStatusDiscrepancyFound = "discrepancy_found"
)

// ReconciliationReport is a point-in-time scan of every balance record
type ReconciliationReport struct {
	TotalFactories      int                      `json:"total_factories"`
	TotalEnergy         decimal.Decimal          `json:"total_energy"`
	TotalCurrency       decimal.Decimal          `json:"total_currency"`
	TotalAvailable      decimal.Decimal          `json:"total_available_energy"`
	Discrepancies       []*FactoryReconciliation `json:"discrepancies"`
	InvalidTrades       []string                 `json:"invalid_trades"`
	Status              string                   `json:"status"`
	StartedAt           time.Time                `json:"started_at"`
	FinishedAt          time.Time                `json:"finished_at"`
	TotalProcessingTime time.Duration            `json:"total_processing_time"`
}

type FactoryReconciliation struct {
	FactoryID string                 `json:"factory_id"`
	Balance   *models.FactoryBalance `json:"balance"`
	Problems  []string               `json:"problems,omitempty"`
	Status    string                 `json:"status"`
}

func (e *reconciliationEngine) ReconcileAll(ctx context.Context) (*ReconciliationReport, error) {
	ctx, cancel := withOpTimeout(ctx, e.opTimeout)
	defer cancel()

	report := &ReconciliationReport{
		TotalEnergy:    decimal.Zero,
		TotalCurrency:  decimal.Zero,
		TotalAvailable: decimal.Zero,
		Discrepancies:  make([]*FactoryReconciliation, 0),
		InvalidTrades:  make([]string, 0),
		StartedAt:      e.now(),
	}

	balances, err := e.store.ListBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}

	report.TotalFactories = len(balances)
	for _, b := range balances {
		report.TotalEnergy = report.TotalEnergy.Add(b.EnergyBalance)
		report.TotalCurrency = report.TotalCurrency.Add(b.CurrencyBalance)
		report.TotalAvailable = report.TotalAvailable.Add(b.AvailableEnergy)

		if r := checkBalance(b); r.Status != ReconciliationStatusSuccess {
			report.Discrepancies = append(report.Discrepancies, r)
		}
	}

	invalid, err := e.scanTrades(ctx)
	if err != nil {
		return nil, err
	}
	report.InvalidTrades = invalid

	report.Status = ReconciliationStatusSuccess
	if len(report.Discrepancies) > 0 || len(report.InvalidTrades) > 0 {
		report.Status = ReconciliationStatusDiscrepancyFound
	}

	report.FinishedAt = e.now()
	report.TotalProcessingTime = report.FinishedAt.Sub(report.StartedAt)
	return report, nil
}

// scanTrades pages through all trades and returns the ids of malformed records
func (e *reconciliationEngine) scanTrades(ctx context.Context) ([]string, error) {
	invalid := make([]string, 0)
	filter := repository.TradeFilter{Limit: repository.MaxTradeLimit}

	for {
		page, err := e.store.ListTrades(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to list trades: %w", err)
		}
		for _, t := range page {
			if t.Validate() != nil ||
				(t.Status == models.TradeStatusCompleted && t.CompletedAt == nil) ||
				(t.Status == models.TradeStatusCancelled && t.CancelledAt == nil) {
				invalid = append(invalid, t.ID)
			}
		}
		if len(page) < filter.Limit {
			return invalid, nil
		}
		filter.Offset += len(page)
	}
}

func checkBalance(b *models.FactoryBalance) *FactoryReconciliation {
	r := &FactoryReconciliation{
		FactoryID: b.FactoryID,
		Balance:   b,
		Status:    ReconciliationStatusSuccess,
	}

	if b.EnergyBalance.IsNegative() {
		r.Problems = append(r.Problems, "negative energy balance "+b.EnergyBalance.String())
	}
	if b.CurrencyBalance.IsNegative() {
		r.Problems = append(r.Problems, "negative currency balance "+b.CurrencyBalance.String())
	}
	if b.AvailableEnergy.IsNegative() {
		r.Problems = append(r.Problems, "negative available energy "+b.AvailableEnergy.String())
	}
	if b.DailyConsumption.IsNegative() {
		r.Problems = append(r.Problems, "negative daily consumption "+b.DailyConsumption.String())
	}

	if len(r.Problems) > 0 {
		r.Status = ReconciliationStatusDiscrepancyFound
	}
	return r
}
