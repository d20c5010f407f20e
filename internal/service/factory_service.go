package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"energy-trading-api/internal/engine"
	"energy-trading-api/internal/external"
	"energy-trading-api/internal/models"
	"energy-trading-api/internal/monitoring"
	"energy-trading-api/internal/repository"
	apperrors "energy-trading-api/pkg/errors"
)

type FactoryService interface {
	RegisterFactory(ctx context.Context, req *RegisterFactoryRequest) (*FactoryResponse, error)
	GetFactory(ctx context.Context, factoryID string) (*FactoryResponse, error)
	ListFactories(ctx context.Context) ([]*FactoryResponse, error)
	GetBalance(ctx context.Context, factoryID string) (*models.FactoryBalance, error)
	GetEnergyStatus(ctx context.Context, factoryID string) (*models.EnergyStatus, error)
	GetHistory(ctx context.Context, factoryID string, limit, offset int) ([]*models.Trade, error)
	MintEnergy(ctx context.Context, req *MintRequest) (*models.FactoryBalance, error)
	TransferEnergy(ctx context.Context, req *engine.TransferRequest) (*engine.TransferResult, error)
	UpdateAvailableEnergy(ctx context.Context, factoryID string, value decimal.Decimal) (*models.FactoryBalance, error)
	UpdateDailyConsumption(ctx context.Context, factoryID string, value decimal.Decimal) (*models.FactoryBalance, error)
}

type factoryService struct {
	store     repository.Store
	ledger    engine.BalanceLedger
	events    eventPublisher
	metrics   monitoring.MetricsService
	audit     AuditService
	opTimeout time.Duration
	now       func() time.Time
}

func NewFactoryService(
	store repository.Store,
	ledger engine.BalanceLedger,
	queue external.MessageQueue,
	metrics monitoring.MetricsService,
	audit AuditService,
	opTimeout time.Duration,
) FactoryService {
	return &factoryService{
		store:     store,
		ledger:    ledger,
		events:    eventPublisher{queue: queue, metrics: metrics},
		metrics:   metrics,
		audit:     audit,
		opTimeout: opTimeout,
		now:       time.Now,
	}
}

// Request/Response types
type RegisterFactoryRequest struct {
	FactoryID        string           `json:"factory_id,omitempty"`
	Name             string           `json:"name"`
	EnergyType       string           `json:"energy_type"`
	InitialEnergy    decimal.Decimal  `json:"initial_energy"`
	InitialCurrency  decimal.Decimal  `json:"initial_currency"`
	DailyConsumption decimal.Decimal  `json:"daily_consumption"`
	AvailableEnergy  *decimal.Decimal `json:"available_energy,omitempty"`
}

func (r *RegisterFactoryRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperrors.NewInvalidArgumentError("factory name is required")
	}
	if err := engine.ValidateLevel("initial energy", r.InitialEnergy); err != nil {
		return err
	}
	if err := engine.ValidateLevel("initial currency", r.InitialCurrency); err != nil {
		return err
	}
	if err := engine.ValidateLevel("daily consumption", r.DailyConsumption); err != nil {
		return err
	}
	if r.AvailableEnergy != nil {
		if err := engine.ValidateLevel("available energy", *r.AvailableEnergy); err != nil {
			return err
		}
	}
	return nil
}

// FactoryResponse is a factory profile together with its balances
type FactoryResponse struct {
	Factory *models.Factory        `json:"factory"`
	Balance *models.FactoryBalance `json:"balance"`
}

type MintRequest struct {
	FactoryID string          `json:"factory_id"`
	Amount    decimal.Decimal `json:"amount"`
}

func (s *factoryService) RegisterFactory(ctx context.Context, req *RegisterFactoryRequest) (*FactoryResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := withOpTimeout(ctx, s.opTimeout)
	defer cancel()

	now := s.now()
	factoryID := strings.TrimSpace(req.FactoryID)
	if factoryID == "" {
		factoryID = models.GenerateFactoryID(now)
	}

	factory := &models.Factory{
		ID:         factoryID,
		Name:       strings.TrimSpace(req.Name),
		EnergyType: req.EnergyType,
		CreatedAt:  now.UTC(),
	}
	balance := models.NewFactoryBalance(factoryID, req.InitialEnergy, req.InitialCurrency,
		req.AvailableEnergy, req.DailyConsumption, now)

	start := time.Now()
	err := s.store.WithinTransaction(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateFactory(ctx, factory, balance)
	})
	s.metrics.RecordLedgerOperation("register", outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	s.audit.LogLedgerAction(ctx, factoryID, AuditFactoryRegistered, map[string]interface{}{
		"energy_balance":   balance.EnergyBalance.String(),
		"currency_balance": balance.CurrencyBalance.String(),
	})
	s.events.publish(ctx, external.CreateFactoryEvent(factory, balance, now))

	return &FactoryResponse{Factory: factory, Balance: balance}, nil
}

func (s *factoryService) GetFactory(ctx context.Context, factoryID string) (*FactoryResponse, error) {
	ctx, cancel := withOpTimeout(ctx, s.opTimeout)
	defer cancel()

	factory, err := s.store.GetFactory(ctx, factoryID)
	if err != nil {
		return nil, err
	}
	balance, err := s.store.GetBalances(ctx, factoryID)
	if err != nil {
		return nil, err
	}
	return &FactoryResponse{Factory: factory, Balance: balance}, nil
}

func (s *factoryService) ListFactories(ctx context.Context) ([]*FactoryResponse, error) {
	ctx, cancel := withOpTimeout(ctx, s.opTimeout)
	defer cancel()

	factories, err := s.store.ListFactories(ctx)
	if err != nil {
		return nil, err
	}
	balances, err := s.store.ListBalances(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.FactoryBalance, len(balances))
	for _, b := range balances {
		byID[b.FactoryID] = b
	}

	result := make([]*FactoryResponse, 0, len(factories))
	for _, f := range factories {
		result = append(result, &FactoryResponse{Factory: f, Balance: byID[f.ID]})
	}
	return result, nil
}

func (s *factoryService) GetBalance(ctx context.Context, factoryID string) (*models.FactoryBalance, error) {
	return s.ledger.GetBalances(ctx, factoryID)
}

func (s *factoryService) GetEnergyStatus(ctx context.Context, factoryID string) (*models.EnergyStatus, error) {
	ctx, cancel := withOpTimeout(ctx, s.opTimeout)
	defer cancel()

	factory, err := s.store.GetFactory(ctx, factoryID)
	if err != nil {
		return nil, err
	}
	balance, err := s.store.GetBalances(ctx, factoryID)
	if err != nil {
		return nil, err
	}

	status := balance.EnergyStatus()
	status.FactoryName = factory.Name
	return &status, nil
}

// GetHistory lists the trades a factory took part in, newest first
func (s *factoryService) GetHistory(ctx context.Context, factoryID string, limit, offset int) ([]*models.Trade, error) {
	ctx, cancel := withOpTimeout(ctx, s.opTimeout)
	defer cancel()

	if _, err := s.store.GetFactory(ctx, factoryID); err != nil {
		return nil, err
	}

	return s.store.ListTrades(ctx, repository.TradeFilter{
		FactoryID: factoryID,
		Limit:     limit,
		Offset:    offset,
	}.Normalize())
}

func (s *factoryService) MintEnergy(ctx context.Context, req *MintRequest) (*models.FactoryBalance, error) {
	start := time.Now()
	balance, err := s.ledger.Mint(ctx, req.FactoryID, req.Amount)
	s.metrics.RecordLedgerOperation("mint", outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	s.audit.LogLedgerAction(ctx, req.FactoryID, AuditEnergyMinted, map[string]interface{}{
		"amount":         req.Amount.String(),
		"energy_balance": balance.EnergyBalance.String(),
	})
	s.events.publish(ctx, external.CreateEnergyEvent(external.EventEnergyMinted, req.FactoryID, map[string]interface{}{
		"amount":         req.Amount.String(),
		"energy_balance": balance.EnergyBalance.String(),
	}, s.now()))

	return balance, nil
}

// TransferEnergy moves a balance between two factories; an empty kind means energy
func (s *factoryService) TransferEnergy(ctx context.Context, req *engine.TransferRequest) (*engine.TransferResult, error) {
	if req.Kind == "" {
		req.Kind = engine.BalanceEnergy
	}

	start := time.Now()
	result, err := s.ledger.Transfer(ctx, req)
	s.metrics.RecordLedgerOperation("transfer", outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	details := map[string]interface{}{
		"from_id": req.FromID,
		"to_id":   req.ToID,
		"kind":    string(req.Kind),
		"amount":  req.Amount.String(),
	}
	s.audit.LogLedgerAction(ctx, req.FromID, AuditEnergyTransferred, details)
	s.events.publish(ctx, external.CreateEnergyEvent(external.EventEnergyTransferred, req.FromID, details, s.now()))

	return result, nil
}

func (s *factoryService) UpdateAvailableEnergy(ctx context.Context, factoryID string, value decimal.Decimal) (*models.FactoryBalance, error) {
	start := time.Now()
	balance, err := s.ledger.UpdateAvailableEnergy(ctx, factoryID, value)
	s.metrics.RecordLedgerOperation("update_available_energy", outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	s.audit.LogLedgerAction(ctx, factoryID, AuditLevelsUpdated, map[string]interface{}{
		"available_energy": value.String(),
	})
	return balance, nil
}

func (s *factoryService) UpdateDailyConsumption(ctx context.Context, factoryID string, value decimal.Decimal) (*models.FactoryBalance, error) {
	start := time.Now()
	balance, err := s.ledger.UpdateDailyConsumption(ctx, factoryID, value)
	s.metrics.RecordLedgerOperation("update_daily_consumption", outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	s.audit.LogLedgerAction(ctx, factoryID, AuditLevelsUpdated, map[string]interface{}{
		"daily_consumption": value.String(),
	})
	return balance, nil
}
