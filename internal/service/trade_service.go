package service

import (
	"context"
	"time"

	"energy-trading-api/internal/engine"
	"energy-trading-api/internal/external"
	"energy-trading-api/internal/models"
	"energy-trading-api/internal/monitoring"
	"energy-trading-api/internal/repository"
	apperrors "energy-trading-api/pkg/errors"
)

type TradeService interface {
	CreateTrade(ctx context.Context, req *engine.CreateTradeRequest) (*models.Trade, error)
	ExecuteTrade(ctx context.Context, tradeID string) (*engine.SettlementResult, error)
	CancelTrade(ctx context.Context, tradeID string) (*models.Trade, error)
	GetTrade(ctx context.Context, tradeID string) (*models.Trade, error)
	ListTrades(ctx context.Context, req *ListTradesRequest) (*ListTradesResponse, error)
}

type tradeService struct {
	settlement engine.SettlementEngine
	events     eventPublisher
	metrics    monitoring.MetricsService
	audit      AuditService
	now        func() time.Time
}

func NewTradeService(
	settlement engine.SettlementEngine,
	queue external.MessageQueue,
	metrics monitoring.MetricsService,
	audit AuditService,
) TradeService {
	return &tradeService{
		settlement: settlement,
		events:     eventPublisher{queue: queue, metrics: metrics},
		metrics:    metrics,
		audit:      audit,
		now:        time.Now,
	}
}

type ListTradesRequest struct {
	FactoryID string `json:"factory_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

type ListTradesResponse struct {
	Trades []*models.Trade `json:"trades"`
	Count  int             `json:"count"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func (s *tradeService) CreateTrade(ctx context.Context, req *engine.CreateTradeRequest) (*models.Trade, error) {
	start := time.Now()
	trade, err := s.settlement.CreateTrade(ctx, req)
	s.metrics.RecordTradeOperation("create", outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	s.audit.LogTrade(ctx, trade, AuditTradeCreated, nil)
	s.events.publish(ctx, external.CreateTradeEvent(trade, external.EventTradeCreated, s.now()))
	return trade, nil
}

// ExecuteTrade settles a pending trade. Failed settlements are audited too:
// the trade stays pending and the caller may retry after topping up.
func (s *tradeService) ExecuteTrade(ctx context.Context, tradeID string) (*engine.SettlementResult, error) {
	start := time.Now()
	result, err := s.settlement.ExecuteTrade(ctx, tradeID)
	s.metrics.RecordTradeOperation("execute", outcomeOf(err), time.Since(start))
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindInsufficientFunds) {
			s.auditFailedExecution(ctx, tradeID, err)
		}
		return nil, err
	}

	trade := result.Trade
	energy, _ := trade.EnergyAmount.Float64()
	currency, _ := trade.TotalPrice.Float64()
	s.metrics.RecordSettlementVolume(energy, currency)

	s.audit.LogTrade(ctx, trade, AuditTradeExecuted, map[string]interface{}{
		"seller_energy_balance":   result.SellerBalance.EnergyBalance.String(),
		"seller_currency_balance": result.SellerBalance.CurrencyBalance.String(),
		"buyer_energy_balance":    result.BuyerBalance.EnergyBalance.String(),
		"buyer_currency_balance":  result.BuyerBalance.CurrencyBalance.String(),
	})
	s.events.publish(ctx, external.CreateTradeEvent(trade, external.EventTradeExecuted, s.now()))
	return result, nil
}

func (s *tradeService) CancelTrade(ctx context.Context, tradeID string) (*models.Trade, error) {
	start := time.Now()
	trade, err := s.settlement.CancelTrade(ctx, tradeID)
	s.metrics.RecordTradeOperation("cancel", outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	s.audit.LogTrade(ctx, trade, AuditTradeCancelled, nil)
	s.events.publish(ctx, external.CreateTradeEvent(trade, external.EventTradeCancelled, s.now()))
	return trade, nil
}

func (s *tradeService) GetTrade(ctx context.Context, tradeID string) (*models.Trade, error) {
	return s.settlement.GetTrade(ctx, tradeID)
}

func (s *tradeService) ListTrades(ctx context.Context, req *ListTradesRequest) (*ListTradesResponse, error) {
	filter := repository.TradeFilter{
		FactoryID: req.FactoryID,
		Status:    models.TradeStatus(req.Status),
		Limit:     req.Limit,
		Offset:    req.Offset,
	}.Normalize()

	trades, err := s.settlement.ListTrades(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &ListTradesResponse{
		Trades: trades,
		Count:  len(trades),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

func (s *tradeService) auditFailedExecution(ctx context.Context, tradeID string, cause error) {
	trade, err := s.settlement.GetTrade(ctx, tradeID)
	if err != nil {
		return
	}
	s.audit.LogTrade(ctx, trade, AuditTradeFailed, map[string]interface{}{
		"reason": cause.Error(),
	})
}
