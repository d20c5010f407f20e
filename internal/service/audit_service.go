package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"energy-trading-api/internal/models"
)

// Audit actions
const (
	AuditTradeCreated      = "trade_created"
	AuditTradeExecuted     = "trade_executed"
	AuditTradeFailed       = "trade_execution_failed"
	AuditTradeCancelled    = "trade_cancelled"
	AuditFactoryRegistered = "factory_registered"
	AuditEnergyMinted      = "energy_minted"
	AuditEnergyTransferred = "energy_transferred"
	AuditLevelsUpdated     = "energy_levels_updated"
	AuditSignup            = "signup"
	AuditLogin             = "login"
)

const (
	severityLow    = "low"
	severityMedium = "medium"
	severityHigh   = "high"
)

// AuditService writes the settlement audit trail
type AuditService interface {
	LogTrade(ctx context.Context, trade *models.Trade, action string, details map[string]interface{})
	LogLedgerAction(ctx context.Context, factoryID, action string, details map[string]interface{})
	LogAuthEvent(ctx context.Context, action, email string, success bool)
	LogSystemEvent(ctx context.Context, eventType string, details map[string]interface{})
}

type auditService struct {
	logger *logrus.Logger
}

func NewAuditService(logger *logrus.Logger) AuditService {
	return &auditService{logger: logger}
}

// RequestMeta identifies the caller of an operation for audit and event records
type RequestMeta struct {
	RequestID string
	ClientIP  string
	UserAgent string
	Actor     string
}

type requestMetaKey struct{}

func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

func RequestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

func (s *auditService) LogTrade(ctx context.Context, trade *models.Trade, action string, details map[string]interface{}) {
	fields := s.baseFields(ctx, "trade", action)
	fields["trade_id"] = trade.ID
	fields["seller_id"] = trade.SellerID
	fields["buyer_id"] = trade.BuyerID
	fields["energy_amount"] = trade.EnergyAmount.String()
	fields["price_per_unit"] = trade.PricePerUnit.String()
	fields["total_price"] = trade.TotalPrice.String()
	fields["status"] = string(trade.Status)
	fields["severity"] = s.tradeSeverity(action)
	for k, v := range details {
		fields[k] = v
	}

	s.logger.WithFields(fields).Info("Trade audit")
}

func (s *auditService) LogLedgerAction(ctx context.Context, factoryID, action string, details map[string]interface{}) {
	fields := s.baseFields(ctx, "ledger", action)
	fields["factory_id"] = factoryID
	fields["severity"] = severityMedium
	for k, v := range details {
		fields[k] = v
	}

	s.logger.WithFields(fields).Info("Ledger audit")
}

func (s *auditService) LogAuthEvent(ctx context.Context, action, email string, success bool) {
	fields := s.baseFields(ctx, "auth", action)
	fields["email"] = email
	fields["success"] = success
	fields["severity"] = severityLow
	if !success {
		fields["severity"] = severityMedium
	}

	s.logger.WithFields(fields).Info("Auth audit")
}

func (s *auditService) LogSystemEvent(ctx context.Context, eventType string, details map[string]interface{}) {
	fields := s.baseFields(ctx, "system", eventType)
	fields["severity"] = s.systemEventSeverity(eventType)
	for k, v := range details {
		fields[k] = v
	}

	s.logger.WithFields(fields).Info("System audit")
}

func (s *auditService) baseFields(ctx context.Context, logType, action string) logrus.Fields {
	meta := RequestMetaFrom(ctx)
	fields := logrus.Fields{
		"log_type":    logType,
		"action":      action,
		"recorded_at": time.Now().UTC(),
	}
	if meta.RequestID != "" {
		fields["request_id"] = meta.RequestID
	}
	if meta.ClientIP != "" {
		fields["ip_address"] = meta.ClientIP
	}
	if meta.UserAgent != "" {
		fields["user_agent"] = meta.UserAgent
	}
	if meta.Actor != "" {
		fields["actor"] = meta.Actor
	}
	return fields
}

func (s *auditService) tradeSeverity(action string) string {
	switch action {
	case AuditTradeExecuted, AuditTradeFailed:
		return severityHigh
	case AuditTradeCancelled:
		return severityMedium
	default:
		return severityLow
	}
}

func (s *auditService) systemEventSeverity(eventType string) string {
	switch eventType {
	case "reconciliation_discrepancy":
		return severityHigh
	case "reconciliation_failed", "limiter_sweep_failed":
		return severityMedium
	default:
		return severityLow
	}
}
