package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"energy-trading-api/internal/engine"
	"energy-trading-api/internal/external"
	"energy-trading-api/internal/models"
	"energy-trading-api/internal/monitoring"
	"energy-trading-api/internal/repository"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type MockMessageQueue struct {
	mock.Mock
}

func (m *MockMessageQueue) Publish(ctx context.Context, event *external.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockMessageQueue) Close() error {
	return m.Called().Error(0)
}

// publishedTypes lists the event types handed to the queue, in order
func (m *MockMessageQueue) publishedTypes() []string {
	var types []string
	for _, call := range m.Calls {
		if call.Method == "Publish" {
			types = append(types, call.Arguments.Get(1).(*external.Event).EventType)
		}
	}
	return types
}

type fixture struct {
	store   *repository.MemoryStore
	queue   *MockMessageQueue
	metrics monitoring.MetricsService
	audit   AuditService
	hook    *test.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	queue := new(MockMessageQueue)
	queue.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()

	return &fixture{
		store:   repository.NewMemoryStore(),
		queue:   queue,
		metrics: monitoring.NewPrometheusMetrics(),
		audit:   NewAuditService(logger),
		hook:    hook,
	}
}

func (f *fixture) seed(t *testing.T, id, energy, currency string) {
	t.Helper()

	factory := &models.Factory{ID: id, Name: id, EnergyType: "solar", CreatedAt: fixedNow}
	balance := models.NewFactoryBalance(id, dec(energy), dec(currency), nil, decimal.Zero, fixedNow)
	err := f.store.WithinTransaction(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateFactory(ctx, factory, balance)
	})
	require.NoError(t, err)
}

func (f *fixture) factoryService() *factoryService {
	svc := NewFactoryService(f.store, engine.NewBalanceLedger(f.store, time.Second), f.queue, f.metrics, f.audit, time.Second).(*factoryService)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func (f *fixture) tradeService() *tradeService {
	svc := NewTradeService(engine.NewSettlementEngine(f.store, time.Second), f.queue, f.metrics, f.audit).(*tradeService)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

// auditActions lists the actions recorded on the audit logger, in order
func (f *fixture) auditActions() []string {
	var actions []string
	for _, entry := range f.hook.AllEntries() {
		if action, ok := entry.Data["action"].(string); ok {
			actions = append(actions, action)
		}
	}
	return actions
}
