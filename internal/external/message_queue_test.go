package external

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"energy-trading-api/internal/models"
)

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, key, msg)
	return args.Error(0)
}

func (m *MockChannel) Close() error {
	return m.Called().Error(0)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestMessageQueue_PublishTradeEvent(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	trade := models.NewTrade("T-1", "A", "B", decimal.NewFromInt(20), decimal.NewFromInt(2), now)
	event := CreateTradeEvent(trade, EventTradeCreated, now)

	channel := new(MockChannel)
	channel.On("PublishWithContext", mock.Anything, "energy_trading_events", EventTradeCreated,
		mock.MatchedBy(func(msg amqp.Publishing) bool {
			var decoded Event
			if err := json.Unmarshal(msg.Body, &decoded); err != nil {
				return false
			}
			return msg.MessageId == event.EventID &&
				msg.DeliveryMode == amqp.Persistent &&
				decoded.AggregateID == "T-1" &&
				decoded.Data["total_price"] == "40"
		})).Return(nil)

	mq := newMessageQueue(nil, channel, MessageQueueConfig{Exchange: "energy_trading_events", PublishTimeout: time.Second}, quietLogger())
	require.NoError(t, mq.Publish(context.Background(), event))
	channel.AssertExpectations(t)
}

func TestMessageQueue_PublishFailure(t *testing.T) {
	channel := new(MockChannel)
	channel.On("PublishWithContext", mock.Anything, "ex", EventEnergyMinted, mock.Anything).
		Return(errors.New("channel closed"))

	mq := newMessageQueue(nil, channel, MessageQueueConfig{Exchange: "ex"}, quietLogger())
	err := mq.Publish(context.Background(), CreateEnergyEvent(EventEnergyMinted, "F1", nil, time.Now()))
	assert.ErrorContains(t, err, "channel closed")
}

func TestMessageQueue_Close(t *testing.T) {
	channel := new(MockChannel)
	channel.On("Close").Return(errors.New("already closed"))

	mq := newMessageQueue(nil, channel, MessageQueueConfig{Exchange: "ex"}, quietLogger())
	assert.ErrorContains(t, mq.Close(), "already closed")
}

func TestNoopMessageQueue(t *testing.T) {
	mq := NewNoopMessageQueue()
	assert.NoError(t, mq.Publish(context.Background(), &Event{EventType: EventTradeExecuted}))
	assert.NoError(t, mq.Close())
}
