package external

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"energy-trading-api/internal/models"
)

// Event types published to the exchange; the type doubles as routing key
const (
	EventTradeCreated      = "trade.created"
	EventTradeExecuted     = "trade.executed"
	EventTradeCancelled    = "trade.cancelled"
	EventFactoryRegistered = "factory.registered"
	EventEnergyMinted      = "energy.minted"
	EventEnergyTransferred = "energy.transferred"
)

type MessageQueue interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// Event is the envelope of every message sent to the broker
type Event struct {
	EventID     string                 `json:"event_id"`
	EventType   string                 `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	Timestamp   time.Time              `json:"timestamp"`
	RequestID   string                 `json:"request_id,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

// amqpChannel is the part of *amqp.Channel the publisher needs
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type messageQueue struct {
	mu             sync.Mutex
	conn           *amqp.Connection
	channel        amqpChannel
	exchange       string
	publishTimeout time.Duration
	logger         *logrus.Logger
}

type MessageQueueConfig struct {
	URL            string
	Exchange       string
	PublishTimeout time.Duration
}

// NewMessageQueue dials RabbitMQ and declares a durable topic exchange
func NewMessageQueue(cfg MessageQueueConfig, logger *logrus.Logger) (MessageQueue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", cfg.Exchange, err)
	}

	logger.WithField("exchange", cfg.Exchange).Info("Event publisher initialized")

	return newMessageQueue(conn, channel, cfg, logger), nil
}

func newMessageQueue(conn *amqp.Connection, channel amqpChannel, cfg MessageQueueConfig, logger *logrus.Logger) *messageQueue {
	return &messageQueue{
		conn:           conn,
		channel:        channel,
		exchange:       cfg.Exchange,
		publishTimeout: cfg.PublishTimeout,
		logger:         logger,
	}
}

func (mq *messageQueue) Publish(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if mq.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mq.publishTimeout)
		defer cancel()
	}

	mq.mu.Lock()
	defer mq.mu.Unlock()

	err = mq.channel.PublishWithContext(
		ctx,
		mq.exchange,     // exchange
		event.EventType, // routing key
		false,           // mandatory
		false,           // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			Body:          body,
			Timestamp:     event.Timestamp,
			MessageId:     event.EventID,
			CorrelationId: event.RequestID,
			Type:          event.EventType,
			DeliveryMode:  amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType, err)
	}

	mq.logger.WithFields(logrus.Fields{
		"event_id":   event.EventID,
		"event_type": event.EventType,
		"aggregate":  event.AggregateID,
	}).Debug("Event published")
	return nil
}

func (mq *messageQueue) Close() error {
	var errs []error

	if mq.channel != nil {
		if err := mq.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if mq.conn != nil {
		if err := mq.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing message queue: %v", errs)
	}
	return nil
}

// noopMessageQueue is used when no broker is configured
type noopMessageQueue struct{}

func NewNoopMessageQueue() MessageQueue {
	return noopMessageQueue{}
}

func (noopMessageQueue) Publish(ctx context.Context, event *Event) error { return nil }
func (noopMessageQueue) Close() error                                    { return nil }

func newEvent(eventType, aggregateID string, now time.Time, data map[string]interface{}) *Event {
	return &Event{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Timestamp:   now.UTC(),
		Data:        data,
	}
}

// Helper functions to create events from domain models

func CreateTradeEvent(trade *models.Trade, eventType string, now time.Time) *Event {
	return newEvent(eventType, trade.ID, now, map[string]interface{}{
		"seller_id":      trade.SellerID,
		"buyer_id":       trade.BuyerID,
		"energy_amount":  trade.EnergyAmount.String(),
		"price_per_unit": trade.PricePerUnit.String(),
		"total_price":    trade.TotalPrice.String(),
		"status":         string(trade.Status),
	})
}

func CreateFactoryEvent(factory *models.Factory, balance *models.FactoryBalance, now time.Time) *Event {
	return newEvent(EventFactoryRegistered, factory.ID, now, map[string]interface{}{
		"name":             factory.Name,
		"energy_type":      factory.EnergyType,
		"energy_balance":   balance.EnergyBalance.String(),
		"currency_balance": balance.CurrencyBalance.String(),
	})
}

func CreateEnergyEvent(eventType, factoryID string, data map[string]interface{}, now time.Time) *Event {
	return newEvent(eventType, factoryID, now, data)
}
