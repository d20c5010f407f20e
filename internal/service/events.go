package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"energy-trading-api/internal/external"
	"energy-trading-api/internal/monitoring"
	apperrors "energy-trading-api/pkg/errors"
)

const outcomeSuccess = "success"

// outcomeOf labels an operation result for metrics
func outcomeOf(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	return string(apperrors.KindOf(err))
}

// eventPublisher hands domain events to the broker after the ledger commit.
// Publishing is best effort: a broker failure never undoes a committed operation.
type eventPublisher struct {
	queue   external.MessageQueue
	metrics monitoring.MetricsService
}

func (p eventPublisher) publish(ctx context.Context, event *external.Event) {
	if event.RequestID == "" {
		event.RequestID = RequestMetaFrom(ctx).RequestID
	}

	err := p.queue.Publish(context.WithoutCancel(ctx), event)
	p.metrics.RecordEventPublish(event.EventType, err == nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"event_type": event.EventType,
			"aggregate":  event.AggregateID,
			"error":      err.Error(),
		}).Warn("Failed to publish event")
	}
}

func withOpTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
