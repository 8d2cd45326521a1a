package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"pos-terminal/internal/models"
	"pos-terminal/internal/util"
)

// EventPublisher publishes the terminal's domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishSaleCompleted publishes SaleCompleted
func (ep *EventPublisher) PublishSaleCompleted(ctx context.Context, event *models.SaleCompletedEvent) error {
	key := fmt.Sprintf("sale-%d", event.SaleID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishProductSynced publishes ProductSynced
func (ep *EventPublisher) PublishProductSynced(ctx context.Context, event *models.ProductSyncedEvent) error {
	key := fmt.Sprintf("queued-product-%d", event.LocalKey)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes consumed events to registered callbacks
type EventHandler struct {
	onSaleCompleted func(context.Context, *models.SaleCompletedEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnSaleCompleted registers a handler for SaleCompleted events
func (eh *EventHandler) OnSaleCompleted(handler func(context.Context, *models.SaleCompletedEvent) error) {
	eh.onSaleCompleted = handler
}

// HandleMessage routes a consumed message by event type
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch base.EventType {
	case models.EventTypeSaleCompleted:
		if eh.onSaleCompleted != nil {
			var event models.SaleCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SaleCompleted event: %w", err)
			}
			return eh.onSaleCompleted(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", base.EventType))
	}

	return nil
}
