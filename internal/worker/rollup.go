package worker

import (
	"context"

	"go.uber.org/zap"

	"pos-terminal/internal/broker"
	"pos-terminal/internal/journal"
	"pos-terminal/internal/models"
	"pos-terminal/internal/util"
)

// RollupWorker folds SaleCompleted events into the journal's daily
// totals. Event IDs are checked against the processed-events table so
// redelivery does not double count.
type RollupWorker struct {
	consumer *broker.Consumer
	handler  *broker.EventHandler
	journal  *journal.Journal
	logger   *zap.Logger
}

// NewRollupWorker creates a rollup worker
func NewRollupWorker(consumer *broker.Consumer, jnl *journal.Journal) *RollupWorker {
	w := &RollupWorker{
		consumer: consumer,
		journal:  jnl,
		logger:   util.GetLogger(),
	}

	handler := broker.NewEventHandler()
	handler.OnSaleCompleted(w.handleSaleCompleted)
	w.handler = handler

	return w
}

// Start starts consuming sale events
func (w *RollupWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting rollup worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *RollupWorker) Stop() error {
	w.logger.Info("Stopping rollup worker")
	return w.consumer.Close()
}

func (w *RollupWorker) handleSaleCompleted(ctx context.Context, event *models.SaleCompletedEvent) error {
	processed, err := w.journal.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Debug("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if err := w.journal.AddToDailyTotal(ctx, event.Timestamp, event.Store, event.Total); err != nil {
		return err
	}

	if err := w.journal.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		w.logger.Error("Failed to mark event processed", zap.Error(err))
	}

	w.logger.Info("Rolled up sale",
		zap.Int64("sale_id", event.SaleID),
		zap.String("store", event.Store))
	return nil
}
