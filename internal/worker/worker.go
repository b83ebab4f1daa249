package worker

import (
	"context"

	"demper-service/internal/broker"
	"demper-service/internal/models"
	"demper-service/internal/service"
	"demper-service/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker consumes price-change events and forwards them to the
// messaging collaborator. Delivery is fire-and-forget: failures are logged
// and counted, never retried into the engine's path.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	notifier     service.Notifier
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, notifier service.Notifier) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		notifier: notifier,
		logger:   util.Named("notification-worker"),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnPriceChanged(w.handlePriceChanged)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handlePriceChanged(ctx context.Context, event *models.PriceChangedEvent) error {
	if err := w.notifier.NotifyPriceChanged(ctx, event); err != nil {
		util.NotificationsForwardedTotal.WithLabelValues("failed").Inc()
		w.logger.Error("Failed to forward price-change notification",
			zap.Int64("product_id", event.ProductID),
			zap.Error(err))
		// Commit anyway: notifications are best-effort, not replayed
		return nil
	}

	util.NotificationsForwardedTotal.WithLabelValues("delivered").Inc()
	return nil
}
