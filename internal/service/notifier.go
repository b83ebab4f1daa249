package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"demper-service/internal/models"
	"demper-service/internal/util"

	"go.uber.org/zap"
)

// Notifier forwards price-change events to a downstream alerting channel
type Notifier interface {
	NotifyPriceChanged(ctx context.Context, event *models.PriceChangedEvent) error
}

// WhatsAppNotifier posts price-change notifications to a WhatsApp gateway.
// Message templating is the gateway's concern; this only ships the facts.
type WhatsAppNotifier struct {
	gatewayURL string
	session    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWhatsAppNotifier creates a notifier for the given gateway
func NewWhatsAppNotifier(gatewayURL, session string, timeout time.Duration) *WhatsAppNotifier {
	return &WhatsAppNotifier{
		gatewayURL: gatewayURL,
		session:    session,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.Named("notifier"),
	}
}

type priceChangeNotification struct {
	Session         string    `json:"session"`
	ProductID       int64     `json:"product_id"`
	SKU             string    `json:"sku"`
	OldPrice        int64     `json:"old_price"`
	NewPrice        int64     `json:"new_price"`
	CompetitorPrice int64     `json:"competitor_price"`
	Reason          string    `json:"reason"`
	Timestamp       time.Time `json:"timestamp"`
}

// NotifyPriceChanged sends one price-change notification. Failures are the
// caller's to log; the engine never depends on delivery.
func (n *WhatsAppNotifier) NotifyPriceChanged(ctx context.Context, event *models.PriceChangedEvent) error {
	payload, err := json.Marshal(priceChangeNotification{
		Session:         n.session,
		ProductID:       event.ProductID,
		SKU:             event.SKU,
		OldPrice:        event.OldPrice,
		NewPrice:        event.NewPrice,
		CompetitorPrice: event.CompetitorPrice,
		Reason:          event.Reason,
		Timestamp:       event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	url := fmt.Sprintf("%s/api/notifications/price-change", n.gatewayURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification gateway returned %d", resp.StatusCode)
	}

	n.logger.Debug("Notification delivered",
		zap.Int64("product_id", event.ProductID),
		zap.String("reason", event.Reason))
	return nil
}
