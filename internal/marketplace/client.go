package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"demper-service/internal/util"

	"go.uber.org/zap"
)

// Client talks to the marketplace offers API. It implements the engine's
// Observer and PriceApplier capabilities.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a marketplace API client
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
	}
}

type offer struct {
	Merchant string `json:"merchant"`
	Price    int64  `json:"price"`
}

type offersResponse struct {
	Offers []offer `json:"offers"`
}

// Observe fetches the lowest competitor offer price for a product.
// 404 -> NotFound, 403/429 -> Blocked, 5xx -> Transient, deadline -> Timeout.
func (c *Client) Observe(ctx context.Context, sku string) (int64, error) {
	url := fmt.Sprintf("%s/offers/%s", c.baseURL, sku)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &ObservationError{Kind: KindTransient, SKU: sku, Err: err}
	}
	req.Header.Set("X-Auth-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return 0, &ObservationError{Kind: KindTimeout, SKU: sku, Err: err}
		}
		return 0, &ObservationError{Kind: KindTransient, SKU: sku, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, &ObservationError{Kind: KindNotFound, SKU: sku}
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return 0, &ObservationError{Kind: KindBlocked, SKU: sku,
			Err: fmt.Errorf("marketplace returned %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return 0, &ObservationError{Kind: KindTransient, SKU: sku,
			Err: fmt.Errorf("marketplace returned %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return 0, &ObservationError{Kind: KindTransient, SKU: sku,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var body offersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, &ObservationError{Kind: KindTransient, SKU: sku, Err: err}
	}

	if len(body.Offers) == 0 {
		return 0, &ObservationError{Kind: KindNotFound, SKU: sku}
	}

	min := body.Offers[0].Price
	for _, o := range body.Offers[1:] {
		if o.Price < min {
			min = o.Price
		}
	}

	c.logger.Debug("Observed competitor offers",
		zap.String("sku", sku),
		zap.Int("offers", len(body.Offers)),
		zap.Int64("min_price", min))

	return min, nil
}

type applyRequest struct {
	Price int64 `json:"price"`
}

// ApplyPrice pushes a new price to the seller's own listing
func (c *Client) ApplyPrice(ctx context.Context, sku string, price int64) error {
	url := fmt.Sprintf("%s/products/%s/price", c.baseURL, sku)

	payload, err := json.Marshal(applyRequest{Price: price})
	if err != nil {
		return &ApplyError{SKU: sku, Price: price, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &ApplyError{SKU: sku, Price: price, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ApplyError{SKU: sku, Price: price, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ApplyError{SKU: sku, Price: price,
			Err: fmt.Errorf("marketplace returned %d", resp.StatusCode)}
	}

	return nil
}
