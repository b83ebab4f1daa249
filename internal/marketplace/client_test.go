package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveReturnsLowestOffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/offers/SKU123", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("X-Auth-Token"))
		w.Write([]byte(`{"offers":[{"merchant":"a","price":9700},{"merchant":"b","price":9500},{"merchant":"c","price":9600}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", 2*time.Second)

	price, err := c.Observe(context.Background(), "SKU123")
	require.NoError(t, err)
	assert.Equal(t, int64(9500), price)
}

func TestObserveStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   ObservationKind
	}{
		{"delisted", http.StatusNotFound, KindNotFound},
		{"forbidden", http.StatusForbidden, KindBlocked},
		{"rate limited", http.StatusTooManyRequests, KindBlocked},
		{"server error", http.StatusInternalServerError, KindTransient},
		{"bad gateway", http.StatusBadGateway, KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "", 2*time.Second)

			_, err := c.Observe(context.Background(), "SKU123")
			require.Error(t, err)

			oe, ok := AsObservationError(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, oe.Kind)
		})
	}
}

func TestObserveEmptyOffersIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"offers":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 2*time.Second)

	_, err := c.Observe(context.Background(), "SKU123")
	assert.True(t, IsNotFound(err))
}

func TestObserveTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Observe(ctx, "SKU123")
	require.Error(t, err)

	oe, ok := AsObservationError(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, oe.Kind)
}

func TestApplyPrice(t *testing.T) {
	var gotPrice int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/SKU123/price", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var body struct {
			Price int64 `json:"price"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotPrice = body.Price
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 2*time.Second)

	err := c.ApplyPrice(context.Background(), "SKU123", 9450)
	require.NoError(t, err)
	assert.Equal(t, int64(9450), gotPrice)
}

func TestApplyPriceRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 2*time.Second)

	err := c.ApplyPrice(context.Background(), "SKU123", 9450)
	require.Error(t, err)

	var ae *ApplyError
	assert.ErrorAs(t, err, &ae)
}
