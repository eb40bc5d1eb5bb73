package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func sampleOrder() *models.Order {
	return &models.Order{
		DeliveryCharge: 60,
		Subtotal:       180,
		TotalPrice:     240,
		Address:        testAddress,
		Items: []models.OrderItem{{
			ProductID: "p1", Quantity: 2, Attributes: []models.AttributePair{},
			Price: 100, Discount: 10, SellingPrice: 90, Subtotal: 180, Total: 180,
		}},
	}
}

func TestCreateOrder_Success(t *testing.T) {
	var received models.Order
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/order/create", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.OrderResponse{
			Success: true,
			Message: "Order created",
			Data: &models.OrderRecord{
				ID: "ord-1", Status: models.OrderStatusPending,
				Subtotal: 180, DeliveryCharge: 60, TotalPrice: 240, Address: testAddress,
			},
		})
	}))
	defer srv.Close()

	client := NewOrderServiceClient(srv.URL, 0, quietLogger())
	rec, err := client.CreateOrder(context.Background(), sampleOrder())
	require.NoError(t, err)

	assert.Equal(t, "ord-1", rec.ID)
	assert.Equal(t, models.OrderStatusPending, rec.Status)
	assert.Equal(t, 240, received.TotalPrice)
	assert.Equal(t, "01712345678", received.Address.Phone)
}

func TestCreateOrder_BusinessFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.OrderResponse{Success: false, Message: "Out of stock"})
	}))
	defer srv.Close()

	client := NewOrderServiceClient(srv.URL, 0, quietLogger())
	_, err := client.CreateOrder(context.Background(), sampleOrder())

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "Out of stock", rejected.Message)
	assert.Equal(t, http.StatusOK, rejected.StatusCode)
}

func TestCreateOrder_ErrorStatus(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "json error body", body: `{"success":false,"message":"Invalid phone"}`, message: "Invalid phone"},
		{name: "html error page", body: `<html>bad gateway</html>`, message: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewOrderServiceClient(srv.URL, 0, quietLogger())
			_, err := client.CreateOrder(context.Background(), sampleOrder())

			var rejected *RejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, http.StatusBadGateway, rejected.StatusCode)
			assert.Equal(t, tt.message, rejected.Message)
		})
	}
}

func TestCreateOrder_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewOrderServiceClient(url, time.Second, quietLogger())
	_, err := client.CreateOrder(context.Background(), sampleOrder())

	var transport *TransportError
	assert.ErrorAs(t, err, &transport)
}

func TestCreateOrder_MalformedSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	client := NewOrderServiceClient(srv.URL, 0, quietLogger())
	_, err := client.CreateOrder(context.Background(), sampleOrder())

	var transport *TransportError
	assert.ErrorAs(t, err, &transport)
}

func TestCreateOrder_SuccessWithoutData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	client := NewOrderServiceClient(srv.URL, 0, quietLogger())
	_, err := client.CreateOrder(context.Background(), sampleOrder())
	assert.ErrorIs(t, err, ErrMissingOrderData)
}

func TestCreateOrder_SingleAttempt(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewOrderServiceClient(srv.URL, 0, quietLogger())
	_, err := client.CreateOrder(context.Background(), sampleOrder())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
