package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

const createOrderPath = "/api/v1/order/create"

// TransportError means the order API could not be reached or answered with
// something that is not an order response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "order api unreachable: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError is a business failure reported by the order API. Message is
// the server's own text and may be empty.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("order rejected (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("order rejected (status %d): %s", e.StatusCode, e.Message)
}

var ErrMissingOrderData = errors.New("order api reported success without order data")

// OrderServiceClient talks to the remote order API. It makes exactly one
// request per CreateOrder call and never retries.
type OrderServiceClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewOrderServiceClient builds a client. A zero timeout leaves the transport
// default in charge.
func NewOrderServiceClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *OrderServiceClient {
	return &OrderServiceClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// CreateOrder posts the order and returns the server's order record.
func (c *OrderServiceClient) CreateOrder(ctx context.Context, order *models.Order) (*models.OrderRecord, error) {
	c.logger.WithFields(logrus.Fields{
		"items":           len(order.Items),
		"total_price":     order.TotalPrice,
		"delivery_charge": order.DeliveryCharge,
	}).Info("Sending order to order API")

	jsonData, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+createOrderPath, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read response: %w", err)}
	}

	var orderResp models.OrderResponse
	decodeErr := json.Unmarshal(body, &orderResp)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		c.logger.WithFields(logrus.Fields{
			"status":  resp.StatusCode,
			"message": orderResp.Message,
		}).Warn("Order API returned error status")
		// a non-JSON error page still counts as a rejection, just without text
		return nil, &RejectedError{StatusCode: resp.StatusCode, Message: orderResp.Message}
	}

	if decodeErr != nil {
		return nil, &TransportError{Err: fmt.Errorf("decode response: %w", decodeErr)}
	}

	if !orderResp.Success {
		c.logger.WithField("message", orderResp.Message).Warn("Order API rejected order")
		return nil, &RejectedError{StatusCode: resp.StatusCode, Message: orderResp.Message}
	}

	if orderResp.Data == nil {
		return nil, ErrMissingOrderData
	}

	c.logger.WithFields(logrus.Fields{
		"order_id": orderResp.Data.ID,
		"status":   orderResp.Data.Status,
	}).Info("Order created by order API")

	return orderResp.Data, nil
}
