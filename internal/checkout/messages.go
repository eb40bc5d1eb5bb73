package checkout

import (
	"context"
	"errors"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/orders"
)

const (
	MessageGenericFailure = "Failed to place order. Please try again."
	MessageNetworkFailure = "Network error. Please check your connection and try again."
	MessageOrderPlaced    = "Order placed successfully."
)

// UserMessage maps a submission error to the text shown to the customer.
// A server message is shown verbatim.
func UserMessage(err error) string {
	var rejected *orders.RejectedError
	if errors.As(err, &rejected) {
		if rejected.Message != "" {
			return rejected.Message
		}
		return MessageGenericFailure
	}

	var transport *orders.TransportError
	if errors.As(err, &transport) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return MessageNetworkFailure
	}
	return MessageGenericFailure
}
