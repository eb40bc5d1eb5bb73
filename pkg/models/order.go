package models

import (
	"time"
)

// Order is the payload posted to the remote order-creation endpoint.
// DeliveryCharge, Subtotal and TotalPrice are whole currency units and
// TotalPrice always equals Subtotal + DeliveryCharge.
type Order struct {
	DeliveryCharge int         `json:"delivery_charge"`
	Subtotal       int         `json:"subtotal"`
	TotalPrice     int         `json:"total_price"`
	Address        Address     `json:"address"`
	Items          []OrderItem `json:"order_items"`
}

type Address struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type OrderItem struct {
	ProductID    string          `json:"product_id"`
	Quantity     int             `json:"quantity"`
	Attributes   []AttributePair `json:"attributes"`
	Price        float64         `json:"price"`
	Discount     float64         `json:"discount"`
	SellingPrice float64         `json:"selling_price"`
	Subtotal     float64         `json:"subtotal"`
	Total        float64         `json:"total"`
}

// OrderRecord is the order as echoed back by the order API after creation.
type OrderRecord struct {
	ID             string      `json:"id"`
	Status         string      `json:"status"`
	Items          []OrderItem `json:"order_items"`
	Subtotal       int         `json:"subtotal"`
	DeliveryCharge int         `json:"delivery_charge"`
	TotalPrice     int         `json:"total_price"`
	Address        Address     `json:"address"`
	CreatedAt      time.Time   `json:"created_at,omitempty"`
}

type OrderResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    *OrderRecord `json:"data,omitempty"`
}

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)
