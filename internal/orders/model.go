// Package orders stores placed orders and enforces their status lifecycle.
package orders

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"

	PaymentUnpaid   = "unpaid"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// Statuses lists order statuses in lifecycle order.
var Statuses = []string{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

var transitions = map[string][]string{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func normalizeStatus(s string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, st := range Statuses {
		if v == st {
			return v, nil
		}
	}
	return "", validation.New("invalid order status")
}

type Item struct {
	SupplementID string `json:"supplement_id"`
	Name         string `json:"name"`
	PriceCents   int64  `json:"price_cents"`
	Quantity     int    `json:"quantity"`
}

// Address is the shipping address as it was when the order was placed.
type Address struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type Order struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Email           string     `json:"email"`
	Items           []Item     `json:"items"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	ShippingCents   int64      `json:"shipping_cents"`
	TaxCents        int64      `json:"tax_cents"`
	TotalCents      int64      `json:"total_cents"`
	Currency        string     `json:"currency"`
	ShippingAddress Address    `json:"shipping_address"`
	Status          string     `json:"status"`
	PaymentStatus   string     `json:"payment_status"`
	PaymentIntentID string     `json:"payment_intent_id,omitempty"`
	Note            string     `json:"note,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	ShippedAt       *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
}

// ItemCount is the number of units in the order.
func (o Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// NewOrder carries everything checkout has computed for a new order.
type NewOrder struct {
	UserID          string
	Email           string
	Items           []Item
	SubtotalCents   int64
	ShippingCents   int64
	TaxCents        int64
	TotalCents      int64
	Currency        string
	ShippingAddress Address
	Note            string
}

type Filter struct {
	UserID string
	Status string
	Cursor string
	Limit  int
}

// Seller is one line of the best-seller ranking.
type Seller struct {
	SupplementID string `json:"supplement_id"`
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
}

type Stats struct {
	RevenueCents int64          `json:"revenue_cents"`
	Count        int            `json:"count"`
	ByStatus     map[string]int `json:"by_status"`
	TopSellers   []Seller       `json:"top_sellers"`
}

var (
	ErrNotFound           = errors.New("order not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrConcurrentUpdate   = errors.New("order was modified concurrently")
	ErrExplainUnavailable = errors.New("explain requires a database")
)

func buildOrder(id string, req NewOrder, now time.Time) (Order, error) {
	if req.UserID == "" {
		return Order{}, validation.New("user_id is required")
	}
	if len(req.Items) == 0 {
		return Order{}, validation.New("order has no items")
	}
	for _, it := range req.Items {
		if it.Quantity < 1 || it.PriceCents <= 0 {
			return Order{}, validation.Errorf("invalid line for %s", it.SupplementID)
		}
	}
	if req.TotalCents != req.SubtotalCents+req.ShippingCents+req.TaxCents {
		return Order{}, validation.New("total does not add up")
	}
	return Order{
		ID:              id,
		UserID:          req.UserID,
		Email:           req.Email,
		Items:           append([]Item(nil), req.Items...),
		SubtotalCents:   req.SubtotalCents,
		ShippingCents:   req.ShippingCents,
		TaxCents:        req.TaxCents,
		TotalCents:      req.TotalCents,
		Currency:        req.Currency,
		ShippingAddress: req.ShippingAddress,
		Status:          StatusPending,
		PaymentStatus:   PaymentUnpaid,
		Note:            strings.TrimSpace(req.Note),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// advance moves o to status and stamps the matching timestamp.
func advance(o *Order, status string, now time.Time) error {
	if !CanTransition(o.Status, status) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, o.Status, status)
	}
	o.Status = status
	o.UpdatedAt = now
	switch status {
	case StatusShipped:
		o.ShippedAt = &now
	case StatusDelivered:
		o.DeliveredAt = &now
	case StatusCancelled:
		o.CancelledAt = &now
		if o.PaymentStatus == PaymentPaid {
			o.PaymentStatus = PaymentRefunded
		}
	}
	return nil
}
