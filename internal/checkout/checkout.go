// Package checkout turns a cart into an order and a payment intent, and
// applies payment webhooks to orders.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/eren2212/supplementApp-sub000/internal/addresses"
	"github.com/eren2212/supplementApp-sub000/internal/cart"
	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/orders"
	"github.com/eren2212/supplementApp-sub000/internal/payments"
	"github.com/eren2212/supplementApp-sub000/internal/settings"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

var (
	ErrEmptyCart      = validation.New("cart is empty")
	ErrNoAddress      = validation.New("address_id is required")
	ErrUnavailable    = errors.New("supplement is no longer available")
	ErrPaymentGateway = errors.New("payment gateway unavailable")
)

type Carts interface {
	Get(ctx context.Context, cartID string) (cart.Cart, error)
	Clear(ctx context.Context, cartID string) error
}

type Products interface {
	Get(ctx context.Context, id string) (catalog.Supplement, error)
	AdjustStock(ctx context.Context, id string, delta int) error
}

type Addresses interface {
	Get(ctx context.Context, userID, id string) (addresses.Address, error)
}

type Pricing interface {
	Pricing(ctx context.Context) (settings.Pricing, error)
}

type Orders interface {
	Create(ctx context.Context, req orders.NewOrder) (orders.Order, error)
	AttachPayment(ctx context.Context, id, intentID string) (orders.Order, error)
	UpdateStatus(ctx context.Context, id, status string) (orders.Order, error)
	MarkPaid(ctx context.Context, intentID string) (orders.Order, error)
	MarkPaymentFailed(ctx context.Context, intentID string) (orders.Order, error)
}

// Recorder receives checkout outcomes; *metrics.Metrics satisfies it.
type Recorder interface {
	OrderCreated()
	CheckoutFailed(reason string)
}

type Buyer struct {
	UserID string
	Email  string
}

type StartRequest struct {
	CartID    string `json:"-"`
	AddressID string `json:"address_id"`
	Note      string `json:"note"`
}

type Result struct {
	Order        orders.Order `json:"order"`
	ClientSecret string       `json:"client_secret"`
	Gateway      string       `json:"gateway"`
}

type Service struct {
	carts     Carts
	products  Products
	addresses Addresses
	pricing   Pricing
	orders    Orders
	gateway   payments.Gateway
	recorder  Recorder
}

func NewService(carts Carts, products Products, addrs Addresses, pricing Pricing, ords Orders, gw payments.Gateway, rec Recorder) *Service {
	return &Service{
		carts:     carts,
		products:  products,
		addresses: addrs,
		pricing:   pricing,
		orders:    ords,
		gateway:   gw,
		recorder:  rec,
	}
}

func (s *Service) fail(reason string) {
	if s.recorder != nil {
		s.recorder.CheckoutFailed(reason)
	}
}

// Start places an order for the buyer's cart. Stock is reserved line by
// line and given back if any later step fails before the order exists;
// after that, cancelling the order returns it.
func (s *Service) Start(ctx context.Context, b Buyer, req StartRequest) (Result, error) {
	log := zerolog.Ctx(ctx)

	c, err := s.carts.Get(ctx, req.CartID)
	if err != nil {
		return Result{}, err
	}
	if c.Empty() {
		s.fail("empty_cart")
		return Result{}, ErrEmptyCart
	}
	if req.AddressID == "" {
		s.fail("address")
		return Result{}, ErrNoAddress
	}
	addr, err := s.addresses.Get(ctx, b.UserID, req.AddressID)
	if err != nil {
		s.fail("address")
		return Result{}, err
	}

	lines := make([]cart.Item, 0, len(c.Items))
	for _, it := range c.Items {
		sp, err := s.products.Get(ctx, it.SupplementID)
		if errors.Is(err, catalog.ErrNotFound) || (err == nil && !sp.Active) {
			s.fail("unavailable")
			return Result{}, fmt.Errorf("%s: %w", it.Name, ErrUnavailable)
		}
		if err != nil {
			return Result{}, err
		}
		lines = append(lines, cart.Item{SupplementID: sp.ID, Name: sp.Name, PriceCents: sp.PriceCents, Quantity: it.Quantity})
	}

	reserved := make([]cart.Item, 0, len(lines))
	release := func() {
		for _, it := range reserved {
			if err := s.products.AdjustStock(ctx, it.SupplementID, it.Quantity); err != nil {
				log.Error().Err(err).Str("supplement", it.SupplementID).Msg("release reserved stock")
			}
		}
	}
	for _, it := range lines {
		if err := s.products.AdjustStock(ctx, it.SupplementID, -it.Quantity); err != nil {
			release()
			s.fail("stock")
			return Result{}, err
		}
		reserved = append(reserved, it)
	}

	p, err := s.pricing.Pricing(ctx)
	if err != nil {
		release()
		return Result{}, err
	}
	sum := cart.Summarize(lines, p)
	items := make([]orders.Item, len(lines))
	for i, it := range lines {
		items[i] = orders.Item{SupplementID: it.SupplementID, Name: it.Name, PriceCents: it.PriceCents, Quantity: it.Quantity}
	}
	o, err := s.orders.Create(ctx, orders.NewOrder{
		UserID:        b.UserID,
		Email:         b.Email,
		Items:         items,
		SubtotalCents: sum.SubtotalCents,
		ShippingCents: sum.ShippingCents,
		TaxCents:      sum.TaxCents,
		TotalCents:    sum.TotalCents,
		Currency:      sum.Currency,
		ShippingAddress: orders.Address{
			FullName: addr.FullName, Line1: addr.Line1, Line2: addr.Line2, City: addr.City,
			State: addr.State, PostalCode: addr.PostalCode, Country: addr.Country, Phone: addr.Phone,
		},
		Note: req.Note,
	})
	if err != nil {
		release()
		s.fail("order")
		return Result{}, err
	}

	intent, err := s.gateway.CreateIntent(ctx, payments.IntentParams{
		OrderID: o.ID, AmountCents: o.TotalCents, Currency: o.Currency, Email: b.Email,
	})
	if err != nil {
		log.Error().Err(err).Str("order", o.ID).Msg("create payment intent")
		s.abandon(ctx, o.ID)
		return Result{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	attached, err := s.orders.AttachPayment(ctx, o.ID, intent.ID)
	if err != nil {
		log.Error().Err(err).Str("order", o.ID).Str("intent", intent.ID).Msg("attach payment intent")
		s.abandon(ctx, o.ID)
		return Result{}, err
	}
	o = attached
	if err := s.carts.Clear(ctx, req.CartID); err != nil {
		log.Warn().Err(err).Str("cart", req.CartID).Msg("clear cart after checkout")
	}
	if s.recorder != nil {
		s.recorder.OrderCreated()
	}
	log.Info().Str("order", o.ID).Int64("total_cents", o.TotalCents).Str("gateway", s.gateway.Name()).Msg("checkout started")
	return Result{Order: o, ClientSecret: intent.ClientSecret, Gateway: s.gateway.Name()}, nil
}

// abandon cancels an order whose payment could not be set up. Cancelling
// puts its reserved stock back.
func (s *Service) abandon(ctx context.Context, orderID string) {
	if _, err := s.orders.UpdateStatus(ctx, orderID, orders.StatusCancelled); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("order", orderID).Msg("cancel order after payment failure")
	}
	s.fail("payment")
}

// HandlePaymentEvent applies a webhook to the matching order. Events for
// unknown intents and unrelated event types are ignored.
func (s *Service) HandlePaymentEvent(ctx context.Context, ev payments.Event) error {
	var err error
	switch ev.Type {
	case payments.EventSucceeded:
		_, err = s.orders.MarkPaid(ctx, ev.IntentID)
	case payments.EventFailed:
		_, err = s.orders.MarkPaymentFailed(ctx, ev.IntentID)
	default:
		return nil
	}
	if errors.Is(err, orders.ErrNotFound) {
		zerolog.Ctx(ctx).Warn().Str("intent", ev.IntentID).Str("type", ev.Type).Msg("webhook for unknown intent")
		return nil
	}
	return err
}
