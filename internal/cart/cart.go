// Package cart keeps shopping carts keyed by an opaque token and computes
// their totals.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/ident"
	"github.com/eren2212/supplementApp-sub000/internal/settings"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

// MaxLineQuantity caps a single cart line.
const MaxLineQuantity = 99

type Item struct {
	SupplementID string `json:"supplement_id"`
	Name         string `json:"name"`
	PriceCents   int64  `json:"price_cents"`
	Quantity     int    `json:"quantity"`
	ImageURL     string `json:"image_url,omitempty"`
}

func (i Item) LineTotalCents() int64 { return i.PriceCents * int64(i.Quantity) }

type Cart struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c Cart) Empty() bool { return len(c.Items) == 0 }

func (c Cart) find(supplementID string) int {
	for i, it := range c.Items {
		if it.SupplementID == supplementID {
			return i
		}
	}
	return -1
}

type Summary struct {
	ItemCount     int    `json:"item_count"`
	SubtotalCents int64  `json:"subtotal_cents"`
	ShippingCents int64  `json:"shipping_cents"`
	TaxCents      int64  `json:"tax_cents"`
	TotalCents    int64  `json:"total_cents"`
	Currency      string `json:"currency"`
}

// Summarize computes the totals of items under p. Shipping is free for an
// empty cart and once the subtotal reaches a positive free-shipping
// threshold. Tax is rounded half up.
func Summarize(items []Item, p settings.Pricing) Summary {
	var sum Summary
	sum.Currency = p.Currency
	for _, it := range items {
		sum.ItemCount += it.Quantity
		sum.SubtotalCents += it.LineTotalCents()
	}
	if sum.ItemCount > 0 {
		sum.ShippingCents = p.ShippingFeeCents
		if p.FreeShippingThresholdCents > 0 && sum.SubtotalCents >= p.FreeShippingThresholdCents {
			sum.ShippingCents = 0
		}
	}
	sum.TaxCents = (sum.SubtotalCents*p.TaxRateBps + 5000) / 10000
	sum.TotalCents = sum.SubtotalCents + sum.ShippingCents + sum.TaxCents
	return sum
}

var (
	ErrNotFound   = errors.New("cart not found")
	ErrNotInCart  = errors.New("item not in cart")
	ErrOutOfStock = errors.New("supplement is out of stock")
	ErrInactive   = errors.New("supplement is not available")
)

// Store persists carts.
type Store interface {
	Load(ctx context.Context, id string) (Cart, error)
	Save(ctx context.Context, c Cart) error
	Delete(ctx context.Context, id string) error
}

type Products interface {
	Get(ctx context.Context, id string) (catalog.Supplement, error)
}

type Service struct {
	store    Store
	products Products
	now      func() time.Time
}

func NewService(store Store, products Products) *Service {
	return &Service{store: store, products: products, now: time.Now}
}

func NewID() string { return ident.New("cart") }

// ValidID reports whether id looks like a token issued by NewID.
func ValidID(id string) bool { return ident.HasPrefix(id, "cart") }

// Get returns the cart, or an empty one when id has no stored cart.
func (s *Service) Get(ctx context.Context, id string) (Cart, error) {
	c, err := s.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Cart{ID: id, Items: []Item{}}, nil
	}
	return c, err
}

func (s *Service) save(ctx context.Context, c Cart) (Cart, error) {
	c.UpdatedAt = s.now().UTC()
	if c.Items == nil {
		c.Items = []Item{}
	}
	return c, s.store.Save(ctx, c)
}

// AddItem adds qty of a supplement, merging with an existing line. The line
// is capped at the current stock and MaxLineQuantity.
func (s *Service) AddItem(ctx context.Context, cartID, supplementID string, qty int) (Cart, error) {
	if qty < 1 {
		return Cart{}, validation.New("quantity must be at least 1")
	}
	sp, err := s.products.Get(ctx, supplementID)
	if err != nil {
		return Cart{}, err
	}
	if !sp.Active {
		return Cart{}, fmt.Errorf("%s: %w", sp.Name, ErrInactive)
	}
	if sp.Stock <= 0 {
		return Cart{}, fmt.Errorf("%s: %w", sp.Name, ErrOutOfStock)
	}
	c, err := s.Get(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	limit := min(sp.Stock, MaxLineQuantity)
	if i := c.find(supplementID); i >= 0 {
		c.Items[i].Quantity = min(c.Items[i].Quantity+qty, limit)
		c.Items[i].PriceCents = sp.PriceCents
		c.Items[i].Name = sp.Name
		c.Items[i].ImageURL = sp.ImageURL
	} else {
		c.Items = append(c.Items, Item{
			SupplementID: sp.ID,
			Name:         sp.Name,
			PriceCents:   sp.PriceCents,
			Quantity:     min(qty, limit),
			ImageURL:     sp.ImageURL,
		})
	}
	return s.save(ctx, c)
}

// UpdateQuantity sets the quantity of a line; qty <= 0 removes it.
func (s *Service) UpdateQuantity(ctx context.Context, cartID, supplementID string, qty int) (Cart, error) {
	if qty <= 0 {
		return s.RemoveItem(ctx, cartID, supplementID)
	}
	c, err := s.Get(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	i := c.find(supplementID)
	if i < 0 {
		return Cart{}, ErrNotInCart
	}
	sp, err := s.products.Get(ctx, supplementID)
	if err != nil {
		return Cart{}, err
	}
	if sp.Stock <= 0 {
		return Cart{}, fmt.Errorf("%s: %w", sp.Name, ErrOutOfStock)
	}
	c.Items[i].Quantity = min(qty, sp.Stock, MaxLineQuantity)
	c.Items[i].PriceCents = sp.PriceCents
	return s.save(ctx, c)
}

func (s *Service) RemoveItem(ctx context.Context, cartID, supplementID string) (Cart, error) {
	c, err := s.Get(ctx, cartID)
	if err != nil {
		return Cart{}, err
	}
	i := c.find(supplementID)
	if i < 0 {
		return Cart{}, ErrNotInCart
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return s.save(ctx, c)
}

func (s *Service) Clear(ctx context.Context, cartID string) error {
	return s.store.Delete(ctx, cartID)
}

// Claim records userID as the owner of the cart.
func (s *Service) Claim(ctx context.Context, cartID, userID string) error {
	c, err := s.store.Load(ctx, cartID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if c.UserID == userID {
		return nil
	}
	c.UserID = userID
	_, err = s.save(ctx, c)
	return err
}
