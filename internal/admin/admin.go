// Package admin aggregates the back-office dashboard.
package admin

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/comments"
	"github.com/eren2212/supplementApp-sub000/internal/httpx"
	"github.com/eren2212/supplementApp-sub000/internal/orders"
	"github.com/eren2212/supplementApp-sub000/internal/pagination"
	"github.com/eren2212/supplementApp-sub000/internal/settings"
)

const (
	recentOrders  = 5
	topSellers    = 5
	lowStockLimit = 20
)

type Orders interface {
	Stats(ctx context.Context, topN int) (orders.Stats, error)
	List(ctx context.Context, f orders.Filter) (pagination.Page[orders.Order], error)
}

type Products interface {
	Count(ctx context.Context) (int, error)
	LowStock(ctx context.Context, threshold, limit int) ([]catalog.Supplement, error)
}

type Comments interface {
	CountByStatus(ctx context.Context, status string) (int, error)
}

type Users interface {
	CountByRole(ctx context.Context) (map[string]int, error)
}

type SettingsSource interface {
	Get(ctx context.Context) (settings.Settings, error)
}

type Dashboard struct {
	RevenueCents    int64                `json:"revenue_cents"`
	Currency        string               `json:"currency"`
	OrderCount      int                  `json:"order_count"`
	OrdersByStatus  map[string]int       `json:"orders_by_status"`
	RecentOrders    []orders.Order       `json:"recent_orders"`
	TopSellers      []orders.Seller      `json:"top_sellers"`
	LowStock        []catalog.Supplement `json:"low_stock"`
	LowStockBelow   int                  `json:"low_stock_threshold"`
	PendingComments int                  `json:"pending_comments"`
	UsersByRole     map[string]int       `json:"users_by_role"`
	SupplementCount int                  `json:"supplement_count"`
}

type Service struct {
	orders   Orders
	products Products
	comments Comments
	users    Users
	settings SettingsSource
}

func NewService(o Orders, p Products, c Comments, u Users, st SettingsSource) *Service {
	return &Service{orders: o, products: p, comments: c, users: u, settings: st}
}

// Dashboard loads every figure concurrently; the first failure wins.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	d := Dashboard{Currency: cfg.Currency, LowStockBelow: cfg.LowStockThreshold}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st, err := s.orders.Stats(ctx, topSellers)
		if err != nil {
			return err
		}
		d.RevenueCents, d.OrderCount, d.OrdersByStatus, d.TopSellers = st.RevenueCents, st.Count, st.ByStatus, st.TopSellers
		return nil
	})
	g.Go(func() error {
		page, err := s.orders.List(ctx, orders.Filter{Limit: recentOrders})
		if err != nil {
			return err
		}
		d.RecentOrders = page.Items
		return nil
	})
	g.Go(func() error {
		low, err := s.products.LowStock(ctx, cfg.LowStockThreshold, lowStockLimit)
		d.LowStock = low
		return err
	})
	g.Go(func() error {
		n, err := s.products.Count(ctx)
		d.SupplementCount = n
		return err
	})
	g.Go(func() error {
		n, err := s.comments.CountByStatus(ctx, comments.StatusPending)
		d.PendingComments = n
		return err
	})
	g.Go(func() error {
		by, err := s.users.CountByRole(ctx)
		d.UsersByRole = by
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}

func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/admin/dashboard", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w)
			return
		}
		d, err := s.Dashboard(r.Context())
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": d, "event_topic": "shop.admin.dashboard"})
	}, auth.RoleAdmin))
}
