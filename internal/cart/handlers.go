package cart

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/httpx"
	"github.com/eren2212/supplementApp-sub000/internal/settings"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

const (
	CookieName = "cart_id"
	HeaderName = "X-Cart-ID"
	cookieTTL  = 30 * 24 * time.Hour
)

type PricingSource interface {
	Pricing(ctx context.Context) (settings.Pricing, error)
}

// Token returns the caller's cart token, issuing a new cookie when the
// request carries none or an invalid one.
func Token(w http.ResponseWriter, r *http.Request) string {
	if id := r.Header.Get(HeaderName); ValidID(id) {
		return id
	}
	if c, err := r.Cookie(CookieName); err == nil && ValidID(c.Value) {
		return c.Value
	}
	id := NewID()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		Expires:  time.Now().Add(cookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(HeaderName, id)
	return id
}

// View is a cart with its totals, as returned by every cart endpoint.
type View struct {
	Cart
	Summary Summary `json:"summary"`
}

func (s *Service) View(ctx context.Context, c Cart, pricing PricingSource) (View, error) {
	p, err := pricing.Pricing(ctx)
	if err != nil {
		return View{}, err
	}
	return View{Cart: c, Summary: Summarize(c.Items, p)}, nil
}

type addItemRequest struct {
	SupplementID string `json:"supplement_id"`
	Quantity     int    `json:"quantity"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (s *Service) Register(mux *http.ServeMux, pricing PricingSource) {
	respond := func(w http.ResponseWriter, r *http.Request, c Cart, topic string) {
		if claims, ok := auth.FromContext(r.Context()); ok && c.UserID == "" && !c.Empty() {
			if err := s.Claim(r.Context(), c.ID, claims.UserID()); err == nil {
				c.UserID = claims.UserID()
			}
		}
		v, err := s.View(r.Context(), c, pricing)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": v, "event_topic": topic})
	}

	mux.HandleFunc("/v1/cart", func(w http.ResponseWriter, r *http.Request) {
		id := Token(w, r)
		switch r.Method {
		case http.MethodGet:
			c, err := s.Get(r.Context(), id)
			if err != nil {
				writeErr(w, err)
				return
			}
			respond(w, r, c, "shop.cart.read")
		case http.MethodDelete:
			if err := s.Clear(r.Context(), id); err != nil {
				writeErr(w, err)
				return
			}
			respond(w, r, Cart{ID: id, Items: []Item{}}, "shop.cart.cleared")
		default:
			httpx.MethodNotAllowed(w)
		}
	})

	mux.HandleFunc("/v1/cart/items", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.MethodNotAllowed(w)
			return
		}
		id := Token(w, r)
		var req addItemRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Quantity == 0 {
			req.Quantity = 1
		}
		c, err := s.AddItem(r.Context(), id, req.SupplementID, req.Quantity)
		if err != nil {
			writeErr(w, err)
			return
		}
		respond(w, r, c, "shop.cart.item_added")
	})

	mux.HandleFunc("/v1/cart/items/", func(w http.ResponseWriter, r *http.Request) {
		id := Token(w, r)
		supplementID, rest := httpx.SplitPath(r, "/v1/cart/items")
		if supplementID == "" || rest != "" {
			httpx.WriteError(w, http.StatusNotFound, "not found")
			return
		}
		switch r.Method {
		case http.MethodPatch, http.MethodPut:
			var req updateItemRequest
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			if req.Quantity == nil {
				httpx.WriteError(w, http.StatusBadRequest, "quantity is required")
				return
			}
			c, err := s.UpdateQuantity(r.Context(), id, supplementID, *req.Quantity)
			if err != nil {
				writeErr(w, err)
				return
			}
			respond(w, r, c, "shop.cart.item_updated")
		case http.MethodDelete:
			c, err := s.RemoveItem(r.Context(), id, supplementID)
			if err != nil {
				writeErr(w, err)
				return
			}
			respond(w, r, c, "shop.cart.item_removed")
		default:
			httpx.MethodNotAllowed(w)
		}
	})
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "supplement not found")
	case errors.Is(err, ErrNotInCart):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrOutOfStock), errors.Is(err, ErrInactive):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case validation.Is(err):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
