package checkout

import (
	"errors"
	"io"
	"net/http"

	"github.com/eren2212/supplementApp-sub000/internal/addresses"
	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/cart"
	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/httpx"
	"github.com/eren2212/supplementApp-sub000/internal/payments"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

const maxWebhookBody = 64 << 10

func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/checkout", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.MethodNotAllowed(w)
			return
		}
		var req StartRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.CartID = cart.Token(w, r)
		claims, _ := auth.FromContext(r.Context())
		res, err := s.Start(r.Context(), Buyer{UserID: claims.UserID(), Email: claims.Email}, req)
		if err != nil {
			writeErr(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, map[string]any{
			"item": res.Order, "client_secret": res.ClientSecret, "gateway": res.Gateway, "event_topic": "shop.order.created",
		})
	}))

	mux.HandleFunc("/v1/payments/webhook", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.MethodNotAllowed(w)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		ev, err := s.gateway.ParseEvent(body, r.Header.Get("Stripe-Signature"))
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.HandlePaymentEvent(r.Context(), ev); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"received": true, "type": ev.Type})
	})
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, addresses.ErrNotFound):
		httpx.WriteError(w, http.StatusBadRequest, "unknown address")
	case errors.Is(err, ErrUnavailable), errors.Is(err, catalog.ErrInsufficientStock):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrPaymentGateway), errors.Is(err, payments.ErrInvalidAmount):
		httpx.WriteError(w, http.StatusBadGateway, err.Error())
	case validation.Is(err):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
