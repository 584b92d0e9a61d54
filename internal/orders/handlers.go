package orders

import (
	"errors"
	"net/http"

	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/httpx"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

type statusRequest struct {
	Status string `json:"status"`
}

func filterFromQuery(r *http.Request) Filter {
	return Filter{
		Status: httpx.Query(r, "status"),
		Cursor: httpx.Query(r, "cursor"),
		Limit:  httpx.IntParam(r, "limit", 20, 1, 200),
	}
}

func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/orders", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w)
			return
		}
		claims, _ := auth.FromContext(r.Context())
		f := filterFromQuery(r)
		f.UserID = claims.UserID()
		page, err := s.List(r.Context(), f)
		if err != nil {
			writeErr(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"items": page.Items, "next_cursor": page.NextCursor, "cached": page.Cached, "event_topic": "shop.order.listed",
		})
	}))

	mux.HandleFunc("/v1/orders/", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		id, rest := httpx.SplitPath(r, "/v1/orders")
		switch {
		case id != "" && rest == "" && r.Method == http.MethodGet:
			o, err := s.GetForUser(r.Context(), claims.UserID(), id)
			if err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": o, "event_topic": "shop.order.read"})
		case id != "" && rest == "cancel" && r.Method == http.MethodPost:
			o, err := s.Cancel(r.Context(), claims.UserID(), id)
			if err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": o, "event_topic": "shop.order.status_changed"})
		case id != "" && (rest == "" || rest == "cancel"):
			httpx.MethodNotAllowed(w)
		default:
			httpx.WriteError(w, http.StatusNotFound, "not found")
		}
	}))

	mux.HandleFunc("/v1/admin/orders", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w)
			return
		}
		f := filterFromQuery(r)
		f.UserID = httpx.Query(r, "user_id")
		page, err := s.List(r.Context(), f)
		if err != nil {
			writeErr(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"items": page.Items, "next_cursor": page.NextCursor, "cached": page.Cached, "event_topic": "shop.order.listed",
		})
	}, auth.RoleAdmin))

	mux.HandleFunc("/v1/admin/orders/_explain", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w)
			return
		}
		f := filterFromQuery(r)
		f.UserID = httpx.Query(r, "user_id")
		plan, err := s.Explain(r.Context(), f)
		if err != nil {
			writeErr(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"plan": plan, "event_topic": "shop.order.explained"})
	}, auth.RoleAdmin))

	mux.HandleFunc("/v1/admin/orders/", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		id, rest := httpx.SplitPath(r, "/v1/admin/orders")
		if id == "" || rest != "" {
			httpx.WriteError(w, http.StatusNotFound, "not found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			o, err := s.Get(r.Context(), id)
			if err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": o, "event_topic": "shop.order.read"})
		case http.MethodPatch, http.MethodPut:
			var req statusRequest
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			o, err := s.UpdateStatus(r.Context(), id, req.Status)
			if err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": o, "event_topic": "shop.order.status_changed"})
		case http.MethodDelete:
			if err := s.Delete(r.Context(), id); err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "event_topic": "shop.order.deleted"})
		default:
			httpx.MethodNotAllowed(w)
		}
	}, auth.RoleAdmin))
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConcurrentUpdate):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrExplainUnavailable):
		httpx.WriteError(w, http.StatusServiceUnavailable, err.Error())
	case validation.Is(err):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
