package addresses

import (
	"errors"
	"net/http"

	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/httpx"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

const base = "/v1/addresses"

func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc(base, auth.Require(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		switch r.Method {
		case http.MethodGet:
			items, err := s.List(r.Context(), claims.UserID())
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, err.Error())
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items, "event_topic": "shop.address.listed"})
		case http.MethodPost:
			var req CreateRequest
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			a, err := s.Create(r.Context(), claims.UserID(), req)
			if err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusCreated, map[string]any{"item": a, "event_topic": "shop.address.created"})
		default:
			httpx.MethodNotAllowed(w)
		}
	}))

	mux.HandleFunc(base+"/", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		id, rest := httpx.SplitPath(r, base)
		if id == "" || rest != "" {
			httpx.WriteError(w, http.StatusNotFound, "not found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			a, err := s.Get(r.Context(), claims.UserID(), id)
			if err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": a, "event_topic": "shop.address.read"})
		case http.MethodPatch, http.MethodPut:
			var req UpdateRequest
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			a, err := s.Update(r.Context(), claims.UserID(), id, req)
			if err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": a, "event_topic": "shop.address.updated"})
		case http.MethodDelete:
			if err := s.Delete(r.Context(), claims.UserID(), id); err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "event_topic": "shop.address.deleted"})
		default:
			httpx.MethodNotAllowed(w)
		}
	}))
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmptyUpdate), validation.Is(err):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
