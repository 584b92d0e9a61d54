package catalog

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/httpx"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

const base = "/v1/supplements"

// FilterFromQuery reads the list filter from the request query string.
func FilterFromQuery(r *http.Request) Filter {
	q := r.URL.Query()
	f := Filter{
		Category: q.Get("category"),
		Query:    q.Get("q"),
		Sort:     q.Get("sort"),
		InStock:  q.Get("in_stock") == "true",
		Page:     httpx.IntParam(r, "page", 1, 1, 10000),
		Limit:    httpx.IntParam(r, "limit", 24, 1, 100),
	}
	if v, err := strconv.ParseInt(q.Get("min_price"), 10, 64); err == nil {
		f.MinPrice = v
	}
	if v, err := strconv.ParseInt(q.Get("max_price"), 10, 64); err == nil {
		f.MaxPrice = v
	}
	return f
}

func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/categories", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": Categories, "event_topic": "shop.category.listed"})
	})

	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			f := FilterFromQuery(r)
			claims, _ := auth.FromContext(r.Context())
			f.ActiveOnly = !claims.IsAdmin() || r.URL.Query().Get("include_inactive") != "true"
			res, err := s.List(r.Context(), f)
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, err.Error())
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{
				"items": res.Items, "total": res.Total, "page": res.Page, "limit": res.Limit,
				"cached": res.Cached, "event_topic": "shop.supplement.listed",
			})
		case http.MethodPost:
			auth.Require(s.handleCreate, auth.RoleAdmin)(w, r)
		default:
			httpx.MethodNotAllowed(w)
		}
	})

	mux.HandleFunc(base+"/", func(w http.ResponseWriter, r *http.Request) {
		id, rest := httpx.SplitPath(r, base)
		if id == "" || rest != "" {
			httpx.WriteError(w, http.StatusNotFound, "not found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			sp, err := s.Get(r.Context(), id)
			claims, _ := auth.FromContext(r.Context())
			if err == nil && !sp.Active && !claims.IsAdmin() {
				err = ErrNotFound
			}
			if err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": sp, "event_topic": "shop.supplement.read"})
		case http.MethodPut, http.MethodPatch:
			auth.Require(func(w http.ResponseWriter, r *http.Request) {
				var req UpdateRequest
				if err := httpx.DecodeJSON(r, &req); err != nil {
					httpx.WriteError(w, http.StatusBadRequest, err.Error())
					return
				}
				sp, err := s.Update(r.Context(), id, req)
				if err != nil {
					writeErr(w, err)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": sp, "event_topic": "shop.supplement.updated"})
			}, auth.RoleAdmin)(w, r)
		case http.MethodDelete:
			auth.Require(func(w http.ResponseWriter, r *http.Request) {
				if err := s.Delete(r.Context(), id); err != nil {
					writeErr(w, err)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "event_topic": "shop.supplement.deleted"})
			}, auth.RoleAdmin)(w, r)
		default:
			httpx.MethodNotAllowed(w)
		}
	})
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	sp, err := buildCreate(req)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.insert(r.Context(), sp); err != nil {
		writeErr(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"item": sp, "event_topic": "shop.supplement.created"})
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "supplement not found")
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrDuplicateName):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrEmptyUpdate):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case validation.Is(err):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
