package settings

import (
	"errors"
	"net/http"

	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/httpx"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/settings", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w)
			return
		}
		st, err := s.Get(r.Context())
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": st.Public(), "event_topic": "shop.settings.read"})
	})

	mux.HandleFunc("/v1/admin/settings", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			st, err := s.Get(r.Context())
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, err.Error())
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": st, "event_topic": "shop.settings.read"})
		case http.MethodPut, http.MethodPatch:
			var req UpdateRequest
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			st, err := s.Update(r.Context(), req)
			if err != nil {
				code := http.StatusBadRequest
				if !isValidation(err) {
					code = http.StatusInternalServerError
				}
				httpx.WriteError(w, code, err.Error())
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": st, "event_topic": "shop.settings.updated"})
		default:
			httpx.MethodNotAllowed(w)
		}
	}, auth.RoleAdmin))
}

// isValidation reports errors produced by Apply rather than the database.
func isValidation(err error) bool {
	return errors.Is(err, ErrEmptyUpdate) || validation.Is(err)
}
