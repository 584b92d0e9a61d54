package users

import (
	"errors"
	"net/http"

	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/httpx"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type roleRequest struct {
	Role string `json:"role"`
}

// StartSession issues a token for u and sets the session cookie.
func StartSession(w http.ResponseWriter, r *http.Request, iss *auth.Issuer, u User) (string, error) {
	tok, exp, err := iss.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		return "", err
	}
	iss.SetCookie(w, r, tok, exp)
	return tok, nil
}

// Routes mounts the session endpoints under /v1/auth and user management
// under /v1/admin/users.
func (s *Service) Routes(mux *http.ServeMux, iss *auth.Issuer) {
	mux.HandleFunc("/v1/auth/register", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.MethodNotAllowed(w)
			return
		}
		var req RegisterRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		u, err := s.Register(r.Context(), req)
		if err != nil {
			writeErr(w, err)
			return
		}
		tok, err := StartSession(w, r, iss, u)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, map[string]any{"item": u, "token": tok, "event_topic": "shop.user.registered"})
	})

	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.MethodNotAllowed(w)
			return
		}
		var req loginRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		u, err := s.Authenticate(r.Context(), req.Email, req.Password)
		if err != nil {
			writeErr(w, err)
			return
		}
		tok, err := StartSession(w, r, iss, u)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": u, "token": tok, "event_topic": "shop.user.logged_in"})
	})

	mux.HandleFunc("/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.MethodNotAllowed(w)
			return
		}
		auth.ClearCookie(w)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "event_topic": "shop.user.logged_out"})
	})

	mux.HandleFunc("/v1/auth/me", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		switch r.Method {
		case http.MethodGet:
			u, err := s.Get(r.Context(), claims.UserID())
			if err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": u, "event_topic": "shop.user.read"})
		case http.MethodPatch:
			var req ProfileRequest
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			u, err := s.UpdateProfile(r.Context(), claims.UserID(), req)
			if err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": u, "event_topic": "shop.user.updated"})
		default:
			httpx.MethodNotAllowed(w)
		}
	}))

	mux.HandleFunc("/v1/admin/users", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w)
			return
		}
		page, err := s.List(r.Context(), Filter{
			Role:   httpx.Query(r, "role"),
			Cursor: httpx.Query(r, "cursor"),
			Limit:  httpx.IntParam(r, "limit", 50, 1, 200),
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": page.Items, "next_cursor": page.NextCursor, "event_topic": "shop.user.listed"})
	}, auth.RoleAdmin))

	mux.HandleFunc("/v1/admin/users/", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		id, rest := httpx.SplitPath(r, "/v1/admin/users")
		if id == "" || rest != "" {
			httpx.WriteError(w, http.StatusNotFound, "not found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			u, err := s.Get(r.Context(), id)
			if err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": u, "event_topic": "shop.user.read"})
		case http.MethodPatch:
			var req roleRequest
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			if id == claims.UserID() && auth.NormalizeRole(req.Role) != auth.RoleAdmin {
				httpx.WriteError(w, http.StatusConflict, "cannot change your own role")
				return
			}
			u, err := s.UpdateRole(r.Context(), id, req.Role)
			if err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": u, "event_topic": "shop.user.role_changed"})
		case http.MethodDelete:
			if id == claims.UserID() {
				httpx.WriteError(w, http.StatusConflict, "cannot delete your own account")
				return
			}
			if err := s.Delete(r.Context(), id); err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "event_topic": "shop.user.deleted"})
		default:
			httpx.MethodNotAllowed(w)
		}
	}, auth.RoleAdmin))
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmailTaken):
		httpx.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrEmptyUpdate), validation.Is(err):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
