package comments

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/httpx"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

// Directory resolves a user id to the name shown on reviews.
type Directory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

type moderateRequest struct {
	Status string `json:"status"`
}

func authorOf(ctx context.Context, dir Directory) Author {
	claims, _ := auth.FromContext(ctx)
	a := Author{UserID: claims.UserID()}
	if dir != nil {
		if name, err := dir.DisplayName(ctx, a.UserID); err == nil {
			a.Name = name
		}
	}
	if a.Name == "" {
		a.Name, _, _ = strings.Cut(claims.Email, "@")
	}
	return a
}

func (s *Service) Register(mux *http.ServeMux, dir Directory) {
	mux.HandleFunc("/v1/comments", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			supplementID := httpx.Query(r, "supplement_id")
			if supplementID == "" {
				httpx.WriteError(w, http.StatusBadRequest, "supplement_id is required")
				return
			}
			page, err := s.List(r.Context(), Filter{
				SupplementID: supplementID,
				Status:       StatusApproved,
				Cursor:       httpx.Query(r, "cursor"),
				Limit:        httpx.IntParam(r, "limit", 20, 1, 100),
			})
			if err != nil {
				writeErr(w, err)
				return
			}
			rating, err := s.Rating(r.Context(), supplementID)
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, err.Error())
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{
				"items": page.Items, "next_cursor": page.NextCursor, "cached": page.Cached,
				"rating": rating, "event_topic": "shop.comment.listed",
			})
		case http.MethodPost:
			auth.Require(func(w http.ResponseWriter, r *http.Request) {
				var req CreateRequest
				if err := httpx.DecodeJSON(r, &req); err != nil {
					httpx.WriteError(w, http.StatusBadRequest, err.Error())
					return
				}
				c, err := s.Create(r.Context(), authorOf(r.Context(), dir), req)
				if err != nil {
					writeErr(w, err)
					return
				}
				httpx.WriteJSON(w, http.StatusCreated, map[string]any{"item": c, "event_topic": "shop.comment.created"})
			})(w, r)
		default:
			httpx.MethodNotAllowed(w)
		}
	})

	mux.HandleFunc("/v1/comments/", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		id, rest := httpx.SplitPath(r, "/v1/comments")
		if id == "" || rest != "" {
			httpx.WriteError(w, http.StatusNotFound, "not found")
			return
		}
		if r.Method != http.MethodDelete {
			httpx.MethodNotAllowed(w)
			return
		}
		claims, _ := auth.FromContext(r.Context())
		c, err := s.Get(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if c.UserID != claims.UserID() && !claims.IsAdmin() {
			httpx.WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
		if err := s.Delete(r.Context(), id); err != nil {
			writeErr(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "event_topic": "shop.comment.deleted"})
	}))

	mux.HandleFunc("/v1/admin/comments", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w)
			return
		}
		page, err := s.List(r.Context(), Filter{
			SupplementID: httpx.Query(r, "supplement_id"),
			UserID:       httpx.Query(r, "user_id"),
			Status:       httpx.Query(r, "status"),
			Cursor:       httpx.Query(r, "cursor"),
			Limit:        httpx.IntParam(r, "limit", 50, 1, 200),
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"items": page.Items, "next_cursor": page.NextCursor, "cached": page.Cached, "event_topic": "shop.comment.listed",
		})
	}, auth.RoleAdmin))

	mux.HandleFunc("/v1/admin/comments/", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		id, rest := httpx.SplitPath(r, "/v1/admin/comments")
		if id == "" || rest != "" {
			httpx.WriteError(w, http.StatusNotFound, "not found")
			return
		}
		switch r.Method {
		case http.MethodPatch, http.MethodPut:
			var req moderateRequest
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			c, err := s.Moderate(r.Context(), id, req.Status)
			if err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"item": c, "event_topic": "shop.comment.moderated"})
		case http.MethodDelete:
			if err := s.Delete(r.Context(), id); err != nil {
				writeErr(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "event_topic": "shop.comment.deleted"})
		default:
			httpx.MethodNotAllowed(w)
		}
	}, auth.RoleAdmin))
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownProduct):
		httpx.WriteError(w, http.StatusNotFound, err.Error())
	case validation.Is(err):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		httpx.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
