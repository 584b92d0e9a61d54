package survey

import (
	"net/http"

	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/httpx"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

type recommendRequest struct {
	Answers Answers `json:"answers"`
}

func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/survey/questions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"items": s.bank.Questions, "goal_question": s.bank.GoalQuestion,
		})
	})

	mux.HandleFunc("/v1/survey/recommendations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpx.MethodNotAllowed(w)
			return
		}
		var req recommendRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		var userID string
		if claims, ok := auth.FromContext(r.Context()); ok {
			userID = claims.UserID()
		}
		sub, recs, err := s.Submit(r.Context(), userID, req.Answers)
		if err != nil {
			writeErr(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"id": sub.ID, "items": recs, "event_topic": "shop.survey.submitted",
		})
	})

	mux.HandleFunc("/v1/survey/submissions", auth.Require(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w)
			return
		}
		page, err := s.List(r.Context(), Filter{
			UserID: httpx.Query(r, "user_id"),
			Cursor: httpx.Query(r, "cursor"),
			Limit:  httpx.IntParam(r, "limit", 20, 1, 100),
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, page)
	}, auth.RoleDoctor, auth.RoleAdmin))
}

func writeErr(w http.ResponseWriter, err error) {
	if validation.Is(err) {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	httpx.WriteError(w, http.StatusInternalServerError, err.Error())
}
