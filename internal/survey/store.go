package survey

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/eren2212/supplementApp-sub000/internal/database"
	"github.com/eren2212/supplementApp-sub000/internal/events"
	"github.com/eren2212/supplementApp-sub000/internal/ident"
	"github.com/eren2212/supplementApp-sub000/internal/pagination"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

type Submission struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id,omitempty"`
	Answers         Answers   `json:"answers"`
	Recommendations []string  `json:"recommendations"`
	CreatedAt       time.Time `json:"created_at"`
}

type Filter struct {
	UserID string
	Cursor string
	Limit  int
}

// Service records submissions in Postgres, or in memory when db is nil.
type Service struct {
	db       *sql.DB
	bank     *Bank
	resolver Resolver
	events   events.Publisher
	now      func() time.Time

	memMu sync.RWMutex
	mem   []Submission
}

func NewService(db *sql.DB, bank *Bank, resolver Resolver, pub events.Publisher) *Service {
	return &Service{
		db:       db,
		bank:     bank,
		resolver: resolver,
		events:   pub,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Bank() *Bank { return s.bank }

func (s *Service) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return database.Exec(ctx, s.db,
		`CREATE TABLE IF NOT EXISTS shop_survey_submissions (
			id TEXT PRIMARY KEY,
			user_id TEXT,
			answers JSONB NOT NULL,
			recommendations JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_survey_created ON shop_survey_submissions (created_at DESC, id DESC)`,
	)
}

// Submit validates answers, computes the recommendation and stores both.
// userID may be empty for anonymous visitors.
func (s *Service) Submit(ctx context.Context, userID string, answers Answers) (Submission, []Recommendation, error) {
	norm, err := s.bank.Normalize(answers)
	if err != nil {
		return Submission{}, nil, err
	}
	if len(norm) == 0 {
		return Submission{}, nil, validation.New("at least one question must be answered")
	}
	recs, err := s.bank.Recommend(ctx, norm, s.resolver)
	if err != nil {
		return Submission{}, nil, err
	}
	sub := Submission{
		ID:              ident.New("svy"),
		UserID:          userID,
		Answers:         norm,
		Recommendations: Names(recs),
		CreatedAt:       s.now(),
	}

	if s.db == nil {
		s.memMu.Lock()
		s.mem = append(s.mem, sub)
		s.memMu.Unlock()
	} else {
		a, err := json.Marshal(sub.Answers)
		if err != nil {
			return Submission{}, nil, err
		}
		r, err := json.Marshal(sub.Recommendations)
		if err != nil {
			return Submission{}, nil, err
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO shop_survey_submissions (id, user_id, answers, recommendations, created_at) VALUES ($1,$2,$3,$4,$5)`,
			sub.ID, database.NilIfEmpty(sub.UserID), a, r, sub.CreatedAt); err != nil {
			return Submission{}, nil, err
		}
	}
	s.events.Publish(ctx, events.SurveySubmitted, map[string]any{
		"id": sub.ID, "user_id": sub.UserID, "recommendations": sub.Recommendations,
	})
	return sub, recs, nil
}

func key(s Submission) (time.Time, string) { return s.CreatedAt, s.ID }

// List returns submissions newest first.
func (s *Service) List(ctx context.Context, f Filter) (pagination.Page[Submission], error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if s.db == nil {
		s.memMu.RLock()
		items := make([]Submission, 0, len(s.mem))
		for _, sub := range s.mem {
			if f.UserID == "" || sub.UserID == f.UserID {
				items = append(items, sub)
			}
		}
		s.memMu.RUnlock()
		page, err := pagination.Slice(items, f.Cursor, f.Limit, key)
		if err != nil {
			return page, validation.New(err.Error())
		}
		return page, nil
	}

	ts, id, err := pagination.Parse(f.Cursor)
	if err != nil {
		return pagination.Page[Submission]{}, validation.New(err.Error())
	}
	var where database.Where
	if f.UserID != "" {
		where.Add("user_id = %s", f.UserID)
	}
	where.Before(ts, id)
	limit := where.Arg(f.Limit + 1)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, answers, recommendations, created_at FROM shop_survey_submissions `+where.SQL()+
			` ORDER BY created_at DESC, id DESC LIMIT `+limit, where.Args()...)
	if err != nil {
		return pagination.Page[Submission]{}, err
	}
	defer rows.Close()
	items := make([]Submission, 0, f.Limit+1)
	for rows.Next() {
		var sub Submission
		var user sql.NullString
		var a, r []byte
		if err := rows.Scan(&sub.ID, &user, &a, &r, &sub.CreatedAt); err != nil {
			return pagination.Page[Submission]{}, err
		}
		if err := json.Unmarshal(a, &sub.Answers); err != nil {
			return pagination.Page[Submission]{}, err
		}
		if err := json.Unmarshal(r, &sub.Recommendations); err != nil {
			return pagination.Page[Submission]{}, err
		}
		sub.UserID = user.String
		items = append(items, sub)
	}
	if err := rows.Err(); err != nil {
		return pagination.Page[Submission]{}, err
	}
	return pagination.Trim(items, f.Limit, key), nil
}
