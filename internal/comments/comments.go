// Package comments stores product reviews and their moderation state.
package comments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/eren2212/supplementApp-sub000/internal/database"
	"github.com/eren2212/supplementApp-sub000/internal/events"
	"github.com/eren2212/supplementApp-sub000/internal/ident"
	"github.com/eren2212/supplementApp-sub000/internal/listcache"
	"github.com/eren2212/supplementApp-sub000/internal/pagination"
	"github.com/eren2212/supplementApp-sub000/internal/settings"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"

	MaxBodyLength = 2000
)

type Comment struct {
	ID           string    `json:"id"`
	SupplementID string    `json:"supplement_id"`
	UserID       string    `json:"user_id"`
	AuthorName   string    `json:"author_name"`
	Rating       int       `json:"rating"`
	Body         string    `json:"body"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreateRequest struct {
	SupplementID string `json:"supplement_id"`
	Rating       int    `json:"rating"`
	Body         string `json:"body"`
}

// Author identifies who is writing a comment.
type Author struct {
	UserID string
	Name   string
}

type Filter struct {
	SupplementID string
	UserID       string
	Status       string
	Cursor       string
	Limit        int
}

type Rating struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

var (
	ErrNotFound       = errors.New("comment not found")
	ErrUnknownProduct = errors.New("supplement not found")
)

// Products checks that a review targets an existing supplement.
type Products interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type SettingsSource interface {
	Get(ctx context.Context) (settings.Settings, error)
}

func normalizeStatus(s string) (string, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case StatusPending, StatusApproved, StatusRejected:
		return v, nil
	default:
		return "", validation.New("status must be pending, approved or rejected")
	}
}

var policy = bluemonday.StrictPolicy()

// Sanitize strips all markup from a review body and trims it. The result
// is plain text: entities the policy escapes are decoded again, so
// templates escape it exactly once.
func Sanitize(body string) string {
	return strings.TrimSpace(html.UnescapeString(policy.Sanitize(body)))
}

func buildComment(a Author, req CreateRequest, autoApprove bool) (Comment, error) {
	if strings.TrimSpace(req.SupplementID) == "" {
		return Comment{}, validation.New("supplement_id is required")
	}
	if req.Rating < 1 || req.Rating > 5 {
		return Comment{}, validation.New("rating must be between 1 and 5")
	}
	body := Sanitize(req.Body)
	if body == "" {
		return Comment{}, validation.New("body is required")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return Comment{}, validation.Errorf("body must be at most %d characters", MaxBodyLength)
	}
	status := StatusPending
	if autoApprove {
		status = StatusApproved
	}
	now := time.Now().UTC()
	return Comment{
		ID:           ident.New("cmt"),
		SupplementID: strings.TrimSpace(req.SupplementID),
		UserID:       a.UserID,
		AuthorName:   a.Name,
		Rating:       req.Rating,
		Body:         body,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

type Service struct {
	db       *sql.DB
	products Products
	settings SettingsSource
	events   events.Publisher
	cache    *listcache.Cache[pagination.Page[Comment]]
	memMu    sync.RWMutex
	mem      map[string]Comment
}

func NewService(db *sql.DB, products Products, st SettingsSource, pub events.Publisher, cacheTTL time.Duration) *Service {
	return &Service{
		db:       db,
		products: products,
		settings: st,
		events:   pub,
		cache:    listcache.New[pagination.Page[Comment]](cacheTTL),
		mem:      make(map[string]Comment),
	}
}

const cacheScope = "comments"

func (s *Service) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return database.Exec(ctx, s.db,
		`CREATE TABLE IF NOT EXISTS shop_comments (
			id TEXT PRIMARY KEY,
			supplement_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			author_name TEXT NOT NULL,
			rating SMALLINT NOT NULL CHECK (rating BETWEEN 1 AND 5),
			body TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_supplement ON shop_comments (supplement_id, status, created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_status ON shop_comments (status, created_at DESC, id DESC)`,
	)
}

const columns = `id, supplement_id, user_id, author_name, rating, body, status, created_at, updated_at`

func scan(row interface{ Scan(...any) error }) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.SupplementID, &c.UserID, &c.AuthorName, &c.Rating, &c.Body, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Service) Create(ctx context.Context, a Author, req CreateRequest) (Comment, error) {
	st, err := s.settings.Get(ctx)
	if err != nil {
		return Comment{}, err
	}
	c, err := buildComment(a, req, st.AutoApproveComments)
	if err != nil {
		return Comment{}, err
	}
	ok, err := s.products.Exists(ctx, c.SupplementID)
	if err != nil {
		return Comment{}, err
	}
	if !ok {
		return Comment{}, ErrUnknownProduct
	}

	if s.db == nil {
		s.memMu.Lock()
		s.mem[c.ID] = c
		s.memMu.Unlock()
	} else if _, err := s.db.ExecContext(ctx,
		`INSERT INTO shop_comments (`+columns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.SupplementID, c.UserID, c.AuthorName, c.Rating, c.Body, c.Status, c.CreatedAt, c.UpdatedAt,
	); err != nil {
		return Comment{}, err
	}
	s.cache.Invalidate(cacheScope)
	s.events.Publish(ctx, events.CommentCreated, map[string]any{
		"id": c.ID, "supplement_id": c.SupplementID, "status": c.Status, "rating": c.Rating,
	})
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (Comment, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		c, ok := s.mem[id]
		if !ok {
			return Comment{}, ErrNotFound
		}
		return c, nil
	}
	c, err := scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM shop_comments WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	return c, err
}

func key(c Comment) (time.Time, string) { return c.CreatedAt, c.ID }

// List pages comments newest first. The first page of each filter is
// cached until the next write.
func (s *Service) List(ctx context.Context, f Filter) (pagination.Page[Comment], error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Status != "" {
		st, err := normalizeStatus(f.Status)
		if err != nil {
			return pagination.Page[Comment]{}, err
		}
		f.Status = st
	}
	ck := listcache.Key(cacheScope, f.SupplementID, f.UserID, f.Status, f.Limit)
	if f.Cursor == "" {
		if page, ok := s.cache.Get(ck); ok {
			page.Cached = true
			return page, nil
		}
	}

	var page pagination.Page[Comment]
	var err error
	if s.db == nil {
		page, err = s.listMemory(f)
	} else {
		page, err = s.listDB(ctx, f)
	}
	if err != nil {
		return pagination.Page[Comment]{}, err
	}
	if f.Cursor == "" {
		s.cache.Set(ck, page)
	}
	return page, nil
}

func (f Filter) matches(c Comment) bool {
	return (f.SupplementID == "" || c.SupplementID == f.SupplementID) &&
		(f.UserID == "" || c.UserID == f.UserID) &&
		(f.Status == "" || c.Status == f.Status)
}

func (s *Service) listMemory(f Filter) (pagination.Page[Comment], error) {
	s.memMu.RLock()
	items := make([]Comment, 0)
	for _, c := range s.mem {
		if f.matches(c) {
			items = append(items, c)
		}
	}
	s.memMu.RUnlock()
	page, err := pagination.Slice(items, f.Cursor, f.Limit, key)
	if err != nil {
		return page, validation.New(err.Error())
	}
	return page, nil
}

func (s *Service) listDB(ctx context.Context, f Filter) (pagination.Page[Comment], error) {
	ts, id, err := pagination.Parse(f.Cursor)
	if err != nil {
		return pagination.Page[Comment]{}, validation.New(err.Error())
	}
	var where database.Where
	if f.SupplementID != "" {
		where.Add("supplement_id = %s", f.SupplementID)
	}
	if f.UserID != "" {
		where.Add("user_id = %s", f.UserID)
	}
	if f.Status != "" {
		where.Add("status = %s", f.Status)
	}
	where.Before(ts, id)
	limit := where.Arg(f.Limit + 1)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM shop_comments `+where.SQL()+` ORDER BY created_at DESC, id DESC LIMIT `+limit,
		where.Args()...)
	if err != nil {
		return pagination.Page[Comment]{}, err
	}
	defer rows.Close()
	items := make([]Comment, 0, f.Limit+1)
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return pagination.Page[Comment]{}, err
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return pagination.Page[Comment]{}, err
	}
	return pagination.Trim(items, f.Limit, key), nil
}

// Moderate sets the moderation status of a comment.
func (s *Service) Moderate(ctx context.Context, id, status string) (Comment, error) {
	st, err := normalizeStatus(status)
	if err != nil {
		return Comment{}, err
	}
	now := time.Now().UTC()
	if s.db == nil {
		s.memMu.Lock()
		c, ok := s.mem[id]
		if !ok {
			s.memMu.Unlock()
			return Comment{}, ErrNotFound
		}
		c.Status, c.UpdatedAt = st, now
		s.mem[id] = c
		s.memMu.Unlock()
		s.cache.Invalidate(cacheScope)
		return c, nil
	}
	c, err := scan(s.db.QueryRowContext(ctx,
		`UPDATE shop_comments SET status=$2, updated_at=$3 WHERE id=$1 RETURNING `+columns, id, st, now))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, err
	}
	s.cache.Invalidate(cacheScope)
	return c, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		s.memMu.Lock()
		_, ok := s.mem[id]
		delete(s.mem, id)
		s.memMu.Unlock()
		if !ok {
			return ErrNotFound
		}
		s.cache.Invalidate(cacheScope)
		return nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM shop_comments WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if err := database.Affected(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	s.cache.Invalidate(cacheScope)
	return nil
}

// Rating averages the approved reviews of a supplement.
func (s *Service) Rating(ctx context.Context, supplementID string) (Rating, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		var r Rating
		sum := 0
		for _, c := range s.mem {
			if c.SupplementID == supplementID && c.Status == StatusApproved {
				r.Count++
				sum += c.Rating
			}
		}
		if r.Count > 0 {
			r.Average = float64(sum) / float64(r.Count)
		}
		return r, nil
	}
	var r Rating
	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(rating) FROM shop_comments WHERE supplement_id=$1 AND status=$2`,
		supplementID, StatusApproved).Scan(&r.Count, &avg); err != nil {
		return Rating{}, fmt.Errorf("rating %s: %w", supplementID, err)
	}
	r.Average = avg.Float64
	return r, nil
}

// CountByStatus is used by the admin dashboard.
func (s *Service) CountByStatus(ctx context.Context, status string) (int, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		n := 0
		for _, c := range s.mem {
			if c.Status == status {
				n++
			}
		}
		return n, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shop_comments WHERE status=$1`, status).Scan(&n)
	return n, err
}
