// Package addresses stores shipping addresses per user.
package addresses

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eren2212/supplementApp-sub000/internal/database"
	"github.com/eren2212/supplementApp-sub000/internal/ident"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

type Address struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Label      string    `json:"label,omitempty"`
	FullName   string    `json:"full_name"`
	Line1      string    `json:"line1"`
	Line2      string    `json:"line2,omitempty"`
	City       string    `json:"city"`
	State      string    `json:"state,omitempty"`
	PostalCode string    `json:"postal_code"`
	Country    string    `json:"country"`
	Phone      string    `json:"phone,omitempty"`
	IsDefault  bool      `json:"is_default"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type CreateRequest struct {
	Label      string `json:"label"`
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
	IsDefault  bool   `json:"is_default"`
}

type UpdateRequest struct {
	Label      *string `json:"label"`
	FullName   *string `json:"full_name"`
	Line1      *string `json:"line1"`
	Line2      *string `json:"line2"`
	City       *string `json:"city"`
	State      *string `json:"state"`
	PostalCode *string `json:"postal_code"`
	Country    *string `json:"country"`
	Phone      *string `json:"phone"`
	IsDefault  *bool   `json:"is_default"`
}

var (
	ErrNotFound    = errors.New("address not found")
	ErrEmptyUpdate = errors.New("empty update payload")
)

func (a Address) validate() error {
	switch {
	case a.FullName == "":
		return validation.New("full_name is required")
	case a.Line1 == "":
		return validation.New("line1 is required")
	case a.City == "":
		return validation.New("city is required")
	case a.PostalCode == "":
		return validation.New("postal_code is required")
	case len(a.Country) != 2:
		return validation.New("country must be a 2-letter ISO code")
	}
	return nil
}

func buildCreate(userID string, req CreateRequest) (Address, error) {
	now := time.Now().UTC()
	a := Address{
		ID:         ident.New("adr"),
		UserID:     userID,
		Label:      strings.TrimSpace(req.Label),
		FullName:   strings.TrimSpace(req.FullName),
		Line1:      strings.TrimSpace(req.Line1),
		Line2:      strings.TrimSpace(req.Line2),
		City:       strings.TrimSpace(req.City),
		State:      strings.TrimSpace(req.State),
		PostalCode: strings.TrimSpace(req.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(req.Country)),
		Phone:      strings.TrimSpace(req.Phone),
		IsDefault:  req.IsDefault,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return a, a.validate()
}

func applyUpdate(cur Address, req UpdateRequest) (Address, error) {
	fields := []struct {
		src *string
		dst *string
	}{
		{req.Label, &cur.Label}, {req.FullName, &cur.FullName}, {req.Line1, &cur.Line1},
		{req.Line2, &cur.Line2}, {req.City, &cur.City}, {req.State, &cur.State},
		{req.PostalCode, &cur.PostalCode}, {req.Country, &cur.Country}, {req.Phone, &cur.Phone},
	}
	changed := req.IsDefault != nil
	for _, f := range fields {
		if f.src != nil {
			*f.dst = strings.TrimSpace(*f.src)
			changed = true
		}
	}
	if !changed {
		return Address{}, ErrEmptyUpdate
	}
	cur.Country = strings.ToUpper(cur.Country)
	if req.IsDefault != nil {
		cur.IsDefault = *req.IsDefault
	}
	cur.UpdatedAt = time.Now().UTC()
	return cur, cur.validate()
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service keeps addresses in Postgres, or in memory when db is nil. Every
// operation is scoped to the owning user; another user's address reads as
// not found.
type Service struct {
	db    *sql.DB
	memMu sync.RWMutex
	mem   map[string]Address
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, mem: make(map[string]Address)}
}

func (s *Service) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return database.Exec(ctx, s.db,
		`CREATE TABLE IF NOT EXISTS shop_addresses (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			label TEXT,
			full_name TEXT NOT NULL,
			line1 TEXT NOT NULL,
			line2 TEXT,
			city TEXT NOT NULL,
			state TEXT,
			postal_code TEXT NOT NULL,
			country TEXT NOT NULL,
			phone TEXT,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_addresses_user ON shop_addresses (user_id, created_at DESC)`,
	)
}

const columns = `id, user_id, label, full_name, line1, line2, city, state, postal_code, country, phone, is_default, created_at, updated_at`

func scan(row interface{ Scan(...any) error }) (Address, error) {
	var a Address
	var label, line2, state, phone sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &label, &a.FullName, &a.Line1, &line2, &a.City, &state,
		&a.PostalCode, &a.Country, &phone, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt)
	a.Label, a.Line2, a.State, a.Phone = label.String, line2.String, state.String, phone.String
	return a, err
}

func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (Address, error) {
	a, err := buildCreate(userID, req)
	if err != nil {
		return Address{}, err
	}

	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if !s.hasAnyLocked(userID) {
			a.IsDefault = true
		}
		if a.IsDefault {
			s.clearDefaultLocked(userID, a.ID)
		}
		s.mem[a.ID] = a
		return a, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Address{}, err
	}
	defer func() { _ = tx.Rollback() }()
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM shop_addresses WHERE user_id=$1`, userID).Scan(&n); err != nil {
		return Address{}, err
	}
	if n == 0 {
		a.IsDefault = true
	}
	if a.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE shop_addresses SET is_default=FALSE WHERE user_id=$1`, userID); err != nil {
			return Address{}, err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO shop_addresses (`+columns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		a.ID, a.UserID, database.NilIfEmpty(a.Label), a.FullName, a.Line1, database.NilIfEmpty(a.Line2), a.City,
		database.NilIfEmpty(a.State), a.PostalCode, a.Country, database.NilIfEmpty(a.Phone), a.IsDefault, a.CreatedAt, a.UpdatedAt,
	); err != nil {
		return Address{}, err
	}
	return a, tx.Commit()
}

func (s *Service) hasAnyLocked(userID string) bool {
	for _, a := range s.mem {
		if a.UserID == userID {
			return true
		}
	}
	return false
}

func (s *Service) clearDefaultLocked(userID, except string) {
	for id, a := range s.mem {
		if a.UserID == userID && id != except && a.IsDefault {
			a.IsDefault = false
			s.mem[id] = a
		}
	}
}

func (s *Service) Get(ctx context.Context, userID, id string) (Address, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		a, ok := s.mem[id]
		if !ok || a.UserID != userID {
			return Address{}, ErrNotFound
		}
		return a, nil
	}
	a, err := scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM shop_addresses WHERE id=$1 AND user_id=$2`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Address{}, ErrNotFound
	}
	return a, err
}

// List returns the user's addresses, default first then newest.
func (s *Service) List(ctx context.Context, userID string) ([]Address, error) {
	out := make([]Address, 0)
	if s.db == nil {
		s.memMu.RLock()
		for _, a := range s.mem {
			if a.UserID == userID {
				out = append(out, a)
			}
		}
		s.memMu.RUnlock()
		sort.Slice(out, func(i, j int) bool {
			if out[i].IsDefault != out[j].IsDefault {
				return out[i].IsDefault
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM shop_addresses WHERE user_id=$1 ORDER BY is_default DESC, created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Service) Update(ctx context.Context, userID, id string, req UpdateRequest) (Address, error) {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		cur, ok := s.mem[id]
		if !ok || cur.UserID != userID {
			return Address{}, ErrNotFound
		}
		next, err := applyUpdate(cur, req)
		if err != nil {
			return Address{}, err
		}
		if next.IsDefault {
			s.clearDefaultLocked(userID, id)
		}
		s.mem[id] = next
		return next, nil
	}

	cur, err := s.Get(ctx, userID, id)
	if err != nil {
		return Address{}, err
	}
	next, err := applyUpdate(cur, req)
	if err != nil {
		return Address{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Address{}, err
	}
	defer func() { _ = tx.Rollback() }()
	if next.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE shop_addresses SET is_default=FALSE WHERE user_id=$1 AND id<>$2`, userID, id); err != nil {
			return Address{}, err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE shop_addresses SET label=$3, full_name=$4, line1=$5, line2=$6, city=$7, state=$8, postal_code=$9, country=$10, phone=$11, is_default=$12, updated_at=$13
		 WHERE id=$1 AND user_id=$2`,
		id, userID, database.NilIfEmpty(next.Label), next.FullName, next.Line1, database.NilIfEmpty(next.Line2), next.City,
		database.NilIfEmpty(next.State), next.PostalCode, next.Country, database.NilIfEmpty(next.Phone), next.IsDefault, next.UpdatedAt,
	); err != nil {
		return Address{}, err
	}
	return next, tx.Commit()
}

// Delete removes an address. When the default goes, the newest remaining
// address becomes the default.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		a, ok := s.mem[id]
		if !ok || a.UserID != userID {
			return ErrNotFound
		}
		delete(s.mem, id)
		if a.IsDefault {
			var next *Address
			for _, o := range s.mem {
				if o.UserID == userID && (next == nil || o.CreatedAt.After(next.CreatedAt)) {
					o := o
					next = &o
				}
			}
			if next != nil {
				next.IsDefault = true
				s.mem[next.ID] = *next
			}
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	var wasDefault bool
	err = tx.QueryRowContext(ctx, `DELETE FROM shop_addresses WHERE id=$1 AND user_id=$2 RETURNING is_default`, id, userID).Scan(&wasDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if wasDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE shop_addresses SET is_default=TRUE WHERE id = (
				SELECT id FROM shop_addresses WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1)`, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
