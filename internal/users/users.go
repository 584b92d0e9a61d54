// Package users stores accounts and their roles.
package users

import (
	"context"
	"database/sql"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/database"
	"github.com/eren2212/supplementApp-sub000/internal/ident"
	"github.com/eren2212/supplementApp-sub000/internal/pagination"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

const MinPasswordLength = 8

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type ProfileRequest struct {
	Name            *string `json:"name"`
	Password        *string `json:"password"`
	CurrentPassword string  `json:"current_password"`
}

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmptyUpdate        = errors.New("empty update payload")
)

func normalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", validation.New("invalid email")
	}
	return s, nil
}

func checkPassword(p string) error {
	if len(p) < MinPasswordLength {
		return validation.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

type Service struct {
	db      *sql.DB
	memMu   sync.RWMutex
	memByID map[string]User
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, memByID: make(map[string]User)}
}

func (s *Service) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return database.Exec(ctx, s.db,
		`CREATE TABLE IF NOT EXISTS shop_users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_role_created ON shop_users (role, created_at DESC, id DESC)`,
	)
}

const columns = `id, email, name, password_hash, role, created_at, updated_at`

func scan(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// Register creates a CUSTOMER account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (User, error) {
	return s.create(ctx, req, auth.RoleCustomer)
}

func (s *Service) create(ctx context.Context, req RegisterRequest, role string) (User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return User{}, err
	}
	if err := checkPassword(req.Password); err != nil {
		return User{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return User{}, err
	}
	now := time.Now().UTC()
	u := User{ID: ident.New("usr"), Email: email, Name: name, PasswordHash: hash, Role: role, CreatedAt: now, UpdatedAt: now}

	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		for _, o := range s.memByID {
			if o.Email == email {
				return User{}, ErrEmailTaken
			}
		}
		s.memByID[u.ID] = u
		return u, nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO shop_users (`+columns+`) VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (email) DO NOTHING`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	if err := database.Affected(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return u, nil
}

// Authenticate returns the user when password matches. Unknown emails and
// wrong passwords yield the same error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	u, err := s.ByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) ByEmail(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		for _, u := range s.memByID {
			if u.Email == email {
				return u, nil
			}
		}
		return User{}, ErrNotFound
	}
	u, err := scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM shop_users WHERE email=$1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *Service) Get(ctx context.Context, id string) (User, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		u, ok := s.memByID[id]
		if !ok {
			return User{}, ErrNotFound
		}
		return u, nil
	}
	u, err := scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM shop_users WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

// CurrentRole reports the stored role of id; found is false once the user
// is deleted.
func (s *Service) CurrentRole(ctx context.Context, id string) (string, bool, error) {
	u, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return u.Role, true, nil
}

// DisplayName returns the public name of a user.
func (s *Service) DisplayName(ctx context.Context, id string) (string, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return u.Name, nil
}

type Filter struct {
	Role   string
	Cursor string
	Limit  int
}

func key(u User) (time.Time, string) { return u.CreatedAt, u.ID }

// List pages users newest first, optionally by role.
func (s *Service) List(ctx context.Context, f Filter) (pagination.Page[User], error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	role := auth.NormalizeRole(f.Role)
	if f.Role != "" && role == "" {
		return pagination.Page[User]{}, validation.New("invalid role")
	}

	if s.db == nil {
		s.memMu.RLock()
		items := make([]User, 0, len(s.memByID))
		for _, u := range s.memByID {
			if role == "" || u.Role == role {
				items = append(items, u)
			}
		}
		s.memMu.RUnlock()
		page, err := pagination.Slice(items, f.Cursor, f.Limit, key)
		if err != nil {
			return pagination.Page[User]{}, validation.New(err.Error())
		}
		return page, nil
	}

	ts, id, err := pagination.Parse(f.Cursor)
	if err != nil {
		return pagination.Page[User]{}, validation.New(err.Error())
	}
	var where database.Where
	if role != "" {
		where.Add("role = %s", role)
	}
	where.Before(ts, id)
	limitArg := where.Arg(f.Limit + 1)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM shop_users `+where.SQL()+` ORDER BY created_at DESC, id DESC LIMIT `+limitArg,
		where.Args()...)
	if err != nil {
		return pagination.Page[User]{}, err
	}
	defer rows.Close()
	items := make([]User, 0, f.Limit+1)
	for rows.Next() {
		u, err := scan(rows)
		if err != nil {
			return pagination.Page[User]{}, err
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return pagination.Page[User]{}, err
	}
	return pagination.Trim(items, f.Limit, key), nil
}

func (s *Service) UpdateRole(ctx context.Context, id, role string) (User, error) {
	r := auth.NormalizeRole(role)
	if r == "" {
		return User{}, validation.New("invalid role")
	}
	return s.mutate(ctx, id, func(u *User) error {
		u.Role = r
		return nil
	})
}

// UpdateProfile changes the name and, when the current password matches,
// the password.
func (s *Service) UpdateProfile(ctx context.Context, id string, req ProfileRequest) (User, error) {
	if req.Name == nil && req.Password == nil {
		return User{}, ErrEmptyUpdate
	}
	var hash string
	if req.Password != nil {
		if err := checkPassword(*req.Password); err != nil {
			return User{}, err
		}
		h, err := auth.HashPassword(*req.Password)
		if err != nil {
			return User{}, err
		}
		hash = h
	}
	return s.mutate(ctx, id, func(u *User) error {
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return validation.New("name must not be empty")
			}
			u.Name = name
		}
		if hash != "" {
			if !auth.CheckPassword(u.PasswordHash, req.CurrentPassword) {
				return ErrInvalidCredentials
			}
			u.PasswordHash = hash
		}
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, id string, fn func(*User) error) (User, error) {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		u, ok := s.memByID[id]
		if !ok {
			return User{}, ErrNotFound
		}
		if err := fn(&u); err != nil {
			return User{}, err
		}
		u.UpdatedAt = time.Now().UTC()
		s.memByID[id] = u
		return u, nil
	}

	u, err := s.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := fn(&u); err != nil {
		return User{}, err
	}
	u.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE shop_users SET name=$2, password_hash=$3, role=$4, updated_at=$5 WHERE id=$1`,
		id, u.Name, u.PasswordHash, u.Role, u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	if err := database.Affected(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		if _, ok := s.memByID[id]; !ok {
			return ErrNotFound
		}
		delete(s.memByID, id)
		return nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM shop_users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if err := database.Affected(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// CountByRole returns the number of users per role.
func (s *Service) CountByRole(ctx context.Context) (map[string]int, error) {
	out := map[string]int{auth.RoleCustomer: 0, auth.RoleDoctor: 0, auth.RoleAdmin: 0}
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		for _, u := range s.memByID {
			out[u.Role]++
		}
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT role, COUNT(*) FROM shop_users GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		out[role] = n
	}
	return out, rows.Err()
}

func (s *Service) Count(ctx context.Context) (int, error) {
	by, err := s.CountByRole(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range by {
		n += c
	}
	return n, nil
}

// EnsureAdmin creates an ADMIN account for email, or promotes the existing
// one. The password is only set on creation.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (User, bool, error) {
	u, err := s.ByEmail(ctx, email)
	switch {
	case err == nil:
		if u.Role == auth.RoleAdmin {
			return u, false, nil
		}
		u, err = s.UpdateRole(ctx, u.ID, auth.RoleAdmin)
		return u, false, err
	case errors.Is(err, ErrNotFound):
		u, err = s.create(ctx, RegisterRequest{Email: email, Name: "Administrator", Password: password}, auth.RoleAdmin)
		return u, err == nil, err
	default:
		return User{}, false, err
	}
}
