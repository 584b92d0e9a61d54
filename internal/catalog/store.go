package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eren2212/supplementApp-sub000/internal/database"
	"github.com/eren2212/supplementApp-sub000/internal/listcache"
)

// Service stores supplements in Postgres, or in memory when db is nil.
type Service struct {
	db      *sql.DB
	cache   *listcache.Cache[ListResult]
	memMu   sync.RWMutex
	memByID map[string]Supplement
}

func NewService(db *sql.DB, cacheTTL time.Duration) *Service {
	return &Service{
		db:      db,
		cache:   listcache.New[ListResult](cacheTTL),
		memByID: make(map[string]Supplement),
	}
}

const cacheScope = "catalog"

// ---------------------------------------------------------------------------
// DB / Schema
// ---------------------------------------------------------------------------

func (s *Service) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return database.Exec(ctx, s.db,
		`CREATE TABLE IF NOT EXISTS shop_supplements (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL,
			description TEXT,
			category TEXT NOT NULL,
			price_cents BIGINT NOT NULL CHECK (price_cents > 0),
			stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
			image_url TEXT,
			tags TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_supplements_category ON shop_supplements (category, active)`,
		`CREATE INDEX IF NOT EXISTS idx_supplements_created ON shop_supplements (created_at DESC, id DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_supplements_lower_name ON shop_supplements (lower(name))`,
	)
}

const selectColumns = `id, name, slug, description, category, price_cents, stock, image_url, tags, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSupplement(row rowScanner) (Supplement, error) {
	var sp Supplement
	var desc, image, tags sql.NullString
	if err := row.Scan(&sp.ID, &sp.Name, &sp.Slug, &desc, &sp.Category, &sp.PriceCents, &sp.Stock, &image, &tags, &sp.Active, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
		return Supplement{}, err
	}
	sp.Description = desc.String
	sp.ImageURL = image.String
	if tags.String != "" {
		sp.Tags = strings.Split(tags.String, ",")
	}
	return sp, nil
}

// ---------------------------------------------------------------------------
// CRUD - Create
// ---------------------------------------------------------------------------

func (s *Service) Create(ctx context.Context, req CreateRequest) (Supplement, error) {
	sp, err := buildCreate(req)
	if err != nil {
		return Supplement{}, err
	}
	if err := s.insert(ctx, sp); err != nil {
		return Supplement{}, err
	}
	return sp, nil
}

func (s *Service) insert(ctx context.Context, sp Supplement) error {
	if s.db == nil {
		s.memMu.Lock()
		if s.nameTakenLocked(sp.Name, sp.ID) {
			s.memMu.Unlock()
			return ErrDuplicateName
		}
		s.memByID[sp.ID] = sp
		s.memMu.Unlock()
		s.cache.Purge()
		return nil
	}
	q := `INSERT INTO shop_supplements (` + selectColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	if _, err := s.db.ExecContext(ctx, q,
		sp.ID, sp.Name, sp.Slug, database.NilIfEmpty(sp.Description), sp.Category, sp.PriceCents, sp.Stock,
		database.NilIfEmpty(sp.ImageURL), database.NilIfEmpty(strings.Join(sp.Tags, ",")), sp.Active, sp.CreatedAt, sp.UpdatedAt,
	); err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateName
		}
		return err
	}
	s.cache.Purge()
	return nil
}

// nameTakenLocked reports whether another supplement than id already uses
// name, ignoring case. Callers hold memMu.
func (s *Service) nameTakenLocked(name, id string) bool {
	for _, o := range s.memByID {
		if o.ID != id && strings.EqualFold(o.Name, name) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// CRUD - Read
// ---------------------------------------------------------------------------

func (s *Service) Get(ctx context.Context, id string) (Supplement, error) {
	if s.db == nil {
		s.memMu.RLock()
		sp, ok := s.memByID[id]
		s.memMu.RUnlock()
		if !ok {
			return Supplement{}, ErrNotFound
		}
		return sp, nil
	}
	sp, err := scanSupplement(s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM shop_supplements WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Supplement{}, ErrNotFound
	}
	return sp, err
}

// Exists reports whether id names a stored supplement.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// FindByName looks a supplement up by case-insensitive exact name.
func (s *Service) FindByName(ctx context.Context, name string) (Supplement, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Supplement{}, false, nil
	}
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		for _, sp := range s.memByID {
			if strings.EqualFold(sp.Name, name) {
				return sp, true, nil
			}
		}
		return Supplement{}, false, nil
	}
	sp, err := scanSupplement(s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM shop_supplements WHERE lower(name) = lower($1)`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Supplement{}, false, nil
	}
	if err != nil {
		return Supplement{}, false, err
	}
	return sp, true, nil
}

// ---------------------------------------------------------------------------
// CRUD - List
// ---------------------------------------------------------------------------

func (s *Service) List(ctx context.Context, f Filter) (ListResult, error) {
	f = f.normalized()
	key := listcache.Key(cacheScope, f.Category, f.Query, f.MinPrice, f.MaxPrice, f.InStock, f.ActiveOnly, f.Sort, f.Limit)
	if f.Page == 1 {
		if cached, ok := s.cache.Get(key); ok {
			cached.Cached = true
			return cached, nil
		}
	}

	var res ListResult
	var err error
	if s.db == nil {
		res = s.listMemory(f)
	} else {
		res, err = s.listDB(ctx, f)
		if err != nil {
			return ListResult{}, err
		}
	}
	if f.Page == 1 {
		s.cache.Set(key, res)
	}
	return res, nil
}

func (s *Service) listMemory(f Filter) ListResult {
	s.memMu.RLock()
	items := make([]Supplement, 0, len(s.memByID))
	for _, sp := range s.memByID {
		if f.matches(sp) {
			items = append(items, sp)
		}
	}
	s.memMu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return less(f.Sort, items[i], items[j]) })

	res := ListResult{Total: len(items), Page: f.Page, Limit: f.Limit, Items: []Supplement{}}
	start := (f.Page - 1) * f.Limit
	if start >= len(items) {
		return res
	}
	end := min(start+f.Limit, len(items))
	res.Items = append(res.Items, items[start:end]...)
	return res
}

func less(sortKey string, a, b Supplement) bool {
	switch sortKey {
	case SortPriceAsc:
		if a.PriceCents != b.PriceCents {
			return a.PriceCents < b.PriceCents
		}
	case SortPriceDesc:
		if a.PriceCents != b.PriceCents {
			return a.PriceCents > b.PriceCents
		}
	case SortName:
		an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if an != bn {
			return an < bn
		}
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func orderBy(sortKey string) string {
	switch sortKey {
	case SortPriceAsc:
		return "price_cents ASC, created_at DESC, id DESC"
	case SortPriceDesc:
		return "price_cents DESC, created_at DESC, id DESC"
	case SortName:
		return "lower(name) ASC, created_at DESC, id DESC"
	default:
		return "created_at DESC, id DESC"
	}
}

func (s *Service) where(f Filter) *database.Where {
	w := &database.Where{}
	if f.ActiveOnly {
		w.Add("active = %s", true)
	}
	if f.Category != "" {
		w.Add("category = %s", f.Category)
	}
	if f.InStock {
		w.Raw("stock > 0")
	}
	if f.MinPrice > 0 {
		w.Add("price_cents >= %s", f.MinPrice)
	}
	if f.MaxPrice > 0 {
		w.Add("price_cents <= %s", f.MaxPrice)
	}
	if f.Query != "" {
		p := w.Arg("%" + escapeLike(f.Query) + "%")
		w.Raw(fmt.Sprintf("(name ILIKE %[1]s OR description ILIKE %[1]s OR replace(tags, ',', ' ') ILIKE %[1]s)", p))
	}
	return w
}

func (s *Service) listDB(ctx context.Context, f Filter) (ListResult, error) {
	w := s.where(f)
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shop_supplements `+w.SQL(), w.Args()...).Scan(&total); err != nil {
		return ListResult{}, err
	}

	limit := w.Arg(f.Limit)
	offset := w.Arg((f.Page - 1) * f.Limit)
	q := fmt.Sprintf(`SELECT %s FROM shop_supplements %s ORDER BY %s LIMIT %s OFFSET %s`,
		selectColumns, w.SQL(), orderBy(f.Sort), limit, offset)
	rows, err := s.db.QueryContext(ctx, q, w.Args()...)
	if err != nil {
		return ListResult{}, err
	}
	defer rows.Close()

	res := ListResult{Total: total, Page: f.Page, Limit: f.Limit, Items: make([]Supplement, 0, f.Limit)}
	for rows.Next() {
		sp, err := scanSupplement(rows)
		if err != nil {
			return ListResult{}, err
		}
		res.Items = append(res.Items, sp)
	}
	return res, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ---------------------------------------------------------------------------
// CRUD - Update
// ---------------------------------------------------------------------------

func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (Supplement, error) {
	if s.db == nil {
		s.memMu.Lock()
		cur, ok := s.memByID[id]
		if !ok {
			s.memMu.Unlock()
			return Supplement{}, ErrNotFound
		}
		next, err := applyUpdate(cur, req)
		if err != nil {
			s.memMu.Unlock()
			return Supplement{}, err
		}
		if s.nameTakenLocked(next.Name, id) {
			s.memMu.Unlock()
			return Supplement{}, ErrDuplicateName
		}
		s.memByID[id] = next
		s.memMu.Unlock()
		s.cache.Purge()
		return next, nil
	}

	cur, err := s.Get(ctx, id)
	if err != nil {
		return Supplement{}, err
	}
	next, err := applyUpdate(cur, req)
	if err != nil {
		return Supplement{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE shop_supplements SET name=$2, slug=$3, description=$4, category=$5, price_cents=$6, stock=$7, image_url=$8, tags=$9, active=$10, updated_at=$11 WHERE id=$1`,
		id, next.Name, next.Slug, database.NilIfEmpty(next.Description), next.Category, next.PriceCents, next.Stock,
		database.NilIfEmpty(next.ImageURL), database.NilIfEmpty(strings.Join(next.Tags, ",")), next.Active, next.UpdatedAt,
	)
	if database.IsUniqueViolation(err) {
		return Supplement{}, ErrDuplicateName
	}
	if err != nil {
		return Supplement{}, err
	}
	if err := database.Affected(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Supplement{}, ErrNotFound
		}
		return Supplement{}, err
	}
	s.cache.Purge()
	return next, nil
}

// AdjustStock adds delta to the stock of id. Stock never goes negative.
func (s *Service) AdjustStock(ctx context.Context, id string, delta int) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		sp, ok := s.memByID[id]
		if !ok {
			return ErrNotFound
		}
		if sp.Stock+delta < 0 {
			return fmt.Errorf("%s: %w", sp.Name, ErrInsufficientStock)
		}
		sp.Stock += delta
		sp.UpdatedAt = time.Now().UTC()
		s.memByID[id] = sp
		s.cache.Purge()
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE shop_supplements SET stock = stock + $2, updated_at = $3 WHERE id = $1 AND stock + $2 >= 0`,
		id, delta, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := database.Affected(res); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return gerr
		}
		return fmt.Errorf("%s: %w", id, ErrInsufficientStock)
	}
	s.cache.Purge()
	return nil
}

// ---------------------------------------------------------------------------
// CRUD - Delete
// ---------------------------------------------------------------------------

func (s *Service) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		s.memMu.Lock()
		if _, ok := s.memByID[id]; !ok {
			s.memMu.Unlock()
			return ErrNotFound
		}
		delete(s.memByID, id)
		s.memMu.Unlock()
		s.cache.Purge()
		return nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM shop_supplements WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if err := database.Affected(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	s.cache.Purge()
	return nil
}

// Count returns the number of supplements, active or not.
func (s *Service) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		return len(s.memByID), nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shop_supplements`).Scan(&n)
	return n, err
}

// LowStock returns active supplements whose stock is below threshold,
// lowest first.
func (s *Service) LowStock(ctx context.Context, threshold, limit int) ([]Supplement, error) {
	if s.db == nil {
		s.memMu.RLock()
		out := make([]Supplement, 0)
		for _, sp := range s.memByID {
			if sp.Active && sp.Stock < threshold {
				out = append(out, sp)
			}
		}
		s.memMu.RUnlock()
		sort.Slice(out, func(i, j int) bool {
			if out[i].Stock != out[j].Stock {
				return out[i].Stock < out[j].Stock
			}
			return out[i].Name < out[j].Name
		})
		if len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM shop_supplements WHERE active AND stock < $1 ORDER BY stock ASC, name ASC LIMIT $2`,
		threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Supplement, 0)
	for rows.Next() {
		sp, err := scanSupplement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}
