// Package catalog manages the supplements sold by the shop.
package catalog

import (
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/eren2212/supplementApp-sub000/internal/ident"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

type Supplement struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	PriceCents  int64     `json:"price_cents"`
	Stock       int       `json:"stock"`
	ImageURL    string    `json:"image_url,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s Supplement) InStock() bool { return s.Stock > 0 }

type CreateRequest struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Category    string   `json:"category" yaml:"category"`
	PriceCents  int64    `json:"price_cents" yaml:"price_cents"`
	Stock       int      `json:"stock" yaml:"stock"`
	ImageURL    string   `json:"image_url" yaml:"image_url"`
	Tags        []string `json:"tags" yaml:"tags"`
	Active      *bool    `json:"active,omitempty" yaml:"active"`
}

type UpdateRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Category    *string   `json:"category,omitempty"`
	PriceCents  *int64    `json:"price_cents,omitempty"`
	Stock       *int      `json:"stock,omitempty"`
	ImageURL    *string   `json:"image_url,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Active      *bool     `json:"active,omitempty"`
}

func (r UpdateRequest) empty() bool {
	return r.Name == nil && r.Description == nil && r.Category == nil && r.PriceCents == nil &&
		r.Stock == nil && r.ImageURL == nil && r.Tags == nil && r.Active == nil
}

// Filter narrows List. Zero values mean "no constraint".
type Filter struct {
	Category   string
	Query      string
	MinPrice   int64
	MaxPrice   int64
	InStock    bool
	ActiveOnly bool
	Sort       string
	Page       int
	Limit      int
}

type ListResult struct {
	Items  []Supplement `json:"items"`
	Total  int          `json:"total"`
	Page   int          `json:"page"`
	Limit  int          `json:"limit"`
	Cached bool         `json:"cached"`
}

var (
	ErrNotFound          = errors.New("supplement not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrEmptyUpdate       = errors.New("empty update payload")
	ErrDuplicateName     = errors.New("a supplement with this name already exists")
)

// ---------------------------------------------------------------------------
// Build / Validate
// ---------------------------------------------------------------------------

// Categories lists the accepted category values in display order.
var Categories = []string{"vitamins", "minerals", "protein", "omega", "probiotics", "herbal", "sleep", "energy", "immunity", "other"}

func normalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return ""
}

const (
	SortNewest    = "newest"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortName      = "name"
)

func normalizeSort(s string) string {
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case SortPriceAsc, SortPriceDesc, SortName:
		return s
	default:
		return SortNewest
	}
}

func buildCreate(req CreateRequest) (Supplement, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Supplement{}, validation.New("name is required")
	}
	if req.PriceCents <= 0 {
		return Supplement{}, validation.New("price_cents must be positive")
	}
	if req.Stock < 0 {
		return Supplement{}, validation.New("stock must not be negative")
	}
	category := normalizeCategory(req.Category)
	if category == "" {
		if strings.TrimSpace(req.Category) != "" {
			return Supplement{}, validation.New("unknown category")
		}
		category = "other"
	}
	image := strings.TrimSpace(req.ImageURL)
	if err := validateImageURL(image); err != nil {
		return Supplement{}, err
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	now := time.Now().UTC()
	return Supplement{
		ID:          ident.New("sup"),
		Name:        name,
		Slug:        Slugify(name),
		Description: strings.TrimSpace(req.Description),
		Category:    category,
		PriceCents:  req.PriceCents,
		Stock:       req.Stock,
		ImageURL:    image,
		Tags:        normalizeTags(req.Tags),
		Active:      active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// applyUpdate validates req and merges it into cur.
func applyUpdate(cur Supplement, req UpdateRequest) (Supplement, error) {
	if req.empty() {
		return Supplement{}, ErrEmptyUpdate
	}
	next := cur
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return Supplement{}, validation.New("name is required")
		}
		next.Name = name
		next.Slug = Slugify(name)
	}
	if req.Description != nil {
		next.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		c := normalizeCategory(*req.Category)
		if c == "" {
			return Supplement{}, validation.New("unknown category")
		}
		next.Category = c
	}
	if req.PriceCents != nil {
		if *req.PriceCents <= 0 {
			return Supplement{}, validation.New("price_cents must be positive")
		}
		next.PriceCents = *req.PriceCents
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return Supplement{}, validation.New("stock must not be negative")
		}
		next.Stock = *req.Stock
	}
	if req.ImageURL != nil {
		image := strings.TrimSpace(*req.ImageURL)
		if err := validateImageURL(image); err != nil {
			return Supplement{}, err
		}
		next.ImageURL = image
	}
	if req.Tags != nil {
		next.Tags = normalizeTags(*req.Tags)
	}
	if req.Active != nil {
		next.Active = *req.Active
	}
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// validateImageURL accepts absolute http(s) URLs and paths under /static/.
func validateImageURL(s string) error {
	if s == "" || strings.HasPrefix(s, "/static/") {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return validation.New("image_url must be an http(s) URL or a /static/ path")
	}
	return nil
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || strings.Contains(t, ",") || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Slugify lowercases s and joins its alphanumeric runs with "-".
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if b.Len() > 0 && !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// matches applies f to s the same way the SQL listing does.
func (f Filter) matches(s Supplement) bool {
	if f.ActiveOnly && !s.Active {
		return false
	}
	if f.Category != "" && s.Category != f.Category {
		return false
	}
	if f.InStock && s.Stock <= 0 {
		return false
	}
	if f.MinPrice > 0 && s.PriceCents < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && s.PriceCents > f.MaxPrice {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !slices.ContainsFunc([]string{s.Name, s.Description, strings.Join(s.Tags, " ")}, func(field string) bool {
			return strings.Contains(strings.ToLower(field), q)
		}) {
			return false
		}
	}
	return true
}

func (f Filter) normalized() Filter {
	f.Category = strings.ToLower(strings.TrimSpace(f.Category))
	f.Query = strings.TrimSpace(f.Query)
	f.Sort = normalizeSort(f.Sort)
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.Limit < 1:
		f.Limit = 24
	case f.Limit > 100:
		f.Limit = 100
	}
	return f
}
