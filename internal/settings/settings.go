// Package settings stores the shop-wide settings as key/value rows.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eren2212/supplementApp-sub000/internal/database"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

type Settings struct {
	StoreName                  string    `json:"store_name"`
	ContactEmail               string    `json:"contact_email,omitempty"`
	Currency                   string    `json:"currency"`
	ShippingFeeCents           int64     `json:"shipping_fee_cents"`
	FreeShippingThresholdCents int64     `json:"free_shipping_threshold_cents"`
	TaxRateBps                 int64     `json:"tax_rate_bps"`
	LowStockThreshold          int       `json:"low_stock_threshold"`
	AutoApproveComments        bool      `json:"auto_approve_comments"`
	MaintenanceMode            bool      `json:"maintenance_mode"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

// Public is the subset shown to anonymous visitors.
type Public struct {
	StoreName                  string `json:"store_name"`
	ContactEmail               string `json:"contact_email,omitempty"`
	Currency                   string `json:"currency"`
	ShippingFeeCents           int64  `json:"shipping_fee_cents"`
	FreeShippingThresholdCents int64  `json:"free_shipping_threshold_cents"`
	TaxRateBps                 int64  `json:"tax_rate_bps"`
	MaintenanceMode            bool   `json:"maintenance_mode"`
}

func (s Settings) Public() Public {
	return Public{
		StoreName:                  s.StoreName,
		ContactEmail:               s.ContactEmail,
		Currency:                   s.Currency,
		ShippingFeeCents:           s.ShippingFeeCents,
		FreeShippingThresholdCents: s.FreeShippingThresholdCents,
		TaxRateBps:                 s.TaxRateBps,
		MaintenanceMode:            s.MaintenanceMode,
	}
}

// Pricing is what cart totals need.
type Pricing struct {
	Currency                   string
	ShippingFeeCents           int64
	FreeShippingThresholdCents int64
	TaxRateBps                 int64
}

func (s Settings) Pricing() Pricing {
	return Pricing{
		Currency:                   s.Currency,
		ShippingFeeCents:           s.ShippingFeeCents,
		FreeShippingThresholdCents: s.FreeShippingThresholdCents,
		TaxRateBps:                 s.TaxRateBps,
	}
}

func Defaults() Settings {
	return Settings{
		StoreName:                  "Supplement Shop",
		Currency:                   "USD",
		ShippingFeeCents:           499,
		FreeShippingThresholdCents: 5000,
		TaxRateBps:                 0,
		LowStockThreshold:          10,
	}
}

type UpdateRequest struct {
	StoreName                  *string `json:"store_name,omitempty"`
	ContactEmail               *string `json:"contact_email,omitempty"`
	Currency                   *string `json:"currency,omitempty"`
	ShippingFeeCents           *int64  `json:"shipping_fee_cents,omitempty"`
	FreeShippingThresholdCents *int64  `json:"free_shipping_threshold_cents,omitempty"`
	TaxRateBps                 *int64  `json:"tax_rate_bps,omitempty"`
	LowStockThreshold          *int    `json:"low_stock_threshold,omitempty"`
	AutoApproveComments        *bool   `json:"auto_approve_comments,omitempty"`
	MaintenanceMode            *bool   `json:"maintenance_mode,omitempty"`
}

var ErrEmptyUpdate = errors.New("empty update payload")

// Apply validates req against cur and returns the merged settings.
func Apply(cur Settings, req UpdateRequest) (Settings, error) {
	if req == (UpdateRequest{}) {
		return Settings{}, ErrEmptyUpdate
	}
	next := cur
	if req.StoreName != nil {
		name := strings.TrimSpace(*req.StoreName)
		if name == "" {
			return Settings{}, validation.New("store_name must not be empty")
		}
		next.StoreName = name
	}
	if req.ContactEmail != nil {
		email := strings.TrimSpace(*req.ContactEmail)
		if email != "" {
			if _, err := mail.ParseAddress(email); err != nil {
				return Settings{}, validation.New("invalid contact_email")
			}
		}
		next.ContactEmail = email
	}
	if req.Currency != nil {
		c := strings.ToUpper(strings.TrimSpace(*req.Currency))
		if len(c) != 3 {
			return Settings{}, validation.New("currency must be a 3-letter code")
		}
		next.Currency = c
	}
	if req.ShippingFeeCents != nil {
		if *req.ShippingFeeCents < 0 {
			return Settings{}, validation.New("shipping_fee_cents must not be negative")
		}
		next.ShippingFeeCents = *req.ShippingFeeCents
	}
	if req.FreeShippingThresholdCents != nil {
		if *req.FreeShippingThresholdCents < 0 {
			return Settings{}, validation.New("free_shipping_threshold_cents must not be negative")
		}
		next.FreeShippingThresholdCents = *req.FreeShippingThresholdCents
	}
	if req.TaxRateBps != nil {
		if *req.TaxRateBps < 0 || *req.TaxRateBps > 10000 {
			return Settings{}, validation.New("tax_rate_bps must be between 0 and 10000")
		}
		next.TaxRateBps = *req.TaxRateBps
	}
	if req.LowStockThreshold != nil {
		if *req.LowStockThreshold < 0 {
			return Settings{}, validation.New("low_stock_threshold must not be negative")
		}
		next.LowStockThreshold = *req.LowStockThreshold
	}
	if req.AutoApproveComments != nil {
		next.AutoApproveComments = *req.AutoApproveComments
	}
	if req.MaintenanceMode != nil {
		next.MaintenanceMode = *req.MaintenanceMode
	}
	next.UpdatedAt = time.Now().UTC()
	return next, nil
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

type Service struct {
	db  *sql.DB
	mu  sync.RWMutex
	mem Settings
}

// NewService returns a settings store; a nil db keeps settings in memory.
func NewService(db *sql.DB) *Service {
	return &Service{db: db, mem: Defaults()}
}

func (s *Service) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return database.Exec(ctx, s.db,
		`CREATE TABLE IF NOT EXISTS shop_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	)
}

func (s *Service) Get(ctx context.Context) (Settings, error) {
	if s.db == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.mem, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at FROM shop_settings`)
	if err != nil {
		return Settings{}, err
	}
	defer rows.Close()

	out := Defaults()
	for rows.Next() {
		var key, value string
		var updated time.Time
		if err := rows.Scan(&key, &value, &updated); err != nil {
			return Settings{}, err
		}
		if err := out.set(key, value); err != nil {
			return Settings{}, fmt.Errorf("setting %s: %w", key, err)
		}
		if updated.After(out.UpdatedAt) {
			out.UpdatedAt = updated
		}
	}
	return out, rows.Err()
}

func (s *Service) Update(ctx context.Context, req UpdateRequest) (Settings, error) {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		next, err := Apply(s.mem, req)
		if err != nil {
			return Settings{}, err
		}
		s.mem = next
		return next, nil
	}

	cur, err := s.Get(ctx)
	if err != nil {
		return Settings{}, err
	}
	next, err := Apply(cur, req)
	if err != nil {
		return Settings{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Settings{}, err
	}
	defer func() { _ = tx.Rollback() }()
	for key, value := range next.pairs() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO shop_settings (key, value, updated_at) VALUES ($1, $2, $3)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
			key, value, next.UpdatedAt,
		); err != nil {
			return Settings{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Settings{}, err
	}
	return next, nil
}

// Pricing is a convenience for callers that only need totals inputs.
func (s *Service) Pricing(ctx context.Context) (Pricing, error) {
	st, err := s.Get(ctx)
	if err != nil {
		return Pricing{}, err
	}
	return st.Pricing(), nil
}

func (s Settings) pairs() map[string]string {
	return map[string]string{
		"store_name":                    s.StoreName,
		"contact_email":                 s.ContactEmail,
		"currency":                      s.Currency,
		"shipping_fee_cents":            strconv.FormatInt(s.ShippingFeeCents, 10),
		"free_shipping_threshold_cents": strconv.FormatInt(s.FreeShippingThresholdCents, 10),
		"tax_rate_bps":                  strconv.FormatInt(s.TaxRateBps, 10),
		"low_stock_threshold":           strconv.Itoa(s.LowStockThreshold),
		"auto_approve_comments":         strconv.FormatBool(s.AutoApproveComments),
		"maintenance_mode":              strconv.FormatBool(s.MaintenanceMode),
	}
}

// set assigns one stored row; unknown keys are ignored.
func (s *Settings) set(key, value string) error {
	var err error
	switch key {
	case "store_name":
		s.StoreName = value
	case "contact_email":
		s.ContactEmail = value
	case "currency":
		s.Currency = value
	case "shipping_fee_cents":
		s.ShippingFeeCents, err = strconv.ParseInt(value, 10, 64)
	case "free_shipping_threshold_cents":
		s.FreeShippingThresholdCents, err = strconv.ParseInt(value, 10, 64)
	case "tax_rate_bps":
		s.TaxRateBps, err = strconv.ParseInt(value, 10, 64)
	case "low_stock_threshold":
		s.LowStockThreshold, err = strconv.Atoi(value)
	case "auto_approve_comments":
		s.AutoApproveComments, err = strconv.ParseBool(value)
	case "maintenance_mode":
		s.MaintenanceMode, err = strconv.ParseBool(value)
	}
	return err
}
