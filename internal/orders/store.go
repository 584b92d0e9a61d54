package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eren2212/supplementApp-sub000/internal/database"
	"github.com/eren2212/supplementApp-sub000/internal/events"
	"github.com/eren2212/supplementApp-sub000/internal/ident"
	"github.com/eren2212/supplementApp-sub000/internal/listcache"
	"github.com/eren2212/supplementApp-sub000/internal/pagination"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

// Inventory gives reserved stock back when an order is cancelled.
type Inventory interface {
	AdjustStock(ctx context.Context, supplementID string, delta int) error
}

// Service stores orders in Postgres, or in memory when db is nil.
type Service struct {
	db        *sql.DB
	inventory Inventory
	events    events.Publisher
	cache     *listcache.Cache[pagination.Page[Order]]
	now       func() time.Time

	memMu   sync.RWMutex
	memByID map[string]Order
}

func NewService(db *sql.DB, inv Inventory, pub events.Publisher, cacheTTL time.Duration) *Service {
	return &Service{
		db:        db,
		inventory: inv,
		events:    pub,
		cache:     listcache.New[pagination.Page[Order]](cacheTTL),
		now:       func() time.Time { return time.Now().UTC() },
		memByID:   make(map[string]Order),
	}
}

const cacheScope = "orders"

// ---------------------------------------------------------------------------
// DB / Schema
// ---------------------------------------------------------------------------

func (s *Service) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return database.Exec(ctx, s.db,
		`CREATE TABLE IF NOT EXISTS shop_orders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			email TEXT NOT NULL,
			items JSONB NOT NULL,
			subtotal_cents BIGINT NOT NULL,
			shipping_cents BIGINT NOT NULL,
			tax_cents BIGINT NOT NULL,
			total_cents BIGINT NOT NULL,
			currency TEXT NOT NULL,
			shipping_address JSONB NOT NULL,
			status TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			payment_intent_id TEXT,
			note TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			paid_at TIMESTAMPTZ,
			shipped_at TIMESTAMPTZ,
			delivered_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user_created ON shop_orders (user_id, created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status_created ON shop_orders (status, created_at DESC, id DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_intent ON shop_orders (payment_intent_id) WHERE payment_intent_id IS NOT NULL`,
	)
}

const columns = `id, user_id, email, items, subtotal_cents, shipping_cents, tax_cents, total_cents, currency, shipping_address,
	status, payment_status, payment_intent_id, note, created_at, updated_at, paid_at, shipped_at, delivered_at, cancelled_at`

func scan(row interface{ Scan(...any) error }) (Order, error) {
	var o Order
	var items, addr []byte
	var intent, note sql.NullString
	var paid, shipped, delivered, cancelled sql.NullTime
	if err := row.Scan(&o.ID, &o.UserID, &o.Email, &items, &o.SubtotalCents, &o.ShippingCents, &o.TaxCents, &o.TotalCents,
		&o.Currency, &addr, &o.Status, &o.PaymentStatus, &intent, &note, &o.CreatedAt, &o.UpdatedAt,
		&paid, &shipped, &delivered, &cancelled); err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return Order{}, err
	}
	o.PaymentIntentID, o.Note = intent.String, note.String
	o.PaidAt, o.ShippedAt = timePtr(paid), timePtr(shipped)
	o.DeliveredAt, o.CancelledAt = timePtr(delivered), timePtr(cancelled)
	return o, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// ---------------------------------------------------------------------------
// CRUD - Create / Read
// ---------------------------------------------------------------------------

func (s *Service) Create(ctx context.Context, req NewOrder) (Order, error) {
	o, err := buildOrder(ident.New("ord"), req, s.now())
	if err != nil {
		return Order{}, err
	}
	if s.db == nil {
		s.memMu.Lock()
		s.memByID[o.ID] = o
		s.memMu.Unlock()
	} else {
		items, err := json.Marshal(o.Items)
		if err != nil {
			return Order{}, err
		}
		addr, err := json.Marshal(o.ShippingAddress)
		if err != nil {
			return Order{}, err
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO shop_orders (id, user_id, email, items, subtotal_cents, shipping_cents, tax_cents, total_cents, currency,
				shipping_address, status, payment_status, note, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			o.ID, o.UserID, o.Email, items, o.SubtotalCents, o.ShippingCents, o.TaxCents, o.TotalCents, o.Currency,
			addr, o.Status, o.PaymentStatus, database.NilIfEmpty(o.Note), o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return Order{}, err
		}
	}
	s.cache.Invalidate(cacheScope)
	s.events.Publish(ctx, events.OrderCreated, map[string]any{
		"id": o.ID, "user_id": o.UserID, "total_cents": o.TotalCents, "currency": o.Currency,
	})
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		o, ok := s.memByID[id]
		if !ok {
			return Order{}, ErrNotFound
		}
		return o, nil
	}
	o, err := scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM shop_orders WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// GetForUser returns the order only when userID owns it.
func (s *Service) GetForUser(ctx context.Context, userID, id string) (Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (s *Service) byIntent(ctx context.Context, intentID string) (string, error) {
	if intentID == "" {
		return "", ErrNotFound
	}
	if s.db == nil {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		for id, o := range s.memByID {
			if o.PaymentIntentID == intentID {
				return id, nil
			}
		}
		return "", ErrNotFound
	}
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM shop_orders WHERE payment_intent_id=$1`, intentID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}

// ---------------------------------------------------------------------------
// CRUD - List
// ---------------------------------------------------------------------------

func key(o Order) (time.Time, string) { return o.CreatedAt, o.ID }

func (f Filter) normalized() (Filter, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.Status != "" {
		st, err := normalizeStatus(f.Status)
		if err != nil {
			return f, err
		}
		f.Status = st
	}
	return f, nil
}

// List pages orders newest first. First pages are cached per filter until
// the next write.
func (s *Service) List(ctx context.Context, f Filter) (pagination.Page[Order], error) {
	f, err := f.normalized()
	if err != nil {
		return pagination.Page[Order]{}, err
	}
	ck := listcache.Key(cacheScope, f.UserID, f.Status, f.Limit)
	if f.Cursor == "" {
		if page, ok := s.cache.Get(ck); ok {
			page.Cached = true
			return page, nil
		}
	}

	var page pagination.Page[Order]
	if s.db == nil {
		page, err = s.listMemory(f)
	} else {
		page, err = s.listDB(ctx, f)
	}
	if err != nil {
		return pagination.Page[Order]{}, err
	}
	if f.Cursor == "" {
		s.cache.Set(ck, page)
	}
	return page, nil
}

func (s *Service) listMemory(f Filter) (pagination.Page[Order], error) {
	s.memMu.RLock()
	items := make([]Order, 0)
	for _, o := range s.memByID {
		if (f.UserID == "" || o.UserID == f.UserID) && (f.Status == "" || o.Status == f.Status) {
			items = append(items, o)
		}
	}
	s.memMu.RUnlock()
	page, err := pagination.Slice(items, f.Cursor, f.Limit, key)
	if err != nil {
		return page, validation.New(err.Error())
	}
	return page, nil
}

func listQuery(f Filter) (string, []any, error) {
	ts, id, err := pagination.Parse(f.Cursor)
	if err != nil {
		return "", nil, validation.New(err.Error())
	}
	var where database.Where
	if f.UserID != "" {
		where.Add("user_id = %s", f.UserID)
	}
	if f.Status != "" {
		where.Add("status = %s", f.Status)
	}
	where.Before(ts, id)
	limit := where.Arg(f.Limit + 1)
	q := `SELECT ` + columns + ` FROM shop_orders ` + where.SQL() + ` ORDER BY created_at DESC, id DESC LIMIT ` + limit
	return q, where.Args(), nil
}

func (s *Service) listDB(ctx context.Context, f Filter) (pagination.Page[Order], error) {
	q, args, err := listQuery(f)
	if err != nil {
		return pagination.Page[Order]{}, err
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return pagination.Page[Order]{}, err
	}
	defer rows.Close()
	items := make([]Order, 0, f.Limit+1)
	for rows.Next() {
		o, err := scan(rows)
		if err != nil {
			return pagination.Page[Order]{}, err
		}
		items = append(items, o)
	}
	if err := rows.Err(); err != nil {
		return pagination.Page[Order]{}, err
	}
	return pagination.Trim(items, f.Limit, key), nil
}

// Explain returns the Postgres plan of the list query for f.
func (s *Service) Explain(ctx context.Context, f Filter) (json.RawMessage, error) {
	if s.db == nil {
		return nil, ErrExplainUnavailable
	}
	f, err := f.normalized()
	if err != nil {
		return nil, err
	}
	q, args, err := listQuery(f)
	if err != nil {
		return nil, err
	}
	plan, err := database.ExplainJSON(ctx, s.db, q, args...)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(plan), nil
}

// ---------------------------------------------------------------------------
// CRUD - Update
// ---------------------------------------------------------------------------

// mutate applies fn to the stored order. In database mode the write only
// lands if status and payment status are unchanged since the read.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Order) error) (Order, Order, error) {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		prev, ok := s.memByID[id]
		if !ok {
			return Order{}, Order{}, ErrNotFound
		}
		next := prev
		next.Items = append([]Item(nil), prev.Items...)
		if err := fn(&next); err != nil {
			return Order{}, Order{}, err
		}
		s.memByID[id] = next
		s.cache.Invalidate(cacheScope)
		return prev, next, nil
	}

	prev, err := s.Get(ctx, id)
	if err != nil {
		return Order{}, Order{}, err
	}
	next := prev
	if err := fn(&next); err != nil {
		return Order{}, Order{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE shop_orders SET status=$4, payment_status=$5, payment_intent_id=$6, updated_at=$7,
			paid_at=$8, shipped_at=$9, delivered_at=$10, cancelled_at=$11
		 WHERE id=$1 AND status=$2 AND payment_status=$3`,
		id, prev.Status, prev.PaymentStatus, next.Status, next.PaymentStatus, database.NilIfEmpty(next.PaymentIntentID), next.UpdatedAt,
		nullTime(next.PaidAt), nullTime(next.ShippedAt), nullTime(next.DeliveredAt), nullTime(next.CancelledAt),
	)
	if err != nil {
		return Order{}, Order{}, err
	}
	if err := database.Affected(res); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, Order{}, ErrConcurrentUpdate
		}
		return Order{}, Order{}, err
	}
	s.cache.Invalidate(cacheScope)
	return prev, next, nil
}

// UpdateStatus moves an order along its lifecycle. Cancelling returns the
// reserved stock.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (Order, error) {
	st, err := normalizeStatus(status)
	if err != nil {
		return Order{}, err
	}
	prev, next, err := s.mutate(ctx, id, func(o *Order) error {
		return advance(o, st, s.now())
	})
	if err != nil {
		return Order{}, err
	}
	s.afterTransition(ctx, prev, next)
	return next, nil
}

// Cancel lets the owner cancel an order that is still pending.
func (s *Service) Cancel(ctx context.Context, userID, id string) (Order, error) {
	prev, next, err := s.mutate(ctx, id, func(o *Order) error {
		if o.UserID != userID {
			return ErrNotFound
		}
		if o.Status != StatusPending {
			return ErrInvalidTransition
		}
		return advance(o, StatusCancelled, s.now())
	})
	if err != nil {
		return Order{}, err
	}
	s.afterTransition(ctx, prev, next)
	return next, nil
}

func (s *Service) afterTransition(ctx context.Context, prev, next Order) {
	if next.Status == StatusCancelled {
		s.release(ctx, next)
	}
	s.events.Publish(ctx, events.OrderStatusChanged, map[string]any{
		"id": next.ID, "from": prev.Status, "to": next.Status, "payment_status": next.PaymentStatus,
	})
}

func (s *Service) release(ctx context.Context, o Order) {
	if s.inventory == nil {
		return
	}
	for _, it := range o.Items {
		if err := s.inventory.AdjustStock(ctx, it.SupplementID, it.Quantity); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("order", o.ID).Str("supplement", it.SupplementID).Msg("release stock")
		}
	}
}

// AttachPayment records the payment intent created for an order.
func (s *Service) AttachPayment(ctx context.Context, id, intentID string) (Order, error) {
	_, next, err := s.mutate(ctx, id, func(o *Order) error {
		if o.PaymentIntentID != "" && o.PaymentIntentID != intentID {
			return ErrInvalidTransition
		}
		o.PaymentIntentID = intentID
		o.UpdatedAt = s.now()
		return nil
	})
	return next, err
}

// MarkPaid records a successful payment for the order holding intentID and
// moves a pending order to processing. A payment that lands on a cancelled
// order is recorded as refunded since the goods will not ship. Repeated
// calls are no-ops.
func (s *Service) MarkPaid(ctx context.Context, intentID string) (Order, error) {
	id, err := s.byIntent(ctx, intentID)
	if err != nil {
		return Order{}, err
	}
	changed := false
	prev, next, err := s.mutate(ctx, id, func(o *Order) error {
		if o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentRefunded {
			return nil
		}
		now := s.now()
		changed = true
		o.PaymentStatus = PaymentPaid
		o.PaidAt = &now
		o.UpdatedAt = now
		switch o.Status {
		case StatusPending:
			o.Status = StatusProcessing
		case StatusCancelled:
			o.PaymentStatus = PaymentRefunded
		}
		return nil
	})
	if err != nil || !changed {
		return next, err
	}
	if next.PaymentStatus == PaymentRefunded {
		zerolog.Ctx(ctx).Warn().Str("order", next.ID).Str("intent", intentID).Msg("payment received for cancelled order; refund due")
		s.events.Publish(ctx, events.OrderStatusChanged, map[string]any{
			"id": next.ID, "from": prev.Status, "to": next.Status, "payment_status": next.PaymentStatus,
		})
		return next, nil
	}
	s.events.Publish(ctx, events.OrderPaid, map[string]any{"id": next.ID, "total_cents": next.TotalCents})
	if prev.Status != next.Status {
		s.events.Publish(ctx, events.OrderStatusChanged, map[string]any{
			"id": next.ID, "from": prev.Status, "to": next.Status, "payment_status": next.PaymentStatus,
		})
	}
	return next, nil
}

// MarkPaymentFailed flags an unpaid order whose payment was declined.
func (s *Service) MarkPaymentFailed(ctx context.Context, intentID string) (Order, error) {
	id, err := s.byIntent(ctx, intentID)
	if err != nil {
		return Order{}, err
	}
	_, next, err := s.mutate(ctx, id, func(o *Order) error {
		if o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentRefunded {
			return nil
		}
		o.PaymentStatus = PaymentFailed
		o.UpdatedAt = s.now()
		return nil
	})
	return next, err
}

// ---------------------------------------------------------------------------
// CRUD - Delete
// ---------------------------------------------------------------------------

func (s *Service) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		s.memMu.Lock()
		_, ok := s.memByID[id]
		delete(s.memByID, id)
		s.memMu.Unlock()
		if !ok {
			return ErrNotFound
		}
		s.cache.Invalidate(cacheScope)
		return nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM shop_orders WHERE id=$1`, id)
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

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats aggregates revenue over paid orders that were not cancelled, counts
// per status and the top sellers by quantity across paid orders.
func (s *Service) Stats(ctx context.Context, topN int) (Stats, error) {
	st := Stats{ByStatus: make(map[string]int, len(Statuses))}
	for _, status := range Statuses {
		st.ByStatus[status] = 0
	}
	if s.db == nil {
		s.memMu.RLock()
		sellers := map[string]*Seller{}
		for _, o := range s.memByID {
			st.Count++
			st.ByStatus[o.Status]++
			if o.PaymentStatus != PaymentPaid || o.Status == StatusCancelled {
				continue
			}
			st.RevenueCents += o.TotalCents
			for _, it := range o.Items {
				sl, ok := sellers[it.SupplementID]
				if !ok {
					sl = &Seller{SupplementID: it.SupplementID, Name: it.Name}
					sellers[it.SupplementID] = sl
				}
				sl.Quantity += it.Quantity
			}
		}
		s.memMu.RUnlock()
		st.TopSellers = make([]Seller, 0, len(sellers))
		for _, sl := range sellers {
			st.TopSellers = append(st.TopSellers, *sl)
		}
		sort.Slice(st.TopSellers, func(i, j int) bool {
			a, b := st.TopSellers[i], st.TopSellers[j]
			if a.Quantity != b.Quantity {
				return a.Quantity > b.Quantity
			}
			return a.Name < b.Name
		})
		if len(st.TopSellers) > topN {
			st.TopSellers = st.TopSellers[:topN]
		}
		return st, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM shop_orders GROUP BY status`)
	if err != nil {
		return Stats{}, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return Stats{}, err
		}
		st.ByStatus[status] = n
		st.Count += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_cents), 0) FROM shop_orders WHERE payment_status=$1 AND status<>$2`,
		PaymentPaid, StatusCancelled).Scan(&st.RevenueCents); err != nil {
		return Stats{}, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT it->>'supplement_id', MIN(it->>'name'), SUM((it->>'quantity')::int) AS qty
		 FROM shop_orders o, jsonb_array_elements(o.items) it
		 WHERE o.payment_status=$1 AND o.status<>$2
		 GROUP BY it->>'supplement_id'
		 ORDER BY qty DESC, 2 ASC
		 LIMIT $3`, PaymentPaid, StatusCancelled, topN)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	st.TopSellers = make([]Seller, 0, topN)
	for rows.Next() {
		var sl Seller
		if err := rows.Scan(&sl.SupplementID, &sl.Name, &sl.Quantity); err != nil {
			return Stats{}, err
		}
		st.TopSellers = append(st.TopSellers, sl)
	}
	return st, rows.Err()
}
