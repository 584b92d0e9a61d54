package cart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/settings"
)

type staticPricing settings.Pricing

func (p staticPricing) Pricing(context.Context) (settings.Pricing, error) {
	return settings.Pricing(p), nil
}

func newCatalog(t *testing.T) (*catalog.Service, catalog.Supplement, catalog.Supplement) {
	t.Helper()
	cat := catalog.NewService(nil, 0)
	ctx := context.Background()
	zinc, err := cat.Create(ctx, catalog.CreateRequest{Name: "Zinc", PriceCents: 900, Stock: 5})
	require.NoError(t, err)
	whey, err := cat.Create(ctx, catalog.CreateRequest{Name: "Whey", PriceCents: 4500, Stock: 100})
	require.NoError(t, err)
	return cat, zinc, whey
}

func TestSummarize(t *testing.T) {
	p := settings.Pricing{Currency: "USD", ShippingFeeCents: 499, FreeShippingThresholdCents: 5000, TaxRateBps: 825}

	assert.Equal(t, Summary{Currency: "USD"}, Summarize(nil, p), "empty cart ships free")

	items := []Item{{PriceCents: 900, Quantity: 2}, {PriceCents: 1250, Quantity: 1}}
	got := Summarize(items, p)
	want := Summary{ItemCount: 3, SubtotalCents: 3050, ShippingCents: 499, TaxCents: 252, TotalCents: 3801, Currency: "USD"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Summarize mismatch (-want +got):\n%s", diff)
	}

	items = append(items, Item{PriceCents: 1950, Quantity: 1})
	got = Summarize(items, p)
	assert.Equal(t, int64(5000), got.SubtotalCents)
	assert.Zero(t, got.ShippingCents, "threshold reached")

	p.FreeShippingThresholdCents = 0
	assert.Equal(t, int64(499), Summarize(items, p).ShippingCents, "zero threshold never waives shipping")
}

func TestAddUpdateRemoveRecomputes(t *testing.T) {
	cat, zinc, whey := newCatalog(t)
	svc := NewService(NewMemoryStore(), cat)
	ctx := context.Background()
	id := NewID()
	p := settings.Pricing{Currency: "USD", ShippingFeeCents: 500, FreeShippingThresholdCents: 10000}

	c, err := svc.AddItem(ctx, id, zinc.ID, 2)
	require.NoError(t, err)
	c, err = svc.AddItem(ctx, id, zinc.ID, 1)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 3, c.Items[0].Quantity)

	c, err = svc.AddItem(ctx, id, zinc.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Items[0].Quantity, "capped at stock")

	c, err = svc.AddItem(ctx, id, whey.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), Summarize(c.Items, p).SubtotalCents)

	c, err = svc.UpdateQuantity(ctx, id, whey.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(13500), Summarize(c.Items, p).SubtotalCents)
	assert.Zero(t, Summarize(c.Items, p).ShippingCents)

	c, err = svc.UpdateQuantity(ctx, id, zinc.ID, 0)
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, whey.ID, c.Items[0].SupplementID)

	_, err = svc.RemoveItem(ctx, id, zinc.ID)
	require.ErrorIs(t, err, ErrNotInCart)

	_, err = svc.AddItem(ctx, id, whey.ID, 0)
	require.Error(t, err)

	require.NoError(t, svc.Clear(ctx, id))
	c, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, c.Empty())
}

func TestAddRejectsUnavailable(t *testing.T) {
	cat, zinc, _ := newCatalog(t)
	ctx := context.Background()
	off := false
	_, err := cat.Update(ctx, zinc.ID, catalog.UpdateRequest{Active: &off})
	require.NoError(t, err)

	svc := NewService(NewMemoryStore(), cat)
	_, err = svc.AddItem(ctx, NewID(), zinc.ID, 1)
	require.ErrorIs(t, err, ErrInactive)

	_, err = svc.AddItem(ctx, NewID(), "sup_missing", 1)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "carts.db")
	store, err := OpenBolt(path)
	require.NoError(t, err)

	ctx := context.Background()
	c := Cart{ID: NewID(), Items: []Item{{SupplementID: "sup_1", Name: "Zinc", PriceCents: 900, Quantity: 2}}, UpdatedAt: time.Now().UTC()}
	require.NoError(t, store.Save(ctx, c))
	require.NoError(t, store.Close())

	store, err = OpenBolt(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Load(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Items, got.Items)

	_, err = store.Load(ctx, "cart_missing")
	require.ErrorIs(t, err, ErrNotFound)

	old := Cart{ID: NewID(), Items: []Item{}, UpdatedAt: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, store.Save(ctx, old))
	n, err := store.PruneBefore(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = store.Load(ctx, old.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHandlersIssueTokenAndTotals(t *testing.T) {
	cat, zinc, _ := newCatalog(t)
	svc := NewService(NewMemoryStore(), cat)
	mux := http.NewServeMux()
	svc.Register(mux, staticPricing{Currency: "USD", ShippingFeeCents: 500})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/cart/items", strings.NewReader(`{"supplement_id":"`+zinc.ID+`","quantity":2}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := rec.Header().Get(HeaderName)
	require.True(t, ValidID(token))

	req := httptest.NewRequest(http.MethodGet, "/v1/cart", nil)
	req.Header.Set(HeaderName, token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Item View `json:"item"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1800), body.Item.Summary.SubtotalCents)
	assert.Equal(t, int64(2300), body.Item.Summary.TotalCents)

	req = httptest.NewRequest(http.MethodPatch, "/v1/cart/items/"+zinc.ID, strings.NewReader(`{}`))
	req.Header.Set(HeaderName, token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/v1/cart/items/sup_nope", nil)
	req.Header.Set(HeaderName, token)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
