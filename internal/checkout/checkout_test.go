package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eren2212/supplementApp-sub000/internal/addresses"
	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/cart"
	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/events"
	"github.com/eren2212/supplementApp-sub000/internal/orders"
	"github.com/eren2212/supplementApp-sub000/internal/payments"
	"github.com/eren2212/supplementApp-sub000/internal/settings"
)

type reasons struct {
	mu      sync.Mutex
	created int
	failed  []string
}

func (r *reasons) OrderCreated() { r.mu.Lock(); r.created++; r.mu.Unlock() }

func (r *reasons) CheckoutFailed(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, reason)
}

type brokenGateway struct{ payments.OfflineGateway }

func (brokenGateway) CreateIntent(context.Context, payments.IntentParams) (payments.Intent, error) {
	return payments.Intent{}, errors.New("connection refused")
}

// detachedOrders fails to record the payment intent on an order.
type detachedOrders struct{ *orders.Service }

func (detachedOrders) AttachPayment(context.Context, string, string) (orders.Order, error) {
	return orders.Order{}, errors.New("connection reset")
}

type fixture struct {
	svc     *Service
	catalog *catalog.Service
	carts   *cart.Service
	addrs   *addresses.Service
	orders  *orders.Service
	rec     *reasons
	zinc    catalog.Supplement
	whey    catalog.Supplement
	addr    addresses.Address
}

func newFixture(t *testing.T, gw payments.Gateway) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{rec: &reasons{}}
	f.catalog = catalog.NewService(nil, 0)
	var err error
	f.zinc, err = f.catalog.Create(ctx, catalog.CreateRequest{Name: "Zinc", PriceCents: 900, Stock: 5})
	require.NoError(t, err)
	f.whey, err = f.catalog.Create(ctx, catalog.CreateRequest{Name: "Whey", PriceCents: 4500, Stock: 1})
	require.NoError(t, err)

	f.carts = cart.NewService(cart.NewMemoryStore(), f.catalog)
	f.addrs = addresses.NewService(nil)
	f.addr, err = f.addrs.Create(ctx, "usr_1", addresses.CreateRequest{
		FullName: "Ada Lovelace", Line1: "1 Main", City: "London", PostalCode: "N1", Country: "gb",
	})
	require.NoError(t, err)

	f.orders = orders.NewService(nil, f.catalog, &events.Recorder{}, 0)
	f.svc = NewService(f.carts, f.catalog, f.addrs, settings.NewService(nil), f.orders, gw, f.rec)
	return f
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	sp, err := f.catalog.Get(context.Background(), id)
	require.NoError(t, err)
	return sp.Stock
}

func TestStartPlacesOrderAndReservesStock(t *testing.T) {
	f := newFixture(t, payments.OfflineGateway{})
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "cart_a", f.zinc.ID, 2)
	require.NoError(t, err)

	res, err := f.svc.Start(ctx, Buyer{UserID: "usr_1", Email: "ada@example.com"}, StartRequest{CartID: "cart_a", AddressID: f.addr.ID, Note: "ring twice"})
	require.NoError(t, err)

	o := res.Order
	assert.Equal(t, "offline", res.Gateway)
	assert.True(t, strings.HasPrefix(res.ClientSecret, o.PaymentIntentID+"_secret_"))
	assert.Equal(t, int64(1800), o.SubtotalCents)
	assert.Equal(t, int64(499), o.ShippingCents)
	assert.Equal(t, int64(2299), o.TotalCents)
	assert.Equal(t, "GB", o.ShippingAddress.Country)
	assert.Equal(t, "ring twice", o.Note)
	assert.Equal(t, 3, f.stock(t, f.zinc.ID))
	assert.Equal(t, 1, f.rec.created)

	c, err := f.carts.Get(ctx, "cart_a")
	require.NoError(t, err)
	assert.True(t, c.Empty(), "cart is cleared after checkout")
}

func TestStartRejects(t *testing.T) {
	f := newFixture(t, payments.OfflineGateway{})
	ctx := context.Background()
	buyer := Buyer{UserID: "usr_1", Email: "ada@example.com"}

	_, err := f.svc.Start(ctx, buyer, StartRequest{CartID: "cart_empty", AddressID: f.addr.ID})
	require.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.carts.AddItem(ctx, "cart_b", f.zinc.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, buyer, StartRequest{CartID: "cart_b"})
	require.ErrorIs(t, err, ErrNoAddress)

	_, err = f.svc.Start(ctx, Buyer{UserID: "usr_2"}, StartRequest{CartID: "cart_b", AddressID: f.addr.ID})
	require.ErrorIs(t, err, addresses.ErrNotFound, "address of another user")

	off := false
	_, err = f.catalog.Update(ctx, f.zinc.ID, catalog.UpdateRequest{Active: &off})
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, buyer, StartRequest{CartID: "cart_b", AddressID: f.addr.ID})
	require.ErrorIs(t, err, ErrUnavailable)

	assert.Equal(t, []string{"empty_cart", "address", "address", "unavailable"}, f.rec.failed)
}

func TestStartReleasesStockWhenShort(t *testing.T) {
	f := newFixture(t, payments.OfflineGateway{})
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "cart_c", f.zinc.ID, 2)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, "cart_c", f.whey.ID, 1)
	require.NoError(t, err)

	// someone else buys the last whey
	require.NoError(t, f.catalog.AdjustStock(ctx, f.whey.ID, -1))

	_, err = f.svc.Start(ctx, Buyer{UserID: "usr_1"}, StartRequest{CartID: "cart_c", AddressID: f.addr.ID})
	require.ErrorIs(t, err, catalog.ErrInsufficientStock)
	assert.Equal(t, 5, f.stock(t, f.zinc.ID), "earlier lines are given back")

	c, err := f.carts.Get(ctx, "cart_c")
	require.NoError(t, err)
	assert.Len(t, c.Items, 2, "cart survives a failed checkout")
}

func TestStartCancelsOrderWhenGatewayFails(t *testing.T) {
	f := newFixture(t, brokenGateway{})
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "cart_d", f.zinc.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, Buyer{UserID: "usr_1"}, StartRequest{CartID: "cart_d", AddressID: f.addr.ID})
	require.ErrorIs(t, err, ErrPaymentGateway)
	assert.Equal(t, 5, f.stock(t, f.zinc.ID))

	page, err := f.orders.List(ctx, orders.Filter{UserID: "usr_1"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, orders.StatusCancelled, page.Items[0].Status)
	assert.Equal(t, []string{"payment"}, f.rec.failed)
}

func TestStartCancelsOrderWhenAttachFails(t *testing.T) {
	f := newFixture(t, payments.OfflineGateway{})
	f.svc.orders = detachedOrders{f.orders}
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "cart_f", f.zinc.ID, 2)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, Buyer{UserID: "usr_1"}, StartRequest{CartID: "cart_f", AddressID: f.addr.ID})
	require.Error(t, err)
	assert.Equal(t, 5, f.stock(t, f.zinc.ID), "reserved stock is given back")

	page, err := f.orders.List(ctx, orders.Filter{UserID: "usr_1"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, orders.StatusCancelled, page.Items[0].Status)
	assert.Equal(t, []string{"payment"}, f.rec.failed)

	c, err := f.carts.Get(ctx, "cart_f")
	require.NoError(t, err)
	assert.Len(t, c.Items, 1, "cart survives a failed checkout")
}

func TestHandlePaymentEvent(t *testing.T) {
	f := newFixture(t, payments.OfflineGateway{})
	ctx := context.Background()
	_, err := f.carts.AddItem(ctx, "cart_e", f.zinc.ID, 1)
	require.NoError(t, err)
	res, err := f.svc.Start(ctx, Buyer{UserID: "usr_1"}, StartRequest{CartID: "cart_e", AddressID: f.addr.ID})
	require.NoError(t, err)

	require.NoError(t, f.svc.HandlePaymentEvent(ctx, payments.Event{Type: payments.EventSucceeded, IntentID: "pi_missing"}))
	require.NoError(t, f.svc.HandlePaymentEvent(ctx, payments.Event{Type: "charge.refunded", IntentID: res.Order.PaymentIntentID}))

	require.NoError(t, f.svc.HandlePaymentEvent(ctx, payments.Event{Type: payments.EventSucceeded, IntentID: res.Order.PaymentIntentID}))
	o, err := f.orders.Get(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, orders.StatusProcessing, o.Status)
}

func TestHandlersCheckoutAndWebhook(t *testing.T) {
	f := newFixture(t, payments.OfflineGateway{})
	iss := auth.NewIssuer("test-secret-0123456789", time.Hour)
	mux := http.NewServeMux()
	f.svc.Register(mux)
	h := iss.Middleware(mux)
	token, _, _ := iss.Issue("usr_1", "ada@example.com", auth.RoleCustomer)

	cartID := cart.NewID()
	_, err := f.carts.AddItem(context.Background(), cartID, f.zinc.ID, 1)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/checkout", strings.NewReader(`{"address_id":"`+f.addr.ID+`"}`))
	req.Header.Set(cart.HeaderName, cartID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/checkout", strings.NewReader(`{"address_id":"`+f.addr.ID+`"}`))
	req.Header.Set(cart.HeaderName, cartID)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		Item         orders.Order `json:"item"`
		ClientSecret string       `json:"client_secret"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.ClientSecret)

	req = httptest.NewRequest(http.MethodPost, "/v1/checkout", strings.NewReader(`{"address_id":"`+f.addr.ID+`"}`))
	req.Header.Set(cart.HeaderName, cartID)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "cart was emptied by the first checkout")

	hook := `{"type":"payment_intent.succeeded","data":{"object":{"id":"` + body.Item.PaymentIntentID + `"}}}`
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/payments/webhook", strings.NewReader(hook)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	o, err := f.orders.Get(context.Background(), body.Item.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, o.PaymentStatus)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/payments/webhook", strings.NewReader("nope")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
