package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eren2212/supplementApp-sub000/internal/addresses"
	"github.com/eren2212/supplementApp-sub000/internal/admin"
	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/cart"
	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/checkout"
	"github.com/eren2212/supplementApp-sub000/internal/comments"
	"github.com/eren2212/supplementApp-sub000/internal/events"
	"github.com/eren2212/supplementApp-sub000/internal/orders"
	"github.com/eren2212/supplementApp-sub000/internal/payments"
	"github.com/eren2212/supplementApp-sub000/internal/settings"
	"github.com/eren2212/supplementApp-sub000/internal/survey"
	"github.com/eren2212/supplementApp-sub000/internal/users"
)

type site struct {
	h        http.Handler
	iss      *auth.Issuer
	settings *settings.Service
	orders   *orders.Service
	reviews  *comments.Service
	addrs    *addresses.Service
	zinc     catalog.Supplement
}

func newSite(t *testing.T) *site {
	t.Helper()
	ctx := context.Background()
	cat := catalog.NewService(nil, 0)
	zinc, err := cat.Create(ctx, catalog.CreateRequest{Name: "Zinc", Category: "minerals", PriceCents: 900, Stock: 5})
	require.NoError(t, err)

	st := settings.NewService(nil)
	auto := true
	_, err = st.Update(ctx, settings.UpdateRequest{AutoApproveComments: &auto})
	require.NoError(t, err)
	cmts := comments.NewService(nil, cat, st, &events.Recorder{}, 0)
	_, err = cmts.Create(ctx, comments.Author{UserID: "usr_1", Name: "Ada"}, comments.CreateRequest{SupplementID: zinc.ID, Rating: 4, Body: "Helps a lot"})
	require.NoError(t, err)

	ords := orders.NewService(nil, cat, &events.Recorder{}, 0)
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "site.css"), []byte("body{}"), 0o644))

	carts := cart.NewService(cart.NewMemoryStore(), cat)
	addrs := addresses.NewService(nil)
	h, err := New(Deps{
		Catalog:   cat,
		Reviews:   cmts,
		Carts:     carts,
		Addresses: addrs,
		Checkout:  checkout.NewService(carts, cat, addrs, st, ords, payments.OfflineGateway{}, nil),
		Survey:    survey.NewService(nil, survey.Default(), nil, &events.Recorder{}),
		Orders:    ords,
		Dashboard: admin.NewService(ords, cat, cmts, users.NewService(nil), st),
		Settings:  st,
		StaticDir: static,
	})
	require.NoError(t, err)
	iss := auth.NewIssuer("test-secret-0123456789", time.Hour)
	mux := http.NewServeMux()
	h.Register(mux)
	return &site{h: iss.Middleware(mux), iss: iss, settings: st, orders: ords, reviews: cmts, addrs: addrs, zinc: zinc}
}

func (s *site) do(t *testing.T, req *http.Request, role string) *httptest.ResponseRecorder {
	t.Helper()
	if role != "" {
		tok, _, err := s.iss.Issue("usr_"+strings.ToLower(role), strings.ToLower(role)+"@example.com", role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func (s *site) get(t *testing.T, path, role string) *httptest.ResponseRecorder {
	return s.do(t, httptest.NewRequest(http.MethodGet, path, nil), role)
}

func (s *site) post(t *testing.T, path string, form url.Values, role string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return s.do(t, req, role)
}

func cartCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == cart.CookieName {
			return c
		}
	}
	t.Fatal("no cart cookie issued")
	return nil
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "$9.00", Money(900, "USD"))
	assert.Equal(t, "€0.05", Money(5, "eur"))
	assert.Equal(t, "-£12.34", Money(-1234, "GBP"))
	assert.Equal(t, "10.00 CHF", Money(1000, "CHF"))
}

func TestCatalogAndSupplementPages(t *testing.T) {
	s := newSite(t)

	rec := s.get(t, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Zinc")
	assert.Contains(t, rec.Body.String(), "$9.00")

	rec = s.get(t, "/?category=protein", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No supplements match")

	rec = s.get(t, "/supplements/"+s.zinc.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Helps a lot")
	assert.Contains(t, rec.Body.String(), "4.0 out of 5")

	assert.Equal(t, http.StatusNotFound, s.get(t, "/supplements/sup_missing", "").Code)
	assert.Equal(t, http.StatusNotFound, s.get(t, "/nowhere", "").Code)
}

func TestCartForms(t *testing.T) {
	s := newSite(t)
	form := url.Values{"supplement_id": {s.zinc.ID}, "quantity": {"2"}}
	req := httptest.NewRequest(http.MethodPost, "/cart/add", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := s.do(t, req, "")
	require.Equal(t, http.StatusSeeOther, rec.Code)

	var token *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == cart.CookieName {
			token = c
		}
	}
	require.NotNil(t, token)

	req = httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(token)
	rec = s.do(t, req, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Cart (2)")
	assert.Contains(t, body, "$18.00")
	assert.Contains(t, body, "$22.99", "subtotal plus default shipping")

	form = url.Values{"supplement_id": {s.zinc.ID}, "quantity": {"0"}}
	req = httptest.NewRequest(http.MethodPost, "/cart/update", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(token)
	require.Equal(t, http.StatusSeeOther, s.do(t, req, "").Code)

	req = httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(token)
	assert.Contains(t, s.do(t, req, "").Body.String(), "Your cart is empty")

	req = httptest.NewRequest(http.MethodPost, "/cart/add", strings.NewReader("supplement_id=sup_missing"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusNotFound, s.do(t, req, "").Code)
}

func TestOrdersPageRefreshesWhileEmpty(t *testing.T) {
	s := newSite(t)
	assert.Equal(t, http.StatusUnauthorized, s.get(t, "/orders", "").Code)

	rec := s.get(t, "/orders", auth.RoleCustomer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<meta http-equiv="refresh" content="10">`)

	_, err := s.orders.Create(context.Background(), orders.NewOrder{
		UserID: "usr_customer", Email: "customer@example.com",
		Items:         []orders.Item{{SupplementID: s.zinc.ID, Name: "Zinc", PriceCents: 900, Quantity: 1}},
		SubtotalCents: 900, ShippingCents: 499, TotalCents: 1399, Currency: "USD",
		ShippingAddress: orders.Address{FullName: "C", Line1: "1 Main", City: "X", PostalCode: "1", Country: "US"},
	})
	require.NoError(t, err)

	rec = s.get(t, "/orders", auth.RoleCustomer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "http-equiv")
	assert.Contains(t, rec.Body.String(), "$13.99")
}

func TestAdminPages(t *testing.T) {
	s := newSite(t)
	assert.Equal(t, http.StatusUnauthorized, s.get(t, "/admin", "").Code)
	assert.Equal(t, http.StatusForbidden, s.get(t, "/admin", auth.RoleDoctor).Code)

	rec := s.get(t, "/admin", auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Dashboard")
	assert.Contains(t, rec.Body.String(), "5 left")

	assert.Equal(t, http.StatusOK, s.get(t, "/admin/orders?status=pending", auth.RoleAdmin).Code)
	assert.Equal(t, http.StatusBadRequest, s.get(t, "/admin/orders?status=lost", auth.RoleAdmin).Code)
}

func TestMaintenanceModeBlocksVisitors(t *testing.T) {
	s := newSite(t)
	on := true
	_, err := s.settings.Update(context.Background(), settings.UpdateRequest{MaintenanceMode: &on})
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, s.get(t, "/", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, s.get(t, "/survey", auth.RoleCustomer).Code)
	assert.Equal(t, http.StatusOK, s.get(t, "/", auth.RoleAdmin).Code)
	assert.Equal(t, http.StatusOK, s.get(t, "/static/site.css", "").Code, "assets stay available")
}

func TestSurveyForm(t *testing.T) {
	s := newSite(t)
	rec := s.get(t, "/survey", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "What is your primary goal?")

	form := url.Values{"goal": {"Muscle"}, "diet": {"Vegan"}}
	req := httptest.NewRequest(http.MethodPost, "/survey", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = s.do(t, req, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Vitamin B Complex")
	assert.Contains(t, body, "Iron Bisglycinate")
	assert.Contains(t, body, "Whey Protein")

	req = httptest.NewRequest(http.MethodPost, "/survey", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusBadRequest, s.do(t, req, "").Code)
}

func TestCheckoutPage(t *testing.T) {
	s := newSite(t)
	ctx := context.Background()
	assert.Equal(t, http.StatusUnauthorized, s.get(t, "/checkout", "").Code)

	token := cartCookie(t, s.post(t, "/cart/add", url.Values{"supplement_id": {s.zinc.ID}, "quantity": {"2"}}, ""))
	rec := s.post(t, "/checkout", url.Values{"address_id": {"adr_missing"}}, auth.RoleCustomer, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Choose one of your saved addresses.")

	addr, err := s.addrs.Create(ctx, "usr_customer", addresses.CreateRequest{
		FullName: "Grace Hopper", Line1: "1 Navy Way", City: "Arlington", PostalCode: "22201", Country: "US",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/checkout", nil)
	req.AddCookie(token)
	rec = s.do(t, req, auth.RoleCustomer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Grace Hopper")
	assert.Contains(t, rec.Body.String(), "$22.99")

	rec = s.post(t, "/checkout", url.Values{"address_id": {addr.ID}, "note": {"leave at door"}}, auth.RoleCustomer, token)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Thank you for your order")
	assert.Contains(t, body, `data-client-secret="pi_offline_`)
	assert.Contains(t, body, "Cart (0)")

	pg, err := s.orders.List(ctx, orders.Filter{UserID: "usr_customer"})
	require.NoError(t, err)
	require.Len(t, pg.Items, 1)
	assert.Contains(t, body, pg.Items[0].ID)
	assert.Equal(t, "leave at door", pg.Items[0].Note)

	rec = s.post(t, "/checkout", url.Values{"address_id": {addr.ID}}, auth.RoleCustomer, token)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "the cart is empty now")
}

func TestReviewForm(t *testing.T) {
	s := newSite(t)
	path := "/supplements/" + s.zinc.ID + "/reviews"

	assert.Equal(t, http.StatusUnauthorized, s.post(t, path, url.Values{"rating": {"5"}, "body": {"Nice"}}, "").Code)
	assert.NotContains(t, s.get(t, "/supplements/"+s.zinc.ID, "").Body.String(), "Write a review")
	assert.Contains(t, s.get(t, "/supplements/"+s.zinc.ID, auth.RoleCustomer).Body.String(), "Write a review")

	rec := s.post(t, path, url.Values{"rating": {"9"}, "body": {"Too good"}}, auth.RoleCustomer)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "rating must be between 1 and 5")
	assert.Contains(t, rec.Body.String(), "Too good", "the form keeps what was typed")

	rec = s.post(t, path, url.Values{"rating": {"5"}, "body": {`Tom & Jerry's "pick"`}}, auth.RoleCustomer)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/supplements/"+s.zinc.ID+"?review=approved", rec.Header().Get("Location"))

	body := s.get(t, rec.Header().Get("Location"), "").Body.String()
	assert.Contains(t, body, "Thanks for your review!")
	assert.Contains(t, body, "Tom &amp; Jerry&#39;s &#34;pick&#34;", "escaped once")
	assert.Contains(t, body, "customer, 5/5")

	assert.Equal(t, http.StatusNotFound, s.post(t, "/supplements/sup_missing/reviews", url.Values{"rating": {"5"}, "body": {"x"}}, auth.RoleCustomer).Code)
}

func TestAdminCommentsPage(t *testing.T) {
	s := newSite(t)
	ctx := context.Background()
	off := false
	_, err := s.settings.Update(ctx, settings.UpdateRequest{AutoApproveComments: &off})
	require.NoError(t, err)
	c, err := s.reviews.Create(ctx, comments.Author{UserID: "usr_2", Name: "Bob"}, comments.CreateRequest{SupplementID: s.zinc.ID, Rating: 2, Body: "Tastes odd"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, s.get(t, "/admin/comments", auth.RoleCustomer).Code)
	rec := s.get(t, "/admin/comments", auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Tastes odd")
	assert.Equal(t, http.StatusBadRequest, s.get(t, "/admin/comments?status=lost", auth.RoleAdmin).Code)

	rec = s.post(t, "/admin/comments", url.Values{"id": {c.ID}, "status": {"approved"}, "from": {"pending"}}, auth.RoleAdmin)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/comments?status=pending", rec.Header().Get("Location"))
	assert.NotContains(t, s.get(t, "/admin/comments", auth.RoleAdmin).Body.String(), "Tastes odd")
	assert.Contains(t, s.get(t, "/supplements/"+s.zinc.ID, "").Body.String(), "Tastes odd")

	assert.Equal(t, http.StatusNotFound, s.post(t, "/admin/comments", url.Values{"id": {"cmt_missing"}, "status": {"approved"}}, auth.RoleAdmin).Code)
	assert.Equal(t, http.StatusBadRequest, s.post(t, "/admin/comments", url.Values{"id": {c.ID}, "status": {"hidden"}}, auth.RoleAdmin).Code)
}

func TestAdminSettingsPage(t *testing.T) {
	s := newSite(t)
	ctx := context.Background()
	assert.Equal(t, http.StatusForbidden, s.get(t, "/admin/settings", auth.RoleDoctor).Code)

	rec := s.get(t, "/admin/settings", auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="Supplement Shop"`)

	form := url.Values{
		"store_name": {"Vita Store"}, "contact_email": {"help@vita.example"}, "currency": {"eur"},
		"shipping_fee_cents": {"299"}, "tax_rate_bps": {"800"}, "maintenance_mode": {"on"},
	}
	rec = s.post(t, "/admin/settings", form, auth.RoleAdmin)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/settings?saved=1", rec.Header().Get("Location"))

	got, err := s.settings.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Vita Store", got.StoreName)
	assert.Equal(t, "EUR", got.Currency)
	assert.Equal(t, int64(299), got.ShippingFeeCents)
	assert.Equal(t, int64(800), got.TaxRateBps)
	assert.True(t, got.MaintenanceMode)
	assert.False(t, got.AutoApproveComments, "unchecked box turns the flag off")
	assert.Contains(t, s.get(t, "/admin/settings?saved=1", auth.RoleAdmin).Body.String(), "Settings saved.")

	rec = s.post(t, "/admin/settings", url.Values{"tax_rate_bps": {"lots"}}, auth.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "tax_rate_bps must be a whole number")
	rec = s.post(t, "/admin/settings", url.Values{"currency": {"EURO"}}, auth.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
