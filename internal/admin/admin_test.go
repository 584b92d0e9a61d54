package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/comments"
	"github.com/eren2212/supplementApp-sub000/internal/events"
	"github.com/eren2212/supplementApp-sub000/internal/orders"
	"github.com/eren2212/supplementApp-sub000/internal/settings"
	"github.com/eren2212/supplementApp-sub000/internal/users"
)

func newDashboard(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	cat := catalog.NewService(nil, 0)
	zinc, err := cat.Create(ctx, catalog.CreateRequest{Name: "Zinc", PriceCents: 900, Stock: 3})
	require.NoError(t, err)
	_, err = cat.Create(ctx, catalog.CreateRequest{Name: "Whey", PriceCents: 4500, Stock: 100})
	require.NoError(t, err)

	st := settings.NewService(nil)
	ords := orders.NewService(nil, cat, &events.Recorder{}, 0)
	for i := 0; i < 2; i++ {
		o, err := ords.Create(ctx, orders.NewOrder{
			UserID: "usr_1", Email: "a@example.com",
			Items:         []orders.Item{{SupplementID: zinc.ID, Name: "Zinc", PriceCents: 900, Quantity: 2}},
			SubtotalCents: 1800, ShippingCents: 499, TotalCents: 2299, Currency: "USD",
			ShippingAddress: orders.Address{FullName: "Ada", Line1: "1 Main", City: "London", PostalCode: "N1", Country: "GB"},
		})
		require.NoError(t, err)
		if i == 0 {
			_, err = ords.AttachPayment(ctx, o.ID, "pi_1")
			require.NoError(t, err)
			_, err = ords.MarkPaid(ctx, "pi_1")
			require.NoError(t, err)
		}
	}

	cmts := comments.NewService(nil, cat, st, &events.Recorder{}, 0)
	_, err = cmts.Create(ctx, comments.Author{UserID: "usr_1", Name: "Ada"}, comments.CreateRequest{SupplementID: zinc.ID, Rating: 5, Body: "Great"})
	require.NoError(t, err)

	us := users.NewService(nil)
	_, err = us.Register(ctx, users.RegisterRequest{Email: "a@example.com", Name: "Ada", Password: "correct-horse"})
	require.NoError(t, err)
	_, _, err = us.EnsureAdmin(ctx, "admin@example.com", "admin-password")
	require.NoError(t, err)

	return NewService(ords, cat, cmts, us, st)
}

func TestDashboardAggregates(t *testing.T) {
	d, err := newDashboard(t).Dashboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2299), d.RevenueCents, "only paid orders count")
	assert.Equal(t, "USD", d.Currency)
	assert.Equal(t, 2, d.OrderCount)
	assert.Equal(t, 1, d.OrdersByStatus[orders.StatusPending])
	assert.Equal(t, 1, d.OrdersByStatus[orders.StatusProcessing])
	assert.Len(t, d.RecentOrders, 2)
	require.Len(t, d.TopSellers, 1)
	assert.Equal(t, 2, d.TopSellers[0].Quantity)
	require.Len(t, d.LowStock, 1)
	assert.Equal(t, "Zinc", d.LowStock[0].Name)
	assert.Equal(t, 10, d.LowStockBelow)
	assert.Equal(t, 1, d.PendingComments)
	assert.Equal(t, map[string]int{auth.RoleCustomer: 1, auth.RoleDoctor: 0, auth.RoleAdmin: 1}, d.UsersByRole)
	assert.Equal(t, 2, d.SupplementCount)
}

func TestDashboardEndpointIsAdminOnly(t *testing.T) {
	svc := newDashboard(t)
	iss := auth.NewIssuer("test-secret-0123456789", time.Hour)
	mux := http.NewServeMux()
	svc.Register(mux)
	h := iss.Middleware(mux)

	get := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/dashboard", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	doctor, _, _ := iss.Issue("usr_2", "d@example.com", auth.RoleDoctor)
	admin, _, _ := iss.Issue("usr_9", "admin@example.com", auth.RoleAdmin)
	assert.Equal(t, http.StatusUnauthorized, get("").Code)
	assert.Equal(t, http.StatusForbidden, get(doctor).Code)

	rec := get(admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Item Dashboard `json:"item"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Item.OrderCount)
}
