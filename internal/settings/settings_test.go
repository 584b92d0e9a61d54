package settings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eren2212/supplementApp-sub000/internal/auth"
)

func ptr[T any](v T) *T { return &v }

func TestApplyValidates(t *testing.T) {
	cur := Defaults()

	_, err := Apply(cur, UpdateRequest{})
	require.ErrorIs(t, err, ErrEmptyUpdate)

	_, err = Apply(cur, UpdateRequest{TaxRateBps: ptr(int64(10001))})
	require.Error(t, err)
	require.True(t, isValidation(err))

	_, err = Apply(cur, UpdateRequest{Currency: ptr("EURO")})
	require.Error(t, err)

	_, err = Apply(cur, UpdateRequest{ContactEmail: ptr("not-an-email")})
	require.Error(t, err)

	next, err := Apply(cur, UpdateRequest{Currency: ptr(" eur "), ShippingFeeCents: ptr(int64(0))})
	require.NoError(t, err)
	require.Equal(t, "EUR", next.Currency)
	require.Zero(t, next.ShippingFeeCents)
	require.Equal(t, cur.StoreName, next.StoreName)
}

func TestMemoryUpdatePersists(t *testing.T) {
	svc := NewService(nil)
	ctx := context.Background()

	_, err := svc.Update(ctx, UpdateRequest{AutoApproveComments: ptr(true), TaxRateBps: ptr(int64(800))})
	require.NoError(t, err)

	st, err := svc.Get(ctx)
	require.NoError(t, err)
	require.True(t, st.AutoApproveComments)

	p, err := svc.Pricing(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(800), p.TaxRateBps)
}

func TestSetRoundTripsPairs(t *testing.T) {
	want := Defaults()
	want.MaintenanceMode = true
	want.LowStockThreshold = 3

	got := Defaults()
	for k, v := range want.pairs() {
		require.NoError(t, got.set(k, v))
	}
	require.Equal(t, want, got)
}

func TestAdminSettingsRequiresAdmin(t *testing.T) {
	svc := NewService(nil)
	iss := auth.NewIssuer("test-secret-0123456789", time.Hour)
	mux := http.NewServeMux()
	svc.Register(mux)
	h := iss.Middleware(mux)

	tok, _, _ := iss.Issue("usr_1", "d@example.com", auth.RoleDoctor)
	req := httptest.NewRequest(http.MethodPatch, "/v1/admin/settings", strings.NewReader(`{"store_name":"X"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	tok, _, _ = iss.Issue("usr_2", "a@example.com", auth.RoleAdmin)
	req = httptest.NewRequest(http.MethodPatch, "/v1/admin/settings", strings.NewReader(`{"tax_rate_bps":-1}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"store_name":"Supplement Shop"`)
	require.NotContains(t, rec.Body.String(), "low_stock_threshold")
}
