package web

import (
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/eren2212/supplementApp-sub000/internal/addresses"
	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/cart"
	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/checkout"
	"github.com/eren2212/supplementApp-sub000/internal/comments"
	"github.com/eren2212/supplementApp-sub000/internal/settings"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

func postOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Reviews
// ---------------------------------------------------------------------------

func (h *Handler) author(r *http.Request) comments.Author {
	claims, _ := auth.FromContext(r.Context())
	a := comments.Author{UserID: claims.UserID()}
	if h.Users != nil {
		if name, err := h.Users.DisplayName(r.Context(), a.UserID); err == nil {
			a.Name = name
		}
	}
	if a.Name == "" {
		a.Name, _, _ = strings.Cut(claims.Email, "@")
	}
	return a
}

func (h *Handler) reviewPost(w http.ResponseWriter, r *http.Request, id string) {
	if !postOnly(w, r) {
		return
	}
	d, ok := h.supplement(w, r, id)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		d.Error = "The form could not be read."
		h.render(w, r, http.StatusBadRequest, "supplement", d.Item.Name, d, 0)
		return
	}
	rating, _ := strconv.Atoi(r.PostForm.Get("rating"))
	d.Form = comments.CreateRequest{SupplementID: d.Item.ID, Rating: rating, Body: r.PostForm.Get("body")}

	c, err := h.Reviews.Create(r.Context(), h.author(r), d.Form)
	switch {
	case validation.Is(err):
		d.Error = err.Error()
		h.render(w, r, http.StatusBadRequest, "supplement", d.Item.Name, d, 0)
	case err != nil:
		h.internal(w, r, err)
	default:
		http.Redirect(w, r, "/supplements/"+url.PathEscape(d.Item.ID)+"?review="+c.Status, http.StatusSeeOther)
	}
}

// ---------------------------------------------------------------------------
// Checkout
// ---------------------------------------------------------------------------

type checkoutData struct {
	View      cart.View
	Addresses []addresses.Address
	AddressID string
	Note      string
	Result    *checkout.Result
	Error     string
}

func (h *Handler) checkoutPage(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	cartID := cart.Token(w, r)
	d := checkoutData{}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			h.fail(w, r, http.StatusBadRequest, "The form could not be read.")
			return
		}
		d.AddressID = strings.TrimSpace(r.PostForm.Get("address_id"))
		d.Note = r.PostForm.Get("note")
		res, err := h.Checkout.Start(r.Context(), checkout.Buyer{UserID: claims.UserID(), Email: claims.Email},
			checkout.StartRequest{CartID: cartID, AddressID: d.AddressID, Note: d.Note})
		if err == nil {
			d.Result = &res
			h.render(w, r, http.StatusOK, "checkout", "Order placed", d, 0)
			return
		}
		code, msg := checkoutError(err)
		if code == http.StatusInternalServerError {
			h.internal(w, r, err)
			return
		}
		d.Error = msg
		h.renderCheckout(w, r, code, cartID, claims.UserID(), d)
		return
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	h.renderCheckout(w, r, http.StatusOK, cartID, claims.UserID(), d)
}

// renderCheckout fills in the cart and the saved addresses around d.
func (h *Handler) renderCheckout(w http.ResponseWriter, r *http.Request, code int, cartID, userID string, d checkoutData) {
	c, err := h.Carts.Get(r.Context(), cartID)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	if d.View, err = h.Carts.View(r.Context(), c, h.Settings); err != nil {
		h.internal(w, r, err)
		return
	}
	if d.Addresses, err = h.Addresses.List(r.Context(), userID); err != nil {
		h.internal(w, r, err)
		return
	}
	if d.AddressID == "" {
		for _, a := range d.Addresses {
			if a.IsDefault {
				d.AddressID = a.ID
			}
		}
	}
	h.render(w, r, code, "checkout", "Checkout", d, 0)
}

func checkoutError(err error) (int, string) {
	switch {
	case errors.Is(err, addresses.ErrNotFound):
		return http.StatusBadRequest, "Choose one of your saved addresses."
	case errors.Is(err, checkout.ErrUnavailable), errors.Is(err, catalog.ErrInsufficientStock):
		return http.StatusConflict, err.Error()
	case errors.Is(err, checkout.ErrPaymentGateway):
		return http.StatusBadGateway, "Payments are unavailable right now. Your cart has been kept."
	case validation.Is(err):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, ""
	}
}

// ---------------------------------------------------------------------------
// Back office forms
// ---------------------------------------------------------------------------

var reviewStatuses = []string{comments.StatusPending, comments.StatusApproved, comments.StatusRejected}

type adminCommentsData struct {
	Status   string
	Statuses []string
	Comments []comments.Comment
	NextPage string
}

func (h *Handler) adminCommentsPage(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		h.moderate(w, r)
		return
	}
	if !onlyGet(w, r) {
		return
	}
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	if status == "" {
		status = comments.StatusPending
	}
	if !slices.Contains(reviewStatuses, status) {
		h.fail(w, r, http.StatusBadRequest, "Unknown review status.")
		return
	}
	pg, err := h.Reviews.List(r.Context(), comments.Filter{Status: status, Cursor: r.URL.Query().Get("cursor"), Limit: 50})
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d := adminCommentsData{Status: status, Statuses: reviewStatuses, Comments: pg.Items}
	if pg.NextCursor != "" {
		d.NextPage = "/admin/comments?" + url.Values{"status": {status}, "cursor": {pg.NextCursor}}.Encode()
	}
	h.render(w, r, http.StatusOK, "admin_comments", "Reviews", d, 0)
}

func (h *Handler) moderate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, http.StatusBadRequest, "The form could not be read.")
		return
	}
	_, err := h.Reviews.Moderate(r.Context(), r.PostForm.Get("id"), r.PostForm.Get("status"))
	switch {
	case errors.Is(err, comments.ErrNotFound):
		h.fail(w, r, http.StatusNotFound, "That review does not exist.")
	case validation.Is(err):
		h.fail(w, r, http.StatusBadRequest, err.Error())
	case err != nil:
		h.internal(w, r, err)
	default:
		back := "/admin/comments"
		if from := r.PostForm.Get("from"); slices.Contains(reviewStatuses, from) {
			back += "?status=" + from
		}
		http.Redirect(w, r, back, http.StatusSeeOther)
	}
}

type adminSettingsData struct {
	Settings settings.Settings
	Saved    bool
	Error    string
}

func (h *Handler) adminSettingsPage(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		d := adminSettingsData{Settings: h.store(r.Context()), Saved: r.URL.Query().Get("saved") != ""}
		h.render(w, r, http.StatusOK, "admin_settings", "Settings", d, 0)
	case http.MethodPost:
		d := adminSettingsData{Settings: h.store(r.Context())}
		req, err := settingsForm(r)
		if err == nil {
			_, err = h.Settings.Update(r.Context(), req)
		}
		switch {
		case validation.Is(err):
			d.Error = err.Error()
			h.render(w, r, http.StatusBadRequest, "admin_settings", "Settings", d, 0)
		case err != nil:
			h.internal(w, r, err)
		default:
			http.Redirect(w, r, "/admin/settings?saved=1", http.StatusSeeOther)
		}
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

// settingsForm reads the settings form. Blank fields are left unchanged;
// unchecked boxes turn their flag off.
func settingsForm(r *http.Request) (settings.UpdateRequest, error) {
	if err := r.ParseForm(); err != nil {
		return settings.UpdateRequest{}, validation.New("the form could not be read")
	}
	f := r.PostForm
	var req settings.UpdateRequest
	text := func(key string) *string {
		if _, ok := f[key]; !ok {
			return nil
		}
		v := f.Get(key)
		return &v
	}
	req.ContactEmail = text("contact_email")
	if v := strings.TrimSpace(f.Get("store_name")); v != "" {
		req.StoreName = &v
	}
	if v := strings.TrimSpace(f.Get("currency")); v != "" {
		req.Currency = &v
	}
	for key, dst := range map[string]**int64{
		"shipping_fee_cents":            &req.ShippingFeeCents,
		"free_shipping_threshold_cents": &req.FreeShippingThresholdCents,
		"tax_rate_bps":                  &req.TaxRateBps,
	} {
		v := strings.TrimSpace(f.Get(key))
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return settings.UpdateRequest{}, validation.Errorf("%s must be a whole number", key)
		}
		*dst = &n
	}
	if v := strings.TrimSpace(f.Get("low_stock_threshold")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return settings.UpdateRequest{}, validation.New("low_stock_threshold must be a whole number")
		}
		req.LowStockThreshold = &n
	}
	auto, maint := f.Get("auto_approve_comments") != "", f.Get("maintenance_mode") != ""
	req.AutoApproveComments, req.MaintenanceMode = &auto, &maint
	return req, nil
}
