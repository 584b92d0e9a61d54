// Package web renders the storefront and back-office HTML pages.
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eren2212/supplementApp-sub000/internal/addresses"
	"github.com/eren2212/supplementApp-sub000/internal/admin"
	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/cart"
	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/checkout"
	"github.com/eren2212/supplementApp-sub000/internal/comments"
	"github.com/eren2212/supplementApp-sub000/internal/orders"
	"github.com/eren2212/supplementApp-sub000/internal/pagination"
	"github.com/eren2212/supplementApp-sub000/internal/settings"
	"github.com/eren2212/supplementApp-sub000/internal/survey"
	"github.com/eren2212/supplementApp-sub000/internal/validation"
)

// EmptyOrdersRefresh is how often, in seconds, the orders page reloads
// while the customer has no orders.
const EmptyOrdersRefresh = 10

//go:embed templates/*.html
var templateFS embed.FS

var pages = []string{
	"catalog", "supplement", "cart", "checkout", "survey", "orders",
	"admin", "admin_orders", "admin_comments", "admin_settings", "error",
}

type Catalog interface {
	List(ctx context.Context, f catalog.Filter) (catalog.ListResult, error)
	Get(ctx context.Context, id string) (catalog.Supplement, error)
}

type Reviews interface {
	List(ctx context.Context, f comments.Filter) (pagination.Page[comments.Comment], error)
	Rating(ctx context.Context, supplementID string) (comments.Rating, error)
	Create(ctx context.Context, a comments.Author, req comments.CreateRequest) (comments.Comment, error)
	Moderate(ctx context.Context, id, status string) (comments.Comment, error)
}

// Directory names review authors; nil falls back to the email local part.
type Directory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

type Addresses interface {
	List(ctx context.Context, userID string) ([]addresses.Address, error)
}

type Checkout interface {
	Start(ctx context.Context, b checkout.Buyer, req checkout.StartRequest) (checkout.Result, error)
}

type Carts interface {
	Get(ctx context.Context, id string) (cart.Cart, error)
	AddItem(ctx context.Context, cartID, supplementID string, qty int) (cart.Cart, error)
	UpdateQuantity(ctx context.Context, cartID, supplementID string, qty int) (cart.Cart, error)
	View(ctx context.Context, c cart.Cart, pricing cart.PricingSource) (cart.View, error)
}

type Survey interface {
	Bank() *survey.Bank
	Submit(ctx context.Context, userID string, answers survey.Answers) (survey.Submission, []survey.Recommendation, error)
}

type Orders interface {
	List(ctx context.Context, f orders.Filter) (pagination.Page[orders.Order], error)
}

type Dashboard interface {
	Dashboard(ctx context.Context) (admin.Dashboard, error)
}

type Settings interface {
	Get(ctx context.Context) (settings.Settings, error)
	Pricing(ctx context.Context) (settings.Pricing, error)
	Update(ctx context.Context, req settings.UpdateRequest) (settings.Settings, error)
}

type Deps struct {
	Catalog   Catalog
	Reviews   Reviews
	Users     Directory
	Carts     Carts
	Addresses Addresses
	Checkout  Checkout
	Survey    Survey
	Orders    Orders
	Dashboard Dashboard
	Settings  Settings
	StaticDir string
}

type Handler struct {
	Deps
	tmpl map[string]*template.Template
}

// page is what every template receives.
type page struct {
	Title     string
	Store     settings.Public
	User      *auth.Claims
	CartCount int
	Refresh   int
	Data      any
}

var funcs = template.FuncMap{
	"money": Money,
	"date":  func(t time.Time) string { return t.Format("2 Jan 2006") },
	"join":  strings.Join,
	"ratings": func() []int {
		return []int{5, 4, 3, 2, 1}
	},
	"selected": func(a survey.Answers, id, option string) bool {
		return slices.Contains(a[id], option)
	},
}

func New(d Deps) (*Handler, error) {
	h := &Handler{Deps: d, tmpl: make(map[string]*template.Template, len(pages))}
	for _, name := range pages {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		h.tmpl[name] = t
	}
	return h, nil
}

// Money formats cents with the symbol of the common currencies and the ISO
// code otherwise.
func Money(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	amount := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	switch strings.ToUpper(currency) {
	case "USD":
		return sign + "$" + amount
	case "EUR":
		return sign + "€" + amount
	case "GBP":
		return sign + "£" + amount
	case "TRY":
		return sign + "₺" + amount
	default:
		return sign + amount + " " + strings.ToUpper(currency)
	}
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

func (h *Handler) store(ctx context.Context) settings.Settings {
	st, err := h.Settings.Get(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("load settings for page")
		return settings.Defaults()
	}
	return st
}

// cartCount reads the cart token without issuing one.
func (h *Handler) cartCount(r *http.Request) int {
	id := r.Header.Get(cart.HeaderName)
	if !cart.ValidID(id) {
		c, err := r.Cookie(cart.CookieName)
		if err != nil || !cart.ValidID(c.Value) {
			return 0
		}
		id = c.Value
	}
	c, err := h.Carts.Get(r.Context(), id)
	if err != nil {
		return 0
	}
	n := 0
	for _, it := range c.Items {
		n += it.Quantity
	}
	return n
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, code int, name, title string, data any, refresh int) {
	p := page{
		Title:     title,
		Store:     h.store(r.Context()).Public(),
		CartCount: h.cartCount(r),
		Refresh:   refresh,
		Data:      data,
	}
	if claims, ok := auth.FromContext(r.Context()); ok {
		p.User = claims
	}
	var buf bytes.Buffer
	if err := h.tmpl[name].ExecuteTemplate(&buf, "layout", p); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("template", name).Msg("render page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

type errorData struct {
	Code    int
	Message string
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, code int, msg string) {
	if msg == "" {
		msg = http.StatusText(code)
	}
	h.render(w, r, code, "error", http.StatusText(code), errorData{Code: code, Message: msg}, 0)
}

func (h *Handler) internal(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("page failed")
	h.fail(w, r, http.StatusInternalServerError, "Something went wrong. Please try again.")
}

// guard answers 503 to everyone but admins while the shop is in
// maintenance mode.
func (h *Handler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := auth.FromContext(r.Context())
		if h.store(r.Context()).MaintenanceMode && !claims.IsAdmin() {
			h.fail(w, r, http.StatusServiceUnavailable, "The shop is down for maintenance. Please come back soon.")
			return
		}
		next(w, r)
	}
}

// session renders the 401 and 403 pages; no roles means any signed-in user.
func (h *Handler) session(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.FromContext(r.Context())
		if !ok {
			h.fail(w, r, http.StatusUnauthorized, "Please sign in to see this page.")
			return
		}
		if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
			h.fail(w, r, http.StatusForbidden, "You are not allowed to see this page.")
			return
		}
		next(w, r)
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", h.guard(h.catalogPage))
	mux.HandleFunc("/supplements/", h.guard(h.supplementPage))
	mux.HandleFunc("/cart", h.guard(h.cartPage))
	mux.HandleFunc("/cart/add", h.guard(h.cartAdd))
	mux.HandleFunc("/cart/update", h.guard(h.cartUpdate))
	mux.HandleFunc("/checkout", h.guard(h.session(h.checkoutPage)))
	mux.HandleFunc("/survey", h.guard(h.surveyPage))
	mux.HandleFunc("/orders", h.guard(h.session(h.ordersPage)))
	mux.HandleFunc("/admin", h.guard(h.session(h.adminPage, auth.RoleAdmin)))
	mux.HandleFunc("/admin/orders", h.guard(h.session(h.adminOrdersPage, auth.RoleAdmin)))
	mux.HandleFunc("/admin/comments", h.guard(h.session(h.adminCommentsPage, auth.RoleAdmin)))
	mux.HandleFunc("/admin/settings", h.guard(h.session(h.adminSettingsPage, auth.RoleAdmin)))
	if h.StaticDir != "" {
		mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(h.StaticDir))))
	}
}

func onlyGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Storefront
// ---------------------------------------------------------------------------

type sortOption struct{ Value, Label string }

var sorts = []sortOption{
	{catalog.SortNewest, "Newest"},
	{catalog.SortPriceAsc, "Price: low to high"},
	{catalog.SortPriceDesc, "Price: high to low"},
	{catalog.SortName, "Name"},
}

type catalogData struct {
	Filter     catalog.Filter
	Result     catalog.ListResult
	Categories []string
	Sorts      []sortOption
	Pages      int
	PrevPage   string
	NextPage   string
}

func pageURL(r *http.Request, n int) string {
	q := r.URL.Query()
	q.Set("page", strconv.Itoa(n))
	return (&url.URL{Path: "/", RawQuery: q.Encode()}).String()
}

func (h *Handler) catalogPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		h.fail(w, r, http.StatusNotFound, "We could not find that page.")
		return
	}
	if !onlyGet(w, r) {
		return
	}
	f := catalog.FilterFromQuery(r)
	f.ActiveOnly = true
	if f.Sort == "" {
		f.Sort = catalog.SortNewest
	}
	res, err := h.Catalog.List(r.Context(), f)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	d := catalogData{Filter: f, Result: res, Categories: catalog.Categories, Sorts: sorts, Pages: 1}
	if res.Limit > 0 && res.Total > 0 {
		d.Pages = (res.Total + res.Limit - 1) / res.Limit
	}
	if res.Page > 1 {
		d.PrevPage = pageURL(r, res.Page-1)
	}
	if res.Page < d.Pages {
		d.NextPage = pageURL(r, res.Page+1)
	}
	h.render(w, r, http.StatusOK, "catalog", "Supplements", d, 0)
}

type supplementData struct {
	Item    catalog.Supplement
	Rating  comments.Rating
	Reviews []comments.Comment
	Form    comments.CreateRequest
	Notice  string
	Error   string
}

var reviewNotices = map[string]string{
	comments.StatusApproved: "Thanks for your review!",
	comments.StatusPending:  "Thanks! Your review will appear once it is approved.",
}

// supplementPage serves /supplements/{id} and the review form posted to
// /supplements/{id}/reviews.
func (h *Handler) supplementPage(w http.ResponseWriter, r *http.Request) {
	id, rest, _ := strings.Cut(strings.Trim(strings.TrimPrefix(r.URL.Path, "/supplements/"), "/"), "/")
	switch {
	case rest == "reviews":
		h.session(func(w http.ResponseWriter, r *http.Request) { h.reviewPost(w, r, id) })(w, r)
		return
	case rest != "":
		h.fail(w, r, http.StatusNotFound, "We could not find that page.")
		return
	}
	if !onlyGet(w, r) {
		return
	}
	d, ok := h.supplement(w, r, id)
	if !ok {
		return
	}
	d.Notice = reviewNotices[r.URL.Query().Get("review")]
	h.render(w, r, http.StatusOK, "supplement", d.Item.Name, d, 0)
}

// supplement loads an active supplement with its approved reviews, writing
// the error page itself when it cannot.
func (h *Handler) supplement(w http.ResponseWriter, r *http.Request, id string) (supplementData, bool) {
	sp, err := h.Catalog.Get(r.Context(), id)
	if errors.Is(err, catalog.ErrNotFound) || (err == nil && !sp.Active) || id == "" {
		h.fail(w, r, http.StatusNotFound, "That supplement does not exist.")
		return supplementData{}, false
	}
	if err != nil {
		h.internal(w, r, err)
		return supplementData{}, false
	}
	rating, err := h.Reviews.Rating(r.Context(), sp.ID)
	if err != nil {
		h.internal(w, r, err)
		return supplementData{}, false
	}
	reviews, err := h.Reviews.List(r.Context(), comments.Filter{SupplementID: sp.ID, Status: comments.StatusApproved, Limit: 50})
	if err != nil {
		h.internal(w, r, err)
		return supplementData{}, false
	}
	return supplementData{Item: sp, Rating: rating, Reviews: reviews.Items, Form: comments.CreateRequest{Rating: 5}}, true
}

func (h *Handler) cartPage(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	c, err := h.Carts.Get(r.Context(), cart.Token(w, r))
	if err != nil {
		h.internal(w, r, err)
		return
	}
	v, err := h.Carts.View(r.Context(), c, h.Settings)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "cart", "Cart", v, 0)
}

func formCartLine(r *http.Request, def int) (string, int, bool) {
	if err := r.ParseForm(); err != nil {
		return "", 0, false
	}
	id := strings.TrimSpace(r.PostForm.Get("supplement_id"))
	qty := def
	if v := strings.TrimSpace(r.PostForm.Get("quantity")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", 0, false
		}
		qty = n
	}
	return id, qty, id != ""
}

func (h *Handler) cartError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, cart.ErrNotInCart):
		h.fail(w, r, http.StatusNotFound, "That supplement is not available.")
	case errors.Is(err, cart.ErrOutOfStock), errors.Is(err, cart.ErrInactive):
		h.fail(w, r, http.StatusConflict, err.Error())
	default:
		h.internal(w, r, err)
	}
}

func (h *Handler) cartAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	id, qty, ok := formCartLine(r, 1)
	if !ok || qty < 1 {
		h.fail(w, r, http.StatusBadRequest, "Choose a supplement and a quantity of at least 1.")
		return
	}
	if _, err := h.Carts.AddItem(r.Context(), cart.Token(w, r), id, qty); err != nil {
		h.cartError(w, r, err)
		return
	}
	http.Redirect(w, r, "/cart", http.StatusSeeOther)
}

func (h *Handler) cartUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	id, qty, ok := formCartLine(r, -1)
	if !ok || qty < 0 {
		h.fail(w, r, http.StatusBadRequest, "Choose a supplement and a quantity.")
		return
	}
	if _, err := h.Carts.UpdateQuantity(r.Context(), cart.Token(w, r), id, qty); err != nil {
		h.cartError(w, r, err)
		return
	}
	http.Redirect(w, r, "/cart", http.StatusSeeOther)
}

type surveyData struct {
	Questions       []survey.Question
	Answers         survey.Answers
	Recommendations []survey.Recommendation
	Error           string
}

func (h *Handler) surveyPage(w http.ResponseWriter, r *http.Request) {
	d := surveyData{Questions: h.Survey.Bank().Questions, Answers: survey.Answers{}}
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.render(w, r, http.StatusOK, "survey", "Find my supplements", d, 0)
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			d.Error = "The form could not be read."
			h.render(w, r, http.StatusBadRequest, "survey", "Find my supplements", d, 0)
			return
		}
		for _, q := range d.Questions {
			if vals := r.PostForm[q.ID]; len(vals) > 0 {
				d.Answers[q.ID] = vals
			}
		}
		var userID string
		if claims, ok := auth.FromContext(r.Context()); ok {
			userID = claims.UserID()
		}
		_, recs, err := h.Survey.Submit(r.Context(), userID, d.Answers)
		if err != nil && !validation.Is(err) {
			h.internal(w, r, err)
			return
		}
		if err != nil {
			d.Error = err.Error()
			h.render(w, r, http.StatusBadRequest, "survey", "Find my supplements", d, 0)
			return
		}
		d.Recommendations = recs
		h.render(w, r, http.StatusOK, "survey", "Your recommendations", d, 0)
	default:
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

type ordersData struct {
	Orders     []orders.Order
	NextCursor string
}

func (h *Handler) ordersPage(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	claims, _ := auth.FromContext(r.Context())
	pg, err := h.Orders.List(r.Context(), orders.Filter{UserID: claims.UserID(), Cursor: r.URL.Query().Get("cursor"), Limit: 20})
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	refresh := 0
	if len(pg.Items) == 0 {
		refresh = EmptyOrdersRefresh
	}
	h.render(w, r, http.StatusOK, "orders", "My orders", ordersData{Orders: pg.Items, NextCursor: pg.NextCursor}, refresh)
}

// ---------------------------------------------------------------------------
// Back office
// ---------------------------------------------------------------------------

func (h *Handler) adminPage(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	d, err := h.Dashboard.Dashboard(r.Context())
	if err != nil {
		h.internal(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, "admin", "Dashboard", d, 0)
}

type adminOrdersData struct {
	Status   string
	Statuses []string
	Orders   []orders.Order
	NextPage string
}

func (h *Handler) adminOrdersPage(w http.ResponseWriter, r *http.Request) {
	if !onlyGet(w, r) {
		return
	}
	status := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	if status != "" && !slices.Contains(orders.Statuses, status) {
		h.fail(w, r, http.StatusBadRequest, "Unknown order status.")
		return
	}
	pg, err := h.Orders.List(r.Context(), orders.Filter{Status: status, Cursor: r.URL.Query().Get("cursor"), Limit: 50})
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d := adminOrdersData{Status: status, Statuses: orders.Statuses, Orders: pg.Items}
	if pg.NextCursor != "" {
		q := url.Values{"cursor": {pg.NextCursor}}
		if status != "" {
			q.Set("status", status)
		}
		d.NextPage = "/admin/orders?" + q.Encode()
	}
	h.render(w, r, http.StatusOK, "admin_orders", "Orders", d, 0)
}
