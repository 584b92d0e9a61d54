// Package auth issues and verifies session tokens and gates handlers by role.
package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/eren2212/supplementApp-sub000/internal/httpx"
)

const (
	RoleCustomer = "CUSTOMER"
	RoleDoctor   = "DOCTOR"
	RoleAdmin    = "ADMIN"
)

// SessionCookie is the name of the cookie carrying the token.
const SessionCookie = "session"

var ErrInvalidToken = errors.New("invalid session token")

// NormalizeRole returns the canonical role or "" when unknown.
func NormalizeRole(role string) string {
	r := strings.ToUpper(strings.TrimSpace(role))
	switch r {
	case RoleCustomer, RoleDoctor, RoleAdmin:
		return r
	default:
		return ""
	}
}

type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// UserID is the token subject.
func (c *Claims) UserID() string { return c.Subject }

func (c *Claims) IsAdmin() bool { return c != nil && c.Role == RoleAdmin }

// Roles reports the current role of a user and whether the user still
// exists. The users store satisfies it.
type Roles interface {
	CurrentRole(ctx context.Context, userID string) (role string, found bool, err error)
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	roles  Roles
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// CheckRoles makes Middleware resolve the role of every session through r,
// so role changes and deletions apply to tokens already issued.
func (i *Issuer) CheckRoles(r Roles) *Issuer {
	i.roles = r
	return i
}

// Issue returns a signed token and its expiry.
func (i *Issuer) Issue(userID, email, role string) (string, time.Time, error) {
	now := i.now().UTC()
	exp := now.Add(i.ttl)
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    "supplement-shop",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (i *Issuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("supplement-shop"),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || NormalizeRole(claims.Role) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SetCookie stores token in the session cookie.
func (i *Issuer) SetCookie(w http.ResponseWriter, r *http.Request, token string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

type ctxKey struct{}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok && c != nil
}

func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// Middleware attaches the claims of a valid session to the request context.
// Requests without a valid session pass through anonymously. With
// CheckRoles, sessions of deleted users are dropped and the stored role
// replaces the one in the token.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := tokenFrom(r); tok != "" {
			if claims, err := i.Parse(tok); err == nil && i.current(r.Context(), claims) {
				r = r.WithContext(WithClaims(r.Context(), claims))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (i *Issuer) current(ctx context.Context, claims *Claims) bool {
	if i.roles == nil {
		return true
	}
	role, found, err := i.roles.CurrentRole(ctx, claims.Subject)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("user", claims.Subject).Msg("resolve session role")
		return false
	}
	if !found || NormalizeRole(role) == "" {
		return false
	}
	claims.Role = NormalizeRole(role)
	return true
}

// Require answers 401 without a session and 403 when the session role is
// not one of roles. No roles means any signed-in user.
func Require(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := FromContext(r.Context())
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if len(roles) > 0 && !slices.Contains(roles, claims.Role) {
			httpx.WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	}
}

// ---------------------------------------------------------------------------
// Passwords
// ---------------------------------------------------------------------------

func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
