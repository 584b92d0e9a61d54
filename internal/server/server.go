// Package server wires the stores, the JSON API and the HTML pages into one
// HTTP server and owns their lifecycle.
package server

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eren2212/supplementApp-sub000/internal/addresses"
	"github.com/eren2212/supplementApp-sub000/internal/admin"
	"github.com/eren2212/supplementApp-sub000/internal/auth"
	"github.com/eren2212/supplementApp-sub000/internal/cart"
	"github.com/eren2212/supplementApp-sub000/internal/catalog"
	"github.com/eren2212/supplementApp-sub000/internal/checkout"
	"github.com/eren2212/supplementApp-sub000/internal/comments"
	"github.com/eren2212/supplementApp-sub000/internal/config"
	"github.com/eren2212/supplementApp-sub000/internal/database"
	"github.com/eren2212/supplementApp-sub000/internal/events"
	"github.com/eren2212/supplementApp-sub000/internal/httpx"
	"github.com/eren2212/supplementApp-sub000/internal/logging"
	"github.com/eren2212/supplementApp-sub000/internal/metrics"
	"github.com/eren2212/supplementApp-sub000/internal/orders"
	"github.com/eren2212/supplementApp-sub000/internal/payments"
	"github.com/eren2212/supplementApp-sub000/internal/settings"
	"github.com/eren2212/supplementApp-sub000/internal/survey"
	"github.com/eren2212/supplementApp-sub000/internal/users"
	"github.com/eren2212/supplementApp-sub000/internal/web"
)

const (
	ModePostgres = "postgres"
	ModeMemory   = "memory"

	shutdownTimeout = 10 * time.Second
	// carts untouched for this long are dropped at startup
	cartRetention   = 30 * 24 * time.Hour
)

// Stores groups every persistent service. They share one *sql.DB, or run in
// memory when it is nil.
type Stores struct {
	Catalog   *catalog.Service
	Users     *users.Service
	Addresses *addresses.Service
	Settings  *settings.Service
	Comments  *comments.Service
	Orders    *orders.Service
	Survey    *survey.Service
}

func NewStores(db *sql.DB, cacheTTL time.Duration, pub events.Publisher) *Stores {
	cat := catalog.NewService(db, cacheTTL)
	st := settings.NewService(db)
	return &Stores{
		Catalog:   cat,
		Users:     users.NewService(db),
		Addresses: addresses.NewService(db),
		Settings:  st,
		Comments:  comments.NewService(db, cat, st, pub, cacheTTL),
		Orders:    orders.NewService(db, cat, pub, cacheTTL),
		Survey:    survey.NewService(db, survey.Default(), cat, pub),
	}
}

// EnsureSchema creates the tables of every store.
func (s *Stores) EnsureSchema(ctx context.Context) error {
	for _, st := range []interface{ EnsureSchema(context.Context) error }{
		s.Catalog, s.Users, s.Addresses, s.Settings, s.Comments, s.Orders, s.Survey,
	} {
		if err := st.EnsureSchema(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Seed loads the starter catalog and, when credentials are given, the
// first admin account.
func (s *Stores) Seed(ctx context.Context, adminEmail, adminPassword string, logger zerolog.Logger) error {
	reqs, err := catalog.SeedData()
	if err != nil {
		return err
	}
	n, err := s.Catalog.Seed(ctx, reqs)
	if err != nil {
		return err
	}
	logger.Info().Str(logging.EVENT, "seed").Int("supplements", n).Msg("catalog seeded")
	if adminEmail == "" || adminPassword == "" {
		return nil
	}
	u, created, err := s.Users.EnsureAdmin(ctx, adminEmail, adminPassword)
	if err != nil {
		return err
	}
	logger.Info().Str(logging.EVENT, "seed").Str(logging.ID, u.ID).Bool("created", created).Msg("admin account ready")
	return nil
}

// Connect opens the Postgres pool described by cfg.
func Connect(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	return database.Connect(ctx, database.PoolConfig{
		DSN:             cfg.DSN(),
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxIdleTime: cfg.DBConnMaxIdle,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
}

type Server struct {
	cfg     config.Config
	logger  zerolog.Logger
	db      *sql.DB
	bolt    *cart.BoltStore
	nats    *events.NATSPublisher
	metrics *metrics.Metrics
	gateway payments.Gateway
	stores  *Stores
	handler http.Handler
}

// New connects every backing service. Postgres, the cart file and NATS are
// all optional: each one that is missing or unreachable is replaced by its
// in-process fallback and a warning is logged.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gateway, err := payments.New(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.PaymentsOffline)
	if err != nil {
		return nil, err
	}
	if cfg.EphemeralSecret {
		logger.Warn().Msg("dev mode: JWT secret generated for this process; sessions end on restart")
	}
	if gateway.Name() == "offline" {
		logger.Warn().Msg("offline payments enabled: webhooks are unsigned, do not expose this server")
	}
	s := &Server{cfg: cfg, logger: logger, metrics: metrics.New(), gateway: gateway}

	db, err := Connect(ctx, cfg)
	switch {
	case errors.Is(err, database.ErrNotConfigured):
		logger.Warn().Msg("database not configured; running in memory mode")
	case err != nil:
		logger.Warn().Err(err).Msg("database unavailable; running in memory mode")
	default:
		s.db = db
	}

	var pub events.Publisher = events.LogPublisher{Logger: logger}
	if cfg.NATSURL != "" {
		np, err := events.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable; events go to the log")
		} else {
			s.nats, pub = np, np
		}
	}

	if s.db != nil {
		// without a cache TTL the stores start no goroutines
		if err := NewStores(s.db, 0, pub).EnsureSchema(ctx); err != nil {
			logger.Warn().Err(err).Msg("schema init failed; running in memory mode")
			_ = s.db.Close()
			s.db = nil
		}
	}
	s.stores = NewStores(s.db, cfg.CacheTTL, pub)
	if s.db == nil {
		// memory mode starts from the bundled catalog
		if err := s.stores.Seed(ctx, cfg.AdminEmail, cfg.AdminPassword, logger); err != nil {
			s.Close()
			return nil, err
		}
	}

	var store cart.Store = cart.NewMemoryStore()
	if cfg.CartDBPath != "" {
		b, err := cart.OpenBolt(cfg.CartDBPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.CartDBPath).Msg("cart file unavailable; carts kept in memory")
		} else {
			s.bolt, store = b, b
			if n, err := b.PruneBefore(time.Now().Add(-cartRetention)); err != nil {
				logger.Warn().Err(err).Msg("prune carts")
			} else if n > 0 {
				logger.Info().Int("carts", n).Msg("pruned stale carts")
			}
		}
	}

	h, err := s.routes(store)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.handler = h
	return s, nil
}

func (s *Server) Mode() string {
	if s.db != nil {
		return ModePostgres
	}
	return ModeMemory
}

func (s *Server) Stores() *Stores { return s.stores }

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes(store cart.Store) (http.Handler, error) {
	st := s.stores
	iss := auth.NewIssuer(s.cfg.JWTSecret, s.cfg.SessionTTL).CheckRoles(st.Users)
	carts := cart.NewService(store, st.Catalog)
	dash := admin.NewService(st.Orders, st.Catalog, st.Comments, st.Users, st.Settings)
	co := checkout.NewService(carts, st.Catalog, st.Addresses, st.Settings, st.Orders, s.gateway, s.metrics)

	pages, err := web.New(web.Deps{
		Catalog:   st.Catalog,
		Reviews:   st.Comments,
		Users:     st.Users,
		Carts:     carts,
		Addresses: st.Addresses,
		Checkout:  co,
		Survey:    st.Survey,
		Orders:    st.Orders,
		Dashboard: dash,
		Settings:  st.Settings,
		StaticDir: s.cfg.StaticDir,
	})
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"status":  "healthy",
			"module":  s.cfg.ModuleName,
			"service": "supplement-shop",
			"mode":    s.Mode(),
		})
	})
	mux.Handle("/metrics", s.metrics.Handler())

	st.Catalog.Register(mux)
	st.Users.Routes(mux, iss)
	st.Addresses.Register(mux)
	st.Settings.Register(mux)
	st.Comments.Register(mux, st.Users)
	st.Orders.Register(mux)
	st.Survey.Register(mux)
	carts.Register(mux, st.Settings)
	co.Register(mux)
	dash.Register(mux)
	pages.Register(mux)

	return logging.AccessLog(s.logger, s.metrics.Instrument(httpx.WithServerDefaults(iss.Middleware(mux)))), nil
}

// Run listens on the configured port until ctx ends or SIGINT/SIGTERM
// arrives.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and shuts down gracefully once ctx is
// done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Str("mode", s.Mode()).Msg("listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the cart file, the NATS connection and the DB pool.
func (s *Server) Close() {
	if s.bolt != nil {
		if err := s.bolt.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close cart store")
		}
	}
	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close nats")
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close database")
		}
	}
}
