// Package httpapi expone el motor de predicción como API JSON.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alejandrodnm/polypredict/internal/adapters/storage"
	"github.com/alejandrodnm/polypredict/internal/application/engine"
	"github.com/alejandrodnm/polypredict/internal/domain"
	"github.com/holiman/uint256"
)

// Predictions is the public surface: round queries, bets and claims.
type Predictions interface {
	State() domain.State
	GetRound(epoch uint64) (domain.Round, error)
	RecentRounds(n int) []domain.Round
	UserRounds(user string, cursor, size int) ([]engine.UserRound, int)
	PendingClaims(user string) []uint64
	PlaceBet(ctx context.Context, caller string, epoch uint64, pos domain.Position, amount *uint256.Int) error
	ClaimReward(ctx context.Context, caller string, epochs []uint64) (engine.ClaimResult, error)
	ExecuteRound(ctx context.Context, caller string) error
}

// Admin is the operator and admin surface. The engine checks roles; the API
// key only gates access to the routes.
type Admin interface {
	Params() domain.Params
	GenesisStart(ctx context.Context, caller string) error
	GenesisLock(ctx context.Context, caller string) error
	RecoverStalled(ctx context.Context, caller string) error
	Pause(ctx context.Context, caller string) error
	Unpause(ctx context.Context, caller string) error
	SetParams(ctx context.Context, caller string, p domain.Params) error
	SetOperator(ctx context.Context, caller, operator string) error
	ChangeLockPrice(ctx context.Context, caller string, epoch uint64, price int64) error
	ClaimTreasury(ctx context.Context, caller, to string) (*uint256.Int, error)
}

// Ledger exposes the persisted event log and the payout balances.
type Ledger interface {
	Events(ctx context.Context, after int64, limit int) ([]storage.StoredEvent, error)
	Balance(ctx context.Context, user string) (*uint256.Int, error)
}

// Config holds the HTTP server configuration.
type Config struct {
	Addr   string
	APIKey string // vacío: las rutas admin quedan deshabilitadas
}

// Server is the JSON API server.
type Server struct {
	httpServer *http.Server
	preds      Predictions
	admin      Admin
	ledger     Ledger
	logger     *slog.Logger
}

// NewServer registers every route. ledger may be nil, in which case the
// event log and balance routes are not served.
func NewServer(cfg Config, preds Predictions, admin Admin, ledger Ledger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{preds: preds, admin: admin, ledger: ledger, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)

	mux.HandleFunc("GET /api/state", s.getState)
	mux.HandleFunc("GET /api/rounds", s.listRounds)
	mux.HandleFunc("GET /api/rounds/{epoch}", s.getRound)
	mux.HandleFunc("POST /api/rounds/execute", s.executeRound)
	mux.HandleFunc("POST /api/bets/bull", s.placeBet(domain.PositionBull))
	mux.HandleFunc("POST /api/bets/bear", s.placeBet(domain.PositionBear))
	mux.HandleFunc("POST /api/claims", s.claim)
	mux.HandleFunc("GET /api/users/{user}/rounds", s.userRounds)
	mux.HandleFunc("GET /api/users/{user}/claimable", s.userClaimable)
	if ledger != nil {
		mux.HandleFunc("GET /api/users/{user}/balance", s.userBalance)
		mux.HandleFunc("GET /api/events", s.listEvents)
	}

	if admin != nil && cfg.APIKey != "" {
		auth := requireAPIKey(cfg.APIKey)
		mux.Handle("POST /api/admin/genesis/start", auth(s.adminCommand(admin.GenesisStart)))
		mux.Handle("POST /api/admin/genesis/lock", auth(s.adminCommand(admin.GenesisLock)))
		mux.Handle("POST /api/admin/recover", auth(s.adminCommand(admin.RecoverStalled)))
		mux.Handle("POST /api/admin/pause", auth(s.adminCommand(admin.Pause)))
		mux.Handle("POST /api/admin/unpause", auth(s.adminCommand(admin.Unpause)))
		mux.Handle("GET /api/admin/params", auth(http.HandlerFunc(s.getParams)))
		mux.Handle("PUT /api/admin/params", auth(http.HandlerFunc(s.setParams)))
		mux.Handle("PUT /api/admin/operator", auth(http.HandlerFunc(s.setOperator)))
		mux.Handle("PUT /api/admin/rounds/{epoch}/lock-price", auth(http.HandlerFunc(s.changeLockPrice)))
		mux.Handle("POST /api/admin/treasury/claim", auth(http.HandlerFunc(s.claimTreasury)))
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      logging(logger)(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving requests until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("http api listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("httpapi: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	return nil
}

// requireAPIKey accepts "Authorization: Bearer <key>" or "X-API-Key: <key>".
func requireAPIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing api key", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			logger.DebugContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.status,
				"duration", time.Since(start),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}
