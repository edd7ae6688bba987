// Package adminapi serves the operator HTTP API: health, balances,
// transaction history, live sessions and daily results.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v3"
	"github.com/rs/zerolog/log"

	"wagerbot/internal/ledger"
	"wagerbot/internal/logging"
	"wagerbot/internal/model"
	"wagerbot/internal/service"
	"wagerbot/internal/session"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// auditActor is recorded as the admin of balance changes made here.
	auditActor = "http"

	healthTimeout = 2 * time.Second
)

// Accounts is the account service surface the API uses.
type Accounts interface {
	GetBalance(community, player string) int64
	AdminAdd(community, player string, amount int64, admin string) (ledger.Result, error)
	AdminSet(community, player string, amount int64, admin string) (ledger.Result, error)
	History(ctx context.Context, community, player string, limit int) ([]model.Transaction, error)
}

// Rankings serves daily results.
type Rankings interface {
	GetDailyStats(ctx context.Context, community string, date time.Time) ([]model.DailyRank, error)
}

// Sessions lists live sessions.
type Sessions interface {
	List() []session.Session
}

// Pinger checks the database.
type Pinger interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// Options configures the router.
type Options struct {
	AdminKey string
	Accounts Accounts
	Rankings Rankings
	Sessions Sessions
	// DB is nil when the database is disabled.
	DB       Pinger
	Timezone *time.Location
}

type handlers struct {
	opts Options
}

// NewRouter builds the API router. Everything except /healthz requires the
// admin key.
func NewRouter(opts Options) *chi.Mux {
	if opts.Timezone == nil {
		opts.Timezone = time.UTC
	}
	h := &handlers{opts: opts}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(requestLogger())

	r.Get("/healthz", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Use(AdminAuthMiddleware(opts.AdminKey))
		r.Get("/sessions", h.sessions)
		r.Route("/communities/{community}", func(r chi.Router) {
			r.Get("/daily", h.daily)
			r.Route("/players/{player}", func(r chi.Router) {
				r.Get("/balance", h.balance)
				r.Put("/balance", h.setBalance)
				r.Post("/adjust", h.adjust)
				r.Get("/transactions", h.transactions)
			})
		})
	})
	return r
}

// NewServer wraps handler in an http.Server with conservative timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func requestLogger() func(http.Handler) http.Handler {
	return httplog.RequestLogger(
		slog.New(slog.NewJSONHandler(logging.Writer(), &slog.HandlerOptions{})),
		&httplog.Options{
			Level:              slog.LevelInfo,
			Schema:             httplog.Schema{ResponseStatus: "status", ResponseDuration: "duration_ms"},
			LogRequestBody:     func(*http.Request) bool { return false },
			LogResponseBody:    func(*http.Request) bool { return false },
			LogRequestHeaders:  []string{},
			LogResponseHeaders: []string{},
			LogExtraAttrs: func(req *http.Request, _ string, _ int) []slog.Attr {
				route := req.URL.Path
				if rc := chi.RouteContext(req.Context()); rc != nil && rc.RoutePattern() != "" {
					route = rc.RoutePattern()
				}
				return []slog.Attr{
					slog.String("request_id", chimw.GetReqID(req.Context())),
					slog.String("method", req.Method),
					slog.String("route", route),
				}
			},
		},
	)
}

// AdminAuthMiddleware accepts the key in X-Admin-Key or as a bearer token.
// An empty key rejects every request.
func AdminAuthMiddleware(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKey == "" || !CheckAdminAuth(r, adminKey) {
				WriteHTTPError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CheckAdminAuth reports whether r carries adminKey.
func CheckAdminAuth(r *http.Request, adminKey string) bool {
	if v := r.Header.Get("X-Admin-Key"); v == adminKey {
		return true
	}
	auth := r.Header.Get("Authorization")
	prefix := "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):] == adminKey
	}
	return false
}

// WriteHTTPError writes a JSON error body.
func WriteHTTPError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"ok": true, "db": "disabled"}
	if h.opts.Sessions != nil {
		body["sessions"] = len(h.opts.Sessions.List())
	}
	if h.opts.DB == nil {
		writeJSON(w, http.StatusOK, body)
		return
	}
	if err := h.opts.DB.HealthCheck(r.Context(), healthTimeout); err != nil {
		log.Warn().Err(err).Msg("Database health check failed")
		body["ok"] = false
		body["db"] = "down"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body["db"] = "up"
	writeJSON(w, http.StatusOK, body)
}

type balanceResponse struct {
	CommunityID   string `json:"community_id"`
	PlayerID      string `json:"player_id"`
	Balance       int64  `json:"balance"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func (h *handlers) balance(w http.ResponseWriter, r *http.Request) {
	community, player := chi.URLParam(r, "community"), chi.URLParam(r, "player")
	writeJSON(w, http.StatusOK, balanceResponse{
		CommunityID: community,
		PlayerID:    player,
		Balance:     h.opts.Accounts.GetBalance(community, player),
	})
}

func (h *handlers) setBalance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Balance *int64 `json:"balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if body.Balance == nil {
		WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	community, player := chi.URLParam(r, "community"), chi.URLParam(r, "player")
	res, err := h.opts.Accounts.AdminSet(community, player, *body.Balance, auditActor)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		CommunityID:   community,
		PlayerID:      player,
		Balance:       res.Balance,
		TransactionID: res.Transaction.ID,
	})
}

func (h *handlers) adjust(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	community, player := chi.URLParam(r, "community"), chi.URLParam(r, "player")
	res, err := h.opts.Accounts.AdminAdd(community, player, body.Amount, auditActor)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		CommunityID:   community,
		PlayerID:      player,
		Balance:       res.Balance,
		TransactionID: res.Transaction.ID,
	})
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount):
		WriteHTTPError(w, http.StatusBadRequest, "invalid_amount")
	case errors.Is(err, ledger.ErrNegativeBalance):
		WriteHTTPError(w, http.StatusBadRequest, "negative_balance")
	case errors.Is(err, ledger.ErrInvalidAccount):
		WriteHTTPError(w, http.StatusBadRequest, "invalid_account")
	default:
		log.Error().Err(err).Msg("Admin balance change failed")
		WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
	}
}

func (h *handlers) transactions(w http.ResponseWriter, r *http.Request) {
	community, player := chi.URLParam(r, "community"), chi.URLParam(r, "player")
	items, err := h.opts.Accounts.History(r.Context(), community, player, parseLimit(r))
	if err != nil {
		log.Error().Err(err).Str("community", community).Msg("Failed to list transactions")
		WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if items == nil {
		items = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type sessionView struct {
	ID         string     `json:"id"`
	GameType   string     `json:"game_type"`
	Community  string     `json:"community_id"`
	Player     string     `json:"player_id,omitempty"`
	Owner      string     `json:"owner,omitempty"`
	Phase      string     `json:"phase"`
	Stake      int64      `json:"stake"`
	Players    int        `json:"players"`
	Persistent bool       `json:"persistent"`
	CreatedAt  time.Time  `json:"created_at"`
	DeadlineAt *time.Time `json:"deadline_at,omitempty"`
}

func (h *handlers) sessions(w http.ResponseWriter, r *http.Request) {
	community := r.URL.Query().Get("community")
	items := []sessionView{}
	for _, s := range h.opts.Sessions.List() {
		if community != "" && s.Key.Community != community {
			continue
		}
		items = append(items, sessionView{
			ID:         s.ID,
			GameType:   s.GameType,
			Community:  s.Key.Community,
			Player:     s.Key.Player,
			Owner:      s.Owner,
			Phase:      s.Phase(),
			Stake:      s.Stake,
			Players:    len(s.Stakes()),
			Persistent: s.Persist,
			CreatedAt:  s.CreatedAt,
			DeadlineAt: s.DeadlineAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *handlers) daily(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")
	date := time.Now().In(h.opts.Timezone)
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.ParseInLocation(time.DateOnly, v, h.opts.Timezone)
		if err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_date")
			return
		}
		date = d
	}
	items, err := h.opts.Rankings.GetDailyStats(r.Context(), community, date)
	if err != nil {
		log.Error().Err(err).Str("community", community).Msg("Failed to load daily stats")
		WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if items == nil {
		items = []model.DailyRank{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":  date.Format(time.DateOnly),
		"items": items,
	})
}

func parseLimit(r *http.Request) int {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}
