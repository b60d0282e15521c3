package battle

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pnlbot/battle-engine/internal/ledger"
	"github.com/pnlbot/battle-engine/internal/metrics"
	"github.com/pnlbot/battle-engine/internal/model"
	"github.com/pnlbot/battle-engine/internal/pnl"
	"github.com/pnlbot/battle-engine/internal/rules"
	"github.com/pnlbot/battle-engine/internal/store"
)

const (
	defaultBoardLimit = 10
	maxBoardLimit     = 100
)

// Service handles the battle and PNL HTTP surface.
type Service struct {
	engine *Engine
	ledger *ledger.Ledger
	trades pnl.Store
}

// NewService creates the HTTP service over the engine, the points ledger,
// and the PNL store.
func NewService(engine *Engine, lg *ledger.Ledger, trades pnl.Store) *Service {
	return &Service{engine: engine, ledger: lg, trades: trades}
}

// --- Request/Response types ---

// CreateBattleRequest is the JSON body for battle creation. The window
// length comes either as plain seconds or as a preset string like "30m",
// "2h", "1d" or "1w".
type CreateBattleRequest struct {
	Type            string   `json:"type"`
	CreatedBy       string   `json:"created_by"`
	Participants    []string `json:"participants"`
	DurationSeconds int64    `json:"duration_seconds,omitempty"`
	Duration        string   `json:"duration,omitempty"`
}

// CancelBattleRequest is the JSON body for POST /battles/{battleID}/cancel.
type CancelBattleRequest struct {
	RequesterID string `json:"requester_id"`
}

// IngestTradeRequest is the JSON body for recording a PNL entry.
type IngestTradeRequest struct {
	UserID            string          `json:"user_id"`
	Ticker            string          `json:"ticker"`
	Profit            decimal.Decimal `json:"profit"`
	Currency          string          `json:"currency"`
	InitialInvestment decimal.Decimal `json:"initial_investment"`
	Timestamp         time.Time       `json:"timestamp"`
}

// StandingsResponse is the live-ranking view of one battle.
type StandingsResponse struct {
	BattleID  string             `json:"battle_id"`
	Type      model.BattleType   `json:"type"`
	Status    model.BattleStatus `json:"status"`
	EndAt     time.Time          `json:"end_at"`
	Standings []model.Standing   `json:"standings"`
}

// --- Battle handlers ---

// CreateBattle handles POST /api/v1/battles
func (s *Service) CreateBattle(w http.ResponseWriter, r *http.Request) {
	var req CreateBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	typ, err := rules.ParseType(req.Type)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var duration time.Duration
	switch {
	case req.Duration != "":
		duration, err = rules.ParseDuration(req.Duration)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	case req.DurationSeconds > 0:
		duration = time.Duration(req.DurationSeconds) * time.Second
	default:
		writeError(w, "duration or duration_seconds is required", http.StatusBadRequest)
		return
	}

	b, err := s.engine.Create(r.Context(), typ, req.CreatedBy, req.Participants, duration)
	if err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "failed to create battle", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(b)
}

// ListBattles handles GET /api/v1/battles
func (s *Service) ListBattles(w http.ResponseWriter, r *http.Request) {
	battles, err := s.engine.ListActive(r.Context())
	if err != nil {
		writeError(w, "failed to list battles", http.StatusInternalServerError)
		return
	}
	if battles == nil {
		battles = []model.Battle{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(battles)
}

// GetBattle handles GET /api/v1/battles/{battleID}
func (s *Service) GetBattle(w http.ResponseWriter, r *http.Request) {
	battleID := chi.URLParam(r, "battleID")

	b, err := s.engine.Get(r.Context(), battleID)
	if err != nil {
		writeError(w, "battle not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(b)
}

// GetStandings handles GET /api/v1/battles/{battleID}/standings
func (s *Service) GetStandings(w http.ResponseWriter, r *http.Request) {
	battleID := chi.URLParam(r, "battleID")
	ctx := r.Context()

	b, err := s.engine.Get(ctx, battleID)
	if err != nil {
		writeError(w, "battle not found", http.StatusNotFound)
		return
	}

	standings, err := s.engine.Standings(ctx, battleID)
	if err != nil {
		writeError(w, "failed to compute standings", http.StatusInternalServerError)
		return
	}

	resp := StandingsResponse{
		BattleID:  b.ID,
		Type:      b.Type,
		Status:    b.Status,
		EndAt:     b.EndAt,
		Standings: standings,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// CancelBattle handles POST /api/v1/battles/{battleID}/cancel
func (s *Service) CancelBattle(w http.ResponseWriter, r *http.Request) {
	battleID := chi.URLParam(r, "battleID")

	var req CancelBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RequesterID == "" {
		writeError(w, "requester_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	err := s.engine.Cancel(ctx, battleID, req.RequesterID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "battle not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrNotAuthorized):
		writeError(w, "requester may not cancel this battle", http.StatusForbidden)
		return
	case errors.Is(err, ErrInvalidTransition):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		writeError(w, "failed to cancel battle", http.StatusInternalServerError)
		return
	}

	b, err := s.engine.Get(ctx, battleID)
	if err != nil {
		writeError(w, "battle not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(b)
}

// --- Points leaderboard and user handlers ---

// GetLeaderboard handles GET /api/v1/leaderboard?type=&limit=
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	var typ *model.BattleType
	if raw := r.URL.Query().Get("type"); raw != "" {
		parsed, err := rules.ParseType(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		typ = &parsed
	}

	stats, err := s.ledger.Leaderboard(r.Context(), typ, boardLimit(r))
	if err != nil {
		writeError(w, "failed to load leaderboard", http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []model.UserBattleStats{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// GetUserStats handles GET /api/v1/users/{userID}/stats
func (s *Service) GetUserStats(w http.ResponseWriter, r *http.Request) {
	userID := pnl.CanonicalUserID(chi.URLParam(r, "userID"))

	stats, err := s.ledger.UserStats(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load user stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// GetUserBattles handles GET /api/v1/users/{userID}/battles?limit=
func (s *Service) GetUserBattles(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	battles, err := s.engine.History(r.Context(), userID, boardLimit(r))
	if err != nil {
		writeError(w, "failed to load battle history", http.StatusInternalServerError)
		return
	}
	if battles == nil {
		battles = []model.Battle{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(battles)
}

// --- PNL handlers ---

// IngestTrade handles POST /api/v1/trades
func (s *Service) IngestTrade(w http.ResponseWriter, r *http.Request) {
	var req IngestTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if pnl.CanonicalUserID(req.UserID) == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	trade := &pnl.Trade{
		UserID:            req.UserID,
		Ticker:            req.Ticker,
		Profit:            req.Profit,
		Currency:          req.Currency,
		InitialInvestment: req.InitialInvestment,
		Timestamp:         req.Timestamp,
	}
	if err := s.trades.Insert(r.Context(), trade); err != nil {
		writeError(w, "failed to record trade", http.StatusInternalServerError)
		return
	}
	metrics.TradesIngested.Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(trade)
}

// GetUserTrades handles GET /api/v1/users/{userID}/trades?from=&to=
// Bounds are RFC 3339; from defaults to the beginning of time and to
// defaults to now.
func (s *Service) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var from, to time.Time
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
		from = t
	}
	to = time.Now().UTC()
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
		to = t
	}

	trades, err := s.trades.TradesInRange(r.Context(), userID, from, to)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []pnl.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetPNLLeaderboard handles GET /api/v1/pnl/leaderboard?window=&limit=
func (s *Service) GetPNLLeaderboard(w http.ResponseWriter, r *http.Request) {
	window := r.URL.Query().Get("window")
	from, to, err := pnl.WindowRange(time.Now().UTC(), window)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	board, err := s.trades.Leaderboard(r.Context(), from, to, boardLimit(r))
	if err != nil {
		writeError(w, "failed to load pnl leaderboard", http.StatusInternalServerError)
		return
	}
	if board == nil {
		board = []pnl.TraderTotals{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(board)
}

// GetUserPNL handles GET /api/v1/users/{userID}/pnl?window=
func (s *Service) GetUserPNL(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	window := r.URL.Query().Get("window")
	from, to, err := pnl.WindowRange(time.Now().UTC(), window)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	totals, err := s.trades.UserTotals(r.Context(), userID, from, to)
	if err != nil {
		writeError(w, "failed to load pnl totals", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(totals)
}

// --- Helpers ---

// boardLimit reads ?limit= with a sane default and cap.
func boardLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultBoardLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultBoardLimit
	}
	if n > maxBoardLimit {
		return maxBoardLimit
	}
	return n
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
