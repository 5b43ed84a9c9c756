package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/engine"
	"github.com/alanyoungcy/poolmarket/internal/server/middleware"
)

// SettlementService is the part of the service layer the settlement routes
// call.
type SettlementService interface {
	Initialize(ctx context.Context, signer common.Address, feeBps uint32, feeRecipient common.Address) (domain.Registry, error)
	Deposit(ctx context.Context, signer, owner common.Address, amount uint64) (domain.TokenAccount, error)
	CreateMarket(ctx context.Context, signer common.Address, p engine.CreateMarketParams) (domain.Market, error)
	PlaceBet(ctx context.Context, signer common.Address, id uint64, outcome int, amount uint64) (domain.BetEntry, error)
	ResolveMarket(ctx context.Context, signer common.Address, id uint64, winning int) (domain.Market, error)
	CloseMarket(ctx context.Context, signer common.Address, id uint64) (domain.Market, error)
	ClaimWinnings(ctx context.Context, signer common.Address, id uint64) (engine.Claim, error)
	ClaimRefund(ctx context.Context, signer common.Address, id uint64) (engine.Claim, error)
	CollectFees(ctx context.Context, signer common.Address, id uint64) (uint64, error)

	Registry(ctx context.Context) (domain.Registry, error)
	Market(ctx context.Context, id uint64) (domain.MarketSnapshot, error)
	Markets(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error)
	Bet(ctx context.Context, id uint64, user common.Address) (domain.BetEntry, error)
	Balance(ctx context.Context, owner common.Address) (domain.TokenAccount, error)
	Events(ctx context.Context, after uint64, count int) ([]domain.Event, error)
	MarketEvents(ctx context.Context, id uint64) ([]domain.Event, error)
	StreamEvents(ctx context.Context, from string, count int) ([]domain.StreamEvent, error)
	AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// SettlementHandler serves the registry, market, betting and settlement
// routes.
type SettlementHandler struct {
	svc    SettlementService
	logger *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(svc SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{svc: svc, logger: logger.With(slog.String("handler", "settlement"))}
}

type initializeRequest struct {
	FeeBps       uint32 `json:"fee_bps"`
	FeeRecipient string `json:"fee_recipient" validate:"required,eth_addr"`
}

type depositRequest struct {
	Owner  string `json:"owner" validate:"required,eth_addr"`
	Amount uint64 `json:"amount" validate:"required"`
}

type createMarketRequest struct {
	ID       *uint64  `json:"id" validate:"required"`
	Question string   `json:"question" validate:"required"`
	Outcomes []string `json:"outcomes" validate:"required"`
	EndTime  int64    `json:"end_time" validate:"required"`
	Oracle   string   `json:"oracle" validate:"omitempty,eth_addr"`
	MinBet   uint64   `json:"min_bet"`
}

type betRequest struct {
	Outcome *int   `json:"outcome" validate:"required"`
	Amount  uint64 `json:"amount"`
}

type resolveRequest struct {
	WinningOutcome *int `json:"winning_outcome" validate:"required"`
}

type claimResponse struct {
	MarketID      uint64          `json:"market_id"`
	Fee           uint64          `json:"fee"`
	Distributable uint64          `json:"distributable"`
	Payout        uint64          `json:"payout"`
	Balance       uint64          `json:"balance"`
	Entry         domain.BetEntry `json:"entry"`
}

func toClaimResponse(c engine.Claim) claimResponse {
	return claimResponse{
		MarketID:      c.MarketID,
		Fee:           c.Settlement.Fee,
		Distributable: c.Settlement.Distributable,
		Payout:        c.Settlement.Payout,
		Balance:       c.Balance,
		Entry:         c.Entry,
	}
}

// signer returns the authenticated caller or writes 401.
func (h *SettlementHandler) signer(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	s, ok := middleware.SignerFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated", Class: domain.ClassAuthorization})
	}
	return s, ok
}

// signedMarketCall resolves the caller and {id} for a market operation.
func (h *SettlementHandler) signedMarketCall(w http.ResponseWriter, r *http.Request) (common.Address, uint64, bool) {
	signer, ok := h.signer(w, r)
	if !ok {
		return common.Address{}, 0, false
	}
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, 0, false
	}
	return signer, id, true
}

// Initialize creates the registry with the caller as authority.
// POST /api/registry
func (h *SettlementHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	signer, ok := h.signer(w, r)
	if !ok {
		return
	}
	var req initializeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reg, err := h.svc.Initialize(r.Context(), signer, req.FeeBps, common.HexToAddress(req.FeeRecipient))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// GetRegistry returns the registry.
// GET /api/registry
func (h *SettlementHandler) GetRegistry(w http.ResponseWriter, r *http.Request) {
	reg, err := h.svc.Registry(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// Deposit credits a token account.
// POST /api/deposits
func (h *SettlementHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	signer, ok := h.signer(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	acct, err := h.svc.Deposit(r.Context(), signer, common.HexToAddress(req.Owner), req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// GetAccount returns a token balance.
// GET /api/accounts/{owner}
func (h *SettlementHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	owner, err := addressParam(r, "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := h.svc.Balance(r.Context(), owner)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// CreateMarket opens a market.
// POST /api/markets
func (h *SettlementHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	signer, ok := h.signer(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p := engine.CreateMarketParams{
		ID:       *req.ID,
		Question: req.Question,
		Outcomes: req.Outcomes,
		EndTime:  req.EndTime,
		MinBet:   req.MinBet,
	}
	if req.Oracle != "" {
		p.Oracle = common.HexToAddress(req.Oracle)
	}
	m, err := h.svc.CreateMarket(r.Context(), signer, p)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListMarkets returns a page of markets, newest first.
// GET /api/markets?limit=&offset=
func (h *SettlementHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	markets, err := h.svc.Markets(r.Context(), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": markets,
		"offset":  opts.Offset,
	})
}

// GetMarket returns a market and its vault.
// GET /api/markets/{id}
func (h *SettlementHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.svc.Market(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// PlaceBet stakes on an outcome.
// POST /api/markets/{id}/bets
func (h *SettlementHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	signer, id, ok := h.signedMarketCall(w, r)
	if !ok {
		return
	}
	var req betRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := h.svc.PlaceBet(r.Context(), signer, id, *req.Outcome, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// GetBet returns a user's ledger entry.
// GET /api/markets/{id}/bets/{user}
func (h *SettlementHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := addressParam(r, "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := h.svc.Bet(r.Context(), id, user)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Resolve records the winning outcome.
// POST /api/markets/{id}/resolve
func (h *SettlementHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	signer, id, ok := h.signedMarketCall(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := h.svc.ResolveMarket(r.Context(), signer, id, *req.WinningOutcome)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Close cancels an active market.
// POST /api/markets/{id}/close
func (h *SettlementHandler) Close(w http.ResponseWriter, r *http.Request) {
	signer, id, ok := h.signedMarketCall(w, r)
	if !ok {
		return
	}
	m, err := h.svc.CloseMarket(r.Context(), signer, id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Claim pays out a winning entry.
// POST /api/markets/{id}/claim
func (h *SettlementHandler) Claim(w http.ResponseWriter, r *http.Request) {
	signer, id, ok := h.signedMarketCall(w, r)
	if !ok {
		return
	}
	c, err := h.svc.ClaimWinnings(r.Context(), signer, id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimResponse(c))
}

// Refund returns a stake from a cancelled market.
// POST /api/markets/{id}/refund
func (h *SettlementHandler) Refund(w http.ResponseWriter, r *http.Request) {
	signer, id, ok := h.signedMarketCall(w, r)
	if !ok {
		return
	}
	c, err := h.svc.ClaimRefund(r.Context(), signer, id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimResponse(c))
}

// CollectFees moves the platform fee to the fee recipient.
// POST /api/markets/{id}/fees
func (h *SettlementHandler) CollectFees(w http.ResponseWriter, r *http.Request) {
	signer, id, ok := h.signedMarketCall(w, r)
	if !ok {
		return
	}
	fee, err := h.svc.CollectFees(r.Context(), signer, id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "fee": fee})
}

// MarketEvents returns the committed history of one market.
// GET /api/markets/{id}/events
func (h *SettlementHandler) MarketEvents(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.svc.MarketEvents(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Events replays committed events by sequence number.
// GET /api/events?after=&count=
func (h *SettlementHandler) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after uint64
	if raw := q.Get("after"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after")
			return
		}
		after = n
	}
	count, _ := strconv.Atoi(q.Get("count"))

	events, err := h.svc.Events(r.Context(), after, count)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	next := after
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "next": next})
}

// StreamEvents replays the durable event stream by stream id.
// GET /api/events/stream?from=&count=
func (h *SettlementHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count, _ := strconv.Atoi(q.Get("count"))
	events, err := h.svc.StreamEvents(r.Context(), q.Get("from"), count)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	next := q.Get("from")
	if len(events) > 0 {
		next = events[len(events)-1].StreamID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "next": next})
}

// AuditLog lists audit entries, newest first.
// GET /api/audit?event=&market=&since=&until=&limit=&offset=
func (h *SettlementHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.AuditLog(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
