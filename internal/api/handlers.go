package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"log/slog"

	"github.com/sitcon-tw/camp-exchange/internal/config"
	"github.com/sitcon-tw/camp-exchange/internal/ipopool"
	"github.com/sitcon-tw/camp-exchange/internal/ledger"
	"github.com/sitcon-tw/camp-exchange/internal/matching"
	"github.com/sitcon-tw/camp-exchange/internal/metrics"
	"github.com/sitcon-tw/camp-exchange/internal/priceband"
	"github.com/sitcon-tw/camp-exchange/internal/transfer"
	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

// participantHeader names the actor on every authenticated or admin
// request. Identity issuance and token validation live in front of this
// service — the API layer only resolves the header into a known ledger
// participant and hands it to the injected capability predicate; it never
// authenticates the header itself.
const participantHeader = "X-Participant-Id"

// Handlers holds every collaborator an HTTP handler needs.
type Handlers struct {
	ledger     *ledger.Ledger
	cfg        *config.Store
	ipo        *ipopool.Pool
	engine     *matching.Engine
	transfer   *transfer.Service
	capability xchg.CapabilityFunc
	hub        *Hub
	allowed    []string
	logger     *slog.Logger
}

// NewHandlers wires the handlers. capability gates every admin operation;
// pass xchg.AllowAll for a single-operator deployment with no role system.
func NewHandlers(
	l *ledger.Ledger,
	cfg *config.Store,
	ipo *ipopool.Pool,
	engine *matching.Engine,
	transferSvc *transfer.Service,
	capability xchg.CapabilityFunc,
	hub *Hub,
	allowedOrigins []string,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		ledger:     l,
		cfg:        cfg,
		ipo:        ipo,
		engine:     engine,
		transfer:   transferSvc,
		capability: capability,
		hub:        hub,
		allowed:    allowedOrigins,
		logger:     logger.With("component", "api-handlers"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a stable error kind to an HTTP status and writes it as
// an ErrorResponse. Unrecognized errors are treated as internal and logged
// with full context; nothing is swallowed.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status, kind := classifyError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("internal error", "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: kind, Reason: err.Error()})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, xchg.ErrMarketClosed):
		return http.StatusConflict, "market_closed"
	case errors.Is(err, xchg.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, xchg.ErrInsufficientShares):
		return http.StatusUnprocessableEntity, "insufficient_shares"
	case errors.Is(err, xchg.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, xchg.ErrNotOrderOwner):
		return http.StatusForbidden, "not_order_owner"
	case errors.Is(err, xchg.ErrAlreadyTerminal):
		return http.StatusConflict, "already_terminal"
	case errors.Is(err, xchg.ErrPriceOutOfBand):
		return http.StatusUnprocessableEntity, "price_out_of_band"
	case errors.Is(err, xchg.ErrIPOExhausted):
		return http.StatusUnprocessableEntity, "ipo_exhausted"
	case errors.Is(err, xchg.ErrInvalidConfig):
		return http.StatusBadRequest, "invalid_config"
	case errors.Is(err, xchg.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, xchg.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// resolveParticipant looks up the acting participant named by
// participantHeader. It is the only place the HTTP layer touches identity.
func (h *Handlers) resolveParticipant(r *http.Request) (*xchg.Participant, error) {
	id := r.Header.Get(participantHeader)
	if id == "" {
		return nil, xchg.ErrPermissionDenied
	}
	p, ok := h.ledger.Snapshot(id)
	if !ok {
		return nil, xchg.ErrPermissionDenied
	}
	return &p, nil
}

// requireCapability resolves the actor and checks action against the
// injected capability predicate. The core never enumerates role names; it
// only asks "can this participant perform this action".
func (h *Handlers) requireCapability(r *http.Request, action xchg.Action) (*xchg.Participant, error) {
	p, err := h.resolveParticipant(r)
	if err != nil {
		return nil, err
	}
	if !h.capability(p, action) {
		return nil, xchg.ErrPermissionDenied
	}
	return p, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", xchg.ErrInvalidConfig, err)
	}
	return nil
}

// HandleHealth is a liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Public reads ---

func (h *Handlers) HandlePriceSummary(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.SessionStats()
	writeJSON(w, http.StatusOK, PriceSummary{
		Last: stats.Last, Change: stats.Change, ChangePercent: stats.ChangePercent,
		High: stats.High, Low: stats.Low, Open: stats.Open, Volume: stats.Volume,
	})
}

func (h *Handlers) HandleFiveLevelQuote(w http.ResponseWriter, r *http.Request) {
	bids, asks := h.engine.Depth(5)
	writeJSON(w, http.StatusOK, FiveLevelQuote{Bids: levelsToQuote(bids), Asks: levelsToQuote(asks)})
}

func (h *Handlers) HandleRecentTrades(w http.ResponseWriter, r *http.Request) {
	n := 20
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	trades := h.engine.RecentTrades(n)
	out := make([]TradeView, len(trades))
	for i, t := range trades {
		out[i] = newTradeView(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) HandleIPOStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newIPOStatusResponse(h.ipo.Status()))
}

func (h *Handlers) HandleTradingHours(w http.ResponseWriter, r *http.Request) {
	windows := h.cfg.Snapshot().TradingWindows
	out := make([]TradingWindowView, len(windows))
	for i, w2 := range windows {
		out[i] = TradingWindowView{Start: w2.Start, End: w2.End}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) HandleTransferFeePublic(w http.ResponseWriter, r *http.Request) {
	snap := h.cfg.Snapshot()
	writeJSON(w, http.StatusOK, TransferFeePublicResponse{RateBps: snap.TransferFeeRateBps, MinFee: snap.TransferMinFee})
}

// --- Authenticated writes ---

func (h *Handlers) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := h.resolveParticipant(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req PlaceOrderRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	order, err := h.engine.Place(matching.PlaceRequest{
		Participant: actor.ID,
		Side:        req.Side,
		Type:        req.Type,
		Qty:         req.Qty,
		LimitPrice:  req.Price,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlaceOrderResponse(*order))
}

func (h *Handlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := h.resolveParticipant(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req CancelOrderRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.engine.Cancel(req.OrderID, actor.ID); err != nil {
		h.writeError(w, err)
		return
	}
	order, _ := h.engine.OrderByID(req.OrderID)
	writeJSON(w, http.StatusOK, newPlaceOrderResponse(order))
}

func (h *Handlers) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	actor, err := h.resolveParticipant(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req TransferRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	fee, err := h.transfer.Transfer(actor.ID, req.Dst, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransferResponse{Fee: fee})
}

// --- Admin surface, capability-gated ---

func (h *Handlers) HandleSetTransferFee(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireCapability(r, xchg.ActionSetTransferFee); err != nil {
		h.writeError(w, err)
		return
	}
	var req SetTransferFeeRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.cfg.UpdateTransferFee(req.RateBps, req.MinFee); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) HandleSetTradingLimit(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireCapability(r, xchg.ActionSetTradingLimit); err != nil {
		h.writeError(w, err)
		return
	}
	var req SetTradingLimitRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.cfg.SetTradingLimit(req.Percent); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) HandleSetDynamicTiers(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireCapability(r, xchg.ActionSetTradingLimit); err != nil {
		h.writeError(w, err)
		return
	}
	var req SetDynamicTiersRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	tiers := make([]xchg.PriceTier, len(req.Tiers))
	for i, t := range req.Tiers {
		tiers[i] = xchg.PriceTier{MinPrice: t.MinPrice, MaxPrice: t.MaxPrice, Percent: t.Percent}
	}
	if err := h.cfg.SetDynamicTiers(tiers, req.DefaultPercent); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) HandleUpdateMarketHours(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireCapability(r, xchg.ActionUpdateMarketHours); err != nil {
		h.writeError(w, err)
		return
	}
	var req UpdateMarketHoursRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	windows := make([]xchg.TradingWindow, len(req.Windows))
	for i, w2 := range req.Windows {
		windows[i] = xchg.TradingWindow{Start: w2.Start, End: w2.End}
	}
	if err := h.cfg.UpdateTradingWindows(windows); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) HandleUpdateIPODefaults(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireCapability(r, xchg.ActionUpdateIPODefaults); err != nil {
		h.writeError(w, err)
		return
	}
	var req UpdateIPODefaultsRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.cfg.UpdateIPODefaults(req.Shares, req.UnitPrice); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) HandleUpdateIPO(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireCapability(r, xchg.ActionUpdateIPO); err != nil {
		h.writeError(w, err)
		return
	}
	var req UpdateIPORequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.SharesRemaining != nil {
		if err := h.ipo.SetRemaining(*req.SharesRemaining); err != nil {
			h.writeError(w, err)
			return
		}
	}
	if req.UnitPrice != nil {
		if err := h.ipo.SetUnitPrice(*req.UnitPrice); err != nil {
			h.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, newIPOStatusResponse(h.ipo.Status()))
}

func (h *Handlers) HandleResetIPO(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireCapability(r, xchg.ActionResetIPO); err != nil {
		h.writeError(w, err)
		return
	}
	cfg := h.cfg.Snapshot()
	if err := h.ipo.Reset(cfg.IPODefaultShares, cfg.IPODefaultPrice); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newIPOStatusResponse(h.ipo.Status()))
}

func (h *Handlers) HandleForceSettlement(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireCapability(r, xchg.ActionForceSettlement); err != nil {
		h.writeError(w, err)
		return
	}
	var req ForceSettlementRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	result, err := h.transfer.ForceSettlement(req.Price)
	if err != nil {
		h.writeError(w, err)
		return
	}
	metrics.IncForceSettlement()
	writeJSON(w, http.StatusOK, ForceSettlementResponse(result))
}

func (h *Handlers) HandleGivePoints(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireCapability(r, xchg.ActionGivePoints); err != nil {
		h.writeError(w, err)
		return
	}
	var req GivePointsRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	n, err := h.transfer.GivePoints(req.Target, req.ID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, GivePointsResponse{ParticipantsCredited: n})
}

func (h *Handlers) HandleGetPendingOrders(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireCapability(r, xchg.ActionGetPendingOrders); err != nil {
		h.writeError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	pending := h.engine.PendingOrders()
	if limit > 0 && limit < len(pending) {
		pending = pending[:limit]
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *Handlers) HandleTriggerManualMatch(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireCapability(r, xchg.ActionTriggerMatch); err != nil {
		h.writeError(w, err)
		return
	}
	h.engine.TriggerManualMatch()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) HandleGetPriceLimitInfo(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireCapability(r, xchg.ActionPriceLimitInfo); err != nil {
		h.writeError(w, err)
		return
	}
	var req PriceLimitInfoRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	ref := h.engine.LastTradePrice()
	if ref == 0 {
		ref = h.ipo.Status().UnitPrice
	}
	band := priceband.Compute(h.cfg.Snapshot().PriceLimitPolicy, ref)
	writeJSON(w, http.StatusOK, PriceLimitInfoResponse{
		ReferencePrice: ref,
		Low:            band.Low,
		High:           band.High,
		InBand:         band.InBand(req.TestPrice),
	})
}

// --- WebSocket upgrade ---

func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.allowed, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn)

	data, err := json.Marshal(newEvent("snapshot", h.buildSnapshot()))
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("failed to send initial snapshot to client")
	}
}

// isOriginAllowed implements the same-origin-or-allowlist CORS check for
// the websocket upgrade. Pure plumbing with no domain coupling, kept in the
// spirit of the upstream implementation this was adapted from.
func isOriginAllowed(origin string, allowedOrigins []string, reqHost string) bool {
	if origin == "" {
		// Non-browser clients often omit Origin; keep this path functional.
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
