package routes

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"bountyvault/core/events"
	"bountyvault/native/escrow"
)

// eventFeedLimit caps how many recent events the feed endpoint returns.
const eventFeedLimit = 100

type escrowRoutes struct {
	engine *escrow.Engine
	feed   *events.Recorder
	log    *slog.Logger
}

type escrowResponse struct {
	BountyID  uint64 `json:"bountyId"`
	Depositor string `json:"depositor"`
	Amount    string `json:"amount"`
	Deadline  int64  `json:"deadline"`
	CreatedAt int64  `json:"createdAt"`
	Status    string `json:"status"`
}

type statsResponse struct {
	TotalLocked   string `json:"totalLocked"`
	TotalReleased string `json:"totalReleased"`
	TotalRefunded string `json:"totalRefunded"`
	CountLocked   uint64 `json:"countLocked"`
	CountReleased uint64 `json:"countReleased"`
	CountRefunded uint64 `json:"countRefunded"`
	EscrowCount   uint64 `json:"escrowCount"`
}

type refundResponse struct {
	BountyID   uint64 `json:"bountyId"`
	Depositor  string `json:"depositor"`
	Amount     string `json:"amount"`
	RefundedAt int64  `json:"refundedAt"`
}

type eligibilityResponse struct {
	BountyID uint64 `json:"bountyId"`
	Eligible bool   `json:"eligible"`
}

type eventResponse struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter exposes the read-only escrow query surface. All write operations
// enter the state machine through its own entry points, never through HTTP.
// The feed recorder is optional; without it the event feed serves an empty
// list.
func NewRouter(engine *escrow.Engine, feed *events.Recorder, log *slog.Logger) chi.Router {
	if log == nil {
		log = slog.Default()
	}
	er := &escrowRoutes{engine: engine, feed: feed, log: log}
	r := chi.NewRouter()
	er.mount(r)
	return r
}

func (er *escrowRoutes) mount(r chi.Router) {
	r.Get("/v1/escrows", er.handleQuery)
	r.Get("/v1/escrows/{bountyID}", er.handleInfo)
	r.Get("/v1/escrows/{bountyID}/refundable", er.handleEligibility)
	r.Get("/v1/stats", er.handleStats)
	r.Get("/v1/refunds", er.handleRefunds)
	r.Get("/v1/events", er.handleEvents)
}

func (er *escrowRoutes) handleInfo(w http.ResponseWriter, r *http.Request) {
	id, err := parseBountyID(chi.URLParam(r, "bountyID"))
	if err != nil {
		er.writeError(w, http.StatusBadRequest, err)
		return
	}
	info, err := er.engine.EscrowInfo(id)
	if err != nil {
		if errors.Is(err, escrow.ErrNotFound) {
			er.writeError(w, http.StatusNotFound, err)
			return
		}
		er.writeError(w, http.StatusInternalServerError, err)
		return
	}
	er.writeJSON(w, http.StatusOK, encodeEscrow(info))
}

func (er *escrowRoutes) handleEligibility(w http.ResponseWriter, r *http.Request) {
	id, err := parseBountyID(chi.URLParam(r, "bountyID"))
	if err != nil {
		er.writeError(w, http.StatusBadRequest, err)
		return
	}
	eligible, err := er.engine.RefundEligibility(id)
	if err != nil {
		er.writeError(w, http.StatusInternalServerError, err)
		return
	}
	er.writeJSON(w, http.StatusOK, eligibilityResponse{BountyID: id, Eligible: eligible})
}

func (er *escrowRoutes) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := er.engine.AggregateStats()
	if err != nil {
		er.writeError(w, http.StatusInternalServerError, err)
		return
	}
	count, err := er.engine.EscrowCount()
	if err != nil {
		er.writeError(w, http.StatusInternalServerError, err)
		return
	}
	er.writeJSON(w, http.StatusOK, statsResponse{
		TotalLocked:   stats.TotalLocked.String(),
		TotalReleased: stats.TotalReleased.String(),
		TotalRefunded: stats.TotalRefunded.String(),
		CountLocked:   stats.CountLocked,
		CountReleased: stats.CountReleased,
		CountRefunded: stats.CountRefunded,
		EscrowCount:   count,
	})
}

func (er *escrowRoutes) handleRefunds(w http.ResponseWriter, r *http.Request) {
	history, err := er.engine.RefundHistory()
	if err != nil {
		er.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]refundResponse, 0, len(history))
	for _, entry := range history {
		out = append(out, refundResponse{
			BountyID:   entry.BountyID,
			Depositor:  hex.EncodeToString(entry.Depositor[:]),
			Amount:     entry.Amount.String(),
			RefundedAt: entry.RefundedAt,
		})
	}
	er.writeJSON(w, http.StatusOK, out)
}

// handleEvents serves the most recent committed transition events, oldest
// first.
func (er *escrowRoutes) handleEvents(w http.ResponseWriter, r *http.Request) {
	recorded := er.feed.Events()
	if len(recorded) > eventFeedLimit {
		recorded = recorded[len(recorded)-eventFeedLimit:]
	}
	out := make([]eventResponse, 0, len(recorded))
	for _, evt := range recorded {
		out = append(out, eventResponse{Type: evt.Type, Attributes: evt.Attributes})
	}
	er.writeJSON(w, http.StatusOK, out)
}

// handleQuery dispatches on the filter parameters: status, depositor, amount
// range or deadline range. Exactly one filter family may be supplied.
func (er *escrowRoutes) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		records []*escrow.Escrow
		err     error
	)
	switch {
	case q.Get("status") != "":
		var status escrow.Status
		status, err = escrow.ParseStatus(q.Get("status"))
		if err != nil {
			er.writeError(w, http.StatusBadRequest, err)
			return
		}
		records, err = er.engine.EscrowsByStatus(status)
	case q.Get("depositor") != "":
		var depositor [20]byte
		depositor, err = parseAddress(q.Get("depositor"))
		if err != nil {
			er.writeError(w, http.StatusBadRequest, err)
			return
		}
		records, err = er.engine.EscrowsByDepositor(depositor)
	case q.Get("minAmount") != "" || q.Get("maxAmount") != "":
		var min, max *big.Int
		if min, max, err = parseAmountRange(q.Get("minAmount"), q.Get("maxAmount")); err != nil {
			er.writeError(w, http.StatusBadRequest, err)
			return
		}
		records, err = er.engine.EscrowsByAmount(min, max)
	case q.Get("minDeadline") != "" || q.Get("maxDeadline") != "":
		var min, max int64
		if min, max, err = parseDeadlineRange(q.Get("minDeadline"), q.Get("maxDeadline")); err != nil {
			er.writeError(w, http.StatusBadRequest, err)
			return
		}
		records, err = er.engine.EscrowsByDeadline(min, max)
	default:
		er.writeError(w, http.StatusBadRequest, fmt.Errorf("missing filter: status, depositor, amount or deadline range"))
		return
	}
	if err != nil {
		er.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]escrowResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, encodeEscrow(rec))
	}
	er.writeJSON(w, http.StatusOK, out)
}

func encodeEscrow(e *escrow.Escrow) escrowResponse {
	return escrowResponse{
		BountyID:  e.BountyID,
		Depositor: hex.EncodeToString(e.Depositor[:]),
		Amount:    e.Amount.String(),
		Deadline:  e.Deadline,
		CreatedAt: e.CreatedAt,
		Status:    e.Status.String(),
	}
}

func parseBountyID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bounty id %q", raw)
	}
	return id, nil
}

func parseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != 20 {
		return addr, fmt.Errorf("invalid address %q", raw)
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseAmountRange(minRaw, maxRaw string) (*big.Int, *big.Int, error) {
	var min, max *big.Int
	if minRaw != "" {
		v, ok := new(big.Int).SetString(minRaw, 10)
		if !ok {
			return nil, nil, fmt.Errorf("invalid minAmount %q", minRaw)
		}
		min = v
	}
	if maxRaw != "" {
		v, ok := new(big.Int).SetString(maxRaw, 10)
		if !ok {
			return nil, nil, fmt.Errorf("invalid maxAmount %q", maxRaw)
		}
		max = v
	}
	return min, max, nil
}

func parseDeadlineRange(minRaw, maxRaw string) (int64, int64, error) {
	var (
		min int64
		max int64 = 1<<63 - 1
		err error
	)
	if minRaw != "" {
		if min, err = strconv.ParseInt(minRaw, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid minDeadline %q", minRaw)
		}
	}
	if maxRaw != "" {
		if max, err = strconv.ParseInt(maxRaw, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid maxDeadline %q", maxRaw)
		}
	}
	return min, max, nil
}

func (er *escrowRoutes) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		er.log.Error("encode response", "err", err)
	}
}

func (er *escrowRoutes) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		er.log.Error("escrow query failed", "status", status, "err", err)
	}
	er.writeJSON(w, status, errorResponse{Error: err.Error()})
}
