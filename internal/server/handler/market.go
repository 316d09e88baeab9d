package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/fairness"
)

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets domain.MarketStore
	payouts domain.PayoutStore
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given stores and logger.
func NewMarketHandler(markets domain.MarketStore, payouts domain.PayoutStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		payouts: payouts,
		logger:  logger,
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []marketResponse `json:"markets"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// ListMarkets returns active markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListActive(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	out := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		out = append(out, newMarketResponse(m))
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: out,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newMarketResponse(market))
}

type verifyResponse struct {
	MarketID       string `json:"market_id"`
	Outcome        string `json:"outcome"`
	CommitmentHash string `json:"commitment_hash"`
	Secret         string `json:"secret"`
	Valid          bool   `json:"valid"`
}

// VerifyCommitment reveals the commitment secret of a settled market and
// recomputes its hash. Active markets have no commitment yet.
// GET /api/markets/{id}/verify
func (h *MarketHandler) VerifyCommitment(w http.ResponseWriter, r *http.Request) {
	market, ok := h.load(w, r)
	if !ok {
		return
	}
	if market.IsActive() || market.CommitmentHash == "" {
		writeError(w, http.StatusConflict, "market is not settled")
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		MarketID:       market.ID,
		Outcome:        string(market.ResolvedOutcome),
		CommitmentHash: market.CommitmentHash,
		Secret:         market.CommitmentSecret,
		Valid:          fairness.Verify(market.CommitmentHash, market.ResolvedOutcome, market.CommitmentSecret, market.ID),
	})
}

// ListPayouts returns every payout result recorded for a market.
// GET /api/markets/{id}/payouts
func (h *MarketHandler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	results, err := h.payouts.ListByMarket(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list payouts failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list payouts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"payouts":   newPayoutResponses(results),
	})
}

// ListFailedPayouts returns payouts that need manual reconciliation.
// GET /api/payouts/failed
func (h *MarketHandler) ListFailedPayouts(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	results, err := h.payouts.ListFailed(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list failed payouts failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list payouts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payouts": newPayoutResponses(results),
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

func (h *MarketHandler) load(w http.ResponseWriter, r *http.Request) (domain.Market, bool) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return domain.Market{}, false
	}

	market, err := h.markets.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return domain.Market{}, false
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return domain.Market{}, false
	}
	return market, true
}
