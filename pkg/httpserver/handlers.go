package httpserver

import (
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/prediction-arb/internal/arbitrage"
	"github.com/mselser95/prediction-arb/internal/book"
	"github.com/mselser95/prediction-arb/internal/position"
	"github.com/mselser95/prediction-arb/pkg/types"
)

// defaultOpportunityLimit caps /api/opportunities when no limit is given.
const defaultOpportunityLimit = 10

type apiHandler struct {
	opportunities *arbitrage.Cache
	positions     *position.Monitor
	books         *book.Manager
	logger        *zap.Logger
}

func newAPIHandler(opps *arbitrage.Cache, positions *position.Monitor, books *book.Manager, logger *zap.Logger) *apiHandler {
	return &apiHandler{
		opportunities: opps,
		positions:     positions,
		books:         books,
		logger:        logger,
	}
}

// errorResponse is the body of every non-200 API answer.
type errorResponse struct {
	Error string `json:"error"`
}

// legView is one opportunity leg.
type legView struct {
	Venue    string `json:"venue"`
	MarketID string `json:"market_id"`
	TokenID  string `json:"token_id"`
	Outcome  string `json:"outcome"`
}

// opportunityView is the wire shape of one cached opportunity. Decimals are
// rendered as strings to keep exact precision.
type opportunityView struct {
	ID         string  `json:"id"`
	PairKey    string  `json:"pair_key"`
	Question   string  `json:"question"`
	Yes        legView `json:"yes"`
	No         legView `json:"no"`
	Shares     string  `json:"shares"`
	YesPrice   string  `json:"yes_price"`
	NoPrice    string  `json:"no_price"`
	GrossCost  string  `json:"gross_cost"`
	Fees       string  `json:"fees"`
	NetProfit  string  `json:"net_profit"`
	ROI        float64 `json:"roi"`
	Score      float64 `json:"score"`
	DetectedAt string  `json:"detected_at"`
}

func (h *apiHandler) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	limit := defaultOpportunityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	views := make([]opportunityView, 0, limit)
	for _, opp := range h.opportunities.TopK(limit) {
		views = append(views, opportunityView{
			ID:         opp.ID,
			PairKey:    opp.PairKey,
			Question:   opp.Question,
			Yes:        legViewOf(opp.Yes),
			No:         legViewOf(opp.No),
			Shares:     opp.Shares.String(),
			YesPrice:   opp.YesPrice.String(),
			NoPrice:    opp.NoPrice.String(),
			GrossCost:  opp.GrossCost.String(),
			Fees:       opp.Fees.String(),
			NetProfit:  opp.NetProfit.String(),
			ROI:        opp.ROI,
			Score:      opp.Score,
			DetectedAt: opp.DetectedAt.UTC().Format(timeLayout),
		})
	}

	h.writeJSON(w, views)
}

func legViewOf(leg arbitrage.Leg) legView {
	return legView{
		Venue:    string(leg.Venue),
		MarketID: leg.MarketID,
		TokenID:  leg.TokenID,
		Outcome:  string(leg.Outcome),
	}
}

// positionView is the wire shape of one open position.
type positionView struct {
	ID          string `json:"id"`
	MarketKey   string `json:"market_key"`
	Question    string `json:"question"`
	YesVenue    string `json:"yes_venue"`
	NoVenue     string `json:"no_venue"`
	YesShares   string `json:"yes_shares"`
	NoShares    string `json:"no_shares"`
	YesAvgPrice string `json:"yes_avg_price"`
	NoAvgPrice  string `json:"no_avg_price"`
	CostBasis   string `json:"cost_basis"`
	EntryFees   string `json:"entry_fees"`
	RealizedPnL string `json:"realized_pnl"`
	OpenedAt    string `json:"opened_at"`
}

func (h *apiHandler) handlePositions(w http.ResponseWriter, _ *http.Request) {
	open := h.positions.List()

	views := make([]positionView, 0, len(open))
	for i := range open {
		pos := &open[i]
		views = append(views, positionView{
			ID:          pos.ID,
			MarketKey:   pos.MarketKey,
			Question:    pos.Question,
			YesVenue:    string(pos.YesVenue),
			NoVenue:     string(pos.NoVenue),
			YesShares:   pos.YesShares.String(),
			NoShares:    pos.NoShares.String(),
			YesAvgPrice: pos.YesAvgPrice.String(),
			NoAvgPrice:  pos.NoAvgPrice.String(),
			CostBasis:   pos.CostBasis().String(),
			EntryFees:   pos.EntryFees.String(),
			RealizedPnL: pos.RealizedPnL.String(),
			OpenedAt:    pos.OpenedAt.UTC().Format(timeLayout),
		})
	}

	h.writeJSON(w, views)
}

// closeRequest asks for a manual exit of the position open on a market key.
type closeRequest struct {
	MarketKey string `json:"market_key"`
}

// closeResponse acknowledges an accepted exit request.
type closeResponse struct {
	Status    string `json:"status"`
	MarketKey string `json:"market_key"`
}

func (h *apiHandler) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "body must be JSON with market_key")
		return
	}
	if req.MarketKey == "" {
		h.writeError(w, http.StatusBadRequest, "market_key is required")
		return
	}

	if err := h.positions.RequestExit(req.MarketKey); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	h.logger.Info("manual-exit-requested", zap.String("market-key", req.MarketKey))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(closeResponse{Status: "exit-requested", MarketKey: req.MarketKey}); err != nil {
		h.logger.Error("api-response-encode-failed", zap.Error(err))
	}
}

// levelView is one (price, size) book entry.
type levelView struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// bookView is the wire shape of one token's book.
type bookView struct {
	Venue     string      `json:"venue"`
	TokenID   string      `json:"token_id"`
	Bids      []levelView `json:"bids"`
	Asks      []levelView `json:"asks"`
	UpdatedAt string      `json:"updated_at"`
}

const timeLayout = "2006-01-02T15:04:05.000Z"

// maxBookLevels bounds how much depth one request can pull.
const maxBookLevels = 50

func (h *apiHandler) handleBook(w http.ResponseWriter, r *http.Request) {
	venue := r.URL.Query().Get("venue")
	tokenID := r.URL.Query().Get("token_id")
	if venue == "" || tokenID == "" {
		h.writeError(w, http.StatusBadRequest, "venue and token_id are required")
		return
	}

	bk, ok := h.books.Book(types.Venue(venue), tokenID)
	if !ok {
		h.writeError(w, http.StatusNotFound, "no book for "+types.TokenKey(types.Venue(venue), tokenID))
		return
	}

	view := bookView{
		Venue:     venue,
		TokenID:   tokenID,
		Bids:      levelViews(bk.Walk(types.SideBid, maxBookLevels)),
		Asks:      levelViews(bk.Walk(types.SideAsk, maxBookLevels)),
		UpdatedAt: bk.LastUpdate().UTC().Format(timeLayout),
	}

	h.writeJSON(w, view)
}

func levelViews(levels []types.PriceLevel) []levelView {
	out := make([]levelView, 0, len(levels))
	for _, level := range levels {
		out = append(out, levelView{
			Price: level.Price.String(),
			Size:  level.Size.String(),
		})
	}
	return out
}

func (h *apiHandler) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("api-response-encode-failed", zap.Error(err))
	}
}

func (h *apiHandler) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
