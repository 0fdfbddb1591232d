package handler

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/bullieverse/marketd/internal/domain"
	"github.com/bullieverse/marketd/internal/service"
)

// FillHandler serves the fill and cancellation endpoints.
type FillHandler struct {
	settlements *service.SettlementService
	logger      *slog.Logger
}

// NewFillHandler creates a FillHandler.
func NewFillHandler(settlements *service.SettlementService, logger *slog.Logger) *FillHandler {
	return &FillHandler{settlements: settlements, logger: logger}
}

// orderPayload is the wire form of an order. Large integers travel as
// decimal strings so precision survives any JSON tooling in between.
type orderPayload struct {
	Seller         string `json:"seller"`
	AssetContract  string `json:"asset_contract"`
	TokenID        string `json:"token_id"`
	StartTime      int64  `json:"start_time"`
	Expiration     int64  `json:"expiration"`
	Price          string `json:"price"`
	Quantity       string `json:"quantity"`
	CreatedAtBlock uint64 `json:"created_at_block"`
	PaymentToken   string `json:"payment_token"`
	Signature      string `json:"signature"`
}

func (p orderPayload) toDomain() (domain.Order, error) {
	var order domain.Order
	var err error

	if order.Seller, err = parseAddress("seller", p.Seller); err != nil {
		return domain.Order{}, err
	}
	if order.AssetContract, err = parseAddress("asset_contract", p.AssetContract); err != nil {
		return domain.Order{}, err
	}
	if order.TokenID, err = parseBigInt("token_id", p.TokenID); err != nil {
		return domain.Order{}, err
	}
	if order.Price, err = parseBigInt("price", p.Price); err != nil {
		return domain.Order{}, err
	}
	if order.Quantity, err = parseBigInt("quantity", p.Quantity); err != nil {
		return domain.Order{}, err
	}
	if order.PaymentToken, err = parseAddress("payment_token", p.PaymentToken); err != nil {
		return domain.Order{}, err
	}
	if order.Signature, err = parseSignature(p.Signature); err != nil {
		return domain.Order{}, err
	}

	order.StartTime = p.StartTime
	order.Expiration = p.Expiration
	order.CreatedAtBlock = p.CreatedAtBlock
	return order, nil
}

// fillRequest is the body of POST /api/fills.
type fillRequest struct {
	Buyer         string       `json:"buyer"`
	SuppliedValue string       `json:"supplied_value"`
	Order         orderPayload `json:"order"`
}

// PlaceFill settles a signed order.
// POST /api/fills
func (h *FillHandler) PlaceFill(w http.ResponseWriter, r *http.Request) {
	var req fillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	buyer, err := parseAddress("buyer", req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	suppliedValue := big.NewInt(0)
	if req.SuppliedValue != "" {
		if suppliedValue, err = parseBigInt("supplied_value", req.SuppliedValue); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	order, err := req.Order.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fill, err := h.settlements.Fill(r.Context(), buyer, order, suppliedValue)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, fill)
}

// ListFills returns recently settled fills, newest first.
// GET /api/fills
func (h *FillHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	fills, err := h.settlements.ListFills(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if fills == nil {
		fills = []domain.FillEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fills": fills,
		"count": len(fills),
	})
}

// cancelRequest is the body of POST /api/listings/cancel.
type cancelRequest struct {
	Caller        string `json:"caller"`
	AssetContract string `json:"asset_contract"`
	TokenID       string `json:"token_id"`
}

// CancelListings invalidates every outstanding listing for an asset.
// POST /api/listings/cancel
func (h *FillHandler) CancelListings(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	assetContract, err := parseAddress("asset_contract", req.AssetContract)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenID, err := parseBigInt("token_id", req.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.settlements.Cancel(r.Context(), caller, assetContract, tokenID); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
