package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bullieverse/marketd/internal/domain"
	"github.com/bullieverse/marketd/internal/service"
)

// AdminHandler serves the configuration endpoints: fee schedule, approved
// payment tokens, ledger registrants, and archive control. Every mutation
// carries the caller address; the admin service checks it against the
// access policy.
type AdminHandler struct {
	admin  *service.AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin *service.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logger}
}

// GetFees returns the current fee schedule.
// GET /api/fees
func (h *AdminHandler) GetFees(w http.ResponseWriter, r *http.Request) {
	snap, err := h.admin.FeeSchedule(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// UpdateFees applies one or more fee schedule changes.
// PUT /api/admin/fees
func (h *AdminHandler) UpdateFees(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller         string  `json:"caller"`
		PlatformBps    *uint32 `json:"platform_bps,omitempty"`
		MakerBps       *uint32 `json:"maker_bps,omitempty"`
		PlatformWallet string  `json:"platform_wallet,omitempty"`
		MakerWallet    string  `json:"maker_wallet,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if req.PlatformBps != nil {
		if err := h.admin.SetPlatformBps(ctx, caller, *req.PlatformBps); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.MakerBps != nil {
		if err := h.admin.SetMakerBps(ctx, caller, *req.MakerBps); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.PlatformWallet != "" {
		wallet, err := parseAddress("platform_wallet", req.PlatformWallet)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.admin.SetPlatformWallet(ctx, caller, wallet); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if req.MakerWallet != "" {
		wallet, err := parseAddress("maker_wallet", req.MakerWallet)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.admin.SetMakerWallet(ctx, caller, wallet); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	snap, err := h.admin.FeeSchedule(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// tokenRequest is the body of the payment-token endpoints.
type tokenRequest struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
}

// AddPaymentToken admits an ERC20 to the approved payment set.
// POST /api/admin/payment-tokens
func (h *AdminHandler) AddPaymentToken(w http.ResponseWriter, r *http.Request) {
	caller, token, ok := h.decodeTokenRequest(w, r)
	if !ok {
		return
	}
	if err := h.admin.AddPaymentToken(r.Context(), caller, token); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// RemovePaymentToken evicts an ERC20 from the approved payment set.
// DELETE /api/admin/payment-tokens
func (h *AdminHandler) RemovePaymentToken(w http.ResponseWriter, r *http.Request) {
	caller, token, ok := h.decodeTokenRequest(w, r)
	if !ok {
		return
	}
	if err := h.admin.RemovePaymentToken(r.Context(), caller, token); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *AdminHandler) decodeTokenRequest(w http.ResponseWriter, r *http.Request) (caller, token common.Address, ok bool) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return caller, token, false
	}

	var err error
	if caller, err = parseAddress("caller", req.Caller); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return caller, token, false
	}
	if token, err = parseAddress("token", req.Token); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return caller, token, false
	}
	return caller, token, true
}

// registrantRequest is the body of POST /api/admin/registrants.
type registrantRequest struct {
	Caller     string `json:"caller"`
	Registrant string `json:"registrant"`
}

// AddRegistrant allow-lists an address to mutate the cancellation ledger.
// POST /api/admin/registrants
func (h *AdminHandler) AddRegistrant(w http.ResponseWriter, r *http.Request) {
	var req registrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	registrant, err := parseAddress("registrant", req.Registrant)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.admin.AddRegistrant(r.Context(), caller, registrant); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

// TriggerArchive runs one fill archive export.
// POST /api/admin/archive
func (h *AdminHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path, err := h.admin.TriggerArchive(r.Context(), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

// ListArchives enumerates exported fill archives.
// GET /api/admin/archives
func (h *AdminHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	caller, err := parseAddress("caller", r.URL.Query().Get("caller"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	infos, err := h.admin.ListArchives(r.Context(), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archives": infos,
		"count":    len(infos),
	})
}
