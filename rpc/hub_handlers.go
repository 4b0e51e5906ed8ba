package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"payhub/hub"
	"payhub/native/ident"
	"payhub/native/invoice"
	"payhub/native/rates"
	"payhub/native/shop"
)

type createInvoiceParams struct {
	AmountUSD        string `json:"amountUsd"`
	ShopID           uint64 `json:"shopId"`
	CorrelationToken string `json:"correlationToken,omitempty"`
	Creator          string `json:"creator"`
}

type createInvoiceResult struct {
	InvoiceID string `json:"invoiceId"`
	Memo      string `json:"memo"`
}

type invoiceView struct {
	InvoiceID        string `json:"invoiceId"`
	Status           string `json:"status"`
	TTL              uint8  `json:"ttl"`
	AmountUSD        string `json:"amountUsd"`
	CreatedAt        int64  `json:"createdAt"`
	RateTimestamp    int64  `json:"rateTimestamp"`
	ShopID           uint64 `json:"shopId"`
	CorrelationToken string `json:"correlationToken,omitempty"`
	Creator          string `json:"creator"`
	SettledAt        int64  `json:"settledAt,omitempty"`
	PaidAssetID      string `json:"paidAssetId,omitempty"`
	PaidQty          string `json:"paidQty,omitempty"`
	EffectiveRate    string `json:"effectiveRate,omitempty"`
}

type settleInvoiceParams struct {
	InvoiceID  string `json:"invoiceId"`
	AssetID    string `json:"assetId"`
	BlockIndex uint64 `json:"blockIndex"`
}

type settleInvoiceResult struct {
	Outcome      string       `json:"outcome"`
	Invoice      *invoiceView `json:"invoice,omitempty"`
	RefundReason string       `json:"refundReason,omitempty"`
	RefundQty    string       `json:"refundQty,omitempty"`
}

type exchangeRatesParams struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

type exchangeRatesResult struct {
	Timestamp int64             `json:"timestamp"`
	Rates     map[string]string `json:"rates"`
}

func invoiceToView(inv *invoice.Invoice) *invoiceView {
	view := &invoiceView{
		InvoiceID:     hex.EncodeToString(inv.ID[:]),
		Status:        inv.Status.String(),
		TTL:           inv.TTL,
		AmountUSD:     inv.AmountUSD.String(),
		CreatedAt:     inv.CreatedAt,
		RateTimestamp: inv.RateTimestamp,
		ShopID:        inv.ShopID,
		Creator:       inv.Creator,
		SettledAt:     inv.SettledAt,
		PaidAssetID:   inv.PaidAssetID,
	}
	if len(inv.CorrelationToken) > 0 {
		view.CorrelationToken = hex.EncodeToString(inv.CorrelationToken)
	}
	if inv.PaidQty != nil {
		view.PaidQty = inv.PaidQty.String()
	}
	if inv.EffectiveRate != nil {
		view.EffectiveRate = inv.EffectiveRate.String()
	}
	return view
}

func parseInvoiceID(value string) (invoice.InvoiceID, error) {
	var id invoice.InvoiceID
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return id, fmt.Errorf("invalid invoice id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("invoice id must be %d bytes", len(id))
	}
	copy(id[:], raw)
	return id, nil
}

// writeDomainError maps hub and engine errors onto the service's JSON-RPC
// error codes.
func writeDomainError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, invoice.ErrInvoiceNotFound):
		writeError(w, http.StatusNotFound, id, codeInvoiceNotFound, err.Error(), nil)
	case errors.Is(err, invoice.ErrAlreadySettled):
		writeError(w, http.StatusConflict, id, codeAlreadySettled, err.Error(), nil)
	case errors.Is(err, invoice.ErrMemoMismatch),
		errors.Is(err, invoice.ErrUnsupportedAsset),
		errors.Is(err, invoice.ErrFundsMisrouted):
		writeError(w, http.StatusUnprocessableEntity, id, codeVerificationFailed, err.Error(), nil)
	case errors.Is(err, rates.ErrNoRatesYet), errors.Is(err, rates.ErrRateNotFound):
		writeError(w, http.StatusServiceUnavailable, id, codeNoRates, err.Error(), nil)
	case errors.Is(err, hub.ErrShopNotFound), errors.Is(err, shop.ErrShopNotFound):
		writeError(w, http.StatusNotFound, id, codeShopNotFound, err.Error(), nil)
	case errors.Is(err, hub.ErrNotAuthorized), errors.Is(err, shop.ErrNotOwner):
		writeError(w, http.StatusForbidden, id, codeNotAuthorized, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single parameter object", nil)
		return
	}
	var params createInvoiceParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(params.AmountUSD), 10)
	if !ok || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "amountUsd must be a positive integer string", nil)
		return
	}
	var correlation []byte
	if trimmed := strings.TrimSpace(params.CorrelationToken); trimmed != "" {
		decoded, err := hex.DecodeString(trimmed)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "correlationToken must be hex", err.Error())
			return
		}
		correlation = decoded
	}

	id, err := s.hub.CreateInvoice(amount, params.ShopID, correlation, strings.TrimSpace(params.Creator))
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	memo := ident.InvoiceMemo(id)
	writeResult(w, req.ID, createInvoiceResult{
		InvoiceID: hex.EncodeToString(id[:]),
		Memo:      hex.EncodeToString(memo[:]),
	})
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single invoice id parameter", nil)
		return
	}
	var encoded string
	if err := json.Unmarshal(req.Params[0], &encoded); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	id, err := parseInvoiceID(encoded)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	inv, ok := s.hub.GetInvoice(id)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeInvoiceNotFound, "invoice not found", nil)
		return
	}
	writeResult(w, req.ID, invoiceToView(inv))
}

func (s *Server) handleSettleInvoice(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single parameter object", nil)
		return
	}
	var params settleInvoiceParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	id, err := parseInvoiceID(params.InvoiceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if strings.TrimSpace(params.AssetID) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "assetId required", nil)
		return
	}

	result, err := s.hub.SettleInvoice(r.Context(), id, params.AssetID, params.BlockIndex)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	if result.Refund != nil {
		writeResult(w, req.ID, settleInvoiceResult{
			Outcome:      "refunded",
			RefundReason: string(result.Refund.Reason),
			RefundQty:    result.Refund.Qty.String(),
		})
		return
	}
	writeResult(w, req.ID, settleInvoiceResult{
		Outcome: "paid",
		Invoice: invoiceToView(result.Invoice),
	})
}

func (s *Server) handleGetExchangeRates(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params exchangeRatesParams
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected at most one parameter object", nil)
		return
	}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
			return
		}
	}
	found, at, err := s.hub.GetExchangeRates(params.Timestamp)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	rendered := make(map[string]string, len(found))
	for ticker, rate := range found {
		rendered[ticker] = rate.String()
	}
	writeResult(w, req.ID, exchangeRatesResult{Timestamp: at, Rates: rendered})
}

func (s *Server) handleRefreshRates(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if err := s.hub.RefreshRates(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, req.ID, codeServerError, "rate refresh failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
