package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"payhub/ledger"
	"payhub/native/ident"
	"payhub/native/shop"
)

type shopRegisterParams struct {
	Caller          string   `json:"caller"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	IconBase64      string   `json:"iconBase64,omitempty"`
	Referral        string   `json:"referral,omitempty"`
	InvoiceCreators []string `json:"invoiceCreators,omitempty"`
}

type shopRegisterResult struct {
	ShopID uint64 `json:"shopId"`
}

type shopUpdateParams struct {
	ShopID          uint64    `json:"shopId"`
	Caller          string    `json:"caller"`
	Owner           *string   `json:"owner,omitempty"`
	InvoiceCreators *[]string `json:"invoiceCreators,omitempty"`
	Name            *string   `json:"name,omitempty"`
	Description     *string   `json:"description,omitempty"`
	IconBase64      *string   `json:"iconBase64,omitempty"`
}

type shopView struct {
	ShopID          uint64   `json:"shopId"`
	Owner           string   `json:"owner"`
	InvoiceCreators []string `json:"invoiceCreators,omitempty"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	IconBase64      string   `json:"iconBase64,omitempty"`
	Referral        string   `json:"referral,omitempty"`
	Subaccount      string   `json:"subaccount"`
}

type withdrawProfitParams struct {
	ShopID     uint64 `json:"shopId"`
	Caller     string `json:"caller"`
	AssetID    string `json:"assetId"`
	ToOwner    string `json:"toOwner"`
	Subaccount string `json:"toSubaccount,omitempty"`
	Qty        string `json:"qty"`
	Memo       string `json:"memo,omitempty"`
}

type withdrawProfitResult struct {
	BlockIndex uint64 `json:"blockIndex"`
}

type feeCollectorParams struct {
	Owner      string `json:"owner"`
	Subaccount string `json:"subaccount,omitempty"`
}

func shopToView(s *shop.Shop, subaccount [32]byte) *shopView {
	view := &shopView{
		ShopID:      s.ID,
		Owner:       s.Owner,
		Name:        s.Name,
		Description: s.Description,
		IconBase64:  s.IconBase64,
		Referral:    s.Referral,
		Subaccount:  hex.EncodeToString(subaccount[:]),
	}
	if len(s.InvoiceCreators) > 0 {
		view.InvoiceCreators = append([]string(nil), s.InvoiceCreators...)
	}
	return view
}

func parseSubaccount(value string) ([32]byte, error) {
	var sub [32]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return sub, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(trimmed, "0x"))
	if err != nil {
		return sub, fmt.Errorf("invalid subaccount: %w", err)
	}
	if len(raw) != len(sub) {
		return sub, fmt.Errorf("subaccount must be %d bytes", len(sub))
	}
	copy(sub[:], raw)
	return sub, nil
}

func (s *Server) handleShopRegister(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single parameter object", nil)
		return
	}
	var params shopRegisterParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	id, err := s.hub.RegisterShop(params.Caller, params.Name, params.Description, params.IconBase64, params.Referral, params.InvoiceCreators)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, shopRegisterResult{ShopID: id})
}

func (s *Server) handleShopUpdate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single parameter object", nil)
		return
	}
	var params shopUpdateParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	update := shop.UpdateRequest{
		Owner:           params.Owner,
		InvoiceCreators: params.InvoiceCreators,
		Name:            params.Name,
		Description:     params.Description,
		IconBase64:      params.IconBase64,
	}
	if err := s.hub.UpdateShop(params.ShopID, update, params.Caller); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleShopGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single shop id parameter", nil)
		return
	}
	var id uint64
	if err := json.Unmarshal(req.Params[0], &id); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid shop id", err.Error())
		return
	}
	registered, ok := s.hub.GetShop(id)
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeShopNotFound, "shop not found", nil)
		return
	}
	writeResult(w, req.ID, shopToView(registered, ident.ShopSubaccount(id)))
}

func (s *Server) handleShopListByOwner(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single owner parameter", nil)
		return
	}
	var owner string
	if err := json.Unmarshal(req.Params[0], &owner); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
		return
	}
	shops := s.hub.GetShopsByOwner(owner)
	views := make([]*shopView, 0, len(shops))
	for _, registered := range shops {
		views = append(views, shopToView(registered, ident.ShopSubaccount(registered.ID)))
	}
	writeResult(w, req.ID, views)
}

func (s *Server) handleShopWithdrawProfit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single parameter object", nil)
		return
	}
	var params withdrawProfitParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	qty, ok := new(big.Int).SetString(strings.TrimSpace(params.Qty), 10)
	if !ok || qty.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "qty must be a positive integer string", nil)
		return
	}
	sub, err := parseSubaccount(params.Subaccount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	dest := ledger.Account{Owner: strings.TrimSpace(params.ToOwner), Subaccount: sub}
	if dest.Owner == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "toOwner required", nil)
		return
	}
	var memo []byte
	if trimmed := strings.TrimSpace(params.Memo); trimmed != "" {
		decoded, err := hex.DecodeString(strings.TrimPrefix(trimmed, "0x"))
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "memo must be hex", err.Error())
			return
		}
		memo = decoded
	}
	block, err := s.hub.WithdrawProfit(r.Context(), params.ShopID, params.AssetID, dest, qty, memo, params.Caller)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, withdrawProfitResult{BlockIndex: block})
}

func (s *Server) handleShopSetFeeCollector(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single parameter object", nil)
		return
	}
	var params feeCollectorParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	owner := strings.TrimSpace(params.Owner)
	if owner == "" {
		s.hub.SetFeeCollector(nil)
		writeResult(w, req.ID, map[string]bool{"ok": true})
		return
	}
	sub, err := parseSubaccount(params.Subaccount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.hub.SetFeeCollector(&ledger.Account{Owner: owner, Subaccount: sub})
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
