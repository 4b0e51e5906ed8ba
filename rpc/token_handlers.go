package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"payhub/native/token"
)

type tokenParams struct {
	AssetID  string `json:"assetId"`
	Ticker   string `json:"ticker"`
	Decimals uint8  `json:"decimals"`
	Fee      string `json:"fee"`
}

type tokenView struct {
	AssetID  string `json:"assetId"`
	Ticker   string `json:"ticker"`
	Decimals uint8  `json:"decimals"`
	Fee      string `json:"fee"`
}

func (s *Server) handleTokenAdd(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single parameter object", nil)
		return
	}
	var params tokenParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	fee, ok := new(big.Int).SetString(strings.TrimSpace(params.Fee), 10)
	if !ok || fee.Sign() < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "fee must be a non-negative integer string", nil)
		return
	}
	err := s.hub.AddToken(token.Token{
		AssetID:  params.AssetID,
		Ticker:   params.Ticker,
		Decimals: params.Decimals,
		Fee:      fee,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleTokenRemove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected a single ticker parameter", nil)
		return
	}
	var ticker string
	if err := json.Unmarshal(req.Params[0], &ticker); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid ticker", err.Error())
		return
	}
	s.hub.RemoveToken(ticker)
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleTokenList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	tokens := s.hub.ListTokens()
	views := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		view := tokenView{AssetID: t.AssetID, Ticker: t.Ticker, Decimals: t.Decimals}
		if t.Fee != nil {
			view.Fee = t.Fee.String()
		}
		views = append(views, view)
	}
	writeResult(w, req.ID, views)
}
