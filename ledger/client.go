package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// GatewayClient speaks to a JSON gateway fronting the ledgers. One gateway
// serves every supported asset; the asset's ledger address selects the chain
// to query.
type GatewayClient struct {
	client  HTTPDoer
	baseURL string
}

// NewGatewayClient constructs a gateway client. When client is nil a default
// http.Client with a 15 second timeout is used.
func NewGatewayClient(client HTTPDoer, baseURL string) *GatewayClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &GatewayClient{client: client, baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

type wireAccount struct {
	Owner      string `json:"owner"`
	Subaccount string `json:"subaccount,omitempty"`
}

type wireTransaction struct {
	From   wireAccount `json:"from"`
	To     wireAccount `json:"to"`
	Amount string      `json:"amount"`
	Memo   string      `json:"memo,omitempty"`
}

type wireBlockResponse struct {
	Found       bool             `json:"found"`
	Transaction *wireTransaction `json:"transaction,omitempty"`
	ArchiveURL  string           `json:"archiveUrl,omitempty"`
}

// GetTransaction fetches the transfer recorded at blockIndex on the asset's
// ledger. When the primary node has pruned the block it responds with an
// archive pointer, which is followed exactly once.
func (c *GatewayClient) GetTransaction(ctx context.Context, assetID string, blockIndex uint64) (*TransferTxn, error) {
	if c == nil {
		return nil, fmt.Errorf("ledger: gateway client not configured")
	}
	endpoint := fmt.Sprintf("%s/v1/ledgers/%s/blocks/%d", c.baseURL, url.PathEscape(strings.TrimSpace(assetID)), blockIndex)

	payload, err := c.fetchBlock(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if !payload.Found && payload.ArchiveURL != "" {
		payload, err = c.fetchBlock(ctx, payload.ArchiveURL)
		if err != nil {
			return nil, fmt.Errorf("ledger: archive fetch: %w", err)
		}
	}
	if !payload.Found || payload.Transaction == nil {
		return nil, fmt.Errorf("%w: %s block %d", ErrTxNotFound, assetID, blockIndex)
	}
	return decodeTransaction(payload.Transaction, assetID)
}

func (c *GatewayClient) fetchBlock(ctx context.Context, endpoint string) (*wireBlockResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return &wireBlockResponse{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ledger: gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload wireBlockResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("ledger: decode block: %w", err)
	}
	return &payload, nil
}

func decodeTransaction(wire *wireTransaction, assetID string) (*TransferTxn, error) {
	qty, ok := new(big.Int).SetString(strings.TrimSpace(wire.Amount), 10)
	if !ok || qty.Sign() < 0 {
		return nil, fmt.Errorf("ledger: invalid amount %q", wire.Amount)
	}
	from, err := decodeAccount(wire.From)
	if err != nil {
		return nil, fmt.Errorf("ledger: from account: %w", err)
	}
	to, err := decodeAccount(wire.To)
	if err != nil {
		return nil, fmt.Errorf("ledger: to account: %w", err)
	}
	txn := &TransferTxn{From: from, To: to, AssetID: strings.TrimSpace(assetID), Qty: qty}
	if memo := strings.TrimSpace(wire.Memo); memo != "" {
		raw, err := hex.DecodeString(memo)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("ledger: invalid memo %q", wire.Memo)
		}
		copy(txn.Memo[:], raw)
	}
	return txn, nil
}

func decodeAccount(wire wireAccount) (Account, error) {
	account := Account{Owner: strings.TrimSpace(wire.Owner)}
	if account.Owner == "" {
		return Account{}, fmt.Errorf("owner required")
	}
	if sub := strings.TrimSpace(wire.Subaccount); sub != "" {
		raw, err := hex.DecodeString(sub)
		if err != nil || len(raw) != 32 {
			return Account{}, fmt.Errorf("invalid subaccount %q", wire.Subaccount)
		}
		copy(account.Subaccount[:], raw)
	}
	return account, nil
}

type wireTransferRequest struct {
	FromSubaccount string      `json:"fromSubaccount,omitempty"`
	To             wireAccount `json:"to"`
	Amount         string      `json:"amount"`
	Fee            string      `json:"fee,omitempty"`
	Memo           string      `json:"memo,omitempty"`
}

type wireTransferResponse struct {
	BlockIndex uint64 `json:"blockIndex"`
	Error      string `json:"error,omitempty"`
}

// Transfer submits an outbound transfer through the gateway and returns the
// index of the block the ledger recorded it in.
func (c *GatewayClient) Transfer(ctx context.Context, assetID string, fromSubaccount [32]byte, to Account, qty, fee *big.Int, memo []byte) (uint64, error) {
	if c == nil {
		return 0, fmt.Errorf("ledger: gateway client not configured")
	}
	if qty == nil || qty.Sign() <= 0 {
		return 0, fmt.Errorf("ledger: transfer amount must be positive")
	}
	body := wireTransferRequest{
		To:     wireAccount{Owner: to.Owner, Subaccount: hex.EncodeToString(to.Subaccount[:])},
		Amount: qty.String(),
	}
	var zero [32]byte
	if fromSubaccount != zero {
		body.FromSubaccount = hex.EncodeToString(fromSubaccount[:])
	}
	if fee != nil {
		body.Fee = fee.String()
	}
	if len(memo) > 0 {
		body.Memo = hex.EncodeToString(memo)
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	endpoint := fmt.Sprintf("%s/v1/ledgers/%s/transfers", c.baseURL, url.PathEscape(strings.TrimSpace(assetID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("ledger: transfer status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var payload wireTransferResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("ledger: decode transfer: %w", err)
	}
	if payload.Error != "" {
		return 0, fmt.Errorf("ledger: transfer rejected: %s", payload.Error)
	}
	return payload.BlockIndex, nil
}
