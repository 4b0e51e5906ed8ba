package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func hexSub(b byte) string {
	var sub [32]byte
	sub[0] = b
	return hex.EncodeToString(sub[:])
}

func TestGetTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ledgers/icp-ledger/blocks/7" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(wireBlockResponse{
			Found: true,
			Transaction: &wireTransaction{
				From:   wireAccount{Owner: "payer"},
				To:     wireAccount{Owner: "hub", Subaccount: hexSub(9)},
				Amount: "12345",
				Memo:   hexSub(1),
			},
		})
	}))
	defer server.Close()

	client := NewGatewayClient(server.Client(), server.URL)
	txn, err := client.GetTransaction(context.Background(), "icp-ledger", 7)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if txn.From.Owner != "payer" || txn.To.Owner != "hub" {
		t.Fatalf("unexpected accounts: %+v", txn)
	}
	if txn.To.Subaccount[0] != 9 {
		t.Fatalf("subaccount not decoded")
	}
	if txn.Qty.Cmp(big.NewInt(12345)) != 0 {
		t.Fatalf("unexpected qty %s", txn.Qty)
	}
	if txn.Memo[0] != 1 {
		t.Fatalf("memo not decoded")
	}
}

func TestGetTransactionFollowsArchive(t *testing.T) {
	archive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wireBlockResponse{
			Found: true,
			Transaction: &wireTransaction{
				From:   wireAccount{Owner: "payer"},
				To:     wireAccount{Owner: "hub"},
				Amount: "1",
			},
		})
	}))
	defer archive.Close()

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wireBlockResponse{Found: false, ArchiveURL: archive.URL})
	}))
	defer primary.Close()

	client := NewGatewayClient(primary.Client(), primary.URL)
	txn, err := client.GetTransaction(context.Background(), "icp-ledger", 1)
	if err != nil {
		t.Fatalf("archived transaction: %v", err)
	}
	if txn.From.Owner != "payer" {
		t.Fatalf("unexpected txn %+v", txn)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewGatewayClient(server.Client(), server.URL)
	if _, err := client.GetTransaction(context.Background(), "icp-ledger", 1); !errors.Is(err, ErrTxNotFound) {
		t.Fatalf("expected ErrTxNotFound, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	var got wireTransferRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/transfers") {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(wireTransferResponse{BlockIndex: 42})
	}))
	defer server.Close()

	client := NewGatewayClient(server.Client(), server.URL)
	var sub [32]byte
	sub[0] = 3
	block, err := client.Transfer(context.Background(), "icp-ledger", sub, Account{Owner: "payer"}, big.NewInt(100), big.NewInt(10), []byte{0xAA})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if block != 42 {
		t.Fatalf("unexpected block %d", block)
	}
	if got.Amount != "100" || got.Fee != "10" || got.FromSubaccount != hexSub(3) {
		t.Fatalf("unexpected request body: %+v", got)
	}
}

func TestTransferRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wireTransferResponse{Error: "insufficient funds"})
	}))
	defer server.Close()

	client := NewGatewayClient(server.Client(), server.URL)
	_, err := client.Transfer(context.Background(), "icp-ledger", [32]byte{}, Account{Owner: "x"}, big.NewInt(1), nil, nil)
	if err == nil || !strings.Contains(err.Error(), "insufficient funds") {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestTransferValidatesAmount(t *testing.T) {
	client := NewGatewayClient(nil, "http://unused")
	if _, err := client.Transfer(context.Background(), "a", [32]byte{}, Account{Owner: "x"}, big.NewInt(0), nil, nil); err == nil {
		t.Fatalf("zero amount accepted")
	}
}
