package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"

	"github.com/dashbot/godash/internal/domain"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_ListBalances(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wallets/balances" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("userId") != "7" {
			t.Fatalf("missing userId query: %s", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, []domain.WalletBalance{
			{WalletID: 7, Currency: "USDT", Balance: "1000.50"},
		})
	})

	balances, err := client.ListBalances(context.Background(), "7")
	if err != nil {
		t.Fatalf("ListBalances: %v", err)
	}
	if len(balances) != 1 || balances[0].Balance != "1000.50" {
		t.Fatalf("unexpected balances: %+v", balances)
	}
}

func TestClient_SymbolSlashEncodedInPath(t *testing.T) {
	var gotPath atomic.Value
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		writeJSON(w, http.StatusOK, domain.OrderBook{Symbol: "BTC/USDT"})
	})

	if _, err := client.GetOrderBook(context.Background(), "BTC/USDT"); err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	// 交易对里的斜杠不能当路径分隔符
	if p := gotPath.Load(); p != "/market/orderbook/BTC-USDT" {
		t.Fatalf("unexpected path: %v", p)
	}
}

func TestClient_NotFoundMapping(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	})

	_, err := client.GetOrder(context.Background(), "7", 99)
	if domain.KindOf(err) != domain.ErrKindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestClient_TerminalCancelMapsToConflict(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order already in terminal state"})
	})

	_, err := client.CancelOrder(context.Background(), "7", 42)
	if domain.KindOf(err) != domain.ErrKindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !errors.Is(err, domain.ErrOrderTerminal) {
		t.Fatalf("expected ErrOrderTerminal sentinel, got %v", err)
	}
}

func TestClient_InsufficientBalanceMapsToConflict(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "insufficient balance"})
	})

	price := "50000"
	_, err := client.PlaceOrder(context.Background(), "7", &domain.PlaceOrderPayload{
		Type: domain.OrderTypeLimit, Side: domain.OrderSideBuy,
		BaseCurrency: "BTC", QuoteCurrency: "USDT",
		Price: &price, Quantity: "100",
	}, "key-1")
	if domain.KindOf(err) != domain.ErrKindConflict {
		t.Fatalf("expected conflict for insufficient balance, got %v", err)
	}
}

func TestClient_BadRequestMapsToValidation(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantity must be a positive decimal"})
	})

	_, err := client.Deposit(context.Background(), "7", "USDT", "abc", "key-1")
	if domain.KindOf(err) != domain.ErrKindValidation {
		t.Fatalf("expected validation, got %v", err)
	}
}

func TestClient_MutationNotRetriedOn5xx(t *testing.T) {
	var hits int32
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
	})

	_, err := client.Deposit(context.Background(), "7", "USDT", "10", "key-1")
	if domain.KindOf(err) != domain.ErrKindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
	// 变更请求绝不自动重试：重试语义归调用方的幂等键
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("mutation retried %d times", n)
	}
}

func TestClient_ReadRetriedOn5xx(t *testing.T) {
	var hits int32
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "transient"})
			return
		}
		writeJSON(w, http.StatusOK, []domain.Trade{})
	})

	if _, err := client.GetTrades(context.Background(), "BTC/USDT", 10); err != nil {
		t.Fatalf("expected read retry to recover: %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestFetcher_DispatchByKind(t *testing.T) {
	var lastPath atomic.Value
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		lastPath.Store(r.URL.Path)
		switch r.URL.Path {
		case "/wallets/balances":
			writeJSON(w, http.StatusOK, []domain.WalletBalance{})
		case "/orders":
			writeJSON(w, http.StatusOK, []domain.Order{})
		case "/market/orderbook/BTC-USDT":
			writeJSON(w, http.StatusOK, domain.OrderBook{})
		case "/market/trades/BTC-USDT":
			if r.URL.Query().Get("limit") != "25" {
				t.Errorf("expected limit=25, got %s", r.URL.RawQuery)
			}
			writeJSON(w, http.StatusOK, []domain.Trade{})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no route"})
		}
	})

	fetcher := NewFetcher(client, 25)
	cases := []struct {
		kind domain.ResourceKind
		key  string
		path string
	}{
		{domain.ResourceBalances, "7", "/wallets/balances"},
		{domain.ResourceOrders, "7", "/orders"},
		{domain.ResourceOrderBook, "BTC/USDT", "/market/orderbook/BTC-USDT"},
		{domain.ResourceTrades, "BTC/USDT", "/market/trades/BTC-USDT"},
	}
	for _, tc := range cases {
		_, err := fetcher.Fetch(context.Background(), domain.ResourceDescriptor{Kind: tc.kind, Key: tc.key, Interval: 1})
		if err != nil {
			t.Fatalf("%s: %v", tc.kind, err)
		}
		if p := lastPath.Load(); p != tc.path {
			t.Fatalf("%s: expected path %s, got %v", tc.kind, tc.path, p)
		}
	}

	if _, err := fetcher.Fetch(context.Background(), domain.ResourceDescriptor{Kind: "positions", Key: "7", Interval: 1}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
