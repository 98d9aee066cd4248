package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.EngineURL != "http://localhost:8080/api/v1" {
		t.Fatalf("unexpected engine url: %s", cfg.EngineURL)
	}
	if cfg.Symbol != "BTC/USDT" {
		t.Fatalf("unexpected symbol: %s", cfg.Symbol)
	}
	// 线上仪表盘的默认节奏
	if cfg.OrderBookInterval != 2*time.Second {
		t.Fatalf("unexpected orderbook interval: %v", cfg.OrderBookInterval)
	}
	if cfg.TradesInterval != 3*time.Second {
		t.Fatalf("unexpected trades interval: %v", cfg.TradesInterval)
	}
	if cfg.BalancesInterval != 5*time.Second || cfg.OrdersInterval != 5*time.Second {
		t.Fatalf("unexpected balances/orders interval: %v/%v", cfg.BalancesInterval, cfg.OrdersInterval)
	}
	if cfg.EvictionGrace != 30*time.Second {
		t.Fatalf("unexpected eviction grace: %v", cfg.EvictionGrace)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
engine_url: http://engine:9000/api/v1
symbol: ETH/USDT
trades_limit: 50
intervals:
  orderbook_ms: 1000
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EngineURL != "http://engine:9000/api/v1" {
		t.Fatalf("file value not applied: %s", cfg.EngineURL)
	}
	if cfg.Symbol != "ETH/USDT" || cfg.TradesLimit != 50 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.OrderBookInterval != time.Second {
		t.Fatalf("interval from file not applied: %v", cfg.OrderBookInterval)
	}
	// 文件里没写的字段回落到默认值
	if cfg.TradesInterval != 3*time.Second {
		t.Fatalf("default not applied: %v", cfg.TradesInterval)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("symbol: ETH/USDT\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("GODASH_SYMBOL", "BTC/USDT")
	t.Setenv("GODASH_ORDERBOOK_MS", "1500")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Symbol != "BTC/USDT" {
		t.Fatalf("env did not override file: %s", cfg.Symbol)
	}
	if cfg.OrderBookInterval != 1500*time.Millisecond {
		t.Fatalf("env interval not applied: %v", cfg.OrderBookInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
