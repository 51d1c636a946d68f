package main

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/app"
)

func mapLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestReadConfig_EnvOnly(t *testing.T) {
	cfg, err := readConfig(mapLookup(map[string]string{
		"QUICKSHOP_AUTH_SECRET":         "secret",
		"QUICKSHOP_GATEWAY_STUB":        "true",
		"QUICKSHOP_MIDTRANS_SERVER_KEY": "SB-stub",
		"QUICKSHOP_HTTP_ADDR":           "localhost:8081",
	}))
	if err != nil {
		t.Fatalf("readConfig failed: %v", err)
	}
	if cfg.HTTP.Addr != "localhost:8081" {
		t.Fatalf("unexpected http addr: %s", cfg.HTTP.Addr)
	}
	if cfg.Storage.Driver != app.StorageDriverMemory {
		t.Fatalf("unexpected storage driver: %s", cfg.Storage.Driver)
	}
	if !cfg.Gateway.Stub {
		t.Fatal("expected gateway stub")
	}
}

func TestReadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quickshop.yaml")
	body := "auth:\n  secret: from-file\ngateway:\n  server_key: SB-file\npricing:\n  shipping_fee: 10000\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := readConfig(mapLookup(map[string]string{
		app.EnvConfigPath:               path,
		"QUICKSHOP_MIDTRANS_SERVER_KEY": "SB-env",
	}))
	if err != nil {
		t.Fatalf("readConfig failed: %v", err)
	}
	if cfg.Auth.Secret != "from-file" {
		t.Fatalf("unexpected secret: %s", cfg.Auth.Secret)
	}
	if cfg.Gateway.ServerKey != "SB-env" {
		t.Fatalf("env must override file, got %s", cfg.Gateway.ServerKey)
	}
	if cfg.Pricing.ShippingFee != 10000 {
		t.Fatalf("unexpected shipping fee: %d", cfg.Pricing.ShippingFee)
	}
}

func TestReadConfig_Invalid(t *testing.T) {
	if _, err := readConfig(mapLookup(nil)); err == nil {
		t.Fatal("expected validation error without auth secret and server key")
	}
	if _, err := readConfig(mapLookup(map[string]string{
		"QUICKSHOP_AUTH_SECRET":  "secret",
		"QUICKSHOP_GATEWAY_STUB": "sometimes",
	})); err == nil {
		t.Fatal("expected error for malformed boolean")
	}
	if _, err := readConfig(mapLookup(map[string]string{app.EnvConfigPath: "/nonexistent/quickshop.yaml"})); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestSetupLogger(t *testing.T) {
	oldLevel := log.GetLevel()
	defer log.SetLevel(oldLevel)

	setupLogger("debug")
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
	setupLogger("nonsense")
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("expected fallback to info, got %s", log.GetLevel())
	}
}
