package config

import "testing"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"POPULATE_INTERVAL", "RECONCILE_INTERVAL", "PQ_MAXSIZE", "GRACE_PERIOD",
		"API_HOST", "API_PORT", "CATALOGUE_URL", "INVENTORY_URL", "BLOB_STORE_URL",
		"BLOB_STORE_USERNAME", "BLOB_STORE_PASSWORD", "BROKER_URI", "BROKER_PASSWORD",
		"BROKER_DB", "TASK_STORE_DSN",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PopulateInterval.Seconds() != 60 {
		t.Errorf("PopulateInterval = %v, want 60s", cfg.PopulateInterval)
	}
	if cfg.ReconcileInterval.Seconds() != 180 {
		t.Errorf("ReconcileInterval = %v, want 180s", cfg.ReconcileInterval)
	}
	if cfg.PQMaxSize != 0 {
		t.Errorf("PQMaxSize = %d, want 0", cfg.PQMaxSize)
	}
	if cfg.APIPort != 8004 {
		t.Errorf("APIPort = %d, want 8004", cfg.APIPort)
	}
	if cfg.Addr() != "0.0.0.0:8004" {
		t.Errorf("Addr() = %q, want 0.0.0.0:8004", cfg.Addr())
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("POPULATE_INTERVAL", "10")
	t.Setenv("PQ_MAXSIZE", "500")
	t.Setenv("API_HOST", "127.0.0.1")
	t.Setenv("API_PORT", "9000")
	t.Setenv("CATALOGUE_URL", "http://catalogue:8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PopulateInterval.Seconds() != 10 {
		t.Errorf("PopulateInterval = %v, want 10s", cfg.PopulateInterval)
	}
	if cfg.PQMaxSize != 500 {
		t.Errorf("PQMaxSize = %d, want 500", cfg.PQMaxSize)
	}
	if cfg.Addr() != "127.0.0.1:9000" {
		t.Errorf("Addr() = %q, want 127.0.0.1:9000", cfg.Addr())
	}
	if cfg.CatalogueURL != "http://catalogue:8080" {
		t.Errorf("CatalogueURL = %q", cfg.CatalogueURL)
	}
}

func TestLoadRejectsNonIntegerDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("POPULATE_INTERVAL", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("Load: expected error for malformed POPULATE_INTERVAL, got nil")
	}
}
