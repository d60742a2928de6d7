// Package config is environment-variable driven startup configuration,
// read once by the supervisor at boot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is every value the supervisor needs before it can construct a
// single scheduler.
type Config struct {
	PopulateInterval  time.Duration
	ReconcileInterval time.Duration
	PQMaxSize         int
	GracePeriod       time.Duration

	APIHost string
	APIPort int

	CatalogueURL      string
	InventoryURL      string
	BlobStoreURL      string
	BlobStoreUsername string
	BlobStorePassword string

	BrokerAddr     string
	BrokerPassword string
	BrokerDB       int

	TaskStoreDSN string
}

// Load reads Config from the environment, applying defaults for
// anything unset.
func Load() (Config, error) {
	cfg := Config{
		PopulateInterval:  60 * time.Second,
		ReconcileInterval: 180 * time.Second,
		PQMaxSize:         0,
		GracePeriod:       24 * time.Hour,
		APIHost:           "0.0.0.0",
		APIPort:           8004,
	}

	if v := os.Getenv("POPULATE_INTERVAL"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: POPULATE_INTERVAL: %w", err)
		}
		cfg.PopulateInterval = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: RECONCILE_INTERVAL: %w", err)
		}
		cfg.ReconcileInterval = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("PQ_MAXSIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: PQ_MAXSIZE: %w", err)
		}
		cfg.PQMaxSize = n
	}
	if v := os.Getenv("GRACE_PERIOD"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: GRACE_PERIOD: %w", err)
		}
		cfg.GracePeriod = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("API_HOST"); v != "" {
		cfg.APIHost = v
	}
	if v := os.Getenv("API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: API_PORT: %w", err)
		}
		cfg.APIPort = port
	}

	cfg.CatalogueURL = os.Getenv("CATALOGUE_URL")
	cfg.InventoryURL = os.Getenv("INVENTORY_URL")
	cfg.BlobStoreURL = os.Getenv("BLOB_STORE_URL")
	cfg.BlobStoreUsername = os.Getenv("BLOB_STORE_USERNAME")
	cfg.BlobStorePassword = os.Getenv("BLOB_STORE_PASSWORD")

	cfg.BrokerAddr = os.Getenv("BROKER_URI")
	if cfg.BrokerAddr == "" {
		cfg.BrokerAddr = "localhost:6379"
	}
	cfg.BrokerPassword = os.Getenv("BROKER_PASSWORD")
	if v := os.Getenv("BROKER_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: BROKER_DB: %w", err)
		}
		cfg.BrokerDB = n
	}

	cfg.TaskStoreDSN = os.Getenv("TASK_STORE_DSN")

	return cfg, nil
}

// Addr is the host:port the Control API listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}
