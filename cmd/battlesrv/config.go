package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the battlesrv environment. Values come from the process
// environment, optionally seeded from a .env file.
type Config struct {
	Listen      string
	DataDir     string
	DebugLevel  string
	CatalogPath string

	// Chain connectivity. An empty RPCURL runs the server without escrow:
	// wagers fall back off-chain.
	RPCURL        string
	ChainID       int64
	CardContract  string
	WagerContract string
	OperatorKey   string
	ConfTarget    uint64

	WagerRarity      string
	DefaultDeckID    string
	SelectionSeconds int
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func LoadConfig() (*Config, error) {
	// Best effort; the environment wins over the file.
	_ = godotenv.Load()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home dir: %w", err)
	}

	cfg := &Config{
		Listen:        envOr("POKEBATTLE_LISTEN", ":8080"),
		DataDir:       envOr("POKEBATTLE_DATA_DIR", filepath.Join(home, ".pokebattle")),
		DebugLevel:    envOr("POKEBATTLE_DEBUG", "info"),
		CatalogPath:   os.Getenv("POKEBATTLE_CATALOG"),
		RPCURL:        os.Getenv("POKEBATTLE_RPC_URL"),
		CardContract:  os.Getenv("POKEBATTLE_CARD_CONTRACT"),
		WagerContract: os.Getenv("POKEBATTLE_WAGER_CONTRACT"),
		OperatorKey:   os.Getenv("POKEBATTLE_OPERATOR_KEY"),
		ConfTarget:    2,
		WagerRarity:   envOr("POKEBATTLE_WAGER_RARITY", "Rare"),
		DefaultDeckID: envOr("POKEBATTLE_DEFAULT_DECK", "starter"),
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = filepath.Join(cfg.DataDir, "catalog.json")
	}

	if v := os.Getenv("POKEBATTLE_CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid POKEBATTLE_CHAIN_ID: %w", err)
		}
		cfg.ChainID = id
	}
	if v := os.Getenv("POKEBATTLE_CONF_TARGET"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid POKEBATTLE_CONF_TARGET: %w", err)
		}
		cfg.ConfTarget = n
	}
	if v := os.Getenv("POKEBATTLE_SELECTION_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid POKEBATTLE_SELECTION_SECONDS: %w", err)
		}
		cfg.SelectionSeconds = n
	}

	if cfg.RPCURL != "" {
		if cfg.CardContract == "" || cfg.WagerContract == "" {
			return nil, fmt.Errorf("POKEBATTLE_CARD_CONTRACT and POKEBATTLE_WAGER_CONTRACT are required with an RPC url")
		}
		if cfg.OperatorKey == "" {
			return nil, fmt.Errorf("POKEBATTLE_OPERATOR_KEY is required with an RPC url")
		}
	}
	return cfg, nil
}
