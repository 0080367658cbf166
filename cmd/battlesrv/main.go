package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/czefenglim/pokebattle/catalog"
	"github.com/czefenglim/pokebattle/chainwatcher"
	"github.com/czefenglim/pokebattle/escrow"
	"github.com/czefenglim/pokebattle/server"
	"github.com/czefenglim/pokebattle/server/serverdb"
)

func realMain() error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	useStdout := true
	bknd, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        filepath.Join(cfg.DataDir, "logs", "battlesrv.log"),
		DebugLevel:     cfg.DebugLevel,
		MaxLogFiles:    10,
		MaxBufferLines: 1000,
		UseStdout:      &useStdout,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := bknd.Logger("SRVR")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}

	db, err := serverdb.NewBoltDB(filepath.Join(cfg.DataDir, "battles.db"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	srvCfg := server.Config{
		Log:              log,
		DB:               db,
		Decks:            cat,
		WagerRarity:      cfg.WagerRarity,
		DefaultDeckID:    cfg.DefaultDeckID,
		SelectionSeconds: cfg.SelectionSeconds,
	}

	if cfg.RPCURL != "" {
		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("failed to dial rpc: %w", err)
		}
		defer client.Close()

		chainID := big.NewInt(cfg.ChainID)
		if cfg.ChainID == 0 {
			chainID, err = client.ChainID(ctx)
			if err != nil {
				return fmt.Errorf("failed to query chain id: %w", err)
			}
		}

		operator, err := escrow.NewKeySigner(cfg.OperatorKey, chainID)
		if err != nil {
			return err
		}
		ledger, err := escrow.NewCardLedger(common.HexToAddress(cfg.CardContract), client)
		if err != nil {
			return err
		}
		vault, err := escrow.NewWagerVault(common.HexToAddress(cfg.WagerContract), client)
		if err != nil {
			return err
		}

		escrLog := bknd.Logger("ESCR")
		srvCfg.Escrow = escrow.NewCoordinator(escrow.Config{
			Log:     escrLog,
			Oracle:  escrow.NewOracle(ledger, escrLog),
			Catalog: cat,
			Vault:   vault,
			Ledger:  ledger,
			// The demo deployment signs every stake custodially with the
			// operator key.
			Operator: operator,
			Backend:  client,
		})
		srvCfg.SignerFor = func(common.Address) escrow.Signer { return operator }

		watcher := chainwatcher.New(bknd.Logger("WTCH"), client, cfg.ConfTarget)
		go watcher.Run(ctx)
		defer watcher.Stop()
		srvCfg.Watcher = watcher

		log.Infof("chain escrow enabled: chainID=%s card=%s vault=%s",
			chainID, cfg.CardContract, cfg.WagerContract)
	} else {
		log.Warnf("no rpc url configured, wagers run off-chain only")
	}

	srv := server.New(ctx, srvCfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWS)
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Listen)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
	}

	log.Infof("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
