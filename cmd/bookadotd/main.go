package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"bookadot/config"
	"bookadot/core/events"
	"bookadot/crypto"
	"bookadot/native/bank"
	"bookadot/native/factory"
	"bookadot/native/platform"
	"bookadot/observability"
	"bookadot/observability/logging"
	"bookadot/rpc"
	"bookadot/state"
	"bookadot/storage"
)

const keystorePassphraseEnv = "BOOKADOT_KEYSTORE_PASSPHRASE"

func main() {
	var (
		configPath = flag.String("config", "./config.toml", "path to the daemon configuration file")
		memory     = flag.Bool("memory", false, "run on an in-memory store instead of LevelDB")
	)
	flag.Parse()

	if err := run(*configPath, *memory); err != nil {
		fmt.Fprintf(os.Stderr, "bookadotd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, memory bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup("bookadotd", cfg.Env, cfg.LogFile)

	var db storage.Database
	if memory {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "escrow"))
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		db = ldb
	}
	defer db.Close()

	owner, err := crypto.ParseAddress(cfg.Owner)
	if err != nil {
		return fmt.Errorf("owner address: %w", err)
	}
	treasury, err := crypto.ParseAddress(cfg.Treasury)
	if err != nil {
		return fmt.Errorf("treasury address: %w", err)
	}
	configAddr, err := optionalAddress(cfg.ConfigAddress)
	if err != nil {
		return fmt.Errorf("config address: %w", err)
	}
	factoryAddr, err := optionalAddress(cfg.FactoryAddress)
	if err != nil {
		return fmt.Errorf("factory address: %w", err)
	}
	tokens := make([]common.Address, 0, len(cfg.WhitelistedTokens)+1)
	tokens = append(tokens, bank.NativeToken)
	for _, raw := range cfg.WhitelistedTokens {
		token, err := crypto.ParseAddress(raw)
		if err != nil {
			return fmt.Errorf("whitelisted token %q: %w", raw, err)
		}
		tokens = append(tokens, token)
	}

	platformCfg, err := platform.NewConfig(configAddr, owner, treasury, cfg.FeeBps, cfg.PayoutDelaySeconds, cfg.ChainID, tokens)
	if err != nil {
		return fmt.Errorf("platform config: %w", err)
	}

	if signer, err := loadSigner(cfg); err != nil {
		return err
	} else if signer != nil {
		if err := platformCfg.UpdateBackend(owner, signer.Address()); err != nil {
			return fmt.Errorf("set backend signer: %w", err)
		}
		logger.Info("backend signer configured", slog.String("address", signer.Address().Hex()))
	}

	manager := state.NewManager(db)
	ledger := bank.NewLedger(manager)
	if err := applyGenesis(db, ledger, cfg, logger); err != nil {
		return fmt.Errorf("apply genesis balances: %w", err)
	}
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	emitter := observability.NewMetricsEmitter(metrics, logEmitter{logger: logger})

	f := factory.New(factoryAddr, platformCfg, manager, manager, ledger, emitter)
	if err := f.Rehydrate(); err != nil {
		return fmt.Errorf("rehydrate properties: %w", err)
	}
	logger.Info("escrow core ready",
		slog.Int64("chainId", cfg.ChainID),
		slog.Int("properties", len(manager.PropertyIDs())))

	server := rpc.NewServer(f, platformCfg, ledger, cfg.RPCAuthToken, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", slog.String("address", cfg.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve rpc: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// loadSigner resolves the backend signing key: a raw hex key from the
// configured environment variable wins, then an encrypted keystore file.
// Returns nil when neither is configured; the owner then doubles as the
// backend signer.
func loadSigner(cfg *config.Config) (*crypto.PrivateKey, error) {
	if env := strings.TrimSpace(cfg.SignerKeyEnv); env != "" {
		if raw := strings.TrimSpace(os.Getenv(env)); raw != "" {
			key, err := crypto.PrivateKeyFromHex(raw)
			if err != nil {
				return nil, fmt.Errorf("signer key from %s: %w", env, err)
			}
			return key, nil
		}
	}
	if path := strings.TrimSpace(cfg.SignerKeystorePath); path != "" {
		key, err := crypto.LoadSignerKey(path, os.Getenv(keystorePassphraseEnv))
		if err != nil {
			return nil, fmt.Errorf("signer keystore %s: %w", path, err)
		}
		return key, nil
	}
	return nil, nil
}

var genesisAppliedKey = []byte("bank/genesis")

// applyGenesis mints the configured starting balances exactly once per
// data directory; restarts must not inflate balances.
func applyGenesis(db storage.Database, ledger *bank.Ledger, cfg *config.Config, logger *slog.Logger) error {
	if len(cfg.GenesisBalances) == 0 {
		return nil
	}
	applied, err := db.Has(genesisAppliedKey)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for _, entry := range cfg.GenesisBalances {
		token := bank.NativeToken
		if strings.TrimSpace(entry.Token) != "" {
			if token, err = crypto.ParseAddress(entry.Token); err != nil {
				return fmt.Errorf("genesis token %q: %w", entry.Token, err)
			}
		}
		addr, err := crypto.ParseAddress(entry.Address)
		if err != nil {
			return fmt.Errorf("genesis address %q: %w", entry.Address, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(entry.Amount), 10)
		if !ok || amount.Sign() < 0 {
			return fmt.Errorf("genesis amount %q for %s", entry.Amount, entry.Address)
		}
		if err := ledger.Mint(token, addr, amount); err != nil {
			return err
		}
		logger.Info("genesis balance minted",
			slog.String("token", token.Hex()),
			slog.String("address", addr.Hex()),
			slog.String("amount", amount.String()))
	}
	return db.Put(genesisAppliedKey, []byte("1"))
}

func optionalAddress(raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return crypto.ParseAddress(raw)
}

// logEmitter writes every lifecycle event to the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (e logEmitter) Emit(evt events.Event) {
	rendered := evt.Event()
	attrs := make([]any, 0, len(rendered.Attributes))
	for k, v := range rendered.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	e.logger.Info(rendered.Type, attrs...)
}
