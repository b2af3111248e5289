package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"miniaave/config"
	"miniaave/crypto"
	"miniaave/native/lending"
	"miniaave/native/positions"
	"miniaave/native/pricing"
	"miniaave/native/shield"
	"miniaave/native/shield/circuit"
	"miniaave/observability/logging"
	"miniaave/rpc"
	"miniaave/state"
	"miniaave/storage"

	"github.com/consensys/gnark/backend/groth16"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MAV_ENV"))
	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		env = cfg.LogEnvironment
	}
	logger := logging.Setup("maved", env, cfg.LogFile)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	store := state.NewStore(db)
	registry := lending.NewRegistry(store)
	oracle := pricing.NewManualOracle()
	for _, asset := range cfg.Assets {
		if err := registerAsset(registry, oracle, asset); err != nil {
			logger.Error("Failed to register asset",
				slog.String("asset", asset.Symbol), slog.Any("error", err))
			os.Exit(1)
		}
	}

	engine := lending.NewEngine(crypto.ModuleAddress("lending"), registry)
	engine.SetState(store)
	engine.SetOracle(oracle)
	engine.SetInterestModel(lending.NewInterestModel(
		cfg.Interest.BaseRate, cfg.Interest.Slope1, cfg.Interest.Slope2, cfg.Interest.Kink))

	posRegistry := positions.NewRegistry(store)
	posRegistry.SetMover(engine)
	engine.SetPositionTokens(posRegistry)

	pools, err := buildShieldPools(cfg, store, logger)
	if err != nil {
		logger.Error("Failed to initialise shielded pools", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(engine, registry, posRegistry, oracle, pools, logger)
	logger.Info("RPC server listening",
		slog.String("address", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// registerAsset lists the asset and seeds its boot price. Assets already in
// the store from a previous run are left untouched.
func registerAsset(registry *lending.Registry, oracle *pricing.ManualOracle, asset config.AssetConfig) error {
	err := registry.AddAsset(lending.AssetConfig{
		Symbol:                  asset.Symbol,
		Decimals:                asset.Decimals,
		ReceiptToken:            asset.ReceiptToken,
		LTVBps:                  asset.LTVBps,
		LiquidationThresholdBps: asset.LiquidationThresholdBps,
		LiquidationBonusBps:     asset.LiquidationBonusBps,
	})
	if err != nil && !errors.Is(err, lending.ErrAssetAlreadyRegistered) {
		return err
	}
	price, err := asset.Price()
	if err != nil {
		return err
	}
	return oracle.SetAssetPrice(asset.Symbol, price)
}

// buildShieldPools loads the Groth16 keys, running a fresh trusted setup when
// none exist on disk, and restores each configured pool from state.
func buildShieldPools(cfg *config.Config, store *state.Store, logger *slog.Logger) (map[string]*shield.Pool, error) {
	if len(cfg.Shield.Pools) == 0 {
		return nil, nil
	}
	vk, err := loadOrSetupKeys(cfg, logger)
	if err != nil {
		return nil, err
	}
	verifier := shield.NewGroth16Verifier(vk)
	pools := make(map[string]*shield.Pool, len(cfg.Shield.Pools))
	for _, poolCfg := range cfg.Shield.Pools {
		denomination, err := poolCfg.DenominationAmount()
		if err != nil {
			return nil, err
		}
		pool, err := shield.NewPool(store.ShieldState(poolCfg.Asset), verifier, poolCfg.Asset, denomination)
		if err != nil {
			return nil, fmt.Errorf("shield pool %s: %w", poolCfg.Asset, err)
		}
		logger.Info("Shielded pool ready",
			slog.String("asset", poolCfg.Asset),
			slog.String("denomination", denomination.String()),
			slog.Int("leaves", pool.Size()))
		pools[poolCfg.Asset] = pool
	}
	return pools, nil
}

func loadOrSetupKeys(cfg *config.Config, logger *slog.Logger) (groth16.VerifyingKey, error) {
	if _, vk, err := circuit.ReadKeys(cfg.Shield.ProvingKeyPath, cfg.Shield.VerifyingKeyPath); err == nil {
		logger.Info("Loaded shield verifying key", slog.String("path", cfg.Shield.VerifyingKeyPath))
		return vk, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	logger.Info("Shield keys missing, running setup")
	ccs, err := circuit.Compile()
	if err != nil {
		return nil, err
	}
	pk, vk, err := circuit.Setup(ccs)
	if err != nil {
		return nil, err
	}
	if err := circuit.WriteKeys(cfg.Shield.ProvingKeyPath, cfg.Shield.VerifyingKeyPath, pk, vk); err != nil {
		return nil, err
	}
	logger.Info("Shield keys written",
		slog.String("provingKey", cfg.Shield.ProvingKeyPath),
		slog.String("verifyingKey", cfg.Shield.VerifyingKeyPath))
	return vk, nil
}
