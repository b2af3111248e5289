package lending

import "strings"

// registryState is the persistence surface the asset registry relies on.
// Implementations return (nil, nil) when a config is absent.
type registryState interface {
	GetAssetConfig(asset string) (*AssetConfig, error)
	PutAssetConfig(cfg *AssetConfig) error
	ListAssetConfigs() ([]*AssetConfig, error)
}

// Registry stores the per-asset risk configuration exactly once per asset.
type Registry struct {
	state registryState
}

func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

// AddAsset registers a new asset with its receipt-token binding and risk
// parameters. Registration is write-once per asset symbol.
func (r *Registry) AddAsset(cfg AssetConfig) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	cfg.Symbol = strings.TrimSpace(cfg.Symbol)
	if cfg.Symbol == "" {
		return ErrInvalidRiskParameters
	}
	if cfg.LTVBps > cfg.LiquidationThresholdBps {
		return ErrInvalidRiskParameters
	}
	if cfg.LiquidationThresholdBps > 10_000 {
		return ErrInvalidRiskParameters
	}
	if cfg.LiquidationBonusBps < 10_000 {
		return ErrInvalidRiskParameters
	}
	existing, err := r.state.GetAssetConfig(cfg.Symbol)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAssetAlreadyRegistered
	}
	return r.state.PutAssetConfig(&cfg)
}

// GetConfig returns the stored configuration for the asset.
func (r *Registry) GetConfig(asset string) (*AssetConfig, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	cfg, err := r.state.GetAssetConfig(strings.TrimSpace(asset))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrUnknownAsset
	}
	return cfg, nil
}

// Assets lists every registered asset configuration.
func (r *Registry) Assets() ([]*AssetConfig, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	return r.state.ListAssetConfigs()
}
