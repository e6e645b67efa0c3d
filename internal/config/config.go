// Package config loads node configuration from a YAML file, with
// environment-variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/artfain/triad-credits/internal/registry"
	"github.com/artfain/triad-credits/internal/wire"
)

// Config is the node's full runtime configuration. Params mirrors
// registry.Params so operators can set the protocol's starting
// configuration from the same file that configures storage paths and
// network addresses.
type Config struct {
	DataDir    string `mapstructure:"dataDir"`
	EventLogDir string `mapstructure:"eventLogDir"`
	ListenAddr string `mapstructure:"listenAddr"`
	ChainID    uint64 `mapstructure:"chainId"`

	QuorumBps          uint32 `mapstructure:"quorumBps"`
	ClaimWindowSeconds int64  `mapstructure:"claimWindow"`
	RewardPerWhWei     uint64 `mapstructure:"rewardPerWhWei"`
	SlashBps           uint32 `mapstructure:"slashBps"`
	FaultThreshold     uint32 `mapstructure:"faultThreshold"`
	MinStake           uint64 `mapstructure:"minStake"`
	PermissionedMode   bool   `mapstructure:"permissionedMode"`
	BaselineMode       bool   `mapstructure:"baselineMode"`
	SlashingDisabled   bool   `mapstructure:"slashingDisabled"`
	SingleVerifierOverride string `mapstructure:"singleVerifierOverride"`
}

// Default returns the node's documented defaults for every recognized
// configuration key.
func Default() Config {
	p := registry.DefaultParams()
	return Config{
		DataDir:     "./data/state.db",
		EventLogDir: "./data/events",
		ListenAddr:  ":8080",
		ChainID:     1,

		QuorumBps:          p.QuorumBps,
		ClaimWindowSeconds: p.ClaimWindowSeconds,
		RewardPerWhWei:     p.RewardPerWhWei,
		SlashBps:           p.SlashBps,
		FaultThreshold:     p.FaultThreshold,
		MinStake:           p.MinStake,
		PermissionedMode:   p.PermissionedMode,
		BaselineMode:       p.BaselineMode,
		SlashingDisabled:   p.SlashingDisabled,
	}
}

// Load reads configuration from path (a YAML file; missing file falls back
// to defaults silently), applying TRIADNODE_-prefixed environment overrides
// on top.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("triadnode")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, val := range defaultsMap(cfg) {
		v.SetDefault(key, val)
	}

	if _, statErr := os.Stat(path); statErr == nil {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if !os.IsNotExist(statErr) {
		return Config{}, fmt.Errorf("config: stat %s: %w", path, statErr)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func defaultsMap(c Config) map[string]any {
	return map[string]any{
		"dataDir":                c.DataDir,
		"eventLogDir":            c.EventLogDir,
		"listenAddr":             c.ListenAddr,
		"chainId":                c.ChainID,
		"quorumBps":              c.QuorumBps,
		"claimWindow":            c.ClaimWindowSeconds,
		"rewardPerWhWei":         c.RewardPerWhWei,
		"slashBps":               c.SlashBps,
		"faultThreshold":         c.FaultThreshold,
		"minStake":               c.MinStake,
		"permissionedMode":       c.PermissionedMode,
		"baselineMode":           c.BaselineMode,
		"slashingDisabled":       c.SlashingDisabled,
		"singleVerifierOverride": c.SingleVerifierOverride,
	}
}

// Params projects the protocol-relevant fields into a registry.Params,
// applied at node startup after Registry seeds its own defaults.
func (c Config) Params() (registry.Params, error) {
	p := registry.Params{
		QuorumBps:          c.QuorumBps,
		ClaimWindowSeconds: c.ClaimWindowSeconds,
		RewardPerWhWei:     c.RewardPerWhWei,
		SlashBps:           c.SlashBps,
		FaultThreshold:     c.FaultThreshold,
		MinStake:           c.MinStake,
		PermissionedMode:   c.PermissionedMode,
		BaselineMode:       c.BaselineMode,
		SlashingDisabled:   c.SlashingDisabled,
	}
	if c.SingleVerifierOverride != "" {
		addr, err := wire.AddressFromHex(c.SingleVerifierOverride)
		if err != nil {
			return registry.Params{}, fmt.Errorf("config: singleVerifierOverride: %w", err)
		}
		p.SingleVerifierOverride = &addr
	}
	return p, nil
}
