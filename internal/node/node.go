// Package node wires Registry, Treasury, and the two Oracles into one
// running core. Registry must exist before Treasury, and both before the
// Oracles, since each later component holds a live reference to the ones
// before it; authorities are cross-wired once every component exists.
package node

import (
	"fmt"

	"github.com/artfain/triad-credits/internal/config"
	"github.com/artfain/triad-credits/internal/eventlog"
	"github.com/artfain/triad-credits/internal/oracle"
	"github.com/artfain/triad-credits/internal/registry"
	"github.com/artfain/triad-credits/internal/store"
	"github.com/artfain/triad-credits/internal/token"
	"github.com/artfain/triad-credits/internal/treasury"
	"github.com/artfain/triad-credits/internal/wire"
)

// Node is one running instance of the core: the three components sharing
// one bbolt substrate and event log.
type Node struct {
	DB      *store.DB
	EventLog *eventlog.Log

	Registry          *registry.Registry
	Treasury          *treasury.Treasury
	ProductionOracle  *oracle.Oracle
	ConsumptionOracle *oracle.Oracle

	Credit token.CreditToken
	Stake  token.StakeToken
}

// Identities holds the three escrow/authority addresses the core presents
// to the stake-token ledger and to itself as an authorized caller. In
// production these would be derived from distinct keypairs per component;
// a single operator-controlled node is free to reuse one address for all
// three, since authority checks only forbid OTHER callers.
type Identities struct {
	Self              wire.Address
	ProductionOracle  wire.Address
	ConsumptionOracle wire.Address

	// Admin is the sole address authorized to call either Oracle's
	// ForceFinalize.
	Admin wire.Address
}

// Open opens the bbolt state file and LevelDB event log named by cfg,
// constructs Registry, Treasury, and both Oracles over them, and cross-
// wires every authority relationship between them before returning.
func Open(cfg config.Config, ids Identities, stake token.StakeToken, credit token.CreditToken) (*Node, error) {
	buckets := append(append(registry.Buckets(), treasury.Buckets()...), oracle.Buckets()...)
	db, err := store.Open(cfg.DataDir, buckets...)
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	log, err := eventlog.Open(cfg.EventLogDir)
	if err != nil {
		return nil, fmt.Errorf("node: open event log: %w", err)
	}

	reg, err := registry.New(db, stake, ids.Self)
	if err != nil {
		return nil, fmt.Errorf("node: new registry: %w", err)
	}
	params, err := cfg.Params()
	if err != nil {
		return nil, fmt.Errorf("node: resolve params: %w", err)
	}
	if err := applyParams(reg, params); err != nil {
		return nil, fmt.Errorf("node: apply params: %w", err)
	}

	tr := treasury.New(db, reg, ids.Self, stake, log)

	prod := oracle.NewProductionOracle(db, reg, tr, log, ids.ProductionOracle, ids.Admin, cfg.ChainID, credit)
	cons := oracle.NewConsumptionOracle(db, reg, tr, log, ids.ConsumptionOracle, ids.Admin, cfg.ChainID)

	reg.SetOracleAuthority(registry.OracleProduction, prod.Self())
	reg.SetOracleAuthority(registry.OracleConsumption, cons.Self())
	reg.SetTreasuryAuthority(tr.Self())

	return &Node{
		DB: db, EventLog: log,
		Registry: reg, Treasury: tr,
		ProductionOracle: prod, ConsumptionOracle: cons,
		Credit: credit, Stake: stake,
	}, nil
}

// Close releases the underlying stores.
func (n *Node) Close() error {
	logErr := n.EventLog.Close()
	dbErr := n.DB.Close()
	if dbErr != nil {
		return dbErr
	}
	return logErr
}

// applyParams pushes every admin-tunable field of cfg onto a freshly
// constructed Registry. registry.New only seeds DefaultParams() the first
// time a data directory is created, so an operator's config file still
// needs to win on every subsequent start.
func applyParams(reg *registry.Registry, p registry.Params) error {
	if err := reg.SetQuorumBps(p.QuorumBps); err != nil {
		return err
	}
	if err := reg.SetClaimWindow(p.ClaimWindowSeconds); err != nil {
		return err
	}
	if err := reg.SetRewardPerWhWei(p.RewardPerWhWei); err != nil {
		return err
	}
	if err := reg.SetSlashBps(p.SlashBps); err != nil {
		return err
	}
	if err := reg.SetFaultThreshold(p.FaultThreshold); err != nil {
		return err
	}
	if err := reg.SetMinStake(p.MinStake); err != nil {
		return err
	}
	if err := reg.SetPermissionedMode(p.PermissionedMode); err != nil {
		return err
	}
	if err := reg.SetBaselineMode(p.BaselineMode, p.SingleVerifierOverride); err != nil {
		return err
	}
	if err := reg.SetSlashingDisabled(p.SlashingDisabled); err != nil {
		return err
	}
	return nil
}
