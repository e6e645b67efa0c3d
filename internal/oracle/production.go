package oracle

import (
	"github.com/artfain/triad-credits/internal/eventlog"
	"github.com/artfain/triad-credits/internal/registry"
	"github.com/artfain/triad-credits/internal/store"
	"github.com/artfain/triad-credits/internal/token"
	"github.com/artfain/triad-credits/internal/treasury"
	"github.com/artfain/triad-credits/internal/wire"
)

// NewProductionOracle wires an Oracle whose subjects are registered
// producers and whose finalize effect mints credit tokens to the
// producer's payout address.
func NewProductionOracle(
	db *store.DB, reg *registry.Registry, tr *treasury.Treasury, log *eventlog.Log,
	self, admin wire.Address, chainID uint64, credit token.CreditToken,
) *Oracle {
	validate := func(subjectID wire.Hash) bool {
		return reg.IsProducerRegistered(subjectID)
	}
	finalize := func(tx *store.Tx, subjectID wire.Hash, hourID, wh uint64, claimKey wire.Hash) error {
		p, err := reg.Producer(subjectID)
		if err != nil {
			return err
		}
		return credit.Mint(p.PayoutAddr, hourID, wh, claimKey)
	}
	return New(db, reg, tr, log, self, admin, chainID, registry.OracleProduction, wire.ClaimTagProduction, validate, finalize)
}
