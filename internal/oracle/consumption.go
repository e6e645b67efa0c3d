package oracle

import (
	"fmt"

	"github.com/artfain/triad-credits/internal/eventlog"
	"github.com/artfain/triad-credits/internal/registry"
	"github.com/artfain/triad-credits/internal/store"
	"github.com/artfain/triad-credits/internal/treasury"
	"github.com/artfain/triad-credits/internal/wire"
)

const bucketVerifiedConsumption = "oracle.verifiedConsumption"

func consumptionKey(subjectID wire.Hash, hourID uint64) string {
	return fmt.Sprintf("%s:%020d", subjectID.String(), hourID)
}

// NewConsumptionOracle wires an Oracle whose subjects are registered
// consumers and whose finalize effect records verifiedConsumption[subjectId]
// [hourId] = verifiedWh.
func NewConsumptionOracle(
	db *store.DB, reg *registry.Registry, tr *treasury.Treasury, log *eventlog.Log,
	self, admin wire.Address, chainID uint64,
) *Oracle {
	validate := func(subjectID wire.Hash) bool {
		return reg.IsConsumerRegistered(subjectID)
	}
	finalize := func(tx *store.Tx, subjectID wire.Hash, hourID, wh uint64, claimKey wire.Hash) error {
		return tx.Put(bucketVerifiedConsumption, consumptionKey(subjectID, hourID), wh)
	}
	return New(db, reg, tr, log, self, admin, chainID, registry.OracleConsumption, wire.ClaimTagConsumption, validate, finalize)
}

// VerifiedConsumption returns the recorded verified consumption for
// (subjectId, hourId), or 0 if none has finalized yet.
func VerifiedConsumption(db *store.DB, subjectID wire.Hash, hourID uint64) (uint64, error) {
	var wh uint64
	err := db.View(func(tx *store.Tx) error {
		err := tx.Get(bucketVerifiedConsumption, consumptionKey(subjectID, hourID), &wh)
		if err == store.ErrNotFound {
			wh = 0
			return nil
		}
		return err
	})
	return wh, err
}
