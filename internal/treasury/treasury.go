// Package treasury implements reward distribution, fault accounting, and
// slashing against bitmap-encoded winner/loser lists keyed to a snapshot.
// It is constructed after Registry and before Oracle, since Oracle's
// finalize path calls straight into it.
package treasury

import (
	"fmt"

	"github.com/artfain/triad-credits/internal/bitmap"
	"github.com/artfain/triad-credits/internal/eventlog"
	"github.com/artfain/triad-credits/internal/registry"
	"github.com/artfain/triad-credits/internal/store"
	"github.com/artfain/triad-credits/internal/token"
	"github.com/artfain/triad-credits/internal/wire"
)

const (
	bucketPool    = "treasury.pool"
	bucketPending = "treasury.pending"
	bucketSlashed = "treasury.slashed"

	keyRewardPool = "rewardPool"
)

// FaultKind names why a fault was recorded against a verifier.
type FaultKind string

const (
	FaultLateSubmission      FaultKind = "LateSubmission"
	FaultDuplicateSubmission FaultKind = "DuplicateSubmission"
	FaultWrongValue          FaultKind = "WrongValue"
)

// Treasury pays rewards, counts faults, and slashes.
type Treasury struct {
	db    *store.DB
	reg   *registry.Registry
	stake token.StakeToken
	log   *eventlog.Log

	// self is the identity Treasury presents to Registry.ReduceStake and
	// Registry.IncrementFaults, which check it against the authority
	// Registry was wired with.
	self wire.Address
}

// Buckets lists every bucket Treasury expects to exist.
func Buckets() []string {
	return []string{bucketPool, bucketPending, bucketSlashed}
}

// New constructs a Treasury bound to reg, self (its own authority identity),
// stake (the stake-token collaborator funds flow through), and log (the
// shared event feed).
func New(db *store.DB, reg *registry.Registry, self wire.Address, stake token.StakeToken, log *eventlog.Log) *Treasury {
	return &Treasury{db: db, reg: reg, stake: stake, log: log, self: self}
}

// Self returns Treasury's own authority identity, for wiring into Registry
// via SetTreasuryAuthority.
func (t *Treasury) Self() wire.Address { return t.self }

// RewardPool returns the current pool balance.
func (t *Treasury) RewardPool() (uint64, error) {
	var pool uint64
	err := t.db.View(func(tx *store.Tx) error {
		err := tx.Get(bucketPool, keyRewardPool, &pool)
		if err == store.ErrNotFound {
			pool = 0
			return nil
		}
		return err
	})
	return pool, err
}

// Fund deposits amount into the reward pool from caller's stake-token
// balance.
func (t *Treasury) Fund(caller wire.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if t.stake != nil {
		if err := t.stake.TransferFrom(caller, t.self, amount); err != nil {
			return fmt.Errorf("treasury: fund: %w", err)
		}
	}
	return t.db.Update(func(tx *store.Tx) error {
		pool, err := t.poolTx(tx)
		if err != nil {
			return err
		}
		return tx.Put(bucketPool, keyRewardPool, pool+amount)
	})
}

func (t *Treasury) poolTx(tx *store.Tx) (uint64, error) {
	var pool uint64
	err := tx.Get(bucketPool, keyRewardPool, &pool)
	if err == store.ErrNotFound {
		return 0, nil
	}
	return pool, err
}

func (t *Treasury) pendingTx(tx *store.Tx, addr wire.Address) (uint64, error) {
	var v uint64
	err := tx.Get(bucketPending, addr.String(), &v)
	if err == store.ErrNotFound {
		return 0, nil
	}
	return v, err
}

// DistributeRewards splits wh*rewardPerWhWei evenly among the winners named
// in winnerBitmap (indices into the snapshot identified by snapshotID),
// crediting each with floor(total/winners) and leaving the remainder (dust)
// in the pool.
func (t *Treasury) DistributeRewards(winnerBitmap bitmap.Bitmap, snapshotID uint64, wh uint64) error {
	return t.db.Update(func(tx *store.Tx) error {
		return t.DistributeRewardsTx(tx, winnerBitmap, snapshotID, wh)
	})
}

// DistributeRewardsTx is the transaction-scoped form of DistributeRewards,
// used by Oracle.Finalize which is already inside its own bbolt
// transaction.
func (t *Treasury) DistributeRewardsTx(tx *store.Tx, winnerBitmap bitmap.Bitmap, snapshotID uint64, wh uint64) error {
	winners := winnerBitmap.PopCount()

	p, err := t.reg.ParamsTx(tx)
	if err != nil {
		return err
	}
	rewardPerWh := p.RewardPerWhWei
	if winners == 0 || wh == 0 || rewardPerWh == 0 {
		t.emit(eventlog.RewardsDistributed, map[string]any{
			"winnerBitmap": uint16(winnerBitmap), "snapshotId": snapshotID, "totalDistributed": uint64(0),
		})
		return nil
	}

	total := wh * rewardPerWh
	perWinner := total / uint64(winners)
	distributed := perWinner * uint64(winners)

	snap, err := t.reg.SnapshotTx(tx, snapshotID)
	if err != nil {
		return err
	}

	pool, err := t.poolTx(tx)
	if err != nil {
		return err
	}
	if total > pool {
		return ErrInsufficientRewardPool
	}
	for _, idx := range winnerBitmap.Indices() {
		addr := snap.Verifiers[idx]
		cur, err := t.pendingTx(tx, addr)
		if err != nil {
			return err
		}
		if err := tx.Put(bucketPending, addr.String(), cur+perWinner); err != nil {
			return err
		}
	}
	if err := tx.Put(bucketPool, keyRewardPool, pool-distributed); err != nil {
		return err
	}
	t.emit(eventlog.RewardsDistributed, map[string]any{
		"winnerBitmap": uint16(winnerBitmap), "snapshotId": snapshotID, "totalDistributed": distributed,
	})
	return nil
}

// RecordFaults increments each loser's fault counter (via Registry) and
// auto-slashes any that cross the fault threshold, unless slashing is
// disabled. kind names why the faults are being recorded, e.g. WrongValue
// for quorum losers.
func (t *Treasury) RecordFaults(loserBitmap bitmap.Bitmap, snapshotID uint64, kind FaultKind) error {
	return t.db.Update(func(tx *store.Tx) error {
		return t.RecordFaultsTx(tx, loserBitmap, snapshotID, kind)
	})
}

// RecordFaultsTx is the transaction-scoped form of RecordFaults.
func (t *Treasury) RecordFaultsTx(tx *store.Tx, loserBitmap bitmap.Bitmap, snapshotID uint64, kind FaultKind) error {
	snap, err := t.reg.SnapshotTx(tx, snapshotID)
	if err != nil {
		return err
	}
	for _, idx := range loserBitmap.Indices() {
		if err := t.RecordFaultTx(tx, snap.Verifiers[idx], kind); err != nil {
			return err
		}
	}
	return nil
}

// RecordFault increments verifier's fault counter and auto-slashes once the
// threshold is reached. kind names why the fault is being recorded.
func (t *Treasury) RecordFault(verifier wire.Address, kind FaultKind) error {
	return t.db.Update(func(tx *store.Tx) error {
		return t.RecordFaultTx(tx, verifier, kind)
	})
}

// RecordFaultTx is the transaction-scoped form of RecordFault.
func (t *Treasury) RecordFaultTx(tx *store.Tx, verifier wire.Address, kind FaultKind) error {
	faults, err := t.reg.IncrementFaultsTx(tx, t.self, verifier)
	if err != nil {
		return err
	}
	t.emit(eventlog.FaultRecorded, map[string]any{
		"verifier": verifier.String(), "type": string(kind), "totalFaults": faults,
	})

	p, err := t.reg.ParamsTx(tx)
	if err != nil {
		return err
	}
	if p.SlashingDisabled {
		return nil
	}
	if faults < p.FaultThreshold {
		return nil
	}
	return t.autoSlashTx(tx, verifier, p)
}

func (t *Treasury) autoSlashTx(tx *store.Tx, verifier wire.Address, p registry.Params) error {
	var slashed bool
	err := tx.Get(bucketSlashed, verifier.String(), &slashed)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	if slashed {
		return nil // idempotent: double-slash suppressed
	}

	v, err := t.reg.VerifierTx(tx, verifier)
	if err != nil {
		return err
	}
	slashAmount := v.Stake * uint64(p.SlashBps) / 10000

	if err := t.reg.ReduceStakeTx(tx, t.self, verifier, slashAmount); err != nil {
		return err
	}
	pool, err := t.poolTx(tx)
	if err != nil {
		return err
	}
	if err := tx.Put(bucketPool, keyRewardPool, pool+slashAmount); err != nil {
		return err
	}
	if err := tx.Put(bucketSlashed, verifier.String(), true); err != nil {
		return err
	}
	t.emit(eventlog.Slashed, map[string]any{"verifier": verifier.String(), "amount": slashAmount})
	return nil
}

// Slash is the manual-slash entry point; a silent no-op when
// slashingDisabled is set.
func (t *Treasury) Slash(verifier wire.Address) error {
	return t.db.Update(func(tx *store.Tx) error {
		p, err := t.reg.ParamsTx(tx)
		if err != nil {
			return err
		}
		if p.SlashingDisabled {
			return nil
		}
		v, err := t.reg.VerifierTx(tx, verifier)
		if err != nil {
			return err
		}
		if v.Faults < p.FaultThreshold {
			return ErrFaultThresholdNotReached
		}
		return t.autoSlashTx(tx, verifier, p)
	})
}

// IsSlashed reports whether verifier has already been slashed.
func (t *Treasury) IsSlashed(verifier wire.Address) (bool, error) {
	var slashed bool
	err := t.db.View(func(tx *store.Tx) error {
		err := tx.Get(bucketSlashed, verifier.String(), &slashed)
		if err == store.ErrNotFound {
			slashed = false
			return nil
		}
		return err
	})
	return slashed, err
}

// PendingRewards returns the unclaimed reward balance for addr.
func (t *Treasury) PendingRewards(addr wire.Address) (uint64, error) {
	var v uint64
	err := t.db.View(func(tx *store.Tx) error {
		var err error
		v, err = t.pendingTx(tx, addr)
		return err
	})
	return v, err
}

// ClaimRewards transfers caller's pending rewards out and zeros the entry.
func (t *Treasury) ClaimRewards(caller wire.Address) (uint64, error) {
	var amount uint64
	err := t.db.Update(func(tx *store.Tx) error {
		var err error
		amount, err = t.pendingTx(tx, caller)
		if err != nil {
			return err
		}
		if amount == 0 {
			return nil
		}
		if t.stake != nil {
			if err := t.stake.TransferFrom(t.self, caller, amount); err != nil {
				return fmt.Errorf("%w: %v", ErrInsufficientPoolBalance, err)
			}
		}
		return tx.Put(bucketPending, caller.String(), uint64(0))
	})
	return amount, err
}

func (t *Treasury) emit(kind eventlog.Kind, payload map[string]any) {
	if t.log == nil {
		return
	}
	_, _ = t.log.Append(kind, payload)
}
