// Package registry implements the authoritative verifier/producer/consumer
// records and the immutable per-claim snapshots the rest of the core reads.
// It is the first of the three core components constructed (Registry,
// then Treasury, then Oracle, since each later component holds a live
// reference to the ones before it), and the only one that owns the shared
// Params.
package registry

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/artfain/triad-credits/internal/bitmap"
	"github.com/artfain/triad-credits/internal/store"
	"github.com/artfain/triad-credits/internal/token"
	"github.com/artfain/triad-credits/internal/wire"
)

const (
	bucketVerifiers    = "registry.verifiers"
	bucketActiveSet    = "registry.activeSet"
	bucketProducers    = "registry.producers"
	bucketConsumers    = "registry.consumers"
	bucketIdentities   = "registry.identities"
	bucketSnapshots    = "registry.snapshots"
	bucketClaimToSnap  = "registry.claimSnapshot"
	bucketSnapshotSeq  = "registry.snapshotSeq"
	bucketParams       = "registry.params"
	bucketNonce        = "registry.nonce"

	keyActiveSet = "active"
	keyParams    = "params"
	keyNonce     = "nonce"
)

// OracleKind distinguishes the two authorized oracle callers of
// CreateSnapshot.
type OracleKind int

const (
	OracleProduction OracleKind = iota
	OracleConsumption
)

// Registry is the authoritative verifier/producer/consumer store.
type Registry struct {
	db    *store.DB
	stake token.StakeToken
	// self is the escrow address staked tokens move into — the
	// Registry's own identity on the StakeToken ledger.
	self wire.Address

	// authorized callers, wired once every component exists: each oracle's
	// and Treasury's own address, set after construction via the authority
	// setters below.
	oracleAuthority  map[OracleKind]wire.Address
	treasuryAuthority wire.Address
}

// New opens the registry's buckets on db and seeds default params if none
// exist yet. self is the Registry's own address on the stake-token ledger,
// the escrow account StakeAsVerifier/Unstake move funds to and from.
func New(db *store.DB, stake token.StakeToken, self wire.Address) (*Registry, error) {
	r := &Registry{db: db, stake: stake, self: self, oracleAuthority: make(map[OracleKind]wire.Address)}
	err := db.Update(func(tx *store.Tx) error {
		var p Params
		if err := tx.Get(bucketParams, keyParams, &p); err == store.ErrNotFound {
			return tx.Put(bucketParams, keyParams, DefaultParams())
		} else if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry: init: %w", err)
	}
	return r, nil
}

// Buckets lists every bucket New/Registry methods expect to exist; callers
// pass this to store.Open.
func Buckets() []string {
	return []string{
		bucketVerifiers, bucketActiveSet, bucketProducers, bucketConsumers,
		bucketIdentities, bucketSnapshots, bucketClaimToSnap, bucketSnapshotSeq,
		bucketParams, bucketNonce,
	}
}

// SetOracleAuthority records which address may call CreateSnapshot on
// behalf of the given oracle kind.
func (r *Registry) SetOracleAuthority(kind OracleKind, addr wire.Address) {
	r.oracleAuthority[kind] = addr
}

// SetTreasuryAuthority records which address may call ReduceStake and
// IncrementFaults.
func (r *Registry) SetTreasuryAuthority(addr wire.Address) {
	r.treasuryAuthority = addr
}

// Params returns the current shared configuration.
func (r *Registry) Params() (Params, error) {
	var p Params
	err := r.db.View(func(tx *store.Tx) error {
		return tx.Get(bucketParams, keyParams, &p)
	})
	return p, err
}

// setParams reads the current config, applies mutate, and writes it back;
// the admin setters below are thin wrappers validating one field at a time.
func (r *Registry) setParams(tx *store.Tx, mutate func(*Params) error) error {
	var p Params
	if err := tx.Get(bucketParams, keyParams, &p); err != nil {
		return err
	}
	if err := mutate(&p); err != nil {
		return err
	}
	return tx.Put(bucketParams, keyParams, p)
}

// SetQuorumBps validates and stores quorumBps ∈ (0, 10000].
func (r *Registry) SetQuorumBps(bps uint32) error {
	if bps == 0 || bps > 10000 {
		return ErrInvalidQuorumBps
	}
	return r.db.Update(func(tx *store.Tx) error {
		return r.setParams(tx, func(p *Params) error { p.QuorumBps = bps; return nil })
	})
}

// SetClaimWindow stores the claim window in seconds.
func (r *Registry) SetClaimWindow(seconds int64) error {
	return r.db.Update(func(tx *store.Tx) error {
		return r.setParams(tx, func(p *Params) error { p.ClaimWindowSeconds = seconds; return nil })
	})
}

// SetRewardPerWhWei stores the per-Wh reward rate.
func (r *Registry) SetRewardPerWhWei(wei uint64) error {
	return r.db.Update(func(tx *store.Tx) error {
		return r.setParams(tx, func(p *Params) error { p.RewardPerWhWei = wei; return nil })
	})
}

// SetSlashBps stores the slashing percentage in basis points.
func (r *Registry) SetSlashBps(bps uint32) error {
	return r.db.Update(func(tx *store.Tx) error {
		return r.setParams(tx, func(p *Params) error { p.SlashBps = bps; return nil })
	})
}

// SetFaultThreshold stores the fault count that triggers auto-slash.
func (r *Registry) SetFaultThreshold(n uint32) error {
	return r.db.Update(func(tx *store.Tx) error {
		return r.setParams(tx, func(p *Params) error { p.FaultThreshold = n; return nil })
	})
}

// SetMinStake stores the minimum stake required to activate.
func (r *Registry) SetMinStake(amount uint64) error {
	return r.db.Update(func(tx *store.Tx) error {
		return r.setParams(tx, func(p *Params) error { p.MinStake = amount; return nil })
	})
}

// SetPermissionedMode toggles allowlist enforcement at activation.
func (r *Registry) SetPermissionedMode(on bool) error {
	return r.db.Update(func(tx *store.Tx) error {
		return r.setParams(tx, func(p *Params) error { p.PermissionedMode = on; return nil })
	})
}

// SetBaselineMode toggles the single-verifier finalize shortcut.
func (r *Registry) SetBaselineMode(on bool, singleVerifier *wire.Address) error {
	return r.db.Update(func(tx *store.Tx) error {
		return r.setParams(tx, func(p *Params) error {
			p.BaselineMode = on
			p.SingleVerifierOverride = singleVerifier
			return nil
		})
	})
}

// SetSlashingDisabled toggles the baseline no-slash switch.
func (r *Registry) SetSlashingDisabled(on bool) error {
	return r.db.Update(func(tx *store.Tx) error {
		return r.setParams(tx, func(p *Params) error { p.SlashingDisabled = on; return nil })
	})
}

// --- Producer / Consumer registration ---

func (r *Registry) nextNonce(tx *store.Tx) (uint64, error) {
	var n uint64
	err := tx.Get(bucketNonce, keyNonce, &n)
	if err != nil && err != store.ErrNotFound {
		return 0, err
	}
	n++
	if err := tx.Put(bucketNonce, keyNonce, n); err != nil {
		return 0, err
	}
	return n, nil
}

// RegisterProducer registers a new producer. identityHash must be globally
// unique among producers; the id is derived as
// hash(owner ‖ identityHash ‖ nonce).
func (r *Registry) RegisterProducer(owner wire.Address, identityHash, metaHash wire.Hash, payout wire.Address) (wire.Hash, error) {
	if owner == (wire.Address{}) || payout == (wire.Address{}) {
		return wire.Hash{}, ErrZeroAddress
	}
	var id wire.Hash
	err := r.db.Update(func(tx *store.Tx) error {
		if tx.Has(bucketIdentities, "producer:"+identityHash.String()) {
			return ErrSystemAlreadyRegistered
		}
		nonce, err := r.nextNonce(tx)
		if err != nil {
			return err
		}
		var nonceBuf [8]byte
		binary.BigEndian.PutUint64(nonceBuf[:], nonce)
		id = wire.Keccak256(owner[:], identityHash[:], nonceBuf[:])

		p := Producer{ID: id, IdentityHash: identityHash, MetaHash: metaHash, PayoutAddr: payout, Owner: owner, Active: true}
		if err := tx.Put(bucketProducers, id.String(), p); err != nil {
			return err
		}
		return tx.Put(bucketIdentities, "producer:"+identityHash.String(), true)
	})
	if err != nil {
		return wire.Hash{}, err
	}
	return id, nil
}

// RegisterConsumer registers a new consumer. Unlike producers, identityHash
// uniqueness is not enforced.
func (r *Registry) RegisterConsumer(owner wire.Address, identityHash, metaHash wire.Hash, payout wire.Address) (wire.Hash, error) {
	if owner == (wire.Address{}) || payout == (wire.Address{}) {
		return wire.Hash{}, ErrZeroAddress
	}
	var id wire.Hash
	err := r.db.Update(func(tx *store.Tx) error {
		nonce, err := r.nextNonce(tx)
		if err != nil {
			return err
		}
		var nonceBuf [8]byte
		binary.BigEndian.PutUint64(nonceBuf[:], nonce)
		id = wire.Keccak256(owner[:], identityHash[:], nonceBuf[:])

		c := Consumer{ID: id, IdentityHash: identityHash, MetaHash: metaHash, PayoutAddr: payout, Owner: owner, Active: true}
		return tx.Put(bucketConsumers, id.String(), c)
	})
	if err != nil {
		return wire.Hash{}, err
	}
	return id, nil
}

// IsProducerRegistered reports whether id names an active producer.
func (r *Registry) IsProducerRegistered(id wire.Hash) bool {
	var p Producer
	err := r.db.View(func(tx *store.Tx) error { return tx.Get(bucketProducers, id.String(), &p) })
	return err == nil && p.Active
}

// Producer returns the producer record for id.
func (r *Registry) Producer(id wire.Hash) (Producer, error) {
	var p Producer
	err := r.db.View(func(tx *store.Tx) error { return tx.Get(bucketProducers, id.String(), &p) })
	if err == store.ErrNotFound {
		return Producer{}, ErrProducerNotFound
	}
	return p, err
}

// IsConsumerRegistered reports whether id names an active consumer.
func (r *Registry) IsConsumerRegistered(id wire.Hash) bool {
	var c Consumer
	err := r.db.View(func(tx *store.Tx) error { return tx.Get(bucketConsumers, id.String(), &c) })
	return err == nil && c.Active
}

// Consumer returns the consumer record for id.
func (r *Registry) Consumer(id wire.Hash) (Consumer, error) {
	var c Consumer
	err := r.db.View(func(tx *store.Tx) error { return tx.Get(bucketConsumers, id.String(), &c) })
	if err == store.ErrNotFound {
		return Consumer{}, ErrConsumerNotFound
	}
	return c, err
}

// --- Verifier stake/activation lifecycle ---

func (r *Registry) getVerifier(tx *store.Tx, addr wire.Address) (Verifier, error) {
	var v Verifier
	err := tx.Get(bucketVerifiers, addr.String(), &v)
	if err == store.ErrNotFound {
		return Verifier{}, nil
	}
	return v, err
}

// StakeAsVerifier escrows amount of stake-token from caller into their
// verifier record. Activation is a separate call.
func (r *Registry) StakeAsVerifier(caller wire.Address, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	return r.db.Update(func(tx *store.Tx) error {
		v, err := r.getVerifier(tx, caller)
		if err != nil {
			return err
		}
		if r.stake != nil {
			if err := r.stake.TransferFrom(caller, r.self, amount); err != nil {
				return fmt.Errorf("%w: %v", ErrInsufficientStakeBalance, err)
			}
		}
		v.Stake += amount
		return tx.Put(bucketVerifiers, caller.String(), v)
	})
}

// Unstake returns amount of stake to caller. Fails while active, or if
// amount exceeds the current stake.
func (r *Registry) Unstake(caller wire.Address, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	return r.db.Update(func(tx *store.Tx) error {
		v, err := r.getVerifier(tx, caller)
		if err != nil {
			return err
		}
		if v.Active {
			return ErrActiveWhileStaked
		}
		if amount > v.Stake {
			return ErrInsufficientStake
		}
		v.Stake -= amount
		if r.stake != nil {
			if err := r.stake.TransferFrom(r.self, caller, amount); err != nil {
				return err
			}
		}
		return tx.Put(bucketVerifiers, caller.String(), v)
	})
}

// ActivateVerifier appends caller to the active set, enforcing the
// allowlist (permissioned mode), minimum stake, and the 16-slot bitmap
// ceiling: a 17th entry must be refused rather than let Treasury's bitmap
// iteration silently drop it.
func (r *Registry) ActivateVerifier(caller wire.Address) error {
	return r.db.Update(func(tx *store.Tx) error {
		v, err := r.getVerifier(tx, caller)
		if err != nil {
			return err
		}
		if v.Active {
			return ErrVerifierAlreadyActive
		}
		p, err := r.paramsTx(tx)
		if err != nil {
			return err
		}
		if p.PermissionedMode && !v.Allowlisted {
			return ErrVerifierNotAllowlisted
		}
		if v.Stake < p.MinStake {
			return ErrInsufficientStake
		}

		set, err := r.activeSetTx(tx)
		if err != nil {
			return err
		}
		if len(set) >= bitmap.MaxVerifiers {
			return ErrActiveSetFull
		}
		set = append(set, caller)
		if err := tx.Put(bucketActiveSet, keyActiveSet, set); err != nil {
			return err
		}

		v.Active = true
		v.Position = len(set) // 1-indexed
		return tx.Put(bucketVerifiers, caller.String(), v)
	})
}

// DeactivateVerifier removes caller from the active set via swap-and-pop,
// preserving O(1) removal; stake is untouched.
func (r *Registry) DeactivateVerifier(caller wire.Address) error {
	return r.db.Update(func(tx *store.Tx) error {
		v, err := r.getVerifier(tx, caller)
		if err != nil {
			return err
		}
		if !v.Active {
			return ErrVerifierNotActive
		}
		set, err := r.activeSetTx(tx)
		if err != nil {
			return err
		}
		idx := v.Position - 1
		last := len(set) - 1
		removed := set[idx]
		if removed != caller {
			return fmt.Errorf("registry: active set corrupted at position %d", v.Position)
		}
		if idx != last {
			set[idx] = set[last]
			var moved Verifier
			if err := tx.Get(bucketVerifiers, set[idx].String(), &moved); err != nil {
				return err
			}
			moved.Position = idx + 1
			if err := tx.Put(bucketVerifiers, set[idx].String(), moved); err != nil {
				return err
			}
		}
		set = set[:last]
		if err := tx.Put(bucketActiveSet, keyActiveSet, set); err != nil {
			return err
		}

		v.Active = false
		v.Position = 0
		return tx.Put(bucketVerifiers, caller.String(), v)
	})
}

// SetAllowlisted is an admin operation gating activation in permissioned
// mode.
func (r *Registry) SetAllowlisted(addr wire.Address, allowed bool) error {
	return r.db.Update(func(tx *store.Tx) error {
		v, err := r.getVerifier(tx, addr)
		if err != nil {
			return err
		}
		v.Allowlisted = allowed
		return tx.Put(bucketVerifiers, addr.String(), v)
	})
}

// Verifier returns the stored record for addr.
func (r *Registry) Verifier(addr wire.Address) (Verifier, error) {
	var v Verifier
	err := r.db.View(func(tx *store.Tx) error { return tx.Get(bucketVerifiers, addr.String(), &v) })
	if err == store.ErrNotFound {
		return Verifier{}, nil
	}
	return v, err
}

func (r *Registry) activeSetTx(tx *store.Tx) ([]wire.Address, error) {
	var set []wire.Address
	err := tx.Get(bucketActiveSet, keyActiveSet, &set)
	if err == store.ErrNotFound {
		return nil, nil
	}
	return set, err
}

func (r *Registry) paramsTx(tx *store.Tx) (Params, error) {
	var p Params
	err := tx.Get(bucketParams, keyParams, &p)
	return p, err
}

// --- Treasury-authorized mutations ---

// ReduceStake slashes amount from verifier's stake. Restricted to the
// configured treasury authority.
func (r *Registry) ReduceStake(caller, verifier wire.Address, amount uint64) error {
	return r.db.Update(func(tx *store.Tx) error {
		return r.ReduceStakeTx(tx, caller, verifier, amount)
	})
}

// ReduceStakeTx is the transaction-scoped form of ReduceStake, for callers
// (Treasury, via Oracle's finalize path) that are already inside a bbolt
// transaction on the same underlying DB and must not open a second one.
func (r *Registry) ReduceStakeTx(tx *store.Tx, caller, verifier wire.Address, amount uint64) error {
	if caller != r.treasuryAuthority {
		return ErrOnlyTreasury
	}
	v, err := r.getVerifier(tx, verifier)
	if err != nil {
		return err
	}
	if amount > v.Stake {
		amount = v.Stake
	}
	v.Stake -= amount
	return tx.Put(bucketVerifiers, verifier.String(), v)
}

// IncrementFaults increments verifier's fault counter by one. Restricted to
// the configured treasury authority.
func (r *Registry) IncrementFaults(caller, verifier wire.Address) (uint32, error) {
	var faults uint32
	err := r.db.Update(func(tx *store.Tx) error {
		var err error
		faults, err = r.IncrementFaultsTx(tx, caller, verifier)
		return err
	})
	return faults, err
}

// IncrementFaultsTx is the transaction-scoped form of IncrementFaults.
func (r *Registry) IncrementFaultsTx(tx *store.Tx, caller, verifier wire.Address) (uint32, error) {
	if caller != r.treasuryAuthority {
		return 0, ErrOnlyTreasury
	}
	v, err := r.getVerifier(tx, verifier)
	if err != nil {
		return 0, err
	}
	v.Faults++
	if err := tx.Put(bucketVerifiers, verifier.String(), v); err != nil {
		return 0, err
	}
	return v.Faults, nil
}

// --- Snapshots ---

// CreateSnapshot captures the current active set, sorted ascending by
// address, under claimKey. Authorized-oracle only.
func (r *Registry) CreateSnapshot(caller wire.Address, kind OracleKind, claimKey wire.Hash) (uint64, error) {
	var id uint64
	err := r.db.Update(func(tx *store.Tx) error {
		var err error
		id, err = r.CreateSnapshotTx(tx, caller, kind, claimKey)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CreateSnapshotTx is the transaction-scoped form of CreateSnapshot, used by
// Oracle.Submit which is already inside its own bbolt transaction.
func (r *Registry) CreateSnapshotTx(tx *store.Tx, caller wire.Address, kind OracleKind, claimKey wire.Hash) (uint64, error) {
	if caller != r.oracleAuthority[kind] {
		return 0, ErrOnlyAuthorizedOracle
	}
	if tx.Has(bucketClaimToSnap, claimKey.String()) {
		return 0, ErrSnapshotAlreadyExists
	}
	set, err := r.activeSetTx(tx)
	if err != nil {
		return 0, err
	}
	if len(set) == 0 {
		return 0, ErrNoActiveVerifiers
	}
	sorted := append([]wire.Address(nil), set...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	seq, err := tx.NextSequence(bucketSnapshotSeq)
	if err != nil {
		return 0, err
	}
	id := seq

	snap := Snapshot{ID: id, Verifiers: sorted, Timestamp: time.Now().Unix()}
	if err := tx.Put(bucketSnapshots, snapshotKey(id), snap); err != nil {
		return 0, err
	}
	if err := tx.Put(bucketClaimToSnap, claimKey.String(), id); err != nil {
		return 0, err
	}
	return id, nil
}

// SnapshotTx is the transaction-scoped form of Snapshot.
func (r *Registry) SnapshotTx(tx *store.Tx, id uint64) (Snapshot, error) {
	var s Snapshot
	err := tx.Get(bucketSnapshots, snapshotKey(id), &s)
	if err == store.ErrNotFound {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return s, err
}

// GetVerifierIndexTx is the transaction-scoped form of GetVerifierIndex.
func (r *Registry) GetVerifierIndexTx(tx *store.Tx, id uint64, addr wire.Address) (uint8, error) {
	s, err := r.SnapshotTx(tx, id)
	if err != nil {
		return 0, err
	}
	for i, v := range s.Verifiers {
		if v == addr {
			return uint8(i), nil
		}
	}
	return 0, ErrVerifierNotInSnapshot
}

// VerifierTx is the transaction-scoped form of Verifier.
func (r *Registry) VerifierTx(tx *store.Tx, addr wire.Address) (Verifier, error) {
	return r.getVerifier(tx, addr)
}

// ParamsTx is the transaction-scoped form of Params.
func (r *Registry) ParamsTx(tx *store.Tx) (Params, error) {
	return r.paramsTx(tx)
}

func snapshotKey(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

// SnapshotForClaim returns the snapshot id created for claimKey, if any.
func (r *Registry) SnapshotForClaim(claimKey wire.Hash) (uint64, bool, error) {
	var id uint64
	err := r.db.View(func(tx *store.Tx) error { return tx.Get(bucketClaimToSnap, claimKey.String(), &id) })
	if err == store.ErrNotFound {
		return 0, false, nil
	}
	return id, err == nil, err
}

// Snapshot returns the stored snapshot record for id.
func (r *Registry) Snapshot(id uint64) (Snapshot, error) {
	var s Snapshot
	err := r.db.View(func(tx *store.Tx) error { return tx.Get(bucketSnapshots, snapshotKey(id), &s) })
	if err == store.ErrNotFound {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return s, err
}

// GetVerifierIndex linearly scans the snapshot (≤16 entries) for addr,
// returning its bitmap bit position.
func (r *Registry) GetVerifierIndex(id uint64, addr wire.Address) (uint8, error) {
	s, err := r.Snapshot(id)
	if err != nil {
		return 0, err
	}
	for i, v := range s.Verifiers {
		if v == addr {
			return uint8(i), nil
		}
	}
	return 0, ErrVerifierNotInSnapshot
}
