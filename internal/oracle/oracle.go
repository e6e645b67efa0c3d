package oracle

import (
	"time"

	"github.com/artfain/triad-credits/internal/eventlog"
	"github.com/artfain/triad-credits/internal/registry"
	"github.com/artfain/triad-credits/internal/store"
	"github.com/artfain/triad-credits/internal/treasury"
	"github.com/artfain/triad-credits/internal/wire"
)

const (
	bucketClaims    = "oracle.claims"
	bucketTallies   = "oracle.tallies"
	bucketSubmitted = "oracle.submitted"
	bucketEvidence  = "oracle.evidence"
)

// Oracle implements the production/consumption claim-resolution protocol.
// The two concrete oracles differ only in which subjects they accept and
// what they do once a claim finalizes — modeled as injected functions
// rather than a type hierarchy, since the two resolution paths share every
// other step.
type Oracle struct {
	db       *store.DB
	reg      *registry.Registry
	treasury *treasury.Treasury
	log      *eventlog.Log

	self    wire.Address
	admin   wire.Address
	chainID uint64
	kind    registry.OracleKind
	tag     wire.ClaimTag

	validateSubject SubjectValidator
	onFinalize      FinalizeEffect
}

func claimKeyKey(k wire.Hash) string { return k.String() }

func tallyKey(claimKey, valueHash wire.Hash) string {
	return claimKey.String() + ":" + valueHash.String()
}

func submittedKey(claimKey wire.Hash, signer wire.Address) string {
	return claimKey.String() + ":" + signer.String()
}

func evidenceKey(claimKey wire.Hash, root wire.Hash) string {
	return claimKey.String() + ":" + root.String()
}

// New constructs an Oracle. self is the address used both as the
// oracleAddress term in claim-key/digest derivation and as the authorized
// caller Oracle presents to Registry.CreateSnapshot. admin is the sole
// address authorized to call ForceFinalize.
func New(
	db *store.DB, reg *registry.Registry, tr *treasury.Treasury, log *eventlog.Log,
	self, admin wire.Address, chainID uint64, kind registry.OracleKind, tag wire.ClaimTag,
	validateSubject SubjectValidator, onFinalize FinalizeEffect,
) *Oracle {
	return &Oracle{
		db: db, reg: reg, treasury: tr, log: log,
		self: self, admin: admin, chainID: chainID, kind: kind, tag: tag,
		validateSubject: validateSubject, onFinalize: onFinalize,
	}
}

// Buckets lists every bucket this package expects to exist, including the
// consumption oracle's verified-value store.
func Buckets() []string {
	return []string{bucketClaims, bucketTallies, bucketSubmitted, bucketEvidence, bucketVerifiedConsumption}
}

// Self returns the oracle's own address, for wiring into
// Registry.SetOracleAuthority.
func (o *Oracle) Self() wire.Address { return o.self }

func (o *Oracle) emit(kind eventlog.Kind, payload map[string]any) {
	if o.log == nil {
		return
	}
	_, _ = o.log.Append(kind, payload)
}

func (o *Oracle) claimKeyFor(subjectID wire.Hash, hourID uint64) wire.Hash {
	return wire.ClaimKey(o.tag, o.self, subjectID, hourID)
}

func (o *Oracle) getClaim(tx *store.Tx, claimKey wire.Hash) (ClaimBucket, error) {
	var c ClaimBucket
	err := tx.Get(bucketClaims, claimKeyKey(claimKey), &c)
	if err == store.ErrNotFound {
		return ClaimBucket{}, nil
	}
	return c, err
}

// Submit validates and records a single verifier's signed reading, creating
// the claim's snapshot on first submission and finalizing immediately if
// baseline mode's single-verifier override applies.
func (o *Oracle) Submit(subjectID wire.Hash, hourID, wh uint64, evidenceRoot wire.Hash, signature []byte) error {
	if o.tag == wire.ClaimTagRetirement {
		return ErrUnsupportedClaimTag
	}
	claimKey := o.claimKeyFor(subjectID, hourID)

	// rejected carries a submission error whose fault record must still
	// commit: the transaction returns nil so the fault persists.
	var rejected error
	err := o.db.Update(func(tx *store.Tx) error {
		claim, err := o.getClaim(tx, claimKey)
		if err != nil {
			return err
		}

		// 1. already finalized.
		if claim.Finalized {
			return ErrClaimAlreadyFinalized
		}

		// 2. subject registration.
		if o.validateSubject != nil && !o.validateSubject(subjectID) {
			return ErrSubjectNotRegistered
		}

		// 3. recover the signer.
		digest := wire.SubmissionDigest(o.chainID, o.self, subjectID, hourID, wh, evidenceRoot)
		signer, err := wire.Recover(digest, signature)
		if err != nil {
			return ErrInvalidSignature
		}

		// 4. signer must be an active verifier.
		v, err := o.reg.VerifierTx(tx, signer)
		if err != nil {
			return err
		}
		if !v.Active {
			return ErrVerifierNotActive
		}

		// 5. first submission creates the snapshot and deadline.
		isFirst := claim.SnapshotID == 0
		if isFirst {
			snapID, err := o.reg.CreateSnapshotTx(tx, o.self, o.kind, claimKey)
			if err != nil {
				return err
			}
			claim.SnapshotID = snapID
			p, err := o.reg.ParamsTx(tx)
			if err != nil {
				return err
			}
			claim.Deadline = time.Now().Unix() + p.ClaimWindowSeconds
			snap, err := o.reg.SnapshotTx(tx, snapID)
			if err != nil {
				return err
			}
			o.emit(eventlog.SnapshotCreated, map[string]any{
				"claimKey": claimKey.String(), "snapshotId": snapID, "count": len(snap.Verifiers),
			})
		}

		// 6. deadline check.
		if time.Now().Unix() > claim.Deadline {
			if err := o.treasury.RecordFaultTx(tx, signer, treasury.FaultLateSubmission); err != nil {
				return err
			}
			rejected = ErrClaimDeadlinePassed
			return nil
		}

		// 7. resolve verifier index in the snapshot.
		verifierIdx, err := o.reg.GetVerifierIndexTx(tx, claim.SnapshotID, signer)
		if err != nil {
			return ErrVerifierNotInSnapshot
		}

		// 8. duplicate-submission check.
		var already bool
		err = tx.Get(bucketSubmitted, submittedKey(claimKey, signer), &already)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		if already {
			if err := o.treasury.RecordFaultTx(tx, signer, treasury.FaultDuplicateSubmission); err != nil {
				return err
			}
			rejected = ErrDuplicateSubmission
			return nil
		}

		// 9. mark submitted, update bitmap/counters.
		if err := tx.Put(bucketSubmitted, submittedKey(claimKey, signer), true); err != nil {
			return err
		}
		claim.AllSubmittersBitmap = claim.AllSubmittersBitmap.Set(verifierIdx)
		claim.SubmissionCount++
		if wh > claim.MaxSubmittedWh {
			claim.MaxSubmittedWh = wh
		}
		if err := tx.Put(bucketEvidence, evidenceKey(claimKey, evidenceRoot), true); err != nil {
			return err
		}

		// 10. upsert the value tally.
		valueHash := wire.ValueHash(wh, evidenceRoot)
		var tally ValueTally
		err = tx.Get(bucketTallies, tallyKey(claimKey, valueHash), &tally)
		firstSeen := err == store.ErrNotFound
		if err != nil && !firstSeen {
			return err
		}
		if firstSeen {
			tally = ValueTally{EvidenceRoot: evidenceRoot, Wh: wh}
			claim.ValueHashOrder = append(claim.ValueHashOrder, valueHash)
		}
		tally.Count++
		tally.Bitmap = tally.Bitmap.Set(verifierIdx)
		if err := tx.Put(bucketTallies, tallyKey(claimKey, valueHash), tally); err != nil {
			return err
		}

		if err := tx.Put(bucketClaims, claimKeyKey(claimKey), claim); err != nil {
			return err
		}

		// 11. emit Submitted.
		o.emit(eventlog.Submitted, map[string]any{
			"claimKey": claimKey.String(), "verifier": signer.String(), "wh": wh,
			"valueHash": valueHash.String(),
		})

		// 12. baseline shortcut.
		p, err := o.reg.ParamsTx(tx)
		if err != nil {
			return err
		}
		if p.BaselineMode && p.SingleVerifierOverride != nil && signer == *p.SingleVerifierOverride {
			return o.finalizeWithValue(tx, subjectID, hourID, claimKey, &claim, valueHash, tally)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return rejected
}

// finalizeWithValue performs the shared finalize side effects (mint/store,
// reward distribution, fault recording, event emission) once a winning
// value has been chosen, whether by quorum or by the baseline shortcut.
func (o *Oracle) finalizeWithValue(tx *store.Tx, subjectID wire.Hash, hourID uint64, claimKey wire.Hash, claim *ClaimBucket, winningValueHash wire.Hash, winning ValueTally) error {
	claim.Finalized = true
	claim.VerifiedWh = winning.Wh
	claim.EvidenceRoot = winning.EvidenceRoot
	claim.WinningValueHash = winningValueHash
	claim.WinningVerifierBitmap = winning.Bitmap
	loserBitmap := claim.AllSubmittersBitmap.AndNot(winning.Bitmap)

	if err := tx.Put(bucketClaims, claimKeyKey(claimKey), *claim); err != nil {
		return err
	}

	if o.onFinalize != nil {
		if err := o.onFinalize(tx, subjectID, hourID, claim.VerifiedWh, claimKey); err != nil {
			return err
		}
	}
	o.emit(eventlog.Finalized, map[string]any{
		"claimKey": claimKey.String(), "subjectId": subjectID.String(), "hourId": hourID,
		"wh": claim.VerifiedWh, "evidenceRoot": claim.EvidenceRoot.String(),
	})

	if err := o.treasury.DistributeRewardsTx(tx, claim.WinningVerifierBitmap, claim.SnapshotID, claim.VerifiedWh); err != nil {
		return err
	}
	return o.treasury.RecordFaultsTx(tx, loserBitmap, claim.SnapshotID, treasury.FaultWrongValue)
}

// Finalize resolves consensus for (subjectId, hourId) after the claim
// window has passed.
func (o *Oracle) Finalize(subjectID wire.Hash, hourID uint64) error {
	claimKey := o.claimKeyFor(subjectID, hourID)

	return o.db.Update(func(tx *store.Tx) error {
		claim, err := o.getClaim(tx, claimKey)
		if err != nil {
			return err
		}
		if claim.Finalized {
			return ErrClaimAlreadyFinalized
		}
		if time.Now().Unix() <= claim.Deadline {
			return ErrClaimDeadlineNotReached
		}

		snap, err := o.reg.SnapshotTx(tx, claim.SnapshotID)
		if err != nil {
			return err
		}
		p, err := o.reg.ParamsTx(tx)
		if err != nil {
			return err
		}
		n := uint32(len(snap.Verifiers))
		quorumRequired := (n*p.QuorumBps + 9999) / 10000

		var maxCount uint32
		var winningHash wire.Hash
		var winningTally ValueTally
		for _, vh := range claim.ValueHashOrder {
			var t ValueTally
			if err := tx.Get(bucketTallies, tallyKey(claimKey, vh), &t); err != nil {
				return err
			}
			if t.Count > maxCount {
				maxCount = t.Count
				winningHash = vh
				winningTally = t
			}
		}

		if maxCount < quorumRequired {
			claim.Disputed = true
			if err := tx.Put(bucketClaims, claimKeyKey(claimKey), claim); err != nil {
				return err
			}
			o.emit(eventlog.ClaimDisputed, map[string]any{
				"claimKey": claimKey.String(), "subjectId": subjectID.String(), "hourId": hourID,
				"reason": "quorum not reached",
			})
			return nil
		}

		return o.finalizeWithValue(tx, subjectID, hourID, claimKey, &claim, winningHash, winningTally)
	})
}

// ForceFinalize is the privileged admin override for a disputed claim:
// mints/stores the given value without distributing rewards or recording
// faults, and zeroes winningVerifierBitmap to mark the forced path. caller
// must match the address Oracle was constructed with as admin.
func (o *Oracle) ForceFinalize(caller wire.Address, subjectID wire.Hash, hourID, wh uint64, evidenceRoot wire.Hash) error {
	if caller != o.admin {
		return ErrNotOwner
	}
	claimKey := o.claimKeyFor(subjectID, hourID)

	return o.db.Update(func(tx *store.Tx) error {
		claim, err := o.getClaim(tx, claimKey)
		if err != nil {
			return err
		}
		if !claim.Disputed {
			return ErrClaimNotDisputed
		}
		if time.Now().Unix() <= claim.Deadline {
			return ErrClaimDeadlineNotReached
		}
		if wh > claim.MaxSubmittedWh {
			return ErrEnergyExceedsMaxSubmitted
		}
		var seen bool
		err = tx.Get(bucketEvidence, evidenceKey(claimKey, evidenceRoot), &seen)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		if !seen {
			return ErrEvidenceRootNotSubmitted
		}

		claim.Finalized = true
		claim.VerifiedWh = wh
		claim.EvidenceRoot = evidenceRoot
		claim.WinningVerifierBitmap = 0
		if err := tx.Put(bucketClaims, claimKeyKey(claimKey), claim); err != nil {
			return err
		}

		if o.onFinalize != nil {
			if err := o.onFinalize(tx, subjectID, hourID, wh, claimKey); err != nil {
				return err
			}
		}
		o.emit(eventlog.ForceFinalized, map[string]any{
			"claimKey": claimKey.String(), "admin": caller.String(), "wh": wh,
		})
		return nil
	})
}

// Claim returns the current claim bucket for (subjectId, hourId).
func (o *Oracle) Claim(subjectID wire.Hash, hourID uint64) (ClaimBucket, error) {
	var c ClaimBucket
	err := o.db.View(func(tx *store.Tx) error {
		var err error
		c, err = o.getClaim(tx, o.claimKeyFor(subjectID, hourID))
		return err
	})
	return c, err
}

// ClaimKeyFor exposes the claim-key derivation for external callers (e.g.
// the REST API resolving a path to its underlying claim).
func (o *Oracle) ClaimKeyFor(subjectID wire.Hash, hourID uint64) wire.Hash {
	return o.claimKeyFor(subjectID, hourID)
}
