package oracle

import (
	"github.com/artfain/triad-credits/internal/bitmap"
	"github.com/artfain/triad-credits/internal/store"
	"github.com/artfain/triad-credits/internal/wire"
)

// ClaimBucket tracks one claim's deadline, submissions, and resolution
// state.
type ClaimBucket struct {
	Deadline              int64
	SnapshotID            uint64
	SubmissionCount       uint32
	Finalized             bool
	Disputed              bool
	VerifiedWh            uint64
	MaxSubmittedWh        uint64
	WinningValueHash      wire.Hash
	EvidenceRoot          wire.Hash
	AllSubmittersBitmap   bitmap.Bitmap
	WinningVerifierBitmap bitmap.Bitmap
	// ValueHashOrder preserves insertion order so ties resolve to the
	// first-seen valueHash, a deliberate tiebreak rather than map iteration
	// order.
	ValueHashOrder []wire.Hash
}

// ValueTally aggregates submissions agreeing on one (wh, evidenceRoot) pair.
type ValueTally struct {
	Count        uint32
	Bitmap       bitmap.Bitmap
	EvidenceRoot wire.Hash
	Wh           uint64
}

// SubjectValidator checks whether subjectID names a registered subject
// (producer for the production oracle, consumer for consumption).
type SubjectValidator func(subjectID wire.Hash) bool

// FinalizeEffect performs the post-finalization side effect: minting credit
// units for production, storing the verified value for consumption. It
// runs inside the same bbolt transaction as the finalize call itself, so
// any bbolt writes it performs must go through tx rather than opening a
// new transaction.
type FinalizeEffect func(tx *store.Tx, subjectID wire.Hash, hourID, wh uint64, claimKey wire.Hash) error
