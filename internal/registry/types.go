package registry

import "github.com/artfain/triad-credits/internal/wire"

// Verifier is the authoritative per-address verifier record.
type Verifier struct {
	Stake       uint64
	Faults      uint32
	Active      bool
	Allowlisted bool
	// Position is the 1-indexed slot in the active set, 0 when inactive;
	// it exists purely so DeactivateVerifier is O(1) swap-and-pop.
	Position int
}

// Producer is an opaque-identity energy producer.
type Producer struct {
	ID           wire.Hash
	IdentityHash wire.Hash
	MetaHash     wire.Hash
	PayoutAddr   wire.Address
	Owner        wire.Address
	Active       bool
}

// Consumer is an opaque-identity energy consumer.
type Consumer struct {
	ID           wire.Hash
	IdentityHash wire.Hash
	MetaHash     wire.Hash
	PayoutAddr   wire.Address
	Owner        wire.Address
	Active       bool
}

// Snapshot is the immutable, sorted verifier set captured for one claim key.
// Index into Verifiers is the meaning of every bitmap bit for that claim.
type Snapshot struct {
	ID        uint64
	Verifiers []wire.Address
	Timestamp int64
}

// Params holds the shared, admin-tunable configuration.
type Params struct {
	QuorumBps              uint32
	ClaimWindowSeconds      int64
	RewardPerWhWei         uint64
	SlashBps               uint32
	FaultThreshold         uint32
	MinStake               uint64
	PermissionedMode       bool
	BaselineMode           bool
	SlashingDisabled       bool
	SingleVerifierOverride *wire.Address
}

// DefaultParams returns the documented starting configuration.
func DefaultParams() Params {
	return Params{
		QuorumBps:         6667,
		ClaimWindowSeconds: 3600,
		RewardPerWhWei:    1_000_000_000_000,
		SlashBps:          1000,
		FaultThreshold:    3,
		MinStake:          100,
		PermissionedMode:  true,
		BaselineMode:      false,
		SlashingDisabled:  false,
	}
}
