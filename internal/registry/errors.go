package registry

import "errors"

// Error kinds that Registry itself raises.
var (
	ErrZeroAddress            = errors.New("registry: zero address")
	ErrSystemAlreadyRegistered = errors.New("registry: identity already registered")
	ErrProducerNotFound       = errors.New("registry: producer not found")
	ErrConsumerNotFound       = errors.New("registry: consumer not found")

	ErrZeroAmount             = errors.New("registry: zero amount")
	ErrInsufficientStakeBalance = errors.New("registry: insufficient stake-token balance")
	ErrInsufficientStake      = errors.New("registry: stake below minimum")
	ErrVerifierAlreadyActive  = errors.New("registry: verifier already active")
	ErrVerifierNotActive      = errors.New("registry: verifier not active")
	ErrVerifierNotAllowlisted = errors.New("registry: verifier not allowlisted")
	ErrNoActiveVerifiers      = errors.New("registry: no active verifiers")
	ErrActiveSetFull          = errors.New("registry: active verifier set at capacity")
	ErrActiveWhileStaked      = errors.New("registry: cannot unstake while active")

	ErrSnapshotAlreadyExists = errors.New("registry: snapshot already exists for claim key")
	ErrSnapshotNotFound      = errors.New("registry: snapshot not found")
	ErrVerifierNotInSnapshot = errors.New("registry: verifier not in snapshot")

	ErrOnlyAuthorizedOracle = errors.New("registry: caller is not an authorized oracle")
	ErrOnlyTreasury         = errors.New("registry: caller is not the treasury")

	ErrInvalidQuorumBps = errors.New("registry: quorum bps must be in (0, 10000]")
)
