package oracle

import "errors"

// Error kinds that Oracle itself raises.
var (
	ErrClaimAlreadyFinalized  = errors.New("oracle: claim already finalized")
	ErrClaimDeadlinePassed    = errors.New("oracle: claim deadline passed")
	ErrDuplicateSubmission    = errors.New("oracle: duplicate submission")
	ErrInvalidSignature       = errors.New("oracle: invalid signature")
	ErrSubjectNotRegistered   = errors.New("oracle: subject not registered")
	ErrVerifierNotActive      = errors.New("oracle: verifier not active")
	ErrVerifierNotInSnapshot  = errors.New("oracle: verifier not in snapshot")

	ErrClaimDeadlineNotReached = errors.New("oracle: claim deadline not reached")
	ErrClaimNotDisputed        = errors.New("oracle: claim not disputed")
	ErrEnergyExceedsMaxSubmitted = errors.New("oracle: energy exceeds max submitted")
	ErrEvidenceRootNotSubmitted  = errors.New("oracle: evidence root not submitted")

	ErrUnsupportedClaimTag = errors.New("oracle: unsupported claim tag")

	ErrNotOwner = errors.New("oracle: caller is not the authorized admin")
)
