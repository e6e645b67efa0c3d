package treasury

import "errors"

var (
	ErrInsufficientRewardPool  = errors.New("treasury: insufficient reward pool")
	ErrFaultThresholdNotReached = errors.New("treasury: fault threshold not reached")
	ErrAlreadySlashed          = errors.New("treasury: verifier already slashed")
	ErrInsufficientPoolBalance = errors.New("treasury: insufficient pool balance")
)
