package oracle_test

import (
	"crypto/ecdsa"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/artfain/triad-credits/internal/eventlog"
	"github.com/artfain/triad-credits/internal/oracle"
	"github.com/artfain/triad-credits/internal/registry"
	"github.com/artfain/triad-credits/internal/store"
	"github.com/artfain/triad-credits/internal/token"
	"github.com/artfain/triad-credits/internal/treasury"
	"github.com/artfain/triad-credits/internal/wire"
)

type verifier struct {
	priv *ecdsa.PrivateKey
	addr wire.Address
}

func newVerifier(t *testing.T) verifier {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	return verifier{priv: priv, addr: wire.AddressFromPublicKey(&priv.PublicKey)}
}

type harness struct {
	reg    *registry.Registry
	tr     *treasury.Treasury
	prod   *oracle.Oracle
	credit *token.MemCreditToken
	stake  *token.MemStakeToken
	admin  wire.Address
}

// harnessFunder holds the stake tokens that fund the reward pool and that
// tests hand out to verifiers staking outside newHarness.
var harnessFunder = wire.Address{0xEE}

func newHarness(t *testing.T, verifiers []verifier) harness {
	t.Helper()
	buckets := append(append(registry.Buckets(), treasury.Buckets()...), oracle.Buckets()...)
	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"), buckets...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log, err := eventlog.Open(filepath.Join(t.TempDir(), "events"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	treasuryFunder := harnessFunder
	balances := map[wire.Address]uint64{treasuryFunder: 10_000_000_000_000_000}
	for _, v := range verifiers {
		balances[v.addr] = 1000
	}
	stake := token.NewMemStakeToken(balances)
	reg, err := registry.New(db, stake, treasuryFunder)
	require.NoError(t, err)
	tr := treasury.New(db, reg, wire.Address{0xF0}, stake, log)
	reg.SetTreasuryAuthority(tr.Self())
	require.NoError(t, tr.Fund(treasuryFunder, 1_000_000_000_000_000))

	credit := token.NewMemCreditToken()
	admin := wire.Address{0xAD, 0x01}
	prod := oracle.NewProductionOracle(db, reg, tr, log, wire.Address{0x01, 0x01}, admin, 1, credit)
	reg.SetOracleAuthority(registry.OracleProduction, prod.Self())

	for _, v := range verifiers {
		require.NoError(t, reg.SetAllowlisted(v.addr, true))
		require.NoError(t, reg.StakeAsVerifier(v.addr, 1000))
		require.NoError(t, reg.ActivateVerifier(v.addr))
	}
	return harness{reg: reg, tr: tr, prod: prod, credit: credit, stake: stake, admin: admin}
}

func sign(t *testing.T, o *oracle.Oracle, v verifier, subjectID wire.Hash, hourID, wh uint64, evidenceRoot wire.Hash) []byte {
	t.Helper()
	digest := wire.SubmissionDigest(1, o.Self(), subjectID, hourID, wh, evidenceRoot)
	sig, err := wire.Sign(digest, v.priv)
	require.NoError(t, err)
	return sig
}

func TestSubmitBaselineModeFinalizesImmediately(t *testing.T) {
	v1 := newVerifier(t)
	h := newHarness(t, []verifier{v1})
	require.NoError(t, h.reg.SetBaselineMode(true, &v1.addr))

	owner := wire.Address{0x02}
	payout := wire.Address{0x03}
	producerID, err := h.reg.RegisterProducer(owner, wire.Hash{0x10}, wire.Hash{0x11}, payout)
	require.NoError(t, err)

	evidenceRoot := wire.Hash{0x20}
	sig := sign(t, h.prod, v1, producerID, 1, 500, evidenceRoot)

	require.NoError(t, h.prod.Submit(producerID, 1, 500, evidenceRoot, sig))

	claim, err := h.prod.Claim(producerID, 1)
	require.NoError(t, err)
	require.True(t, claim.Finalized)
	require.Equal(t, uint64(500), claim.VerifiedWh)

	require.Equal(t, uint64(500), h.credit.BalanceOf(payout, 1))
}

func TestSubmitRejectsInactiveVerifier(t *testing.T) {
	v1 := newVerifier(t)
	h := newHarness(t, nil) // v1 staked but never activated

	require.NoError(t, h.stake.TransferFrom(harnessFunder, v1.addr, 1000))
	require.NoError(t, h.reg.SetAllowlisted(v1.addr, true))
	require.NoError(t, h.reg.StakeAsVerifier(v1.addr, 1000))

	owner := wire.Address{0x02}
	producerID, err := h.reg.RegisterProducer(owner, wire.Hash{0x10}, wire.Hash{0x11}, wire.Address{0x03})
	require.NoError(t, err)

	evidenceRoot := wire.Hash{0x20}
	sig := sign(t, h.prod, v1, producerID, 1, 500, evidenceRoot)
	err = h.prod.Submit(producerID, 1, 500, evidenceRoot, sig)
	require.ErrorIs(t, err, oracle.ErrVerifierNotActive)
}

func TestSubmitRejectsDuplicateAndRecordsFault(t *testing.T) {
	v1 := newVerifier(t)
	h := newHarness(t, []verifier{v1})

	owner := wire.Address{0x02}
	producerID, err := h.reg.RegisterProducer(owner, wire.Hash{0x10}, wire.Hash{0x11}, wire.Address{0x03})
	require.NoError(t, err)

	evidenceRoot := wire.Hash{0x20}
	sig := sign(t, h.prod, v1, producerID, 1, 500, evidenceRoot)
	require.NoError(t, h.prod.Submit(producerID, 1, 500, evidenceRoot, sig))

	err = h.prod.Submit(producerID, 1, 500, evidenceRoot, sig)
	require.ErrorIs(t, err, oracle.ErrDuplicateSubmission)

	got, err := h.reg.Verifier(v1.addr)
	require.NoError(t, err)
	require.Equal(t, uint32(1), got.Faults)
}

func TestFinalizeQuorumRewardsWinnersAndFaultsLosers(t *testing.T) {
	v1, v2, v3 := newVerifier(t), newVerifier(t), newVerifier(t)
	h := newHarness(t, []verifier{v1, v2, v3})
	require.NoError(t, h.reg.SetClaimWindow(1))
	require.NoError(t, h.reg.SetQuorumBps(5000)) // 2-of-3 agreeing meets a 50% quorum

	owner := wire.Address{0x02}
	payout := wire.Address{0x03}
	producerID, err := h.reg.RegisterProducer(owner, wire.Hash{0x10}, wire.Hash{0x11}, payout)
	require.NoError(t, err)

	winningRoot := wire.Hash{0x20}
	losingRoot := wire.Hash{0x30}

	require.NoError(t, h.prod.Submit(producerID, 1, 500, winningRoot, sign(t, h.prod, v1, producerID, 1, 500, winningRoot)))
	require.NoError(t, h.prod.Submit(producerID, 1, 500, winningRoot, sign(t, h.prod, v2, producerID, 1, 500, winningRoot)))
	require.NoError(t, h.prod.Submit(producerID, 1, 999, losingRoot, sign(t, h.prod, v3, producerID, 1, 999, losingRoot)))

	time.Sleep(2 * time.Second)
	require.NoError(t, h.prod.Finalize(producerID, 1))

	claim, err := h.prod.Claim(producerID, 1)
	require.NoError(t, err)
	require.True(t, claim.Finalized)
	require.Equal(t, uint64(500), claim.VerifiedWh)
	require.Equal(t, uint64(500), h.credit.BalanceOf(payout, 1))

	lost, err := h.reg.Verifier(v3.addr)
	require.NoError(t, err)
	require.Equal(t, uint32(1), lost.Faults)

	won, err := h.reg.Verifier(v1.addr)
	require.NoError(t, err)
	require.Equal(t, uint32(0), won.Faults)

	pending, err := h.tr.PendingRewards(v1.addr)
	require.NoError(t, err)
	require.NotZero(t, pending)
}

func TestFinalizeBelowQuorumDisputesAndForceFinalizeOverrides(t *testing.T) {
	v1, v2, v3 := newVerifier(t), newVerifier(t), newVerifier(t)
	h := newHarness(t, []verifier{v1, v2, v3})
	require.NoError(t, h.reg.SetClaimWindow(1))
	require.NoError(t, h.reg.SetQuorumBps(6667))

	owner := wire.Address{0x02}
	producerID, err := h.reg.RegisterProducer(owner, wire.Hash{0x10}, wire.Hash{0x11}, wire.Address{0x03})
	require.NoError(t, err)

	rootA, rootB, rootC := wire.Hash{0x20}, wire.Hash{0x30}, wire.Hash{0x40}
	require.NoError(t, h.prod.Submit(producerID, 1, 100, rootA, sign(t, h.prod, v1, producerID, 1, 100, rootA)))
	require.NoError(t, h.prod.Submit(producerID, 1, 200, rootB, sign(t, h.prod, v2, producerID, 1, 200, rootB)))
	require.NoError(t, h.prod.Submit(producerID, 1, 300, rootC, sign(t, h.prod, v3, producerID, 1, 300, rootC)))

	time.Sleep(2 * time.Second)
	require.NoError(t, h.prod.Finalize(producerID, 1))

	claim, err := h.prod.Claim(producerID, 1)
	require.NoError(t, err)
	require.True(t, claim.Disputed)
	require.False(t, claim.Finalized)

	require.ErrorIs(t, h.prod.ForceFinalize(wire.Address{0x99}, producerID, 1, 500, rootA), oracle.ErrNotOwner)
	require.ErrorIs(t, h.prod.ForceFinalize(h.admin, producerID, 1, 500, rootA), oracle.ErrEnergyExceedsMaxSubmitted)

	require.NoError(t, h.prod.ForceFinalize(h.admin, producerID, 1, 200, rootB))
	claim, err = h.prod.Claim(producerID, 1)
	require.NoError(t, err)
	require.True(t, claim.Finalized)
	require.Equal(t, uint64(200), claim.VerifiedWh)
	require.Equal(t, uint64(0), uint64(claim.WinningVerifierBitmap))
}
