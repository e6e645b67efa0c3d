package wire

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestSignRecoverRoundTrip(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	want := AddressFromPublicKey(&priv.PublicKey)

	digest := SubmissionDigest(1, Address{0xAA}, Hash{0xBB}, 42, 1000, Hash{0xCC})
	sig, err := Sign(digest, priv)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	got, err := Recover(digest, sig)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestRecoverRejectsMalformedSignature(t *testing.T) {
	digest := SubmissionDigest(1, Address{}, Hash{}, 0, 0, Hash{})
	_, err := Recover(digest, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestClaimKeyDomainSeparation(t *testing.T) {
	oracle := Address{0x01}
	subject := Hash{0x02}

	prod := ClaimKey(ClaimTagProduction, oracle, subject, 5)
	cons := ClaimKey(ClaimTagConsumption, oracle, subject, 5)
	require.NotEqual(t, prod, cons, "claim tags must domain-separate identical (oracle, subject, hour) tuples")

	again := ClaimKey(ClaimTagProduction, oracle, subject, 5)
	require.Equal(t, prod, again, "claim key derivation must be deterministic")
}

func TestValueHashDistinguishesWhAndEvidence(t *testing.T) {
	root := Hash{0x01}
	a := ValueHash(100, root)
	b := ValueHash(200, root)
	require.NotEqual(t, a, b)

	c := ValueHash(100, Hash{0x02})
	require.NotEqual(t, a, c)
}

func TestAddressLess(t *testing.T) {
	low := Address{0x00, 0x01}
	high := Address{0x00, 0x02}
	require.True(t, low.Less(high))
	require.False(t, high.Less(low))
	require.False(t, low.Less(low))
}

func TestHexRoundTrip(t *testing.T) {
	h := Hash{0x01, 0x02, 0x03}
	parsed, err := HashFromHex(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)

	a := Address{0x0A, 0x0B}
	parsedAddr, err := AddressFromHex(a.String())
	require.NoError(t, err)
	require.Equal(t, a, parsedAddr)

	_, err = HashFromHex("0xdead")
	require.ErrorIs(t, err, ErrMalformedHex)
}
