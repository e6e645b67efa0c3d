// Package wire implements the domain-separated digests, claim-key and
// value-hash encodings, and ECDSA signature recovery the core exposes to
// off-chain verifier agents over its wire contract.
package wire

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Address is a 20-byte account identifier, sized to the secp256k1-derived
// address convention used for signature recovery.
type Address [20]byte

// Hash is a 32-byte keccak-256 digest.
type Hash [32]byte

// String renders the address as a 0x-prefixed hex string, used as the
// bucket key throughout internal/store.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Less reports whether a sorts before other as an unsigned big-endian
// integer — the snapshot sort key, with no locale or secondary key.
func (a Address) Less(other Address) bool {
	for i := range a {
		if a[i] != other[i] {
			return a[i] < other[i]
		}
	}
	return false
}

// String renders the hash as a 0x-prefixed hex string.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// ClaimTag domain-separates the three claim families sharing one hash space.
type ClaimTag byte

const (
	ClaimTagProduction  ClaimTag = 0x01
	ClaimTagConsumption ClaimTag = 0x02
	ClaimTagRetirement  ClaimTag = 0x03
)

// Keccak256 hashes the concatenation of data using Keccak-256, the hash
// primitive the wire contract's hash(...) calls all resolve to.
func Keccak256(data ...[]byte) Hash {
	var h Hash
	copy(h[:], crypto.Keccak256(data...))
	return h
}

// ClaimKey derives the stable, externally observable claim bucket key:
// hash(tag ‖ oracle ‖ subjectId ‖ hourId).
func ClaimKey(tag ClaimTag, oracle Address, subjectID Hash, hourID uint64) Hash {
	var hourBuf [8]byte
	binary.BigEndian.PutUint64(hourBuf[:], hourID)
	return Keccak256([]byte{byte(tag)}, oracle[:], subjectID[:], hourBuf[:])
}

// ValueHash derives hash(wh ‖ evidenceRoot), the key used to bucket
// submissions agreeing on the same claimed value.
func ValueHash(wh uint64, evidenceRoot Hash) Hash {
	var whBuf [8]byte
	binary.BigEndian.PutUint64(whBuf[:], wh)
	return Keccak256(whBuf[:], evidenceRoot[:])
}

// SubmissionDigest builds the pre-prefix message hash a verifier signs:
// hash(chainId ‖ oracle ‖ subjectId ‖ hourId ‖ wh ‖ evidenceRoot).
//
// chainId and hourId are encoded as 32-byte big-endian words to match the
// uint256 field width the off-chain submitter packs them as; wh stays a
// tight 8-byte uint64.
func SubmissionDigest(chainID uint64, oracle Address, subjectID Hash, hourID, wh uint64, evidenceRoot Hash) Hash {
	var chainBuf, hourBuf [32]byte
	binary.BigEndian.PutUint64(chainBuf[24:], chainID)
	binary.BigEndian.PutUint64(hourBuf[24:], hourID)
	var whBuf [8]byte
	binary.BigEndian.PutUint64(whBuf[:], wh)
	return Keccak256(chainBuf[:], oracle[:], subjectID[:], hourBuf[:], whBuf[:], evidenceRoot[:])
}

// personalMessageHash applies Ethereum's standard "sign a 32-byte hash"
// personal-message prefix before hashing, matching the convention
// off-chain verifier agents sign under.
func personalMessageHash(digest Hash) Hash {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(digest))
	return Keccak256([]byte(prefix), digest[:])
}

// ErrInvalidSignature is returned when recovery fails or yields the zero
// address.
var ErrInvalidSignature = errors.New("wire: invalid signature")

// Recover recovers the signer address from a 65-byte ECDSA signature over
// digest, after applying the personal-message prefix.
func Recover(digest Hash, signature []byte) (Address, error) {
	if len(signature) != 65 {
		return Address{}, ErrInvalidSignature
	}
	prefixed := personalMessageHash(digest)

	// crypto.SigToPub expects the recovery id in the last byte as 0/1.
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(prefixed[:], sig)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	addr := crypto.PubkeyToAddress(*pub)
	var out Address
	copy(out[:], addr[:])
	if out == (Address{}) {
		return Address{}, ErrInvalidSignature
	}
	return out, nil
}

// Sign signs digest with priv after applying the personal-message prefix,
// mirroring the off-chain submitter's ClaimSigner.sign_claim. Used by tests
// and by local fixtures; real verifier agents sign out-of-process.
func Sign(digest Hash, priv *ecdsa.PrivateKey) ([]byte, error) {
	prefixed := personalMessageHash(digest)
	sig, err := crypto.Sign(prefixed[:], priv)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// AddressFromPublicKey derives the 20-byte address used throughout this
// package from an ECDSA public key, for fixture/test setup.
func AddressFromPublicKey(pub *ecdsa.PublicKey) Address {
	var out Address
	copy(out[:], crypto.PubkeyToAddress(*pub).Bytes())
	return out
}

// ErrMalformedHex is returned by the HexFrom* helpers when the input isn't
// a validly-sized hex string.
var ErrMalformedHex = errors.New("wire: malformed hex")

// HashFromHex parses a 0x-prefixed (or bare) 32-byte hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	b, err := BytesFromHex(s)
	if err != nil || len(b) != 32 {
		return Hash{}, ErrMalformedHex
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// AddressFromHex parses a 0x-prefixed (or bare) 20-byte hex string into an
// Address.
func AddressFromHex(s string) (Address, error) {
	b, err := BytesFromHex(s)
	if err != nil || len(b) != 20 {
		return Address{}, ErrMalformedHex
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// BytesFromHex decodes a 0x-prefixed (or bare) hex string.
func BytesFromHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHex, err)
	}
	return b, nil
}
