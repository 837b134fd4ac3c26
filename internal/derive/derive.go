// Package derive turns candidate key-stream bytes into elliptic-curve key
// material and the addresses the vulnerable wallets would have shown the
// user. The hot path is allocation-free: it uses decred's secp256k1 scalar
// and point types directly instead of going through ecdsa.PrivateKey.
package derive

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160"

	"github.com/garnizeh/randstorm-scanner/internal/entropy"
)

// ErrInvalidScalar marks a key stream whose leading 32 bytes do not form a
// usable private key (zero, or not below the curve order). It is a skip
// signal, never a scan failure: the candidate is counted and the scan moves
// on.
var ErrInvalidScalar = errors.New("derive: key bytes are not a valid secp256k1 scalar")

// P2PKHVersion is the legacy mainnet version byte for pay-to-pubkey-hash
// addresses.
const P2PKHVersion byte = 0x00

// KeyMaterial holds one candidate's 32-byte private scalar. The field is
// unexported and the type has no serialization methods; it must never cross
// the scan engine's public boundary. Call Zero when the derive/compare step
// is done.
type KeyMaterial struct {
	k [32]byte
}

// KeyFromPool extracts the 32 key-stream bytes the wallet would have used
// as the private key.
func KeyFromPool(p *entropy.Pool) KeyMaterial {
	var km KeyMaterial
	p.Read(km.k[:])
	return km
}

// Zero wipes the scalar bytes.
func (k *KeyMaterial) Zero() {
	for i := range k.k {
		k.k[i] = 0
	}
}

// CompressedPubKey computes the 33-byte compressed public key for the
// scalar into out. Returns ErrInvalidScalar for a zero scalar or one not
// below the curve order. Uncompressed output is reserved for wallets that
// predate compressed keys; no modeled wallet needs it yet.
func CompressedPubKey(key *KeyMaterial, out *[33]byte) error {
	var scalar secp256k1.ModNScalar
	overflow := scalar.SetBytes(&key.k)
	if overflow != 0 || scalar.IsZero() {
		scalar.Zero()
		return ErrInvalidScalar
	}

	var point secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&scalar, &point)
	point.ToAffine()
	point.X.Normalize()
	point.Y.Normalize()

	if point.Y.IsOdd() {
		out[0] = 0x03
	} else {
		out[0] = 0x02
	}
	point.X.PutBytesUnchecked(out[1:33])

	scalar.Zero()
	return nil
}

// Hash160 is RIPEMD160(SHA256(pub)), the 20-byte payload of a P2PKH
// address. hashBuf is scratch space so batch loops stay allocation-free.
func Hash160(pub []byte, hashBuf *[32]byte) [20]byte {
	sum := sha256.Sum256(pub)
	copy(hashBuf[:], sum[:])

	h := ripemd160.New()
	h.Write(hashBuf[:])

	var out [20]byte
	h.Sum(out[:0])
	return out
}

// Address encodes a pubkey hash as a legacy base58check P2PKH address.
func Address(pubKeyHash [20]byte) string {
	return base58.CheckEncode(pubKeyHash[:], P2PKHVersion)
}

// DecodeAddress decodes a base58check address back to its 20-byte pubkey
// hash, validating the checksum and version byte.
func DecodeAddress(addr string) ([20]byte, error) {
	var h [20]byte
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return h, err
	}
	if version != P2PKHVersion {
		return h, errors.New("derive: not a legacy P2PKH address")
	}
	if len(payload) != 20 {
		return h, errors.New("derive: malformed address payload")
	}
	copy(h[:], payload)
	return h, nil
}

// EthereumAddress derives the Ethereum address the same weak key material
// maps to. Wallet seeds leaked by this class of bug were reused across
// chains, so findings are cross-checked on the Ethereum side too. The
// hasher and buffers are reused between calls to keep the path
// allocation-free.
func EthereumAddress(key *KeyMaterial, hasher ethcrypto.KeccakState, pubBuf *[64]byte, hashBuf *[32]byte) (common.Address, error) {
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetBytes(&key.k); overflow != 0 || scalar.IsZero() {
		scalar.Zero()
		return common.Address{}, ErrInvalidScalar
	}

	var point secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&scalar, &point)
	point.ToAffine()
	point.X.Normalize()
	point.Y.Normalize()
	point.X.PutBytesUnchecked(pubBuf[0:32])
	point.Y.PutBytesUnchecked(pubBuf[32:64])

	hasher.Reset()
	_, _ = hasher.Write(pubBuf[:])
	hasher.Sum(hashBuf[:0])

	var addr common.Address
	copy(addr[:], hashBuf[12:32])

	scalar.Zero()
	return addr, nil
}
