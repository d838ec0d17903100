// Package refcrypto is a concrete, swappable stand-in for the belt/bign
// algorithm families the btok core treats as external collaborators (see
// primitives.Cipher/Mac/Hash/Kdf/SigScheme). It is built entirely on Go's
// standard crypto packages (NIST elliptic curves with ECDSA/ECDH, AES,
// HMAC-SHA-256) — it is NOT
// belt or bign, which stay explicitly out of scope (spec.md section 1).
// The CLI and the core's end-to-end tests use this bundle so the
// protocol can be exercised without a real STB 34.101.31/45
// implementation in hand; a deployer swaps this package out before
// going to production against the real standards.
package refcrypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"
	"math/big"

	"github.com/ten0s/bee2/primitives"
)

// Hash implements primitives.Hash over SHA-256.
type Hash struct{}

func (Hash) Size() int { return sha256.Size }
func (Hash) Sum(in []byte) []byte {
	sum := sha256.Sum256(in)
	return sum[:]
}

// Mac implements primitives.Mac as HMAC-SHA-256, truncated to 8 octets
// to match the DO-8E MAC width spec.md's scenario vectors use.
type Mac struct{}

const MacSize = 8

func (Mac) Size() int { return MacSize }

func (Mac) Compute(key, in []byte) ([]byte, error) {
	h := hmac.New(sha256.New, key)
	h.Write(in)
	return h.Sum(nil)[:MacSize], nil
}

func (m Mac) Verify(key, in, tag []byte) bool {
	want, _ := m.Compute(key, in)
	return len(tag) == len(want) && subtle.ConstantTimeCompare(tag, want) == 1
}

// Kdf implements primitives.Kdf as an HKDF-SHA-256 extract-then-expand.
type Kdf struct{}

func (Kdf) Derive(ikm, salt, info []byte, outLen int) ([]byte, error) {
	if len(salt) == 0 {
		salt = make([]byte, sha256.Size)
	}
	extract := hmac.New(sha256.New, salt)
	extract.Write(ikm)
	prk := extract.Sum(nil)

	out := make([]byte, 0, outLen+sha256.Size)
	var prev []byte
	counter := byte(1)
	for len(out) < outLen {
		h := hmac.New(sha256.New, prk)
		h.Write(prev)
		h.Write(info)
		h.Write([]byte{counter})
		prev = h.Sum(nil)
		out = append(out, prev...)
		counter++
	}
	return out[:outLen], nil
}

// Cipher implements primitives.Cipher as AES-CTR; key length selects
// AES-128/192/256.
type Cipher struct{}

func (Cipher) BlockSize() int { return aes.BlockSize }

func (Cipher) ctr(key, iv, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		padded := make([]byte, aes.BlockSize)
		copy(padded, iv)
		iv = padded
	}
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out, nil
}

func (c Cipher) CtrEnc(key, iv, in []byte) ([]byte, error) { return c.ctr(key, iv, in) }
func (c Cipher) CtrDec(key, iv, in []byte) ([]byte, error) { return c.ctr(key, iv, in) }

// SigScheme implements primitives.SigScheme over NIST P-256/P-384/P-521,
// selected by level 128/192/256 (matching the security levels named in
// spec.md section 3).
type SigScheme struct {
	level int
	curve elliptic.Curve
	ecdh  ecdh.Curve
	kdf   Kdf
}

func NewSigScheme(level int) (*SigScheme, error) {
	switch level {
	case 128:
		return &SigScheme{level: level, curve: elliptic.P256(), ecdh: ecdh.P256()}, nil
	case 192:
		return &SigScheme{level: level, curve: elliptic.P384(), ecdh: ecdh.P384()}, nil
	case 256:
		return &SigScheme{level: level, curve: elliptic.P521(), ecdh: ecdh.P521()}, nil
	default:
		return nil, fmt.Errorf("refcrypto: unsupported level %d", level)
	}
}

func (s *SigScheme) Level() int          { return s.level }
func (s *SigScheme) ScalarLen() int      { return s.coordLen() }
func (s *SigScheme) Kdf() primitives.Kdf { return s.kdf }

// PubKeyLen and SigLen report the actual octet lengths this scheme's
// DerivePub/Sign produce: 2*coordLen for both, since encodePub lays out
// X||Y and Sign lays out R||S over the same field. They are not
// level/8-style formulas because P-521 (the concrete curve behind level
// 256) has a 66-octet, not 64-octet, coordinate.
func (s *SigScheme) PubKeyLen() int { return 2 * s.coordLen() }
func (s *SigScheme) SigLen() int    { return 2 * s.coordLen() }

func (s *SigScheme) coordLen() int {
	return (s.curve.Params().BitSize + 7) / 8
}

func (s *SigScheme) privKey(priv []byte) *ecdsa.PrivateKey {
	d := new(big.Int).SetBytes(priv)
	k := new(ecdsa.PrivateKey)
	k.Curve = s.curve
	k.D = d
	k.PublicKey.X, k.PublicKey.Y = s.curve.ScalarBaseMult(priv)
	return k
}

func (s *SigScheme) encodePub(x, y *big.Int) []byte {
	n := s.coordLen()
	out := make([]byte, 2*n)
	x.FillBytes(out[:n])
	y.FillBytes(out[n:])
	return out
}

func (s *SigScheme) decodePub(pub []byte) (x, y *big.Int, err error) {
	n := s.coordLen()
	if len(pub) != 2*n {
		return nil, nil, fmt.Errorf("refcrypto: bad public key length")
	}
	return new(big.Int).SetBytes(pub[:n]), new(big.Int).SetBytes(pub[n:]), nil
}

func (s *SigScheme) Sign(priv, msg []byte) ([]byte, error) {
	k := s.privKey(priv)
	h := sha512.Sum512(msg)
	n := s.coordLen()
	r, sVal, err := ecdsa.Sign(rand.Reader, k, h[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, 2*n)
	r.FillBytes(out[:n])
	sVal.FillBytes(out[n:])
	return out, nil
}

func (s *SigScheme) Verify(pub, msg, sig []byte) bool {
	n := s.coordLen()
	if len(sig) != 2*n {
		return false
	}
	x, y, err := s.decodePub(pub)
	if err != nil {
		return false
	}
	pk := &ecdsa.PublicKey{Curve: s.curve, X: x, Y: y}
	h := sha512.Sum512(msg)
	r := new(big.Int).SetBytes(sig[:n])
	sVal := new(big.Int).SetBytes(sig[n:])
	return ecdsa.Verify(pk, h[:], r, sVal)
}

func (s *SigScheme) DerivePub(priv []byte) ([]byte, error) {
	k := s.privKey(priv)
	return s.encodePub(k.PublicKey.X, k.PublicKey.Y), nil
}

func (s *SigScheme) ECDH(priv, peerPub []byte) ([]byte, error) {
	if _, _, err := s.decodePub(peerPub); err != nil {
		return nil, err
	}
	// SEC 1 uncompressed form; NewPublicKey rejects points off the curve.
	uncompressed := append([]byte{0x04}, peerPub...)
	peerKey, err := s.ecdh.NewPublicKey(uncompressed)
	if err != nil {
		return nil, err
	}
	privKey, err := s.ecdh.NewPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return privKey.ECDH(peerKey)
}

// Rng implements primitives.Rng over crypto/rand.
type Rng struct{}

func (Rng) Fill(_ context.Context, out []byte) error {
	_, err := rand.Read(out)
	return err
}
