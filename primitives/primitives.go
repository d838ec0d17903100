// Package primitives defines the external cryptographic collaborators the
// btok core consumes but never implements: a CTR-mode symmetric cipher, a
// MAC, a hash, a KDF and an elliptic-curve signature scheme. Concrete
// algorithms (belt, bign, or any other STB family member) live outside
// this module; see internal/refcrypto for a stand-in bundle used by the
// CLI and tests.
package primitives

import "context"

// Rng fills out with n pseudo-random octets, returning an error if the
// entropy source is exhausted or otherwise unavailable.
type Rng interface {
	Fill(ctx context.Context, out []byte) error
}

// Cipher is a CTR-mode symmetric cipher keyed by a fixed-size key. IV is
// the counter/nonce block; CtrEnc and CtrDec are the same operation under
// CTR mode (XOR with keystream) but are kept distinct so a primitive
// bundle built on a block cipher that is not naturally an involution can
// still implement this interface.
type Cipher interface {
	BlockSize() int
	CtrEnc(key, iv, in []byte) ([]byte, error)
	CtrDec(key, iv, in []byte) ([]byte, error)
}

// Mac computes and verifies a fixed-length authentication tag over an
// input under a key. Verify must run in constant time with respect to the
// secret tag.
type Mac interface {
	Size() int
	Compute(key, in []byte) ([]byte, error)
	Verify(key, in, tag []byte) bool
}

// Hash is a general-purpose collision-resistant hash. No core package
// calls it; BAUTH keeps its transcript as the plain concatenation of the
// exchanged messages.
type Hash interface {
	Size() int
	Sum(in []byte) []byte
}

// Kdf derives outLen octets of key material from ikm (input keying
// material), an optional salt and a label (info) that binds the derived
// key to its purpose.
type Kdf interface {
	Derive(ikm, salt, info []byte, outLen int) ([]byte, error)
}

// SigScheme is an elliptic-curve signature and key-agreement scheme
// selected by a security Level in bits (128, 192 or 256).
type SigScheme interface {
	Level() int
	// ScalarLen is the octet length of a private scalar (and of an
	// ECDH input) for this scheme, used by callers generating fresh
	// ephemeral keys via Rng.
	ScalarLen() int
	// PubKeyLen is the octet length of an encoded public key (affine
	// X||Y) as produced by DerivePub and consumed by Verify/ECDH.
	// Callers validating a stored or wire-carried key must size it
	// against this, not against a level-derived guess, since a given
	// Level may be realized by more than one curve.
	PubKeyLen() int
	// SigLen is the octet length of a signature as produced by Sign.
	SigLen() int
	Sign(priv, msg []byte) ([]byte, error)
	Verify(pub, msg, sig []byte) bool
	DerivePub(priv []byte) ([]byte, error)
	// ECDH computes the shared secret for an ephemeral or static key
	// agreement between priv and peerPub, both in the scheme's own
	// encoding.
	ECDH(priv, peerPub []byte) ([]byte, error)
	Kdf() Kdf
}

// CertValidator validates an embedded certificate against a deployment's
// own trust policy (beyond the structural/signature checks cvc itself
// performs), returning the subject public key on success.
type CertValidator interface {
	Validate(ctx context.Context, params []byte, certBytes []byte) (pubKey []byte, err error)
}
