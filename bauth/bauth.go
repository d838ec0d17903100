// Package bauth implements the BAUTH mutual-authentication and
// key-agreement state machine between a Terminal (T) and a Card-Terminal
// (CT): a 5-step exchange producing a 32-octet session key, optionally
// authenticating either side via an exchanged CV certificate.
package bauth

import (
	"context"

	"github.com/ten0s/bee2/berr"
	"github.com/ten0s/bee2/cvc"
	"github.com/ten0s/bee2/primitives"
)

// Role identifies which endpoint a State drives.
type Role byte

const (
	RoleT Role = iota
	RoleCT
)

// Settings are the protocol's negotiated confirmation requirements.
type Settings struct {
	// Kca requires T to authenticate to CT (T's certificate travels
	// encrypted in message 3 and CT validates it).
	Kca bool
	// Kcb requires CT to authenticate to T (adds message 4's
	// confirmation tag, verified by T in Step5).
	Kcb bool
}

const (
	k0Label   = "btok-bauth-k0"
	kmacLabel = "btok-bauth-kmac"
	kencLabel = "btok-bauth-kenc"
	keyLabel  = "btok-bauth-key"
)

type stage byte

const (
	stageStart stage = iota
	stageM2Sent     // CT only, after Step2
	stageAwaitM4    // T only, after Step3
	stageM4Sent     // CT only, after Step4
	stageDone
)

// State is the per-endpoint BAUTH protocol state.
type State struct {
	role     Role
	settings Settings
	scheme   primitives.SigScheme
	mac      primitives.Mac
	cipher   primitives.Cipher
	rng      primitives.Rng

	d        []byte // own long-term private key
	ownCert  []byte
	peerCert []byte // known at Start, or filled in during the exchange
	peerPub  []byte

	u []byte // own ephemeral private scalar
	U []byte // own ephemeral public point

	transcript []byte

	k0, kmac, kenc []byte
	seed           []byte

	stage stage
	key   []byte
	dead  bool
}

func pubLen(scheme primitives.SigScheme) int { return 2 * scheme.ScalarLen() }

// Start initializes a fresh protocol state for role, generating an
// ephemeral key pair via rng. peerCert may be nil if the peer's
// certificate is not yet known (CT may learn T's certificate from
// Step2's argument instead).
func Start(ctx context.Context, role Role, settings Settings, scheme primitives.SigScheme, mac primitives.Mac, cipher primitives.Cipher, rng primitives.Rng, d, ownCert, peerCert []byte) (*State, error) {
	const op = "bauth.Start"
	if scheme == nil || mac == nil || cipher == nil || rng == nil {
		return nil, berr.New(berr.BadInput, op)
	}
	if len(d) != scheme.ScalarLen() {
		return nil, berr.New(berr.BadInput, op)
	}

	u := make([]byte, scheme.ScalarLen())
	if err := rng.Fill(ctx, u); err != nil {
		return nil, berr.Wrap(berr.BadEntropy, op, err)
	}
	U, err := scheme.DerivePub(u)
	if err != nil {
		return nil, berr.Wrap(berr.BadParams, op, err)
	}

	s := &State{
		role: role, settings: settings, scheme: scheme, mac: mac, cipher: cipher, rng: rng,
		d: append([]byte(nil), d...), ownCert: ownCert, u: u, U: U, stage: stageStart,
	}
	if peerCert != nil {
		pub, err := extractPub(peerCert, scheme)
		if err != nil {
			return nil, err
		}
		s.peerCert = peerCert
		s.peerPub = pub
	}
	return s, nil
}

func extractPub(cert []byte, scheme primitives.SigScheme) ([]byte, error) {
	f, err := cvc.CvcUnwrap(cert, nil, scheme)
	if err != nil {
		return nil, berr.Wrap(berr.BadCert, "bauth.extractPub", err)
	}
	return f.PubKey, nil
}

// Step2 is CT's first move: it derives K0 from T's long-term public key
// (known from Start, or supplied here as certT) and emits M2 = U_CT ||
// Hmac_K0(certCT, certT, U_CT).
func (s *State) Step2(certT []byte) (m2 []byte, err error) {
	const op = "bauth.Step2"
	if s.dead || s.role != RoleCT || s.stage != stageStart {
		return nil, berr.New(berr.BadLogic, op)
	}
	if certT != nil {
		pub, err := extractPub(certT, s.scheme)
		if err != nil {
			s.dead = true
			return nil, err
		}
		s.peerCert, s.peerPub = certT, pub
	}
	if s.peerPub == nil {
		return nil, berr.New(berr.BadInput, op)
	}

	k0, err := s.scheme.Kdf().Derive(s.peerPub, nil, []byte(k0Label), 32)
	if err != nil {
		s.dead = true
		return nil, berr.Wrap(berr.BadEntropy, op, err)
	}
	s.k0 = k0

	macInput := concat(s.ownCert, s.peerCert, s.U)
	tag, err := s.mac.Compute(k0, macInput)
	if err != nil {
		s.dead = true
		return nil, berr.Wrap(berr.BadEntropy, op, err)
	}

	m2 = concat(s.U, tag)
	s.transcript = append(s.transcript, m2...)
	s.stage = stageM2Sent
	return m2, nil
}

// Step3 is T's response to M2: it verifies CT's confirmation tag under
// certCT (falling back to the certificate given at Start, or validated
// through validator when non-nil), derives the shared key seed, and
// emits M3 carrying T's own confirmation tag plus, when settings.Kca,
// T's own certificate encrypted under the derived key.
func (t *State) Step3(ctx context.Context, m2 []byte, certCT []byte, validator primitives.CertValidator) (m3 []byte, err error) {
	const op = "bauth.Step3"
	if t.dead || t.role != RoleT || t.stage != stageStart {
		return nil, berr.New(berr.BadLogic, op)
	}

	peerCert := certCT
	if peerCert == nil {
		peerCert = t.peerCert
	}
	if peerCert == nil {
		return nil, berr.New(berr.BadInput, op)
	}
	var peerPub []byte
	if validator != nil {
		peerPub, err = validator.Validate(ctx, nil, peerCert)
		if err != nil {
			t.dead = true
			return nil, berr.Wrap(berr.BadCert, op, err)
		}
	} else {
		peerPub, err = extractPub(peerCert, t.scheme)
		if err != nil {
			t.dead = true
			return nil, err
		}
	}
	t.peerCert, t.peerPub = peerCert, peerPub

	n := pubLen(t.scheme)
	if len(m2) < n+t.mac.Size() {
		t.dead = true
		return nil, berr.New(berr.BadSm, op)
	}
	peerU, tag := m2[:n], m2[n:]

	ownPub, err := t.scheme.DerivePub(t.d)
	if err != nil {
		t.dead = true
		return nil, berr.Wrap(berr.BadParams, op, err)
	}
	k0, err := t.scheme.Kdf().Derive(ownPub, nil, []byte(k0Label), 32)
	if err != nil {
		t.dead = true
		return nil, berr.Wrap(berr.BadEntropy, op, err)
	}
	macInput := concat(peerCert, t.ownCert, peerU)
	if !t.mac.Verify(k0, macInput, tag) {
		t.dead = true
		return nil, berr.New(berr.BadMac, op)
	}
	t.transcript = append(t.transcript, m2...)

	if err := t.deriveSeed(peerU); err != nil {
		t.dead = true
		return nil, err
	}

	confTag, err := t.mac.Compute(t.kmac, t.transcript)
	if err != nil {
		t.dead = true
		return nil, berr.Wrap(berr.BadEntropy, op, err)
	}

	m3 = concat(t.U, confTag)
	if t.settings.Kca {
		padded := pad7816(t.ownCert, t.cipher.BlockSize())
		enc, err := t.cipher.CtrEnc(t.kenc, zeroIV(t.cipher.BlockSize()), padded)
		if err != nil {
			t.dead = true
			return nil, berr.Wrap(berr.BadInput, op, err)
		}
		m3 = append(m3, enc...)
	}
	t.transcript = append(t.transcript, m3...)
	t.stage = stageAwaitM4
	return m3, nil
}

// Step4 is CT's response to M3: it verifies T's confirmation tag,
// decrypts and (when settings.Kca) validates T's certificate, and emits
// M4 carrying CT's own confirmation tag when settings.Kcb requires it.
func (ct *State) Step4(ctx context.Context, m3 []byte, validator primitives.CertValidator) (m4 []byte, err error) {
	const op = "bauth.Step4"
	if ct.dead || ct.role != RoleCT || ct.stage != stageM2Sent {
		return nil, berr.New(berr.BadLogic, op)
	}

	n := pubLen(ct.scheme)
	tagLen := ct.mac.Size()
	if len(m3) < n+tagLen {
		ct.dead = true
		return nil, berr.New(berr.BadSm, op)
	}
	peerU, tag, encCert := m3[:n], m3[n:n+tagLen], m3[n+tagLen:]

	if err := ct.deriveSeed(peerU); err != nil {
		ct.dead = true
		return nil, err
	}

	// T computed its confirmation tag over its transcript right after
	// deriveSeed, at which point that transcript held exactly M2 — the
	// same bytes ct.transcript holds here, before M3 is appended below.
	if !ct.mac.Verify(ct.kmac, ct.transcript, tag) {
		ct.dead = true
		return nil, berr.New(berr.BadMac, op)
	}
	ct.transcript = append(ct.transcript, m3...)

	if ct.settings.Kca {
		if len(encCert) == 0 {
			ct.dead = true
			return nil, berr.New(berr.BadSm, op)
		}
		plainPadded, err := ct.cipher.CtrDec(ct.kenc, zeroIV(ct.cipher.BlockSize()), encCert)
		if err != nil {
			ct.dead = true
			return nil, berr.Wrap(berr.BadSm, op, err)
		}
		certT, err := unpad7816(plainPadded)
		if err != nil {
			ct.dead = true
			return nil, err
		}
		if validator != nil {
			pub, err := validator.Validate(ctx, nil, certT)
			if err != nil {
				ct.dead = true
				return nil, berr.Wrap(berr.BadCert, op, err)
			}
			ct.peerCert, ct.peerPub = certT, pub
		} else {
			pub, err := extractPub(certT, ct.scheme)
			if err != nil {
				ct.dead = true
				return nil, err
			}
			ct.peerCert, ct.peerPub = certT, pub
		}
	}

	if ct.settings.Kcb {
		confTag, err := ct.mac.Compute(ct.kmac, ct.transcript)
		if err != nil {
			ct.dead = true
			return nil, berr.Wrap(berr.BadEntropy, op, err)
		}
		m4 = confTag
		ct.transcript = append(ct.transcript, m4...)
		ct.stage = stageM4Sent
		return m4, nil
	}

	ct.stage = stageDone
	return nil, nil
}

// Step5 is T's final move, required iff settings.Kcb: it verifies CT's
// confirmation tag from M4.
func (t *State) Step5(m4 []byte) error {
	const op = "bauth.Step5"
	if t.dead || t.role != RoleT || t.stage != stageAwaitM4 {
		return berr.New(berr.BadLogic, op)
	}
	if !t.settings.Kcb {
		t.stage = stageDone
		return nil
	}
	if !t.mac.Verify(t.kmac, t.transcript, m4) {
		t.dead = true
		return berr.New(berr.BadMac, op)
	}
	t.transcript = append(t.transcript, m4...)
	t.stage = stageDone
	return nil
}

// PeerCert returns the peer's CV certificate once known: at Start if
// the caller already had it, otherwise after Step3 (T), or after Step2
// or Step4 (CT).
// Returns nil if the peer's certificate has not been seen yet.
func (s *State) PeerCert() []byte { return s.peerCert }

// StepG extracts the final session key from the full transcript. Valid
// once State has reached Done; CT has no step after Step4, so it is also
// valid on CT once Step4 has emitted M4.
func (s *State) StepG() ([]byte, error) {
	const op = "bauth.StepG"
	done := s.stage == stageDone || (s.role == RoleCT && s.stage == stageM4Sent)
	if s.dead || !done {
		return nil, berr.New(berr.BadLogic, op)
	}
	key, err := s.scheme.Kdf().Derive(s.seed, s.transcript, []byte(keyLabel), 32)
	if err != nil {
		s.dead = true
		return nil, berr.Wrap(berr.BadEntropy, op, err)
	}
	s.key = key
	return key, nil
}

// Destroy zeroizes every secret held by s; the state becomes terminal.
func (s *State) Destroy() {
	zero(s.d)
	zero(s.u)
	zero(s.k0)
	zero(s.kmac)
	zero(s.kenc)
	zero(s.seed)
	zero(s.key)
	s.dead = true
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// deriveSeed computes the ephemeral-ephemeral and static-static ECDH
// terms and derives kmac/kenc from their concatenation. Called once by
// whichever side is first able to compute peerU's counterpart (T in
// Step3, CT in Step4); both sides reach the same seed since ECDH is
// symmetric in its two arguments.
func (s *State) deriveSeed(peerU []byte) error {
	const op = "bauth.deriveSeed"
	ee, err := s.scheme.ECDH(s.u, peerU)
	if err != nil {
		return berr.Wrap(berr.BadParams, op, err)
	}
	ss, err := s.scheme.ECDH(s.d, s.peerPub)
	if err != nil {
		return berr.Wrap(berr.BadParams, op, err)
	}
	s.seed = concat(ee, ss)

	kmac, err := s.scheme.Kdf().Derive(s.seed, s.transcript, []byte(kmacLabel), 32)
	if err != nil {
		return berr.Wrap(berr.BadEntropy, op, err)
	}
	kenc, err := s.scheme.Kdf().Derive(s.seed, s.transcript, []byte(kencLabel), 32)
	if err != nil {
		return berr.Wrap(berr.BadEntropy, op, err)
	}
	s.kmac, s.kenc = kmac, kenc
	return nil
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func zeroIV(n int) []byte { return make([]byte, n) }

// pad7816/unpad7816 duplicate sm's ISO/IEC 7816-4 method-2 padding: kept
// local rather than exported from sm to avoid a dependency from bauth on
// sm's wrap/unwrap surface, which bauth never otherwise needs.
func pad7816(in []byte, blockSize int) []byte {
	out := append([]byte(nil), in...)
	out = append(out, 0x80)
	for len(out)%blockSize != 0 {
		out = append(out, 0x00)
	}
	return out
}

func unpad7816(in []byte) ([]byte, error) {
	for i := len(in) - 1; i >= 0; i-- {
		switch in[i] {
		case 0x00:
			continue
		case 0x80:
			return in[:i], nil
		default:
			return nil, berr.New(berr.BadPadding, "bauth.unpad7816")
		}
	}
	return nil, berr.New(berr.BadPadding, "bauth.unpad7816")
}
