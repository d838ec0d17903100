package bauth_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/ten0s/bee2/bauth"
	"github.com/ten0s/bee2/berr"
	"github.com/ten0s/bee2/cvc"
	"github.com/ten0s/bee2/internal/refcrypto"
)

type party struct {
	priv []byte
	cert []byte
}

func issueSelfSigned(t *testing.T, scheme *refcrypto.SigScheme, seed byte, holder string) party {
	t.Helper()
	priv := make([]byte, scheme.ScalarLen())
	for i := range priv {
		priv[i] = seed + byte(i)
	}
	pub, err := scheme.DerivePub(priv)
	if err != nil {
		t.Fatal(err)
	}
	f := cvc.Fields{
		Authority: holder, Holder: holder,
		From: [6]byte{0x02, 0x02, 0x00, 0x07, 0x00, 0x07}, Until: [6]byte{0x09, 0x09, 0x00, 0x07, 0x00, 0x07},
		HatEid: [cvc.HatLen]byte{0xEE, 0xEE, 0xEE, 0xEE, 0xEE}, HatEsign: [cvc.HatLen]byte{0x77, 0x77, 0x77, 0x77, 0x77},
		Level: scheme.Level(), PubKey: pub,
	}
	cert, err := cvc.CvcWrap(f, priv, scheme)
	if err != nil {
		t.Fatal(err)
	}
	return party{priv: priv, cert: cert}
}

// Scenario F restated structurally (spec.md section 8 notes the literal
// params/keys/certs are not reproducible without bign): with matched
// settings on both sides, Start/Step2/Step3/Step4/Step5/StepG on T and CT
// extract identical 32-octet keys.
func TestHappyPathMatchedKeys(t *testing.T) {
	scheme, err := refcrypto.NewSigScheme(128)
	if err != nil {
		t.Fatal(err)
	}
	termP := issueSelfSigned(t, scheme, 0x10, "BYCA0001")
	cardP := issueSelfSigned(t, scheme, 0x40, "BYCA0002")
	settings := bauth.Settings{Kca: true, Kcb: true}
	ctx := context.Background()

	term, err := bauth.Start(ctx, bauth.RoleT, settings, scheme, refcrypto.Mac{}, refcrypto.Cipher{}, refcrypto.Rng{}, termP.priv, termP.cert, cardP.cert)
	if err != nil {
		t.Fatal(err)
	}
	card, err := bauth.Start(ctx, bauth.RoleCT, settings, scheme, refcrypto.Mac{}, refcrypto.Cipher{}, refcrypto.Rng{}, cardP.priv, cardP.cert, termP.cert)
	if err != nil {
		t.Fatal(err)
	}

	m2, err := card.Step2(nil)
	if err != nil {
		t.Fatalf("Step2: %v", err)
	}
	m3, err := term.Step3(ctx, m2, nil, nil)
	if err != nil {
		t.Fatalf("Step3: %v", err)
	}
	m4, err := card.Step4(ctx, m3, nil)
	if err != nil {
		t.Fatalf("Step4: %v", err)
	}
	if err := term.Step5(m4); err != nil {
		t.Fatalf("Step5: %v", err)
	}

	keyT, err := term.StepG()
	if err != nil {
		t.Fatalf("T StepG: %v", err)
	}
	keyCT, err := card.StepG()
	if err != nil {
		t.Fatalf("CT StepG: %v", err)
	}
	if len(keyT) != 32 {
		t.Fatalf("key length = %d, want 32", len(keyT))
	}
	if !bytes.Equal(keyT, keyCT) {
		t.Fatalf("keyT != keyCT")
	}
}

func TestHappyPathNoConfirmation(t *testing.T) {
	scheme, err := refcrypto.NewSigScheme(128)
	if err != nil {
		t.Fatal(err)
	}
	termP := issueSelfSigned(t, scheme, 0x10, "BYCA0001")
	cardP := issueSelfSigned(t, scheme, 0x40, "BYCA0002")
	settings := bauth.Settings{} // neither Kca nor Kcb
	ctx := context.Background()

	term, err := bauth.Start(ctx, bauth.RoleT, settings, scheme, refcrypto.Mac{}, refcrypto.Cipher{}, refcrypto.Rng{}, termP.priv, termP.cert, cardP.cert)
	if err != nil {
		t.Fatal(err)
	}
	card, err := bauth.Start(ctx, bauth.RoleCT, settings, scheme, refcrypto.Mac{}, refcrypto.Cipher{}, refcrypto.Rng{}, cardP.priv, cardP.cert, termP.cert)
	if err != nil {
		t.Fatal(err)
	}

	m2, err := card.Step2(nil)
	if err != nil {
		t.Fatal(err)
	}
	m3, err := term.Step3(ctx, m2, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	m4, err := card.Step4(ctx, m3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if m4 != nil {
		t.Fatalf("expected no M4 when Kcb is false, got %d bytes", len(m4))
	}
	if err := term.Step5(m4); err != nil {
		t.Fatalf("Step5 with Kcb=false should no-op: %v", err)
	}

	keyT, err := term.StepG()
	if err != nil {
		t.Fatal(err)
	}
	keyCT, err := card.StepG()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(keyT, keyCT) {
		t.Fatal("keyT != keyCT")
	}
}

// Invariant 6, divergence half: a single flipped bit in M3's confirmation
// tag must be caught by the receiving side's confirmation-tag check. The
// tag follows T's ephemeral public point (2*ScalarLen octets) in M3.
func TestTamperedM3Rejected(t *testing.T) {
	scheme, err := refcrypto.NewSigScheme(128)
	if err != nil {
		t.Fatal(err)
	}
	termP := issueSelfSigned(t, scheme, 0x10, "BYCA0001")
	cardP := issueSelfSigned(t, scheme, 0x40, "BYCA0002")
	settings := bauth.Settings{Kca: true, Kcb: true}
	ctx := context.Background()

	term, err := bauth.Start(ctx, bauth.RoleT, settings, scheme, refcrypto.Mac{}, refcrypto.Cipher{}, refcrypto.Rng{}, termP.priv, termP.cert, cardP.cert)
	if err != nil {
		t.Fatal(err)
	}
	card, err := bauth.Start(ctx, bauth.RoleCT, settings, scheme, refcrypto.Mac{}, refcrypto.Cipher{}, refcrypto.Rng{}, cardP.priv, cardP.cert, termP.cert)
	if err != nil {
		t.Fatal(err)
	}

	m2, err := card.Step2(nil)
	if err != nil {
		t.Fatal(err)
	}
	m3, err := term.Step3(ctx, m2, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	m3[2*scheme.ScalarLen()] ^= 0x01

	if _, err := card.Step4(ctx, m3, nil); !berr.Is(err, berr.BadMac) {
		t.Fatalf("expected BadMac on tampered M3, got %v", err)
	}
}

func TestOutOfOrderStepFails(t *testing.T) {
	scheme, err := refcrypto.NewSigScheme(128)
	if err != nil {
		t.Fatal(err)
	}
	cardP := issueSelfSigned(t, scheme, 0x40, "BYCA0002")
	settings := bauth.Settings{}
	ctx := context.Background()

	card, err := bauth.Start(ctx, bauth.RoleCT, settings, scheme, refcrypto.Mac{}, refcrypto.Cipher{}, refcrypto.Rng{}, cardP.priv, cardP.cert, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := card.Step4(ctx, []byte{0x00}, nil); !berr.Is(err, berr.BadLogic) {
		t.Fatalf("expected BadLogic calling Step4 before Step2, got %v", err)
	}
}
