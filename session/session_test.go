package session_test

import (
	"context"
	"testing"

	"github.com/ten0s/bee2/apdu"
	"github.com/ten0s/bee2/bauth"
	"github.com/ten0s/bee2/cvc"
	"github.com/ten0s/bee2/internal/refcrypto"
	"github.com/ten0s/bee2/session"
	"github.com/ten0s/bee2/sm"
)

func issueSelfSigned(t *testing.T, scheme *refcrypto.SigScheme, seed byte, holder string) (priv, cert []byte) {
	t.Helper()
	priv = make([]byte, scheme.ScalarLen())
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
	cert, err = cvc.CvcWrap(f, priv, scheme)
	if err != nil {
		t.Fatal(err)
	}
	return priv, cert
}

// End-to-end: a completed BAUTH handshake hands off into two SM states
// that can exchange a wrapped command/response pair.
func TestFromBauthHandoffThenSmRoundTrip(t *testing.T) {
	scheme, err := refcrypto.NewSigScheme(128)
	if err != nil {
		t.Fatal(err)
	}
	termPriv, termCert := issueSelfSigned(t, scheme, 0x10, "BYCA0001")
	cardPriv, cardCert := issueSelfSigned(t, scheme, 0x40, "BYCA0002")
	settings := bauth.Settings{Kca: true, Kcb: true}
	ctx := context.Background()

	term, err := bauth.Start(ctx, bauth.RoleT, settings, scheme, refcrypto.Mac{}, refcrypto.Cipher{}, refcrypto.Rng{}, termPriv, termCert, cardCert)
	if err != nil {
		t.Fatal(err)
	}
	card, err := bauth.Start(ctx, bauth.RoleCT, settings, scheme, refcrypto.Mac{}, refcrypto.Cipher{}, refcrypto.Rng{}, cardPriv, cardCert, termCert)
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
	if err := term.Step5(m4); err != nil {
		t.Fatal(err)
	}

	termSm, err := session.FromBauth(sm.Terminal, term, refcrypto.Cipher{}, refcrypto.Mac{}, refcrypto.Kdf{})
	if err != nil {
		t.Fatalf("T FromBauth: %v", err)
	}
	cardSm, err := session.FromBauth(sm.CardTerminal, card, refcrypto.Cipher{}, refcrypto.Mac{}, refcrypto.Kdf{})
	if err != nil {
		t.Fatalf("CT FromBauth: %v", err)
	}

	cmd := apdu.Cmd{Cla: 0x00, Ins: 0xA4, P1: 0x04, P2: 0x04, Cdf: []byte("Test"), RdfLen: 256}
	termSm.CtrInc()
	wire, err := sm.CmdWrap(cmd, termSm)
	if err != nil {
		t.Fatal(err)
	}
	cardSm.CtrInc()
	got, err := sm.CmdUnwrap(wire, cardSm)
	if err != nil {
		t.Fatalf("CmdUnwrap: %v", err)
	}
	if got.Ins != cmd.Ins || string(got.Cdf) != string(cmd.Cdf) {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}
