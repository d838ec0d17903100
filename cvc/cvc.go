// Package cvc implements the Card Verifiable Certificate TLV codec:
// issuance, parsing and chain validation over a DER-like, EAC-style tag
// layout (the signature-scheme algorithm itself is injected via
// primitives.SigScheme; cvc never implements bign/belt).
package cvc

import (
	"bytes"
	"crypto/subtle"

	"github.com/ten0s/bee2/berr"
	"github.com/ten0s/bee2/primitives"
	"github.com/ten0s/bee2/tlv"
)

// Tag layout. This package is not a general X.509/ASN.1 library (see
// spec.md Non-goals); the two-octet tags below follow the real-world EAC
// CV-certificate numbering (7F21 CV Certificate, 7F4E Certificate Body,
// 7F49 Public Key, 7F4C Certificate Holder Authorization Template) since
// no certificate tag values are given in the distilled specification
// and that numbering is a well-understood, self-consistent choice; the
// OID that would normally sit inside 7F49/7F4C is replaced by a single
// level-selector octet (tag 0x06) since generic OID arithmetic is
// explicitly out of this package's scope.
const (
	tagCert       = 0x7F21
	tagBody       = 0x7F4E
	tagPubKeyBlk  = 0x7F49
	tagLevelSel   byte = 0x06
	tagPubKeyVal  byte = 0x86
	tagChatBlk    = 0x7F4C
	tagHatEid     byte = 0x80
	tagHatEsign   byte = 0x81
	tagProfile    = 0x5F29
	tagAuthority  byte = 0x42
	tagHolder     = 0x5F20
	tagFrom       = 0x5F25
	tagUntil      = 0x5F24
	tagSignature  = 0x5F37
)

// HatLen is the fixed size, in octets, of each effective-authorization
// bitmask (hat_eid, hat_esign). The distilled specification calls these
// "fixed-size" without naming a size; 5 octets mirrors the Certificate
// Holder Authorization Template discretionary-data size used by
// real-world EAC profiles.
const HatLen = 5

// Fields is the parsed content of a CV certificate.
type Fields struct {
	ProfileVersion byte
	Authority      string
	Holder         string
	From           [6]byte // packed BCD YYMMDD
	Until          [6]byte // packed BCD YYMMDD
	HatEid         [HatLen]byte
	HatEsign       [HatLen]byte
	Level          int    // 0 (no key yet), 128, 192 or 256
	PubKey         []byte // nil, or the issuing scheme's PubKeyLen() octets
}

func levelSelector(level int) (byte, error) {
	switch level {
	case 128:
		return 1, nil
	case 192:
		return 2, nil
	case 256:
		return 3, nil
	default:
		return 0, berr.New(berr.BadParams, "cvc.levelSelector")
	}
}

func selectorLevel(sel byte) (int, error) {
	switch sel {
	case 1:
		return 128, nil
	case 2:
		return 192, nil
	case 3:
		return 256, nil
	default:
		return 0, berr.New(berr.BadCert, "cvc.selectorLevel")
	}
}

func printable(s string) bool {
	for _, r := range s {
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return true
}

// CvcCheck performs pure validation of value ranges and date ordering;
// it never touches cryptography itself. When scheme is non-nil, it also
// cross-checks the embedded public key's length against what scheme
// actually produces (PubKeyLen), rather than against a level-derived
// guess; pass nil when no concrete scheme is available (e.g. reading a
// certificate's fields without verifying it), in which case only a
// minimal shape check is applied.
func CvcCheck(f Fields, scheme primitives.SigScheme) error {
	const op = "cvc.CvcCheck"
	if len(f.Authority) < 8 || len(f.Authority) > 12 || !printable(f.Authority) {
		return berr.New(berr.BadCert, op)
	}
	if len(f.Holder) < 8 || len(f.Holder) > 12 || !printable(f.Holder) {
		return berr.New(berr.BadCert, op)
	}
	if bytes.Compare(f.From[:], f.Until[:]) > 0 {
		return berr.New(berr.BadCert, op)
	}
	if f.Level == 0 {
		if f.PubKey != nil {
			return berr.New(berr.BadCert, op)
		}
		return nil
	}
	if f.Level != 128 && f.Level != 192 && f.Level != 256 {
		return berr.New(berr.BadCert, op)
	}
	if len(f.PubKey) == 0 || len(f.PubKey)%2 != 0 {
		return berr.New(berr.BadCert, op)
	}
	if scheme != nil {
		if scheme.Level() != f.Level || len(f.PubKey) != scheme.PubKeyLen() {
			return berr.New(berr.BadCert, op)
		}
	}
	return nil
}

func encodeBody(f Fields) ([]byte, error) {
	var pubBlk []byte
	if f.Level != 0 {
		sel, err := levelSelector(f.Level)
		if err != nil {
			return nil, err
		}
		pubBlk = tlv.PutOne(pubBlk, tagLevelSel, []byte{sel})
		pubBlk = tlv.PutOne(pubBlk, tagPubKeyVal, f.PubKey)
	}

	var chat []byte
	chat = tlv.PutOne(chat, tagHatEid, f.HatEid[:])
	chat = tlv.PutOne(chat, tagHatEsign, f.HatEsign[:])

	var body []byte
	body = tlv.PutTwoOctetTag(body, tagProfile, []byte{f.ProfileVersion})
	body = tlv.PutOne(body, tagAuthority, []byte(f.Authority))
	body = tlv.PutTwoOctetTag(body, tagPubKeyBlk, pubBlk)
	body = tlv.PutTwoOctetTag(body, tagHolder, []byte(f.Holder))
	body = tlv.PutTwoOctetTag(body, tagChatBlk, chat)
	body = tlv.PutTwoOctetTag(body, tagFrom, f.From[:])
	body = tlv.PutTwoOctetTag(body, tagUntil, f.Until[:])

	var out []byte
	out = tlv.PutTwoOctetTag(out, tagBody, body)
	return out, nil
}

func orDefaultLevel(l int) int {
	if l == 0 {
		return 128
	}
	return l
}

// CvcEncodedLen returns the length CvcWrap(f, signerPriv, scheme) would
// produce for the given scheme, without signing anything: the
// length-probe convention from the original design (out=null returns
// required length) is replaced, per spec.md section 9, by this total
// function plus CvcWrap itself. scheme must be the one CvcWrap will
// actually sign with, since SigLen (unlike a level/8-style formula) is a
// property of the concrete scheme, not of the level alone.
func CvcEncodedLen(f Fields, scheme primitives.SigScheme) (int, error) {
	const op = "cvc.CvcEncodedLen"
	if scheme == nil {
		return 0, berr.New(berr.BadParams, op)
	}
	body, err := encodeBody(f)
	if err != nil {
		return 0, err
	}
	sigField := tlv.Size(2, scheme.SigLen())
	return tlv.Size(2, len(body)+sigField), nil
}

// CvcWrap serializes the TBS (Certificate Body) portion of f, signs it
// under signerPriv using scheme, and returns the full encoded
// certificate.
//
// scheme must match f's own declared Level: this implementation does not
// model an issuer signing at a different security level than the
// subject's embedded key, since no scenario in this lineage exercises
// cross-level issuance.
func CvcWrap(f Fields, signerPriv []byte, scheme primitives.SigScheme) ([]byte, error) {
	const op = "cvc.CvcWrap"
	if err := CvcCheck(f, scheme); err != nil {
		return nil, err
	}
	if scheme == nil || scheme.Level() != orDefaultLevel(f.Level) {
		return nil, berr.New(berr.BadParams, op)
	}
	body, err := encodeBody(f)
	if err != nil {
		return nil, berr.Wrap(berr.BadCert, op, err)
	}
	sig, err := scheme.Sign(signerPriv, body)
	if err != nil {
		return nil, berr.Wrap(berr.BadEntropy, op, err)
	}
	var full []byte
	full = append(full, body...)
	full = tlv.PutTwoOctetTag(full, tagSignature, sig)

	var out []byte
	out = tlv.PutTwoOctetTag(out, tagCert, full)
	return out, nil
}

// CvcLen parses only the outer TLV header of b and returns the total
// encoded length (tag + length octets + value), or -1 if the header is
// malformed or the declared length would exceed maxLen. It deliberately
// does not require the full value to be present in b, since its purpose
// is to let a caller size a buffer before reading the rest.
func CvcLen(b []byte, maxLen int) int {
	if len(b) < 2 {
		return -1
	}
	tag := uint16(b[0])<<8 | uint16(b[1])
	if tag != tagCert {
		return -1
	}
	n, lenSz, err := tlv.ParseLen(b[2:])
	if err != nil {
		return -1
	}
	total := 2 + lenSz + n
	if total > maxLen {
		return -1
	}
	return total
}

func parseBody(body []byte) (Fields, []byte, error) {
	const op = "cvc.parseBody"
	var f Fields
	rest := body

	fld, n, err := tlv.ParseOneTwoOctetTag(rest)
	if err != nil || fld.Tag != tagProfile || len(fld.Value) != 1 {
		return f, nil, berr.New(berr.BadCert, op)
	}
	f.ProfileVersion = fld.Value[0]
	rest = rest[n:]

	one, n, err := tlv.ParseOne(rest)
	if err != nil || one.Tag != uint16(tagAuthority) {
		return f, nil, berr.New(berr.BadCert, op)
	}
	f.Authority = string(one.Value)
	rest = rest[n:]

	fld, n, err = tlv.ParseOneTwoOctetTag(rest)
	if err != nil || fld.Tag != tagPubKeyBlk {
		return f, nil, berr.New(berr.BadCert, op)
	}
	rest = rest[n:]
	if len(fld.Value) > 0 {
		sel, n2, err := tlv.ParseOne(fld.Value)
		if err != nil || sel.Tag != uint16(tagLevelSel) || len(sel.Value) != 1 {
			return f, nil, berr.New(berr.BadCert, op)
		}
		level, err := selectorLevel(sel.Value[0])
		if err != nil {
			return f, nil, err
		}
		f.Level = level
		pk, _, err := tlv.ParseOne(fld.Value[n2:])
		// The exact expected length depends on the scheme the caller
		// verifies against (CvcUnwrap/CvcCheck), not on level alone, so
		// only a minimal shape check is applied here.
		if err != nil || pk.Tag != uint16(tagPubKeyVal) || len(pk.Value) == 0 {
			return f, nil, berr.New(berr.BadCert, op)
		}
		f.PubKey = append([]byte(nil), pk.Value...)
	}

	fld, n, err = tlv.ParseOneTwoOctetTag(rest)
	if err != nil || fld.Tag != tagHolder {
		return f, nil, berr.New(berr.BadCert, op)
	}
	f.Holder = string(fld.Value)
	rest = rest[n:]

	fld, n, err = tlv.ParseOneTwoOctetTag(rest)
	if err != nil || fld.Tag != tagChatBlk {
		return f, nil, berr.New(berr.BadCert, op)
	}
	rest = rest[n:]
	hatEid, n2, err := tlv.ParseOne(fld.Value)
	if err != nil || hatEid.Tag != uint16(tagHatEid) || len(hatEid.Value) != HatLen {
		return f, nil, berr.New(berr.BadCert, op)
	}
	copy(f.HatEid[:], hatEid.Value)
	hatEsign, _, err := tlv.ParseOne(fld.Value[n2:])
	if err != nil || hatEsign.Tag != uint16(tagHatEsign) || len(hatEsign.Value) != HatLen {
		return f, nil, berr.New(berr.BadCert, op)
	}
	copy(f.HatEsign[:], hatEsign.Value)

	fld, n, err = tlv.ParseOneTwoOctetTag(rest)
	if err != nil || fld.Tag != tagFrom || len(fld.Value) != 6 {
		return f, nil, berr.New(berr.BadCert, op)
	}
	copy(f.From[:], fld.Value)
	rest = rest[n:]

	fld, n, err = tlv.ParseOneTwoOctetTag(rest)
	if err != nil || fld.Tag != tagUntil || len(fld.Value) != 6 {
		return f, nil, berr.New(berr.BadCert, op)
	}
	copy(f.Until[:], fld.Value)
	rest = rest[n:]

	if len(rest) != 0 {
		return f, nil, berr.New(berr.BadCert, op)
	}
	return f, nil, nil
}

// CvcUnwrap parses the TLV in b. When scheme and verifierPub are
// non-nil, it also verifies the signature; with verifierPub nil it only
// parses (used to read the subject public key from a self-signed root or
// a pre-certificate).
func CvcUnwrap(b []byte, verifierPub []byte, scheme primitives.SigScheme) (Fields, error) {
	const op = "cvc.CvcUnwrap"
	outer, _, err := tlv.ParseOneTwoOctetTag(b)
	if err != nil || outer.Tag != tagCert {
		return Fields{}, berr.New(berr.BadCert, op)
	}
	bodyTLV, n, err := tlv.ParseOneTwoOctetTag(outer.Value)
	if err != nil || bodyTLV.Tag != tagBody {
		return Fields{}, berr.New(berr.BadCert, op)
	}
	tbs := outer.Value[:n]

	sigTLV, _, err := tlv.ParseOneTwoOctetTag(outer.Value[n:])
	if err != nil || sigTLV.Tag != tagSignature {
		return Fields{}, berr.New(berr.BadCert, op)
	}

	f, _, err := parseBody(bodyTLV.Value)
	if err != nil {
		return Fields{}, err
	}
	if err := CvcCheck(f, scheme); err != nil {
		return Fields{}, err
	}

	if verifierPub != nil {
		if scheme == nil || f.Level == 0 || scheme.Level() != f.Level {
			return Fields{}, berr.New(berr.BadParams, op)
		}
		if !scheme.Verify(verifierPub, tbs, sigTLV.Value) {
			return Fields{}, berr.New(berr.BadCert, op)
		}
	}
	return f, nil
}

// CvcMatch checks that priv corresponds to the public key embedded in
// the certificate by recomputing the public key and comparing it in
// constant time.
func CvcMatch(f Fields, priv []byte, scheme primitives.SigScheme) (bool, error) {
	const op = "cvc.CvcMatch"
	if scheme == nil || f.Level != scheme.Level() {
		return false, berr.New(berr.BadParams, op)
	}
	pub, err := scheme.DerivePub(priv)
	if err != nil {
		return false, berr.Wrap(berr.BadParams, op, err)
	}
	if len(pub) != len(f.PubKey) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(pub, f.PubKey) == 1, nil
}

// CvcIss is CvcWrap after enforcing subject.Authority == issuer.Holder
// and level compatibility with the issuer certificate.
func CvcIss(subject Fields, issuerCert []byte, issuerPriv []byte, scheme primitives.SigScheme) ([]byte, error) {
	const op = "cvc.CvcIss"
	issuer, _, err := tlv.ParseOneTwoOctetTag(issuerCert)
	if err != nil || issuer.Tag != tagCert {
		return nil, berr.New(berr.BadCert, op)
	}
	issuerFields, err := CvcUnwrap(issuerCert, nil, nil)
	if err != nil {
		return nil, err
	}
	if subject.Authority != issuerFields.Holder {
		return nil, berr.New(berr.BadCert, op)
	}
	// CvcWrap signs at the subject's own level, so the issuer must hold a
	// key of that same level.
	if issuerFields.Level != subject.Level {
		return nil, berr.New(berr.BadParams, op)
	}
	return CvcWrap(subject, issuerPriv, scheme)
}

// bcdCompare compares a and b lexicographically on their packed BCD
// octets, returning -1, 0 or +1.
func bcdCompare(a, b [6]byte) int { return bytes.Compare(a[:], b[:]) }

// CvcVal verifies child under parent's embedded public key, enforces
// name chaining (child.Authority == parent.Holder), and, when now is
// non-nil, enforces child.From <= *now <= child.Until.
func CvcVal(child []byte, parent Fields, now *[6]byte, scheme primitives.SigScheme) (Fields, error) {
	const op = "cvc.CvcVal"
	f, err := CvcUnwrap(child, parent.PubKey, scheme)
	if err != nil {
		return Fields{}, err
	}
	if f.Authority != parent.Holder {
		return Fields{}, berr.New(berr.BadCert, op)
	}
	if now != nil {
		if bcdCompare(*now, f.From) < 0 || bcdCompare(*now, f.Until) > 0 {
			return Fields{}, berr.New(berr.BadCert, op)
		}
	}
	return f, nil
}

// CvcVal2 is CvcVal but additionally compares the parsed fields against
// the caller's expected subjectFields.
func CvcVal2(subjectFields Fields, certBytes []byte, parent Fields, now *[6]byte, scheme primitives.SigScheme) error {
	const op = "cvc.CvcVal2"
	f, err := CvcVal(certBytes, parent, now, scheme)
	if err != nil {
		return err
	}
	if f.Authority != subjectFields.Authority ||
		f.Holder != subjectFields.Holder ||
		f.Level != subjectFields.Level ||
		!bytes.Equal(f.PubKey, subjectFields.PubKey) {
		return berr.New(berr.BadCert, op)
	}
	return nil
}
