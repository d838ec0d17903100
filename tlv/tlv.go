// Package tlv implements the BER-TLV tag and length grammar shared by the
// cvc (CV-certificate) and sm (Secure Messaging) wire formats: tags are
// one or two octets, lengths follow the short/long form described in
// spec.md section 4.3 (0..127 single byte, else 81 ll or 82 ll ll).
package tlv

import (
	"github.com/ten0s/bee2/berr"
)

// PutLen appends the BER-TLV encoding of n to dst and returns the result.
func PutLen(dst []byte, n int) []byte {
	switch {
	case n < 0:
		panic("tlv: negative length")
	case n <= 0x7f:
		return append(dst, byte(n))
	case n <= 0xff:
		return append(dst, 0x81, byte(n))
	case n <= 0xffff:
		return append(dst, 0x82, byte(n>>8), byte(n))
	default:
		panic("tlv: length too large for BER-TLV short/long forms used here")
	}
}

// LenSize returns the number of octets PutLen(nil, n) would produce.
func LenSize(n int) int {
	switch {
	case n <= 0x7f:
		return 1
	case n <= 0xff:
		return 2
	default:
		return 3
	}
}

// ParseLen parses a BER-TLV length at the start of b, returning the
// decoded length and the number of octets consumed.
func ParseLen(b []byte) (n int, consumed int, err error) {
	if len(b) == 0 {
		return 0, 0, berr.New(berr.BadSm, "tlv.ParseLen")
	}
	first := b[0]
	if first&0x80 == 0 {
		return int(first), 1, nil
	}
	nOctets := int(first &^ 0x80)
	if nOctets == 0 || nOctets > 2 {
		return 0, 0, berr.New(berr.BadSm, "tlv.ParseLen")
	}
	if len(b) < 1+nOctets {
		return 0, 0, berr.New(berr.BadSm, "tlv.ParseLen")
	}
	v := 0
	for i := 0; i < nOctets; i++ {
		v = v<<8 | int(b[1+i])
	}
	return v, 1 + nOctets, nil
}

// PutTag appends tag (one or two octets, caller picks the representation)
// to dst.
func PutTag(dst []byte, tag uint16) []byte {
	if tag > 0xff {
		return append(dst, byte(tag>>8), byte(tag))
	}
	return append(dst, byte(tag))
}

// Field is a single parsed tag/value pair, used by both cvc and sm to
// walk a flat sequence of DOs without committing to a schema up front;
// the parse functions return the number of source bytes consumed
// alongside it.
type Field struct {
	Tag   uint16
	Value []byte
}

// ParseOne parses a single one-octet-tag TLV field (used by sm's DO-87/
// 97/99/8E containers, which are all single-octet tags) at the start of
// b, returning the field and the number of bytes consumed.
func ParseOne(b []byte) (f Field, consumed int, err error) {
	if len(b) < 1 {
		return Field{}, 0, berr.New(berr.BadSm, "tlv.ParseOne")
	}
	tag := uint16(b[0])
	n, lenSz, err := ParseLen(b[1:])
	if err != nil {
		return Field{}, 0, err
	}
	start := 1 + lenSz
	if len(b) < start+n {
		return Field{}, 0, berr.New(berr.BadSm, "tlv.ParseOne")
	}
	return Field{Tag: tag, Value: b[start : start+n]}, start + n, nil
}

// PutOne appends a one-octet-tag TLV field to dst.
func PutOne(dst []byte, tag byte, value []byte) []byte {
	dst = append(dst, tag)
	dst = PutLen(dst, len(value))
	dst = append(dst, value...)
	return dst
}

// ParseOneTwoOctetTag parses a field whose tag is two octets (used by
// cvc for its two-octet tags; cvc's one-octet tags go through ParseOne).
func ParseOneTwoOctetTag(b []byte) (f Field, consumed int, err error) {
	if len(b) < 2 {
		return Field{}, 0, berr.New(berr.BadCert, "tlv.ParseOneTwoOctetTag")
	}
	tag := uint16(b[0])<<8 | uint16(b[1])
	n, lenSz, err := ParseLen(b[2:])
	if err != nil {
		return Field{}, 0, berr.Wrap(berr.BadCert, "tlv.ParseOneTwoOctetTag", err)
	}
	start := 2 + lenSz
	if len(b) < start+n {
		return Field{}, 0, berr.New(berr.BadCert, "tlv.ParseOneTwoOctetTag")
	}
	return Field{Tag: tag, Value: b[start : start+n]}, start + n, nil
}

// PutTwoOctetTag appends a two-octet-tag TLV field to dst.
func PutTwoOctetTag(dst []byte, tag uint16, value []byte) []byte {
	dst = append(dst, byte(tag>>8), byte(tag))
	dst = PutLen(dst, len(value))
	dst = append(dst, value...)
	return dst
}

// Size returns len(PutLen(nil, n)) + len(value) + tagWidth, i.e. the
// encoded size of a one-field TLV, without allocating it.
func Size(tagWidth int, valueLen int) int {
	return tagWidth + LenSize(valueLen) + valueLen
}
