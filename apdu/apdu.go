// Package apdu implements the ISO-7816-4 command/response APDU value
// types and their canonical short-form and extended-form wire codec.
package apdu

import (
	"github.com/ten0s/bee2/berr"
)

// Cmd is a command APDU. Cdf is nil when the command carries no data
// field at all, and a non-nil (possibly zero-length) slice when the data
// field is present but may be empty — the two are encoded distinctly, per
// the wire-format invariant.
type Cmd struct {
	Cla, Ins, P1, P2 byte
	Cdf              []byte
	// RdfLen is the expected response length: 0 means no response data
	// is expected (Le omitted), 1..65535 is a literal expected length,
	// and 65536 means "return all available data".
	RdfLen int
}

// Resp is a response APDU.
type Resp struct {
	Sw1, Sw2 byte
	Rdf      []byte
}

// shortFormOK reports whether cmd can be expressed in ISO-7816-4 short
// form: at most 255 octets of command data and an expected response
// length of at most 256 octets.
func shortFormOK(cmd Cmd) bool {
	return len(cmd.Cdf) <= 255 && cmd.RdfLen <= 256
}

// EncodeCmd produces the canonical wire encoding of cmd: cla|ins|p1|p2
// followed by an optional Lc+data field and an optional Le field, in
// short form when possible and extended form otherwise.
//
// Known limitation: a command whose data field is present-but-empty and
// which expects no response (Cdf non-nil, len(Cdf)==0, RdfLen==0) encodes
// to a single 0x00 octet after the header, the same bytes as "no data,
// Le = 256". DecodeCmd resolves that collision in favor of the Le-only
// interpretation; this corner case is therefore not round-trippable. No
// test vector in this lineage exercises it.
func EncodeCmd(cmd Cmd) []byte {
	out := []byte{cmd.Cla, cmd.Ins, cmd.P1, cmd.P2}
	if shortFormOK(cmd) {
		if cmd.Cdf != nil {
			out = append(out, byte(len(cmd.Cdf)))
			out = append(out, cmd.Cdf...)
		}
		if cmd.RdfLen > 0 {
			if cmd.RdfLen == 256 {
				out = append(out, 0x00)
			} else {
				out = append(out, byte(cmd.RdfLen))
			}
		}
		return out
	}

	out = append(out, 0x00)
	if cmd.Cdf != nil {
		n := len(cmd.Cdf)
		out = append(out, byte(n>>8), byte(n))
		out = append(out, cmd.Cdf...)
	}
	if cmd.RdfLen > 0 {
		if cmd.RdfLen == 65536 {
			out = append(out, 0x00, 0x00)
		} else {
			out = append(out, byte(cmd.RdfLen>>8), byte(cmd.RdfLen))
		}
	}
	return out
}

func decodeLe1(b byte) int {
	if b == 0 {
		return 256
	}
	return int(b)
}

func decodeLe2(hi, lo byte) int {
	v := int(hi)<<8 | int(lo)
	if v == 0 {
		return 65536
	}
	return v
}

// DecodeCmd is the inverse of EncodeCmd for every canonically encoded
// input; it fails with BadInput on truncated input, contradictory length
// forms, or a declared length overflowing the buffer.
func DecodeCmd(b []byte) (Cmd, error) {
	const op = "apdu.DecodeCmd"
	if len(b) < 4 {
		return Cmd{}, berr.New(berr.BadInput, op)
	}
	cmd := Cmd{Cla: b[0], Ins: b[1], P1: b[2], P2: b[3]}
	body := b[4:]

	switch {
	case len(body) == 0:
		return cmd, nil

	case len(body) == 1:
		cmd.RdfLen = decodeLe1(body[0])
		return cmd, nil

	case body[0] != 0x00:
		lc := int(body[0])
		switch {
		case len(body) == 1+lc:
			cmd.Cdf = body[1 : 1+lc]
			return cmd, nil
		case len(body) == 1+lc+1:
			cmd.Cdf = body[1 : 1+lc]
			cmd.RdfLen = decodeLe1(body[1+lc])
			return cmd, nil
		default:
			return Cmd{}, berr.New(berr.BadInput, op)
		}

	case len(body) == 2:
		// Short form with a present-but-empty data field (Lc = 0) and Le.
		cmd.Cdf = body[1:1]
		cmd.RdfLen = decodeLe1(body[1])
		return cmd, nil

	default: // body[0] == 0x00: extended form
		if len(body) < 3 {
			return Cmd{}, berr.New(berr.BadInput, op)
		}
		if len(body) == 3 {
			cmd.RdfLen = decodeLe2(body[1], body[2])
			return cmd, nil
		}
		lc := int(body[1])<<8 | int(body[2])
		switch {
		case len(body) == 3+lc:
			cmd.Cdf = body[3 : 3+lc]
			return cmd, nil
		case len(body) == 3+lc+2:
			cmd.Cdf = body[3 : 3+lc]
			cmd.RdfLen = decodeLe2(body[3+lc], body[3+lc+1])
			return cmd, nil
		default:
			return Cmd{}, berr.New(berr.BadInput, op)
		}
	}
}

// EncodeResp appends sw1 sw2 after rdf.
func EncodeResp(resp Resp) []byte {
	out := make([]byte, 0, len(resp.Rdf)+2)
	out = append(out, resp.Rdf...)
	out = append(out, resp.Sw1, resp.Sw2)
	return out
}

// DecodeResp reads the trailing status word; the remaining prefix is Rdf.
func DecodeResp(b []byte) (Resp, error) {
	if len(b) < 2 {
		return Resp{}, berr.New(berr.BadInput, "apdu.DecodeResp")
	}
	n := len(b)
	resp := Resp{Sw1: b[n-2], Sw2: b[n-1]}
	if n > 2 {
		resp.Rdf = b[:n-2]
	}
	return resp, nil
}
