// Package sm implements the Secure Messaging (SM) channel: stateful,
// counter-based authenticated wrapping/unwrapping of command and
// response APDUs in ISO-7816 DO-87/DO-97/DO-99/DO-8E containers.
package sm

import (
	"github.com/ten0s/bee2/apdu"
	"github.com/ten0s/bee2/berr"
	"github.com/ten0s/bee2/primitives"
	"github.com/ten0s/bee2/tlv"
)

// Role identifies which endpoint owns a State. It is informational only:
// wrap/unwrap behave identically for either role, and lockstep counter
// agreement (not role) is what keeps both sides synchronized.
type Role byte

const (
	Terminal Role = iota
	CardTerminal
)

const (
	doCiphertext  byte = 0x87
	doExpectedLen byte = 0x97
	doStatus      byte = 0x99
	doMac         byte = 0x8E

	// smClaBit is the CLA bit this implementation sets to flag that an
	// APDU is SM-protected. spec.md section 4.3 says "sets bit 2 of
	// cla" without naming which ISO-7816-4 bit numbering convention it
	// means; 0x04 (bit index 2, zero-based) is used here and recorded
	// as a design decision rather than inferred silently.
	smClaBit byte = 0x04

	// KDF info labels used to derive the per-message encryption and
	// MAC keys from (K, ctr). Fixed and versioned rather than the
	// unrecoverable belt/bign label strings — see DESIGN.md.
	encLabel = "btok-sm-enc"
	macLabel = "btok-sm-mac"

	paddingIndicatorISO7816M2 byte = 0x02
)

// State is the per-endpoint SM session state: the shared session key K,
// the monotonic counter Ctr, and the endpoint's Role. The caller must
// call CtrInc before every Wrap/Unwrap; State never increments itself.
type State struct {
	K      []byte
	Ctr    [16]byte
	Role   Role
	cipher primitives.Cipher
	mac    primitives.Mac
	kdf    primitives.Kdf
	dead   bool
}

// Start creates a Ready SM state from a 32-octet session key.
func Start(k []byte, role Role, cipher primitives.Cipher, mac primitives.Mac, kdf primitives.Kdf) (*State, error) {
	const op = "sm.Start"
	if len(k) != 32 {
		return nil, berr.New(berr.BadInput, op)
	}
	if cipher == nil || mac == nil || kdf == nil {
		return nil, berr.New(berr.BadInput, op)
	}
	s := &State{K: append([]byte(nil), k...), Role: role, cipher: cipher, mac: mac, kdf: kdf}
	return s, nil
}

// CtrInc increments the 16-octet big-endian counter by one.
func (s *State) CtrInc() {
	for i := len(s.Ctr) - 1; i >= 0; i-- {
		s.Ctr[i]++
		if s.Ctr[i] != 0 {
			break
		}
	}
}

// Destroy zeroizes the session key and counter. The state becomes
// terminal and rejects further calls.
func (s *State) Destroy() {
	for i := range s.K {
		s.K[i] = 0
	}
	for i := range s.Ctr {
		s.Ctr[i] = 0
	}
	s.dead = true
}

func (s *State) deriveKeys() (encKey, macKey []byte, err error) {
	encKey, err = s.kdf.Derive(s.K, s.Ctr[:], []byte(encLabel), 32)
	if err != nil {
		return nil, nil, err
	}
	macKey, err = s.kdf.Derive(s.K, s.Ctr[:], []byte(macLabel), 32)
	if err != nil {
		return nil, nil, err
	}
	return encKey, macKey, nil
}

func pad(in []byte, blockSize int) []byte {
	out := append([]byte(nil), in...)
	out = append(out, 0x80)
	for len(out)%blockSize != 0 {
		out = append(out, 0x00)
	}
	return out
}

func unpad(in []byte) ([]byte, error) {
	for i := len(in) - 1; i >= 0; i-- {
		switch in[i] {
		case 0x00:
			continue
		case 0x80:
			return in[:i], nil
		default:
			return nil, berr.New(berr.BadPadding, "sm.unpad")
		}
	}
	return nil, berr.New(berr.BadPadding, "sm.unpad")
}

// encodeExpectedLen mirrors apdu's Le encoding: a single octet when
// rdfLen fits 1..256 (0 meaning 256), two big-endian octets otherwise,
// and two zero octets as the RdfLen==65536 "all available" sentinel —
// see SPEC_FULL.md section 4.3's resolution of the extended-length Open
// Question, derived from scenario D's literal "97 01 00" vector.
func encodeExpectedLen(rdfLen int) []byte {
	switch {
	case rdfLen <= 256:
		if rdfLen == 256 {
			return []byte{0x00}
		}
		return []byte{byte(rdfLen)}
	case rdfLen == 65536:
		return []byte{0x00, 0x00}
	default:
		return []byte{byte(rdfLen >> 8), byte(rdfLen)}
	}
}

func decodeExpectedLen(v []byte) (int, error) {
	switch len(v) {
	case 1:
		if v[0] == 0 {
			return 256, nil
		}
		return int(v[0]), nil
	case 2:
		n := int(v[0])<<8 | int(v[1])
		if n == 0 {
			return 65536, nil
		}
		return n, nil
	default:
		return 0, berr.New(berr.BadSm, "sm.decodeExpectedLen")
	}
}

// CmdWrap wraps cmd for transmission. With state == nil it is the plain
// canonical APDU encoding; otherwise it authenticates and encrypts per
// spec.md section 4.3.
func CmdWrap(cmd apdu.Cmd, state *State) ([]byte, error) {
	const op = "sm.CmdWrap"
	if state == nil {
		return apdu.EncodeCmd(cmd), nil
	}
	if state.dead {
		return nil, berr.New(berr.BadLogic, op)
	}

	encKey, macKey, err := state.deriveKeys()
	if err != nil {
		return nil, berr.Wrap(berr.BadEntropy, op, err)
	}

	claSM := cmd.Cla | smClaBit
	padded := pad(cmd.Cdf, state.cipher.BlockSize())
	ciphertext, err := state.cipher.CtrEnc(encKey, state.Ctr[:], padded)
	if err != nil {
		return nil, berr.Wrap(berr.BadInput, op, err)
	}
	do87Val := append([]byte{paddingIndicatorISO7816M2}, ciphertext...)
	do87 := tlv.PutOne(nil, doCiphertext, do87Val)

	var do97 []byte
	if cmd.RdfLen > 0 {
		do97 = tlv.PutOne(nil, doExpectedLen, encodeExpectedLen(cmd.RdfLen))
	}

	macInput := []byte{claSM, cmd.Ins, cmd.P1, cmd.P2}
	macInput = append(macInput, state.Ctr[:]...)
	macInput = append(macInput, do87...)
	macInput = append(macInput, do97...)
	tag, err := state.mac.Compute(macKey, macInput)
	if err != nil {
		return nil, berr.Wrap(berr.BadEntropy, op, err)
	}
	do8E := tlv.PutOne(nil, doMac, tag)

	dataField := append([]byte{}, do87...)
	dataField = append(dataField, do97...)
	dataField = append(dataField, do8E...)

	return apdu.EncodeCmd(apdu.Cmd{Cla: claSM, Ins: cmd.Ins, P1: cmd.P1, P2: cmd.P2, Cdf: dataField, RdfLen: cmd.RdfLen}), nil
}

// CmdUnwrap is the inverse of CmdWrap for a state-protected command.
func CmdUnwrap(wire []byte, state *State) (apdu.Cmd, error) {
	const op = "sm.CmdUnwrap"
	if state == nil {
		return apdu.Cmd{}, berr.New(berr.BadLogic, op)
	}
	if state.dead {
		return apdu.Cmd{}, berr.New(berr.BadLogic, op)
	}
	cmd, err := apdu.DecodeCmd(wire)
	if err != nil {
		return apdu.Cmd{}, berr.Wrap(berr.BadInput, op, err)
	}
	if cmd.Cla&smClaBit == 0 {
		state.dead = true
		return apdu.Cmd{}, berr.New(berr.BadSm, op)
	}

	do87, n, err := tlv.ParseOne(cmd.Cdf)
	if err != nil || do87.Tag != uint16(doCiphertext) {
		state.dead = true
		return apdu.Cmd{}, berr.New(berr.BadSm, op)
	}
	do87Bytes := cmd.Cdf[:n]
	rest := cmd.Cdf[n:]

	var do97Bytes []byte
	var rdfLen int
	if len(rest) > 0 {
		if f, n2, err2 := tlv.ParseOne(rest); err2 == nil && f.Tag == uint16(doExpectedLen) {
			do97Bytes = rest[:n2]
			rdfLen, err = decodeExpectedLen(f.Value)
			if err != nil {
				state.dead = true
				return apdu.Cmd{}, berr.Wrap(berr.BadSm, op, err)
			}
			rest = rest[n2:]
		}
	}

	do8E, _, err := tlv.ParseOne(rest)
	if err != nil || do8E.Tag != uint16(doMac) {
		state.dead = true
		return apdu.Cmd{}, berr.New(berr.BadSm, op)
	}

	_, macKey, err := state.deriveKeys()
	if err != nil {
		return apdu.Cmd{}, berr.Wrap(berr.BadEntropy, op, err)
	}
	macInput := []byte{cmd.Cla, cmd.Ins, cmd.P1, cmd.P2}
	macInput = append(macInput, state.Ctr[:]...)
	macInput = append(macInput, do87Bytes...)
	macInput = append(macInput, do97Bytes...)
	if !state.mac.Verify(macKey, macInput, do8E.Value) {
		state.dead = true
		return apdu.Cmd{}, berr.New(berr.BadMac, op)
	}

	if len(do87.Value) < 1 || do87.Value[0] != paddingIndicatorISO7816M2 {
		state.dead = true
		return apdu.Cmd{}, berr.New(berr.BadSm, op)
	}
	encKey, _, err := state.deriveKeys()
	if err != nil {
		return apdu.Cmd{}, berr.Wrap(berr.BadEntropy, op, err)
	}
	plainPadded, err := state.cipher.CtrDec(encKey, state.Ctr[:], do87.Value[1:])
	if err != nil {
		state.dead = true
		return apdu.Cmd{}, berr.Wrap(berr.BadSm, op, err)
	}
	plain, err := unpad(plainPadded)
	if err != nil {
		state.dead = true
		return apdu.Cmd{}, err
	}

	return apdu.Cmd{Cla: cmd.Cla &^ smClaBit, Ins: cmd.Ins, P1: cmd.P1, P2: cmd.P2, Cdf: plain, RdfLen: rdfLen}, nil
}

// RespWrap wraps resp for transmission, plain iff state == nil.
func RespWrap(resp apdu.Resp, state *State) ([]byte, error) {
	const op = "sm.RespWrap"
	if state == nil {
		return apdu.EncodeResp(resp), nil
	}
	if state.dead {
		return nil, berr.New(berr.BadLogic, op)
	}

	encKey, macKey, err := state.deriveKeys()
	if err != nil {
		return nil, berr.Wrap(berr.BadEntropy, op, err)
	}
	padded := pad(resp.Rdf, state.cipher.BlockSize())
	ciphertext, err := state.cipher.CtrEnc(encKey, state.Ctr[:], padded)
	if err != nil {
		return nil, berr.Wrap(berr.BadInput, op, err)
	}
	do87Val := append([]byte{paddingIndicatorISO7816M2}, ciphertext...)
	do87 := tlv.PutOne(nil, doCiphertext, do87Val)
	do99 := tlv.PutOne(nil, doStatus, []byte{resp.Sw1, resp.Sw2})

	macInput := append([]byte{}, state.Ctr[:]...)
	macInput = append(macInput, do87...)
	macInput = append(macInput, do99...)
	tag, err := state.mac.Compute(macKey, macInput)
	if err != nil {
		return nil, berr.Wrap(berr.BadEntropy, op, err)
	}
	do8E := tlv.PutOne(nil, doMac, tag)

	out := append([]byte{}, do87...)
	out = append(out, do99...)
	out = append(out, do8E...)
	return out, nil
}

// RespUnwrap is the inverse of RespWrap for a state-protected response.
func RespUnwrap(wire []byte, state *State) (apdu.Resp, error) {
	const op = "sm.RespUnwrap"
	if state == nil || state.dead {
		return apdu.Resp{}, berr.New(berr.BadLogic, op)
	}

	do87, n, err := tlv.ParseOne(wire)
	if err != nil || do87.Tag != uint16(doCiphertext) {
		state.dead = true
		return apdu.Resp{}, berr.New(berr.BadSm, op)
	}
	do87Bytes := wire[:n]
	rest := wire[n:]

	do99, n2, err := tlv.ParseOne(rest)
	if err != nil || do99.Tag != uint16(doStatus) || len(do99.Value) != 2 {
		state.dead = true
		return apdu.Resp{}, berr.New(berr.BadSm, op)
	}
	do99Bytes := rest[:n2]
	rest = rest[n2:]

	do8E, _, err := tlv.ParseOne(rest)
	if err != nil || do8E.Tag != uint16(doMac) {
		state.dead = true
		return apdu.Resp{}, berr.New(berr.BadSm, op)
	}

	_, macKey, err := state.deriveKeys()
	if err != nil {
		return apdu.Resp{}, berr.Wrap(berr.BadEntropy, op, err)
	}
	macInput := append([]byte{}, state.Ctr[:]...)
	macInput = append(macInput, do87Bytes...)
	macInput = append(macInput, do99Bytes...)
	if !state.mac.Verify(macKey, macInput, do8E.Value) {
		state.dead = true
		return apdu.Resp{}, berr.New(berr.BadMac, op)
	}

	if len(do87.Value) < 1 || do87.Value[0] != paddingIndicatorISO7816M2 {
		state.dead = true
		return apdu.Resp{}, berr.New(berr.BadSm, op)
	}
	encKey, _, err := state.deriveKeys()
	if err != nil {
		return apdu.Resp{}, berr.Wrap(berr.BadEntropy, op, err)
	}
	plainPadded, err := state.cipher.CtrDec(encKey, state.Ctr[:], do87.Value[1:])
	if err != nil {
		state.dead = true
		return apdu.Resp{}, berr.Wrap(berr.BadSm, op, err)
	}
	plain, err := unpad(plainPadded)
	if err != nil {
		state.dead = true
		return apdu.Resp{}, err
	}

	sw1, sw2 := do99.Value[0], do99.Value[1]
	return apdu.Resp{Sw1: sw1, Sw2: sw2, Rdf: plain}, nil
}
