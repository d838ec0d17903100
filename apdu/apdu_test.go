package apdu

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// Scenario C (spec.md section 8): cmd = (00 A4 04 04, cdf="54657374",
// rdf_len=256); SmCmdWrap with state=nil is just the plain encoding, and
// must match this literal vector.
func TestEncodeCmdScenarioC(t *testing.T) {
	cmd := Cmd{Cla: 0x00, Ins: 0xA4, P1: 0x04, P2: 0x04, Cdf: []byte("Test"), RdfLen: 256}
	got := EncodeCmd(cmd)
	want, err := hex.DecodeString("00A40404045465737400")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("EncodeCmd = % X, want % X", got, want)
	}

	back, err := DecodeCmd(got)
	if err != nil {
		t.Fatal(err)
	}
	if back.Cla != cmd.Cla || back.Ins != cmd.Ins || back.P1 != cmd.P1 || back.P2 != cmd.P2 {
		t.Fatalf("DecodeCmd header mismatch: %+v", back)
	}
	if !bytes.Equal(back.Cdf, cmd.Cdf) {
		t.Fatalf("DecodeCmd cdf = % X, want % X", back.Cdf, cmd.Cdf)
	}
	if back.RdfLen != cmd.RdfLen {
		t.Fatalf("DecodeCmd rdfLen = %d, want %d", back.RdfLen, cmd.RdfLen)
	}
}

func TestCmdRoundTripShortForm(t *testing.T) {
	cases := []Cmd{
		{Cla: 0x00, Ins: 0xA4, P1: 0x00, P2: 0x00},
		{Cla: 0x00, Ins: 0xA4, P1: 0x00, P2: 0x00, RdfLen: 1},
		{Cla: 0x00, Ins: 0xA4, P1: 0x00, P2: 0x00, RdfLen: 256},
		{Cla: 0x00, Ins: 0xD6, P1: 0x00, P2: 0x00, Cdf: []byte{0x01, 0x02, 0x03}},
		{Cla: 0x00, Ins: 0xD6, P1: 0x00, P2: 0x00, Cdf: bytes.Repeat([]byte{0xAB}, 255), RdfLen: 256},
	}
	for i, cmd := range cases {
		enc := EncodeCmd(cmd)
		dec, err := DecodeCmd(enc)
		if err != nil {
			t.Fatalf("case %d: DecodeCmd: %v", i, err)
		}
		if dec.Cla != cmd.Cla || dec.Ins != cmd.Ins || dec.P1 != cmd.P1 || dec.P2 != cmd.P2 || dec.RdfLen != cmd.RdfLen {
			t.Fatalf("case %d: header/rdfLen mismatch: got %+v want %+v", i, dec, cmd)
		}
		if !bytes.Equal(dec.Cdf, cmd.Cdf) {
			t.Fatalf("case %d: cdf mismatch: got % X want % X", i, dec.Cdf, cmd.Cdf)
		}
	}
}

func TestCmdRoundTripExtendedForm(t *testing.T) {
	bigCdf := bytes.Repeat([]byte{0x42}, 300)
	cases := []Cmd{
		{Cla: 0x00, Ins: 0xD6, P1: 0x00, P2: 0x00, Cdf: bigCdf},
		{Cla: 0x00, Ins: 0xD6, P1: 0x00, P2: 0x00, Cdf: bigCdf, RdfLen: 300},
		{Cla: 0x00, Ins: 0xB0, P1: 0x00, P2: 0x00, RdfLen: 65536},
		{Cla: 0x00, Ins: 0xB0, P1: 0x00, P2: 0x00, RdfLen: 65535},
	}
	for i, cmd := range cases {
		if shortFormOK(cmd) {
			t.Fatalf("case %d: expected this case to require extended form", i)
		}
		enc := EncodeCmd(cmd)
		dec, err := DecodeCmd(enc)
		if err != nil {
			t.Fatalf("case %d: DecodeCmd: %v", i, err)
		}
		if dec.RdfLen != cmd.RdfLen {
			t.Fatalf("case %d: rdfLen = %d, want %d", i, dec.RdfLen, cmd.RdfLen)
		}
		if !bytes.Equal(dec.Cdf, cmd.Cdf) {
			t.Fatalf("case %d: cdf mismatch: got %d bytes want %d bytes", i, len(dec.Cdf), len(cmd.Cdf))
		}
	}
}

func TestDecodeCmdTruncated(t *testing.T) {
	if _, err := DecodeCmd([]byte{0x00, 0xA4, 0x00}); err == nil {
		t.Fatal("expected error on truncated header")
	}
	// Lc claims more data than present.
	if _, err := DecodeCmd([]byte{0x00, 0xA4, 0x00, 0x00, 0x05, 0x01, 0x02}); err == nil {
		t.Fatal("expected error on Lc overflow")
	}
}

func TestRespRoundTrip(t *testing.T) {
	cases := []Resp{
		{Sw1: 0x90, Sw2: 0x00},
		{Sw1: 0x6A, Sw2: 0x82},
		{Sw1: 0x90, Sw2: 0x00, Rdf: []byte{0x01, 0x02, 0x03}},
	}
	for i, resp := range cases {
		enc := EncodeResp(resp)
		dec, err := DecodeResp(enc)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if dec.Sw1 != resp.Sw1 || dec.Sw2 != resp.Sw2 {
			t.Fatalf("case %d: sw mismatch", i)
		}
		if !bytes.Equal(dec.Rdf, resp.Rdf) {
			t.Fatalf("case %d: rdf mismatch: got % X want % X", i, dec.Rdf, resp.Rdf)
		}
	}
}
