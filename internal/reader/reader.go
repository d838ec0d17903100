// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package reader connects a Terminal to a physical smart card over
// PC/SC, layering the APDU codec and Secure Messaging on top of the
// raw byte-in/byte-out transport a reader exposes.
package reader

import (
	"fmt"

	"github.com/ebfe/scard"

	"github.com/ten0s/bee2/apdu"
	"github.com/ten0s/bee2/sm"
)

// Reader is a connection to a card inserted in a PC/SC reader.
type Reader struct {
	ctx  *scard.Context
	card *scard.Card
	name string
	atr  []byte
}

// ListReaders returns the names of every PC/SC reader currently visible
// to the system.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish PC/SC context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}
	return readers, nil
}

// Connect opens a connection to the card in the reader at readerIndex.
func Connect(readerIndex int) (*Reader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to establish PC/SC context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}
	if len(readers) == 0 {
		ctx.Release()
		return nil, fmt.Errorf("no smart card readers found")
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		ctx.Release()
		return nil, fmt.Errorf("reader index %d out of range (0-%d)", readerIndex, len(readers)-1)
	}

	readerName := readers[readerIndex]
	card, err := ctx.Connect(readerName, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("failed to connect to card in reader '%s': %w", readerName, err)
	}

	status, err := card.Status()
	if err != nil {
		card.Disconnect(scard.LeaveCard)
		ctx.Release()
		return nil, fmt.Errorf("failed to get card status: %w", err)
	}

	return &Reader{ctx: ctx, card: card, name: readerName, atr: status.Atr}, nil
}

// ConnectFirst connects to the first reader that has a card present.
func ConnectFirst() (*Reader, error) {
	names, err := ListReaders()
	if err != nil {
		return nil, err
	}
	lastErr := fmt.Errorf("no smart card readers found")
	for i := range names {
		r, err := Connect(i)
		if err == nil {
			return r, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Transmit sends raw APDU bytes to the card and returns the raw
// response bytes, with no codec or Secure Messaging involved.
func (r *Reader) Transmit(wire []byte) ([]byte, error) {
	resp, err := r.card.Transmit(wire)
	if err != nil {
		return nil, fmt.Errorf("transmit failed: %w", err)
	}
	return resp, nil
}

// TransactSM wraps cmd through state (plain if state is nil), transmits
// it to the card, and unwraps the response through the same state,
// giving a Terminal a single call that speaks BAUTH/SM-protected APDUs
// to a physical card exposing the ISO-7816-4 interface btok expects.
func (r *Reader) TransactSM(cmd apdu.Cmd, state *sm.State) (apdu.Resp, error) {
	if state != nil {
		state.CtrInc()
	}
	wire, err := sm.CmdWrap(cmd, state)
	if err != nil {
		return apdu.Resp{}, err
	}

	respWire, err := r.Transmit(wire)
	if err != nil {
		return apdu.Resp{}, err
	}

	if state != nil {
		state.CtrInc()
		return sm.RespUnwrap(respWire, state)
	}
	return apdu.DecodeResp(respWire)
}

// Close releases the card and PC/SC context.
func (r *Reader) Close() error {
	if r.card != nil {
		r.card.Disconnect(scard.LeaveCard)
	}
	if r.ctx != nil {
		r.ctx.Release()
	}
	return nil
}

// Name returns the reader's PC/SC name.
func (r *Reader) Name() string { return r.name }

// ATR returns the card's Answer To Reset bytes.
func (r *Reader) ATR() []byte { return r.atr }

// ATRHex returns the ATR as an upper-case hex string.
func (r *Reader) ATRHex() string { return fmt.Sprintf("%X", r.atr) }

// Reconnect resets the card connection; cold performs a full power
// cycle, otherwise a warm reset is used.
func (r *Reader) Reconnect(cold bool) error {
	if r.card == nil {
		return fmt.Errorf("no card connected")
	}
	initType := scard.ResetCard
	if cold {
		initType = scard.UnpowerCard
	}
	if err := r.card.Reconnect(scard.ShareShared, scard.ProtocolAny, initType); err != nil {
		return fmt.Errorf("reconnect failed: %w", err)
	}
	status, err := r.card.Status()
	if err == nil {
		r.atr = status.Atr
	}
	return nil
}
