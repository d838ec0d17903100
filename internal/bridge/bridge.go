// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

// Package bridge carries BAUTH envelopes and SM-wrapped APDUs over
// HTTP, thinly wrapping the protocol-core state machines the way the
// command-line server's own handlers wrap its device-onboarding
// protocol state.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ten0s/bee2/apdu"
	"github.com/ten0s/bee2/bauth"
	"github.com/ten0s/bee2/berr"
	"github.com/ten0s/bee2/cvc"
	"github.com/ten0s/bee2/primitives"
	"github.com/ten0s/bee2/session"
	"github.com/ten0s/bee2/sm"
)

// Envelope is the wire shape exchanged with POST /btok/session: Step
// identifies which BAUTH message Payload carries (2 for M2, 3 for M3,
// 4 for M4), and SessionID threads successive calls to the same
// in-progress handshake.
type Envelope struct {
	SessionID string `json:"session_id,omitempty"`
	Step      int    `json:"step"`
	Payload   []byte `json:"payload,omitempty"`
	// PeerCert carries T's certificate on the very first request, when
	// the Card-Terminal does not already know it; CT needs it to
	// derive K0 before it can emit M2.
	PeerCert []byte `json:"peer_cert,omitempty"`
}

// CardFunction produces a response APDU for an unwrapped command APDU,
// keeping the bridge itself agnostic to what the card actually does.
type CardFunction func(cmd apdu.Cmd) (apdu.Resp, error)

type pending struct {
	state *bauth.State
}

type ready struct {
	sm *sm.State
}

// SessionHandler drives the Card-Terminal side of BAUTH over HTTP and,
// once a handshake completes, unwraps/wraps APDUs against the derived
// SM channel. Session state is held in an in-memory table guarded by a
// mutex, the same shape the command-line server's rvinfo handler uses
// for its own shared state.
type SessionHandler struct {
	mu      sync.Mutex
	pending map[string]*pending
	ready   map[string]*ready
	nextID  uint64

	settings  bauth.Settings
	scheme    primitives.SigScheme
	mac       primitives.Mac
	cipher    primitives.Cipher
	kdf       primitives.Kdf
	rng       primitives.Rng
	ownPriv   []byte
	ownCert   []byte
	validator primitives.CertValidator
	cardFn    CardFunction

	// limiters throttles BAUTH attempt creation per remote address,
	// capping the rate a misbehaving or malicious terminal can spend
	// spinning up half-finished handshakes.
	limiters   map[string]*rate.Limiter
	limitEvery rate.Limit
	limitBurst int

	recorder SessionRecorder
}

// SessionRecorder receives the outcome of one completed or failed BAUTH
// attempt, letting a caller persist an audit trail without the bridge
// depending on any particular storage backend. peerHolder is empty if
// the peer's certificate was never recovered.
type SessionRecorder func(peerHolder string, kca, kcb bool, outcome string)

// SetRecorder installs rec, called once per session handled by h from
// the point its outcome (success or failure) becomes known.
func (h *SessionHandler) SetRecorder(rec SessionRecorder) {
	h.recorder = rec
}

func (h *SessionHandler) record(state *bauth.State, outcome string) {
	if h.recorder == nil {
		return
	}
	var peerHolder string
	if state != nil {
		if cert := state.PeerCert(); cert != nil {
			if f, err := cvc.CvcUnwrap(cert, nil, h.scheme); err == nil {
				peerHolder = f.Holder
			}
		}
	}
	h.recorder(peerHolder, h.settings.Kca, h.settings.Kcb, outcome)
}

// NewSessionHandler constructs a Card-Terminal HTTP bridge. limitEvery/
// limitBurst configure the per-remote-address BAUTH attempt rate
// limiter; pass rate.Inf and 0 to disable throttling.
func NewSessionHandler(
	settings bauth.Settings,
	scheme primitives.SigScheme,
	mac primitives.Mac,
	cipher primitives.Cipher,
	kdf primitives.Kdf,
	rng primitives.Rng,
	ownPriv, ownCert []byte,
	validator primitives.CertValidator,
	cardFn CardFunction,
	limitEvery rate.Limit,
	limitBurst int,
) *SessionHandler {
	return &SessionHandler{
		pending:    make(map[string]*pending),
		ready:      make(map[string]*ready),
		settings:   settings,
		scheme:     scheme,
		mac:        mac,
		cipher:     cipher,
		kdf:        kdf,
		rng:        rng,
		ownPriv:    ownPriv,
		ownCert:    ownCert,
		validator:  validator,
		cardFn:     cardFn,
		limiters:   make(map[string]*rate.Limiter),
		limitEvery: limitEvery,
		limitBurst: limitBurst,
	}
}

// RegisterRoutes wires the bridge's two endpoints into mux, matching
// the teacher's own ServeMux-based routing rather than a framework.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /btok/session", h.handleSession)
	mux.HandleFunc("POST /btok/session/{id}/apdu", h.handleApdu)
}

func (h *SessionHandler) allow(remote string) bool {
	if h.limitBurst <= 0 {
		return true
	}
	h.mu.Lock()
	lim, ok := h.limiters[remote]
	if !ok {
		lim = rate.NewLimiter(h.limitEvery, h.limitBurst)
		h.limiters[remote] = lim
	}
	h.mu.Unlock()
	return lim.Allow()
}

func (h *SessionHandler) handleSession(w http.ResponseWriter, r *http.Request) {
	if !h.allow(r.RemoteAddr) {
		slog.Debug("BAUTH attempt rate limited", "remote", r.RemoteAddr)
		http.Error(w, "too many session attempts", http.StatusTooManyRequests)
		return
	}

	var in Envelope
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			slog.Debug("error decoding session envelope", "error", err)
			http.Error(w, "invalid input", http.StatusBadRequest)
			return
		}
	}

	switch {
	case in.SessionID == "":
		h.startSession(w, r.Context(), in.PeerCert)
	case in.Step == 3:
		h.advanceSession(w, r.Context(), in)
	default:
		http.Error(w, "unexpected step", http.StatusBadRequest)
	}
}

func (h *SessionHandler) startSession(w http.ResponseWriter, ctx context.Context, peerCert []byte) {
	state, err := bauth.Start(ctx, bauth.RoleCT, h.settings, h.scheme, h.mac, h.cipher, h.rng, h.ownPriv, h.ownCert, nil)
	if err != nil {
		writeBauthError(w, err)
		return
	}
	m2, err := state.Step2(peerCert)
	if err != nil {
		h.record(state, berr.KindOf(err))
		writeBauthError(w, err)
		return
	}

	h.mu.Lock()
	h.nextID++
	id := formatID(h.nextID)
	h.pending[id] = &pending{state: state}
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, Envelope{SessionID: id, Step: 2, Payload: m2})
}

func (h *SessionHandler) advanceSession(w http.ResponseWriter, ctx context.Context, in Envelope) {
	h.mu.Lock()
	p, ok := h.pending[in.SessionID]
	if ok {
		delete(h.pending, in.SessionID)
	}
	h.mu.Unlock()
	if !ok {
		http.Error(w, "unknown or already-advanced session", http.StatusNotFound)
		return
	}

	m4, err := p.state.Step4(ctx, in.Payload, h.validator)
	if err != nil {
		h.record(p.state, berr.KindOf(err))
		writeBauthError(w, err)
		return
	}

	smState, err := session.FromBauth(sm.CardTerminal, p.state, h.cipher, h.mac, h.kdf)
	if err != nil {
		h.record(p.state, berr.KindOf(err))
		writeBauthError(w, err)
		return
	}

	h.mu.Lock()
	h.ready[in.SessionID] = &ready{sm: smState}
	h.mu.Unlock()
	h.record(p.state, "ok")

	writeJSON(w, http.StatusOK, Envelope{SessionID: in.SessionID, Step: 4, Payload: m4})
}

func (h *SessionHandler) handleApdu(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.mu.Lock()
	sess, ok := h.ready[id]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "unknown or not-yet-established session", http.StatusNotFound)
		return
	}

	wire, err := readBody(r)
	if err != nil {
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}

	sess.sm.CtrInc()
	cmd, err := sm.CmdUnwrap(wire, sess.sm)
	if err != nil {
		writeBauthError(w, err)
		return
	}

	resp, err := h.cardFn(cmd)
	if err != nil {
		slog.Debug("card function error", "error", err)
		http.Error(w, "card function error", http.StatusInternalServerError)
		return
	}

	sess.sm.CtrInc()
	respWire, err := sm.RespWrap(resp, sess.sm)
	if err != nil {
		writeBauthError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(respWire)
}

// Dial drives the Terminal side of a BAUTH handshake against a bridge
// server and returns a ready SM state plus a Transact closure that
// wraps/sends/unwraps one APDU per call over /btok/session/{id}/apdu.
func Dial(
	ctx context.Context,
	baseURL string,
	client *http.Client,
	settings bauth.Settings,
	scheme primitives.SigScheme,
	mac primitives.Mac,
	cipher primitives.Cipher,
	kdf primitives.Kdf,
	rng primitives.Rng,
	ownPriv, ownCert, peerCert []byte,
	validator primitives.CertValidator,
) (*sm.State, func(cmd apdu.Cmd) (apdu.Resp, error), error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	state, err := bauth.Start(ctx, bauth.RoleT, settings, scheme, mac, cipher, rng, ownPriv, ownCert, peerCert)
	if err != nil {
		return nil, nil, err
	}

	var m2resp Envelope
	if err := postJSON(ctx, client, baseURL+"/btok/session", Envelope{PeerCert: ownCert}, &m2resp); err != nil {
		return nil, nil, err
	}

	m3, err := state.Step3(ctx, m2resp.Payload, peerCert, validator)
	if err != nil {
		return nil, nil, err
	}

	var m4resp Envelope
	if err := postJSON(ctx, client, baseURL+"/btok/session", Envelope{SessionID: m2resp.SessionID, Step: 3, Payload: m3}, &m4resp); err != nil {
		return nil, nil, err
	}

	if err := state.Step5(m4resp.Payload); err != nil {
		return nil, nil, err
	}

	smState, err := session.FromBauth(sm.Terminal, state, cipher, mac, kdf)
	if err != nil {
		return nil, nil, err
	}

	apduURL := baseURL + "/btok/session/" + m2resp.SessionID + "/apdu"
	transact := func(cmd apdu.Cmd) (apdu.Resp, error) {
		smState.CtrInc()
		wire, err := sm.CmdWrap(cmd, smState)
		if err != nil {
			return apdu.Resp{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apduURL, bytesReader(wire))
		if err != nil {
			return apdu.Resp{}, err
		}
		httpResp, err := client.Do(req)
		if err != nil {
			return apdu.Resp{}, err
		}
		defer httpResp.Body.Close()
		if httpResp.StatusCode != http.StatusOK {
			return apdu.Resp{}, errors.New("bridge: unexpected status " + httpResp.Status)
		}
		respWire, err := readBody2(httpResp)
		if err != nil {
			return apdu.Resp{}, err
		}
		smState.CtrInc()
		return sm.RespUnwrap(respWire, smState)
	}
	return smState, transact, nil
}

func writeBauthError(w http.ResponseWriter, err error) {
	slog.Debug("bauth/sm error", "error", err)
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func readBody2(r *http.Response) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

func postJSON(ctx context.Context, client *http.Client, url string, in Envelope, out *Envelope) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return errors.New("bridge: " + resp.Status + ": " + string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, v Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func formatID(n uint64) string {
	const hex = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = hex[n&0xf]
		n >>= 4
	}
	return string(buf[i:])
}
