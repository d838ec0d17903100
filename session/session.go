// Package session ties a completed BAUTH key agreement into a pair of
// Secure Messaging channels, one per endpoint.
package session

import (
	"github.com/ten0s/bee2/bauth"
	"github.com/ten0s/bee2/berr"
	"github.com/ten0s/bee2/primitives"
	"github.com/ten0s/bee2/sm"
)

// FromBauth extracts the session key from a Done BAUTH state (via
// StepG) and initializes a fresh sm.State for the given role from it.
// The BAUTH state is destroyed on success: per spec.md section 4.5 the
// key is moved into SM rather than shared, so the BAUTH side never
// retains a usable copy.
func FromBauth(role sm.Role, state *bauth.State, cipher primitives.Cipher, mac primitives.Mac, kdf primitives.Kdf) (*sm.State, error) {
	const op = "session.FromBauth"
	if state == nil {
		return nil, berr.New(berr.BadInput, op)
	}
	key, err := state.StepG()
	if err != nil {
		return nil, berr.Wrap(berr.BadLogic, op, err)
	}
	s, err := sm.Start(key, role, cipher, mac, kdf)
	if err != nil {
		return nil, err
	}
	state.Destroy()
	return s, nil
}
