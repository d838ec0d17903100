// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"context"

	"github.com/ten0s/bee2/cvc"
	"github.com/ten0s/bee2/primitives"
)

// rootValidator implements primitives.CertValidator by checking a peer's
// CV certificate against a single trusted root's fields, the way a
// Card-Terminal or Terminal deployed with one fixed issuing authority
// would. params is unused; the root is fixed at construction.
type rootValidator struct {
	root   cvc.Fields
	scheme primitives.SigScheme
}

func newRootValidator(rootCert []byte, scheme primitives.SigScheme) (*rootValidator, error) {
	root, err := cvc.CvcUnwrap(rootCert, nil, scheme)
	if err != nil {
		return nil, err
	}
	return &rootValidator{root: root, scheme: scheme}, nil
}

func (v *rootValidator) Validate(_ context.Context, _ []byte, certBytes []byte) ([]byte, error) {
	f, err := cvc.CvcVal(certBytes, v.root, nil, v.scheme)
	if err != nil {
		return nil, err
	}
	return f.PubKey, nil
}
