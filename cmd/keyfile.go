// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// readScalar reads a private scalar from path, accepting either a raw
// binary file of exactly scalarLen bytes or a hex-encoded text file
// (trailing whitespace tolerated).
func readScalar(path string, scalarLen int) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(b) == scalarLen {
		return b, nil
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("%s: not a %d-byte binary file nor valid hex: %w", path, scalarLen, err)
	}
	if len(decoded) != scalarLen {
		return nil, fmt.Errorf("%s: decoded scalar length = %d, want %d", path, len(decoded), scalarLen)
	}
	return decoded, nil
}

// readCert reads a CV certificate from path, accepting either a raw TLV
// binary file or its hex encoding.
func readCert(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(b))
	if decoded, err := hex.DecodeString(trimmed); err == nil {
		return decoded, nil
	}
	return b, nil
}

// writeCert writes a CV certificate to path as a raw TLV binary file.
func writeCert(path string, cert []byte) error {
	return os.WriteFile(path, cert, 0o600)
}
