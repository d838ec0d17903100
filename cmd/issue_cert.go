// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ten0s/bee2/cvc"
	"github.com/ten0s/bee2/internal/store"
)

var issueCertCmd = &cobra.Command{
	Use:   "issue-cert",
	Short: "Issue a CV certificate for a holder key",
	Long: `Issue a CV certificate binding a holder name to the public key
derived from a private scalar, signed by that same scalar (a
self-signed root certificate) or, when --signer-key is given, by a
separate issuing authority's key.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := issueCertCmdLoadConfig(cmd); err != nil {
			return err
		}
		return runIssueCert()
	},
}

var (
	issueHolder    string
	issueAuthority string
	issueFrom      string
	issueUntil     string
	issueKeyPath   string
	issueSignerKey string
	issueOutPath   string
)

func init() {
	rootCmd.AddCommand(issueCertCmd)
	issueCertCmd.Flags().String("holder", "", "Certificate holder name")
	issueCertCmd.Flags().String("authority", "", "Issuing authority name")
	issueCertCmd.Flags().String("from", "", "Validity start, packed BCD YYMMDD as 6 hex octets (e.g. 020200070007)")
	issueCertCmd.Flags().String("until", "", "Validity end, packed BCD YYMMDD as 6 hex octets")
	issueCertCmd.Flags().String("key", "", "Holder's private scalar file")
	issueCertCmd.Flags().String("signer-key", "", "Issuer's private scalar file (defaults to --key for a self-signed certificate)")
	issueCertCmd.Flags().String("out", "", "Output certificate file path")
	issueCertCmd.MarkFlagRequired("holder")
	issueCertCmd.MarkFlagRequired("key")
	issueCertCmd.MarkFlagRequired("out")
	viper.BindPFlags(issueCertCmd.Flags())
}

func issueCertCmdLoadConfig(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := rootCmdLoadConfig(); err != nil {
		return err
	}
	issueHolder = viper.GetString("holder")
	issueAuthority = viper.GetString("authority")
	if issueAuthority == "" {
		issueAuthority = issueHolder
	}
	issueFrom = viper.GetString("from")
	issueUntil = viper.GetString("until")
	issueKeyPath = viper.GetString("key")
	issueSignerKey = viper.GetString("signer-key")
	issueOutPath = viper.GetString("out")
	return nil
}

func parseYYMMDD(s string) ([6]byte, error) {
	var out [6]byte
	if s == "" {
		return out, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 6 {
		return out, fmt.Errorf("date %q must be 6 packed-BCD hex octets (e.g. 020200070007)", s)
	}
	copy(out[:], b)
	return out, nil
}

func runIssueCert() error {
	scheme, err := getScheme()
	if err != nil {
		return err
	}
	holderKey, err := readScalar(issueKeyPath, scheme.ScalarLen())
	if err != nil {
		return err
	}
	signerKey := holderKey
	if issueSignerKey != "" {
		signerKey, err = readScalar(issueSignerKey, scheme.ScalarLen())
		if err != nil {
			return err
		}
	}

	from, err := parseYYMMDD(issueFrom)
	if err != nil {
		return err
	}
	until, err := parseYYMMDD(issueUntil)
	if err != nil {
		return err
	}

	pub, err := scheme.DerivePub(holderKey)
	if err != nil {
		return err
	}

	f := cvc.Fields{
		Authority: issueAuthority,
		Holder:    issueHolder,
		From:      from,
		Until:     until,
		Level:     scheme.Level(),
		PubKey:    pub,
	}
	cert, err := cvc.CvcWrap(f, signerKey, scheme)
	if err != nil {
		return err
	}
	if err := writeCert(issueOutPath, cert); err != nil {
		return err
	}
	fmt.Printf("issued certificate for %q (%d octets) -> %s\n", issueHolder, len(cert), issueOutPath)

	if dbDSN != "" {
		if db, err := getState(); err != nil {
			slog.Debug("error opening certificate audit database", "error", err)
		} else if err := store.SaveCert(db, &store.StoredCert{
			Holder:    issueHolder,
			Authority: issueAuthority,
			Level:     scheme.Level(),
			Data:      cert,
			NotBefore: hex.EncodeToString(from[:]),
			NotAfter:  hex.EncodeToString(until[:]),
		}); err != nil {
			slog.Debug("error saving issued certificate", "error", err)
		}
	}
	return nil
}
