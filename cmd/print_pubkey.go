// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ten0s/bee2/cvc"
	"github.com/ten0s/bee2/internal/store"
)

var printPubkeyCmd = &cobra.Command{
	Use:   "print-pubkey",
	Short: "Print the public key and fields embedded in a CV certificate",
	Long: `print-pubkey inspects a CV certificate given directly with
--cert, or every certificate previously issued to --by-holder and
recorded in the --db-dsn audit database by issue-cert.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := printPubkeyCmdLoadConfig(cmd); err != nil {
			return err
		}
		return runPrintPubkey()
	},
}

var (
	printPubkeyCertPath string
	printPubkeyByHolder string
)

func init() {
	rootCmd.AddCommand(printPubkeyCmd)
	printPubkeyCmd.Flags().String("cert", "", "Certificate file to inspect")
	printPubkeyCmd.Flags().String("by-holder", "", "Look up every certificate previously issued to this holder in --db-dsn")
	viper.BindPFlags(printPubkeyCmd.Flags())
}

func printPubkeyCmdLoadConfig(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := rootCmdLoadConfig(); err != nil {
		return err
	}
	printPubkeyCertPath = viper.GetString("cert")
	printPubkeyByHolder = viper.GetString("by-holder")
	if printPubkeyCertPath == "" && printPubkeyByHolder == "" {
		return fmt.Errorf("one of --cert or --by-holder is required")
	}
	return nil
}

func printFields(f cvc.Fields) {
	fmt.Printf("holder:    %s\n", f.Holder)
	fmt.Printf("authority: %s\n", f.Authority)
	fmt.Printf("level:     %d\n", f.Level)
	fmt.Printf("from:      %s\n", hex.EncodeToString(f.From[:]))
	fmt.Printf("until:     %s\n", hex.EncodeToString(f.Until[:]))
	fmt.Printf("pubkey:    %s\n", hex.EncodeToString(f.PubKey))
}

func runPrintPubkey() error {
	scheme, err := getScheme()
	if err != nil {
		return err
	}

	if printPubkeyByHolder != "" {
		db, err := getState()
		if err != nil {
			return err
		}
		certs, err := store.CertsByHolder(db, printPubkeyByHolder)
		if err != nil {
			return err
		}
		if len(certs) == 0 {
			return fmt.Errorf("no certificates on file for holder %q", printPubkeyByHolder)
		}
		for i, c := range certs {
			f, err := cvc.CvcUnwrap(c.Data, nil, scheme)
			if err != nil {
				return err
			}
			if i > 0 {
				fmt.Println()
			}
			printFields(f)
		}
		return nil
	}

	cert, err := readCert(printPubkeyCertPath)
	if err != nil {
		return err
	}
	f, err := cvc.CvcUnwrap(cert, nil, scheme)
	if err != nil {
		return err
	}
	printFields(f)
	return nil
}
