// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ten0s/bee2/apdu"
	"github.com/ten0s/bee2/bauth"
	"github.com/ten0s/bee2/berr"
	"github.com/ten0s/bee2/cvc"
	"github.com/ten0s/bee2/internal/bridge"
	"github.com/ten0s/bee2/internal/refcrypto"
	"github.com/ten0s/bee2/internal/store"
)

var terminalCmd = &cobra.Command{
	Use:   "terminal url",
	Short: "Run the Terminal side of a BAUTH handshake against a card-terminal bridge",
	Long: `terminal drives the Terminal side of BAUTH against a
card-terminal command listening at url (e.g. http://127.0.0.1:8443),
establishes the derived Secure Messaging channel, and, if --send is
given, transacts one SM-protected command APDU through it and prints
the response.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := terminalCmdLoadConfig(cmd, args); err != nil {
			return err
		}
		return runTerminal()
	},
}

var (
	tURL       string
	tCertPath  string
	tKeyPath   string
	tPeerCert  string
	tRootCert  string
	tKca       bool
	tKcb       bool
	tSendApdu  string
)

func init() {
	rootCmd.AddCommand(terminalCmd)
	terminalCmd.Flags().String("cert", "", "Terminal's own CV certificate")
	terminalCmd.Flags().String("key", "", "Terminal's own private scalar")
	terminalCmd.Flags().String("peer-cert", "", "Card-Terminal's certificate; the handshake fails without it, since the card-terminal bridge does not send it")
	terminalCmd.Flags().String("root-cert", "", "Trusted root CV certificate used to validate the Card-Terminal's certificate")
	terminalCmd.Flags().Bool("kca", false, "Authenticate this Terminal to the Card-Terminal")
	terminalCmd.Flags().Bool("kcb", true, "Require the Card-Terminal to confirm its own authentication")
	terminalCmd.Flags().String("send", "", "Hex-encoded command APDU to transact once the SM channel is established")
	terminalCmd.MarkFlagRequired("cert")
	terminalCmd.MarkFlagRequired("key")
	terminalCmd.MarkFlagRequired("root-cert")
	viper.BindPFlags(terminalCmd.Flags())
}

func terminalCmdLoadConfig(cmd *cobra.Command, args []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := rootCmdLoadConfig(); err != nil {
		return err
	}
	tURL = args[0]
	tCertPath = viper.GetString("cert")
	tKeyPath = viper.GetString("key")
	tPeerCert = viper.GetString("peer-cert")
	tRootCert = viper.GetString("root-cert")
	tKca = viper.GetBool("kca")
	tKcb = viper.GetBool("kcb")
	tSendApdu = viper.GetString("send")
	return nil
}

func runTerminal() error {
	scheme, err := getScheme()
	if err != nil {
		return err
	}
	ownKey, err := readScalar(tKeyPath, scheme.ScalarLen())
	if err != nil {
		return err
	}
	ownCert, err := readCert(tCertPath)
	if err != nil {
		return err
	}
	var peerCert []byte
	if tPeerCert != "" {
		if peerCert, err = readCert(tPeerCert); err != nil {
			return err
		}
	}
	rootCert, err := readCert(tRootCert)
	if err != nil {
		return err
	}
	validator, err := newRootValidator(rootCert, scheme)
	if err != nil {
		return err
	}

	ctx := context.Background()
	settings := bauth.Settings{Kca: tKca, Kcb: tKcb}
	_, transact, err := bridge.Dial(
		ctx, tURL, nil,
		settings, scheme, refcrypto.Mac{}, refcrypto.Cipher{}, refcrypto.Kdf{}, refcrypto.Rng{},
		ownKey, ownCert, peerCert, validator,
	)
	recordTerminalSession(peerCert, tKca, tKcb, err)
	if err != nil {
		return fmt.Errorf("BAUTH handshake failed: %w", err)
	}
	fmt.Println("BAUTH handshake complete, Secure Messaging channel established")

	if tSendApdu == "" {
		return nil
	}
	wire, err := hex.DecodeString(tSendApdu)
	if err != nil {
		return fmt.Errorf("--send: %w", err)
	}
	cmdApdu, err := apdu.DecodeCmd(wire)
	if err != nil {
		return fmt.Errorf("--send: %w", err)
	}
	resp, err := transact(cmdApdu)
	if err != nil {
		return fmt.Errorf("transact failed: %w", err)
	}
	fmt.Printf("response: %s\n", hex.EncodeToString(apdu.EncodeResp(resp)))
	return nil
}

// recordTerminalSession persists one session audit row when --db-dsn
// is configured, mirroring the Card-Terminal side's use of
// bridge.SessionHandler.SetRecorder for the same SessionRecord model.
func recordTerminalSession(peerCert []byte, kca, kcb bool, handshakeErr error) {
	if dbDSN == "" {
		return
	}
	db, err := getState()
	if err != nil {
		slog.Debug("error opening session audit database", "error", err)
		return
	}
	outcome := "ok"
	if handshakeErr != nil {
		outcome = berr.KindOf(handshakeErr)
	}
	var peerHolder string
	if peerCert != nil {
		if scheme, serr := getScheme(); serr == nil {
			if f, ferr := cvc.CvcUnwrap(peerCert, nil, scheme); ferr == nil {
				peerHolder = f.Holder
			}
		}
	}
	if err := store.SaveSession(db, &store.SessionRecord{
		Role: "T", PeerHat: peerHolder, Kca: kca, Kcb: kcb, Outcome: outcome,
	}); err != nil {
		slog.Debug("error saving session record", "error", err)
	}
}
