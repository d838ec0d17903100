// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/ten0s/bee2/apdu"
	"github.com/ten0s/bee2/bauth"
	"github.com/ten0s/bee2/internal/bridge"
	"github.com/ten0s/bee2/internal/refcrypto"
	"github.com/ten0s/bee2/internal/store"
)

var cardTerminalCmd = &cobra.Command{
	Use:   "card-terminal address",
	Short: "Run a Card-Terminal BAUTH/SM endpoint over HTTP",
	Long: `card-terminal listens for BAUTH handshakes and SM-wrapped APDUs
at address (host:port), acting as the Card-Terminal side of the
protocol. The card itself is simulated: it answers SELECT and GET DATA
commands and returns SW 6D00 (instruction not supported) to anything
else, which is enough to exercise the handshake and transport end to
end without a physical card.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cardTerminalCmdLoadConfig(cmd, args); err != nil {
			return err
		}
		return runCardTerminal()
	},
}

var (
	ctAddr      string
	ctCertPath  string
	ctKeyPath   string
	ctRootCert  string
	ctKca       bool
	ctKcb       bool
	ctRateEvery float64
	ctRateBurst int
)

// rateLimitOf converts a "minimum seconds between events" flag into the
// rate.Limit accepted by rate.NewLimiter; zero or negative disables
// throttling entirely.
func rateLimitOf(seconds float64) rate.Limit {
	if seconds <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Duration(seconds * float64(time.Second)))
}

func init() {
	rootCmd.AddCommand(cardTerminalCmd)
	cardTerminalCmd.Flags().String("cert", "", "Card-Terminal's own CV certificate")
	cardTerminalCmd.Flags().String("key", "", "Card-Terminal's own private scalar")
	cardTerminalCmd.Flags().String("root-cert", "", "Trusted root CV certificate used to validate the Terminal's certificate")
	cardTerminalCmd.Flags().Bool("kca", false, "Require the Terminal to authenticate")
	cardTerminalCmd.Flags().Bool("kcb", true, "Confirm the Card-Terminal's own authentication to the Terminal")
	cardTerminalCmd.Flags().Float64("rate-every-seconds", 1.0, "Minimum seconds between new BAUTH attempts per remote address")
	cardTerminalCmd.Flags().Int("rate-burst", 5, "Burst of BAUTH attempts allowed per remote address")
	cardTerminalCmd.MarkFlagRequired("cert")
	cardTerminalCmd.MarkFlagRequired("key")
	cardTerminalCmd.MarkFlagRequired("root-cert")
	viper.BindPFlags(cardTerminalCmd.Flags())
}

func cardTerminalCmdLoadConfig(cmd *cobra.Command, args []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := rootCmdLoadConfig(); err != nil {
		return err
	}
	ctAddr = args[0]
	ctCertPath = viper.GetString("cert")
	ctKeyPath = viper.GetString("key")
	ctRootCert = viper.GetString("root-cert")
	ctKca = viper.GetBool("kca")
	ctKcb = viper.GetBool("kcb")
	ctRateEvery = viper.GetFloat64("rate-every-seconds")
	ctRateBurst = viper.GetInt("rate-burst")
	return nil
}

// simulatedCard answers SELECT (INS A4) and GET DATA (INS CA) with an
// empty success response and anything else with "instruction not
// supported", enough surface to drive the bridge end to end without a
// physical card.
func simulatedCard(cmd apdu.Cmd) (apdu.Resp, error) {
	switch cmd.Ins {
	case 0xA4, 0xCA:
		return apdu.Resp{Sw1: 0x90, Sw2: 0x00}, nil
	default:
		return apdu.Resp{Sw1: 0x6D, Sw2: 0x00}, nil
	}
}

func runCardTerminal() error {
	scheme, err := getScheme()
	if err != nil {
		return err
	}
	ownKey, err := readScalar(ctKeyPath, scheme.ScalarLen())
	if err != nil {
		return err
	}
	ownCert, err := readCert(ctCertPath)
	if err != nil {
		return err
	}
	rootCert, err := readCert(ctRootCert)
	if err != nil {
		return err
	}
	validator, err := newRootValidator(rootCert, scheme)
	if err != nil {
		return err
	}

	settings := bauth.Settings{Kca: ctKca, Kcb: ctKcb}
	handler := bridge.NewSessionHandler(
		settings, scheme, refcrypto.Mac{}, refcrypto.Cipher{}, refcrypto.Kdf{}, refcrypto.Rng{},
		ownKey, ownCert, validator, simulatedCard,
		rateLimitOf(ctRateEvery), ctRateBurst,
	)
	if dbDSN != "" {
		db, err := getState()
		if err != nil {
			return fmt.Errorf("opening session audit database: %w", err)
		}
		handler.SetRecorder(func(peerHolder string, kca, kcb bool, outcome string) {
			if err := store.SaveSession(db, &store.SessionRecord{
				Role: "CT", PeerHat: peerHolder, Kca: kca, Kcb: kcb, Outcome: outcome,
			}); err != nil {
				slog.Debug("error saving session record", "error", err)
			}
		})
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	fmt.Printf("card-terminal listening on %s\n", ctAddr)
	return newHTTPServer(ctAddr, mux, insecureTLS || (serverCertPath != "" && serverKeyPath != "")).Start()
}
