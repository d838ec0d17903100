// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"errors"
	"log/slog"
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"
	"hermannm.dev/devlog"

	"github.com/ten0s/bee2/internal/refcrypto"
	"github.com/ten0s/bee2/internal/store"
	"github.com/ten0s/bee2/primitives"
)

var (
	debug          bool
	logLevel       slog.LevelVar
	dbType         string
	dbDSN          string
	securityLevel  int
	insecureTLS    bool
	serverCertPath string
	serverKeyPath  string
)

var rootCmd = &cobra.Command{
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Use:   "bee2",
	Short: "Terminal and Card-Terminal implementation of the STB 34.101.79 token-interaction layer",
	Long: `bee2 drives the btok mutual-authentication and Secure Messaging
layer between a Terminal and a Card-Terminal. It can act as either side
of a BAUTH handshake over an HTTP bridge, send raw APDUs to a card in a
PC/SC reader (no BAUTH/SM over the reader), and issue/inspect CV
certificates.
`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main() exactly once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stdout, &devlog.Options{
		Level: &logLevel,
	})))

	rootCmd.PersistentFlags().Bool("debug", false, "Print debug contents")
	rootCmd.PersistentFlags().String("db-type", "sqlite", "Database driver (sqlite or postgres)")
	rootCmd.PersistentFlags().String("db-dsn", "", "Database DSN/file path")
	rootCmd.PersistentFlags().Int("level", 128, "Security level in bits (128, 192 or 256)")
	rootCmd.PersistentFlags().Bool("insecure-tls", false, "Listen with TLS using --server-cert-path and --server-key-path (no certificate is generated)")
	rootCmd.PersistentFlags().String("server-cert-path", "", "Path to server certificate")
	rootCmd.PersistentFlags().String("server-key-path", "", "Path to server private key")
}

// rootConfig mirrors the persistent flags shared by every bee2
// command; mapstructure tags let it be filled from viper's flat
// settings map the same way the command-line server's own config
// layer decodes a settings map into typed sections.
type rootConfig struct {
	Debug          bool   `mapstructure:"debug"`
	DBType         string `mapstructure:"db-type"`
	DBDSN          string `mapstructure:"db-dsn"`
	Level          int    `mapstructure:"level"`
	InsecureTLS    bool   `mapstructure:"insecure-tls"`
	ServerCertPath string `mapstructure:"server-cert-path"`
	ServerKeyPath  string `mapstructure:"server-key-path"`
}

// rootCmdLoadConfig reads the persistent flags bound by viper. Called by
// each subcommand's own config loader after its config file (if any)
// has been read.
func rootCmdLoadConfig() error {
	var cfg rootConfig
	if err := mapstructure.Decode(viper.AllSettings(), &cfg); err != nil {
		return errors.New("decoding root configuration: " + err.Error())
	}

	debug = cfg.Debug
	if debug {
		logLevel.Set(slog.LevelDebug)
	}
	dbType = cfg.DBType
	dbDSN = cfg.DBDSN
	securityLevel = cfg.Level
	if securityLevel == 0 {
		securityLevel = 128
	}
	insecureTLS = cfg.InsecureTLS
	serverCertPath = cfg.ServerCertPath
	serverKeyPath = cfg.ServerKeyPath
	return nil
}

func getState() (*gorm.DB, error) {
	if dbDSN == "" {
		return nil, errors.New("missing required database DSN (--db-dsn)")
	}
	return store.InitDb(store.Config{Type: dbType, DSN: dbDSN})
}

func getScheme() (primitives.SigScheme, error) {
	return refcrypto.NewSigScheme(securityLevel)
}
