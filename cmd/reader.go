// SPDX-FileCopyrightText: (C) 2025 Red Hat Inc.
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ten0s/bee2/internal/reader"
)

var readerCmd = &cobra.Command{
	Use:   "reader",
	Short: "List PC/SC readers, or send a raw APDU to the first card present",
	Long: `With no flags, reader lists the PC/SC readers visible on this
host. With --send, it connects to the first reader with a card
present and transmits one hex-encoded command APDU unwrapped, which
is useful for probing a card before driving it through a full BAUTH/
SM session (see the terminal and card-terminal commands for that).
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := readerCmdLoadConfig(cmd); err != nil {
			return err
		}
		if readerSend != "" {
			return runReaderSend()
		}
		return runReaderList()
	},
}

var readerSend string

func init() {
	rootCmd.AddCommand(readerCmd)
	readerCmd.Flags().StringVar(&readerSend, "send", "", "Hex-encoded command APDU to transmit to the first card present")
	viper.BindPFlags(readerCmd.Flags())
}

func readerCmdLoadConfig(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return rootCmdLoadConfig()
}

func newReaderTable() table.Writer {
	t := table.NewWriter()
	style := table.StyleRounded
	style.Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.SetStyle(style)
	return t
}

func runReaderList() error {
	names, err := reader.ListReaders()
	if err != nil {
		return err
	}
	t := newReaderTable()
	t.SetTitle("PC/SC READERS")
	t.AppendHeader(table.Row{"#", "Name"})
	for i, name := range names {
		t.AppendRow(table.Row{i, name})
	}
	t.Render()
	return nil
}

func runReaderSend() error {
	wire, err := hex.DecodeString(readerSend)
	if err != nil {
		return fmt.Errorf("--send: %w", err)
	}
	rc, err := reader.ConnectFirst()
	if err != nil {
		return err
	}
	defer rc.Close()

	fmt.Printf("connected to %s, ATR %s\n", rc.Name(), rc.ATRHex())
	resp, err := rc.Transmit(wire)
	if err != nil {
		return err
	}
	fmt.Printf("response: %s\n", hex.EncodeToString(resp))
	return nil
}
