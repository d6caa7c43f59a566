package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"tokencore/card"
	"tokencore/output"
)

var pcscCmd = &cobra.Command{
	Use:   "pcsc",
	Short: "Real PC/SC reader discovery and transmit",
}

var pcscProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "List physical smart card readers visible to PC/SC",
	Long: `probe lists the readers a real PC/SC stack sees on this machine.
It does not touch the simulator's flash store; it exists so captured
traffic from a physical token can be compared against this core's
behavior.`,
	RunE: runPcscProbe,
}

var (
	pcscCold bool
)

var pcscTransmitCmd = &cobra.Command{
	Use:   "transmit <reader-index> <hex-capdu>",
	Short: "Connect to a physical reader and transmit one raw APDU",
	Long: `transmit connects to reader <reader-index> (see "pcsc probe" for the
list), optionally resets the card, sends one raw hex-encoded APDU, and
prints the ATR and response - the real-hardware counterpart to
"tokensim send" against the simulator.`,
	Args: cobra.ExactArgs(2),
	RunE: runPcscTransmit,
}

func init() {
	pcscTransmitCmd.Flags().BoolVar(&pcscCold, "cold", false, "cold-reset (power cycle) the card before transmitting")
	pcscCmd.AddCommand(pcscProbeCmd, pcscTransmitCmd)
	rootCmd.AddCommand(pcscCmd)
}

func runPcscProbe(cmd *cobra.Command, args []string) error {
	readers, err := card.ListReaders()
	if err != nil {
		output.PrintWarning(err.Error())
		return nil
	}
	output.PrintReaderList(readers)
	return nil
}

func runPcscTransmit(cmd *cobra.Command, args []string) error {
	var index int
	if _, err := fmt.Sscanf(args[0], "%d", &index); err != nil {
		return fmt.Errorf("parse reader index %q: %w", args[0], err)
	}
	raw, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("decode capdu hex: %w", err)
	}

	reader, err := card.Connect(index)
	if err != nil {
		return fmt.Errorf("connect to reader %d: %w", index, err)
	}
	defer reader.Close()

	if pcscCold {
		if err := reader.Reconnect(true); err != nil {
			return fmt.Errorf("cold reset: %w", err)
		}
	}

	resp, err := reader.Transmit(raw)
	if err != nil {
		return fmt.Errorf("transmit: %w", err)
	}

	fmt.Println()
	output.PrintRAPDU(hex.EncodeToString(raw), hex.EncodeToString(resp), rapduSW(resp))
	output.PrintSuccess(fmt.Sprintf("reader %q, ATR %s", reader.Name(), reader.ATRHex()))
	return nil
}

// rapduSW extracts the trailing status word from a raw response, or 0 if
// the response is too short to carry one.
func rapduSW(resp []byte) uint16 {
	if len(resp) < 2 {
		return 0
	}
	return uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
}
