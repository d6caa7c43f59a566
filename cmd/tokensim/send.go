package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"tokencore/apdu"
	"tokencore/dispatch"
	"tokencore/output"
)

var (
	sendINS  uint8
	sendP1   uint8
	sendP2   uint8
	sendData string
)

var selectCmd = &cobra.Command{
	Use:   "select <aid>",
	Short: "Select an applet by AID",
	Long: `select switches the active applet.

It first tries the real wire path: a SELECT (INS=0xA4, P1=0x04, P2=0x00)
CAPDU carrying the AID in its data field, exactly as a host would send it.
Only the admin applet recognizes AID-based SELECT (codec/selector rule 1);
for OpenPGP/PIV/OATH, which have no such wire-level rule, this falls back
to switching selection directly.`,
	Args: cobra.ExactArgs(1),
	RunE: runSelect,
}

func runSelect(cmd *cobra.Command, args []string) error {
	ctx, err := openDevice()
	if err != nil {
		return err
	}
	target := dispatch.AID(args[0])

	r := ctx.Process(&apdu.CAPDU{INS: 0xA4, P1: 0x04, P2: 0x00, Data: []byte(args[0])})
	if !(r.SW == apdu.SWNoError && ctx.Selected() == target) {
		if !ctx.Select(target) {
			return fmt.Errorf("unknown applet AID %q", args[0])
		}
	}
	if err := persistSelection(ctx); err != nil {
		return fmt.Errorf("persist selection: %w", err)
	}
	output.PrintSuccess(fmt.Sprintf("selected %q", args[0]))
	return nil
}

var sendCmd = &cobra.Command{
	Use:   "send [hex-capdu]",
	Short: "Send a raw hex CAPDU, or one assembled from --ins/--p1/--p2/--data, to the selected applet",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().Uint8Var(&sendINS, "ins", 0, "instruction byte")
	sendCmd.Flags().Uint8Var(&sendP1, "p1", 0, "P1 byte")
	sendCmd.Flags().Uint8Var(&sendP2, "p2", 0, "P2 byte")
	sendCmd.Flags().StringVar(&sendData, "data", "", "command data, hex-encoded")
	rootCmd.AddCommand(selectCmd, sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, err := openDevice()
	if err != nil {
		return err
	}

	var capduHex string
	var c *apdu.CAPDU
	if len(args) == 1 {
		raw, err := hex.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("decode capdu hex: %w", err)
		}
		c, err = apdu.DecodeCAPDU(raw)
		if err != nil {
			return fmt.Errorf("decode capdu: %w", err)
		}
		capduHex = hex.EncodeToString(raw)
	} else {
		data, err := hex.DecodeString(sendData)
		if err != nil {
			return fmt.Errorf("decode --data hex: %w", err)
		}
		c = &apdu.CAPDU{INS: sendINS, P1: sendP1, P2: sendP2, Data: data}
		capduHex = fmt.Sprintf("00%02X%02X%02X%02X%s", c.INS, c.P1, c.P2, len(data), hex.EncodeToString(data))
	}

	r := ctx.Process(c)
	rapduHex := hex.EncodeToString(r.Bytes())
	output.PrintRAPDU(capduHex, rapduHex, r.SW)
	return nil
}
