package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tokencore/admin"
	"tokencore/flashfs"
	"tokencore/output"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"dump"},
	Short:   "Dump admin PIN, config, and applet registry state",
	RunE:    runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, err := openDevice()
	if err != nil {
		return err
	}

	a, ok := ctx.Applet(admin.AID)
	if !ok {
		return fmt.Errorf("admin applet not registered")
	}
	adm, ok := a.(*admin.Applet)
	if !ok {
		return fmt.Errorf("admin applet has unexpected type %T", a)
	}

	retries, err := adm.PINRetries()
	if err != nil {
		return fmt.Errorf("read PIN retries: %w", err)
	}

	s := output.DeviceStatus{
		Selected:      string(ctx.Selected()),
		PINRetries:    retries,
		PINValidated:  adm.PINValidated(),
		LEDNormallyOn: adm.IsLEDNormallyOn(),
		KbdIfaceOn:    adm.IsKbdInterfaceEnabled(),
	}
	if sn, ok := adm.SerialNumber(); ok {
		s.SerialNumber = sn
	}
	if fsCap, ok := ctx.FS.(flashfs.Capacity); ok {
		s.FlashCapUnits = fsCap.CapacityUnits()
	}
	for _, aid := range ctx.AIDs() {
		s.AppletAIDs = append(s.AppletAIDs, string(aid))
	}
	output.PrintDeviceStatus(s)
	return nil
}
