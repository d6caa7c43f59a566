// Command tokensim drives the tokencore applet dispatcher from the shell:
// select an applet, send APDUs, dump state, decode CTAP2 payloads, or
// probe real PC/SC readers.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"tokencore/dispatch"
	"tokencore/flashfs"
	"tokencore/internal/device"
)

var (
	version = "0.1.0"

	storePath string
	resetFlag bool
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "tokensim",
	Short: "Secure token applet dispatcher simulator",
	Long: `tokensim v` + version + `
Drive the admin/OpenPGP/PIV/OATH/FIDO2 applet dispatcher without real
hardware, against a flash-FS store on disk.

This tool supports:
  - Selecting an applet by AID
  - Sending raw or assembled APDUs
  - Dumping admin PIN/config/applet state
  - Decoding CTAP2 makeCredential/getAssertion payloads
  - Probing real PC/SC readers`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&storePath, "store", "s", "./tokensim-store",
		"Directory backing the simulated flash filesystem")
	rootCmd.PersistentFlags().BoolVar(&resetFlag, "reset", false,
		"Reinstall every applet with reset=true before running the command")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}

func logger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// selectionBlob is the name under which the CLI persists which applet was
// last selected, across process invocations; the dispatcher itself only
// tracks selection in memory for the lifetime of one Context.
const selectionBlob = "cli-selected-aid"

// openDevice opens (creating if absent) the on-disk flash store, wires the
// standard applet set over it, and restores whichever applet the previous
// invocation of this CLI had selected.
func openDevice() (*dispatch.Context, error) {
	fs, err := flashfs.NewDir(storePath, 255)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", storePath, err)
	}
	ctx, err := device.New(fs, logger(), resetFlag)
	if err != nil {
		return nil, err
	}
	if n, err := fs.Size(selectionBlob); err == nil && n > 0 {
		if data, err := fs.Read(selectionBlob, 0, n); err == nil {
			ctx.Select(dispatch.AID(data))
		}
	}
	return ctx, nil
}

// persistSelection records the current selection so the next invocation
// picks it back up.
func persistSelection(ctx *dispatch.Context) error {
	return ctx.FS.Write(selectionBlob, 0, []byte(ctx.Selected()), true)
}
