// Package output renders dispatcher state as terminal tables with
// go-pretty.
package output

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

var (
	colorHeader  = text.Colors{text.FgCyan, text.Bold}
	colorLabel   = text.Colors{text.FgYellow}
	colorValue   = text.Colors{text.FgWhite}
	colorSuccess = text.Colors{text.FgGreen}
	colorError   = text.Colors{text.FgRed}
	colorWarn    = text.Colors{text.FgYellow}
)

func getTableStyle() table.Style {
	style := table.StyleRounded
	style.Color.Header = colorHeader
	style.Color.Row = text.Colors{text.FgWhite}
	style.Color.RowAlternate = text.Colors{text.FgHiWhite}
	style.Options.SeparateRows = false
	return style
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(getTableStyle())
	return t
}

// DeviceStatus is the data PrintDeviceStatus renders: the fields a real
// "tokensim status" round-trip to the core can read without driving an
// actual VERIFY.
type DeviceStatus struct {
	Selected       string
	PINRetries     int
	PINValidated   bool
	LEDNormallyOn  bool
	KbdIfaceOn     bool
	FlashCapUnits  uint8
	SerialNumber   string // hex, empty if not yet written
	AppletAIDs     []string
}

// PrintDeviceStatus renders the admin PIN, config bits, and applet registry
// state as a table.
func PrintDeviceStatus(s DeviceStatus) {
	fmt.Println()
	t := newTable()
	t.SetTitle("TOKEN STATUS")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 20},
		{Number: 2, Colors: colorValue, WidthMin: 40},
	})
	t.AppendRow(table.Row{"Selected applet", s.Selected})
	t.AppendRow(table.Row{"Admin PIN retries", s.PINRetries})
	t.AppendRow(table.Row{"Admin session", validatedCell(s.PINValidated)})
	t.AppendRow(table.Row{"LED normally on", s.LEDNormallyOn})
	t.AppendRow(table.Row{"Keyboard interface", s.KbdIfaceOn})
	t.AppendRow(table.Row{"Flash capacity units", s.FlashCapUnits})
	if s.SerialNumber != "" {
		t.AppendRow(table.Row{"Serial number", s.SerialNumber})
	} else {
		t.AppendRow(table.Row{"Serial number", colorWarn.Sprint("(not written)")})
	}
	t.Render()

	fmt.Println()
	t2 := newTable()
	t2.SetTitle("REGISTERED APPLETS")
	t2.AppendHeader(table.Row{"AID"})
	for _, aid := range s.AppletAIDs {
		t2.AppendRow(table.Row{aid})
	}
	t2.Render()
}

func validatedCell(v bool) string {
	if v {
		return colorSuccess.Sprint("validated")
	}
	return colorWarn.Sprint("not validated")
}

// PrintRAPDU prints one command/response exchange for "tokensim send".
func PrintRAPDU(capduHex string, rapduHex string, sw uint16) {
	fmt.Println()
	t := newTable()
	t.SetTitle("APDU EXCHANGE")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 12},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})
	t.AppendRow(table.Row{"C-APDU", capduHex})
	t.AppendRow(table.Row{"R-APDU", rapduHex})
	t.AppendRow(table.Row{"SW", fmt.Sprintf("%04X", sw)})
	t.Render()
}

// PrintCTAP2Request renders a decoded CTAP2 makeCredential/getAssertion
// request for "tokensim ctap2 decode".
func PrintCTAP2Request(kind string, fields map[string]string) {
	fmt.Println()
	t := newTable()
	t.SetTitle(fmt.Sprintf("CTAP2 %s", kind))
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 16},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})
	for k, v := range fields {
		t.AppendRow(table.Row{k, v})
	}
	t.Render()
}

// PrintReaderList prints available PC/SC readers.
func PrintReaderList(readers []string) {
	fmt.Println()
	t := newTable()
	t.SetTitle("AVAILABLE SMART CARD READERS")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Colors: colorLabel, WidthMin: 8},
		{Number: 2, Colors: colorValue, WidthMin: 50},
	})
	if len(readers) == 0 {
		t.AppendRow(table.Row{"Status", colorWarn.Sprint("No readers found")})
	} else {
		for i, r := range readers {
			t.AppendRow(table.Row{fmt.Sprintf("[%d]", i), r})
		}
	}
	t.Render()
}

// PrintError prints an error message.
func PrintError(msg string) {
	fmt.Println(colorError.Sprintf("✗ Error: %s", msg))
}

// PrintSuccess prints a success message.
func PrintSuccess(msg string) {
	fmt.Println(colorSuccess.Sprintf("✓ %s", msg))
}

// PrintWarning prints a warning message.
func PrintWarning(msg string) {
	fmt.Println(colorWarn.Sprintf("⚠ %s", msg))
}
