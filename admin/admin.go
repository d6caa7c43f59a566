// Package admin implements the admin applet: PIN-gated device configuration,
// serial-number provisioning, sub-applet factory reset, and the FIDO
// attestation key/cert provisioning hatch. Every instruction except SELECT,
// READ_VERSION and VERIFY requires a validated admin PIN session.
package admin

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"tokencore/apdu"
	"tokencore/ctap2"
	"tokencore/dispatch"
	"tokencore/flashfs"
	"tokencore/pin"
)

// AID is this applet's selector value.
const AID dispatch.AID = "admin"

// Instruction codes.
const (
	InsSelect              = 0xA4
	InsReadVersion         = 0x60
	InsVerify              = 0x20
	InsChangePIN           = 0x24
	InsWriteFIDOPrivateKey = 0x62
	InsWriteFIDOCert       = 0x63
	InsResetOpenPGP        = 0x64
	InsResetPIV            = 0x65
	InsResetOATH           = 0x66
	InsWriteSN             = 0x67
	InsConfig              = 0x68
	InsReadFlashCap        = 0x69
	InsVendorSpecific      = 0x6F
)

// P1 values for the CONFIG instruction: which config bit P2's low bit sets.
const (
	CfgLEDOn    = 0x01
	CfgKbdIface = 0x02
)

const (
	snFile  = "sn"
	cfgFile = "admin_cfg"

	pinMinLength  = 6
	pinMaxLength  = 32
	pinMaxRetries = 3
	defaultPIN    = "123456"
)

// AIDs of the sub-applets RESET_OPENPGP/RESET_PIV/RESET_OATH delegate to.
const (
	OpenPGPAID dispatch.AID = "openpgp"
	PIVAID     dispatch.AID = "piv"
	OATHAID    dispatch.AID = "oath"
)

// Config is the persistent device configuration blob, packed in a fixed
// field order.
type Config struct {
	LEDNormallyOn       bool
	KbdInterfaceEnabled bool
}

func (c Config) marshal() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, c.LEDNormallyOn)
	binary.Write(&buf, binary.BigEndian, c.KbdInterfaceEnabled)
	return buf.Bytes()
}

func unmarshalConfig(buf []byte) Config {
	var c Config
	r := bytes.NewReader(buf)
	binary.Read(r, binary.BigEndian, &c.LEDNormallyOn)
	binary.Read(r, binary.BigEndian, &c.KbdInterfaceEnabled)
	return c
}

// Applet is the admin applet.
type Applet struct {
	fs   flashfs.FS
	pin  *pin.PIN
	keys *ctap2.KeyStore
	log  *slog.Logger
	cfg  Config

	// VendorSpecific and VendorVersion are weak-linked hooks in the source;
	// here they are dependency-injected function fields defaulting to a
	// no-op that returns success with an empty body.
	VendorSpecific func(c *apdu.CAPDU) *apdu.RAPDU
	VendorVersion  func(c *apdu.CAPDU) *apdu.RAPDU
}

// New wires an admin applet over a flash-FS. Call Install before use.
func New(fs flashfs.FS, log *slog.Logger) *Applet {
	if log == nil {
		log = slog.Default()
	}
	return &Applet{
		fs:             fs,
		pin:            pin.New(fs, "admin-pin", pinMinLength, pinMaxLength, pinMaxRetries),
		keys:           ctap2.NewKeyStore(fs),
		log:            log,
		VendorSpecific: noopVendorHook,
		VendorVersion:  noopVendorHook,
	}
}

func noopVendorHook(*apdu.CAPDU) *apdu.RAPDU {
	return &apdu.RAPDU{SW: apdu.SWNoError}
}

// AID implements dispatch.Applet.
func (a *Applet) AID() dispatch.AID { return AID }

// Install ensures the config blob and admin PIN exist with their defaults.
// reset is accepted for interface symmetry with the sub-applet stubs; the
// admin applet itself is never factory-reset through RESET_* (only
// OpenPGP/PIV/OATH are resettable that way).
func (a *Applet) Install(reset bool) error {
	a.Poweroff()
	size, err := a.fs.Size(cfgFile)
	if err != nil && err != flashfs.ErrNotExist {
		return err
	}
	if err == flashfs.ErrNotExist || size != 2 {
		a.cfg = Config{LEDNormallyOn: true}
		if err := a.fs.Write(cfgFile, 0, a.cfg.marshal(), true); err != nil {
			return err
		}
	} else {
		buf, err := a.fs.Read(cfgFile, 0, 2)
		if err != nil {
			return err
		}
		a.cfg = unmarshalConfig(buf)
	}
	if a.pin.Exists() {
		return nil
	}
	return a.pin.Create([]byte(defaultPIN))
}

// Poweroff clears the admin PIN's session-validated flag.
func (a *Applet) Poweroff() { a.pin.Poweroff() }

// Process implements dispatch.Applet. It recovers the *apdu.StatusError
// thrown by except, mirroring the source's EXCEPT/longjmp pair: helper
// functions several calls deep can abort straight back here with a status
// word rather than threading an error return through every level.
func (a *Applet) Process(ctx *dispatch.Context, c *apdu.CAPDU) (rapdu *apdu.RAPDU) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err, ok := r.(error)
		var se *apdu.StatusError
		if !ok || !errors.As(err, &se) {
			panic(r)
		}
		rapdu = &apdu.RAPDU{SW: se.SW}
	}()
	return a.process(ctx, c)
}

func (a *Applet) process(ctx *dispatch.Context, c *apdu.CAPDU) *apdu.RAPDU {
	switch c.INS {
	case InsSelect:
		if c.P1 != 0x04 || c.P2 != 0x00 {
			return except(c.INS, apdu.SWWrongP1P2)
		}
		return &apdu.RAPDU{SW: apdu.SWNoError}

	case InsReadVersion:
		if c.P1 != 0x00 || c.P2 != 0x00 {
			return except(c.INS, apdu.SWWrongP1P2)
		}
		return a.VendorVersion(c)

	case InsVerify:
		return a.verify(c)
	}

	if !a.pin.IsValidated() {
		return except(c.INS, apdu.SWSecurityStatusNotSatisfied)
	}

	switch c.INS {
	case InsWriteFIDOPrivateKey:
		if err := a.keys.InstallPrivateKey(c.Data); err != nil {
			return except(c.INS, apdu.SWUnableToProcess)
		}
		return &apdu.RAPDU{SW: apdu.SWNoError}

	case InsWriteFIDOCert:
		if err := a.keys.InstallCert(c.Data); err != nil {
			return except(c.INS, apdu.SWUnableToProcess)
		}
		return &apdu.RAPDU{SW: apdu.SWNoError}

	case InsResetOpenPGP:
		return a.resetSubApplet(ctx, c, OpenPGPAID)

	case InsResetPIV:
		return a.resetSubApplet(ctx, c, PIVAID)

	case InsResetOATH:
		return a.resetSubApplet(ctx, c, OATHAID)

	case InsChangePIN:
		return a.changePIN(c)

	case InsWriteSN:
		return a.writeSN(c)

	case InsConfig:
		return a.config(c)

	case InsReadFlashCap:
		return a.readFlashCap(c)

	case InsVendorSpecific:
		return a.VendorSpecific(c)

	default:
		return except(c.INS, apdu.SWInsNotSupported)
	}
}

func (a *Applet) verify(c *apdu.CAPDU) *apdu.RAPDU {
	if c.P1 != 0x00 || c.P2 != 0x00 {
		return except(c.INS, apdu.SWWrongP1P2)
	}
	if c.LC() == 0 {
		if a.pin.IsValidated() {
			return &apdu.RAPDU{SW: apdu.SWNoError}
		}
		retries, err := a.pin.GetRetries()
		if err != nil {
			return except(c.INS, apdu.SWUnableToProcess)
		}
		return except(c.INS, apdu.SWPinRetriesRemaining(retries))
	}
	status, retries, err := a.pin.Verify(c.Data)
	if err != nil {
		return except(c.INS, apdu.SWUnableToProcess)
	}
	switch status {
	case pin.StatusOK:
		return &apdu.RAPDU{SW: apdu.SWNoError}
	case pin.StatusLengthInvalid:
		return except(c.INS, apdu.SWWrongLength)
	case pin.StatusBlocked:
		return except(c.INS, apdu.SWAuthenticationBlocked)
	case pin.StatusAuthFail:
		a.log.Debug("admin pin verify failed", "retries_remaining", retries)
		return except(c.INS, apdu.SWPinRetriesRemaining(retries))
	default:
		return except(c.INS, apdu.SWUnableToProcess)
	}
}

// changePIN relies entirely on the dispatcher's session-validated gate in
// Process above rather than re-checking a.pin.IsValidated() itself - this
// mirrors the source's admin_change_pin, which never re-checks
// pin.is_validated either.
func (a *Applet) changePIN(c *apdu.CAPDU) *apdu.RAPDU {
	if c.P1 != 0x00 || c.P2 != 0x00 {
		return except(c.INS, apdu.SWWrongP1P2)
	}
	a.log.Debug("admin change_pin relies on dispatcher gate, not re-checked here")
	if err := a.pin.Update(c.Data); err != nil {
		if pin.IsLengthInvalid(err) {
			return except(c.INS, apdu.SWWrongLength)
		}
		return except(c.INS, apdu.SWUnableToProcess)
	}
	return &apdu.RAPDU{SW: apdu.SWNoError}
}

func (a *Applet) writeSN(c *apdu.CAPDU) *apdu.RAPDU {
	if c.P1 != 0x00 || c.P2 != 0x00 {
		return except(c.INS, apdu.SWWrongP1P2)
	}
	if c.LC() != 4 {
		return except(c.INS, apdu.SWWrongLength)
	}
	if _, err := a.fs.Size(snFile); err == nil {
		return except(c.INS, apdu.SWConditionsNotSatisfied)
	}
	if err := a.fs.Write(snFile, 0, c.Data, true); err != nil {
		return except(c.INS, apdu.SWUnableToProcess)
	}
	return &apdu.RAPDU{SW: apdu.SWNoError}
}

func (a *Applet) config(c *apdu.CAPDU) *apdu.RAPDU {
	switch c.P1 {
	case CfgLEDOn:
		a.cfg.LEDNormallyOn = c.P2&1 != 0
	case CfgKbdIface:
		a.cfg.KbdInterfaceEnabled = c.P2&1 != 0
	default:
		return except(c.INS, apdu.SWWrongP1P2)
	}
	if err := a.fs.Write(cfgFile, 0, a.cfg.marshal(), true); err != nil {
		return except(c.INS, apdu.SWUnableToProcess)
	}
	return &apdu.RAPDU{SW: apdu.SWNoError}
}

func (a *Applet) readFlashCap(c *apdu.CAPDU) *apdu.RAPDU {
	if c.P1 != 0x00 || c.P2 != 0x00 {
		return except(c.INS, apdu.SWWrongP1P2)
	}
	fsCap, ok := a.fs.(flashfs.Capacity)
	if !ok {
		return except(c.INS, apdu.SWUnableToProcess)
	}
	return &apdu.RAPDU{Data: []byte{fsCap.CapacityUnits()}, SW: apdu.SWNoError}
}

func (a *Applet) resetSubApplet(ctx *dispatch.Context, c *apdu.CAPDU, target dispatch.AID) *apdu.RAPDU {
	if err := ctx.ResetApplet(target); err != nil {
		return except(c.INS, apdu.SWUnableToProcess)
	}
	return &apdu.RAPDU{SW: apdu.SWNoError}
}

// PINRetries reports the admin PIN's remaining retry count, for status
// displays that should not themselves drive a VERIFY.
func (a *Applet) PINRetries() (int, error) { return a.pin.GetRetries() }

// PINValidated reports whether the current session has a validated admin
// PIN, per IsValidated.
func (a *Applet) PINValidated() bool { return a.pin.IsValidated() }

// SerialNumber returns the written SN blob, or ("", false) if WRITE_SN has
// not yet run.
func (a *Applet) SerialNumber() (string, bool) {
	n, err := a.fs.Size(snFile)
	if err != nil || n <= 0 {
		return "", false
	}
	data, err := a.fs.Read(snFile, 0, n)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%X", data), true
}

// IsLEDNormallyOn reports the current config bit (cfg_is_led_normally_on).
func (a *Applet) IsLEDNormallyOn() bool { return a.cfg.LEDNormallyOn }

// IsKbdInterfaceEnabled reports the current config bit
// (cfg_is_kbd_interface_enable).
func (a *Applet) IsKbdInterfaceEnabled() bool { return a.cfg.KbdInterfaceEnabled }

// except mirrors the source's EXCEPT(sw) macro: it never returns normally,
// unwinding straight back to Process's recover with a status word no matter
// how many helper calls deep the failure was raised. The *apdu.RAPDU return
// type exists only so call sites read as an ordinary early return.
func except(ins byte, sw uint16) *apdu.RAPDU {
	panic(apdu.Except(ins, sw))
}
