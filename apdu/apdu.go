// Package apdu implements the command/response unit codec and the closed
// status-word enumeration shared by every applet. It decodes the four
// ISO-7816-like CAPDU framings (short/extended, cases 1-4) and frames RAPDU
// responses, but knows nothing about what any particular instruction means.
package apdu

import (
	"errors"
	"fmt"
)

// Status words. Bit-exact with the closed enumeration every applet is
// expected to return.
const (
	SWNoError                    uint16 = 0x9000
	SWWrongLength                uint16 = 0x6700
	SWSecurityStatusNotSatisfied uint16 = 0x6982
	SWAuthenticationBlocked      uint16 = 0x6983
	SWConditionsNotSatisfied     uint16 = 0x6985
	SWWrongP1P2                  uint16 = 0x6A86
	SWInsNotSupported            uint16 = 0x6D00
	SWUnableToProcess            uint16 = 0x6F00
	// SWPinRetries is the base of the 0x63Cn family; add the remaining
	// retry count (0-15) to get the concrete status word.
	SWPinRetries uint16 = 0x63C0
)

// SWPinRetriesRemaining encodes the PIN-retries status word for n remaining
// tries (0-15).
func SWPinRetriesRemaining(n int) uint16 {
	return SWPinRetries + uint16(n&0x0F)
}

// ErrShortResponse reports raw response bytes too short to carry a status
// word. No function in this package returns it.
var ErrShortResponse = errors.New("apdu: response shorter than 2 bytes")

// StatusError carries a non-success status word out of a helper deep inside
// an applet. The applet's own Process recovers it and frames its SW into a
// RAPDU with an empty body, as-is; the dispatcher only ever sees RAPDUs.
type StatusError struct {
	INS byte
	SW  uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apdu: instruction 0x%02X failed with SW=0x%04X", e.INS, e.SW)
}

// Except constructs a *StatusError, mirroring the source's EXCEPT(sw) macro:
// bundle a status word with an early return.
func Except(ins byte, sw uint16) error {
	return &StatusError{INS: ins, SW: sw}
}

// CAPDU is a decoded command unit.
type CAPDU struct {
	CLA, INS, P1, P2 byte
	Data             []byte
	LE               int // expected response length; 0 means "none requested"; a wildcard Le decodes to 0x100 (short) or 0x10000 (extended)
}

// LC is the declared command-data length, always len(Data).
func (c *CAPDU) LC() int { return len(c.Data) }

// RAPDU is a response unit awaiting framing.
type RAPDU struct {
	Data []byte
	SW   uint16
}

// Bytes frames data||SW1||SW2, per §6.
func (r *RAPDU) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	out = append(out, byte(r.SW>>8), byte(r.SW))
	return out
}

// ErrMalformed is returned for command units that don't fit any of the four
// ISO-7816-4 cases.
var ErrMalformed = errors.New("apdu: malformed command unit")

// DecodeCAPDU decodes a raw command unit, supporting cases 1-4 in both short
// (1-byte length) and extended (3-byte length) form.
func DecodeCAPDU(raw []byte) (*CAPDU, error) {
	if len(raw) < 4 {
		return nil, ErrMalformed
	}
	c := &CAPDU{CLA: raw[0], INS: raw[1], P1: raw[2], P2: raw[3]}
	body := raw[4:]

	switch {
	case len(body) == 0:
		// Case 1: header only.
		return c, nil

	case len(body) == 1:
		// Case 2 short: just Le.
		c.LE = leValue(body[0], 0x100)
		return c, nil

	case body[0] != 0x00:
		// Short Lc.
		lc := int(body[0])
		rest := body[1:]
		switch {
		case len(rest) == lc:
			// Case 3 short: header, Lc, data.
			c.Data = append([]byte(nil), rest...)
			return c, nil
		case len(rest) == lc+1:
			// Case 4 short: header, Lc, data, Le.
			c.Data = append([]byte(nil), rest[:lc]...)
			c.LE = leValue(rest[lc], 0x100)
			return c, nil
		default:
			return nil, ErrMalformed
		}

	case len(body) == 3:
		// Case 2 extended: 00 || Le(2).
		le := int(body[1])<<8 | int(body[2])
		c.LE = leValue2(le, 0x10000)
		return c, nil

	default:
		// Extended Lc: 00 || Lc(2) || data || optional Le(2).
		if len(body) < 3 {
			return nil, ErrMalformed
		}
		lc := int(body[1])<<8 | int(body[2])
		rest := body[3:]
		switch {
		case len(rest) == lc:
			c.Data = append([]byte(nil), rest...)
			return c, nil
		case len(rest) == lc+2:
			c.Data = append([]byte(nil), rest[:lc]...)
			le := int(rest[lc])<<8 | int(rest[lc+1])
			c.LE = leValue2(le, 0x10000)
			return c, nil
		default:
			return nil, ErrMalformed
		}
	}
}

// leValue interprets a short-form Le byte: 0 means "wildcard", encoded as
// the given sentinel (256 for short form).
func leValue(b byte, wildcard int) int {
	if b == 0 {
		return wildcard
	}
	return int(b)
}

func leValue2(v int, wildcard int) int {
	if v == 0 {
		return wildcard
	}
	return v
}

// EncodeRAPDU is a convenience alias for (*RAPDU).Bytes, for callers that
// build a response without constructing the struct themselves.
func EncodeRAPDU(data []byte, sw uint16) []byte {
	r := &RAPDU{Data: data, SW: sw}
	return r.Bytes()
}
