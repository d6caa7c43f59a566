package apdu

import (
	"bytes"
	"testing"
)

func TestDecodeCAPDU_Case1(t *testing.T) {
	raw := []byte{0x00, 0xA4, 0x04, 0x00}
	c, err := DecodeCAPDU(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.CLA != 0x00 || c.INS != 0xA4 || c.P1 != 0x04 || c.P2 != 0x00 {
		t.Fatalf("unexpected header: %+v", c)
	}
	if c.LC() != 0 || c.LE != 0 {
		t.Fatalf("case1 must have no data and no LE, got %+v", c)
	}
}

func TestDecodeCAPDU_Case2Short(t *testing.T) {
	raw := []byte{0x00, 0xC0, 0x00, 0x00, 0x10}
	c, err := DecodeCAPDU(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.LE != 0x10 {
		t.Fatalf("LE = %d, want 16", c.LE)
	}
}

func TestDecodeCAPDU_Case2ShortWildcard(t *testing.T) {
	raw := []byte{0x00, 0xC0, 0x00, 0x00, 0x00}
	c, err := DecodeCAPDU(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.LE != 0x100 {
		t.Fatalf("LE = %d, want 256 (wildcard)", c.LE)
	}
}

func TestDecodeCAPDU_Case3Short(t *testing.T) {
	raw := []byte{0x00, 0x20, 0x00, 0x00, 0x06, '1', '2', '3', '4', '5', '6'}
	c, err := DecodeCAPDU(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(c.Data, []byte("123456")) {
		t.Fatalf("Data = %q, want 123456", c.Data)
	}
	if c.LE != 0 {
		t.Fatalf("case3 must have no LE, got %d", c.LE)
	}
}

func TestDecodeCAPDU_Case4Short(t *testing.T) {
	raw := []byte{0x00, 0x20, 0x00, 0x00, 0x06, '1', '2', '3', '4', '5', '6', 0x00}
	c, err := DecodeCAPDU(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(c.Data, []byte("123456")) {
		t.Fatalf("Data = %q, want 123456", c.Data)
	}
	if c.LE != 0x100 {
		t.Fatalf("LE = %d, want 256 (wildcard)", c.LE)
	}
}

func TestDecodeCAPDU_ExtendedCase3(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 300)
	raw := append([]byte{0x00, 0xDB, 0x3F, 0xFF, 0x00, 0x01, 0x2C}, data...)
	c, err := DecodeCAPDU(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(c.Data, data) {
		t.Fatalf("extended data mismatch: got %d bytes", len(c.Data))
	}
	if c.LE != 0 {
		t.Fatalf("extended case3 must have no LE, got %d", c.LE)
	}
}

func TestDecodeCAPDU_ExtendedCase4(t *testing.T) {
	data := bytes.Repeat([]byte{0xCD}, 10)
	raw := append([]byte{0x00, 0xDB, 0x3F, 0xFF, 0x00, 0x00, 0x0A}, data...)
	raw = append(raw, 0x01, 0x00) // Le = 256
	c, err := DecodeCAPDU(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(c.Data, data) {
		t.Fatalf("extended data mismatch")
	}
	if c.LE != 0x100 {
		t.Fatalf("LE = %d, want 256", c.LE)
	}
}

func TestDecodeCAPDU_Malformed(t *testing.T) {
	tests := [][]byte{
		nil,
		{0x00},
		{0x00, 0xA4, 0x00},
		{0x00, 0x20, 0x00, 0x00, 0x06, '1', '2', '3'}, // short Lc but not enough data
	}
	for _, raw := range tests {
		if _, err := DecodeCAPDU(raw); err != ErrMalformed {
			t.Errorf("DecodeCAPDU(%x) err = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestRAPDU_Bytes(t *testing.T) {
	r := &RAPDU{Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}, SW: SWNoError}
	got := r.Bytes()
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x90, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("Bytes() = %x, want %x", got, want)
	}
}

func TestSWPinRetriesRemaining(t *testing.T) {
	tests := []struct {
		n    int
		want uint16
	}{
		{2, 0x63C2},
		{1, 0x63C1},
		{0, 0x63C0},
	}
	for _, tc := range tests {
		if got := SWPinRetriesRemaining(tc.n); got != tc.want {
			t.Errorf("SWPinRetriesRemaining(%d) = %04X, want %04X", tc.n, got, tc.want)
		}
	}
}

func TestStatusError_Error(t *testing.T) {
	err := Except(0x20, SWAuthenticationBlocked)
	se, ok := err.(*StatusError)
	if !ok {
		t.Fatalf("Except did not return *StatusError")
	}
	if se.SW != SWAuthenticationBlocked || se.INS != 0x20 {
		t.Fatalf("unexpected StatusError: %+v", se)
	}
	if se.Error() == "" {
		t.Fatalf("Error() must not be empty")
	}
}
