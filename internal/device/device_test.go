package device

import (
	"testing"

	"tokencore/admin"
	"tokencore/apdu"
	"tokencore/flashfs"
)

func TestNew_WiresAdminAndStubs(t *testing.T) {
	fs := flashfs.NewMemory(16)
	ctx, err := New(fs, nil, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ctx.Selected() != admin.AID {
		t.Fatalf("Selected() = %q, want admin", ctx.Selected())
	}
	r := ctx.Process(&apdu.CAPDU{INS: admin.InsVerify, Data: []byte("123456")})
	if r.SW != apdu.SWNoError {
		t.Fatalf("verify SW = %04X, want 9000", r.SW)
	}
}

func TestNew_ResetOpenPGPThroughAdmin(t *testing.T) {
	fs := flashfs.NewMemory(16)
	ctx, err := New(fs, nil, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx.Process(&apdu.CAPDU{INS: admin.InsVerify, Data: []byte("123456")})
	r := ctx.Process(&apdu.CAPDU{INS: admin.InsResetOpenPGP})
	if r.SW != apdu.SWNoError {
		t.Fatalf("RESET_OPENPGP SW = %04X, want 9000", r.SW)
	}
	if _, err := fs.Size("openpgp-state"); err != nil {
		t.Fatalf("openpgp-state blob missing after reset: %v", err)
	}
}

func TestNew_SelectSubApplet(t *testing.T) {
	fs := flashfs.NewMemory(16)
	ctx, err := New(fs, nil, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !ctx.Select(admin.PIVAID) {
		t.Fatalf("Select(piv) = false")
	}
	r := ctx.Process(&apdu.CAPDU{INS: 0xA4})
	if r.SW != apdu.SWNoError {
		t.Fatalf("SELECT on PIV stub SW = %04X, want 9000", r.SW)
	}
	r = ctx.Process(&apdu.CAPDU{INS: 0x01})
	if r.SW != apdu.SWInsNotSupported {
		t.Fatalf("SW = %04X, want 6D00", r.SW)
	}
}
