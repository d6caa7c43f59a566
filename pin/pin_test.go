package pin

import (
	"testing"

	"tokencore/flashfs"
)

func newTestPIN(t *testing.T) *PIN {
	t.Helper()
	fs := flashfs.NewMemory(64)
	p := New(fs, "admin-pin", 6, 32, 3)
	if err := p.Create([]byte("123456")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

func TestPIN_CreateRefusesDuplicate(t *testing.T) {
	p := newTestPIN(t)
	if err := p.Create([]byte("000000")); err != ErrAlreadyExists {
		t.Fatalf("Create on existing PIN = %v, want ErrAlreadyExists", err)
	}
}

func TestPIN_VerifySuccess(t *testing.T) {
	p := newTestPIN(t)
	status, retries, err := p.Verify([]byte("123456"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if status != StatusOK || retries != 3 {
		t.Fatalf("Verify = (%v, %d), want (OK, 3)", status, retries)
	}
	if !p.IsValidated() {
		t.Fatalf("session must be validated after a successful verify")
	}
}

func TestPIN_VerifyLengthInvalidDoesNotTouchCounter(t *testing.T) {
	p := newTestPIN(t)
	status, retries, err := p.Verify([]byte("12"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if status != StatusLengthInvalid {
		t.Fatalf("status = %v, want LengthInvalid", status)
	}
	if retries != -1 {
		t.Fatalf("retries = %d, want -1 (unchanged)", retries)
	}
	got, _ := p.GetRetries()
	if got != 3 {
		t.Fatalf("GetRetries() = %d, want unchanged 3", got)
	}
}

// Three wrong PINs drain the counter to zero,
// each reporting the post-decrement remaining count; only the next verify
// (the fourth call) reports blocked.
func TestPIN_ThreeWrongThenBlocked(t *testing.T) {
	p := newTestPIN(t)
	wantRetries := []int{2, 1, 0}
	for i, want := range wantRetries {
		status, retries, err := p.Verify([]byte("000000"))
		if err != nil {
			t.Fatalf("Verify #%d: %v", i+1, err)
		}
		if status != StatusAuthFail {
			t.Fatalf("Verify #%d status = %v, want AuthFail", i+1, status)
		}
		if retries != want {
			t.Fatalf("Verify #%d retries = %d, want %d", i+1, retries, want)
		}
	}
	status, retries, err := p.Verify([]byte("123456"))
	if err != nil {
		t.Fatalf("Verify #4: %v", err)
	}
	if status != StatusBlocked {
		t.Fatalf("Verify #4 status = %v, want Blocked", status)
	}
	if retries != 0 {
		t.Fatalf("Verify #4 retries = %d, want 0", retries)
	}
}

func TestPIN_PoweroffClearsSession(t *testing.T) {
	p := newTestPIN(t)
	if _, _, err := p.Verify([]byte("123456")); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	p.Poweroff()
	if p.IsValidated() {
		t.Fatalf("session must be cleared after poweroff")
	}
}

func TestPIN_UpdateRequiresSessionOrOldMatch(t *testing.T) {
	p := newTestPIN(t)
	// Not validated, old value wrong: refused.
	if err := p.Update([]byte("000000654321")); !IsAuthFail(err) {
		t.Fatalf("Update with wrong old PIN = %v, want AuthFail", err)
	}
	// Not validated, old value right: succeeds via verify-inside-update.
	if err := p.Update([]byte("123456654321")); err != nil {
		t.Fatalf("Update with correct old PIN: %v", err)
	}
	status, retries, err := p.Verify([]byte("654321"))
	if err != nil || status != StatusOK || retries != 3 {
		t.Fatalf("post-update verify = (%v, %d, %v), want (OK, 3, nil)", status, retries, err)
	}
}

func TestPIN_UpdateViaValidatedSession(t *testing.T) {
	p := newTestPIN(t)
	if _, _, err := p.Verify([]byte("123456")); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	// Session validated: even a wrong "old" portion is accepted as long as
	// the lengths line up, since the gate has already been satisfied.
	if err := p.Update([]byte("000000111111")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	status, _, err := p.Verify([]byte("111111"))
	if err != nil || status != StatusOK {
		t.Fatalf("post-update verify = (%v, %v), want OK", status, err)
	}
}

func TestPIN_UpdateResetsRetryCounter(t *testing.T) {
	p := newTestPIN(t)
	if _, _, err := p.Verify([]byte("000000")); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := p.Update([]byte("123456999999")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	retries, err := p.GetRetries()
	if err != nil || retries != 3 {
		t.Fatalf("GetRetries() after update = (%d, %v), want (3, nil)", retries, err)
	}
}
