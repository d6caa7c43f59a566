package dispatch

import (
	"testing"

	"tokencore/apdu"
	"tokencore/flashfs"
)

type fakeApplet struct {
	aid         AID
	installed   bool
	reset       bool
	poweredOff  bool
	processHits int
}

func (f *fakeApplet) AID() AID { return f.aid }
func (f *fakeApplet) Install(reset bool) error {
	f.installed = true
	f.reset = reset
	return nil
}
func (f *fakeApplet) Poweroff() { f.poweredOff = true }
func (f *fakeApplet) Process(ctx *Context, c *apdu.CAPDU) *apdu.RAPDU {
	f.processHits++
	return &apdu.RAPDU{SW: apdu.SWNoError}
}

func TestContext_SelectAndProcess(t *testing.T) {
	ctx := NewContext(flashfs.NewMemory(8), nil)
	a := &fakeApplet{aid: "admin"}
	ctx.Register(a)
	if err := ctx.Install(false); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !a.installed || a.reset {
		t.Fatalf("applet install state = %v/%v, want installed, non-reset", a.installed, a.reset)
	}
	if !ctx.Select("admin") {
		t.Fatalf("Select(admin) = false")
	}
	r := ctx.Process(&apdu.CAPDU{INS: 0x20})
	if r.SW != apdu.SWNoError || a.processHits != 1 {
		t.Fatalf("Process routed incorrectly: SW=%04X hits=%d", r.SW, a.processHits)
	}
}

func TestContext_ProcessWithNoSelectionFails(t *testing.T) {
	ctx := NewContext(flashfs.NewMemory(8), nil)
	r := ctx.Process(&apdu.CAPDU{INS: 0x20})
	if r.SW != apdu.SWConditionsNotSatisfied {
		t.Fatalf("SW = %04X, want 6985", r.SW)
	}
}

func TestContext_PoweroffPropagatesAndClearsSelection(t *testing.T) {
	ctx := NewContext(flashfs.NewMemory(8), nil)
	a := &fakeApplet{aid: "admin"}
	ctx.Register(a)
	ctx.Select("admin")
	ctx.Poweroff()
	if !a.poweredOff {
		t.Fatalf("applet Poweroff was not called")
	}
	if ctx.Selected() != "" {
		t.Fatalf("Selected() = %q after Poweroff, want empty", ctx.Selected())
	}
}

func TestContext_ResetApplet(t *testing.T) {
	ctx := NewContext(flashfs.NewMemory(8), nil)
	a := &fakeApplet{aid: "openpgp"}
	ctx.Register(a)
	if err := ctx.ResetApplet("openpgp"); err != nil {
		t.Fatalf("ResetApplet: %v", err)
	}
	if !a.reset {
		t.Fatalf("ResetApplet did not pass reset=true through")
	}
	if err := ctx.ResetApplet("nope"); err == nil {
		t.Fatalf("ResetApplet on unknown AID = nil error, want error")
	}
}

// Rule 1 of the command codec/selector: SELECT carrying the admin AID
// always switches selection to admin, even if some other applet is
// currently selected.
func TestContext_SelectAdminOverWireSwitchesSelection(t *testing.T) {
	ctx := NewContext(flashfs.NewMemory(8), nil)
	adm := &fakeApplet{aid: "admin"}
	piv := &fakeApplet{aid: "piv"}
	ctx.RegisterAdmin(adm)
	ctx.Register(piv)
	if err := ctx.Install(false); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !ctx.Select("piv") {
		t.Fatalf("Select(piv) = false")
	}

	r := ctx.Process(&apdu.CAPDU{INS: insSelect, P1: selectP1, P2: selectP2, Data: []byte("admin")})
	if r.SW != apdu.SWNoError {
		t.Fatalf("SW = %04X, want 9000", r.SW)
	}
	if ctx.Selected() != "admin" {
		t.Fatalf("Selected() = %q, want admin", ctx.Selected())
	}
	if piv.processHits != 0 {
		t.Fatalf("piv.processHits = %d, want 0 (SELECT-admin must not route to the old selection)", piv.processHits)
	}
}

// Rule 1 only matches SELECT (P1=0x04, P2=0x00) carrying the admin AID
// exactly; any other AID falls through to ordinary routing by whatever is
// currently selected.
func TestContext_SelectOtherAIDDoesNotSwitch(t *testing.T) {
	ctx := NewContext(flashfs.NewMemory(8), nil)
	adm := &fakeApplet{aid: "admin"}
	piv := &fakeApplet{aid: "piv"}
	ctx.RegisterAdmin(adm)
	ctx.Register(piv)
	ctx.Select("piv")

	r := ctx.Process(&apdu.CAPDU{INS: insSelect, P1: selectP1, P2: selectP2, Data: []byte("piv")})
	if ctx.Selected() != "piv" {
		t.Fatalf("Selected() = %q, want piv (rule 1 only matches the admin AID)", ctx.Selected())
	}
	if piv.processHits != 1 || r.SW != apdu.SWNoError {
		t.Fatalf("SELECT for a non-admin AID should route to the currently selected applet: SW=%04X hits=%d", r.SW, piv.processHits)
	}
}

func TestRun_DrainsChannelSerially(t *testing.T) {
	ctx := NewContext(flashfs.NewMemory(8), nil)
	a := &fakeApplet{aid: "admin"}
	ctx.Register(a)
	ctx.Select("admin")

	in := make(chan *apdu.CAPDU, 1)
	out := make(chan *apdu.RAPDU, 1)
	go Run(ctx, in, out)

	in <- &apdu.CAPDU{INS: 0x20}
	r := <-out
	if r.SW != apdu.SWNoError {
		t.Fatalf("SW = %04X, want 9000", r.SW)
	}
	close(in)
}
