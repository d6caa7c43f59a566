// Package dispatch holds the applet registry and the per-device context
// that replaces the source's process-wide globals: one struct, owned by the
// dispatch loop, passed explicitly to every applet call instead of read
// from static state.
package dispatch

import (
	"log/slog"

	"tokencore/apdu"
	"tokencore/flashfs"
)

// insSelect is the ISO-7816 SELECT instruction byte. Rule 1 of the command
// codec/selector (spec §4.3) special-cases SELECT addressed to the admin
// applet's AID: it always clears whatever is currently selected and
// switches to admin, regardless of what was selected beforehand.
const (
	insSelect = 0xA4
	selectP1  = 0x04
	selectP2  = 0x00
)

// AID identifies a selectable applet.
type AID string

// Applet is any selectable sub-application: admin, FIDO/CTAP, or a stub
// sub-applet (OpenPGP/PIV/OATH).
type Applet interface {
	AID() AID
	// Install prepares persistent state. reset wipes and recreates it;
	// non-reset only creates what's missing (first boot).
	Install(reset bool) error
	// Poweroff clears transient, session-scoped state. Invoked on every
	// transport disconnect.
	Poweroff()
	// Process handles one command addressed to this applet.
	Process(ctx *Context, c *apdu.CAPDU) *apdu.RAPDU
}

// Context is the device-wide state the dispatch loop owns and hands to
// every applet invocation: the flash-FS, the applet registry, and which
// applet is currently selected. It is never touched concurrently - the
// loop processes one CAPDU at a time.
type Context struct {
	FS       flashfs.FS
	Log      *slog.Logger
	applets  map[AID]Applet
	selected AID
	adminAID AID
}

// NewContext wires a device context over an already-open flash-FS. Call
// Register for every applet before Install/Run.
func NewContext(fs flashfs.FS, log *slog.Logger) *Context {
	if log == nil {
		log = slog.Default()
	}
	return &Context{FS: fs, Log: log, applets: make(map[AID]Applet)}
}

// Register adds an applet to the dispatch table. Must be called before
// Install.
func (ctx *Context) Register(a Applet) {
	ctx.applets[a.AID()] = a
}

// RegisterAdmin registers the admin applet and remembers its AID as the one
// Process gives rule-1 treatment: a SELECT command carrying this AID in its
// data field always succeeds and switches selection to it, no matter what
// was selected beforehand.
func (ctx *Context) RegisterAdmin(a Applet) {
	ctx.Register(a)
	ctx.adminAID = a.AID()
}

// Install runs Install(reset) on every registered applet, in registration
// order is not guaranteed - applets must not depend on install order.
func (ctx *Context) Install(reset bool) error {
	for aid, a := range ctx.applets {
		if err := a.Install(reset); err != nil {
			return &installError{aid: aid, err: err}
		}
	}
	return nil
}

type installError struct {
	aid AID
	err error
}

func (e *installError) Error() string {
	return "dispatch: install " + string(e.aid) + ": " + e.err.Error()
}

func (e *installError) Unwrap() error { return e.err }

// Select switches the currently active applet directly, bypassing Process's
// rule-1 SELECT handling. It exists for wiring (initial selection at boot)
// and for applets the codec has no AID-based SELECT rule for (OpenPGP/PIV/
// OATH are chosen this way, not over the wire).
func (ctx *Context) Select(aid AID) bool {
	if _, ok := ctx.applets[aid]; !ok {
		return false
	}
	ctx.selected = aid
	return true
}

// Selected reports the currently selected applet's AID, or "" if none.
func (ctx *Context) Selected() AID { return ctx.selected }

// Applet returns the registered applet for aid, for callers (status
// displays, tests) that need to introspect one directly rather than only
// address it through Process.
func (ctx *Context) Applet(aid AID) (Applet, bool) {
	a, ok := ctx.applets[aid]
	return a, ok
}

// AIDs lists every registered applet's AID, order unspecified.
func (ctx *Context) AIDs() []AID {
	out := make([]AID, 0, len(ctx.applets))
	for aid := range ctx.applets {
		out = append(out, aid)
	}
	return out
}

// ResetApplet factory-resets a registered applet by AID, the mechanism
// behind the admin applet's RESET_OPENPGP/RESET_PIV/RESET_OATH instructions.
func (ctx *Context) ResetApplet(aid AID) error {
	a, ok := ctx.applets[aid]
	if !ok {
		return &installError{aid: aid, err: errUnknownApplet}
	}
	return a.Install(true)
}

var errUnknownApplet = unknownAppletError{}

type unknownAppletError struct{}

func (unknownAppletError) Error() string { return "dispatch: unknown applet" }

// Poweroff propagates a transport reset to every registered applet,
// clearing session-scoped state (PIN validation, and similar). Invoked on
// every disconnect/reset.
func (ctx *Context) Poweroff() {
	for _, a := range ctx.applets {
		a.Poweroff()
	}
	ctx.selected = ""
}

// Process routes a CAPDU per the two-rule codec/selector:
//
//  1. SELECT (INS=0xA4, P1=0x04, P2=0x00) whose data field carries the
//     admin applet's AID always succeeds: it clears whatever is currently
//     selected, runs admin's install-time init (idempotent - a no-op if
//     already provisioned), and switches selection to admin - regardless of
//     what was selected beforehand.
//  2. Otherwise, route to the currently selected applet. If none is
//     selected, every instruction fails with SW_CONDITIONS_NOT_SATISFIED.
func (ctx *Context) Process(c *apdu.CAPDU) *apdu.RAPDU {
	if ctx.adminAID != "" && c.INS == insSelect && AID(c.Data) == ctx.adminAID {
		if c.P1 != selectP1 || c.P2 != selectP2 {
			return &apdu.RAPDU{SW: apdu.SWWrongP1P2}
		}
		admin := ctx.applets[ctx.adminAID]
		if err := admin.Install(false); err != nil {
			return &apdu.RAPDU{SW: apdu.SWUnableToProcess}
		}
		ctx.selected = ctx.adminAID
		return &apdu.RAPDU{SW: apdu.SWNoError}
	}

	a, ok := ctx.applets[ctx.selected]
	if !ok {
		return &apdu.RAPDU{SW: apdu.SWConditionsNotSatisfied}
	}
	rapdu := a.Process(ctx, c)
	if rapdu == nil {
		return &apdu.RAPDU{SW: apdu.SWUnableToProcess}
	}
	return rapdu
}

// Run drains commands from in, dispatching each one serially and writing
// the response to out, until in is closed. A buffered channel of size 1 models a
// transport that may hold one pending command while the previous response
// is still being read.
func Run(ctx *Context, in <-chan *apdu.CAPDU, out chan<- *apdu.RAPDU) {
	for c := range in {
		out <- ctx.Process(c)
	}
}
