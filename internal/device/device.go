// Package device wires the applet registry a real boot would assemble:
// admin plus the three opaque sub-applet stubs, all sharing one flash-FS.
// This is the one place that knows every applet this build ships with.
package device

import (
	"log/slog"

	"tokencore/admin"
	"tokencore/dispatch"
	"tokencore/flashfs"
	"tokencore/subapplet"
)

// New builds and installs a device context over fs, registering the admin
// applet and the OpenPGP/PIV/OATH stubs. reset is passed through to every
// applet's Install.
func New(fs flashfs.FS, log *slog.Logger, reset bool) (*dispatch.Context, error) {
	if log == nil {
		log = slog.Default()
	}
	ctx := dispatch.NewContext(fs, log)
	ctx.RegisterAdmin(admin.New(fs, log))
	ctx.Register(subapplet.New(admin.OpenPGPAID, "openpgp-state", fs, log))
	ctx.Register(subapplet.New(admin.PIVAID, "piv-state", fs, log))
	ctx.Register(subapplet.New(admin.OATHAID, "oath-state", fs, log))
	if err := ctx.Install(reset); err != nil {
		return nil, err
	}
	ctx.Select(admin.AID)
	return ctx, nil
}
