// Package subapplet implements the opaque stand-ins for OpenPGP, PIV and
// OATH: sub-applets the dispatch core treats as resettable black boxes. A
// stub owns exactly one named flash-FS blob, wiped on Install(reset=true),
// and refuses every instruction except SELECT.
package subapplet

import (
	"log/slog"

	"tokencore/apdu"
	"tokencore/dispatch"
	"tokencore/flashfs"
)

// Stub is a minimal dispatch.Applet backing one opaque blob of state.
type Stub struct {
	aid      dispatch.AID
	blobName string
	fs       flashfs.FS
	log      *slog.Logger
}

// New wires a stub sub-applet over a flash-FS.
func New(aid dispatch.AID, blobName string, fs flashfs.FS, log *slog.Logger) *Stub {
	if log == nil {
		log = slog.Default()
	}
	return &Stub{aid: aid, blobName: blobName, fs: fs, log: log}
}

// AID implements dispatch.Applet.
func (s *Stub) AID() dispatch.AID { return s.aid }

// Install wipes the blob on reset, or creates it empty if absent.
func (s *Stub) Install(reset bool) error {
	if reset {
		s.log.Debug("sub-applet factory reset", "aid", s.aid)
		if err := s.fs.Delete(s.blobName); err != nil {
			return err
		}
	}
	if _, err := s.fs.Size(s.blobName); err == flashfs.ErrNotExist {
		return s.fs.Write(s.blobName, 0, nil, true)
	}
	return nil
}

// Poweroff is a no-op: a stub holds no session-scoped state.
func (s *Stub) Poweroff() {}

// Process accepts SELECT with any P1/P2 and refuses every other
// instruction, matching an applet the core never interprets beyond its
// selectability.
func (s *Stub) Process(ctx *dispatch.Context, c *apdu.CAPDU) *apdu.RAPDU {
	const insSelect = 0xA4
	if c.INS == insSelect {
		return &apdu.RAPDU{SW: apdu.SWNoError}
	}
	return &apdu.RAPDU{SW: apdu.SWInsNotSupported}
}
