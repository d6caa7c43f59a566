// Package pin implements the persistent PIN object backing every applet's
// authentication gate: a stored value, a retry counter, and a transient
// session-validated flag. Comparison against the stored value is constant
// time; the retry counter is always persisted before a failure is ever
// signaled to the caller, so a crash between the check and the persist
// loses a try rather than granting one.
package pin

import (
	"crypto/subtle"
	"errors"

	"tokencore/flashfs"
)

// ErrAlreadyExists is returned by Create when a PIN already lives at this
// path.
var ErrAlreadyExists = errors.New("pin: already exists")

// Status is the outcome of a Verify or Update call.
type Status int

const (
	// StatusOK: input matched (Verify) or the change was applied (Update).
	StatusOK Status = iota
	// StatusLengthInvalid: presented value outside [min,max]; no counter change.
	StatusLengthInvalid
	// StatusAuthFail: wrong value; the retry counter was decremented and
	// persisted before this result was returned. Retries may be 0.
	StatusAuthFail
	// StatusBlocked: the retry counter was already 0 when this call began;
	// no comparison was attempted and nothing changed.
	StatusBlocked
	// StatusIOFail: the backing flash-FS returned an error.
	StatusIOFail
)

// PIN is a persistent PIN object. One instance exists per gated identity
// (the admin PIN, and in principle one per sub-applet PIN).
type PIN struct {
	fs         flashfs.FS
	path       string
	minLength  int
	maxLength  int
	maxRetries int
	validated  bool // transient; cleared by Poweroff
}

// New wires a PIN object to its backing store. It does not create the
// blob; call Create for that.
func New(fs flashfs.FS, path string, minLength, maxLength, maxRetries int) *PIN {
	return &PIN{fs: fs, path: path, minLength: minLength, maxLength: maxLength, maxRetries: maxRetries}
}

// Exists reports whether a PIN has already been created at this path.
func (p *PIN) Exists() bool {
	_, err := p.fs.Size(p.path)
	return err == nil
}

// Create writes the initial PIN value and resets the retry counter to the
// configured maximum. It refuses to overwrite an existing PIN.
func (p *PIN) Create(initial []byte) error {
	if p.Exists() {
		return ErrAlreadyExists
	}
	if len(initial) < p.minLength || len(initial) > p.maxLength {
		return errLengthInvalid
	}
	blob := make([]byte, 1+len(initial))
	blob[0] = byte(p.maxRetries)
	copy(blob[1:], initial)
	return p.fs.Write(p.path, 0, blob, true)
}

var errLengthInvalid = errors.New("pin: length out of bounds")

func (p *PIN) load() (retries int, stored []byte, err error) {
	size, err := p.fs.Size(p.path)
	if err != nil {
		return 0, nil, err
	}
	blob, err := p.fs.Read(p.path, 0, size)
	if err != nil {
		return 0, nil, err
	}
	if len(blob) < 1 {
		return 0, nil, errors.New("pin: corrupt blob")
	}
	return int(blob[0]), blob[1:], nil
}

func (p *PIN) persist(retries int, stored []byte) error {
	blob := make([]byte, 1+len(stored))
	blob[0] = byte(retries)
	copy(blob[1:], stored)
	return p.fs.Write(p.path, 0, blob, true)
}

// Verify checks input against the stored PIN.
//
// If the retry counter is already 0, Verify returns StatusBlocked without
// touching storage or attempting a comparison - this is what makes "blocked"
// observably different from "just exhausted the last try" (see Update and
// the admin applet's VERIFY handler for how the two map to distinct status
// words).
func (p *PIN) Verify(input []byte) (status Status, retries int, err error) {
	if len(input) < p.minLength || len(input) > p.maxLength {
		return StatusLengthInvalid, -1, nil
	}
	storedRetries, stored, err := p.load()
	if err != nil {
		return StatusIOFail, -1, err
	}
	if storedRetries == 0 {
		return StatusBlocked, 0, nil
	}
	if subtle.ConstantTimeCompare(stored, input) == 1 {
		if err := p.persist(p.maxRetries, stored); err != nil {
			return StatusIOFail, -1, err
		}
		p.validated = true
		return StatusOK, p.maxRetries, nil
	}
	storedRetries--
	if err := p.persist(storedRetries, stored); err != nil {
		return StatusIOFail, -1, err
	}
	return StatusAuthFail, storedRetries, nil
}

// GetRetries reports the current retry counter without attempting a
// comparison or changing any state.
func (p *PIN) GetRetries() (int, error) {
	retries, _, err := p.load()
	if err != nil {
		return -1, err
	}
	return retries, nil
}

// IsValidated reports the transient session flag.
func (p *PIN) IsValidated() bool { return p.validated }

// Poweroff clears the transient session-validated flag. Invoked on every
// transport disconnect/reset.
func (p *PIN) Poweroff() { p.validated = false }

// Update changes the stored PIN. payload is old||new. The split point is the
// length of the PIN currently on file (the caller necessarily knows and
// presents the old value at its real length). Update succeeds if the
// session is already validated, or if the old portion matches the stored
// value - matching "succeeds only if current session is validated or
// verify of old_pin succeeds inside the update" (spec §4.2).
func (p *PIN) Update(payload []byte) error {
	storedRetries, stored, err := p.load()
	if err != nil {
		return err
	}
	oldLen := len(stored)
	if len(payload) < oldLen {
		return errLengthInvalid
	}
	oldPIN := payload[:oldLen]
	newPIN := payload[oldLen:]
	if len(newPIN) < p.minLength || len(newPIN) > p.maxLength {
		return errLengthInvalid
	}
	if !p.validated {
		if storedRetries == 0 {
			return errBlocked
		}
		if subtle.ConstantTimeCompare(oldPIN, stored) != 1 {
			storedRetries--
			if perr := p.persist(storedRetries, stored); perr != nil {
				return perr
			}
			return errAuthFail
		}
	}
	if err := p.persist(p.maxRetries, newPIN); err != nil {
		return err
	}
	p.validated = true
	return nil
}

var (
	errBlocked  = errors.New("pin: blocked")
	errAuthFail = errors.New("pin: old value did not match")
)

// IsLengthInvalid, IsBlocked and IsAuthFail classify an error from Update.
func IsLengthInvalid(err error) bool { return errors.Is(err, errLengthInvalid) }
func IsBlocked(err error) bool       { return errors.Is(err, errBlocked) }
func IsAuthFail(err error) bool      { return errors.Is(err, errAuthFail) }
