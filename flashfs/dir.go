package flashfs

import (
	"os"
	"path/filepath"
)

// Dir is a directory-backed FS: one regular file per blob. It is the
// persistent mode used by the CLI harness so device state survives process
// restarts, the way the real token's flash does.
type Dir struct {
	base     string
	capacity uint8
}

// NewDir opens (creating if needed) a directory-backed store rooted at base.
func NewDir(base string, capacityUnits uint8) (*Dir, error) {
	if err := os.MkdirAll(base, 0o700); err != nil {
		return nil, err
	}
	return &Dir{base: base, capacity: capacityUnits}, nil
}

func (d *Dir) CapacityUnits() uint8 { return d.capacity }

func (d *Dir) path(name string) string {
	return filepath.Join(d.base, name)
}

func (d *Dir) Size(name string) (int, error) {
	info, err := os.Stat(d.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return -1, ErrNotExist
		}
		return -1, err
	}
	return int(info.Size()), nil
}

func (d *Dir) Read(name string, offset, length int) ([]byte, error) {
	b, err := os.ReadFile(d.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	if offset < 0 || length < 0 || offset+length > len(b) {
		return nil, ErrOutOfRange
	}
	out := make([]byte, length)
	copy(out, b[offset:offset+length])
	return out, nil
}

func (d *Dir) Write(name string, offset int, data []byte, truncate bool) error {
	if offset < 0 {
		return ErrOutOfRange
	}
	existing, err := os.ReadFile(d.path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	need := offset + len(data)
	var final []byte
	if truncate {
		final = make([]byte, need)
		copy(final, existing)
	} else {
		size := len(existing)
		if need > size {
			size = need
		}
		final = make([]byte, size)
		copy(final, existing)
	}
	copy(final[offset:], data)
	return os.WriteFile(d.path(name), final, 0o600)
}

func (d *Dir) Delete(name string) error {
	err := os.Remove(d.path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
