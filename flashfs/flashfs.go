// Package flashfs abstracts the core's only path to persistent storage: a
// named byte-blob store. Applets never see raw flash addresses; they create,
// read, write and delete blobs by short stable name. Implementations are
// expected to make writes durable before returning, the way the real flash
// driver's wear-leveling layer does.
package flashfs

import "errors"

// ErrNotExist is returned by Size/Read when the named blob has never been
// written (or was deleted).
var ErrNotExist = errors.New("flashfs: blob does not exist")

// ErrOutOfRange is returned when a read falls outside the blob's current
// bounds, or when a write is given a negative offset.
var ErrOutOfRange = errors.New("flashfs: offset/length out of range")

// FS is the abstract flash filesystem contract every applet is handed.
type FS interface {
	// Size reports the current size of name, or ErrNotExist if absent.
	Size(name string) (int, error)

	// Read copies length bytes starting at offset into a fresh slice. It
	// fails with ErrNotExist if the blob is absent and ErrOutOfRange if the
	// requested window exceeds the blob's size.
	Read(name string, offset, length int) ([]byte, error)

	// Write stores data at offset. If truncate is true, the blob's final
	// size is offset+len(data) (anything beyond is discarded); otherwise
	// the blob is extended/zero-padded as needed to hold the write without
	// shrinking it.
	Write(name string, offset int, data []byte, truncate bool) error

	// Delete removes name. Deleting an absent blob is not an error.
	Delete(name string) error
}

// Capacity is implemented by stores that can report a bounded size budget,
// backing ADMIN_INS_READ_FLASH_CAP.
type Capacity interface {
	CapacityUnits() uint8
}
