package store

import "errors"

// ErrNotFound is returned by a Medium when nothing was ever written at
// the requested path.
var ErrNotFound = errors.New("store: record not found")

// Medium is durable byte storage addressed by a short path. Writes must
// replace the previous content atomically.
type Medium interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Close() error
}
