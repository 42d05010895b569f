package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"time"
)

// Layout describes how one record is identified and defaulted on the
// medium. T must be a fixed-size value that encoding/binary can encode.
type Layout[T comparable] struct {
	Path      string
	Magic     uint32
	Version   uint16
	SaveDelay time.Duration
	Defaults  func(now time.Time) T
	// Validate rejects semantically invalid payloads; nil accepts all.
	Validate func(v *T) error
}

type LoadResult int

const (
	Loaded LoadResult = iota
	Initialized
)

func (r LoadResult) String() string {
	if r == Loaded {
		return "loaded"
	}
	return "initialized"
}

// Record is a persisted, versioned, checksummed value with a debounced
// write-back. It is owned by the main loop and not safe for concurrent use.
type Record[T comparable] struct {
	layout Layout[T]
	medium Medium
	logger *log.Logger
	now    func() time.Time

	data       T
	size       int
	dirty      bool
	dirtySince time.Time
}

func NewRecord[T comparable](layout Layout[T], medium Medium, logger *log.Logger, now func() time.Time) (*Record[T], error) {
	var zero T
	size := binary.Size(zero)
	if size < 0 {
		return nil, fmt.Errorf("record %s: payload type %T is not fixed-size", layout.Path, zero)
	}
	if size > 0xffff {
		return nil, fmt.Errorf("record %s: payload of %d bytes exceeds header size field", layout.Path, size)
	}
	if now == nil {
		now = time.Now
	}
	return &Record[T]{layout: layout, medium: medium, logger: logger, now: now, size: size}, nil
}

// Load reads the record from the medium. Any structural or semantic
// mismatch resets the record to defaults and writes them back.
func (r *Record[T]) Load() LoadResult {
	if err := r.decode(); err != nil {
		r.logger.Printf("[store] %s: %v, initializing defaults", r.layout.Path, err)
		r.Initialize()
		return Initialized
	}
	r.dirty = false
	return Loaded
}

func (r *Record[T]) decode() error {
	blob, err := r.medium.Read(r.layout.Path)
	if errors.Is(err, ErrNotFound) {
		return errors.New("no saved data")
	}
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if len(blob) < HeaderSize {
		return fmt.Errorf("short blob (%d bytes)", len(blob))
	}
	h := decodeHeader(blob)
	payload := blob[HeaderSize:]
	switch {
	case h.Magic != r.layout.Magic:
		return fmt.Errorf("magic mismatch (%#x)", h.Magic)
	case h.Version != r.layout.Version:
		return fmt.Errorf("version mismatch (%d)", h.Version)
	case int(h.Size) != r.size || len(payload) != r.size:
		return fmt.Errorf("size mismatch (header %d, payload %d, want %d)", h.Size, len(payload), r.size)
	case checksum(payload) != h.Hash:
		return errors.New("checksum mismatch")
	}
	var v T
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if r.layout.Validate != nil {
		if err := r.layout.Validate(&v); err != nil {
			return fmt.Errorf("invalid: %w", err)
		}
	}
	r.data = v
	return nil
}

// Initialize replaces the record with its defaults and persists them.
func (r *Record[T]) Initialize() {
	r.data = r.layout.Defaults(r.now())
	r.markDirty()
	if err := r.Flush(true); err != nil {
		r.logger.Printf("[store] %s: write defaults failed: %v", r.layout.Path, err)
	}
}

// Get returns a copy of the in-memory value.
func (r *Record[T]) Get() T { return r.data }

// Update applies fn to the in-memory value and marks the record dirty if
// it changed. It reports whether it did.
func (r *Record[T]) Update(fn func(v *T)) bool {
	before := r.data
	fn(&r.data)
	if r.data == before {
		return false
	}
	r.markDirty()
	return true
}

func (r *Record[T]) markDirty() {
	if !r.dirty {
		r.dirty = true
		r.dirtySince = r.now()
	}
}

func (r *Record[T]) Dirty() bool { return r.dirty }

// Flush writes the record once it has been dirty for at least the save
// delay, or immediately when forced. A clean record is never written.
func (r *Record[T]) Flush(force bool) error {
	if !r.dirty {
		return nil
	}
	if !force && r.now().Sub(r.dirtySince) < r.layout.SaveDelay {
		return nil
	}
	blob, err := r.encode()
	if err != nil {
		return err
	}
	if err := r.medium.Write(r.layout.Path, blob); err != nil {
		return fmt.Errorf("write %s: %w", r.layout.Path, err)
	}
	r.dirty = false
	return nil
}

func (r *Record[T]) encode() ([]byte, error) {
	blob := make([]byte, HeaderSize, HeaderSize+r.size)
	buf := bytes.NewBuffer(blob)
	if err := binary.Write(buf, binary.LittleEndian, r.data); err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.layout.Path, err)
	}
	blob = buf.Bytes()
	payload := blob[HeaderSize:]
	Header{
		Magic:   r.layout.Magic,
		Version: r.layout.Version,
		Size:    uint16(len(payload)),
		Hash:    checksum(payload),
	}.encode(blob[:HeaderSize])
	return blob, nil
}
