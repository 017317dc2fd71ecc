// Package store holds the two pieces of on-disk state the engine owns
// exclusively: the output file itself and its resume-meta sidecar.
package store

import (
	"errors"
	"os"
	"sync/atomic"
	"syscall"

	"github.com/nilfheim/boltget/internal/dlerr"
)

// File is the single output file shared by every segment worker.
// Workers write at explicit offsets; there is no shared cursor, so
// concurrent WriteAt calls are safe as long as callers guarantee their
// ranges don't overlap (the engine guarantees this by construction).
type File struct {
	f      *os.File
	path   string
	size   int64
	closed atomic.Bool
}

// Create opens path for positional writes and pre-allocates it to size
// bytes when size is known (size == 0 means grow on write).
func Create(path string, size int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, classifyFileErr("store/create", err)
	}
	if size > 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, classifyFileErr("store/create", err)
		}
	}
	return &File{f: f, path: path, size: size}, nil
}

func (of *File) Path() string { return of.path }

// WriteAt writes b at the given absolute file offset. It never advances
// an implicit cursor; callers track their own write_offset.
func (of *File) WriteAt(b []byte, off int64) (int, error) {
	if of.closed.Load() {
		return 0, dlerr.New(dlerr.KindHandleInvalid, "store/write", errors.New("file is closed"))
	}
	n, err := of.f.WriteAt(b, off)
	if err != nil {
		return n, classifyFileErr("store/write", err)
	}
	return n, nil
}

// Flush forces buffered data to stable storage.
func (of *File) Flush() error {
	if of.closed.Load() {
		return nil
	}
	if err := of.f.Sync(); err != nil {
		return classifyFileErr("store/flush", err)
	}
	return nil
}

// Close is idempotent; the second and later calls are no-ops.
func (of *File) Close() error {
	if !of.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := of.f.Close(); err != nil {
		return classifyFileErr("store/close", err)
	}
	return nil
}

func classifyFileErr(op string, err error) *dlerr.Error {
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return dlerr.New(dlerr.KindDiskFull, op, err)
	case errors.Is(err, os.ErrPermission):
		return dlerr.New(dlerr.KindPermissionDenied, op, err)
	case errors.Is(err, os.ErrClosed):
		return dlerr.New(dlerr.KindHandleInvalid, op, err)
	case errors.Is(err, os.ErrExist):
		return dlerr.New(dlerr.KindFileExists, op, err)
	default:
		return dlerr.New(dlerr.KindWriteError, op, err)
	}
}
