package fs

import (
	"errors"
	"os"
	"sync/atomic"
)

// ErrInjected is returned by FaultyFS once the configured write budget is
// exhausted.
var ErrInjected = errors.New("injected I/O failure")

// FaultyFS wraps another FileSystem and fails every write after the first
// FailAfterWrites successful ones. Sync failures can be forced separately.
type FaultyFS struct {
	Inner FileSystem

	// FailAfterWrites is the number of Write calls that succeed before
	// failures start. Zero fails immediately, -1 never fails.
	FailAfterWrites int64

	// FailSync forces Sync to fail regardless of the write budget.
	FailSync bool

	writes atomic.Int64
}

// NewFaulty wraps the local filesystem with a write budget.
func NewFaulty(failAfterWrites int64) *FaultyFS {
	return &FaultyFS{Inner: Default, FailAfterWrites: failAfterWrites}
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	inner, err := f.Inner.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: inner, fs: f}, nil
}

func (f *FaultyFS) Remove(name string) error              { return f.Inner.Remove(name) }
func (f *FaultyFS) Stat(name string) (os.FileInfo, error) { return f.Inner.Stat(name) }

type faultyFile struct {
	File
	fs *FaultyFS
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if ff.fs.FailAfterWrites >= 0 && ff.fs.writes.Add(1) > ff.fs.FailAfterWrites {
		return 0, ErrInjected
	}
	return ff.File.Write(p)
}

func (ff *faultyFile) Sync() error {
	if ff.fs.FailSync {
		return ErrInjected
	}
	return ff.File.Sync()
}
