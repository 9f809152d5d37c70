package sys

import "os"

var _ FileHandle = (*RealFile)(nil)

// RealFile adapts an *os.File to FileHandle, and additionally exposes Fd for
// Preallocate's platform-specific syscalls.
type RealFile struct {
	f *os.File
}

func (r *RealFile) ReadAt(p []byte, off int64) (int, error) { return r.f.ReadAt(p, off) }
func (r *RealFile) WriteAt(p []byte, off int64) (int, error) { return r.f.WriteAt(p, off) }
func (r *RealFile) Close() error { return r.f.Close() }
func (r *RealFile) Name() string { return r.f.Name() }
func (r *RealFile) Stat() (os.FileInfo, error) { return r.f.Stat() }

// Fd returns the underlying file descriptor. Preallocate type-asserts for it
// rather than widening FileHandle, since nothing else needs it.
func (r *RealFile) Fd() uintptr { return r.f.Fd() }
