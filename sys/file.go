// Package sys is the small OS/file abstraction the storage engine opens its
// disk files through: a narrow FileHandle seam plus best-effort
// preallocation and advisory locking. It carries only the surface diskio and
// restore actually call, not a general file-utilities toolkit.
package sys

import "os"

// FileHandle is the seek/read/write/close surface a Pipeline or a restore
// scan needs from an open disk file. It is narrow on purpose: every method
// here is one the engine actually calls, so a fake can stand in during a
// test without reimplementing the rest of *os.File.
type FileHandle interface {
	ReadAt(b []byte, off int64) (int, error)
	WriteAt(b []byte, off int64) (int, error)
	Close() error
	Name() string
	Stat() (os.FileInfo, error)
}

// OpenFile opens (or creates, per flag) name and returns it wrapped as a
// FileHandle.
func OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &RealFile{f: f}, nil
}

// Remove deletes the named file.
func Remove(name string) error {
	return os.Remove(name)
}
