// Package device abstracts the I/O substrate behind a narrow, blocking
// capability set: open, read_at, write_at, seek, sync, truncate, remove,
// read_dir and sync_dir, plus an exclusive directory lock. There is no
// rename primitive. The core engine (internal/chunkfile, internal/logstore) is written entirely
// against this interface so it can run unchanged against a real filesystem
// or an in-memory one.
//
// The concrete implementation is backed by github.com/spf13/afero, whose
// Fs/File interfaces already cover every primitive in the capability set.
package device

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/spf13/afero"
)

// File is one open chunk file handle: positioned reads and writes, seeking,
// fsync, and truncation. No primitive here does more than one syscall's
// worth of work.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Seeker
	io.Closer
	Sync() error
	Truncate(size int64) error
}

// FS is the narrow filesystem capability set the log engine depends on.
type FS interface {
	// CreateExclusive creates path for read/write, failing if it already
	// exists. Used by chunkfile.Create, which must never silently reuse a file.
	CreateExclusive(path string) (File, error)

	// OpenExisting opens an already-existing path for read/write.
	OpenExisting(path string) (File, error)

	// Remove unlinks path. Not an error if the path never existed.
	Remove(path string) error

	// MkdirAll creates dir and any missing parents.
	MkdirAll(dir string) error

	// ReadDirNames returns the base names of the non-directory entries
	// directly inside dir, sorted by name.
	ReadDirNames(dir string) ([]string, error)

	// SyncDir fsyncs the directory entry itself, so that a file creation,
	// rename, or removal inside dir is durable.
	SyncDir(dir string) error

	// Lock acquires an exclusive, crash-safe lock on path and returns a
	// handle that releases it on Close. Unlike CreateExclusive, the lock is
	// held by the open file description itself: on the real filesystem the
	// OS releases it automatically if the holding process dies (including
	// an unclean kill), so a crash never leaves root_dir permanently
	// unopenable. Returns ErrLocked if path is already locked.
	Lock(path string) (io.Closer, error)
}

// NewOS returns an FS backed by the real filesystem.
func NewOS() FS {
	return New(afero.NewOsFs())
}

// NewMemory returns an FS backed by an in-memory filesystem, for tests.
func NewMemory() FS {
	return New(afero.NewMemMapFs())
}

// New wraps an arbitrary afero.Fs as an FS.
func New(fs afero.Fs) FS {
	return &aferoFS{fs: fs, memLocks: make(map[string]bool)}
}

type aferoFS struct {
	fs afero.Fs

	// memLocks backs Lock for any afero.Fs that isn't the real OS
	// filesystem (e.g. afero.NewMemMapFs() in tests). There is no process
	// to crash independently of the one holding the mutex, so a plain
	// in-process map is sufficient; it only needs to reject a second Lock
	// against the same path while the first is outstanding.
	memMu    sync.Mutex
	memLocks map[string]bool
}

// ErrExist is returned by CreateExclusive when path already exists. It is
// normalized here rather than left as whatever the backing afero.Fs
// implementation happens to wrap, since in-memory and OS-backed afero
// filesystems do not wrap file-exists errors identically.
var ErrExist = os.ErrExist

// ErrLocked is returned by Lock when path is already locked.
var ErrLocked = errors.New("device: already locked")

func (a *aferoFS) CreateExclusive(path string) (File, error) {
	if _, err := a.fs.Stat(path); err == nil {
		return nil, ErrExist
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	f, err := a.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrExist
		}
		return nil, err
	}
	return f, nil
}

func (a *aferoFS) OpenExisting(path string) (File, error) {
	f, err := a.fs.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (a *aferoFS) Remove(path string) error {
	err := a.fs.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (a *aferoFS) MkdirAll(dir string) error {
	return a.fs.MkdirAll(dir, 0o755)
}

func (a *aferoFS) ReadDirNames(dir string) ([]string, error) {
	entries, err := afero.ReadDir(a.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// SyncDir opens the directory and calls its Sync, so that a prior create,
// rename, or remove of one of its entries is durable. On filesystems (or
// fakes) where opening a directory isn't meaningful, Sync is a no-op and
// this call succeeds trivially.
func (a *aferoFS) SyncDir(dir string) error {
	f, err := a.fs.Open(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	if info, statErr := f.Stat(); statErr == nil && !info.IsDir() {
		return &fs.PathError{Op: "syncdir", Path: dir, Err: os.ErrInvalid}
	}
	return f.Sync()
}

// Lock acquires an exclusive lock on path. On the real OS filesystem this
// is a flock(2) held on path's own file descriptor, so it is released by
// the kernel the instant the holding process's file descriptor table is
// torn down — including on SIGKILL or a hard crash — without any PID file
// or staleness timeout. Against any other afero.Fs (the in-memory test
// filesystem has no real process to crash independently of the caller), it
// falls back to a plain in-process exclusion map.
func (a *aferoFS) Lock(path string) (io.Closer, error) {
	if _, ok := a.fs.(*afero.OsFs); ok {
		return lockOSFile(path)
	}
	return a.lockInMemory(path)
}

func lockOSFile(path string) (io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil { //nolint:gosec // G115: uintptr->int is safe on 64-bit
		f.Close()
		return nil, ErrLocked
	}
	return f, nil
}

func (a *aferoFS) lockInMemory(path string) (io.Closer, error) {
	a.memMu.Lock()
	defer a.memMu.Unlock()
	if a.memLocks[path] {
		return nil, ErrLocked
	}
	a.memLocks[path] = true
	return &memLock{fs: a, path: path}, nil
}

type memLock struct {
	fs   *aferoFS
	path string
}

func (l *memLock) Close() error {
	l.fs.memMu.Lock()
	defer l.fs.memMu.Unlock()
	delete(l.fs.memLocks, l.path)
	return nil
}

// IsNotExist reports whether err indicates the target path does not exist.
func IsNotExist(err error) bool {
	return os.IsNotExist(err)
}

// IsExist reports whether err indicates the target path already exists.
func IsExist(err error) bool {
	return errors.Is(err, ErrExist) || os.IsExist(err)
}

// Join joins directory path elements; exported so callers don't need to
// import path/filepath solely for this.
func Join(elem ...string) string {
	return filepath.Join(elem...)
}
