package device

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCreateExclusiveFailsOnExisting(t *testing.T) {
	for _, fs := range []FS{NewMemory(), osFSIn(t)} {
		path := Join(tempDirFor(t, fs), "chunk")
		f, err := fs.CreateExclusive(path)
		if err != nil {
			t.Fatalf("first create: %v", err)
		}
		f.Close()

		if _, err := fs.CreateExclusive(path); err == nil {
			t.Fatal("expected error creating existing path exclusively")
		}
	}
}

func TestWriteReadAtRoundTrip(t *testing.T) {
	for _, fs := range []FS{NewMemory(), osFSIn(t)} {
		dir := tempDirFor(t, fs)
		path := Join(dir, "chunk")
		f, err := fs.CreateExclusive(path)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := f.WriteAt([]byte("hello"), 0); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := f.Sync(); err != nil {
			t.Fatalf("sync: %v", err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}

		f2, err := fs.OpenExisting(path)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		defer f2.Close()
		buf := make([]byte, 5)
		if _, err := f2.ReadAt(buf, 0); err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(buf) != "hello" {
			t.Fatalf("got %q, want %q", buf, "hello")
		}
	}
}

func TestReadDirNamesAndRemove(t *testing.T) {
	for _, fs := range []FS{NewMemory(), osFSIn(t)} {
		dir := tempDirFor(t, fs)
		for _, name := range []string{"b", "a", "c"} {
			f, err := fs.CreateExclusive(Join(dir, name))
			if err != nil {
				t.Fatalf("create %s: %v", name, err)
			}
			f.Close()
		}

		names, err := fs.ReadDirNames(dir)
		if err != nil {
			t.Fatalf("read dir: %v", err)
		}
		want := []string{"a", "b", "c"}
		if len(names) != len(want) {
			t.Fatalf("got %v, want %v", names, want)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Fatalf("got %v, want %v", names, want)
			}
		}

		if err := fs.Remove(Join(dir, "b")); err != nil {
			t.Fatalf("remove: %v", err)
		}
		names, err = fs.ReadDirNames(dir)
		if err != nil {
			t.Fatalf("read dir after remove: %v", err)
		}
		if len(names) != 2 {
			t.Fatalf("got %v, want 2 entries", names)
		}

		if err := fs.SyncDir(dir); err != nil {
			t.Fatalf("sync dir: %v", err)
		}
	}
}

func TestLockRejectsSecondLockAndReleasesOnClose(t *testing.T) {
	for _, fs := range []FS{NewMemory(), osFSIn(t)} {
		path := Join(tempDirFor(t, fs), ".lock")

		l1, err := fs.Lock(path)
		if err != nil {
			t.Fatalf("first lock: %v", err)
		}

		if _, err := fs.Lock(path); !errors.Is(err, ErrLocked) {
			t.Fatalf("second lock: got %v, want ErrLocked", err)
		}

		if err := l1.Close(); err != nil {
			t.Fatalf("release first lock: %v", err)
		}

		l2, err := fs.Lock(path)
		if err != nil {
			t.Fatalf("lock after release: %v", err)
		}
		l2.Close()
	}
}

func TestLockSurvivesSimulatedCrashOnOS(t *testing.T) {
	fs := osFSIn(t)
	path := Join(tempDirFor(t, fs), ".lock")

	l1, err := fs.Lock(path)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// Simulate the holding process dying without releasing the lock
	// cleanly: the kernel closes the fd, which is exactly what l1.Close
	// does here, since flock is tied to the open file description.
	if err := l1.Close(); err != nil {
		t.Fatalf("simulate crash: %v", err)
	}

	l2, err := fs.Lock(path)
	if err != nil {
		t.Fatalf("lock after simulated crash: %v", err)
	}
	l2.Close()
}

func TestRemoveMissingIsNotAnError(t *testing.T) {
	for _, fs := range []FS{NewMemory(), osFSIn(t)} {
		dir := tempDirFor(t, fs)
		if err := fs.Remove(Join(dir, "missing")); err != nil {
			t.Fatalf("remove missing: %v", err)
		}
	}
}

func osFSIn(t *testing.T) FS {
	t.Helper()
	return NewOS()
}

func tempDirFor(t *testing.T, fs FS) string {
	t.Helper()
	dir := filepath.Join(os.TempDir(), "walog-device-test-"+t.Name())
	if err := fs.MkdirAll(dir); err != nil {
		t.Fatalf("mkdir temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}
