// Package logstore implements the log engine: the ordered set of open
// chunks, routing of push/pop/ack/revert to the right chunk, chunk
// roll-over and reclamation, soft limits, and recovery orchestration on
// open.
package logstore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"walog/internal/chunkfile"
	"walog/internal/device"
	"walog/internal/logerr"
	"walog/internal/logging"
)

const lockFileName = ".lock"

// Stats is a point-in-time, IO-free snapshot of a Store's state, for
// introspection (the CLI's "stat" subcommand, and tests) without reaching
// into package-private fields.
type Stats struct {
	RootDir      string
	OpenChunks   int
	OldestChunk  uint64
	NewestChunk  uint64
	NextIndex    uint64
	ReadActiveID uint64
}

// Store owns the ordered chunk set for one root_dir. It is single-owner:
// all operations assume exclusive, serialized access by the caller.
type Store struct {
	fs      device.FS
	rootDir string

	chunkSize uint64
	maxChunks uint64

	chunks        []*chunkfile.Chunk // ascending by chunk_id
	readActiveIdx int                // index into chunks of the read-active chunk

	nextChunkID uint64
	nextIndex   uint64

	lockPath string
	lockFile io.Closer

	logger *slog.Logger
	closed bool
}

// Open enumerates root_dir's chunk files, recovers each, and returns a Store
// positioned with the oldest chunk as read-active and the newest as
// write-active. If root_dir contains no chunk files, chunk 0 is created.
//
// Open acquires an exclusive lock on root_dir for the lifetime of the
// returned Store (see device.FS.Lock). The lock is tied to the holding
// process's open file descriptor, not to the lock file's mere existence, so
// an abrupt process death (the crash this package's recovery path is built
// to survive) releases it automatically — a reopen after a crash recovers
// the chunk files exactly as the durability property requires, instead of
// being permanently refused because a stale marker was left behind.
func Open(fs device.FS, rootDir string, chunkSize, maxChunks uint64, logger *slog.Logger) (*Store, error) {
	logger = logging.Default(logger).With("component", "logstore")

	if err := fs.MkdirAll(rootDir); err != nil {
		return nil, logerr.Io("mkdir", rootDir, err)
	}

	lockPath := device.Join(rootDir, lockFileName)
	lockFile, err := fs.Lock(lockPath)
	if err != nil {
		if errors.Is(err, device.ErrLocked) {
			return nil, fmt.Errorf("logstore: %s is already open (locked by another handle)", rootDir)
		}
		return nil, logerr.Io("lock", lockPath, err)
	}

	entries, err := chunkfile.ListChunkFiles(fs, rootDir)
	if err != nil {
		lockFile.Close()
		return nil, err
	}

	s := &Store{
		fs:        fs,
		rootDir:   rootDir,
		chunkSize: chunkSize,
		maxChunks: maxChunks,
		lockPath:  lockPath,
		lockFile:  lockFile,
		logger:    logger,
	}

	if len(entries) == 0 {
		c, err := chunkfile.Create(fs, rootDir, 0, 0, chunkSize, logger)
		if err != nil {
			lockFile.Close()
			return nil, err
		}
		s.chunks = []*chunkfile.Chunk{c}
		s.nextChunkID = 1
		s.nextIndex = c.NextIndex()
		return s, nil
	}

	var expectedBase uint64
	haveExpected := false
	for _, e := range entries {
		c, result, err := chunkfile.OpenExisting(fs, rootDir, e.Name, chunkSize, logger)
		if err != nil {
			s.closeChunksBestEffort()
			lockFile.Close()
			return nil, err
		}
		if haveExpected && c.BaseIndex() != expectedBase {
			s.closeChunksBestEffort()
			lockFile.Close()
			return nil, fmt.Errorf("logstore: %w: chunk %d base_index %d, want %d", logerr.ErrCorrupt, c.ChunkID(), c.BaseIndex(), expectedBase)
		}
		expectedBase = c.BaseIndex() + result.EntryCount
		haveExpected = true
		s.chunks = append(s.chunks, c)
	}

	last := s.chunks[len(s.chunks)-1]
	s.nextChunkID = last.ChunkID() + 1
	s.nextIndex = last.NextIndex()
	s.readActiveIdx = 0
	s.logger.Info("recovered log", "chunks", len(s.chunks), "next_index", s.nextIndex)
	return s, nil
}

func (s *Store) closeChunksBestEffort() {
	for _, c := range s.chunks {
		c.Close()
	}
}

// Push appends payload to the write-active chunk, rolling over to a new
// chunk first if the current one is full. Returns ErrFull if roll-over
// would exceed max_chunks.
func (s *Store) Push(payload []byte) (uint64, error) {
	if s.closed {
		return 0, logerr.ErrClosed
	}

	write := s.chunks[len(s.chunks)-1]
	if write.Full() {
		if s.maxChunks > 0 && uint64(len(s.chunks)) >= s.maxChunks {
			return 0, logerr.ErrFull
		}
		c, err := chunkfile.Create(s.fs, s.rootDir, s.nextChunkID, s.nextIndex, s.chunkSize, s.logger)
		if err != nil {
			return 0, err
		}
		s.nextChunkID++
		s.chunks = append(s.chunks, c)
		write = c
	}

	idx, err := write.Push(payload)
	if err != nil {
		return 0, err
	}
	s.nextIndex = write.NextIndex()
	return idx, nil
}

// Pop returns the next unread entry in push order, or ok=false if the log
// has no more entries up to the durable tail.
func (s *Store) Pop() (index uint64, payload []byte, ok bool, err error) {
	if s.closed {
		return 0, nil, false, logerr.ErrClosed
	}

	for {
		c := s.chunks[s.readActiveIdx]
		index, payload, ok, err = c.Pop()
		if err != nil {
			return 0, nil, false, err
		}
		if ok {
			return index, payload, true, nil
		}
		if s.readActiveIdx == len(s.chunks)-1 {
			// c is also the write-active chunk: nothing more durable.
			return 0, nil, false, nil
		}
		// c is drained but not write-active: advance without removing it.
		// Reclamation happens only on Ack.
		s.readActiveIdx++
	}
}

// Ack advances the ack watermark through every chunk from the oldest up to
// and including the current read-active chunk, then reclaims (closes and
// removes) any oldest chunks that are now fully exhausted.
func (s *Store) Ack() error {
	if s.closed {
		return logerr.ErrClosed
	}

	for i := 0; i <= s.readActiveIdx; i++ {
		s.chunks[i].Ack()
	}

	for len(s.chunks) > 1 && s.chunks[0].IsExhausted() {
		oldest := s.chunks[0]
		if err := oldest.CloseAndRemove(); err != nil {
			return err
		}
		s.chunks = s.chunks[1:]
		// readActiveIdx pointed either at the chunk just removed (it was
		// fully exhausted too, so the new front chunk — already at index 0
		// after the slice shift — is correctly the next to read from) or
		// at a later chunk, whose position shifted down by one.
		if s.readActiveIdx > 0 {
			s.readActiveIdx--
		}
	}
	return nil
}

// Revert resets the read cursor of every chunk back to its ack watermark
// and repositions the read-active pointer at the oldest chunk that still
// has unacked entries (or the sole remaining chunk if all are acked).
func (s *Store) Revert() error {
	if s.closed {
		return logerr.ErrClosed
	}

	for _, c := range s.chunks {
		c.Revert()
	}

	newIdx := len(s.chunks) - 1
	for i, c := range s.chunks {
		if c.ReadOffset() < c.WriteOffset() {
			newIdx = i
			break
		}
	}
	s.readActiveIdx = newIdx
	return nil
}

// FlushWriteActive fsyncs the write-active chunk. Per the close contract,
// this is the only durability-relevant step of Close; closing a handle
// that is already durable cannot lose data even if it races with another
// handle's close.
func (s *Store) FlushWriteActive() error {
	if s.closed {
		return logerr.ErrClosed
	}
	write := s.chunks[len(s.chunks)-1]
	return write.Sync()
}

// Closers returns one io.Closer per currently open chunk, so a caller can
// close them concurrently. Marks the store closed; subsequent operations
// fail with ErrClosed.
func (s *Store) Closers() []io.Closer {
	s.closed = true
	closers := make([]io.Closer, len(s.chunks))
	for i, c := range s.chunks {
		closers[i] = c
	}
	return closers
}

// ReleaseLock releases the directory lock acquired by Open. Call after all
// chunk closers have finished. The lock file itself is left on disk — it is
// the flock held on its file descriptor that provides exclusion, not its
// mere existence, and the next Lock reuses it rather than recreating it.
func (s *Store) ReleaseLock() error {
	if err := s.lockFile.Close(); err != nil {
		return logerr.Io("close", s.lockPath, err)
	}
	return nil
}

// Close fsyncs the write-active chunk, closes every open chunk handle
// sequentially, and releases the directory lock. No further state is
// persisted: the next Open reproduces write_offset and next_index from the
// files on disk.
//
// This is the synchronous convenience form; walog.Log.Close uses
// FlushWriteActive/Closers/ReleaseLock directly to close chunk handles
// concurrently.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	if err := s.FlushWriteActive(); err != nil {
		return err
	}

	var firstErr error
	for _, c := range s.Closers() {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.ReleaseLock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Stat returns a read-only snapshot of the store's current state.
func (s *Store) Stat() Stats {
	oldest := s.chunks[0]
	newest := s.chunks[len(s.chunks)-1]
	return Stats{
		RootDir:      s.rootDir,
		OpenChunks:   len(s.chunks),
		OldestChunk:  oldest.ChunkID(),
		NewestChunk:  newest.ChunkID(),
		NextIndex:    s.nextIndex,
		ReadActiveID: s.chunks[s.readActiveIdx].ChunkID(),
	}
}
