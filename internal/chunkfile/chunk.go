// Package chunkfile implements one chunk: a single append-only file holding
// a contiguous run of entries, plus the directory-naming scheme that maps
// chunk identifiers to filenames (naming.go).
//
// A Chunk is not safe for concurrent use; the owning log engine serializes
// all access, per the single-owner model.
package chunkfile

import (
	"fmt"
	"io"
	"log/slog"

	"walog/internal/device"
	"walog/internal/frame"
	"walog/internal/logerr"
	"walog/internal/logging"
)

// Chunk owns one on-disk file: append, sequential read, in-chunk ack,
// sync, and its own crash recovery.
type Chunk struct {
	fs  device.FS
	dir string

	chunkID   uint64
	baseIndex uint64
	name      string
	path      string

	file device.File

	chunkSize uint64

	writeOffset int64
	readOffset  int64
	ackOffset   int64

	nextIndex    uint64
	readEntryCnt uint64
	ackEntryCnt  uint64

	// lastIOWasWrite records which direction last touched the file. Because
	// every read and write here is positioned (ReadAt/WriteAt) rather than
	// cursor-relative, no seek syscall is ever actually required to
	// alternate between them; the field is retained for parity with the
	// chunk attribute named in the data model and for diagnostics, not to
	// gate a seek call.
	lastIOWasWrite bool

	full      bool
	poisoned  bool
	closed    bool

	logger *slog.Logger
}

// RecoveryResult describes what OpenExisting found while scanning a chunk.
type RecoveryResult struct {
	EntryCount     uint64
	Truncated      bool
	BytesTruncated int64
}

// Create creates a new, empty chunk file exclusively and returns its handle.
// The parent directory is fsynced afterward so the new file's directory
// entry is durable.
func Create(fs device.FS, dir string, chunkID, baseIndex, chunkSize uint64, logger *slog.Logger) (*Chunk, error) {
	name := FormatName(chunkID, baseIndex)
	path := device.Join(dir, name)

	f, err := fs.CreateExclusive(path)
	if err != nil {
		return nil, logerr.Io("create", path, err)
	}
	if err := fs.SyncDir(dir); err != nil {
		f.Close()
		return nil, logerr.Io("syncdir", dir, err)
	}

	c := &Chunk{
		fs:        fs,
		dir:       dir,
		chunkID:   chunkID,
		baseIndex: baseIndex,
		name:      name,
		path:      path,
		file:      f,
		chunkSize: chunkSize,
		nextIndex: baseIndex,
		logger:    logging.Default(logger).With("component", "chunk", "chunk_id", chunkID),
	}
	c.logger.Info("chunk created", "base_index", baseIndex)
	return c, nil
}

// OpenExisting opens an already-existing chunk file named name inside dir,
// runs recovery (forward frame scan, truncating any partial trailing
// frame), and returns the chunk ready for use.
func OpenExisting(fs device.FS, dir, name string, chunkSize uint64, logger *slog.Logger) (*Chunk, RecoveryResult, error) {
	chunkID, baseIndex, ok := ParseName(name)
	if !ok {
		return nil, RecoveryResult{}, fmt.Errorf("chunkfile: %q does not match the chunk naming schema", name)
	}
	path := device.Join(dir, name)

	f, err := fs.OpenExisting(path)
	if err != nil {
		return nil, RecoveryResult{}, logerr.Io("open", path, err)
	}

	logger = logging.Default(logger).With("component", "chunk", "chunk_id", chunkID)

	var offset int64
	var count uint64
	for {
		_, next, status, derr := frame.DecodeNext(f, offset)
		if derr != nil {
			f.Close()
			return nil, RecoveryResult{}, logerr.Io("read", path, derr)
		}
		switch status {
		case frame.OK:
			offset = next
			count++
			continue
		case frame.EndOfChunk:
			result := RecoveryResult{EntryCount: count}
			return finishOpen(fs, dir, path, name, chunkID, baseIndex, chunkSize, f, offset, count, logger, result)
		case frame.Truncated:
			size, serr := f.Seek(0, io.SeekEnd)
			if serr != nil {
				f.Close()
				return nil, RecoveryResult{}, logerr.Io("seek", path, serr)
			}
			if err := f.Truncate(offset); err != nil {
				f.Close()
				return nil, RecoveryResult{}, logerr.Io("truncate", path, err)
			}
			if err := f.Sync(); err != nil {
				f.Close()
				return nil, RecoveryResult{}, logerr.Io("sync", path, err)
			}
			result := RecoveryResult{EntryCount: count, Truncated: true, BytesTruncated: size - offset}
			logger.Warn("truncated partial tail frame on recovery", "offset", offset, "bytes_truncated", result.BytesTruncated)
			return finishOpen(fs, dir, path, name, chunkID, baseIndex, chunkSize, f, offset, count, logger, result)
		default:
			f.Close()
			return nil, RecoveryResult{}, fmt.Errorf("chunkfile: unknown decode status %v", status)
		}
	}
}

func finishOpen(fs device.FS, dir, path, name string, chunkID, baseIndex, chunkSize uint64, f device.File, writeOffset int64, count uint64, logger *slog.Logger, result RecoveryResult) (*Chunk, RecoveryResult, error) {
	c := &Chunk{
		fs:          fs,
		dir:         dir,
		chunkID:     chunkID,
		baseIndex:   baseIndex,
		name:        name,
		path:        path,
		file:        f,
		chunkSize:   chunkSize,
		writeOffset: writeOffset,
		nextIndex:   baseIndex + count,
		logger:      logger,
	}
	if chunkSize > 0 && uint64(writeOffset) > chunkSize {
		c.full = true
	}
	return c, result, nil
}

// ChunkID returns the chunk's identifier.
func (c *Chunk) ChunkID() uint64 { return c.chunkID }

// BaseIndex returns the entry index of the chunk's first entry.
func (c *Chunk) BaseIndex() uint64 { return c.baseIndex }

// Name returns the chunk's filename.
func (c *Chunk) Name() string { return c.name }

// Full reports whether the chunk is sticky-full: no further pushes will be
// routed to it by the log engine.
func (c *Chunk) Full() bool { return c.full }

// WriteOffset returns the byte offset just past the last durable frame.
func (c *Chunk) WriteOffset() int64 { return c.writeOffset }

// NextIndex returns the index the next Push into this chunk will assign.
func (c *Chunk) NextIndex() uint64 { return c.nextIndex }

// EntryCount returns the number of entries durably written to the chunk.
func (c *Chunk) EntryCount() uint64 { return c.nextIndex - c.baseIndex }

// Push appends payload as one frame, fsyncs, and returns its assigned
// index. On failure the chunk is poisoned: subsequent operations fail fast
// until the chunk is reopened.
func (c *Chunk) Push(payload []byte) (uint64, error) {
	if c.poisoned {
		return 0, logerr.ErrPoisoned
	}
	if c.closed {
		return 0, logerr.ErrClosed
	}

	encoded := frame.Encode(payload)
	if _, err := c.file.WriteAt(encoded, c.writeOffset); err != nil {
		c.poisoned = true
		return 0, logerr.Io("write", c.path, err)
	}
	if err := c.file.Sync(); err != nil {
		c.poisoned = true
		return 0, logerr.Io("sync", c.path, err)
	}

	index := c.nextIndex
	c.nextIndex++
	c.writeOffset += int64(len(encoded))
	c.lastIOWasWrite = true
	if c.chunkSize > 0 && uint64(c.writeOffset) > c.chunkSize {
		c.full = true
	}
	return index, nil
}

// Pop returns the next unread entry, or ok=false if the chunk has no more
// entries at or before its durable write offset.
func (c *Chunk) Pop() (index uint64, payload []byte, ok bool, err error) {
	if c.poisoned {
		return 0, nil, false, logerr.ErrPoisoned
	}
	if c.closed {
		return 0, nil, false, logerr.ErrClosed
	}
	if c.readOffset == c.writeOffset {
		return 0, nil, false, nil
	}

	payload, next, status, derr := frame.DecodeNext(c.file, c.readOffset)
	if derr != nil {
		return 0, nil, false, logerr.Io("read", c.path, derr)
	}
	if status != frame.OK {
		// read_offset always sits on a frame boundary by invariant; a
		// non-OK decode here means the durable write_offset promised a
		// complete frame that isn't actually there.
		return 0, nil, false, logerr.ErrCorrupt
	}

	index = c.baseIndex + c.readEntryCnt
	c.readEntryCnt++
	c.readOffset = next
	c.lastIOWasWrite = false
	return index, payload, true, nil
}

// Ack advances the chunk's ack watermark to the current read position.
func (c *Chunk) Ack() {
	c.ackOffset = c.readOffset
	c.ackEntryCnt = c.readEntryCnt
}

// Revert resets the read position back to the ack watermark.
func (c *Chunk) Revert() {
	c.readOffset = c.ackOffset
	c.readEntryCnt = c.ackEntryCnt
}

// AckOffset, ReadOffset report the chunk's current cursor positions; used by
// the log engine to decide reclamation and read-active advancement.
func (c *Chunk) AckOffset() int64  { return c.ackOffset }
func (c *Chunk) ReadOffset() int64 { return c.readOffset }

// IsExhausted reports whether every entry in the chunk has been acked and
// no further entries will ever be pushed to it.
func (c *Chunk) IsExhausted() bool {
	return c.ackOffset == c.writeOffset && c.full
}

// Close closes the file handle without removing it. The chunk may be
// reopened later; recovery reproduces its state from disk.
func (c *Chunk) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.file.Close(); err != nil {
		return logerr.Io("close", c.path, err)
	}
	return nil
}

// Sync fsyncs the chunk's file without closing it.
func (c *Chunk) Sync() error {
	if c.closed {
		return nil
	}
	if err := c.file.Sync(); err != nil {
		return logerr.Io("sync", c.path, err)
	}
	return nil
}

// CloseAndRemove closes the file handle, unlinks it, and fsyncs the parent
// directory so the removal is durable.
func (c *Chunk) CloseAndRemove() error {
	if !c.closed {
		c.closed = true
		if err := c.file.Close(); err != nil {
			return logerr.Io("close", c.path, err)
		}
	}
	if err := c.fs.Remove(c.path); err != nil {
		return logerr.Io("remove", c.path, err)
	}
	if err := c.fs.SyncDir(c.dir); err != nil {
		return logerr.Io("syncdir", c.dir, err)
	}
	c.logger.Info("chunk reclaimed")
	return nil
}
