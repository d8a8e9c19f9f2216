// Package walog implements a disk-backed, queue-like write-ahead log.
// Producers push opaque byte entries; a single consumer pops them in
// strict append order, acks completed work, and may revert unacknowledged
// reads. Entries written to disk survive process and power loss up to the
// last successfully completed append.
//
// walog is single-owner: concurrent callers are forbidden. Callers that
// need shared access must serialize externally.
package walog

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"walog/internal/device"
	"walog/internal/logerr"
	"walog/internal/logging"
	"walog/internal/logstore"
)

// Re-exported error kinds, per the ERROR HANDLING DESIGN: IoError, Full,
// Corrupt, Poisoned.
var (
	ErrFull     = logerr.ErrFull
	ErrCorrupt  = logerr.ErrCorrupt
	ErrPoisoned = logerr.ErrPoisoned
	ErrClosed   = logerr.ErrClosed
)

// IoError wraps an I/O substrate failure with the operation and path that
// failed; match it with errors.As.
type IoError = logerr.IoError

// Stats is a read-only snapshot of a Log's current state.
type Stats = logstore.Stats

// Log is the public handle for one open write-ahead log rooted at a
// directory. Every method except Stat takes a context.Context. It is checked
// when the method is entered (and, in Close, before each chunk handle is
// closed); an operation that has already started is not interrupted.
type Log struct {
	store  *logstore.Store
	logger *slog.Logger
	openID string
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger *slog.Logger
	fs     device.FS
}

// WithLogger injects a logger for lifecycle-boundary events (open, chunk
// create, chunk reclaim, recovery truncation). If omitted, logging is
// discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithFilesystem overrides the I/O substrate, primarily for tests
// (device.NewMemory()). Defaults to the real filesystem.
func WithFilesystem(fs device.FS) Option {
	return func(o *options) { o.fs = fs }
}

// Open opens (or creates) the log rooted at rootDir. chunkSize is the soft
// per-chunk byte limit; maxChunks is the soft upper bound on concurrently
// open chunks. Recovery runs synchronously as part of Open.
func Open(ctx context.Context, rootDir string, chunkSize, maxChunks uint64, opts ...Option) (*Log, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.fs == nil {
		o.fs = device.NewOS()
	}

	openID := uuid.NewString()
	logger := logging.Default(o.logger).With("component", "walog", "open_id", openID)

	store, err := logstore.Open(o.fs, rootDir, chunkSize, maxChunks, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("log opened", "root_dir", rootDir, "chunk_size", chunkSize, "max_chunks", maxChunks)
	return &Log{store: store, logger: logger, openID: openID}, nil
}

// Push appends payload and returns its assigned entry index.
func (l *Log) Push(ctx context.Context, payload []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return l.store.Push(payload)
}

// Pop returns the next unread entry in push order. ok is false if the log
// has no more entries up to its durable tail.
func (l *Log) Pop(ctx context.Context) (index uint64, payload []byte, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, false, err
	}
	return l.store.Pop()
}

// Ack advances the ack watermark to the current read position and reclaims
// any chunks that become fully exhausted as a result.
func (l *Log) Ack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.store.Ack()
}

// Revert resets the read cursor back to the ack watermark.
func (l *Log) Revert(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.store.Revert()
}

// Close fsyncs the write-active chunk, then closes every open chunk handle.
// When recovery left more than one chunk open (an unfinished earlier chunk
// alongside the write-active one), their close calls run concurrently via
// errgroup; a context cancellation does not abort an in-flight close, it
// only stops new ones from starting.
func (l *Log) Close(ctx context.Context) error {
	if err := l.store.FlushWriteActive(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range l.store.Closers() {
		c := c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return c.Close()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := l.store.ReleaseLock(); err != nil {
		return err
	}
	l.logger.Info("log closed")
	return nil
}

// Stat returns a read-only snapshot of the log's current state.
func (l *Log) Stat() Stats {
	return l.store.Stat()
}
