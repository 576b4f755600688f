// Package wal implements a file-backed, append-only, segmented
// write-ahead log for in-flight messages, supporting crash recovery via
// GetPending.
package wal

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"hie/internal/apperror"
)

const (
	// DefaultMaxSegmentBytes rotates to a new segment once the active one
	// exceeds this size.
	DefaultMaxSegmentBytes = 64 * 1024 * 1024
	// DefaultMaxRetries bounds how many times Fail permits a retry before
	// an entry becomes terminally Failed.
	DefaultMaxRetries = 3
	// batchedSyncInterval is the fsync period used by SyncFsyncBatched.
	batchedSyncInterval = 200 * time.Millisecond
)

// Options configures a WAL.
type Options struct {
	Directory       string
	SyncMode        SyncMode
	MaxSegmentBytes int64
	MaxRetries      int
}

// DefaultOptions returns sane defaults for directory-only callers.
func DefaultOptions(directory string) Options {
	return Options{
		Directory:       directory,
		SyncMode:        SyncFsync,
		MaxSegmentBytes: DefaultMaxSegmentBytes,
		MaxRetries:      DefaultMaxRetries,
	}
}

// WAL is a segmented, append-only write-ahead log.
type WAL struct {
	opts Options

	mu          sync.Mutex
	activeIdx   int
	activeFile  *os.File
	activeBuf   *bufio.Writer
	activeSize  int64
	nextSeq     int64
	closeBatch  chan struct{}
	batchWG     sync.WaitGroup
	pendingSync bool
}

// New opens (or creates) a WAL rooted at opts.Directory, scanning existing
// segments to recover the next sequence number.
func New(opts Options) (*WAL, error) {
	if opts.MaxSegmentBytes <= 0 {
		opts.MaxSegmentBytes = DefaultMaxSegmentBytes
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.SyncMode == "" {
		opts.SyncMode = SyncFsync
	}

	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeFatal, "failed to create WAL directory")
	}

	indices, err := listSegments(opts.Directory)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeFatal, "failed to list WAL segments")
	}

	var maxSeq int64
	activeIdx := 0
	if len(indices) > 0 {
		activeIdx = indices[len(indices)-1]
		for _, idx := range indices {
			entries, err := readSegment(segmentPath(opts.Directory, idx))
			if err != nil {
				return nil, apperror.Wrap(err, apperror.CodeFatal, "failed to read WAL segment")
			}
			for _, e := range entries {
				if e.Sequence > maxSeq {
					maxSeq = e.Sequence
				}
			}
		}
	}

	f, err := os.OpenFile(segmentPath(opts.Directory, activeIdx), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeFatal, "failed to open active WAL segment")
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, apperror.Wrap(err, apperror.CodeFatal, "failed to stat active WAL segment")
	}

	w := &WAL{
		opts:       opts,
		activeIdx:  activeIdx,
		activeFile: f,
		activeBuf:  bufio.NewWriter(f),
		activeSize: info.Size(),
		nextSeq:    maxSeq + 1,
	}

	if opts.SyncMode == SyncFsyncBatched {
		w.closeBatch = make(chan struct{})
		w.batchWG.Add(1)
		go w.batchSyncLoop()
	}

	return w, nil
}

func (w *WAL) batchSyncLoop() {
	defer w.batchWG.Done()
	ticker := time.NewTicker(batchedSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.closeBatch:
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.pendingSync {
				_ = w.activeBuf.Flush()
				_ = w.activeFile.Sync()
				w.pendingSync = false
			}
			w.mu.Unlock()
		}
	}
}

// Close flushes and closes the active segment, stopping any batched sync
// goroutine.
func (w *WAL) Close() error {
	if w.closeBatch != nil {
		close(w.closeBatch)
		w.batchWG.Wait()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.activeBuf.Flush(); err != nil {
		return err
	}
	return w.activeFile.Close()
}

// Append allocates a strictly increasing sequence number and records a new
// Pending entry. It is fsynced before returning only under SyncFsync;
// SyncFsyncBatched flushes it to the OS and fsyncs on the next batch tick,
// and SyncNone leaves it in the write buffer.
func (w *WAL) Append(hostName, messageID string, payload []byte, metadata map[string]string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := &Entry{
		ID:        uuid.NewString(),
		Sequence:  w.nextSeq,
		Timestamp: time.Now().UTC(),
		State:     StatePending,
		HostName:  hostName,
		MessageID: messageID,
		Payload:   payload,
		Metadata:  metadata,
	}
	w.nextSeq++

	if err := w.writeLocked(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Complete appends a Completed record for the entry identified by prior.
func (w *WAL) Complete(prior *Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := *prior
	next.Sequence = w.nextSeq
	next.Timestamp = time.Now().UTC()
	next.State = StateCompleted
	w.nextSeq++

	return w.writeLocked(&next)
}

// Fail appends a Failed-state record for the entry identified by prior,
// incrementing its retry count. It reports whether the caller should retry
// (true while RetryCount < MaxRetries; the entry becomes terminally Failed
// once the budget is exhausted).
func (w *WAL) Fail(prior *Entry, cause error) (shouldRetry bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := *prior
	next.Sequence = w.nextSeq
	next.Timestamp = time.Now().UTC()
	next.RetryCount = prior.RetryCount + 1
	if cause != nil {
		next.Error = cause.Error()
	}
	w.nextSeq++

	shouldRetry = next.RetryCount < w.opts.MaxRetries
	// State is Failed regardless; shouldRetry tells the caller whether to
	// re-append a fresh Pending entry for the retried attempt.
	next.State = StateFailed

	if err := w.writeLocked(&next); err != nil {
		return false, err
	}
	return shouldRetry, nil
}

// writeLocked encodes entry as one JSON line, rotating the active segment
// first if it has grown past MaxSegmentBytes. Caller must hold w.mu.
func (w *WAL) writeLocked(entry *Entry) error {
	if w.activeSize >= w.opts.MaxSegmentBytes {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeFatal, "failed to encode WAL entry")
	}
	line = append(line, '\n')

	n, err := w.activeBuf.Write(line)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeFatal, "failed to write WAL entry")
	}
	w.activeSize += int64(n)

	switch w.opts.SyncMode {
	case SyncNone:
		return nil
	case SyncFsyncBatched:
		if err := w.activeBuf.Flush(); err != nil {
			return apperror.Wrap(err, apperror.CodeFatal, "failed to flush WAL entry")
		}
		w.pendingSync = true
		return nil
	default: // SyncFsync
		if err := w.activeBuf.Flush(); err != nil {
			return apperror.Wrap(err, apperror.CodeFatal, "failed to flush WAL entry")
		}
		if err := w.activeFile.Sync(); err != nil {
			return apperror.Wrap(err, apperror.CodeFatal, "failed to fsync WAL entry")
		}
		return nil
	}
}

// rotateLocked closes the active segment and opens the next one. Caller
// must hold w.mu.
func (w *WAL) rotateLocked() error {
	if err := w.activeBuf.Flush(); err != nil {
		return err
	}
	if err := w.activeFile.Close(); err != nil {
		return err
	}

	w.activeIdx++
	f, err := os.OpenFile(segmentPath(w.opts.Directory, w.activeIdx), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeFatal, "failed to open rotated WAL segment")
	}
	w.activeFile = f
	w.activeBuf = bufio.NewWriter(f)
	w.activeSize = 0
	return nil
}

// GetPending scans every segment and returns, for each entry ID, its most
// recent record — filtered to those still in the Pending state. Intended
// to be called once at startup to requeue in-flight work after a crash.
func (w *WAL) GetPending() ([]*Entry, error) {
	w.mu.Lock()
	if err := w.activeBuf.Flush(); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	indices, err := listSegments(w.opts.Directory)
	w.mu.Unlock()
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeFatal, "failed to list WAL segments")
	}

	latest := make(map[string]*Entry)
	order := make([]string, 0)
	for _, idx := range indices {
		entries, err := readSegment(segmentPath(w.opts.Directory, idx))
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeFatal, "failed to read WAL segment")
		}
		for i := range entries {
			e := entries[i]
			if _, seen := latest[e.ID]; !seen {
				order = append(order, e.ID)
			}
			latest[e.ID] = &e
		}
	}

	pending := make([]*Entry, 0)
	for _, id := range order {
		if e := latest[id]; e.State == StatePending {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

// Compact removes every segment whose entries are all terminal (Completed
// or Failed), keeping the active segment untouched. Returns the number of
// segments removed.
func (w *WAL) Compact() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	indices, err := listSegments(w.opts.Directory)
	if err != nil {
		return 0, apperror.Wrap(err, apperror.CodeFatal, "failed to list WAL segments")
	}

	// Determine the latest state per ID across ALL segments first, so a
	// Pending record in an older segment isn't mistaken for terminal just
	// because that segment alone doesn't show the later Completed record.
	latestByID := make(map[string]State)
	perSegmentIDs := make(map[int][]string)
	for _, idx := range indices {
		entries, err := readSegment(segmentPath(w.opts.Directory, idx))
		if err != nil {
			return 0, apperror.Wrap(err, apperror.CodeFatal, "failed to read WAL segment")
		}
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			latestByID[e.ID] = e.State
			ids = append(ids, e.ID)
		}
		perSegmentIDs[idx] = ids
	}

	removed := 0
	for _, idx := range indices {
		if idx == w.activeIdx {
			continue
		}
		allTerminal := true
		for _, id := range perSegmentIDs[idx] {
			if latestByID[id] == StatePending {
				allTerminal = false
				break
			}
		}
		if allTerminal {
			if err := os.Remove(segmentPath(w.opts.Directory, idx)); err != nil && !os.IsNotExist(err) {
				return removed, apperror.Wrap(err, apperror.CodeFatal, "failed to remove terminal WAL segment")
			}
			removed++
		}
	}
	return removed, nil
}
