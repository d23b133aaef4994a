// Package store implements the Segment Store: the append-only segment
// files, the in-memory index over them, and the insert/get/delete/merge
// operations that make up the storage engine. A Store has exactly one
// owner — callers are responsible for serializing access (the event loop
// does this by construction, being the only caller).
package store

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/abhiw/bitcask/internal/index"
	"github.com/abhiw/bitcask/internal/lock"
	"github.com/abhiw/bitcask/internal/record"
	"github.com/abhiw/bitcask/internal/utils"
)

// Store owns a storage directory: its active append file, its sealed
// segments, and the in-memory key→location index rebuilt from them.
type Store struct {
	dir string

	active     *os.File
	activeID   int
	activeSize int64

	sealedIDs     []int // ascending, excludes activeID
	nextSegmentID int   // next file_id to allocate, always > any id seen so far

	idx *index.Index

	maxSegmentBytes int64
	logger          *zap.Logger

	lockFile *os.File

	opCount uint64
}

// Open recovers (or initializes) the storage directory at dir and returns
// a ready-to-use Store. Open fails fast if another process already holds
// the directory's lock.
func Open(dir string, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	fresh := !utils.PathExists(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	cfg.Logger.Debug("opening storage directory", zap.String("dir", dir), zap.Bool("fresh", fresh))

	lockFile, err := lock.LockDirectory(dir)
	if err != nil {
		return nil, ErrDirectoryLocked
	}

	s := &Store{
		dir:             dir,
		idx:             index.New(),
		maxSegmentBytes: cfg.MaxSegmentBytes,
		logger:          cfg.Logger,
		lockFile:        lockFile,
	}

	if err := s.recover(); err != nil {
		lock.UnlockDirectory(lockFile)
		return nil, err
	}

	return s, nil
}

// Close flushes and releases the active segment and the directory lock.
// The Store must not be used after Close returns.
func (s *Store) Close() error {
	var err error
	if s.active != nil {
		err = s.active.Close()
	}
	lock.UnlockDirectory(s.lockFile)
	return err
}

// Insert writes a new record for key/value, rotating the active segment
// first if it would overflow. A repeat insert of an existing key replaces
// its index entry; the prior on-disk record becomes garbage for a future
// merge.
func (s *Store) Insert(key, value []byte) error {
	ts := time.Now().Unix()
	rec := record.New(key, value, ts)
	return s.append(key, rec)
}

// Delete appends a tombstone for key and removes it from the index.
// Deleting an absent key is reported via ErrKeyNotFound and writes
// nothing.
func (s *Store) Delete(key []byte) error {
	if _, ok := s.idx.Get(string(key)); !ok {
		return ErrKeyNotFound
	}

	ts := time.Now().Unix()
	rec := record.NewTombstone(key, ts)

	encoded := record.Encode(rec)
	if err := s.rotateIfNeeded(int64(len(encoded))); err != nil {
		return fmt.Errorf("%w: delete: rotate: %v", ErrFatalIO, err)
	}
	if err := s.writeActive(encoded); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrFatalIO, err)
	}

	s.idx.Delete(string(key))
	s.opCount++
	return nil
}

// Get returns the current value for key, or ErrKeyNotFound if absent. A
// read failure once the index entry is resolved is fatal: the index and
// disk have diverged.
func (s *Store) Get(key []byte) ([]byte, error) {
	entry, ok := s.idx.Get(string(key))
	if !ok {
		return nil, ErrKeyNotFound
	}

	value, err := s.readValue(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrFatalIO, err)
	}
	return value, nil
}

// append writes rec under key, rotating first if needed, and updates the
// index to point at the freshly-written bytes.
func (s *Store) append(key []byte, rec *record.Record) error {
	encoded := record.Encode(rec)

	if err := s.rotateIfNeeded(int64(len(encoded))); err != nil {
		return fmt.Errorf("%w: rotate: %v", ErrFatalIO, err)
	}

	off := s.activeSize
	if err := s.writeActive(encoded); err != nil {
		return fmt.Errorf("%w: append: %v", ErrFatalIO, err)
	}

	valuePos := off + int64(record.HeaderSize) + int64(len(key))
	s.idx.Set(string(key), index.Entry{
		FileID:        s.activeID,
		ValuePosition: valuePos,
		ValueSize:     uint32(len(rec.Value)),
		Timestamp:     rec.Timestamp,
	})
	s.opCount++
	return nil
}

// writeActive appends buf to the active segment and advances activeSize.
func (s *Store) writeActive(buf []byte) error {
	n, err := s.active.Write(buf)
	if err != nil {
		return err
	}
	s.activeSize += int64(n)
	return nil
}

// rotateIfNeeded seals the active segment and opens a fresh one if
// appending addBytes would push it past maxSegmentBytes.
func (s *Store) rotateIfNeeded(addBytes int64) error {
	if s.activeSize+addBytes <= s.maxSegmentBytes {
		return nil
	}
	return s.rotate()
}

// rotate seals the current active segment (fsync + close) and opens a new
// one at the next monotonic file_id.
func (s *Store) rotate() error {
	if err := s.active.Sync(); err != nil {
		return err
	}
	if err := s.active.Close(); err != nil {
		return err
	}

	s.sealedIDs = append(s.sealedIDs, s.activeID)

	newID := s.allocateSegmentID()
	f, err := openActive(s.dir, newID)
	if err != nil {
		return err
	}

	s.logger.Debug("rotated active segment",
		zap.Int("sealed_id", s.activeID), zap.Int("new_active_id", newID))

	s.active = f
	s.activeID = newID
	s.activeSize = 0
	return nil
}

func (s *Store) allocateSegmentID() int {
	id := s.nextSegmentID
	s.nextSegmentID++
	return id
}

// readValue resolves an index entry to its value bytes, reusing the open
// active file handle when possible and opening sealed segments on demand.
func (s *Store) readValue(entry index.Entry) ([]byte, error) {
	var f *os.File
	if entry.FileID == s.activeID {
		f = s.active
	} else {
		opened, err := openSealed(s.dir, entry.FileID)
		if err != nil {
			return nil, err
		}
		defer opened.Close()
		f = opened
	}

	buf := make([]byte, entry.ValueSize)
	if _, err := f.ReadAt(buf, entry.ValuePosition); err != nil {
		return nil, err
	}
	return buf, nil
}

// Stats summarizes the Store's on-disk and in-memory state.
type Stats struct {
	Segments int
	Bytes    int64
	Entries  int
	Ops      uint64
}

// Stats computes a snapshot of the Store's current size and activity. It
// also logs (at Debug) an estimate of the sealed-segment garbage ratio,
// purely informational — it never gates whether Merge runs.
func (s *Store) Stats() (Stats, error) {
	stats := Stats{
		Segments: len(s.sealedIDs) + 1,
		Entries:  s.idx.Len(),
		Ops:      s.opCount,
	}

	stats.Bytes += s.activeSize
	for _, id := range s.sealedIDs {
		info, err := os.Stat(segmentPath(s.dir, id))
		if err != nil {
			return Stats{}, fmt.Errorf("%w: stats: %v", ErrFatalIO, err)
		}
		stats.Bytes += info.Size()
	}

	s.logGarbageRatio(stats)
	return stats, nil
}

func (s *Store) logGarbageRatio(stats Stats) {
	if len(s.sealedIDs) == 0 {
		return
	}

	sealedSet := make(map[int]bool, len(s.sealedIDs))
	for _, id := range s.sealedIDs {
		sealedSet[id] = true
	}

	var liveBytes int64
	s.idx.Each(func(key string, e index.Entry) {
		if sealedSet[e.FileID] {
			liveBytes += int64(record.HeaderSize) + int64(len(key)) + int64(e.ValueSize)
		}
	})

	var sealedBytes int64
	for _, id := range s.sealedIDs {
		info, err := os.Stat(segmentPath(s.dir, id))
		if err == nil {
			sealedBytes += info.Size()
		}
	}

	if sealedBytes == 0 {
		return
	}

	ratio := 1 - float64(liveBytes)/float64(sealedBytes)
	level := "below_min"
	switch {
	case ratio >= MaxGarbageRatio:
		level = "above_max"
	case ratio >= DefaultGarbageRatio:
		level = "above_default"
	case ratio >= MinGarbageRatio:
		level = "above_min"
	}

	s.logger.Debug("sealed segment garbage ratio",
		zap.Float64("ratio", ratio), zap.String("band", level),
		zap.Int64("sealed_bytes", sealedBytes), zap.Int64("live_bytes", liveBytes))
}
