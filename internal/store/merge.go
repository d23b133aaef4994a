package store

import (
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/abhiw/bitcask/internal/index"
	"github.com/abhiw/bitcask/internal/record"
)

type liveRecord struct {
	key   string
	value []byte
	ts    int64
}

// Merge rewrites every sealed segment that existed when Merge started
// into one or more fresh segments holding exactly the latest live record
// per key, then deletes the originals. The active segment at the time
// Merge is called is never read or rewritten by this pass — it is simply
// sealed in place once the merged output is durable, so its records
// remain eligible for a future merge without ever having been touched by
// this one.
//
// A read or write failure partway through merging is non-fatal: Merge
// abandons the attempt, leaving the index and on-disk segments exactly as
// they were. The next Merge call retries from scratch.
func (s *Store) Merge() error {
	sealedBefore := append([]int(nil), s.sealedIDs...)
	if len(sealedBefore) == 0 {
		return nil
	}

	sealedSet := make(map[int]bool, len(sealedBefore))
	for _, id := range sealedBefore {
		sealedSet[id] = true
	}

	live, err := s.collectLive(sealedSet)
	if err != nil {
		return fmt.Errorf("store: merge: %w", err)
	}

	writtenIDs, rewrites, err := s.writeMergedSegments(live)
	if err != nil {
		s.abortPartialMerge(writtenIDs)
		return fmt.Errorf("store: merge: %w", err)
	}

	oldActiveID, err := s.promoteMergedSegments(writtenIDs)
	if err != nil {
		s.abortPartialMerge(writtenIDs)
		return fmt.Errorf("store: merge: %w", err)
	}

	for key, entry := range rewrites {
		s.idx.Set(key, entry)
	}

	for _, id := range sealedBefore {
		if err := os.Remove(segmentPath(s.dir, id)); err != nil {
			s.logger.Warn("failed to remove merged-away segment",
				zap.Int("file_id", id), zap.Error(err))
		}
	}

	s.sealedIDs = append(writtenIDs, oldActiveID)
	sort.Ints(s.sealedIDs)

	s.logger.Info("merge complete",
		zap.Int("segments_removed", len(sealedBefore)),
		zap.Int("segments_written", len(writtenIDs)))

	return nil
}

// collectLive gathers the latest value for every key whose index entry
// currently points into a segment being merged away. A read failure for
// any such entry aborts the whole collection: that entry's record lives
// only in a segment this merge is about to delete, so losing it here
// would mean losing the key entirely (§7 "merge failure... abandoned").
func (s *Store) collectLive(sealedSet map[int]bool) ([]liveRecord, error) {
	var live []liveRecord
	var readErr error

	s.idx.Each(func(key string, e index.Entry) {
		if readErr != nil || !sealedSet[e.FileID] {
			return
		}
		value, err := s.readValue(e)
		if err != nil {
			readErr = fmt.Errorf("read %q from segment %d: %w", key, e.FileID, err)
			return
		}
		live = append(live, liveRecord{key: key, value: value, ts: e.Timestamp})
	})
	if readErr != nil {
		return nil, readErr
	}

	sort.Slice(live, func(i, j int) bool { return live[i].key < live[j].key })
	return live, nil
}

// writeMergedSegments writes live into one or more new segment files,
// rotating at maxSegmentBytes, and returns the ids written plus the new
// index entries each key should be rewritten to.
func (s *Store) writeMergedSegments(live []liveRecord) ([]int, map[string]index.Entry, error) {
	if len(live) == 0 {
		return nil, nil, nil
	}

	rewrites := make(map[string]index.Entry, len(live))
	var writtenIDs []int

	id := s.nextSegmentID
	path := segmentPath(s.dir, id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, nil, err
	}
	writtenIDs = append(writtenIDs, id)

	var size int64
	closeCurrent := func() error {
		if err := f.Sync(); err != nil {
			return err
		}
		return f.Close()
	}

	for _, lr := range live {
		rec := record.New([]byte(lr.key), lr.value, lr.ts)
		encoded := record.Encode(rec)

		if size+int64(len(encoded)) > s.maxSegmentBytes && size > 0 {
			if err := closeCurrent(); err != nil {
				return writtenIDs, nil, err
			}
			id++
			path = segmentPath(s.dir, id)
			f, err = os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
			if err != nil {
				return writtenIDs, nil, err
			}
			writtenIDs = append(writtenIDs, id)
			size = 0
		}

		n, err := f.Write(encoded)
		if err != nil {
			return writtenIDs, nil, err
		}

		rewrites[lr.key] = index.Entry{
			FileID:        id,
			ValuePosition: size + int64(record.HeaderSize) + int64(len(lr.key)),
			ValueSize:     uint32(len(lr.value)),
			Timestamp:     lr.ts,
		}

		size += int64(n)
	}

	if err := closeCurrent(); err != nil {
		return writtenIDs, nil, err
	}

	return writtenIDs, rewrites, nil
}

// promoteMergedSegments seals the current active segment in place (its
// records untouched) and opens a fresh active segment whose file_id is
// guaranteed greater than every id written by this merge, preserving the
// "highest id is active" recovery invariant. It returns the id of the
// segment that was active before promotion, now sealed.
func (s *Store) promoteMergedSegments(writtenIDs []int) (int, error) {
	if err := s.active.Sync(); err != nil {
		return 0, err
	}
	if err := s.active.Close(); err != nil {
		return 0, err
	}

	last := s.nextSegmentID - 1
	if len(writtenIDs) > 0 {
		last = writtenIDs[len(writtenIDs)-1]
	}
	s.nextSegmentID = last + 1

	newID := s.allocateSegmentID()
	f, err := openActive(s.dir, newID)
	if err != nil {
		return 0, err
	}

	oldActiveID := s.activeID
	s.active = f
	s.activeID = newID
	s.activeSize = 0

	return oldActiveID, nil
}

// abortPartialMerge removes any new segment files written before a merge
// failed, so a retry starts clean.
func (s *Store) abortPartialMerge(writtenIDs []int) {
	for _, id := range writtenIDs {
		if err := os.Remove(segmentPath(s.dir, id)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to clean up aborted merge segment",
				zap.Int("file_id", id), zap.Error(err))
		}
	}
}
