package store

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/abhiw/bitcask/internal/index"
	"github.com/abhiw/bitcask/internal/record"
	"github.com/abhiw/bitcask/internal/utils"
)

// recover rebuilds the index from whatever segments already exist in
// s.dir, then opens (or creates) the active segment. Called once from
// Open.
func (s *Store) recover() error {
	ids, err := listSegmentIDs(s.dir)
	if err != nil {
		return fmt.Errorf("%w: recover: list segments: %v", ErrFatalIO, err)
	}

	for _, id := range ids {
		if err := s.recoverSegment(id); err != nil {
			return fmt.Errorf("%w: recover segment %d: %v", ErrFatalIO, id, err)
		}
	}

	if len(ids) == 0 {
		s.nextSegmentID = 1
		f, err := openActive(s.dir, 0)
		if err != nil {
			return fmt.Errorf("%w: create initial segment: %v", ErrFatalIO, err)
		}
		s.active = f
		s.activeID = 0
		s.activeSize = 0
		return nil
	}

	s.nextSegmentID = ids[len(ids)-1] + 1
	highest := ids[len(ids)-1]

	info, err := os.Stat(segmentPath(s.dir, highest))
	if err != nil {
		return fmt.Errorf("%w: stat highest segment: %v", ErrFatalIO, err)
	}

	if info.Size() < s.maxSegmentBytes {
		f, err := openActive(s.dir, highest)
		if err != nil {
			return fmt.Errorf("%w: reopen active segment: %v", ErrFatalIO, err)
		}
		s.active = f
		s.activeID = highest
		s.activeSize = info.Size()
		s.sealedIDs = ids[:len(ids)-1]
		return nil
	}

	s.sealedIDs = ids
	newID := s.allocateSegmentID()
	f, err := openActive(s.dir, newID)
	if err != nil {
		return fmt.Errorf("%w: create new active segment: %v", ErrFatalIO, err)
	}
	s.active = f
	s.activeID = newID
	s.activeSize = 0
	return nil
}

// recoverSegment decodes id's records sequentially, applying each to the
// index, and truncates the file on disk at the first corrupt or
// short-read boundary.
func (s *Store) recoverSegment(id int) error {
	path := segmentPath(s.dir, id)

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	var offset int64
	for {
		rec, n, err := record.DecodeOne(f)
		if err == record.ErrEndOfSegment {
			break
		}
		if err == record.ErrCorrupt {
			s.logger.Warn("truncating corrupt segment tail",
				zap.Int("file_id", id), zap.Int64("offset", offset))
			if truncErr := utils.TruncateAt(f, offset); truncErr != nil {
				return truncErr
			}
			break
		}
		if err != nil {
			return err
		}

		s.applyRecovered(id, rec, offset)
		offset += int64(n)
	}

	return nil
}

// applyRecovered mutates the index for a single record decoded during
// recovery: a live record sets/replaces its key's entry, a tombstone
// removes it.
func (s *Store) applyRecovered(fileID int, rec *record.Record, recordOffset int64) {
	key := string(rec.Key)

	if rec.IsTombstone() {
		s.idx.Delete(key)
		return
	}

	valuePos := recordOffset + int64(record.HeaderSize) + int64(len(rec.Key))
	s.idx.Set(key, index.Entry{
		FileID:        fileID,
		ValuePosition: valuePos,
		ValueSize:     rec.ValueSize,
		Timestamp:     rec.Timestamp,
	})
}
