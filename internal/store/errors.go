package store

import "errors"

// ErrKeyNotFound is returned by Get and Delete for an absent key. This is
// an expected outcome, never logged above Debug.
var ErrKeyNotFound = errors.New("store: key not found")

// ErrDirectoryLocked is returned by Open when another process already
// holds the storage directory's lock.
var ErrDirectoryLocked = errors.New("store: storage directory locked by another process")

// ErrFatalIO wraps an I/O failure that leaves the index and on-disk state
// potentially inconsistent. Callers must treat this as unrecoverable and
// terminate rather than keep serving requests against the Store.
var ErrFatalIO = errors.New("store: fatal I/O error")
