package index

import "testing"

func TestSetGetDelete(t *testing.T) {
	idx := New()

	idx.Set("k", Entry{FileID: 0, ValuePosition: 20, ValueSize: 3, Timestamp: 100})

	entry, ok := idx.Get("k")
	if !ok {
		t.Fatalf("expected entry to be present")
	}
	if entry.FileID != 0 || entry.ValuePosition != 20 || entry.ValueSize != 3 || entry.Timestamp != 100 {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	idx.Delete("k")
	if _, ok := idx.Get("k"); ok {
		t.Fatalf("expected entry to be gone after delete")
	}
}

func TestSetReplacesExistingEntry(t *testing.T) {
	idx := New()
	idx.Set("k", Entry{FileID: 0, Timestamp: 1})
	idx.Set("k", Entry{FileID: 1, Timestamp: 2})

	entry, _ := idx.Get("k")
	if entry.FileID != 1 || entry.Timestamp != 2 {
		t.Fatalf("expected latest entry to win, got %+v", entry)
	}
}

func TestLenAndEach(t *testing.T) {
	idx := New()
	idx.Set("a", Entry{FileID: 0})
	idx.Set("b", Entry{FileID: 1})

	if idx.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", idx.Len())
	}

	seen := map[string]bool{}
	idx.Each(func(key string, e Entry) { seen[key] = true })
	if !seen["a"] || !seen["b"] {
		t.Fatalf("Each did not visit all keys: %v", seen)
	}
}

func TestDeleteAbsentKeyIsNoOp(t *testing.T) {
	idx := New()
	idx.Delete("missing")
	if idx.Len() != 0 {
		t.Fatalf("expected empty index")
	}
}
