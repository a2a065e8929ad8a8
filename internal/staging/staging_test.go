package staging

import (
	"testing"
)

// TestLog_AddSameStage verifies that independent keys batch into one stage
func TestLog_AddSameStage(t *testing.T) {
	l := NewLog[string]()

	l.Add("a", []byte{1})
	l.Add("b", []byte{1, 2})

	if l.StageCount() != 1 {
		t.Fatalf("expected 1 stage, got %d", l.StageCount())
	}
	stage, _ := l.Oldest()
	if stage.Len() != 2 {
		t.Errorf("expected 2 changes in the stage, got %d", stage.Len())
	}
}

// TestLog_ConflictOpensNewStage verifies per-key conflict steering
func TestLog_ConflictOpensNewStage(t *testing.T) {
	l := NewLog[string]()

	l.Add("a", []byte{1})
	l.Remove("a")

	if l.StageCount() != 2 {
		t.Fatalf("expected 2 stages, got %d", l.StageCount())
	}

	ch, ok := l.Resolve("a")
	if !ok {
		t.Fatal("expected a to resolve")
	}
	if ch.Op != OpRemove {
		t.Errorf("expected the newer Remove to win, got op %d", ch.Op)
	}
}

// TestLog_ResolveNewestWins verifies newest-to-oldest resolution
func TestLog_ResolveNewestWins(t *testing.T) {
	l := NewLog[string]()

	l.Add("a", []byte{1})
	l.Add("a", []byte{2})
	l.Add("a", []byte{3})

	if l.StageCount() != 3 {
		t.Fatalf("expected 3 stages, got %d", l.StageCount())
	}
	ch, ok := l.Resolve("a")
	if !ok || len(ch.Data) != 1 || ch.Data[0] != 3 {
		t.Errorf("expected newest data [3], got %v (found=%v)", ch.Data, ok)
	}
}

// TestLog_RemoveAll verifies tombstone synthesis and universal masking
func TestLog_RemoveAll(t *testing.T) {
	l := NewLog[string]()

	l.Add("a", []byte{1})
	l.Add("b", []byte{2})
	l.RemoveAll()

	if l.StageCount() != 2 {
		t.Fatalf("expected 2 stages, got %d", l.StageCount())
	}
	last := l.Stages()[1]
	if !last.RemoveAll {
		t.Fatal("expected last stage to be removeAll")
	}
	if last.Len() != 2 {
		t.Errorf("expected synthesized removes for a and b, got %d changes", last.Len())
	}

	// A key never staged is still masked.
	ch, ok := l.Resolve("never-stored")
	if !ok || ch.Op != OpRemove {
		t.Errorf("expected universal tombstone, got %v (found=%v)", ch, ok)
	}

	// A write after removeAll conflicts and opens a fresh stage.
	l.Add("a", []byte{9})
	if l.StageCount() != 3 {
		t.Fatalf("expected 3 stages after post-clear write, got %d", l.StageCount())
	}
	ch, ok = l.Resolve("a")
	if !ok || ch.Op != OpAdd {
		t.Errorf("expected the newer Add to win over the tombstone")
	}
}

// TestLog_Flushed verifies acknowledgement, stage removal, and the
// id-mismatch no-op
func TestLog_Flushed(t *testing.T) {
	l := NewLog[string]()

	l.Add("a", []byte{1})
	l.Add("b", []byte{2})
	stage, _ := l.Oldest()
	snapshot := stage.Changes()

	l.Flushed(stage.ID, snapshot)

	if !l.Empty() {
		t.Fatalf("expected empty log after full ack, got %d stages", l.StageCount())
	}
}

func TestLog_FlushedSupersededChange(t *testing.T) {
	l := NewLog[string]()

	l.Add("a", []byte{1})
	stage, _ := l.Oldest()
	snapshot := stage.Changes()

	// Supersede within the same stage before the ack lands. The staged id
	// no longer matches the snapshot, so the ack must not remove it.
	l.Add("b", []byte{2})
	stage.changes["a"] = &Change[string]{Key: "a", ID: 99, Op: OpAdd, Data: []byte{9}}

	l.Flushed(stage.ID, snapshot)

	ch, ok := l.Resolve("a")
	if !ok || ch.ID != 99 {
		t.Errorf("expected the superseding change to survive the stale ack")
	}
}

func TestLog_FlushedUnknownStage(t *testing.T) {
	l := NewLog[string]()
	l.Add("a", []byte{1})

	l.Flushed(42, nil)

	if l.Empty() {
		t.Error("ack for an unknown stage must be a no-op")
	}
}

// TestLog_MonotonicIDs verifies stage ids strictly increase and change ids
// are positive and unique
func TestLog_MonotonicIDs(t *testing.T) {
	l := NewLog[string]()

	l.Add("a", nil)
	l.Remove("a")
	l.RemoveAll()

	var lastStage int64
	seen := make(map[int64]bool)
	for _, s := range l.Stages() {
		if s.ID <= lastStage {
			t.Errorf("stage ids not strictly increasing: %d after %d", s.ID, lastStage)
		}
		lastStage = s.ID
		for _, c := range s.Changes() {
			if c.ID <= 0 {
				t.Errorf("invalid change id %d", c.ID)
			}
			if seen[c.ID] {
				t.Errorf("duplicate change id %d", c.ID)
			}
			seen[c.ID] = true
		}
	}
}

// TestLog_EmptyPayloadRoundTrip verifies empty bytes are a valid payload
func TestLog_EmptyPayloadRoundTrip(t *testing.T) {
	l := NewLog[string]()

	l.Add("empty", []byte{})

	ch, ok := l.Resolve("empty")
	if !ok || ch.Op != OpAdd {
		t.Fatal("expected staged add for empty payload")
	}
	if ch.Data == nil || len(ch.Data) != 0 {
		t.Errorf("expected empty non-nil payload, got %v", ch.Data)
	}
}
