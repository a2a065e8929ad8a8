// Package staging implements the ordered layers of pending disk changes.
// Each stage batches mutations that share a causal frontier; a new stage
// opens whenever a further mutation would conflict with entries already
// pending, which preserves per-key causal order across flushes.
package staging

// Op is the kind of a staged change.
type Op uint8

const (
	// OpAdd stages a write of the change's data.
	OpAdd Op = iota
	// OpRemove stages a deletion, acting as a tombstone until flushed.
	OpRemove
)

// Change is a single staged mutation for one key.
type Change[K comparable] struct {
	Key  K
	ID   int64
	Op   Op
	Data []byte
}

// Stage is a batch of changes with at most one change per key. A stage
// with RemoveAll set masks every key, including keys it has no explicit
// change for.
type Stage[K comparable] struct {
	ID        int64
	RemoveAll bool
	changes   map[K]*Change[K]
}

// Changes returns the stage's changes in unspecified order.
func (s *Stage[K]) Changes() []*Change[K] {
	out := make([]*Change[K], 0, len(s.changes))
	for _, c := range s.changes {
		out = append(out, c)
	}
	return out
}

// Len returns the number of changes in the stage.
func (s *Stage[K]) Len() int { return len(s.changes) }

// Get returns the stage's change for key, if any.
func (s *Stage[K]) Get(key K) (*Change[K], bool) {
	c, ok := s.changes[key]
	return c, ok
}

// Log is the ordered sequence of stages, oldest first. It is not locked;
// the disk tier serializes access to it.
type Log[K comparable] struct {
	stages       []*Stage[K]
	nextStageID  int64
	nextChangeID int64
}

// NewLog creates an empty staging log.
func NewLog[K comparable]() *Log[K] {
	return &Log[K]{nextStageID: 1, nextChangeID: 1}
}

// Add stages a write of data under key. A write that conflicts with
// pending entries opens a new stage.
func (l *Log[K]) Add(key K, data []byte) {
	l.stage(key).changes[key] = &Change[K]{Key: key, ID: l.changeID(), Op: OpAdd, Data: data}
}

// Remove stages a deletion of key.
func (l *Log[K]) Remove(key K) {
	l.stage(key).changes[key] = &Change[K]{Key: key, ID: l.changeID(), Op: OpRemove}
}

// RemoveAll appends a stage that masks every key and carries a synthesized
// removal for each key currently observed in the log.
func (l *Log[K]) RemoveAll() {
	seen := make(map[K]struct{})
	for _, s := range l.stages {
		for key := range s.changes {
			seen[key] = struct{}{}
		}
	}

	s := l.appendStage()
	s.RemoveAll = true
	for key := range seen {
		s.changes[key] = &Change[K]{Key: key, ID: l.changeID(), Op: OpRemove}
	}
}

// Resolve returns the most recent pending change for key, scanning stages
// newest to oldest. A RemoveAll stage resolves every key to a tombstone.
func (l *Log[K]) Resolve(key K) (*Change[K], bool) {
	for i := len(l.stages) - 1; i >= 0; i-- {
		s := l.stages[i]
		if c, ok := s.changes[key]; ok {
			return c, true
		}
		if s.RemoveAll {
			return &Change[K]{Key: key, Op: OpRemove}, true
		}
	}
	return nil, false
}

// Flushed removes the reported changes from the stage with the given id,
// dropping the stage once empty. A change whose id no longer matches the
// staged one was superseded after the flush snapshot; it is left alone.
func (l *Log[K]) Flushed(stageID int64, changes []*Change[K]) {
	idx := -1
	for i, s := range l.stages {
		if s.ID == stageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	s := l.stages[idx]
	for _, c := range changes {
		if cur, ok := s.changes[c.Key]; ok && cur.ID == c.ID {
			delete(s.changes, c.Key)
		}
	}
	if len(s.changes) == 0 {
		l.stages = append(l.stages[:idx], l.stages[idx+1:]...)
	}
}

// Oldest returns the oldest stage, if any.
func (l *Log[K]) Oldest() (*Stage[K], bool) {
	if len(l.stages) == 0 {
		return nil, false
	}
	return l.stages[0], true
}

// StageCount returns the number of pending stages.
func (l *Log[K]) StageCount() int { return len(l.stages) }

// ChangeCount returns the total number of pending changes across stages.
func (l *Log[K]) ChangeCount() int {
	n := 0
	for _, s := range l.stages {
		n += len(s.changes)
	}
	return n
}

// Empty reports whether no stages are pending.
func (l *Log[K]) Empty() bool { return len(l.stages) == 0 }

// Stages returns the pending stages, oldest first.
func (l *Log[K]) Stages() []*Stage[K] { return l.stages }

// conflicts reports whether a new change for key must open a fresh stage:
// the last stage is a RemoveAll batch or already holds a change for key.
func (l *Log[K]) conflicts(key K) bool {
	if len(l.stages) == 0 {
		return false
	}
	last := l.stages[len(l.stages)-1]
	if last.RemoveAll {
		return true
	}
	_, ok := last.changes[key]
	return ok
}

// stage returns the stage that should accept a new change for key.
func (l *Log[K]) stage(key K) *Stage[K] {
	if len(l.stages) == 0 || l.conflicts(key) {
		return l.appendStage()
	}
	return l.stages[len(l.stages)-1]
}

func (l *Log[K]) appendStage() *Stage[K] {
	s := &Stage[K]{ID: l.nextStageID, changes: make(map[K]*Change[K])}
	l.nextStageID++
	l.stages = append(l.stages, s)
	return s
}

func (l *Log[K]) changeID() int64 {
	id := l.nextChangeID
	l.nextChangeID++
	return id
}
