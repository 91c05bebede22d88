package tinyvec

import (
	"fmt"
	"maps"
)

// Op is the pending change recorded for an id since the last flush.
type Op uint8

const (
	// OpAdd marks an id that is new to the store.
	OpAdd Op = iota + 1
	// OpUpdate marks an id whose stored row must be replaced.
	OpUpdate
	// OpDelete marks an id whose stored row must be removed.
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "ADD"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// changeLog collapses the mutations applied to a collection into the minimal
// set of row operations the store needs. An id has at most one entry.
//
// Block operations validate their preconditions before touching the log, so
// the panics below mark broken collection invariants, not caller errors.
type changeLog struct {
	ops map[string]Op
}

func newChangeLog() changeLog {
	return changeLog{ops: make(map[string]Op)}
}

func (l *changeLog) markAdd(id string) {
	switch cur, ok := l.ops[id]; {
	case !ok:
		l.ops[id] = OpAdd
	case cur == OpDelete:
		// The stored row still exists; only its content changes.
		l.ops[id] = OpUpdate
	default:
		panic(fmt.Sprintf("tinyvec: add of id %q logged as %s", id, cur))
	}
}

func (l *changeLog) markDelete(id string) {
	switch cur, ok := l.ops[id]; {
	case !ok:
		l.ops[id] = OpDelete
	case cur == OpAdd:
		// Never reached the store.
		delete(l.ops, id)
	case cur == OpUpdate:
		l.ops[id] = OpDelete
	default:
		panic(fmt.Sprintf("tinyvec: delete of id %q logged as %s", id, cur))
	}
}

func (l *changeLog) markUpdate(id string) {
	switch cur, ok := l.ops[id]; {
	case !ok, cur == OpDelete:
		l.ops[id] = OpUpdate
	default:
		// Add stays Add: the insert will carry the latest content.
	}
}

// forget drops the entry for id once the store has applied it.
func (l *changeLog) forget(id string) { delete(l.ops, id) }

func (l *changeLog) len() int { return len(l.ops) }

func (l *changeLog) snapshot() map[string]Op {
	return maps.Clone(l.ops)
}

func (l *changeLog) reset() {
	clear(l.ops)
}
