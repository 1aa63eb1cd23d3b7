// Package conversation provides the append-only chat history of a workspace session.
package conversation

import (
	"iter"
	"slices"
	"sync"

	"github.com/jonathan/ciencia/internal/types"
)

// Log is an ordered, append-only record of conversation turns.
// It is safe for concurrent use.
type Log struct {
	mu    sync.RWMutex
	turns []types.Turn
}

// New creates an empty log
func New() *Log {
	return &Log{}
}

// Append adds a turn at the end of the log and returns it with its sequence
// position set. Any Seq on the input is ignored.
func (l *Log) Append(turn types.Turn) types.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()

	turn.Seq = len(l.turns) + 1
	l.turns = append(l.turns, turn)
	return turn
}

// Snapshot returns the turns present at the time of the call, in insertion order.
// The sequence is lazy and can be ranged over any number of times; turns appended
// later are not included.
func (l *Log) Snapshot() iter.Seq[types.Turn] {
	l.mu.RLock()
	// Elements below len are never written again, so the capped slice can be
	// read without holding the lock.
	turns := l.turns[:len(l.turns):len(l.turns)]
	l.mu.RUnlock()

	return func(yield func(types.Turn) bool) {
		for _, t := range turns {
			if !yield(t) {
				return
			}
		}
	}
}

// Turns returns a copy of all turns
func (l *Log) Turns() []types.Turn {
	return slices.Collect(l.Snapshot())
}

// Len returns the number of turns
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Last returns up to n of the most recent turns of seq, oldest first
func Last(seq iter.Seq[types.Turn], n int) []types.Turn {
	all := slices.Collect(seq)
	if n <= 0 || len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}
