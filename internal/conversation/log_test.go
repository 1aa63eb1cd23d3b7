package conversation

import (
	"slices"
	"sync"
	"testing"

	"github.com/jonathan/ciencia/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_AssignsSequence(t *testing.T) {
	log := New()

	first := log.Append(types.Turn{Role: types.RoleUser, Content: "hello", Seq: 42})
	second := log.Append(types.Turn{Role: types.RoleAssistant, Content: "hi"})

	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, 2, second.Seq)
	assert.Equal(t, 2, log.Len())
}

func TestSnapshot_InsertionOrder(t *testing.T) {
	log := New()
	log.Append(types.Turn{Role: types.RoleUser, Content: "a"})
	log.Append(types.Turn{Role: types.RoleAssistant, Content: "b"})
	log.Append(types.Turn{Role: types.RoleUser, Content: "c"})

	var contents []string
	for turn := range log.Snapshot() {
		contents = append(contents, turn.Content)
	}
	assert.Equal(t, []string{"a", "b", "c"}, contents)
}

func TestSnapshot_Restartable(t *testing.T) {
	log := New()
	log.Append(types.Turn{Role: types.RoleUser, Content: "a"})
	log.Append(types.Turn{Role: types.RoleAssistant, Content: "b"})

	snap := log.Snapshot()
	first := slices.Collect(snap)
	second := slices.Collect(snap)

	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}

func TestSnapshot_ExcludesLaterTurns(t *testing.T) {
	log := New()
	log.Append(types.Turn{Role: types.RoleUser, Content: "a"})

	snap := log.Snapshot()
	log.Append(types.Turn{Role: types.RoleAssistant, Content: "b"})

	assert.Len(t, slices.Collect(snap), 1)
	assert.Len(t, slices.Collect(log.Snapshot()), 2)
}

func TestSnapshot_EarlyBreak(t *testing.T) {
	log := New()
	for range 5 {
		log.Append(types.Turn{Role: types.RoleUser, Content: "x"})
	}

	count := 0
	for range log.Snapshot() {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestTurns_ReturnsCopy(t *testing.T) {
	log := New()
	log.Append(types.Turn{Role: types.RoleUser, Content: "original"})

	turns := log.Turns()
	turns[0].Content = "changed"

	assert.Equal(t, "original", log.Turns()[0].Content)
}

func TestAppend_Concurrent(t *testing.T) {
	log := New()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Append(types.Turn{Role: types.RoleUser, Content: "x"})
			_ = slices.Collect(log.Snapshot())
		}()
	}
	wg.Wait()

	turns := log.Turns()
	require.Len(t, turns, 50)
	for i, turn := range turns {
		assert.Equal(t, i+1, turn.Seq)
	}
}

func TestLast(t *testing.T) {
	log := New()
	for _, c := range []string{"a", "b", "c", "d"} {
		log.Append(types.Turn{Role: types.RoleUser, Content: c})
	}

	tests := []struct {
		name     string
		n        int
		expected []string
	}{
		{name: "fewer than available", n: 2, expected: []string{"c", "d"}},
		{name: "more than available", n: 10, expected: []string{"a", "b", "c", "d"}},
		{name: "zero means all", n: 0, expected: []string{"a", "b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, turn := range Last(log.Snapshot(), tt.n) {
				got = append(got, turn.Content)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}
