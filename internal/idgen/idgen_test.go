package idgen

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7UniqueUnderConcurrency(t *testing.T) {
	gen := New()
	const workers, perWorker = 16, 500

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, gen.NewID())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, workers*perWorker)
}

func TestUUIDv7SortsInIssueOrder(t *testing.T) {
	gen := New()
	ids := make([]string, 1000)
	for i := range ids {
		ids[i] = gen.NewID()
	}
	require.True(t, sort.StringsAreSorted(ids))
	_, err := uuid.Parse(ids[0])
	require.NoError(t, err)
}

func TestUUIDv7FallsBackToCounter(t *testing.T) {
	gen := &UUIDv7{
		newV7:    func() (uuid.UUID, error) { return uuid.Nil, errors.New("entropy exhausted") },
		fallback: NewCounter(time.Unix(1700000000, 0)),
	}
	first := gen.NewID()
	second := gen.NewID()
	require.NotEqual(t, first, second)
	require.Less(t, first, second)
	require.Regexp(t, `^c[0-9a-f]{16}-[0-9a-f]{12}$`, first)
}

func TestCounterEpochsDoNotCollide(t *testing.T) {
	a := NewCounter(time.Unix(1, 0))
	b := NewCounter(time.Unix(2, 0))
	require.NotEqual(t, a.NewID(), b.NewID())
}
