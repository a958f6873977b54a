package id

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsUniqueAndOrdered(t *testing.T) {
	t.Parallel()

	const n = 1000
	ids := make([]string, n)
	for i := range ids {
		ids[i] = New()
	}

	seen := make(map[string]struct{}, n)
	for _, s := range ids {
		require.Len(t, s, 26)
		_, dup := seen[s]
		require.False(t, dup, "duplicate id %s", s)
		seen[s] = struct{}{}
	}

	// Generation order is lexicographic order.
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestNewIsSafeForConcurrentUse(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := make(map[string]struct{})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s := New()
				mu.Lock()
				seen[s] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 8*200)
}
