package ids

import (
	"crypto/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDSortsWithinOneMillisecond(t *testing.T) {
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gen := newGenerator(func() time.Time { return frozen }, rand.Reader)

	minted := make([]string, 50)
	for i := range minted {
		minted[i] = gen.next().String()
	}

	assert.True(t, sort.StringsAreSorted(minted))
	for i := 1; i < len(minted); i++ {
		assert.NotEqual(t, minted[i-1], minted[i])
	}
	at, err := MintedAt(minted[0])
	require.NoError(t, err)
	assert.True(t, frozen.Equal(at))
}

func TestNewIDConcurrentUniqueness(t *testing.T) {
	const workers, perWorker = 8, 25

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				id := NewID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestMintedAtRejectsMalformedIDs(t *testing.T) {
	id := NewID()
	assert.Len(t, id, 26)

	at, err := MintedAt(id)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), at, time.Minute)

	_, err = MintedAt("not-an-id")
	assert.Error(t, err)
}
