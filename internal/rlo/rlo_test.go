package rlo

import (
	"errors"
	"sync"
	"testing"

	"github.com/kenneth/blockcrypt/internal/bio"
	"github.com/stretchr/testify/require"
)

func newTestBio(sector uint64) *bio.Bio {
	return bio.New(sector, bio.Write, [][]byte{make([]byte, bio.SectorSize)})
}

func TestRLO_PostRunsOnceAtZeroPending(t *testing.T) {
	var postCount int
	var gotErr error
	r := New(newTestBio(0), newTestBio(0), 3, func(_ *RLO, err error) {
		postCount++
		gotErr = err
	})

	r.DecPending(nil)
	require.Equal(t, 0, postCount)
	r.DecPending(nil)
	require.Equal(t, 0, postCount)
	r.DecPending(nil)
	require.Equal(t, 1, postCount)
	require.NoError(t, gotErr)
}

func TestRLO_FirstErrorWins(t *testing.T) {
	var gotErr error
	r := New(newTestBio(0), newTestBio(0), 3, func(_ *RLO, err error) { gotErr = err })

	errA := errors.New("first")
	errB := errors.New("second")
	r.DecPending(errA)
	r.DecPending(errB)
	r.DecPending(nil)

	require.Equal(t, errA, gotErr)
}

func TestRLO_ForceCompleteRunsPostOnceEvenWithPendingLeft(t *testing.T) {
	var postCount int
	r := New(newTestBio(0), newTestBio(0), 5, func(_ *RLO, _ error) { postCount++ })

	r.DecPending(nil)
	r.ForceComplete(errors.New("timeout"))
	require.Equal(t, int64(0), r.Pending())
	require.Equal(t, 1, postCount)

	// A late straggler completion after ForceComplete must not re-run post.
	r.DecPending(nil)
	require.Equal(t, 1, postCount)
}

func TestRLO_ConcurrentDecPendingRunsPostExactlyOnce(t *testing.T) {
	const n = 200
	var postCount int
	var mu sync.Mutex
	r := New(newTestBio(0), newTestBio(0), n, func(_ *RLO, _ error) {
		mu.Lock()
		postCount++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.DecPending(nil)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, postCount)
}

func TestRLO_ResetClearsState(t *testing.T) {
	r := New(newTestBio(0), newTestBio(0), 1, nil)
	r.DecPending(errors.New("boom"))
	require.Error(t, r.Err())

	r.Reset()
	require.NoError(t, r.Err())
	require.Equal(t, int64(0), r.Pending())

	r.Begin(newTestBio(7), newTestBio(7), 2, nil)
	require.Equal(t, int64(2), r.Pending())
	require.Equal(t, uint64(7), r.Sector)
}
