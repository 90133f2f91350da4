package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueue_RunsPostedJobs(t *testing.T) {
	q := New("test", 4, 16)
	defer q.Close()

	var n int64
	const jobs = 100
	for i := 0; i < jobs; i++ {
		q.Post(func() { atomic.AddInt64(&n, 1) })
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&n) == jobs
	}, time.Second, time.Millisecond)
}

func TestQueue_CloseDrainsBacklog(t *testing.T) {
	q := New("test", 1, 16)

	var n int64
	for i := 0; i < 10; i++ {
		q.Post(func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&n, 1)
		})
	}
	q.Close()

	require.Equal(t, int64(10), atomic.LoadInt64(&n))
}

func TestQueue_Depth(t *testing.T) {
	q := New("test", 1, 16)
	defer q.Close()

	block := make(chan struct{})
	q.Post(func() { <-block })
	for i := 0; i < 3; i++ {
		q.Post(func() {})
	}

	require.Eventually(t, func() bool { return q.Depth() >= 1 }, time.Second, time.Millisecond)
	close(block)
}
