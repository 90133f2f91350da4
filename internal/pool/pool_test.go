package pool

import (
	"testing"

	"github.com/kenneth/blockcrypt/internal/bio"
	"github.com/stretchr/testify/require"
)

func TestPagePool_GetPutRoundTrip(t *testing.T) {
	p := NewPagePool(bio.SectorSize)
	buf := p.Get()
	require.Len(t, buf, bio.SectorSize)
	buf[0] = 0xAB
	p.Put(buf)

	buf2 := p.Get()
	require.Len(t, buf2, bio.SectorSize)
	require.Equal(t, byte(0), buf2[0], "pages must be zeroed before reuse")
}

func TestPagePool_NeverBlocksPastReserve(t *testing.T) {
	p := NewPagePool(bio.SectorSize)
	// Drain well past the reserve; every Get must still return promptly.
	bufs := make([][]byte, MinPoolPages*4)
	for i := range bufs {
		bufs[i] = p.Get()
		require.Len(t, bufs[i], bio.SectorSize)
	}
	_, misses := p.Metrics()
	require.Greater(t, misses, int64(0), "draining past the reserve should fall back to fresh allocation, not block")
}

func TestPagePool_AllocClonePages_ShortUnderPressure(t *testing.T) {
	p := NewPagePool(bio.SectorSize)
	// Drain the reserve down to zero so pages beyond MinBioPages can't be
	// satisfied from the reserve.
	for i := 0; i < MinPoolPages; i++ {
		p.Get()
	}

	pages := p.AllocClonePages(64)
	require.LessOrEqual(t, len(pages), MinBioPages, "under reserve pressure, allocation beyond MinBioPages must not proceed")
	require.GreaterOrEqual(t, len(pages), 1)
}

func TestPagePool_AllocClonePages_FullWhenReserveAvailable(t *testing.T) {
	p := NewPagePool(bio.SectorSize)
	pages := p.AllocClonePages(4)
	require.Len(t, pages, 4)
}

func TestRLOPool_ResetOnGet(t *testing.T) {
	type obj struct{ n int }
	p := NewRLOPool(
		func() interface{} { return &obj{n: 0} },
		func(v interface{}) { v.(*obj).n = -1 },
	)

	o := p.Get().(*obj)
	require.Equal(t, -1, o.n)
	o.n = 42
	p.Put(o)

	o2 := p.Get().(*obj)
	require.Equal(t, -1, o2.n, "resetFn must run before handing the object back out")
}

func TestRLOPool_PreWarmed(t *testing.T) {
	calls := 0
	p := NewRLOPool(func() interface{} { calls++; return struct{}{} }, nil)
	require.Equal(t, MinIOs, calls)
	_, misses := p.Metrics()
	require.Equal(t, int64(0), misses)
}
