package memory

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var modes = []Mode{SingleThreaded, ThreadSafe}

func TestAlloc_InitialCounts(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			s := Alloc(mode, "hello")

			assert.Equal(t, int64(1), s.StrongCount())
			assert.Equal(t, int64(0), s.WeakCount())
			assert.Equal(t, "hello", s.Get())
			assert.Equal(t, mode, s.Mode())
			assert.False(t, s.Dropped())
			assert.False(t, s.Freed())
		})
	}
}

func TestStrong_CloneAndRelease(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			a := Alloc(mode, 42)
			b := a.Clone()
			c := b.Clone()

			require.Equal(t, int64(3), a.StrongCount())
			assert.True(t, a.Same(c))
			assert.Equal(t, a.Identity(), c.Identity())

			assert.False(t, b.Release())
			assert.Equal(t, int64(2), a.StrongCount())
			assert.False(t, a.Release())
			assert.Equal(t, 42, c.Get())

			assert.True(t, c.Release(), "last release drops the value")
			assert.True(t, c.Dropped())
			assert.True(t, c.Freed())
		})
	}
}

func TestStrong_CountFollowsRetainReleaseSequence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			root := Alloc(mode, "root")
			handles := []*Strong[string]{}
			retains, releases := 0, 0

			for i := 0; i < 2000; i++ {
				if len(handles) == 0 || rng.Intn(2) == 0 {
					handles = append(handles, root.Clone())
					retains++
				} else {
					j := rng.Intn(len(handles))
					handles[j].Release()
					handles = append(handles[:j], handles[j+1:]...)
					releases++
				}
				require.Equal(t, int64(1+retains-releases), root.StrongCount())
			}

			for _, h := range handles {
				h.Release()
			}
			assert.Equal(t, int64(1), root.StrongCount())
		})
	}
}

func TestStrong_DoubleReleaseIsNoop(t *testing.T) {
	a := NewRc(1)
	b := a.Clone()

	assert.False(t, b.Release())
	assert.False(t, b.Release())
	assert.True(t, b.Released())
	assert.Equal(t, int64(1), a.StrongCount())
}

func TestStrong_UseAfterReleasePanics(t *testing.T) {
	a := NewRc(1)
	b := a.Clone()
	b.Release()

	assert.PanicsWithValue(t, ErrReleasedHandle, func() { b.Get() })
	assert.PanicsWithValue(t, ErrReleasedHandle, func() { b.Clone() })
	assert.PanicsWithValue(t, ErrReleasedHandle, func() { b.Downgrade() })
	assert.Equal(t, 1, a.Get())
}

func TestWeak_UpgradeWhileAlive(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			s := Alloc(mode, 42)
			w := s.Downgrade()
			require.Equal(t, int64(1), s.WeakCount())

			up, ok := w.Upgrade()
			require.True(t, ok)
			assert.Equal(t, 42, up.Get())
			assert.Equal(t, int64(2), s.StrongCount())
			assert.True(t, w.Points(up))

			up.Release()
			assert.Equal(t, int64(1), s.StrongCount())
		})
	}
}

func TestWeak_UpgradeAfterDrop(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			s := Alloc(mode, 42)
			w := s.Downgrade()
			s.Release()

			up, ok := w.Upgrade()
			assert.False(t, ok)
			assert.Nil(t, up)
			assert.Equal(t, int64(0), w.StrongCount())
			assert.Equal(t, int64(1), w.WeakCount())
		})
	}
}

func TestWeak_AllocationOutlivesValue(t *testing.T) {
	dropped := 0
	s := NewRc("data", WithDropHook(func(string) { dropped++ }))
	w1 := s.Downgrade()
	w2 := w1.Clone()
	require.Equal(t, int64(2), s.WeakCount())

	assert.True(t, s.Release())
	assert.Equal(t, 1, dropped)
	assert.True(t, w1.Dropped())
	assert.False(t, w1.Freed(), "weak handles keep the allocation")
	assert.Equal(t, int64(0), w1.StrongCount())
	assert.Equal(t, int64(2), w1.WeakCount())

	assert.False(t, w1.Release())
	assert.False(t, w2.Freed())
	assert.True(t, w2.Release())
	assert.True(t, w2.Freed())
	assert.Equal(t, 1, dropped)
}

func TestWeak_ReleasedHandleDoesNotUpgrade(t *testing.T) {
	s := NewRc(1)
	w := s.Downgrade()
	w.Release()
	assert.False(t, w.Release())

	_, ok := w.Upgrade()
	assert.False(t, ok)
	assert.Equal(t, int64(1), s.StrongCount())
	assert.Equal(t, int64(0), s.WeakCount())
	assert.PanicsWithValue(t, ErrReleasedHandle, func() { w.Clone() })
}

type resource struct {
	name   string
	closed *[]string
}

func (r *resource) Drop() {
	*r.closed = append(*r.closed, r.name)
}

func TestDrop_DropperRunsOnce(t *testing.T) {
	var closed []string
	s := NewRc(resource{name: "db", closed: &closed})
	c := s.Clone()

	s.Release()
	assert.Empty(t, closed)
	c.Release()
	assert.Equal(t, []string{"db"}, closed)
	c.Release()
	assert.Equal(t, []string{"db"}, closed)
}

func TestDrop_HooksRunBeforeDropper(t *testing.T) {
	var closed []string
	s := NewRc(resource{name: "db", closed: &closed},
		WithDropHook(func(r resource) { *r.closed = append(*r.closed, "hook") }))
	s.Release()
	assert.Equal(t, []string{"hook", "db"}, closed)
}

func TestDrop_HookSeesValueBeforeZeroing(t *testing.T) {
	var seen []int
	s := NewArc([]int{1, 2, 3}, WithDropHook(func(v []int) { seen = v }))
	w := s.Downgrade()
	s.Release()

	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Nil(t, w.alloc.value, "dropped value is zeroed")
}

func TestDrop_HookSeesCountsOfDroppingValue(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			var w *Weak[int]
			var strong, weak int64
			s := Alloc(mode, 7, WithDropHook(func(int) {
				strong, weak = w.StrongCount(), w.WeakCount()
			}))
			w = s.Downgrade()
			assert.Equal(t, int64(1), w.WeakCount())

			s.Release()
			assert.Equal(t, int64(0), strong)
			assert.Equal(t, int64(1), weak, "only the outstanding weak handle is counted")
			assert.Equal(t, int64(1), w.WeakCount())
			assert.True(t, w.Release())
		})
	}
}

// chainLink owns the next link, so releasing the head cascades.
type chainLink struct {
	next    *Strong[chainLink]
	dropped *int
}

func (c *chainLink) Drop() {
	*c.dropped++
	if c.next != nil {
		c.next.Release()
	}
}

func TestSingleThreaded_DeepDropCascade(t *testing.T) {
	const n = 50000
	var dropped int
	var head *Strong[chainLink]
	for range n {
		head = NewRc(chainLink{next: head, dropped: &dropped})
	}

	start := time.Now()
	assert.True(t, head.Release())
	assert.Equal(t, n, dropped)
	assert.Less(t, time.Since(start).Seconds(), 5.0, "every owner check must stay constant time")
}

func TestSingleThreaded_RejectsOtherGoroutines(t *testing.T) {
	s := NewRc(1)
	w := s.Downgrade()

	ops := map[string]func(){
		"clone":   func() { s.Clone() },
		"get":     func() { s.Get() },
		"upgrade": func() { w.Upgrade() },
		"release": func() { w.Release() },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			done := make(chan any, 1)
			go func() {
				defer func() { done <- recover() }()
				op()
			}()
			r := <-done
			err, ok := r.(error)
			require.True(t, ok, "expected a panic with an error, got %v", r)
			assert.ErrorIs(t, err, ErrCrossGoroutine)
		})
	}
	assert.Equal(t, int64(1), s.StrongCount())
	assert.Equal(t, int64(1), s.WeakCount())
}

func TestThreadSafe_AcceptsOtherGoroutines(t *testing.T) {
	s := NewArc(1)
	done := make(chan *Strong[int])
	go func() { done <- s.Clone() }()
	c := <-done

	assert.Equal(t, int64(2), s.StrongCount())
	c.Release()
	assert.Equal(t, int64(1), s.StrongCount())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("single")
	require.NoError(t, err)
	assert.Equal(t, SingleThreaded, m)

	m, err = ParseMode("arc")
	require.NoError(t, err)
	assert.Equal(t, ThreadSafe, m)

	_, err = ParseMode("gc")
	assert.Error(t, err)
}

func TestCounter_NegativePanics(t *testing.T) {
	c := newCounter(SingleThreaded, 0)
	assert.Panics(t, func() { c.add(-1) })
}
