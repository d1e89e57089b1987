package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingEvictsOldest(t *testing.T) {
	r := New[int](3)
	for i := 1; i <= 3; i++ {
		assert.False(t, r.Push(i))
	}
	assert.True(t, r.Push(4))
	assert.Equal(t, []int{2, 3, 4}, r.Items())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
}

func TestRingLast(t *testing.T) {
	r := New[string](4)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		r.Push(s)
	}
	assert.Equal(t, []string{"d", "e"}, r.Last(2))
	assert.Equal(t, []string{"b", "c", "d", "e"}, r.Last(10))
	assert.Nil(t, r.Last(0))
}

func TestRingClear(t *testing.T) {
	r := New[int](2)
	r.Push(1)
	r.Push(2)
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Items())
	r.Push(7)
	assert.Equal(t, []int{7}, r.Items())
}
