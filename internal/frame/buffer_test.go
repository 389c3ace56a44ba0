package frame

import (
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tagged(i int) *Frame {
	return New(image.NewRGBA(image.Rect(0, 0, i+1, 1)), SourceStream)
}

func TestBufferNeverExceedsCapacity(t *testing.T) {
	b := NewBuffer(DefaultCapacity)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		if rng.Intn(4) == 0 {
			b.Pop()
		} else {
			b.Push(tagged(i % 50))
		}
		if b.Len() > b.Cap() {
			t.Fatalf("len %d exceeds capacity %d after %d operations", b.Len(), b.Cap(), i)
		}
	}
}

func TestBufferEvictsOldestFirst(t *testing.T) {
	b := NewBuffer(3)
	frames := []*Frame{tagged(0), tagged(1), tagged(2), tagged(3), tagged(4)}
	for i, f := range frames {
		evicted := b.Push(f)
		assert.Equal(t, i >= 3, evicted, "push %d", i)
	}
	require.Equal(t, 3, b.Len())
	assert.Equal(t, uint64(2), b.Evicted())

	for _, want := range frames[2:] {
		got, ok := b.Pop()
		require.True(t, ok)
		assert.Same(t, want, got)
	}
	_, ok := b.Pop()
	assert.False(t, ok)
}

func TestBufferClear(t *testing.T) {
	b := NewBuffer(4)
	for i := 0; i < 6; i++ {
		b.Push(tagged(i))
	}
	b.Clear()
	assert.Equal(t, 0, b.Len())
	_, ok := b.Pop()
	assert.False(t, ok)

	f := tagged(9)
	b.Push(f)
	got, ok := b.Pop()
	require.True(t, ok)
	assert.Same(t, f, got)
}

func TestBufferIgnoresNil(t *testing.T) {
	b := NewBuffer(0)
	assert.Equal(t, DefaultCapacity, b.Cap())
	b.Push(nil)
	assert.Equal(t, 0, b.Len())
}
