package window

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsBadDimensions(t *testing.T) {
	_, err := New(0, 6)
	assert.Error(t, err)
	_, err = New(50, 0)
	assert.Error(t, err)
}

func TestPush_EvictsOldest(t *testing.T) {
	b, err := New(3, 2)
	require.NoError(t, err)

	for _, s := range [][]float64{{1, 1}, {2, 2}, {3, 3}, {4, 4}} {
		require.NoError(t, b.Push(s))
	}

	want := [][]float64{{2, 2}, {3, 3}, {4, 4}}
	if diff := cmp.Diff(want, b.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestPush_GrowsWithoutEvictionUntilFull(t *testing.T) {
	b, err := New(4, 1)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Push([]float64{float64(i)}))
		assert.Equal(t, i, b.Len())
		assert.False(t, b.IsFull())
	}
	assert.Equal(t, [][]float64{{1}, {2}, {3}}, b.Snapshot())

	require.NoError(t, b.Push([]float64{4}))
	assert.True(t, b.IsFull())
}

func TestPush_LengthStaysAtCapacity(t *testing.T) {
	const capacity = 5
	b, err := New(capacity, 2)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, b.Push([]float64{float64(i), float64(-i)}))
		if i >= capacity-1 {
			require.Equal(t, capacity, b.Len())
			require.True(t, b.IsFull())

			snap := b.Snapshot()
			// oldest retained sample is always i-capacity+1
			assert.Equal(t, float64(i-capacity+1), snap[0][0])
			assert.Equal(t, float64(i), snap[capacity-1][0])
		}
	}
}

func TestPush_RejectsWrongWidth(t *testing.T) {
	b, err := New(3, 6)
	require.NoError(t, err)

	err = b.Push([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrFeatureCount)
	assert.Equal(t, 0, b.Len())
}

func TestPush_CopiesInput(t *testing.T) {
	b, err := New(2, 2)
	require.NoError(t, err)

	s := []float64{1, 2}
	require.NoError(t, b.Push(s))
	s[0] = 99

	assert.Equal(t, [][]float64{{1, 2}}, b.Snapshot())
}

func TestSnapshot_IsIndependent(t *testing.T) {
	b, err := New(2, 1)
	require.NoError(t, err)
	require.NoError(t, b.Push([]float64{1}))
	require.NoError(t, b.Push([]float64{2}))

	snap := b.Snapshot()
	require.NoError(t, b.Push([]float64{3}))
	snap[0][0] = -1

	assert.Equal(t, [][]float64{{-1}, {2}}, snap)
	assert.Equal(t, [][]float64{{2}, {3}}, b.Snapshot())
}

func TestSnapshot_Empty(t *testing.T) {
	b, err := New(3, 2)
	require.NoError(t, err)
	assert.Empty(t, b.Snapshot())
}

func TestBuffer_ConcurrentPushAndSnapshot(t *testing.T) {
	b, err := New(8, 3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			v := float64(i)
			_ = b.Push([]float64{v, v, v})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for _, row := range b.Snapshot() {
				// rows are written atomically under the lock
				assert.Equal(t, row[0], row[2])
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, 8, b.Len())
}
