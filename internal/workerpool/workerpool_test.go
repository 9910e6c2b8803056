package workerpool

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomResultsAreOrdered(t *testing.T) {
	p := New(Config{WorkerCount: 4})
	defer p.Close()

	room := p.CreateRoom()
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, room.Submit(i, func() (interface{}, error) { return i * i, nil }))
	}

	results, err := room.Wait()
	require.NoError(t, err)
	require.Len(t, results, 100)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, i*i, r.Value)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	p := New(Config{WorkerCount: 2, GlobalBuffer: 4})
	defer p.Close()

	a, b := p.CreateRoom(), p.CreateRoom()
	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, a.Submit(i, func() (interface{}, error) { ran.Add(1); return "a", nil }))
		require.NoError(t, b.Submit(i, func() (interface{}, error) { ran.Add(1); return "b", nil }))
	}

	ra, err := a.Wait()
	require.NoError(t, err)
	rb, err := b.Wait()
	require.NoError(t, err)
	assert.Len(t, ra, 10)
	assert.Len(t, rb, 10)
	for i := range ra {
		assert.Equal(t, "a", ra[i].Value)
		assert.Equal(t, "b", rb[i].Value)
	}
	assert.EqualValues(t, 20, ran.Load())
}

func TestWaitReturnsFirstError(t *testing.T) {
	p := New(Config{WorkerCount: 3})
	defer p.Close()

	errLow, errHigh := errors.New("low"), errors.New("high")
	room := p.CreateRoom()
	require.NoError(t, room.Submit(5, func() (interface{}, error) { return nil, errHigh }))
	require.NoError(t, room.Submit(2, func() (interface{}, error) { return nil, errLow }))
	require.NoError(t, room.Submit(0, func() (interface{}, error) { return 1, nil }))

	results, err := room.Wait()
	assert.ErrorIs(t, err, errLow)
	assert.Len(t, results, 3)
}

func TestSubmitAfterClose(t *testing.T) {
	p := New(Config{WorkerCount: 1})
	p.Close()
	p.Close()
	err := p.CreateRoom().Submit(0, func() (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrClosed)
}
