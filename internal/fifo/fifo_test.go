package fifo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteReadRoundTrip(t *testing.T) {
	f := NewFifo(8)
	n := f.Write([]byte{1, 2, 3})
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, f.GetOccupied())

	out := make([]byte, 3)
	n = f.Read(out)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{1, 2, 3}, out)
	assert.Equal(t, 0, f.GetOccupied())
}

func TestWriteStopsWhenFull(t *testing.T) {
	f := NewFifo(4)
	n := f.Write([]byte{1, 2, 3, 4, 5})
	assert.Equal(t, 3, n) // capacity is size-1
}

func TestResetClearsState(t *testing.T) {
	f := NewFifo(4)
	f.Write([]byte{1, 2})
	f.Reset()
	assert.Equal(t, 0, f.GetOccupied())
}
