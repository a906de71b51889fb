package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildStream(t *testing.T, payloads ...[]byte) []byte {
	t.Helper()
	var stream []byte
	for _, payload := range payloads {
		var err error
		stream, err = AppendFrame(stream, payload, false)
		require.NoError(t, err)
	}
	return stream
}

func TestAccumulatorScanIsIncremental(t *testing.T) {
	stream := buildStream(t, []byte{1, 2, 3}, make([]byte, 100), []byte{9})
	acc := NewAccumulator(1024)

	total := 0
	for i := 0; i < len(stream); i++ {
		//1.- Feed one byte at a time so every header split is exercised.
		require.Equal(t, 1, acc.Write(stream[i:i+1]))
		found, err := acc.Scan()
		require.NoError(t, err)
		total += found
		assert.LessOrEqual(t, acc.Complete(), acc.Used())
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, acc.Pending())
	assert.Equal(t, len(stream), acc.Complete())
}

func TestAccumulatorConsumeShrinksByFrameSize(t *testing.T) {
	stream := buildStream(t, []byte{1, 2, 3}, []byte{4, 5})
	acc := NewAccumulator(256)
	acc.Write(stream)
	acc.Write([]byte{0x40 | 0x02, 7}) // partial third frame
	_, err := acc.Scan()
	require.NoError(t, err)

	frame, ok := acc.PeekFrame()
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, frame.Payload())

	usedBefore, completeBefore := acc.Used(), acc.Complete()
	require.NoError(t, acc.Consume())
	assert.Equal(t, usedBefore-4, acc.Used())
	assert.Equal(t, completeBefore-4, acc.Complete())
	assert.Equal(t, 1, acc.Pending())

	frame, ok = acc.PeekFrame()
	require.True(t, ok)
	assert.Equal(t, []byte{4, 5}, frame.Payload())
	require.NoError(t, acc.Consume())

	_, ok = acc.PeekFrame()
	assert.False(t, ok)
	assert.ErrorIs(t, acc.Consume(), ErrNoFrame)
	assert.Equal(t, 2, acc.Used(), "partial frame must stay buffered")

	acc.Write([]byte{8})
	found, err := acc.Scan()
	require.NoError(t, err)
	assert.Equal(t, 1, found)
}

func TestAccumulatorHoldsLargestFrameAtMinimumCapacity(t *testing.T) {
	acc := NewAccumulator(128)
	if acc.Cap() != MaxFrameLength {
		t.Fatalf("expected capacity raised to %d, got %d", MaxFrameLength, acc.Cap())
	}
	stream := buildStream(t, make([]byte, MaxLongPayload))
	require.Equal(t, len(stream), acc.Write(stream))
	found, err := acc.Scan()
	if errors.Is(err, ErrFrameOverflow) {
		t.Fatalf("largest frame must fit: %v", err)
	}
	require.NoError(t, err)
	assert.Equal(t, 1, found)
	frame, ok := acc.PeekFrame()
	require.True(t, ok)
	assert.Len(t, frame.Payload(), MaxLongPayload)
}

func TestAccumulatorWriteStopsWhenFull(t *testing.T) {
	acc := NewAccumulator(MinCapacity)
	n := acc.Write(make([]byte, MinCapacity+10))
	if n != MinCapacity || acc.Free() != 0 {
		t.Fatalf("expected buffer to fill to capacity, wrote %d free %d", n, acc.Free())
	}
	if err := acc.Commit(1); err == nil {
		t.Fatalf("expected commit beyond capacity to fail")
	}
	acc.Reset()
	if acc.Used() != 0 || acc.Pending() != 0 || acc.Complete() != 0 {
		t.Fatalf("expected reset to clear counters")
	}
}
