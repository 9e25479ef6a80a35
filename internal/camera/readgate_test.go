package camera

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadGateSerializesReads(t *testing.T) {
	g := newReadGate()
	require.NoError(t, g.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.acquire(ctx), context.DeadlineExceeded)

	g.release()
	require.NoError(t, g.acquire(context.Background()))
	g.release()
}

func TestReadGateDrainWaitsForInflightRead(t *testing.T) {
	g := newReadGate()
	require.NoError(t, g.acquire(context.Background()))

	assert.False(t, g.drain(20*time.Millisecond), "drain must not succeed while a read holds the gate")

	go func() {
		time.Sleep(20 * time.Millisecond)
		g.release()
	}()
	assert.True(t, g.drain(time.Second))
	assert.True(t, g.drain(0), "drain is sticky once taken")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, g.acquire(ctx), "no reads after the gate is drained")
}
