package recognition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoorLocks(t *testing.T) {
	locks := newDoorLocks()

	release, err := locks.acquire(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "same door must wait")

	other, err := locks.acquire(context.Background(), 2)
	require.NoError(t, err, "other doors are independent")
	other()

	release()
	again, err := locks.acquire(context.Background(), 1)
	require.NoError(t, err)
	again()
}
