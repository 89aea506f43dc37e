package pipeline

import (
	"context"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseExclusive(t *testing.T) {
	l := newLeaseSet()

	release, err := l.acquire("job-1")
	require.NoError(t, err)
	assert.True(t, l.isHeld("job-1"))

	_, err = l.acquire("job-1")
	assert.ErrorIs(t, err, errLeaseHeld)

	_, err = l.acquire("job-2")
	assert.NoError(t, err, "leases are per job id")

	release()
	release()
	assert.False(t, l.isHeld("job-1"))

	_, err = l.acquire("job-1")
	assert.NoError(t, err)
}

func TestLeaseKeySurvivesBufferReuse(t *testing.T) {
	l := newLeaseSet()

	// an id aliasing a buffer that is later overwritten, as request
	// parameters do
	buf := []byte("job-1")
	release, err := l.acquire(unsafe.String(&buf[0], len(buf)))
	require.NoError(t, err)
	copy(buf, "job-9")

	assert.True(t, l.isHeld("job-1"))
	assert.False(t, l.isHeld("job-9"))
	_, err = l.acquire("job-1")
	assert.ErrorIs(t, err, errLeaseHeld)

	release()
	assert.False(t, l.isHeld("job-1"))
}

func TestLeaseWait(t *testing.T) {
	l := newLeaseSet()
	assert.NoError(t, l.wait(context.Background(), "idle"))

	release, err := l.acquire("job-1")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, l.wait(ctx, "job-1"))
}

func TestLeaseWaitHonorsContext(t *testing.T) {
	l := newLeaseSet()
	_, err := l.acquire("job-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.wait(ctx, "job-1"), context.DeadlineExceeded)
}

func TestLeaseDrainWaitsAndRefusesNewLeases(t *testing.T) {
	l := newLeaseSet()
	release, err := l.acquire("job-1")
	require.NoError(t, err)

	drained := make(chan error, 1)
	go func() {
		drained <- l.drain(context.Background())
	}()

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.draining
	}, 2*time.Second, 5*time.Millisecond)

	_, err = l.acquire("job-2")
	assert.ErrorIs(t, err, ErrShuttingDown)

	select {
	case <-drained:
		t.Fatal("drain returned while a lease was held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case err := <-drained:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not return after release")
	}

	_, err = l.acquire("job-1")
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestLeaseDrainHonorsContext(t *testing.T) {
	l := newLeaseSet()
	_, err := l.acquire("job-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.drain(ctx), context.DeadlineExceeded)
}
