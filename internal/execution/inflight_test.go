package execution

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInFlightDeduper_HeldUntilRelease(t *testing.T) {
	d := NewInFlightDeduper(0, 4)

	owner, err := d.TryAcquire("trade")
	require.NoError(t, err)
	assert.True(t, d.Busy("trade"))
	_, err = d.TryAcquire("trade")
	assert.ErrorIs(t, err, ErrDuplicateInFlight)
	// 其他 key 不受影响
	_, err = d.TryAcquire("other")
	require.NoError(t, err)

	d.Release("trade", owner)
	d.Release("trade", owner)
	assert.False(t, d.Busy("trade"))
	_, err = d.TryAcquire("trade")
	require.NoError(t, err)
}

func TestInFlightDeduper_TTLSafetyNet(t *testing.T) {
	d := NewInFlightDeduper(time.Minute, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	_, err := d.TryAcquire("trade")
	require.NoError(t, err)
	now = now.Add(59 * time.Second)
	_, err = d.TryAcquire("trade")
	assert.ErrorIs(t, err, ErrDuplicateInFlight)

	now = now.Add(2 * time.Second)
	assert.False(t, d.Busy("trade"))
	_, err = d.TryAcquire("trade")
	require.NoError(t, err)
}

func TestInFlightDeduper_ExpiredOwnerCannotReleaseNewOwner(t *testing.T) {
	d := NewInFlightDeduper(time.Minute, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	first, err := d.TryAcquire("trade")
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	second, err := d.TryAcquire("trade")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// 过期的第一个持有者迟到的释放不影响第二个
	d.Release("trade", first)
	assert.True(t, d.Busy("trade"))
	_, err = d.TryAcquire("trade")
	assert.ErrorIs(t, err, ErrDuplicateInFlight)

	d.Release("trade", second)
	assert.False(t, d.Busy("trade"))
}

func TestInFlightDeduper_Renew(t *testing.T) {
	d := NewInFlightDeduper(time.Minute, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	owner, err := d.TryAcquire("trade")
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	assert.True(t, d.Renew("trade", owner))
	assert.False(t, d.Renew("trade", owner+1))

	// 续期后从续期时刻重新计时
	now = now.Add(50 * time.Second)
	assert.True(t, d.Busy("trade"))

	now = now.Add(time.Minute)
	assert.False(t, d.Renew("trade", owner))

	d.Release("trade", owner)
	assert.False(t, d.Renew("trade", owner))
}

func TestInFlightDeduper_NilAndEmptyKey(t *testing.T) {
	var d *InFlightDeduper
	_, err := d.TryAcquire("x")
	require.NoError(t, err)
	d.Release("x", 0)

	d = NewInFlightDeduper(0, 0)
	_, err = d.TryAcquire("")
	require.NoError(t, err)
	_, err = d.TryAcquire("")
	require.NoError(t, err)
}

func TestInFlightDeduper_ConcurrentSingleWinner(t *testing.T) {
	d := NewInFlightDeduper(0, 8)
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.TryAcquire("trade"); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}
