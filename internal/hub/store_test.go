package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPosition(t *testing.T, id DeviceID, lat, lon float64, tsMillis int64) Position {
	t.Helper()
	p, err := NewPosition(id, lat, lon, 0, tsMillis)
	require.NoError(t, err)
	return p
}

func TestStoreMonotonicSequenceAllApplied(t *testing.T) {
	s := NewStore()

	for ts := int64(1); ts <= 10; ts++ {
		res := s.Update(mustPosition(t, "device-1", float64(ts), float64(ts), ts))
		assert.Equal(t, Applied, res, "timestamp %d", ts)
	}

	got, ok := s.Get("device-1")
	require.True(t, ok)
	assert.Equal(t, time.UnixMilli(10).UTC(), got.Timestamp)
	assert.Equal(t, float64(10), got.Latitude)
}

func TestStoreStaleUpdateRejectedAndStateUnchanged(t *testing.T) {
	s := NewStore()

	require.Equal(t, Applied, s.Update(mustPosition(t, "device-1", 48.85, 2.35, 10)))
	assert.Equal(t, RejectedStale, s.Update(mustPosition(t, "device-1", 51.50, -0.12, 5)))

	got, ok := s.Get("device-1")
	require.True(t, ok)
	assert.Equal(t, 48.85, got.Latitude)
	assert.Equal(t, time.UnixMilli(10).UTC(), got.Timestamp)
}

func TestStoreTimestampTieGoesToStoredEntry(t *testing.T) {
	s := NewStore()

	require.Equal(t, Applied, s.Update(mustPosition(t, "device-1", 1, 1, 100)))
	assert.Equal(t, RejectedStale, s.Update(mustPosition(t, "device-1", 2, 2, 100)))

	got, _ := s.Get("device-1")
	assert.Equal(t, float64(1), got.Latitude)
}

func TestStoreDevicesAreIndependent(t *testing.T) {
	s := NewStore()

	require.Equal(t, Applied, s.Update(mustPosition(t, "device-1", 1, 1, 100)))
	require.Equal(t, Applied, s.Update(mustPosition(t, "device-2", 2, 2, 50)))
	assert.Equal(t, 2, s.Len())

	// staleness is judged per device, not globally
	assert.Equal(t, Applied, s.Update(mustPosition(t, "device-2", 3, 3, 60)))
}

func TestStoreSnapshotIsDetachedCopy(t *testing.T) {
	s := NewStore()
	require.Equal(t, Applied, s.Update(mustPosition(t, "device-1", 1, 1, 100)))

	snap := s.Snapshot()
	require.Len(t, snap, 1)

	require.Equal(t, Applied, s.Update(mustPosition(t, "device-1", 9, 9, 200)))
	assert.Equal(t, float64(1), snap["device-1"].Latitude, "snapshot must not see later writes")
}

func TestStoreSnapshotNeverHalfVisible(t *testing.T) {
	s := NewStore()
	devices := []DeviceID{"a", "b", "c", "d"}
	for _, id := range devices {
		require.Equal(t, Applied, s.Update(mustPosition(t, id, 0, 0, 1)))
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, id := range devices {
		wg.Add(1)
		go func(id DeviceID) {
			defer wg.Done()
			for ts := int64(2); ; ts++ {
				select {
				case <-stop:
					return
				default:
				}
				// latitude and longitude move together; a torn entry
				// would show them apart
				s.Update(mustPosition(t, id, float64(ts%90), float64(ts%90), ts))
			}
		}(id)
	}

	for i := 0; i < 200; i++ {
		snap := s.Snapshot()
		require.Len(t, snap, len(devices))
		for id, p := range snap {
			require.Equal(t, p.Latitude, p.Longitude, "torn read for device %s", id)
		}
	}
	close(stop)
	wg.Wait()
}

func TestStoreEvict(t *testing.T) {
	s := NewStore()
	require.Equal(t, Applied, s.Update(mustPosition(t, "device-1", 1, 1, 100)))

	assert.True(t, s.Evict("device-1"))
	assert.False(t, s.Evict("device-1"), "second evict finds nothing")

	_, ok := s.Get("device-1")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestUpdateResultString(t *testing.T) {
	assert.Equal(t, "applied", Applied.String())
	assert.Equal(t, "rejected_stale", RejectedStale.String())
	assert.Equal(t, "unknown", UpdateResult(42).String())
}
